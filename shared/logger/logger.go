// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// LogLevel represents the severity of a log entry
type LogLevel string

const (
	DEBUG LogLevel = "DEBUG"
	INFO  LogLevel = "INFO"
	WARN  LogLevel = "WARN"
	ERROR LogLevel = "ERROR"
)

// Logger provides structured logging with multi-tenant support.
// Every entry carries the tenant and request identifiers so log lines
// can be correlated with audit entries and security events.
type Logger struct {
	Component  string
	InstanceID string
	Container  string
}

// LogEntry is the JSON shape written to stdout for every log line.
type LogEntry struct {
	Timestamp  string         `json:"timestamp"`
	Level      LogLevel       `json:"level"`
	Component  string         `json:"component"`
	InstanceID string         `json:"instance_id"`
	Container  string         `json:"container"`
	TenantID   string         `json:"tenant_id"`
	RequestID  string         `json:"request_id,omitempty"`
	Message    string         `json:"message"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// New creates a new Logger for the specified component
func New(component string) *Logger {
	instanceID := os.Getenv("INSTANCE_ID")
	if instanceID == "" {
		instanceID = "unknown"
	}

	container, err := os.Hostname()
	if err != nil {
		container = "unknown"
	}

	return &Logger{
		Component:  component,
		InstanceID: instanceID,
		Container:  container,
	}
}

// Log creates a structured log entry and writes it to stdout
func (l *Logger) Log(level LogLevel, tenantID, requestID, message string, fields map[string]any) {
	entry := LogEntry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Level:      level,
		Component:  l.Component,
		InstanceID: l.InstanceID,
		Container:  l.Container,
		TenantID:   tenantID,
		RequestID:  requestID,
		Message:    message,
		Fields:     fields,
	}

	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		// Fallback to plain text if JSON marshaling fails
		log.Printf("ERROR: Failed to marshal log entry: %v", err)
		return
	}

	log.Println(string(jsonBytes))
}

// Info logs an informational message
func (l *Logger) Info(tenantID, requestID, message string, fields map[string]any) {
	l.Log(INFO, tenantID, requestID, message, fields)
}

// Error logs an error message
func (l *Logger) Error(tenantID, requestID, message string, fields map[string]any) {
	l.Log(ERROR, tenantID, requestID, message, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(tenantID, requestID, message string, fields map[string]any) {
	l.Log(WARN, tenantID, requestID, message, fields)
}

// Debug logs a debug message
func (l *Logger) Debug(tenantID, requestID, message string, fields map[string]any) {
	l.Log(DEBUG, tenantID, requestID, message, fields)
}

// InfoWithDuration logs an info message with a duration_ms field
func (l *Logger) InfoWithDuration(tenantID, requestID, message string, durationMS float64, fields map[string]any) {
	if fields == nil {
		fields = make(map[string]any)
	}
	fields["duration_ms"] = durationMS
	l.Info(tenantID, requestID, message, fields)
}

// ErrorWithCode logs an error with the HTTP status code it produced
func (l *Logger) ErrorWithCode(tenantID, requestID, message string, statusCode int, err error, fields map[string]any) {
	if fields == nil {
		fields = make(map[string]any)
	}
	fields["status_code"] = statusCode
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Error(tenantID, requestID, message, fields)
}
