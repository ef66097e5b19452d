// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

package gateway

import "net/http"

// ErrorKind classifies a request failure for status code mapping.
type ErrorKind string

const (
	ErrAuth      ErrorKind = "AUTH"
	ErrAuthz     ErrorKind = "AUTHZ"
	ErrAdmission ErrorKind = "ADMISSION"
	ErrRateLimit ErrorKind = "RATE_LIMIT"
	ErrBadInput  ErrorKind = "BAD_INPUT"
	ErrTimeout   ErrorKind = "TIMEOUT"
	ErrOverload  ErrorKind = "OVERLOAD"
	ErrInternal  ErrorKind = "INTERNAL"
)

// GatewayError is the uniform failure surfaced to the HTTP layer.
// Message is safe to return to the caller; internal detail stays in
// the logs.
type GatewayError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`

	// Layer names the admission layer for ADMISSION errors.
	Layer string `json:"layer,omitempty"`

	// RetryAfter is the seconds until the next rate window for
	// RATE_LIMIT errors.
	RetryAfter int `json:"retry_after,omitempty"`
}

func (e *GatewayError) Error() string { return string(e.Kind) + ": " + e.Message }

// HTTPStatus maps the error kind to a response code.
func (e *GatewayError) HTTPStatus() int {
	switch e.Kind {
	case ErrAuth:
		return http.StatusUnauthorized
	case ErrAuthz:
		return http.StatusForbidden
	case ErrAdmission, ErrBadInput:
		return http.StatusBadRequest
	case ErrRateLimit:
		return http.StatusTooManyRequests
	case ErrTimeout:
		return http.StatusGatewayTimeout
	case ErrOverload:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
