// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

// Package sandbox executes provider-generated statistics code in an
// isolated container. Code is validated against a restricted grammar
// before anything runs; when no container runtime is available a
// built-in interpreter for the same grammar takes over and the
// degradation is recorded as a security event.
package sandbox

import (
	"context"
	"errors"
	"time"
)

// Resource limits for one sandboxed run.
const (
	RunTimeout  = 10 * time.Second
	MemoryBytes = 512 * 1024 * 1024
	CPUQuota    = 0.5
	PidsLimit   = 50

	// MaxOutputBytes caps captured stdout. Longer output is truncated
	// and flagged, never buffered unbounded.
	MaxOutputBytes = 10 * 1024
)

// ErrTimeout is returned when a run exceeds RunTimeout.
var ErrTimeout = errors.New("sandbox execution timed out")

// Result of one sandboxed run.
type Result struct {
	// Output is captured stdout, truncated at MaxOutputBytes.
	Output string

	// Truncated is set when the output hit the cap.
	Truncated bool

	// Backend names the runner that executed the code, "docker" or
	// "restricted".
	Backend string

	// Duration is wall-clock execution time.
	Duration time.Duration
}

// Runner executes validated analysis code.
type Runner interface {
	Run(ctx context.Context, code string) (*Result, error)
}

func truncate(b []byte) (string, bool) {
	if len(b) > MaxOutputBytes {
		return string(b[:MaxOutputBytes]), true
	}
	return string(b), false
}
