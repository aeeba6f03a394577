// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

// Package faults defines the error taxonomy shared by the tool runners, the
// control-plane client and the orchestrator's retry policy.
package faults

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure for the retry policy.
type Kind string

const (
	ExecutionTimeout         Kind = "ExecutionTimeout"
	ExecutionFailure         Kind = "ExecutionFailure"
	CommandFailed            Kind = "CommandFailed"
	ResourceNotFound         Kind = "ResourceNotFound"
	ServiceUnavailable       Kind = "ServiceUnavailable"
	UnsupportedConfiguration Kind = "UnsupportedConfiguration"
	InvalidConfiguration     Kind = "InvalidConfiguration"
	QuotaExceeded            Kind = "QuotaExceeded"
	AuthFailure              Kind = "AuthFailure"
	RetriesExhausted         Kind = "RetriesExhausted"
	DriftUnresolved          Kind = "DriftUnresolved"
	Canceled                 Kind = "Canceled"
	Unknown                  Kind = "Unknown"
)

var kinds = []Kind{
	ExecutionTimeout, ExecutionFailure, CommandFailed, ResourceNotFound, ServiceUnavailable,
	UnsupportedConfiguration, InvalidConfiguration, QuotaExceeded, AuthFailure,
	RetriesExhausted, DriftUnresolved, Canceled, Unknown,
}

// ParseKind returns the kind named s, ignoring case.
func ParseKind(s string) (Kind, bool) {
	for _, k := range kinds {
		if strings.EqualFold(string(k), strings.TrimSpace(s)) {
			return k, true
		}
	}
	return "", false
}

// Error is a classified failure. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a *Error of the same kind with no cause, so
// errors.Is(err, faults.New(faults.QuotaExceeded, "", nil)) matches by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Err == nil && t.Op == "" && t.Kind == e.Kind
}

// New returns a classified error wrapping cause.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Newf returns a classified error with a formatted message as its cause.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost classified error in err's chain.
// Bare context errors classify as Canceled or ExecutionTimeout.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return ExecutionTimeout
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
