// Package errs defines the closed taxonomy of error kinds shared by
// storage, metastore and search.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is a closed enum; never add a case without updating every switch that
// maps a Kind to caller-visible behavior (HTTP status, retry policy, ...).
type Kind int

const (
	// storage kinds
	NotFound Kind = iota
	Unauthorized
	Io
	Service
	InternalError

	// metastore kinds
	IndexDoesNotExist
	IndexAlreadyExists
	SplitDoesNotExist
	SplitIsNotStaged
	Forbidden
	IncompatibleCheckpointDelta
	InvalidManifest
	JsonSerde
	Connection

	// search kinds
	InvalidQuery
	InvalidArgument
	StorageResolver
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case Unauthorized:
		return "Unauthorized"
	case Io:
		return "Io"
	case Service:
		return "Service"
	case InternalError:
		return "InternalError"
	case IndexDoesNotExist:
		return "IndexDoesNotExist"
	case IndexAlreadyExists:
		return "IndexAlreadyExists"
	case SplitDoesNotExist:
		return "SplitDoesNotExist"
	case SplitIsNotStaged:
		return "SplitIsNotStaged"
	case Forbidden:
		return "Forbidden"
	case IncompatibleCheckpointDelta:
		return "IncompatibleCheckpointDelta"
	case InvalidManifest:
		return "InvalidManifest"
	case JsonSerde:
		return "JsonSerde"
	case Connection:
		return "Connection"
	case InvalidQuery:
		return "InvalidQuery"
	case InvalidArgument:
		return "InvalidArgument"
	case StorageResolver:
		return "StorageResolver"
	default:
		return "Unknown"
	}
}

// Error carries a Kind plus an added context string identifying the
// URI/operation, and wraps an optional cause.
type Error struct {
	Kind    Kind
	Context string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Context, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Context)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is(err, errs.New(SomeKind, "")) for kind-only matching.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func New(kind Kind, context string) *Error {
	return &Error{Kind: kind, Context: context}
}

// Wrap adds Kind+Context to cause so library-level errors always identify
// the URI/operation they came from.
func Wrap(kind Kind, context string, cause error) *Error {
	return &Error{Kind: kind, Context: context, Cause: cause}
}

// Wrapf is Wrap with a formatted context.
func Wrapf(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Context: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind of err, defaulting to InternalError for unknown
// error types (e.g. wrapped os errors reaching up from a backend).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return InternalError
}

// Retryable reports whether a retry should be scheduled:
// 429/5xx-equivalent service errors and I/O timeouts.
func Retryable(err error) bool {
	switch KindOf(err) {
	case Service, Io, Connection:
		return true
	default:
		return false
	}
}
