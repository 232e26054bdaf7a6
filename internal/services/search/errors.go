// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/autobrr/pickr/internal/models"
)

// ErrorCode classifies pipeline failures for the host layer.
type ErrorCode string

const (
	CodeTransport        ErrorCode = "transport"
	CodeNoResults        ErrorCode = "noResults"
	CodeCancelled        ErrorCode = "cancelled"
	CodeResolutionFailed ErrorCode = "resolutionFailed"
	CodeEnqueueFailed    ErrorCode = "enqueueFailed"
)

var (
	ErrCancelled        = &Error{Code: CodeCancelled}
	ErrTransport        = &Error{Code: CodeTransport}
	ErrNoResults        = &Error{Code: CodeNoResults}
	ErrResolutionFailed = &Error{Code: CodeResolutionFailed}
	ErrEnqueueFailed    = &Error{Code: CodeEnqueueFailed}

	ErrClosed           = errors.New("search session closed")
	ErrInvalidRequest   = errors.New("invalid search request")
	ErrUnknownCandidate = errors.New("candidate not in current results")
	ErrNothingToRetry   = errors.New("nothing to retry")
	ErrNoSink           = errors.New("no download client configured")
)

// Error is a classified pipeline failure. errors.Is matches on Code, so
// errors.Is(err, ErrCancelled) works for any cancelled operation.
type Error struct {
	Code ErrorCode
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code && (t.Op == "" || t.Op == e.Op)
}

// Message is the human readable text shown to the user.
func (e *Error) Message() string {
	switch e.Code {
	case CodeTransport:
		return "Could not reach the search sources."
	case CodeNoResults:
		return "No releases were found."
	case CodeResolutionFailed:
		return "This release could not be turned into a stream."
	case CodeEnqueueFailed:
		return "The release could not be handed to the download client."
	default:
		return "The operation was cancelled."
	}
}

// Suggestion is the recovery hint shown next to Message.
func (e *Error) Suggestion() string {
	switch e.Code {
	case CodeTransport:
		return "Check indexer connectivity and retry."
	case CodeNoResults:
		return "Retry later or search by title instead."
	case CodeResolutionFailed:
		return "Retry or pick another release."
	case CodeEnqueueFailed:
		return "Check the download client and retry."
	default:
		return ""
	}
}

// IsCancelled reports whether err is a cancellation that must never be shown.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// classify wraps err with the code it maps to. fallback is used for anything
// that is neither a cancellation nor an empty result.
func classify(op string, err error, fallback ErrorCode) *Error {
	var serr *Error
	if errors.As(err, &serr) {
		return serr
	}

	code := fallback
	switch {
	case errors.Is(err, context.Canceled):
		code = CodeCancelled
	case errors.Is(err, models.ErrNoResults):
		code = CodeNoResults
	}
	return &Error{Code: code, Op: op, Err: err}
}
