// Package ragerrors defines the error taxonomy shared by the retrieval pipeline.
//
// Three classes of failure are distinguished:
//
//   - ValidationError: the caller supplied bad input. Never retried.
//   - TransientError: an external service (embedder, generator, source) was
//     unreachable, rate limited or returned a server error. Retried with
//     bounded backoff during ingestion.
//   - StorageError: the vector store or feedback database is unavailable.
//     Fatal for the operation that hit it.
//
// Use errors.As or the Is* helpers to classify; all types unwrap.
package ragerrors

import (
	"context"
	"errors"
	"fmt"
)

// ValidationError reports invalid caller input.
type ValidationError struct {
	Op  string
	Msg string
	Err error
}

func (e *ValidationError) Error() string {
	if e.Op == "" {
		return "validation: " + e.Msg
	}
	return fmt.Sprintf("%s: validation: %s", e.Op, e.Msg)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// TransientError reports a recoverable failure of an external service.
type TransientError struct {
	Op      string
	Service string
	Err     error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %s unavailable: %v", e.Op, e.Service, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// StorageError reports a failure of durable storage.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: storage: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Validationf builds a ValidationError with a formatted message.
func Validationf(op, format string, args ...any) error {
	return &ValidationError{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Transient wraps err as a TransientError. A nil err yields nil.
func Transient(op, service string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Service: service, Err: err}
}

// Storage wraps err as a StorageError. A nil err yields nil.
// Context cancellation is passed through untouched so callers can tell
// an aborted operation from a broken store.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsTransient reports whether err is or wraps a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsStorage reports whether err is or wraps a StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// IsCanceled reports whether err stems from context cancellation or deadline.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
