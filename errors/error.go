package errors

import (
	stderrors "errors"
	"fmt"
)

// SchemaError occurs when a backing table lacks a declared column, or holds a value which cannot be interpreted
type SchemaError struct {
	Table  string
	Column string
	Reason string
}

// Error returns a textual representation of this SchemaError
func (e SchemaError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("Schema error in table %s: %s", e.Table, e.Reason)
	}
	return fmt.Sprintf("Schema error in table %s, column %s: %s", e.Table, e.Column, e.Reason)
}

// InvalidConfigError occurs when a split, loader or ingestion configuration is malformed
type InvalidConfigError struct{ Reason string }

// Error returns a textual representation of this InvalidConfigError
func (e InvalidConfigError) Error() string {
	return fmt.Sprintf("Invalid configuration: %s", e.Reason)
}

// InvalidConfigf builds an InvalidConfigError from a format string
func InvalidConfigf(format string, args ...interface{}) InvalidConfigError {
	return InvalidConfigError{Reason: fmt.Sprintf(format, args...)}
}

// EmptyDatasetError occurs when a catalog or a split plan contains no rows
type EmptyDatasetError struct{ Table string }

// Error returns a textual representation of this EmptyDatasetError
func (e EmptyDatasetError) Error() string {
	if e.Table == "" {
		return "Dataset is empty"
	}
	return fmt.Sprintf("Dataset in table %s is empty", e.Table)
}

// ExhaustedSplitError occurs when a batch is requested from a split whose epoch has been fully consumed
type ExhaustedSplitError struct{ Split string }

// Error returns a textual representation of this ExhaustedSplitError
func (e ExhaustedSplitError) Error() string {
	return fmt.Sprintf("Split %s is exhausted, rewind before requesting another batch", e.Split)
}

// MissingSampleError occurs when a requested id has no payload, or its payload cannot be turned into a sample
type MissingSampleError struct {
	ID    string
	Cause error
}

// Error returns a textual representation of this MissingSampleError
func (e MissingSampleError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("Sample %s is missing", e.ID)
	}
	return fmt.Sprintf("Sample %s is unusable: %v", e.ID, e.Cause)
}

// Unwrap returns the underlying cause, if any
func (e MissingSampleError) Unwrap() error {
	return e.Cause
}

// RetryableError marks a storage failure which may succeed if attempted again
type RetryableError struct {
	Op    string
	Cause error
}

// Error returns a textual representation of this RetryableError
func (e RetryableError) Error() string {
	return fmt.Sprintf("Retryable failure during %s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying cause
func (e RetryableError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether err, or anything it wraps, is a RetryableError
func IsRetryable(err error) bool {
	var re RetryableError
	return stderrors.As(err, &re)
}
