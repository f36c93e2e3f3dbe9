// Package apperr defines the error taxonomy shared across the pipeline.
package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound indicates a referenced resource (image key, event record)
	// does not exist. Never worth retrying.
	ErrNotFound = errors.New("not found")

	// ErrCredentialMissing indicates the user has no stored calendar
	// credential. Requires out-of-band re-authorization.
	ErrCredentialMissing = errors.New("calendar credential missing")

	// ErrCredentialExpired indicates the remote service rejected the access
	// token. The publisher refreshes and retries once before giving up.
	ErrCredentialExpired = errors.New("calendar credential expired")
)

// ValidationError carries field-level messages from event normalization.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, field+": "+msg)
	}
	sort.Strings(parts)
	return "validation failed: " + strings.Join(parts, "; ")
}

// RemoteError carries the status and body of a rejected remote API call.
type RemoteError struct {
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote call failed with status %d: %s", e.Status, e.Body)
}

// fatalError marks an error as run-terminating so the step framework skips
// its retry loop.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal wraps err so IsFatal reports true. Wrapping nil returns nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err (or anything it wraps) terminates a pipeline
// run instead of being retried. Validation failures, missing resources, and
// remote rejections are fatal by nature; everything else is presumed
// transient unless wrapped with Fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var fe *fatalError
	if errors.As(err, &fe) {
		return true
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return true
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return true
	}
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrCredentialMissing)
}
