package utils

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a send failure so retry handling is a pure function
// of the kind rather than string matching on provider errors.
type ErrorKind int

const (
	// ErrorKindTransient failures (network error, 5xx, rate limit, timeout)
	// are rescheduled with exponential backoff.
	ErrorKindTransient ErrorKind = iota
	// ErrorKindPermanent failures (invalid address, hard-rejected recipient)
	// fail the row terminally with no retry.
	ErrorKindPermanent
)

func (k ErrorKind) String() string {
	if k == ErrorKindPermanent {
		return "permanent"
	}
	return "transient"
}

// SendError tags a provider failure with its retry classification.
type SendError struct {
	Kind ErrorKind
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s send error: %v", e.Kind, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// TransientError wraps err as retryable.
func TransientError(err error) *SendError {
	return &SendError{Kind: ErrorKindTransient, Err: err}
}

// PermanentError wraps err as terminal.
func PermanentError(err error) *SendError {
	return &SendError{Kind: ErrorKindPermanent, Err: err}
}

// IsPermanentError reports whether err is tagged permanent. Untagged errors
// default to transient, so an unclassified failure is retried rather than
// silently dropped.
func IsPermanentError(err error) bool {
	var se *SendError
	return errors.As(err, &se) && se.Kind == ErrorKindPermanent
}
