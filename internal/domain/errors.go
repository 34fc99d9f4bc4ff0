package domain

import "errors"

var (
	// ErrNotFound is returned for unknown or expired blob ids.
	ErrNotFound = errors.New("file not found")

	// ErrTimeout means the submitter gave up waiting; the job may still be running.
	ErrTimeout = errors.New("conversion timed out")

	// ErrConversionFailed matches every *ConversionError via errors.Is.
	ErrConversionFailed = errors.New("conversion failed")

	// ErrNoGroup means the job stream or its consumer group no longer exists,
	// e.g. after the Redis data was lost. Joining again recreates both.
	ErrNoGroup = errors.New("consumer group does not exist")
)

// ConversionError is a terminal job failure. It is reported through the result
// channel and never retried.
type ConversionError struct {
	Msg string
	Err error
}

func (e *ConversionError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *ConversionError) Unwrap() error { return e.Err }

func (e *ConversionError) Is(target error) bool { return target == ErrConversionFailed }

// NewConversionError wraps err as a terminal conversion failure.
func NewConversionError(msg string, err error) *ConversionError {
	return &ConversionError{Msg: msg, Err: err}
}
