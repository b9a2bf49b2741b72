package errors

import (
	stdErrors "errors"
	"fmt"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

const (
	CodeOpen     = "E600"
	CodeEncoding = "E610"
	CodeDecoding = "E620"
	CodeWrite    = "E630"
	CodeRead     = "E640"
	CodeClosed   = "E650"
)

// ErrStoreClosed is returned by every store operation issued after Close.
var ErrStoreClosed = stdErrors.New("fsm storage is closed")

type AppError struct {
	Code      string
	Message   string
	Severity  Severity
	Retryable bool
	cause     error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}

	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.cause
}

func (e *AppError) Cause() error {
	return e.Unwrap()
}

// NewOpenError reports a store that could not be opened or initialized.
func NewOpenError(path string, cause error) *AppError {
	return &AppError{
		Code:      CodeOpen,
		Message:   fmt.Sprintf("open fsm storage %q", path),
		Severity:  SeverityCritical,
		Retryable: false,
		cause:     cause,
	}
}

// NewEncodingError reports a value the active serializer cannot represent.
func NewEncodingError(serializer string, cause error) *AppError {
	return &AppError{
		Code:      CodeEncoding,
		Message:   fmt.Sprintf("encode payload with %s serializer", serializer),
		Severity:  SeverityLow,
		Retryable: false,
		cause:     cause,
	}
}

// NewDecodingError reports a payload that could not be decoded, usually
// because it was written under another serializer.
func NewDecodingError(serializer, key string, cause error) *AppError {
	return &AppError{
		Code:      CodeDecoding,
		Message:   fmt.Sprintf("decode payload for %s with %s serializer", key, serializer),
		Severity:  SeverityMedium,
		Retryable: false,
		cause:     cause,
	}
}

func NewWriteError(key string, retryable bool, cause error) *AppError {
	return &AppError{
		Code:      CodeWrite,
		Message:   fmt.Sprintf("write fsm record %s", key),
		Severity:  SeverityHigh,
		Retryable: retryable,
		cause:     cause,
	}
}

func NewReadError(key string, cause error) *AppError {
	return &AppError{
		Code:      CodeRead,
		Message:   fmt.Sprintf("read fsm record %s", key),
		Severity:  SeverityHigh,
		Retryable: false,
		cause:     cause,
	}
}

func NewClosedError(op string) *AppError {
	return &AppError{
		Code:      CodeClosed,
		Message:   fmt.Sprintf("%s on closed storage", op),
		Severity:  SeverityMedium,
		Retryable: false,
		cause:     ErrStoreClosed,
	}
}

// HasCode reports whether err carries an AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if stdErrors.As(err, &appErr) && appErr != nil {
		return appErr.Code == code
	}

	return false
}
