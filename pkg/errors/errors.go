package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrInternal
)

// Import error codes. All of these abort with no side effects, except
// ErrTransactionFailure which triggers a full rollback mid-commit.
const (
	ErrUnsupportedFormat ErrorCode = iota + 2000
	ErrSheetNotFound
	ErrSchemaMismatch
	ErrBackupFailed
	ErrTransactionFailure
)

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

func NewUnsupportedFormat(err error) *AppError {
	return &AppError{
		Code:    ErrUnsupportedFormat,
		Message: "unsupported file format",
		Err:     err,
	}
}

func NewSheetNotFound(sheet string) *AppError {
	return &AppError{
		Code:    ErrSheetNotFound,
		Message: fmt.Sprintf("worksheet %q not found", sheet),
	}
}

func NewSchemaMismatch(missing []string) *AppError {
	return &AppError{
		Code:    ErrSchemaMismatch,
		Message: fmt.Sprintf("payments table is missing required columns: %v", missing),
	}
}

func NewBackupFailed(err error) *AppError {
	return &AppError{
		Code:    ErrBackupFailed,
		Message: "backup failed, refusing to write without a safety copy",
		Err:     err,
	}
}

func NewTransactionFailure(err error) *AppError {
	return &AppError{
		Code:    ErrTransactionFailure,
		Message: "import transaction failed and was rolled back",
		Err:     err,
	}
}

// HTTPStatus maps the error code to an HTTP response status.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ErrNotFound:
		return 404
	case ErrBadRequest, ErrUnsupportedFormat, ErrSheetNotFound:
		return 400
	case ErrSchemaMismatch, ErrBackupFailed:
		return 409
	default:
		return 500
	}
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
