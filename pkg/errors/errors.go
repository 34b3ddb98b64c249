package errors

import "errors"

// Error codes shared across the pipeline. Handlers and the worker pool branch on
// these instead of inspecting error text.
const (
	CodeInvalidInput         = "invalid_input"
	CodeUnauthorized         = "unauthorized"
	CodeNotFound             = "not_found"
	CodeStorage              = "storage_error"
	CodeEmbeddingUnavailable = "embedding_unavailable"
	CodeEmbeddingRejected    = "embedding_rejected"
	CodeDimensionMismatch    = "dimension_mismatch"
	CodeRetrievalUnavailable = "retrieval_unavailable"
	CodeExportDisabled       = "export_disabled"
)

// AppError encodes domain specific error details.
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Wrap produces a new AppError instance.
func Wrap(code, message string, err error) error {
	if err == nil {
		return &AppError{Code: code, Message: message}
	}
	return &AppError{Code: code, Message: message, Err: err}
}

// IsCode helps callers differentiate failures.
func IsCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Code extracts the AppError code, or an empty string for foreign errors.
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
