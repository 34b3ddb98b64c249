package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/lumoqi/trainbase/pkg/errors"
)

// HTTPError captures the metadata required to serialize an error response consistently.
type HTTPError struct {
	Status  int
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// NewHTTPError is a helper to build an HTTPError instance.
func NewHTTPError(status int, code, message string, err error) *HTTPError {
	return &HTTPError{Status: status, Code: code, Message: message, Err: err}
}

func asHTTPError(err error) *HTTPError {
	if err == nil {
		return nil
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}
	return &HTTPError{
		Status:  http.StatusInternalServerError,
		Code:    "internal_error",
		Message: "something went wrong",
		Err:     err,
	}
}

// fromDomainError maps pipeline error codes to transport statuses.
func fromDomainError(err error) *HTTPError {
	code := apperrors.Code(err)
	status := http.StatusInternalServerError
	switch code {
	case apperrors.CodeInvalidInput:
		status = http.StatusBadRequest
	case apperrors.CodeUnauthorized:
		status = http.StatusUnauthorized
	case apperrors.CodeNotFound:
		status = http.StatusNotFound
	case apperrors.CodeRetrievalUnavailable, apperrors.CodeEmbeddingUnavailable:
		status = http.StatusServiceUnavailable
	case apperrors.CodeExportDisabled:
		status = http.StatusServiceUnavailable
	case apperrors.CodeEmbeddingRejected:
		status = http.StatusUnprocessableEntity
	case apperrors.CodeDimensionMismatch, apperrors.CodeStorage:
		status = http.StatusInternalServerError
	case "":
		code = "internal_error"
	}
	return NewHTTPError(status, code, errMessage(err), err)
}

func errMessage(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

func abortWithError(c *gin.Context, err *HTTPError) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}
