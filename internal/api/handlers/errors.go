package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"eventmarket/server/internal/services"
)

// Error codes reported alongside messages so clients can branch without parsing text.
const (
	CodeNotFound          = "not_found"
	CodeInvalidTransition = "invalid_transition"
	CodeUnauthenticated   = "unauthenticated"
	CodeForbidden         = "forbidden"
	CodeValidation        = "validation"
	CodeInternal          = "internal"
)

type ApiError struct {
	Message string
	Code    string
}

func (e *ApiError) Error() string {
	return e.Message
}

func NewApiError(message string) *ApiError {
	return &ApiError{Message: message, Code: CodeValidation}
}

// classify maps a service error to its HTTP status and code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, services.ErrInvalidTransition):
		return http.StatusConflict, CodeInvalidTransition
	case errors.Is(err, services.ErrUnauthenticated), errors.Is(err, services.ErrInvalidCredentials):
		return http.StatusUnauthorized, CodeUnauthenticated
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden, CodeForbidden
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrEmailExists):
		return http.StatusBadRequest, CodeValidation
	}
	return http.StatusInternalServerError, CodeInternal
}

// apiErrorFrom converts a service error for the JSON API. Internal errors are logged and
// reported with the generic fallback message.
func apiErrorFrom(err error, fallback string) *ApiError {
	_, code := classify(err)
	if code == CodeInternal {
		log.Printf("Internal error (%s): %v", fallback, err)
		return &ApiError{Message: fallback, Code: code}
	}
	return &ApiError{Message: err.Error(), Code: code}
}

// respondError writes a service error on the REST surface.
func respondError(c *gin.Context, err error, fallback string) {
	status, code := classify(err)
	msg := err.Error()
	if code == CodeInternal {
		_ = c.Error(err)
		log.Printf("Internal error on %s (%s): %v", c.FullPath(), fallback, err)
		msg = fallback
	}
	c.JSON(status, gin.H{"error": msg, "code": code})
}
