package services

import "errors"

// Domain errors. Services wrap them with context; callers match with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnauthenticated   = errors.New("no authenticated actor")
	ErrForbidden         = errors.New("operation not permitted for actor")
	ErrValidation        = errors.New("validation failed")
)
