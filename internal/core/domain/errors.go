package domain

import "errors"

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
)
