// Package common defines shared constants and sentinel errors used across
// client and server layers of finkeeper. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// Validation errors. models.ValidationError unwraps to ErrValidation.
	ErrValidation = errors.New("validation error")

	// Service-level errors.
	ErrInternal     = errors.New("internal error")
	ErrUnauthorized = errors.New("unauthorized")

	// Sync engine errors.
	ErrSyncInProgress   = errors.New("sync already in progress")
	ErrStoreUnavailable = errors.New("local store unavailable")

	// Transport errors.
	ErrUnavailable = errors.New("server unavailable")
	ErrServer      = errors.New("server error")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
