package services

import "errors"

// Sentinel errors shared by the service packages. Controllers map them to
// HTTP status codes; wrap them with fmt.Errorf("...: %w", ErrX) to add detail.
var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrConflict            = errors.New("conflict")
	ErrInsufficientShares  = errors.New("insufficient shares")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrProviderUnavailable = errors.New("provider unavailable")
)
