package domain

import "errors"

// Domain errors - use with errors.Is()
var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates invalid input
	ErrValidation = errors.New("validation failed")

	// ErrConfiguration indicates missing or inconsistent configuration
	// (e.g. no API key). Fatal at startup.
	ErrConfiguration = errors.New("configuration error")

	// ErrUnauthorized indicates authentication failure
	ErrUnauthorized = errors.New("unauthorized")

	// ErrBusy indicates a request was rejected because another one is in flight
	ErrBusy = errors.New("request already in flight")
)
