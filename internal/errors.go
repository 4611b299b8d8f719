package warden

import "errors"

// Sentinel errors for the gateway domain.
var (
	ErrNotFound      = errors.New("not found")
	ErrBadRequest    = errors.New("bad request")
	ErrProviderError = errors.New("provider error")
)
