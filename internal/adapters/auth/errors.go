package auth

import "errors"

var (
	// ErrMissingToken is returned when a request carries no credentials.
	ErrMissingToken = errors.New("missing bearer token")
	// ErrInvalidToken covers bad signatures, wrong algorithms and expiry.
	ErrInvalidToken = errors.New("invalid token")
	// ErrEmptySecret is returned when a validator is built without a key.
	ErrEmptySecret = errors.New("empty jwt secret")
)
