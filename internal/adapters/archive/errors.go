package archive

import "errors"

var (
	// ErrNoTargets is returned by NewMulti when nothing was configured.
	ErrNoTargets = errors.New("no archive targets")
	// ErrBundle wraps a malformed or unreadable audit bundle.
	ErrBundle = errors.New("invalid audit bundle")
)
