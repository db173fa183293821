package config

import "errors"

// Callers match these with errors.Is; the wrapped cause names the key or file.
var (
	ErrInvalidConfig = errors.New("config: invalid value")
	ErrLoadConfig    = errors.New("config: load failed")
)
