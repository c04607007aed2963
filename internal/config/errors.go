package config

import "errors"

// ErrInvalidConfig is returned by Validate when the effective configuration
// cannot be used to start tokend.
var ErrInvalidConfig = errors.New("invalid config")
