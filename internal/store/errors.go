package store

import "errors"

// ErrDuplicateToken is returned by Insert when a token hash or link already
// exists. Generated secrets never legitimately collide, so this signals a
// generator or hashing defect and must not be retried.
var ErrDuplicateToken = errors.New("duplicate token")

// ErrUnsupportedDriver is returned by Open for an unknown database driver.
var ErrUnsupportedDriver = errors.New("unsupported database driver")
