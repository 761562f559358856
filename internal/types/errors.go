package types

import "errors"

var (
	ErrValidation         = errors.New("validation failed")
	ErrRateLimited        = errors.New("rate limited")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrModelUnavailable   = errors.New("model unavailable")
	ErrNotFound           = errors.New("not found")
)
