package storage

import "errors"

var (
	ErrNotFound          = errors.New("blob not found")
	ErrInvalidKey        = errors.New("invalid blob key")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)
