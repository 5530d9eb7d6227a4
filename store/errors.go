package store

import "errors"

// Sentinel errors for store operations.
var (
	ErrNotFound  = errors.New("store not found")
	ErrDuplicate = errors.New("duplicate store name")
)
