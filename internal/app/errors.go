package app

import "errors"

// Error kinds reported by RAGService. Every returned error wraps exactly one of them.
var (
	ErrValidation    = errors.New("invalid input")
	ErrResourceLimit = errors.New("resource limit exceeded")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("operation timed out")
	ErrDependency    = errors.New("dependency failure")
)
