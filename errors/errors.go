package errors

import "errors"

// Sentinel errors for common error conditions
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that input validation failed
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnavailable indicates that an external collaborator (LLM, embedder,
	// reranker) could not be reached
	ErrUnavailable = errors.New("service unavailable")

	// ErrCorruptIndex indicates that a persisted index artifact exists but
	// could not be decoded
	ErrCorruptIndex = errors.New("corrupt index")
)
