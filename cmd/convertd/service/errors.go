package service

import (
	"errors"
	"fmt"
)

// Validation error codes surfaced to clients
const (
	CodeFileTooLarge    = "FILE_TOO_LARGE"
	CodeUnsupportedType = "UNSUPPORTED_FILE_TYPE"
	CodeUnknownTool     = "UNKNOWN_TOOL"
	CodeEmptyFile       = "EMPTY_FILE"
)

// ValidationError rejects an upload before any session is created
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// StorageError wraps a blob I/O failure
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

var (
	// ErrNotReady means the session exists but has no downloadable result
	ErrNotReady = errors.New("result not ready")

	// ErrExpired means the session's download window has closed
	ErrExpired = errors.New("session expired")
)
