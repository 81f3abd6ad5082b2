package storekit

import (
	"errors"
	"fmt"
)

// Common storage errors
var (
	ErrUnknownBackend       = errors.New("unknown storage backend")
	ErrUnauthorizedFileType = errors.New("file type not allowed")
	ErrFileExists           = errors.New("file already exists")
	ErrFileNotFound         = errors.New("file does not exist")
	ErrNotSupported         = errors.New("operation not supported")
	ErrMissingFilename      = errors.New("filename is required")
	ErrNotConfigured        = errors.New("storage is not configured")
	ErrNotAllowed           = errors.New("path escapes the storage root")
)

// PathError records an error and the operation and file path that caused it
type PathError struct {
	Op   string
	Path string
	Err  error
}

// Error implements the error interface
func (e *PathError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error
func (e *PathError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether an error indicates that a file does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, ErrFileNotFound)
}

// IsExists reports whether an error indicates that a file already exists
func IsExists(err error) bool {
	return errors.Is(err, ErrFileExists)
}

// IsUnauthorizedFileType reports whether an error indicates a rejected
// file extension
func IsUnauthorizedFileType(err error) bool {
	return errors.Is(err, ErrUnauthorizedFileType)
}

// IsNotSupported reports whether an error indicates a capability the bound
// backend does not offer
func IsNotSupported(err error) bool {
	return errors.Is(err, ErrNotSupported)
}
