package models

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks bad caller input. It is never retried.
	ErrValidation = errors.New("validation error")

	ErrUnsupportedFileType = fmt.Errorf("%w: unsupported file type", ErrValidation)
	ErrNoText              = fmt.Errorf("%w: no extractable text", ErrValidation)

	// ErrNotFound is returned when a user has no notes collection yet.
	ErrNotFound = errors.New("no notes found")

	// ErrNoContent is returned when a collection exists but holds no chunks.
	ErrNoContent = errors.New("no content available")
)

// UnsupportedFileTypeError is returned for an upload whose extension is not
// in the allow-list. It matches ErrUnsupportedFileType and ErrValidation.
type UnsupportedFileTypeError struct {
	Ext     string
	Allowed []string
}

func (e *UnsupportedFileTypeError) Error() string {
	return fmt.Sprintf("%v: %q", ErrUnsupportedFileType, e.Ext)
}

func (e *UnsupportedFileTypeError) Unwrap() error {
	return ErrUnsupportedFileType
}

// NoTextError is returned when nothing but whitespace was extracted from a file
type NoTextError struct {
	Filename string
}

func (e *NoTextError) Error() string {
	return fmt.Sprintf("%v: %s", ErrNoText, e.Filename)
}

func (e *NoTextError) Unwrap() error {
	return ErrNoText
}
