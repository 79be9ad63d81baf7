package ingest

import "fmt"

// ValidationError rejects an upload before anything is written
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

var (
	ErrMissingFile         = &ValidationError{Reason: "missing file"}
	ErrDisallowedExtension = &ValidationError{Reason: "disallowed extension"}
	ErrTooLarge            = &ValidationError{Reason: "file too large"}
)

// StorageError reports a failure of the content store or the post store
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
