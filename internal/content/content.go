// Package content stores uploaded file bytes under their stored filenames.
package content

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

var (
	ErrNotFound    = errors.New("content not found")
	ErrExists      = errors.New("content already exists")
	ErrInvalidName = errors.New("invalid content name")
)

// Store is a flat namespace of uploaded files
type Store interface {
	// Put writes r under name. It never overwrites an existing file.
	Put(ctx context.Context, name string, r io.Reader, size int64) error

	// Open returns the file stored under name and its modification time
	Open(ctx context.Context, name string) (io.ReadSeekCloser, time.Time, error)

	// Remove deletes the file stored under name
	Remove(ctx context.Context, name string) error
}

// ValidName reports whether name is a single, non-special path element
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return false
	}
	return !strings.ContainsRune(name, 0)
}
