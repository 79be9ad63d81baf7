package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"
)

// Dir keeps files in a local directory. Every access goes through an os.Root,
// so no name can resolve outside the directory.
type Dir struct {
	root *os.Root
}

// OpenDir opens (creating if needed) the content directory at path
func OpenDir(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("create content directory: %w", err)
	}
	root, err := os.OpenRoot(path)
	if err != nil {
		return nil, fmt.Errorf("open content directory: %w", err)
	}
	return &Dir{root: root}, nil
}

// Close releases the directory handle
func (d *Dir) Close() error {
	return d.root.Close()
}

// Path returns the directory's path
func (d *Dir) Path() string {
	return d.root.Name()
}

func (d *Dir) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	if !ValidName(name) {
		return ErrInvalidName
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := d.root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, fs.ErrExist) {
		return ErrExists
	}
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		d.root.Remove(name)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		d.root.Remove(name)
		return fmt.Errorf("close %s: %w", name, err)
	}

	return nil
}

func (d *Dir) Open(ctx context.Context, name string) (io.ReadSeekCloser, time.Time, error) {
	if !ValidName(name) {
		return nil, time.Time{}, ErrInvalidName
	}

	f, err := d.root.Open(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, time.Time{}, ErrNotFound
	}
	if err != nil {
		return nil, time.Time{}, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, time.Time{}, err
	}
	if info.IsDir() {
		f.Close()
		return nil, time.Time{}, ErrNotFound
	}

	return f, info.ModTime(), nil
}

func (d *Dir) Remove(ctx context.Context, name string) error {
	if !ValidName(name) {
		return ErrInvalidName
	}
	err := d.root.Remove(name)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	return err
}
