package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Filesystem implements Blob using a file on the local filesystem
type Filesystem struct {
	basePath string
	name     string
}

// NewFilesystem creates a new filesystem blob at basePath/name
func NewFilesystem(basePath, name string) (*Filesystem, error) {
	// Create base directory if it doesn't exist
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	if name == "" {
		name = "contents.json"
	}
	return &Filesystem{basePath: basePath, name: name}, nil
}

func (f *Filesystem) path() string {
	return filepath.Join(f.basePath, f.name)
}

// Location returns the document path
func (f *Filesystem) Location() string {
	return f.path()
}

// Read returns the document contents
func (f *Filesystem) Read(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", f.name, err)
	}
	return data, nil
}

// Write replaces the document through a temp file and rename
func (f *Filesystem) Write(ctx context.Context, r io.Reader) error {
	tmp, err := os.CreateTemp(f.basePath, f.name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", f.name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path()); err != nil {
		return fmt.Errorf("failed to replace %s: %w", f.name, err)
	}
	return nil
}
