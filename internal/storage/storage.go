package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Fileri/showcase/server/internal/config"
	"github.com/Fileri/showcase/server/internal/content"
)

// Store defines the interface for content backends
type Store interface {
	// Name identifies the backend in logs, metrics and response headers
	Name() string

	// List returns every record, newest first
	List(ctx context.Context) ([]*content.Content, error)

	// Get returns one record or content.ErrNotFound
	Get(ctx context.Context, id string) (*content.Content, error)

	// Create stores a fully populated record and returns it as stored
	Create(ctx context.Context, c *content.Content) (*content.Content, error)

	// Update applies a mapped update and returns the stored record
	Update(ctx context.Context, id string, u content.Update) (*content.Content, error)

	// Delete removes a record
	Delete(ctx context.Context, id string) error
}

// Blob holds the raw bytes of the flat-file content document
type Blob interface {
	// Read returns the document, or nil bytes if it does not exist yet
	Read(ctx context.Context) ([]byte, error)

	// Write replaces the document
	Write(ctx context.Context, r io.Reader) error

	// Location describes where the document lives
	Location() string
}

// NewBlob creates the blob backing the file store based on configuration
func NewBlob(ctx context.Context, cfg config.FilesConfig) (Blob, error) {
	switch cfg.Type {
	case "filesystem", "":
		return NewFilesystem(cfg.Path, cfg.Key)
	case "s3":
		return NewS3(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown files type: %s", cfg.Type)
	}
}

type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// Terminal marks err as ending the fallback chain: the chain returns it
// without trying later backends.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// IsTerminal reports whether err was marked with Terminal.
func IsTerminal(err error) bool {
	var t *terminalError
	return errors.As(err, &t)
}
