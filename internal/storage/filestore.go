package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Fileri/showcase/server/internal/content"
)

// FileStore implements Store on a JSON array kept in a Blob. Records are
// stored as loose objects so fields written by older versions survive a
// rewrite; the body text is kept under "text".
type FileStore struct {
	blob Blob
	now  func() time.Time

	mu sync.Mutex
}

// NewFileStore creates a file store over blob
func NewFileStore(blob Blob) *FileStore {
	return &FileStore{blob: blob, now: time.Now}
}

// Name implements Store
func (f *FileStore) Name() string { return "file" }

func (f *FileStore) read(ctx context.Context) ([]map[string]any, error) {
	data, err := f.blob.Read(ctx)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var records []map[string]any
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", f.blob.Location(), err)
	}
	return records, nil
}

func (f *FileStore) write(ctx context.Context, records []map[string]any) error {
	if records == nil {
		records = []map[string]any{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode contents: %w", err)
	}
	return f.blob.Write(ctx, bytes.NewReader(data))
}

func indexOf(records []map[string]any, id string) int {
	for i, r := range records {
		if content.MatchesID(r, id) {
			return i
		}
	}
	return -1
}

// List returns all records, newest first
func (f *FileStore) List(ctx context.Context) ([]*content.Content, error) {
	f.mu.Lock()
	records, err := f.read(ctx)
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	items := make([]*content.Content, 0, len(records))
	for _, r := range records {
		items = append(items, content.FromRow(r))
	}
	SortNewestFirst(items)
	return items, nil
}

// Get returns the record matching id or _id
func (f *FileStore) Get(ctx context.Context, id string) (*content.Content, error) {
	f.mu.Lock()
	records, err := f.read(ctx)
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	i := indexOf(records, id)
	if i < 0 {
		return nil, content.ErrNotFound
	}
	return content.FromRow(records[i]), nil
}

// Create appends a record
func (f *FileStore) Create(ctx context.Context, c *content.Content) (*content.Content, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	records, err := f.read(ctx)
	if err != nil {
		return nil, err
	}
	if indexOf(records, c.ID) >= 0 {
		return nil, fmt.Errorf("content %s already exists", c.ID)
	}

	r := map[string]any{
		"id":          c.ID,
		"title":       c.Title,
		"text":        c.Description,
		"contentType": c.ContentType,
		"image":       c.Image,
		"externalUrl": c.ExternalURL,
		"platform":    c.Platform,
		"createdAt":   c.CreatedAt,
		"updatedAt":   c.UpdatedAt,
	}
	records = append(records, r)
	if err := f.write(ctx, records); err != nil {
		return nil, err
	}
	return c, nil
}

// Update merges u into the stored record
func (f *FileStore) Update(ctx context.Context, id string, u content.Update) (*content.Content, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	records, err := f.read(ctx)
	if err != nil {
		return nil, err
	}
	i := indexOf(records, id)
	if i < 0 {
		return nil, content.ErrNotFound
	}

	r := records[i]
	if u.Title != nil {
		r["title"] = *u.Title
	}
	if u.Description != nil {
		r["text"] = *u.Description
		delete(r, "description")
	}
	if u.ContentType != nil {
		r["contentType"] = *u.ContentType
	}
	r["image"] = nullable(u.Image)
	r["externalUrl"] = nullable(u.ExternalURL)
	r["platform"] = nullable(u.Platform)
	r["updatedAt"] = f.now().UTC()

	if err := f.write(ctx, records); err != nil {
		return nil, err
	}
	return content.FromRow(r), nil
}

// Delete removes the record with the given id
func (f *FileStore) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	records, err := f.read(ctx)
	if err != nil {
		return err
	}
	i := indexOf(records, id)
	if i < 0 {
		return content.ErrNotFound
	}
	records = append(records[:i], records[i+1:]...)
	return f.write(ctx, records)
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// SortNewestFirst orders items by creation time, newest first. Records
// without a timestamp go last.
func SortNewestFirst(items []*content.Content) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].CreatedAt, items[j].CreatedAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
}
