package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fileri/showcase/server/internal/content"
)

// fakeStore returns canned results and counts calls.
type fakeStore struct {
	name  string
	item  *content.Content
	items []*content.Content
	err   error
	calls int
}

func (f *fakeStore) Name() string { return f.name }

func (f *fakeStore) List(ctx context.Context) ([]*content.Content, error) {
	f.calls++
	return f.items, f.err
}

func (f *fakeStore) Get(ctx context.Context, id string) (*content.Content, error) {
	f.calls++
	return f.item, f.err
}

func (f *fakeStore) Create(ctx context.Context, c *content.Content) (*content.Content, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return c, nil
}

func (f *fakeStore) Update(ctx context.Context, id string, u content.Update) (*content.Content, error) {
	f.calls++
	return f.item, f.err
}

func (f *fakeStore) Delete(ctx context.Context, id string) error {
	f.calls++
	return f.err
}

func TestChain_FirstSuccessWins(t *testing.T) {
	first := &fakeStore{name: "postgres", item: &content.Content{ID: "1", Title: "from db"}}
	second := &fakeStore{name: "file", item: &content.Content{ID: "1", Title: "from file"}}

	item, backend, err := NewChain(first, second).Get(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "postgres", backend)
	assert.Equal(t, "from db", item.Title)
	assert.Equal(t, 0, second.calls)
}

func TestChain_ErrorFallsThrough(t *testing.T) {
	first := &fakeStore{name: "postgres", err: errors.New("connection refused")}
	second := &fakeStore{name: "supabase", err: errors.New("401 unauthorized")}
	third := &fakeStore{name: "file", item: &content.Content{ID: "1", Title: "from file"}}

	item, backend, err := NewChain(first, second, third).Get(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "file", backend)
	assert.Equal(t, "from file", item.Title)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
}

func TestChain_NotFoundFallsThroughUntilLast(t *testing.T) {
	first := &fakeStore{name: "postgres", err: content.ErrNotFound}
	last := &fakeStore{name: "file", err: content.ErrNotFound}

	_, backend, err := NewChain(first, last).Get(context.Background(), "missing")
	assert.ErrorIs(t, err, content.ErrNotFound)
	assert.Equal(t, "file", backend)
	assert.Equal(t, 1, last.calls)
}

func TestChain_TerminalStops(t *testing.T) {
	first := &fakeStore{name: "postgres", err: Terminal(content.ErrNotFound)}
	second := &fakeStore{name: "file", item: &content.Content{ID: "1"}}

	_, backend, err := NewChain(first, second).Update(context.Background(), "1", content.Update{})
	assert.ErrorIs(t, err, content.ErrNotFound)
	assert.True(t, IsTerminal(err))
	assert.Equal(t, "postgres", backend)
	assert.Equal(t, 0, second.calls)
}

func TestChain_DeleteTerminalError(t *testing.T) {
	boom := errors.New("permission denied for table contents")
	sb := &fakeStore{name: "supabase", err: Terminal(boom)}
	files := &fakeStore{name: "file"}

	backend, err := NewChain(sb, files).Delete(context.Background(), "1")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "supabase", backend)
	assert.Equal(t, 0, files.calls)
}

func TestChain_LastErrorReturned(t *testing.T) {
	last := errors.New("disk full")
	_, _, err := NewChain(
		&fakeStore{name: "postgres", err: errors.New("timeout")},
		&fakeStore{name: "file", err: last},
	).Create(context.Background(), &content.Content{ID: "x"})
	assert.ErrorIs(t, err, last)
}

func TestChain_Empty(t *testing.T) {
	_, _, err := NewChain().List(context.Background())
	assert.ErrorIs(t, err, errNoBackends)
}

func TestChain_Names(t *testing.T) {
	c := NewChain(&fakeStore{name: "postgres"}, &fakeStore{name: "supabase"}, &fakeStore{name: "file"})
	assert.Equal(t, []string{"postgres", "supabase", "file"}, c.Names())
}

func TestTerminal(t *testing.T) {
	assert.Nil(t, Terminal(nil))
	assert.False(t, IsTerminal(errors.New("plain")))
	assert.True(t, IsTerminal(Terminal(errors.New("x"))))
}
