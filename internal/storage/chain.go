package storage

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Fileri/showcase/server/internal/content"
	"github.com/Fileri/showcase/server/internal/logging"
	"github.com/Fileri/showcase/server/internal/metrics"
)

var errNoBackends = errors.New("no content backends configured")

// Chain tries an ordered list of backends per operation. The first backend
// that succeeds wins; a failure falls through to the next one unless it is
// marked Terminal. The last backend's error is returned as is.
type Chain struct {
	stores []Store
}

// NewChain creates a chain over stores, tried in the given order
func NewChain(stores ...Store) *Chain {
	return &Chain{stores: stores}
}

// Names lists the backends in order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.stores))
	for i, s := range c.stores {
		names[i] = s.Name()
	}
	return names
}

// List returns every record from the first backend that answers.
func (c *Chain) List(ctx context.Context) ([]*content.Content, string, error) {
	return run(ctx, c, "list", func(s Store) ([]*content.Content, error) {
		return s.List(ctx)
	})
}

// Get returns the record from the first backend that has it.
func (c *Chain) Get(ctx context.Context, id string) (*content.Content, string, error) {
	return run(ctx, c, "get", func(s Store) (*content.Content, error) {
		return s.Get(ctx, id)
	})
}

// Create stores the record in the first backend that accepts it.
func (c *Chain) Create(ctx context.Context, item *content.Content) (*content.Content, string, error) {
	return run(ctx, c, "create", func(s Store) (*content.Content, error) {
		return s.Create(ctx, item)
	})
}

// Update applies u in the first backend that accepts it.
func (c *Chain) Update(ctx context.Context, id string, u content.Update) (*content.Content, string, error) {
	return run(ctx, c, "update", func(s Store) (*content.Content, error) {
		return s.Update(ctx, id, u)
	})
}

// Delete removes the record from the first backend that accepts the delete.
func (c *Chain) Delete(ctx context.Context, id string) (string, error) {
	_, backend, err := run(ctx, c, "delete", func(s Store) (struct{}, error) {
		return struct{}{}, s.Delete(ctx, id)
	})
	return backend, err
}

func run[T any](ctx context.Context, c *Chain, op string, fn func(Store) (T, error)) (T, string, error) {
	var zero T
	if len(c.stores) == 0 {
		return zero, "", errNoBackends
	}

	logger := logging.WithContext(ctx)
	last := len(c.stores) - 1
	for i, s := range c.stores {
		start := time.Now()
		v, err := fn(s)
		elapsed := time.Since(start)
		if err == nil {
			metrics.RecordBackend(s.Name(), op, metrics.OutcomeServed, elapsed)
			return v, s.Name(), nil
		}

		fields := []zap.Field{zap.String("backend", s.Name()), zap.String("op", op), zap.Error(err)}
		notFound := errors.Is(err, content.ErrNotFound)
		switch {
		case IsTerminal(err):
			metrics.RecordBackend(s.Name(), op, metrics.OutcomeTerminal, elapsed)
			return zero, s.Name(), err
		case i == last:
			if notFound {
				metrics.RecordBackend(s.Name(), op, metrics.OutcomeNotFound, elapsed)
			} else {
				metrics.RecordBackend(s.Name(), op, metrics.OutcomeError, elapsed)
				logger.Error("last backend failed", fields...)
			}
			return zero, s.Name(), err
		case notFound:
			metrics.RecordBackend(s.Name(), op, metrics.OutcomeNotFound, elapsed)
			logger.Debug("not found, trying next backend", fields...)
		default:
			metrics.RecordBackend(s.Name(), op, metrics.OutcomeFallback, elapsed)
			logger.Warn(s.Name()+" "+op+" failed, falling back", fields...)
		}
	}
	return zero, "", errNoBackends
}
