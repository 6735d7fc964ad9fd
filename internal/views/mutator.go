package views

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/clinic-console/internal/backend"
	"github.com/wolfman30/clinic-console/internal/querycache"
	"github.com/wolfman30/clinic-console/pkg/logging"
)

// MutationClient performs writes against the backend.
type MutationClient interface {
	Mutate(ctx context.Context, m backend.Mutation, out any) error
}

// Patches describes how a soft delete and a reactivation change a record.
type Patches[T querycache.Entity] struct {
	Deactivate func(T) T
	Reactivate func(T) T
}

// Mutator writes through the backend and keeps every session's cache in
// line: cached copies are patched only after the backend accepts the write,
// then every key is invalidated so the next display reloads from the source.
type Mutator[T backend.Record] struct {
	client   MutationClient
	registry *Registry[T]
	patches  Patches[T]
	logger   *logging.Logger
}

func NewMutator[T backend.Record](client MutationClient, registry *Registry[T], patches Patches[T], logger *logging.Logger) *Mutator[T] {
	if logger == nil {
		logger = logging.Default()
	}
	return &Mutator[T]{client: client, registry: registry, patches: patches, logger: logger}
}

// Create adds a record and returns what the backend stored.
func (m *Mutator[T]) Create(ctx context.Context, payload any) (T, error) {
	var created T
	err := m.client.Mutate(ctx, backend.Mutation{
		Op:      backend.OpCreate,
		Entity:  m.registry.Entity(),
		Payload: payload,
	}, &created)
	if err != nil {
		return created, err
	}
	m.invalidateAll()
	return created, nil
}

// Update changes one record and swaps the returned version into every cached
// page that holds it.
func (m *Mutator[T]) Update(ctx context.Context, id string, payload any) (T, error) {
	var updated T
	err := m.client.Mutate(ctx, backend.Mutation{
		Op:      backend.OpUpdate,
		Entity:  m.registry.Entity(),
		ID:      id,
		Payload: payload,
	}, &updated)
	if err != nil {
		return updated, err
	}
	m.patch([]string{id}, func(T) T { return updated })
	m.invalidateAll()
	return updated, nil
}

// Delete deactivates ids. It returns the ids the backend accepted; failures
// are joined into the error.
func (m *Mutator[T]) Delete(ctx context.Context, ids []string) ([]string, error) {
	return m.each(ctx, backend.OpDelete, ids, m.patches.Deactivate)
}

// Reactivate restores previously deleted ids.
func (m *Mutator[T]) Reactivate(ctx context.Context, ids []string) ([]string, error) {
	return m.each(ctx, backend.OpReactivate, ids, m.patches.Reactivate)
}

func (m *Mutator[T]) each(ctx context.Context, op backend.Operation, ids []string, patch func(T) T) ([]string, error) {
	var (
		done []string
		errs []error
	)
	for _, id := range ids {
		err := m.client.Mutate(ctx, backend.Mutation{Op: op, Entity: m.registry.Entity(), ID: id}, nil)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", op, id, err))
			continue
		}
		done = append(done, id)
	}

	if len(done) > 0 {
		if patch != nil {
			m.patch(done, patch)
		}
		m.invalidateAll()
	}
	if len(errs) > 0 {
		m.logger.Warn("views: mutation partly failed", "entity", m.registry.Entity(), "op", string(op), "done", len(done), "failed", len(errs))
	}
	return done, errors.Join(errs...)
}

func (m *Mutator[T]) patch(ids []string, fn func(T) T) {
	replaced := 0
	m.registry.Each(func(c *querycache.Cache[T]) {
		replaced += c.ApplyOptimisticPatch(ids, fn)
	})
	m.logger.Debug("views: patched cached results", "entity", m.registry.Entity(), "ids", len(ids), "results", replaced)
}

func (m *Mutator[T]) invalidateAll() {
	m.registry.Each(func(c *querycache.Cache[T]) {
		c.InvalidateAll()
	})
}
