// Package views serves list views to many sessions at once: one
// querycache.Cache per session and collection, view state that survives a
// reload, and the HTTP surface the admin UI talks to.
package views

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/redis/go-redis/v9"
	"github.com/wolfman30/clinic-console/internal/querycache"
)

// ErrNoState is returned by a StateStore when nothing was saved.
var ErrNoState = errors.New("views: no saved state")

// State is the persisted part of a list view.
type State struct {
	Filter   querycache.Filter `json:"filter"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}

// StateFromKey captures the view bound to key.
func StateFromKey(key querycache.QueryKey) State {
	return State{Filter: key.Filter, Page: key.Page, PageSize: key.PageSize}
}

func (s State) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Filter),
		validation.Field(&s.Page, validation.Required, validation.Min(1)),
		validation.Field(&s.PageSize, validation.Required, validation.Min(1)),
	)
}

// StateStore persists view state per session and collection.
type StateStore interface {
	Load(ctx context.Context, session, entity string) (State, error)
	Save(ctx context.Context, session, entity string, s State) error
}

// RedisStateStore keeps view state in Redis with a sliding TTL.
type RedisStateStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisStateStore creates a store. A zero ttl keeps state forever.
func NewRedisStateStore(client *redis.Client, ttl time.Duration) *RedisStateStore {
	return &RedisStateStore{redis: client, ttl: ttl}
}

func (s *RedisStateStore) key(session, entity string) string {
	return fmt.Sprintf("views:state:%s:%s", session, entity)
}

// Load returns the saved state or ErrNoState.
func (s *RedisStateStore) Load(ctx context.Context, session, entity string) (State, error) {
	data, err := s.redis.Get(ctx, s.key(session, entity)).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, ErrNoState
	}
	if err != nil {
		return State{}, fmt.Errorf("views: load state: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("views: unmarshal state: %w", err)
	}
	return st, nil
}

// Save stores s and refreshes the TTL.
func (s *RedisStateStore) Save(ctx context.Context, session, entity string, st State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("views: marshal state: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(session, entity), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("views: save state: %w", err)
	}
	return nil
}

// MemoryStateStore is used when Redis is not configured.
type MemoryStateStore struct {
	mu     sync.RWMutex
	states map[string]State
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]State)}
}

func (s *MemoryStateStore) Load(_ context.Context, session, entity string) (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[session+":"+entity]
	if !ok {
		return State{}, ErrNoState
	}
	return st, nil
}

func (s *MemoryStateStore) Save(_ context.Context, session, entity string, st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[session+":"+entity] = st
	return nil
}
