package views

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/clinic-console/internal/backend"
	"github.com/wolfman30/clinic-console/internal/querycache"
	"github.com/wolfman30/clinic-console/pkg/logging"
)

const defaultSessionTTL = 2 * time.Hour

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Entity     string
	Cache      querycache.Options
	Store      StateStore
	SessionTTL time.Duration
	Logger     *logging.Logger

	// ValidateFilter, when set, vets restored view state before it is applied.
	ValidateFilter func(querycache.Filter) error
}

// sessionKey identifies one cache: a browser session seen under one bearer
// token. Requests without a token get their own slot.
type sessionKey struct {
	id    string
	token string
}

func keyFor(ctx context.Context, sessionID string) sessionKey {
	token, _ := backend.TokenFromContext(ctx)
	if token == "" {
		return sessionKey{id: sessionID}
	}
	sum := sha256.Sum256([]byte(token))
	return sessionKey{id: sessionID, token: hex.EncodeToString(sum[:12])}
}

type session[T querycache.Entity] struct {
	cache    *querycache.Cache[T]
	token    string
	lastSeen time.Time
}

// Registry owns the caches of one collection, one per session.
type Registry[T querycache.Entity] struct {
	entity     string
	fetch      querycache.Fetcher[T]
	opts       querycache.Options
	store      StateStore
	sessionTTL time.Duration
	logger     *logging.Logger
	validate   func(querycache.Filter) error
	now        func() time.Time

	mu       sync.Mutex
	sessions map[sessionKey]*session[T]
}

// NewRegistry creates a registry whose caches load pages through fetch.
func NewRegistry[T querycache.Entity](cfg RegistryConfig, fetch querycache.Fetcher[T]) *Registry[T] {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStateStore()
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	now := cfg.Cache.Now
	if now == nil {
		now = time.Now
	}
	if cfg.Cache.Logger == nil {
		cfg.Cache.Logger = cfg.Logger
	}
	return &Registry[T]{
		entity:     cfg.Entity,
		fetch:      fetch,
		opts:       cfg.Cache,
		store:      cfg.Store,
		sessionTTL: cfg.SessionTTL,
		logger:     cfg.Logger.With("entity", cfg.Entity),
		validate:   cfg.ValidateFilter,
		now:        now,
		sessions:   make(map[sessionKey]*session[T]),
	}
}

// Entity returns the collection name.
func (r *Registry[T]) Entity() string { return r.entity }

// Get returns the cache for sessionID and the caller token in ctx, creating it
// on first use and restoring any saved view state. A cache only ever fetches
// with the token it was created under, so a session presenting a different
// token (or none) gets a separate cache.
func (r *Registry[T]) Get(ctx context.Context, sessionID string) *querycache.Cache[T] {
	key := keyFor(ctx, sessionID)
	if s := r.touch(key); s != nil {
		return s.cache
	}

	state, err := r.store.Load(ctx, sessionID, r.entity)
	if err != nil && !errors.Is(err, ErrNoState) {
		r.logger.Warn("views: failed to load view state", "session", sessionID, "error", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[key]; ok {
		s.lastSeen = r.now()
		return s.cache
	}

	s := &session[T]{lastSeen: r.now()}
	if key.token != "" {
		s.token, _ = backend.TokenFromContext(ctx)
	}
	s.cache = querycache.New(r.entity, r.sessionFetcher(s), r.opts)
	if err == nil {
		r.restore(s.cache, sessionID, state)
	}
	r.sessions[key] = s
	return s.cache
}

func (r *Registry[T]) restore(c *querycache.Cache[T], sessionID string, st State) {
	if err := st.Validate(); err != nil {
		r.logger.Warn("views: discarding invalid view state", "session", sessionID, "error", err)
		return
	}
	if r.validate != nil {
		if err := r.validate(st.Filter); err != nil {
			r.logger.Warn("views: discarding view state with unsupported filter", "session", sessionID, "error", err)
			return
		}
	}
	if err := c.Restore(st.Filter, st.Page, st.PageSize); err != nil {
		r.logger.Warn("views: failed to restore view state", "session", sessionID, "error", err)
	}
}

func (r *Registry[T]) touch(key sessionKey) *session[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	if !ok {
		return nil
	}
	s.lastSeen = r.now()
	return s
}

// sessionFetcher pins s.token onto every fetch. Fetches run on the cache's own
// context, so a token-less session must not inherit one from anywhere else.
func (r *Registry[T]) sessionFetcher(s *session[T]) querycache.Fetcher[T] {
	return func(ctx context.Context, key querycache.QueryKey) (querycache.Page[T], error) {
		if s.token != "" {
			ctx = backend.WithToken(ctx, s.token)
		}
		return r.fetch(ctx, key)
	}
}

// Save persists the view of the cache Get would return for ctx and sessionID.
func (r *Registry[T]) Save(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	s, ok := r.sessions[keyFor(ctx, sessionID)]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return r.store.Save(ctx, sessionID, r.entity, StateFromKey(s.cache.Active()))
}

// Each calls fn for every live cache.
func (r *Registry[T]) Each(fn func(*querycache.Cache[T])) {
	r.mu.Lock()
	caches := make([]*querycache.Cache[T], 0, len(r.sessions))
	for _, s := range r.sessions {
		caches = append(caches, s.cache)
	}
	r.mu.Unlock()

	for _, c := range caches {
		fn(c)
	}
}

// Len returns the number of live session caches.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep closes sessions idle for longer than the session TTL and evicts
// expired results from the rest.
func (r *Registry[T]) Sweep() (closed, evicted int) {
	now := r.now()
	var idle []*querycache.Cache[T]

	r.mu.Lock()
	for id, s := range r.sessions {
		if now.Sub(s.lastSeen) > r.sessionTTL {
			idle = append(idle, s.cache)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, c := range idle {
		c.Close()
	}
	r.Each(func(c *querycache.Cache[T]) {
		evicted += c.Sweep()
	})

	if len(idle) > 0 || evicted > 0 {
		r.logger.Debug("views: sweep finished", "sessions_closed", len(idle), "results_evicted", evicted)
	}
	return len(idle), evicted
}

// Run sweeps on every tick until ctx is done, then closes every cache.
func (r *Registry[T]) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.Close()
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Close stops every cache and forgets all sessions.
func (r *Registry[T]) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[sessionKey]*session[T])
	r.mu.Unlock()

	for _, s := range sessions {
		s.cache.Close()
	}
}
