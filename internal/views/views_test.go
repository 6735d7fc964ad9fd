package views

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/clinic-console/internal/apierr"
	"github.com/wolfman30/clinic-console/internal/backend"
	"github.com/wolfman30/clinic-console/internal/querycache"
	"github.com/wolfman30/clinic-console/pkg/logging"
)

type record struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	IsActive bool   `json:"isActive"`
}

func (r record) EntityID() string { return r.ID }

func (r record) Validate() error {
	return validation.ValidateStruct(&r, validation.Field(&r.ID, validation.Required))
}

type recordPayload struct {
	Status string `json:"status"`
}

func (p *recordPayload) Validate() error {
	return validation.ValidateStruct(p, validation.Field(&p.Status, validation.Required))
}

var recordPatches = Patches[record]{
	Deactivate: func(r record) record { r.IsActive = false; return r },
	Reactivate: func(r record) record { r.IsActive = true; return r },
}

type stubBackend struct {
	mu     sync.Mutex
	calls  map[string]int
	tokens []string
	pages  map[string]querycache.Page[record]
	gate   chan struct{}
}

func newStubBackend() *stubBackend {
	return &stubBackend{calls: make(map[string]int), pages: make(map[string]querycache.Page[record])}
}

func (s *stubBackend) set(key querycache.QueryKey, total int, items ...record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[key.String()] = querycache.Page[record]{Items: items, Total: total}
}

func (s *stubBackend) fetch(ctx context.Context, key querycache.QueryKey) (querycache.Page[record], error) {
	s.mu.Lock()
	s.calls[key.String()]++
	if token, ok := backend.TokenFromContext(ctx); ok {
		s.tokens = append(s.tokens, token)
	}
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return querycache.Page[record]{}, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pages[key.String()], nil
}

// block holds every fetch until the returned func is called.
func (s *stubBackend) block() func() {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gate = gate
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.gate = nil
		s.mu.Unlock()
		close(gate)
	}
}

func (s *stubBackend) callCount(key querycache.QueryKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[key.String()]
}

func (s *stubBackend) seenTokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tokens...)
}

type stubMutations struct {
	mu     sync.Mutex
	seen   []backend.Mutation
	fail   map[string]error
	result record
}

func (s *stubMutations) Mutate(_ context.Context, m backend.Mutation, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, m)
	if err := s.fail[m.ID]; err != nil {
		return err
	}
	if out != nil {
		*(out.(*record)) = s.result
	}
	return nil
}

func (s *stubMutations) mutations() []backend.Mutation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]backend.Mutation(nil), s.seen...)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newClock() *clock {
	return &clock{t: time.Date(2025, 6, 2, 8, 30, 0, 0, time.UTC)}
}

func newTestRegistry(t *testing.T, fetch querycache.Fetcher[record], store StateStore, now func() time.Time) *Registry[record] {
	t.Helper()
	if now == nil {
		now = time.Now
	}
	r := NewRegistry(RegistryConfig{
		Entity:     "appointments",
		Store:      store,
		SessionTTL: time.Hour,
		Logger:     logging.Discard(),
		Cache:      querycache.Options{PageSize: 10, Now: now},
	}, fetch)
	t.Cleanup(r.Close)
	return r
}

func waitAll(t *testing.T, r *Registry[record]) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r.Each(func(c *querycache.Cache[record]) {
		require.NoError(t, c.Wait(ctx))
	})
}

func records(prefix string, n int) []record {
	out := make([]record, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, record{ID: fmt.Sprintf("%s%d", prefix, i), Status: "CONFIRMED", IsActive: true})
	}
	return out
}

var (
	allKey     = querycache.BuildKey("appointments", querycache.All(), 1, 10)
	pendingKey = querycache.BuildKey("appointments", querycache.ByStatus("PENDING"), 1, 10)
	errBoom    = apierr.New(apierr.ErrNotFound, "delete appointments", 404, nil)
)
