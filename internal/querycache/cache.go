// Package querycache keeps paginated, filterable collection results keyed by
// QueryKey and guarantees that a view only ever displays the result for its
// currently active filter and pagination.
package querycache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wolfman30/clinic-console/internal/apierr"
	"github.com/wolfman30/clinic-console/internal/observability/metrics"
	"github.com/wolfman30/clinic-console/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("clinic.internal.querycache")

const (
	defaultPageSize            = 10
	defaultStaleTime           = 5 * time.Minute
	defaultRetainTime          = 30 * time.Minute
	defaultPrefetchConcurrency = 4
)

// ErrInvalidPagination is returned by SetPagination for out-of-range values.
var ErrInvalidPagination = errors.New("querycache: invalid pagination")

// Options tunes a Cache. Zero values select the defaults.
type Options struct {
	PageSize            int
	StaleTime           time.Duration
	RetainTime          time.Duration
	PrefetchConcurrency int
	Logger              *logging.Logger
	Metrics             *metrics.CacheMetrics
	Now                 func() time.Time
}

type entry[T Entity] struct {
	result   *Result[T]
	stale    bool
	err      error
	lastUsed time.Time
}

type flight struct {
	epoch uint64
	done  chan struct{}
}

// Cache holds results for one collection view. It is safe for concurrent use.
type Cache[T Entity] struct {
	entity     string
	fetch      Fetcher[T]
	staleTime  time.Duration
	retainTime time.Duration
	prefetchN  int
	logger     *logging.Logger
	metrics    *metrics.CacheMetrics
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	filter    Filter
	page      int
	pageSize  int
	entries   map[string]*entry[T]
	inflight  map[string]*flight
	epochs    map[string]uint64
	displayed *QueryKey

	// patches applied while a key was loading, replayed onto its result.
	deferred map[string][]func([]T) ([]T, bool)
}

// New creates a cache for entity backed by fetch. The view starts on the All
// filter, page 1.
func New[T Entity](entity string, fetch Fetcher[T], opts Options) *Cache[T] {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.StaleTime <= 0 {
		opts.StaleTime = defaultStaleTime
	}
	if opts.RetainTime <= 0 {
		opts.RetainTime = defaultRetainTime
	}
	if opts.PrefetchConcurrency <= 0 {
		opts.PrefetchConcurrency = defaultPrefetchConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache[T]{
		entity:     entity,
		fetch:      fetch,
		staleTime:  opts.StaleTime,
		retainTime: opts.RetainTime,
		prefetchN:  opts.PrefetchConcurrency,
		logger:     opts.Logger.With("entity", entity),
		metrics:    opts.Metrics,
		now:        opts.Now,
		ctx:        ctx,
		cancel:     cancel,
		filter:     All(),
		page:       1,
		pageSize:   opts.PageSize,
		entries:    make(map[string]*entry[T]),
		inflight:   make(map[string]*flight),
		epochs:     make(map[string]uint64),
		deferred:   make(map[string][]func([]T) ([]T, bool)),
	}
}

// Entity returns the collection name the cache serves.
func (c *Cache[T]) Entity() string { return c.entity }

// Active returns the key the view is currently bound to.
func (c *Cache[T]) Active() QueryKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeKeyLocked()
}

// Len returns the number of keys holding a result or an error.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops in-flight fetches. The cache must not be used afterwards.
func (c *Cache[T]) Close() {
	c.cancel()
}

// SetFilter switches the active filter and resets to page 1. Setting the
// filter that is already active does nothing.
func (c *Cache[T]) SetFilter(f Filter) error {
	if err := f.Validate(); err != nil {
		return err
	}
	f = f.Normalize()

	c.mu.Lock()
	defer c.mu.Unlock()
	if f == c.filter {
		return nil
	}
	c.filter = f
	c.page = 1
	c.syncLocked()
	return nil
}

// SetPagination moves the view to another page. A page size change always
// lands on page 1. The filter is never touched.
func (c *Cache[T]) SetPagination(page, pageSize int) error {
	if page < 1 {
		return fmt.Errorf("%w: page must be >= 1", ErrInvalidPagination)
	}
	if pageSize < 1 {
		return fmt.Errorf("%w: page size must be > 0", ErrInvalidPagination)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if pageSize != c.pageSize {
		page = 1
	}
	if page == c.page && pageSize == c.pageSize {
		return nil
	}
	c.page = page
	c.pageSize = pageSize
	c.syncLocked()
	return nil
}

// Restore binds the view to filter, page and pageSize in one step. It is used
// to bring back a persisted view without fetching page 1 first.
func (c *Cache[T]) Restore(f Filter, page, pageSize int) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if page < 1 || pageSize < 1 {
		return fmt.Errorf("%w: page %d, page size %d", ErrInvalidPagination, page, pageSize)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter = f.Normalize()
	c.page = page
	c.pageSize = pageSize
	c.syncLocked()
	return nil
}

// DisplayData reports what the view should render for the active key. It never
// returns a result that belongs to another key. When nothing is cached and
// nothing is loading it starts a fetch before returning StateEmpty.
func (c *Cache[T]) DisplayData() Display[T] {
	c.mu.Lock()
	d := c.displayLocked()
	c.mu.Unlock()

	c.metrics.ObserveDisplay(c.entity, string(d.State))
	return d
}

func (c *Cache[T]) displayLocked() Display[T] {
	key := c.activeKeyLocked()
	id := key.String()
	now := c.now()

	e := c.entries[id]
	_, loading := c.inflight[id]
	if e != nil {
		e.lastUsed = now
	}

	switch {
	case e != nil && c.freshLocked(e, now):
		c.markDisplayedLocked(key)
		if len(e.result.Items) == 0 && key.Page > 1 {
			return Display[T]{State: StateEmpty, Key: key, Result: e.result}
		}
		return Display[T]{State: StateReady, Key: key, Result: e.result}

	case loading:
		if e != nil && e.result != nil {
			c.markDisplayedLocked(key)
			return Display[T]{State: StateRefreshing, Key: key, Result: e.result, Stale: true}
		}
		return Display[T]{State: StatePending, Key: key}

	case e != nil && e.err != nil:
		if e.result != nil {
			c.markDisplayedLocked(key)
		}
		return Display[T]{State: StateError, Key: key, Result: e.result, Err: e.err, Stale: e.result != nil}

	case e != nil && e.result != nil:
		c.startFetchLocked(key)
		c.markDisplayedLocked(key)
		return Display[T]{State: StateRefreshing, Key: key, Result: e.result, Stale: true}

	default:
		c.startFetchLocked(key)
		return Display[T]{State: StateEmpty, Key: key}
	}
}

// Reconcile compares the key of the result last handed to the view with the
// active key. On mismatch it forces a refetch of the active key and returns
// true. Calling it again before anything changes is a no-op, as is calling it
// while the active key is loading or in a terminal error state.
func (c *Cache[T]) Reconcile() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := c.activeKeyLocked()
	if c.displayed != nil && c.displayed.Equal(key) {
		return false
	}
	id := key.String()
	if _, loading := c.inflight[id]; loading {
		return false
	}
	e := c.entries[id]
	if e != nil && e.err != nil {
		return false
	}

	displayed := "<none>"
	if c.displayed != nil {
		displayed = c.displayed.String()
	}
	c.logger.Debug("querycache: displayed key out of date", "displayed", displayed, "active", id)
	c.metrics.ObserveDesync(c.entity)

	if e != nil {
		e.stale = true
	}
	c.startFetchLocked(key)
	return true
}

// Lookup returns whatever is cached under key, fresh or not, and records it as
// the result on display. Reading a key other than the active one this way is
// what Reconcile exists to correct.
func (c *Cache[T]) Lookup(key QueryKey) (*Result[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entries[key.String()]
	if e == nil || e.result == nil {
		return nil, false
	}
	e.lastUsed = c.now()
	c.markDisplayedLocked(e.result.Key)
	return e.result, true
}

// ApplyOptimisticPatch rewrites every cached item whose id is in ids, under
// every key. Affected results are replaced with patched copies; totals are
// kept. Keys still loading get the patch when their page arrives. It returns
// how many stored results were replaced.
func (c *Cache[T]) ApplyOptimisticPatch(ids []string, patch func(T) T) int {
	if len(ids) == 0 || patch == nil {
		return 0
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	c.mu.Lock()
	replaced := 0
	for _, e := range c.entries {
		if e.result == nil {
			continue
		}
		items, changed := patchItems(e.result.Items, want, patch)
		if !changed {
			continue
		}
		next := *e.result
		next.Items = items
		e.result = &next
		replaced++
	}
	for id := range c.inflight {
		c.deferred[id] = append(c.deferred[id], func(items []T) ([]T, bool) {
			return patchItems(items, want, patch)
		})
	}
	c.mu.Unlock()

	c.metrics.ObservePatched(c.entity, replaced)
	return replaced
}

func patchItems[T Entity](items []T, want map[string]struct{}, patch func(T) T) ([]T, bool) {
	var out []T
	for i, item := range items {
		if _, ok := want[item.EntityID()]; !ok {
			continue
		}
		if out == nil {
			out = append([]T(nil), items...)
		}
		out[i] = patch(item)
	}
	return out, out != nil
}

// Invalidate marks one key stale and clears its stored error. If it is the
// active key a refetch starts right away.
func (c *Cache[T]) Invalidate(key QueryKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.invalidateLocked(key.String())
	if key.Equal(c.activeKeyLocked()) {
		c.refreshActiveLocked()
	}
}

// InvalidateAll marks every key stale and refetches the active one.
func (c *Cache[T]) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id := range c.entries {
		c.invalidateLocked(id)
	}
	for id := range c.inflight {
		c.invalidateLocked(id)
	}
	c.refreshActiveLocked()
}

// Retry clears a terminal error on the active key and fetches it again.
func (c *Cache[T]) Retry() {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := c.activeKeyLocked()
	if e := c.entries[key.String()]; e != nil {
		e.err = nil
		e.stale = true
	}
	c.startFetchLocked(key)
}

// Fetch returns a result for key, joining an in-flight fetch or starting one
// unless a fresh result is cached. It does not change the active key.
func (c *Cache[T]) Fetch(ctx context.Context, key QueryKey) (*Result[T], error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	key = BuildKey(key.Entity, key.Filter, key.Page, key.PageSize)
	id := key.String()

	c.mu.Lock()
	if e := c.entries[id]; e != nil && c.freshLocked(e, c.now()) {
		e.lastUsed = c.now()
		res := e.result
		c.mu.Unlock()
		return res, nil
	}
	if e := c.entries[id]; e != nil {
		e.err = nil
	}
	f := c.startFetchLocked(key)
	c.mu.Unlock()

	select {
	case <-f.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[id]
	if e == nil {
		return nil, fmt.Errorf("querycache: %s evicted before read", id)
	}
	if e.err != nil {
		return nil, e.err
	}
	return e.result, nil
}

// Prefetch fetches several keys concurrently and returns the first error.
func (c *Cache[T]) Prefetch(ctx context.Context, keys ...QueryKey) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.prefetchN)
	for _, key := range keys {
		g.Go(func() error {
			_, err := c.Fetch(gctx, key)
			return err
		})
	}
	return g.Wait()
}

// Wait blocks until no fetch is in flight.
func (c *Cache[T]) Wait(ctx context.Context) error {
	for {
		c.mu.Lock()
		pending := make([]chan struct{}, 0, len(c.inflight))
		for _, f := range c.inflight {
			pending = append(pending, f.done)
		}
		c.mu.Unlock()

		if len(pending) == 0 {
			return nil
		}
		for _, done := range pending {
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Sweep evicts results unused for longer than the retention window. The active
// key and keys with a fetch in flight are kept.
func (c *Cache[T]) Sweep() int {
	c.mu.Lock()
	now := c.now()
	active := c.activeKeyLocked().String()
	evicted := 0
	for id, e := range c.entries {
		if id == active {
			continue
		}
		if _, loading := c.inflight[id]; loading {
			continue
		}
		if now.Sub(e.lastUsed) > c.retainTime {
			delete(c.entries, id)
			delete(c.epochs, id)
			evicted++
		}
	}
	c.mu.Unlock()

	if evicted > 0 {
		c.logger.Debug("querycache: evicted results", "count", evicted)
	}
	c.metrics.ObserveEvicted(c.entity, evicted)
	return evicted
}

// Run sweeps on every tick until ctx is done.
func (c *Cache[T]) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

func (c *Cache[T]) activeKeyLocked() QueryKey {
	return BuildKey(c.entity, c.filter, c.page, c.pageSize)
}

func (c *Cache[T]) freshLocked(e *entry[T], now time.Time) bool {
	return e.result != nil && !e.stale && e.err == nil && now.Sub(e.result.FetchedAt) < c.staleTime
}

func (c *Cache[T]) markDisplayedLocked(key QueryKey) {
	k := key
	c.displayed = &k
}

// syncLocked runs after every filter or pagination change: show the active
// key's fresh result if there is one, otherwise make sure it is loading.
func (c *Cache[T]) syncLocked() {
	key := c.activeKeyLocked()
	e := c.entries[key.String()]
	if e != nil && c.freshLocked(e, c.now()) {
		c.markDisplayedLocked(key)
		return
	}
	if e != nil {
		e.err = nil
	}
	c.startFetchLocked(key)
}

func (c *Cache[T]) invalidateLocked(id string) {
	c.epochs[id]++
	if e := c.entries[id]; e != nil {
		e.stale = true
		e.err = nil
	}
}

// refreshActiveLocked starts a refetch of the active key if it is not already
// loading. A load that is already running picks up the invalidation when it
// completes.
func (c *Cache[T]) refreshActiveLocked() {
	key := c.activeKeyLocked()
	if _, loading := c.inflight[key.String()]; loading {
		return
	}
	c.startFetchLocked(key)
}

func (c *Cache[T]) startFetchLocked(key QueryKey) *flight {
	id := key.String()
	if f, ok := c.inflight[id]; ok {
		return f
	}
	f := &flight{epoch: c.epochs[id], done: make(chan struct{})}
	c.inflight[id] = f
	go c.run(key, f)
	return f
}

func (c *Cache[T]) run(key QueryKey, f *flight) {
	defer close(f.done)

	id := key.String()
	ctx, span := tracer.Start(c.ctx, "querycache.fetch", trace.WithAttributes(
		attribute.String("clinic.entity", c.entity),
		attribute.String("clinic.query_key", id),
	))
	defer span.End()

	start := time.Now()
	page, err := c.fetch(ctx, key)
	if err == nil && page.Total < 0 {
		err = apierr.Validation("fetch "+c.entity, fmt.Errorf("negative total %d", page.Total))
	}
	elapsed := time.Since(start).Seconds()

	c.mu.Lock()
	delete(c.inflight, id)
	c.completeLocked(key, f, page, err)
	c.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.metrics.ObserveFetch(c.entity, apierr.Kind(err), elapsed)
		c.logger.Warn("querycache: fetch failed", "key", id, "error", err)
		return
	}
	c.metrics.ObserveFetch(c.entity, "ok", elapsed)
	c.logger.Debug("querycache: fetch completed", "key", id, "items", len(page.Items), "total", page.Total)
}

func (c *Cache[T]) completeLocked(key QueryKey, f *flight, page Page[T], err error) {
	id := key.String()
	now := c.now()
	active := key.Equal(c.activeKeyLocked())
	e := c.entries[id]
	deferred := c.deferred[id]
	delete(c.deferred, id)

	if err != nil {
		if e == nil {
			e = &entry[T]{}
			c.entries[id] = e
		}
		e.err = err
		e.stale = true
		e.lastUsed = now
		return
	}

	items := append([]T(nil), page.Items...)
	for _, apply := range deferred {
		if patched, changed := apply(items); changed {
			items = patched
		}
	}
	e = &entry[T]{
		result: &Result[T]{
			Items:     items,
			Total:     page.Total,
			Key:       key,
			FetchedAt: now,
		},
		lastUsed: now,
	}
	c.entries[id] = e

	// Invalidated while loading: keep the data but treat it as stale, and
	// load the active key once more.
	if f.epoch != c.epochs[id] {
		e.stale = true
		if active {
			c.startFetchLocked(key)
		}
	}
	if active {
		c.markDisplayedLocked(key)
	}
}
