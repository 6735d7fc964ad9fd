package querycache

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidKey is returned for keys with an empty entity or out-of-range pagination.
var ErrInvalidKey = errors.New("querycache: invalid query key")

// QueryKey identifies one cached result set.
type QueryKey struct {
	Entity   string `json:"entity"`
	Filter   Filter `json:"filter"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
}

// BuildKey returns the canonical key for the given components.
func BuildKey(entity string, filter Filter, page, pageSize int) QueryKey {
	return QueryKey{
		Entity:   strings.TrimSpace(entity),
		Filter:   filter.Normalize(),
		Page:     page,
		PageSize: pageSize,
	}
}

// Equal reports whether every component of both keys matches.
func (k QueryKey) Equal(other QueryKey) bool {
	return BuildKey(k.Entity, k.Filter, k.Page, k.PageSize) == BuildKey(other.Entity, other.Filter, other.Page, other.PageSize)
}

// String is the map key used by the cache.
func (k QueryKey) String() string {
	return fmt.Sprintf("%s|%s|%d|%d", strings.TrimSpace(k.Entity), k.Filter, k.Page, k.PageSize)
}

// Validate checks the entity name, filter payload and pagination bounds.
func (k QueryKey) Validate() error {
	if strings.TrimSpace(k.Entity) == "" {
		return fmt.Errorf("%w: entity required", ErrInvalidKey)
	}
	if k.Page < 1 {
		return fmt.Errorf("%w: page must be >= 1", ErrInvalidKey)
	}
	if k.PageSize < 1 {
		return fmt.Errorf("%w: page size must be > 0", ErrInvalidKey)
	}
	return k.Filter.Validate()
}

// Entity is anything the cache can hold. Only the id is ever inspected.
type Entity interface {
	EntityID() string
}

// Page is what a fetch returns for one key.
type Page[T Entity] struct {
	Items []T
	Total int
}

// Result is a cached page. It is never modified after being stored; refetches
// and patches install a new value.
type Result[T Entity] struct {
	Items     []T       `json:"items"`
	Total     int       `json:"total"`
	Key       QueryKey  `json:"key"`
	FetchedAt time.Time `json:"fetched_at"`
}

// State of what a view can show right now.
type State string

const (
	StateEmpty      State = "empty"
	StatePending    State = "pending"
	StateRefreshing State = "refreshing"
	StateReady      State = "ready"
	StateError      State = "error"
)

// Display is the answer to "what should the view render". Result, when set,
// always belongs to Key.
type Display[T Entity] struct {
	State  State
	Key    QueryKey
	Result *Result[T]
	Err    error
	Stale  bool
}
