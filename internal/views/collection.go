package views

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/wolfman30/clinic-console/internal/backend"
	"github.com/wolfman30/clinic-console/internal/querycache"
	"github.com/wolfman30/clinic-console/pkg/logging"
)

// Definition describes one collection: what its records look like and how
// writes change them.
type Definition[T backend.Record] struct {
	Entity         string
	Patches        Patches[T]
	NewCreate      func() validation.Validatable
	NewUpdate      func() validation.Validatable
	ValidateFilter func(querycache.Filter) error

	// Columns and Row render records as a table for the CLI.
	Columns []string
	Row     func(T) []string
}

// Deps are shared by every collection of a process.
type Deps struct {
	Backend      *backend.Client
	Retry        querycache.RetryPolicy
	Cache        querycache.Options
	Store        StateStore
	SessionTTL   time.Duration
	PrefetchNext bool
	Logger       *logging.Logger
}

// Collection bundles the registry, mutator and HTTP handler of one entity.
type Collection[T backend.Record] struct {
	Definition Definition[T]
	Registry   *Registry[T]
	Mutator    *Mutator[T]
	Handler    *Handler[T]
}

// Mountable is what the router needs from a collection.
type Mountable interface {
	Entity() string
	Routes() chi.Router
	Run(ctx context.Context, interval time.Duration)
}

// NewCollection builds a collection that lists pages through the backend with
// retries and writes through the same client.
func NewCollection[T backend.Record](def Definition[T], deps Deps) *Collection[T] {
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	fetch := querycache.WithRetry(backend.PageFetcher[T](deps.Backend), deps.Retry)
	reg := NewRegistry(RegistryConfig{
		Entity:         def.Entity,
		Cache:          deps.Cache,
		Store:          deps.Store,
		SessionTTL:     deps.SessionTTL,
		Logger:         deps.Logger,
		ValidateFilter: def.ValidateFilter,
	}, fetch)
	mut := NewMutator(deps.Backend, reg, def.Patches, deps.Logger)
	h := NewHandler(HandlerConfig[T]{
		Registry:       reg,
		Mutator:        mut,
		Logger:         deps.Logger,
		NewCreate:      def.NewCreate,
		NewUpdate:      def.NewUpdate,
		ValidateFilter: def.ValidateFilter,
		PrefetchNext:   deps.PrefetchNext,
	})
	return &Collection[T]{Definition: def, Registry: reg, Mutator: mut, Handler: h}
}

func (c *Collection[T]) Entity() string { return c.Definition.Entity }

func (c *Collection[T]) Routes() chi.Router { return c.Handler.Routes() }

// Run sweeps the collection's sessions until ctx is done.
func (c *Collection[T]) Run(ctx context.Context, interval time.Duration) {
	c.Registry.Run(ctx, interval)
}
