package bootstrap

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/clinic-console/internal/appointments"
	"github.com/wolfman30/clinic-console/internal/backend"
	"github.com/wolfman30/clinic-console/internal/catalog"
	appconfig "github.com/wolfman30/clinic-console/internal/config"
	"github.com/wolfman30/clinic-console/internal/observability/metrics"
	"github.com/wolfman30/clinic-console/internal/patients"
	"github.com/wolfman30/clinic-console/internal/querycache"
	"github.com/wolfman30/clinic-console/internal/views"
	"github.com/wolfman30/clinic-console/pkg/logging"
)

// Metrics groups the collectors registered on one registry.
type Metrics struct {
	Cache   *metrics.CacheMetrics
	Backend *metrics.BackendMetrics
}

// BuildMetrics registers cache and backend collectors on reg. A nil reg
// yields nil collectors, which record nothing.
func BuildMetrics(reg prometheus.Registerer) Metrics {
	if reg == nil {
		return Metrics{}
	}
	return Metrics{
		Cache:   metrics.NewCacheMetrics(reg),
		Backend: metrics.NewBackendMetrics(reg),
	}
}

// BuildBackend returns the REST client for the clinic backend.
func BuildBackend(cfg *appconfig.Config, m Metrics, logger *logging.Logger) *backend.Client {
	return backend.NewClient(backend.Config{
		BaseURL: cfg.BackendBaseURL,
		Token:   cfg.BackendAPIToken,
		Metrics: m.Backend,
	}, logger)
}

// RetryPolicy maps backend retry settings onto the fetch retry policy.
func RetryPolicy(cfg *appconfig.Config) querycache.RetryPolicy {
	return querycache.RetryPolicy{
		MaxAttempts:    cfg.BackendMaxAttempts,
		BaseDelay:      cfg.BackendRetryBaseDelay,
		AttemptTimeout: cfg.BackendAttemptTimeout,
	}
}

// CacheOptions maps cache settings onto per-view cache options.
func CacheOptions(cfg *appconfig.Config, m Metrics, logger *logging.Logger) querycache.Options {
	return querycache.Options{
		PageSize:   cfg.DefaultPageSize,
		StaleTime:  cfg.CacheStaleTime,
		RetainTime: cfg.CacheRetainTime,
		Logger:     logger,
		Metrics:    m.Cache,
	}
}

// BuildDeps assembles what every collection shares.
func BuildDeps(cfg *appconfig.Config, client *backend.Client, store views.StateStore, m Metrics, logger *logging.Logger) views.Deps {
	return views.Deps{
		Backend:      client,
		Retry:        RetryPolicy(cfg),
		Cache:        CacheOptions(cfg, m, logger),
		Store:        store,
		SessionTTL:   cfg.SessionTTL,
		PrefetchNext: cfg.PrefetchNextPage,
		Logger:       logger,
	}
}

// BuildCollections returns every list view the console serves.
func BuildCollections(deps views.Deps) []views.Mountable {
	return []views.Mountable{
		appointments.New(deps),
		patients.New(deps),
		catalog.NewProducts(deps),
		catalog.NewCategories(deps),
	}
}
