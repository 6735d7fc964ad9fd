package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"

	appconfig "github.com/wolfman30/clinic-console/internal/config"
	"github.com/wolfman30/clinic-console/internal/querycache"
	"github.com/wolfman30/clinic-console/internal/views"
	"github.com/wolfman30/clinic-console/pkg/logging"
)

func TestBuildRedisClientDisabledReturnsNil(t *testing.T) {
	if client := BuildRedisClient(context.Background(), &appconfig.Config{}, logging.New("error"), true); client != nil {
		t.Fatalf("expected nil client without REDIS_ADDR")
	}
	if client := BuildRedisClient(context.Background(), nil, logging.New("error"), true); client != nil {
		t.Fatalf("expected nil client for nil config")
	}
}

func TestBuildRedisClientVerifiesConnection(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	cfg := &appconfig.Config{RedisAddr: mr.Addr(), ViewStateTTL: time.Hour}

	client := BuildRedisClient(context.Background(), cfg, logging.New("error"), true)
	if client == nil {
		t.Fatalf("expected client for reachable redis")
	}
	t.Cleanup(func() { _ = client.Close() })

	if _, ok := BuildStateStore(client, cfg, nil).(*views.RedisStateStore); !ok {
		t.Fatalf("expected redis state store")
	}
	if err := ReadyCheck(client)(context.Background()); err != nil {
		t.Fatalf("expected ready, got %v", err)
	}

	mr.Close()
	if err := ReadyCheck(client)(context.Background()); err == nil {
		t.Fatalf("expected ready check to fail after redis stops")
	}
}

func TestBuildRedisClientUnreachableReturnsNil(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	addr := mr.Addr()
	mr.Close()

	cfg := &appconfig.Config{RedisAddr: addr}
	if client := BuildRedisClient(context.Background(), cfg, logging.New("error"), true); client != nil {
		t.Fatalf("expected nil client when ping fails")
	}
}

func TestBuildStateStoreFallsBackToMemory(t *testing.T) {
	store := BuildStateStore(nil, &appconfig.Config{}, logging.New("error"))
	if _, ok := store.(*views.MemoryStateStore); !ok {
		t.Fatalf("expected memory state store, got %T", store)
	}
	if ReadyCheck(nil) != nil {
		t.Fatalf("expected no ready check without redis")
	}
}

func TestBuildDepsMapsConfig(t *testing.T) {
	cfg := &appconfig.Config{
		BackendBaseURL:        "https://api.clinic.test",
		BackendMaxAttempts:    4,
		BackendRetryBaseDelay: 50 * time.Millisecond,
		BackendAttemptTimeout: 3 * time.Second,
		CacheStaleTime:        time.Minute,
		CacheRetainTime:       10 * time.Minute,
		DefaultPageSize:       25,
		SessionTTL:            time.Hour,
		PrefetchNextPage:      true,
	}
	m := BuildMetrics(prometheus.NewRegistry())
	if m.Cache == nil || m.Backend == nil {
		t.Fatalf("expected collectors")
	}

	deps := BuildDeps(cfg, BuildBackend(cfg, m, nil), views.NewMemoryStateStore(), m, logging.New("error"))
	want := querycache.RetryPolicy{MaxAttempts: 4, BaseDelay: 50 * time.Millisecond, AttemptTimeout: 3 * time.Second}
	if deps.Retry.MaxAttempts != want.MaxAttempts || deps.Retry.BaseDelay != want.BaseDelay || deps.Retry.AttemptTimeout != want.AttemptTimeout {
		t.Fatalf("unexpected retry policy: %+v", deps.Retry)
	}
	if deps.Cache.PageSize != 25 || deps.Cache.StaleTime != time.Minute || deps.Cache.RetainTime != 10*time.Minute {
		t.Fatalf("unexpected cache options: %+v", deps.Cache)
	}
	if deps.Cache.Metrics != m.Cache {
		t.Fatalf("expected cache metrics wired")
	}
	if deps.SessionTTL != time.Hour || !deps.PrefetchNext {
		t.Fatalf("unexpected view settings: %v %v", deps.SessionTTL, deps.PrefetchNext)
	}

	cols := BuildCollections(deps)
	got := make([]string, 0, len(cols))
	for _, c := range cols {
		got = append(got, c.Entity())
	}
	want2 := []string{"appointments", "patients", "products", "categories"}
	if len(got) != len(want2) {
		t.Fatalf("expected %v, got %v", want2, got)
	}
	for i := range want2 {
		if got[i] != want2[i] {
			t.Fatalf("expected %v, got %v", want2, got)
		}
	}
}

func TestBuildMetricsNilRegistry(t *testing.T) {
	m := BuildMetrics(nil)
	if m.Cache != nil || m.Backend != nil {
		t.Fatalf("expected nil collectors")
	}
}
