package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wolfman30/clinic-console/internal/backend"
	httpmiddleware "github.com/wolfman30/clinic-console/internal/http/middleware"
	"github.com/wolfman30/clinic-console/internal/observability/metrics"
	"github.com/wolfman30/clinic-console/internal/patients"
	"github.com/wolfman30/clinic-console/internal/querycache"
	"github.com/wolfman30/clinic-console/internal/views"
	"github.com/wolfman30/clinic-console/pkg/logging"
)

type fakeBackend struct {
	server    *httptest.Server
	lastToken atomic.Value
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{}
	fb.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fb.lastToken.Store(r.Header.Get("Authorization"))
		if r.Method != http.MethodGet || r.URL.Path != "/patients" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"id": "p1", "firstName": "Ada", "lastName": "Lovelace", "isActive": true},
			},
			"total":    1,
			"page":     1,
			"pageSize": 10,
		})
	}))
	t.Cleanup(fb.server.Close)
	return fb
}

func newTestRouter(t *testing.T, ready func(context.Context) error) (http.Handler, *fakeBackend) {
	t.Helper()

	logger := logging.Discard()
	fb := newFakeBackend(t)
	reg := prometheus.NewRegistry()
	client := backend.NewClient(backend.Config{
		BaseURL: fb.server.URL,
		Metrics: metrics.NewBackendMetrics(reg),
	}, logger)
	col := patients.New(views.Deps{
		Backend: client,
		Retry:   querycache.RetryPolicy{MaxAttempts: 1},
		Logger:  logger,
	})
	t.Cleanup(col.Registry.Close)

	cfg := &Config{
		Logger:             logger,
		Collections:        []views.Mountable{col},
		MetricsHandler:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		CORSAllowedOrigins: []string{"https://admin.clinic.test"},
		Ready:              ready,
	}
	return New(cfg), fb
}

func TestRouterHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}

	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
}

func TestRouterHealthDegraded(t *testing.T) {
	router, _ := newTestRouter(t, func(context.Context) error { return errors.New("redis down") })

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rr.Code)
	}
}

func TestRouterListsCollections(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/collections", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp map[string][]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp["collections"]) != 1 || resp["collections"][0] != "patients" {
		t.Fatalf("unexpected collections: %v", resp["collections"])
	}
}

func TestRouterMountsCollectionAndForwardsToken(t *testing.T) {
	router, fb := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/patients?wait=2s", nil)
	req.Header.Set(httpmiddleware.SessionHeader, "desk-7")
	req.Header.Set("Authorization", "Bearer staff-token")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get(httpmiddleware.SessionHeader); got != "desk-7" {
		t.Fatalf("expected session echoed, got %q", got)
	}

	var view views.ViewResponse[patients.Patient]
	if err := json.NewDecoder(rr.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.State != querycache.StateReady {
		t.Fatalf("expected ready view, got %s", view.State)
	}
	if len(view.Items) != 1 || view.Items[0].FullName() != "Ada Lovelace" {
		t.Fatalf("unexpected items: %+v", view.Items)
	}
	if got, _ := fb.lastToken.Load().(string); got != "Bearer staff-token" {
		t.Fatalf("expected caller token forwarded, got %q", got)
	}
}

func TestRouterMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/patients?wait=2s", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if body := rr.Body.String(); !strings.Contains(body, "clinic_backend_request_total") {
		t.Fatalf("expected backend request metric, got:\n%s", body)
	}
}

func TestRouterCORSPreflight(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/patients", nil)
	req.Header.Set("Origin", "https://admin.clinic.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://admin.clinic.test" {
		t.Fatalf("expected origin allowed, got %q", got)
	}
}
