package router

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpmiddleware "github.com/wolfman30/clinic-console/internal/http/middleware"
	"github.com/wolfman30/clinic-console/internal/views"
	"github.com/wolfman30/clinic-console/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Collections        []views.Mountable
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// Ready reports whether shared dependencies (the view state store) are
	// reachable. Nil means always ready.
	Ready func(ctx context.Context) error
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.Session)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Group(func(public chi.Router) {
		public.Get("/health", health(cfg.Ready))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(httpmiddleware.ForwardToken)
		api.Get("/collections", listCollections(cfg.Collections))
		for _, c := range cfg.Collections {
			api.Mount("/"+c.Entity(), c.Routes())
		}
	})

	return r
}

func health(ready func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "degraded", "error": err.Error()})
				return
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

func listCollections(cols []views.Mountable) http.HandlerFunc {
	names := make([]string, 0, len(cols))
	for _, c := range cols {
		names = append(names, c.Entity())
	}
	sort.Strings(names)
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string][]string{"collections": names})
	}
}
