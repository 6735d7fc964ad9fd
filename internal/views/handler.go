package views

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/wolfman30/clinic-console/internal/apierr"
	"github.com/wolfman30/clinic-console/internal/backend"
	"github.com/wolfman30/clinic-console/internal/http/middleware"
	"github.com/wolfman30/clinic-console/internal/querycache"
	"github.com/wolfman30/clinic-console/pkg/logging"
)

const (
	maxWait         = 10 * time.Second
	prefetchTimeout = 15 * time.Second
)

// HandlerConfig wires a collection into the HTTP surface.
type HandlerConfig[T backend.Record] struct {
	Registry *Registry[T]
	Mutator  *Mutator[T]
	Logger   *logging.Logger

	// NewCreate and NewUpdate return a pointer to an empty request body.
	// A nil factory disables the route.
	NewCreate func() validation.Validatable
	NewUpdate func() validation.Validatable

	// ValidateFilter applies collection rules on top of Filter.Validate,
	// e.g. the allowed status vocabulary.
	ValidateFilter func(querycache.Filter) error

	// PrefetchNext loads the following page in the background after a
	// full page is displayed.
	PrefetchNext bool
}

// Handler exposes one collection's list view and writes.
type Handler[T backend.Record] struct {
	cfg    HandlerConfig[T]
	logger *logging.Logger
}

func NewHandler[T backend.Record](cfg HandlerConfig[T]) *Handler[T] {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Handler[T]{cfg: cfg, logger: cfg.Logger.With("entity", cfg.Registry.Entity())}
}

// Routes returns the collection routes, mounted under /api/{collection}.
func (h *Handler[T]) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Put("/filter", h.SetFilter)
	r.Put("/pagination", h.SetPagination)
	r.Post("/reconcile", h.Reconcile)
	r.Post("/retry", h.Retry)
	r.Post("/invalidate", h.Invalidate)
	r.Post("/delete", h.Delete)
	r.Post("/reactivate", h.Reactivate)
	if h.cfg.NewCreate != nil {
		r.Post("/", h.Create)
	}
	if h.cfg.NewUpdate != nil {
		r.Patch("/{id}", h.Update)
	}
	return r
}

type errorBody struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// ViewResponse is the JSON rendering of a querycache.Display.
type ViewResponse[T any] struct {
	State     querycache.State    `json:"state"`
	Key       querycache.QueryKey `json:"key"`
	Items     []T                 `json:"items"`
	Total     int                 `json:"total"`
	Stale     bool                `json:"stale"`
	FetchedAt time.Time           `json:"fetched_at,omitzero"`
	Error     *errorBody          `json:"error,omitempty"`
}

func render[T querycache.Entity](d querycache.Display[T]) ViewResponse[T] {
	resp := ViewResponse[T]{State: d.State, Key: d.Key, Items: []T{}, Stale: d.Stale}
	if d.Result != nil {
		resp.Items = append(resp.Items, d.Result.Items...)
		resp.Total = d.Result.Total
		resp.FetchedAt = d.Result.FetchedAt
	}
	if d.Err != nil {
		resp.Error = &errorBody{Kind: apierr.Kind(d.Err), Message: d.Err.Error(), Retryable: apierr.Retryable(d.Err)}
	}
	return resp
}

func (h *Handler[T]) cache(r *http.Request) (*querycache.Cache[T], string) {
	sessionID := middleware.SessionID(r.Context())
	return h.cfg.Registry.Get(r.Context(), sessionID), sessionID
}

// List renders the session's current view. With ?wait=<duration> it blocks
// until loading settles or the wait elapses.
func (h *Handler[T]) List(w http.ResponseWriter, r *http.Request) {
	c, _ := h.cache(r)
	d := c.DisplayData()

	if wait := r.URL.Query().Get("wait"); wait != "" && loading(d.State) {
		dur, err := time.ParseDuration(wait)
		if err != nil || dur <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_wait", "wait must be a positive duration")
			return
		}
		if dur > maxWait {
			dur = maxWait
		}
		ctx, cancel := context.WithTimeout(r.Context(), dur)
		_ = c.Wait(ctx)
		cancel()
		d = c.DisplayData()
	}

	if h.cfg.PrefetchNext && d.State == querycache.StateReady {
		h.prefetchNext(c, d)
	}
	writeJSON(w, http.StatusOK, render(d))
}

func loading(s querycache.State) bool {
	return s == querycache.StateEmpty || s == querycache.StatePending || s == querycache.StateRefreshing
}

func (h *Handler[T]) prefetchNext(c *querycache.Cache[T], d querycache.Display[T]) {
	key := d.Key
	if key.Page*key.PageSize >= d.Result.Total || len(d.Result.Items) < key.PageSize {
		return
	}
	next := querycache.BuildKey(key.Entity, key.Filter, key.Page+1, key.PageSize)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), prefetchTimeout)
		defer cancel()
		if err := c.Prefetch(ctx, next); err != nil {
			h.logger.Debug("views: prefetch failed", "key", next.String(), "error", err)
		}
	}()
}

// SetFilter switches the session's filter and returns the new view.
func (h *Handler[T]) SetFilter(w http.ResponseWriter, r *http.Request) {
	var f querycache.Filter
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}
	if err := h.validateFilter(f); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_filter", err.Error())
		return
	}

	c, sessionID := h.cache(r)
	if err := c.SetFilter(f); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_filter", err.Error())
		return
	}
	h.saveState(r.Context(), sessionID)
	writeJSON(w, http.StatusOK, render(c.DisplayData()))
}

func (h *Handler[T]) validateFilter(f querycache.Filter) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if h.cfg.ValidateFilter != nil {
		return h.cfg.ValidateFilter(f.Normalize())
	}
	return nil
}

type paginationRequest struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// SetPagination moves the session to another page. A zero page_size keeps the
// current size.
func (h *Handler[T]) SetPagination(w http.ResponseWriter, r *http.Request) {
	var req paginationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}

	c, sessionID := h.cache(r)
	if req.PageSize == 0 {
		req.PageSize = c.Active().PageSize
	}
	if err := c.SetPagination(req.Page, req.PageSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_pagination", err.Error())
		return
	}
	h.saveState(r.Context(), sessionID)
	writeJSON(w, http.StatusOK, render(c.DisplayData()))
}

func (h *Handler[T]) saveState(ctx context.Context, sessionID string) {
	if err := h.cfg.Registry.Save(ctx, sessionID); err != nil {
		h.logger.Warn("views: failed to save view state", "session", sessionID, "error", err)
	}
}

type reconcileResponse[T any] struct {
	Refetched bool            `json:"refetched"`
	View      ViewResponse[T] `json:"view"`
}

// Reconcile checks that the last result handed out matches the active key.
func (h *Handler[T]) Reconcile(w http.ResponseWriter, r *http.Request) {
	c, _ := h.cache(r)
	refetched := c.Reconcile()
	writeJSON(w, http.StatusOK, reconcileResponse[T]{Refetched: refetched, View: render(c.DisplayData())})
}

// Retry clears a terminal error and loads the active key again.
func (h *Handler[T]) Retry(w http.ResponseWriter, r *http.Request) {
	c, _ := h.cache(r)
	c.Retry()
	writeJSON(w, http.StatusAccepted, render(c.DisplayData()))
}

// Invalidate marks every cached key of the session stale.
func (h *Handler[T]) Invalidate(w http.ResponseWriter, r *http.Request) {
	c, _ := h.cache(r)
	c.InvalidateAll()
	writeJSON(w, http.StatusAccepted, render(c.DisplayData()))
}

type dataResponse[T any] struct {
	Data T `json:"data"`
}

// Create forwards a new record to the backend.
func (h *Handler[T]) Create(w http.ResponseWriter, r *http.Request) {
	payload, ok := decodePayload(w, r, h.cfg.NewCreate)
	if !ok {
		return
	}
	created, err := h.cfg.Mutator.Create(r.Context(), payload)
	if err != nil {
		h.writeMutationError(w, "create", err)
		return
	}
	writeJSON(w, http.StatusCreated, dataResponse[T]{Data: created})
}

// Update forwards a partial update of one record.
func (h *Handler[T]) Update(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_id", "id required")
		return
	}
	payload, ok := decodePayload(w, r, h.cfg.NewUpdate)
	if !ok {
		return
	}
	updated, err := h.cfg.Mutator.Update(r.Context(), id, payload)
	if err != nil {
		h.writeMutationError(w, "update", err)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse[T]{Data: updated})
}

func decodePayload(w http.ResponseWriter, r *http.Request, newPayload func() validation.Validatable) (validation.Validatable, bool) {
	payload := newPayload()
	if err := json.NewDecoder(r.Body).Decode(payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return nil, false
	}
	if err := payload.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", err.Error())
		return nil, false
	}
	return payload, true
}

type idsRequest struct {
	IDs []string `json:"ids"`
}

func (req idsRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.IDs, validation.Required, validation.Each(validation.Required)),
	)
}

type idsResponse struct {
	IDs   []string   `json:"ids"`
	Error *errorBody `json:"error,omitempty"`
}

// Delete soft-deletes the given ids.
func (h *Handler[T]) Delete(w http.ResponseWriter, r *http.Request) {
	h.bulk(w, r, "delete", h.cfg.Mutator.Delete)
}

// Reactivate restores the given ids.
func (h *Handler[T]) Reactivate(w http.ResponseWriter, r *http.Request) {
	h.bulk(w, r, "reactivate", h.cfg.Mutator.Reactivate)
}

func (h *Handler[T]) bulk(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, []string) ([]string, error)) {
	var req idsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_ids", err.Error())
		return
	}

	done, err := fn(r.Context(), req.IDs)
	resp := idsResponse{IDs: done}
	if resp.IDs == nil {
		resp.IDs = []string{}
	}
	if err != nil {
		h.logger.Warn("views: bulk mutation failed", "op", op, "error", err)
		resp.Error = &errorBody{Kind: apierr.Kind(err), Message: err.Error(), Retryable: apierr.Retryable(err)}
		status := apierr.HTTPStatus(err)
		if len(done) > 0 {
			status = http.StatusMultiStatus
		}
		writeJSON(w, status, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler[T]) writeMutationError(w http.ResponseWriter, op string, err error) {
	status := apierr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("views: mutation failed", "op", op, "error", err)
	} else {
		h.logger.Warn("views: mutation rejected", "op", op, "error", err)
	}
	kind := apierr.Kind(err)
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) {
		kind = "internal"
	}
	writeError(w, status, kind, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]string{"error": kind, "message": message})
}
