// Package backend talks to the external clinic REST API. It is the only place
// that knows about URLs, headers and response envelopes.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/clinic-console/internal/apierr"
	"github.com/wolfman30/clinic-console/internal/observability/metrics"
	"github.com/wolfman30/clinic-console/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("clinic.internal.backend")

const (
	defaultTimeout  = 20 * time.Second
	maxResponseSize = 4 << 20
	maxErrorBody    = 300
)

// Config configures a Client.
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Metrics    *metrics.BackendMetrics
}

// Client is a thin JSON client for the clinic backend.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	timeout    time.Duration
	metrics    *metrics.BackendMetrics
	logger     *logging.Logger
	pages      singleflight.Group
}

// NewClient creates a backend client. cfg.Token is used when the request
// context carries no caller token.
func NewClient(cfg Config, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: httpClient,
		timeout:    timeout,
		metrics:    cfg.Metrics,
		logger:     logger,
	}
}

type ctxKey string

const tokenKey ctxKey = "clinic.backend_token"

// WithToken attaches the caller's bearer token to ctx.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey, token)
}

// TokenFromContext extracts the caller token if present.
func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenKey).(string)
	return token, ok && token != ""
}

func (c *Client) bearer(ctx context.Context) string {
	if token, ok := TokenFromContext(ctx); ok {
		return token
	}
	return c.token
}

type request struct {
	method         string
	entity         string
	url            string
	body           any
	idempotencyKey string
}

func (r request) op() string {
	return r.method + " " + r.entity
}

func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("backend: missing base url")
	}

	ctx, span := tracer.Start(ctx, "backend.request")
	defer span.End()
	span.SetAttributes(
		attribute.String("http.request.method", r.method),
		attribute.String("clinic.entity", r.entity),
	)

	var payload io.Reader
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("backend: marshal request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, r.url, payload)
	if err != nil {
		return nil, fmt.Errorf("backend: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.bearer(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if r.idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", r.idempotencyKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveRequest(r.entity, r.method, "error", time.Since(start).Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		return nil, apierr.Network(r.op(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	c.metrics.ObserveRequest(r.entity, r.method, strconv.Itoa(resp.StatusCode), time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if err != nil {
		return nil, apierr.Network(r.op(), fmt.Errorf("read response: %w", err))
	}

	if err := apierr.FromStatus(r.op(), resp.StatusCode, truncate(string(body), maxErrorBody)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("backend: request failed", "method", r.method, "entity", r.entity, "status", resp.StatusCode)
		return nil, err
	}
	return body, nil
}

func (c *Client) collectionURL(entity string, query url.Values) string {
	u := c.baseURL + "/" + url.PathEscape(entity)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) itemURL(entity, id string, suffix ...string) string {
	parts := []string{c.baseURL, url.PathEscape(entity), url.PathEscape(id)}
	parts = append(parts, suffix...)
	return strings.Join(parts, "/")
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[:n]
	}
	return s
}
