package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/wolfman30/clinic-console/internal/apierr"
	"github.com/wolfman30/clinic-console/internal/querycache"
)

// Record is an entity the backend can list. Validate rejects items that do
// not match the expected shape.
type Record interface {
	querycache.Entity
	Validate() error
}

// pageEnvelope is the paginated response shape:
// {"data": [...], "total": 47, "page": 1, "pageSize": 10}.
type pageEnvelope struct {
	Data     json.RawMessage `json:"data"`
	Total    *int            `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"pageSize"`
}

func (e pageEnvelope) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Data, validation.By(jsonArray)),
		validation.Field(&e.Total, validation.NotNil, validation.Min(0)),
		validation.Field(&e.Page, validation.Min(0)),
		validation.Field(&e.PageSize, validation.Min(0)),
	)
}

func jsonArray(value interface{}) error {
	raw, _ := value.(json.RawMessage)
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		return nil
	}
	return errors.New("must be an array")
}

// PageQuery renders the query string for a key.
func PageQuery(key querycache.QueryKey) url.Values {
	q := url.Values{}
	q.Set("page", strconv.Itoa(key.Page))
	q.Set("pageSize", strconv.Itoa(key.PageSize))

	f := key.Filter.Normalize()
	switch f.Kind {
	case querycache.FilterStatus:
		q.Set("status", f.Status)
	case querycache.FilterDateRange:
		q.Set("from", f.From.Format(time.RFC3339))
		q.Set("to", f.To.Format(time.RFC3339))
	case querycache.FilterPatient:
		q.Set("patientId", f.PatientID)
	case querycache.FilterStaff:
		q.Set("staffId", f.StaffID)
	}
	return q
}

// PageFetcher returns a querycache.Fetcher that lists one page of T.
// Identical requests made concurrently (same URL and token) share one call.
func PageFetcher[T Record](c *Client) querycache.Fetcher[T] {
	return func(ctx context.Context, key querycache.QueryKey) (querycache.Page[T], error) {
		body, err := c.getPage(ctx, key)
		if err != nil {
			return querycache.Page[T]{}, err
		}
		return decodePage[T](key, body)
	}
}

func (c *Client) getPage(ctx context.Context, key querycache.QueryKey) ([]byte, error) {
	req := request{
		method: http.MethodGet,
		entity: key.Entity,
		url:    c.collectionURL(key.Entity, PageQuery(key)),
	}
	// The shared call outlives any single joiner; each joiner still honours
	// its own ctx in the select below.
	ch := c.pages.DoChan(c.bearer(ctx)+" "+req.url, func() (interface{}, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.do(sctx, req)
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.metrics.ObserveShared(key.Entity)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, apierr.Network(req.op(), ctx.Err())
	}
}

func decodePage[T Record](key querycache.QueryKey, body []byte) (querycache.Page[T], error) {
	op := "list " + key.Entity

	var env pageEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return querycache.Page[T]{}, apierr.Validation(op, fmt.Errorf("decode envelope: %w", err))
	}
	if err := env.Validate(); err != nil {
		return querycache.Page[T]{}, apierr.Validation(op, err)
	}

	var items []T
	if err := json.Unmarshal(env.Data, &items); err != nil {
		return querycache.Page[T]{}, apierr.Validation(op, fmt.Errorf("decode items: %w", err))
	}
	if len(items) > key.PageSize {
		return querycache.Page[T]{}, apierr.Validation(op, fmt.Errorf("got %d items for page size %d", len(items), key.PageSize))
	}
	for i, item := range items {
		if err := item.Validate(); err != nil {
			return querycache.Page[T]{}, apierr.Validation(op, fmt.Errorf("item %d: %w", i, err))
		}
	}

	return querycache.Page[T]{Items: items, Total: *env.Total}, nil
}
