package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/wolfman30/clinic-console/internal/apierr"
)

// Operation is a write against the backend.
type Operation string

const (
	OpCreate     Operation = "create"
	OpUpdate     Operation = "update"
	OpDelete     Operation = "delete"
	OpReactivate Operation = "reactivate"
)

// Mutation describes one write. ID is required for everything but create;
// Payload is required for create and update.
type Mutation struct {
	Op      Operation
	Entity  string
	ID      string
	Payload any
}

func (m Mutation) Validate() error {
	needsID := m.Op != OpCreate
	needsPayload := m.Op == OpCreate || m.Op == OpUpdate
	return validation.ValidateStruct(&m,
		validation.Field(&m.Op, validation.Required, validation.In(OpCreate, OpUpdate, OpDelete, OpReactivate)),
		validation.Field(&m.Entity, validation.Required),
		validation.Field(&m.ID, validation.When(needsID, validation.Required)),
		validation.Field(&m.Payload, validation.When(needsPayload, validation.NotNil)),
	)
}

type itemEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// Mutate performs m and, when out is non-nil, decodes the returned entity
// from the {"data": {...}} envelope.
func (c *Client) Mutate(ctx context.Context, m Mutation, out any) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("backend: invalid mutation: %w", err)
	}

	req := request{entity: m.Entity}
	switch m.Op {
	case OpCreate:
		req.method = http.MethodPost
		req.url = c.collectionURL(m.Entity, nil)
		req.body = m.Payload
		req.idempotencyKey = uuid.NewString()
	case OpUpdate:
		req.method = http.MethodPatch
		req.url = c.itemURL(m.Entity, m.ID)
		req.body = m.Payload
	case OpDelete:
		req.method = http.MethodDelete
		req.url = c.itemURL(m.Entity, m.ID)
	case OpReactivate:
		req.method = http.MethodPost
		req.url = c.itemURL(m.Entity, m.ID, "reactivate")
	}

	body, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	c.logger.Info("backend: mutation applied", "op", string(m.Op), "entity", m.Entity, "id", m.ID)

	if out == nil || len(body) == 0 {
		return nil
	}
	op := string(m.Op) + " " + m.Entity
	var env itemEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return apierr.Validation(op, fmt.Errorf("decode envelope: %w", err))
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return apierr.Validation(op, fmt.Errorf("data missing"))
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return apierr.Validation(op, fmt.Errorf("decode data: %w", err))
	}
	if v, ok := out.(validation.Validatable); ok {
		if err := v.Validate(); err != nil {
			return apierr.Validation(op, err)
		}
	}
	return nil
}
