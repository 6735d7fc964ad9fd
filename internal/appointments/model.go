// Package appointments defines the appointment record, its status vocabulary
// and how appointment list views are filtered and written.
package appointments

import (
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Entity is the collection name on the backend and in routes.
const Entity = "appointments"

// Status is the lifecycle state the backend assigns to an appointment.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusNoShow    Status = "NO_SHOW"
)

// Statuses lists every known status in display order.
var Statuses = []Status{StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow}

// ErrUnknownStatus is returned for a status outside the vocabulary.
var ErrUnknownStatus = errors.New("appointments: unknown status")

// ParseStatus accepts any casing and "no-show"/"no show" spellings.
func ParseStatus(s string) (Status, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	for _, st := range Statuses {
		if string(st) == norm {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

func statusValues() []interface{} {
	out := make([]interface{}, len(Statuses))
	for i, s := range Statuses {
		out[i] = s
	}
	return out
}

// Appointment is one booked visit.
type Appointment struct {
	ID          string    `json:"id"`
	PatientID   string    `json:"patientId"`
	PatientName string    `json:"patientName,omitempty"`
	StaffID     string    `json:"staffId,omitempty"`
	StaffName   string    `json:"staffName,omitempty"`
	ServiceName string    `json:"serviceName,omitempty"`
	Status      Status    `json:"status"`
	StartsAt    time.Time `json:"startsAt"`
	EndsAt      time.Time `json:"endsAt,omitzero"`
	Notes       string    `json:"notes,omitempty"`
	IsActive    bool      `json:"isActive"`
}

func (a Appointment) EntityID() string { return a.ID }

// Validate checks the shape the backend promises for a listed appointment.
func (a Appointment) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.ID, validation.Required),
		validation.Field(&a.PatientID, validation.Required),
		validation.Field(&a.Status, validation.Required, validation.In(statusValues()...)),
		validation.Field(&a.StartsAt, validation.Required),
		validation.Field(&a.EndsAt, validation.By(notBefore(a.StartsAt))),
	)
}

func notBefore(start time.Time) validation.RuleFunc {
	return func(value interface{}) error {
		v, isNil := validation.Indirect(value)
		if isNil {
			return nil
		}
		end, _ := v.(time.Time)
		if !end.IsZero() && !start.IsZero() && end.Before(start) {
			return errors.New("must not be before the start time")
		}
		return nil
	}
}

// CreateRequest books a new appointment.
type CreateRequest struct {
	PatientID   string    `json:"patientId"`
	StaffID     string    `json:"staffId,omitempty"`
	ServiceName string    `json:"serviceName,omitempty"`
	StartsAt    time.Time `json:"startsAt"`
	EndsAt      time.Time `json:"endsAt,omitzero"`
	Notes       string    `json:"notes,omitempty"`
}

func (r *CreateRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.PatientID, validation.Required),
		validation.Field(&r.StartsAt, validation.Required),
		validation.Field(&r.EndsAt, validation.By(notBefore(r.StartsAt))),
		validation.Field(&r.Notes, validation.Length(0, 2000)),
	)
}

// UpdateRequest changes selected fields. Status transitions are checked by
// the backend; only the vocabulary is checked here.
type UpdateRequest struct {
	StaffID     *string    `json:"staffId,omitempty"`
	ServiceName *string    `json:"serviceName,omitempty"`
	Status      *Status    `json:"status,omitempty"`
	StartsAt    *time.Time `json:"startsAt,omitempty"`
	EndsAt      *time.Time `json:"endsAt,omitempty"`
	Notes       *string    `json:"notes,omitempty"`
}

func (r *UpdateRequest) Validate() error {
	var start time.Time
	if r.StartsAt != nil {
		start = *r.StartsAt
	}
	return validation.ValidateStruct(r,
		validation.Field(&r.Status, validation.NilOrNotEmpty, validation.In(statusValues()...)),
		validation.Field(&r.EndsAt, validation.By(notBefore(start))),
		validation.Field(&r.Notes, validation.Length(0, 2000)),
	)
}

// Deactivate is the optimistic form of a delete.
func Deactivate(a Appointment) Appointment {
	a.IsActive = false
	return a
}

// Reactivate is the optimistic form of a reactivation.
func Reactivate(a Appointment) Appointment {
	a.IsActive = true
	return a
}
