// Package patients defines the patient record and its list view.
package patients

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/wolfman30/clinic-console/internal/views"
)

const Entity = "patients"

const dateOfBirthLayout = "2006-01-02"

// Patient is a person registered with the clinic.
type Patient struct {
	ID          string `json:"id"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	DateOfBirth string `json:"dateOfBirth,omitempty"`
	IsActive    bool   `json:"isActive"`
}

func (p Patient) EntityID() string { return p.ID }

// FullName joins first and last name.
func (p Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

func (p Patient) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.ID, validation.Required),
		validation.Field(&p.FirstName, validation.Required),
		validation.Field(&p.LastName, validation.Required),
		validation.Field(&p.DateOfBirth, validation.Date(dateOfBirthLayout)),
	)
}

// CreateRequest registers a patient. At least one contact channel is needed.
type CreateRequest struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	DateOfBirth string `json:"dateOfBirth,omitempty"`
}

func (r *CreateRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.FirstName, validation.Required, validation.Length(1, 100)),
		validation.Field(&r.LastName, validation.Required, validation.Length(1, 100)),
		validation.Field(&r.Email, validation.When(r.Phone == "", validation.Required.Error("email or phone is required")), is.EmailFormat),
		validation.Field(&r.Phone, is.E164),
		validation.Field(&r.DateOfBirth, validation.Date(dateOfBirthLayout)),
	)
}

// UpdateRequest changes contact details.
type UpdateRequest struct {
	FirstName   *string `json:"firstName,omitempty"`
	LastName    *string `json:"lastName,omitempty"`
	Email       *string `json:"email,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	DateOfBirth *string `json:"dateOfBirth,omitempty"`
}

func (r *UpdateRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.FirstName, validation.NilOrNotEmpty, validation.Length(1, 100)),
		validation.Field(&r.LastName, validation.NilOrNotEmpty, validation.Length(1, 100)),
		validation.Field(&r.Email, is.EmailFormat),
		validation.Field(&r.Phone, is.E164),
		validation.Field(&r.DateOfBirth, validation.Date(dateOfBirthLayout)),
	)
}

func setActive(active bool) func(Patient) Patient {
	return func(p Patient) Patient {
		p.IsActive = active
		return p
	}
}

// Definition wires patients into the shared list view machinery.
func Definition() views.Definition[Patient] {
	return views.Definition[Patient]{
		Entity:         Entity,
		Patches:        views.Patches[Patient]{Deactivate: setActive(false), Reactivate: setActive(true)},
		NewCreate:      func() validation.Validatable { return &CreateRequest{} },
		NewUpdate:      func() validation.Validatable { return &UpdateRequest{} },
		ValidateFilter: views.ActivityFilter,
		Columns:        []string{"ID", "NAME", "EMAIL", "PHONE", "ACTIVE"},
		Row: func(p Patient) []string {
			active := "no"
			if p.IsActive {
				active = "yes"
			}
			return []string{p.ID, p.FullName(), p.Email, p.Phone, active}
		},
	}
}

// New builds the patients collection.
func New(deps views.Deps) *views.Collection[Patient] {
	return views.NewCollection(Definition(), deps)
}
