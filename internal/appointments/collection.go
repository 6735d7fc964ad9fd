package appointments

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/wolfman30/clinic-console/internal/views"
)

// Definition wires appointments into the shared list view machinery.
func Definition() views.Definition[Appointment] {
	return views.Definition[Appointment]{
		Entity:         Entity,
		Patches:        views.Patches[Appointment]{Deactivate: Deactivate, Reactivate: Reactivate},
		NewCreate:      func() validation.Validatable { return &CreateRequest{} },
		NewUpdate:      func() validation.Validatable { return &UpdateRequest{} },
		ValidateFilter: ValidateFilter,
		Columns:        []string{"ID", "STARTS", "PATIENT", "STAFF", "SERVICE", "STATUS", "ACTIVE"},
		Row:            row,
	}
}

func row(a Appointment) []string {
	patient := a.PatientName
	if patient == "" {
		patient = a.PatientID
	}
	staff := a.StaffName
	if staff == "" {
		staff = a.StaffID
	}
	return []string{
		a.ID,
		a.StartsAt.Local().Format(time.DateTime),
		patient,
		staff,
		a.ServiceName,
		string(a.Status),
		yesNo(a.IsActive),
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// New builds the appointments collection.
func New(deps views.Deps) *views.Collection[Appointment] {
	return views.NewCollection(Definition(), deps)
}
