package querycache

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// FilterKind tags which filter variant is active.
type FilterKind string

const (
	FilterAll       FilterKind = "all"
	FilterStatus    FilterKind = "status"
	FilterDateRange FilterKind = "date_range"
	FilterPatient   FilterKind = "patient"
	FilterStaff     FilterKind = "staff"
)

// ErrInvalidFilter is returned when a filter's payload does not match its kind.
var ErrInvalidFilter = errors.New("querycache: invalid filter")

// Filter describes which subset of a collection a view shows. Only the fields
// belonging to Kind are meaningful; Normalize clears the rest.
type Filter struct {
	Kind      FilterKind `json:"kind"`
	Status    string     `json:"status,omitempty"`
	From      time.Time  `json:"from,omitzero"`
	To        time.Time  `json:"to,omitzero"`
	PatientID string     `json:"patient_id,omitempty"`
	StaffID   string     `json:"staff_id,omitempty"`
}

// All matches every record.
func All() Filter { return Filter{Kind: FilterAll} }

// ByStatus matches records whose status equals status.
func ByStatus(status string) Filter {
	return Filter{Kind: FilterStatus, Status: status}.Normalize()
}

// ByDateRange matches records inside [from, to].
func ByDateRange(from, to time.Time) Filter {
	return Filter{Kind: FilterDateRange, From: from, To: to}.Normalize()
}

// ByPatient matches records belonging to one patient.
func ByPatient(patientID string) Filter {
	return Filter{Kind: FilterPatient, PatientID: patientID}.Normalize()
}

// ByStaff matches records assigned to one staff member.
func ByStaff(staffID string) Filter {
	return Filter{Kind: FilterStaff, StaffID: staffID}.Normalize()
}

// Normalize returns the canonical form of f: an empty kind becomes All, fields
// that do not belong to the kind are cleared, and times are converted to UTC.
// Status values are upper-cased since backend status codes are; ids keep their
// case.
func (f Filter) Normalize() Filter {
	switch f.Kind {
	case FilterStatus:
		return Filter{Kind: FilterStatus, Status: strings.ToUpper(strings.TrimSpace(f.Status))}
	case FilterDateRange:
		return Filter{Kind: FilterDateRange, From: f.From.UTC().Round(0), To: f.To.UTC().Round(0)}
	case FilterPatient:
		return Filter{Kind: FilterPatient, PatientID: strings.TrimSpace(f.PatientID)}
	case FilterStaff:
		return Filter{Kind: FilterStaff, StaffID: strings.TrimSpace(f.StaffID)}
	case "", FilterAll:
		return Filter{Kind: FilterAll}
	default:
		return Filter{Kind: f.Kind}
	}
}

// Equal reports structural equality of the canonical forms.
func (f Filter) Equal(other Filter) bool {
	return f.Normalize() == other.Normalize()
}

// Validate checks that the payload required by the kind is present.
func (f Filter) Validate() error {
	n := f.Normalize()
	switch n.Kind {
	case FilterAll:
		return nil
	case FilterStatus:
		if n.Status == "" {
			return fmt.Errorf("%w: status required", ErrInvalidFilter)
		}
	case FilterDateRange:
		if n.From.IsZero() || n.To.IsZero() {
			return fmt.Errorf("%w: from and to required", ErrInvalidFilter)
		}
		if n.To.Before(n.From) {
			return fmt.Errorf("%w: to precedes from", ErrInvalidFilter)
		}
	case FilterPatient:
		if n.PatientID == "" {
			return fmt.Errorf("%w: patient id required", ErrInvalidFilter)
		}
	case FilterStaff:
		if n.StaffID == "" {
			return fmt.Errorf("%w: staff id required", ErrInvalidFilter)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidFilter, n.Kind)
	}
	return nil
}

// String renders the canonical form, e.g. "status=CONFIRMED".
func (f Filter) String() string {
	n := f.Normalize()
	switch n.Kind {
	case FilterStatus:
		return "status=" + n.Status
	case FilterDateRange:
		return "date_range=" + n.From.Format(time.RFC3339Nano) + ".." + n.To.Format(time.RFC3339Nano)
	case FilterPatient:
		return "patient=" + n.PatientID
	case FilterStaff:
		return "staff=" + n.StaffID
	default:
		return string(n.Kind)
	}
}
