package appointments

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/clinic-console/internal/querycache"
)

// ErrConflictingFilters is returned when more than one filter is requested.
var ErrConflictingFilters = errors.New("appointments: only one filter may be active")

const dateOnly = "2006-01-02"

// FilterParams are raw filter inputs, e.g. CLI flags. At most one of status,
// date range, patient or staff may be set.
type FilterParams struct {
	Status  string
	From    string
	To      string
	Patient string
	Staff   string
}

// ParseFilter turns params into a filter. Dates are RFC 3339 timestamps or
// plain dates; a plain "to" date covers that whole day.
func ParseFilter(p FilterParams) (querycache.Filter, error) {
	set := 0
	for _, v := range []string{p.Status, p.From + p.To, p.Patient, p.Staff} {
		if strings.TrimSpace(v) != "" {
			set++
		}
	}
	if set > 1 {
		return querycache.Filter{}, ErrConflictingFilters
	}

	switch {
	case strings.TrimSpace(p.Status) != "":
		st, err := ParseStatus(p.Status)
		if err != nil {
			return querycache.Filter{}, err
		}
		return querycache.ByStatus(string(st)), nil
	case strings.TrimSpace(p.From+p.To) != "":
		from, err := parseBound(p.From, false)
		if err != nil {
			return querycache.Filter{}, fmt.Errorf("appointments: from: %w", err)
		}
		to, err := parseBound(p.To, true)
		if err != nil {
			return querycache.Filter{}, fmt.Errorf("appointments: to: %w", err)
		}
		f := querycache.ByDateRange(from, to)
		return f, f.Validate()
	case strings.TrimSpace(p.Patient) != "":
		return querycache.ByPatient(p.Patient), nil
	case strings.TrimSpace(p.Staff) != "":
		return querycache.ByStaff(p.Staff), nil
	default:
		return querycache.All(), nil
	}
}

func parseBound(s string, endOfDay bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("required with a date range")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(dateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("want RFC 3339 or %s, got %q", dateOnly, s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Second)
	}
	return t, nil
}

// ValidateFilter restricts status filters to the appointment vocabulary.
func ValidateFilter(f querycache.Filter) error {
	if f.Kind != querycache.FilterStatus {
		return nil
	}
	_, err := ParseStatus(f.Status)
	return err
}
