package views

import (
	"fmt"

	"github.com/wolfman30/clinic-console/internal/querycache"
)

// Activity statuses used by collections that only soft-delete.
const (
	StatusActive   = "ACTIVE"
	StatusInactive = "INACTIVE"
)

// ActivityFilter accepts All and a status filter on ACTIVE or INACTIVE.
func ActivityFilter(f querycache.Filter) error {
	switch f.Kind {
	case querycache.FilterAll:
		return nil
	case querycache.FilterStatus:
		if f.Status == StatusActive || f.Status == StatusInactive {
			return nil
		}
		return fmt.Errorf("%w: status must be %s or %s", querycache.ErrInvalidFilter, StatusActive, StatusInactive)
	default:
		return fmt.Errorf("%w: %s is not supported here", querycache.ErrInvalidFilter, f.Kind)
	}
}
