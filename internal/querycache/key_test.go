package querycache

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestBuildKey_IsPure(t *testing.T) {
	base := BuildKey("appointments", ByStatus("CONFIRMED"), 2, 10)
	again := BuildKey("appointments", ByStatus("CONFIRMED"), 2, 10)
	if diff := cmp.Diff(base, again); diff != "" {
		t.Fatalf("equal inputs produced different keys (-first +second):\n%s", diff)
	}
	assert.True(t, base.Equal(again))
	assert.Equal(t, base.String(), again.String())

	variants := map[string]QueryKey{
		"entity":    BuildKey("patients", ByStatus("CONFIRMED"), 2, 10),
		"filter":    BuildKey("appointments", ByStatus("PENDING"), 2, 10),
		"kind":      BuildKey("appointments", All(), 2, 10),
		"page":      BuildKey("appointments", ByStatus("CONFIRMED"), 3, 10),
		"page size": BuildKey("appointments", ByStatus("CONFIRMED"), 2, 20),
	}
	for name, k := range variants {
		t.Run(name, func(t *testing.T) {
			assert.False(t, base.Equal(k))
			assert.NotEqual(t, base.String(), k.String())
		})
	}
}

func TestBuildKey_NormalizesFilter(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	from := time.Date(2025, 3, 10, 9, 0, 0, 0, ny)
	to := from.Add(7 * 24 * time.Hour)

	a := BuildKey("appointments", ByDateRange(from, to), 1, 10)
	b := BuildKey("appointments", Filter{Kind: FilterDateRange, From: from.UTC(), To: to.UTC(), Status: "ignored"}, 1, 10)
	assert.True(t, a.Equal(b))
	assert.Equal(t, a, b)

	assert.Equal(t, All(), Filter{}.Normalize())
	assert.Equal(t, "appointments|all|1|10", BuildKey("appointments", Filter{}, 1, 10).String())
	assert.Equal(t, "appointments|status=CONFIRMED|1|10", BuildKey(" appointments ", ByStatus(" confirmed"), 1, 10).String())
}

func TestBuildKey_OnlyStatusIsCaseFolded(t *testing.T) {
	upper := BuildKey("appointments", ByStatus("PENDING"), 1, 10)
	for _, s := range []string{"pending", "Pending", " pending\t"} {
		assert.True(t, upper.Equal(BuildKey("appointments", ByStatus(s), 1, 10)), "status %q", s)
	}

	assert.False(t, BuildKey("appointments", ByStaff("dr-lee"), 1, 10).Equal(BuildKey("appointments", ByStaff("DR-LEE"), 1, 10)))
	assert.False(t, BuildKey("appointments", ByPatient("p-1a"), 1, 10).Equal(BuildKey("appointments", ByPatient("P-1A"), 1, 10)))
	assert.False(t, upper.Equal(BuildKey("Appointments", ByStatus("PENDING"), 1, 10)))
}

func TestQueryKey_Validate(t *testing.T) {
	assert.NoError(t, BuildKey("appointments", All(), 1, 10).Validate())
	assert.ErrorIs(t, BuildKey("", All(), 1, 10).Validate(), ErrInvalidKey)
	assert.ErrorIs(t, BuildKey("appointments", All(), 0, 10).Validate(), ErrInvalidKey)
	assert.ErrorIs(t, BuildKey("appointments", All(), 1, 0).Validate(), ErrInvalidKey)
	assert.ErrorIs(t, BuildKey("appointments", ByPatient(""), 1, 10).Validate(), ErrInvalidFilter)
}

func TestFilter_Validate(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		filter  Filter
		wantErr bool
	}{
		{"all", All(), false},
		{"zero value is all", Filter{}, false},
		{"status", ByStatus("CONFIRMED"), false},
		{"status missing", Filter{Kind: FilterStatus}, true},
		{"date range", ByDateRange(now, now.Add(time.Hour)), false},
		{"date range reversed", ByDateRange(now, now.Add(-time.Hour)), true},
		{"date range open", Filter{Kind: FilterDateRange, From: now}, true},
		{"patient", ByPatient("p-1"), false},
		{"staff", ByStaff("s-1"), false},
		{"staff missing", Filter{Kind: FilterStaff, StaffID: "  "}, true},
		{"unknown kind", Filter{Kind: "room"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.filter.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidFilter)
				return
			}
			assert.NoError(t, err)
		})
	}
}
