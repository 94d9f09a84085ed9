package plan

import (
	"testing"
	"time"

	"github.com/flexprice/creditsync/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestCredits(t *testing.T) {
	assert.Equal(t, int64(200), Credits(Starter))
	assert.Equal(t, int64(500), Credits(Creator))
	assert.Equal(t, int64(1500), Credits(Scale))
	assert.Equal(t, int64(500), Credits("  CREATOR "))
	assert.Zero(t, Credits("enterprise"))
	assert.Zero(t, Credits(""))
	assert.Zero(t, Credits(Unknown))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, Starter, Normalize(" Starter"))
	assert.Equal(t, Unknown, Normalize("   "))
	assert.Equal(t, "enterprise", Normalize("Enterprise"))
}

func TestNextReset(t *testing.T) {
	tests := []struct {
		name  string
		from  time.Time
		cycle types.BillingCycle
		want  time.Time
	}{
		{
			name:  "monthly keeps day and clock",
			from:  time.Date(2024, time.March, 15, 10, 30, 0, 0, time.UTC),
			cycle: types.BillingCycleMonthly,
			want:  time.Date(2024, time.April, 15, 10, 30, 0, 0, time.UTC),
		},
		{
			name:  "monthly clamps to leap february",
			from:  time.Date(2024, time.January, 31, 0, 0, 0, 0, time.UTC),
			cycle: types.BillingCycleMonthly,
			want:  time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "monthly clamps to short february",
			from:  time.Date(2023, time.January, 31, 0, 0, 0, 0, time.UTC),
			cycle: types.BillingCycleMonthly,
			want:  time.Date(2023, time.February, 28, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "monthly rolls over the year",
			from:  time.Date(2024, time.December, 31, 8, 0, 0, 0, time.UTC),
			cycle: types.BillingCycleMonthly,
			want:  time.Date(2025, time.January, 31, 8, 0, 0, 0, time.UTC),
		},
		{
			name:  "yearly from leap day",
			from:  time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC),
			cycle: types.BillingCycleYearly,
			want:  time.Date(2025, time.February, 28, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextReset(tt.from, tt.cycle))
		})
	}
}
