// Package plan is the static catalog of credit plans.
package plan

import (
	"strings"
	"time"

	"github.com/flexprice/creditsync/internal/types"
)

const (
	Starter = "starter"
	Creator = "creator"
	Scale   = "scale"
	Unknown = "unknown"
)

var credits = map[string]int64{
	Starter: 200,
	Creator: 500,
	Scale:   1500,
}

// Credits returns the per-period credit allocation of a plan. Lookups are
// case-insensitive and unknown plans allocate nothing.
func Credits(planID string) int64 {
	return credits[Normalize(planID)]
}

// Normalize lowercases and trims a plan id, falling back to Unknown
func Normalize(planID string) string {
	p := strings.ToLower(strings.TrimSpace(planID))
	if p == "" {
		return Unknown
	}
	return p
}

// NextReset returns when a balance reset at from should reset again: one
// calendar year ahead for yearly plans, one calendar month ahead otherwise.
// The day of month is kept, clamped to the last day of a shorter month
// (Jan 31 -> Feb 28/29).
func NextReset(from time.Time, cycle types.BillingCycle) time.Time {
	months := 1
	if cycle == types.BillingCycleYearly {
		months = 12
	}
	return addMonthsClamped(from, months)
}

func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	firstOfTarget := time.Date(year, month+time.Month(months), 1, hour, min, sec, t.Nanosecond(), t.Location())
	lastDay := firstOfTarget.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), day, hour, min, sec, t.Nanosecond(), t.Location())
}
