package types

import (
	"strings"

	ierr "github.com/flexprice/creditsync/internal/errors"
)

// SubscriptionStatus is the reconciled status of an account's subscription
type SubscriptionStatus string

const (
	SubscriptionStatusUnset    SubscriptionStatus = ""
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

func (s SubscriptionStatus) String() string {
	return string(s)
}

func (s SubscriptionStatus) Validate() error {
	switch s {
	case SubscriptionStatusUnset,
		SubscriptionStatusActive,
		SubscriptionStatusTrialing,
		SubscriptionStatusPastDue,
		SubscriptionStatusCanceled:
		return nil
	}
	return ierr.NewError("invalid subscription status").
		WithHintf("Subscription status %q is not supported", string(s)).
		Mark(ierr.ErrValidation)
}

// IsTerminal reports whether no further transitions are accepted
func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionStatusCanceled
}

// CanTransitionTo reports whether one subscription may move from s to next.
// Staying in place is allowed and canceled accepts nothing. From unset every
// state is reachable and any live status may cancel. Otherwise only these
// moves are accepted:
//
//	trialing -> active | past_due
//	active   -> past_due
//	past_due -> active | trialing
func (s SubscriptionStatus) CanTransitionTo(next SubscriptionStatus) bool {
	switch {
	case s.IsTerminal(), next == SubscriptionStatusUnset:
		return false
	case s == next, s == SubscriptionStatusUnset, next == SubscriptionStatusCanceled:
		return true
	}

	switch s {
	case SubscriptionStatusTrialing:
		return next == SubscriptionStatusActive || next == SubscriptionStatusPastDue
	case SubscriptionStatusActive:
		return next == SubscriptionStatusPastDue
	case SubscriptionStatusPastDue:
		return next == SubscriptionStatusActive || next == SubscriptionStatusTrialing
	}
	return false
}

// SubscriptionStatusFromProcessor maps a processor subscription status onto the
// reconciled state machine.
func SubscriptionStatusFromProcessor(status string) SubscriptionStatus {
	switch strings.ToLower(status) {
	case "active":
		return SubscriptionStatusActive
	case "trialing":
		return SubscriptionStatusTrialing
	case "past_due", "unpaid", "incomplete", "paused":
		return SubscriptionStatusPastDue
	case "canceled", "incomplete_expired":
		return SubscriptionStatusCanceled
	default:
		return SubscriptionStatusUnset
	}
}

// BillingCycle is the recurrence of a plan
type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleYearly  BillingCycle = "yearly"
)

// ParseBillingCycle normalises a free-form billing value. Anything that is not
// yearly is treated as monthly.
func ParseBillingCycle(v string) BillingCycle {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yearly", "year", "annual", "annually":
		return BillingCycleYearly
	default:
		return BillingCycleMonthly
	}
}

// CheckoutSessionStatus is the lifecycle of a checkout session row
type CheckoutSessionStatus string

const (
	CheckoutSessionStatusPending   CheckoutSessionStatus = "pending"
	CheckoutSessionStatusCompleted CheckoutSessionStatus = "completed"
)
