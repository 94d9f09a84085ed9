package service

import (
	"fmt"

	"github.com/flexprice/creditsync/internal/domain/processor"
	"github.com/flexprice/creditsync/internal/idempotency"
	"github.com/flexprice/creditsync/internal/publisher"
	"github.com/flexprice/creditsync/internal/types"
	"github.com/samber/lo"
)

// OutcomeStatus tags the result of reconciling one event
type OutcomeStatus string

const (
	// OutcomeApplied means every write of the handler landed
	OutcomeApplied OutcomeStatus = "applied"
	// OutcomeAppliedWithWarnings means the primary write landed and at least
	// one secondary write failed
	OutcomeAppliedWithWarnings OutcomeStatus = "applied_with_warnings"
	// OutcomeFailed means the primary write did not land and the event must be redelivered
	OutcomeFailed OutcomeStatus = "failed"
	// OutcomeDuplicate means the event id was already processed
	OutcomeDuplicate OutcomeStatus = "duplicate"
	// OutcomeNotHandled means no handler exists for the event type
	OutcomeNotHandled OutcomeStatus = "not_handled"
	// OutcomeIgnored means the event was valid but had nothing to apply
	OutcomeIgnored OutcomeStatus = "ignored"
)

// IsSuccess reports whether the sender should consider the event delivered
func (s OutcomeStatus) IsSuccess() bool {
	return s != OutcomeFailed
}

// WriteFailure records a secondary write that did not land
type WriteFailure struct {
	Entity   string
	EntityID string
	Err      error
}

func (f WriteFailure) String() string {
	return fmt.Sprintf("%s %s: %v", f.Entity, f.EntityID, f.Err)
}

// Outcome is the result of reconciling one event
type Outcome struct {
	Status    OutcomeStatus
	AccountID string
	// Rows is the number of rows written
	Rows     int
	Warnings []WriteFailure
	// Reason explains ignored outcomes
	Reason string
}

func Applied(accountID string, rows int, warnings []WriteFailure) *Outcome {
	status := OutcomeApplied
	if len(warnings) > 0 {
		status = OutcomeAppliedWithWarnings
	}
	return &Outcome{
		Status:    status,
		AccountID: accountID,
		Rows:      rows,
		Warnings:  warnings,
	}
}

func Failed(accountID string) *Outcome {
	return &Outcome{Status: OutcomeFailed, AccountID: accountID}
}

func Ignored(reason string) *Outcome {
	return &Outcome{Status: OutcomeIgnored, Reason: reason}
}

func Duplicate() *Outcome {
	return &Outcome{Status: OutcomeDuplicate}
}

func NotHandled() *Outcome {
	return &Outcome{Status: OutcomeNotHandled}
}

// Completion converts the outcome into what the idempotency ledger records
func (o *Outcome) Completion() *idempotency.Completion {
	if o == nil {
		return nil
	}
	switch o.Status {
	case OutcomeFailed:
		return &idempotency.Completion{Outcome: types.ProcessingOutcomeFailed}
	case OutcomeAppliedWithWarnings:
		return &idempotency.Completion{
			Outcome:  types.ProcessingOutcomeAppliedWithWarnings,
			Warnings: lo.Map(o.Warnings, func(w WriteFailure, _ int) string { return w.String() }),
		}
	default:
		return &idempotency.Completion{Outcome: types.ProcessingOutcomeApplied}
	}
}

// ToEvent converts the outcome into its published form
func (o *Outcome) ToEvent(evt *processor.Event) *publisher.OutcomeEvent {
	return &publisher.OutcomeEvent{
		EventID:   evt.ID,
		EventType: string(evt.Type),
		Status:    string(o.Status),
		AccountID: o.AccountID,
		Rows:      o.Rows,
		Failures: lo.Map(o.Warnings, func(w WriteFailure, _ int) publisher.WriteFailureEvent {
			return publisher.WriteFailureEvent{
				Entity:   w.Entity,
				EntityID: w.EntityID,
				Error:    w.Err.Error(),
			}
		}),
		OccurredAt: evt.Created,
	}
}
