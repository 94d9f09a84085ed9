package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	ierr "github.com/flexprice/creditsync/internal/errors"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestWrapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		mark error
	}{
		{"no rows", sql.ErrNoRows, ierr.ErrNotFound},
		{"wrapped no rows", fmt.Errorf("get account: %w", sql.ErrNoRows), ierr.ErrNotFound},
		{"deadline", context.DeadlineExceeded, ierr.ErrTransient},
		{"canceled", context.Canceled, ierr.ErrTransient},
		{"unique violation", &pq.Error{Code: pqUniqueViolation, Constraint: "accounts_email_key"}, ierr.ErrAlreadyExists},
		{"serialization failure", &pq.Error{Code: pqSerializationFailed}, ierr.ErrTransient},
		{"deadlock", &pq.Error{Code: pqDeadlockDetected}, ierr.ErrTransient},
		{"other pq error", &pq.Error{Code: "42P01"}, ierr.ErrDatabase},
		{"driver error", sql.ErrConnDone, ierr.ErrDatabase},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WrapError(tt.err, "account")
			assert.Error(t, err)
			assert.True(t, ierr.Is(err, tt.mark))
		})
	}
}

func TestWrapError_Nil(t *testing.T) {
	assert.NoError(t, WrapError(nil, "account"))
}

func TestWrapError_DatabaseErrorsAreRetryable(t *testing.T) {
	assert.True(t, ierr.IsTransient(WrapError(sql.ErrConnDone, "processed event")))
	assert.False(t, ierr.IsTransient(WrapError(sql.ErrNoRows, "processed event")))
}
