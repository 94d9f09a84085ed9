package errors

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusFromErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"verification", NewError("bad signature").Mark(ErrVerification), http.StatusBadRequest},
		{"validation", NewError("missing field").Mark(ErrValidation), http.StatusBadRequest},
		{"configuration", NewError("no secret").Mark(ErrConfiguration), http.StatusInternalServerError},
		{"not found", NewError("gone").Mark(ErrNotFound), http.StatusNotFound},
		{"in flight", NewError("busy").Mark(ErrEventInFlight), http.StatusConflict},
		{"database", NewError("down").Mark(ErrDatabase), http.StatusInternalServerError},
		{"unmarked", context.Canceled, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatusFromErr(tt.err))
		})
	}
}

func TestHTTPStatusFromErr_VerificationWinsOverOtherMarks(t *testing.T) {
	err := WithError(NewError("object has no id").Mark(ErrValidation)).
		WithHint("Invalid payload").
		Mark(ErrVerification)

	assert.True(t, IsValidation(err))
	assert.True(t, IsVerification(err))
	assert.Equal(t, http.StatusBadRequest, HTTPStatusFromErr(err))

	dbErr := WithError(NewError("claim failed").Mark(ErrDatabase)).Mark(ErrVerification)
	assert.Equal(t, http.StatusBadRequest, HTTPStatusFromErr(dbErr))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(NewError("timeout").Mark(ErrTransient)))
	assert.True(t, IsTransient(NewError("down").Mark(ErrDatabase)))
	assert.True(t, IsTransient(NewError("stale").Mark(ErrVersionConflict)))
	assert.True(t, IsTransient(WithError(context.DeadlineExceeded).Mark(ErrSystem)))
	assert.False(t, IsTransient(NewError("bad").Mark(ErrValidation)))
	assert.False(t, IsTransient(NewError("bad").Mark(ErrVerification)))
}

func TestWithReportableDetails(t *testing.T) {
	err := NewError("duplicate email").
		WithHint("Account already exists").
		WithReportableDetails(map[string]any{"email": "a@example.com"}).
		Mark(ErrAlreadyExists)

	assert.True(t, IsAlreadyExists(err))
	assert.Contains(t, err.Error(), "duplicate email")
}
