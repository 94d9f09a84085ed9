package postgres

import (
	"context"
	"database/sql"
	"errors"

	ierr "github.com/flexprice/creditsync/internal/errors"
	"github.com/lib/pq"
)

const (
	pqUniqueViolation     = "23505"
	pqSerializationFailed = "40001"
	pqDeadlockDetected    = "40P01"
)

// WrapError translates driver errors into the application error marks.
// entity names the table row for hints.
func WrapError(err error, entity string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ierr.WithError(err).
			WithHintf("%s not found", entity).
			Mark(ierr.ErrNotFound)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ierr.WithError(err).
			WithHintf("Timed out writing %s", entity).
			Mark(ierr.ErrTransient)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation:
			return ierr.WithError(err).
				WithHintf("%s already exists", entity).
				WithReportableDetails(map[string]any{"constraint": pqErr.Constraint}).
				Mark(ierr.ErrAlreadyExists)
		case pqSerializationFailed, pqDeadlockDetected:
			return ierr.WithError(err).
				WithHintf("Concurrent write to %s, retry", entity).
				Mark(ierr.ErrTransient)
		}
	}

	return ierr.WithError(err).
		WithHintf("Database error on %s", entity).
		Mark(ierr.ErrDatabase)
}
