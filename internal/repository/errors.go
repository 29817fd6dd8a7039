package repository

import (
	"errors"

	"github.com/lib/pq"
)

// Sentinel errors surfaced when the store itself rejects a writer. Services
// translate these into the API error taxonomy.
var (
	ErrDuplicateActiveSession  = errors.New("active session already exists for class")
	ErrDuplicateRecord         = errors.New("attendance record already exists for student and session")
	ErrSessionNotActive        = errors.New("session is not active")
	ErrSummaryExists           = errors.New("summary already exists for student and class")
	ErrVersionConflict         = errors.New("summary was modified concurrently")
	ErrDuplicatePendingDispute = errors.New("a pending dispute already exists for this record")
	ErrDisputeNotPending       = errors.New("dispute is not pending")
)

// isUniqueViolation reports whether err is a PostgreSQL unique-constraint
// violation, optionally narrowed to a named constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	if pqErr.Code != "23505" {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}
