package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/campuskit/attendance-api/internal/models"
)

const fraudColumns = `id, type, session_id, suspected_student_ids, status, auto_action, notes, created_at, updated_at`

// FraudFlagRepository persists fraud flags awaiting human review.
type FraudFlagRepository struct {
	db *sqlx.DB
}

// NewFraudFlagRepository constructs the repository.
func NewFraudFlagRepository(db *sqlx.DB) *FraudFlagRepository {
	return &FraudFlagRepository{db: db}
}

// Create inserts a new pending flag.
func (r *FraudFlagRepository) Create(ctx context.Context, flag *models.FraudFlag) error {
	now := time.Now().UTC()
	if flag.ID == "" {
		flag.ID = uuid.NewString()
	}
	if flag.Status == "" {
		flag.Status = models.FraudPending
	}
	flag.CreatedAt = now
	flag.UpdatedAt = now

	query := `INSERT INTO fraud_flags (` + fraudColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.ExecContext(ctx, query,
		flag.ID, flag.Type, flag.SessionID, pq.Array(flag.SuspectedStudentIDs),
		flag.Status, flag.AutoAction, flag.Notes, flag.CreatedAt, flag.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create fraud flag: %w", err)
	}
	return nil
}

// List returns flags for a session, optionally filtered by status.
func (r *FraudFlagRepository) List(ctx context.Context, sessionID string, status *models.FraudFlagStatus) ([]models.FraudFlag, error) {
	var flags []models.FraudFlag
	query := `SELECT ` + fraudColumns + ` FROM fraud_flags
WHERE session_id = $1 AND ($2::text IS NULL OR status = $2)
ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &flags, query, sessionID, status); err != nil {
		return nil, fmt.Errorf("list fraud flags: %w", err)
	}
	return flags, nil
}

// Review transitions a pending flag to its terminal reviewed/dismissed
// state. A flag already reviewed stays untouched.
func (r *FraudFlagRepository) Review(ctx context.Context, id string, status models.FraudFlagStatus, notes *string) error {
	query := `UPDATE fraud_flags SET status = $2, notes = COALESCE($3, notes), updated_at = $4
WHERE id = $1 AND status = 'pending'`
	res, err := r.db.ExecContext(ctx, query, id, status, notes, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("review fraud flag: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("review fraud flag: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
