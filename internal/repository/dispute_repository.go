package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campuskit/attendance-api/internal/models"
)

const disputeColumns = `id, attendance_id, student_id, class_id, original_status, reason, status, teacher_comment, created_at, updated_at`

// DisputeRepository persists attendance disputes.
type DisputeRepository struct {
	db *sqlx.DB
}

// NewDisputeRepository constructs the repository.
func NewDisputeRepository(db *sqlx.DB) *DisputeRepository {
	return &DisputeRepository{db: db}
}

// Create inserts a pending dispute. The partial unique index on
// (attendance_id) WHERE status = 'pending' rejects a duplicate pending
// dispute at the store, closing the check-then-act window.
func (r *DisputeRepository) Create(ctx context.Context, dispute *models.Dispute) error {
	now := time.Now().UTC()
	if dispute.ID == "" {
		dispute.ID = uuid.NewString()
	}
	dispute.Status = models.DisputePending
	dispute.CreatedAt = now
	dispute.UpdatedAt = now

	query := `INSERT INTO disputes (` + disputeColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.db.ExecContext(ctx, query,
		dispute.ID, dispute.AttendanceID, dispute.StudentID, dispute.ClassID,
		dispute.OriginalStatus, dispute.Reason, dispute.Status, dispute.TeacherComment,
		dispute.CreatedAt, dispute.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "uq_disputes_pending_attendance") {
			return ErrDuplicatePendingDispute
		}
		return fmt.Errorf("create dispute: %w", err)
	}
	return nil
}

// FindByID returns a dispute by id.
func (r *DisputeRepository) FindByID(ctx context.Context, id string) (*models.Dispute, error) {
	var dispute models.Dispute
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE id = $1`
	if err := r.db.GetContext(ctx, &dispute, query, id); err != nil {
		return nil, err
	}
	return &dispute, nil
}

// List returns disputes scoped by class and optional status.
func (r *DisputeRepository) List(ctx context.Context, classID string, status *models.DisputeStatus) ([]models.Dispute, error) {
	var disputes []models.Dispute
	query := `SELECT ` + disputeColumns + ` FROM disputes
WHERE class_id = $1 AND ($2::text IS NULL OR status = $2)
ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &disputes, query, classID, status); err != nil {
		return nil, fmt.Errorf("list disputes: %w", err)
	}
	return disputes, nil
}

// Resolve moves a pending dispute to approved/rejected. A dispute that is
// no longer pending yields ErrDisputeNotPending, so two teachers cannot
// both resolve it.
func (r *DisputeRepository) Resolve(ctx context.Context, id string, status models.DisputeStatus, comment *string) error {
	query := `UPDATE disputes SET status = $2, teacher_comment = $3, updated_at = $4
WHERE id = $1 AND status = 'pending'`
	res, err := r.db.ExecContext(ctx, query, id, status, comment, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("resolve dispute: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve dispute: %w", err)
	}
	if affected == 0 {
		return ErrDisputeNotPending
	}
	return nil
}

// HasPending reports whether an attendance record already has a pending
// dispute. Advisory pre-check only; Create is the authoritative gate.
func (r *DisputeRepository) HasPending(ctx context.Context, attendanceID string) (bool, error) {
	var id string
	query := `SELECT id FROM disputes WHERE attendance_id = $1 AND status = 'pending'`
	err := r.db.GetContext(ctx, &id, query, attendanceID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check pending dispute: %w", err)
	}
	return true, nil
}
