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

const summaryColumns = `id, student_id, class_id, present_count, late_count, absent_count,
total_sessions, percentage, below_threshold, min_attendance, version, created_at, updated_at`

// SummaryRepository persists per (student, class) attendance summaries.
// Writes are compare-and-set on the version column: the store rejects a
// stale writer and the aggregator re-reads and retries.
type SummaryRepository struct {
	db *sqlx.DB
}

// NewSummaryRepository constructs the repository.
func NewSummaryRepository(db *sqlx.DB) *SummaryRepository {
	return &SummaryRepository{db: db}
}

// Get returns the summary for a (student, class) pair.
func (r *SummaryRepository) Get(ctx context.Context, studentID, classID string) (*models.AttendanceSummary, error) {
	var summary models.AttendanceSummary
	query := `SELECT ` + summaryColumns + ` FROM attendance_summaries
WHERE student_id = $1 AND class_id = $2`
	if err := r.db.GetContext(ctx, &summary, query, studentID, classID); err != nil {
		return nil, err
	}
	return &summary, nil
}

// Create inserts a first-event summary. If another writer created the pair
// first, ErrSummaryExists is returned and the caller retries as an update.
func (r *SummaryRepository) Create(ctx context.Context, summary *models.AttendanceSummary) error {
	now := time.Now().UTC()
	if summary.ID == "" {
		summary.ID = uuid.NewString()
	}
	summary.Version = 1
	summary.CreatedAt = now
	summary.UpdatedAt = now

	query := `INSERT INTO attendance_summaries (` + summaryColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (student_id, class_id) DO NOTHING
RETURNING id`
	var insertedID string
	err := r.db.QueryRowxContext(ctx, query,
		summary.ID, summary.StudentID, summary.ClassID,
		summary.PresentCount, summary.LateCount, summary.AbsentCount,
		summary.TotalSessions, summary.Percentage, summary.BelowThreshold,
		summary.MinAttendance, summary.Version, summary.CreatedAt, summary.UpdatedAt,
	).Scan(&insertedID)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrSummaryExists
		}
		return fmt.Errorf("create summary: %w", err)
	}
	return nil
}

// UpdateCAS persists new bucket values only if the version is unchanged
// since the caller read it. ErrVersionConflict means retry.
func (r *SummaryRepository) UpdateCAS(ctx context.Context, summary *models.AttendanceSummary) error {
	query := `UPDATE attendance_summaries
SET present_count = $3, late_count = $4, absent_count = $5, total_sessions = $6,
    percentage = $7, below_threshold = $8, min_attendance = $9,
    version = version + 1, updated_at = $10
WHERE id = $1 AND version = $2`
	res, err := r.db.ExecContext(ctx, query,
		summary.ID, summary.Version,
		summary.PresentCount, summary.LateCount, summary.AbsentCount, summary.TotalSessions,
		summary.Percentage, summary.BelowThreshold, summary.MinAttendance,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("update summary: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update summary: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// ListByClass returns all summaries for a class joined with student
// metadata, ordered for report output.
func (r *SummaryRepository) ListByClass(ctx context.Context, classID string) ([]models.AttendanceSummaryRow, error) {
	var rows []models.AttendanceSummaryRow
	query := `SELECT asum.id, asum.student_id, asum.class_id, asum.present_count, asum.late_count,
asum.absent_count, asum.total_sessions, asum.percentage, asum.below_threshold,
asum.min_attendance, asum.version, asum.created_at, asum.updated_at,
s.full_name AS student_name, s.roll_number
FROM attendance_summaries asum
JOIN students s ON s.id = asum.student_id
WHERE asum.class_id = $1
ORDER BY s.full_name ASC`
	if err := r.db.SelectContext(ctx, &rows, query, classID); err != nil {
		return nil, fmt.Errorf("list summaries by class: %w", err)
	}
	return rows, nil
}
