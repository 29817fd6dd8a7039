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

const recordColumns = `id, session_id, class_id, student_id, status, method, face_verified,
teacher_approved, auto_absent, device_id, lat, lng, joined_at, marked_at, created_at, updated_at`

// AttendanceRepository handles persistence for attendance records.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// Insert writes a new attendance record. The (session_id, student_id)
// unique key means a concurrent duplicate mark loses atomically at insert
// time; the loser gets ErrDuplicateRecord instead of a second row.
func (r *AttendanceRepository) Insert(ctx context.Context, record *models.AttendanceRecord) error {
	now := time.Now().UTC()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.JoinedAt.IsZero() {
		record.JoinedAt = now
	}
	if record.MarkedAt.IsZero() {
		record.MarkedAt = now
	}
	record.CreatedAt = now
	record.UpdatedAt = now

	query := `INSERT INTO attendance_records (` + recordColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (session_id, student_id) DO NOTHING
RETURNING id`
	var insertedID string
	err := r.db.QueryRowxContext(ctx, query,
		record.ID, record.SessionID, record.ClassID, record.StudentID,
		record.Status, record.Method, record.FaceVerified,
		record.TeacherApproved, record.AutoAbsent,
		record.DeviceID, record.Lat, record.Lng,
		record.JoinedAt, record.MarkedAt, record.CreatedAt, record.UpdatedAt,
	).Scan(&insertedID)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrDuplicateRecord
		}
		return fmt.Errorf("insert attendance record: %w", err)
	}
	return nil
}

// ReplaceFaceFailed retries a face_failed record in place. The status guard
// keeps the replacement from clobbering a record another writer already
// resolved; that case surfaces as ErrDuplicateRecord.
func (r *AttendanceRepository) ReplaceFaceFailed(ctx context.Context, record *models.AttendanceRecord) error {
	record.UpdatedAt = time.Now().UTC()
	query := `UPDATE attendance_records
SET status = $2, method = $3, face_verified = $4, teacher_approved = $5,
    device_id = $6, lat = $7, lng = $8, marked_at = $9, updated_at = $10
WHERE id = $1 AND status = 'face_failed'`
	res, err := r.db.ExecContext(ctx, query,
		record.ID, record.Status, record.Method, record.FaceVerified, record.TeacherApproved,
		record.DeviceID, record.Lat, record.Lng, record.MarkedAt, record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("replace face_failed record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("replace face_failed record: %w", err)
	}
	if affected == 0 {
		return ErrDuplicateRecord
	}
	return nil
}

// FindByID returns a record by id.
func (r *AttendanceRepository) FindByID(ctx context.Context, id string) (*models.AttendanceRecord, error) {
	var record models.AttendanceRecord
	query := `SELECT ` + recordColumns + ` FROM attendance_records WHERE id = $1`
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		return nil, err
	}
	return &record, nil
}

// FindBySessionStudent returns the record for a (session, student) pair.
func (r *AttendanceRepository) FindBySessionStudent(ctx context.Context, sessionID, studentID string) (*models.AttendanceRecord, error) {
	var record models.AttendanceRecord
	query := `SELECT ` + recordColumns + ` FROM attendance_records
WHERE session_id = $1 AND student_id = $2`
	if err := r.db.GetContext(ctx, &record, query, sessionID, studentID); err != nil {
		return nil, err
	}
	return &record, nil
}

// FindByDevice returns records in a session submitted from a device.
func (r *AttendanceRepository) FindByDevice(ctx context.Context, sessionID, deviceID string) ([]models.AttendanceRecord, error) {
	var records []models.AttendanceRecord
	query := `SELECT ` + recordColumns + ` FROM attendance_records
WHERE session_id = $1 AND device_id = $2
ORDER BY created_at ASC`
	if err := r.db.SelectContext(ctx, &records, query, sessionID, deviceID); err != nil {
		return nil, fmt.Errorf("find records by device: %w", err)
	}
	return records, nil
}

// ListWithCoordinates returns accepted records in a session that carry GPS
// coordinates, excluding one record id. Feeds the advisory proximity check.
func (r *AttendanceRepository) ListWithCoordinates(ctx context.Context, sessionID, excludeID string) ([]models.AttendanceRecord, error) {
	var records []models.AttendanceRecord
	query := `SELECT ` + recordColumns + ` FROM attendance_records
WHERE session_id = $1 AND id <> $2 AND lat IS NOT NULL AND lng IS NOT NULL
AND status IN ('present', 'late')`
	if err := r.db.SelectContext(ctx, &records, query, sessionID, excludeID); err != nil {
		return nil, fmt.Errorf("list records with coordinates: %w", err)
	}
	return records, nil
}

// ListBySession returns the session roll joined with student metadata.
func (r *AttendanceRepository) ListBySession(ctx context.Context, sessionID string) ([]models.AttendanceRecordDetail, error) {
	var rows []models.AttendanceRecordDetail
	query := `SELECT ar.id, ar.session_id, ar.class_id, ar.student_id, ar.status, ar.method,
ar.face_verified, ar.teacher_approved, ar.auto_absent, ar.device_id, ar.lat, ar.lng,
ar.joined_at, ar.marked_at, ar.created_at, ar.updated_at,
s.full_name AS student_name, s.roll_number
FROM attendance_records ar
JOIN students s ON s.id = ar.student_id
WHERE ar.session_id = $1
ORDER BY s.full_name ASC`
	if err := r.db.SelectContext(ctx, &rows, query, sessionID); err != nil {
		return nil, fmt.Errorf("list session records: %w", err)
	}
	return rows, nil
}

// UpdateResolution reclassifies a record during approval or dispute
// resolution. AutoAbsent is cleared because the new status is a human
// decision, not a sweep artifact.
func (r *AttendanceRepository) UpdateResolution(ctx context.Context, id string, status models.AttendanceStatus, approved bool) error {
	query := `UPDATE attendance_records
SET status = $2, teacher_approved = $3, auto_absent = FALSE, updated_at = $4
WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, status, approved, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update record resolution: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update record resolution: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SweepRef identifies a record touched by the session-end sweep.
type SweepRef struct {
	RecordID  string `db:"id"`
	StudentID string `db:"student_id"`
}

// SweepOutcome reports what the sweep batch changed.
type SweepOutcome struct {
	Converted   []SweepRef
	Synthesized []SweepRef
	Counts      map[models.AttendanceStatus]int
}

// Sweep closes a session in one transaction: flips the session to ended,
// converts unresolved late records to absent, and synthesizes absent
// records for enrolled students with no record at all. The batch commits
// or rolls back as a whole; aggregator updates happen afterwards, outside
// the transaction, and are the caller's responsibility.
func (r *AttendanceRepository) Sweep(ctx context.Context, session *models.Session, endedAt time.Time) (*SweepOutcome, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin sweep: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET status = 'ended', ended_at = $2, updated_at = $2 WHERE id = $1 AND status = 'active'`,
		session.ID, endedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("sweep end session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("sweep end session: %w", err)
	}
	if affected == 0 {
		return nil, ErrSessionNotActive
	}

	outcome := &SweepOutcome{Counts: map[models.AttendanceStatus]int{}}

	err = tx.SelectContext(ctx, &outcome.Converted,
		`UPDATE attendance_records
SET status = 'absent', auto_absent = TRUE, updated_at = $2
WHERE session_id = $1 AND status = 'late' AND teacher_approved IS NULL
RETURNING id, student_id`,
		session.ID, endedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("sweep convert late records: %w", err)
	}

	var unmarked []string
	err = tx.SelectContext(ctx, &unmarked,
		`SELECT e.student_id FROM enrollments e
WHERE e.class_id = $1 AND e.status = 'active'
AND NOT EXISTS (
    SELECT 1 FROM attendance_records ar
    WHERE ar.session_id = $2 AND ar.student_id = e.student_id
)`,
		session.ClassID, session.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("sweep find unmarked students: %w", err)
	}

	approvedFalse := false
	for _, studentID := range unmarked {
		record := models.AttendanceRecord{
			ID:              uuid.NewString(),
			SessionID:       session.ID,
			ClassID:         session.ClassID,
			StudentID:       studentID,
			Status:          models.StatusAbsent,
			Method:          session.Method,
			TeacherApproved: &approvedFalse,
			AutoAbsent:      true,
			JoinedAt:        endedAt.UTC(),
			MarkedAt:        endedAt.UTC(),
			CreatedAt:       endedAt.UTC(),
			UpdatedAt:       endedAt.UTC(),
		}
		var insertedID string
		err := tx.QueryRowxContext(ctx,
			`INSERT INTO attendance_records (`+recordColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (session_id, student_id) DO NOTHING
RETURNING id`,
			record.ID, record.SessionID, record.ClassID, record.StudentID,
			record.Status, record.Method, record.FaceVerified,
			record.TeacherApproved, record.AutoAbsent,
			record.DeviceID, record.Lat, record.Lng,
			record.JoinedAt, record.MarkedAt, record.CreatedAt, record.UpdatedAt,
		).Scan(&insertedID)
		if err == sql.ErrNoRows {
			// Lost a race with a concurrent mark; that record stands.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("sweep synthesize absent record: %w", err)
		}
		outcome.Synthesized = append(outcome.Synthesized, SweepRef{RecordID: insertedID, StudentID: studentID})
	}

	statusCounts := []struct {
		Status models.AttendanceStatus `db:"status"`
		Count  int                     `db:"cnt"`
	}{}
	err = tx.SelectContext(ctx, &statusCounts,
		`SELECT status, COUNT(*) AS cnt FROM attendance_records WHERE session_id = $1 GROUP BY status`,
		session.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("sweep count records: %w", err)
	}
	for _, row := range statusCounts {
		outcome.Counts[row.Status] = row.Count
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit sweep: %w", err)
	}
	committed = true
	return outcome, nil
}
