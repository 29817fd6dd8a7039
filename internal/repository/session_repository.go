package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campuskit/attendance-api/internal/models"
)

const sessionColumns = `id, class_id, teacher_id, method, status, qr_token, qr_refresh_seconds,
center_lat, center_lng, radius_meters, expected_ssid, beacon_code,
late_after_minutes, enrolled_count, started_at, ended_at, created_at, updated_at`

// SessionRepository handles persistence for attendance sessions.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new active session. The partial unique index on
// (class_id) WHERE status = 'active' makes the store reject a concurrent
// second start; that rejection surfaces as ErrDuplicateActiveSession.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	now := time.Now().UTC()
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	session.Status = models.SessionActive
	if session.StartedAt.IsZero() {
		session.StartedAt = now
	}
	session.CreatedAt = now
	session.UpdatedAt = now

	query := `INSERT INTO sessions (` + sessionColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`
	_, err := r.db.ExecContext(ctx, query,
		session.ID, session.ClassID, session.TeacherID, session.Method, session.Status,
		session.QRToken, session.QRRefreshSeconds,
		session.CenterLat, session.CenterLng, session.RadiusMeters,
		session.ExpectedSSID, session.BeaconCode,
		session.LateAfterMinutes, session.EnrolledCount,
		session.StartedAt, session.EndedAt, session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "uq_sessions_active_class") {
			return ErrDuplicateActiveSession
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// FindByID returns a session by id.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		return nil, err
	}
	return &session, nil
}

// FindActiveByClass returns the active session for a class, if any.
func (r *SessionRepository) FindActiveByClass(ctx context.Context, classID string) (*models.Session, error) {
	var session models.Session
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE class_id = $1 AND status = 'active'`
	if err := r.db.GetContext(ctx, &session, query, classID); err != nil {
		return nil, err
	}
	return &session, nil
}

// RotateQR swaps the QR token. Guarded on the row itself so rotation cannot
// revive an ended session or touch a non-qr one.
func (r *SessionRepository) RotateQR(ctx context.Context, id, token string) error {
	query := `UPDATE sessions SET qr_token = $2, updated_at = $3
WHERE id = $1 AND status = 'active' AND method = 'qr'`
	res, err := r.db.ExecContext(ctx, query, id, token, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("rotate qr token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rotate qr token: %w", err)
	}
	if affected == 0 {
		return ErrSessionNotActive
	}
	return nil
}

// MarkEnded flips an active session to ended. Used by the lazy TTL expiry,
// where a read is allowed to cause this write. The status guard makes the
// operation idempotent under concurrent expiry attempts.
func (r *SessionRepository) MarkEnded(ctx context.Context, id string, endedAt time.Time) error {
	query := `UPDATE sessions SET status = 'ended', ended_at = $2, updated_at = $2
WHERE id = $1 AND status = 'active'`
	res, err := r.db.ExecContext(ctx, query, id, endedAt.UTC())
	if err != nil {
		return fmt.Errorf("mark session ended: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark session ended: %w", err)
	}
	if affected == 0 {
		return ErrSessionNotActive
	}
	return nil
}
