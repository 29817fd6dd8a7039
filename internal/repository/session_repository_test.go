package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/campuskit/attendance-api/internal/models"
)

func newSessionRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestSessionRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newSessionRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectExec("INSERT INTO sessions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	session := &models.Session{ClassID: "class-1", TeacherID: "teacher-1", Method: models.MethodQR}
	require.NoError(t, repo.Create(context.Background(), session))
	require.NotEmpty(t, session.ID)
	require.Equal(t, models.SessionActive, session.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryCreateDuplicateActive(t *testing.T) {
	db, mock, cleanup := newSessionRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectExec("INSERT INTO sessions").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "uq_sessions_active_class"})

	err := repo.Create(context.Background(), &models.Session{ClassID: "class-1", TeacherID: "teacher-1", Method: models.MethodQR})
	require.ErrorIs(t, err, ErrDuplicateActiveSession)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryFindActiveByClass(t *testing.T) {
	db, mock, cleanup := newSessionRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "class_id", "teacher_id", "method", "status", "qr_token", "qr_refresh_seconds",
		"center_lat", "center_lng", "radius_meters", "expected_ssid", "beacon_code",
		"late_after_minutes", "enrolled_count", "started_at", "ended_at", "created_at", "updated_at",
	}).AddRow("sess-1", "class-1", "teacher-1", models.MethodQR, models.SessionActive, "ABC123", 30,
		nil, nil, nil, nil, nil, 10, 40, now, nil, now, now)
	mock.ExpectQuery("SELECT .+ FROM sessions WHERE class_id = \\$1 AND status = 'active'").
		WithArgs("class-1").
		WillReturnRows(rows)

	session, err := repo.FindActiveByClass(context.Background(), "class-1")
	require.NoError(t, err)
	require.Equal(t, "sess-1", session.ID)
	require.NotNil(t, session.QRToken)
	require.Equal(t, "ABC123", *session.QRToken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryFindActiveByClassNoRows(t *testing.T) {
	db, mock, cleanup := newSessionRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectQuery("SELECT .+ FROM sessions WHERE class_id = \\$1 AND status = 'active'").
		WithArgs("class-1").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindActiveByClass(context.Background(), "class-1")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryRotateQROnEndedSession(t *testing.T) {
	db, mock, cleanup := newSessionRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectExec("UPDATE sessions SET qr_token").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.RotateQR(context.Background(), "sess-1", "NEW456")
	require.ErrorIs(t, err, ErrSessionNotActive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryMarkEndedIdempotent(t *testing.T) {
	db, mock, cleanup := newSessionRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectExec("UPDATE sessions SET status = 'ended'").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE sessions SET status = 'ended'").
		WillReturnResult(sqlmock.NewResult(0, 0))

	endedAt := time.Now().UTC()
	require.NoError(t, repo.MarkEnded(context.Background(), "sess-1", endedAt))
	require.ErrorIs(t, repo.MarkEnded(context.Background(), "sess-1", endedAt), ErrSessionNotActive)
	require.NoError(t, mock.ExpectationsWereMet())
}
