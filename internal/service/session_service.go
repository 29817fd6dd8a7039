package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campuskit/attendance-api/internal/models"
	"github.com/campuskit/attendance-api/internal/repository"
	"github.com/campuskit/attendance-api/pkg/config"
	appErrors "github.com/campuskit/attendance-api/pkg/errors"
)

type sessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	FindByID(ctx context.Context, id string) (*models.Session, error)
	FindActiveByClass(ctx context.Context, classID string) (*models.Session, error)
	RotateQR(ctx context.Context, id, token string) error
	MarkEnded(ctx context.Context, id string, endedAt time.Time) error
}

type sessionRosterReader interface {
	ClassByID(ctx context.Context, id string) (*models.Class, error)
	EnrolledCount(ctx context.Context, classID string) (int, error)
}

type sessionSweeper interface {
	Sweep(ctx context.Context, session *models.Session, endedAt time.Time) (*repository.SweepOutcome, error)
}

// SessionService owns the session lifecycle: start, active lookup with lazy
// TTL expiry, QR rotation, and the end-of-session sweep.
type SessionService struct {
	sessions  sessionRepository
	roster    sessionRosterReader
	sweeper   sessionSweeper
	cache     *SessionCache
	publisher EventSink
	metrics   *MetricsService
	validate  *validator.Validate
	logger    *zap.Logger
	cfg       config.SessionConfig
}

// NewSessionService constructs the service.
func NewSessionService(
	sessions sessionRepository,
	roster sessionRosterReader,
	sweeper sessionSweeper,
	cache *SessionCache,
	publisher EventSink,
	metrics *MetricsService,
	cfg config.SessionConfig,
	logger *zap.Logger,
) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		sessions:  sessions,
		roster:    roster,
		sweeper:   sweeper,
		cache:     cache,
		publisher: publisher,
		metrics:   metrics,
		validate:  validator.New(),
		logger:    logger,
		cfg:       cfg,
	}
}

// StartSessionRequest is the payload for starting a session.
type StartSessionRequest struct {
	ClassID          string   `json:"class_id" validate:"required"`
	Method           string   `json:"method" validate:"required,oneof=qr gps network bluetooth"`
	LateAfterMinutes *int     `json:"late_after_minutes" validate:"omitempty,min=0"`
	QRRefreshSeconds *int     `json:"qr_refresh_seconds" validate:"omitempty,min=5"`
	CenterLat        *float64 `json:"center_lat" validate:"omitempty,latitude"`
	CenterLng        *float64 `json:"center_lng" validate:"omitempty,longitude"`
	RadiusMeters     *float64 `json:"radius_meters" validate:"omitempty,gt=0"`
	ExpectedSSID     string   `json:"expected_ssid"`
	BeaconCode       string   `json:"beacon_code"`
}

// Start opens a new attendance session for a class. The store's partial
// unique index is the authority on "one active session per class"; a lost
// race surfaces the existing session id in the error details.
func (s *SessionService) Start(ctx context.Context, req StartSessionRequest, claims *models.JWTClaims) (*models.Session, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}

	class, err := s.roster.ClassByID(ctx, req.ClassID)
	if err == sql.ErrNoRows {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if err := ensureClassOwner(claims, class.TeacherID); err != nil {
		return nil, err
	}

	session := &models.Session{
		ClassID:          class.ID,
		TeacherID:        class.TeacherID,
		Method:           models.SessionMethod(req.Method),
		LateAfterMinutes: int(s.cfg.DefaultLateAfter.Minutes()),
		StartedAt:        time.Now().UTC(),
	}
	if req.LateAfterMinutes != nil {
		session.LateAfterMinutes = *req.LateAfterMinutes
	}
	if err := s.applyMethodConfig(session, req); err != nil {
		return nil, err
	}

	enrolled, err := s.roster.EnrolledCount(ctx, class.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollments")
	}
	session.EnrolledCount = enrolled

	if err := s.sessions.Create(ctx, session); err != nil {
		if err == repository.ErrDuplicateActiveSession {
			return nil, s.duplicateActiveError(ctx, class.ID)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create session")
	}

	s.cache.Set(ctx, session)
	if s.metrics != nil {
		s.metrics.SessionStartedObserved(session.Method)
	}
	s.publisher.Audit(claims.UserID, "session.start", "session", session.ID, map[string]interface{}{
		"class_id": session.ClassID,
		"method":   string(session.Method),
	})

	return session, nil
}

func (s *SessionService) applyMethodConfig(session *models.Session, req StartSessionRequest) error {
	switch session.Method {
	case models.MethodQR:
		token := newSessionToken()
		session.QRToken = &token
		refresh := int(s.cfg.QRRefreshInterval.Seconds())
		if req.QRRefreshSeconds != nil {
			refresh = *req.QRRefreshSeconds
		}
		session.QRRefreshSeconds = &refresh

	case models.MethodGPS:
		if req.CenterLat == nil || req.CenterLng == nil {
			return appErrors.Clone(appErrors.ErrValidation, "center_lat and center_lng are required for gps sessions")
		}
		session.CenterLat = req.CenterLat
		session.CenterLng = req.CenterLng
		radius := s.cfg.DefaultGeofenceM
		if req.RadiusMeters != nil {
			radius = *req.RadiusMeters
		}
		session.RadiusMeters = &radius

	case models.MethodNetwork:
		ssid := strings.TrimSpace(req.ExpectedSSID)
		if ssid == "" {
			return appErrors.Clone(appErrors.ErrValidation, "expected_ssid is required for network sessions")
		}
		session.ExpectedSSID = &ssid

	case models.MethodBluetooth:
		beacon := strings.TrimSpace(req.BeaconCode)
		if beacon == "" {
			beacon = newSessionToken()
		}
		session.BeaconCode = &beacon
	}
	return nil
}

// duplicateActiveError reports the conflicting session id when a second
// start loses the race on the active-session index.
func (s *SessionService) duplicateActiveError(ctx context.Context, classID string) error {
	existing, err := s.sessions.FindActiveByClass(ctx, classID)
	if err != nil {
		// The conflicting session ended between the insert and this read.
		return appErrors.ErrSessionActive
	}
	return appErrors.WithDetails(appErrors.ErrSessionActive, map[string]interface{}{
		"existing_session_id": existing.ID,
	})
}

// GetActive returns the active session for a class. A session past its TTL
// is lazily marked ended here, so this read can cause a write.
func (s *SessionService) GetActive(ctx context.Context, classID string) (*models.Session, error) {
	now := time.Now().UTC()
	if cached, ok := s.cache.Get(ctx, classID); ok && cached.Elapsed(now) <= s.cfg.TTL {
		return cached, nil
	}

	session, err := s.sessions.FindActiveByClass(ctx, classID)
	if err == sql.ErrNoRows {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no active session for this class")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active session")
	}

	if s.expireIfStale(ctx, session, now) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no active session for this class")
	}

	s.cache.Set(ctx, session)
	return session, nil
}

// Get returns a session by id.
func (s *SessionService) Get(ctx context.Context, id string) (*models.Session, error) {
	session, err := s.sessions.FindByID(ctx, id)
	if err == sql.ErrNoRows {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	return session, nil
}

// EnsureActive loads a session and confirms it is still markable. The
// marking path calls this, so a TTL-expired session is lazily ended on the
// first attempt against it.
func (s *SessionService) EnsureActive(ctx context.Context, sessionID string) (*models.Session, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionActive {
		return nil, appErrors.ErrSessionEnded
	}
	if s.expireIfStale(ctx, session, time.Now().UTC()) {
		return nil, appErrors.Clone(appErrors.ErrSessionEnded, "session expired")
	}
	return session, nil
}

// expireIfStale ends a session whose TTL has passed. Idempotent under
// concurrent expiry because MarkEnded guards on status.
func (s *SessionService) expireIfStale(ctx context.Context, session *models.Session, now time.Time) bool {
	if session.Elapsed(now) <= s.cfg.TTL {
		return false
	}
	err := s.sessions.MarkEnded(ctx, session.ID, now)
	if err != nil && err != repository.ErrSessionNotActive {
		s.logger.Error("failed to lazily expire session",
			zap.String("session_id", session.ID), zap.Error(err))
	}
	s.cache.Invalidate(ctx, session.ClassID)
	if err == nil {
		if s.metrics != nil {
			s.metrics.SessionEndedObserved()
		}
		s.publisher.Audit(session.TeacherID, "session.expire", "session", session.ID, nil)
	}
	return true
}

// RefreshQR rotates the session's QR token. Marks submitted with the
// previous token fail verification from this point on.
func (s *SessionService) RefreshQR(ctx context.Context, sessionID string, claims *models.JWTClaims) (*models.Session, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := ensureClassOwner(claims, session.TeacherID); err != nil {
		return nil, err
	}
	if session.Method != models.MethodQR {
		return nil, appErrors.Clone(appErrors.ErrValidation, "session does not use qr verification")
	}

	token := newSessionToken()
	if err := s.sessions.RotateQR(ctx, sessionID, token); err != nil {
		if err == repository.ErrSessionNotActive {
			return nil, appErrors.ErrSessionEnded
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to rotate qr token")
	}

	session.QRToken = &token
	s.cache.Invalidate(ctx, session.ClassID)
	return session, nil
}

// End closes a session and runs the sweep: unresolved lates convert to
// absent and enrolled students with no record get synthesized absents, all
// in one store transaction. Aggregator updates for the swept records ride
// the events queue afterwards.
func (s *SessionService) End(ctx context.Context, sessionID string, claims *models.JWTClaims) (*models.SweepResult, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := ensureClassOwner(claims, session.TeacherID); err != nil {
		return nil, err
	}
	if session.Status != models.SessionActive {
		return nil, appErrors.ErrSessionEnded
	}

	started := time.Now()
	outcome, err := s.sweeper.Sweep(ctx, session, time.Now().UTC())
	if err != nil {
		if err == repository.ErrSessionNotActive {
			return nil, appErrors.ErrSessionEnded
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sweep session")
	}
	if s.metrics != nil {
		s.metrics.SweepObserved(time.Since(started))
		s.metrics.SessionEndedObserved()
	}
	s.cache.Invalidate(ctx, session.ClassID)

	for _, ref := range outcome.Converted {
		s.publisher.SummaryReclassify(ref.StudentID, session.ClassID, models.StatusLate, models.StatusAbsent)
	}
	for _, ref := range outcome.Synthesized {
		s.publisher.SummaryEvent(ref.StudentID, session.ClassID, models.StatusAbsent)
		s.publisher.Notify(ref.StudentID, "Marked absent", "You were marked absent for today's session.")
	}

	result := &models.SweepResult{
		TotalPresent:    outcome.Counts[models.StatusPresent],
		TotalLate:       outcome.Counts[models.StatusLate],
		TotalAbsent:     outcome.Counts[models.StatusAbsent],
		NewAbsentMarked: len(outcome.Synthesized),
	}
	s.publisher.Audit(claims.UserID, "session.end", "session", session.ID, map[string]interface{}{
		"total_present":     result.TotalPresent,
		"total_late":        result.TotalLate,
		"total_absent":      result.TotalAbsent,
		"new_absent_marked": result.NewAbsentMarked,
	})
	return result, nil
}

// ensureClassOwner allows admins and the owning teacher through.
func ensureClassOwner(claims *models.JWTClaims, teacherID string) error {
	if claims == nil {
		return appErrors.ErrUnauthorized
	}
	if claims.Role == models.RoleAdmin {
		return nil
	}
	if claims.UserID == teacherID {
		return nil
	}
	return appErrors.ErrNotOwner
}

// newSessionToken returns an opaque token for QR payloads and beacon codes.
func newSessionToken() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the OS entropy source is broken.
		return strings.ToUpper(hex.EncodeToString([]byte(time.Now().UTC().Format("150405.000"))))[:12]
	}
	return strings.ToUpper(hex.EncodeToString(buf))
}
