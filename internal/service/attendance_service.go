package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campuskit/attendance-api/internal/collaborator/identity"
	"github.com/campuskit/attendance-api/internal/models"
	"github.com/campuskit/attendance-api/internal/repository"
	appErrors "github.com/campuskit/attendance-api/pkg/errors"
)

type attendanceRepository interface {
	Insert(ctx context.Context, record *models.AttendanceRecord) error
	ReplaceFaceFailed(ctx context.Context, record *models.AttendanceRecord) error
	FindByID(ctx context.Context, id string) (*models.AttendanceRecord, error)
	FindBySessionStudent(ctx context.Context, sessionID, studentID string) (*models.AttendanceRecord, error)
	ListBySession(ctx context.Context, sessionID string) ([]models.AttendanceRecordDetail, error)
	UpdateResolution(ctx context.Context, id string, status models.AttendanceStatus, approved bool) error
}

type activeSessionSource interface {
	Get(ctx context.Context, id string) (*models.Session, error)
	EnsureActive(ctx context.Context, sessionID string) (*models.Session, error)
}

type attendanceRosterReader interface {
	ClassByID(ctx context.Context, id string) (*models.Class, error)
	IsEnrolled(ctx context.Context, classID, studentID string) (bool, error)
}

type fraudChecker interface {
	CheckDeviceReuse(ctx context.Context, session *models.Session, studentID, deviceID string) error
	CheckRapidRescan(ctx context.Context, session *models.Session, existing *models.AttendanceRecord, now time.Time) error
}

// AttendanceService runs the marking pipeline and teacher approvals.
type AttendanceService struct {
	records   attendanceRepository
	sessions  activeSessionSource
	roster    attendanceRosterReader
	fraud     fraudChecker
	identity  identity.Verifier
	publisher EventSink
	metrics   *MetricsService
	validate  *validator.Validate
	logger    *zap.Logger
}

// NewAttendanceService constructs the service.
func NewAttendanceService(
	records attendanceRepository,
	sessions activeSessionSource,
	roster attendanceRosterReader,
	fraud fraudChecker,
	verifier identity.Verifier,
	publisher EventSink,
	metrics *MetricsService,
	logger *zap.Logger,
) *AttendanceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttendanceService{
		records:   records,
		sessions:  sessions,
		roster:    roster,
		fraud:     fraud,
		identity:  verifier,
		publisher: publisher,
		metrics:   metrics,
		validate:  validator.New(),
		logger:    logger,
	}
}

// MarkAttendanceRequest is the student marking payload. Method-specific
// fields are read only for the session's configured method.
type MarkAttendanceRequest struct {
	SessionID    string   `json:"session_id" validate:"required"`
	QRCode       string   `json:"qr_code"`
	Lat          *float64 `json:"lat" validate:"omitempty,latitude"`
	Lng          *float64 `json:"lng" validate:"omitempty,longitude"`
	SSID         string   `json:"ssid"`
	DeviceID     string   `json:"device_id"`
	FaceImageURL string   `json:"face_image_url"`
	FaceVerified *bool    `json:"face_verified"`
}

// MarkResult is the accepted-mark response.
type MarkResult struct {
	AttendanceID string                  `json:"attendance_id"`
	Status       models.AttendanceStatus `json:"status"`
	IsLate       bool                    `json:"is_late"`
	FaceVerified bool                    `json:"face_verified"`
}

// Mark processes one marking attempt: active session check, duplicate
// precondition, method verification, blocking fraud heuristics, identity
// check, late classification, then the record write. The store's unique key
// on (session, student) settles any duplicate race the precondition misses.
func (s *AttendanceService) Mark(ctx context.Context, req MarkAttendanceRequest, claims *models.JWTClaims) (*MarkResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid mark payload")
	}
	studentID := claims.UserID

	session, err := s.sessions.EnsureActive(ctx, req.SessionID)
	if err != nil {
		return nil, s.reject(err)
	}

	enrolled, err := s.roster.IsEnrolled(ctx, session.ClassID, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if !enrolled {
		return nil, s.reject(appErrors.Clone(appErrors.ErrForbidden, "student is not enrolled in this class"))
	}

	existing, err := s.records.FindBySessionStudent(ctx, req.SessionID, studentID)
	if err != nil && err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load existing record")
	}
	if existing != nil && existing.Status.Terminal() {
		return nil, s.reject(appErrors.ErrAlreadyMarked)
	}

	now := time.Now().UTC()
	// Proof verification runs before the fraud heuristics: an attempt that
	// never presented valid proof is rejected on its own terms and must not
	// leave a fraud flag behind.
	proof := MarkProof{QRCode: req.QRCode, Lat: req.Lat, Lng: req.Lng, SSID: req.SSID, DeviceID: req.DeviceID}
	if err := verifyProof(session, proof); err != nil {
		return nil, s.reject(err)
	}

	if err := s.fraud.CheckDeviceReuse(ctx, session, studentID, req.DeviceID); err != nil {
		return nil, s.reject(err)
	}
	if err := s.fraud.CheckRapidRescan(ctx, session, existing, now); err != nil {
		return nil, s.reject(err)
	}

	faceVerified, err := s.checkFace(ctx, req, studentID)
	if err != nil {
		return nil, err
	}

	record := &models.AttendanceRecord{
		SessionID:    session.ID,
		ClassID:      session.ClassID,
		StudentID:    studentID,
		Method:       session.Method,
		FaceVerified: faceVerified,
		Lat:          req.Lat,
		Lng:          req.Lng,
		JoinedAt:     now,
		MarkedAt:     now,
	}
	if req.DeviceID != "" {
		deviceID := req.DeviceID
		record.DeviceID = &deviceID
	}

	isLate := false
	if !faceVerified {
		record.Status = models.StatusFaceFailed
		notApproved := false
		record.TeacherApproved = &notApproved
	} else {
		lateAfter := time.Duration(session.LateAfterMinutes) * time.Minute
		isLate = session.Elapsed(now) > lateAfter
		if isLate {
			record.Status = models.StatusLate
		} else {
			record.Status = models.StatusPresent
			approved := true
			record.TeacherApproved = &approved
		}
	}

	if existing != nil {
		// Face retry replaces the face_failed record in place, keeping the
		// original join time.
		record.ID = existing.ID
		record.JoinedAt = existing.JoinedAt
		err = s.records.ReplaceFaceFailed(ctx, record)
	} else {
		err = s.records.Insert(ctx, record)
	}
	if err != nil {
		if err == repository.ErrDuplicateRecord {
			return nil, s.reject(appErrors.ErrAlreadyMarked)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to write attendance record")
	}

	s.afterMark(session, record, claims)

	return &MarkResult{
		AttendanceID: record.ID,
		Status:       record.Status,
		IsLate:       isLate,
		FaceVerified: faceVerified,
	}, nil
}

// checkFace resolves the face-verification outcome. The identity
// collaborator wins when an image is submitted; otherwise the client's
// on-device result is trusted, defaulting to verified when absent.
func (s *AttendanceService) checkFace(ctx context.Context, req MarkAttendanceRequest, studentID string) (bool, error) {
	if s.identity != nil && req.FaceImageURL != "" {
		result, err := s.identity.Verify(ctx, req.FaceImageURL, studentID)
		if err != nil {
			s.logger.Error("identity verification unavailable",
				zap.String("student_id", studentID), zap.Error(err))
			return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "face verification unavailable, retry")
		}
		return result.Verified, nil
	}
	if req.FaceVerified != nil {
		return *req.FaceVerified, nil
	}
	return true, nil
}

// afterMark publishes the post-commit side effects. The record is already
// durable; nothing here can fail the mark.
func (s *AttendanceService) afterMark(session *models.Session, record *models.AttendanceRecord, claims *models.JWTClaims) {
	if s.metrics != nil {
		s.metrics.MarkObserved(session.Method, record.Status)
	}
	if countable(record.Status) {
		s.publisher.SummaryEvent(record.StudentID, session.ClassID, record.Status)
	}
	if session.Method == models.MethodGPS && countable(record.Status) && record.Lat != nil && record.Lng != nil {
		s.publisher.ProximityCheck(session.ID, record.ID)
	}
	s.publisher.Audit(claims.UserID, "attendance.mark", "attendance_record", record.ID, map[string]interface{}{
		"session_id": session.ID,
		"status":     string(record.Status),
	})
	if record.Status == models.StatusFaceFailed {
		s.publisher.Notify(record.StudentID, "Face check failed", "Your attendance needs teacher approval or a retry.")
	}
}

// reject counts a refused marking attempt before returning it.
func (s *AttendanceService) reject(err error) error {
	if s.metrics != nil {
		s.metrics.MarkRejectedObserved(appErrors.FromError(err).Code)
	}
	return err
}

// ApproveRequest is the teacher resolution payload for a pending record.
type ApproveRequest struct {
	Approved *bool  `json:"approved" validate:"required"`
	Reason   string `json:"reason"`
}

// Approve resolves a late or face_failed record: approval makes it present,
// rejection makes it absent. A late record's prior outcome is already in the
// aggregate and moves buckets; a face_failed one enters it for the first
// time.
func (s *AttendanceService) Approve(ctx context.Context, attendanceID string, req ApproveRequest, claims *models.JWTClaims) (*models.AttendanceRecord, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid approval payload")
	}

	record, err := s.records.FindByID(ctx, attendanceID)
	if err == sql.ErrNoRows {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "attendance record not found")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance record")
	}

	class, err := s.roster.ClassByID(ctx, record.ClassID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if err := ensureClassOwner(claims, class.TeacherID); err != nil {
		return nil, err
	}

	if record.Status != models.StatusLate && record.Status != models.StatusFaceFailed {
		return nil, appErrors.Clone(appErrors.ErrConflict, "record is not awaiting approval")
	}

	approved := *req.Approved
	newStatus := models.StatusAbsent
	if approved {
		newStatus = models.StatusPresent
	}

	if err := s.records.UpdateResolution(ctx, attendanceID, newStatus, approved); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "attendance record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update attendance record")
	}

	if record.Status == models.StatusLate {
		s.publisher.SummaryReclassify(record.StudentID, record.ClassID, models.StatusLate, newStatus)
	} else {
		s.publisher.SummaryEvent(record.StudentID, record.ClassID, newStatus)
	}

	detail := map[string]interface{}{
		"from":     string(record.Status),
		"to":       string(newStatus),
		"approved": approved,
	}
	if req.Reason != "" {
		detail["reason"] = req.Reason
	}
	s.publisher.Audit(claims.UserID, "attendance.approve", "attendance_record", record.ID, detail)

	title := "Attendance approved"
	if !approved {
		title = "Attendance rejected"
	}
	s.publisher.Notify(record.StudentID, title, "Your attendance was reviewed by the teacher.")

	record.Status = newStatus
	record.TeacherApproved = &approved
	record.AutoAbsent = false
	return record, nil
}

// SessionRoll returns the full roll for a session, teacher-scoped.
func (s *AttendanceService) SessionRoll(ctx context.Context, sessionID string, claims *models.JWTClaims) ([]models.AttendanceRecordDetail, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := ensureClassOwner(claims, session.TeacherID); err != nil {
		return nil, err
	}
	roll, err := s.records.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list session records")
	}
	return roll, nil
}
