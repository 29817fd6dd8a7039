package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/campuskit/attendance-api/internal/models"
	"github.com/campuskit/attendance-api/pkg/config"
	appErrors "github.com/campuskit/attendance-api/pkg/errors"
	"github.com/campuskit/attendance-api/pkg/geo"
)

type fraudFlagRepository interface {
	Create(ctx context.Context, flag *models.FraudFlag) error
	List(ctx context.Context, sessionID string, status *models.FraudFlagStatus) ([]models.FraudFlag, error)
	Review(ctx context.Context, id string, status models.FraudFlagStatus, notes *string) error
}

type fraudRecordReader interface {
	FindByID(ctx context.Context, id string) (*models.AttendanceRecord, error)
	FindByDevice(ctx context.Context, sessionID, deviceID string) ([]models.AttendanceRecord, error)
	ListWithCoordinates(ctx context.Context, sessionID, excludeID string) ([]models.AttendanceRecord, error)
}

// FraudService runs the integrity heuristics. The blocking checks reject a
// mark before it is written; the advisory proximity check runs after commit
// on the events queue and never alters a committed outcome. A heuristic's
// own failure (store error, panic) must never fail the marking path, so
// blocking checks degrade to a pass with a logged error.
type FraudService struct {
	flags   fraudFlagRepository
	records fraudRecordReader
	metrics *MetricsService
	logger  *zap.Logger

	rescanWindow       time.Duration
	proximityThreshold float64
}

// NewFraudService constructs the service.
func NewFraudService(flags fraudFlagRepository, records fraudRecordReader, cfg config.FraudConfig, metrics *MetricsService, logger *zap.Logger) *FraudService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FraudService{
		flags:              flags,
		records:            records,
		metrics:            metrics,
		logger:             logger,
		rescanWindow:       cfg.RapidRescanWindow,
		proximityThreshold: cfg.ProximityThreshold,
	}
}

// CheckDeviceReuse rejects a mark when another student in the same session
// already marked from the same device. A hit records a duplicate_device flag
// naming both students and blocks the attempt.
func (s *FraudService) CheckDeviceReuse(ctx context.Context, session *models.Session, studentID, deviceID string) (err error) {
	defer s.recoverCheck("duplicate_device", &err)

	if deviceID == "" {
		return nil
	}
	existing, lookupErr := s.records.FindByDevice(ctx, session.ID, deviceID)
	if lookupErr != nil {
		s.logger.Error("device reuse check failed, allowing mark",
			zap.String("session_id", session.ID), zap.Error(lookupErr))
		return nil
	}

	for _, record := range existing {
		if record.StudentID == studentID {
			continue
		}
		s.raiseFlag(ctx, &models.FraudFlag{
			Type:                models.FraudDuplicateDevice,
			SessionID:           session.ID,
			SuspectedStudentIDs: []string{record.StudentID, studentID},
			AutoAction:          models.AutoActionBlocked,
		})
		return appErrors.WithDetails(appErrors.ErrFraudBlocked, map[string]interface{}{
			"type": string(models.FraudDuplicateDevice),
		})
	}
	return nil
}

// CheckRapidRescan rejects a retry that arrives within the rescan window of
// the student's own previous attempt in the same session. existing may be
// nil when the student has no record yet.
func (s *FraudService) CheckRapidRescan(ctx context.Context, session *models.Session, existing *models.AttendanceRecord, now time.Time) (err error) {
	defer s.recoverCheck("rapid_scan", &err)

	if existing == nil {
		return nil
	}
	if now.Sub(existing.JoinedAt) > s.rescanWindow {
		return nil
	}
	s.raiseFlag(ctx, &models.FraudFlag{
		Type:                models.FraudRapidScan,
		SessionID:           session.ID,
		SuspectedStudentIDs: []string{existing.StudentID},
		AutoAction:          models.AutoActionBlocked,
	})
	return appErrors.WithDetails(appErrors.ErrDuplicateScan, map[string]interface{}{
		"retry_after_seconds": int(s.rescanWindow.Seconds()),
	})
}

// CheckProximity is the advisory heuristic: after a GPS mark commits, flag
// any already-accepted record in the session whose coordinates fall within
// the proximity threshold of the new one. Runs on the events queue; a
// returned error triggers a retry.
func (s *FraudService) CheckProximity(ctx context.Context, sessionID, recordID string) error {
	record, err := s.records.FindByID(ctx, recordID)
	if err != nil {
		if err == sql.ErrNoRows {
			// Record reclassified or removed since the mark; nothing to check.
			return nil
		}
		return fmt.Errorf("proximity check load record: %w", err)
	}
	if record.Lat == nil || record.Lng == nil {
		return nil
	}

	neighbors, err := s.records.ListWithCoordinates(ctx, sessionID, recordID)
	if err != nil {
		return fmt.Errorf("proximity check list neighbors: %w", err)
	}

	for _, neighbor := range neighbors {
		distance := geo.Distance(*record.Lat, *record.Lng, *neighbor.Lat, *neighbor.Lng)
		if distance > s.proximityThreshold {
			continue
		}
		s.raiseFlag(ctx, &models.FraudFlag{
			Type:                models.FraudGPSProximity,
			SessionID:           sessionID,
			SuspectedStudentIDs: []string{record.StudentID, neighbor.StudentID},
			AutoAction:          models.AutoActionFlagged,
		})
	}
	return nil
}

// raiseFlag persists a flag best-effort. Flag loss is acceptable; blocking
// the caller on it is not.
func (s *FraudService) raiseFlag(ctx context.Context, flag *models.FraudFlag) {
	if err := s.flags.Create(ctx, flag); err != nil {
		s.logger.Error("failed to persist fraud flag",
			zap.String("type", string(flag.Type)),
			zap.String("session_id", flag.SessionID),
			zap.Error(err))
		return
	}
	if s.metrics != nil {
		s.metrics.FraudFlagObserved(flag.Type)
	}
}

// recoverCheck turns a panic inside a blocking heuristic into a pass.
func (s *FraudService) recoverCheck(name string, err *error) {
	if r := recover(); r != nil {
		s.logger.Error("fraud heuristic panicked, allowing mark",
			zap.String("heuristic", name), zap.Any("panic", r))
		*err = nil
	}
}

// ListFlags returns the flags for a session, optionally filtered by status.
func (s *FraudService) ListFlags(ctx context.Context, sessionID string, status *models.FraudFlagStatus) ([]models.FraudFlag, error) {
	flags, err := s.flags.List(ctx, sessionID, status)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list fraud flags")
	}
	return flags, nil
}

// ReviewFlag resolves a pending flag as reviewed or dismissed.
func (s *FraudService) ReviewFlag(ctx context.Context, id string, status models.FraudFlagStatus, notes *string) error {
	if status != models.FraudReviewed && status != models.FraudDismissed {
		return appErrors.Clone(appErrors.ErrValidation, "status must be reviewed or dismissed")
	}
	err := s.flags.Review(ctx, id, status, notes)
	if err == sql.ErrNoRows {
		return appErrors.Clone(appErrors.ErrNotFound, "no pending fraud flag with this id")
	}
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to review fraud flag")
	}
	return nil
}
