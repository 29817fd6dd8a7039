package service

import (
	"context"
	"database/sql"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campuskit/attendance-api/internal/models"
	"github.com/campuskit/attendance-api/internal/repository"
	appErrors "github.com/campuskit/attendance-api/pkg/errors"
)

type disputeRepository interface {
	Create(ctx context.Context, dispute *models.Dispute) error
	FindByID(ctx context.Context, id string) (*models.Dispute, error)
	List(ctx context.Context, classID string, status *models.DisputeStatus) ([]models.Dispute, error)
	Resolve(ctx context.Context, id string, status models.DisputeStatus, comment *string) error
}

type disputeRecordStore interface {
	FindByID(ctx context.Context, id string) (*models.AttendanceRecord, error)
	UpdateResolution(ctx context.Context, id string, status models.AttendanceStatus, approved bool) error
}

type summaryReclassifier interface {
	Reclassify(ctx context.Context, studentID, classID string, from, to models.AttendanceStatus) error
}

// DisputeService handles student disputes over past outcomes. Unlike every
// other summary mutation in the engine, an approved dispute updates the
// aggregate synchronously: the student is staring at their percentage when
// the teacher approves, so the correction must be visible on the next read.
type DisputeService struct {
	disputes  disputeRepository
	records   disputeRecordStore
	roster    attendanceRosterReader
	summaries summaryReclassifier
	publisher EventSink
	validate  *validator.Validate
	logger    *zap.Logger
}

// NewDisputeService constructs the service.
func NewDisputeService(
	disputes disputeRepository,
	records disputeRecordStore,
	roster attendanceRosterReader,
	summaries summaryReclassifier,
	publisher EventSink,
	logger *zap.Logger,
) *DisputeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DisputeService{
		disputes:  disputes,
		records:   records,
		roster:    roster,
		summaries: summaries,
		publisher: publisher,
		validate:  validator.New(),
		logger:    logger,
	}
}

// RaiseDisputeRequest opens a dispute against an attendance record.
type RaiseDisputeRequest struct {
	AttendanceID string `json:"attendance_id" validate:"required"`
	Reason       string `json:"reason" validate:"required,min=3"`
}

// Raise opens a pending dispute. The partial unique index on pending
// disputes is the authority against duplicates.
func (s *DisputeService) Raise(ctx context.Context, req RaiseDisputeRequest, claims *models.JWTClaims) (*models.Dispute, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid dispute payload")
	}

	record, err := s.records.FindByID(ctx, req.AttendanceID)
	if err == sql.ErrNoRows {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "attendance record not found")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance record")
	}
	if record.StudentID != claims.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "record belongs to another student")
	}
	if record.Status == models.StatusPresent {
		return nil, appErrors.Clone(appErrors.ErrValidation, "record is already present, nothing to dispute")
	}

	dispute := &models.Dispute{
		AttendanceID:   record.ID,
		StudentID:      record.StudentID,
		ClassID:        record.ClassID,
		OriginalStatus: record.Status,
		Reason:         req.Reason,
	}
	if err := s.disputes.Create(ctx, dispute); err != nil {
		if err == repository.ErrDuplicatePendingDispute {
			return nil, appErrors.Clone(appErrors.ErrConflict, "a pending dispute already exists for this record")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create dispute")
	}

	s.publisher.Audit(claims.UserID, "dispute.raise", "dispute", dispute.ID, map[string]interface{}{
		"attendance_id":   dispute.AttendanceID,
		"original_status": string(dispute.OriginalStatus),
	})
	return dispute, nil
}

// ResolveDisputeRequest is the teacher decision payload.
type ResolveDisputeRequest struct {
	Approved *bool  `json:"approved" validate:"required"`
	Comment  string `json:"comment"`
}

// Resolve settles a pending dispute. The pending-to-terminal transition on
// the dispute row is the gate against two teachers resolving it twice; only
// the winner touches the record and the aggregate.
func (s *DisputeService) Resolve(ctx context.Context, disputeID string, req ResolveDisputeRequest, claims *models.JWTClaims) (*models.Dispute, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid resolution payload")
	}

	dispute, err := s.disputes.FindByID(ctx, disputeID)
	if err == sql.ErrNoRows {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "dispute not found")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load dispute")
	}

	class, err := s.roster.ClassByID(ctx, dispute.ClassID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if err := ensureClassOwner(claims, class.TeacherID); err != nil {
		return nil, err
	}

	approved := *req.Approved
	status := models.DisputeRejected
	if approved {
		status = models.DisputeApproved
	}
	var comment *string
	if req.Comment != "" {
		comment = &req.Comment
	}

	if err := s.disputes.Resolve(ctx, disputeID, status, comment); err != nil {
		if err == repository.ErrDisputeNotPending {
			return nil, appErrors.Clone(appErrors.ErrConflict, "dispute is already resolved")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve dispute")
	}

	if approved {
		if err := s.records.UpdateResolution(ctx, dispute.AttendanceID, models.StatusPresent, true); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "dispute approved but record update failed")
		}
		// Synchronous by contract: the corrected percentage must be visible
		// as soon as this call returns.
		if err := s.summaries.Reclassify(ctx, dispute.StudentID, dispute.ClassID, dispute.OriginalStatus, models.StatusPresent); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "dispute approved but summary update failed")
		}
	}

	dispute.Status = status
	dispute.TeacherComment = comment

	s.publisher.Audit(claims.UserID, "dispute.resolve", "dispute", dispute.ID, map[string]interface{}{
		"approved": approved,
	})
	title := "Dispute rejected"
	if approved {
		title = "Dispute approved"
	}
	s.publisher.Notify(dispute.StudentID, title, "Your attendance dispute was reviewed.")

	return dispute, nil
}

// List returns a class's disputes, optionally filtered by status.
func (s *DisputeService) List(ctx context.Context, classID string, status *models.DisputeStatus, claims *models.JWTClaims) ([]models.Dispute, error) {
	class, err := s.roster.ClassByID(ctx, classID)
	if err == sql.ErrNoRows {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if err := ensureClassOwner(claims, class.TeacherID); err != nil {
		return nil, err
	}

	disputes, err := s.disputes.List(ctx, classID, status)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list disputes")
	}
	return disputes, nil
}
