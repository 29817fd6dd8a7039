package service

import (
	"context"
	"database/sql"
	"math"

	"go.uber.org/zap"

	"github.com/campuskit/attendance-api/internal/models"
	"github.com/campuskit/attendance-api/internal/repository"
	appErrors "github.com/campuskit/attendance-api/pkg/errors"
)

// maxCASAttempts bounds the read-apply-write retry loop. Contention on a
// single (student, class) pair is rare; exhausting this means something is
// spinning on the row.
const maxCASAttempts = 5

type summaryRepository interface {
	Get(ctx context.Context, studentID, classID string) (*models.AttendanceSummary, error)
	Create(ctx context.Context, summary *models.AttendanceSummary) error
	UpdateCAS(ctx context.Context, summary *models.AttendanceSummary) error
	ListByClass(ctx context.Context, classID string) ([]models.AttendanceSummaryRow, error)
}

type summaryClassReader interface {
	ClassByID(ctx context.Context, id string) (*models.Class, error)
}

// SummaryService maintains the per (student, class) attendance aggregate.
// Every counter mutation in the engine funnels through applyTransition so
// the present+late+absent == totalSessions invariant has a single owner.
type SummaryService struct {
	repo    summaryRepository
	roster  summaryClassReader
	metrics *MetricsService
	logger  *zap.Logger
}

// NewSummaryService constructs the service.
func NewSummaryService(repo summaryRepository, roster summaryClassReader, metrics *MetricsService, logger *zap.Logger) *SummaryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SummaryService{repo: repo, roster: roster, metrics: metrics, logger: logger}
}

// countable reports whether a status participates in summary buckets.
// face_failed is transient and never reaches the aggregate.
func countable(status models.AttendanceStatus) bool {
	switch status {
	case models.StatusPresent, models.StatusLate, models.StatusAbsent:
		return true
	default:
		return false
	}
}

// applyTransition is the one reducer behind mark, approval, dispute
// resolution, and the sweep. A nil from means a new session outcome;
// otherwise the from bucket is decremented (floor 0) and totalSessions is
// unchanged. Percentage is always recomputed from the buckets.
func applyTransition(summary *models.AttendanceSummary, from *models.AttendanceStatus, to models.AttendanceStatus) {
	if from == nil {
		summary.TotalSessions++
	} else {
		switch *from {
		case models.StatusPresent:
			if summary.PresentCount > 0 {
				summary.PresentCount--
			}
		case models.StatusLate:
			if summary.LateCount > 0 {
				summary.LateCount--
			}
		case models.StatusAbsent:
			if summary.AbsentCount > 0 {
				summary.AbsentCount--
			}
		}
	}

	switch to {
	case models.StatusPresent:
		summary.PresentCount++
	case models.StatusLate:
		summary.LateCount++
	case models.StatusAbsent:
		summary.AbsentCount++
	}

	if summary.TotalSessions > 0 {
		attended := summary.PresentCount + summary.LateCount
		summary.Percentage = int(math.Round(100 * float64(attended) / float64(summary.TotalSessions)))
	} else {
		summary.Percentage = 0
	}
	summary.BelowThreshold = summary.Percentage < summary.MinAttendance
}

// RecordEvent folds one new session outcome into the aggregate, creating
// the summary document on the first event for the pair.
func (s *SummaryService) RecordEvent(ctx context.Context, studentID, classID string, status models.AttendanceStatus) error {
	if !countable(status) {
		return nil
	}
	return s.apply(ctx, studentID, classID, nil, status)
}

// Reclassify moves one already-counted outcome between buckets without
// changing totalSessions. Callers: approval, dispute resolution, and the
// sweep's late-to-absent conversion.
func (s *SummaryService) Reclassify(ctx context.Context, studentID, classID string, from, to models.AttendanceStatus) error {
	if !countable(to) {
		return nil
	}
	if !countable(from) {
		// The prior status never reached the buckets, so this is the
		// pair's first countable outcome for that session.
		return s.apply(ctx, studentID, classID, nil, to)
	}
	return s.apply(ctx, studentID, classID, &from, to)
}

func (s *SummaryService) apply(ctx context.Context, studentID, classID string, from *models.AttendanceStatus, to models.AttendanceStatus) error {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		summary, err := s.repo.Get(ctx, studentID, classID)
		if err == sql.ErrNoRows {
			seeded, seedErr := s.seed(ctx, studentID, classID, to)
			if seedErr != nil {
				return seedErr
			}
			createErr := s.repo.Create(ctx, seeded)
			if createErr == repository.ErrSummaryExists {
				s.retryObserved()
				continue
			}
			return createErr
		}
		if err != nil {
			return err
		}

		applyTransition(summary, from, to)

		err = s.repo.UpdateCAS(ctx, summary)
		if err == repository.ErrVersionConflict {
			s.retryObserved()
			continue
		}
		return err
	}
	return appErrors.Clone(appErrors.ErrInternal, "summary update contention, retry")
}

// seed builds the first-event summary. The first event deliberately sets
// percentage to 0 for absent and 100 otherwise; later events always
// recompute over totalSessions.
func (s *SummaryService) seed(ctx context.Context, studentID, classID string, status models.AttendanceStatus) (*models.AttendanceSummary, error) {
	minAttendance := 0
	if s.roster != nil {
		class, err := s.roster.ClassByID(ctx, classID)
		if err != nil && err != sql.ErrNoRows {
			return nil, err
		}
		if class != nil {
			minAttendance = class.MinAttendance
		}
	}

	summary := &models.AttendanceSummary{
		StudentID:     studentID,
		ClassID:       classID,
		TotalSessions: 1,
		MinAttendance: minAttendance,
	}
	switch status {
	case models.StatusPresent:
		summary.PresentCount = 1
	case models.StatusLate:
		summary.LateCount = 1
	case models.StatusAbsent:
		summary.AbsentCount = 1
	}
	if status == models.StatusAbsent {
		summary.Percentage = 0
	} else {
		summary.Percentage = 100
	}
	summary.BelowThreshold = summary.Percentage < summary.MinAttendance
	return summary, nil
}

func (s *SummaryService) retryObserved() {
	if s.metrics != nil {
		s.metrics.SummaryRetryObserved()
	}
}

// Get returns the summary for a (student, class) pair.
func (s *SummaryService) Get(ctx context.Context, studentID, classID string) (*models.AttendanceSummary, error) {
	summary, err := s.repo.Get(ctx, studentID, classID)
	if err == sql.ErrNoRows {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no attendance summary for this student and class")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load summary")
	}
	return summary, nil
}

// ListByClass returns every summary for a class.
func (s *SummaryService) ListByClass(ctx context.Context, classID string) ([]models.AttendanceSummaryRow, error) {
	rows, err := s.repo.ListByClass(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list summaries")
	}
	return rows, nil
}
