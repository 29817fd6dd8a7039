package service

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/campuskit/attendance-api/internal/models"
	appErrors "github.com/campuskit/attendance-api/pkg/errors"
	"github.com/campuskit/attendance-api/pkg/export"
)

type summaryRowLister interface {
	ListByClass(ctx context.Context, classID string) ([]models.AttendanceSummaryRow, error)
}

// ExportService renders class attendance reports as CSV or PDF.
type ExportService struct {
	summaries summaryRowLister
	roster    summaryClassReader
	csv       *export.CSVExporter
	pdf       *export.PDFExporter
	enabled   bool
	logger    *zap.Logger
}

// NewExportService constructs the service.
func NewExportService(summaries summaryRowLister, roster summaryClassReader, enabled bool, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		summaries: summaries,
		roster:    roster,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
		enabled:   enabled,
		logger:    logger,
	}
}

// Report is a rendered export ready for download.
type Report struct {
	Content     []byte
	ContentType string
	Filename    string
}

var reportHeaders = []string{"Roll No", "Student", "Present", "Late", "Absent", "Sessions", "Percentage", "Below Threshold"}

// ClassReport renders the per-student summary table for a class. format is
// "csv" or "pdf".
func (s *ExportService) ClassReport(ctx context.Context, classID, format string, claims *models.JWTClaims) (*Report, error) {
	if !s.enabled {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "report exports are disabled")
	}

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

	rows, err := s.summaries.ListByClass(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list summaries")
	}

	dataset := export.Dataset{Headers: reportHeaders}
	for _, row := range rows {
		rollNumber := ""
		if row.RollNumber != nil {
			rollNumber = *row.RollNumber
		}
		below := "no"
		if row.BelowThreshold {
			below = "yes"
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Roll No":         rollNumber,
			"Student":         row.StudentName,
			"Present":         strconv.Itoa(row.PresentCount),
			"Late":            strconv.Itoa(row.LateCount),
			"Absent":          strconv.Itoa(row.AbsentCount),
			"Sessions":        strconv.Itoa(row.TotalSessions),
			"Percentage":      strconv.Itoa(row.Percentage) + "%",
			"Below Threshold": below,
		})
	}

	stamp := time.Now().UTC().Format("20060102")
	switch format {
	case "csv":
		content, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv report")
		}
		return &Report{
			Content:     content,
			ContentType: "text/csv",
			Filename:    fmt.Sprintf("attendance_%s_%s.csv", classID, stamp),
		}, nil
	case "pdf":
		content, err := s.pdf.Render(dataset, fmt.Sprintf("Attendance Report: %s", class.Name))
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf report")
		}
		return &Report{
			Content:     content,
			ContentType: "application/pdf",
			Filename:    fmt.Sprintf("attendance_%s_%s.pdf", classID, stamp),
		}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
}
