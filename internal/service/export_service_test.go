package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campuskit/attendance-api/internal/models"
	appErrors "github.com/campuskit/attendance-api/pkg/errors"
)

func newExportFixture(enabled bool) (*ExportService, *mockSummaryRepo) {
	summaries := newMockSummaryRepo()
	roster := newMockRosterRepo()
	roster.classes["c1"] = models.Class{ID: "c1", TeacherID: "t1", Name: "Physics 101"}
	return NewExportService(summaries, roster, enabled, zap.NewNop()), summaries
}

func TestClassReportCSV(t *testing.T) {
	svc, summaries := newExportFixture(true)
	summaries.summaries[summaryKey("s1", "c1")] = &models.AttendanceSummary{
		StudentID: "s1", ClassID: "c1",
		PresentCount: 8, LateCount: 1, AbsentCount: 1, TotalSessions: 10,
		Percentage: 90,
	}

	report, err := svc.ClassReport(context.Background(), "c1", "csv", teacherClaims("t1"))
	require.NoError(t, err)
	assert.Equal(t, "text/csv", report.ContentType)
	assert.True(t, strings.HasSuffix(report.Filename, ".csv"))

	content := string(report.Content)
	lines := strings.Split(strings.TrimSpace(content), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "Student")
	assert.Contains(t, lines[0], "Percentage")
	assert.Contains(t, lines[1], "Student s1")
	assert.Contains(t, lines[1], "90%")
	assert.Contains(t, lines[1], "no")
}

func TestClassReportPDF(t *testing.T) {
	svc, summaries := newExportFixture(true)
	summaries.summaries[summaryKey("s1", "c1")] = &models.AttendanceSummary{
		StudentID: "s1", ClassID: "c1", PresentCount: 5, TotalSessions: 5, Percentage: 100,
	}

	report, err := svc.ClassReport(context.Background(), "c1", "pdf", teacherClaims("t1"))
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", report.ContentType)
	assert.True(t, strings.HasPrefix(string(report.Content), "%PDF"))
}

func TestClassReportUnknownFormat(t *testing.T) {
	svc, _ := newExportFixture(true)
	_, err := svc.ClassReport(context.Background(), "c1", "xlsx", teacherClaims("t1"))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestClassReportDisabled(t *testing.T) {
	svc, _ := newExportFixture(false)
	_, err := svc.ClassReport(context.Background(), "c1", "csv", teacherClaims("t1"))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestClassReportRequiresOwner(t *testing.T) {
	svc, _ := newExportFixture(true)
	_, err := svc.ClassReport(context.Background(), "c1", "csv", teacherClaims("other"))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotOwner))
}
