package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campuskit/attendance-api/internal/models"
	"github.com/campuskit/attendance-api/internal/repository"
	appErrors "github.com/campuskit/attendance-api/pkg/errors"
)

// mockDisputeRepo enforces the one-pending-dispute-per-record rule.
type mockDisputeRepo struct {
	disputes []*models.Dispute
}

func (m *mockDisputeRepo) Create(_ context.Context, dispute *models.Dispute) error {
	for _, existing := range m.disputes {
		if existing.AttendanceID == dispute.AttendanceID && existing.Status == models.DisputePending {
			return repository.ErrDuplicatePendingDispute
		}
	}
	dispute.ID = fmt.Sprintf("disp-%d", len(m.disputes)+1)
	dispute.Status = models.DisputePending
	clone := *dispute
	m.disputes = append(m.disputes, &clone)
	return nil
}

func (m *mockDisputeRepo) FindByID(_ context.Context, id string) (*models.Dispute, error) {
	for _, dispute := range m.disputes {
		if dispute.ID == id {
			clone := *dispute
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockDisputeRepo) List(_ context.Context, classID string, status *models.DisputeStatus) ([]models.Dispute, error) {
	var out []models.Dispute
	for _, dispute := range m.disputes {
		if dispute.ClassID != classID {
			continue
		}
		if status != nil && dispute.Status != *status {
			continue
		}
		out = append(out, *dispute)
	}
	return out, nil
}

func (m *mockDisputeRepo) Resolve(_ context.Context, id string, status models.DisputeStatus, comment *string) error {
	for _, dispute := range m.disputes {
		if dispute.ID != id {
			continue
		}
		if dispute.Status != models.DisputePending {
			return repository.ErrDisputeNotPending
		}
		dispute.Status = status
		dispute.TeacherComment = comment
		return nil
	}
	return sql.ErrNoRows
}

// recordingReclassifier captures synchronous aggregate corrections.
type recordingReclassifier struct {
	calls []SummaryReclassifyPayload
	err   error
}

func (r *recordingReclassifier) Reclassify(_ context.Context, studentID, classID string, from, to models.AttendanceStatus) error {
	if r.err != nil {
		return r.err
	}
	r.calls = append(r.calls, SummaryReclassifyPayload{StudentID: studentID, ClassID: classID, From: from, To: to})
	return nil
}

type disputeFixture struct {
	svc        *DisputeService
	disputes   *mockDisputeRepo
	records    *mockAttendanceRepo
	reclassify *recordingReclassifier
	sink       *recordingSink
}

func newDisputeFixture() *disputeFixture {
	disputes := &mockDisputeRepo{}
	records := newMockAttendanceRepo()
	roster := newMockRosterRepo()
	roster.classes["c1"] = models.Class{ID: "c1", TeacherID: "t1"}
	reclassify := &recordingReclassifier{}
	sink := &recordingSink{}
	svc := NewDisputeService(disputes, records, roster, reclassify, sink, zap.NewNop())
	return &disputeFixture{svc: svc, disputes: disputes, records: records, reclassify: reclassify, sink: sink}
}

func (f *disputeFixture) seedRecord(t *testing.T, id, studentID string, status models.AttendanceStatus) {
	t.Helper()
	require.NoError(t, f.records.Insert(context.Background(), &models.AttendanceRecord{
		ID: id, SessionID: "sess-1", ClassID: "c1", StudentID: studentID, Status: status,
	}))
}

func TestRaiseDispute(t *testing.T) {
	f := newDisputeFixture()
	f.seedRecord(t, "rec-1", "s1", models.StatusAbsent)

	dispute, err := f.svc.Raise(context.Background(), RaiseDisputeRequest{
		AttendanceID: "rec-1", Reason: "I was in class, scanner failed",
	}, studentClaims("s1"))
	require.NoError(t, err)
	assert.Equal(t, models.DisputePending, dispute.Status)
	assert.Equal(t, models.StatusAbsent, dispute.OriginalStatus)
	require.Len(t, f.sink.audits, 1)
	assert.Equal(t, "dispute.raise", f.sink.audits[0].Action)
}

func TestRaiseDisputeOnPresentRecordRejected(t *testing.T) {
	f := newDisputeFixture()
	f.seedRecord(t, "rec-1", "s1", models.StatusPresent)

	_, err := f.svc.Raise(context.Background(), RaiseDisputeRequest{
		AttendanceID: "rec-1", Reason: "still want to dispute",
	}, studentClaims("s1"))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestRaiseDisputeForOtherStudentForbidden(t *testing.T) {
	f := newDisputeFixture()
	f.seedRecord(t, "rec-1", "s1", models.StatusAbsent)

	_, err := f.svc.Raise(context.Background(), RaiseDisputeRequest{
		AttendanceID: "rec-1", Reason: "not my record",
	}, studentClaims("s2"))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestRaiseDuplicatePendingDispute(t *testing.T) {
	f := newDisputeFixture()
	f.seedRecord(t, "rec-1", "s1", models.StatusAbsent)
	ctx := context.Background()

	_, err := f.svc.Raise(ctx, RaiseDisputeRequest{AttendanceID: "rec-1", Reason: "scanner failed"}, studentClaims("s1"))
	require.NoError(t, err)

	_, err = f.svc.Raise(ctx, RaiseDisputeRequest{AttendanceID: "rec-1", Reason: "raising again"}, studentClaims("s1"))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestResolveApprovedCorrectsRecordAndAggregate(t *testing.T) {
	f := newDisputeFixture()
	f.seedRecord(t, "rec-1", "s1", models.StatusAbsent)
	ctx := context.Background()

	raised, err := f.svc.Raise(ctx, RaiseDisputeRequest{AttendanceID: "rec-1", Reason: "scanner failed"}, studentClaims("s1"))
	require.NoError(t, err)

	resolved, err := f.svc.Resolve(ctx, raised.ID, ResolveDisputeRequest{
		Approved: boolPtr(true), Comment: "verified against the seating chart",
	}, teacherClaims("t1"))
	require.NoError(t, err)
	assert.Equal(t, models.DisputeApproved, resolved.Status)

	record, err := f.records.FindByID(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPresent, record.Status)
	require.NotNil(t, record.TeacherApproved)
	assert.True(t, *record.TeacherApproved)

	// The aggregate correction happens before Resolve returns, not on the
	// events queue.
	require.Len(t, f.reclassify.calls, 1)
	call := f.reclassify.calls[0]
	assert.Equal(t, "s1", call.StudentID)
	assert.Equal(t, models.StatusAbsent, call.From)
	assert.Equal(t, models.StatusPresent, call.To)

	require.Len(t, f.sink.notifies, 1)
	assert.Equal(t, "Dispute approved", f.sink.notifies[0].Title)
}

func TestResolveRejectedLeavesRecordAlone(t *testing.T) {
	f := newDisputeFixture()
	f.seedRecord(t, "rec-1", "s1", models.StatusLate)
	ctx := context.Background()

	raised, err := f.svc.Raise(ctx, RaiseDisputeRequest{AttendanceID: "rec-1", Reason: "scanner failed"}, studentClaims("s1"))
	require.NoError(t, err)

	resolved, err := f.svc.Resolve(ctx, raised.ID, ResolveDisputeRequest{Approved: boolPtr(false)}, teacherClaims("t1"))
	require.NoError(t, err)
	assert.Equal(t, models.DisputeRejected, resolved.Status)

	record, err := f.records.FindByID(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusLate, record.Status)
	assert.Empty(t, f.reclassify.calls)
}

func TestResolveTwiceConflicts(t *testing.T) {
	f := newDisputeFixture()
	f.seedRecord(t, "rec-1", "s1", models.StatusAbsent)
	ctx := context.Background()

	raised, err := f.svc.Raise(ctx, RaiseDisputeRequest{AttendanceID: "rec-1", Reason: "scanner failed"}, studentClaims("s1"))
	require.NoError(t, err)

	_, err = f.svc.Resolve(ctx, raised.ID, ResolveDisputeRequest{Approved: boolPtr(false)}, teacherClaims("t1"))
	require.NoError(t, err)

	_, err = f.svc.Resolve(ctx, raised.ID, ResolveDisputeRequest{Approved: boolPtr(true)}, teacherClaims("t1"))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestResolveRequiresClassOwner(t *testing.T) {
	f := newDisputeFixture()
	f.seedRecord(t, "rec-1", "s1", models.StatusAbsent)
	ctx := context.Background()

	raised, err := f.svc.Raise(ctx, RaiseDisputeRequest{AttendanceID: "rec-1", Reason: "scanner failed"}, studentClaims("s1"))
	require.NoError(t, err)

	_, err = f.svc.Resolve(ctx, raised.ID, ResolveDisputeRequest{Approved: boolPtr(true)}, teacherClaims("other-teacher"))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotOwner))
}

func TestResolveSummaryFailureSurfaces(t *testing.T) {
	f := newDisputeFixture()
	f.seedRecord(t, "rec-1", "s1", models.StatusAbsent)
	f.reclassify.err = fmt.Errorf("store down")
	ctx := context.Background()

	raised, err := f.svc.Raise(ctx, RaiseDisputeRequest{AttendanceID: "rec-1", Reason: "scanner failed"}, studentClaims("s1"))
	require.NoError(t, err)

	_, err = f.svc.Resolve(ctx, raised.ID, ResolveDisputeRequest{Approved: boolPtr(true)}, teacherClaims("t1"))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInternal))
}

func TestListDisputesFiltersByStatus(t *testing.T) {
	f := newDisputeFixture()
	f.seedRecord(t, "rec-1", "s1", models.StatusAbsent)
	f.seedRecord(t, "rec-2", "s2", models.StatusLate)
	ctx := context.Background()

	first, err := f.svc.Raise(ctx, RaiseDisputeRequest{AttendanceID: "rec-1", Reason: "scanner failed"}, studentClaims("s1"))
	require.NoError(t, err)
	_, err = f.svc.Raise(ctx, RaiseDisputeRequest{AttendanceID: "rec-2", Reason: "arrived on time"}, studentClaims("s2"))
	require.NoError(t, err)
	_, err = f.svc.Resolve(ctx, first.ID, ResolveDisputeRequest{Approved: boolPtr(false)}, teacherClaims("t1"))
	require.NoError(t, err)

	pending := models.DisputePending
	disputes, err := f.svc.List(ctx, "c1", &pending, teacherClaims("t1"))
	require.NoError(t, err)
	require.Len(t, disputes, 1)
	assert.Equal(t, "rec-2", disputes[0].AttendanceID)
}

func TestListDisputesRequiresOwner(t *testing.T) {
	f := newDisputeFixture()

	_, err := f.svc.List(context.Background(), "c1", nil, teacherClaims("other"))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotOwner))
}
