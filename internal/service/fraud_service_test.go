package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campuskit/attendance-api/internal/models"
	"github.com/campuskit/attendance-api/pkg/config"
	appErrors "github.com/campuskit/attendance-api/pkg/errors"
)

func newFraudService(flags *mockFraudRepo, records *mockAttendanceRepo) *FraudService {
	cfg := config.FraudConfig{RapidRescanWindow: 10 * time.Second, ProximityThreshold: 2.0}
	return NewFraudService(flags, records, cfg, nil, zap.NewNop())
}

func TestDeviceReuseBlocksSecondStudent(t *testing.T) {
	flags := &mockFraudRepo{}
	records := newMockAttendanceRepo()
	svc := newFraudService(flags, records)
	session := &models.Session{ID: "sess-1", ClassID: "c1"}

	device := "device-1"
	require.NoError(t, records.Insert(context.Background(), &models.AttendanceRecord{
		SessionID: "sess-1", StudentID: "s1", Status: models.StatusPresent, DeviceID: &device,
	}))

	err := svc.CheckDeviceReuse(context.Background(), session, "s2", "device-1")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrFraudBlocked))

	require.Len(t, flags.flags, 1)
	flag := flags.flags[0]
	assert.Equal(t, models.FraudDuplicateDevice, flag.Type)
	assert.Equal(t, models.AutoActionBlocked, flag.AutoAction)
	assert.ElementsMatch(t, []string{"s1", "s2"}, []string(flag.SuspectedStudentIDs))
}

func TestDeviceReuseAllowsSameStudent(t *testing.T) {
	flags := &mockFraudRepo{}
	records := newMockAttendanceRepo()
	svc := newFraudService(flags, records)
	session := &models.Session{ID: "sess-1", ClassID: "c1"}

	device := "device-1"
	require.NoError(t, records.Insert(context.Background(), &models.AttendanceRecord{
		ID: "rec-1", SessionID: "sess-1", StudentID: "s1", Status: models.StatusFaceFailed, DeviceID: &device,
	}))

	require.NoError(t, svc.CheckDeviceReuse(context.Background(), session, "s1", "device-1"))
	assert.Empty(t, flags.flags)
}

func TestDeviceReuseSkipsEmptyDevice(t *testing.T) {
	svc := newFraudService(&mockFraudRepo{}, newMockAttendanceRepo())
	session := &models.Session{ID: "sess-1"}
	require.NoError(t, svc.CheckDeviceReuse(context.Background(), session, "s1", ""))
}

func TestRapidRescanBlocksWithinWindow(t *testing.T) {
	flags := &mockFraudRepo{}
	svc := newFraudService(flags, newMockAttendanceRepo())
	session := &models.Session{ID: "sess-1"}
	now := time.Now().UTC()

	existing := &models.AttendanceRecord{
		ID: "rec-1", SessionID: "sess-1", StudentID: "s1",
		Status: models.StatusFaceFailed, JoinedAt: now.Add(-5 * time.Second),
	}
	err := svc.CheckRapidRescan(context.Background(), session, existing, now)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrDuplicateScan))
	require.Len(t, flags.flags, 1)
	assert.Equal(t, models.FraudRapidScan, flags.flags[0].Type)
}

func TestRapidRescanAllowsAfterWindow(t *testing.T) {
	svc := newFraudService(&mockFraudRepo{}, newMockAttendanceRepo())
	session := &models.Session{ID: "sess-1"}
	now := time.Now().UTC()

	existing := &models.AttendanceRecord{
		ID: "rec-1", SessionID: "sess-1", StudentID: "s1",
		Status: models.StatusFaceFailed, JoinedAt: now.Add(-15 * time.Second),
	}
	require.NoError(t, svc.CheckRapidRescan(context.Background(), session, existing, now))
}

func TestRapidRescanAllowsFirstAttempt(t *testing.T) {
	svc := newFraudService(&mockFraudRepo{}, newMockAttendanceRepo())
	require.NoError(t, svc.CheckRapidRescan(context.Background(), &models.Session{ID: "sess-1"}, nil, time.Now()))
}

func TestFlagWriteFailureDoesNotBlockMark(t *testing.T) {
	flags := &mockFraudRepo{createErr: errors.New("store down")}
	records := newMockAttendanceRepo()
	svc := newFraudService(flags, records)
	session := &models.Session{ID: "sess-1"}

	device := "device-1"
	require.NoError(t, records.Insert(context.Background(), &models.AttendanceRecord{
		SessionID: "sess-1", StudentID: "s1", Status: models.StatusPresent, DeviceID: &device,
	}))

	// The heuristic hit still blocks; only flag persistence is best-effort.
	err := svc.CheckDeviceReuse(context.Background(), session, "s2", "device-1")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrFraudBlocked))
}

func TestProximityFlagsClusteredPair(t *testing.T) {
	flags := &mockFraudRepo{}
	records := newMockAttendanceRepo()
	svc := newFraudService(flags, records)
	ctx := context.Background()

	require.NoError(t, records.Insert(ctx, &models.AttendanceRecord{
		ID: "rec-a", SessionID: "sess-1", StudentID: "s1", Status: models.StatusPresent,
		Lat: floatPtr(19.0760000), Lng: floatPtr(72.8777000),
	}))
	// Under a meter away from rec-a.
	require.NoError(t, records.Insert(ctx, &models.AttendanceRecord{
		ID: "rec-b", SessionID: "sess-1", StudentID: "s2", Status: models.StatusPresent,
		Lat: floatPtr(19.076000), Lng: floatPtr(72.8777005),
	}))

	require.NoError(t, svc.CheckProximity(ctx, "sess-1", "rec-b"))
	require.Len(t, flags.flags, 1)
	flag := flags.flags[0]
	assert.Equal(t, models.FraudGPSProximity, flag.Type)
	assert.Equal(t, models.AutoActionFlagged, flag.AutoAction)
	assert.ElementsMatch(t, []string{"s1", "s2"}, []string(flag.SuspectedStudentIDs))
}

func TestProximityIgnoresDistantRecords(t *testing.T) {
	flags := &mockFraudRepo{}
	records := newMockAttendanceRepo()
	svc := newFraudService(flags, records)
	ctx := context.Background()

	require.NoError(t, records.Insert(ctx, &models.AttendanceRecord{
		ID: "rec-a", SessionID: "sess-1", StudentID: "s1", Status: models.StatusPresent,
		Lat: floatPtr(19.076), Lng: floatPtr(72.8777),
	}))
	require.NoError(t, records.Insert(ctx, &models.AttendanceRecord{
		ID: "rec-b", SessionID: "sess-1", StudentID: "s2", Status: models.StatusPresent,
		Lat: floatPtr(19.0765), Lng: floatPtr(72.8777),
	}))

	require.NoError(t, svc.CheckProximity(ctx, "sess-1", "rec-b"))
	assert.Empty(t, flags.flags)
}

func TestProximitySkipsMissingRecord(t *testing.T) {
	svc := newFraudService(&mockFraudRepo{}, newMockAttendanceRepo())
	require.NoError(t, svc.CheckProximity(context.Background(), "sess-1", "gone"))
}

func TestReviewFlagRejectsBadStatus(t *testing.T) {
	svc := newFraudService(&mockFraudRepo{}, newMockAttendanceRepo())
	err := svc.ReviewFlag(context.Background(), "f1", models.FraudPending, nil)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestReviewFlagResolvesPending(t *testing.T) {
	flags := &mockFraudRepo{flags: []models.FraudFlag{{ID: "f1", SessionID: "sess-1", Status: models.FraudPending}}}
	svc := newFraudService(flags, newMockAttendanceRepo())

	require.NoError(t, svc.ReviewFlag(context.Background(), "f1", models.FraudDismissed, strPtr("false alarm")))
	assert.Equal(t, models.FraudDismissed, flags.flags[0].Status)
}
