package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/campuskit/attendance-api/internal/models"
	"github.com/campuskit/attendance-api/internal/repository"
)

// recordingSink captures outbound events instead of queueing them.
type recordingSink struct {
	mu          sync.Mutex
	events      []SummaryEventPayload
	reclassifes []SummaryReclassifyPayload
	proximity   []ProximityCheckPayload
	audits      []AuditPayload
	notifies    []NotifyPayload
}

func (r *recordingSink) SummaryEvent(studentID, classID string, status models.AttendanceStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, SummaryEventPayload{StudentID: studentID, ClassID: classID, Status: status})
}

func (r *recordingSink) SummaryReclassify(studentID, classID string, from, to models.AttendanceStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reclassifes = append(r.reclassifes, SummaryReclassifyPayload{StudentID: studentID, ClassID: classID, From: from, To: to})
}

func (r *recordingSink) ProximityCheck(sessionID, recordID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.proximity = append(r.proximity, ProximityCheckPayload{SessionID: sessionID, RecordID: recordID})
}

func (r *recordingSink) Audit(actorID, action, entity, entityID string, detail map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audits = append(r.audits, AuditPayload{ActorID: actorID, Action: action, Entity: entity, EntityID: entityID, Detail: detail})
}

func (r *recordingSink) Notify(recipientID, title, body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifies = append(r.notifies, NotifyPayload{RecipientID: recipientID, Title: title, Body: body})
}

func summaryKey(studentID, classID string) string {
	return studentID + "|" + classID
}

// mockSummaryRepo is an in-memory summary store with CAS semantics and a
// knob to force version conflicts.
type mockSummaryRepo struct {
	summaries      map[string]*models.AttendanceSummary
	forceConflicts int
	updates        int
}

func newMockSummaryRepo() *mockSummaryRepo {
	return &mockSummaryRepo{summaries: make(map[string]*models.AttendanceSummary)}
}

func (m *mockSummaryRepo) Get(_ context.Context, studentID, classID string) (*models.AttendanceSummary, error) {
	if s, ok := m.summaries[summaryKey(studentID, classID)]; ok {
		clone := *s
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockSummaryRepo) Create(_ context.Context, summary *models.AttendanceSummary) error {
	key := summaryKey(summary.StudentID, summary.ClassID)
	if _, ok := m.summaries[key]; ok {
		return repository.ErrSummaryExists
	}
	summary.ID = "sum-" + key
	summary.Version = 1
	clone := *summary
	m.summaries[key] = &clone
	return nil
}

func (m *mockSummaryRepo) UpdateCAS(_ context.Context, summary *models.AttendanceSummary) error {
	if m.forceConflicts > 0 {
		m.forceConflicts--
		return repository.ErrVersionConflict
	}
	key := summaryKey(summary.StudentID, summary.ClassID)
	stored, ok := m.summaries[key]
	if !ok || stored.Version != summary.Version {
		return repository.ErrVersionConflict
	}
	clone := *summary
	clone.Version++
	m.summaries[key] = &clone
	m.updates++
	return nil
}

func (m *mockSummaryRepo) ListByClass(_ context.Context, classID string) ([]models.AttendanceSummaryRow, error) {
	var rows []models.AttendanceSummaryRow
	for _, s := range m.summaries {
		if s.ClassID == classID {
			rows = append(rows, models.AttendanceSummaryRow{AttendanceSummary: *s, StudentName: "Student " + s.StudentID})
		}
	}
	return rows, nil
}

// mockRosterRepo serves class ownership, enrollment and counts.
type mockRosterRepo struct {
	classes  map[string]models.Class
	enrolled map[string][]string
}

func newMockRosterRepo() *mockRosterRepo {
	return &mockRosterRepo{classes: make(map[string]models.Class), enrolled: make(map[string][]string)}
}

func (m *mockRosterRepo) ClassByID(_ context.Context, id string) (*models.Class, error) {
	if c, ok := m.classes[id]; ok {
		clone := c
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockRosterRepo) IsEnrolled(_ context.Context, classID, studentID string) (bool, error) {
	for _, id := range m.enrolled[classID] {
		if id == studentID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRosterRepo) EnrolledCount(_ context.Context, classID string) (int, error) {
	return len(m.enrolled[classID]), nil
}

// mockSessionRepo is an in-memory session store honoring the one-active-
// session-per-class constraint.
type mockSessionRepo struct {
	sessions map[string]*models.Session
	rotated  []string
}

func newMockSessionRepo() *mockSessionRepo {
	return &mockSessionRepo{sessions: make(map[string]*models.Session)}
}

func (m *mockSessionRepo) Create(_ context.Context, session *models.Session) error {
	for _, existing := range m.sessions {
		if existing.ClassID == session.ClassID && existing.Status == models.SessionActive {
			return repository.ErrDuplicateActiveSession
		}
	}
	if session.ID == "" {
		session.ID = fmt.Sprintf("sess-%d", len(m.sessions)+1)
	}
	session.Status = models.SessionActive
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now().UTC()
	}
	clone := *session
	m.sessions[session.ID] = &clone
	return nil
}

func (m *mockSessionRepo) FindByID(_ context.Context, id string) (*models.Session, error) {
	if s, ok := m.sessions[id]; ok {
		clone := *s
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockSessionRepo) FindActiveByClass(_ context.Context, classID string) (*models.Session, error) {
	for _, s := range m.sessions {
		if s.ClassID == classID && s.Status == models.SessionActive {
			clone := *s
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockSessionRepo) RotateQR(_ context.Context, id, token string) error {
	s, ok := m.sessions[id]
	if !ok || s.Status != models.SessionActive || s.Method != models.MethodQR {
		return repository.ErrSessionNotActive
	}
	s.QRToken = &token
	m.rotated = append(m.rotated, id)
	return nil
}

func (m *mockSessionRepo) MarkEnded(_ context.Context, id string, endedAt time.Time) error {
	s, ok := m.sessions[id]
	if !ok || s.Status != models.SessionActive {
		return repository.ErrSessionNotActive
	}
	s.Status = models.SessionEnded
	s.EndedAt = &endedAt
	return nil
}

// mockAttendanceRepo is an in-memory record store keyed on
// (session, student).
type mockAttendanceRepo struct {
	records      map[string]*models.AttendanceRecord
	replaced     []string
	resolutions  []string
	sweepOutcome *repository.SweepOutcome
	sweepErr     error
}

func newMockAttendanceRepo() *mockAttendanceRepo {
	return &mockAttendanceRepo{records: make(map[string]*models.AttendanceRecord)}
}

func recordKey(sessionID, studentID string) string {
	return sessionID + "|" + studentID
}

func (m *mockAttendanceRepo) Insert(_ context.Context, record *models.AttendanceRecord) error {
	key := recordKey(record.SessionID, record.StudentID)
	if _, ok := m.records[key]; ok {
		return repository.ErrDuplicateRecord
	}
	if record.ID == "" {
		record.ID = "rec-" + key
	}
	clone := *record
	m.records[key] = &clone
	return nil
}

func (m *mockAttendanceRepo) ReplaceFaceFailed(_ context.Context, record *models.AttendanceRecord) error {
	for key, existing := range m.records {
		if existing.ID != record.ID {
			continue
		}
		if existing.Status != models.StatusFaceFailed {
			return repository.ErrDuplicateRecord
		}
		clone := *record
		m.records[key] = &clone
		m.replaced = append(m.replaced, record.ID)
		return nil
	}
	return repository.ErrDuplicateRecord
}

func (m *mockAttendanceRepo) FindByID(_ context.Context, id string) (*models.AttendanceRecord, error) {
	for _, record := range m.records {
		if record.ID == id {
			clone := *record
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAttendanceRepo) FindBySessionStudent(_ context.Context, sessionID, studentID string) (*models.AttendanceRecord, error) {
	if record, ok := m.records[recordKey(sessionID, studentID)]; ok {
		clone := *record
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAttendanceRepo) FindByDevice(_ context.Context, sessionID, deviceID string) ([]models.AttendanceRecord, error) {
	var out []models.AttendanceRecord
	for _, record := range m.records {
		if record.SessionID == sessionID && record.DeviceID != nil && *record.DeviceID == deviceID {
			out = append(out, *record)
		}
	}
	return out, nil
}

func (m *mockAttendanceRepo) ListWithCoordinates(_ context.Context, sessionID, excludeID string) ([]models.AttendanceRecord, error) {
	var out []models.AttendanceRecord
	for _, record := range m.records {
		if record.SessionID != sessionID || record.ID == excludeID {
			continue
		}
		if record.Lat == nil || record.Lng == nil {
			continue
		}
		if record.Status != models.StatusPresent && record.Status != models.StatusLate {
			continue
		}
		out = append(out, *record)
	}
	return out, nil
}

func (m *mockAttendanceRepo) ListBySession(_ context.Context, sessionID string) ([]models.AttendanceRecordDetail, error) {
	var out []models.AttendanceRecordDetail
	for _, record := range m.records {
		if record.SessionID == sessionID {
			out = append(out, models.AttendanceRecordDetail{AttendanceRecord: *record})
		}
	}
	return out, nil
}

func (m *mockAttendanceRepo) UpdateResolution(_ context.Context, id string, status models.AttendanceStatus, approved bool) error {
	for _, record := range m.records {
		if record.ID == id {
			record.Status = status
			record.TeacherApproved = &approved
			record.AutoAbsent = false
			m.resolutions = append(m.resolutions, id)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *mockAttendanceRepo) Sweep(_ context.Context, _ *models.Session, _ time.Time) (*repository.SweepOutcome, error) {
	if m.sweepErr != nil {
		return nil, m.sweepErr
	}
	if m.sweepOutcome != nil {
		return m.sweepOutcome, nil
	}
	return &repository.SweepOutcome{Counts: map[models.AttendanceStatus]int{}}, nil
}

// mockFraudRepo collects created flags.
type mockFraudRepo struct {
	flags     []models.FraudFlag
	createErr error
}

func (m *mockFraudRepo) Create(_ context.Context, flag *models.FraudFlag) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.flags = append(m.flags, *flag)
	return nil
}

func (m *mockFraudRepo) List(_ context.Context, sessionID string, status *models.FraudFlagStatus) ([]models.FraudFlag, error) {
	var out []models.FraudFlag
	for _, flag := range m.flags {
		if flag.SessionID != sessionID {
			continue
		}
		if status != nil && flag.Status != *status {
			continue
		}
		out = append(out, flag)
	}
	return out, nil
}

func (m *mockFraudRepo) Review(_ context.Context, id string, status models.FraudFlagStatus, notes *string) error {
	for i := range m.flags {
		if m.flags[i].ID == id && m.flags[i].Status == models.FraudPending {
			m.flags[i].Status = status
			if notes != nil {
				m.flags[i].Notes = notes
			}
			return nil
		}
	}
	return sql.ErrNoRows
}

// passFraud is a fraud checker that never objects.
type passFraud struct{}

func (passFraud) CheckDeviceReuse(context.Context, *models.Session, string, string) error {
	return nil
}

func (passFraud) CheckRapidRescan(context.Context, *models.Session, *models.AttendanceRecord, time.Time) error {
	return nil
}

func teacherClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleTeacher, FullName: "Teacher " + id}
}

func studentClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleStudent, FullName: "Student " + id}
}
