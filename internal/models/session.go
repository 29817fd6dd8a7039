package models

import "time"

// SessionMethod identifies the proof mechanism configured for a session.
type SessionMethod string

const (
	MethodQR        SessionMethod = "qr"
	MethodGPS       SessionMethod = "gps"
	MethodNetwork   SessionMethod = "network"
	MethodBluetooth SessionMethod = "bluetooth"
)

// Valid returns true when the method is a supported value.
func (m SessionMethod) Valid() bool {
	switch m {
	case MethodQR, MethodGPS, MethodNetwork, MethodBluetooth:
		return true
	default:
		return false
	}
}

// SessionStatus tracks the session lifecycle.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

// Session is one attendance-taking window for a class meeting.
// At most one active session may exist per class; the constraint lives in
// the store (partial unique index) so concurrent starts cannot both win.
type Session struct {
	ID               string        `db:"id" json:"id"`
	ClassID          string        `db:"class_id" json:"class_id"`
	TeacherID        string        `db:"teacher_id" json:"teacher_id"`
	Method           SessionMethod `db:"method" json:"method"`
	Status           SessionStatus `db:"status" json:"status"`
	QRToken          *string       `db:"qr_token" json:"qr_token,omitempty"`
	QRRefreshSeconds *int          `db:"qr_refresh_seconds" json:"qr_refresh_seconds,omitempty"`
	CenterLat        *float64      `db:"center_lat" json:"center_lat,omitempty"`
	CenterLng        *float64      `db:"center_lng" json:"center_lng,omitempty"`
	RadiusMeters     *float64      `db:"radius_meters" json:"radius_meters,omitempty"`
	ExpectedSSID     *string       `db:"expected_ssid" json:"expected_ssid,omitempty"`
	BeaconCode       *string       `db:"beacon_code" json:"beacon_code,omitempty"`
	LateAfterMinutes int           `db:"late_after_minutes" json:"late_after_minutes"`
	EnrolledCount    int           `db:"enrolled_count" json:"enrolled_count"`
	StartedAt        time.Time     `db:"started_at" json:"started_at"`
	EndedAt          *time.Time    `db:"ended_at" json:"ended_at,omitempty"`
	CreatedAt        time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time     `db:"updated_at" json:"updated_at"`
}

// Elapsed returns the time since the session started.
func (s *Session) Elapsed(now time.Time) time.Duration {
	return now.Sub(s.StartedAt)
}

// Redacted returns a copy of the session with the method secrets removed.
// The QR token, expected SSID and beacon code are the proof a student has to
// present, so only the owning teacher may read them back.
func (s *Session) Redacted() *Session {
	clone := *s
	clone.QRToken = nil
	clone.ExpectedSSID = nil
	clone.BeaconCode = nil
	return &clone
}

// SweepResult summarises the reconciliation performed when a session ends.
type SweepResult struct {
	TotalPresent    int `json:"total_present"`
	TotalLate       int `json:"total_late"`
	TotalAbsent     int `json:"total_absent"`
	NewAbsentMarked int `json:"new_absent_marked"`
}
