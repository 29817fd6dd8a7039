package models

import "time"

// AttendanceStatus represents the status for attendance records.
type AttendanceStatus string

const (
	StatusFaceFailed AttendanceStatus = "face_failed"
	StatusLate       AttendanceStatus = "late"
	StatusPresent    AttendanceStatus = "present"
	StatusAbsent     AttendanceStatus = "absent"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case StatusFaceFailed, StatusLate, StatusPresent, StatusAbsent:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status blocks further marking attempts.
// A face_failed record is the only one a student may retry in place.
func (s AttendanceStatus) Terminal() bool {
	return s != StatusFaceFailed
}

// AttendanceRecord is one student's outcome for one session. The store
// enforces uniqueness on (session_id, student_id), so a second concurrent
// mark loses at insert time rather than at an application-level check.
type AttendanceRecord struct {
	ID              string           `db:"id" json:"id"`
	SessionID       string           `db:"session_id" json:"session_id"`
	ClassID         string           `db:"class_id" json:"class_id"`
	StudentID       string           `db:"student_id" json:"student_id"`
	Status          AttendanceStatus `db:"status" json:"status"`
	Method          SessionMethod    `db:"method" json:"method"`
	FaceVerified    bool             `db:"face_verified" json:"face_verified"`
	TeacherApproved *bool            `db:"teacher_approved" json:"teacher_approved"`
	AutoAbsent      bool             `db:"auto_absent" json:"auto_absent"`
	DeviceID        *string          `db:"device_id" json:"device_id,omitempty"`
	Lat             *float64         `db:"lat" json:"lat,omitempty"`
	Lng             *float64         `db:"lng" json:"lng,omitempty"`
	JoinedAt        time.Time        `db:"joined_at" json:"joined_at"`
	MarkedAt        time.Time        `db:"marked_at" json:"marked_at"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updated_at"`
}

// AttendanceRecordDetail joins the record with student metadata for rolls.
type AttendanceRecordDetail struct {
	AttendanceRecord
	StudentName string  `db:"student_name" json:"student_name"`
	RollNumber  *string `db:"roll_number" json:"roll_number,omitempty"`
}
