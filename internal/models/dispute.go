package models

import "time"

// DisputeStatus tracks dispute resolution.
type DisputeStatus string

const (
	DisputePending  DisputeStatus = "pending"
	DisputeApproved DisputeStatus = "approved"
	DisputeRejected DisputeStatus = "rejected"
)

// Dispute is a student-initiated request to reclassify a past outcome.
// The store enforces at most one pending dispute per attendance record.
type Dispute struct {
	ID             string           `db:"id" json:"id"`
	AttendanceID   string           `db:"attendance_id" json:"attendance_id"`
	StudentID      string           `db:"student_id" json:"student_id"`
	ClassID        string           `db:"class_id" json:"class_id"`
	OriginalStatus AttendanceStatus `db:"original_status" json:"original_status"`
	Reason         string           `db:"reason" json:"reason"`
	Status         DisputeStatus    `db:"status" json:"status"`
	TeacherComment *string          `db:"teacher_comment" json:"teacher_comment,omitempty"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at" json:"updated_at"`
}
