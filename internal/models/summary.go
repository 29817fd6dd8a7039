package models

import "time"

// AttendanceSummary is the rolling aggregate for one (student, class) pair
// across every session of that class. Invariant:
// PresentCount+LateCount+AbsentCount == TotalSessions. Percentage is always
// recomputed from the buckets, never stored independently. Version backs
// compare-and-set updates; the store rejects stale writers.
type AttendanceSummary struct {
	ID             string    `db:"id" json:"id"`
	StudentID      string    `db:"student_id" json:"student_id"`
	ClassID        string    `db:"class_id" json:"class_id"`
	PresentCount   int       `db:"present_count" json:"present_count"`
	LateCount      int       `db:"late_count" json:"late_count"`
	AbsentCount    int       `db:"absent_count" json:"absent_count"`
	TotalSessions  int       `db:"total_sessions" json:"total_sessions"`
	Percentage     int       `db:"percentage" json:"percentage"`
	BelowThreshold bool      `db:"below_threshold" json:"below_threshold"`
	MinAttendance  int       `db:"min_attendance" json:"min_attendance"`
	Version        int       `db:"version" json:"-"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// AttendanceSummaryRow joins the summary with student metadata for reports.
type AttendanceSummaryRow struct {
	AttendanceSummary
	StudentName string  `db:"student_name" json:"student_name"`
	RollNumber  *string `db:"roll_number" json:"roll_number,omitempty"`
}
