package models

// Class describes the roster view of one class.
type Class struct {
	ID            string `db:"id" json:"id"`
	Name          string `db:"name" json:"name"`
	TeacherID     string `db:"teacher_id" json:"teacher_id"`
	MinAttendance int    `db:"min_attendance" json:"min_attendance"`
}

// Student describes the roster view of one student.
type Student struct {
	ID         string  `db:"id" json:"id"`
	FullName   string  `db:"full_name" json:"full_name"`
	RollNumber *string `db:"roll_number" json:"roll_number,omitempty"`
	DeviceID   *string `db:"device_id" json:"device_id,omitempty"`
}
