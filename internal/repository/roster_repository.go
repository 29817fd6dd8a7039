package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/campuskit/attendance-api/internal/models"
)

// RosterRepository reads class and student roster data. The roster itself
// is administered elsewhere; this service only consumes it.
type RosterRepository struct {
	db *sqlx.DB
}

// NewRosterRepository constructs the repository.
func NewRosterRepository(db *sqlx.DB) *RosterRepository {
	return &RosterRepository{db: db}
}

// ClassByID returns the class roster entry.
func (r *RosterRepository) ClassByID(ctx context.Context, id string) (*models.Class, error) {
	var class models.Class
	query := `SELECT id, name, teacher_id, min_attendance FROM classes WHERE id = $1`
	if err := r.db.GetContext(ctx, &class, query, id); err != nil {
		return nil, err
	}
	return &class, nil
}

// StudentByID returns the student roster entry.
func (r *RosterRepository) StudentByID(ctx context.Context, id string) (*models.Student, error) {
	var student models.Student
	query := `SELECT id, full_name, roll_number, device_id FROM students WHERE id = $1`
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// EnrolledStudentIDs returns the ids of students actively enrolled in a
// class.
func (r *RosterRepository) EnrolledStudentIDs(ctx context.Context, classID string) ([]string, error) {
	var ids []string
	query := `SELECT student_id FROM enrollments WHERE class_id = $1 AND status = 'active' ORDER BY student_id`
	if err := r.db.SelectContext(ctx, &ids, query, classID); err != nil {
		return nil, fmt.Errorf("list enrolled students: %w", err)
	}
	return ids, nil
}

// IsEnrolled reports whether a student is actively enrolled in a class.
func (r *RosterRepository) IsEnrolled(ctx context.Context, classID, studentID string) (bool, error) {
	var count int
	query := `SELECT COUNT(*) FROM enrollments WHERE class_id = $1 AND student_id = $2 AND status = 'active'`
	if err := r.db.GetContext(ctx, &count, query, classID, studentID); err != nil {
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return count > 0, nil
}

// EnrolledCount returns the number of active enrollments for a class.
func (r *RosterRepository) EnrolledCount(ctx context.Context, classID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM enrollments WHERE class_id = $1 AND status = 'active'`
	if err := r.db.GetContext(ctx, &count, query, classID); err != nil {
		return 0, fmt.Errorf("count enrollments: %w", err)
	}
	return count, nil
}
