package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/noah-isme/student-records-api/internal/models"
	appErrors "github.com/noah-isme/student-records-api/pkg/errors"
)

const studentColumns = `student_id, roll_no, name, age, gender, category, address, course, current_year, semester,
        type, room_no, hostel_building, block, bus_no, route, attendance, created_at, updated_at`

// StudentRepository manages persistence for student records.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// Fetch returns students matching the provided filters. Every non-empty
// dimension is AND-combined; the zero filter returns the whole table.
func (r *StudentRepository) Fetch(ctx context.Context, filter models.StudentFilter) ([]models.Student, error) {
	query := fmt.Sprintf("SELECT %s FROM students WHERE 1=1", studentColumns)
	var args []interface{}

	if len(filter.Types) > 0 {
		query += " AND type IN (?)"
		args = append(args, filter.Types)
	}
	if len(filter.Genders) > 0 {
		query += " AND gender IN (?)"
		args = append(args, filter.Genders)
	}
	if len(filter.Categories) > 0 {
		query += " AND category IN (?)"
		args = append(args, filter.Categories)
	}
	if filter.CourseContains != "" {
		query += " AND course LIKE ?"
		args = append(args, "%"+filter.CourseContains+"%")
	}
	if filter.NameContains != "" {
		query += " AND name LIKE ?"
		args = append(args, "%"+filter.NameContains+"%")
	}
	if len(filter.Years) > 0 {
		query += " AND current_year IN (?)"
		args = append(args, filter.Years)
	}
	if len(filter.Semesters) > 0 {
		query += " AND semester IN (?)"
		args = append(args, filter.Semesters)
	}

	expanded, expandedArgs, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("expand student filter: %w", err)
	}
	expanded = r.db.Rebind(expanded)

	students := []models.Student{}
	if err := r.db.SelectContext(ctx, &students, expanded, expandedArgs...); err != nil {
		return nil, fmt.Errorf("fetch students: %w", err)
	}
	return students, nil
}

// FindByID fetches a student by primary key. Absence is sql.ErrNoRows.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	query := fmt.Sprintf("SELECT %s FROM students WHERE student_id = ?", studentColumns)
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find student by id: %w", err)
	}
	return &student, nil
}

// FindByRoll fetches a student by roll number. Absence is sql.ErrNoRows.
func (r *StudentRepository) FindByRoll(ctx context.Context, rollNo string) (*models.Student, error) {
	query := fmt.Sprintf("SELECT %s FROM students WHERE roll_no = ?", studentColumns)
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, rollNo); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find student by roll: %w", err)
	}
	return &student, nil
}

// ExistsByID checks whether a student with the given ID exists.
func (r *StudentRepository) ExistsByID(ctx context.Context, id string) (bool, error) {
	var exists int
	if err := r.db.GetContext(ctx, &exists, "SELECT 1 FROM students WHERE student_id = ? LIMIT 1", id); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check student id: %w", err)
	}
	return true, nil
}

// ExistsByRoll checks whether a roll number is taken, optionally excluding an ID.
func (r *StudentRepository) ExistsByRoll(ctx context.Context, rollNo string, excludeID string) (bool, error) {
	query := "SELECT 1 FROM students WHERE roll_no = ?"
	args := []interface{}{rollNo}
	if excludeID != "" {
		query += " AND student_id <> ?"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check roll no: %w", err)
	}
	return true, nil
}

// Create inserts a new student record.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	now := time.Now().UTC()
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	student.UpdatedAt = now
	const query = `INSERT INTO students (
        student_id, roll_no, name, age, gender, category, address, course, current_year, semester,
        type, room_no, hostel_building, block, bus_no, route, attendance, created_at, updated_at
    ) VALUES (
        :student_id, :roll_no, :name, :age, :gender, :category, :address, :course, :current_year, :semester,
        :type, :room_no, :hostel_building, :block, :bus_no, :route, :attendance, :created_at, :updated_at
    )`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		if conflict := classifyConstraint(err); conflict != nil {
			return conflict
		}
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// UpdateFields overwrites only the named columns of one record. Callers are
// responsible for whitelisting the keys; the SET clause is built in sorted
// order so generated SQL is deterministic.
func (r *StudentRepository) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return fmt.Errorf("no fields to update")
	}

	columns := make([]string, 0, len(fields))
	for column := range fields {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	assignments := make([]string, 0, len(columns)+1)
	args := make([]interface{}, 0, len(columns)+2)
	for _, column := range columns {
		assignments = append(assignments, column+" = ?")
		args = append(args, fields[column])
	}
	assignments = append(assignments, "updated_at = ?")
	args = append(args, time.Now().UTC(), id)

	query := fmt.Sprintf("UPDATE students SET %s WHERE student_id = ?", strings.Join(assignments, ", "))
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if conflict := classifyConstraint(err); conflict != nil {
			return conflict
		}
		return fmt.Errorf("update student: %w", err)
	}
	return nil
}

// Delete removes a student by primary key. Deleting an absent key is a no-op.
func (r *StudentRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM students WHERE student_id = ?", id); err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	return nil
}

// classifyConstraint maps sqlite constraint violations onto typed conflicts
// using the driver's structured error codes. The students table has exactly
// two uniqueness constraints: the primary key and the roll_no UNIQUE index,
// so the extended code alone identifies the colliding column.
func classifyConstraint(err error) error {
	sqliteErr, ok := err.(sqlite3.Error)
	if !ok || sqliteErr.Code != sqlite3.ErrConstraint {
		return nil
	}
	switch sqliteErr.ExtendedCode {
	case sqlite3.ErrConstraintPrimaryKey:
		return appErrors.NewConflict("student_id", "student id already exists")
	case sqlite3.ErrConstraintUnique:
		return appErrors.NewConflict("roll_no", "roll no already exists")
	default:
		return appErrors.NewConflict("", sqliteErr.Error())
	}
}
