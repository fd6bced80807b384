package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/student-records-api/internal/models"
	appErrors "github.com/noah-isme/student-records-api/pkg/errors"
)

func newStudentMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func studentRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"student_id", "roll_no", "name", "age", "gender", "category", "address", "course",
		"current_year", "semester", "type", "room_no", "hostel_building", "block",
		"bus_no", "route", "attendance", "created_at", "updated_at",
	}).AddRow("S001", "R001", "Asha", 19, "Female", "General", "12 Main St", "B.Tech",
		2, 4, "Hosteller", "101", "A Block Hostel", "A", nil, nil, 82, time.Now(), time.Now())
}

func TestStudentRepositoryFetchUnfiltered(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM students WHERE 1=1").
		WillReturnRows(studentRows())

	students, err := repo.Fetch(context.Background(), models.StudentFilter{})
	require.NoError(t, err)
	assert.Len(t, students, 1)
	assert.Equal(t, "S001", students[0].StudentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryFetchFiltered(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(`SELECT (.+) FROM students WHERE 1=1 AND type IN \(\?, \?\) AND name LIKE \? AND current_year IN \(\?\)`).
		WithArgs("Hosteller", "Day Scholar", "%ash%", 2).
		WillReturnRows(studentRows())

	filter := models.StudentFilter{
		Types:        []string{"Hosteller", "Day Scholar"},
		NameContains: "ash",
		Years:        []int{2},
	}
	students, err := repo.Fetch(context.Background(), filter)
	require.NoError(t, err)
	assert.Len(t, students, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(`SELECT (.+) FROM students WHERE student_id = \?`).
		WithArgs("S001").
		WillReturnRows(studentRows())

	student, err := repo.FindByID(context.Background(), "S001")
	require.NoError(t, err)
	assert.Equal(t, "R001", student.RollNo)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryFindByIDAbsent(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(`SELECT (.+) FROM students WHERE student_id = \?`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryExistsByRoll(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(`SELECT 1 FROM students WHERE roll_no = \? AND student_id <> \? LIMIT 1`).
		WithArgs("R001", "S002").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	taken, err := repo.ExistsByRoll(context.Background(), "R001", "S002")
	require.NoError(t, err)
	assert.True(t, taken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryExistsByRollAbsent(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(`SELECT 1 FROM students WHERE roll_no = \? LIMIT 1`).
		WithArgs("R404").
		WillReturnError(sql.ErrNoRows)

	taken, err := repo.ExistsByRoll(context.Background(), "R404", "")
	require.NoError(t, err)
	assert.False(t, taken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec("INSERT INTO students").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Create(context.Background(), &models.Student{
		StudentID: "S001", RollNo: "R001", Name: "Asha", Age: 19,
		Gender: "Female", Category: "General", Address: "12 Main St",
		Course: "B.Tech", CurrentYear: 2, Semester: 4,
		Type: "Hosteller", Attendance: 82,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryUpdateFieldsSortedSet(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE students SET attendance = ?, name = ?, updated_at = ? WHERE student_id = ?")).
		WithArgs(90, "Asha K", sqlmock.AnyArg(), "S001").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateFields(context.Background(), "S001", map[string]interface{}{
		"name":       "Asha K",
		"attendance": 90,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryDelete(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM students WHERE student_id = ?")).
		WithArgs("S001").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "S001")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassifyConstraint(t *testing.T) {
	pkErr := sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintPrimaryKey}
	uniqueErr := sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}

	var conflict *appErrors.ConflictError
	require.True(t, errors.As(classifyConstraint(pkErr), &conflict))
	assert.Equal(t, "student_id", conflict.Column)

	require.True(t, errors.As(classifyConstraint(uniqueErr), &conflict))
	assert.Equal(t, "roll_no", conflict.Column)

	assert.Nil(t, classifyConstraint(sql.ErrConnDone))
	assert.Nil(t, classifyConstraint(nil))
}
