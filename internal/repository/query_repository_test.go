package repository

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryRepositoryRunSelect(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	repo := NewQueryRepository(sqlx.NewDb(db, "sqlmock"))

	rows := sqlmock.NewRows([]string{"name", "attendance"}).
		AddRow([]byte("Asha"), 82).
		AddRow([]byte("Ravi"), 60)
	mock.ExpectQuery("SELECT name, attendance FROM students").
		WillReturnRows(rows)

	columns, results, err := repo.RunSelect(context.Background(), "SELECT name, attendance FROM students")
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "attendance"}, columns)
	require.Len(t, results, 2)
	assert.Equal(t, "Asha", results[0]["name"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryRepositoryRunSelectError(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	repo := NewQueryRepository(sqlx.NewDb(db, "sqlmock"))

	mock.ExpectQuery("SELECT nope FROM students").
		WillReturnError(assert.AnError)

	_, _, err = repo.RunSelect(context.Background(), "SELECT nope FROM students")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
