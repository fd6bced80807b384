package database

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/noah-isme/student-records-api/pkg/config"
)

// NewSQLite opens the read-write handle to the database file and bootstraps
// the schema. sqlite allows a single writer, so the pool stays small.
func NewSQLite(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_fk=1", cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// NewSQLiteReadOnly opens a second handle in mode=ro. Assistant-generated
// statements run here so even a statement that slips past the guard cannot
// modify the file.
func NewSQLiteReadOnly(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_busy_timeout=%d", cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// EnsureSchema idempotently creates the students and users tables and applies
// the additive attendance column patch for database files created before the
// column existed. No backfill beyond the column default.
func EnsureSchema(db *sqlx.DB) error {
	const studentsDDL = `CREATE TABLE IF NOT EXISTS students (
        student_id TEXT PRIMARY KEY,
        roll_no TEXT UNIQUE NOT NULL,
        name TEXT NOT NULL,
        age INTEGER,
        gender TEXT,
        category TEXT,
        address TEXT,
        course TEXT,
        current_year INTEGER,
        semester INTEGER,
        type TEXT,
        room_no TEXT,
        hostel_building TEXT,
        block TEXT,
        bus_no TEXT,
        route TEXT,
        attendance INTEGER DEFAULT 80,
        created_at TIMESTAMP,
        updated_at TIMESTAMP
    )`

	const usersDDL = `CREATE TABLE IF NOT EXISTS users (
        id TEXT PRIMARY KEY,
        username TEXT UNIQUE NOT NULL,
        password_hash TEXT NOT NULL,
        last_login TIMESTAMP,
        created_at TIMESTAMP,
        updated_at TIMESTAMP
    )`

	if _, err := db.Exec(studentsDDL); err != nil {
		return fmt.Errorf("create students table: %w", err)
	}
	if _, err := db.Exec(usersDDL); err != nil {
		return fmt.Errorf("create users table: %w", err)
	}

	hasAttendance, err := columnExists(db, "students", "attendance")
	if err != nil {
		return err
	}
	if !hasAttendance {
		if _, err := db.Exec(`ALTER TABLE students ADD COLUMN attendance INTEGER DEFAULT 80`); err != nil {
			return fmt.Errorf("add attendance column: %w", err)
		}
	}

	return nil
}

func columnExists(db *sqlx.DB, table, column string) (bool, error) {
	rows, err := db.Queryx(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("inspect %s schema: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			ctype      string
			notnull    int
			dfltValue  interface{}
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &primaryKey); err != nil {
			return false, fmt.Errorf("scan %s schema row: %w", table, err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
