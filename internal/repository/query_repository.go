package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// QueryRepository executes already-guarded SELECT statements on a read-only
// database handle and materialises the result set generically.
type QueryRepository struct {
	db *sqlx.DB
}

// NewQueryRepository constructs a QueryRepository. The handle is expected to
// be opened in read-only mode.
func NewQueryRepository(db *sqlx.DB) *QueryRepository {
	return &QueryRepository{db: db}
}

// RunSelect executes the statement and returns column names plus every row.
// Byte slices are converted to strings so the payload serialises cleanly.
func (r *QueryRepository) RunSelect(ctx context.Context, stmt string) ([]string, []map[string]interface{}, error) {
	rows, err := r.db.QueryxContext(ctx, stmt)
	if err != nil {
		return nil, nil, fmt.Errorf("run select: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("select columns: %w", err)
	}

	results := []map[string]interface{}{}
	for rows.Next() {
		row := map[string]interface{}{}
		if err := rows.MapScan(row); err != nil {
			return nil, nil, fmt.Errorf("scan select row: %w", err)
		}
		for key, value := range row {
			if b, ok := value.([]byte); ok {
				row[key] = string(b)
			}
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate select rows: %w", err)
	}

	return columns, results, nil
}
