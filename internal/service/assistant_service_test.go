package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/student-records-api/pkg/errors"
)

type mockGenerator struct {
	output string
	err    error
	prompt string
}

func (m *mockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	m.prompt = prompt
	if m.err != nil {
		return "", m.err
	}
	return m.output, nil
}

type mockQueryRepo struct {
	columns []string
	rows    []map[string]interface{}
	err     error
	ranSQL  []string
}

func (m *mockQueryRepo) RunSelect(ctx context.Context, stmt string) ([]string, []map[string]interface{}, error) {
	m.ranSQL = append(m.ranSQL, stmt)
	if m.err != nil && stmt != fallbackQuery {
		return nil, nil, m.err
	}
	return m.columns, m.rows, nil
}

func newTestAssistant(gen *mockGenerator, queries *mockQueryRepo) *AssistantService {
	if gen == nil {
		return NewAssistantService(nil, queries, zap.NewNop(), time.Second)
	}
	return NewAssistantService(gen, queries, zap.NewNop(), time.Second)
}

func TestAssistantQueryRunsGeneratedSelect(t *testing.T) {
	gen := &mockGenerator{output: "SELECT name FROM students WHERE attendance < 75"}
	queries := &mockQueryRepo{
		columns: []string{"name"},
		rows:    []map[string]interface{}{{"name": "Ravi"}},
	}
	svc := newTestAssistant(gen, queries)

	result, err := svc.Query(context.Background(), "who is at risk?")
	require.NoError(t, err)
	assert.False(t, result.Fallback)
	assert.Equal(t, "SELECT name FROM students WHERE attendance < 75", result.SQL)
	assert.Equal(t, []string{"name"}, result.Columns)
	require.Len(t, result.Rows, 1)
	assert.Contains(t, gen.prompt, "who is at risk?")
}

func TestAssistantQueryStripsFences(t *testing.T) {
	gen := &mockGenerator{output: "```sql\nSELECT name FROM students;\n```"}
	queries := &mockQueryRepo{columns: []string{"name"}}
	svc := newTestAssistant(gen, queries)

	result, err := svc.Query(context.Background(), "list names")
	require.NoError(t, err)
	assert.False(t, result.Fallback)
	assert.Equal(t, "SELECT name FROM students", result.SQL)
}

func TestAssistantQueryRejectsWrite(t *testing.T) {
	gen := &mockGenerator{output: "DELETE FROM students"}
	queries := &mockQueryRepo{columns: []string{"student_id"}}
	svc := newTestAssistant(gen, queries)

	result, err := svc.Query(context.Background(), "remove everyone")
	require.NoError(t, err)
	assert.True(t, result.Fallback)
	assert.Equal(t, fallbackQuery, result.SQL)
	require.Len(t, queries.ranSQL, 1)
	assert.Equal(t, fallbackQuery, queries.ranSQL[0])
}

func TestAssistantQueryGeneratorFailureFallsBack(t *testing.T) {
	gen := &mockGenerator{err: errors.New("quota exceeded")}
	queries := &mockQueryRepo{columns: []string{"student_id"}}
	svc := newTestAssistant(gen, queries)

	result, err := svc.Query(context.Background(), "anything")
	require.NoError(t, err)
	assert.True(t, result.Fallback)
	assert.Equal(t, fallbackQuery, result.SQL)
}

func TestAssistantQueryBadColumnRetriesWithFallback(t *testing.T) {
	gen := &mockGenerator{output: "SELECT nonexistent FROM students"}
	queries := &mockQueryRepo{
		columns: []string{"student_id"},
		err:     errors.New("no such column: nonexistent"),
	}
	svc := newTestAssistant(gen, queries)

	result, err := svc.Query(context.Background(), "something odd")
	require.NoError(t, err)
	assert.True(t, result.Fallback)
	require.Len(t, queries.ranSQL, 2)
	assert.Equal(t, fallbackQuery, queries.ranSQL[1])
}

func TestAssistantQueryNoGenerator(t *testing.T) {
	queries := &mockQueryRepo{columns: []string{"student_id"}}
	svc := newTestAssistant(nil, queries)

	result, err := svc.Query(context.Background(), "anything")
	require.NoError(t, err)
	assert.True(t, result.Fallback)
}

func TestAssistantQueryEmptyQuestion(t *testing.T) {
	svc := newTestAssistant(nil, &mockQueryRepo{})

	_, err := svc.Query(context.Background(), "   ")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}
