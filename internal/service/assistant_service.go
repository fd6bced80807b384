package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/student-records-api/internal/models"
	appErrors "github.com/noah-isme/student-records-api/pkg/errors"
	"github.com/noah-isme/student-records-api/pkg/sqlguard"
)

type textGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type queryRepository interface {
	RunSelect(ctx context.Context, stmt string) ([]string, []map[string]interface{}, error)
}

const fallbackQuery = "SELECT * FROM students"

// AssistantService translates natural-language questions into read-only SQL
// and executes them against the student table.
type AssistantService struct {
	generator textGenerator
	queries   queryRepository
	logger    *zap.Logger
	timeout   time.Duration
}

// NewAssistantService constructs the assistant service.
func NewAssistantService(generator textGenerator, queries queryRepository, logger *zap.Logger, timeout time.Duration) *AssistantService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AssistantService{generator: generator, queries: queries, logger: logger, timeout: timeout}
}

// Query answers a natural-language question. Translation failures and
// rejected statements degrade to a full table listing rather than erroring,
// so the assistant always answers with something.
func (s *AssistantService) Query(ctx context.Context, question string) (*models.AssistantQueryResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "question must not be empty")
	}

	stmt, fallback := s.translate(ctx, question)

	columns, rows, err := s.queries.RunSelect(ctx, stmt)
	if err != nil && !fallback {
		// The generated statement parsed clean but the engine rejected it,
		// likely hallucinated columns. Degrade to the full listing.
		s.logger.Warn("generated query failed, falling back",
			zap.String("sql", stmt), zap.Error(err))
		stmt, fallback = fallbackQuery, true
		columns, rows, err = s.queries.RunSelect(ctx, stmt)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to run query")
	}

	return &models.AssistantQueryResult{
		SQL:      stmt,
		Columns:  columns,
		Rows:     rows,
		Fallback: fallback,
	}, nil
}

// translate asks the model for a SELECT statement and vets it. It returns
// the statement to run and whether it is the fallback listing.
func (s *AssistantService) translate(ctx context.Context, question string) (string, bool) {
	if s.generator == nil {
		return fallbackQuery, true
	}

	genCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.generator.Generate(genCtx, buildPrompt(question))
	if err != nil {
		s.logger.Warn("query translation failed", zap.Error(err))
		return fallbackQuery, true
	}

	stmt, err := sqlguard.EnsureReadOnly(raw)
	if err != nil {
		s.logger.Warn("generated query rejected",
			zap.String("raw", raw), zap.Error(err))
		return fallbackQuery, true
	}
	return stmt, false
}

func buildPrompt(question string) string {
	return fmt.Sprintf(`You are a SQL assistant for a student records database.
The SQLite database has a single table named students with columns:
%s

Translate the question below into exactly one SQLite SELECT statement.
Rules:
- Output only the SQL statement, no explanation and no markdown fences.
- Read-only: SELECT statements only.
- Use LIKE with %% wildcards for partial text matches.

Question: %s`, strings.Join(models.StudentColumns, ", "), question)
}
