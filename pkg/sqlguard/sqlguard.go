// Package sqlguard validates that model-generated SQL is a single read-only
// SELECT statement before it is allowed anywhere near a database handle. It
// is not a full parser: it tokenises past comments and string literals and
// applies an allowlist on statement kind plus a denylist on side-effecting
// keywords, which is enough for the sqlite dialect the assistant targets.
package sqlguard

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmpty indicates the candidate contained no statement at all.
	ErrEmpty = errors.New("empty statement")
	// ErrNotSelect indicates the statement is not a SELECT.
	ErrNotSelect = errors.New("statement is not a SELECT")
	// ErrMultipleStatements indicates statement chaining via ';'.
	ErrMultipleStatements = errors.New("multiple statements are not allowed")
)

// KeywordError reports a denylisted keyword found in the statement.
type KeywordError struct {
	Keyword string
}

func (e *KeywordError) Error() string {
	return fmt.Sprintf("forbidden keyword %q in statement", e.Keyword)
}

// forbidden covers write/DDL verbs, database-level commands, and sqlite
// functions with filesystem or extension side effects.
var forbidden = map[string]struct{}{
	"insert":         {},
	"update":         {},
	"delete":         {},
	"drop":           {},
	"alter":          {},
	"create":         {},
	"replace":        {},
	"attach":         {},
	"detach":         {},
	"pragma":         {},
	"vacuum":         {},
	"reindex":        {},
	"analyze":        {},
	"load_extension": {},
	"writefile":      {},
	"readfile":       {},
	"edit":           {},
	"fts3_tokenizer": {},
	"zipfile":        {},
}

// Sanitize strips markdown code fences and surrounding noise that language
// models like to wrap SQL in, plus a single trailing semicolon.
func Sanitize(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```sql")
		s = strings.TrimPrefix(s, "```SQL")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ";")
	return strings.TrimSpace(s)
}

// EnsureReadOnly sanitises the candidate and returns it when it is a single
// SELECT with no denylisted keywords. The returned statement has fences and
// the trailing semicolon removed.
func EnsureReadOnly(raw string) (string, error) {
	stmt := Sanitize(raw)
	if stmt == "" {
		return "", ErrEmpty
	}

	tokens, chained, err := tokenize(stmt)
	if err != nil {
		return "", err
	}
	if chained {
		return "", ErrMultipleStatements
	}
	if len(tokens) == 0 {
		return "", ErrEmpty
	}
	if tokens[0] != "select" {
		return "", ErrNotSelect
	}
	for _, tok := range tokens {
		if _, bad := forbidden[tok]; bad {
			return "", &KeywordError{Keyword: tok}
		}
	}
	return stmt, nil
}

// tokenize collects lowercased word tokens, skipping comments, quoted strings
// and quoted identifiers. It reports whether an unquoted ';' splits the input
// into more than one statement.
func tokenize(stmt string) ([]string, bool, error) {
	var tokens []string
	var word strings.Builder
	chained := false

	flush := func() {
		if word.Len() > 0 {
			tokens = append(tokens, strings.ToLower(word.String()))
			word.Reset()
		}
	}

	i := 0
	for i < len(stmt) {
		ch := stmt[i]
		switch {
		case ch == '-' && i+1 < len(stmt) && stmt[i+1] == '-':
			flush()
			for i < len(stmt) && stmt[i] != '\n' {
				i++
			}
		case ch == '/' && i+1 < len(stmt) && stmt[i+1] == '*':
			flush()
			end := strings.Index(stmt[i+2:], "*/")
			if end < 0 {
				return nil, false, fmt.Errorf("unterminated comment")
			}
			i += 2 + end + 2
		case ch == '\'' || ch == '"' || ch == '`':
			flush()
			closing := strings.IndexByte(stmt[i+1:], ch)
			if closing < 0 {
				return nil, false, fmt.Errorf("unterminated quote")
			}
			i += 1 + closing + 1
		case ch == '[':
			flush()
			closing := strings.IndexByte(stmt[i+1:], ']')
			if closing < 0 {
				return nil, false, fmt.Errorf("unterminated identifier")
			}
			i += 1 + closing + 1
		case ch == ';':
			flush()
			if strings.TrimSpace(stmt[i+1:]) != "" {
				chained = true
			}
			i++
		case isWordByte(ch):
			word.WriteByte(ch)
			i++
		default:
			flush()
			i++
		}
	}
	flush()

	return tokens, chained, nil
}

func isWordByte(ch byte) bool {
	return ch == '_' || (ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}
