package models

// AssistantQueryRequest carries a natural-language question about the
// students table.
type AssistantQueryRequest struct {
	Question string `json:"question" validate:"required"`
}

// AssistantQueryResult returns the executed statement and its result set.
// Fallback is true when the translated statement failed the read-only gate
// and was replaced by the unrestricted students listing.
type AssistantQueryResult struct {
	SQL      string                   `json:"sql"`
	Columns  []string                 `json:"columns"`
	Rows     []map[string]interface{} `json:"rows"`
	Fallback bool                     `json:"fallback"`
}
