// Package mcp exposes study evaluation and reference ingestion as MCP tools.
package mcp

// EvaluateStudyInput defines the input parameters for the evaluate_study tool.
type EvaluateStudyInput struct {
	// Description is the full text of the study proposal.
	Description string `json:"description" jsonschema:"the full text of the study proposal to evaluate"`
}

// EvaluateStudyOutput contains the compliance evaluation.
type EvaluateStudyOutput struct {
	// Summary is the final compliance verdict with recommendations.
	Summary string `json:"summary"`
	// FullEvaluation holds the per-section evaluations.
	FullEvaluation string `json:"full_evaluation"`
	// Failures lists chunks whose evaluation was skipped.
	Failures []string `json:"failures"`
	// Warnings lists non-fatal notes about the run.
	Warnings []string `json:"warnings"`
	// DurationMS is how long the evaluation took.
	DurationMS int64 `json:"duration_ms"`
}

// AddDocumentInput defines the input parameters for the add_document tool.
type AddDocumentInput struct {
	ID      string `json:"id,omitempty" jsonschema:"optional document ID, generated when empty"`
	Title   string `json:"title,omitempty" jsonschema:"document title"`
	Content string `json:"content" jsonschema:"the reference text, for example a regulation or guideline"`
}

// AddDocumentOutput reports the indexed document.
type AddDocumentOutput struct {
	ID     string `json:"id"`
	Chunks int    `json:"chunks"`
}

// IndexStatusInput takes no parameters.
type IndexStatusInput struct{}

// IndexStatusOutput describes the reference index and rate limiter budget.
type IndexStatusOutput struct {
	// Backend is the configured index backend.
	Backend string `json:"backend"`
	// TotalChunks is the number of indexed reference chunks.
	TotalChunks int `json:"total_chunks"`
	// TokensUsed is the rate limiter usage in the current minute window.
	TokensUsed int `json:"tokens_used"`
	// RequestsToday is the number of model requests in the current day.
	RequestsToday int `json:"requests_today"`
	// Message is set when the index is empty.
	Message string `json:"message,omitempty"`
}
