package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/irb-compliance/internal/storage"
)

var errEmptyInput = errors.New("input is empty")

// makeEvaluateHandler creates the evaluate_study tool handler.
func makeEvaluateHandler(ev Evaluator) func(
	context.Context, *mcp.CallToolRequest, EvaluateStudyInput,
) (*mcp.CallToolResult, EvaluateStudyOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input EvaluateStudyInput) (
		*mcp.CallToolResult, EvaluateStudyOutput, error,
	) {
		if strings.TrimSpace(input.Description) == "" {
			return nil, EvaluateStudyOutput{}, fmt.Errorf("description: %w", errEmptyInput)
		}

		res, err := ev.Query(ctx, input.Description)
		if err != nil {
			return nil, EvaluateStudyOutput{}, fmt.Errorf("evaluation failed: %w", err)
		}

		out := EvaluateStudyOutput{
			Summary:        res.Summary,
			FullEvaluation: res.FullEvaluation,
			Failures:       make([]string, 0, len(res.Failures)),
			Warnings:       res.Warnings,
			DurationMS:     res.Duration.Milliseconds(),
		}
		if out.Warnings == nil {
			out.Warnings = []string{}
		}
		for _, f := range res.Failures {
			out.Failures = append(out.Failures, f.String())
		}
		return nil, out, nil
	}
}

// makeAddDocumentHandler creates the add_document tool handler.
func makeAddDocumentHandler(ing Ingester) func(
	context.Context, *mcp.CallToolRequest, AddDocumentInput,
) (*mcp.CallToolResult, AddDocumentOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input AddDocumentInput) (
		*mcp.CallToolResult, AddDocumentOutput, error,
	) {
		if strings.TrimSpace(input.Content) == "" {
			return nil, AddDocumentOutput{}, fmt.Errorf("content: %w", errEmptyInput)
		}

		id, chunks, err := ing.AddDocument(ctx, storage.Document{
			ID:      input.ID,
			Content: input.Content,
			Metadata: storage.DocumentMetadata{
				Title:      input.Title,
				Attributes: map[string]string{"source": "mcp"},
			},
		})
		if err != nil {
			return nil, AddDocumentOutput{}, fmt.Errorf("failed to add document: %w", err)
		}
		return nil, AddDocumentOutput{ID: id, Chunks: chunks}, nil
	}
}

// makeStatusHandler creates the index_status tool handler.
func makeStatusHandler(index Counter, limiter UsageReporter, backend string) func(
	context.Context, *mcp.CallToolRequest, IndexStatusInput,
) (*mcp.CallToolResult, IndexStatusOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input IndexStatusInput) (
		*mcp.CallToolResult, IndexStatusOutput, error,
	) {
		count, err := index.Count(ctx)
		if err != nil {
			return nil, IndexStatusOutput{}, fmt.Errorf("%s_error: failed to count chunks: %w", backend, err)
		}

		out := IndexStatusOutput{Backend: backend, TotalChunks: count}
		if limiter != nil {
			out.TokensUsed, out.RequestsToday = limiter.Usage()
		}
		if count == 0 {
			out.Message = "The reference index is empty. Evaluations will run without regulatory context."
		}
		return nil, out, nil
	}
}
