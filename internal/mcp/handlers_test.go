package mcp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/irb-compliance/internal/evaluator"
	"github.com/bull/irb-compliance/internal/storage"
)

type stubEvaluator struct {
	res *evaluator.Result
	err error
}

func (s stubEvaluator) Query(context.Context, string) (*evaluator.Result, error) {
	return s.res, s.err
}

type stubIngester struct {
	got storage.Document
}

func (s *stubIngester) AddDocument(_ context.Context, doc storage.Document) (string, int, error) {
	s.got = doc
	return "doc-1", 3, nil
}

type stubIndex struct {
	n   int
	err error
}

func (s stubIndex) Count(context.Context) (int, error) { return s.n, s.err }

type stubUsage struct{}

func (stubUsage) Usage() (int, int) { return 1200, 7 }

func TestEvaluateHandler(t *testing.T) {
	h := makeEvaluateHandler(stubEvaluator{res: &evaluator.Result{
		Summary:        "Not compliant",
		FullEvaluation: "## Risks\nmissing",
		Failures:       []evaluator.ChunkFailure{{Section: "Risks", Chunk: 2, Err: errors.New("timeout")}},
		Duration:       1500 * time.Millisecond,
	}})

	_, out, err := h(context.Background(), nil, EvaluateStudyInput{Description: "study"})
	require.NoError(t, err)
	assert.Equal(t, "Not compliant", out.Summary)
	assert.Equal(t, "## Risks\nmissing", out.FullEvaluation)
	assert.Equal(t, []string{`section "Risks" chunk 2: timeout`}, out.Failures)
	assert.Equal(t, []string{}, out.Warnings)
	assert.Equal(t, int64(1500), out.DurationMS)
}

func TestEvaluateHandlerErrors(t *testing.T) {
	h := makeEvaluateHandler(stubEvaluator{err: evaluator.ErrNoEvaluation})

	_, _, err := h(context.Background(), nil, EvaluateStudyInput{Description: "  "})
	assert.ErrorIs(t, err, errEmptyInput)

	_, _, err = h(context.Background(), nil, EvaluateStudyInput{Description: "study"})
	assert.ErrorIs(t, err, evaluator.ErrNoEvaluation)
}

func TestAddDocumentHandler(t *testing.T) {
	ing := &stubIngester{}
	h := makeAddDocumentHandler(ing)

	_, out, err := h(context.Background(), nil, AddDocumentInput{Title: "Belmont", Content: "Respect for persons."})
	require.NoError(t, err)
	assert.Equal(t, AddDocumentOutput{ID: "doc-1", Chunks: 3}, out)
	assert.Equal(t, "Belmont", ing.got.Metadata.Title)
	assert.Equal(t, "mcp", ing.got.Metadata.Attributes["source"])

	_, _, err = h(context.Background(), nil, AddDocumentInput{Content: ""})
	assert.ErrorIs(t, err, errEmptyInput)
}

func TestStatusHandler(t *testing.T) {
	h := makeStatusHandler(stubIndex{n: 42}, stubUsage{}, "qdrant")
	_, out, err := h(context.Background(), nil, IndexStatusInput{})
	require.NoError(t, err)
	assert.Equal(t, IndexStatusOutput{Backend: "qdrant", TotalChunks: 42, TokensUsed: 1200, RequestsToday: 7}, out)

	h = makeStatusHandler(stubIndex{}, nil, "file")
	_, out, err = h(context.Background(), nil, IndexStatusInput{})
	require.NoError(t, err)
	assert.Zero(t, out.TotalChunks)
	assert.NotEmpty(t, out.Message)

	h = makeStatusHandler(stubIndex{err: errors.New("down")}, nil, "qdrant")
	_, _, err = h(context.Background(), nil, IndexStatusInput{})
	assert.ErrorContains(t, err, "qdrant_error")
}

func TestNewServerRegistersTools(t *testing.T) {
	s := NewServer(&Config{
		Evaluator: stubEvaluator{},
		Ingest:    &stubIngester{},
		Index:     stubIndex{},
		Backend:   "file",
	})
	assert.NotNil(t, s.MCPServer())
	assert.NotNil(t, NewHTTPHandler(s, &HTTPHandlerOptions{Stateless: true}))
}
