package evaluator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/irb-compliance/internal/llm"
	"github.com/bull/irb-compliance/internal/ratelimit"
	"github.com/bull/irb-compliance/internal/tokenizer"
)

const tocStudy = `Sleep Study

Table of Contents
Introduction ..... 1
Methods ..... 5

Introduction
We study sleep in adults

Methods
Participants complete a survey
`

func wordCounter(s string) int { return len(strings.Fields(s)) }

type callKind string

const (
	kindCriteria callKind = "criteria"
	kindEvaluate callKind = "evaluate"
	kindSummary  callKind = "summary"
	kindFinal    callKind = "final"
)

func kindOf(prompt string) callKind {
	switch {
	case strings.Contains(prompt, "comma-separated list"):
		return kindCriteria
	case strings.HasPrefix(prompt, "Summarize the following"):
		return kindSummary
	case strings.HasPrefix(prompt, "Create a final"):
		return kindFinal
	default:
		return kindEvaluate
	}
}

var sectionLine = regexp.MustCompile(`(?m)^Section: (.+)$`)

func sectionOf(prompt string) string {
	if m := sectionLine.FindStringSubmatch(prompt); m != nil {
		return m[1]
	}
	return ""
}

// fakeCompleter answers by prompt kind and records every request.
type fakeCompleter struct {
	mu       sync.Mutex
	requests []llm.Request
	respond  map[callKind]func(prompt string) (string, error)
}

func newFakeCompleter() *fakeCompleter {
	return &fakeCompleter{respond: map[callKind]func(string) (string, error){
		kindCriteria: func(string) (string, error) { return "Informed consent, Risk minimization, Privacy", nil },
		kindEvaluate: func(p string) (string, error) { return "Evaluation of " + sectionOf(p), nil },
		kindSummary:  func(string) (string, error) { return "condensed", nil },
		kindFinal:    func(string) (string, error) { return "FINAL VERDICT", nil },
	}}
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	prompt := req.Messages[0].Content
	return f.respond[kindOf(prompt)](prompt)
}

func (f *fakeCompleter) calls(kind callKind) []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []llm.Request
	for _, r := range f.requests {
		if kindOf(r.Messages[0].Content) == kind {
			out = append(out, r)
		}
	}
	return out
}

type fakeRetriever struct {
	passages []string
	err      error
	queries  []string
}

func (r *fakeRetriever) Search(_ context.Context, query string, _ int) ([]string, error) {
	r.queries = append(r.queries, query)
	return r.passages, r.err
}

func newTestEvaluator(c llm.Completer, r Retriever, cfg Config) *Evaluator {
	return New(c, ratelimit.New(ratelimit.Config{}), tokenizer.NewWithCounter(wordCounter), r, cfg, nil)
}

func TestQuery_EvaluatesSectionsInOrder(t *testing.T) {
	completer := newFakeCompleter()
	retriever := &fakeRetriever{passages: []string{"Consent must be documented", "Risks must be minimized"}}
	ev := newTestEvaluator(completer, retriever, Config{})

	res, err := ev.Query(context.Background(), tocStudy)

	require.NoError(t, err)
	assert.Equal(t,
		"## Introduction\n\nEvaluation of Introduction\n\n## Methods\n\nEvaluation of Methods",
		res.FullEvaluation)
	assert.Equal(t, "FINAL VERDICT", res.Summary)
	assert.Empty(t, res.Failures)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, []string{"We study sleep in adults", "Participants complete a survey"}, retriever.queries)

	assert.Empty(t, completer.calls(kindSummary), "single-chunk evaluation needs no summary call")
	require.Len(t, completer.calls(kindFinal), 1)
	assert.Contains(t, completer.calls(kindFinal)[0].Messages[0].Content, res.FullEvaluation)

	evals := completer.calls(kindEvaluate)
	require.Len(t, evals, 2)
	for _, req := range evals {
		prompt := req.Messages[0].Content
		assert.Equal(t, 0.0, req.Temperature)
		assert.Equal(t, DefaultContextWindow-wordCounter(prompt), req.MaxTokens)
		assert.Contains(t, prompt, "- Informed consent\n- Risk minimization\n- Privacy\n")
		assert.Contains(t, prompt, "Consent must be documented\n\nRisks must be minimized\n\n")
	}
	assert.Contains(t, evals[0].Messages[0].Content, "Study part 1 of 1:\nWe study sleep in adults")

	criteria := completer.calls(kindCriteria)
	require.Len(t, criteria, 2)
	assert.Equal(t, 0.7, criteria[0].Temperature)
	assert.Equal(t, 200, criteria[0].MaxTokens)
	assert.Contains(t, criteria[0].Messages[0].Content, "Section Title: Introduction")
}

func TestQuery_EmptyStudy(t *testing.T) {
	ev := newTestEvaluator(newFakeCompleter(), &fakeRetriever{}, Config{})

	_, err := ev.Query(context.Background(), " \n\t ")

	assert.ErrorIs(t, err, ErrEmptyStudy)
}

func TestQuery_FailedChunkIsSkipped(t *testing.T) {
	completer := newFakeCompleter()
	completer.respond[kindEvaluate] = func(p string) (string, error) {
		if sectionOf(p) == "Introduction" {
			return "", errors.New("model overloaded")
		}
		return "Evaluation of " + sectionOf(p), nil
	}
	ev := newTestEvaluator(completer, &fakeRetriever{}, Config{})

	res, err := ev.Query(context.Background(), tocStudy)

	require.NoError(t, err)
	assert.Equal(t, "## Methods\n\nEvaluation of Methods", res.FullEvaluation)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "Introduction", res.Failures[0].Section)
	assert.Equal(t, 1, res.Failures[0].Chunk)
	assert.ErrorContains(t, res.Failures[0].Err, "model overloaded")
}

func TestQuery_NoEvaluationIsAnError(t *testing.T) {
	completer := newFakeCompleter()
	completer.respond[kindEvaluate] = func(string) (string, error) {
		return "", llm.ErrUnexpectedResponse
	}
	ev := newTestEvaluator(completer, &fakeRetriever{}, Config{})

	_, err := ev.Query(context.Background(), tocStudy)

	assert.ErrorIs(t, err, ErrNoEvaluation)
	assert.Empty(t, completer.calls(kindFinal))
}

func TestQuery_RetrievalFailureSkipsChunk(t *testing.T) {
	completer := newFakeCompleter()
	ev := newTestEvaluator(completer, &fakeRetriever{err: errors.New("index offline")}, Config{})

	_, err := ev.Query(context.Background(), tocStudy)

	assert.ErrorIs(t, err, ErrNoEvaluation)
	assert.Empty(t, completer.calls(kindEvaluate))
}

func TestQuery_CriteriaFallBackToDefaults(t *testing.T) {
	completer := newFakeCompleter()
	completer.respond[kindCriteria] = func(string) (string, error) {
		return "", errors.New("criteria service down")
	}
	ev := newTestEvaluator(completer, &fakeRetriever{}, Config{})

	res, err := ev.Query(context.Background(), "A short study without structure")

	require.NoError(t, err)
	evals := completer.calls(kindEvaluate)
	require.Len(t, evals, 1)
	assert.Contains(t, evals[0].Messages[0].Content, formatCriteria(DefaultCriteria))
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "Full Study")
}

func TestQuery_SummaryFailurePropagates(t *testing.T) {
	completer := newFakeCompleter()
	completer.respond[kindFinal] = func(string) (string, error) {
		return "", errors.New("final call failed")
	}
	ev := newTestEvaluator(completer, &fakeRetriever{}, Config{})

	_, err := ev.Query(context.Background(), tocStudy)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "final:")
}

func TestQuery_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ev := newTestEvaluator(newFakeCompleter(), &fakeRetriever{}, Config{})

	_, err := ev.Query(ctx, tocStudy)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestQuery_SplitsLongSectionsIntoChunks(t *testing.T) {
	completer := newFakeCompleter()
	completer.respond[kindEvaluate] = func(p string) (string, error) {
		m := regexp.MustCompile(`Study part (\d+) of (\d+)`).FindStringSubmatch(p)
		return fmt.Sprintf("part %s/%s", m[1], m[2]), nil
	}
	ev := newTestEvaluator(completer, &fakeRetriever{}, Config{SectionChunkTokens: 4})

	res, err := ev.Query(context.Background(), "One two three. Four five six. Seven eight nine.")

	require.NoError(t, err)
	assert.Equal(t, "## Full Study\n\npart 1/3\n\npart 2/3\n\npart 3/3", res.FullEvaluation)
}

func TestBuildPrompt_StopsAtFirstPassageOverBudget(t *testing.T) {
	ev := newTestEvaluator(newFakeCompleter(), &fakeRetriever{}, Config{})
	criteria := []string{"Consent"}
	prefix := fmt.Sprintf(evaluationPrefix, formatCriteria(criteria))
	suffix := fmt.Sprintf(evaluationSuffix, "Aims", 1, 1, "chunk text")
	budget := wordCounter(prefix) + wordCounter(suffix) + 12

	p1 := "one two three four five"
	p2 := "a b c d e f g h i j"
	p3 := "tiny"
	prompt := ev.buildPrompt(criteria, []string{p1, p2, p3}, "Aims", 1, 1, "chunk text", budget)

	assert.Equal(t, prefix+p1+"\n\n"+suffix, prompt)
	assert.LessOrEqual(t, wordCounter(prompt), budget)
}

func TestBuildPrompt_NoRoomForContext(t *testing.T) {
	ev := newTestEvaluator(newFakeCompleter(), &fakeRetriever{}, Config{})

	prompt := ev.buildPrompt(DefaultCriteria, []string{"passage"}, "Aims", 1, 1, "chunk", 1)

	assert.NotContains(t, prompt, "passage")
	assert.Contains(t, prompt, "Study part 1 of 1:\nchunk")
}

func TestParseCriteria(t *testing.T) {
	assert.Equal(t,
		[]string{"Informed consent", "Data security", "Risk"},
		parseCriteria(" Informed consent ,Data security, , Risk."))
	assert.Empty(t, parseCriteria(" , ,"))
}
