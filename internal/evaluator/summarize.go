package evaluator

import (
	"context"
	"fmt"
	"strings"
)

const (
	summaryTemperature = 0.5
	summaryMaxTokens   = 1000
	finalTemperature   = 0.5
	finalMaxTokens     = 2000
)

// summarize reduces text until it fits in one summary chunk. Each pass
// summarizes every chunk and joins the summaries. A pass that does not shrink
// the text, or running past MaxSummaryPasses, truncates to the first chunk.
func (e *Evaluator) summarize(ctx context.Context, text string, res *Result) (string, error) {
	budget := e.cfg.SummaryChunkTokens
	current := text

	for pass := 1; ; pass++ {
		chunks := e.tok.ChunkText(current, budget)
		if len(chunks) <= 1 {
			return strings.Join(chunks, ""), nil
		}
		if pass > e.cfg.MaxSummaryPasses {
			res.warn(fmt.Sprintf("summarization did not converge after %d passes, evaluation truncated", e.cfg.MaxSummaryPasses))
			e.logger.Warn("Summarization pass limit reached, truncating", "passes", e.cfg.MaxSummaryPasses)
			return chunks[0], nil
		}

		e.logger.Debug("Summarization pass", "pass", pass, "chunks", len(chunks))
		summaries := make([]string, 0, len(chunks))
		for i, chunk := range chunks {
			prompt := fmt.Sprintf(summaryPrompt, chunk)
			s, err := e.complete(ctx, prompt, e.tok.CountTokens(prompt), summaryTemperature, summaryMaxTokens)
			if err != nil {
				return "", fmt.Errorf("pass %d chunk %d: %w", pass, i+1, err)
			}
			summaries = append(summaries, strings.TrimSpace(s))
		}

		next := strings.Join(summaries, "\n\n")
		if e.tok.CountTokens(next) >= e.tok.CountTokens(current) {
			res.warn(fmt.Sprintf("summarization pass %d did not shrink the evaluation, truncated", pass))
			e.logger.Warn("Summarization did not shrink text, truncating", "pass", pass)
			return e.tok.ChunkText(next, budget)[0], nil
		}
		current = next
	}
}

func (e *Evaluator) finalSummary(ctx context.Context, text string) (string, error) {
	prompt := fmt.Sprintf(finalPrompt, text)
	return e.complete(ctx, prompt, e.tok.CountTokens(prompt), finalTemperature, finalMaxTokens)
}
