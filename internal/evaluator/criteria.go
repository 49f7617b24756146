package evaluator

import (
	"context"
	"fmt"
	"strings"
)

// DefaultCriteria is used when criteria generation fails.
var DefaultCriteria = []string{
	"Compliance with IRB standards",
	"Clarity of information",
	"Ethical considerations",
}

const (
	criteriaTemperature = 0.7
	criteriaMaxTokens   = 200
)

// generateCriteria asks the model for criteria specific to a section title.
// Any failure, including an empty list, yields DefaultCriteria.
func (e *Evaluator) generateCriteria(ctx context.Context, title string, res *Result) []string {
	prompt := fmt.Sprintf(criteriaPrompt, title)

	resp, err := e.complete(ctx, prompt, e.tok.CountTokens(prompt), criteriaTemperature, criteriaMaxTokens)
	if err != nil {
		e.logger.Warn("Criteria generation failed, using defaults",
			"section", title,
			"error", err)
		res.warn(fmt.Sprintf("criteria generation failed for section %q, default criteria used", title))
		return DefaultCriteria
	}

	criteria := parseCriteria(resp)
	if len(criteria) == 0 {
		res.warn(fmt.Sprintf("model returned no criteria for section %q, default criteria used", title))
		return DefaultCriteria
	}
	return criteria
}

// parseCriteria splits a comma-separated list, dropping empty entries.
func parseCriteria(resp string) []string {
	var criteria []string
	for _, c := range strings.Split(resp, ",") {
		c = strings.TrimSpace(c)
		c = strings.TrimSuffix(c, ".")
		if c != "" {
			criteria = append(criteria, c)
		}
	}
	return criteria
}
