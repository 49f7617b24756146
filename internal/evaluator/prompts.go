package evaluator

import (
	"fmt"
	"strings"
)

const evaluationPrefix = `You are an expert on IRB standards for studies involving human subjects. Evaluate the provided study part for compliance with IRB standards. State clearly whether it is compliant or non-compliant and give detailed reasoning based on specific IRB standards. Highlight every non-compliant feature of the proposed study.

This is part of a longer study. Focus on evaluating this specific part based on the context provided.

Evaluation criteria:
%s
Context:
`

const evaluationSuffix = `

Section: %s
Study part %d of %d:
%s

Based on the criteria, the context and the study part, provide your evaluation.`

const criteriaPrompt = `Generate a list of 3-5 key evaluation criteria for the following section of an IRB study proposal:

Section Title: %s

Provide the criteria as a comma-separated list.`

const summaryPrompt = `Summarize the following evaluation of an IRB study proposal. Focus on key points of compliance and non-compliance, without repeating the verdict multiple times. The text may hold several partial evaluations of the same section; where they contradict each other, reconcile them into one assessment instead of listing both.

%s`

const finalPrompt = `Create a final, cohesive summary of the following IRB study evaluation. Include:
1. A single, clear verdict (compliant or non-compliant)
2. Key points of compliance (if any)
3. Key points of non-compliance
4. Any important recommendations

Ensure the summary is concise and non-repetitive:

%s`

func formatCriteria(criteria []string) string {
	var b strings.Builder
	for _, c := range criteria {
		fmt.Fprintf(&b, "- %s\n", c)
	}
	return b.String()
}

// buildPrompt assembles the evaluation prompt for one chunk, appending
// retrieved passages in rank order until the next one would not fit in
// budget tokens.
func (e *Evaluator) buildPrompt(criteria, passages []string, title string, part, parts int, chunk string, budget int) string {
	prefix := fmt.Sprintf(evaluationPrefix, formatCriteria(criteria))
	suffix := fmt.Sprintf(evaluationSuffix, title, part, parts, chunk)

	available := budget - e.tok.CountTokens(prefix) - e.tok.CountTokens(suffix)

	var ref strings.Builder
	for _, p := range passages {
		if e.tok.CountTokens(ref.String()+p) > available {
			break
		}
		ref.WriteString(p)
		ref.WriteString("\n\n")
	}

	return prefix + ref.String() + suffix
}
