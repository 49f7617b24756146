package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/bull/irb-compliance/internal/evaluator"
)

var (
	good    = color.New(color.FgGreen, color.Bold)
	bad     = color.New(color.FgRed, color.Bold)
	unsure  = color.New(color.FgYellow, color.Bold)
	heading = color.New(color.FgCyan, color.Bold)
	faint   = color.New(color.Faint)
)

type verdict int

const (
	verdictUnclear verdict = iota
	verdictCompliant
	verdictNonCompliant
)

// classify reads the overall verdict out of a final summary.
func classify(summary string) verdict {
	s := strings.ToLower(summary)
	for _, neg := range []string{"non-compliant", "noncompliant", "not compliant", "not in compliance", "does not comply"} {
		if strings.Contains(s, neg) {
			return verdictNonCompliant
		}
	}
	if strings.Contains(s, "compliant") || strings.Contains(s, "in compliance") {
		return verdictCompliant
	}
	return verdictUnclear
}

func (v verdict) label() string {
	switch v {
	case verdictCompliant:
		return good.Sprint("COMPLIANT")
	case verdictNonCompliant:
		return bad.Sprint("NOT COMPLIANT")
	default:
		return unsure.Sprint("REVIEW NEEDED")
	}
}

func printResult(w io.Writer, res *evaluator.Result, full bool) {
	fmt.Fprintf(w, "Verdict: %s\n\n", classify(res.Summary).label())

	if full {
		heading.Fprintln(w, "Section evaluations")
		fmt.Fprintln(w, res.FullEvaluation)
		fmt.Fprintln(w)
	}

	heading.Fprintln(w, "Summary")
	fmt.Fprintln(w, res.Summary)

	if len(res.Failures) > 0 {
		fmt.Fprintln(w)
		unsure.Fprintf(w, "Skipped %d chunk(s):\n", len(res.Failures))
		for _, f := range res.Failures {
			fmt.Fprintf(w, "  - %s\n", f)
		}
	}
	if len(res.Warnings) > 0 {
		fmt.Fprintln(w)
		unsure.Fprintln(w, "Warnings:")
		for _, msg := range res.Warnings {
			fmt.Fprintf(w, "  - %s\n", msg)
		}
	}
	faint.Fprintf(w, "\nCompleted in %s\n", res.Duration.Round(time.Millisecond))
}

type jsonResult struct {
	Verdict        string   `json:"verdict"`
	Summary        string   `json:"summary"`
	FullEvaluation string   `json:"fullEvaluation"`
	Failures       []string `json:"failures"`
	Warnings       []string `json:"warnings"`
	DurationMS     int64    `json:"durationMs"`
}

func toJSON(res *evaluator.Result) jsonResult {
	out := jsonResult{
		Verdict:        classify(res.Summary).String(),
		Summary:        res.Summary,
		FullEvaluation: res.FullEvaluation,
		Failures:       []string{},
		Warnings:       res.Warnings,
		DurationMS:     res.Duration.Milliseconds(),
	}
	if out.Warnings == nil {
		out.Warnings = []string{}
	}
	for _, f := range res.Failures {
		out.Failures = append(out.Failures, f.String())
	}
	return out
}

func (v verdict) String() string {
	switch v {
	case verdictCompliant:
		return "compliant"
	case verdictNonCompliant:
		return "not_compliant"
	default:
		return "unclear"
	}
}
