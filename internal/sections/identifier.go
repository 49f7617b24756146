// Package sections splits a study proposal into titled sections using its
// table of contents or headings, degrading to a single Full Study section.
package sections

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Section is a titled span of a document.
type Section struct {
	Title   string
	Content string
}

// Report lists disagreements between the extracted titles and the sections
// that were actually located. It is diagnostic only.
type Report struct {
	// Titles that no strategy could locate.
	Missing []string
	// Sections whose title was not among the extracted titles.
	Unexpected []string
}

// OK reports whether every extracted title became a section.
func (r Report) OK() bool {
	return len(r.Missing) == 0 && len(r.Unexpected) == 0
}

// Warnings renders the report as human-readable notes.
func (r Report) Warnings() []string {
	var out []string
	if len(r.Missing) > 0 {
		out = append(out, fmt.Sprintf("sections not found in document: %s", strings.Join(r.Missing, ", ")))
	}
	if len(r.Unexpected) > 0 {
		out = append(out, fmt.Sprintf("sections not in extracted titles: %s", strings.Join(r.Unexpected, ", ")))
	}
	return out
}

// Identifier finds the sections of a document.
type Identifier struct {
	logger *slog.Logger
}

// NewIdentifier creates an Identifier. A nil logger uses slog.Default().
func NewIdentifier(logger *slog.Logger) *Identifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Identifier{logger: logger}
}

// Identify returns the sections of doc in document order. It never returns an
// empty slice.
func (id *Identifier) Identify(doc string) []Section {
	sections, _ := id.IdentifyWithReport(doc)
	return sections
}

// IdentifyWithReport is Identify plus the consistency report.
func (id *Identifier) IdentifyWithReport(doc string) ([]Section, Report) {
	normalized := strings.ReplaceAll(doc, "\r\n", "\n")
	ex := extractTitles(normalized)
	id.logger.Debug("Extracted section titles",
		"count", len(ex.Titles),
		"from_toc", ex.FromTOC)

	var sections []Section
	if !(len(ex.Titles) == 1 && ex.Titles[0].Title == FullStudyTitle && ex.Titles[0].Synthetic) {
		results := make([][]Section, 0, len(strategies))
		for _, s := range strategies {
			found := s.run(ex.Body, ex.Titles)
			id.logger.Debug("Section strategy finished", "strategy", s.name, "sections", len(found))
			results = append(results, found)
		}
		sections = merge(ex.Titles, results)
	}

	if len(sections) == 0 {
		sections = []Section{{Title: FullStudyTitle, Content: strings.TrimSpace(doc)}}
	}

	report := consistency(ex.Titles, sections)
	if !report.OK() {
		id.logger.Warn("Section consistency check failed",
			"missing", report.Missing,
			"unexpected", report.Unexpected)
	}
	id.logger.Info("Identified sections", "count", len(sections))
	return sections, report
}

// merge folds strategy results into one section per extracted title. A later
// candidate replaces an earlier one only when its content is strictly longer.
// Empty candidates and titles outside the extracted set are ignored.
func merge(titles []TitleCandidate, results [][]Section) []Section {
	rank := make(map[string]int, len(titles))
	for i, t := range titles {
		key := strings.ToLower(t.Title)
		if _, ok := rank[key]; !ok {
			rank[key] = i
		}
	}

	byTitle := map[string]Section{}
	var order []string
	for _, found := range results {
		for _, s := range found {
			key := strings.ToLower(s.Title)
			if _, ok := rank[key]; !ok || s.Content == "" {
				continue
			}
			prev, ok := byTitle[key]
			if !ok {
				order = append(order, key)
				byTitle[key] = s
				continue
			}
			if len(s.Content) > len(prev.Content) {
				byTitle[key] = s
			}
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return rank[order[i]] < rank[order[j]]
	})

	sections := make([]Section, len(order))
	for i, key := range order {
		sections[i] = byTitle[key]
	}
	return sections
}

func consistency(titles []TitleCandidate, sections []Section) Report {
	realized := make(map[string]bool, len(sections))
	for _, s := range sections {
		realized[strings.ToLower(s.Title)] = true
	}
	extracted := make(map[string]bool, len(titles))
	for _, t := range titles {
		extracted[strings.ToLower(t.Title)] = true
	}

	var r Report
	for _, t := range titles {
		if !realized[strings.ToLower(t.Title)] {
			r.Missing = append(r.Missing, t.Title)
		}
	}
	for _, s := range sections {
		if !extracted[strings.ToLower(s.Title)] {
			r.Unexpected = append(r.Unexpected, s.Title)
		}
	}
	return r
}
