package sections

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// FullStudyTitle names the single section used when no structure is found.
const FullStudyTitle = "Full Study"

// TitleCandidate is a section title with the page it starts on. Synthetic
// pages are sequential indexes assigned when the document has no table of
// contents.
type TitleCandidate struct {
	Title     string
	Page      int
	Synthetic bool
}

var (
	tocLineRegex    = regexp.MustCompile(`^\s*(.*?\pL.*?)[\s.…·_-]*?(\d{1,4})\s*$`)
	tocHeadingRegex = regexp.MustCompile(`(?i)^\s*(?:#{1,6}\s*)?(?:table\s+of\s+)?contents\s*:?\s*$`)
	numberingRegex  = regexp.MustCompile(`(?i)^\s*(?:(?:\d+(?:\.\d+)*|[ivxlcdm]+|[a-z])[.)]|\d+(?:\.\d+)+)\s+`)
	leaderRegex     = regexp.MustCompile(`\.{2,}|…+|·{2,}|_{2,}`)
	camelRegex      = regexp.MustCompile(`(\p{Ll})(\p{Lu})`)
	letterDigit     = regexp.MustCompile(`(\pL)(\d)`)
	digitLetter     = regexp.MustCompile(`(\d)(\pL)`)
	commaRegex      = regexp.MustCompile(`\s*,\s*`)
	spaceRegex      = regexp.MustCompile(`\s+`)
)

// extraction is the outcome of title extraction. Body is the part of the
// document the boundary strategies search; it starts after the table of
// contents when one was found.
type extraction struct {
	Titles  []TitleCandidate
	Body    string
	FromTOC bool
}

// extractTitles finds section titles from a table of contents, falling back to
// a header scan and finally to a single Full Study title.
func extractTitles(doc string) extraction {
	if titles, end, ok := tableOfContents(doc); ok {
		return extraction{Titles: titles, Body: doc[end:], FromTOC: true}
	}

	var titles []TitleCandidate
	seen := map[string]bool{}
	for _, h := range scanHeaders(doc) {
		title := normalizeTitle(h.Title)
		if title == "" || seen[strings.ToLower(title)] {
			continue
		}
		seen[strings.ToLower(title)] = true
		titles = append(titles, TitleCandidate{Title: title, Page: len(titles) + 1, Synthetic: true})
	}
	if len(titles) > 0 {
		return extraction{Titles: titles, Body: doc}
	}

	return extraction{
		Titles: []TitleCandidate{{Title: FullStudyTitle, Page: 1, Synthetic: true}},
		Body:   doc,
	}
}

type tocEntry struct {
	title string
	page  int
}

type tocRun struct {
	entries    []tocEntry
	end        int
	afterLabel bool
}

// tableOfContents locates the first run of at least two lines ending in a
// page number. A run following a "Contents" line is preferred. Blank lines do
// not break a run. It returns the parsed titles and the offset just past the run.
func tableOfContents(doc string) ([]TitleCandidate, int, bool) {
	var (
		runs    []tocRun
		current tocRun
		label   bool
	)
	flush := func() {
		if len(current.entries) >= 2 {
			runs = append(runs, current)
		}
		current = tocRun{}
	}

	offset := 0
	for _, line := range strings.SplitAfter(doc, "\n") {
		lineEnd := offset + len(line)
		offset = lineEnd
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			continue
		case tocHeadingRegex.MatchString(trimmed):
			flush()
			label = true
			continue
		}

		m := tocLineRegex.FindStringSubmatch(trimmed)
		if m == nil || utf8.RuneCountInString(m[1]) > maxHeaderLen {
			flush()
			label = false
			continue
		}
		page, _ := strconv.Atoi(m[2])
		if len(current.entries) == 0 {
			current.afterLabel = label
		}
		current.entries = append(current.entries, tocEntry{title: m[1], page: page})
		current.end = lineEnd
	}
	flush()

	if len(runs) == 0 {
		return nil, 0, false
	}
	chosen := runs[0]
	for _, r := range runs {
		if r.afterLabel {
			chosen = r
			break
		}
	}

	var titles []TitleCandidate
	seen := map[string]bool{}
	for _, e := range chosen.entries {
		title := normalizeTitle(e.title)
		key := strings.ToLower(title)
		if title == "" || seen[key] {
			continue
		}
		seen[key] = true
		titles = append(titles, TitleCandidate{Title: title, Page: e.page})
	}
	if len(titles) == 0 {
		return nil, 0, false
	}
	return titles, chosen.end, true
}

// normalizeTitle removes numbering and dot leaders, splits run-together words
// and tidies spacing.
func normalizeTitle(title string) string {
	title = leaderRegex.ReplaceAllString(title, " ")
	title = numberingRegex.ReplaceAllString(title, "")
	title = camelRegex.ReplaceAllString(title, "$1 $2")
	title = letterDigit.ReplaceAllString(title, "$1 $2")
	title = digitLetter.ReplaceAllString(title, "$1 $2")
	title = commaRegex.ReplaceAllString(title, ", ")
	title = spaceRegex.ReplaceAllString(title, " ")
	return strings.Trim(title, " .:-,")
}
