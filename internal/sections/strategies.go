package sections

import (
	"regexp"
	"strconv"
	"strings"
)

// strategy resolves section boundaries for titles within body.
type strategy struct {
	name string
	run  func(body string, titles []TitleCandidate) []Section
}

// strategies run in this order; the merge keeps the first of equally long
// candidates.
var strategies = []strategy{
	{name: "exact", run: matchExact},
	{name: "flexible", run: matchFlexible},
	{name: "page", run: matchPages},
	{name: "header", run: matchHeaders},
}

// matchExact finds each title verbatim. A section ends where the next title
// after it begins.
func matchExact(body string, titles []TitleCandidate) []Section {
	var sections []Section
	for i, t := range titles {
		start := strings.Index(body, t.Title)
		if start < 0 {
			continue
		}
		from := start + len(t.Title)
		end := len(body)
		for _, next := range titles[i+1:] {
			if j := strings.Index(body[from:], next.Title); j >= 0 {
				end = headingLineStart(body, from+j)
				break
			}
		}
		sections = append(sections, Section{Title: t.Title, Content: strings.TrimSpace(body[from:end])})
	}
	return sections
}

var headingPrefixRegex = regexp.MustCompile(`(?i)^[ \t]*(?:#{1,6}[ \t]*)?(?:(?:\d+(?:\.\d+)*|[ivxlcdm]+)[.)]?[ \t]+)?$`)

// headingLineStart moves pos back to the start of its line when only heading
// marks or numbering precede it, so "## Methods" ends the previous section
// before the "##".
func headingLineStart(body string, pos int) int {
	start := strings.LastIndexByte(body[:pos], '\n') + 1
	if headingPrefixRegex.MatchString(body[start:pos]) {
		return start
	}
	return pos
}

// titlePattern matches a whole line holding title, optionally preceded by
// markdown heading marks or a decimal or roman numbering prefix.
func titlePattern(title string) *regexp.Regexp {
	words := strings.Fields(title)
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?im)^[ \t]*(?:#{1,6}[ \t]*)?` +
		`(?:(?:\d+(?:\.\d+)*|[ivxlcdm]+)[.)]?[ \t]+)?` +
		strings.Join(words, `\s+`) +
		`[ \t]*:?[ \t]*$`)
}

// matchFlexible finds each title as a heading line.
func matchFlexible(body string, titles []TitleCandidate) []Section {
	patterns := make([]*regexp.Regexp, len(titles))
	for i, t := range titles {
		patterns[i] = titlePattern(t.Title)
	}

	var sections []Section
	for i, t := range titles {
		loc := patterns[i].FindStringIndex(body)
		if loc == nil {
			continue
		}
		from := loc[1]
		end := len(body)
		for _, next := range patterns[i+1:] {
			if m := next.FindStringIndex(body[from:]); m != nil {
				end = from + m[0]
				break
			}
		}
		sections = append(sections, Section{Title: t.Title, Content: strings.TrimSpace(body[from:end])})
	}
	return sections
}

var pageMarkerRegex = regexp.MustCompile(`(?i)page\s+(\d+)\s+of\s+(\d+)`)

type pageMarker struct {
	page, start, end int
}

// matchPages bounds sections by "Page N of M" markers. Titles without a real
// page number are skipped.
func matchPages(body string, titles []TitleCandidate) []Section {
	var markers []pageMarker
	for _, m := range pageMarkerRegex.FindAllStringSubmatchIndex(body, -1) {
		page, err := strconv.Atoi(body[m[2]:m[3]])
		if err != nil {
			continue
		}
		markers = append(markers, pageMarker{page: page, start: m[0], end: m[1]})
	}
	if len(markers) == 0 {
		return nil
	}

	firstAtLeast := func(page, from int) int {
		for i := from; i < len(markers); i++ {
			if markers[i].page >= page {
				return i
			}
		}
		return -1
	}

	var sections []Section
	for i, t := range titles {
		if t.Synthetic {
			continue
		}
		startIdx := firstAtLeast(t.Page, 0)
		if startIdx < 0 {
			continue
		}
		from := markers[startIdx].end
		end := len(body)
		if i+1 < len(titles) && !titles[i+1].Synthetic {
			next := titles[i+1].Page
			if next <= t.Page {
				continue
			}
			if endIdx := firstAtLeast(next, startIdx+1); endIdx >= 0 {
				end = markers[endIdx].start
			}
		}
		if content := strings.TrimSpace(body[from:end]); content != "" {
			sections = append(sections, Section{Title: t.Title, Content: content})
		}
	}
	return sections
}

// matchHeaders re-scans headings and keeps those naming an extracted title.
// A section runs to the next kept heading.
func matchHeaders(body string, titles []TitleCandidate) []Section {
	canonical := make(map[string]string, len(titles))
	for _, t := range titles {
		canonical[strings.ToLower(t.Title)] = t.Title
	}

	type hit struct {
		title string
		h     header
	}
	var hits []hit
	for _, h := range scanHeaders(body) {
		if title, ok := canonical[strings.ToLower(normalizeTitle(h.Title))]; ok {
			hits = append(hits, hit{title: title, h: h})
		}
	}

	sections := make([]Section, 0, len(hits))
	for i, m := range hits {
		end := len(body)
		if i+1 < len(hits) {
			end = hits[i+1].h.LineStart
		}
		sections = append(sections, Section{
			Title:   m.title,
			Content: strings.TrimSpace(body[m.h.LineEnd:end]),
		})
	}
	return sections
}
