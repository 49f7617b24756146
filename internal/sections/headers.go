package sections

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

const maxHeaderLen = 100

// numberedHeaderRegex matches "1. Title", "2.3 Title" and "2.3. Title" lines.
var numberedHeaderRegex = regexp.MustCompile(`(?m)^[ \t]*(\d+\.(?:\d+\.?)*)[ \t]+(\pL[^\n]*?)[ \t]*$`)

// header is a heading line found in a document. Offsets are byte positions
// of the start and end of the heading line.
type header struct {
	Title     string
	LineStart int
	LineEnd   int
}

var markdown = goldmark.New()

// scanHeaders returns the ATX markdown headings and decimal-numbered heading
// lines in src, ordered by position. Lines recognised by both scans are kept once.
func scanHeaders(src string) []header {
	headers := atxHeaders(src)

	seen := make(map[int]bool, len(headers))
	for _, h := range headers {
		seen[h.LineStart] = true
	}
	for _, h := range numberedHeaders(src) {
		if !seen[h.LineStart] {
			headers = append(headers, h)
		}
	}

	sort.SliceStable(headers, func(i, j int) bool {
		return headers[i].LineStart < headers[j].LineStart
	})
	return headers
}

// atxHeaders walks the goldmark AST for "#" headings. Setext headings are
// ignored since their underline is easily confused with horizontal rules in
// extracted text.
func atxHeaders(src string) []header {
	source := []byte(src)
	doc := markdown.Parser().Parse(text.NewReader(source))

	var headers []header
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || n.Kind() != ast.KindHeading {
			return ast.WalkContinue, nil
		}
		heading := n.(*ast.Heading)
		if heading.Lines().Len() == 0 {
			return ast.WalkSkipChildren, nil
		}

		seg := heading.Lines().At(0)
		start, end := lineBounds(src, seg.Start)
		if !strings.HasPrefix(strings.TrimLeft(src[start:end], " "), "#") {
			return ast.WalkSkipChildren, nil
		}

		title := strings.TrimSpace(string(seg.Value(source)))
		if validHeaderTitle(title) {
			headers = append(headers, header{Title: title, LineStart: start, LineEnd: end})
		}
		return ast.WalkSkipChildren, nil
	})
	return headers
}

func numberedHeaders(src string) []header {
	var headers []header
	for _, m := range numberedHeaderRegex.FindAllStringSubmatchIndex(src, -1) {
		title := src[m[4]:m[5]]
		if !validHeaderTitle(title) || strings.ContainsAny(title[len(title)-1:], ".,;") {
			continue
		}
		headers = append(headers, header{Title: title, LineStart: m[0], LineEnd: m[1]})
	}
	return headers
}

func validHeaderTitle(title string) bool {
	return title != "" && utf8.RuneCountInString(title) <= maxHeaderLen
}

// lineBounds returns the start and end of the line containing offset.
func lineBounds(src string, offset int) (int, int) {
	start := strings.LastIndexByte(src[:offset], '\n') + 1
	end := strings.IndexByte(src[offset:], '\n')
	if end < 0 {
		return start, len(src)
	}
	return start, offset + end
}
