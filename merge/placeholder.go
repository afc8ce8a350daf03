// Package merge validates a template against a data source and renders one
// document per valid row.
//
// The stages run in order: Extract the placeholder set, CheckConsistency
// against the header row, Validate every data row into a Record, then
// Render the template once per Record.
package merge

import (
	"regexp"
	"sort"
	"strings"

	"github.com/hazyhaar/mailmerge/docx"
	"github.com/hazyhaar/mailmerge/sheet"
)

// placeholderPattern matches the shortest span between "{{" and the next "}}".
var placeholderPattern = regexp.MustCompile(`\{\{(.*?)\}\}`)

// Set is a set of trimmed placeholder names.
type Set map[string]struct{}

// NewSet builds a set from names, trimming each.
func NewSet(names ...string) Set {
	s := make(Set, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			s[n] = struct{}{}
		}
	}
	return s
}

// Has reports whether name is in the set.
func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Sorted returns the names in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Missing returns, sorted, the names that equal no header name. Empty
// header cells are ignored and matching is exact.
func (s Set) Missing(headers []sheet.Header) []string {
	names := make(map[string]bool, len(headers))
	for _, h := range headers {
		if h.Name != "" {
			names[h.Name] = true
		}
	}
	var out []string
	for _, n := range s.Sorted() {
		if !names[n] {
			out = append(out, n)
		}
	}
	return out
}

// Extract returns the placeholders referenced anywhere in doc: body
// paragraphs, table cells at any depth, headers and footers. A blank
// "{{ }}" yields the empty name, which no header can match.
func Extract(doc *docx.Document) Set {
	s := make(Set)
	for _, p := range doc.Paragraphs() {
		for _, m := range placeholderPattern.FindAllStringSubmatch(p.Text(), -1) {
			s[strings.TrimSpace(m[1])] = struct{}{}
		}
	}
	return s
}

// ParseTemplate parses template bytes, reporting failure as an InputError.
func ParseTemplate(data []byte) (*docx.Document, error) {
	doc, err := docx.Parse(data)
	if err != nil {
		return nil, &InputError{Source: "template", Err: err}
	}
	return doc, nil
}

// ParseData parses workbook bytes, reporting failure as an InputError.
func ParseData(data []byte) (*sheet.Sheet, error) {
	sh, err := sheet.Parse(data)
	if err != nil {
		return nil, &InputError{Source: "data", Err: err}
	}
	return sh, nil
}

// CheckConsistency fails with a *ConsistencyError when any placeholder has
// no header of the same name.
func CheckConsistency(set Set, headers []sheet.Header) error {
	if missing := set.Missing(headers); len(missing) > 0 {
		return &ConsistencyError{Missing: missing}
	}
	return nil
}

// Columns maps each placeholder to the 1-based column of its header. When
// a header name repeats, the rightmost column wins.
func Columns(set Set, headers []sheet.Header) map[string]int {
	cols := make(map[string]int, len(set))
	for _, h := range headers {
		if h.Name != "" && set.Has(h.Name) {
			cols[h.Name] = h.Col
		}
	}
	return cols
}
