package merge

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/hazyhaar/mailmerge/docx"
)

// Render returns a copy of tpl with every placeholder replaced by its value
// in rec. tpl is never modified.
//
// Every occurrence is replaced, including repeats within one paragraph. A
// placeholder with no value in rec is an *UnresolvedError rather than
// literal text left in the output.
func Render(tpl *docx.Document, rec Record, logger *slog.Logger) (*docx.Document, error) {
	if logger == nil {
		logger = slog.Default()
	}
	doc := tpl.Clone()
	unresolved := make(map[string]bool)

	for _, p := range doc.Paragraphs() {
		text := p.Text()
		matches := placeholderPattern.FindAllStringSubmatchIndex(text, -1)
		// Right to left, so earlier offsets stay valid.
		for i := len(matches) - 1; i >= 0; i-- {
			m := matches[i]
			name := strings.TrimSpace(text[m[2]:m[3]])
			val, ok := rec.Values[name]
			if !ok {
				unresolved[name] = true
				continue
			}
			if !p.ReplaceSpan(m[0], m[1], val) {
				return nil, fmt.Errorf("%w: row %d: cannot locate %q", ErrRender, rec.Row, text[m[0]:m[1]])
			}
			logger.Debug("placeholder substituted", "row", rec.Row, "placeholder", name)
		}
	}

	if len(unresolved) > 0 {
		names := make([]string, 0, len(unresolved))
		for n := range unresolved {
			names = append(names, n)
		}
		sort.Strings(names)
		logger.Error("unresolved placeholders", "row", rec.Row, "placeholders", names)
		return nil, &UnresolvedError{Names: names}
	}
	return doc, nil
}
