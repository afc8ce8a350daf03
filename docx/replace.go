package docx

import "strings"

// Text returns the paragraph text: its run texts concatenated in order.
func (p *Paragraph) Text() string {
	var sb strings.Builder
	for _, r := range p.Runs {
		sb.WriteString(r.text)
	}
	return sb.String()
}

// Replace substitutes the first occurrence of old in the paragraph text
// with new. It reports false, leaving the paragraph untouched, when old
// does not occur.
func (p *Paragraph) Replace(old, new string) bool {
	if old == "" {
		return false
	}
	i := strings.Index(p.Text(), old)
	if i < 0 {
		return false
	}
	return p.ReplaceSpan(i, i+len(old), new)
}

// ReplaceAll substitutes every occurrence of old, scanning forward from the
// end of each inserted value so inserted text is never rescanned. It
// returns the number of substitutions.
func (p *Paragraph) ReplaceAll(old, new string) int {
	if old == "" {
		return 0
	}
	n, from := 0, 0
	for {
		text := p.Text()
		if from > len(text) {
			return n
		}
		i := strings.Index(text[from:], old)
		if i < 0 {
			return n
		}
		i += from
		p.ReplaceSpan(i, i+len(old), new)
		from = i + len(new)
		n++
	}
}

// ReplaceSpan replaces the paragraph text bytes [start, end) with repl.
//
// The run holding start keeps its prefix and receives repl. When the span
// ends inside that same run its suffix is kept there and no other run is
// touched. Otherwise runs wholly inside the span are emptied, never
// removed, and the run holding end keeps only the text after the span.
func (p *Paragraph) ReplaceSpan(start, end int, repl string) bool {
	if start < 0 || end <= start || end > p.length() {
		return false
	}
	pos := 0
	started := false
	for _, r := range p.Runs {
		text := r.text
		rs, re := pos, pos+len(text)
		pos = re
		if text == "" {
			continue
		}

		if !started {
			if start < rs || start >= re {
				continue
			}
			if end <= re {
				r.setText(text[:start-rs] + repl + text[end-rs:])
				return true
			}
			r.setText(text[:start-rs] + repl)
			started = true
			continue
		}

		if end >= re {
			r.setText("")
			if end == re {
				return true
			}
			continue
		}
		r.setText(text[end-rs:])
		return true
	}
	return started
}

func (p *Paragraph) length() int {
	n := 0
	for _, r := range p.Runs {
		n += len(r.text)
	}
	return n
}
