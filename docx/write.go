package docx

import (
	"bytes"
	"encoding/xml"
	"sort"
	"strings"
)

type edit struct {
	node textNode
	text string
}

func (p *Part) modified() bool {
	modified := false
	walkRuns(p.Blocks, func(r *Run) {
		if r.dirty {
			modified = true
		}
	})
	return modified
}

// bytes returns the part XML with the text of every modified run spliced
// in. A modified run puts its whole text into its first w:t and empties
// the others.
func (p *Part) bytes() []byte {
	var edits []edit
	walkRuns(p.Blocks, func(r *Run) {
		if !r.dirty {
			return
		}
		for i, n := range r.nodes {
			e := edit{node: n}
			if i == 0 {
				e.text = r.text
			}
			edits = append(edits, e)
		}
	})
	if len(edits) == 0 {
		return p.raw
	}
	sort.Slice(edits, func(i, j int) bool { return edits[i].node.start < edits[j].node.start })

	var buf bytes.Buffer
	buf.Grow(len(p.raw))
	last := 0
	for _, e := range edits {
		buf.Write(p.raw[last:e.node.start])
		writeText(&buf, e.node.qname, e.text)
		last = e.node.end
	}
	buf.Write(p.raw[last:])
	return buf.Bytes()
}

func writeText(buf *bytes.Buffer, qname, text string) {
	if text == "" {
		buf.WriteString("<" + qname + "/>")
		return
	}
	buf.WriteString("<" + qname)
	if strings.TrimSpace(text) != text {
		buf.WriteString(` xml:space="preserve"`)
	}
	buf.WriteByte('>')
	xml.EscapeText(buf, []byte(text))
	buf.WriteString("</" + qname + ">")
}

func walkRuns(blocks []Block, fn func(*Run)) {
	for _, p := range appendParagraphs(nil, blocks) {
		for _, r := range p.Runs {
			fn(r)
		}
	}
}
