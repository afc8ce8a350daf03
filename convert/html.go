package convert

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/mailmerge/docx"
)

const pageStyle = `body{font-family:sans-serif;margin:2cm}table{border-collapse:collapse}td{border:1px solid #999;padding:4px;vertical-align:top}header,footer{color:#555;font-size:smaller}`

var (
	policyOnce sync.Once
	policy     *bluemonday.Policy
)

// sanitizer allows only the elements RenderHTML emits.
func sanitizer() *bluemonday.Policy {
	policyOnce.Do(func() {
		p := bluemonday.NewPolicy()
		p.AllowElements(
			"header", "footer",
			"p", "h1", "h2", "h3", "h4", "h5", "h6",
			"strong", "em", "u",
			"table", "tbody", "tr", "td",
		)
		// main is not in bluemonday's default attribute-free set.
		p.AllowNoAttrs().OnElements("main")
		policy = p
	})
	return policy
}

// RenderHTML renders a parsed document as a standalone HTML page:
// headers, body and footers in that order, headings from paragraph styles,
// bold, italic and underline from run properties.
func RenderHTML(doc *docx.Document) ([]byte, error) {
	var headers, body, footers []*html.Node
	title := ""
	for _, part := range doc.Parts {
		nodes := blockNodes(part.Blocks, &title)
		switch part.Kind {
		case docx.PartHeader:
			headers = append(headers, nodes...)
		case docx.PartFooter:
			footers = append(footers, nodes...)
		default:
			body = append(body, nodes...)
		}
	}

	var frag bytes.Buffer
	for _, sec := range []struct {
		a     atom.Atom
		nodes []*html.Node
	}{{atom.Header, headers}, {atom.Main, body}, {atom.Footer, footers}} {
		if len(sec.nodes) == 0 {
			continue
		}
		n := element(sec.a)
		for _, c := range sec.nodes {
			n.AppendChild(c)
		}
		if err := html.Render(&frag, n); err != nil {
			return nil, fmt.Errorf("convert: render html: %w", err)
		}
	}

	if title == "" {
		title = "Document"
	}
	var out bytes.Buffer
	out.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>")
	out.WriteString(html.EscapeString(title))
	out.WriteString("</title><style>" + pageStyle + "</style></head><body>")
	out.Write(sanitizer().SanitizeBytes(frag.Bytes()))
	out.WriteString("</body></html>\n")
	return out.Bytes(), nil
}

func blockNodes(blocks []docx.Block, title *string) []*html.Node {
	var out []*html.Node
	for _, b := range blocks {
		switch b := b.(type) {
		case *docx.Paragraph:
			out = append(out, paragraphNode(b, title))
		case *docx.Table:
			tbl := element(atom.Table)
			tbody := element(atom.Tbody)
			tbl.AppendChild(tbody)
			for _, row := range b.Rows {
				tr := element(atom.Tr)
				for _, cell := range row.Cells {
					td := element(atom.Td)
					for _, n := range blockNodes(cell.Blocks, title) {
						td.AppendChild(n)
					}
					tr.AppendChild(td)
				}
				tbody.AppendChild(tr)
			}
			out = append(out, tbl)
		}
	}
	return out
}

var headingAtoms = [...]atom.Atom{atom.P, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6}

func paragraphNode(p *docx.Paragraph, title *string) *html.Node {
	level := headingLevel(p.Style)
	n := element(headingAtoms[level])
	if level > 0 && *title == "" {
		*title = strings.TrimSpace(p.Text())
	}
	for _, r := range p.Runs {
		if r.Text() == "" {
			continue
		}
		inner := &html.Node{Type: html.TextNode, Data: r.Text()}
		for _, w := range []struct {
			on bool
			a  atom.Atom
		}{{r.Props.Underline, atom.U}, {r.Props.Italic, atom.Em}, {r.Props.Bold, atom.Strong}} {
			if !w.on {
				continue
			}
			wrap := element(w.a)
			wrap.AppendChild(inner)
			inner = wrap
		}
		n.AppendChild(inner)
	}
	return n
}

func element(a atom.Atom) *html.Node {
	return &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
}

// headingLevel maps a paragraph style id to a heading level, 0 for body
// text. "Heading1" and "Titre1" give 1, "Title" 1, "Subtitle" 2.
func headingLevel(style string) int {
	lower := strings.ToLower(style)
	switch lower {
	case "title":
		return 1
	case "subtitle":
		return 2
	}
	for _, prefix := range []string{"heading", "titolo", "titre", "überschrift"} {
		if rest, ok := strings.CutPrefix(lower, prefix); ok {
			rest = strings.TrimSpace(rest)
			if len(rest) == 1 && rest[0] >= '1' && rest[0] <= '6' {
				return int(rest[0] - '0')
			}
		}
	}
	return 0
}
