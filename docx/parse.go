package docx

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// WordprocessingML namespaces (transitional and strict).
const (
	nsW       = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
	nsWStrict = "http://purl.oclc.org/ooxml/wordprocessingml/main"
)

func isW(n xml.Name, local string) bool {
	return n.Local == local && (n.Space == nsW || n.Space == nsWStrict)
}

// parser walks one part's token stream and records the byte span of every
// w:t element so edits can be spliced into the raw XML later.
type parser struct {
	raw []byte
	dec *xml.Decoder

	blocks     []Block
	containers []*[]Block // innermost block container last
	tables     []*Table
	paras      []*Paragraph
	runs       []*Run
	path       []xml.Name

	inText    bool
	textStart int
	text      strings.Builder
}

func parsePart(raw []byte) ([]Block, error) {
	p := &parser{raw: raw, dec: xml.NewDecoder(bytes.NewReader(raw))}
	p.containers = []*[]Block{&p.blocks}

	for {
		off := int(p.dec.InputOffset())
		tok, err := p.dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			p.path = append(p.path, t.Name)
			if err := p.start(t, off); err != nil {
				return nil, err
			}
		case xml.CharData:
			if p.inText {
				p.text.Write(t)
			}
		case xml.EndElement:
			p.end(t)
			p.path = p.path[:len(p.path)-1]
		}
	}
	return p.blocks, nil
}

// parent returns the name of the element enclosing the current one.
func (p *parser) parent(up int) xml.Name {
	i := len(p.path) - 1 - up
	if i < 0 {
		return xml.Name{}
	}
	return p.path[i]
}

func (p *parser) container() *[]Block {
	return p.containers[len(p.containers)-1]
}

func (p *parser) start(t xml.StartElement, off int) error {
	switch {
	case isW(t.Name, "tbl"):
		tbl := &Table{}
		c := p.container()
		*c = append(*c, tbl)
		p.tables = append(p.tables, tbl)

	case isW(t.Name, "tr"):
		if len(p.tables) == 0 {
			return fmt.Errorf("w:tr outside w:tbl at offset %d", off)
		}
		tbl := p.tables[len(p.tables)-1]
		tbl.Rows = append(tbl.Rows, &TableRow{})

	case isW(t.Name, "tc"):
		if len(p.tables) == 0 || len(p.tables[len(p.tables)-1].Rows) == 0 {
			return fmt.Errorf("w:tc outside w:tr at offset %d", off)
		}
		rows := p.tables[len(p.tables)-1].Rows
		row := rows[len(rows)-1]
		cell := &TableCell{}
		row.Cells = append(row.Cells, cell)
		p.containers = append(p.containers, &cell.Blocks)

	case isW(t.Name, "p"):
		para := &Paragraph{}
		c := p.container()
		*c = append(*c, para)
		p.paras = append(p.paras, para)

	case isW(t.Name, "pStyle"):
		if len(p.paras) > 0 && isW(p.parent(1), "pPr") {
			p.paras[len(p.paras)-1].Style = attr(t, "val")
		}

	case isW(t.Name, "r"):
		if len(p.paras) == 0 {
			return nil
		}
		run := &Run{}
		para := p.paras[len(p.paras)-1]
		para.Runs = append(para.Runs, run)
		p.runs = append(p.runs, run)

	case isW(t.Name, "b"), isW(t.Name, "i"), isW(t.Name, "u"):
		if len(p.runs) == 0 || !isW(p.parent(1), "rPr") || !isW(p.parent(2), "r") {
			return nil
		}
		props := &p.runs[len(p.runs)-1].Props
		on := toggle(t)
		switch t.Name.Local {
		case "b":
			props.Bold = on
		case "i":
			props.Italic = on
		case "u":
			props.Underline = on && attr(t, "val") != "none"
		}

	case isW(t.Name, "t"):
		if len(p.runs) == 0 || !isW(p.parent(1), "r") {
			return nil
		}
		p.inText = true
		p.textStart = off
		p.text.Reset()
	}
	return nil
}

func (p *parser) end(t xml.EndElement) {
	switch {
	case isW(t.Name, "tbl"):
		if len(p.tables) > 0 {
			p.tables = p.tables[:len(p.tables)-1]
		}
	case isW(t.Name, "tc"):
		if len(p.containers) > 1 {
			p.containers = p.containers[:len(p.containers)-1]
		}
	case isW(t.Name, "p"):
		if len(p.paras) > 0 {
			p.paras = p.paras[:len(p.paras)-1]
		}
	case isW(t.Name, "r"):
		if len(p.runs) > 0 {
			p.runs = p.runs[:len(p.runs)-1]
		}
	case isW(t.Name, "t"):
		if !p.inText {
			return
		}
		p.inText = false
		run := p.runs[len(p.runs)-1]
		end := int(p.dec.InputOffset())
		run.nodes = append(run.nodes, textNode{
			start: p.textStart,
			end:   end,
			qname: qualifiedName(p.raw[p.textStart:end]),
		})
		run.text += p.text.String()
	}
}

// qualifiedName returns the element name as written in the start tag, so a
// rewritten element keeps the document's own namespace prefix.
func qualifiedName(tag []byte) string {
	s := string(tag)
	s = strings.TrimPrefix(s, "<")
	if i := strings.IndexAny(s, " \t\r\n/>"); i >= 0 {
		s = s[:i]
	}
	return s
}

func attr(t xml.StartElement, local string) string {
	for _, a := range t.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// toggle reads an OOXML on/off property: absent val means on.
func toggle(t xml.StartElement) bool {
	switch strings.ToLower(attr(t, "val")) {
	case "0", "false", "off":
		return false
	}
	return true
}
