// Package docx reads a Word (.docx) package into a block tree of paragraphs,
// runs and tables, lets callers rewrite run text, and writes the package back.
//
// Only the text of modified w:t elements is spliced into the original XML;
// every other byte of every part is preserved, so run formatting, section
// properties, images and relationships survive untouched.
//
// Usage:
//
//	doc, err := docx.Open("letter.docx")
//	for _, p := range doc.Paragraphs() {
//		p.ReplaceAll("{{name}}", "Mario")
//	}
//	out, err := doc.Bytes()
package docx

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
)

// MainPart is the zip entry holding the document body.
const MainPart = "word/document.xml"

// ErrNoBody is returned when the package has no word/document.xml.
var ErrNoBody = errors.New("docx: word/document.xml not found in archive")

// Document is a parsed .docx package.
type Document struct {
	Parts []*Part

	zr *zip.Reader
}

// Open reads and parses a .docx file.
func Open(p string) (*Document, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("docx: read %s: %w", p, err)
	}
	return Parse(data)
}

// Parse parses a .docx package held in memory. The slice must not be
// modified afterwards: clones and serialization share it.
func Parse(data []byte) (*Document, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("docx: open zip: %w", err)
	}

	doc := &Document{zr: zr}
	var found bool
	for _, f := range zr.File {
		kind, ok := partKind(f.Name)
		if !ok {
			continue
		}
		raw, err := readEntry(f)
		if err != nil {
			return nil, err
		}
		blocks, err := parsePart(raw)
		if err != nil {
			return nil, fmt.Errorf("docx: parse %s: %w", f.Name, err)
		}
		if kind == PartBody {
			found = true
		}
		doc.Parts = append(doc.Parts, &Part{Name: f.Name, Kind: kind, Blocks: blocks, raw: raw})
	}
	if !found {
		return nil, ErrNoBody
	}

	// Body first, then headers and footers by name, independent of zip order.
	sort.SliceStable(doc.Parts, func(i, j int) bool {
		a, b := doc.Parts[i], doc.Parts[j]
		if (a.Kind == PartBody) != (b.Kind == PartBody) {
			return a.Kind == PartBody
		}
		return a.Name < b.Name
	})
	return doc, nil
}

// partKind classifies zip entries that carry paragraphs.
func partKind(name string) (PartKind, bool) {
	if name == MainPart {
		return PartBody, true
	}
	if path.Dir(name) != "word" || path.Ext(name) != ".xml" {
		return "", false
	}
	base := path.Base(name)
	switch {
	case strings.HasPrefix(base, "header"):
		return PartHeader, true
	case strings.HasPrefix(base, "footer"):
		return PartFooter, true
	}
	return "", false
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("docx: open %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("docx: read %s: %w", f.Name, err)
	}
	return data, nil
}

// Body returns the blocks of the main document part.
func (d *Document) Body() []Block {
	for _, p := range d.Parts {
		if p.Kind == PartBody {
			return p.Blocks
		}
	}
	return nil
}

// Paragraphs returns every paragraph of the document: body paragraphs,
// table-cell paragraphs at any nesting depth, then headers and footers.
func (d *Document) Paragraphs() []*Paragraph {
	var out []*Paragraph
	for _, p := range d.Parts {
		out = appendParagraphs(out, p.Blocks)
	}
	return out
}

func appendParagraphs(out []*Paragraph, blocks []Block) []*Paragraph {
	for _, b := range blocks {
		switch b := b.(type) {
		case *Paragraph:
			out = append(out, b)
		case *Table:
			for _, row := range b.Rows {
				for _, cell := range row.Cells {
					out = appendParagraphs(out, cell.Blocks)
				}
			}
		}
	}
	return out
}

// Clone returns an independent copy of the document. Run text edits on the
// clone never reach the receiver.
func (d *Document) Clone() *Document {
	c := &Document{zr: d.zr, Parts: make([]*Part, len(d.Parts))}
	for i, p := range d.Parts {
		c.Parts[i] = &Part{Name: p.Name, Kind: p.Kind, Blocks: cloneBlocks(p.Blocks), raw: p.raw}
	}
	return c
}

func cloneBlocks(blocks []Block) []Block {
	if blocks == nil {
		return nil
	}
	out := make([]Block, len(blocks))
	for i, b := range blocks {
		switch b := b.(type) {
		case *Paragraph:
			out[i] = b.clone()
		case *Table:
			t := &Table{Rows: make([]*TableRow, len(b.Rows))}
			for ri, row := range b.Rows {
				r := &TableRow{Cells: make([]*TableCell, len(row.Cells))}
				for ci, cell := range row.Cells {
					r.Cells[ci] = &TableCell{Blocks: cloneBlocks(cell.Blocks)}
				}
				t.Rows[ri] = r
			}
			out[i] = t
		}
	}
	return out
}

func (p *Paragraph) clone() *Paragraph {
	c := &Paragraph{Style: p.Style, Runs: make([]*Run, len(p.Runs))}
	for i, r := range p.Runs {
		// nodes is never mutated after parsing, so the backing array is shared.
		c.Runs[i] = &Run{Props: r.Props, nodes: r.nodes, text: r.text, dirty: r.dirty}
	}
	return c
}

// Bytes serializes the document as a .docx package. Entries whose part
// has no modified run are copied raw from the source archive.
func (d *Document) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := d.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTo writes the serialized package to w.
func (d *Document) WriteTo(w io.Writer) (int64, error) {
	parts := make(map[string]*Part, len(d.Parts))
	for _, p := range d.Parts {
		parts[p.Name] = p
	}

	cw := &countWriter{w: w}
	zw := zip.NewWriter(cw)
	for _, f := range d.zr.File {
		p, ok := parts[f.Name]
		if !ok || !p.modified() {
			if err := zw.Copy(f); err != nil {
				return cw.n, fmt.Errorf("docx: copy %s: %w", f.Name, err)
			}
			continue
		}
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     f.Name,
			Method:   zip.Deflate,
			Modified: f.Modified,
		})
		if err != nil {
			return cw.n, fmt.Errorf("docx: create %s: %w", f.Name, err)
		}
		if _, err := fw.Write(p.bytes()); err != nil {
			return cw.n, fmt.Errorf("docx: write %s: %w", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return cw.n, fmt.Errorf("docx: close zip: %w", err)
	}
	return cw.n, nil
}

// PartXML returns the current XML of the named part, with edits applied.
func (d *Document) PartXML(name string) ([]byte, bool) {
	for _, p := range d.Parts {
		if p.Name == name {
			return p.bytes(), true
		}
	}
	return nil, false
}

type countWriter struct {
	w io.Writer
	n int64
}

func (c *countWriter) Write(b []byte) (int, error) {
	n, err := c.w.Write(b)
	c.n += int64(n)
	return n, err
}
