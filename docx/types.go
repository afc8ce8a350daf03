package docx

// Block is a block-level element of a part: a *Paragraph or a *Table.
type Block interface {
	block()
}

// PartKind distinguishes the main body from header and footer parts.
type PartKind string

const (
	PartBody   PartKind = "body"
	PartHeader PartKind = "header"
	PartFooter PartKind = "footer"
)

// Part is one XML part of the package that carries paragraphs.
type Part struct {
	Name   string   // zip entry name, e.g. word/document.xml
	Kind   PartKind // body, header, footer
	Blocks []Block

	raw []byte
}

// Paragraph is an ordered sequence of runs. Its text is the concatenation
// of the run texts.
type Paragraph struct {
	Style string // w:pStyle value, empty for Normal
	Runs  []*Run
}

// Props are the run properties the HTML backend understands. Everything
// else in w:rPr is kept verbatim in the package and never inspected.
type Props struct {
	Bold      bool
	Italic    bool
	Underline bool
}

// Run is one w:r element. Its text is the concatenation of its w:t nodes.
type Run struct {
	Props Props

	nodes []textNode
	text  string
	dirty bool
}

// textNode is the byte span of one <w:t>…</w:t> element in the part XML.
type textNode struct {
	start, end int
	qname      string
}

// Table is a w:tbl element.
type Table struct {
	Rows []*TableRow
}

// TableRow is a w:tr element.
type TableRow struct {
	Cells []*TableCell
}

// TableCell is a w:tc element; cells hold paragraphs and nested tables.
type TableCell struct {
	Blocks []Block
}

func (*Paragraph) block() {}
func (*Table) block()     {}

// Text returns the run's current text.
func (r *Run) Text() string { return r.text }

// Modified reports whether the run text differs from the template.
func (r *Run) Modified() bool { return r.dirty }

func (r *Run) setText(s string) {
	if s == r.text {
		return
	}
	r.text = s
	r.dirty = true
}
