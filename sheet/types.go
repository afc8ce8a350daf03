package sheet

// Kind is the data type of a cell as stored in the workbook.
type Kind int

const (
	KindEmpty Kind = iota
	KindNumber
	KindText
	KindDate
	KindTime
	KindBool
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindNumber:
		return "numeric"
	case KindText:
		return "text"
	case KindDate:
		return "date"
	case KindTime:
		return "time"
	case KindBool:
		return "boolean"
	case KindError:
		return "error"
	}
	return "unknown"
}

// Cell is one worksheet cell with its post-evaluation value.
//
// Value holds nil (empty), float64 (number), string (text, error),
// time.Time (date, time) or bool.
type Cell struct {
	Row    int // 1-based
	Col    int // 1-based
	Kind   Kind
	Value  any
	Format string // display number format code, "General" when unset
}

// Empty reports whether the cell carries no value.
func (c Cell) Empty() bool { return c.Kind == KindEmpty || c.Value == nil }

// Header is one cell of the first row.
type Header struct {
	Name string
	Col  int // 1-based
}

// Row is one data row. Cells is indexed by column-1 and may be shorter
// than the header row when trailing cells are empty.
type Row struct {
	Index int // 1-based source row number
	Cells []Cell
}

// Cell returns the cell at 1-based column col.
func (r Row) Cell(col int) (Cell, bool) {
	if col < 1 || col > len(r.Cells) {
		return Cell{}, false
	}
	return r.Cells[col-1], true
}

// Empty reports whether every cell of the row is empty.
func (r Row) Empty() bool {
	for _, c := range r.Cells {
		if !c.Empty() {
			return false
		}
	}
	return true
}

// Sheet is the active worksheet: header row plus data rows in source order.
type Sheet struct {
	Name   string
	Header []Header
	Rows   []Row
}
