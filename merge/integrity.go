package merge

import (
	"log/slog"

	"github.com/hazyhaar/mailmerge/sheet"
)

// Record is a validated data row: placeholder name to formatted value.
type Record struct {
	Row    int               `json:"row"`
	Values map[string]string `json:"values"`
}

// Validation is the outcome of Validate. Records and Errors are disjoint by
// row and both in source row order.
type Validation struct {
	Records []Record
	Errors  []RowError
	// Signatures holds the cell kind each placeholder's column was fixed
	// to by the first row supplying a value for it. Dates and times share
	// the date signature.
	Signatures map[string]sheet.Kind
}

// Validate checks every data row of sh against the placeholder set.
//
// Rows are processed in source order. An empty row, a missing value or a
// cell whose kind differs from its column signature rejects the row and
// evaluation moves on to the next one. A column's signature is fixed by
// the first non-empty value read for it, even when that row is rejected
// later by another column.
func Validate(sh *sheet.Sheet, set Set, f Formatter, logger *slog.Logger) *Validation {
	if logger == nil {
		logger = slog.Default()
	}
	v := &Validation{Signatures: make(map[string]sheet.Kind, len(set))}
	cols := Columns(set, sh.Header)
	names := set.Sorted()

	for _, row := range sh.Rows {
		rec, rerr := v.row(row, names, cols, f)
		if rerr != nil {
			logger.Warn("row skipped", "row", row.Index, "reason", rerr.Reason, "error", rerr.Message)
			v.Errors = append(v.Errors, *rerr)
			continue
		}
		v.Records = append(v.Records, rec)
	}
	return v
}

func (v *Validation) row(row sheet.Row, names []string, cols map[string]int, f Formatter) (Record, *RowError) {
	if row.Empty() {
		e := emptyRow(row.Index)
		return Record{}, &e
	}

	values := make(map[string]string, len(names))
	for _, name := range names {
		col, ok := cols[name]
		if !ok {
			e := missingValue(row.Index, name)
			return Record{}, &e
		}
		cell, ok := row.Cell(col)
		if !ok || cell.Empty() {
			e := missingValue(row.Index, name)
			return Record{}, &e
		}
		kind := signature(cell.Kind)
		if sig, ok := v.Signatures[name]; ok {
			if sig != kind {
				e := typeMismatch(row.Index, name, sig, kind)
				return Record{}, &e
			}
		} else {
			v.Signatures[name] = kind
		}
		s, err := f.Format(cell)
		if err != nil {
			e := formatFailure(row.Index, name, err)
			return Record{}, &e
		}
		values[name] = s
	}
	return Record{Row: row.Index, Values: values}, nil
}

// signature is the kind a cell contributes to its column signature. Time
// cells count as dates: both are date/time values in the workbook.
func signature(k sheet.Kind) sheet.Kind {
	if k == sheet.KindTime {
		return sheet.KindDate
	}
	return k
}
