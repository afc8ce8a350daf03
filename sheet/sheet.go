// Package sheet reads the active worksheet of an .xlsx workbook into typed
// cells: header row first, data rows in source order, each cell carrying
// its stored data type, its post-evaluation value and its display format.
//
// Formulas are never evaluated; the cached result stored in the workbook is
// what a cell holds.
package sheet

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// Open reads the active worksheet of the workbook at path.
func Open(path string) (*Sheet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sheet: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse reads the active worksheet of a workbook held in memory.
func Parse(data []byte) (*Sheet, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("sheet: open workbook: %w", err)
	}
	defer f.Close()
	return read(f)
}

type book struct {
	f        *excelize.File
	sheet    string
	date1904 bool
	formats  map[int]string // style index → number format code
}

func read(f *excelize.File) (*Sheet, error) {
	name := f.GetSheetName(f.GetActiveSheetIndex())
	if name == "" {
		list := f.GetSheetList()
		if len(list) == 0 {
			return nil, fmt.Errorf("sheet: workbook has no worksheets")
		}
		name = list[0]
	}

	rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("sheet: read rows of %q: %w", name, err)
	}

	b := &book{f: f, sheet: name, formats: make(map[int]string)}
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		b.date1904 = *props.Date1904
	}

	sh := &Sheet{Name: name}
	for i, raw := range rows {
		num := i + 1
		cells := make([]Cell, len(raw))
		for j, v := range raw {
			c, err := b.cell(num, j+1, v)
			if err != nil {
				return nil, err
			}
			cells[j] = c
		}
		if num == 1 {
			for j, v := range raw {
				sh.Header = append(sh.Header, Header{Name: v, Col: j + 1})
			}
			continue
		}
		sh.Rows = append(sh.Rows, Row{Index: num, Cells: cells})
	}
	return sh, nil
}

func (b *book) cell(row, col int, raw string) (Cell, error) {
	c := Cell{Row: row, Col: col, Format: "General"}
	if raw == "" {
		return c, nil
	}

	ref, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return c, fmt.Errorf("sheet: cell (%d,%d): %w", row, col, err)
	}
	typ, err := b.f.GetCellType(b.sheet, ref)
	if err != nil {
		return c, fmt.Errorf("sheet: cell %s type: %w", ref, err)
	}
	c.Format = b.numFmt(ref)

	switch typ {
	case excelize.CellTypeBool:
		c.Kind, c.Value = KindBool, raw == "1" || strings.EqualFold(raw, "true")
	case excelize.CellTypeError:
		c.Kind, c.Value = KindError, raw
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString, excelize.CellTypeFormula:
		c.Kind, c.Value = KindText, raw
	case excelize.CellTypeDate:
		t, err := parseISODate(raw)
		if err != nil {
			return c, fmt.Errorf("sheet: cell %s: %w", ref, err)
		}
		c.Kind, c.Value = KindDate, t
	default:
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			c.Kind, c.Value = KindText, raw
			return c, nil
		}
		c.Kind, c.Value = KindNumber, v
		k := formatKind(c.Format)
		if k == KindTime && v >= 1 {
			// A time format over a whole day count still holds a date.
			k = KindDate
		}
		if k == KindDate || k == KindTime {
			if t, err := excelize.ExcelDateToTime(v, b.date1904); err == nil {
				c.Kind, c.Value = k, t
			}
		}
	}
	return c, nil
}

func (b *book) numFmt(ref string) string {
	idx, err := b.f.GetCellStyle(b.sheet, ref)
	if err != nil {
		return "General"
	}
	if code, ok := b.formats[idx]; ok {
		return code
	}
	code := "General"
	if st, err := b.f.GetStyle(idx); err == nil && st != nil {
		if st.CustomNumFmt != nil && *st.CustomNumFmt != "" {
			code = *st.CustomNumFmt
		} else if builtin, ok := builtinFormats[st.NumFmt]; ok {
			code = builtin
		}
	}
	b.formats[idx] = code
	return code
}

func parseISODate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised ISO 8601 date %q", s)
}
