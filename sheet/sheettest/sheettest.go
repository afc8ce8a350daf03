// Package sheettest builds .xlsx workbooks for tests.
package sheettest

import (
	"testing"

	"github.com/xuri/excelize/v2"
)

// Book is a single-sheet workbook under construction.
type Book struct {
	t     testing.TB
	f     *excelize.File
	sheet string
	next  int
}

// New starts an empty workbook with one sheet.
func New(t testing.TB) *Book {
	t.Helper()
	f := excelize.NewFile()
	t.Cleanup(func() { f.Close() })
	return &Book{t: t, f: f, sheet: f.GetSheetName(f.GetActiveSheetIndex()), next: 1}
}

// Row appends a row. nil values leave the cell empty.
func (b *Book) Row(values ...any) *Book {
	b.t.Helper()
	for i, v := range values {
		if v == nil {
			continue
		}
		b.Set(ref(b.t, i+1, b.next), v)
	}
	b.next++
	return b
}

// Skip leaves n rows blank.
func (b *Book) Skip(n int) *Book {
	b.next += n
	return b
}

// Set writes one cell by reference, e.g. "B3".
func (b *Book) Set(cell string, v any) *Book {
	b.t.Helper()
	if err := b.f.SetCellValue(b.sheet, cell, v); err != nil {
		b.t.Fatalf("set %s: %v", cell, err)
	}
	return b
}

// Format applies a custom number format code to a cell.
func (b *Book) Format(cell, code string) *Book {
	b.t.Helper()
	id, err := b.f.NewStyle(&excelize.Style{CustomNumFmt: &code})
	if err != nil {
		b.t.Fatalf("style %q: %v", code, err)
	}
	return b.style(cell, id)
}

// NumFmt applies a built-in number format id to a cell.
func (b *Book) NumFmt(cell string, id int) *Book {
	b.t.Helper()
	style, err := b.f.NewStyle(&excelize.Style{NumFmt: id})
	if err != nil {
		b.t.Fatalf("style %d: %v", id, err)
	}
	return b.style(cell, style)
}

func (b *Book) style(cell string, id int) *Book {
	b.t.Helper()
	if err := b.f.SetCellStyle(b.sheet, cell, cell, id); err != nil {
		b.t.Fatalf("apply style to %s: %v", cell, err)
	}
	return b
}

// Bytes serializes the workbook.
func (b *Book) Bytes() []byte {
	b.t.Helper()
	buf, err := b.f.WriteToBuffer()
	if err != nil {
		b.t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}

func ref(t testing.TB, col, row int) string {
	t.Helper()
	r, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		t.Fatal(err)
	}
	return r
}
