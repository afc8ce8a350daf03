// Package convert turns rendered .docx documents into their delivery format.
//
// Backends implement Converter. Serial wraps any backend so that a single
// worker goroutine owns its session and every call is bounded by a timeout;
// Mux routes each format to the backend able to produce it.
package convert

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Format is an output format selector.
type Format string

const (
	PDF      Format = "pdf"
	DOCX     Format = "docx"
	HTML     Format = "html"
	Markdown Format = "md"
)

// Formats lists every supported format.
var Formats = []Format{PDF, DOCX, HTML, Markdown}

// ErrUnsupportedFormat is returned by a backend asked for a format it
// cannot produce.
var ErrUnsupportedFormat = errors.New("convert: unsupported format")

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("convert: converter closed")

// ParseFormat parses a format name, case-insensitively. "markdown" is
// accepted for Markdown.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case PDF, DOCX, HTML, Markdown:
		return f, nil
	case "markdown":
		return Markdown, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// Ext returns the file extension, dot included.
func (f Format) Ext() string { return "." + string(f) }

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case PDF:
		return "application/pdf"
	case DOCX:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case HTML:
		return "text/html; charset=utf-8"
	case Markdown:
		return "text/markdown; charset=utf-8"
	}
	return "application/octet-stream"
}

// Converter converts one rendered .docx document.
type Converter interface {
	Convert(ctx context.Context, doc []byte, f Format) ([]byte, error)
}

// Func adapts a function to Converter.
type Func func(ctx context.Context, doc []byte, f Format) ([]byte, error)

func (fn Func) Convert(ctx context.Context, doc []byte, f Format) ([]byte, error) {
	return fn(ctx, doc, f)
}

// Mux routes each format to its backend.
type Mux map[Format]Converter

func (m Mux) Convert(ctx context.Context, doc []byte, f Format) ([]byte, error) {
	c, ok := m[f]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}
	return c.Convert(ctx, doc, f)
}

// Close closes every backend that has a Close method. A backend routed for
// several formats is closed once per route, so Close must be idempotent.
func (m Mux) Close() error {
	var errs []error
	for _, c := range m {
		cl, ok := c.(interface{ Close() error })
		if !ok {
			continue
		}
		if err := cl.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
