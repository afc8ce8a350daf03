package convert

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Verified wraps a converter and validates every PDF it produces.
type Verified struct {
	next   Converter
	logger *slog.Logger
}

// VerifyPDF returns next with PDF output validation. Other formats pass
// through untouched.
func VerifyPDF(next Converter, logger *slog.Logger) *Verified {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verified{next: next, logger: logger}
}

func (v *Verified) Convert(ctx context.Context, doc []byte, f Format) ([]byte, error) {
	out, err := v.next.Convert(ctx, doc, f)
	if err != nil || f != PDF {
		return out, err
	}
	pages, err := PDFPages(out)
	if err != nil {
		return nil, err
	}
	v.logger.Debug("convert: pdf verified", "pages", pages, "bytes", len(out))
	return out, nil
}

// Close closes the wrapped converter when it has a Close method.
func (v *Verified) Close() error {
	if c, ok := v.next.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// PDFPages validates data as a PDF and returns its page count.
func PDFPages(data []byte) (int, error) {
	conf := model.NewDefaultConfiguration()
	if err := api.Validate(bytes.NewReader(data), conf); err != nil {
		return 0, fmt.Errorf("convert: invalid pdf: %w", err)
	}
	n, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return 0, fmt.Errorf("convert: pdf page count: %w", err)
	}
	if n == 0 {
		return 0, fmt.Errorf("convert: pdf has no pages")
	}
	return n, nil
}
