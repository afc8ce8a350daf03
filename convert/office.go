package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// OfficeConfig configures the LibreOffice backend.
type OfficeConfig struct {
	// Binary is the soffice executable. Default: "soffice".
	Binary string

	Logger *slog.Logger
}

func (c *OfficeConfig) defaults() {
	if c.Binary == "" {
		c.Binary = "soffice"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Office converts through a headless LibreOffice process per call. Two
// soffice processes sharing a profile corrupt it, so wrap it in Serial.
type Office struct {
	cfg OfficeConfig
}

// NewOffice returns a LibreOffice backend.
func NewOffice(cfg OfficeConfig) *Office {
	cfg.defaults()
	return &Office{cfg: cfg}
}

var officeFilters = map[Format]string{
	PDF:  "pdf:writer_pdf_Export",
	HTML: "html:XHTML Writer File:UTF8",
	DOCX: "docx:MS Word 2007 XML",
}

func (o *Office) Convert(ctx context.Context, doc []byte, f Format) ([]byte, error) {
	filter, ok := officeFilters[f]
	if !ok {
		return nil, fmt.Errorf("%w: %s (office)", ErrUnsupportedFormat, f)
	}

	dir, err := os.MkdirTemp("", "mailmerge-office-*")
	if err != nil {
		return nil, fmt.Errorf("convert: temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in", "document.docx")
	outDir := filepath.Join(dir, "out")
	for _, d := range []string{filepath.Dir(in), outDir} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return nil, fmt.Errorf("convert: %w", err)
		}
	}
	if err := os.WriteFile(in, doc, 0o600); err != nil {
		return nil, fmt.Errorf("convert: write input: %w", err)
	}

	profile := (&url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Join(dir, "profile"))}).String()
	cmd := exec.CommandContext(ctx, o.cfg.Binary,
		"-env:UserInstallation="+profile,
		"--headless", "--norestore", "--nologo",
		"--convert-to", filter,
		"--outdir", outDir,
		in,
	)
	cmd.WaitDelay = 5 * time.Second
	out, err := cmd.CombinedOutput()
	if ctx.Err() != nil {
		return nil, fmt.Errorf("convert: soffice: %w", ctx.Err())
	}
	if err != nil {
		return nil, fmt.Errorf("convert: soffice: %w: %s", err, strings.TrimSpace(string(out)))
	}

	data, err := os.ReadFile(filepath.Join(outDir, "document"+f.Ext()))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("convert: soffice produced no %s output: %s", f, strings.TrimSpace(string(out)))
	}
	if err != nil {
		return nil, fmt.Errorf("convert: read output: %w", err)
	}
	o.cfg.Logger.Debug("convert: soffice done", "format", f, "bytes", len(data))
	return data, nil
}
