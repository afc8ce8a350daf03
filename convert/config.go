package convert

import (
	"fmt"
	"log/slog"
	"time"
)

// Backend names accepted by Config.Backend.
const (
	BackendOffice  = "office"
	BackendBrowser = "browser"
	BackendNative  = "native"
)

// Config selects and configures the conversion stack built by New.
type Config struct {
	// Backend produces PDF: "office" (LibreOffice, default), "browser"
	// (headless Chrome) or "native" (no PDF support).
	Backend string `yaml:"backend" json:"backend"`

	// OfficeBinary is the soffice executable for the office backend.
	OfficeBinary string `yaml:"office_binary" json:"office_binary"`

	// BrowserURL is a remote Chrome DevTools URL for the browser backend.
	BrowserURL string `yaml:"browser_url" json:"browser_url"`

	// VerifyPDF validates every produced PDF.
	VerifyPDF bool `yaml:"verify_pdf" json:"verify_pdf"`

	// BreakerThreshold is how many consecutive failures of the office or
	// browser backend make later calls fail fast. 0 disables the breaker.
	BreakerThreshold int `yaml:"breaker_threshold" json:"breaker_threshold"`

	// BreakerReset is how long the breaker stays open. Default: 30s.
	BreakerReset time.Duration `yaml:"-" json:"-"`

	// Timeout bounds each conversion. Default: 2m.
	Timeout time.Duration `yaml:"-" json:"-"`

	Logger *slog.Logger `yaml:"-" json:"-"`
}

func (c *Config) defaults() {
	if c.Backend == "" {
		c.Backend = BackendOffice
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// New builds the conversion stack: DOCX, HTML and Markdown in-process,
// PDF (and HTML for office) through the configured backend, the whole
// behind one Serial worker. Close the result when done.
func New(cfg Config) (*Serial, error) {
	cfg.defaults()
	native := NewNative()
	mux := Mux{DOCX: native, HTML: native, Markdown: native}

	external := func(c Converter) Converter {
		if cfg.BreakerThreshold <= 0 {
			return c
		}
		return NewBreaker(c, BreakerConfig{Threshold: cfg.BreakerThreshold, Reset: cfg.BreakerReset, Logger: cfg.Logger})
	}

	switch cfg.Backend {
	case BackendOffice:
		office := external(NewOffice(OfficeConfig{Binary: cfg.OfficeBinary, Logger: cfg.Logger}))
		mux[PDF] = office
		mux[HTML] = office
	case BackendBrowser:
		mux[PDF] = external(NewBrowser(BrowserConfig{RemoteURL: cfg.BrowserURL, Logger: cfg.Logger}))
	case BackendNative:
	default:
		return nil, fmt.Errorf("convert: unknown backend %q", cfg.Backend)
	}

	var next Converter = mux
	if cfg.VerifyPDF {
		next = VerifyPDF(mux, cfg.Logger)
	}
	return NewSerial(next, SerialConfig{Timeout: cfg.Timeout, Logger: cfg.Logger}), nil
}
