package convert

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/mailmerge/docx"
)

// BrowserConfig configures the headless Chrome backend.
type BrowserConfig struct {
	// RemoteURL is the DevTools WebSocket URL of a running Chrome.
	// Empty = launch a local Chrome via launcher on first use.
	RemoteURL string

	Logger *slog.Logger
}

func (c *BrowserConfig) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Browser prints the HTML rendering of a document to PDF with headless
// Chrome. The browser session is started lazily and kept until Close.
type Browser struct {
	cfg BrowserConfig

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// NewBrowser returns a Chrome backend. No process starts until the first
// Convert.
func NewBrowser(cfg BrowserConfig) *Browser {
	cfg.defaults()
	return &Browser{cfg: cfg}
}

func (b *Browser) Convert(ctx context.Context, doc []byte, f Format) ([]byte, error) {
	if f != PDF {
		return nil, fmt.Errorf("%w: %s (browser)", ErrUnsupportedFormat, f)
	}
	parsed, err := docx.Parse(doc)
	if err != nil {
		return nil, fmt.Errorf("convert: %w", err)
	}
	page, err := RenderHTML(parsed)
	if err != nil {
		return nil, err
	}

	br, err := b.session()
	if err != nil {
		return nil, err
	}
	tab, err := br.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return nil, fmt.Errorf("convert: browser: create tab: %w", err)
	}
	defer tab.Close()

	tab = tab.Context(ctx)
	if err := tab.SetDocumentContent(string(page)); err != nil {
		return nil, fmt.Errorf("convert: browser: load html: %w", err)
	}
	if err := tab.WaitLoad(); err != nil {
		b.cfg.Logger.Warn("convert: browser: wait load", "error", err)
	}
	r, err := tab.PDF(&proto.PagePrintToPDF{PrintBackground: true})
	if err != nil {
		return nil, fmt.Errorf("convert: browser: print: %w", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("convert: browser: read pdf: %w", err)
	}
	return data, nil
}

func (b *Browser) session() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if b.browser != nil {
		return b.browser, nil
	}

	wsURL := b.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().Headless(true)
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("convert: browser: launch: %w", err)
		}
		wsURL = u
		b.lnch = l
		b.cfg.Logger.Info("convert: launched local chrome", "url", wsURL)
	} else {
		b.cfg.Logger.Info("convert: connecting to remote chrome", "url", wsURL)
	}

	br := rod.New().ControlURL(wsURL)
	if err := br.Connect(); err != nil {
		if b.lnch != nil {
			b.lnch.Cleanup()
			b.lnch = nil
		}
		return nil, fmt.Errorf("convert: browser: connect: %w", err)
	}
	b.browser = br
	return br, nil
}

// Close shuts the browser down. It is safe to call more than once.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	var err error
	if b.browser != nil {
		err = b.browser.Close()
		b.browser = nil
	}
	if b.lnch != nil {
		b.lnch.Cleanup()
		b.lnch = nil
	}
	return err
}
