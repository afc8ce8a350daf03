package convert

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/hazyhaar/mailmerge/docx"
	. "github.com/hazyhaar/mailmerge/docx/docxtest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
		ok   bool
	}{
		{"pdf", PDF, true},
		{" PDF ", PDF, true},
		{"docx", DOCX, true},
		{"html", HTML, true},
		{"md", Markdown, true},
		{"markdown", Markdown, true},
		{"odt", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
		if !tt.ok && !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("ParseFormat(%q): got %v, want ErrUnsupportedFormat", tt.in, err)
		}
	}
	if PDF.Ext() != ".pdf" || Markdown.Ext() != ".md" {
		t.Fatal("unexpected extensions")
	}
}

func TestSerial_OneCallAtATime(t *testing.T) {
	var inFlight, peak atomic.Int32
	slow := Func(func(ctx context.Context, doc []byte, f Format) ([]byte, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return append([]byte(string(f)+":"), doc...), nil
	})
	s := NewSerial(slow, SerialConfig{Timeout: 5 * time.Second})
	defer s.Close()

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc := []byte{byte('a' + i)}
			out, err := s.Convert(context.Background(), doc, PDF)
			if err != nil {
				t.Error(err)
				return
			}
			if string(out) != "pdf:"+string(doc) {
				t.Errorf("got %q", out)
			}
		}()
	}
	wg.Wait()
	if peak.Load() != 1 {
		t.Fatalf("peak concurrency %d, want 1", peak.Load())
	}
}

func TestSerial_Timeout(t *testing.T) {
	block := Func(func(ctx context.Context, doc []byte, f Format) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	s := NewSerial(block, SerialConfig{Timeout: 20 * time.Millisecond})
	defer s.Close()

	start := time.Now()
	_, err := s.Convert(context.Background(), nil, PDF)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want DeadlineExceeded", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("timeout not enforced")
	}
}

func TestSerial_BackendError(t *testing.T) {
	boom := errors.New("boom")
	s := NewSerial(Func(func(context.Context, []byte, Format) ([]byte, error) { return nil, boom }), SerialConfig{})
	defer s.Close()
	if _, err := s.Convert(context.Background(), nil, PDF); !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
}

type closer struct {
	Func
	closed atomic.Int32
}

func (c *closer) Close() error {
	c.closed.Add(1)
	return nil
}

func TestSerial_Close(t *testing.T) {
	c := &closer{Func: func(context.Context, []byte, Format) ([]byte, error) { return nil, nil }}
	s := NewSerial(c, SerialConfig{})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if c.closed.Load() != 1 {
		t.Fatalf("backend closed %d times", c.closed.Load())
	}
	if _, err := s.Convert(context.Background(), nil, PDF); !errors.Is(err, ErrClosed) {
		t.Fatalf("got %v, want ErrClosed", err)
	}
}

func TestMux(t *testing.T) {
	m := Mux{HTML: Func(func(context.Context, []byte, Format) ([]byte, error) { return []byte("ok"), nil })}
	if out, err := m.Convert(context.Background(), nil, HTML); err != nil || string(out) != "ok" {
		t.Fatalf("got %q, %v", out, err)
	}
	if _, err := m.Convert(context.Background(), nil, PDF); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("got %v", err)
	}
}

func sample(t *testing.T) []byte {
	t.Helper()
	body := StyledP("Heading1", R("Lettera per Mario")) +
		P(R("Gentile "), B("Mario"), R(", "), I("grazie"), R(" <script>alert(1)</script>")) +
		Table([]string{P(R("Via Roma 1")), P(R("00100"))})
	return Build(t, body, map[string]string{"word/footer1.xml": Header(P(R("Pagina uno")))})
}

func TestNative_HTML(t *testing.T) {
	out, err := NewNative().Convert(context.Background(), sample(t), HTML)
	if err != nil {
		t.Fatal(err)
	}
	page := string(out)
	for _, want := range []string{
		"<title>Lettera per Mario</title>",
		"<h1>Lettera per Mario</h1>",
		"<strong>Mario</strong>",
		"<em>grazie</em>",
		"&lt;script&gt;",
		"<td><p>Via Roma 1</p></td>",
		"<footer><p>Pagina uno</p></footer>",
	} {
		if !strings.Contains(page, want) {
			t.Errorf("missing %q in:\n%s", want, page)
		}
	}
	if strings.Contains(page, "<script>") {
		t.Error("script element leaked into output")
	}
}

func TestNative_Markdown(t *testing.T) {
	out, err := NewNative().Convert(context.Background(), sample(t), Markdown)
	if err != nil {
		t.Fatal(err)
	}
	md := string(out)
	for _, want := range []string{"# Lettera per Mario", "**Mario**", "Via Roma 1"} {
		if !strings.Contains(md, want) {
			t.Errorf("missing %q in:\n%s", want, md)
		}
	}
}

func TestNative_DOCXPassthroughAndPDFUnsupported(t *testing.T) {
	n := NewNative()
	doc := sample(t)
	out, err := n.Convert(context.Background(), doc, DOCX)
	if err != nil || string(out) != string(doc) {
		t.Fatalf("docx passthrough: %v", err)
	}
	if _, err := n.Convert(context.Background(), doc, PDF); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("got %v", err)
	}
}

func TestRenderHTML_NoTitle(t *testing.T) {
	doc, err := docx.Parse(Build(t, P(R("plain")), nil))
	if err != nil {
		t.Fatal(err)
	}
	out, err := RenderHTML(doc)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "<title>Document</title>") || !strings.Contains(string(out), "<main><p>plain</p></main>") {
		t.Fatalf("got %s", out)
	}
}

func TestHeadingLevel(t *testing.T) {
	tests := map[string]int{
		"Heading1": 1, "heading3": 3, "Titolo2": 2, "Titre6": 6, "Überschrift4": 4,
		"Title": 1, "Subtitle": 2, "Heading7": 0, "Normal": 0, "": 0, "Heading12": 0,
	}
	for style, want := range tests {
		if got := headingLevel(style); got != want {
			t.Errorf("headingLevel(%q) = %d, want %d", style, got, want)
		}
	}
}

func TestVerifyPDF(t *testing.T) {
	garbage := Func(func(context.Context, []byte, Format) ([]byte, error) { return []byte("not a pdf"), nil })
	v := VerifyPDF(garbage, nil)
	if _, err := v.Convert(context.Background(), nil, PDF); err == nil {
		t.Fatal("expected invalid pdf error")
	}
	out, err := v.Convert(context.Background(), nil, HTML)
	if err != nil || string(out) != "not a pdf" {
		t.Fatalf("non-pdf output must pass through: %q, %v", out, err)
	}
}

func fakeSoffice(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in for soffice")
	}
	path := filepath.Join(t.TempDir(), "soffice")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOffice(t *testing.T) {
	bin := fakeSoffice(t, `out=""; in=""
while [ $# -gt 0 ]; do
  case "$1" in
    --outdir) out="$2"; shift ;;
    *) in="$1" ;;
  esac
  shift
done
{ printf 'converted:'; cat "$in"; } > "$out/document.pdf"
`)
	o := NewOffice(OfficeConfig{Binary: bin})
	out, err := o.Convert(context.Background(), []byte("DOC"), PDF)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "converted:DOC" {
		t.Fatalf("got %q", out)
	}
	if _, err := o.Convert(context.Background(), nil, Markdown); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("got %v", err)
	}
}

func TestOffice_Failure(t *testing.T) {
	bin := fakeSoffice(t, "echo 'source file could not be loaded' >&2\nexit 1\n")
	_, err := NewOffice(OfficeConfig{Binary: bin}).Convert(context.Background(), []byte("DOC"), PDF)
	if err == nil || !strings.Contains(err.Error(), "could not be loaded") {
		t.Fatalf("got %v", err)
	}
}

func TestOffice_NoOutput(t *testing.T) {
	bin := fakeSoffice(t, "exit 0\n")
	_, err := NewOffice(OfficeConfig{Binary: bin}).Convert(context.Background(), []byte("DOC"), PDF)
	if err == nil || !strings.Contains(err.Error(), "no pdf output") {
		t.Fatalf("got %v", err)
	}
}

func TestNew(t *testing.T) {
	if _, err := New(Config{Backend: "fax"}); err == nil {
		t.Fatal("expected unknown backend error")
	}
	s, err := New(Config{Backend: BackendNative})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, err := s.Convert(context.Background(), sample(t), PDF); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("got %v", err)
	}
	if _, err := s.Convert(context.Background(), sample(t), Markdown); err != nil {
		t.Fatal(err)
	}
}
