package merge

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hazyhaar/mailmerge/docx"
	. "github.com/hazyhaar/mailmerge/docx/docxtest"
	"github.com/hazyhaar/mailmerge/sheet"
)

func template(t *testing.T, body string, extra map[string]string) *docx.Document {
	t.Helper()
	doc, err := ParseTemplate(Build(t, body, extra))
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func headers(names ...string) []sheet.Header {
	out := make([]sheet.Header, len(names))
	for i, n := range names {
		out[i] = sheet.Header{Name: n, Col: i + 1}
	}
	return out
}

func TestExtract(t *testing.T) {
	body := P(R("Gentile {{na"), B("me}}, "), R("{{ titolo }}")) +
		Table([]string{P(R("{{indirizzo}}")), Table([]string{P(R("{{cap}}{{citta}}"))})}) +
		P(R("{{ }} and {{nome}} again"))
	hdr := map[string]string{"word/header1.xml": Header(P(R("Rif. {{codice}}")))}
	doc := template(t, body, hdr)

	got := Extract(doc).Sorted()
	want := []string{"", "cap", "citta", "codice", "indirizzo", "name", "nome", "titolo"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("placeholders (-want +got):\n%s", diff)
	}

	if again := Extract(doc).Sorted(); !cmp.Equal(got, again) {
		t.Fatalf("second extraction differs: %v", again)
	}
}

func TestExtract_ShortestMatch(t *testing.T) {
	doc := template(t, P(R("{{a}} text }} {{b}}")), nil)
	got := Extract(doc).Sorted()
	if diff := cmp.Diff([]string{"a", "b"}, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestExtract_OrderIndependent(t *testing.T) {
	a := template(t, P(R("{{x}}"))+Table([]string{P(R("{{y}}"))}), nil)
	b := template(t, Table([]string{P(R("{{y}}"))})+P(R("{{x}}")), nil)
	if !cmp.Equal(Extract(a), Extract(b)) {
		t.Fatalf("got %v and %v", Extract(a).Sorted(), Extract(b).Sorted())
	}
}

func TestParseTemplate_Fatal(t *testing.T) {
	_, err := ParseTemplate([]byte("not a zip"))
	if !errors.Is(err, ErrFatalInput) {
		t.Fatalf("got %v, want ErrFatalInput", err)
	}
	var ie *InputError
	if !errors.As(err, &ie) || ie.Source != "template" {
		t.Fatalf("got %#v", err)
	}
}

func TestParseData_Fatal(t *testing.T) {
	_, err := ParseData([]byte("not a zip"))
	var ie *InputError
	if !errors.As(err, &ie) || ie.Source != "data" || !errors.Is(err, ErrFatalInput) {
		t.Fatalf("got %v", err)
	}
}

func TestCheckConsistency(t *testing.T) {
	set := NewSet("nome", "indirizzo")

	if err := CheckConsistency(set, headers("nome", "indirizzo", "extra")); err != nil {
		t.Fatalf("superset headers: %v", err)
	}

	err := CheckConsistency(set, headers("Nome", "", "indirizzo"))
	if !errors.Is(err, ErrConsistency) {
		t.Fatalf("got %v, want ErrConsistency", err)
	}
	var ce *ConsistencyError
	if !errors.As(err, &ce) {
		t.Fatalf("got %T", err)
	}
	if diff := cmp.Diff([]string{"nome"}, ce.Missing); diff != "" {
		t.Fatalf("missing (-want +got):\n%s", diff)
	}
}

func TestCheckConsistency_BlankPlaceholder(t *testing.T) {
	doc := template(t, P(R("Hi {{ }} {{nome}}")), nil)
	err := CheckConsistency(Extract(doc), headers("nome", ""))
	var ce *ConsistencyError
	if !errors.As(err, &ce) || !cmp.Equal(ce.Missing, []string{""}) {
		t.Fatalf("got %v", err)
	}
	if err.Error() != `merge: placeholders without a matching column: ""` {
		t.Fatalf("got %q", err.Error())
	}
}

func TestCheckConsistency_EmptyHeaderNeverMatches(t *testing.T) {
	err := CheckConsistency(NewSet("a", "b"), headers("", "", "a"))
	var ce *ConsistencyError
	if !errors.As(err, &ce) || !cmp.Equal(ce.Missing, []string{"b"}) {
		t.Fatalf("got %v", err)
	}
}

func TestColumns_LastDuplicateWins(t *testing.T) {
	cols := Columns(NewSet("a", "b"), headers("a", "b", "c", "a"))
	if diff := cmp.Diff(map[string]int{"a": 4, "b": 2}, cols); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}
