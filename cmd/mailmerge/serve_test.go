package main

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/mailmerge/convert"
	"github.com/hazyhaar/mailmerge/dbopen"
	"github.com/hazyhaar/mailmerge/docx/docxtest"
	"github.com/hazyhaar/mailmerge/idgen"
	"github.com/hazyhaar/mailmerge/observability"
	"github.com/hazyhaar/mailmerge/pipeline"
	"github.com/hazyhaar/mailmerge/sheet/sheettest"
	"github.com/hazyhaar/mailmerge/shield"
)

var echo = convert.Func(func(ctx context.Context, doc []byte, f convert.Format) ([]byte, error) {
	return []byte(string(f) + " document"), nil
})

type fixture struct {
	handler http.Handler
	history *observability.Recorder
}

func newFixture(t *testing.T, limit int) *fixture {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	db := dbopen.OpenMemory(t, dbopen.WithSchema(observability.Schema))
	rec := observability.NewRecorder(db, observability.RecorderConfig{FlushInterval: time.Hour, Logger: logger})
	t.Cleanup(func() { rec.Close() })

	orch := pipeline.New(echo, pipeline.Config{NamingField: "nome", TempDir: t.TempDir(), Logger: logger},
		pipeline.WithObserver(syncObserver{rec}),
		pipeline.WithIDGenerator(idgen.Sequence("batch_")))
	s := &server{orch: orch, history: rec, limiter: shield.NewRateLimiter(limit, time.Minute), maxMemory: 1 << 20}

	r := chi.NewRouter()
	for _, mw := range shield.Stack(logger, 1<<20) {
		r.Use(mw)
	}
	s.routes(r)
	return &fixture{handler: r, history: rec}
}

// syncObserver records synchronously so tests can read history at once.
type syncObserver struct{ rec *observability.Recorder }

func (o syncObserver) BatchFinished(ctx context.Context, s pipeline.Summary) {
	o.rec.Record(ctx, s)
}

func template(t *testing.T, body string) []byte {
	return docxtest.Build(t, docxtest.P(docxtest.R(body)), nil)
}

func workbook(t *testing.T) []byte {
	return sheettest.New(t).
		Row("nome", "indirizzo").
		Row("Mario", "Via Roma 1").
		Row("Luigi").
		Bytes()
}

func multipartBody(t *testing.T, files map[string][]byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, data := range files {
		fw, err := mw.CreateFormFile(name, name+".bin")
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(data)
	}
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func (f *fixture) post(t *testing.T, path string, files map[string][]byte, fields map[string]string, accept string) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, files, fields)
	req := httptest.NewRequest("POST", path, body)
	req.Header.Set("Content-Type", ct)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t, 0)
	rec := f.get(t, "/health")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("got %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Trace-ID") == "" || rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("middleware headers missing: %v", rec.Header())
	}
}

func TestPlaceholders(t *testing.T) {
	f := newFixture(t, 0)
	rec := f.post(t, "/v1/placeholders", map[string][]byte{"template": template(t, "{{nome}} {{indirizzo}}")}, nil, "")
	var got struct{ Placeholders []string }
	decode(t, rec, &got)
	if rec.Code != http.StatusOK || strings.Join(got.Placeholders, ",") != "indirizzo,nome" {
		t.Fatalf("got %d %v", rec.Code, got)
	}

	rec = f.post(t, "/v1/placeholders", map[string][]byte{"template": []byte("not a zip")}, nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad template: got %d", rec.Code)
	}
	rec = f.post(t, "/v1/placeholders", nil, map[string]string{"x": "y"}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing file: got %d", rec.Code)
	}
}

func TestCheck(t *testing.T) {
	f := newFixture(t, 0)
	rec := f.post(t, "/v1/check", map[string][]byte{"template": template(t, "{{nome}} {{indirizzo}}"), "data": workbook(t)}, nil, "")
	var rep pipeline.Report
	decode(t, rec, &rep)
	if rec.Code != http.StatusOK || len(rep.Records) != 1 || len(rep.RowErrors) != 1 {
		t.Fatalf("got %d %+v", rec.Code, rep)
	}

	rec = f.post(t, "/v1/check", map[string][]byte{"template": template(t, "{{nome}} {{fax}}"), "data": workbook(t)}, nil, "")
	decode(t, rec, &rep)
	if rec.Code != http.StatusUnprocessableEntity || rep.Consistent || strings.Join(rep.Missing, ",") != "fax" {
		t.Fatalf("inconsistent: got %d %+v", rec.Code, rep)
	}
}

func TestMerge_Zip(t *testing.T) {
	f := newFixture(t, 0)
	rec := f.post(t, "/v1/merge",
		map[string][]byte{"template": template(t, "{{nome}}, {{indirizzo}}"), "data": workbook(t)},
		map[string]string{"format": "html"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "application/zip" ||
		rec.Header().Get("X-Mailmerge-Batch") != "batch_1" ||
		rec.Header().Get("X-Mailmerge-Succeeded") != "1" ||
		rec.Header().Get("X-Mailmerge-Skipped") != "1" ||
		len(rec.Header().Get("X-Mailmerge-Digest")) != 64 {
		t.Fatalf("headers: %v", rec.Header())
	}

	raw, _ := base64.StdEncoding.DecodeString(rec.Header().Get("X-Mailmerge-Row-Errors"))
	if !strings.Contains(string(raw), "missing value for indirizzo") {
		t.Fatalf("row errors header: %s", raw)
	}

	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	if err != nil {
		t.Fatal(err)
	}
	if len(zr.File) != 1 || zr.File[0].Name != "Mario.html" {
		t.Fatalf("archive entries: %v", zr.File)
	}
}

func TestMerge_JSON(t *testing.T) {
	f := newFixture(t, 0)
	rec := f.post(t, "/v1/merge",
		map[string][]byte{"template": template(t, "{{nome}}, {{indirizzo}}"), "data": workbook(t)},
		nil, "application/json")
	var got struct {
		BatchID   string              `json:"batch_id"`
		Artifacts []pipeline.Artifact `json:"artifacts"`
		Archive   string              `json:"archive"`
	}
	decode(t, rec, &got)
	if rec.Code != http.StatusOK || got.BatchID != "batch_1" || len(got.Artifacts) != 1 || got.Artifacts[0].Name != "Mario.pdf" {
		t.Fatalf("got %d %+v", rec.Code, got)
	}
	if _, err := base64.StdEncoding.DecodeString(got.Archive); err != nil || got.Archive == "" {
		t.Fatalf("archive: %v", err)
	}
}

func TestMerge_Errors(t *testing.T) {
	f := newFixture(t, 0)
	tests := []struct {
		name   string
		files  map[string][]byte
		fields map[string]string
		want   int
	}{
		{"inconsistent", map[string][]byte{"template": template(t, "{{fax}}"), "data": workbook(t)}, nil, http.StatusUnprocessableEntity},
		{"bad naming field", map[string][]byte{"template": template(t, "{{indirizzo}}"), "data": workbook(t)}, map[string]string{"naming_field": "cognome"}, http.StatusUnprocessableEntity},
		{"bad data", map[string][]byte{"template": template(t, "{{nome}}"), "data": []byte("nope")}, nil, http.StatusBadRequest},
		{"bad format", map[string][]byte{"template": template(t, "{{nome}}"), "data": workbook(t)}, map[string]string{"format": "odt"}, http.StatusBadRequest},
		{"missing data", map[string][]byte{"template": template(t, "{{nome}}")}, nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.post(t, "/v1/merge", tt.files, tt.fields, "")
			if rec.Code != tt.want {
				t.Fatalf("got %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestMerge_RateLimited(t *testing.T) {
	f := newFixture(t, 1)
	files := map[string][]byte{"template": template(t, "{{nome}}"), "data": workbook(t)}
	if rec := f.post(t, "/v1/merge", files, nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("first: got %d", rec.Code)
	}
	if rec := f.post(t, "/v1/merge", files, nil, ""); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second: got %d", rec.Code)
	}
	// Only merge is limited.
	if rec := f.post(t, "/v1/check", files, nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("check: got %d", rec.Code)
	}
}

func TestBatches(t *testing.T) {
	f := newFixture(t, 0)
	f.post(t, "/v1/merge", map[string][]byte{"template": template(t, "{{nome}}, {{indirizzo}}"), "data": workbook(t)}, nil, "")
	f.post(t, "/v1/merge", map[string][]byte{"template": template(t, "{{fax}}"), "data": workbook(t)}, nil, "")

	rec := f.get(t, "/v1/batches")
	var list struct{ Batches []observability.Run }
	decode(t, rec, &list)
	if rec.Code != http.StatusOK || len(list.Batches) != 2 {
		t.Fatalf("got %d %+v", rec.Code, list)
	}

	rec = f.get(t, "/v1/batches?status=failed")
	decode(t, rec, &list)
	if len(list.Batches) != 1 || list.Batches[0].BatchID != "batch_2" {
		t.Fatalf("failed: got %+v", list)
	}

	rec = f.get(t, "/v1/batches/batch_1")
	var one struct {
		Batch     observability.Run `json:"batch"`
		RowErrors []struct {
			Row int `json:"row"`
		} `json:"row_errors"`
	}
	decode(t, rec, &one)
	if rec.Code != http.StatusOK || one.Batch.Status != observability.StatusPartial || len(one.RowErrors) != 1 || one.RowErrors[0].Row != 3 {
		t.Fatalf("got %d %+v", rec.Code, one)
	}

	if rec := f.get(t, "/v1/batches/batch_9"); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown batch: got %d", rec.Code)
	}
	if rec := f.get(t, "/v1/batches?since=yesterday"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad since: got %d", rec.Code)
	}
}
