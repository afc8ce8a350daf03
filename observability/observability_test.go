package observability

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hazyhaar/mailmerge/dbopen"
	"github.com/hazyhaar/mailmerge/merge"
	"github.com/hazyhaar/mailmerge/pipeline"
)

func setupObsDB(t *testing.T) *sql.DB {
	t.Helper()
	return dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
}

var t0 = time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)

func summary(id string, started time.Time, skipped int, fatal string) pipeline.Summary {
	s := pipeline.Summary{
		BatchID:       id,
		Started:       started,
		Duration:      1500 * time.Millisecond,
		Format:        "pdf",
		Placeholders:  2,
		Rows:          3,
		Succeeded:     3 - skipped,
		Skipped:       skipped,
		ArchiveBytes:  2048,
		ArchiveDigest: "ab12",
		Err:           fatal,
	}
	for i := range skipped {
		s.RowErrors = append(s.RowErrors, merge.RowError{
			Row:         3 + i,
			Stage:       merge.StageIntegrity,
			Reason:      merge.ReasonMissingValue,
			Placeholder: "indirizzo",
			Message:     "missing value for indirizzo",
		})
	}
	return s
}

func TestInit_CreatesAllTables(t *testing.T) {
	db := setupObsDB(t)
	for _, table := range []string{"batch_runs", "batch_row_errors", "metrics_timeseries", "_observability_metadata"} {
		var count int
		db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if count != 1 {
			t.Fatalf("table %s not found", table)
		}
	}
	if err := Init(db); err != nil {
		t.Fatalf("Init is not idempotent: %v", err)
	}
}

func TestRecorder_RecordAndGet(t *testing.T) {
	db := setupObsDB(t)
	r := NewRecorder(db, RecorderConfig{FlushInterval: time.Hour})
	defer r.Close()
	ctx := context.Background()

	if err := r.Record(ctx, summary("batch_1", t0, 1, "")); err != nil {
		t.Fatal(err)
	}
	run, rowErrs, err := r.Get(ctx, "batch_1")
	if err != nil {
		t.Fatal(err)
	}
	want := Run{
		BatchID: "batch_1", Started: t0, Duration: 1500 * time.Millisecond, Format: "pdf",
		Placeholders: 2, Rows: 3, Succeeded: 2, Skipped: 1, ArchiveBytes: 2048, Digest: "ab12", Status: StatusPartial,
	}
	if diff := cmp.Diff(want, *run, cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })); diff != "" {
		t.Fatalf("run (-want +got):\n%s", diff)
	}
	if len(rowErrs) != 1 || rowErrs[0].Row != 3 || rowErrs[0].Reason != merge.ReasonMissingValue || rowErrs[0].Placeholder != "indirizzo" {
		t.Fatalf("row errors: got %+v", rowErrs)
	}

	if _, _, err := r.Get(ctx, "batch_nope"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("missing batch: got %v", err)
	}
}

func TestRecorder_AsyncFlushOnClose(t *testing.T) {
	db := setupObsDB(t)
	r := NewRecorder(db, RecorderConfig{FlushInterval: time.Hour})
	ctx := context.Background()

	r.BatchFinished(ctx, summary("batch_1", t0, 0, ""))
	r.BatchFinished(ctx, summary("batch_2", t0.Add(time.Minute), 0, "consistency failure"))
	r.Close()

	var n int
	db.QueryRow("SELECT COUNT(*) FROM batch_runs").Scan(&n)
	if n != 2 {
		t.Fatalf("runs: got %d, want 2", n)
	}
	// Close is idempotent and later summaries are written synchronously.
	r.Close()
	r.BatchFinished(ctx, summary("batch_3", t0.Add(2*time.Minute), 0, ""))
	db.QueryRow("SELECT COUNT(*) FROM batch_runs").Scan(&n)
	if n != 3 {
		t.Fatalf("runs after close: got %d, want 3", n)
	}
}

func TestRecorder_BufferFullFallsBackToSync(t *testing.T) {
	db := setupObsDB(t)
	r := &Recorder{db: db, cfg: RecorderConfig{}, ch: make(chan pipeline.Summary), stop: make(chan struct{}), done: make(chan struct{})}
	r.cfg.defaults()

	r.BatchFinished(context.Background(), summary("batch_1", t0, 0, ""))

	var n int
	db.QueryRow("SELECT COUNT(*) FROM batch_runs").Scan(&n)
	if n != 1 {
		t.Fatalf("runs: got %d, want 1", n)
	}
}

func TestRecorder_Query(t *testing.T) {
	db := setupObsDB(t)
	r := NewRecorder(db, RecorderConfig{FlushInterval: time.Hour})
	defer r.Close()
	ctx := context.Background()

	for _, s := range []pipeline.Summary{
		summary("batch_1", t0, 0, ""),
		summary("batch_2", t0.Add(time.Hour), 2, ""),
		summary("batch_3", t0.Add(2*time.Hour), 0, "template: not a docx"),
	} {
		if err := r.Record(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	ids := func(runs []Run) []string {
		var out []string
		for _, run := range runs {
			out = append(out, run.BatchID)
		}
		return out
	}
	tests := []struct {
		name   string
		filter RunFilter
		want   []string
	}{
		{"all newest first", RunFilter{}, []string{"batch_3", "batch_2", "batch_1"}},
		{"failed", RunFilter{Status: StatusFailed}, []string{"batch_3"}},
		{"partial", RunFilter{Status: StatusPartial}, []string{"batch_2"}},
		{"since", RunFilter{Since: t0.Add(30 * time.Minute)}, []string{"batch_3", "batch_2"}},
		{"until", RunFilter{Until: t0}, []string{"batch_1"}},
		{"page", RunFilter{Limit: 1, Offset: 1}, []string{"batch_2"}},
		{"other format", RunFilter{Format: "md"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := r.Query(ctx, tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, ids(runs)); diff != "" {
				t.Fatalf("(-want +got):\n%s", diff)
			}
		})
	}

	runs, _ := r.Query(ctx, RunFilter{Status: StatusFailed})
	if runs[0].Error != "template: not a docx" {
		t.Fatalf("error: got %q", runs[0].Error)
	}
}

func TestRecorder_Cleanup(t *testing.T) {
	db := setupObsDB(t)
	r := NewRecorder(db, RecorderConfig{FlushInterval: time.Hour})
	defer r.Close()
	ctx := context.Background()

	r.Record(ctx, summary("batch_old", t0, 1, ""))
	r.Record(ctx, summary("batch_new", t0.Add(48*time.Hour), 1, ""))

	n, err := r.Cleanup(ctx, t0.Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("deleted: got %d", n)
	}
	var left int
	db.QueryRow("SELECT COUNT(*) FROM batch_row_errors").Scan(&left)
	if left != 1 {
		t.Fatalf("row errors left: got %d, want 1", left)
	}
}

func TestRecorder_Metrics(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 100, time.Hour, nil)
	r := NewRecorder(db, RecorderConfig{FlushInterval: time.Hour, Metrics: mm})

	r.BatchFinished(context.Background(), summary("batch_1", t0, 1, ""))
	r.Close()
	mm.Close()

	got, err := mm.Query(context.Background(), MetricRowsSkipped, time.Time{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Value != 1 || got[0].Labels["status"] != StatusPartial || got[0].Labels["format"] != "pdf" {
		t.Fatalf("got %+v", got)
	}
	if !got[0].Timestamp.Equal(t0.Add(1500 * time.Millisecond)) {
		t.Fatalf("timestamp: got %v", got[0].Timestamp)
	}
}

func TestMetricsManager_FlushWhenFull(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 2, time.Hour, nil)
	defer mm.Close()
	ctx := context.Background()

	mm.Record(Metric{Name: MetricBatchDurationMs, Timestamp: t0, Value: 10, Unit: "milliseconds"})
	mm.Record(Metric{Name: MetricBatchDurationMs, Timestamp: t0.Add(time.Second), Value: 20, Unit: "milliseconds"})

	got, err := mm.Query(ctx, "", time.Time{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Value != 20 {
		t.Fatalf("got %+v", got)
	}

	n, err := mm.Cleanup(ctx, t0.Add(500*time.Millisecond))
	if err != nil || n != 1 {
		t.Fatalf("cleanup: %d, %v", n, err)
	}
}
