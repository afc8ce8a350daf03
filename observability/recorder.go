// Package observability keeps a SQLite history of mail-merge batches: one
// row per batch, the rows each batch excluded, and batch metrics.
//
// Writes are asynchronous. A Recorder never blocks a batch: when its
// buffer is full it falls back to a synchronous insert, and insert
// failures are logged, not returned.
package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/mailmerge/dbopen"
	"github.com/hazyhaar/mailmerge/merge"
	"github.com/hazyhaar/mailmerge/pipeline"
)

// Batch statuses.
const (
	StatusOK      = "ok"      // every row produced a document
	StatusPartial = "partial" // some rows were excluded
	StatusFailed  = "failed"  // the batch aborted
)

// Run is one recorded batch.
type Run struct {
	BatchID      string        `json:"batch_id"`
	Started      time.Time     `json:"started"`
	Duration     time.Duration `json:"duration"`
	Format       string        `json:"format"`
	Placeholders int           `json:"placeholders"`
	Rows         int           `json:"rows"`
	Succeeded    int           `json:"succeeded"`
	Skipped      int           `json:"skipped"`
	ArchiveBytes int           `json:"archive_bytes"`
	Digest       string        `json:"archive_digest,omitempty"`
	Status       string        `json:"status"`
	Error        string        `json:"error,omitempty"`
}

// RunFilter selects runs for Query. Zero fields match everything.
type RunFilter struct {
	Since  time.Time
	Until  time.Time
	Status string
	Format string
	Limit  int // default 100
	Offset int
}

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	BufferSize    int             // default 256
	FlushInterval time.Duration   // default 5s
	Metrics       *MetricsManager // optional
	Logger        *slog.Logger
}

func (c *RecorderConfig) defaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = 256
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Recorder persists batch summaries. It implements pipeline.Observer.
type Recorder struct {
	db   *sql.DB
	cfg  RecorderConfig
	ch   chan pipeline.Summary
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

var _ pipeline.Observer = (*Recorder)(nil)

// NewRecorder starts a recorder writing to db. Init must have been applied.
func NewRecorder(db *sql.DB, cfg RecorderConfig) *Recorder {
	cfg.defaults()
	r := &Recorder{
		db:   db,
		cfg:  cfg,
		ch:   make(chan pipeline.Summary, cfg.BufferSize),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go r.flushLoop()
	return r
}

// BatchFinished queues s for persistence.
func (r *Recorder) BatchFinished(ctx context.Context, s pipeline.Summary) {
	r.metrics(s)
	select {
	case <-r.stop:
	default:
		select {
		case r.ch <- s:
			return
		default:
			r.cfg.Logger.Warn("observability: recorder buffer full, sync insert", "batch_id", s.BatchID)
		}
	}
	if err := r.Record(context.WithoutCancel(ctx), s); err != nil {
		r.cfg.Logger.Error("observability: record batch", "batch_id", s.BatchID, "error", err)
	}
}

// Record persists s synchronously.
func (r *Recorder) Record(ctx context.Context, s pipeline.Summary) error {
	return dbopen.RunTx(ctx, r.db, func(tx *sql.Tx) error {
		return insert(ctx, tx, s)
	})
}

func (r *Recorder) metrics(s pipeline.Summary) {
	mm := r.cfg.Metrics
	if mm == nil {
		return
	}
	labels := map[string]string{"format": string(s.Format), "status": status(s)}
	at := s.Started.Add(s.Duration)
	mm.Record(Metric{Name: MetricBatchDurationMs, Timestamp: at, Value: float64(s.Duration.Milliseconds()), Labels: labels, Unit: "milliseconds"})
	mm.Record(Metric{Name: MetricRowsSucceeded, Timestamp: at, Value: float64(s.Succeeded), Labels: labels, Unit: "count"})
	mm.Record(Metric{Name: MetricRowsSkipped, Timestamp: at, Value: float64(s.Skipped), Labels: labels, Unit: "count"})
	mm.Record(Metric{Name: MetricArchiveBytes, Timestamp: at, Value: float64(s.ArchiveBytes), Labels: labels, Unit: "bytes"})
}

func status(s pipeline.Summary) string {
	switch {
	case s.Err != "":
		return StatusFailed
	case s.Skipped > 0:
		return StatusPartial
	default:
		return StatusOK
	}
}

func insert(ctx context.Context, tx *sql.Tx, s pipeline.Summary) error {
	var errMsg sql.NullString
	if s.Err != "" {
		errMsg = sql.NullString{String: s.Err, Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO batch_runs
		(batch_id, started, duration_ms, format, placeholders, total_rows,
		 succeeded, skipped, archive_bytes, archive_digest, status, error)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.BatchID, s.Started.UnixMilli(), s.Duration.Milliseconds(), string(s.Format),
		s.Placeholders, s.Rows, s.Succeeded, s.Skipped, s.ArchiveBytes, s.ArchiveDigest, status(s), errMsg,
	); err != nil {
		return fmt.Errorf("insert batch %s: %w", s.BatchID, err)
	}
	for _, re := range s.RowErrors {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO batch_row_errors
			(batch_id, row_num, stage, reason, placeholder, message)
			VALUES (?,?,?,?,?,?)`,
			s.BatchID, re.Row, string(re.Stage), string(re.Reason), re.Placeholder, re.Message,
		); err != nil {
			return fmt.Errorf("insert row error %s/%d: %w", s.BatchID, re.Row, err)
		}
	}
	return nil
}

// Query returns recorded runs, newest first.
func (r *Recorder) Query(ctx context.Context, f RunFilter) ([]Run, error) {
	var where []string
	var args []any
	if !f.Since.IsZero() {
		where = append(where, "started >= ?")
		args = append(args, f.Since.UnixMilli())
	}
	if !f.Until.IsZero() {
		where = append(where, "started <= ?")
		args = append(args, f.Until.UnixMilli())
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Format != "" {
		where = append(where, "format = ?")
		args = append(args, f.Format)
	}

	q := `SELECT batch_id, started, duration_ms, format, placeholders, total_rows,
		succeeded, skipped, archive_bytes, archive_digest, status, error FROM batch_runs`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " ORDER BY started DESC, batch_id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, max(f.Offset, 0))

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query batch runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var run Run
		var started, durMs int64
		var errMsg sql.NullString
		if err := rows.Scan(&run.BatchID, &started, &durMs, &run.Format, &run.Placeholders, &run.Rows,
			&run.Succeeded, &run.Skipped, &run.ArchiveBytes, &run.Digest, &run.Status, &errMsg); err != nil {
			return nil, fmt.Errorf("scan batch run: %w", err)
		}
		run.Started = time.UnixMilli(started)
		run.Duration = time.Duration(durMs) * time.Millisecond
		run.Error = errMsg.String
		out = append(out, run)
	}
	return out, rows.Err()
}

// Get returns one run and its excluded rows, or sql.ErrNoRows.
func (r *Recorder) Get(ctx context.Context, batchID string) (*Run, []merge.RowError, error) {
	var run Run
	var started, durMs int64
	var errMsg sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT batch_id, started, duration_ms, format, placeholders, total_rows,
		succeeded, skipped, archive_bytes, archive_digest, status, error FROM batch_runs WHERE batch_id = ?`, batchID).
		Scan(&run.BatchID, &started, &durMs, &run.Format, &run.Placeholders, &run.Rows,
			&run.Succeeded, &run.Skipped, &run.ArchiveBytes, &run.Digest, &run.Status, &errMsg)
	if err != nil {
		return nil, nil, err
	}
	run.Started = time.UnixMilli(started)
	run.Duration = time.Duration(durMs) * time.Millisecond
	run.Error = errMsg.String

	rows, err := r.db.QueryContext(ctx, `SELECT row_num, stage, reason, placeholder, message
		FROM batch_row_errors WHERE batch_id = ? ORDER BY row_num`, batchID)
	if err != nil {
		return nil, nil, fmt.Errorf("query row errors: %w", err)
	}
	defer rows.Close()

	var rowErrs []merge.RowError
	for rows.Next() {
		var re merge.RowError
		var stage, reason string
		var ph sql.NullString
		if err := rows.Scan(&re.Row, &stage, &reason, &ph, &re.Message); err != nil {
			return nil, nil, fmt.Errorf("scan row error: %w", err)
		}
		re.Stage, re.Reason, re.Placeholder = merge.Stage(stage), merge.Reason(reason), ph.String
		rowErrs = append(rowErrs, re)
	}
	return &run, rowErrs, rows.Err()
}

// Cleanup deletes runs started before cutoff, with their row errors.
func (r *Recorder) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := dbopen.RunTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM batch_row_errors WHERE batch_id IN
			(SELECT batch_id FROM batch_runs WHERE started < ?)`, cutoff.UnixMilli()); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM batch_runs WHERE started < ?", cutoff.UnixMilli())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("cleanup batch runs: %w", err)
	}
	return n, nil
}

// Close flushes queued summaries and stops the flush goroutine.
func (r *Recorder) Close() error {
	r.once.Do(func() { close(r.stop) })
	<-r.done
	return nil
}

func (r *Recorder) flushLoop() {
	defer close(r.done)
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()
	batch := make([]pipeline.Summary, 0, 100)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := dbopen.RunTx(ctx, r.db, func(tx *sql.Tx) error {
			for _, s := range batch {
				if err := insert(ctx, tx, s); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			r.cfg.Logger.Error("observability: flush batch runs", "count", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-r.stop:
			for {
				select {
				case s := <-r.ch:
					batch = append(batch, s)
				default:
					flush()
					return
				}
			}
		case s := <-r.ch:
			batch = append(batch, s)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
