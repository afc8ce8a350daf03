package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/mailmerge/dbopen"
)

// Batch metric names.
const (
	MetricBatchDurationMs = "batch_duration_ms"
	MetricRowsSucceeded   = "batch_rows_succeeded"
	MetricRowsSkipped     = "batch_rows_skipped"
	MetricArchiveBytes    = "batch_archive_bytes"
)

// Metric is a single datapoint.
type Metric struct {
	Name      string            `json:"name"`
	Timestamp time.Time         `json:"timestamp"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Unit      string            `json:"unit,omitempty"`
}

// MetricsManager buffers datapoints and writes them in one transaction
// when the buffer fills, on every tick, and on Close.
type MetricsManager struct {
	db     *sql.DB
	size   int
	logger *slog.Logger

	mu     sync.Mutex
	buffer []Metric

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewMetricsManager starts a manager. Zero size and interval default to
// 100 and 5s.
func NewMetricsManager(db *sql.DB, size int, interval time.Duration, logger *slog.Logger) *MetricsManager {
	if size <= 0 {
		size = 100
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	mm := &MetricsManager{
		db:     db,
		size:   size,
		logger: logger,
		buffer: make([]Metric, 0, size),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go mm.loop(interval)
	return mm
}

// Record queues m. A zero Timestamp means now.
func (mm *MetricsManager) Record(m Metric) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	mm.mu.Lock()
	mm.buffer = append(mm.buffer, m)
	full := len(mm.buffer) >= mm.size
	mm.mu.Unlock()
	if full {
		mm.flush()
	}
}

// Query returns datapoints named name (all when empty) at or after since,
// newest first.
func (mm *MetricsManager) Query(ctx context.Context, name string, since time.Time, limit int) ([]Metric, error) {
	q := "SELECT metric_name, timestamp, value, labels, unit FROM metrics_timeseries WHERE timestamp >= ?"
	args := []any{since.UnixMilli()}
	if name != "" {
		q += " AND metric_name = ?"
		args = append(args, name)
	}
	q += " ORDER BY timestamp DESC, metric_id DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := mm.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	var out []Metric
	for rows.Next() {
		var m Metric
		var ts int64
		var labels sql.NullString
		if err := rows.Scan(&m.Name, &ts, &m.Value, &labels, &m.Unit); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		m.Timestamp = time.UnixMilli(ts)
		if labels.Valid {
			_ = json.Unmarshal([]byte(labels.String), &m.Labels)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Cleanup deletes datapoints older than cutoff.
func (mm *MetricsManager) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := dbopen.Exec(ctx, mm.db, "DELETE FROM metrics_timeseries WHERE timestamp < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("cleanup metrics: %w", err)
	}
	return res.RowsAffected()
}

// Close writes what is buffered and stops the flush goroutine.
func (mm *MetricsManager) Close() error {
	mm.once.Do(func() { close(mm.stop) })
	<-mm.done
	return nil
}

func (mm *MetricsManager) loop(interval time.Duration) {
	defer close(mm.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-mm.stop:
			mm.flush()
			return
		case <-ticker.C:
			mm.flush()
		}
	}
}

func (mm *MetricsManager) flush() {
	mm.mu.Lock()
	pending := mm.buffer
	mm.buffer = make([]Metric, 0, mm.size)
	mm.mu.Unlock()
	if len(pending) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := dbopen.RunTx(ctx, mm.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO metrics_timeseries (metric_name, timestamp, value, labels, unit) VALUES (?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, m := range pending {
			var labels sql.NullString
			if len(m.Labels) > 0 {
				if b, err := json.Marshal(m.Labels); err == nil {
					labels = sql.NullString{String: string(b), Valid: true}
				}
			}
			if _, err := stmt.ExecContext(ctx, m.Name, m.Timestamp.UnixMilli(), m.Value, labels, m.Unit); err != nil {
				return fmt.Errorf("insert %s: %w", m.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		mm.logger.Error("observability: flush metrics", "count", len(pending), "error", err)
	}
}
