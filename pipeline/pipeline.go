// Package pipeline drives a mail-merge batch: consistency check, row
// integrity, rendering, conversion and packaging into one zip archive.
//
// Stages run strictly in order. Rendering may run on several goroutines;
// conversion never does, every document goes through the Converter one
// after the other. Rendered documents live in a per-batch temporary
// directory removed on every exit path.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/mailmerge/convert"
	"github.com/hazyhaar/mailmerge/docx"
	"github.com/hazyhaar/mailmerge/idgen"
	"github.com/hazyhaar/mailmerge/kit"
	"github.com/hazyhaar/mailmerge/merge"
	"github.com/hazyhaar/mailmerge/sheet"
)

// ErrNamingField is returned when the naming field is not a placeholder of
// the template.
var ErrNamingField = errors.New("pipeline: naming field is not a template placeholder")

// Input is one batch request. Zero NamingField and Format fall back to the
// orchestrator's Config.
type Input struct {
	Template    []byte
	Data        []byte
	NamingField string
	Format      convert.Format
}

// Artifact is one converted document in the archive.
type Artifact struct {
	Row  int    `json:"row"`
	Name string `json:"name"`
	Size int    `json:"size"`
}

// Result is the outcome of a batch that got past the fatal checks.
type Result struct {
	BatchID   string           `json:"batch_id"`
	Archive   []byte           `json:"-"`
	Artifacts []Artifact       `json:"artifacts"`
	RowErrors []merge.RowError `json:"row_errors"`
	Summary   Summary          `json:"summary"`
}

// Summary describes a finished batch, fatal or not.
type Summary struct {
	BatchID      string         `json:"batch_id"`
	Started      time.Time      `json:"started"`
	Duration     time.Duration  `json:"duration"`
	Format       convert.Format `json:"format"`
	Placeholders int            `json:"placeholders"`
	Rows         int            `json:"rows"`
	Succeeded    int            `json:"succeeded"`
	Skipped      int            `json:"skipped"`
	ArchiveBytes int            `json:"archive_bytes"`
	// ArchiveDigest is the hex BLAKE2b-256 of the archive.
	ArchiveDigest string           `json:"archive_digest,omitempty"`
	RowErrors     []merge.RowError `json:"row_errors,omitempty"`
	Err           string           `json:"error,omitempty"`
}

// Observer is told about every finished batch.
type Observer interface {
	BatchFinished(ctx context.Context, s Summary)
}

// Orchestrator runs batches against one Converter.
type Orchestrator struct {
	conv     convert.Converter
	cfg      Config
	format   merge.Formatter
	observer Observer
	newID    idgen.Generator
	now      func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObserver reports every batch summary to obs.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithIDGenerator sets the batch ID generator.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(o *Orchestrator) { o.newID = gen }
}

// WithClock sets the time source; archive entry times come from it.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New returns an Orchestrator converting through conv.
func New(conv convert.Converter, cfg Config, opts ...Option) *Orchestrator {
	cfg.defaults()
	o := &Orchestrator{
		conv:   conv,
		cfg:    cfg,
		format: merge.NewFormatter(cfg.Policy),
		newID:  idgen.Batch,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// rendered is one record after the render stage.
type rendered struct {
	rec  merge.Record
	path string
	err  error
}

// Run executes a whole batch.
//
// Unreadable inputs, a consistency failure, a bad naming field or
// cancellation return an error and no Result. Row-level failures of any
// stage are collected in Result.RowErrors.
func (o *Orchestrator) Run(ctx context.Context, in Input) (*Result, error) {
	batchID := o.newID()
	started := o.now()
	ctx = kit.WithBatchID(ctx, batchID)
	log := kit.Logger(ctx, o.cfg.Logger)

	naming := in.NamingField
	if naming == "" {
		naming = o.cfg.NamingField
	}
	format := in.Format
	if format == "" {
		format = o.cfg.Format
	}

	sum := Summary{BatchID: batchID, Started: started, Format: format}
	finish := func(err error) {
		sum.Duration = o.now().Sub(started)
		if err != nil {
			sum.Err = err.Error()
			log.Error("batch failed", "error", err)
		} else {
			log.Info("batch done", "rows", sum.Rows, "succeeded", sum.Succeeded, "skipped", sum.Skipped, "duration", sum.Duration)
		}
		if o.observer != nil {
			o.observer.BatchFinished(ctx, sum)
		}
	}

	tpl, sh, set, err := o.prepare(in)
	if err != nil {
		finish(err)
		return nil, err
	}
	sum.Placeholders = len(set)
	sum.Rows = len(sh.Rows)

	if naming != "" && !set.Has(naming) {
		err := fmt.Errorf("%w: %q", ErrNamingField, naming)
		finish(err)
		return nil, err
	}

	v := merge.Validate(sh, set, o.format, log)
	log.Info("rows validated", "records", len(v.Records), "rejected", len(v.Errors))

	res, err := o.produce(ctx, log, tpl, v, naming, format)
	if err != nil {
		finish(err)
		return nil, err
	}
	res.BatchID = batchID

	sort.SliceStable(res.RowErrors, func(i, j int) bool { return res.RowErrors[i].Row < res.RowErrors[j].Row })
	sum.Succeeded = len(res.Artifacts)
	sum.Skipped = len(res.RowErrors)
	sum.ArchiveBytes = len(res.Archive)
	sum.ArchiveDigest = digest(res.Archive)
	sum.RowErrors = res.RowErrors
	finish(nil)
	res.Summary = sum
	return res, nil
}

// prepare runs the fatal stages: parsing and the consistency check.
func (o *Orchestrator) prepare(in Input) (*docx.Document, *sheet.Sheet, merge.Set, error) {
	tpl, err := merge.ParseTemplate(in.Template)
	if err != nil {
		return nil, nil, nil, err
	}
	sh, err := merge.ParseData(in.Data)
	if err != nil {
		return nil, nil, nil, err
	}
	set := merge.Extract(tpl)
	if err := merge.CheckConsistency(set, sh.Header); err != nil {
		return nil, nil, nil, err
	}
	return tpl, sh, set, nil
}

func (o *Orchestrator) produce(ctx context.Context, log *slog.Logger, tpl *docx.Document, v *merge.Validation, naming string, format convert.Format) (*Result, error) {
	res := &Result{RowErrors: append([]merge.RowError(nil), v.Errors...)}

	dir, err := os.MkdirTemp(o.cfg.TempDir, "mailmerge-*")
	if err != nil {
		return nil, fmt.Errorf("pipeline: temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	docs, err := o.render(ctx, log, dir, tpl, v.Records)
	if err != nil {
		return nil, err
	}

	names := newNamer(o.cfg.Collisions, format.Ext())
	var entries []entry
	byRow := make(map[int]int) // row → index in entries

	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("pipeline: cancelled: %w", err)
		}
		row := d.rec.Row
		rlog := log.With("row", row)
		if d.err != nil {
			rlog.Warn("row not rendered", "error", d.err)
			res.RowErrors = append(res.RowErrors, merge.RenderFailed(row, d.err))
			continue
		}

		out, err := o.convert(ctx, d.path, format)
		if err != nil {
			rlog.Warn("row not converted", "error", err)
			res.RowErrors = append(res.RowErrors, merge.ConversionFailed(row, err))
			continue
		}

		value := ""
		if naming != "" {
			value = d.rec.Values[naming]
		}
		name, replaced := names.name(value, row)
		if replaced != 0 {
			rlog.Warn("artifact name collision, overwriting", "name", name, "replaced_row", replaced)
			entries[byRow[replaced]].data = nil
		}
		byRow[row] = len(entries)
		entries = append(entries, entry{row: row, name: name, data: out})
	}

	archive, artifacts, err := writeArchive(entries, o.now())
	if err != nil {
		return nil, err
	}
	res.Archive = archive
	res.Artifacts = artifacts
	return res, nil
}

// render renders every record into dir, in parallel. Per-row failures are
// kept in the result; only cancellation and I/O errors abort.
func (o *Orchestrator) render(ctx context.Context, log *slog.Logger, dir string, tpl *docx.Document, recs []merge.Record) ([]rendered, error) {
	docs := make([]rendered, len(recs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)
	for i, rec := range recs {
		docs[i].rec = rec
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			doc, err := merge.Render(tpl, rec, log.With("row", rec.Row))
			if err != nil {
				docs[i].err = err
				return nil
			}
			data, err := doc.Bytes()
			if err != nil {
				docs[i].err = fmt.Errorf("%w: row %d: serialize: %v", merge.ErrRender, rec.Row, err)
				return nil
			}
			path := filepath.Join(dir, "row-"+strconv.Itoa(rec.Row)+".docx")
			if err := os.WriteFile(path, data, 0o600); err != nil {
				return fmt.Errorf("pipeline: write rendered row %d: %w", rec.Row, err)
			}
			docs[i].path = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("pipeline: cancelled: %w", ctx.Err())
		}
		return nil, err
	}
	return docs, nil
}

func (o *Orchestrator) convert(ctx context.Context, path string, format convert.Format) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.ConvertTimeout)
	defer cancel()
	return o.conv.Convert(ctx, data, format)
}
