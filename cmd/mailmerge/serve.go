package main

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/mailmerge/convert"
	"github.com/hazyhaar/mailmerge/merge"
	"github.com/hazyhaar/mailmerge/observability"
	"github.com/hazyhaar/mailmerge/pipeline"
	"github.com/hazyhaar/mailmerge/shield"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the mail-merge HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, os.Stdout)
		if err != nil {
			return err
		}
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		conv, err := a.converter()
		if err != nil {
			return err
		}
		defer conv.Close()
		h, err := a.openHistory()
		if err != nil {
			return err
		}
		defer h.Close()
		go h.cleanup(ctx, a.logger, a.cfg.RetentionPeriod(), time.Hour)

		rl := shield.NewRateLimiter(a.cfg.RateLimit.Requests, a.cfg.RateWindow())
		rl.StartGC(ctx.Done(), 5*time.Minute)

		s := &server{orch: a.orchestrator(conv, h), limiter: rl, maxMemory: 8 << 20}
		if h != nil {
			s.history = h.recorder
		}
		r := chi.NewRouter()
		for _, mw := range shield.Stack(a.logger, a.cfg.MaxUploadBytes()) {
			r.Use(mw)
		}
		s.routes(r)

		srv := &http.Server{
			Addr:              a.cfg.Listen,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutCtx, shutCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutCancel()
			srv.Shutdown(shutCtx)
		}()

		a.logger.Info("mailmerge listening", "addr", a.cfg.Listen, "backend", a.cfg.Converter.Backend, "history", a.cfg.AuditDB != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		a.logger.Info("mailmerge stopped")
		return nil
	},
}

// server holds the HTTP handlers. history may be nil.
type server struct {
	orch      *pipeline.Orchestrator
	history   *observability.Recorder
	limiter   *shield.RateLimiter
	maxMemory int64
}

func (s *server) routes(r chi.Router) {
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/v1", func(r chi.Router) {
		r.Post("/placeholders", s.handlePlaceholders)
		r.Post("/check", s.handleCheck)
		r.With(s.limiter.Middleware).Post("/merge", s.handleMerge)
		if s.history != nil {
			r.Get("/batches", s.handleBatches)
			r.Get("/batches/{id}", s.handleBatch)
		}
	})
}

func (s *server) handlePlaceholders(w http.ResponseWriter, r *http.Request) {
	tpl, err := s.upload(r, "template")
	if err != nil {
		writeUploadError(w, err)
		return
	}
	names, err := pipeline.Placeholders(tpl)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"placeholders": names})
}

func (s *server) handleCheck(w http.ResponseWriter, r *http.Request) {
	in, err := s.inputs(r)
	if err != nil {
		writeUploadError(w, err)
		return
	}
	rep, err := s.orch.Check(r.Context(), in)
	switch {
	case errors.Is(err, merge.ErrConsistency):
		writeJSON(w, http.StatusUnprocessableEntity, rep)
	case err != nil:
		writeError(w, http.StatusBadRequest, err)
	default:
		writeJSON(w, http.StatusOK, rep)
	}
}

type mergeResponse struct {
	*pipeline.Result
	Archive string `json:"archive"`
}

func (s *server) handleMerge(w http.ResponseWriter, r *http.Request) {
	in, err := s.inputs(r)
	if err != nil {
		writeUploadError(w, err)
		return
	}
	in.NamingField = r.FormValue("naming_field")
	if f := r.FormValue("format"); f != "" {
		if in.Format, err = convert.ParseFormat(f); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	res, err := s.orch.Run(r.Context(), in)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		writeJSON(w, http.StatusOK, mergeResponse{Result: res, Archive: base64.StdEncoding.EncodeToString(res.Archive)})
		return
	}
	hdr := w.Header()
	hdr.Set("Content-Type", "application/zip")
	hdr.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.zip"`, res.BatchID))
	hdr.Set("X-Mailmerge-Batch", res.BatchID)
	hdr.Set("X-Mailmerge-Succeeded", strconv.Itoa(res.Summary.Succeeded))
	hdr.Set("X-Mailmerge-Skipped", strconv.Itoa(res.Summary.Skipped))
	hdr.Set("X-Mailmerge-Digest", res.Summary.ArchiveDigest)
	if len(res.RowErrors) > 0 {
		b, _ := json.Marshal(res.RowErrors)
		hdr.Set("X-Mailmerge-Row-Errors", base64.StdEncoding.EncodeToString(b))
	}
	hdr.Set("Content-Length", strconv.Itoa(len(res.Archive)))
	w.WriteHeader(http.StatusOK)
	w.Write(res.Archive)
}

func (s *server) handleBatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := observability.RunFilter{
		Status: q.Get("status"),
		Format: q.Get("format"),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("since: %w", err))
			return
		}
		f.Since = t
	}
	runs, err := s.history.Query(r.Context(), f)
	if err != nil {
		shield.GetLogger(r.Context()).Error("query batches", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
		return
	}
	if runs == nil {
		runs = []observability.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": runs})
}

func (s *server) handleBatch(w http.ResponseWriter, r *http.Request) {
	run, rowErrs, err := s.history.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, errors.New("batch not found"))
		return
	}
	if err != nil {
		shield.GetLogger(r.Context()).Error("get batch", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batch": run, "row_errors": rowErrs})
}

// upload reads one multipart file field.
func (s *server) upload(r *http.Request, field string) ([]byte, error) {
	if r.MultipartForm == nil {
		if err := r.ParseMultipartForm(s.maxMemory); err != nil {
			return nil, fmt.Errorf("parse form: %w", err)
		}
	}
	f, _, err := r.FormFile(field)
	if err != nil {
		return nil, fmt.Errorf("missing %s file: %w", field, err)
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (s *server) inputs(r *http.Request) (pipeline.Input, error) {
	tpl, err := s.upload(r, "template")
	if err != nil {
		return pipeline.Input{}, err
	}
	data, err := s.upload(r, "data")
	if err != nil {
		return pipeline.Input{}, err
	}
	return pipeline.Input{Template: tpl, Data: data}, nil
}

// statusOf maps a fatal batch error to an HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, merge.ErrConsistency), errors.Is(err, pipeline.ErrNamingField):
		return http.StatusUnprocessableEntity
	case errors.Is(err, merge.ErrFatalInput):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeUploadError(w http.ResponseWriter, err error) {
	if shield.IsTooLarge(err) {
		writeError(w, http.StatusRequestEntityTooLarge, errors.New("upload too large"))
		return
	}
	writeError(w, http.StatusBadRequest, err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return v
}
