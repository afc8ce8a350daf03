package pipeline

import (
	"context"
	"errors"

	"github.com/hazyhaar/mailmerge/kit"
	"github.com/hazyhaar/mailmerge/merge"
)

// Report is the outcome of a dry run: consistency and integrity only.
type Report struct {
	Placeholders []string          `json:"placeholders"`
	Headers      []string          `json:"headers"`
	Missing      []string          `json:"missing,omitempty"`
	Consistent   bool              `json:"consistent"`
	Rows         int               `json:"rows"`
	Records      []merge.Record    `json:"records,omitempty"`
	RowErrors    []merge.RowError  `json:"row_errors,omitempty"`
	Signatures   map[string]string `json:"signatures,omitempty"`
}

// Check validates a template against a workbook without rendering.
//
// Unreadable input returns an error and no Report. A consistency failure
// returns both: the Report lists the missing placeholders and the error is
// a *merge.ConsistencyError.
func (o *Orchestrator) Check(ctx context.Context, in Input) (*Report, error) {
	log := kit.Logger(ctx, o.cfg.Logger)

	tpl, err := merge.ParseTemplate(in.Template)
	if err != nil {
		return nil, err
	}
	sh, err := merge.ParseData(in.Data)
	if err != nil {
		return nil, err
	}

	set := merge.Extract(tpl)
	rep := &Report{Placeholders: set.Sorted(), Rows: len(sh.Rows)}
	for _, h := range sh.Header {
		if h.Name != "" {
			rep.Headers = append(rep.Headers, h.Name)
		}
	}

	if err := merge.CheckConsistency(set, sh.Header); err != nil {
		var ce *merge.ConsistencyError
		if errors.As(err, &ce) {
			rep.Missing = ce.Missing
		}
		log.Warn("check: inconsistent template", "missing", rep.Missing)
		return rep, err
	}
	rep.Consistent = true

	v := merge.Validate(sh, set, o.format, log)
	rep.Records = v.Records
	rep.RowErrors = v.Errors
	rep.Signatures = make(map[string]string, len(v.Signatures))
	for name, k := range v.Signatures {
		rep.Signatures[name] = k.String()
	}
	log.Info("check done", "records", len(v.Records), "rejected", len(v.Errors))
	return rep, nil
}

// Placeholders lists the placeholders of a template, sorted.
func Placeholders(template []byte) ([]string, error) {
	tpl, err := merge.ParseTemplate(template)
	if err != nil {
		return nil, err
	}
	return merge.Extract(tpl).Sorted(), nil
}
