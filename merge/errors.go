package merge

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels classifying every error the merge pipeline reports.
var (
	ErrFatalInput   = errors.New("merge: unreadable input")
	ErrConsistency  = errors.New("merge: placeholders missing from data source headers")
	ErrRowIntegrity = errors.New("merge: row integrity")
	ErrRender       = errors.New("merge: render")
	ErrConversion   = errors.New("merge: conversion")
)

// InputError reports a template or data source that cannot be opened or
// parsed. It matches ErrFatalInput.
type InputError struct {
	Source string // "template" or "data"
	Err    error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("merge: cannot read %s: %v", e.Source, e.Err)
}

func (e *InputError) Unwrap() []error { return []error{ErrFatalInput, e.Err} }

// ConsistencyError lists the placeholders that have no matching header.
type ConsistencyError struct {
	Missing []string
}

func (e *ConsistencyError) Error() string {
	quoted := make([]string, len(e.Missing))
	for i, m := range e.Missing {
		quoted[i] = fmt.Sprintf("%q", m)
	}
	return "merge: placeholders without a matching column: " + strings.Join(quoted, ", ")
}

func (e *ConsistencyError) Is(target error) bool { return target == ErrConsistency }

// Stage is the pipeline stage a row was rejected in.
type Stage string

const (
	StageIntegrity  Stage = "integrity"
	StageRender     Stage = "render"
	StageConversion Stage = "conversion"
)

// Reason is a machine-readable rejection cause.
type Reason string

const (
	ReasonEmptyRow     Reason = "empty_row"
	ReasonMissingValue Reason = "missing_value"
	ReasonTypeMismatch Reason = "type_mismatch"
	ReasonFormat       Reason = "format"
	ReasonUnresolved   Reason = "unresolved"
	ReasonConversion   Reason = "conversion"
)

// RowError is a non-fatal rejection of one data row. Row is the 1-based
// source row number.
type RowError struct {
	Row         int    `json:"row"`
	Stage       Stage  `json:"stage"`
	Reason      Reason `json:"reason"`
	Placeholder string `json:"placeholder,omitempty"`
	Message     string `json:"message"`
	Err         error  `json:"-"`
}

func (e RowError) Error() string { return fmt.Sprintf("row %d: %s", e.Row, e.Message) }

func (e RowError) Unwrap() []error {
	var stage error
	switch e.Stage {
	case StageRender:
		stage = ErrRender
	case StageConversion:
		stage = ErrConversion
	default:
		stage = ErrRowIntegrity
	}
	if e.Err == nil {
		return []error{stage}
	}
	return []error{stage, e.Err}
}

func emptyRow(row int) RowError {
	return RowError{Row: row, Stage: StageIntegrity, Reason: ReasonEmptyRow, Message: "empty row"}
}

func missingValue(row int, name string) RowError {
	return RowError{
		Row: row, Stage: StageIntegrity, Reason: ReasonMissingValue, Placeholder: name,
		Message: "missing value for " + name,
	}
}

func typeMismatch(row int, name string, want, got fmt.Stringer) RowError {
	return RowError{
		Row: row, Stage: StageIntegrity, Reason: ReasonTypeMismatch, Placeholder: name,
		Message: fmt.Sprintf("type mismatch for %s: expected %s, found %s", name, want, got),
	}
}

func formatFailure(row int, name string, err error) RowError {
	return RowError{
		Row: row, Stage: StageIntegrity, Reason: ReasonFormat, Placeholder: name,
		Message: fmt.Sprintf("cannot format %s: %v", name, err), Err: err,
	}
}

// RenderFailed wraps a Render error for row.
func RenderFailed(row int, err error) RowError {
	return RowError{Row: row, Stage: StageRender, Reason: ReasonUnresolved, Message: err.Error(), Err: err}
}

// ConversionFailed wraps a conversion collaborator error for row.
func ConversionFailed(row int, err error) RowError {
	return RowError{
		Row: row, Stage: StageConversion, Reason: ReasonConversion,
		Message: "conversion failed: " + err.Error(), Err: err,
	}
}

// UnresolvedError reports placeholders left in a rendered document.
type UnresolvedError struct {
	Names []string
}

func (e *UnresolvedError) Error() string {
	return "unresolved placeholders: " + strings.Join(e.Names, ", ")
}

func (e *UnresolvedError) Is(target error) bool { return target == ErrRender }
