package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/mailmerge/convert"
	"github.com/hazyhaar/mailmerge/merge"
	"github.com/hazyhaar/mailmerge/pipeline"
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	warnColor = color.New(color.FgYellow, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
	dimColor  = color.New(color.Faint)
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a mail merge and write the zip archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, os.Stderr)
		if err != nil {
			return err
		}
		tplPath, _ := cmd.Flags().GetString("template")
		dataPath, _ := cmd.Flags().GetString("data")
		out, _ := cmd.Flags().GetString("out")
		in, err := readInputs(tplPath, dataPath)
		if err != nil {
			return err
		}
		in.NamingField, _ = cmd.Flags().GetString("naming-field")
		if f, _ := cmd.Flags().GetString("format"); f != "" {
			if in.Format, err = convert.ParseFormat(f); err != nil {
				return err
			}
		}

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

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		res, err := a.orchestrator(conv, h).Run(ctx, in)
		if err != nil {
			printFatal(cmd.OutOrStdout(), err)
			return err
		}
		if err := os.WriteFile(out, res.Archive, 0o644); err != nil {
			return fmt.Errorf("write archive: %w", err)
		}
		printResult(cmd.OutOrStdout(), out, res)
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check a template against a workbook without rendering",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, os.Stderr)
		if err != nil {
			return err
		}
		tplPath, _ := cmd.Flags().GetString("template")
		dataPath, _ := cmd.Flags().GetString("data")
		in, err := readInputs(tplPath, dataPath)
		if err != nil {
			return err
		}

		rep, err := a.orchestrator(nil, nil).Check(cmd.Context(), in)
		if rep == nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(rep); encErr != nil {
				return encErr
			}
			return err
		}
		printReport(cmd.OutOrStdout(), rep)
		return err
	},
}

var placeholdersCmd = &cobra.Command{
	Use:   "placeholders <template.docx>",
	Short: "List the placeholders of a template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tpl, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		names, err := pipeline.Placeholders(tpl)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{"placeholders": names})
		}
		for _, n := range names {
			fmt.Fprintln(cmd.OutOrStdout(), n)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{runCmd, checkCmd} {
		c.Flags().String("template", "", "the .docx template")
		c.Flags().String("data", "", "the .xlsx data source")
		c.MarkFlagRequired("template")
		c.MarkFlagRequired("data")
	}
	runCmd.Flags().String("out", "", "where to write the .zip archive")
	runCmd.MarkFlagRequired("out")
	runCmd.Flags().String("naming-field", "", "placeholder whose value names each document")
	runCmd.Flags().String("format", "", "output format (pdf|docx|html|md)")
	checkCmd.Flags().Bool("json", false, "print the report as JSON")
	placeholdersCmd.Flags().Bool("json", false, "print the names as JSON")
}

func printFatal(w io.Writer, err error) {
	failColor.Fprintln(w, "✗ batch aborted")
	var ce *merge.ConsistencyError
	if errors.As(err, &ce) {
		fmt.Fprintf(w, "  template placeholders missing from the sheet: %s\n", strings.Join(ce.Missing, ", "))
	}
}

func printResult(w io.Writer, out string, res *pipeline.Result) {
	s := res.Summary
	okColor.Fprintf(w, "✓ %d of %d rows converted", s.Succeeded, s.Rows)
	dimColor.Fprintf(w, "  %s  %s\n", res.BatchID, s.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  archive: %s (%d bytes)\n", out, s.ArchiveBytes)
	if len(res.RowErrors) > 0 {
		warnColor.Fprintf(w, "! %d rows skipped\n", len(res.RowErrors))
		printRowErrors(w, res.RowErrors)
	}
}

func printReport(w io.Writer, rep *pipeline.Report) {
	fmt.Fprintf(w, "placeholders: %s\n", strings.Join(rep.Placeholders, ", "))
	fmt.Fprintf(w, "headers:      %s\n", strings.Join(rep.Headers, ", "))
	if !rep.Consistent {
		failColor.Fprintf(w, "✗ missing from the sheet: %s\n", strings.Join(rep.Missing, ", "))
		return
	}
	okColor.Fprintf(w, "✓ %d of %d rows ready\n", len(rep.Records), rep.Rows)
	if len(rep.RowErrors) > 0 {
		warnColor.Fprintf(w, "! %d rows would be skipped\n", len(rep.RowErrors))
		printRowErrors(w, rep.RowErrors)
	}
}

func printRowErrors(w io.Writer, errs []merge.RowError) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range errs {
		fmt.Fprintf(tw, "  row %d\t%s\t%s\n", e.Row, e.Stage, e.Message)
	}
	tw.Flush()
}
