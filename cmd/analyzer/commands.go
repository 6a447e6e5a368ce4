package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"path/filepath"

	"license-usage-analyzer/internal/analysis"
	"license-usage-analyzer/internal/config"
	"license-usage-analyzer/internal/ingest"
	"license-usage-analyzer/internal/inventory/domain"
	"license-usage-analyzer/internal/report"
)

func runInstallations(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("installations", flag.ContinueOnError)
	fs.SetOutput(stdout)
	in := fs.String("in", "", "Installation export (CSV)")
	out := fs.String("out", "", "Directory for CSV output; empty prints tables only")
	onlyMultiple := fs.Bool("multiple-only", false, "Print only groups flagged as multiple entitlements")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return errors.New("installations: -in is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	rows, stats, err := readInput(*in, func(r io.Reader) ([]domain.InstallationRecord, ingest.Stats, error) {
		return ingest.ReadInstallations(r, cfg.Location())
	})
	if err != nil {
		return err
	}
	log.Printf("installations: read %d rows from %s (%d unresolved dates, %d malformed)", stats.Rows, *in, stats.UnresolvedTimes, stats.Malformed)

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	rep, runErr := a.service.AnalyzeInstallations(ctx, filepath.Base(*in), rows)
	if rep == nil {
		return runErr
	}

	fmt.Fprintln(stdout, report.SummaryTable("run "+rep.RunID, []report.SummaryRow{
		{Label: "rows", Value: rep.Total},
		{Label: "malformed rows", Value: stats.Malformed},
		{Label: "processed", Value: rep.Processed},
		{Label: "classified", Value: rep.Succeeded},
		{Label: "failed", Value: len(rep.Failures)},
		{Label: "entitlement groups", Value: len(rep.Entitlements)},
		{Label: "multiple entitlements", Value: rep.Multiple},
	}))
	fmt.Fprintln(stdout, report.EntitlementsTable(rep.Entitlements, *onlyMultiple))

	if *out != "" {
		if err := writeInstallationFiles(*out, rep); err != nil {
			return errors.Join(runErr, err)
		}
	}
	return reportError(runErr)
}

func runSessions(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("sessions", flag.ContinueOnError)
	fs.SetOutput(stdout)
	in := fs.String("in", "", "Session export (CSV)")
	out := fs.String("out", "", "Directory for CSV output; empty prints tables only")
	samples := fs.Bool("samples", false, "Also write every concurrency sample to samples.csv")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return errors.New("sessions: -in is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	sessions, stats, err := readInput(*in, func(r io.Reader) ([]domain.SessionInterval, ingest.Stats, error) {
		return ingest.ReadSessions(r, cfg.Location())
	})
	if err != nil {
		return err
	}
	log.Printf("sessions: read %d rows from %s (%d unresolved logins, %d malformed)", stats.Rows, *in, stats.UnresolvedTimes, stats.Malformed)

	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	rep, runErr := a.service.AnalyzeSessions(ctx, filepath.Base(*in), sessions)
	if rep == nil {
		return runErr
	}

	fmt.Fprintln(stdout, report.SummaryTable("run "+rep.RunID, []report.SummaryRow{
		{Label: "sessions", Value: rep.Total},
		{Label: "malformed rows", Value: stats.Malformed},
		{Label: "retained", Value: rep.Retained},
		{Label: "dropped (no login)", Value: rep.DroppedUnresolved},
		{Label: "inverted (logout before login)", Value: rep.Inverted},
		{Label: "samples", Value: len(rep.Samples)},
	}))
	fmt.Fprintln(stdout, report.PeaksTable(rep.Peaks))

	if *out != "" {
		if err := writeSessionFiles(*out, rep, *samples); err != nil {
			return errors.Join(runErr, err)
		}
	}
	return reportError(runErr)
}

// reportError downgrades a report store failure to a log line when it is the only problem; the printed and
// written output is complete in that case.
func reportError(err error) error {
	if err == nil || !errors.Is(err, analysis.ErrPersist) {
		return err
	}
	if errors.Is(err, analysis.ErrAllFailed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	log.Printf("analyzer: %v", err)
	return nil
}
