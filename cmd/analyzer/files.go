package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"license-usage-analyzer/internal/analysis"
	"license-usage-analyzer/internal/ingest"
	"license-usage-analyzer/internal/report"
)

func readInput[T any](path string, read func(io.Reader) ([]T, ingest.Stats, error)) ([]T, ingest.Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ingest.Stats{}, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()
	rows, stats, err := read(f)
	if err != nil {
		return nil, stats, fmt.Errorf("%s: %w", path, err)
	}
	return rows, stats, nil
}

// writeFile creates dir/name and streams it through write.
func writeFile(dir, name string, write func(io.Writer) error) (err error) {
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	if err := write(f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func writeInstallationFiles(dir string, rep *analysis.InstallationReport) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := writeFile(dir, "entitlements.csv", func(w io.Writer) error {
		return report.WriteEntitlementsCSV(w, rep.Entitlements)
	}); err != nil {
		return err
	}
	if err := writeFile(dir, "normalized.csv", func(w io.Writer) error {
		return report.WriteRecordsCSV(w, rep.Records)
	}); err != nil {
		return err
	}
	return writeFile(dir, "failures.csv", func(w io.Writer) error {
		return report.WriteFailuresCSV(w, rep.Failures)
	})
}

func writeSessionFiles(dir string, rep *analysis.SessionReport, samples bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := writeFile(dir, "peaks.csv", func(w io.Writer) error {
		return report.WritePeaksCSV(w, rep.Peaks)
	}); err != nil {
		return err
	}
	if !samples {
		return nil
	}
	return writeFile(dir, "samples.csv", func(w io.Writer) error {
		return report.WriteSamplesCSV(w, rep.Samples)
	})
}
