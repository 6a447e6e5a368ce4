// Package report writes grouped analysis output as CSV and console tables. Rows are written in the
// order they are given; nothing here sorts or deduplicates.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"license-usage-analyzer/internal/aggregate"
	"license-usage-analyzer/internal/inventory/domain"
	"license-usage-analyzer/internal/normalize"
)

// TimestampLayout is used for every timestamp written by this package.
const TimestampLayout = "2006-01-02 15:04:05"

var (
	entitlementHeader = []string{"Date", "SoftwareName", "Publisher", "Edition", "Username", "ConsumedEntitlements", "Machines", "Installations", "MultipleEntitlements", "Unclassified"}
	peakHeader        = []string{"Date", "SoftwareName", "PeakConcurrentUsers", "PeakAt"}
	sampleHeader      = []string{"Timestamp", "SoftwareName", "ConcurrentUserCount"}
	recordHeader      = []string{"LastModifiedDate", "SoftwareName", "NormalizedSoftwareName", "Publisher", "Edition", "MachineName", "LastLoggedOnUser"}
	failureHeader     = []string{"Row", "SoftwareName", "Error"}
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return domain.UnknownDate
	}
	return t.Format(TimestampLayout)
}

func writeAll(w io.Writer, header []string, n int, row func(i int) []string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("report: write header: %w", err)
	}
	for i := 0; i < n; i++ {
		if err := cw.Write(row(i)); err != nil {
			return fmt.Errorf("report: write row %d: %w", i, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("report: flush: %w", err)
	}
	return nil
}

// WriteEntitlementsCSV writes one row per entitlement group. Machines are joined with ";".
func WriteEntitlementsCSV(w io.Writer, summaries []aggregate.EntitlementSummary) error {
	return writeAll(w, entitlementHeader, len(summaries), func(i int) []string {
		s := summaries[i]
		return []string{
			s.Date,
			s.SoftwareName,
			s.Publisher,
			s.Edition,
			s.Username,
			strconv.Itoa(s.ConsumedEntitlements),
			strings.Join(s.Machines, ";"),
			strconv.Itoa(s.Installations),
			strconv.FormatBool(s.MultipleEntitlements),
			strconv.FormatBool(s.Unclassified),
		}
	})
}

// WritePeaksCSV writes one row per (date, software) peak.
func WritePeaksCSV(w io.Writer, peaks []aggregate.DailyPeak) error {
	return writeAll(w, peakHeader, len(peaks), func(i int) []string {
		p := peaks[i]
		return []string{p.Date, p.SoftwareName, strconv.Itoa(p.PeakConcurrentUsers), formatTime(p.PeakAt)}
	})
}

// WriteSamplesCSV writes the raw concurrency samples.
func WriteSamplesCSV(w io.Writer, samples []domain.ConcurrencySample) error {
	return writeAll(w, sampleHeader, len(samples), func(i int) []string {
		s := samples[i]
		return []string{formatTime(s.Timestamp), s.SoftwareName, strconv.Itoa(s.ConcurrentUserCount)}
	})
}

// WriteRecordsCSV writes installation records with their normalized names.
func WriteRecordsCSV(w io.Writer, records []domain.InstallationRecord) error {
	return writeAll(w, recordHeader, len(records), func(i int) []string {
		r := records[i]
		return []string{
			formatTime(r.ObservedAt),
			r.RawSoftwareName,
			r.NormalizedSoftwareName,
			r.Publisher,
			r.Edition,
			r.MachineName,
			r.Username,
		}
	})
}

// WriteFailuresCSV writes classification failures. Row is the 1-based data row of the input.
func WriteFailuresCSV(w io.Writer, failures []normalize.JobError) error {
	return writeAll(w, failureHeader, len(failures), func(i int) []string {
		f := failures[i]
		return []string{strconv.Itoa(f.Index + 1), f.RawName, f.Err.Error()}
	})
}
