package report

import (
	"encoding/csv"
	"errors"
	"strings"
	"testing"
	"time"

	"license-usage-analyzer/internal/aggregate"
	"license-usage-analyzer/internal/inventory/domain"
	"license-usage-analyzer/internal/normalize"
)

func readCSV(t *testing.T, s string) [][]string {
	t.Helper()
	rows, err := csv.NewReader(strings.NewReader(s)).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	return rows
}

func summaries() []aggregate.EntitlementSummary {
	return []aggregate.EntitlementSummary{
		{
			EntitlementKey:       aggregate.EntitlementKey{Date: "2024-06-02", SoftwareName: "Visio", Publisher: "Microsoft", Edition: "Pro", Username: "alice"},
			ConsumedEntitlements: 2,
			Machines:             []string{"PC-1", "PC-2"},
			Installations:        3,
			MultipleEntitlements: true,
		},
		{
			EntitlementKey:       aggregate.EntitlementKey{Date: "2024-06-01", SoftwareName: "acrobat rdr", Publisher: "Adobe", Edition: "Unknown", Username: "bob", Unclassified: true},
			ConsumedEntitlements: 1,
			Machines:             []string{"PC-9"},
			Installations:        1,
		},
	}
}

func TestWriteEntitlementsCSV_PreservesOrder(t *testing.T) {
	var b strings.Builder
	if err := WriteEntitlementsCSV(&b, summaries()); err != nil {
		t.Fatalf("WriteEntitlementsCSV: %v", err)
	}
	rows := readCSV(t, b.String())
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if strings.Join(rows[0], ",") != strings.Join(entitlementHeader, ",") {
		t.Errorf("header = %v", rows[0])
	}
	want := []string{"2024-06-02", "Visio", "Microsoft", "Pro", "alice", "2", "PC-1;PC-2", "3", "true", "false"}
	if strings.Join(rows[1], "|") != strings.Join(want, "|") {
		t.Errorf("row 1 = %v, want %v", rows[1], want)
	}
	// Input order is kept even though it is not date-sorted.
	if rows[2][0] != "2024-06-01" || rows[2][9] != "true" {
		t.Errorf("row 2 = %v", rows[2])
	}
}

func TestWritePeaksAndSamplesCSV(t *testing.T) {
	at := time.Date(2024, 6, 1, 10, 15, 0, 0, time.UTC)
	var b strings.Builder
	if err := WritePeaksCSV(&b, []aggregate.DailyPeak{{Date: "2024-06-01", SoftwareName: "A", PeakConcurrentUsers: 2, PeakAt: at}}); err != nil {
		t.Fatalf("WritePeaksCSV: %v", err)
	}
	rows := readCSV(t, b.String())
	if got := strings.Join(rows[1], ","); got != "2024-06-01,A,2,2024-06-01 10:15:00" {
		t.Errorf("peak row = %s", got)
	}

	b.Reset()
	samples := []domain.ConcurrencySample{
		{Timestamp: at, SoftwareName: "A", ConcurrentUserCount: 2},
		{Timestamp: at.Add(15 * time.Minute), SoftwareName: "A", ConcurrentUserCount: 1},
	}
	if err := WriteSamplesCSV(&b, samples); err != nil {
		t.Fatalf("WriteSamplesCSV: %v", err)
	}
	rows = readCSV(t, b.String())
	if len(rows) != 3 || rows[2][2] != "1" {
		t.Errorf("sample rows = %v", rows)
	}
}

func TestWriteRecordsCSV_UnknownDate(t *testing.T) {
	var b strings.Builder
	recs := []domain.InstallationRecord{{
		RawSoftwareName:        "MS Visio",
		NormalizedSoftwareName: "Visio",
		Publisher:              "Microsoft",
		Edition:                domain.Unknown,
		MachineName:            "PC-1",
		Username:               "alice",
	}}
	if err := WriteRecordsCSV(&b, recs); err != nil {
		t.Fatalf("WriteRecordsCSV: %v", err)
	}
	rows := readCSV(t, b.String())
	if rows[1][0] != domain.UnknownDate || rows[1][2] != "Visio" {
		t.Errorf("record row = %v", rows[1])
	}
}

func TestWriteFailuresCSV(t *testing.T) {
	var b strings.Builder
	failures := []normalize.JobError{{Index: 4, RawName: "???", Err: errors.New("status 502")}}
	if err := WriteFailuresCSV(&b, failures); err != nil {
		t.Fatalf("WriteFailuresCSV: %v", err)
	}
	rows := readCSV(t, b.String())
	if got := strings.Join(rows[1], ","); got != "5,???,status 502" {
		t.Errorf("failure row = %s", got)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriteCSV_WriterError(t *testing.T) {
	if err := WriteEntitlementsCSV(failingWriter{}, summaries()); err == nil {
		t.Fatal("expected error from failing writer")
	}
}

func TestEntitlementsTable(t *testing.T) {
	all := EntitlementsTable(summaries(), false)
	if !strings.Contains(all, "Visio") || !strings.Contains(all, "acrobat rdr (unclassified)") {
		t.Errorf("table missing rows:\n%s", all)
	}
	if strings.Index(all, "Visio") > strings.Index(all, "acrobat rdr") {
		t.Error("table must keep input order")
	}

	flagged := EntitlementsTable(summaries(), true)
	if strings.Contains(flagged, "acrobat") {
		t.Errorf("onlyMultiple should hide unflagged rows:\n%s", flagged)
	}
}

func TestPeaksAndSummaryTables(t *testing.T) {
	peaks := PeaksTable([]aggregate.DailyPeak{{Date: "2024-06-01", SoftwareName: "A", PeakConcurrentUsers: 7, PeakAt: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}})
	if !strings.Contains(peaks, "2024-06-01 09:00:00") || !strings.Contains(peaks, "7") {
		t.Errorf("peaks table:\n%s", peaks)
	}
	summary := SummaryTable("run abc", []SummaryRow{{"rows", 10}, {"failed", 2}})
	if !strings.Contains(summary, "run abc") || !strings.Contains(summary, "failed") {
		t.Errorf("summary table:\n%s", summary)
	}
}
