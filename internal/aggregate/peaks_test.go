package aggregate

import (
	"reflect"
	"testing"
	"time"

	"license-usage-analyzer/internal/inventory/domain"
)

func TestDailyPeaks(t *testing.T) {
	ts := func(day, hour int) time.Time { return time.Date(2024, 7, day, hour, 0, 0, 0, time.UTC) }
	samples := []domain.ConcurrencySample{
		{Timestamp: ts(1, 9), SoftwareName: "Visio", ConcurrentUserCount: 1},
		{Timestamp: ts(1, 10), SoftwareName: "Visio", ConcurrentUserCount: 3},
		{Timestamp: ts(1, 10), SoftwareName: "AutoCAD", ConcurrentUserCount: 2},
		{Timestamp: ts(1, 11), SoftwareName: "Visio", ConcurrentUserCount: 3},
		{Timestamp: ts(1, 12), SoftwareName: "Visio", ConcurrentUserCount: 2},
		{Timestamp: ts(2, 8), SoftwareName: "Visio", ConcurrentUserCount: 1},
	}

	got := DailyPeaks(samples)
	want := []DailyPeak{
		{Date: "2024-07-01", SoftwareName: "AutoCAD", PeakConcurrentUsers: 2, PeakAt: ts(1, 10)},
		{Date: "2024-07-01", SoftwareName: "Visio", PeakConcurrentUsers: 3, PeakAt: ts(1, 10)},
		{Date: "2024-07-02", SoftwareName: "Visio", PeakConcurrentUsers: 1, PeakAt: ts(2, 8)},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DailyPeaks = %+v\nwant %+v", got, want)
	}
}

func TestDailyPeaks_EarliestPeakRegardlessOfInputOrder(t *testing.T) {
	late := time.Date(2024, 7, 1, 15, 0, 0, 0, time.UTC)
	early := time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)
	got := DailyPeaks([]domain.ConcurrencySample{
		{Timestamp: late, SoftwareName: "A", ConcurrentUserCount: 4},
		{Timestamp: early, SoftwareName: "A", ConcurrentUserCount: 4},
	})
	if len(got) != 1 || !got[0].PeakAt.Equal(early) {
		t.Errorf("PeakAt = %v, want %v", got, early)
	}
}

func TestDailyPeaks_Empty(t *testing.T) {
	if got := DailyPeaks(nil); len(got) != 0 {
		t.Errorf("DailyPeaks(nil) = %+v, want empty", got)
	}
}

func TestDailyPeaks_Idempotent(t *testing.T) {
	samples := []domain.ConcurrencySample{
		{Timestamp: time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC), SoftwareName: "B", ConcurrentUserCount: 2},
		{Timestamp: time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC), SoftwareName: "A", ConcurrentUserCount: 5},
	}
	if !reflect.DeepEqual(DailyPeaks(samples), DailyPeaks(samples)) {
		t.Fatal("DailyPeaks is not idempotent")
	}
}
