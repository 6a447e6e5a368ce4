package aggregate

import (
	"sort"
	"time"

	"license-usage-analyzer/internal/inventory/domain"
)

// DailyPeak is the highest concurrency of one software on one date.
type DailyPeak struct {
	Date                string
	SoftwareName        string
	PeakConcurrentUsers int
	// PeakAt is the earliest sampled instant at which the peak was reached.
	PeakAt time.Time
}

type peakKey struct {
	date     string
	software string
}

// DailyPeaks groups samples by (date of timestamp, software) and keeps the maximum count of each group. The result is
// sorted by date, then software.
func DailyPeaks(samples []domain.ConcurrencySample) []DailyPeak {
	peaks := map[peakKey]*DailyPeak{}
	for _, s := range samples {
		k := peakKey{date: domain.DateKey(s.Timestamp), software: s.SoftwareName}
		p, ok := peaks[k]
		if !ok {
			peaks[k] = &DailyPeak{
				Date:                k.date,
				SoftwareName:        k.software,
				PeakConcurrentUsers: s.ConcurrentUserCount,
				PeakAt:              s.Timestamp,
			}
			continue
		}
		if s.ConcurrentUserCount > p.PeakConcurrentUsers ||
			(s.ConcurrentUserCount == p.PeakConcurrentUsers && s.Timestamp.Before(p.PeakAt)) {
			p.PeakConcurrentUsers = s.ConcurrentUserCount
			p.PeakAt = s.Timestamp
		}
	}

	out := make([]DailyPeak, 0, len(peaks))
	for _, p := range peaks {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].SoftwareName < out[j].SoftwareName
	})
	return out
}
