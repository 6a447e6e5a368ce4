package report

import (
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"license-usage-analyzer/internal/aggregate"
)

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	return tw
}

// EntitlementsTable renders entitlement groups. With onlyMultiple set, only flagged groups are shown.
func EntitlementsTable(summaries []aggregate.EntitlementSummary, onlyMultiple bool) string {
	tw := newTable()
	tw.AppendHeader(table.Row{"date", "software", "publisher", "edition", "user", "entitlements", "machines", "multiple"})
	for _, s := range summaries {
		if onlyMultiple && !s.MultipleEntitlements {
			continue
		}
		name := s.SoftwareName
		if s.Unclassified {
			name += " (unclassified)"
		}
		tw.AppendRow(table.Row{
			s.Date,
			name,
			s.Publisher,
			s.Edition,
			s.Username,
			s.ConsumedEntitlements,
			strings.Join(s.Machines, ", "),
			yesNo(s.MultipleEntitlements),
		})
	}
	return tw.Render()
}

// PeaksTable renders daily peak concurrency.
func PeaksTable(peaks []aggregate.DailyPeak) string {
	tw := newTable()
	tw.AppendHeader(table.Row{"date", "software", "peak users", "peak at"})
	for _, p := range peaks {
		tw.AppendRow(table.Row{p.Date, p.SoftwareName, p.PeakConcurrentUsers, formatTime(p.PeakAt)})
	}
	return tw.Render()
}

// SummaryRow is one labelled value of a run summary.
type SummaryRow struct {
	Label string
	Value int
}

// SummaryTable renders run counters in the given order.
func SummaryTable(title string, rows []SummaryRow) string {
	tw := newTable()
	tw.SetTitle(title)
	for _, r := range rows {
		tw.AppendRow(table.Row{r.Label, strconv.Itoa(r.Value)})
	}
	return tw.Render()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
