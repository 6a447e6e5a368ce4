// Package ingest reads installation and session exports (CSV) into inventory records. Missing or
// unparseable values become domain.Unknown or the zero time; only an unreadable source or a header
// without the required columns is an error.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"license-usage-analyzer/internal/inventory/domain"
)

// Column names of the installation export.
const (
	ColSoftwareName     = "SoftwareName"
	ColLastModifiedDate = "LastModifiedDate"
	ColPublisher        = "Publisher"
	ColEdition          = "Edition"
	ColMachineName      = "MachineName"
	ColLastLoggedOnUser = "LastLoggedOnUser"
)

// Column names of the session export.
const (
	ColLoginDateTime  = "LOGIN_DATE_TIME"
	ColLogoutDateTime = "LOGOUT_DATE_TIME"
	ColSessionID      = "SESSION_ID"
)

// ErrMissingColumn is returned when a required column is absent from the header.
var ErrMissingColumn = errors.New("ingest: missing required column")

// timeLayouts are tried in order.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"01/02/2006 15:04:05",
	"1/2/2006 3:04:05 PM",
	"1/2/2006 3:04 PM",
	"01/02/2006 15:04",
	"2006-01-02",
	"01/02/2006",
}

// ParseTime parses s with the accepted layouts in loc. Layouts carrying an offset keep it. The zero
// time and false are returned when s is blank or matches no layout.
func ParseTime(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.In(loc), true
		}
	}
	return time.Time{}, false
}

// Stats counts rows the reader could not fully resolve.
type Stats struct {
	Rows int
	// Malformed rows could not be split into fields (e.g. a bare quote). Each still yields a record whose
	// fields are all sentinels.
	Malformed int
	// UnresolvedTimes counts rows where a required timestamp did not parse.
	UnresolvedTimes int
}

// header maps lower-cased column names to field positions.
type header map[string]int

func readHeader(r *csv.Reader, required ...string) (header, error) {
	names, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("ingest: empty input: %w", err)
		}
		return nil, fmt.Errorf("ingest: read header: %w", err)
	}
	h := make(header, len(names))
	for i, n := range names {
		n = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(n, "\ufeff")))
		if _, dup := h[n]; !dup {
			h[n] = i
		}
	}
	for _, col := range required {
		if _, ok := h[strings.ToLower(col)]; !ok {
			return nil, fmt.Errorf("%w %q", ErrMissingColumn, col)
		}
	}
	return h, nil
}

func (h header) get(row []string, col string) string {
	i, ok := h[strings.ToLower(col)]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true
	return cr
}

func blank(row []string) bool {
	for _, f := range row {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func unknownInstallation() domain.InstallationRecord {
	return domain.InstallationRecord{
		RawSoftwareName: domain.Unknown,
		Publisher:       domain.Unknown,
		Edition:         domain.Unknown,
		MachineName:     domain.Unknown,
		Username:        domain.Unknown,
	}
}

// ReadInstallations reads an installation export. Rows with no software name are kept with
// domain.Unknown as the raw name; an unparseable LastModifiedDate leaves ObservedAt zero. A row the CSV
// reader cannot split becomes a record of sentinels.
func ReadInstallations(r io.Reader, loc *time.Location) ([]domain.InstallationRecord, Stats, error) {
	cr := newReader(r)
	h, err := readHeader(cr, ColSoftwareName)
	if err != nil {
		return nil, Stats{}, err
	}
	var (
		out   []domain.InstallationRecord
		stats Stats
	)
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				return nil, stats, fmt.Errorf("ingest: read installations: %w", err)
			}
			stats.Rows++
			stats.Malformed++
			stats.UnresolvedTimes++
			out = append(out, unknownInstallation())
			continue
		}
		if blank(row) {
			continue
		}
		stats.Rows++
		observed, ok := ParseTime(h.get(row, ColLastModifiedDate), loc)
		if !ok {
			stats.UnresolvedTimes++
		}
		out = append(out, domain.InstallationRecord{
			ObservedAt:      observed,
			RawSoftwareName: domain.OrDefault(h.get(row, ColSoftwareName)),
			Publisher:       domain.OrDefault(h.get(row, ColPublisher)),
			Edition:         domain.OrDefault(h.get(row, ColEdition)),
			MachineName:     domain.OrDefault(h.get(row, ColMachineName)),
			Username:        domain.OrDefault(h.get(row, ColLastLoggedOnUser)),
		})
	}
	return out, stats, nil
}

// ReadSessions reads a session export. A blank or unparseable logout means the session is still open;
// an unparseable login leaves LoginAt zero and the session is dropped later by the overlap engine. A row the
// CSV reader cannot split becomes a session with sentinel names and no login.
func ReadSessions(r io.Reader, loc *time.Location) ([]domain.SessionInterval, Stats, error) {
	cr := newReader(r)
	h, err := readHeader(cr, ColSoftwareName, ColLoginDateTime)
	if err != nil {
		return nil, Stats{}, err
	}
	var (
		out   []domain.SessionInterval
		stats Stats
	)
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				return nil, stats, fmt.Errorf("ingest: read sessions: %w", err)
			}
			stats.Rows++
			stats.Malformed++
			stats.UnresolvedTimes++
			out = append(out, domain.SessionInterval{SoftwareName: domain.Unknown, SessionID: domain.Unknown})
			continue
		}
		if blank(row) {
			continue
		}
		stats.Rows++
		login, ok := ParseTime(h.get(row, ColLoginDateTime), loc)
		if !ok {
			stats.UnresolvedTimes++
		}
		s := domain.SessionInterval{
			SoftwareName: domain.OrDefault(h.get(row, ColSoftwareName)),
			SessionID:    domain.OrDefault(h.get(row, ColSessionID)),
			LoginAt:      login,
		}
		if logout, ok := ParseTime(h.get(row, ColLogoutDateTime), loc); ok {
			s.LogoutAt = &logout
		}
		out = append(out, s)
	}
	return out, stats, nil
}
