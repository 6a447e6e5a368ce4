// Package overlap computes how many sessions of each software title are active at every session boundary.
//
// A session is active at t when loginAt <= t and (logoutAt >= t or the session is open). Both ends are inclusive, so
// at an instant where one session logs out and another logs in, both are counted. A session whose logout precedes its
// login is never active, but its two instants are still boundaries.
package overlap

import (
	"cmp"
	"slices"
	"sort"
	"time"

	"license-usage-analyzer/internal/inventory/domain"
)

// ProgressFunc is called once per processed boundary timestamp.
type ProgressFunc func(processed, total int)

// Result is the output of ComputeConcurrency.
type Result struct {
	// Samples are sorted by Timestamp, then SoftwareName.
	Samples []domain.ConcurrencySample
	// Timestamps is the number of distinct boundary instants across all retained sessions.
	Timestamps int
	// Retained is the number of sessions that entered the sweep, inverted ones included.
	Retained int
	// DroppedUnresolved counts sessions without a resolvable login.
	DroppedUnresolved int
	// Inverted counts retained sessions whose logout precedes their login. They contribute boundaries only.
	Inverted int
}

// instant orders times by absolute seconds and nanoseconds. UnixNano overflows outside 1678-2262, and exports use
// dates such as 9999-12-31 for sessions that never end.
type instant struct {
	sec  int64
	nsec int
}

func instantOf(t time.Time) instant {
	return instant{sec: t.Unix(), nsec: t.Nanosecond()}
}

func (a instant) compare(b instant) int {
	if c := cmp.Compare(a.sec, b.sec); c != 0 {
		return c
	}
	return cmp.Compare(a.nsec, b.nsec)
}

// cursor sweeps one software's sorted logins and logouts.
type cursor struct {
	logins  []instant
	logouts []instant
	li, lo  int
}

// countAt returns the number of sessions active at t. Calls must use non-decreasing t.
func (c *cursor) countAt(t instant) int {
	for c.li < len(c.logins) && c.logins[c.li].compare(t) <= 0 {
		c.li++
	}
	for c.lo < len(c.logouts) && c.logouts[c.lo].compare(t) < 0 {
		c.lo++
	}
	return c.li - c.lo
}

// Reasons returned by DropReason and IsInverted.
const (
	ReasonUnresolvedLogin   = "unresolved login"
	ReasonLogoutBeforeLogin = "logout before login"
)

// DropReason reports why s cannot enter the sweep, if it cannot. Only an unresolved login drops a session.
func DropReason(s *domain.SessionInterval) (string, bool) {
	if !s.HasLogin() {
		return ReasonUnresolvedLogin, true
	}
	return "", false
}

// IsInverted reports whether s logs out before it logs in.
func IsInverted(s *domain.SessionInterval) bool {
	return s.HasLogin() && s.LogoutAt != nil && s.LogoutAt.Before(s.LoginAt)
}

type boundary struct {
	at        time.Time
	softwares map[string]struct{}
}

// ComputeConcurrency emits one sample per (boundary instant, software) where the instant is a login or logout of a
// session of that software. Sessions with an unresolved login are dropped and counted; inverted sessions add their
// instants but are never counted as active.
// The output is a deterministic function of the input.
func ComputeConcurrency(sessions []domain.SessionInterval, progress ProgressFunc) *Result {
	res := &Result{}
	cursors := map[string]*cursor{}
	boundaries := map[instant]*boundary{}

	mark := func(t time.Time, software string) instant {
		key := instantOf(t)
		b, ok := boundaries[key]
		if !ok {
			b = &boundary{at: t, softwares: map[string]struct{}{}}
			boundaries[key] = b
		}
		b.softwares[software] = struct{}{}
		return key
	}

	for i := range sessions {
		s := &sessions[i]
		if _, drop := DropReason(s); drop {
			res.DroppedUnresolved++
			continue
		}
		res.Retained++
		c, ok := cursors[s.SoftwareName]
		if !ok {
			c = &cursor{}
			cursors[s.SoftwareName] = c
		}
		if IsInverted(s) {
			res.Inverted++
			mark(s.LoginAt, s.SoftwareName)
			mark(*s.LogoutAt, s.SoftwareName)
			continue
		}
		c.logins = append(c.logins, mark(s.LoginAt, s.SoftwareName))
		if s.LogoutAt != nil {
			c.logouts = append(c.logouts, mark(*s.LogoutAt, s.SoftwareName))
		}
	}

	for _, c := range cursors {
		slices.SortFunc(c.logins, instant.compare)
		slices.SortFunc(c.logouts, instant.compare)
	}

	keys := make([]instant, 0, len(boundaries))
	for k := range boundaries {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, instant.compare)
	res.Timestamps = len(keys)

	for n, key := range keys {
		b := boundaries[key]
		names := make([]string, 0, len(b.softwares))
		for name := range b.softwares {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			res.Samples = append(res.Samples, domain.ConcurrencySample{
				Timestamp:           b.at,
				SoftwareName:        name,
				ConcurrentUserCount: cursors[name].countAt(key),
			})
		}
		if progress != nil {
			progress(n+1, len(keys))
		}
	}
	return res
}
