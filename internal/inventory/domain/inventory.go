// Package domain holds the record types shared by ingestion, normalization, the overlap engine and aggregation.
package domain

import "time"

// Unknown is the sentinel for string fields that were missing or unparseable at ingestion. It is a regular value, never
// an absent one.
const Unknown = "Unknown"

// UnknownDate is the date key used for records whose timestamp could not be resolved.
const UnknownDate = "Unknown"

// DateLayout is the layout of date keys produced by DateKey.
const DateLayout = "2006-01-02"

// InstallationRecord is one observed software installation.
type InstallationRecord struct {
	// ObservedAt is the zero time when the source date could not be parsed; see DateKey.
	ObservedAt      time.Time
	RawSoftwareName string
	// NormalizedSoftwareName is set once by a successful classification; empty until then.
	NormalizedSoftwareName string
	// Classified is true once NormalizedSoftwareName has been set by the dispatcher.
	Classified  bool
	Publisher   string
	Edition     string
	MachineName string
	Username    string
}

// HasObservedAt reports whether the installation date was resolved.
func (r *InstallationRecord) HasObservedAt() bool {
	return !r.ObservedAt.IsZero()
}

// SessionInterval is one user session of one software title.
type SessionInterval struct {
	SoftwareName string
	SessionID    string
	// LoginAt is the zero time when the login could not be parsed. Such sessions never reach the overlap engine.
	LoginAt time.Time
	// LogoutAt is nil while the session is still open.
	LogoutAt *time.Time
}

// HasLogin reports whether the login timestamp was resolved.
func (s *SessionInterval) HasLogin() bool {
	return !s.LoginAt.IsZero()
}

// IsOpen reports whether the session has not ended.
func (s *SessionInterval) IsOpen() bool {
	return s.LogoutAt == nil
}

// ActiveAt reports whether the session is active at t. Both ends are inclusive and an open session never ends.
func (s *SessionInterval) ActiveAt(t time.Time) bool {
	if t.Before(s.LoginAt) {
		return false
	}
	return s.LogoutAt == nil || !s.LogoutAt.Before(t)
}

// ConcurrencySample is the number of sessions of one software active at one boundary instant.
type ConcurrencySample struct {
	Timestamp           time.Time
	SoftwareName        string
	ConcurrentUserCount int
}

// DateKey returns the calendar date of t in t's location, or UnknownDate for the zero time.
func DateKey(t time.Time) string {
	if t.IsZero() {
		return UnknownDate
	}
	return t.Format(DateLayout)
}

// OrDefault returns s, or Unknown when s is empty after trimming by the caller.
func OrDefault(s string) string {
	if s == "" {
		return Unknown
	}
	return s
}
