package model

import "time"

// SessionRecord is one accounting (CDR) record reported by the provider.
// An empty TerminateCause means the session is still open.
type SessionRecord struct {
	SessionID       string
	StartedAt       time.Time
	StoppedAt       *time.Time
	DurationSeconds int64
	TerminateCause  string
	FramedAddress   string
	InputOctets     int64
	OutputOctets    int64
}

// IsOpen returns true when the provider has not recorded a terminate cause.
func (r SessionRecord) IsOpen() bool {
	return r.TerminateCause == ""
}

// SessionWindow bounds the accounting records considered by an analysis.
type SessionWindow struct {
	From time.Time
	To   time.Time
}

// SessionSnapshot is a derived, point-in-time summary of a subscriber's
// connectivity. Unavailable is set when provider telemetry could not be read;
// in that case every session field is the zero value. SubscriberEnabled is
// nil when the subscriber record itself could not be read.
type SessionSnapshot struct {
	IsActive              bool
	LastSessionStart      *time.Time
	LastSessionEnd        *time.Time
	LastKnownAddress      string
	TotalSessionsInWindow int
	TotalActiveSeconds    int64
	TerminateCauseCounts  map[string]int
	Window                SessionWindow
	Unavailable           bool
	SubscriberEnabled     *bool
}
