package application

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/ericfisherdev/radcred/internal/domain/model"
	"github.com/ericfisherdev/radcred/internal/domain/port/driven"
)

// SessionReconciler derives connection status from the provider's accounting
// records. It reports telemetry outages in the snapshot instead of failing.
type SessionReconciler struct {
	client driven.ProviderClient
	loc    *time.Location
	now    func() time.Time
}

// NewSessionReconciler creates a SessionReconciler. loc defines "today" for
// the default window; nil means UTC.
func NewSessionReconciler(client driven.ProviderClient, loc *time.Location) *SessionReconciler {
	if loc == nil {
		loc = time.UTC
	}
	return &SessionReconciler{client: client, loc: loc, now: time.Now}
}

// DefaultWindow returns the start of the current local day through now.
func (r *SessionReconciler) DefaultWindow() model.SessionWindow {
	now := r.now().In(r.loc)
	y, m, d := now.Date()
	return model.SessionWindow{
		From: time.Date(y, m, d, 0, 0, 0, 0, r.loc),
		To:   now,
	}
}

// Analyze summarises the subscriber's sessions in window. A zero window means
// DefaultWindow.
func (r *SessionReconciler) Analyze(ctx context.Context, remoteSubscriberID string, window model.SessionWindow) model.SessionSnapshot {
	if window.From.IsZero() && window.To.IsZero() {
		window = r.DefaultWindow()
	}

	records, err := r.client.ListSessions(ctx, remoteSubscriberID, window)
	if err != nil {
		slog.Warn("session telemetry unavailable",
			"remote_subscriber_id", remoteSubscriberID, "error", err)
		return model.SessionSnapshot{
			TerminateCauseCounts: map[string]int{},
			Window:               window,
			Unavailable:          true,
		}
	}

	return summarize(records, window)
}

// summarize builds the snapshot from records in any order.
func summarize(records []model.SessionRecord, window model.SessionWindow) model.SessionSnapshot {
	snap := model.SessionSnapshot{
		TerminateCauseCounts: map[string]int{},
		Window:               window,
	}
	if len(records) == 0 {
		return snap
	}

	sorted := make([]model.SessionRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartedAt.After(sorted[j].StartedAt)
	})

	newest := sorted[0]
	snap.IsActive = newest.IsOpen()
	start := newest.StartedAt
	snap.LastSessionStart = &start
	snap.TotalSessionsInWindow = len(sorted)

	for _, rec := range sorted {
		snap.TotalActiveSeconds += rec.DurationSeconds

		if snap.LastKnownAddress == "" && rec.FramedAddress != "" {
			snap.LastKnownAddress = rec.FramedAddress
		}

		if rec.IsOpen() {
			continue
		}
		snap.TerminateCauseCounts[rec.TerminateCause]++

		end := sessionEnd(rec)
		if snap.LastSessionEnd == nil || end.After(*snap.LastSessionEnd) {
			snap.LastSessionEnd = &end
		}
	}

	return snap
}

// sessionEnd falls back to start plus duration when the provider omitted the stop time.
func sessionEnd(rec model.SessionRecord) time.Time {
	if rec.StoppedAt != nil {
		return *rec.StoppedAt
	}
	return rec.StartedAt.Add(time.Duration(rec.DurationSeconds) * time.Second)
}
