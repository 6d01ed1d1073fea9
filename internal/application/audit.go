package application

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/ericfisherdev/radcred/internal/domain/model"
	"github.com/ericfisherdev/radcred/internal/domain/port/driven"
)

// MaxReasonNoteLength is the longest reason note kept, in characters.
const MaxReasonNoteLength = 500

// AuditRecorder builds audit entries and appends them to the trail. Reason
// notes are free text from operators and are stripped of markup and control
// characters before storage.
type AuditRecorder struct {
	trail  driven.AuditTrail
	policy *bluemonday.Policy
	now    func() time.Time
}

// NewAuditRecorder creates an AuditRecorder writing to trail.
func NewAuditRecorder(trail driven.AuditTrail) *AuditRecorder {
	return &AuditRecorder{
		trail:  trail,
		policy: bluemonday.StrictPolicy(),
		now:    time.Now,
	}
}

// Record appends one entry. A nil error means the entry is durable.
func (r *AuditRecorder) Record(ctx context.Context, credentialID string, actor model.Actor, action model.AuditAction, note string) error {
	if !action.Valid() {
		return fmt.Errorf("record audit entry: unknown action %q", action)
	}
	if credentialID == "" {
		return errors.New("record audit entry: credential id is required")
	}
	if strings.TrimSpace(actor.ID) == "" {
		return errors.New("record audit entry: actor id is required")
	}

	entry := model.AuditEntry{
		ID:             uuid.NewString(),
		CredentialID:   credentialID,
		ActorID:        actor.ID,
		Action:         action,
		Timestamp:      r.now().UTC(),
		ActorIPAddress: actor.IPAddress,
		ReasonNote:     r.sanitizeNote(note),
	}
	return r.trail.Record(ctx, entry)
}

// List returns the entries for credentialID, oldest first.
func (r *AuditRecorder) List(ctx context.Context, credentialID string) ([]model.AuditEntry, error) {
	return r.trail.ListByCredential(ctx, credentialID)
}

// sanitizeNote returns plain text: markup is stripped and the entities the
// policy escapes are decoded again, so notes are never stored HTML-encoded.
func (r *AuditRecorder) sanitizeNote(note string) string {
	note = html.UnescapeString(r.policy.Sanitize(note))
	note = strings.Map(func(c rune) rune {
		if c == '\n' || c == '\t' {
			return ' '
		}
		if unicode.IsControl(c) {
			return -1
		}
		return c
	}, note)
	note = strings.TrimSpace(note)

	if utf8.RuneCountInString(note) > MaxReasonNoteLength {
		note = string([]rune(note)[:MaxReasonNoteLength])
	}
	return note
}
