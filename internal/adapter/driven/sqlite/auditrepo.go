package sqlite

import (
	"context"
	"fmt"

	"github.com/ericfisherdev/radcred/internal/domain/model"
	"github.com/ericfisherdev/radcred/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AuditTrail = (*AuditRepo)(nil)

// AuditRepo is the SQLite implementation of the AuditTrail port interface.
// The schema rejects UPDATE and DELETE on audit_entries with triggers.
type AuditRepo struct {
	db *DB
}

// NewAuditRepo creates a new AuditRepo.
func NewAuditRepo(db *DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// Record appends an audit entry.
func (r *AuditRepo) Record(ctx context.Context, entry model.AuditEntry) error {
	const query = `
		INSERT INTO audit_entries (id, credential_id, actor_id, action, occurred_at, actor_ip_address, reason_note)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.Writer.ExecContext(ctx, query,
		entry.ID, entry.CredentialID, entry.ActorID, string(entry.Action),
		formatTime(entry.Timestamp), entry.ActorIPAddress, entry.ReasonNote,
	)
	if err != nil {
		return fmt.Errorf("record %s audit entry for credential %q: %w", entry.Action, entry.CredentialID, err)
	}
	return nil
}

// ListByCredential returns all entries for credentialID, oldest first.
func (r *AuditRepo) ListByCredential(ctx context.Context, credentialID string) ([]model.AuditEntry, error) {
	const query = `
		SELECT id, credential_id, actor_id, action, occurred_at, actor_ip_address, reason_note
		FROM audit_entries WHERE credential_id = ? ORDER BY occurred_at ASC, rowid ASC`
	rows, err := r.db.Reader.QueryContext(ctx, query, credentialID)
	if err != nil {
		return nil, fmt.Errorf("list audit entries for credential %q: %w", credentialID, err)
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var (
			entry      model.AuditEntry
			action     string
			occurredAt string
		)
		if err := rows.Scan(&entry.ID, &entry.CredentialID, &entry.ActorID, &action,
			&occurredAt, &entry.ActorIPAddress, &entry.ReasonNote); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entry.Action = model.AuditAction(action)
		if entry.Timestamp, err = parseTime(occurredAt); err != nil {
			return nil, fmt.Errorf("parse occurred_at: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}
