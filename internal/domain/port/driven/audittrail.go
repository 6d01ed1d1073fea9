package driven

import (
	"context"

	"github.com/ericfisherdev/radcred/internal/domain/model"
)

// AuditTrail defines the driven port for the append-only audit log.
// Entries are never updated or deleted.
type AuditTrail interface {
	// Record appends entry. An error means the entry was not durably written.
	Record(ctx context.Context, entry model.AuditEntry) error

	// ListByCredential returns the entries for a credential, oldest first.
	ListByCredential(ctx context.Context, credentialID string) ([]model.AuditEntry, error)
}
