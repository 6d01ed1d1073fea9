package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ericfisherdev/radcred/internal/domain/model"
	"github.com/ericfisherdev/radcred/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AuditTrail = (*AuditRepo)(nil)

// AuditRepo is the PostgreSQL implementation of the AuditTrail port.
type AuditRepo struct {
	db *gorm.DB
}

// NewAuditRepo creates a new AuditRepo.
func NewAuditRepo(db *gorm.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// Record appends an audit entry.
func (r *AuditRepo) Record(ctx context.Context, entry model.AuditEntry) error {
	row := auditEntryModelFromDomain(entry)
	row.OccurredAt = row.OccurredAt.Truncate(time.Microsecond)
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(&row).Error; err != nil {
		return fmt.Errorf("record %s audit entry for credential %q: %w", entry.Action, entry.CredentialID, err)
	}
	return nil
}

// ListByCredential returns all entries for credentialID, oldest first.
func (r *AuditRepo) ListByCredential(ctx context.Context, credentialID string) ([]model.AuditEntry, error) {
	if uuid.Validate(credentialID) != nil {
		return nil, nil
	}

	var rows []auditEntryModel
	err := r.db.WithContext(ctx).
		Where("credential_id = ?", credentialID).
		Order("occurred_at ASC").Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list audit entries for credential %q: %w", credentialID, err)
	}

	entries := make([]model.AuditEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.toDomain())
	}
	return entries, nil
}
