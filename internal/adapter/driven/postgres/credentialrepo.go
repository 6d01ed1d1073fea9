package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ericfisherdev/radcred/internal/domain/errs"
	"github.com/ericfisherdev/radcred/internal/domain/model"
	"github.com/ericfisherdev/radcred/internal/domain/port/driven"
	"github.com/ericfisherdev/radcred/internal/secret"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*CredentialRepo)(nil)

var forUpdate = clause.Locking{Strength: "UPDATE"}

// CredentialRepo is the PostgreSQL implementation of the CredentialStore port.
type CredentialRepo struct {
	db     *gorm.DB
	cipher *secret.Cipher
	gen    secret.Generator
	now    func() time.Time
}

// NewCredentialRepo creates a new CredentialRepo.
func NewCredentialRepo(db *gorm.DB, cipher *secret.Cipher, gen secret.Generator) *CredentialRepo {
	return &CredentialRepo{db: db, cipher: cipher, gen: gen, now: time.Now}
}

// Create inserts a pending credential with a freshly generated, encrypted secret.
func (r *CredentialRepo) Create(ctx context.Context, serviceID, username string) (model.Credential, error) {
	plaintext, err := r.gen.New()
	if err != nil {
		return model.Credential{}, fmt.Errorf("generate secret: %w", err)
	}
	env, err := r.cipher.Encrypt(plaintext)
	if err != nil {
		return model.Credential{}, fmt.Errorf("encrypt secret: %w", err)
	}

	now := r.timestamp()
	row := credentialModel{
		ID:                 uuid.NewString(),
		ServiceID:          serviceID,
		Username:           username,
		SecretCiphertext:   env.Ciphertext,
		SecretNonce:        env.Nonce,
		SecretAuthTag:      env.AuthTag,
		ProvisioningStatus: string(model.StatusPending),
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&credentialModel{}).
			Where("service_id = ? AND provisioning_status <> ?", serviceID, model.StatusDeprovisioned).
			Count(&count).Error; err != nil {
			return fmt.Errorf("check active credential for service %q: %w", serviceID, err)
		}
		if count > 0 {
			return errs.ErrActiveCredentialExists
		}
		return tx.Create(&row).Error
	})
	if errors.Is(err, errs.ErrActiveCredentialExists) || errors.Is(err, gorm.ErrDuplicatedKey) {
		return model.Credential{}, fmt.Errorf("create credential for service %q: %w", serviceID, errs.ErrActiveCredentialExists)
	}
	if err != nil {
		return model.Credential{}, fmt.Errorf("insert credential for service %q: %w", serviceID, err)
	}
	return row.toDomain(), nil
}

// GetByID returns the credential with the given id.
func (r *CredentialRepo) GetByID(ctx context.Context, id string) (model.Credential, error) {
	if uuid.Validate(id) != nil {
		return model.Credential{}, errs.NewNotFoundError(errs.ResourceCredential, id)
	}

	var row credentialModel
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Credential{}, errs.NewNotFoundError(errs.ResourceCredential, id)
	}
	if err != nil {
		return model.Credential{}, fmt.Errorf("get credential %q: %w", id, err)
	}
	return row.toDomain(), nil
}

// GetByService returns the non-deprovisioned credential for serviceID, or nil.
func (r *CredentialRepo) GetByService(ctx context.Context, serviceID string) (*model.Credential, error) {
	var row credentialModel
	err := r.db.WithContext(ctx).
		Where("service_id = ? AND provisioning_status <> ?", serviceID, model.StatusDeprovisioned).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential for service %q: %w", serviceID, err)
	}
	cred := row.toDomain()
	return &cred, nil
}

// UpdateStatus locks the row, validates the transition and applies it.
func (r *CredentialRepo) UpdateStatus(ctx context.Context, id string, status model.ProvisioningStatus, remoteSubscriberID string) error {
	if !status.Valid() {
		return fmt.Errorf("update credential %q: unknown status %q: %w", id, status, errs.ErrInvalidTransition)
	}
	if status == model.StatusProvisioned && remoteSubscriberID == "" {
		return fmt.Errorf("update credential %q: provisioned without remote subscriber id: %w", id, errs.ErrInvalidTransition)
	}

	var remote *string
	if status == model.StatusProvisioned {
		remote = &remoteSubscriberID
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := lockCredential(tx, id)
		if err != nil {
			return err
		}

		from := model.ProvisioningStatus(row.ProvisioningStatus)
		if !from.CanTransitionTo(status) {
			return fmt.Errorf("credential %q %s -> %s: %w", id, from, status, errs.ErrInvalidTransition)
		}

		updates := map[string]any{
			"provisioning_status":  string(status),
			"remote_subscriber_id": remote,
			"updated_at":           r.timestamp(),
		}
		switch status {
		case model.StatusFailed:
			updates["provision_attempts"] = gorm.Expr("provision_attempts + 1")
		case model.StatusProvisioned:
			updates["provision_attempts"] = 0
		}

		if err := tx.Model(&credentialModel{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return fmt.Errorf("update status of credential %q: %w", id, err)
		}
		return nil
	})
}

// ReplaceSecret seals plaintext under a new nonce and overwrites the stored envelope.
func (r *CredentialRepo) ReplaceSecret(ctx context.Context, id, plaintext string) (model.Envelope, error) {
	env, err := r.cipher.Encrypt(plaintext)
	if err != nil {
		return model.Envelope{}, fmt.Errorf("encrypt secret: %w", err)
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockCredential(tx, id); err != nil {
			return err
		}
		return tx.Model(&credentialModel{}).Where("id = ?", id).Updates(map[string]any{
			"secret_ciphertext": env.Ciphertext,
			"secret_nonce":      env.Nonce,
			"secret_auth_tag":   env.AuthTag,
			"updated_at":        r.timestamp(),
		}).Error
	})
	if err != nil {
		if errs.IsLocalNotFound(err) {
			return model.Envelope{}, err
		}
		return model.Envelope{}, fmt.Errorf("replace secret of credential %q: %w", id, err)
	}
	return env, nil
}

// RecordReveal bumps the reveal counter and returns the updated credential.
func (r *CredentialRepo) RecordReveal(ctx context.Context, id string, at time.Time) (model.Credential, error) {
	var out model.Credential
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockCredential(tx, id); err != nil {
			return err
		}
		if err := tx.Model(&credentialModel{}).Where("id = ?", id).Updates(map[string]any{
			"reveal_count":     gorm.Expr("reveal_count + 1"),
			"last_revealed_at": at.UTC(),
		}).Error; err != nil {
			return fmt.Errorf("record reveal of credential %q: %w", id, err)
		}

		var row credentialModel
		if err := tx.Where("id = ?", id).Take(&row).Error; err != nil {
			return fmt.Errorf("reload credential %q: %w", id, err)
		}
		out = row.toDomain()
		return nil
	})
	if err != nil {
		return model.Credential{}, err
	}
	return out, nil
}

// ListByStatus returns every credential in status, least recently updated first.
func (r *CredentialRepo) ListByStatus(ctx context.Context, status model.ProvisioningStatus) ([]model.Credential, error) {
	var rows []credentialModel
	err := r.db.WithContext(ctx).
		Where("provisioning_status = ?", string(status)).
		Order("updated_at ASC").Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list %s credentials: %w", status, err)
	}

	creds := make([]model.Credential, 0, len(rows))
	for _, row := range rows {
		creds = append(creds, row.toDomain())
	}
	return creds, nil
}

// Ping checks the database connection.
func (r *CredentialRepo) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Postgres stores microseconds.
func (r *CredentialRepo) timestamp() time.Time {
	return r.now().UTC().Truncate(time.Microsecond)
}

func lockCredential(tx *gorm.DB, id string) (credentialModel, error) {
	if uuid.Validate(id) != nil {
		return credentialModel{}, errs.NewNotFoundError(errs.ResourceCredential, id)
	}

	var row credentialModel
	err := tx.Clauses(forUpdate).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return credentialModel{}, errs.NewNotFoundError(errs.ResourceCredential, id)
	}
	if err != nil {
		return credentialModel{}, fmt.Errorf("lock credential %q: %w", id, err)
	}
	return row, nil
}
