package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/radcred/internal/domain/errs"
	"github.com/ericfisherdev/radcred/internal/domain/model"
	"github.com/ericfisherdev/radcred/internal/domain/port/driven"
	"github.com/ericfisherdev/radcred/internal/secret"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*CredentialRepo)(nil)

const credentialColumns = `id, service_id, username, secret_ciphertext, secret_nonce, secret_auth_tag,
	provisioning_status, remote_subscriber_id, provision_attempts, created_at, updated_at,
	last_revealed_at, reveal_count`

// CredentialRepo is the SQLite implementation of the CredentialStore port interface.
// Secrets are generated and sealed with the injected Cipher before they reach the
// database; only the envelope is ever written.
type CredentialRepo struct {
	db     *DB
	cipher *secret.Cipher
	gen    secret.Generator
	now    func() time.Time
}

// NewCredentialRepo creates a new CredentialRepo.
func NewCredentialRepo(db *DB, cipher *secret.Cipher, gen secret.Generator) *CredentialRepo {
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

	now := r.now().UTC()
	cred := model.Credential{
		ID:        uuid.NewString(),
		ServiceID: serviceID,
		Username:  username,
		Envelope:  env,
		Status:    model.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return model.Credential{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var existing string
	const checkQuery = `SELECT id FROM credentials WHERE service_id = ? AND provisioning_status <> 'deprovisioned'`
	err = tx.QueryRowContext(ctx, checkQuery, serviceID).Scan(&existing)
	switch {
	case err == nil:
		return model.Credential{}, fmt.Errorf("create credential for service %q: %w", serviceID, errs.ErrActiveCredentialExists)
	case !errors.Is(err, sql.ErrNoRows):
		return model.Credential{}, fmt.Errorf("check active credential for service %q: %w", serviceID, err)
	}

	const insertQuery = `
		INSERT INTO credentials (id, service_id, username, secret_ciphertext, secret_nonce, secret_auth_tag,
			provisioning_status, provision_attempts, created_at, updated_at, reveal_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, 0)`
	_, err = tx.ExecContext(ctx, insertQuery,
		cred.ID, cred.ServiceID, cred.Username,
		env.Ciphertext, env.Nonce, env.AuthTag,
		string(cred.Status), formatTime(now), formatTime(now),
	)
	if isUniqueViolation(err) {
		return model.Credential{}, fmt.Errorf("create credential for service %q: %w", serviceID, errs.ErrActiveCredentialExists)
	}
	if err != nil {
		return model.Credential{}, fmt.Errorf("insert credential for service %q: %w", serviceID, err)
	}

	if err := tx.Commit(); err != nil {
		return model.Credential{}, fmt.Errorf("commit credential for service %q: %w", serviceID, err)
	}
	return cred, nil
}

// GetByID returns the credential with the given id.
func (r *CredentialRepo) GetByID(ctx context.Context, id string) (model.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE id = ?`
	cred, err := scanCredential(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Credential{}, errs.NewNotFoundError(errs.ResourceCredential, id)
	}
	if err != nil {
		return model.Credential{}, fmt.Errorf("get credential %q: %w", id, err)
	}
	return cred, nil
}

// GetByService returns the non-deprovisioned credential for serviceID, or nil.
func (r *CredentialRepo) GetByService(ctx context.Context, serviceID string) (*model.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials
		WHERE service_id = ? AND provisioning_status <> 'deprovisioned'`
	cred, err := scanCredential(r.db.Reader.QueryRowContext(ctx, query, serviceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential for service %q: %w", serviceID, err)
	}
	return &cred, nil
}

// UpdateStatus validates the transition against the stored status and applies it.
// A failed transition counts one provisioning attempt; a provisioned one resets the count.
func (r *CredentialRepo) UpdateStatus(ctx context.Context, id string, status model.ProvisioningStatus, remoteSubscriberID string) error {
	if !status.Valid() {
		return fmt.Errorf("update credential %q: unknown status %q: %w", id, status, errs.ErrInvalidTransition)
	}
	if status == model.StatusProvisioned && remoteSubscriberID == "" {
		return fmt.Errorf("update credential %q: provisioned without remote subscriber id: %w", id, errs.ErrInvalidTransition)
	}
	if status != model.StatusProvisioned {
		remoteSubscriberID = ""
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var current string
	err = tx.QueryRowContext(ctx, `SELECT provisioning_status FROM credentials WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return errs.NewNotFoundError(errs.ResourceCredential, id)
	}
	if err != nil {
		return fmt.Errorf("read status of credential %q: %w", id, err)
	}

	from := model.ProvisioningStatus(current)
	if !from.CanTransitionTo(status) {
		return fmt.Errorf("credential %q %s -> %s: %w", id, from, status, errs.ErrInvalidTransition)
	}

	var attemptsExpr string
	switch status {
	case model.StatusFailed:
		attemptsExpr = "provision_attempts + 1"
	case model.StatusProvisioned:
		attemptsExpr = "0"
	default:
		attemptsExpr = "provision_attempts"
	}

	query := `UPDATE credentials
		SET provisioning_status = ?, remote_subscriber_id = ?, provision_attempts = ` + attemptsExpr + `, updated_at = ?
		WHERE id = ?`
	_, err = tx.ExecContext(ctx, query, string(status), nullString(remoteSubscriberID), formatTime(r.now()), id)
	if err != nil {
		return fmt.Errorf("update status of credential %q: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit status of credential %q: %w", id, err)
	}
	return nil
}

// ReplaceSecret seals plaintext under a new nonce and overwrites the stored envelope.
func (r *CredentialRepo) ReplaceSecret(ctx context.Context, id, plaintext string) (model.Envelope, error) {
	env, err := r.cipher.Encrypt(plaintext)
	if err != nil {
		return model.Envelope{}, fmt.Errorf("encrypt secret: %w", err)
	}

	const query = `UPDATE credentials
		SET secret_ciphertext = ?, secret_nonce = ?, secret_auth_tag = ?, updated_at = ?
		WHERE id = ?`
	result, err := r.db.Writer.ExecContext(ctx, query, env.Ciphertext, env.Nonce, env.AuthTag, formatTime(r.now()), id)
	if err != nil {
		return model.Envelope{}, fmt.Errorf("replace secret of credential %q: %w", id, err)
	}
	if err := requireOneRow(result, id); err != nil {
		return model.Envelope{}, err
	}
	return env, nil
}

// RecordReveal bumps the reveal counter and returns the updated credential.
func (r *CredentialRepo) RecordReveal(ctx context.Context, id string, at time.Time) (model.Credential, error) {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return model.Credential{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	const query = `UPDATE credentials SET reveal_count = reveal_count + 1, last_revealed_at = ? WHERE id = ?`
	result, err := tx.ExecContext(ctx, query, formatTime(at), id)
	if err != nil {
		return model.Credential{}, fmt.Errorf("record reveal of credential %q: %w", id, err)
	}
	if err := requireOneRow(result, id); err != nil {
		return model.Credential{}, err
	}

	cred, err := scanCredential(tx.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE id = ?`, id))
	if err != nil {
		return model.Credential{}, fmt.Errorf("reload credential %q: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return model.Credential{}, fmt.Errorf("commit reveal of credential %q: %w", id, err)
	}
	return cred, nil
}

// ListByStatus returns every credential in status, least recently updated first.
func (r *CredentialRepo) ListByStatus(ctx context.Context, status model.ProvisioningStatus) ([]model.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials
		WHERE provisioning_status = ? ORDER BY updated_at ASC, id ASC`
	rows, err := r.db.Reader.QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("list %s credentials: %w", status, err)
	}
	defer rows.Close()

	var creds []model.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return creds, nil
}

// Ping checks that both connections are usable.
func (r *CredentialRepo) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func requireOneRow(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return errs.NewNotFoundError(errs.ResourceCredential, id)
	}
	return nil
}

func scanCredential(s scanner) (model.Credential, error) {
	var (
		cred         model.Credential
		status       string
		remoteID     sql.NullString
		createdAt    string
		updatedAt    string
		lastRevealed sql.NullString
	)

	err := s.Scan(
		&cred.ID, &cred.ServiceID, &cred.Username,
		&cred.Envelope.Ciphertext, &cred.Envelope.Nonce, &cred.Envelope.AuthTag,
		&status, &remoteID, &cred.ProvisionAttempts, &createdAt, &updatedAt,
		&lastRevealed, &cred.RevealCount,
	)
	if err != nil {
		return model.Credential{}, err
	}

	cred.Status = model.ProvisioningStatus(status)
	cred.RemoteSubscriberID = remoteID.String

	if cred.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Credential{}, fmt.Errorf("parse created_at: %w", err)
	}
	if cred.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.Credential{}, fmt.Errorf("parse updated_at: %w", err)
	}
	if cred.LastRevealedAt, err = parseNullTime(lastRevealed); err != nil {
		return model.Credential{}, fmt.Errorf("parse last_revealed_at: %w", err)
	}

	return cred, nil
}
