// Package application contains use-case orchestration services.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ericfisherdev/radcred/internal/domain/errs"
	"github.com/ericfisherdev/radcred/internal/domain/model"
	"github.com/ericfisherdev/radcred/internal/domain/port/driven"
	"github.com/ericfisherdev/radcred/internal/secret"
)

// commitTimeout bounds the local writes that follow a confirmed remote change.
const commitTimeout = 10 * time.Second

// CreatedCredential is returned by CreateCredential. It never carries the secret.
type CreatedCredential struct {
	ID       string
	Username string
}

// RevealedSecret is the plaintext access pair returned by reveal and regenerate.
type RevealedSecret struct {
	Username string
	Secret   string
}

// ProvisionResult reports the outcome of ProvisionCredential.
type ProvisionResult struct {
	RemoteSubscriberID string
	Status             model.ProvisioningStatus
}

// DeprovisionResult reports the outcome of DeprovisionCredential.
type DeprovisionResult struct {
	Status model.ProvisioningStatus
}

// CredentialService drives the credential lifecycle. Every operation that
// changes a credential, or reveals it, holds that credential's lock for its
// whole duration, remote calls included.
type CredentialService struct {
	store          driven.CredentialStore
	audit          *AuditRecorder
	gateway        *ProvisioningGateway
	reconciler     *SessionReconciler
	cipher         *secret.Cipher
	gen            secret.Generator
	locker         driven.Locker
	usernamePrefix string
	now            func() time.Time
}

// NewCredentialService creates a new CredentialService with all required dependencies.
func NewCredentialService(
	store driven.CredentialStore,
	audit *AuditRecorder,
	gateway *ProvisioningGateway,
	reconciler *SessionReconciler,
	cipher *secret.Cipher,
	gen secret.Generator,
	locker driven.Locker,
	usernamePrefix string,
) *CredentialService {
	return &CredentialService{
		store:          store,
		audit:          audit,
		gateway:        gateway,
		reconciler:     reconciler,
		cipher:         cipher,
		gen:            gen,
		locker:         locker,
		usernamePrefix: usernamePrefix,
		now:            time.Now,
	}
}

// Username derives the access username for serviceID: the configured prefix
// followed by the service id lowercased, keeping only [a-z0-9._-].
func (s *CredentialService) Username(serviceID string) (string, error) {
	var b strings.Builder
	for _, c := range strings.ToLower(serviceID) {
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '.' || c == '_' || c == '-' {
			b.WriteRune(c)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("service id %q: %w", serviceID, errs.ErrInvalidServiceID)
	}
	return s.usernamePrefix + b.String(), nil
}

// CreateCredential creates a pending credential for serviceID. It does not
// provision; that is a separate, explicit step.
func (s *CredentialService) CreateCredential(ctx context.Context, serviceID string, actor model.Actor, reason string) (CreatedCredential, error) {
	username, err := s.Username(serviceID)
	if err != nil {
		return CreatedCredential{}, err
	}

	unlock, err := s.acquire(ctx, serviceLockKey(serviceID))
	if err != nil {
		return CreatedCredential{}, err
	}
	defer unlock()

	existing, err := s.store.GetByService(ctx, serviceID)
	if err != nil {
		return CreatedCredential{}, fmt.Errorf("create credential for service %q: %w", serviceID, err)
	}
	if existing != nil {
		return CreatedCredential{}, fmt.Errorf("create credential for service %q: %w", serviceID, errs.ErrActiveCredentialExists)
	}

	cred, err := s.store.Create(ctx, serviceID, username)
	if err != nil {
		return CreatedCredential{}, fmt.Errorf("create credential for service %q: %w", serviceID, err)
	}

	s.recordAfterCommit(ctx, cred.ID, actor, model.AuditCreated, reason)
	slog.Info("credential created", "credential_id", cred.ID, "service_id", serviceID, "actor_id", actor.ID)

	return CreatedCredential{ID: cred.ID, Username: cred.Username}, nil
}

// RevealCredential decrypts and returns the secret. The audit entry is written
// before the plaintext is returned; if it cannot be written nothing is revealed.
func (s *CredentialService) RevealCredential(ctx context.Context, id string, actor model.Actor, reason string) (RevealedSecret, error) {
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return RevealedSecret{}, err
	}
	defer unlock()

	cred, err := s.store.GetByID(ctx, id)
	if err != nil {
		return RevealedSecret{}, fmt.Errorf("reveal credential %q: %w", id, err)
	}
	if !cred.IsActive() {
		return RevealedSecret{}, fmt.Errorf("reveal credential %q: credential is %s: %w", id, cred.Status, errs.ErrInvalidTransition)
	}

	plaintext, err := s.decrypt(cred)
	if err != nil {
		return RevealedSecret{}, fmt.Errorf("reveal credential %q: %w", id, err)
	}

	if err := s.audit.Record(ctx, id, actor, model.AuditRevealed, reason); err != nil {
		slog.Error("reveal denied: audit write failed", "credential_id", id, "actor_id", actor.ID, "error", err)
		return RevealedSecret{}, fmt.Errorf("reveal credential %q: audit: %w", id, err)
	}

	if _, err := s.store.RecordReveal(ctx, id, s.now()); err != nil {
		return RevealedSecret{}, fmt.Errorf("reveal credential %q: record reveal: %w", id, err)
	}

	slog.Info("credential revealed", "credential_id", id, "actor_id", actor.ID)
	return RevealedSecret{Username: cred.Username, Secret: plaintext}, nil
}

// RegenerateCredential replaces the secret in place. A provisioned credential
// has the new secret pushed to the provider first; if that fails, the stored
// envelope and status are left untouched and the provider error is returned.
func (s *CredentialService) RegenerateCredential(ctx context.Context, id string, actor model.Actor, reason string) (RevealedSecret, error) {
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return RevealedSecret{}, err
	}
	defer unlock()

	cred, err := s.store.GetByID(ctx, id)
	if err != nil {
		return RevealedSecret{}, fmt.Errorf("regenerate credential %q: %w", id, err)
	}
	if !cred.IsActive() {
		return RevealedSecret{}, fmt.Errorf("regenerate credential %q: credential is %s: %w", id, cred.Status, errs.ErrInvalidTransition)
	}

	// The current envelope must still open, or the key is wrong and the new
	// envelope would be sealed with it too.
	if _, err := s.decrypt(cred); err != nil {
		return RevealedSecret{}, fmt.Errorf("regenerate credential %q: %w", id, err)
	}

	plaintext, err := s.gen.New()
	if err != nil {
		return RevealedSecret{}, fmt.Errorf("regenerate credential %q: generate secret: %w", id, err)
	}

	// Once the provider holds the new secret the local commit must not be
	// abandoned with the request.
	commitCtx, cancel := detach(ctx)
	defer cancel()

	if cred.IsProvisioned() {
		if err := s.gateway.Reprovision(ctx, cred, plaintext); err != nil {
			slog.Warn("regenerate aborted: remote update failed",
				"credential_id", id, "kind", errs.Kind(err), "error", err)
			s.recordAfterCommit(ctx, id, actor, model.AuditProvisionFailed,
				joinNote("regenerate aborted: "+errs.Kind(err), reason))
			return RevealedSecret{}, fmt.Errorf("regenerate credential %q: %w", id, err)
		}
	}

	if _, err := s.store.ReplaceSecret(commitCtx, id, plaintext); err != nil {
		if cred.IsProvisioned() {
			slog.Error("remote secret updated but local envelope not replaced; regenerate again to resync",
				"alarm", "secret_divergence", "credential_id", id, "error", err)
		}
		return RevealedSecret{}, fmt.Errorf("regenerate credential %q: replace secret: %w", id, err)
	}

	if err := s.audit.Record(commitCtx, id, actor, model.AuditRegenerated, reason); err != nil {
		slog.Error("regenerated secret withheld: audit write failed", "credential_id", id, "actor_id", actor.ID, "error", err)
		return RevealedSecret{}, fmt.Errorf("regenerate credential %q: audit: %w", id, err)
	}

	slog.Info("credential regenerated", "credential_id", id, "actor_id", actor.ID, "remote_updated", cred.IsProvisioned())
	return RevealedSecret{Username: cred.Username, Secret: plaintext}, nil
}

// ProvisionCredential creates or adopts the remote subscriber. An already
// provisioned credential returns its remote id without a provider call. On
// failure the credential is marked failed and the provider error is returned.
func (s *CredentialService) ProvisionCredential(ctx context.Context, id string, actor model.Actor, reason string) (ProvisionResult, error) {
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return ProvisionResult{}, err
	}
	defer unlock()

	cred, err := s.store.GetByID(ctx, id)
	if err != nil {
		return ProvisionResult{}, fmt.Errorf("provision credential %q: %w", id, err)
	}
	if cred.IsProvisioned() {
		return ProvisionResult{RemoteSubscriberID: cred.RemoteSubscriberID, Status: cred.Status}, nil
	}
	if !cred.IsActive() {
		return ProvisionResult{Status: cred.Status}, fmt.Errorf("provision credential %q: credential is %s: %w", id, cred.Status, errs.ErrInvalidTransition)
	}

	plaintext, err := s.decrypt(cred)
	if err != nil {
		return ProvisionResult{Status: cred.Status}, fmt.Errorf("provision credential %q: %w", id, err)
	}

	remoteID, err := s.gateway.Provision(ctx, cred, plaintext)

	commitCtx, cancel := detach(ctx)
	defer cancel()

	if err != nil {
		if uerr := s.store.UpdateStatus(commitCtx, id, model.StatusFailed, ""); uerr != nil {
			slog.Error("mark credential failed", "credential_id", id, "error", uerr)
		}
		s.recordAfterCommit(ctx, id, actor, model.AuditProvisionFailed, joinNote(errs.Kind(err), reason))
		slog.Warn("provisioning failed", "credential_id", id, "kind", errs.Kind(err), "error", err)
		return ProvisionResult{Status: model.StatusFailed}, fmt.Errorf("provision credential %q: %w", id, err)
	}

	if err := s.store.UpdateStatus(commitCtx, id, model.StatusProvisioned, remoteID); err != nil {
		// The next attempt adopts the remote subscriber by username.
		slog.Error("remote subscriber created but not recorded",
			"credential_id", id, "remote_subscriber_id", remoteID, "error", err)
		return ProvisionResult{Status: cred.Status}, fmt.Errorf("provision credential %q: record status: %w", id, err)
	}

	s.recordAfterCommit(ctx, id, actor, model.AuditProvisioned, reason)
	slog.Info("credential provisioned", "credential_id", id, "remote_subscriber_id", remoteID, "actor_id", actor.ID)

	return ProvisionResult{RemoteSubscriberID: remoteID, Status: model.StatusProvisioned}, nil
}

// DeprovisionCredential removes the remote subscriber and retires the
// credential. The local status only changes once the provider confirmed the
// removal. Deprovisioning a deprovisioned credential is a no-op.
func (s *CredentialService) DeprovisionCredential(ctx context.Context, id string, actor model.Actor, reason string) (DeprovisionResult, error) {
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return DeprovisionResult{}, err
	}
	defer unlock()

	cred, err := s.store.GetByID(ctx, id)
	if err != nil {
		return DeprovisionResult{}, fmt.Errorf("deprovision credential %q: %w", id, err)
	}
	if !cred.IsActive() {
		return DeprovisionResult{Status: cred.Status}, nil
	}

	if err := s.gateway.Deprovision(ctx, cred); err != nil {
		slog.Warn("deprovisioning failed", "credential_id", id, "kind", errs.Kind(err), "error", err)
		return DeprovisionResult{Status: cred.Status}, fmt.Errorf("deprovision credential %q: %w", id, err)
	}

	commitCtx, cancel := detach(ctx)
	defer cancel()

	if err := s.store.UpdateStatus(commitCtx, id, model.StatusDeprovisioned, ""); err != nil {
		return DeprovisionResult{Status: cred.Status}, fmt.Errorf("deprovision credential %q: record status: %w", id, err)
	}

	s.recordAfterCommit(ctx, id, actor, model.AuditDeprovisioned, reason)
	slog.Info("credential deprovisioned", "credential_id", id, "actor_id", actor.ID)

	return DeprovisionResult{Status: model.StatusDeprovisioned}, nil
}

// GetConnectionStatus reports today's session summary for the service's
// active credential, with the remote subscriber's enabled flag when the
// provider returns it. A credential that is not provisioned yet has no
// sessions.
func (s *CredentialService) GetConnectionStatus(ctx context.Context, serviceID string) (model.SessionSnapshot, error) {
	cred, err := s.store.GetByService(ctx, serviceID)
	if err != nil {
		return model.SessionSnapshot{}, fmt.Errorf("connection status for service %q: %w", serviceID, err)
	}
	if cred == nil {
		return model.SessionSnapshot{}, errs.NewNotFoundError(errs.ResourceCredential, serviceID)
	}

	if !cred.IsProvisioned() {
		return model.SessionSnapshot{
			TerminateCauseCounts: map[string]int{},
			Window:               s.reconciler.DefaultWindow(),
		}, nil
	}

	snap := s.reconciler.Analyze(ctx, cred.RemoteSubscriberID, model.SessionWindow{})

	sub, err := s.gateway.Subscriber(ctx, *cred)
	if err != nil {
		slog.Warn("subscriber status unavailable",
			"credential_id", cred.ID, "remote_subscriber_id", cred.RemoteSubscriberID, "kind", errs.Kind(err), "error", err)
		return snap, nil
	}
	snap.SubscriberEnabled = &sub.Enabled
	return snap, nil
}

// GetCredential returns the stored credential metadata.
func (s *CredentialService) GetCredential(ctx context.Context, id string) (model.Credential, error) {
	cred, err := s.store.GetByID(ctx, id)
	if err != nil {
		return model.Credential{}, fmt.Errorf("get credential %q: %w", id, err)
	}
	return cred, nil
}

// ListAuditEntries returns the audit trail of a credential, oldest first.
func (s *CredentialService) ListAuditEntries(ctx context.Context, id string) ([]model.AuditEntry, error) {
	if _, err := s.store.GetByID(ctx, id); err != nil {
		return nil, fmt.Errorf("list audit entries for credential %q: %w", id, err)
	}
	entries, err := s.audit.List(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list audit entries for credential %q: %w", id, err)
	}
	return entries, nil
}

func (s *CredentialService) lock(ctx context.Context, id string) (func(), error) {
	return s.acquire(ctx, credentialLockKey(id))
}

// acquire takes the lock for key. Failing to get it, whether on timeout or an
// unreachable lock backend, is transient: the caller may try again.
func (s *CredentialService) acquire(ctx context.Context, key string) (func(), error) {
	unlock, err := s.locker.Lock(ctx, key)
	if err != nil {
		return nil, errs.NewTransientError("acquire lock "+key, err)
	}
	return unlock, nil
}

// detach returns a context for local writes that follow a change the
// provider already applied. It ignores cancellation of ctx but keeps its
// values, and is bounded by commitTimeout.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
}

// decrypt opens the credential's envelope. Integrity failures are raised as
// an alarm and never retried.
func (s *CredentialService) decrypt(cred model.Credential) (string, error) {
	plaintext, err := s.cipher.Decrypt(cred.Envelope)
	if err == nil {
		return plaintext, nil
	}

	var integrity *errs.IntegrityError
	if errors.As(err, &integrity) {
		slog.Error("credential envelope failed authentication",
			"alarm", "credential_integrity", "credential_id", cred.ID, "service_id", cred.ServiceID)
		return "", errs.NewIntegrityError(cred.ID, integrity.Cause)
	}
	return "", err
}

// recordAfterCommit audits a state change that is already durable. A failed
// write cannot undo the change, so it is logged instead of returned.
func (s *CredentialService) recordAfterCommit(ctx context.Context, id string, actor model.Actor, action model.AuditAction, note string) {
	ctx, cancel := detach(ctx)
	defer cancel()

	if err := s.audit.Record(ctx, id, actor, action, note); err != nil {
		slog.Error("audit write failed after committed change",
			"alarm", "audit_gap", "credential_id", id, "action", action, "actor_id", actor.ID, "error", err)
	}
}

func joinNote(prefix, reason string) string {
	if reason == "" {
		return prefix
	}
	return prefix + ": " + reason
}
