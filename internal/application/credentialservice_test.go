package application_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/radcred/internal/application"
	"github.com/ericfisherdev/radcred/internal/domain/errs"
	"github.com/ericfisherdev/radcred/internal/domain/model"
	"github.com/ericfisherdev/radcred/internal/secret"
)

func TestUsername(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		serviceID string
		want      string
		wantErr   bool
	}{
		{"SVC-1001", "subsvc-1001", false},
		{"acct 42/../x", "subacct42..x", false},
		{"a.b_c", "suba.b_c", false},
		{"ÄÖÜ", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.serviceID, func(t *testing.T) {
			got, err := h.svc.Username(tt.serviceID)
			if tt.wantErr {
				assert.ErrorIs(t, err, errs.ErrInvalidServiceID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCreateCredential(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.CreateCredential(ctx, "svc-1", admin, "activation")
	require.NoError(t, err)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, "subsvc-1", res.Username)

	cred, err := h.svc.GetCredential(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, cred.Status)
	assert.False(t, cred.Envelope.IsZero())

	assert.Equal(t, []model.AuditAction{model.AuditCreated}, h.audit.actions(res.ID))
	assert.Zero(t, h.provider.createCalls, "create must not provision")
}

func TestCreateCredential_ActiveExists(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.created(t, "svc-1")
	_, err := h.svc.CreateCredential(ctx, "svc-1", admin, "")
	assert.ErrorIs(t, err, errs.ErrActiveCredentialExists)
}

func TestCreateCredential_AfterDeprovisionGetsNewRow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.provisioned(t, "svc-1")
	_, err := h.svc.DeprovisionCredential(ctx, first, admin, "")
	require.NoError(t, err)

	second := h.created(t, "svc-1")
	assert.NotEqual(t, first, second)

	old, err := h.svc.GetCredential(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDeprovisioned, old.Status)
}

func TestCreateCredential_AuditFailureDoesNotFailCreate(t *testing.T) {
	h := newHarness(t)
	h.audit.fail = errBoom

	res, err := h.svc.CreateCredential(context.Background(), "svc-1", admin, "")
	require.NoError(t, err)
	assert.NotEmpty(t, res.ID)
}

func TestCreateCredential_ConcurrentSameService(t *testing.T) {
	h := newHarness(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok int
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.svc.CreateCredential(context.Background(), "svc-1", admin, ""); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
}

func TestProvisionCredential(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.created(t, "svc-1")

	res, err := h.svc.ProvisionCredential(ctx, id, admin, "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusProvisioned, res.Status)
	assert.NotEmpty(t, res.RemoteSubscriberID)

	cred, err := h.svc.GetCredential(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, res.RemoteSubscriberID, cred.RemoteSubscriberID)

	// The provider received the stored secret.
	plaintext, err := h.cipher.Decrypt(cred.Envelope)
	require.NoError(t, err)
	assert.Equal(t, plaintext, h.provider.secretOf(res.RemoteSubscriberID))

	assert.Equal(t, []model.AuditAction{model.AuditCreated, model.AuditProvisioned}, h.audit.actions(id))
}

func TestProvisionCredential_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.created(t, "svc-1")

	first, err := h.svc.ProvisionCredential(ctx, id, admin, "")
	require.NoError(t, err)
	second, err := h.svc.ProvisionCredential(ctx, id, admin, "")
	require.NoError(t, err)

	assert.Equal(t, first.RemoteSubscriberID, second.RemoteSubscriberID)
	assert.Equal(t, 1, h.provider.createCalls)
	assert.Equal(t, 1, h.provider.findCalls, "short-circuit must not contact the provider")
}

func TestProvisionCredential_ConcurrentCallsCreateOnce(t *testing.T) {
	h := newHarness(t)
	id := h.created(t, "svc-1")

	var wg sync.WaitGroup
	ids := make(chan string, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.svc.ProvisionCredential(context.Background(), id, admin, "")
			if assert.NoError(t, err) {
				ids <- res.RemoteSubscriberID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for rid := range ids {
		seen[rid] = true
	}
	assert.Len(t, seen, 1)
	assert.Equal(t, 1, h.provider.createCalls)
}

func TestProvisionCredential_FailureMarksFailed(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"transient", errs.NewTransientError("create subscriber", context.DeadlineExceeded), errs.IsTransientError},
		{"rejected", errs.NewRejectedError("create subscriber", 422, "bad username"), errs.IsRejectedError},
		{"unauthorized", errs.NewUnauthorizedError("create subscriber", 401, nil), errs.IsUnauthorizedError},
		{"untyped becomes transient", errBoom, errs.IsTransientError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			id := h.created(t, "svc-1")
			h.provider.createErr = tt.err

			res, err := h.svc.ProvisionCredential(ctx, id, admin, "")
			require.Error(t, err)
			assert.True(t, tt.check(err), "got %v", err)
			assert.Equal(t, model.StatusFailed, res.Status)

			cred, err := h.svc.GetCredential(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, model.StatusFailed, cred.Status)
			assert.Empty(t, cred.RemoteSubscriberID)
			assert.Equal(t, 1, cred.ProvisionAttempts)

			assert.Equal(t, []model.AuditAction{model.AuditCreated, model.AuditProvisionFailed}, h.audit.actions(id))
			assert.Equal(t, 1, h.provider.createCalls, "no inline retry")
		})
	}
}

func TestProvisionCredential_AdoptsSubscriberFromLostResponse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.created(t, "svc-1")

	// A previous create timed out after the provider had committed it.
	orphan, err := h.provider.CreateSubscriber(ctx, model.SubscriberParams{Username: "subsvc-1", Secret: "stale"})
	require.NoError(t, err)
	h.provider.createCalls = 0

	res, err := h.svc.ProvisionCredential(ctx, id, admin, "")
	require.NoError(t, err)
	assert.Equal(t, orphan.ID, res.RemoteSubscriberID)
	assert.Zero(t, h.provider.createCalls)

	cred, err := h.svc.GetCredential(ctx, id)
	require.NoError(t, err)
	plaintext, err := h.cipher.Decrypt(cred.Envelope)
	require.NoError(t, err)
	assert.Equal(t, plaintext, h.provider.secretOf(orphan.ID))
}

func TestProvisionCredential_RetryAfterFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.created(t, "svc-1")

	h.provider.createErr = errs.NewTransientError("create subscriber", nil)
	_, err := h.svc.ProvisionCredential(ctx, id, admin, "")
	require.Error(t, err)

	h.provider.createErr = nil
	res, err := h.svc.ProvisionCredential(ctx, id, admin, "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusProvisioned, res.Status)

	cred, err := h.svc.GetCredential(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, cred.ProvisionAttempts)
}

func TestProvisionCredential_Deprovisioned(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.created(t, "svc-1")
	_, err := h.svc.DeprovisionCredential(ctx, id, admin, "")
	require.NoError(t, err)

	_, err = h.svc.ProvisionCredential(ctx, id, admin, "")
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)
}

func TestProvisionCredential_UnknownID(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.ProvisionCredential(context.Background(), "missing", admin, "")
	assert.True(t, errs.IsLocalNotFound(err))
}

func TestRevealCredential(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.created(t, "svc-1")

	got, err := h.svc.RevealCredential(ctx, id, admin, "support ticket 7")
	require.NoError(t, err)
	assert.Equal(t, "subsvc-1", got.Username)
	assert.Len(t, got.Secret, 16)

	cred, err := h.svc.GetCredential(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cred.RevealCount)
	assert.NotNil(t, cred.LastRevealedAt)

	entries, err := h.svc.ListAuditEntries(ctx, id)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	reveal := entries[1]
	assert.Equal(t, model.AuditRevealed, reveal.Action)
	assert.Equal(t, admin.ID, reveal.ActorID)
	assert.Equal(t, admin.IPAddress, reveal.ActorIPAddress)
	assert.Equal(t, "support ticket 7", reveal.ReasonNote)

	for _, e := range entries {
		assert.NotContains(t, e.ReasonNote, got.Secret)
	}
}

func TestRevealCredential_AuditFailureIsFailClosed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.created(t, "svc-1")
	h.audit.fail = errBoom

	got, err := h.svc.RevealCredential(ctx, id, admin, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.Empty(t, got.Secret)
	assert.Empty(t, got.Username)

	cred, err := h.svc.GetCredential(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, cred.RevealCount)
}

func TestRevealCredential_IntegrityFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.created(t, "svc-1")

	cred, err := h.svc.GetCredential(ctx, id)
	require.NoError(t, err)
	tampered := append([]byte(nil), cred.Envelope.Ciphertext...)
	tampered[0] ^= 0x01
	cred.Envelope.Ciphertext = tampered
	h.store.put(cred)

	got, err := h.svc.RevealCredential(ctx, id, admin, "")
	require.Error(t, err)
	assert.True(t, errs.IsIntegrityError(err))
	assert.Empty(t, got.Secret)
	assert.Equal(t, []model.AuditAction{model.AuditCreated}, h.audit.actions(id), "no reveal audited")
}

func TestRevealCredential_UnknownAndDeprovisioned(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.RevealCredential(ctx, "missing", admin, "")
	assert.True(t, errs.IsLocalNotFound(err))

	id := h.created(t, "svc-1")
	_, err = h.svc.DeprovisionCredential(ctx, id, admin, "")
	require.NoError(t, err)
	_, err = h.svc.RevealCredential(ctx, id, admin, "")
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)
}

func TestRegenerateCredential_Provisioned(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.provisioned(t, "svc-1")

	before, err := h.svc.GetCredential(ctx, id)
	require.NoError(t, err)
	oldSecret, err := h.cipher.Decrypt(before.Envelope)
	require.NoError(t, err)

	got, err := h.svc.RegenerateCredential(ctx, id, admin, "rotation")
	require.NoError(t, err)
	assert.Equal(t, before.Username, got.Username)
	assert.NotEqual(t, oldSecret, got.Secret)

	after, err := h.svc.GetCredential(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, before.RemoteSubscriberID, after.RemoteSubscriberID)
	assert.Equal(t, model.StatusProvisioned, after.Status)

	stored, err := h.cipher.Decrypt(after.Envelope)
	require.NoError(t, err)
	assert.Equal(t, got.Secret, stored)
	assert.Equal(t, got.Secret, h.provider.secretOf(after.RemoteSubscriberID))

	actions := h.audit.actions(id)
	assert.Equal(t, model.AuditRegenerated, actions[len(actions)-1])
}

func TestRegenerateCredential_RemoteFailurePreservesState(t *testing.T) {
	for _, remoteErr := range []error{
		errs.NewTransientError("update subscriber secret", context.DeadlineExceeded),
		errs.NewRejectedError("update subscriber secret", 422, "policy"),
	} {
		t.Run(errs.Kind(remoteErr), func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			id := h.provisioned(t, "svc-1")

			before, err := h.svc.GetCredential(ctx, id)
			require.NoError(t, err)

			h.provider.updateErr = remoteErr
			got, err := h.svc.RegenerateCredential(ctx, id, admin, "")
			require.Error(t, err)
			assert.True(t, errs.IsTransientError(err) || errs.IsRejectedError(err))
			assert.Empty(t, got.Secret)

			after, err := h.svc.GetCredential(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, before.Envelope, after.Envelope)
			assert.Equal(t, model.StatusProvisioned, after.Status)
			assert.Equal(t, before.RemoteSubscriberID, after.RemoteSubscriberID)
		})
	}
}

func TestRegenerateCredential_PendingSkipsProvider(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.created(t, "svc-1")

	got, err := h.svc.RegenerateCredential(ctx, id, admin, "")
	require.NoError(t, err)
	assert.Zero(t, h.provider.updateCalls)

	cred, err := h.svc.GetCredential(ctx, id)
	require.NoError(t, err)
	stored, err := h.cipher.Decrypt(cred.Envelope)
	require.NoError(t, err)
	assert.Equal(t, got.Secret, stored)
	assert.Equal(t, model.StatusPending, cred.Status)
}

func TestRegenerateCredential_AuditFailureWithholdsSecret(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.created(t, "svc-1")
	h.audit.fail = errBoom

	got, err := h.svc.RegenerateCredential(ctx, id, admin, "")
	require.Error(t, err)
	assert.Empty(t, got.Secret)
}

func TestRegenerateCredential_LocalFailureAfterRemoteUpdate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.provisioned(t, "svc-1")
	h.store.failReplace = errBoom

	_, err := h.svc.RegenerateCredential(ctx, id, admin, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)

	// A second regenerate resynchronises both sides.
	h.store.failReplace = nil
	got, err := h.svc.RegenerateCredential(ctx, id, admin, "")
	require.NoError(t, err)
	cred, err := h.svc.GetCredential(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, got.Secret, h.provider.secretOf(cred.RemoteSubscriberID))
}

func TestDeprovisionCredential(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.provisioned(t, "svc-1")

	res, err := h.svc.DeprovisionCredential(ctx, id, admin, "contract ended")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDeprovisioned, res.Status)
	assert.Equal(t, 1, h.provider.deleteCalls)

	cred, err := h.svc.GetCredential(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDeprovisioned, cred.Status)
	assert.Empty(t, cred.RemoteSubscriberID)

	actions := h.audit.actions(id)
	assert.Equal(t, model.AuditDeprovisioned, actions[len(actions)-1])

	// Again: no-op.
	res, err = h.svc.DeprovisionCredential(ctx, id, admin, "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDeprovisioned, res.Status)
	assert.Equal(t, 1, h.provider.deleteCalls)
}

func TestDeprovisionCredential_NoRemoteIDSkipsProvider(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.created(t, "svc-1")

	res, err := h.svc.DeprovisionCredential(ctx, id, admin, "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDeprovisioned, res.Status)
	assert.Zero(t, h.provider.deleteCalls)
}

func TestDeprovisionCredential_RemoteAlreadyGone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.provisioned(t, "svc-1")

	cred, err := h.svc.GetCredential(ctx, id)
	require.NoError(t, err)
	require.NoError(t, h.provider.DeleteSubscriber(ctx, cred.RemoteSubscriberID))

	res, err := h.svc.DeprovisionCredential(ctx, id, admin, "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDeprovisioned, res.Status)
}

func TestDeprovisionCredential_ProviderErrorKeepsStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.provisioned(t, "svc-1")
	h.provider.deleteErr = errs.NewTransientError("delete subscriber", nil)

	res, err := h.svc.DeprovisionCredential(ctx, id, admin, "")
	require.Error(t, err)
	assert.True(t, errs.IsTransientError(err))
	assert.Equal(t, model.StatusProvisioned, res.Status)

	cred, err := h.svc.GetCredential(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProvisioned, cred.Status)
	assert.NotEmpty(t, cred.RemoteSubscriberID)
}

func TestGetConnectionStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.GetConnectionStatus(ctx, "unknown")
	assert.True(t, errs.IsLocalNotFound(err))

	h.created(t, "svc-1")
	snap, err := h.svc.GetConnectionStatus(ctx, "svc-1")
	require.NoError(t, err)
	assert.False(t, snap.Unavailable)
	assert.Zero(t, snap.TotalSessionsInWindow)

	h2 := newHarness(t)
	h2.provisioned(t, "svc-2")
	start := time.Now().Add(-time.Minute)
	h2.provider.sessions = []model.SessionRecord{{SessionID: "s", StartedAt: start, DurationSeconds: 60}}
	snap, err = h2.svc.GetConnectionStatus(ctx, "svc-2")
	require.NoError(t, err)
	assert.True(t, snap.IsActive)
	assert.Equal(t, 1, snap.TotalSessionsInWindow)

	h2.provider.sessionsErr = errs.NewTransientError("list sessions", nil)
	snap, err = h2.svc.GetConnectionStatus(ctx, "svc-2")
	require.NoError(t, err)
	assert.True(t, snap.Unavailable)
	assert.False(t, snap.IsActive)
}

func TestListAuditEntries_UnknownCredential(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.ListAuditEntries(context.Background(), "missing")
	assert.True(t, errs.IsLocalNotFound(err))
}

func TestNoPlaintextInAuditNotes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.provisioned(t, "svc-1")

	revealed, err := h.svc.RevealCredential(ctx, id, admin, "")
	require.NoError(t, err)
	regenerated, err := h.svc.RegenerateCredential(ctx, id, admin, "")
	require.NoError(t, err)
	_, err = h.svc.DeprovisionCredential(ctx, id, admin, "")
	require.NoError(t, err)

	entries, err := h.svc.ListAuditEntries(ctx, id)
	require.NoError(t, err)
	for _, e := range entries {
		for _, s := range []string{revealed.Secret, regenerated.Secret} {
			assert.False(t, strings.Contains(e.ReasonNote, s))
			assert.False(t, strings.Contains(e.ActorID, s))
		}
	}
}

func TestRegenerateCredential_CommitsWhenCanceledAfterRemoteUpdate(t *testing.T) {
	h := newHarness(t)
	id := h.provisioned(t, "svc-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.provider.afterWrite = cancel

	got, err := h.svc.RegenerateCredential(ctx, id, admin, "rotation")
	require.NoError(t, err)
	require.Error(t, ctx.Err(), "request context is canceled once the provider accepted the secret")

	after, err := h.svc.GetCredential(context.Background(), id)
	require.NoError(t, err)
	stored, err := h.cipher.Decrypt(after.Envelope)
	require.NoError(t, err)
	assert.Equal(t, got.Secret, stored)
	assert.Equal(t, stored, h.provider.secretOf(after.RemoteSubscriberID))

	actions := h.audit.actions(id)
	assert.Equal(t, model.AuditRegenerated, actions[len(actions)-1])
}

func TestProvisionCredential_CommitsWhenCanceledAfterRemoteCreate(t *testing.T) {
	h := newHarness(t)
	id := h.created(t, "svc-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.provider.afterWrite = cancel

	res, err := h.svc.ProvisionCredential(ctx, id, admin, "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusProvisioned, res.Status)

	after, err := h.svc.GetCredential(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProvisioned, after.Status)
	assert.Equal(t, res.RemoteSubscriberID, after.RemoteSubscriberID)
	assert.Contains(t, h.audit.actions(id), model.AuditProvisioned)
}

func TestDeprovisionCredential_CommitsWhenCanceledAfterRemoteDelete(t *testing.T) {
	h := newHarness(t)
	id := h.provisioned(t, "svc-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.provider.afterWrite = cancel

	res, err := h.svc.DeprovisionCredential(ctx, id, admin, "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDeprovisioned, res.Status)

	after, err := h.svc.GetCredential(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDeprovisioned, after.Status)
	assert.Contains(t, h.audit.actions(id), model.AuditDeprovisioned)
}

func TestGetConnectionStatus_SubscriberEnabled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.created(t, "svc-pending")
	snap, err := h.svc.GetConnectionStatus(ctx, "svc-pending")
	require.NoError(t, err)
	assert.Nil(t, snap.SubscriberEnabled)

	id := h.provisioned(t, "svc-1")
	snap, err = h.svc.GetConnectionStatus(ctx, "svc-1")
	require.NoError(t, err)
	require.NotNil(t, snap.SubscriberEnabled)
	assert.True(t, *snap.SubscriberEnabled)

	cred, err := h.svc.GetCredential(ctx, id)
	require.NoError(t, err)
	sub := h.provider.subscribers[cred.RemoteSubscriberID]
	sub.Enabled = false
	h.provider.subscribers[cred.RemoteSubscriberID] = sub

	snap, err = h.svc.GetConnectionStatus(ctx, "svc-1")
	require.NoError(t, err)
	require.NotNil(t, snap.SubscriberEnabled)
	assert.False(t, *snap.SubscriberEnabled)

	h.provider.getErr = errs.NewTransientError("get subscriber", nil)
	snap, err = h.svc.GetConnectionStatus(ctx, "svc-1")
	require.NoError(t, err)
	assert.Nil(t, snap.SubscriberEnabled)
	assert.False(t, snap.Unavailable, "session telemetry is still readable")
}

// heldLocker never grants a lock; Lock waits for ctx.
type heldLocker struct{}

func (heldLocker) Lock(ctx context.Context, _ string) (func(), error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestLockTimeoutIsTransient(t *testing.T) {
	h := newHarness(t)
	id := h.created(t, "svc-1")

	svc := application.NewCredentialService(
		h.store,
		application.NewAuditRecorder(h.audit),
		application.NewProvisioningGateway(h.provider),
		application.NewSessionReconciler(h.provider, time.UTC),
		h.cipher,
		secret.Generator{Style: secret.StyleFriendly, Length: 16},
		heldLocker{},
		"sub",
	)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := svc.RevealCredential(ctx, id, admin, "")
	assert.True(t, errs.IsTransientError(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = svc.CreateCredential(ctx, "svc-2", admin, "")
	assert.True(t, errs.IsTransientError(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
