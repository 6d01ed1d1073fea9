package application_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/radcred/internal/application"
	"github.com/ericfisherdev/radcred/internal/domain/errs"
	"github.com/ericfisherdev/radcred/internal/domain/model"
	"github.com/ericfisherdev/radcred/internal/secret"
)

// --- In-memory credential store ---

// fakeStore rejects writes on a done context, as the SQL stores do.
type fakeStore struct {
	mu     sync.Mutex
	cipher *secret.Cipher
	gen    secret.Generator
	rows   map[string]model.Credential

	failReplace error
}

func newFakeStore(c *secret.Cipher) *fakeStore {
	return &fakeStore{
		cipher: c,
		gen:    secret.Generator{Style: secret.StyleFriendly, Length: 16},
		rows:   make(map[string]model.Credential),
	}
}

func (s *fakeStore) Create(_ context.Context, serviceID, username string) (model.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.rows {
		if c.ServiceID == serviceID && c.IsActive() {
			return model.Credential{}, errs.ErrActiveCredentialExists
		}
	}
	plaintext, err := s.gen.New()
	if err != nil {
		return model.Credential{}, err
	}
	env, err := s.cipher.Encrypt(plaintext)
	if err != nil {
		return model.Credential{}, err
	}
	now := time.Now().UTC()
	cred := model.Credential{
		ID: uuid.NewString(), ServiceID: serviceID, Username: username, Envelope: env,
		Status: model.StatusPending, CreatedAt: now, UpdatedAt: now,
	}
	s.rows[cred.ID] = cred
	return cred, nil
}

func (s *fakeStore) GetByID(_ context.Context, id string) (model.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.rows[id]
	if !ok {
		return model.Credential{}, errs.NewNotFoundError(errs.ResourceCredential, id)
	}
	return c, nil
}

func (s *fakeStore) GetByService(_ context.Context, serviceID string) (*model.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.rows {
		if c.ServiceID == serviceID && c.IsActive() {
			return &c, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) UpdateStatus(ctx context.Context, id string, status model.ProvisioningStatus, remoteID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.rows[id]
	if !ok {
		return errs.NewNotFoundError(errs.ResourceCredential, id)
	}
	if !c.Status.CanTransitionTo(status) || (status == model.StatusProvisioned && remoteID == "") {
		return errs.ErrInvalidTransition
	}
	if status != model.StatusProvisioned {
		remoteID = ""
	}
	switch status {
	case model.StatusFailed:
		c.ProvisionAttempts++
	case model.StatusProvisioned:
		c.ProvisionAttempts = 0
	}
	c.Status = status
	c.RemoteSubscriberID = remoteID
	c.UpdatedAt = time.Now().UTC()
	s.rows[id] = c
	return nil
}

func (s *fakeStore) ReplaceSecret(ctx context.Context, id, plaintext string) (model.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return model.Envelope{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failReplace != nil {
		return model.Envelope{}, s.failReplace
	}
	c, ok := s.rows[id]
	if !ok {
		return model.Envelope{}, errs.NewNotFoundError(errs.ResourceCredential, id)
	}
	env, err := s.cipher.Encrypt(plaintext)
	if err != nil {
		return model.Envelope{}, err
	}
	c.Envelope = env
	s.rows[id] = c
	return env, nil
}

func (s *fakeStore) RecordReveal(_ context.Context, id string, at time.Time) (model.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.rows[id]
	if !ok {
		return model.Credential{}, errs.NewNotFoundError(errs.ResourceCredential, id)
	}
	c.RevealCount++
	c.LastRevealedAt = &at
	s.rows[id] = c
	return c, nil
}

func (s *fakeStore) ListByStatus(_ context.Context, status model.ProvisioningStatus) ([]model.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Credential
	for _, c := range s.rows {
		if c.Status == status {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (s *fakeStore) Ping(context.Context) error { return nil }

// put overwrites a row, for arranging test state directly.
func (s *fakeStore) put(c model.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[c.ID] = c
}

// --- In-memory audit trail ---

type fakeAudit struct {
	mu      sync.Mutex
	entries []model.AuditEntry
	fail    error
}

func (a *fakeAudit) Record(ctx context.Context, e model.AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.fail != nil {
		return a.fail
	}
	a.entries = append(a.entries, e)
	return nil
}

func (a *fakeAudit) ListByCredential(_ context.Context, id string) ([]model.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []model.AuditEntry
	for _, e := range a.entries {
		if e.CredentialID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (a *fakeAudit) actions(id string) []model.AuditAction {
	entries, _ := a.ListByCredential(context.Background(), id)
	out := make([]model.AuditAction, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

// --- Provider client mock ---

type mockProvider struct {
	mu sync.Mutex

	subscribers map[string]model.RemoteSubscriber // by id
	secrets     map[string]string                 // by id
	nextID      int

	createErr   error
	findErr     error
	updateErr   error
	deleteErr   error
	getErr      error
	sessions    []model.SessionRecord
	sessionsErr error

	// afterWrite runs once a create, update or delete has been applied.
	afterWrite func()

	createCalls int
	findCalls   int
	updateCalls int
	deleteCalls int
}

func newMockProvider() *mockProvider {
	return &mockProvider{
		subscribers: make(map[string]model.RemoteSubscriber),
		secrets:     make(map[string]string),
	}
}

func (p *mockProvider) CreateSubscriber(_ context.Context, params model.SubscriberParams) (model.RemoteSubscriber, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.createCalls++
	if p.createErr != nil {
		return model.RemoteSubscriber{}, p.createErr
	}
	p.nextID++
	sub := model.RemoteSubscriber{ID: fmt.Sprintf("r-%d", p.nextID), Username: params.Username, Enabled: true}
	p.subscribers[sub.ID] = sub
	p.secrets[sub.ID] = params.Secret
	p.wrote()
	return sub, nil
}

func (p *mockProvider) FindSubscriberByUsername(_ context.Context, username string) (*model.RemoteSubscriber, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.findCalls++
	if p.findErr != nil {
		return nil, p.findErr
	}
	for _, s := range p.subscribers {
		if s.Username == username {
			return &s, nil
		}
	}
	return nil, nil
}

func (p *mockProvider) GetSubscriber(_ context.Context, id string) (model.RemoteSubscriber, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.getErr != nil {
		return model.RemoteSubscriber{}, p.getErr
	}
	s, ok := p.subscribers[id]
	if !ok {
		return model.RemoteSubscriber{}, errs.NewNotFoundError(errs.ResourceSubscriber, id)
	}
	return s, nil
}

func (p *mockProvider) UpdateSubscriberSecret(_ context.Context, id, secret string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.updateCalls++
	if p.updateErr != nil {
		return p.updateErr
	}
	if _, ok := p.subscribers[id]; !ok {
		return errs.NewNotFoundError(errs.ResourceSubscriber, id)
	}
	p.secrets[id] = secret
	p.wrote()
	return nil
}

func (p *mockProvider) DeleteSubscriber(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.deleteCalls++
	if p.deleteErr != nil {
		return p.deleteErr
	}
	if _, ok := p.subscribers[id]; !ok {
		return errs.NewNotFoundError(errs.ResourceSubscriber, id)
	}
	delete(p.subscribers, id)
	delete(p.secrets, id)
	p.wrote()
	return nil
}

func (p *mockProvider) ListSessions(_ context.Context, _ string, _ model.SessionWindow) ([]model.SessionRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sessionsErr != nil {
		return nil, p.sessionsErr
	}
	return p.sessions, nil
}

func (p *mockProvider) wrote() {
	if p.afterWrite != nil {
		p.afterWrite()
	}
}

func (p *mockProvider) secretOf(id string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.secrets[id]
}

// --- Wiring ---

type harness struct {
	svc      *application.CredentialService
	store    *fakeStore
	audit    *fakeAudit
	provider *mockProvider
	cipher   *secret.Cipher
}

var admin = model.Actor{ID: "admin-1", IPAddress: "192.0.2.10"}

func newHarness(t *testing.T) *harness {
	t.Helper()

	key := make([]byte, secret.KeySize)
	for i := range key {
		key[i] = byte(i * 7)
	}
	c, err := secret.NewCipher(key)
	require.NoError(t, err)

	store := newFakeStore(c)
	audit := &fakeAudit{}
	provider := newMockProvider()

	svc := application.NewCredentialService(
		store,
		application.NewAuditRecorder(audit),
		application.NewProvisioningGateway(provider),
		application.NewSessionReconciler(provider, time.UTC),
		c,
		secret.Generator{Style: secret.StyleFriendly, Length: 16},
		application.NewKeyedMutex(),
		"sub",
	)

	return &harness{svc: svc, store: store, audit: audit, provider: provider, cipher: c}
}

// created creates a credential for serviceID and returns its id.
func (h *harness) created(t *testing.T, serviceID string) string {
	t.Helper()
	res, err := h.svc.CreateCredential(context.Background(), serviceID, admin, "")
	require.NoError(t, err)
	return res.ID
}

// provisioned creates and provisions a credential and returns its id.
func (h *harness) provisioned(t *testing.T, serviceID string) string {
	t.Helper()
	id := h.created(t, serviceID)
	_, err := h.svc.ProvisionCredential(context.Background(), id, admin, "")
	require.NoError(t, err)
	return id
}

var errBoom = errors.New("boom")
