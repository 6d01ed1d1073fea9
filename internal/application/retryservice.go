package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ericfisherdev/radcred/internal/domain/model"
	"github.com/ericfisherdev/radcred/internal/domain/port/driven"
)

// provisioner is the part of CredentialService the sweep drives.
type provisioner interface {
	ProvisionCredential(ctx context.Context, id string, actor model.Actor, reason string) (ProvisionResult, error)
}

// RetryPolicy bounds the provisioning retry sweep.
type RetryPolicy struct {
	Interval    time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Attempted int
	Succeeded int
	Waiting   int
	Exhausted int
}

// RetryService periodically re-attempts provisioning of failed credentials
// with exponential backoff. It is the only place provisioning is retried.
type RetryService struct {
	store  driven.CredentialStore
	prov   provisioner
	policy RetryPolicy
	now    func() time.Time
}

// NewRetryService creates a new RetryService.
func NewRetryService(store driven.CredentialStore, prov provisioner, policy RetryPolicy) *RetryService {
	return &RetryService{store: store, prov: prov, policy: policy, now: time.Now}
}

// Start runs a sweep immediately and then on every interval until ctx is canceled.
func (s *RetryService) Start(ctx context.Context) {
	s.sweepAndLog(ctx)

	ticker := time.NewTicker(s.policy.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("retry service stopped")
			return
		case <-ticker.C:
			s.sweepAndLog(ctx)
		}
	}
}

func (s *RetryService) sweepAndLog(ctx context.Context) {
	res, err := s.Sweep(ctx)
	if err != nil {
		slog.Error("retry sweep failed", "error", err)
		return
	}
	if res.Attempted > 0 || res.Exhausted > 0 {
		slog.Info("retry sweep complete",
			"attempted", res.Attempted, "succeeded", res.Succeeded,
			"waiting", res.Waiting, "exhausted", res.Exhausted)
	}
}

// Sweep retries every failed credential whose backoff delay has elapsed.
// Credentials that used up MaxAttempts are left for an operator.
func (s *RetryService) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	failed, err := s.store.ListByStatus(ctx, model.StatusFailed)
	if err != nil {
		return res, fmt.Errorf("list failed credentials: %w", err)
	}

	now := s.now()
	for _, cred := range failed {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		if cred.ProvisionAttempts >= s.policy.MaxAttempts {
			res.Exhausted++
			continue
		}
		if now.Before(cred.UpdatedAt.Add(s.Delay(cred.ProvisionAttempts))) {
			res.Waiting++
			continue
		}

		res.Attempted++
		reason := fmt.Sprintf("retry sweep attempt %d", cred.ProvisionAttempts+1)
		if _, err := s.prov.ProvisionCredential(ctx, cred.ID, model.SystemActor, reason); err != nil {
			slog.Warn("retry attempt failed",
				"credential_id", cred.ID, "attempt", cred.ProvisionAttempts+1, "error", err)
			continue
		}
		res.Succeeded++
	}

	return res, nil
}

// Delay is the wait after the given number of failed attempts:
// BaseDelay * 2^(attempts-1), capped at MaxDelay.
func (s *RetryService) Delay(attempts int) time.Duration {
	if attempts <= 0 {
		return 0
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.policy.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = s.policy.MaxDelay
	b.MaxElapsedTime = 0
	b.Reset()

	var d time.Duration
	for range attempts {
		d = b.NextBackOff()
	}
	return d
}
