package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ericfisherdev/radcred/internal/domain/errs"
	"github.com/ericfisherdev/radcred/internal/domain/model"
	"github.com/ericfisherdev/radcred/internal/domain/port/driven"
)

// ProvisioningGateway creates, updates and removes remote subscribers for a
// credential. It never retries; every error it returns is in the provider
// taxonomy of the errs package.
type ProvisioningGateway struct {
	client driven.ProviderClient
}

// NewProvisioningGateway creates a ProvisioningGateway over client.
func NewProvisioningGateway(client driven.ProviderClient) *ProvisioningGateway {
	return &ProvisioningGateway{client: client}
}

// Provision makes sure a remote subscriber exists for cred with plaintext as
// its secret and returns the remote id. A credential that already carries a
// remote id is returned as is without contacting the provider. Otherwise the
// provider is searched by username first, so a subscriber whose creation
// response was lost is adopted instead of duplicated.
func (g *ProvisioningGateway) Provision(ctx context.Context, cred model.Credential, plaintext string) (string, error) {
	if cred.RemoteSubscriberID != "" {
		return cred.RemoteSubscriberID, nil
	}

	existing, err := g.client.FindSubscriberByUsername(ctx, cred.Username)
	if err != nil {
		return "", g.classify("find subscriber", cred, err)
	}

	if existing != nil {
		if err := g.client.UpdateSubscriberSecret(ctx, existing.ID, plaintext); err != nil {
			return "", g.classify("update subscriber secret", cred, err)
		}
		slog.Info("adopted existing remote subscriber",
			"credential_id", cred.ID, "username", cred.Username, "remote_subscriber_id", existing.ID)
		return existing.ID, nil
	}

	sub, err := g.client.CreateSubscriber(ctx, model.SubscriberParams{
		Username:   cred.Username,
		Secret:     plaintext,
		ServiceRef: cred.ServiceID,
	})
	if err != nil {
		return "", g.classify("create subscriber", cred, err)
	}
	return sub.ID, nil
}

// Reprovision pushes a new secret to the credential's existing remote subscriber.
func (g *ProvisioningGateway) Reprovision(ctx context.Context, cred model.Credential, plaintext string) error {
	if cred.RemoteSubscriberID == "" {
		return fmt.Errorf("reprovision credential %q: no remote subscriber: %w", cred.ID, errs.ErrInvalidTransition)
	}
	if err := g.client.UpdateSubscriberSecret(ctx, cred.RemoteSubscriberID, plaintext); err != nil {
		return g.classify("update subscriber secret", cred, err)
	}
	return nil
}

// Subscriber reads the credential's remote subscriber record.
func (g *ProvisioningGateway) Subscriber(ctx context.Context, cred model.Credential) (model.RemoteSubscriber, error) {
	if cred.RemoteSubscriberID == "" {
		return model.RemoteSubscriber{}, fmt.Errorf("subscriber of credential %q: no remote subscriber: %w", cred.ID, errs.ErrInvalidTransition)
	}
	sub, err := g.client.GetSubscriber(ctx, cred.RemoteSubscriberID)
	if err != nil {
		return model.RemoteSubscriber{}, g.classify("get subscriber", cred, err)
	}
	return sub, nil
}

// Deprovision removes the remote subscriber. A credential without a remote id
// has nothing to remove, and a subscriber the provider no longer knows counts
// as removed.
func (g *ProvisioningGateway) Deprovision(ctx context.Context, cred model.Credential) error {
	if cred.RemoteSubscriberID == "" {
		if cred.Status == model.StatusFailed {
			slog.Warn("deprovisioning failed credential without remote id; provider not contacted",
				"credential_id", cred.ID, "username", cred.Username)
		}
		return nil
	}

	err := g.client.DeleteSubscriber(ctx, cred.RemoteSubscriberID)
	if errs.IsRemoteNotFound(err) {
		slog.Info("remote subscriber already absent",
			"credential_id", cred.ID, "remote_subscriber_id", cred.RemoteSubscriberID)
		return nil
	}
	if err != nil {
		return g.classify("delete subscriber", cred, err)
	}
	return nil
}

// classify keeps taxonomy errors and turns anything else into a TransientError.
func (g *ProvisioningGateway) classify(op string, cred model.Credential, err error) error {
	if !errs.IsProviderError(err) {
		err = errs.NewTransientError(op, err)
	}
	if errs.IsUnauthorizedError(err) {
		slog.Error("provider rejected service credentials",
			"alarm", "provider_auth", "operation", op, "credential_id", cred.ID, "error", err)
	}
	return err
}
