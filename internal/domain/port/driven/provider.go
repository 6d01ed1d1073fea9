package driven

import (
	"context"

	"github.com/ericfisherdev/radcred/internal/domain/model"
)

// ProviderClient defines the driven port for the external subscriber-management
// provider. Implementations map every failure into the errs taxonomy:
// errs.NotFoundError (resource "subscriber"), errs.UnauthorizedError,
// errs.TransientError or errs.RejectedError.
type ProviderClient interface {
	// CreateSubscriber creates a remote subscriber and returns its record.
	CreateSubscriber(ctx context.Context, params model.SubscriberParams) (model.RemoteSubscriber, error)

	// FindSubscriberByUsername returns the remote subscriber with the given
	// username, or (nil, nil) if the provider has none.
	FindSubscriberByUsername(ctx context.Context, username string) (*model.RemoteSubscriber, error)

	// GetSubscriber returns the remote subscriber's current status.
	GetSubscriber(ctx context.Context, remoteID string) (model.RemoteSubscriber, error)

	// UpdateSubscriberSecret replaces the secret of an existing remote subscriber.
	UpdateSubscriberSecret(ctx context.Context, remoteID, secret string) error

	// DeleteSubscriber removes the remote subscriber.
	DeleteSubscriber(ctx context.Context, remoteID string) error

	// ListSessions returns the accounting records for the subscriber whose
	// session started within window.
	ListSessions(ctx context.Context, remoteID string, window model.SessionWindow) ([]model.SessionRecord, error)
}
