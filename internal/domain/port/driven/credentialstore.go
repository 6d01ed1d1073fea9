package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/radcred/internal/domain/model"
)

// CredentialStore defines the driven port for credential persistence.
// The adapter generates and encrypts secrets itself; plaintext only crosses
// this boundary on the way in (ReplaceSecret), never on the way out.
type CredentialStore interface {
	// Create inserts a pending credential for serviceID with a freshly generated
	// secret. Returns errs.ErrActiveCredentialExists if the service already has a
	// credential that is not deprovisioned.
	Create(ctx context.Context, serviceID, username string) (model.Credential, error)

	// GetByID returns the credential with the given id, or an errs.NotFoundError.
	GetByID(ctx context.Context, id string) (model.Credential, error)

	// GetByService returns the non-deprovisioned credential for serviceID.
	// Returns (nil, nil) when the service has none.
	GetByService(ctx context.Context, serviceID string) (*model.Credential, error)

	// UpdateStatus moves the credential to status. remoteSubscriberID must be
	// non-empty for StatusProvisioned and is discarded for every other status.
	// Returns errs.ErrInvalidTransition for illegal state changes.
	UpdateStatus(ctx context.Context, id string, status model.ProvisioningStatus, remoteSubscriberID string) error

	// ReplaceSecret encrypts plaintext and swaps it in as the credential's envelope.
	ReplaceSecret(ctx context.Context, id, plaintext string) (model.Envelope, error)

	// RecordReveal increments the reveal counter and sets the last reveal time.
	RecordReveal(ctx context.Context, id string, at time.Time) (model.Credential, error)

	// ListByStatus returns all credentials in the given status, oldest update first.
	ListByStatus(ctx context.Context, status model.ProvisioningStatus) ([]model.Credential, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
}
