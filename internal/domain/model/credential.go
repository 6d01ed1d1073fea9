package model

import "time"

// Envelope is the authenticated-encryption output for one secret value.
// Ciphertext, Nonce and AuthTag are stored separately; none of them is
// meaningful without the process encryption key.
type Envelope struct {
	Ciphertext []byte
	Nonce      []byte
	AuthTag    []byte
}

// IsZero reports whether the envelope carries no data at all.
func (e Envelope) IsZero() bool {
	return len(e.Ciphertext) == 0 && len(e.Nonce) == 0 && len(e.AuthTag) == 0
}

// Credential binds a subscriber service to an access username and the
// encrypted secret, plus the last confirmed provisioning state at the provider.
// RemoteSubscriberID is empty unless Status is StatusProvisioned.
type Credential struct {
	ID                 string
	ServiceID          string
	Username           string
	Envelope           Envelope
	Status             ProvisioningStatus
	RemoteSubscriberID string
	ProvisionAttempts  int
	CreatedAt          time.Time
	UpdatedAt          time.Time
	LastRevealedAt     *time.Time
	RevealCount        int64
}

// IsProvisioned returns true when the provider has confirmed the subscriber.
func (c Credential) IsProvisioned() bool {
	return c.Status == StatusProvisioned && c.RemoteSubscriberID != ""
}

// IsActive returns true for every state except the terminal deprovisioned one.
func (c Credential) IsActive() bool {
	return c.Status != StatusDeprovisioned
}
