package model

// ProvisioningStatus is the remote provisioning state of a credential.
type ProvisioningStatus string

const (
	StatusPending       ProvisioningStatus = "pending"
	StatusProvisioned   ProvisioningStatus = "provisioned"
	StatusFailed        ProvisioningStatus = "failed"
	StatusDeprovisioned ProvisioningStatus = "deprovisioned"
)

// Valid reports whether s is one of the known statuses.
func (s ProvisioningStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProvisioned, StatusFailed, StatusDeprovisioned:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether moving from s to next is a legal state change.
// Deprovisioned is terminal: a service that needs access again gets a new row.
func (s ProvisioningStatus) CanTransitionTo(next ProvisioningStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProvisioned || next == StatusFailed || next == StatusDeprovisioned
	case StatusFailed:
		return next == StatusProvisioned || next == StatusFailed || next == StatusDeprovisioned
	case StatusProvisioned:
		return next == StatusProvisioned || next == StatusFailed || next == StatusDeprovisioned
	default:
		return false
	}
}

// AuditAction names a sensitive operation recorded in the audit trail.
type AuditAction string

const (
	AuditCreated         AuditAction = "created"
	AuditRevealed        AuditAction = "revealed"
	AuditRegenerated     AuditAction = "regenerated"
	AuditProvisioned     AuditAction = "provisioned"
	AuditDeprovisioned   AuditAction = "deprovisioned"
	AuditProvisionFailed AuditAction = "provision_failed"
)

// Valid reports whether a is one of the known audit actions.
func (a AuditAction) Valid() bool {
	switch a {
	case AuditCreated, AuditRevealed, AuditRegenerated, AuditProvisioned, AuditDeprovisioned, AuditProvisionFailed:
		return true
	default:
		return false
	}
}
