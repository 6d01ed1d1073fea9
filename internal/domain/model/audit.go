package model

import "time"

// AuditEntry is one immutable record of a sensitive operation on a credential.
// It never carries secret material.
type AuditEntry struct {
	ID             string
	CredentialID   string
	ActorID        string
	Action         AuditAction
	Timestamp      time.Time
	ActorIPAddress string
	ReasonNote     string
}

// Actor identifies who performed an operation and from where.
type Actor struct {
	ID        string
	IPAddress string
}

// SystemActor is used for operations initiated by the service itself, such as
// the scheduled provisioning retry sweep.
var SystemActor = Actor{ID: "system", IPAddress: ""}
