package postgres

import (
	"time"

	"github.com/ericfisherdev/radcred/internal/domain/model"
)

type credentialModel struct {
	ID                 string    `gorm:"type:uuid;primaryKey"`
	ServiceID          string    `gorm:"not null"`
	Username           string    `gorm:"not null"`
	SecretCiphertext   []byte    `gorm:"type:bytea;not null"`
	SecretNonce        []byte    `gorm:"type:bytea;not null"`
	SecretAuthTag      []byte    `gorm:"type:bytea;not null"`
	ProvisioningStatus string    `gorm:"not null;default:pending;index:idx_credentials_status,priority:1"`
	RemoteSubscriberID *string   `gorm:"column:remote_subscriber_id"`
	ProvisionAttempts  int       `gorm:"not null;default:0"`
	CreatedAt          time.Time `gorm:"not null"`
	UpdatedAt          time.Time `gorm:"not null;index:idx_credentials_status,priority:2"`
	LastRevealedAt     *time.Time
	RevealCount        int64 `gorm:"not null;default:0"`
}

func (credentialModel) TableName() string { return "credentials" }

func (m credentialModel) toDomain() model.Credential {
	cred := model.Credential{
		ID:        m.ID,
		ServiceID: m.ServiceID,
		Username:  m.Username,
		Envelope: model.Envelope{
			Ciphertext: m.SecretCiphertext,
			Nonce:      m.SecretNonce,
			AuthTag:    m.SecretAuthTag,
		},
		Status:            model.ProvisioningStatus(m.ProvisioningStatus),
		ProvisionAttempts: m.ProvisionAttempts,
		CreatedAt:         m.CreatedAt.UTC(),
		UpdatedAt:         m.UpdatedAt.UTC(),
		RevealCount:       m.RevealCount,
	}
	if m.RemoteSubscriberID != nil {
		cred.RemoteSubscriberID = *m.RemoteSubscriberID
	}
	if m.LastRevealedAt != nil {
		at := m.LastRevealedAt.UTC()
		cred.LastRevealedAt = &at
	}
	return cred
}

type auditEntryModel struct {
	ID             string    `gorm:"type:uuid;primaryKey"`
	CredentialID   string    `gorm:"type:uuid;not null;index:idx_audit_entries_credential,priority:1"`
	ActorID        string    `gorm:"not null"`
	Action         string    `gorm:"not null"`
	OccurredAt     time.Time `gorm:"not null;index:idx_audit_entries_credential,priority:2"`
	ActorIPAddress string    `gorm:"not null;default:''"`
	ReasonNote     string    `gorm:"not null;default:''"`

	Credential credentialModel `gorm:"foreignKey:CredentialID;references:ID;constraint:OnDelete:RESTRICT"`
}

func (auditEntryModel) TableName() string { return "audit_entries" }

func auditEntryModelFromDomain(e model.AuditEntry) auditEntryModel {
	return auditEntryModel{
		ID:             e.ID,
		CredentialID:   e.CredentialID,
		ActorID:        e.ActorID,
		Action:         string(e.Action),
		OccurredAt:     e.Timestamp.UTC(),
		ActorIPAddress: e.ActorIPAddress,
		ReasonNote:     e.ReasonNote,
	}
}

func (m auditEntryModel) toDomain() model.AuditEntry {
	return model.AuditEntry{
		ID:             m.ID,
		CredentialID:   m.CredentialID,
		ActorID:        m.ActorID,
		Action:         model.AuditAction(m.Action),
		Timestamp:      m.OccurredAt.UTC(),
		ActorIPAddress: m.ActorIPAddress,
		ReasonNote:     m.ReasonNote,
	}
}
