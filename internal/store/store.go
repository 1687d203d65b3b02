package store

import (
	"time"

	"github.com/GilMM/caseflow/internal/models"
)

// StoreStats contains statistics about the store
type StoreStats struct {
	IntegrationCount int
	CredentialCount  int
	ContactCount     int
	CaseCount        int
}

// Store defines the interface for pipeline storage
type Store interface {
	// Integration operations
	GetIntegration(tenantID string, channel models.ChannelKind) (*models.Integration, bool)
	SetIntegration(in *models.Integration) error
	SetIntegrationEnabled(tenantID string, channel models.ChannelKind, enabled bool) error
	ListEnabledIntegrations(channel models.ChannelKind) []*models.Integration
	ListIntegrations(tenantID string) []*models.Integration
	FindIntegrationBySecret(channel models.ChannelKind, secret string) (*models.Integration, bool)
	RecordSyncOutcome(tenantID string, channel models.ChannelKind, outcome models.SyncOutcome) error

	// Credential operations
	GetCredential(tenantID string) (*models.Credential, bool)
	PutCredential(cred *models.Credential) error
	UpdateTokens(tenantID string, accessToken, refreshToken []byte, expiresAt time.Time) error
	DeleteCredential(tenantID string) error

	// Contact operations
	FindContactByEmail(tenantID, email string) (*models.Contact, bool)
	InsertContact(contact *models.Contact) error
	SetContactName(id, name string) error

	// Case operations
	FindCaseByExternalRef(tenantID, externalRef string) (*models.Case, bool)
	InsertCase(c *models.Case) error
	GetCase(id string) (*models.Case, bool)

	// Management
	Clear()
	Stats() StoreStats
	Close() error
}
