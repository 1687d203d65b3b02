package store

import (
	"sort"
	"sync"
	"time"

	"github.com/GilMM/caseflow/internal/errors"
	"github.com/GilMM/caseflow/internal/models"
)

// MemoryStore provides in-memory storage for the ingestion pipeline.
// It is thread-safe and supports concurrent access.
type MemoryStore struct {
	mu           sync.RWMutex
	integrations map[string]*models.Integration // key: tenantID + "/" + channel
	credentials  map[string]*models.Credential  // key: tenantID
	contacts     map[string]*models.Contact     // key: contact ID
	cases        map[string]*models.Case        // key: case ID
	caseRefs     map[string]string              // key: tenantID + "/" + externalRef, value: case ID
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		integrations: make(map[string]*models.Integration),
		credentials:  make(map[string]*models.Credential),
		contacts:     make(map[string]*models.Contact),
		cases:        make(map[string]*models.Case),
		caseRefs:     make(map[string]string),
	}
}

func integrationKey(tenantID string, channel models.ChannelKind) string {
	return tenantID + "/" + string(channel)
}

// Integration operations

// GetIntegration retrieves a tenant's integration for a channel
func (s *MemoryStore) GetIntegration(tenantID string, channel models.ChannelKind) (*models.Integration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	in, ok := s.integrations[integrationKey(tenantID, channel)]
	if !ok {
		return nil, false
	}
	copied := *in
	return &copied, true
}

// SetIntegration stores or updates an integration
func (s *MemoryStore) SetIntegration(in *models.Integration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := integrationKey(in.TenantID, in.Channel)
	now := time.Now().UTC()
	copied := *in
	if existing, ok := s.integrations[key]; ok {
		copied.CreatedAt = existing.CreatedAt
		copied.ProcessedCount = existing.ProcessedCount
		copied.LastPolledAt = existing.LastPolledAt
		copied.LastError = existing.LastError
	} else {
		copied.CreatedAt = now
	}
	copied.UpdatedAt = now
	s.integrations[key] = &copied
	return nil
}

// SetIntegrationEnabled flips the enabled flag for a tenant's channel.
// Disabling clears the recorded error but keeps the cursor, so a later
// re-enable resumes rather than resyncing.
func (s *MemoryStore) SetIntegrationEnabled(tenantID string, channel models.ChannelKind, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, ok := s.integrations[integrationKey(tenantID, channel)]
	if !ok {
		return errors.ErrNotConnected
	}
	in.Enabled = enabled
	if !enabled {
		in.LastError = nil
	}
	in.UpdatedAt = time.Now().UTC()
	return nil
}

// ListEnabledIntegrations returns enabled integrations for a channel,
// ordered by tenant for a stable sweep order
func (s *MemoryStore) ListEnabledIntegrations(channel models.ChannelKind) []*models.Integration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Integration
	for _, in := range s.integrations {
		if in.Channel == channel && in.Enabled {
			copied := *in
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].TenantID < result[j].TenantID })
	return result
}

// ListIntegrations returns all of a tenant's integrations
func (s *MemoryStore) ListIntegrations(tenantID string) []*models.Integration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Integration
	for _, in := range s.integrations {
		if in.TenantID == tenantID {
			copied := *in
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Channel < result[j].Channel })
	return result
}

// FindIntegrationBySecret resolves a push integration from its shared secret
func (s *MemoryStore) FindIntegrationBySecret(channel models.ChannelKind, secret string) (*models.Integration, bool) {
	if secret == "" {
		return nil, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, in := range s.integrations {
		if in.Channel == channel && in.Enabled && in.WebhookSecret == secret {
			copied := *in
			return &copied, true
		}
	}
	return nil, false
}

// RecordSyncOutcome writes per-pass bookkeeping back onto an integration.
// A nil outcome cursor leaves the stored cursor untouched.
func (s *MemoryStore) RecordSyncOutcome(tenantID string, channel models.ChannelKind, outcome models.SyncOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, ok := s.integrations[integrationKey(tenantID, channel)]
	if !ok {
		return errors.ErrNotConnected
	}
	if outcome.Cursor != nil {
		in.Cursor = outcome.Cursor
	}
	polledAt := outcome.PolledAt
	in.LastPolledAt = &polledAt
	in.ProcessedCount += outcome.CreatedDelta
	in.LastError = outcome.LastError
	in.UpdatedAt = time.Now().UTC()
	return nil
}

// Credential operations

// GetCredential retrieves the stored token material for a tenant
func (s *MemoryStore) GetCredential(tenantID string) (*models.Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.credentials[tenantID]
	if !ok {
		return nil, false
	}
	copied := *cred
	return &copied, true
}

// PutCredential stores or replaces the token material for a tenant
func (s *MemoryStore) PutCredential(cred *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *cred
	copied.UpdatedAt = time.Now().UTC()
	s.credentials[cred.TenantID] = &copied
	return nil
}

// UpdateTokens replaces the access token after a refresh. A nil refresh
// token preserves the one already stored.
func (s *MemoryStore) UpdateTokens(tenantID string, accessToken, refreshToken []byte, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.credentials[tenantID]
	if !ok {
		return errors.ErrNotConnected
	}
	cred.AccessToken = accessToken
	if refreshToken != nil {
		cred.RefreshToken = refreshToken
	}
	cred.ExpiresAt = expiresAt
	cred.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteCredential removes a tenant's token material
func (s *MemoryStore) DeleteCredential(tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.credentials, tenantID)
	return nil
}

// Contact operations

// FindContactByEmail looks up a contact by its tenant-scoped email
func (s *MemoryStore) FindContactByEmail(tenantID, email string) (*models.Contact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, contact := range s.contacts {
		if contact.TenantID == tenantID && contact.Email == email {
			copied := *contact
			return &copied, true
		}
	}
	return nil, false
}

// InsertContact stores a new contact
func (s *MemoryStore) InsertContact(contact *models.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *contact
	s.contacts[contact.ID] = &copied
	return nil
}

// SetContactName fills in a contact's display name
func (s *MemoryStore) SetContactName(id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if contact, ok := s.contacts[id]; ok {
		contact.Name = name
	}
	return nil
}

// Case operations

// FindCaseByExternalRef looks up a case by its tenant-scoped external reference
func (s *MemoryStore) FindCaseByExternalRef(tenantID, externalRef string) (*models.Case, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.caseRefs[tenantID+"/"+externalRef]
	if !ok {
		return nil, false
	}
	c, ok := s.cases[id]
	if !ok {
		return nil, false
	}
	copied := *c
	return &copied, true
}

// InsertCase stores a new case. A second insert with the same tenant-scoped
// external reference returns ErrDuplicateCase.
func (s *MemoryStore) InsertCase(c *models.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ExternalRef != nil {
		refKey := c.TenantID + "/" + *c.ExternalRef
		if _, exists := s.caseRefs[refKey]; exists {
			return errors.ErrDuplicateCase
		}
		s.caseRefs[refKey] = c.ID
	}
	copied := *c
	s.cases[c.ID] = &copied
	return nil
}

// GetCase retrieves a case by ID
func (s *MemoryStore) GetCase(id string) (*models.Case, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cases[id]
	if !ok {
		return nil, false
	}
	copied := *c
	return &copied, true
}

// Clear removes all data from the store
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.integrations = make(map[string]*models.Integration)
	s.credentials = make(map[string]*models.Credential)
	s.contacts = make(map[string]*models.Contact)
	s.cases = make(map[string]*models.Case)
	s.caseRefs = make(map[string]string)
}

// Stats returns statistics about the store
func (s *MemoryStore) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return StoreStats{
		IntegrationCount: len(s.integrations),
		CredentialCount:  len(s.credentials),
		ContactCount:     len(s.contacts),
		CaseCount:        len(s.cases),
	}
}

// Close shuts down the store
func (s *MemoryStore) Close() error {
	return nil
}

// Ensure MemoryStore implements the Store interface
var _ Store = (*MemoryStore)(nil)
