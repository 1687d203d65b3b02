package models

import "time"

// Credential stores the OAuth token material for a tenant's mailbox
// connection. Token fields hold sealed (encrypted) bytes; only the vault
// package reads or writes them in the clear.
type Credential struct {
	TenantID      string    `json:"tenant_id"`
	AccessToken   []byte    `json:"-"`
	RefreshToken  []byte    `json:"-"`
	ExpiresAt     time.Time `json:"expires_at"`
	ProviderEmail string    `json:"provider_email,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HasRefreshToken reports whether a refresh token is stored.
func (c *Credential) HasRefreshToken() bool {
	return len(c.RefreshToken) > 0
}

// UsableAt reports whether the access token is still usable at the given
// instant, allowing for the safety margin before the recorded expiry.
func (c *Credential) UsableAt(now time.Time, margin time.Duration) bool {
	return c.ExpiresAt.After(now.Add(margin))
}
