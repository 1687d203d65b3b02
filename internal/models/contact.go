package models

import "time"

// Contact is a requester record. Email is unique per tenant.
type Contact struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}
