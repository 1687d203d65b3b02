package models

import (
	"fmt"
	"time"
)

// ChannelKind identifies one of the inbound integration channels.
type ChannelKind string

const (
	ChannelMailboxPoll  ChannelKind = "mailbox-poll"
	ChannelEmailRelay   ChannelKind = "email-relay"
	ChannelSheetWebhook ChannelKind = "sheet-webhook"
)

// Valid reports whether the channel kind is one of the known channels.
func (c ChannelKind) Valid() bool {
	switch c {
	case ChannelMailboxPoll, ChannelEmailRelay, ChannelSheetWebhook:
		return true
	}
	return false
}

// Integration represents one tenant's configuration for one inbound channel.
// There is at most one row per (tenant, channel).
type Integration struct {
	ID             string      `json:"id"`
	TenantID       string      `json:"tenant_id"`
	Channel        ChannelKind `json:"channel"`
	Enabled        bool        `json:"enabled"`
	DefaultQueueID string      `json:"default_queue_id"`

	// Cursor is the provider-issued watermark for incremental sync
	// (Gmail historyId for the mailbox channel). Nil means no sync pass
	// has completed yet and the next pass performs a full listing.
	Cursor *string `json:"cursor,omitempty"`

	// WebhookSecret is the per-tenant shared secret for push channels.
	WebhookSecret string `json:"webhook_secret,omitempty"`

	// CreateRule gates case creation for the sheet channel: a case is
	// created only when the incoming row status equals this value.
	CreateRule string `json:"create_rule,omitempty"`

	LastPolledAt   *time.Time `json:"last_polled_at,omitempty"`
	ProcessedCount int64      `json:"processed_count"`
	LastError      *string    `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks if the integration is valid.
func (i *Integration) Validate() error {
	if i.TenantID == "" {
		return fmt.Errorf("tenant ID is required")
	}
	if !i.Channel.Valid() {
		return fmt.Errorf("unknown channel: %s", i.Channel)
	}
	if i.DefaultQueueID == "" {
		return fmt.Errorf("default queue ID is required")
	}
	return nil
}

// SyncOutcome is the per-pass state written back onto an Integration
// after a sweep or a push delivery.
type SyncOutcome struct {
	Cursor       *string
	PolledAt     time.Time
	CreatedDelta int64
	LastError    *string
}
