package models

import (
	"fmt"
	"strings"
	"time"
)

// CaseStatus represents the lifecycle state of a case.
type CaseStatus string

const (
	StatusNew        CaseStatus = "new"
	StatusInProgress CaseStatus = "in_progress"
	StatusWaiting    CaseStatus = "waiting"
	StatusResolved   CaseStatus = "resolved"
	StatusClosed     CaseStatus = "closed"
)

// CasePriority represents the urgency of a case.
type CasePriority string

const (
	PriorityLow    CasePriority = "low"
	PriorityNormal CasePriority = "normal"
	PriorityHigh   CasePriority = "high"
	PriorityUrgent CasePriority = "urgent"
)

// ParsePriority normalizes a raw priority value. Unrecognized values fall
// back to normal rather than failing the whole event.
func ParsePriority(raw string) CasePriority {
	switch CasePriority(strings.ToLower(strings.TrimSpace(raw))) {
	case PriorityLow:
		return PriorityLow
	case PriorityHigh:
		return PriorityHigh
	case PriorityUrgent:
		return PriorityUrgent
	case PriorityNormal:
		return PriorityNormal
	default:
		return PriorityNormal
	}
}

// Maximum lengths enforced before insert.
const (
	MaxTitleLen       = 255
	MaxDescriptionLen = 5000
)

// Case is a helpdesk case record. ExternalRef, when non-empty, is unique
// per tenant and is the serialization point for exactly-once ingestion.
type Case struct {
	ID          string       `json:"id"`
	TenantID    string       `json:"tenant_id"`
	QueueID     string       `json:"queue_id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Status      CaseStatus   `json:"status"`
	Priority    CasePriority `json:"priority"`
	ContactID   *string      `json:"contact_id,omitempty"`
	Source      string       `json:"source"`
	ExternalRef *string      `json:"external_ref,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Validate checks if the case is valid for insertion.
func (c *Case) Validate() error {
	if c.TenantID == "" {
		return fmt.Errorf("tenant ID is required")
	}
	if c.QueueID == "" {
		return fmt.Errorf("queue ID is required")
	}
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("title is required")
	}
	return nil
}

// Truncate clamps title and description to their maximum lengths. Counted
// in runes so multi-byte text is not cut mid-character.
func (c *Case) Truncate() {
	c.Title = truncateRunes(c.Title, MaxTitleLen)
	c.Description = truncateRunes(c.Description, MaxDescriptionLen)
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
