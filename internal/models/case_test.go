package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePriority(t *testing.T) {
	assert.Equal(t, PriorityLow, ParsePriority("low"))
	assert.Equal(t, PriorityHigh, ParsePriority(" High "))
	assert.Equal(t, PriorityUrgent, ParsePriority("URGENT"))
	assert.Equal(t, PriorityNormal, ParsePriority("normal"))

	// Unrecognized values fall back to normal
	assert.Equal(t, PriorityNormal, ParsePriority("p1"))
	assert.Equal(t, PriorityNormal, ParsePriority(""))
}

func TestCaseValidate(t *testing.T) {
	c := &Case{TenantID: "t1", QueueID: "q1", Title: "printer on fire"}
	assert.NoError(t, c.Validate())

	missing := &Case{QueueID: "q1", Title: "x"}
	assert.Error(t, missing.Validate())

	blank := &Case{TenantID: "t1", QueueID: "q1", Title: "   "}
	assert.Error(t, blank.Validate())
}

func TestCaseTruncate(t *testing.T) {
	c := &Case{
		Title:       strings.Repeat("a", 300),
		Description: strings.Repeat("b", 6000),
	}
	c.Truncate()
	assert.Len(t, c.Title, MaxTitleLen)
	assert.Len(t, c.Description, MaxDescriptionLen)

	// Multi-byte text is cut on rune boundaries
	c2 := &Case{Title: strings.Repeat("é", 300)}
	c2.Truncate()
	assert.Equal(t, MaxTitleLen, len([]rune(c2.Title)))
}

func TestExternalRef(t *testing.T) {
	e := &InboundEvent{Channel: ChannelMailboxPoll, NativeID: "18c2a"}
	assert.Equal(t, "mailbox:18c2a", e.ExternalRef())

	e.Channel = ChannelSheetWebhook
	assert.Equal(t, "sheet:18c2a", e.ExternalRef())
}

func TestIntegrationValidate(t *testing.T) {
	i := &Integration{TenantID: "t1", Channel: ChannelMailboxPoll, DefaultQueueID: "q1"}
	assert.NoError(t, i.Validate())

	i.Channel = "carrier-pigeon"
	assert.Error(t, i.Validate())
}
