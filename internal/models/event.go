package models

import (
	"fmt"
	"time"
)

// InboundEvent is the canonical shape every channel parser produces. It is
// ephemeral: constructed per message/row/webhook call and never persisted.
type InboundEvent struct {
	Channel     ChannelKind
	NativeID    string
	Title       string
	Body        string
	SenderEmail string
	SenderName  string
	Priority    CasePriority
	ReceivedAt  time.Time
}

// ExternalRef derives the per-tenant dedup key for this event.
func (e *InboundEvent) ExternalRef() string {
	return fmt.Sprintf("%s:%s", channelRefTag(e.Channel), e.NativeID)
}

func channelRefTag(c ChannelKind) string {
	switch c {
	case ChannelMailboxPoll:
		return "mailbox"
	case ChannelEmailRelay:
		return "relay"
	case ChannelSheetWebhook:
		return "sheet"
	default:
		return string(c)
	}
}
