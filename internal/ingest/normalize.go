package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/GilMM/caseflow/internal/errors"
	"github.com/GilMM/caseflow/internal/mailbox"
	"github.com/GilMM/caseflow/internal/models"
	"github.com/GilMM/caseflow/pkg/mailaddr"
)

// fallbackTitle is used when a message carries no subject.
const fallbackTitle = "(no subject)"

// EventFromMailbox converts a fetched mail message into the canonical
// event shape. Body falls back to the provider snippet when no MIME part
// decoded.
func EventFromMailbox(msg *mailbox.Message) *models.InboundEvent {
	email, name := mailaddr.Parse(msg.From)

	title := strings.TrimSpace(msg.Subject)
	if title == "" {
		title = fallbackTitle
	}

	body := msg.Body
	if body == "" {
		body = msg.Snippet
	}

	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	return &models.InboundEvent{
		Channel:     models.ChannelMailboxPoll,
		NativeID:    msg.ID,
		Title:       title,
		Body:        body,
		SenderEmail: email,
		SenderName:  name,
		Priority:    models.PriorityNormal,
		ReceivedAt:  receivedAt,
	}
}

// RelayPayload carries the fields of a forwarded-email webhook form.
type RelayPayload struct {
	Recipient string
	From      string
	Subject   string
	BodyPlain string
	MessageID string
}

// EventFromRelay resolves the tenant from the recipient's org_<uuid> local
// part and converts the form into a canonical event. Fails closed when the
// recipient does not match the addressing convention.
func EventFromRelay(p RelayPayload) (string, *models.InboundEvent, error) {
	tenantID := mailaddr.TenantID(p.Recipient)
	if tenantID == "" {
		return "", nil, errors.ErrUnresolvedTenant
	}

	email, name := mailaddr.Parse(p.From)

	title := strings.TrimSpace(p.Subject)
	if title == "" {
		title = fallbackTitle
	}

	return tenantID, &models.InboundEvent{
		Channel:     models.ChannelEmailRelay,
		NativeID:    relayNativeID(p),
		Title:       title,
		Body:        p.BodyPlain,
		SenderEmail: email,
		SenderName:  name,
		Priority:    models.PriorityNormal,
		ReceivedAt:  time.Now().UTC(),
	}, nil
}

// relayNativeID prefers the relay's Message-Id; without one, a digest of
// the content keeps redelivered webhooks deduplicable.
func relayNativeID(p RelayPayload) string {
	if id := strings.Trim(strings.TrimSpace(p.MessageID), "<>"); id != "" {
		return id
	}
	sum := sha256.Sum256([]byte(p.From + "\x00" + p.Subject + "\x00" + p.BodyPlain))
	return hex.EncodeToString(sum[:16])
}

// SheetRow is the JSON body of a spreadsheet webhook delivery.
type SheetRow struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	Reporter    string `json:"reporter"`
	Email       string `json:"email"`
	Status      string `json:"status"`
	ExternalRef string `json:"external_ref"`
}

// EventFromSheetRow converts an already-structured row into a canonical
// event. Title and external_ref are required; unknown priorities fall back
// to normal.
func EventFromSheetRow(row SheetRow) (*models.InboundEvent, error) {
	title := strings.TrimSpace(row.Title)
	if title == "" {
		return nil, fmt.Errorf("sheet row missing title")
	}
	ref := strings.TrimSpace(row.ExternalRef)
	if ref == "" {
		return nil, fmt.Errorf("sheet row missing external_ref")
	}

	email, name := mailaddr.Parse(strings.TrimSpace(row.Email))
	if name == "" {
		name = strings.TrimSpace(row.Reporter)
	}

	return &models.InboundEvent{
		Channel:     models.ChannelSheetWebhook,
		NativeID:    ref,
		Title:       title,
		Body:        row.Description,
		SenderEmail: email,
		SenderName:  name,
		Priority:    models.ParsePriority(row.Priority),
		ReceivedAt:  time.Now().UTC(),
	}, nil
}
