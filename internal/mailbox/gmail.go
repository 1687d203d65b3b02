package mailbox

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/mail"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/GilMM/caseflow/internal/errors"
)

// GmailProvider fetches messages through the Gmail API. Cursors are Gmail
// history IDs rendered as decimal strings.
type GmailProvider struct {
	svc *gmail.Service
}

// NewGmailProvider builds a provider from a bare access token.
func NewGmailProvider(ctx context.Context, accessToken string) (Provider, error) {
	svc, err := gmail.NewService(ctx, option.WithTokenSource(
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}),
	))
	if err != nil {
		return nil, &errors.ErrProvider{Operation: "new service", Err: err}
	}
	return &GmailProvider{svc: svc}, nil
}

// FullListing lists recent inbox message ids and takes the mailbox's
// current history ID as the watermark.
func (p *GmailProvider) FullListing(ctx context.Context, pageSize int64) (*Listing, error) {
	resp, err := p.svc.Users.Messages.List("me").LabelIds("INBOX").MaxResults(pageSize).Context(ctx).Do()
	if err != nil {
		return nil, &errors.ErrProvider{Operation: "list messages", Err: err}
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, ref := range resp.Messages {
		ids = append(ids, ref.Id)
	}

	cursor, err := p.Watermark(ctx)
	if err != nil {
		return nil, err
	}

	return &Listing{IDs: ids, Cursor: cursor}, nil
}

// HistoryDiff lists ids of messages added to the inbox since the cursor.
// The history response carries the next watermark.
func (p *GmailProvider) HistoryDiff(ctx context.Context, cursor string, pageSize int64) (*Listing, error) {
	startID, err := strconv.ParseUint(cursor, 10, 64)
	if err != nil {
		return nil, errors.ErrCursorExpired
	}

	resp, err := p.svc.Users.History.List("me").
		StartHistoryId(startID).
		HistoryTypes("messageAdded").
		LabelId("INBOX").
		MaxResults(pageSize).
		Context(ctx).Do()
	if err != nil {
		if apiErr, ok := err.(*googleapi.Error); ok && apiErr.Code == http.StatusNotFound {
			return nil, errors.ErrCursorExpired
		}
		return nil, &errors.ErrProvider{Operation: "list history", Err: err}
	}

	seen := make(map[string]bool)
	var ids []string
	for _, h := range resp.History {
		for _, added := range h.MessagesAdded {
			if added.Message == nil || seen[added.Message.Id] {
				continue
			}
			seen[added.Message.Id] = true
			ids = append(ids, added.Message.Id)
		}
	}

	return &Listing{
		IDs:    ids,
		Cursor: strconv.FormatUint(resp.HistoryId, 10),
	}, nil
}

// GetMessage fetches one full message.
func (p *GmailProvider) GetMessage(ctx context.Context, id string) (*Message, error) {
	full, err := p.svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, &errors.ErrProvider{Operation: fmt.Sprintf("get message %s", id), Err: err}
	}
	msg := convertMessage(full)
	return &msg, nil
}

// Watermark reads the mailbox's current history ID.
func (p *GmailProvider) Watermark(ctx context.Context) (string, error) {
	profile, err := p.svc.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return "", &errors.ErrProvider{Operation: "get profile", Err: err}
	}
	return strconv.FormatUint(profile.HistoryId, 10), nil
}

func convertMessage(msg *gmail.Message) Message {
	result := Message{ID: msg.Id, Snippet: msg.Snippet}

	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			// Header casing is not guaranteed across providers.
			switch {
			case strings.EqualFold(h.Name, "Subject"):
				result.Subject = h.Value
			case strings.EqualFold(h.Name, "From"):
				result.From = h.Value
			case strings.EqualFold(h.Name, "Date"):
				if t, err := mail.ParseDate(h.Value); err == nil {
					result.ReceivedAt = t.UTC()
				}
			}
		}
		result.Body = extractBody(msg.Payload)
	}

	return result
}

// extractBody walks the MIME tree and prefers text/plain over text/html.
func extractBody(part *gmail.MessagePart) string {
	var plain, html string
	var walk func(p *gmail.MessagePart)
	walk = func(p *gmail.MessagePart) {
		if p == nil {
			return
		}
		if p.Body != nil && p.Body.Data != "" {
			if data, err := base64.URLEncoding.DecodeString(p.Body.Data); err == nil {
				switch p.MimeType {
				case "text/plain":
					if plain == "" {
						plain = string(data)
					}
				case "text/html":
					if html == "" {
						html = string(data)
					}
				}
			}
		}
		for _, child := range p.Parts {
			walk(child)
		}
	}
	walk(part)

	if plain != "" {
		return plain
	}
	return html
}
