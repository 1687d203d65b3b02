package mailbox

import (
	"context"
	"time"
)

// Message is a fetched mail message reduced to what the pipeline needs.
type Message struct {
	ID         string
	Subject    string
	From       string
	Body       string
	Snippet    string
	ReceivedAt time.Time
}

// Listing is the id set produced by one sync pass. Cursor is the watermark
// to persist once every listed message has been processed.
type Listing struct {
	IDs    []string
	Cursor string
}

// Provider abstracts the mailbox API consumed by the sync engine. Listing
// calls return ids only; bodies are fetched per message with GetMessage so
// already-ingested messages cost no extra API calls.
type Provider interface {
	// FullListing lists recent inbox message ids and returns the current
	// watermark as the cursor.
	FullListing(ctx context.Context, pageSize int64) (*Listing, error)

	// HistoryDiff lists ids of messages that arrived after the given
	// cursor. Returns errors.ErrCursorExpired when the provider no
	// longer recognizes the cursor.
	HistoryDiff(ctx context.Context, cursor string, pageSize int64) (*Listing, error)

	// GetMessage fetches one full message.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// Watermark reads the provider's current cursor without listing.
	Watermark(ctx context.Context) (string, error)
}

// Factory builds a Provider bound to a tenant's access token.
type Factory func(ctx context.Context, accessToken string) (Provider, error)
