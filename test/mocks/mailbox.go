package mocks

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/GilMM/caseflow/internal/errors"
	"github.com/GilMM/caseflow/internal/mailbox"
)

// FakeMailbox implements mailbox.Provider against an in-memory inbox.
// The watermark is a monotonically increasing sequence number that bumps
// on every delivered message, mimicking a history-id style cursor.
type FakeMailbox struct {
	mu       sync.Mutex
	seq      int
	messages map[string]*mailbox.Message
	arrival  map[string]int
	inbox    []string
	expired  bool

	FullCalls int
	DiffCalls int
	GetCalls  int
}

// NewFakeMailbox creates an empty fake mailbox.
func NewFakeMailbox() *FakeMailbox {
	return &FakeMailbox{
		seq:      100,
		messages: make(map[string]*mailbox.Message),
		arrival:  make(map[string]int),
	}
}

// Deliver places a message in the inbox and advances the watermark.
func (f *FakeMailbox) Deliver(id, from, subject, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.messages[id] = &mailbox.Message{
		ID:         id,
		Subject:    subject,
		From:       from,
		Body:       body,
		ReceivedAt: time.Now().UTC(),
	}
	f.arrival[id] = f.seq
	f.inbox = append(f.inbox, id)
}

// ExpireCursor makes the next HistoryDiff fail with a cursor-expired
// error, as a provider does when its history window has been pruned.
func (f *FakeMailbox) ExpireCursor() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired = true
}

func (f *FakeMailbox) FullListing(ctx context.Context, pageSize int64) (*mailbox.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FullCalls++
	ids := make([]string, len(f.inbox))
	copy(ids, f.inbox)
	return &mailbox.Listing{IDs: ids, Cursor: strconv.Itoa(f.seq)}, nil
}

func (f *FakeMailbox) HistoryDiff(ctx context.Context, cursor string, pageSize int64) (*mailbox.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DiffCalls++
	if f.expired {
		f.expired = false
		return nil, errors.ErrCursorExpired
	}
	after, err := strconv.Atoi(cursor)
	if err != nil {
		return nil, errors.ErrCursorExpired
	}
	var ids []string
	for _, id := range f.inbox {
		if f.arrival[id] > after {
			ids = append(ids, id)
		}
	}
	return &mailbox.Listing{IDs: ids, Cursor: strconv.Itoa(f.seq)}, nil
}

func (f *FakeMailbox) GetMessage(ctx context.Context, id string) (*mailbox.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.GetCalls++
	msg, ok := f.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %s not found", id)
	}
	return msg, nil
}

func (f *FakeMailbox) Watermark(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strconv.Itoa(f.seq), nil
}

var _ mailbox.Provider = (*FakeMailbox)(nil)
