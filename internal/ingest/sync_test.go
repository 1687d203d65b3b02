package ingest

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/GilMM/caseflow/internal/config"
	caseerrors "github.com/GilMM/caseflow/internal/errors"
	"github.com/GilMM/caseflow/internal/mailbox"
	"github.com/GilMM/caseflow/internal/models"
	"github.com/GilMM/caseflow/internal/store"
	"github.com/GilMM/caseflow/internal/vault"
)

const syncTestKeyHex = "6368616e676520746869732070617373776f726420746f206120736563726574"

// fakeProvider is a scripted mailbox for sync tests.
type fakeProvider struct {
	messages  map[string]*mailbox.Message
	inbox     []string
	history   map[string][]string
	expired   map[string]bool
	watermark string

	fullCalls int
	getCalls  int
	listErr   error
}

func (f *fakeProvider) FullListing(ctx context.Context, pageSize int64) (*mailbox.Listing, error) {
	f.fullCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return &mailbox.Listing{IDs: append([]string(nil), f.inbox...), Cursor: f.watermark}, nil
}

func (f *fakeProvider) HistoryDiff(ctx context.Context, cursor string, pageSize int64) (*mailbox.Listing, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	if f.expired[cursor] {
		return nil, caseerrors.ErrCursorExpired
	}
	return &mailbox.Listing{IDs: append([]string(nil), f.history[cursor]...), Cursor: f.watermark}, nil
}

func (f *fakeProvider) GetMessage(ctx context.Context, id string) (*mailbox.Message, error) {
	f.getCalls++
	msg, ok := f.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %s gone", id)
	}
	return msg, nil
}

func (f *fakeProvider) Watermark(ctx context.Context) (string, error) {
	return f.watermark, nil
}

func (f *fakeProvider) addMessage(id, subject string) {
	f.messages[id] = &mailbox.Message{
		ID:      id,
		Subject: subject,
		From:    "sender@example.com",
		Body:    "body of " + id,
	}
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		messages: make(map[string]*mailbox.Message),
		history:  make(map[string][]string),
		expired:  make(map[string]bool),
	}
}

func newTestEngine(t *testing.T, fp *fakeProvider) (*Engine, store.Store, *models.Integration) {
	t.Helper()
	s := store.NewMemoryStore()
	logger := testLogger()

	v, err := vault.NewVault(s, config.VaultConfig{
		EncryptionKey: syncTestKeyHex,
		TokenURL:      "http://127.0.0.1:0/token",
		RefreshMargin: time.Minute,
	}, logger, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Connect("t1", "access-token", "refresh-token", time.Now().Add(time.Hour), "t1@example.com"); err != nil {
		t.Fatal(err)
	}

	integration := &models.Integration{
		ID:             "i1",
		TenantID:       "t1",
		Channel:        models.ChannelMailboxPoll,
		Enabled:        true,
		DefaultQueueID: "q1",
	}
	if err := s.SetIntegration(integration); err != nil {
		t.Fatal(err)
	}

	factory := func(ctx context.Context, token string) (mailbox.Provider, error) { return fp, nil }
	cfg := config.IngestConfig{
		PageSize:        100,
		RetryAttempts:   0,
		RetryBackoff:    time.Millisecond,
		ProviderTimeout: time.Second,
	}
	creator := NewCaseCreator(s, NewContactResolver(s, logger), logger, nil)
	return NewEngine(s, v, factory, creator, cfg, logger, nil), s, integration
}

func storedIntegration(t *testing.T, s store.Store) *models.Integration {
	t.Helper()
	integration, ok := s.GetIntegration("t1", models.ChannelMailboxPoll)
	if !ok {
		t.Fatal("integration missing")
	}
	return integration
}

func TestRunPassFullThenIncremental(t *testing.T) {
	fp := newFakeProvider()
	fp.addMessage("m1", "First")
	fp.addMessage("m2", "Second")
	fp.inbox = []string{"m1", "m2"}
	fp.watermark = "100"

	engine, s, integration := newTestEngine(t, fp)

	result := engine.RunPass(context.Background(), integration)
	if result.Err != nil {
		t.Fatalf("pass failed: %v", result.Err)
	}
	if result.Mode != ModeFull {
		t.Errorf("mode = %s", result.Mode)
	}
	if result.Created != 2 {
		t.Errorf("created = %d", result.Created)
	}

	after := storedIntegration(t, s)
	if after.Cursor == nil || *after.Cursor != "100" {
		t.Fatalf("cursor = %v, want seeded to 100", after.Cursor)
	}
	if after.ProcessedCount != 2 {
		t.Errorf("processed count = %d", after.ProcessedCount)
	}
	if after.LastError != nil {
		t.Errorf("last error = %v", *after.LastError)
	}

	// New message arrives; the next pass diffs from the cursor.
	fp.addMessage("m3", "Third")
	fp.history["100"] = []string{"m3"}
	fp.watermark = "101"

	result = engine.RunPass(context.Background(), after)
	if result.Err != nil {
		t.Fatalf("pass failed: %v", result.Err)
	}
	if result.Mode != ModeIncremental {
		t.Errorf("mode = %s", result.Mode)
	}
	if result.Created != 1 {
		t.Errorf("created = %d", result.Created)
	}
	if fp.fullCalls != 1 {
		t.Errorf("full listings = %d, want only the first pass", fp.fullCalls)
	}

	after = storedIntegration(t, s)
	if after.Cursor == nil || *after.Cursor != "101" {
		t.Errorf("cursor = %v", after.Cursor)
	}
}

func TestRunPassSkipsSeenBeforeFetching(t *testing.T) {
	fp := newFakeProvider()
	fp.addMessage("m1", "First")
	fp.addMessage("m2", "Second")
	fp.inbox = []string{"m1", "m2"}
	fp.watermark = "100"

	engine, _, integration := newTestEngine(t, fp)

	// A case for m1 already exists, as after an interrupted pass whose
	// cursor write never happened.
	event := &models.InboundEvent{Channel: models.ChannelMailboxPoll, NativeID: "m1", Title: "First", Priority: models.PriorityNormal}
	if _, err := engine.creator.CreateIfAbsent("t1", "q1", event); err != nil {
		t.Fatal(err)
	}

	result := engine.RunPass(context.Background(), integration)
	if result.Err != nil {
		t.Fatalf("pass failed: %v", result.Err)
	}
	if result.Created != 1 || result.Skipped != 1 {
		t.Errorf("created = %d, skipped = %d", result.Created, result.Skipped)
	}
	if fp.getCalls != 1 {
		t.Errorf("message fetches = %d, want seen ids skipped before fetching", fp.getCalls)
	}
}

func TestRunPassCursorExpiredFallsBack(t *testing.T) {
	fp := newFakeProvider()
	fp.addMessage("m1", "First")
	fp.addMessage("m2", "Second")
	fp.inbox = []string{"m1", "m2"}
	fp.expired["42"] = true
	fp.watermark = "100"

	engine, s, integration := newTestEngine(t, fp)

	// m1 was ingested under the old cursor; the resync must not duplicate it.
	event := &models.InboundEvent{Channel: models.ChannelMailboxPoll, NativeID: "m1", Title: "First", Priority: models.PriorityNormal}
	if _, err := engine.creator.CreateIfAbsent("t1", "q1", event); err != nil {
		t.Fatal(err)
	}

	stale := "42"
	integration.Cursor = &stale
	result := engine.RunPass(context.Background(), integration)
	if result.Err != nil {
		t.Fatalf("pass failed: %v", result.Err)
	}
	if result.Mode != ModeResync {
		t.Errorf("mode = %s", result.Mode)
	}
	if result.Created != 1 || result.Skipped != 1 {
		t.Errorf("created = %d, skipped = %d", result.Created, result.Skipped)
	}

	after := storedIntegration(t, s)
	if after.Cursor == nil || *after.Cursor != "100" {
		t.Errorf("cursor = %v, want re-seeded", after.Cursor)
	}
	if s.Stats().CaseCount != 2 {
		t.Errorf("case count = %d, want no duplicates", s.Stats().CaseCount)
	}
}

func TestRunPassListingFailureKeepsCursor(t *testing.T) {
	fp := newFakeProvider()
	fp.listErr = fmt.Errorf("upstream down")
	engine, s, integration := newTestEngine(t, fp)

	cursor := "100"
	integration.Cursor = &cursor
	if err := s.RecordSyncOutcome("t1", models.ChannelMailboxPoll, models.SyncOutcome{Cursor: &cursor, PolledAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	result := engine.RunPass(context.Background(), integration)
	if result.Err == nil {
		t.Fatal("expected pass failure")
	}

	after := storedIntegration(t, s)
	if after.Cursor == nil || *after.Cursor != "100" {
		t.Errorf("cursor = %v, want unchanged", after.Cursor)
	}
	if after.LastError == nil {
		t.Fatal("expected last_error recorded")
	}

	// Recovery clears the recorded error.
	fp.listErr = nil
	fp.watermark = "101"
	result = engine.RunPass(context.Background(), storedIntegration(t, s))
	if result.Err != nil {
		t.Fatalf("pass failed: %v", result.Err)
	}
	if after = storedIntegration(t, s); after.LastError != nil {
		t.Errorf("last error = %v, want cleared", *after.LastError)
	}
}

func TestRunPassMessageFailureDoesNotAbort(t *testing.T) {
	fp := newFakeProvider()
	fp.addMessage("m1", "First")
	fp.addMessage("m3", "Third")
	fp.inbox = []string{"m1", "m2", "m3"} // m2 has no body to fetch
	fp.watermark = "100"

	engine, s, integration := newTestEngine(t, fp)

	result := engine.RunPass(context.Background(), integration)
	if result.Err != nil {
		t.Fatalf("pass failed: %v", result.Err)
	}
	if result.Created != 2 || result.Errors != 1 {
		t.Errorf("created = %d, errors = %d", result.Created, result.Errors)
	}

	after := storedIntegration(t, s)
	if after.Cursor == nil || *after.Cursor != "100" {
		t.Errorf("cursor = %v, want advanced past the bad message", after.Cursor)
	}
}

func TestRunPassMessageFailureRecordsSummary(t *testing.T) {
	fp := newFakeProvider()
	fp.addMessage("m1", "First")
	fp.inbox = []string{"m1", "m2"} // m2 has no body to fetch
	fp.watermark = "100"

	engine, s, integration := newTestEngine(t, fp)

	result := engine.RunPass(context.Background(), integration)
	if result.Err != nil {
		t.Fatalf("pass failed: %v", result.Err)
	}
	if result.Created != 1 || result.Errors != 1 {
		t.Errorf("created = %d, errors = %d", result.Created, result.Errors)
	}

	// The failed message must stay visible on the integration row even
	// though the pass completed and the cursor advanced.
	after := storedIntegration(t, s)
	if after.LastError == nil {
		t.Fatal("expected last_error summary after a pass with message failures")
	}
	if !strings.Contains(*after.LastError, "1 of 2 messages failed") {
		t.Errorf("last error = %q", *after.LastError)
	}

	// Once the message succeeds the next clean pass clears the summary.
	fp.addMessage("m2", "Second")
	fp.history["100"] = []string{"m2"}
	fp.watermark = "101"

	result = engine.RunPass(context.Background(), storedIntegration(t, s))
	if result.Err != nil {
		t.Fatalf("pass failed: %v", result.Err)
	}
	if result.Created != 1 || result.Errors != 0 {
		t.Errorf("created = %d, errors = %d", result.Created, result.Errors)
	}
	if after = storedIntegration(t, s); after.LastError != nil {
		t.Errorf("last error = %q, want cleared by the clean pass", *after.LastError)
	}
}

func TestRunPassCancelledContextKeepsCursor(t *testing.T) {
	fp := newFakeProvider()
	fp.addMessage("m1", "First")
	fp.inbox = []string{"m1"}
	fp.watermark = "100"

	engine, s, integration := newTestEngine(t, fp)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := engine.RunPass(ctx, integration)
	if result.Err == nil {
		t.Fatal("expected failure under a cancelled context")
	}
	if after := storedIntegration(t, s); after.Cursor != nil {
		t.Errorf("cursor = %v, want untouched", *after.Cursor)
	}
}
