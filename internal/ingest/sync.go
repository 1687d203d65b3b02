package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/GilMM/caseflow/internal/config"
	"github.com/GilMM/caseflow/internal/errors"
	"github.com/GilMM/caseflow/internal/logging"
	"github.com/GilMM/caseflow/internal/mailbox"
	"github.com/GilMM/caseflow/internal/metrics"
	"github.com/GilMM/caseflow/internal/models"
	"github.com/GilMM/caseflow/internal/store"
	"github.com/GilMM/caseflow/internal/vault"
)

// Sync modes reported to metrics and pass results.
const (
	ModeFull        = "full"
	ModeIncremental = "incremental"
	ModeResync      = "resync"
)

// PassResult summarizes one sync pass over one tenant's mailbox.
type PassResult struct {
	TenantID string `json:"tenant_id"`
	Mode     string `json:"mode"`
	Created  int    `json:"created"`
	Skipped  int    `json:"skipped"`
	Errors   int    `json:"errors"`
	Err      error  `json:"-"`
}

// Engine runs incremental mailbox sync passes. A pass lists new message
// ids since the stored cursor, creates cases for the unseen ones, and
// writes the advanced cursor back only after the whole pass succeeds so
// an interrupted pass is retried from the old cursor.
type Engine struct {
	store    store.Store
	vault    *vault.Vault
	factory  mailbox.Factory
	creator  *CaseCreator
	cfg      config.IngestConfig
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

func NewEngine(s store.Store, v *vault.Vault, factory mailbox.Factory, creator *CaseCreator, cfg config.IngestConfig, logger *logging.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		store:   s,
		vault:   v,
		factory: factory,
		creator: creator,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
}

// RunPass syncs one tenant's mailbox. Pass failures and per-message
// failures are recorded on the integration row as last_error; a clean
// pass clears it.
func (e *Engine) RunPass(ctx context.Context, integration *models.Integration) PassResult {
	result := PassResult{TenantID: integration.TenantID}

	token, err := e.vault.AccessToken(ctx, integration.TenantID)
	if err != nil {
		return e.failPass(integration, result, "credential", err)
	}

	provider, err := e.factory(ctx, token)
	if err != nil {
		return e.failPass(integration, result, "provider", err)
	}

	listing, mode, err := e.list(ctx, provider, integration.Cursor)
	result.Mode = mode
	if err != nil {
		return e.failPass(integration, result, mode, err)
	}

	var lastMsgErr error
	for _, id := range listing.IDs {
		if ctx.Err() != nil {
			// Budget exhausted or shutdown. Leave the cursor where it
			// was; already-created cases dedup on the next pass.
			return e.failPass(integration, result, mode, ctx.Err())
		}
		created, err := e.processMessage(ctx, provider, integration, id)
		switch {
		case err != nil:
			result.Errors++
			lastMsgErr = err
			e.logger.WarnWithContext(ctx, "failed to ingest message",
				"tenant_id", integration.TenantID, "message_id", id, "error", err.Error())
		case created:
			result.Created++
		default:
			result.Skipped++
		}
	}

	// One failed message does not block the cursor: its case either
	// exists already or is lost with the provider's copy, and holding
	// the cursor back would replay every later message each pass.
	var cursor *string
	if listing.Cursor != "" {
		cursor = &listing.Cursor
	}
	// A completed pass with per-message failures keeps them visible on
	// the integration row; only a clean pass clears last_error.
	var lastError *string
	if result.Errors > 0 {
		summary := fmt.Sprintf("%d of %d messages failed; last: %v", result.Errors, len(listing.IDs), lastMsgErr)
		lastError = &summary
	}
	outcome := models.SyncOutcome{
		Cursor:       cursor,
		PolledAt:     time.Now().UTC(),
		CreatedDelta: int64(result.Created),
		LastError:    lastError,
	}
	if err := e.store.RecordSyncOutcome(integration.TenantID, integration.Channel, outcome); err != nil {
		return e.failPass(integration, result, mode, err)
	}

	e.recordPass(mode, "success")
	e.logger.InfoWithContext(ctx, "sync pass complete",
		"tenant_id", integration.TenantID,
		"mode", mode,
		"created", result.Created,
		"skipped", result.Skipped,
		"errors", result.Errors)
	return result
}

// list resolves the sync state: no cursor means a full listing, a live
// cursor means a history diff, and a cursor the provider no longer
// accepts means a full re-listing that re-seeds the cursor. Dedup makes
// the resync overlap harmless.
func (e *Engine) list(ctx context.Context, provider mailbox.Provider, cursor *string) (*mailbox.Listing, string, error) {
	pageSize := int64(e.cfg.PageSize)

	if cursor == nil {
		listing, err := e.fullListing(ctx, provider, pageSize)
		return listing, ModeFull, err
	}

	var listing *mailbox.Listing
	err := withRetry(ctx, e.cfg.RetryAttempts, e.cfg.RetryBackoff, e.cfg.ProviderTimeout, func(ctx context.Context) error {
		var err error
		listing, err = provider.HistoryDiff(ctx, *cursor, pageSize)
		return err
	})
	if err == nil {
		return listing, ModeIncremental, nil
	}
	if !errors.Is(err, errors.ErrCursorExpired) {
		return nil, ModeIncremental, err
	}

	e.logger.Warn("sync cursor expired, falling back to full listing", "cursor", *cursor)
	listing, err = e.fullListing(ctx, provider, pageSize)
	return listing, ModeResync, err
}

func (e *Engine) fullListing(ctx context.Context, provider mailbox.Provider, pageSize int64) (*mailbox.Listing, error) {
	var listing *mailbox.Listing
	err := withRetry(ctx, e.cfg.RetryAttempts, e.cfg.RetryBackoff, e.cfg.ProviderTimeout, func(ctx context.Context) error {
		var err error
		listing, err = provider.FullListing(ctx, pageSize)
		return err
	})
	return listing, err
}

// processMessage creates a case for one message id. Ids that already have
// a case are skipped before the message body is fetched.
func (e *Engine) processMessage(ctx context.Context, provider mailbox.Provider, integration *models.Integration, id string) (bool, error) {
	event := &models.InboundEvent{Channel: models.ChannelMailboxPoll, NativeID: id}
	if e.creator.Exists(integration.TenantID, event.ExternalRef()) {
		return false, nil
	}

	var msg *mailbox.Message
	err := withRetry(ctx, e.cfg.RetryAttempts, e.cfg.RetryBackoff, e.cfg.ProviderTimeout, func(ctx context.Context) error {
		var err error
		msg, err = provider.GetMessage(ctx, id)
		return err
	})
	if err != nil {
		return false, &errors.ErrProvider{Operation: "get message", Err: err}
	}

	result, err := e.creator.CreateIfAbsent(integration.TenantID, integration.DefaultQueueID, EventFromMailbox(msg))
	if err != nil {
		return false, err
	}
	return !result.Skipped, nil
}

func (e *Engine) failPass(integration *models.Integration, result PassResult, mode string, err error) PassResult {
	result.Err = err
	if result.Mode == "" {
		result.Mode = mode
	}

	msg := err.Error()
	outcome := models.SyncOutcome{
		PolledAt:     time.Now().UTC(),
		CreatedDelta: int64(result.Created),
		LastError:    &msg,
	}
	if recErr := e.store.RecordSyncOutcome(integration.TenantID, integration.Channel, outcome); recErr != nil {
		e.logger.Error("failed to record sync error",
			"tenant_id", integration.TenantID, "error", recErr.Error())
	}

	e.recordPass(result.Mode, "failure")
	e.logger.Error("sync pass failed",
		"tenant_id", integration.TenantID, "mode", result.Mode, "error", msg)
	return result
}

func (e *Engine) recordPass(mode, status string) {
	if e.metrics != nil {
		e.metrics.RecordSyncPass(mode, status)
	}
}
