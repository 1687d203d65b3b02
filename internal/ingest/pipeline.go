package ingest

import (
	"fmt"
	"time"

	"github.com/GilMM/caseflow/internal/errors"
	"github.com/GilMM/caseflow/internal/logging"
	"github.com/GilMM/caseflow/internal/models"
	"github.com/GilMM/caseflow/internal/store"
)

// Pipeline is the push-channel entry point: it takes an authenticated
// webhook payload through normalization, rule filtering and idempotent
// case creation.
type Pipeline struct {
	store   store.Store
	creator *CaseCreator
	logger  *logging.Logger
}

func NewPipeline(s store.Store, creator *CaseCreator, logger *logging.Logger) *Pipeline {
	return &Pipeline{store: s, creator: creator, logger: logger}
}

// ProcessRelay ingests a forwarded email. The tenant comes from the
// recipient address; the tenant must have an enabled email-relay
// integration, which supplies the target queue.
func (p *Pipeline) ProcessRelay(payload RelayPayload) (CreateResult, error) {
	tenantID, event, err := EventFromRelay(payload)
	if err != nil {
		return CreateResult{}, err
	}

	integration, ok := p.store.GetIntegration(tenantID, models.ChannelEmailRelay)
	if !ok || !integration.Enabled {
		return CreateResult{}, fmt.Errorf("email relay not enabled for tenant %s", tenantID)
	}

	result, err := p.creator.CreateIfAbsent(tenantID, integration.DefaultQueueID, event)
	if err != nil {
		return CreateResult{}, err
	}
	p.recordDelivery(integration, result)
	return result, nil
}

// ProcessSheetRow ingests a spreadsheet row against an integration already
// authenticated by its webhook secret. Rows whose status does not match
// the integration's creation rule are acknowledged but skipped.
func (p *Pipeline) ProcessSheetRow(integration *models.Integration, row SheetRow) (CreateResult, error) {
	rule := integration.CreateRule
	if rule == "" {
		rule = string(models.StatusNew)
	}
	if row.Status != rule {
		p.logger.Debug("sheet row filtered by creation rule",
			"tenant_id", integration.TenantID, "status", row.Status, "rule", rule)
		return CreateResult{}, errors.ErrRuleNotMatched
	}

	event, err := EventFromSheetRow(row)
	if err != nil {
		return CreateResult{}, err
	}

	result, err := p.creator.CreateIfAbsent(integration.TenantID, integration.DefaultQueueID, event)
	if err != nil {
		return CreateResult{}, err
	}
	p.recordDelivery(integration, result)
	return result, nil
}

// recordDelivery bumps the integration's processed counter after a
// successful push delivery. Failures here do not fail the request; the
// case is already committed.
func (p *Pipeline) recordDelivery(integration *models.Integration, result CreateResult) {
	var delta int64
	if !result.Skipped {
		delta = 1
	}
	outcome := models.SyncOutcome{PolledAt: time.Now().UTC(), CreatedDelta: delta}
	if err := p.store.RecordSyncOutcome(integration.TenantID, integration.Channel, outcome); err != nil {
		p.logger.Warn("failed to record delivery outcome",
			"tenant_id", integration.TenantID, "channel", string(integration.Channel), "error", err.Error())
	}
}
