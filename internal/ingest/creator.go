package ingest

import (
	"time"

	"github.com/google/uuid"

	"github.com/GilMM/caseflow/internal/errors"
	"github.com/GilMM/caseflow/internal/logging"
	"github.com/GilMM/caseflow/internal/metrics"
	"github.com/GilMM/caseflow/internal/models"
	"github.com/GilMM/caseflow/internal/store"
)

// CreateResult reports the outcome of processing one inbound event.
type CreateResult struct {
	CaseID  string `json:"case_id,omitempty"`
	Skipped bool   `json:"skipped"`
}

// CaseCreator turns canonical events into cases exactly once per
// (tenant, external_ref). The unique index on the cases table is the
// serialization point; the lookup before insert only saves work.
type CaseCreator struct {
	store    store.Store
	contacts *ContactResolver
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

func NewCaseCreator(s store.Store, contacts *ContactResolver, logger *logging.Logger, m *metrics.Metrics) *CaseCreator {
	return &CaseCreator{store: s, contacts: contacts, logger: logger, metrics: m}
}

// Exists reports whether the event's external ref already has a case.
// Sync passes use this to skip seen messages before fetching bodies.
func (c *CaseCreator) Exists(tenantID string, ref string) bool {
	_, ok := c.store.FindCaseByExternalRef(tenantID, ref)
	return ok
}

// CreateIfAbsent creates a case for the event unless one already exists
// for its external ref. Losing the insert race to a concurrent worker is
// reported as a skip, same as the fast-path hit.
func (c *CaseCreator) CreateIfAbsent(tenantID, queueID string, event *models.InboundEvent) (CreateResult, error) {
	ref := event.ExternalRef()

	if existing, ok := c.store.FindCaseByExternalRef(tenantID, ref); ok {
		c.recordSkipped(event.Channel, "duplicate")
		return CreateResult{CaseID: existing.ID, Skipped: true}, nil
	}

	newCase := &models.Case{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		QueueID:     queueID,
		Title:       event.Title,
		Description: event.Body,
		Status:      models.StatusNew,
		Priority:    event.Priority,
		ContactID:   c.contacts.Resolve(tenantID, event),
		Source:      string(event.Channel),
		ExternalRef: &ref,
		CreatedAt:   time.Now().UTC(),
	}
	newCase.Truncate()
	if err := newCase.Validate(); err != nil {
		c.recordError(event.Channel, "validation")
		return CreateResult{}, err
	}

	if err := c.store.InsertCase(newCase); err != nil {
		if errors.Is(err, errors.ErrDuplicateCase) {
			c.recordSkipped(event.Channel, "duplicate")
			result := CreateResult{Skipped: true}
			if winner, ok := c.store.FindCaseByExternalRef(tenantID, ref); ok {
				result.CaseID = winner.ID
			}
			return result, nil
		}
		c.recordError(event.Channel, "store")
		return CreateResult{}, err
	}

	c.recordCreated(event.Channel)
	c.logger.Info("case created",
		"tenant_id", tenantID,
		"case_id", newCase.ID,
		"channel", string(event.Channel),
		"external_ref", ref)
	return CreateResult{CaseID: newCase.ID}, nil
}

func (c *CaseCreator) recordCreated(channel models.ChannelKind) {
	if c.metrics != nil {
		c.metrics.RecordCaseCreated(string(channel))
	}
}

func (c *CaseCreator) recordSkipped(channel models.ChannelKind, reason string) {
	if c.metrics != nil {
		c.metrics.RecordCaseSkipped(string(channel), reason)
	}
}

func (c *CaseCreator) recordError(channel models.ChannelKind, errorType string) {
	if c.metrics != nil {
		c.metrics.RecordIngestError(string(channel), errorType)
	}
}
