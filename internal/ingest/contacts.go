package ingest

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/GilMM/caseflow/internal/logging"
	"github.com/GilMM/caseflow/internal/models"
	"github.com/GilMM/caseflow/internal/store"
	"github.com/GilMM/caseflow/pkg/mailaddr"
)

// ContactResolver upserts requester records keyed by (tenant, email).
type ContactResolver struct {
	store  store.Store
	logger *logging.Logger
}

func NewContactResolver(s store.Store, logger *logging.Logger) *ContactResolver {
	return &ContactResolver{store: s, logger: logger}
}

// Resolve finds or creates the contact for an event's sender and returns
// its id. Events without a usable sender address produce no contact and a
// nil id. An existing contact only ever gains a name, never loses one.
func (r *ContactResolver) Resolve(tenantID string, event *models.InboundEvent) *string {
	email := event.SenderEmail
	if email == "" || !mailaddr.Valid(email) {
		return nil
	}

	if existing, ok := r.store.FindContactByEmail(tenantID, email); ok {
		if strings.TrimSpace(existing.Name) == "" && event.SenderName != "" {
			if err := r.store.SetContactName(existing.ID, event.SenderName); err != nil {
				r.logger.Warn("failed to fill contact name",
					"tenant_id", tenantID, "contact_id", existing.ID, "error", err.Error())
			}
		}
		return &existing.ID
	}

	contact := &models.Contact{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Email:     email,
		Name:      event.SenderName,
		Source:    string(event.Channel),
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.InsertContact(contact); err != nil {
		// A concurrent insert can beat us to the unique email. Re-read
		// and use whichever row won.
		if existing, ok := r.store.FindContactByEmail(tenantID, email); ok {
			return &existing.ID
		}
		r.logger.Warn("failed to insert contact",
			"tenant_id", tenantID, "email", email, "error", err.Error())
		return nil
	}
	return &contact.ID
}
