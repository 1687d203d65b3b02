package ingest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/GilMM/caseflow/internal/errors"
	"github.com/GilMM/caseflow/internal/metrics"
	"github.com/GilMM/caseflow/internal/models"
	"github.com/GilMM/caseflow/internal/store"
)

// RelayAuthenticator verifies the HMAC signature the email relay attaches
// to every delivery. The signature is hex(HMAC-SHA256(timestamp || token))
// keyed with the shared signing key.
type RelayAuthenticator struct {
	signingKey []byte
	metrics    *metrics.Metrics
}

func NewRelayAuthenticator(signingKey string, m *metrics.Metrics) *RelayAuthenticator {
	return &RelayAuthenticator{signingKey: []byte(signingKey), metrics: m}
}

// Verify checks the delivery signature. Any mismatch, including a missing
// or unconfigured key, fails closed.
func (a *RelayAuthenticator) Verify(timestamp, token, signature string) error {
	if len(a.signingKey) == 0 || timestamp == "" || token == "" || signature == "" {
		a.recordFailure()
		return errors.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, a.signingKey)
	mac.Write([]byte(timestamp))
	mac.Write([]byte(token))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		a.recordFailure()
		return errors.ErrInvalidSignature
	}
	return nil
}

func (a *RelayAuthenticator) recordFailure() {
	if a.metrics != nil {
		a.metrics.RecordWebhookAuthFailure(string(models.ChannelEmailRelay))
	}
}

// SheetAuthenticator maps a per-tenant webhook secret to its enabled
// sheet integration.
type SheetAuthenticator struct {
	store   store.Store
	metrics *metrics.Metrics
}

func NewSheetAuthenticator(s store.Store, m *metrics.Metrics) *SheetAuthenticator {
	return &SheetAuthenticator{store: s, metrics: m}
}

// Verify returns the integration owning the secret. Unknown secrets and
// secrets of disabled integrations are rejected without revealing which.
func (a *SheetAuthenticator) Verify(secret string) (*models.Integration, error) {
	integration, ok := a.store.FindIntegrationBySecret(models.ChannelSheetWebhook, secret)
	if !ok {
		if a.metrics != nil {
			a.metrics.RecordWebhookAuthFailure(string(models.ChannelSheetWebhook))
		}
		return nil, errors.ErrInvalidSecret
	}
	return integration, nil
}
