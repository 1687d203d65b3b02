package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/GilMM/caseflow/internal/config"
	"github.com/GilMM/caseflow/internal/errors"
	"github.com/GilMM/caseflow/internal/logging"
	"github.com/GilMM/caseflow/internal/metrics"
	"github.com/GilMM/caseflow/internal/models"
	"github.com/GilMM/caseflow/internal/store"
)

// Vault manages per-tenant OAuth token material. Tokens are stored sealed;
// AccessToken is the only way the rest of the pipeline obtains one in the
// clear, and it transparently refreshes stale tokens.
type Vault struct {
	store   store.Store
	cipher  *Cipher
	client  *http.Client
	logger  *logging.Logger
	metrics *metrics.Metrics
	cfg     config.VaultConfig

	// Per-tenant refresh leases so concurrent callers do not race the
	// same refresh grant.
	leaseMu sync.Mutex
	leases  map[string]*sync.Mutex
}

// NewVault creates a vault backed by the given store.
func NewVault(s store.Store, cfg config.VaultConfig, logger *logging.Logger, m *metrics.Metrics) (*Vault, error) {
	cipher, err := NewCipher(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}
	return &Vault{
		store:   s,
		cipher:  cipher,
		client:  &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
		metrics: m,
		cfg:     cfg,
		leases:  make(map[string]*sync.Mutex),
	}, nil
}

// Connect seals and stores token material handed over after an OAuth
// consent flow.
func (v *Vault) Connect(tenantID, accessToken, refreshToken string, expiresAt time.Time, providerEmail string) error {
	sealedAccess, err := v.cipher.Seal([]byte(accessToken))
	if err != nil {
		return err
	}
	var sealedRefresh []byte
	if refreshToken != "" {
		sealedRefresh, err = v.cipher.Seal([]byte(refreshToken))
		if err != nil {
			return err
		}
	}
	return v.store.PutCredential(&models.Credential{
		TenantID:      tenantID,
		AccessToken:   sealedAccess,
		RefreshToken:  sealedRefresh,
		ExpiresAt:     expiresAt.UTC(),
		ProviderEmail: providerEmail,
	})
}

// Disconnect removes the tenant's token material.
func (v *Vault) Disconnect(tenantID string) error {
	return v.store.DeleteCredential(tenantID)
}

// Status reports whether a tenant has a stored credential and, if so, the
// connected mailbox address and token expiry.
func (v *Vault) Status(tenantID string) (bool, string, time.Time) {
	cred, ok := v.store.GetCredential(tenantID)
	if !ok {
		return false, "", time.Time{}
	}
	return true, cred.ProviderEmail, cred.ExpiresAt
}

// AccessToken returns a usable access token for the tenant, refreshing it
// first when it is within the safety margin of expiry.
func (v *Vault) AccessToken(ctx context.Context, tenantID string) (string, error) {
	cred, ok := v.store.GetCredential(tenantID)
	if !ok {
		return "", errors.ErrNotConnected
	}

	now := time.Now().UTC()
	if cred.UsableAt(now, v.cfg.RefreshMargin) {
		plain, err := v.cipher.Open(cred.AccessToken)
		if err != nil {
			return "", fmt.Errorf("unseal access token: %w", err)
		}
		return string(plain), nil
	}

	lease := v.lease(tenantID)
	lease.Lock()
	defer lease.Unlock()

	// Another caller may have finished the refresh while we waited.
	cred, ok = v.store.GetCredential(tenantID)
	if !ok {
		return "", errors.ErrNotConnected
	}
	if cred.UsableAt(time.Now().UTC(), v.cfg.RefreshMargin) {
		plain, err := v.cipher.Open(cred.AccessToken)
		if err != nil {
			return "", fmt.Errorf("unseal access token: %w", err)
		}
		return string(plain), nil
	}

	return v.refresh(ctx, cred)
}

func (v *Vault) lease(tenantID string) *sync.Mutex {
	v.leaseMu.Lock()
	defer v.leaseMu.Unlock()
	if m, ok := v.leases[tenantID]; ok {
		return m
	}
	m := &sync.Mutex{}
	v.leases[tenantID] = m
	return m
}

func (v *Vault) refresh(ctx context.Context, cred *models.Credential) (string, error) {
	if !cred.HasRefreshToken() {
		return "", errors.ErrMissingRefreshToken
	}

	refreshToken, err := v.cipher.Open(cred.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("unseal refresh token: %w", err)
	}

	accessToken, newRefresh, expiresAt, err := v.refreshGrant(ctx, string(refreshToken))
	if err != nil {
		v.recordRefresh("failure")
		return "", &errors.ErrTokenRefresh{TenantID: cred.TenantID, Err: err}
	}

	sealedAccess, err := v.cipher.Seal([]byte(accessToken))
	if err != nil {
		return "", err
	}
	// A provider that omits refresh_token keeps the stored one valid.
	var sealedRefresh []byte
	if newRefresh != "" {
		sealedRefresh, err = v.cipher.Seal([]byte(newRefresh))
		if err != nil {
			return "", err
		}
	}

	if err := v.store.UpdateTokens(cred.TenantID, sealedAccess, sealedRefresh, expiresAt); err != nil {
		return "", err
	}

	v.recordRefresh("success")
	v.logger.Info("access token refreshed", "tenant_id", cred.TenantID, "expires_at", expiresAt.Format(time.RFC3339))
	return accessToken, nil
}

func (v *Vault) refreshGrant(ctx context.Context, refreshToken string) (string, string, time.Time, error) {
	form := url.Values{}
	form.Set("client_id", v.cfg.ClientID)
	if v.cfg.ClientSecret != "" {
		form.Set("client_secret", v.cfg.ClientSecret)
	}
	form.Set("refresh_token", refreshToken)
	form.Set("grant_type", "refresh_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", "", time.Time{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return "", "", time.Time{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", time.Time{}, fmt.Errorf("oauth status %d", resp.StatusCode)
	}

	var parsed struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", "", time.Time{}, err
	}
	if parsed.AccessToken == "" {
		return "", "", time.Time{}, fmt.Errorf("oauth response missing access_token")
	}
	expiresAt := time.Now().UTC().Add(time.Duration(parsed.ExpiresIn) * time.Second)
	return parsed.AccessToken, parsed.RefreshToken, expiresAt, nil
}

func (v *Vault) recordRefresh(status string) {
	if v.metrics != nil {
		v.metrics.RecordTokenRefresh(status)
	}
}
