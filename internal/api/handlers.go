package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	caseerrors "github.com/GilMM/caseflow/internal/errors"
	"github.com/GilMM/caseflow/internal/ingest"
	"github.com/GilMM/caseflow/internal/models"
)

// PollResult is the per-tenant entry of a dispatch response.
type PollResult struct {
	TenantID string `json:"tenantId"`
	Status   string `json:"status"`
	Created  int    `json:"created"`
	Skipped  int    `json:"skipped"`
	Errors   int    `json:"errors"`
}

func toPollResult(r ingest.PassResult) PollResult {
	status := "ok"
	switch {
	case r.Err != nil:
		status = "error"
	case r.Mode == "busy":
		status = "busy"
	}
	return PollResult{
		TenantID: r.TenantID,
		Status:   status,
		Created:  r.Created,
		Skipped:  r.Skipped,
		Errors:   r.Errors,
	}
}

// handlePollSweep runs a full poll sweep on behalf of the scheduler.
func (s *Server) handlePollSweep(c *gin.Context) {
	report := s.deps.Coordinator.Sweep(c.Request.Context())

	results := make([]PollResult, 0, len(report.Results))
	for _, r := range report.Results {
		results = append(results, toPollResult(r))
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"polled":  report.Swept,
		"results": results,
	})
}

// TenantRequest addresses a single tenant's mailbox integration.
type TenantRequest struct {
	TenantID string `json:"tenantId" binding:"required"`
}

// handlePoll runs one tenant's sync pass for the dispatch fan-out.
func (s *Server) handlePoll(c *gin.Context) {
	s.runSingleTenant(c)
}

// handleCheckNow is the user-triggered variant of handlePoll with admin
// authorization instead of the dispatch secret.
func (s *Server) handleCheckNow(c *gin.Context) {
	s.runSingleTenant(c)
}

func (s *Server) runSingleTenant(c *gin.Context) {
	var req TenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, ok := s.deps.Coordinator.RunTenant(c.Request.Context(), req.TenantID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "mailbox integration not enabled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":      result.Err == nil,
		"polled":  1,
		"results": []PollResult{toPollResult(result)},
	})
}

// ConnectRequest carries tokens delivered by the OAuth callback flow.
type ConnectRequest struct {
	TenantID      string    `json:"tenantId" binding:"required"`
	AccessToken   string    `json:"accessToken" binding:"required"`
	RefreshToken  string    `json:"refreshToken"`
	ExpiresAt     time.Time `json:"expiresAt" binding:"required"`
	ProviderEmail string    `json:"providerEmail"`
}

// handleMailboxConnect stores a tenant's OAuth grant in the vault.
func (s *Server) handleMailboxConnect(c *gin.Context) {
	var req ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.deps.Vault.Connect(req.TenantID, req.AccessToken, req.RefreshToken, req.ExpiresAt, req.ProviderEmail); err != nil {
		s.logger.ErrorWithContext(c.Request.Context(), "failed to store credential",
			"tenant_id", req.TenantID, "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store credential"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "connected": true, "email": req.ProviderEmail})
}

// EnableRequest toggles a tenant's mailbox-poll integration.
type EnableRequest struct {
	TenantID       string `json:"tenantId" binding:"required"`
	Enabled        *bool  `json:"enabled" binding:"required"`
	DefaultQueueID string `json:"defaultQueueId"`
}

// handleMailboxEnable enables or disables mailbox polling. Enabling
// requires a stored credential and seeds the cursor from the provider's
// current watermark, so polling starts from now rather than replaying the
// whole inbox. Disabling keeps the cursor and clears last_error.
func (s *Server) handleMailboxEnable(c *gin.Context) {
	var req EnableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	if !*req.Enabled {
		if err := s.deps.Store.SetIntegrationEnabled(req.TenantID, models.ChannelMailboxPoll, false); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "mailbox integration not found"})
			return
		}
		s.metrics.SetIntegrationUp(req.TenantID, string(models.ChannelMailboxPoll), false)
		c.JSON(http.StatusOK, gin.H{"ok": true, "enabled": false})
		return
	}

	token, err := s.deps.Vault.AccessToken(ctx, req.TenantID)
	if err != nil {
		if caseerrors.Is(err, caseerrors.ErrNotConnected) {
			c.JSON(http.StatusConflict, gin.H{"error": "no mailbox credential for tenant"})
			return
		}
		s.logger.ErrorWithContext(ctx, "failed to obtain access token",
			"tenant_id", req.TenantID, "error", err.Error())
		c.JSON(http.StatusBadGateway, gin.H{"error": "credential is not usable"})
		return
	}

	watermark, err := s.currentWatermark(c, token)
	if err != nil {
		s.logger.ErrorWithContext(ctx, "failed to read mailbox watermark",
			"tenant_id", req.TenantID, "error", err.Error())
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to read mailbox watermark"})
		return
	}

	integration, ok := s.deps.Store.GetIntegration(req.TenantID, models.ChannelMailboxPoll)
	if !ok {
		integration = &models.Integration{
			ID:       uuid.NewString(),
			TenantID: req.TenantID,
			Channel:  models.ChannelMailboxPoll,
		}
	}
	integration.Enabled = true
	if req.DefaultQueueID != "" {
		integration.DefaultQueueID = req.DefaultQueueID
	}
	integration.Cursor = &watermark

	if err := integration.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.deps.Store.SetIntegration(integration); err != nil {
		s.logger.ErrorWithContext(ctx, "failed to save integration",
			"tenant_id", req.TenantID, "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save integration"})
		return
	}

	s.metrics.SetIntegrationUp(req.TenantID, string(models.ChannelMailboxPoll), true)
	s.logger.InfoWithContext(ctx, "mailbox polling enabled",
		"tenant_id", req.TenantID, "cursor", watermark)
	c.JSON(http.StatusOK, gin.H{"ok": true, "enabled": true, "cursor": watermark})
}

func (s *Server) currentWatermark(c *gin.Context, token string) (string, error) {
	provider, err := s.deps.Factory(c.Request.Context(), token)
	if err != nil {
		return "", err
	}
	return provider.Watermark(c.Request.Context())
}

// handleMailboxDisconnect deletes the tenant's credential and disables
// the integrations that depend on it. Cursor and counters stay for a
// later reconnect.
func (s *Server) handleMailboxDisconnect(c *gin.Context) {
	var req TenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.deps.Vault.Disconnect(req.TenantID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "tenant is not connected"})
		return
	}
	if err := s.deps.Store.SetIntegrationEnabled(req.TenantID, models.ChannelMailboxPoll, false); err != nil && !caseerrors.Is(err, caseerrors.ErrNotConnected) {
		s.logger.ErrorWithContext(c.Request.Context(), "failed to disable integration",
			"tenant_id", req.TenantID, "error", err.Error())
	}
	s.metrics.SetIntegrationUp(req.TenantID, string(models.ChannelMailboxPoll), false)
	c.JSON(http.StatusOK, gin.H{"ok": true, "connected": false})
}

// IntegrationStatus is the read-only health view of one integration.
type IntegrationStatus struct {
	Channel        string     `json:"channel"`
	Enabled        bool       `json:"enabled"`
	Cursor         *string    `json:"cursor,omitempty"`
	LastPolledAt   *time.Time `json:"lastPolledAt,omitempty"`
	ProcessedCount int64      `json:"processedCount"`
	LastError      *string    `json:"lastError,omitempty"`
}

// handleStatus lists a tenant's integration health and credential status.
// Tokens are never exposed, only connection state and account email.
func (s *Server) handleStatus(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id query parameter is required"})
		return
	}

	connected, email, expiresAt := s.deps.Vault.Status(tenantID)
	credential := gin.H{"connected": connected}
	if connected {
		credential["email"] = email
		credential["expiresAt"] = expiresAt
	}

	integrations := make([]IntegrationStatus, 0)
	for _, in := range s.deps.Store.ListIntegrations(tenantID) {
		integrations = append(integrations, IntegrationStatus{
			Channel:        string(in.Channel),
			Enabled:        in.Enabled,
			Cursor:         in.Cursor,
			LastPolledAt:   in.LastPolledAt,
			ProcessedCount: in.ProcessedCount,
			LastError:      in.LastError,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"tenantId":     tenantID,
		"credential":   credential,
		"integrations": integrations,
	})
}

// handleEmailRelay ingests a forwarded email delivered as a multipart
// form. The HMAC signature is verified before anything is parsed into the
// pipeline; a rejected request has no side effects.
func (s *Server) handleEmailRelay(c *gin.Context) {
	timestamp := c.PostForm("timestamp")
	token := c.PostForm("token")
	signature := c.PostForm("signature")
	if err := s.deps.RelayAuth.Verify(timestamp, token, signature); err != nil {
		s.logger.WarnWithContext(c.Request.Context(), "relay signature rejected",
			"client_ip", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	from := c.PostForm("from")
	if from == "" {
		from = c.PostForm("sender")
	}
	payload := ingest.RelayPayload{
		Recipient: c.PostForm("recipient"),
		From:      from,
		Subject:   c.PostForm("subject"),
		BodyPlain: c.PostForm("body-plain"),
		MessageID: c.PostForm("Message-Id"),
	}

	result, err := s.deps.Pipeline.ProcessRelay(payload)
	if err != nil {
		if caseerrors.Is(err, caseerrors.ErrUnresolvedTenant) {
			c.JSON(http.StatusNotAcceptable, gin.H{"error": "recipient does not map to a tenant"})
			return
		}
		s.logger.ErrorWithContext(c.Request.Context(), "relay ingest failed", "error", err.Error())
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	if result.Skipped {
		c.JSON(http.StatusOK, gin.H{"ok": true, "deduped": true, "caseId": result.CaseID})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "caseId": result.CaseID})
}

// handleSheetRow ingests one spreadsheet row. The x-webhook-secret header
// identifies the tenant integration; rows filtered by the creation rule
// are acknowledged so the sheet connector does not retry them.
func (s *Server) handleSheetRow(c *gin.Context) {
	integration, err := s.deps.SheetAuth.Verify(c.GetHeader("x-webhook-secret"))
	if err != nil {
		s.logger.WarnWithContext(c.Request.Context(), "sheet webhook secret rejected",
			"client_ip", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook secret"})
		return
	}

	var row ingest.SheetRow
	if err := c.ShouldBindJSON(&row); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.deps.Pipeline.ProcessSheetRow(integration, row)
	if err != nil {
		if caseerrors.Is(err, caseerrors.ErrRuleNotMatched) {
			c.JSON(http.StatusOK, gin.H{"ok": true, "skipped": true})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if result.Skipped {
		c.JSON(http.StatusOK, gin.H{"ok": true, "deduped": true, "caseId": result.CaseID})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "caseId": result.CaseID})
}
