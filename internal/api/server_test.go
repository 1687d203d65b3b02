package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GilMM/caseflow/internal/config"
	"github.com/GilMM/caseflow/internal/ingest"
	"github.com/GilMM/caseflow/internal/logging"
	"github.com/GilMM/caseflow/internal/mailbox"
	"github.com/GilMM/caseflow/internal/metrics"
	"github.com/GilMM/caseflow/internal/models"
	"github.com/GilMM/caseflow/internal/store"
	"github.com/GilMM/caseflow/internal/vault"
)

const (
	testKeyHex     = "6368616e676520746869732070617373776f726420746f206120736563726574"
	adminKey       = "admin-key"
	dispatchSecret = "dispatch-secret"
	relaySigKey    = "relay-signing-key"
	relayTenant    = "a7f3b2c1-4d5e-6f70-8192-a3b4c5d6e7f8"
)

// fakeMailbox is a scripted provider backing the mailbox handlers.
type fakeMailbox struct {
	messages  map[string]*mailbox.Message
	inbox     []string
	watermark string
}

func (f *fakeMailbox) FullListing(ctx context.Context, pageSize int64) (*mailbox.Listing, error) {
	return &mailbox.Listing{IDs: append([]string(nil), f.inbox...), Cursor: f.watermark}, nil
}

func (f *fakeMailbox) HistoryDiff(ctx context.Context, cursor string, pageSize int64) (*mailbox.Listing, error) {
	return &mailbox.Listing{Cursor: f.watermark}, nil
}

func (f *fakeMailbox) GetMessage(ctx context.Context, id string) (*mailbox.Message, error) {
	msg, ok := f.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %s gone", id)
	}
	return msg, nil
}

func (f *fakeMailbox) Watermark(ctx context.Context) (string, error) {
	return f.watermark, nil
}

type testEnv struct {
	server   *Server
	store    *store.MemoryStore
	vault    *vault.Vault
	provider *fakeMailbox
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := store.NewMemoryStore()
	logger := logging.NewLogger(logging.WithOutput(io.Discard))
	m := metrics.NewMetrics("test_api")

	v, err := vault.NewVault(s, config.VaultConfig{
		EncryptionKey: testKeyHex,
		TokenURL:      "http://127.0.0.1:0/token",
		RefreshMargin: time.Minute,
	}, logger, nil)
	require.NoError(t, err)

	provider := &fakeMailbox{messages: make(map[string]*mailbox.Message), watermark: "500"}
	factory := func(ctx context.Context, token string) (mailbox.Provider, error) { return provider, nil }

	ingestCfg := config.IngestConfig{
		PageSize:        100,
		SweepInterval:   time.Minute,
		SweepBudget:     5 * time.Second,
		RetryAttempts:   0,
		RetryBackoff:    time.Millisecond,
		ProviderTimeout: time.Second,
	}
	creator := ingest.NewCaseCreator(s, ingest.NewContactResolver(s, logger), logger, m)
	engine := ingest.NewEngine(s, v, factory, creator, ingestCfg, logger, m)

	deps := Dependencies{
		Store:       s,
		Vault:       v,
		Factory:     factory,
		Pipeline:    ingest.NewPipeline(s, creator, logger),
		Coordinator: ingest.NewCoordinator(s, engine, ingestCfg, logger),
		RelayAuth:   ingest.NewRelayAuthenticator(relaySigKey, m),
		SheetAuth:   ingest.NewSheetAuthenticator(s, m),
		Metrics:     m,
		Logger:      logger,
	}
	cfg := config.ServerConfig{Host: "localhost", HTTPPort: 8080}
	apiCfg := config.APIConfig{
		Enabled: true,
		Auth: config.AuthConfig{
			Enabled:        true,
			APIKeys:        []string{adminKey},
			DispatchSecret: dispatchSecret,
		},
	}

	return &testEnv{
		server:   NewServer(cfg, apiCfg, deps),
		store:    s,
		vault:    v,
		provider: provider,
	}
}

func (e *testEnv) connectTenant(t *testing.T, tenantID string) {
	t.Helper()
	err := e.vault.Connect(tenantID, "access-token", "refresh-token", time.Now().Add(time.Hour), tenantID+"@example.com")
	require.NoError(t, err)
}

func (e *testEnv) setIntegration(t *testing.T, tenantID string, channel models.ChannelKind, secret, rule string) {
	t.Helper()
	err := e.store.SetIntegration(&models.Integration{
		ID:             tenantID + "-" + string(channel),
		TenantID:       tenantID,
		Channel:        channel,
		Enabled:        true,
		DefaultQueueID: "q1",
		WebhookSecret:  secret,
		CreateRule:     rule,
	})
	require.NoError(t, err)
}

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(method, path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func signRelay(timestamp, token string) string {
	mac := hmac.New(sha256.New, []byte(relaySigKey))
	mac.Write([]byte(timestamp))
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

func relayRequest(t *testing.T, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	req, err := http.NewRequest("POST", "/ingest/email-relay", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func signedRelayFields(subject, body string) map[string]string {
	ts := "1756640000"
	token := "delivery-token"
	return map[string]string{
		"recipient":  "org_" + relayTenant + "@inbound.example.com",
		"from":       "Customer <customer@example.com>",
		"subject":    subject,
		"body-plain": body,
		"timestamp":  ts,
		"token":      token,
		"signature":  signRelay(ts, token),
		"Message-Id": "<" + subject + "@mail.example.com>",
	}
}

func TestHandleHealth(t *testing.T) {
	env := setupTestServer(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/healthz", nil)
	env.server.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestHandleEmailRelay(t *testing.T) {
	env := setupTestServer(t)
	env.setIntegration(t, relayTenant, models.ChannelEmailRelay, "", "")

	w := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, relayRequest(t, signedRelayFields("Cannot log in", "details")))

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		OK      bool   `json:"ok"`
		Deduped bool   `json:"deduped"`
		CaseID  string `json:"caseId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.False(t, resp.Deduped)
	assert.NotEmpty(t, resp.CaseID)

	// Redelivery of the same message dedups against the stored case.
	w = httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, relayRequest(t, signedRelayFields("Cannot log in", "details")))
	require.Equal(t, http.StatusOK, w.Code)

	var second struct {
		Deduped bool   `json:"deduped"`
		CaseID  string `json:"caseId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	assert.True(t, second.Deduped)
	assert.Equal(t, resp.CaseID, second.CaseID)
	assert.Equal(t, 1, env.store.Stats().CaseCount)
}

func TestHandleEmailRelayBadSignature(t *testing.T) {
	env := setupTestServer(t)
	env.setIntegration(t, relayTenant, models.ChannelEmailRelay, "", "")

	fields := signedRelayFields("Cannot log in", "details")
	fields["signature"] = "deadbeef"

	w := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, relayRequest(t, fields))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 0, env.store.Stats().CaseCount, "rejected request must have no side effects")
	assert.Equal(t, 0, env.store.Stats().ContactCount)
}

func TestHandleEmailRelayUnknownRecipient(t *testing.T) {
	env := setupTestServer(t)

	fields := signedRelayFields("Cannot log in", "details")
	fields["recipient"] = "support@inbound.example.com"

	w := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, relayRequest(t, fields))

	assert.Equal(t, http.StatusNotAcceptable, w.Code)
	assert.Equal(t, 0, env.store.Stats().CaseCount)
}

func TestHandleSheetRow(t *testing.T) {
	env := setupTestServer(t)
	env.setIntegration(t, "t1", models.ChannelSheetWebhook, "sheet-secret", "")

	row := ingest.SheetRow{Title: "Badge reader down", Status: "new", ExternalRef: "row-7", Priority: "high"}
	req := jsonRequest(t, "POST", "/ingest/sheet-row", row)
	req.Header.Set("x-webhook-secret", "sheet-secret")

	w := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "caseId")
	assert.Equal(t, 1, env.store.Stats().CaseCount)
}

func TestHandleSheetRowBadSecret(t *testing.T) {
	env := setupTestServer(t)
	env.setIntegration(t, "t1", models.ChannelSheetWebhook, "sheet-secret", "")

	row := ingest.SheetRow{Title: "x", Status: "new", ExternalRef: "row-7"}
	req := jsonRequest(t, "POST", "/ingest/sheet-row", row)
	req.Header.Set("x-webhook-secret", "wrong")

	w := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 0, env.store.Stats().CaseCount)
}

func TestHandleSheetRowRuleFiltered(t *testing.T) {
	env := setupTestServer(t)
	env.setIntegration(t, "t1", models.ChannelSheetWebhook, "sheet-secret", "")

	row := ingest.SheetRow{Title: "x", Status: "draft", ExternalRef: "row-7"}
	req := jsonRequest(t, "POST", "/ingest/sheet-row", row)
	req.Header.Set("x-webhook-secret", "sheet-secret")

	w := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "\"skipped\":true")
	assert.Equal(t, 0, env.store.Stats().CaseCount)
}

func TestHandleMailboxEnableRequiresCredential(t *testing.T) {
	env := setupTestServer(t)

	enabled := true
	req := jsonRequest(t, "POST", "/ingest/mailbox/enable", gin.H{
		"tenantId": "t1", "enabled": enabled, "defaultQueueId": "q1",
	})
	req.Header.Set(DefaultAPIKeyHeader, adminKey)

	w := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandleMailboxEnableSeedsCursor(t *testing.T) {
	env := setupTestServer(t)
	env.connectTenant(t, "t1")
	env.provider.watermark = "777"

	req := jsonRequest(t, "POST", "/ingest/mailbox/enable", gin.H{
		"tenantId": "t1", "enabled": true, "defaultQueueId": "q1",
	})
	req.Header.Set(DefaultAPIKeyHeader, adminKey)

	w := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	integration, ok := env.store.GetIntegration("t1", models.ChannelMailboxPoll)
	require.True(t, ok)
	assert.True(t, integration.Enabled)
	require.NotNil(t, integration.Cursor)
	assert.Equal(t, "777", *integration.Cursor)
	assert.Equal(t, "q1", integration.DefaultQueueID)
}

func TestHandleMailboxDisable(t *testing.T) {
	env := setupTestServer(t)
	env.setIntegration(t, "t1", models.ChannelMailboxPoll, "", "")

	cursor := "42"
	failure := "upstream down"
	require.NoError(t, env.store.RecordSyncOutcome("t1", models.ChannelMailboxPoll, models.SyncOutcome{
		Cursor: &cursor, PolledAt: time.Now(), LastError: &failure,
	}))

	req := jsonRequest(t, "POST", "/ingest/mailbox/enable", gin.H{"tenantId": "t1", "enabled": false})
	req.Header.Set(DefaultAPIKeyHeader, adminKey)

	w := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	integration, _ := env.store.GetIntegration("t1", models.ChannelMailboxPoll)
	assert.False(t, integration.Enabled)
	assert.Nil(t, integration.LastError, "disable clears last_error")
	require.NotNil(t, integration.Cursor)
	assert.Equal(t, "42", *integration.Cursor, "disable keeps the cursor")
}

func TestHandleMailboxDisconnect(t *testing.T) {
	env := setupTestServer(t)
	env.connectTenant(t, "t1")
	env.setIntegration(t, "t1", models.ChannelMailboxPoll, "", "")

	req := jsonRequest(t, "POST", "/ingest/mailbox/disconnect", gin.H{"tenantId": "t1"})
	req.Header.Set(DefaultAPIKeyHeader, adminKey)

	w := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	connected, _, _ := env.vault.Status("t1")
	assert.False(t, connected)
	integration, _ := env.store.GetIntegration("t1", models.ChannelMailboxPoll)
	assert.False(t, integration.Enabled)
}

func TestHandleCheckNow(t *testing.T) {
	env := setupTestServer(t)
	env.connectTenant(t, "t1")
	env.setIntegration(t, "t1", models.ChannelMailboxPoll, "", "")
	env.provider.inbox = []string{"m1"}
	env.provider.messages["m1"] = &mailbox.Message{ID: "m1", Subject: "Printer down", From: "dana@example.com", Body: "details"}

	req := jsonRequest(t, "POST", "/ingest/check-now", gin.H{"tenantId": "t1"})
	req.Header.Set(DefaultAPIKeyHeader, adminKey)

	w := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		OK      bool         `json:"ok"`
		Polled  int          `json:"polled"`
		Results []PollResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "t1", resp.Results[0].TenantID)
	assert.Equal(t, "ok", resp.Results[0].Status)
	assert.Equal(t, 1, resp.Results[0].Created)
}

func TestHandleCheckNowUnknownTenant(t *testing.T) {
	env := setupTestServer(t)

	req := jsonRequest(t, "POST", "/ingest/check-now", gin.H{"tenantId": "ghost"})
	req.Header.Set(DefaultAPIKeyHeader, adminKey)

	w := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlePollSweep(t *testing.T) {
	env := setupTestServer(t)
	env.connectTenant(t, "t1")
	env.setIntegration(t, "t1", models.ChannelMailboxPoll, "", "")
	env.provider.inbox = []string{"m1"}
	env.provider.messages["m1"] = &mailbox.Message{ID: "m1", Subject: "Printer down", From: "dana@example.com"}

	req, _ := http.NewRequest("GET", "/ingest/poll-sweep", nil)
	req.Header.Set("Authorization", "Bearer "+dispatchSecret)

	w := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		OK      bool         `json:"ok"`
		Polled  int          `json:"polled"`
		Results []PollResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, 1, resp.Polled)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 1, resp.Results[0].Created)
}

func TestHandlePollWithHeaderSecret(t *testing.T) {
	env := setupTestServer(t)
	env.connectTenant(t, "t1")
	env.setIntegration(t, "t1", models.ChannelMailboxPoll, "", "")

	req := jsonRequest(t, "POST", "/ingest/poll", gin.H{"tenantId": "t1"})
	req.Header.Set("x-dispatch-secret", dispatchSecret)

	w := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleStatus(t *testing.T) {
	env := setupTestServer(t)
	env.connectTenant(t, "t1")
	env.setIntegration(t, "t1", models.ChannelMailboxPoll, "", "")
	env.setIntegration(t, "t1", models.ChannelSheetWebhook, "sheet-secret", "")

	req, _ := http.NewRequest("GET", "/ingest/status?tenant_id=t1", nil)
	req.Header.Set(DefaultAPIKeyHeader, adminKey)

	w := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		TenantID   string `json:"tenantId"`
		Credential struct {
			Connected bool   `json:"connected"`
			Email     string `json:"email"`
		} `json:"credential"`
		Integrations []IntegrationStatus `json:"integrations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Credential.Connected)
	assert.Equal(t, "t1@example.com", resp.Credential.Email)
	assert.Len(t, resp.Integrations, 2)
	assert.NotContains(t, w.Body.String(), "access-token", "tokens must never be exposed")
}

func TestHandleMailboxConnect(t *testing.T) {
	env := setupTestServer(t)

	req := jsonRequest(t, "POST", "/ingest/mailbox/connect", gin.H{
		"tenantId":      "t1",
		"accessToken":   "new-access",
		"refreshToken":  "new-refresh",
		"expiresAt":     time.Now().Add(time.Hour).Format(time.RFC3339),
		"providerEmail": "t1@example.com",
	})
	req.Header.Set(DefaultAPIKeyHeader, adminKey)

	w := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	connected, email, _ := env.vault.Status("t1")
	assert.True(t, connected)
	assert.Equal(t, "t1@example.com", email)
}

func TestShutdown(t *testing.T) {
	env := setupTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, env.server.Shutdown(ctx))
}
