package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/GilMM/caseflow/internal/errors"
	"github.com/GilMM/caseflow/internal/logging"
	"github.com/GilMM/caseflow/internal/models"
)

// SQLiteStore provides SQLite-based storage for the ingestion pipeline with
// WAL mode. It is thread-safe and supports concurrent access.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	logger *logging.Logger
}

// NewSQLiteStore creates a new SQLite store with WAL mode enabled
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Create directory if it doesn't exist
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &errors.ErrDirectoryCreate{Path: dir, Err: err}
		}
	}

	// Open database with WAL mode enabled
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)&_pragma=cache_size(2000)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}

	// Run migrations
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{
		db:     db,
		logger: logging.NewLogger(),
	}, nil
}

// runMigrations runs database migrations
func runMigrations(db *sql.DB) error {
	// Create migrations table if not exists
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "create migrations table", Err: err}
	}

	// Get current migration version
	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "get current migration version", Err: err}
	}

	// Define migrations
	migrations := []struct {
		version int
		up      string
	}{
		{
			version: 1,
			up: `
				CREATE TABLE IF NOT EXISTS integrations (
					id TEXT PRIMARY KEY,
					tenant_id TEXT NOT NULL,
					channel TEXT NOT NULL,
					enabled INTEGER NOT NULL DEFAULT 1,
					default_queue_id TEXT NOT NULL,
					cursor TEXT,
					webhook_secret TEXT NOT NULL DEFAULT '',
					create_rule TEXT NOT NULL DEFAULT '',
					last_polled_at DATETIME,
					processed_count INTEGER NOT NULL DEFAULT 0,
					last_error TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (tenant_id, channel)
				);

				CREATE TABLE IF NOT EXISTS credentials (
					tenant_id TEXT PRIMARY KEY,
					access_token BLOB NOT NULL,
					refresh_token BLOB,
					expires_at DATETIME NOT NULL,
					provider_email TEXT NOT NULL DEFAULT '',
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE TABLE IF NOT EXISTS contacts (
					id TEXT PRIMARY KEY,
					tenant_id TEXT NOT NULL,
					email TEXT NOT NULL,
					name TEXT NOT NULL DEFAULT '',
					source TEXT NOT NULL DEFAULT '',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (tenant_id, email)
				);

				CREATE TABLE IF NOT EXISTS cases (
					id TEXT PRIMARY KEY,
					tenant_id TEXT NOT NULL,
					queue_id TEXT NOT NULL,
					title TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL DEFAULT 'new',
					priority TEXT NOT NULL DEFAULT 'normal',
					contact_id TEXT,
					source TEXT NOT NULL DEFAULT '',
					external_ref TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_integrations_channel ON integrations(channel, enabled);
				CREATE INDEX IF NOT EXISTS idx_contacts_email ON contacts(tenant_id, email);
				CREATE UNIQUE INDEX IF NOT EXISTS idx_cases_external_ref
					ON cases(tenant_id, external_ref) WHERE external_ref IS NOT NULL;
				CREATE INDEX IF NOT EXISTS idx_cases_tenant ON cases(tenant_id, created_at);
			`,
		},
	}

	// Run pending migrations
	tx, err := db.Begin()
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "begin transaction", Err: err}
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, m := range migrations {
		if m.version > currentVersion {
			if _, err := tx.Exec(m.up); err != nil {
				return &errors.ErrDatabaseMigration{Version: m.version, Err: err}
			}
			if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
				return &errors.ErrDatabaseMigration{Version: m.version, Err: err}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return &errors.ErrDatabaseQuery{Operation: "commit migrations", Err: err}
	}

	return nil
}

// Close shuts down the store
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Integration operations

const integrationColumns = `id, tenant_id, channel, enabled, default_queue_id, cursor, webhook_secret, create_rule, last_polled_at, processed_count, last_error, created_at, updated_at`

func scanIntegration(row interface{ Scan(...any) error }) (*models.Integration, error) {
	var in models.Integration
	err := row.Scan(&in.ID, &in.TenantID, &in.Channel, &in.Enabled, &in.DefaultQueueID,
		&in.Cursor, &in.WebhookSecret, &in.CreateRule, &in.LastPolledAt,
		&in.ProcessedCount, &in.LastError, &in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &in, nil
}

// GetIntegration retrieves a tenant's integration for a channel
func (s *SQLiteStore) GetIntegration(tenantID string, channel models.ChannelKind) (*models.Integration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT `+integrationColumns+`
		FROM integrations WHERE tenant_id = ? AND channel = ?
	`, tenantID, channel)

	in, err := scanIntegration(row)
	if err != nil {
		return nil, false
	}
	return in, true
}

// SetIntegration stores or updates an integration
func (s *SQLiteStore) SetIntegration(in *models.Integration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO integrations (id, tenant_id, channel, enabled, default_queue_id, cursor, webhook_secret, create_rule, last_polled_at, processed_count, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, channel) DO UPDATE SET
			enabled = excluded.enabled,
			default_queue_id = excluded.default_queue_id,
			cursor = excluded.cursor,
			webhook_secret = excluded.webhook_secret,
			create_rule = excluded.create_rule,
			updated_at = excluded.updated_at
	`, in.ID, in.TenantID, in.Channel, in.Enabled, in.DefaultQueueID, in.Cursor,
		in.WebhookSecret, in.CreateRule, in.LastPolledAt, in.ProcessedCount, in.LastError, now, now)

	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "set integration", Err: err}
	}
	return nil
}

// SetIntegrationEnabled flips the enabled flag for a tenant's channel.
// Disabling clears the recorded error but keeps the cursor, so a later
// re-enable resumes rather than resyncing.
func (s *SQLiteStore) SetIntegrationEnabled(tenantID string, channel models.ChannelKind, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`
		UPDATE integrations
		SET enabled = ?, last_error = CASE WHEN ? THEN last_error ELSE NULL END, updated_at = ?
		WHERE tenant_id = ? AND channel = ?
	`, enabled, enabled, time.Now().UTC(), tenantID, channel)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "set integration enabled", Err: err}
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.ErrNotConnected
	}
	return nil
}

// ListEnabledIntegrations returns enabled integrations for a channel,
// ordered by tenant for a stable sweep order
func (s *SQLiteStore) ListEnabledIntegrations(channel models.ChannelKind) []*models.Integration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT `+integrationColumns+`
		FROM integrations WHERE channel = ? AND enabled = 1 ORDER BY tenant_id
	`, channel)
	if err != nil {
		return []*models.Integration{}
	}
	defer rows.Close()

	var integrations []*models.Integration
	for rows.Next() {
		in, err := scanIntegration(rows)
		if err != nil {
			continue
		}
		integrations = append(integrations, in)
	}

	return integrations
}

// ListIntegrations returns all of a tenant's integrations
func (s *SQLiteStore) ListIntegrations(tenantID string) []*models.Integration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT `+integrationColumns+`
		FROM integrations WHERE tenant_id = ? ORDER BY channel
	`, tenantID)
	if err != nil {
		return []*models.Integration{}
	}
	defer rows.Close()

	var integrations []*models.Integration
	for rows.Next() {
		in, err := scanIntegration(rows)
		if err != nil {
			continue
		}
		integrations = append(integrations, in)
	}

	return integrations
}

// FindIntegrationBySecret resolves a push integration from its shared secret
func (s *SQLiteStore) FindIntegrationBySecret(channel models.ChannelKind, secret string) (*models.Integration, bool) {
	if secret == "" {
		return nil, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT `+integrationColumns+`
		FROM integrations WHERE channel = ? AND webhook_secret = ? AND enabled = 1
	`, channel, secret)

	in, err := scanIntegration(row)
	if err != nil {
		return nil, false
	}
	return in, true
}

// RecordSyncOutcome writes per-pass bookkeeping back onto an integration.
// A nil outcome cursor leaves the stored cursor untouched.
func (s *SQLiteStore) RecordSyncOutcome(tenantID string, channel models.ChannelKind, outcome models.SyncOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`
		UPDATE integrations SET
			cursor = COALESCE(?, cursor),
			last_polled_at = ?,
			processed_count = processed_count + ?,
			last_error = ?,
			updated_at = ?
		WHERE tenant_id = ? AND channel = ?
	`, outcome.Cursor, outcome.PolledAt, outcome.CreatedDelta, outcome.LastError, time.Now().UTC(), tenantID, channel)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "record sync outcome", Err: err}
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.ErrNotConnected
	}
	return nil
}

// Credential operations

// GetCredential retrieves the stored token material for a tenant
func (s *SQLiteStore) GetCredential(tenantID string) (*models.Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cred models.Credential
	err := s.db.QueryRow(`
		SELECT tenant_id, access_token, refresh_token, expires_at, provider_email, updated_at
		FROM credentials WHERE tenant_id = ?
	`, tenantID).Scan(&cred.TenantID, &cred.AccessToken, &cred.RefreshToken, &cred.ExpiresAt, &cred.ProviderEmail, &cred.UpdatedAt)

	if err != nil {
		return nil, false
	}
	return &cred, true
}

// PutCredential stores or replaces the token material for a tenant
func (s *SQLiteStore) PutCredential(cred *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO credentials (tenant_id, access_token, refresh_token, expires_at, provider_email, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			provider_email = excluded.provider_email,
			updated_at = excluded.updated_at
	`, cred.TenantID, cred.AccessToken, cred.RefreshToken, cred.ExpiresAt, cred.ProviderEmail, time.Now().UTC())

	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "put credential", Err: err}
	}
	return nil
}

// UpdateTokens replaces the access token after a refresh. A nil refresh
// token preserves the one already stored.
func (s *SQLiteStore) UpdateTokens(tenantID string, accessToken, refreshToken []byte, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`
		UPDATE credentials SET
			access_token = ?,
			refresh_token = COALESCE(?, refresh_token),
			expires_at = ?,
			updated_at = ?
		WHERE tenant_id = ?
	`, accessToken, refreshToken, expiresAt, time.Now().UTC(), tenantID)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "update tokens", Err: err}
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.ErrNotConnected
	}
	return nil
}

// DeleteCredential removes a tenant's token material
func (s *SQLiteStore) DeleteCredential(tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM credentials WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "delete credential", Err: err}
	}
	return nil
}

// Contact operations

// FindContactByEmail looks up a contact by its tenant-scoped email
func (s *SQLiteStore) FindContactByEmail(tenantID, email string) (*models.Contact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var contact models.Contact
	err := s.db.QueryRow(`
		SELECT id, tenant_id, email, name, source, created_at
		FROM contacts WHERE tenant_id = ? AND email = ?
	`, tenantID, email).Scan(&contact.ID, &contact.TenantID, &contact.Email, &contact.Name, &contact.Source, &contact.CreatedAt)

	if err != nil {
		return nil, false
	}
	return &contact, true
}

// InsertContact stores a new contact
func (s *SQLiteStore) InsertContact(contact *models.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO contacts (id, tenant_id, email, name, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, contact.ID, contact.TenantID, contact.Email, contact.Name, contact.Source, contact.CreatedAt)

	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "insert contact", Err: err}
	}
	return nil
}

// SetContactName fills in a contact's display name
func (s *SQLiteStore) SetContactName(id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE contacts SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "set contact name", Err: err}
	}
	return nil
}

// Case operations

// FindCaseByExternalRef looks up a case by its tenant-scoped external reference
func (s *SQLiteStore) FindCaseByExternalRef(tenantID, externalRef string) (*models.Case, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, tenant_id, queue_id, title, description, status, priority, contact_id, source, external_ref, created_at
		FROM cases WHERE tenant_id = ? AND external_ref = ?
	`, tenantID, externalRef)

	c, err := scanCase(row)
	if err != nil {
		return nil, false
	}
	return c, true
}

// InsertCase stores a new case. A second insert with the same tenant-scoped
// external reference returns ErrDuplicateCase.
func (s *SQLiteStore) InsertCase(c *models.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO cases (id, tenant_id, queue_id, title, description, status, priority, contact_id, source, external_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.TenantID, c.QueueID, c.Title, c.Description, c.Status, c.Priority, c.ContactID, c.Source, c.ExternalRef, c.CreatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return errors.ErrDuplicateCase
		}
		return &errors.ErrDatabaseQuery{Operation: "insert case", Err: err}
	}
	return nil
}

// GetCase retrieves a case by ID
func (s *SQLiteStore) GetCase(id string) (*models.Case, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, tenant_id, queue_id, title, description, status, priority, contact_id, source, external_ref, created_at
		FROM cases WHERE id = ?
	`, id)

	c, err := scanCase(row)
	if err != nil {
		return nil, false
	}
	return c, true
}

func scanCase(row interface{ Scan(...any) error }) (*models.Case, error) {
	var c models.Case
	err := row.Scan(&c.ID, &c.TenantID, &c.QueueID, &c.Title, &c.Description,
		&c.Status, &c.Priority, &c.ContactID, &c.Source, &c.ExternalRef, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Clear removes all data from the store
func (s *SQLiteStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"cases", "contacts", "credentials", "integrations"} {
		if _, err := s.db.Exec("DELETE FROM " + table); err != nil {
			s.logger.Error("failed to clear table", "table", table, "error", err.Error())
		}
	}
}

// Stats returns statistics about the store
func (s *SQLiteStore) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats StoreStats
	counts := []struct {
		table string
		dst   *int
	}{
		{"integrations", &stats.IntegrationCount},
		{"credentials", &stats.CredentialCount},
		{"contacts", &stats.ContactCount},
		{"cases", &stats.CaseCount},
	}
	for _, c := range counts {
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + c.table).Scan(c.dst); err != nil {
			s.logger.Error("failed to count rows", "table", c.table, "error", err.Error())
		}
	}

	return stats
}

// Ensure SQLiteStore implements the Store interface
var _ Store = (*SQLiteStore)(nil)
