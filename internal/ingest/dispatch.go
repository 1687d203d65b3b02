package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/GilMM/caseflow/internal/config"
	"github.com/GilMM/caseflow/internal/logging"
	"github.com/GilMM/caseflow/internal/models"
	"github.com/GilMM/caseflow/internal/store"
)

// SweepReport summarizes one sweep over all enabled mailbox integrations.
type SweepReport struct {
	Swept     int          `json:"swept"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Busy      int          `json:"busy"`
	Duration  string       `json:"duration"`
	Results   []PassResult `json:"results,omitempty"`
}

// FailureNotifier receives sync failures for operator alerting.
type FailureNotifier interface {
	SyncFailed(tenantID, channel, errMsg string)
}

// Coordinator drives scheduled poll sweeps. Tenants are processed
// sequentially under a wall-clock budget; a per-tenant lease keeps an
// externally triggered sweep from running the same mailbox twice at once.
type Coordinator struct {
	store    store.Store
	engine   *Engine
	cfg      config.IngestConfig
	logger   *logging.Logger
	notifier FailureNotifier
	stopCh   chan struct{}
	leaseMu  sync.Mutex
	leases   map[string]*sync.Mutex
}

func NewCoordinator(s store.Store, engine *Engine, cfg config.IngestConfig, logger *logging.Logger) *Coordinator {
	return &Coordinator{
		store:  s,
		engine: engine,
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		leases: make(map[string]*sync.Mutex),
	}
}

// SetNotifier attaches operator alerting for failed passes.
func (c *Coordinator) SetNotifier(n FailureNotifier) {
	c.notifier = n
}

// Start runs sweeps on the configured interval until the context is
// cancelled or Stop is called.
func (c *Coordinator) Start(ctx context.Context) {
	c.logger.Info("poll coordinator started", "interval", c.cfg.SweepInterval.String())

	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("poll coordinator stopped")
			return
		case <-c.stopCh:
			c.logger.Info("poll coordinator stopped")
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// Stop terminates the Start loop.
func (c *Coordinator) Stop() {
	close(c.stopCh)
}

// Sweep polls every enabled mailbox integration once, in tenant order.
// One tenant's failure does not stop the others. When the budget runs
// out mid-sweep, remaining tenants wait for the next sweep; the deferred
// cursor write makes the cut-off tenant resume safely.
func (c *Coordinator) Sweep(ctx context.Context) SweepReport {
	started := time.Now()
	sweepCtx, cancel := context.WithTimeout(ctx, c.cfg.SweepBudget)
	defer cancel()

	report := SweepReport{}
	for _, integration := range c.store.ListEnabledIntegrations(models.ChannelMailboxPoll) {
		if sweepCtx.Err() != nil {
			c.logger.Warn("sweep budget exhausted",
				"swept", report.Swept, "budget", c.cfg.SweepBudget.String())
			break
		}
		result, ok := c.runLeased(sweepCtx, integration)
		if !ok {
			report.Busy++
			continue
		}
		report.Swept++
		report.Results = append(report.Results, result)
		if result.Err != nil {
			report.Failed++
		} else {
			report.Succeeded++
		}
	}

	report.Duration = time.Since(started).Round(time.Millisecond).String()
	c.logger.Info("sweep complete",
		"swept", report.Swept,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"busy", report.Busy,
		"duration", report.Duration)
	return report
}

// RunTenant polls a single tenant's mailbox outside the sweep schedule.
// Returns false when the integration is missing or disabled.
func (c *Coordinator) RunTenant(ctx context.Context, tenantID string) (PassResult, bool) {
	integration, ok := c.store.GetIntegration(tenantID, models.ChannelMailboxPoll)
	if !ok || !integration.Enabled {
		return PassResult{}, false
	}
	result, ok := c.runLeased(ctx, integration)
	if !ok {
		return PassResult{TenantID: tenantID, Mode: "busy"}, true
	}
	return result, true
}

// runLeased runs a pass under the tenant's lease. A held lease means a
// pass is already in flight for this mailbox; report busy instead of
// blocking the sweep behind it.
func (c *Coordinator) runLeased(ctx context.Context, integration *models.Integration) (PassResult, bool) {
	lease := c.lease(integration.TenantID)
	if !lease.TryLock() {
		c.logger.Debug("sync already in flight", "tenant_id", integration.TenantID)
		return PassResult{}, false
	}
	defer lease.Unlock()

	result := c.engine.RunPass(ctx, integration)
	if result.Err != nil && c.notifier != nil {
		c.notifier.SyncFailed(integration.TenantID, string(integration.Channel), result.Err.Error())
	}
	return result, true
}

func (c *Coordinator) lease(tenantID string) *sync.Mutex {
	c.leaseMu.Lock()
	defer c.leaseMu.Unlock()
	if m, ok := c.leases[tenantID]; ok {
		return m
	}
	m := &sync.Mutex{}
	c.leases[tenantID] = m
	return m
}
