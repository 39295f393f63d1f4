// Package monitor keeps each account's channel instance in sync with the
// gateway, driven by a per-account poller and the database change feed.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/wolfman30/practice-platform/internal/changefeed"
	"github.com/wolfman30/practice-platform/internal/connection"
	"github.com/wolfman30/practice-platform/internal/gateway"
	"github.com/wolfman30/practice-platform/internal/observability/metrics"
	"github.com/wolfman30/practice-platform/pkg/logging"
)

// Gateway is the part of the gateway client reconciliation uses.
type Gateway interface {
	ConnectionState(ctx context.Context, name string) (gateway.Observation, error)
	PairingArtifact(ctx context.Context, name string) (string, error)
}

// Repository is the instance persistence reconciliation uses.
type Repository interface {
	Get(ctx context.Context, accountID string) (*connection.Instance, error)
	Upsert(ctx context.Context, inst *connection.Instance) error
	Touch(ctx context.Context, accountID string, at time.Time) error
	Delete(ctx context.Context, accountID string) error
	ListLive(ctx context.Context) ([]string, error)
}

// Alerter surfaces disconnect alerts, collapsing duplicates. Forget drops
// the cooldown of an account whose instance no longer exists.
type Alerter interface {
	Disconnected(accountID, message string) bool
	Forget(accountID string)
}

// NotificationLog is the append-only disconnect log.
type NotificationLog interface {
	RecordedWithin(ctx context.Context, accountID string, window time.Duration) (bool, error)
	RecordDisconnect(ctx context.Context, accountID, message string) error
}

// Feed delivers change events until ctx is cancelled.
type Feed interface {
	Run(ctx context.Context, handle changefeed.Handler) error
}

// Config tunes the supervisor; zero values take the defaults.
type Config struct {
	PollInterval time.Duration
	StaleAfter   time.Duration
	PairingTTL   time.Duration
	LogWindow    time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Minute
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = time.Hour
	}
	if c.PairingTTL <= 0 {
		c.PairingTTL = 45 * time.Second
	}
	if c.LogWindow <= 0 {
		c.LogWindow = 5 * time.Minute
	}
	return c
}

type handle struct {
	cancel context.CancelFunc
}

// Supervisor owns the per-account monitors and the realtime subscription.
// Registry and flags are only touched under mu and never across I/O.
type Supervisor struct {
	mu           sync.Mutex
	monitors     map[string]*handle
	realtime     bool
	feedCancel   context.CancelFunc
	initializing bool
	closed       bool

	base       context.Context
	cancelBase context.CancelFunc
	wg         sync.WaitGroup

	gateway Gateway
	store   Repository
	alerts  Alerter
	log     NotificationLog
	cfg     Config
	now     func() time.Time
	metrics *metrics.MonitorMetrics
	logger  *logging.Logger
}

// NewSupervisor creates a supervisor with no running monitors.
func NewSupervisor(gw Gateway, store Repository, alerts Alerter, log NotificationLog, cfg Config, m *metrics.MonitorMetrics, logger *logging.Logger) *Supervisor {
	if gw == nil || store == nil || alerts == nil {
		panic("monitor: gateway, store and alerter are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		monitors:   make(map[string]*handle),
		base:       base,
		cancelBase: cancel,
		gateway:    gw,
		store:      store,
		alerts:     alerts,
		log:        log,
		cfg:        cfg.withDefaults(),
		now:        func() time.Time { return time.Now().UTC() },
		metrics:    m,
		logger:     logger,
	}
}

// Start begins monitoring an account: one immediate reconciliation, then one
// per poll interval. Starting an already monitored account is a no-op.
func (s *Supervisor) Start(accountID string) {
	if accountID == "" {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, ok := s.monitors[accountID]; ok {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(s.base)
	h := &handle{cancel: cancel}
	s.monitors[accountID] = h
	active := len(s.monitors)
	s.wg.Add(1)
	s.mu.Unlock()

	s.metrics.SetActiveMonitors(active)
	s.logger.Info("connection monitor started", "account_id", accountID)
	go s.run(ctx, accountID, h)
}

// Stop cancels an account's monitor if one is running. A reconciliation
// already in flight still completes.
func (s *Supervisor) Stop(accountID string) {
	s.mu.Lock()
	h, ok := s.monitors[accountID]
	if ok {
		delete(s.monitors, accountID)
	}
	active := len(s.monitors)
	s.mu.Unlock()

	if !ok {
		return
	}
	h.cancel()
	s.metrics.SetActiveMonitors(active)
	s.logger.Info("connection monitor stopped", "account_id", accountID)
}

// stopHandle stops the account only if h is still its registered monitor, so
// a stale goroutine cannot cancel a monitor started after it.
func (s *Supervisor) stopHandle(accountID string, h *handle) {
	s.mu.Lock()
	current, ok := s.monitors[accountID]
	if !ok || current != h {
		s.mu.Unlock()
		h.cancel()
		return
	}
	delete(s.monitors, accountID)
	active := len(s.monitors)
	s.mu.Unlock()

	h.cancel()
	s.metrics.SetActiveMonitors(active)
	s.logger.Info("connection monitor stopped", "account_id", accountID)
}

// Monitoring reports whether the account has a running monitor.
func (s *Supervisor) Monitoring(accountID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.monitors[accountID]
	return ok
}

// Active returns the number of running monitors.
func (s *Supervisor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.monitors)
}

// StopAll cancels every monitor and tears down the realtime subscription.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	handles := s.monitors
	s.monitors = make(map[string]*handle)
	feedCancel := s.feedCancel
	s.feedCancel = nil
	s.realtime = false
	s.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}
	if feedCancel != nil {
		feedCancel()
	}
	s.metrics.SetActiveMonitors(0)
	s.logger.Info("all connection monitors stopped", "count", len(handles))
}

// Bootstrap starts monitors for every connected or connecting instance. A
// call made while another bootstrap is running returns immediately.
func (s *Supervisor) Bootstrap(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.initializing || s.closed {
		s.mu.Unlock()
		return 0, nil
	}
	s.initializing = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.initializing = false
		s.mu.Unlock()
	}()

	accounts, err := s.store.ListLive(ctx)
	if err != nil {
		s.logger.Error("monitor bootstrap failed", "error", err)
		return 0, err
	}
	for _, accountID := range accounts {
		s.Start(accountID)
	}
	s.logger.Info("connection monitors bootstrapped", "accounts", len(accounts))
	return len(accounts), nil
}

// Subscribe attaches the change feed once. It reports whether this call
// set up the subscription.
func (s *Supervisor) Subscribe(feed Feed) bool {
	s.mu.Lock()
	if s.realtime || s.closed {
		s.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(s.base)
	s.realtime = true
	s.feedCancel = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if err := feed.Run(ctx, s.HandleEvent); err != nil {
			s.logger.Error("change feed stopped", "error", err)
		}
		s.mu.Lock()
		if ctx.Err() == nil {
			s.realtime = false
			s.feedCancel = nil
		}
		s.mu.Unlock()
		cancel()
	}()
	return true
}

// Subscribed reports whether the realtime subscription is active.
func (s *Supervisor) Subscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.realtime
}

// Close stops everything and waits for background goroutines to exit.
func (s *Supervisor) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.StopAll()
	s.cancelBase()
	s.wg.Wait()
}

func (s *Supervisor) run(ctx context.Context, accountID string, h *handle) {
	defer s.wg.Done()

	if s.tick(ctx, accountID, "start") {
		s.stopHandle(accountID, h)
		return
	}
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.tick(ctx, accountID, "poll") {
				s.stopHandle(accountID, h)
				return
			}
		}
	}
}

// tick runs one reconciliation detached from the monitor's cancellation.
func (s *Supervisor) tick(ctx context.Context, accountID, trigger string) bool {
	started := time.Now()
	stop, outcome := s.reconcileAccount(context.WithoutCancel(ctx), accountID)
	s.metrics.ObserveReconcile(trigger, outcome)
	s.metrics.ObserveReconcileLatency(outcome, time.Since(started).Seconds())
	return stop
}
