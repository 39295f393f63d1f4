package notify

import (
	"sync"
	"time"

	"github.com/wolfman30/practice-platform/internal/observability/metrics"
	"github.com/wolfman30/practice-platform/pkg/logging"
)

// Publisher receives surfaced alerts.
type Publisher interface {
	Publish(alert Alert) int
}

// Throttler collapses disconnect alerts for the same account that arrive
// within the cooldown window, since the poller and the change feed can both
// detect the same disconnect moments apart.
type Throttler struct {
	mu       sync.Mutex
	last     map[string]time.Time
	cooldown time.Duration
	now      func() time.Time
	out      Publisher
	metrics  *metrics.MonitorMetrics
	logger   *logging.Logger
}

// NewThrottler creates a throttler; a non-positive cooldown means 30s.
func NewThrottler(out Publisher, cooldown time.Duration, m *metrics.MonitorMetrics, logger *logging.Logger) *Throttler {
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Throttler{
		last:     make(map[string]time.Time),
		cooldown: cooldown,
		now:      time.Now,
		out:      out,
		metrics:  m,
		logger:   logger,
	}
}

// WithClock overrides the time source.
func (t *Throttler) WithClock(now func() time.Time) *Throttler {
	if now != nil {
		t.now = now
	}
	return t
}

// Disconnected surfaces a disconnect alert unless one was surfaced for the
// account within the cooldown. It reports whether the alert was surfaced.
func (t *Throttler) Disconnected(accountID, message string) bool {
	now := t.now()

	t.mu.Lock()
	if last, ok := t.last[accountID]; ok && now.Sub(last) <= t.cooldown {
		t.mu.Unlock()
		t.metrics.ObserveAlert(false)
		t.logger.Debug("disconnect alert suppressed", "account_id", accountID, "since_last", now.Sub(last).String())
		return false
	}
	t.last[accountID] = now
	t.mu.Unlock()

	delivered := t.out.Publish(Alert{
		AccountID: accountID,
		Kind:      KindDisconnected,
		Message:   message,
		At:        now.UTC(),
	})
	t.metrics.ObserveAlert(true)
	t.logger.Info("disconnect alert surfaced", "account_id", accountID, "subscribers", delivered)
	return true
}

// Forget drops the cooldown state for an account.
func (t *Throttler) Forget(accountID string) {
	t.mu.Lock()
	delete(t.last, accountID)
	t.mu.Unlock()
}
