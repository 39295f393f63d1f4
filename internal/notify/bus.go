// Package notify carries disconnect alerts from the monitoring components
// to UI sessions, email and the append-only notification log.
package notify

import (
	"sync"
	"time"
)

// Alert kinds.
const (
	KindDisconnected = "connection.disconnected"
)

// Alert is a user-facing notice for one account.
type Alert struct {
	AccountID string    `json:"account_id"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
	Origin    string    `json:"origin,omitempty"`
}

// Bus is an in-process publish/subscribe hub for alerts. Slow subscribers
// lose alerts rather than blocking publishers.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]subscription
}

type subscription struct {
	accountID string
	ch        chan Alert
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]subscription)}
}

// Subscribe registers a listener. An empty accountID receives every alert.
// The returned cancel func closes the channel.
func (b *Bus) Subscribe(accountID string, buffer int) (<-chan Alert, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Alert, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = subscription{accountID: accountID, ch: ch}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish fans the alert out to matching subscribers and reports how many
// received it.
func (b *Bus) Publish(alert Alert) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	delivered := 0
	for _, sub := range b.subs {
		if sub.accountID != "" && sub.accountID != alert.AccountID {
			continue
		}
		select {
		case sub.ch <- alert:
			delivered++
		default:
		}
	}
	return delivered
}
