// Package changefeed streams row changes published by Postgres triggers
// through LISTEN/NOTIFY.
package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/practice-platform/pkg/logging"
)

// Event types emitted by the notify trigger.
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
)

// DefaultChannel is the channel the connection_instances trigger notifies on.
const DefaultChannel = "connection_instances_changes"

// Row is the part of a changed row the listener cares about.
type Row struct {
	AccountID string `json:"account_id"`
	Status    string `json:"status"`
}

// Event is one decoded notification. Old is nil for inserts, New for deletes.
type Event struct {
	Type string `json:"eventType"`
	Old  *Row   `json:"old"`
	New  *Row   `json:"new"`
}

// AccountID returns the account of whichever row image is present.
func (e Event) AccountID() string {
	if e.New != nil && e.New.AccountID != "" {
		return e.New.AccountID
	}
	if e.Old != nil {
		return e.Old.AccountID
	}
	return ""
}

// Decode parses a notification payload.
func Decode(payload string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return Event{}, fmt.Errorf("changefeed: decode payload: %w", err)
	}
	switch ev.Type {
	case EventInsert, EventUpdate, EventDelete:
	default:
		return Event{}, fmt.Errorf("changefeed: unknown event type %q", ev.Type)
	}
	if ev.AccountID() == "" {
		return Event{}, errors.New("changefeed: event without account")
	}
	return ev, nil
}

// Conn is the subset of *pgx.Conn used for listening.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// Dialer opens a dedicated listening connection.
type Dialer func(ctx context.Context) (Conn, error)

// PgxDialer dials databaseURL with pgx.
func PgxDialer(databaseURL string) Dialer {
	return func(ctx context.Context) (Conn, error) {
		conn, err := pgx.Connect(ctx, databaseURL)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// Handler consumes decoded events.
type Handler func(ctx context.Context, ev Event)

// Listener holds one LISTEN connection and re-establishes it with
// exponential backoff when it drops.
type Listener struct {
	dial       Dialer
	channel    string
	backoff    time.Duration
	maxBackoff time.Duration
	onConnect  func(ctx context.Context, reconnect bool)
	logger     *logging.Logger
}

// NewListener creates a listener for channel; empty means DefaultChannel.
func NewListener(dial Dialer, channel string, logger *logging.Logger) *Listener {
	if logger == nil {
		logger = logging.Default()
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &Listener{
		dial:       dial,
		channel:    channel,
		backoff:    time.Second,
		maxBackoff: 30 * time.Second,
		logger:     logger,
	}
}

// WithBackoff overrides the reconnect delays.
func (l *Listener) WithBackoff(initial, maxDelay time.Duration) *Listener {
	if initial > 0 {
		l.backoff = initial
	}
	if maxDelay >= l.backoff {
		l.maxBackoff = maxDelay
	}
	return l
}

// OnConnect registers a hook run after every successful LISTEN. reconnect is
// false on the first connection; notifications sent while disconnected are
// lost, so callers use it to resynchronise.
func (l *Listener) OnConnect(fn func(ctx context.Context, reconnect bool)) *Listener {
	l.onConnect = fn
	return l
}

// Run listens until ctx is cancelled, calling handle for each event in order.
func (l *Listener) Run(ctx context.Context, handle Handler) error {
	delay := l.backoff
	connected := false
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn, err := l.listen(ctx)
		if err != nil {
			l.logger.Warn("change feed connect failed", "channel", l.channel, "error", err, "retry_in", delay.String())
			if !sleep(ctx, delay) {
				return nil
			}
			delay *= 2
			if delay > l.maxBackoff {
				delay = l.maxBackoff
			}
			continue
		}

		delay = l.backoff
		l.logger.Info("change feed listening", "channel", l.channel, "reconnect", connected)
		if l.onConnect != nil {
			l.onConnect(ctx, connected)
		}
		connected = true

		err = l.consume(ctx, conn, handle)
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		_ = conn.Close(closeCtx)
		cancel()
		if ctx.Err() != nil {
			return nil
		}
		l.logger.Warn("change feed connection lost", "channel", l.channel, "error", err)
	}
}

func (l *Listener) listen(ctx context.Context) (Conn, error) {
	conn, err := l.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("changefeed: dial: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("changefeed: listen %s: %w", l.channel, err)
	}
	return conn, nil
}

func (l *Listener) consume(ctx context.Context, conn Conn, handle Handler) error {
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		ev, err := Decode(n.Payload)
		if err != nil {
			l.logger.Warn("change feed payload skipped", "channel", n.Channel, "error", err)
			continue
		}
		handle(ctx, ev)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
