package notify

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	"github.com/wolfman30/practice-platform/internal/tenancy"
	"github.com/wolfman30/practice-platform/pkg/logging"
)

type streamMessage struct {
	Type  string `json:"type"`
	Alert *Alert `json:"alert,omitempty"`
}

// StreamHandler pushes an account's alerts to a websocket client.
type StreamHandler struct {
	bus       *Bus
	origins   []string
	keepalive time.Duration
	logger    *logging.Logger
}

// NewStreamHandler creates a websocket alert stream.
func NewStreamHandler(bus *Bus, logger *logging.Logger) *StreamHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &StreamHandler{bus: bus, keepalive: 30 * time.Second, logger: logger}
}

// WithAllowedOrigins restricts upgrades to browser origins in the list, in
// the same form as the CORS allow-list. An empty list or "*" allows any.
func (h *StreamHandler) WithAllowedOrigins(origins []string) *StreamHandler {
	h.origins = nil
	for _, o := range origins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			h.origins = append(h.origins, o)
		}
	}
	return h
}

// ServeHTTP upgrades the request and streams alerts until the client leaves.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	accountID, ok := tenancy.RequireAccountID(w, r)
	if !ok {
		return
	}
	websocket.Server{
		Handshake: h.checkOrigin,
		Handler: func(conn *websocket.Conn) {
			h.serveWS(conn, accountID)
		},
	}.ServeHTTP(w, r)
}

// checkOrigin rejects the upgrade with 403 when a browser origin is not
// allowed. Requests without an Origin header are not from browsers and rely
// on the bearer token alone.
func (h *StreamHandler) checkOrigin(config *websocket.Config, req *http.Request) error {
	origin, err := websocket.Origin(config, req)
	if err != nil {
		return err
	}
	config.Origin = origin
	if origin == nil || len(h.origins) == 0 {
		return nil
	}
	got := origin.Scheme + "://" + origin.Host
	for _, allowed := range h.origins {
		if allowed == "*" || strings.EqualFold(allowed, got) {
			return nil
		}
	}
	h.logger.Warn("alert stream origin rejected", "origin", got)
	return errors.New("notify: origin not allowed")
}

func (h *StreamHandler) serveWS(conn *websocket.Conn, accountID string) {
	alerts, cancel := h.bus.Subscribe(accountID, 16)
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		var discard streamMessage
		for {
			if err := websocket.JSON.Receive(conn, &discard); err != nil {
				return
			}
		}
	}()

	if err := websocket.JSON.Send(conn, streamMessage{Type: "ready"}); err != nil {
		return
	}
	h.logger.Debug("alert stream opened", "account_id", accountID)

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			h.logger.Debug("alert stream closed", "account_id", accountID)
			return
		case alert, ok := <-alerts:
			if !ok {
				return
			}
			if err := websocket.JSON.Send(conn, streamMessage{Type: "alert", Alert: &alert}); err != nil {
				return
			}
		case <-ticker.C:
			if err := websocket.JSON.Send(conn, streamMessage{Type: "ping"}); err != nil {
				return
			}
		}
	}
}
