package sessions

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/practice-platform/pkg/logging"
)

type confirmationStore interface {
	NotificationTarget(ctx context.Context, accountID string, id uuid.UUID) (*NotificationTarget, error)
	EnsureNotificationToken(ctx context.Context, accountID string, id uuid.UUID, candidate string) (string, error)
	ConfirmationState(ctx context.Context, id uuid.UUID) (*string, bool, error)
	MarkConfirmed(ctx context.Context, id uuid.UUID, at time.Time) error
}

// ConfirmationMessage is the payload posted to the notification webhook.
type ConfirmationMessage struct {
	AccountID    string `json:"account_id"`
	PatientName  string `json:"patient_name"`
	PatientPhone string `json:"patient_phone"`
	SessionID    string `json:"session_id"`
	SessionDate  string `json:"session_date"`
	SessionTime  string `json:"session_time"`
	ConfirmURL   string `json:"confirm_url"`
	MeetingLink  string `json:"meeting_link,omitempty"`
}

// Notifier delivers a confirmation request to the patient.
type Notifier interface {
	Notify(ctx context.Context, msg ConfirmationMessage) error
}

// WebhookNotifier posts confirmation requests to an automation webhook with
// static basic-auth credentials.
type WebhookNotifier struct {
	url        string
	user       string
	password   string
	httpClient *http.Client
}

// NewWebhookNotifier builds a notifier; a nil client gets a 10s timeout.
func NewWebhookNotifier(webhookURL, user, password string, client *http.Client) *WebhookNotifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookNotifier{url: webhookURL, user: user, password: password, httpClient: client}
}

// Notify posts msg as JSON.
func (n *WebhookNotifier) Notify(ctx context.Context, msg ConfirmationMessage) error {
	if n.url == "" {
		return errors.New("sessions: notification webhook not configured")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("sessions: marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sessions: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.user != "" || n.password != "" {
		req.SetBasicAuth(n.user, n.password)
	}
	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sessions: webhook request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sessions: webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}

// Confirmations sends patients a confirmation link and records their answer.
type Confirmations struct {
	store    confirmationStore
	notifier Notifier
	baseURL  string
	now      func() time.Time
	newToken func() (string, error)
	logger   *logging.Logger
}

// NewConfirmations wires the confirmation flow. baseURL is the public origin
// used to build confirm links.
func NewConfirmations(store confirmationStore, notifier Notifier, baseURL string, logger *logging.Logger) *Confirmations {
	if logger == nil {
		logger = logging.Default()
	}
	return &Confirmations{
		store:    store,
		notifier: notifier,
		baseURL:  baseURL,
		now:      func() time.Time { return time.Now().UTC() },
		newToken: randomToken,
		logger:   logger,
	}
}

// NotifyPatient makes sure the session has a token and posts the webhook.
func (c *Confirmations) NotifyPatient(ctx context.Context, accountID string, sessionID uuid.UUID) (*ConfirmationMessage, error) {
	if c.notifier == nil {
		return nil, ErrNotifierDisabled
	}
	target, err := c.store.NotificationTarget(ctx, accountID, sessionID)
	if err != nil {
		return nil, err
	}
	candidate, err := c.newToken()
	if err != nil {
		return nil, err
	}
	token, err := c.store.EnsureNotificationToken(ctx, accountID, sessionID, candidate)
	if err != nil {
		return nil, err
	}

	msg := ConfirmationMessage{
		AccountID:    target.AccountID,
		PatientName:  target.PatientName,
		PatientPhone: target.PatientPhone,
		SessionID:    target.SessionID.String(),
		SessionDate:  target.Date.Format("2006-01-02"),
		SessionTime:  target.Time,
		ConfirmURL:   c.confirmURL(sessionID, token),
		MeetingLink:  target.MeetingLink,
	}
	if err := c.notifier.Notify(ctx, msg); err != nil {
		c.logger.Error("confirmation webhook failed", "account_id", accountID, "session_id", sessionID, "error", err)
		return nil, err
	}
	c.logger.Info("confirmation requested", "account_id", accountID, "session_id", sessionID)
	return &msg, nil
}

// Confirm records the patient's confirmation when token matches. Repeat
// confirmations succeed without changing the original timestamp.
func (c *Confirmations) Confirm(ctx context.Context, sessionID uuid.UUID, token string) error {
	stored, confirmed, err := c.store.ConfirmationState(ctx, sessionID)
	if err != nil {
		return err
	}
	if stored == nil || token == "" || subtle.ConstantTimeCompare([]byte(*stored), []byte(token)) != 1 {
		return ErrInvalidToken
	}
	if confirmed {
		return nil
	}
	return c.store.MarkConfirmed(ctx, sessionID, c.now())
}

func (c *Confirmations) confirmURL(sessionID uuid.UUID, token string) string {
	q := url.Values{}
	q.Set("token", token)
	return fmt.Sprintf("%s/public/sessions/%s/confirm?%s", c.baseURL, sessionID, q.Encode())
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("sessions: generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
