package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/practice-platform/pkg/logging"
)

type recordStore interface {
	Insert(ctx context.Context, rec *Record) error
	HasRecent(ctx context.Context, accountID string, since time.Time) (bool, error)
	Owner(ctx context.Context, accountID string) (*Owner, error)
}

// Recorder writes the disconnect notification log and emails the account
// owner when an email sender is configured.
type Recorder struct {
	store  recordStore
	email  EmailSender
	now    func() time.Time
	logger *logging.Logger
}

// NewRecorder creates a recorder. email may be nil.
func NewRecorder(store recordStore, email EmailSender, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.Default()
	}
	return &Recorder{store: store, email: email, now: time.Now, logger: logger}
}

// RecordedWithin reports whether the account already has a notification in the window.
func (r *Recorder) RecordedWithin(ctx context.Context, accountID string, window time.Duration) (bool, error) {
	return r.store.HasRecent(ctx, accountID, r.now().Add(-window).UTC())
}

// RecordDisconnect appends a notification and sends the owner email.
// Email failures are logged, not returned.
func (r *Recorder) RecordDisconnect(ctx context.Context, accountID, message string) error {
	rec := &Record{AccountID: accountID, Message: message, CreatedAt: r.now().UTC()}
	if err := r.store.Insert(ctx, rec); err != nil {
		return err
	}
	if r.email == nil {
		return nil
	}

	owner, err := r.store.Owner(ctx, accountID)
	if err != nil {
		if !errors.Is(err, ErrOwnerNotFound) {
			r.logger.Warn("disconnect email skipped", "account_id", accountID, "error", err)
		}
		return nil
	}
	msg := EmailMessage{
		To:      owner.Email,
		ToName:  owner.Name,
		Subject: "Your messaging channel was disconnected",
		Body: fmt.Sprintf("%s\n\nReconnect the channel from the settings page so patients keep receiving appointment reminders.\n\nDetected at %s.",
			message, rec.CreatedAt.Format(time.RFC1123)),
	}
	if err := r.email.Send(ctx, msg); err != nil {
		r.logger.Warn("disconnect email failed", "account_id", accountID, "error", err)
	}
	return nil
}
