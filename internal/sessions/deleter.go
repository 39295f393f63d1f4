package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/practice-platform/internal/payments"
	"github.com/wolfman30/practice-platform/pkg/logging"
)

// ErrPaymentRemains marks a session kept because its payment could not be deleted.
var ErrPaymentRemains = errors.New("sessions: dependent payment still exists")

type seriesSessionStore interface {
	SeriesSessionIDs(ctx context.Context, accountID string, seriesID uuid.UUID, cutoff *time.Time) ([]uuid.UUID, error)
	DeleteSessionsBatch(ctx context.Context, accountID string, ids []uuid.UUID) (int64, error)
	DeleteSession(ctx context.Context, accountID string, id uuid.UUID) error
	DeactivateSeries(ctx context.Context, accountID string, seriesID uuid.UUID) error
}

type paymentDeleter interface {
	ListBySessions(ctx context.Context, accountID string, sessionIDs []uuid.UUID) ([]payments.SessionLink, error)
	DeleteBatch(ctx context.Context, accountID string, ids []uuid.UUID) (int64, error)
	Delete(ctx context.Context, accountID string, id uuid.UUID) error
}

// DeletionError identifies one row that could not be deleted.
type DeletionError struct {
	ID    uuid.UUID `json:"id"`
	Stage string    `json:"stage"`
	Err   error     `json:"-"`
}

func (e DeletionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.ID, e.Err)
}

func (e DeletionError) Unwrap() error { return e.Err }

// DeletionResult reports how much of a series was removed.
type DeletionResult struct {
	PaymentsDeleted   int             `json:"payments_deleted"`
	SessionsDeleted   int             `json:"sessions_deleted"`
	SeriesDeactivated bool            `json:"series_deactivated"`
	Errors            []DeletionError `json:"errors"`
}

// Partial reports whether any row failed to delete.
func (r *DeletionResult) Partial() bool {
	return len(r.Errors) > 0
}

// SeriesDeleter removes a series' sessions and the payments that reference
// them, payments first.
type SeriesDeleter struct {
	store    seriesSessionStore
	payments paymentDeleter
	logger   *logging.Logger
}

// NewSeriesDeleter wires a deleter.
func NewSeriesDeleter(store seriesSessionStore, pay paymentDeleter, logger *logging.Logger) *SeriesDeleter {
	if logger == nil {
		logger = logging.Default()
	}
	return &SeriesDeleter{store: store, payments: pay, logger: logger}
}

// Delete removes every session of the series, or only those dated on or
// after cutoff. A session is never deleted while a payment still references it.
func (d *SeriesDeleter) Delete(ctx context.Context, accountID string, seriesID uuid.UUID, cutoff *time.Time) (*DeletionResult, error) {
	ctx, span := tracer.Start(ctx, "sessions.series.delete")
	defer span.End()
	span.SetAttributes(
		attribute.String("practice.account_id", accountID),
		attribute.String("practice.series_id", seriesID.String()),
		attribute.Bool("practice.partial_range", cutoff != nil),
	)

	sessionIDs, err := d.store.SeriesSessionIDs(ctx, accountID, seriesID, cutoff)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	links, err := d.payments.ListBySessions(ctx, accountID, sessionIDs)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	result := &DeletionResult{}

	paymentIDs := make([]uuid.UUID, 0, len(links))
	sessionOf := make(map[uuid.UUID]uuid.UUID, len(links))
	for _, link := range links {
		paymentIDs = append(paymentIDs, link.PaymentID)
		sessionOf[link.PaymentID] = link.SessionID
	}

	deleted, failed := deleteWithFallback(ctx, paymentIDs,
		func(ctx context.Context, ids []uuid.UUID) (int64, error) {
			return d.payments.DeleteBatch(ctx, accountID, ids)
		},
		func(ctx context.Context, id uuid.UUID) error {
			return d.payments.Delete(ctx, accountID, id)
		},
	)
	result.PaymentsDeleted = deleted

	blocked := make(map[uuid.UUID]struct{}, len(failed))
	for _, f := range failed {
		result.Errors = append(result.Errors, DeletionError{ID: f.id, Stage: StagePayment, Err: f.err})
		sessionID := sessionOf[f.id]
		blocked[sessionID] = struct{}{}
		result.Errors = append(result.Errors, DeletionError{ID: sessionID, Stage: StageSession, Err: ErrPaymentRemains})
	}

	deletable := make([]uuid.UUID, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		if _, ok := blocked[id]; !ok {
			deletable = append(deletable, id)
		}
	}

	deleted, failed = deleteWithFallback(ctx, deletable,
		func(ctx context.Context, ids []uuid.UUID) (int64, error) {
			return d.store.DeleteSessionsBatch(ctx, accountID, ids)
		},
		func(ctx context.Context, id uuid.UUID) error {
			return d.store.DeleteSession(ctx, accountID, id)
		},
	)
	result.SessionsDeleted = deleted
	for _, f := range failed {
		result.Errors = append(result.Errors, DeletionError{ID: f.id, Stage: StageSession, Err: f.err})
	}

	if cutoff == nil && len(result.Errors) == 0 {
		if err := d.store.DeactivateSeries(ctx, accountID, seriesID); err != nil {
			d.logger.Warn("series deactivation failed", "account_id", accountID, "series_id", seriesID, "error", err)
			result.Errors = append(result.Errors, DeletionError{ID: seriesID, Stage: "series", Err: err})
		} else {
			result.SeriesDeactivated = true
		}
	}

	if result.Partial() {
		span.SetStatus(codes.Error, "partial deletion")
		span.SetAttributes(attribute.Int("practice.failures", len(result.Errors)))
	}
	d.logger.Info("series deleted", "account_id", accountID, "series_id", seriesID, "payments_deleted", result.PaymentsDeleted, "sessions_deleted", result.SessionsDeleted, "failures", len(result.Errors))
	return result, nil
}

type itemFailure struct {
	id  uuid.UUID
	err error
}

// deleteWithFallback tries one batch delete and, if the batch is rejected,
// deletes item by item counting only the successes.
func deleteWithFallback(
	ctx context.Context,
	ids []uuid.UUID,
	batch func(context.Context, []uuid.UUID) (int64, error),
	item func(context.Context, uuid.UUID) error,
) (int, []itemFailure) {
	if len(ids) == 0 {
		return 0, nil
	}
	if n, err := batch(ctx, ids); err == nil {
		return int(n), nil
	}

	var (
		deleted int
		failed  []itemFailure
	)
	for _, id := range ids {
		if err := item(ctx, id); err != nil {
			failed = append(failed, itemFailure{id: id, err: err})
			continue
		}
		deleted++
	}
	return deleted, failed
}
