package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/practice-platform/internal/observability/metrics"
	"github.com/wolfman30/practice-platform/internal/payments"
	"github.com/wolfman30/practice-platform/internal/recurrence"
	"github.com/wolfman30/practice-platform/pkg/logging"
)

var tracer = otel.Tracer("practice.internal.sessions")

// ErrNoOccurrences is returned when the requested range yields no dates.
var ErrNoOccurrences = errors.New("sessions: series range yields no occurrences")

// Occurrence stages reported in OccurrenceError.
const (
	StageSession = "session"
	StagePayment = "payment"
)

type seriesWriter interface {
	InsertSeries(ctx context.Context, series *Series) error
	InsertSession(ctx context.Context, session *Session) error
}

type paymentWriter interface {
	Insert(ctx context.Context, rec *payments.Record) error
}

// SeriesRequest describes a recurring booking.
type SeriesRequest struct {
	AccountID        string
	PatientID        uuid.UUID
	Start            time.Time
	End              time.Time
	Cadence          recurrence.Cadence
	TimeOfDay        string
	PriceCents       int64
	DiscountCents    int64
	ForecastPayments bool
	Modality         Modality
	MeetingLink      string
}

// OccurrenceError records why one date of a series failed.
type OccurrenceError struct {
	Date  time.Time `json:"date"`
	Stage string    `json:"stage"`
	Err   error     `json:"-"`
}

func (e OccurrenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Date.Format("2006-01-02"), e.Err)
}

func (e OccurrenceError) Unwrap() error { return e.Err }

// SeriesResult reports what a generation run created.
type SeriesResult struct {
	SeriesID   uuid.UUID         `json:"series_id"`
	SessionIDs []uuid.UUID       `json:"session_ids"`
	Errors     []OccurrenceError `json:"errors"`
	Requested  int               `json:"requested"`
}

// Partial reports whether some but not all of the work succeeded.
func (r *SeriesResult) Partial() bool {
	return len(r.Errors) > 0
}

// SeriesGenerator expands a recurrence into scheduled sessions and,
// optionally, forecast payments.
type SeriesGenerator struct {
	store    seriesWriter
	payments paymentWriter
	metrics  *metrics.MonitorMetrics
	logger   *logging.Logger
}

// NewSeriesGenerator wires a generator.
func NewSeriesGenerator(store seriesWriter, pay paymentWriter, m *metrics.MonitorMetrics, logger *logging.Logger) *SeriesGenerator {
	if logger == nil {
		logger = logging.Default()
	}
	return &SeriesGenerator{store: store, payments: pay, metrics: m, logger: logger}
}

// Generate creates the series row, then attempts every occurrence
// independently. Occurrence failures are collected, never rolled back.
func (g *SeriesGenerator) Generate(ctx context.Context, req SeriesRequest) (*SeriesResult, error) {
	if err := ValidateTimeOfDay(req.TimeOfDay); err != nil {
		return nil, err
	}
	if _, err := payments.FinalAmount(req.PriceCents, req.DiscountCents); err != nil {
		return nil, err
	}
	dates, err := recurrence.Dates(req.Start, req.End, req.Cadence)
	if err != nil {
		return nil, err
	}
	if len(dates) == 0 {
		return nil, ErrNoOccurrences
	}

	ctx, span := tracer.Start(ctx, "sessions.series.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("practice.account_id", req.AccountID),
		attribute.String("practice.cadence", string(req.Cadence)),
		attribute.Int("practice.occurrences", len(dates)),
	)

	series := &Series{
		AccountID: req.AccountID,
		PatientID: req.PatientID,
		StartDate: recurrence.Day(req.Start),
		EndDate:   recurrence.Day(req.End),
		Cadence:   req.Cadence,
	}
	if err := g.store.InsertSeries(ctx, series); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert series")
		return nil, err
	}

	result := &SeriesResult{
		SeriesID:   series.ID,
		SessionIDs: make([]uuid.UUID, 0, len(dates)),
		Requested:  len(dates),
	}
	for _, date := range dates {
		seriesID := series.ID
		session := &Session{
			AccountID:   req.AccountID,
			PatientID:   req.PatientID,
			Date:        date,
			Time:        req.TimeOfDay,
			SeriesID:    &seriesID,
			Modality:    req.Modality,
			MeetingLink: req.MeetingLink,
		}
		if err := g.store.InsertSession(ctx, session); err != nil {
			g.logger.Warn("series occurrence failed", "account_id", req.AccountID, "series_id", series.ID, "date", date.Format("2006-01-02"), "error", err)
			result.Errors = append(result.Errors, OccurrenceError{Date: date, Stage: StageSession, Err: err})
			g.metrics.ObserveOccurrence(StageSession, false)
			continue
		}
		result.SessionIDs = append(result.SessionIDs, session.ID)
		g.metrics.ObserveOccurrence(StageSession, true)

		if !req.ForecastPayments {
			continue
		}
		rec := payments.NewForecast(req.AccountID, req.PatientID, session.ID, req.PriceCents)
		rec.DiscountCents = req.DiscountCents
		if err := g.payments.Insert(ctx, &rec); err != nil {
			g.logger.Warn("forecast payment failed", "account_id", req.AccountID, "session_id", session.ID, "error", err)
			result.Errors = append(result.Errors, OccurrenceError{Date: date, Stage: StagePayment, Err: err})
			g.metrics.ObserveOccurrence(StagePayment, false)
			continue
		}
		g.metrics.ObserveOccurrence(StagePayment, true)
	}

	if result.Partial() {
		span.SetStatus(codes.Error, "partial series")
		span.SetAttributes(attribute.Int("practice.failures", len(result.Errors)))
	}
	g.logger.Info("series generated", "account_id", req.AccountID, "series_id", series.ID, "requested", result.Requested, "created", len(result.SessionIDs), "failures", len(result.Errors))
	return result, nil
}
