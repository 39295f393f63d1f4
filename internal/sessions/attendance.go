package sessions

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/practice-platform/internal/payments"
	"github.com/wolfman30/practice-platform/pkg/logging"
)

type attendanceStore interface {
	GetSession(ctx context.Context, accountID string, id uuid.UUID) (*Session, error)
	UpdateAttendance(ctx context.Context, accountID string, id uuid.UUID, attendance Attendance, notes string) error
	InsertClinicalRecord(ctx context.Context, rec *ClinicalRecord) error
	PatientPrice(ctx context.Context, accountID string, patientID uuid.UUID) (int64, error)
}

type paymentLinker interface {
	FindBySession(ctx context.Context, accountID string, sessionID uuid.UUID) (*payments.Record, error)
	LinkToClinicalRecord(ctx context.Context, accountID string, id, clinicalRecordID uuid.UUID) error
	SetAttended(ctx context.Context, accountID string, id uuid.UUID, attended bool) error
	Insert(ctx context.Context, rec *payments.Record) error
}

// Resolution describes the side effects of resolving a session.
type Resolution struct {
	SessionID        uuid.UUID  `json:"session_id"`
	Attendance       Attendance `json:"attendance"`
	ClinicalRecordID *uuid.UUID `json:"clinical_record_id,omitempty"`
	PaymentID        *uuid.UUID `json:"payment_id,omitempty"`
	ReusedForecast   bool       `json:"reused_forecast"`
	AlreadyResolved  bool       `json:"already_resolved"`
}

// AttendanceResolver moves a session from unset to attended or missed.
type AttendanceResolver struct {
	store    attendanceStore
	payments paymentLinker
	logger   *logging.Logger
}

// NewAttendanceResolver wires a resolver.
func NewAttendanceResolver(store attendanceStore, pay paymentLinker, logger *logging.Logger) *AttendanceResolver {
	if logger == nil {
		logger = logging.Default()
	}
	return &AttendanceResolver{store: store, payments: pay, logger: logger}
}

// Resolve records the attendance outcome. Repeating the same outcome is a
// no-op; switching an already resolved session returns ErrAlreadyResolved.
// Failures after the attendance write are returned but not rolled back.
func (r *AttendanceResolver) Resolve(ctx context.Context, accountID string, sessionID uuid.UUID, attended bool, notes string) (*Resolution, error) {
	ctx, span := tracer.Start(ctx, "sessions.attendance.resolve")
	defer span.End()
	span.SetAttributes(
		attribute.String("practice.account_id", accountID),
		attribute.String("practice.session_id", sessionID.String()),
		attribute.Bool("practice.attended", attended),
	)

	session, err := r.store.GetSession(ctx, accountID, sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	target := AttendanceFor(attended)
	if session.Attendance != AttendanceUnset && session.Attendance != "" {
		if session.Attendance == target {
			return &Resolution{SessionID: sessionID, Attendance: target, AlreadyResolved: true}, nil
		}
		span.SetStatus(codes.Error, "already resolved")
		return nil, ErrAlreadyResolved
	}

	if err := r.store.UpdateAttendance(ctx, accountID, sessionID, target, notes); err != nil {
		span.RecordError(err)
		return nil, err
	}
	res := &Resolution{SessionID: sessionID, Attendance: target}

	if !attended {
		err = r.markForecastMissed(ctx, accountID, sessionID, res)
	} else {
		session.Notes = notes
		err = r.recordAttended(ctx, session, res)
	}
	if err != nil {
		r.logger.Error("attendance side effect failed", "account_id", accountID, "session_id", sessionID, "attendance", string(target), "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "side effect failed")
		return res, err
	}
	return res, nil
}

func (r *AttendanceResolver) markForecastMissed(ctx context.Context, accountID string, sessionID uuid.UUID, res *Resolution) error {
	forecast, err := r.payments.FindBySession(ctx, accountID, sessionID)
	if errors.Is(err, payments.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := r.payments.SetAttended(ctx, accountID, forecast.ID, false); err != nil {
		return err
	}
	res.PaymentID = &forecast.ID
	return nil
}

func (r *AttendanceResolver) recordAttended(ctx context.Context, session *Session, res *Resolution) error {
	price, err := r.store.PatientPrice(ctx, session.AccountID, session.PatientID)
	if err != nil {
		return err
	}

	sessionID := session.ID
	record := &ClinicalRecord{
		AccountID:  session.AccountID,
		PatientID:  session.PatientID,
		SessionID:  &sessionID,
		RecordDate: session.Date,
		RecordTime: session.Time,
		Notes:      session.Notes,
	}
	if err := r.store.InsertClinicalRecord(ctx, record); err != nil {
		return err
	}
	res.ClinicalRecordID = &record.ID

	forecast, err := r.payments.FindBySession(ctx, session.AccountID, session.ID)
	switch {
	case err == nil:
		if err := r.payments.LinkToClinicalRecord(ctx, session.AccountID, forecast.ID, record.ID); err != nil {
			return err
		}
		res.PaymentID = &forecast.ID
		res.ReusedForecast = true
		return nil
	case errors.Is(err, payments.ErrNotFound):
	default:
		return err
	}

	payment := payments.NewActual(session.AccountID, session.PatientID, record.ID, price)
	if err := r.payments.Insert(ctx, &payment); err != nil {
		return err
	}
	res.PaymentID = &payment.ID
	return nil
}
