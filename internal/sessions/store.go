package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists series, sessions and clinical records.
type Store struct {
	db  DB
	now func() time.Time
}

// NewStore creates a store backed by pgx.
func NewStore(db DB) *Store {
	if db == nil {
		panic("sessions: db required")
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// InsertSeries stores a new active series, assigning an id.
func (s *Store) InsertSeries(ctx context.Context, series *Series) error {
	if series.ID == uuid.Nil {
		series.ID = uuid.New()
	}
	series.Active = true
	series.CreatedAt = s.now()
	_, err := s.db.Exec(ctx, `
		INSERT INTO recurrence_series (id, account_id, patient_id, start_date, end_date, cadence, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		series.ID, series.AccountID, series.PatientID, series.StartDate, series.EndDate,
		string(series.Cadence), series.Active, series.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sessions: insert series: %w", err)
	}
	return nil
}

// DeactivateSeries marks a series inactive once nothing remains scheduled.
func (s *Store) DeactivateSeries(ctx context.Context, accountID string, seriesID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE recurrence_series SET active = false
		WHERE account_id = $1 AND id = $2`, accountID, seriesID)
	if err != nil {
		return fmt.Errorf("sessions: deactivate series: %w", err)
	}
	return nil
}

// InsertSession stores a scheduled session with unset attendance.
func (s *Store) InsertSession(ctx context.Context, session *Session) error {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if session.Attendance == "" {
		session.Attendance = AttendanceUnset
	}
	if session.Modality == "" {
		session.Modality = ModalityInPerson
	}
	session.CreatedAt = s.now()
	_, err := s.db.Exec(ctx, `
		INSERT INTO scheduled_sessions (id, account_id, patient_id, session_date, session_time, attendance,
			notes, series_id, modality, meeting_link, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		session.ID, session.AccountID, session.PatientID, session.Date, session.Time, string(session.Attendance),
		session.Notes, session.SeriesID, string(session.Modality), session.MeetingLink, session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sessions: insert session: %w", err)
	}
	return nil
}

// GetSession loads a session scoped to the account.
func (s *Store) GetSession(ctx context.Context, accountID string, id uuid.UUID) (*Session, error) {
	var (
		session    Session
		attendance string
		modality   string
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, account_id, patient_id, session_date, session_time, attendance, notes, series_id,
			modality, meeting_link, patient_confirmed, patient_confirmed_at, created_at
		FROM scheduled_sessions
		WHERE account_id = $1 AND id = $2`, accountID, id).Scan(
		&session.ID, &session.AccountID, &session.PatientID, &session.Date, &session.Time, &attendance,
		&session.Notes, &session.SeriesID, &modality, &session.MeetingLink, &session.PatientConfirmed,
		&session.PatientConfirmedAt, &session.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sessions: get session: %w", err)
	}
	session.Attendance = Attendance(attendance)
	session.Modality = Modality(modality)
	return &session, nil
}

// SeriesSessionIDs lists the sessions of a series, optionally only those on
// or after cutoff.
func (s *Store) SeriesSessionIDs(ctx context.Context, accountID string, seriesID uuid.UUID, cutoff *time.Time) ([]uuid.UUID, error) {
	query := `
		SELECT id FROM scheduled_sessions
		WHERE account_id = $1 AND series_id = $2`
	args := []any{accountID, seriesID}
	if cutoff != nil {
		query += ` AND session_date >= $3`
		args = append(args, *cutoff)
	}
	query += ` ORDER BY session_date`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sessions: list series sessions: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sessions: scan series session: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteSessionsBatch removes the given sessions in one statement.
func (s *Store) DeleteSessionsBatch(ctx context.Context, accountID string, ids []uuid.UUID) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM scheduled_sessions
		WHERE account_id = $1 AND id = ANY($2)`, accountID, ids)
	if err != nil {
		return 0, fmt.Errorf("sessions: delete batch: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteSession removes a single session.
func (s *Store) DeleteSession(ctx context.Context, accountID string, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		DELETE FROM scheduled_sessions
		WHERE account_id = $1 AND id = $2`, accountID, id)
	if err != nil {
		return fmt.Errorf("sessions: delete %s: %w", id, err)
	}
	return nil
}

// UpdateAttendance sets the attendance outcome and notes.
func (s *Store) UpdateAttendance(ctx context.Context, accountID string, id uuid.UUID, attendance Attendance, notes string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE scheduled_sessions SET attendance = $3, notes = $4
		WHERE account_id = $1 AND id = $2`, accountID, id, string(attendance), notes)
	if err != nil {
		return fmt.Errorf("sessions: update attendance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Detach clears the series reference so the session survives series edits.
func (s *Store) Detach(ctx context.Context, accountID string, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE scheduled_sessions SET series_id = NULL
		WHERE account_id = $1 AND id = $2`, accountID, id)
	if err != nil {
		return fmt.Errorf("sessions: detach: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertClinicalRecord stores a clinical record, assigning an id.
func (s *Store) InsertClinicalRecord(ctx context.Context, rec *ClinicalRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.CreatedAt = s.now()
	_, err := s.db.Exec(ctx, `
		INSERT INTO clinical_records (id, account_id, patient_id, session_id, record_date, record_time, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.AccountID, rec.PatientID, rec.SessionID, rec.RecordDate, rec.RecordTime, rec.Notes, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sessions: insert clinical record: %w", err)
	}
	return nil
}

// PatientPrice returns the patient's standard session price in cents.
func (s *Store) PatientPrice(ctx context.Context, accountID string, patientID uuid.UUID) (int64, error) {
	var price int64
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(session_price_cents, 0)
		FROM patients
		WHERE account_id = $1 AND id = $2`, accountID, patientID).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("sessions: patient price: %w", err)
	}
	return price, nil
}

// NotificationTarget is what the confirmation webhook needs about a session.
type NotificationTarget struct {
	SessionID    uuid.UUID
	AccountID    string
	PatientName  string
	PatientPhone string
	Date         time.Time
	Time         string
	MeetingLink  string
}

// NotificationTarget joins a session with its patient's contact details.
func (s *Store) NotificationTarget(ctx context.Context, accountID string, id uuid.UUID) (*NotificationTarget, error) {
	var t NotificationTarget
	err := s.db.QueryRow(ctx, `
		SELECT s.id, s.account_id, p.name, p.phone, s.session_date, s.session_time, s.meeting_link
		FROM scheduled_sessions s
		JOIN patients p ON p.id = s.patient_id
		WHERE s.account_id = $1 AND s.id = $2`, accountID, id).Scan(
		&t.SessionID, &t.AccountID, &t.PatientName, &t.PatientPhone, &t.Date, &t.Time, &t.MeetingLink,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sessions: notification target: %w", err)
	}
	return &t, nil
}

// EnsureNotificationToken stores candidate unless the session already has a
// token, and returns whichever token is persisted.
func (s *Store) EnsureNotificationToken(ctx context.Context, accountID string, id uuid.UUID, candidate string) (string, error) {
	var token string
	err := s.db.QueryRow(ctx, `
		UPDATE scheduled_sessions
		SET notification_token = COALESCE(notification_token, $3)
		WHERE account_id = $1 AND id = $2
		RETURNING notification_token`, accountID, id, candidate).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("sessions: ensure token: %w", err)
	}
	return token, nil
}

// ConfirmationState returns the stored token and confirmation flag of a session.
func (s *Store) ConfirmationState(ctx context.Context, id uuid.UUID) (token *string, confirmed bool, err error) {
	err = s.db.QueryRow(ctx, `
		SELECT notification_token, patient_confirmed
		FROM scheduled_sessions
		WHERE id = $1`, id).Scan(&token, &confirmed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("sessions: confirmation state: %w", err)
	}
	return token, confirmed, nil
}

// MarkConfirmed flags the session as confirmed by the patient.
func (s *Store) MarkConfirmed(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE scheduled_sessions
		SET patient_confirmed = true, patient_confirmed_at = COALESCE(patient_confirmed_at, $2)
		WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("sessions: mark confirmed: %w", err)
	}
	return nil
}
