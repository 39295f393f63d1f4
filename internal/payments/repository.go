package payments

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

// Repository persists payment records and their lifecycle transitions.
type Repository struct {
	db DB
}

// NewRepository creates a repository backed by pgx.
func NewRepository(db DB) *Repository {
	if db == nil {
		panic("payments: db required")
	}
	return &Repository{db: db}
}

const recordColumns = `id, account_id, patient_id, amount_cents, discount_cents, final_amount_cents,
	paid, forecast, attended, session_id, clinical_record_id, created_at`

// Insert validates the amounts and stores the record, assigning an id.
func (r *Repository) Insert(ctx context.Context, rec *Record) error {
	final, err := FinalAmount(rec.AmountCents, rec.DiscountCents)
	if err != nil {
		return err
	}
	rec.FinalAmountCents = final
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO payment_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID, rec.AccountID, rec.PatientID, rec.AmountCents, rec.DiscountCents, rec.FinalAmountCents,
		rec.Paid, rec.Forecast, rec.Attended, rec.SessionID, rec.ClinicalRecordID, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("payments: insert record: %w", err)
	}
	return nil
}

// FindBySession returns the payment linked to a scheduled session.
func (r *Repository) FindBySession(ctx context.Context, accountID string, sessionID uuid.UUID) (*Record, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM payment_records
		WHERE account_id = $1 AND session_id = $2
		LIMIT 1`, accountID, sessionID)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("payments: find by session: %w", err)
	}
	return rec, nil
}

// LinkToClinicalRecord turns a forecast payment into an actual one.
func (r *Repository) LinkToClinicalRecord(ctx context.Context, accountID string, id, clinicalRecordID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE payment_records
		SET clinical_record_id = $3, session_id = NULL, forecast = false, attended = true
		WHERE account_id = $1 AND id = $2`, accountID, id, clinicalRecordID)
	if err != nil {
		return fmt.Errorf("payments: link clinical record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAttended records the attendance outcome on a payment.
func (r *Repository) SetAttended(ctx context.Context, accountID string, id uuid.UUID, attended bool) error {
	_, err := r.db.Exec(ctx, `
		UPDATE payment_records SET attended = $3
		WHERE account_id = $1 AND id = $2`, accountID, id, attended)
	if err != nil {
		return fmt.Errorf("payments: set attended: %w", err)
	}
	return nil
}

// SessionLink pairs a payment id with the session it references.
type SessionLink struct {
	PaymentID uuid.UUID
	SessionID uuid.UUID
}

// ListBySessions returns the payments referencing any of the given sessions.
func (r *Repository) ListBySessions(ctx context.Context, accountID string, sessionIDs []uuid.UUID) ([]SessionLink, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, session_id
		FROM payment_records
		WHERE account_id = $1 AND session_id = ANY($2)`, accountID, sessionIDs)
	if err != nil {
		return nil, fmt.Errorf("payments: list by sessions: %w", err)
	}
	defer rows.Close()
	var out []SessionLink
	for rows.Next() {
		var link SessionLink
		if err := rows.Scan(&link.PaymentID, &link.SessionID); err != nil {
			return nil, fmt.Errorf("payments: scan session link: %w", err)
		}
		out = append(out, link)
	}
	return out, rows.Err()
}

// DeleteBatch removes the given payments in one statement.
func (r *Repository) DeleteBatch(ctx context.Context, accountID string, ids []uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM payment_records
		WHERE account_id = $1 AND id = ANY($2)`, accountID, ids)
	if err != nil {
		return 0, fmt.Errorf("payments: delete batch: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Delete removes a single payment.
func (r *Repository) Delete(ctx context.Context, accountID string, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM payment_records
		WHERE account_id = $1 AND id = $2`, accountID, id)
	if err != nil {
		return fmt.Errorf("payments: delete %s: %w", id, err)
	}
	return nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID, &rec.AccountID, &rec.PatientID, &rec.AmountCents, &rec.DiscountCents, &rec.FinalAmountCents,
		&rec.Paid, &rec.Forecast, &rec.Attended, &rec.SessionID, &rec.ClinicalRecordID, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
