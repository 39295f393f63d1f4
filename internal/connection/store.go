package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists connection instances keyed by account.
type Store struct {
	db DB
}

// NewStore creates a store backed by pgx.
func NewStore(db DB) *Store {
	if db == nil {
		panic("connection: db required")
	}
	return &Store{db: db}
}

// Get loads the account's instance.
func (s *Store) Get(ctx context.Context, accountID string) (*Instance, error) {
	var (
		inst      Instance
		status    string
		phone     *string
		lastError *string
		pairing   *string
	)
	err := s.db.QueryRow(ctx, `
		SELECT account_id, instance_name, status, phone_identifier, last_error, pairing_artifact,
			pairing_expires_at, last_checked_at, created_at, updated_at
		FROM connection_instances
		WHERE account_id = $1`, accountID).Scan(
		&inst.AccountID, &inst.InstanceName, &status, &phone, &lastError, &pairing,
		&inst.PairingExpiresAt, &inst.LastCheckedAt, &inst.CreatedAt, &inst.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("connection: get instance: %w", err)
	}
	inst.Status = ParseStatus(status)
	inst.PhoneIdentifier = deref(phone)
	inst.LastError = deref(lastError)
	inst.PairingArtifact = deref(pairing)
	return &inst, nil
}

// Upsert writes the instance, replacing any existing row for the account.
func (s *Store) Upsert(ctx context.Context, inst *Instance) error {
	if inst.AccountID == "" {
		return errors.New("connection: account id required")
	}
	now := time.Now().UTC()
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = now
	}
	if inst.UpdatedAt.IsZero() {
		inst.UpdatedAt = now
	}
	if inst.LastCheckedAt.IsZero() {
		inst.LastCheckedAt = now
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO connection_instances (account_id, instance_name, status, phone_identifier, last_error,
			pairing_artifact, pairing_expires_at, last_checked_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (account_id) DO UPDATE SET
			instance_name = EXCLUDED.instance_name,
			status = EXCLUDED.status,
			phone_identifier = EXCLUDED.phone_identifier,
			last_error = EXCLUDED.last_error,
			pairing_artifact = EXCLUDED.pairing_artifact,
			pairing_expires_at = EXCLUDED.pairing_expires_at,
			last_checked_at = EXCLUDED.last_checked_at,
			updated_at = EXCLUDED.updated_at`,
		inst.AccountID, inst.InstanceName, string(inst.Status), nullable(inst.PhoneIdentifier), nullable(inst.LastError),
		nullable(inst.PairingArtifact), inst.PairingExpiresAt, inst.LastCheckedAt, inst.CreatedAt, inst.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("connection: upsert instance: %w", err)
	}
	return nil
}

// Touch refreshes last_checked_at without changing anything else.
func (s *Store) Touch(ctx context.Context, accountID string, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE connection_instances SET last_checked_at = $2
		WHERE account_id = $1`, accountID, at)
	if err != nil {
		return fmt.Errorf("connection: touch instance: %w", err)
	}
	return nil
}

// Delete removes the account's instance row.
func (s *Store) Delete(ctx context.Context, accountID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM connection_instances WHERE account_id = $1`, accountID)
	if err != nil {
		return fmt.Errorf("connection: delete instance: %w", err)
	}
	return nil
}

// ListLive returns the accounts whose instance is connected or connecting.
func (s *Store) ListLive(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT account_id FROM connection_instances
		WHERE status IN ('connected', 'connecting')
		ORDER BY account_id`)
	if err != nil {
		return nil, fmt.Errorf("connection: list live: %w", err)
	}
	defer rows.Close()

	var accounts []string
	for rows.Next() {
		var account string
		if err := rows.Scan(&account); err != nil {
			return nil, fmt.Errorf("connection: scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
