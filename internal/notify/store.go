package notify

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
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Record is one entry of the disconnect notification log.
type Record struct {
	ID        uuid.UUID `json:"id"`
	AccountID string    `json:"account_id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Owner is who receives disconnect email for an account.
type Owner struct {
	Email string
	Name  string
}

// ErrOwnerNotFound is returned when an account has no owner contact.
var ErrOwnerNotFound = errors.New("notify: account owner not found")

// Store persists disconnect notifications.
type Store struct {
	db DB
}

// NewStore creates a store backed by pgx.
func NewStore(db DB) *Store {
	if db == nil {
		panic("notify: db required")
	}
	return &Store{db: db}
}

// Insert appends a notification record.
func (s *Store) Insert(ctx context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO disconnect_notifications (id, account_id, message, created_at)
		VALUES ($1, $2, $3, $4)`, rec.ID, rec.AccountID, rec.Message, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("notify: insert notification: %w", err)
	}
	return nil
}

// HasRecent reports whether a notification was logged for the account since since.
func (s *Store) HasRecent(ctx context.Context, accountID string, since time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM disconnect_notifications
			WHERE account_id = $1 AND created_at >= $2
		)`, accountID, since).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("notify: check recent notification: %w", err)
	}
	return exists, nil
}

// Owner loads the owner contact of an account.
func (s *Store) Owner(ctx context.Context, accountID string) (*Owner, error) {
	var owner Owner
	err := s.db.QueryRow(ctx, `
		SELECT owner_email, COALESCE(owner_name, '')
		FROM practice_accounts
		WHERE account_id = $1`, accountID).Scan(&owner.Email, &owner.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOwnerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("notify: load owner: %w", err)
	}
	return &owner, nil
}
