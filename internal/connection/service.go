package connection

import (
	"context"
	"errors"
	"time"

	"github.com/wolfman30/practice-platform/internal/gateway"
	"github.com/wolfman30/practice-platform/pkg/logging"
)

// Gateway is the subset of the gateway client the connection flows need.
type Gateway interface {
	CreateInstance(ctx context.Context, name string) (*gateway.Instance, error)
	ConnectionState(ctx context.Context, name string) (gateway.Observation, error)
	PairingArtifact(ctx context.Context, name string) (string, error)
	DeleteInstance(ctx context.Context, name string) error
	SendText(ctx context.Context, name, to, text string) (string, error)
}

// Repository is the persistence the connection flows need.
type Repository interface {
	Get(ctx context.Context, accountID string) (*Instance, error)
	Upsert(ctx context.Context, inst *Instance) error
	Touch(ctx context.Context, accountID string, at time.Time) error
	Delete(ctx context.Context, accountID string) error
	ListLive(ctx context.Context) ([]string, error)
}

// Monitor starts and stops background reconciliation for an account.
type Monitor interface {
	Start(accountID string)
	Stop(accountID string)
}

// Service implements the user-triggered connection actions.
type Service struct {
	gateway    Gateway
	store      Repository
	monitor    Monitor
	pairingTTL time.Duration
	now        func() time.Time
	logger     *logging.Logger
}

// NewService wires the connection service.
func NewService(gw Gateway, store Repository, monitor Monitor, pairingTTL time.Duration, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if pairingTTL <= 0 {
		pairingTTL = 45 * time.Second
	}
	return &Service{
		gateway:    gw,
		store:      store,
		monitor:    monitor,
		pairingTTL: pairingTTL,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger,
	}
}

// Connect creates the gateway instance, stores it as connecting with its
// first pairing artifact and starts monitoring.
func (s *Service) Connect(ctx context.Context, accountID string) (*Instance, error) {
	name := InstanceName(accountID)
	created, err := s.gateway.CreateInstance(ctx, name)
	if err != nil {
		s.logger.Error("gateway create instance failed", "account_id", accountID, "error", err)
		return nil, err
	}

	now := s.now()
	inst := &Instance{
		AccountID:     accountID,
		InstanceName:  created.Name,
		Status:        StatusConnecting,
		LastCheckedAt: now,
		UpdatedAt:     now,
	}
	if existing, err := s.store.Get(ctx, accountID); err == nil {
		inst.CreatedAt = existing.CreatedAt
	}
	if created.Pairing != "" {
		expires := now.Add(s.pairingTTL)
		inst.PairingArtifact = created.Pairing
		inst.PairingExpiresAt = &expires
	}
	if err := s.store.Upsert(ctx, inst); err != nil {
		return nil, err
	}
	s.monitor.Start(accountID)
	s.logger.Info("connection instance created", "account_id", accountID, "instance", inst.InstanceName)
	return inst, nil
}

// Disconnect deletes the gateway instance and the local row, then stops monitoring.
func (s *Service) Disconnect(ctx context.Context, accountID string) error {
	inst, err := s.store.Get(ctx, accountID)
	if errors.Is(err, ErrNotFound) {
		s.monitor.Stop(accountID)
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.gateway.DeleteInstance(ctx, inst.InstanceName); err != nil {
		s.logger.Error("gateway delete instance failed", "account_id", accountID, "error", err)
		return err
	}
	if err := s.store.Delete(ctx, accountID); err != nil {
		return err
	}
	s.monitor.Stop(accountID)
	s.logger.Info("connection instance deleted", "account_id", accountID)
	return nil
}

// PairingArtifact returns a valid pairing artifact, fetching a fresh one
// when the stored artifact has expired.
func (s *Service) PairingArtifact(ctx context.Context, accountID string) (*Instance, error) {
	inst, err := s.store.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if inst.PairingValid(now) {
		return inst, nil
	}
	if err := s.RefreshPairing(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// RefreshPairing fetches a new pairing artifact and stores it on inst.
func (s *Service) RefreshPairing(ctx context.Context, inst *Instance) error {
	artifact, err := s.gateway.PairingArtifact(ctx, inst.InstanceName)
	if err != nil {
		return err
	}
	expires := s.now().Add(s.pairingTTL)
	inst.PairingArtifact = artifact
	inst.PairingExpiresAt = &expires
	return s.store.Upsert(ctx, inst)
}

// SendText sends a message through the account's instance.
func (s *Service) SendText(ctx context.Context, accountID, to, text string) (string, error) {
	inst, err := s.store.Get(ctx, accountID)
	if err != nil {
		return "", err
	}
	if inst.Status != StatusConnected {
		return "", ErrNotConnected
	}
	return s.gateway.SendText(ctx, inst.InstanceName, to, text)
}
