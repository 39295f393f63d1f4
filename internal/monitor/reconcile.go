package monitor

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/practice-platform/internal/connection"
	"github.com/wolfman30/practice-platform/internal/gateway"
)

// Reconcile outcomes, used as metric labels.
const (
	OutcomeUpdated         = "updated"
	OutcomeTouched         = "touched"
	OutcomeMissing         = "missing"
	OutcomeStale           = "stale"
	OutcomeInstanceRemoved = "instance_removed"
	OutcomeGatewayError    = "gateway_error"
	OutcomeStoreError      = "store_error"
)

// reconcileAccount brings the stored instance in line with the gateway. It
// returns whether the account's monitor should stop and the outcome label.
// Errors are logged, never returned.
func (s *Supervisor) reconcileAccount(ctx context.Context, accountID string) (bool, string) {
	current, err := s.store.Get(ctx, accountID)
	if errors.Is(err, connection.ErrNotFound) {
		s.logger.Debug("no connection instance, stopping monitor", "account_id", accountID)
		s.alerts.Forget(accountID)
		return true, OutcomeMissing
	}
	if err != nil {
		s.logger.Warn("connection instance load failed", "account_id", accountID, "error", err)
		return false, OutcomeStoreError
	}

	now := s.now()
	if current.Status.Down() {
		if current.Stale(now, s.cfg.StaleAfter) {
			s.logger.Info("connection down past staleness threshold, stopping monitor",
				"account_id", accountID, "status", current.Status, "down_since", current.UpdatedAt)
			return true, OutcomeStale
		}
		if err := s.store.Touch(ctx, accountID, now); err != nil {
			s.logger.Warn("connection instance touch failed", "account_id", accountID, "error", err)
			return false, OutcomeStoreError
		}
		return false, OutcomeTouched
	}

	obs, err := s.gateway.ConnectionState(ctx, current.InstanceName)
	if errors.Is(err, gateway.ErrInstanceNotFound) {
		if err := s.store.Delete(ctx, accountID); err != nil {
			s.logger.Warn("connection instance delete failed", "account_id", accountID, "error", err)
		}
		s.logger.Info("gateway instance gone, removed local instance", "account_id", accountID, "instance", current.InstanceName)
		s.alerts.Forget(accountID)
		return true, OutcomeInstanceRemoved
	}
	if err != nil {
		s.logger.Warn("gateway state query failed", "account_id", accountID, "instance", current.InstanceName, "error", err)
		return false, OutcomeGatewayError
	}

	next := connection.Reconcile(*current, obs, now)
	if next.Status == connection.StatusConnecting && !next.PairingValid(now) {
		artifact, err := s.gateway.PairingArtifact(ctx, next.InstanceName)
		if err != nil {
			s.logger.Warn("pairing artifact refresh failed", "account_id", accountID, "error", err)
		} else if artifact != "" {
			expires := now.Add(s.cfg.PairingTTL)
			next.PairingArtifact = artifact
			next.PairingExpiresAt = &expires
		}
	}

	if err := s.store.Upsert(ctx, &next); err != nil {
		s.logger.Error("connection instance update failed", "account_id", accountID, "error", err)
		return false, OutcomeStoreError
	}
	if next.Status != current.Status {
		s.logger.Info("connection status changed", "account_id", accountID, "from", current.Status, "to", next.Status)
	}
	if connection.WentDown(current.Status, next.Status) {
		s.alerts.Disconnected(accountID, disconnectMessage(next))
	}
	return false, OutcomeUpdated
}

func disconnectMessage(inst connection.Instance) string {
	if inst.Status == connection.StatusError && inst.LastError != "" {
		return fmt.Sprintf("Messaging channel failed: %s", inst.LastError)
	}
	return "Messaging channel disconnected. Patients will not receive reminders until it is reconnected."
}
