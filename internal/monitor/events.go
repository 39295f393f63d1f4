package monitor

import (
	"context"

	"github.com/wolfman30/practice-platform/internal/changefeed"
	"github.com/wolfman30/practice-platform/internal/connection"
)

// HandleEvent applies one connection_instances change.
func (s *Supervisor) HandleEvent(ctx context.Context, ev changefeed.Event) {
	accountID := ev.AccountID()
	switch ev.Type {
	case changefeed.EventInsert:
		if ev.New != nil && connection.ParseStatus(ev.New.Status).Live() {
			s.Start(accountID)
		}
	case changefeed.EventDelete:
		s.Stop(accountID)
		s.alerts.Forget(accountID)
	case changefeed.EventUpdate:
		if ev.New == nil {
			return
		}
		next := connection.ParseStatus(ev.New.Status)
		oldKnown := ev.Old != nil && ev.Old.Status != ""
		var prev connection.Status
		if oldKnown {
			prev = connection.ParseStatus(ev.Old.Status)
			if prev == next {
				return
			}
		}
		switch {
		case next.Down():
			s.handleDisconnect(ctx, accountID, prev, oldKnown, next)
		case next.Live():
			s.Start(accountID)
		}
	}
}

func (s *Supervisor) handleDisconnect(ctx context.Context, accountID string, prev connection.Status, oldKnown bool, next connection.Status) {
	message := disconnectMessage(connection.Instance{Status: next})
	s.alerts.Disconnected(accountID, message)
	if s.log == nil {
		return
	}

	persist := oldKnown && prev == connection.StatusConnected
	if !oldKnown {
		recent, err := s.log.RecordedWithin(ctx, accountID, s.cfg.LogWindow)
		if err != nil {
			s.logger.Warn("disconnect log lookup failed", "account_id", accountID, "error", err)
			return
		}
		persist = !recent
	}
	if !persist {
		return
	}
	if err := s.log.RecordDisconnect(ctx, accountID, message); err != nil {
		s.logger.Error("disconnect notification write failed", "account_id", accountID, "error", err)
		return
	}
	s.logger.Info("disconnect notification recorded", "account_id", accountID, "from", prev, "to", next)
}
