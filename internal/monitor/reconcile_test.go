package monitor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/practice-platform/internal/connection"
	"github.com/wolfman30/practice-platform/internal/gateway"
	"github.com/wolfman30/practice-platform/pkg/logging"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestSupervisor(gw *fakeGateway, repo *memoryRepo, alerts *recordingAlerter, log NotificationLog) *Supervisor {
	s := NewSupervisor(gw, repo, alerts, log, Config{PollInterval: time.Hour}, nil, logging.Discard())
	s.now = func() time.Time { return testNow }
	return s
}

func instance(accountID string, status connection.Status, checked time.Time) connection.Instance {
	return connection.Instance{
		AccountID:     accountID,
		InstanceName:  connection.InstanceName(accountID),
		Status:        status,
		LastCheckedAt: checked,
		CreatedAt:     checked,
		UpdatedAt:     checked,
	}
}

func TestReconcileMissingInstanceStops(t *testing.T) {
	alerts := &recordingAlerter{}
	s := newTestSupervisor(newFakeGateway(), newMemoryRepo(), alerts, nil)
	stop, outcome := s.reconcileAccount(context.Background(), "acct-1")
	assert.True(t, stop)
	assert.Equal(t, OutcomeMissing, outcome)
	assert.Equal(t, []string{"acct-1"}, alerts.forgot())
}

func TestReconcileStaleDownInstanceStops(t *testing.T) {
	gw := newFakeGateway()
	repo := newMemoryRepo(instance("acct-1", connection.StatusDisconnected, testNow.Add(-2*time.Hour)))
	s := newTestSupervisor(gw, repo, &recordingAlerter{}, nil)

	stop, outcome := s.reconcileAccount(context.Background(), "acct-1")
	assert.True(t, stop)
	assert.Equal(t, OutcomeStale, outcome)
	assert.Zero(t, gw.calls("practice-acct-1"))
}

func TestReconcileDownInstanceStopsOnceStaleDespiteTouches(t *testing.T) {
	gw := newFakeGateway()
	gw.set("practice-acct-1", gateway.Observation{State: gateway.StateDisconnected})
	repo := newMemoryRepo(instance("acct-1", connection.StatusConnected, testNow.Add(-5*time.Minute)))
	alerts := &recordingAlerter{}
	s := newTestSupervisor(gw, repo, alerts, nil)
	clock := testNow
	s.now = func() time.Time { return clock }

	stop, outcome := s.reconcileAccount(context.Background(), "acct-1")
	require.False(t, stop)
	require.Equal(t, OutcomeUpdated, outcome)
	wentDown := clock

	for i := 0; i < 36; i++ {
		clock = clock.Add(5 * time.Minute)
		stop, outcome = s.reconcileAccount(context.Background(), "acct-1")
		if stop {
			break
		}
		assert.Equal(t, OutcomeTouched, outcome)
	}

	require.True(t, stop, "down channel still monitored after %s", clock.Sub(wentDown))
	assert.Equal(t, OutcomeStale, outcome)
	assert.Equal(t, 65*time.Minute, clock.Sub(wentDown))
	assert.Equal(t, 1, gw.calls("practice-acct-1"))
	assert.Equal(t, 12, repo.touches)
	assert.Equal(t, 1, alerts.count())
}

func TestReconcileRecentDownInstanceOnlyTouches(t *testing.T) {
	gw := newFakeGateway()
	repo := newMemoryRepo(instance("acct-1", connection.StatusError, testNow.Add(-10*time.Minute)))
	s := newTestSupervisor(gw, repo, &recordingAlerter{}, nil)

	stop, outcome := s.reconcileAccount(context.Background(), "acct-1")
	assert.False(t, stop)
	assert.Equal(t, OutcomeTouched, outcome)
	assert.Zero(t, gw.calls("practice-acct-1"))

	inst, _ := repo.get("acct-1")
	assert.Equal(t, testNow, inst.LastCheckedAt)
	assert.Equal(t, connection.StatusError, inst.Status)
	assert.Zero(t, repo.upserts)
}

func TestReconcileDetectsDisconnect(t *testing.T) {
	gw := newFakeGateway()
	gw.set("practice-acct-1", gateway.Observation{State: gateway.StateDisconnected, Detail: "close"})
	repo := newMemoryRepo(instance("acct-1", connection.StatusConnected, testNow.Add(-5*time.Minute)))
	alerts := &recordingAlerter{}
	s := newTestSupervisor(gw, repo, alerts, nil)

	stop, outcome := s.reconcileAccount(context.Background(), "acct-1")
	assert.False(t, stop)
	assert.Equal(t, OutcomeUpdated, outcome)

	inst, _ := repo.get("acct-1")
	assert.Equal(t, connection.StatusDisconnected, inst.Status)
	assert.Equal(t, testNow, inst.LastCheckedAt)
	assert.Equal(t, 1, alerts.count())
}

func TestReconcileConnectedStaysQuiet(t *testing.T) {
	gw := newFakeGateway()
	gw.set("practice-acct-1", gateway.Observation{State: gateway.StateConnected, PhoneIdentifier: "5511999990000"})
	repo := newMemoryRepo(instance("acct-1", connection.StatusConnecting, testNow.Add(-time.Minute)))
	alerts := &recordingAlerter{}
	s := newTestSupervisor(gw, repo, alerts, nil)

	_, outcome := s.reconcileAccount(context.Background(), "acct-1")
	assert.Equal(t, OutcomeUpdated, outcome)

	inst, _ := repo.get("acct-1")
	assert.Equal(t, connection.StatusConnected, inst.Status)
	assert.Equal(t, "5511999990000", inst.PhoneIdentifier)
	assert.Zero(t, alerts.count())
}

func TestReconcileGatewayInstanceGone(t *testing.T) {
	gw := newFakeGateway()
	gw.fail("practice-acct-1", fmt.Errorf("lookup: %w", gateway.ErrInstanceNotFound))
	repo := newMemoryRepo(instance("acct-1", connection.StatusConnected, testNow))
	alerts := &recordingAlerter{}
	s := newTestSupervisor(gw, repo, alerts, nil)

	stop, outcome := s.reconcileAccount(context.Background(), "acct-1")
	assert.True(t, stop)
	assert.Equal(t, OutcomeInstanceRemoved, outcome)
	_, ok := repo.get("acct-1")
	assert.False(t, ok)
	assert.Equal(t, []string{"acct-1"}, alerts.forgot())
}

func TestReconcileGatewayErrorKeepsMonitoring(t *testing.T) {
	gw := newFakeGateway()
	gw.fail("practice-acct-1", errors.New("gateway timeout"))
	repo := newMemoryRepo(instance("acct-1", connection.StatusConnected, testNow.Add(-time.Minute)))
	s := newTestSupervisor(gw, repo, &recordingAlerter{}, nil)

	stop, outcome := s.reconcileAccount(context.Background(), "acct-1")
	assert.False(t, stop)
	assert.Equal(t, OutcomeGatewayError, outcome)
	inst, _ := repo.get("acct-1")
	assert.Equal(t, connection.StatusConnected, inst.Status)
	assert.Zero(t, repo.upserts)
}

func TestReconcileConnectingRefreshesExpiredPairing(t *testing.T) {
	gw := newFakeGateway()
	gw.set("practice-acct-1", gateway.Observation{State: gateway.StateConnecting})
	gw.artifact = "pairing-2"
	expired := testNow.Add(-time.Second)
	current := instance("acct-1", connection.StatusConnecting, testNow.Add(-time.Minute))
	current.PairingArtifact = "pairing-1"
	current.PairingExpiresAt = &expired
	repo := newMemoryRepo(current)
	s := newTestSupervisor(gw, repo, &recordingAlerter{}, nil)

	_, outcome := s.reconcileAccount(context.Background(), "acct-1")
	assert.Equal(t, OutcomeUpdated, outcome)

	inst, _ := repo.get("acct-1")
	assert.Equal(t, "pairing-2", inst.PairingArtifact)
	require.NotNil(t, inst.PairingExpiresAt)
	assert.Equal(t, testNow.Add(45*time.Second), *inst.PairingExpiresAt)
}

func TestReconcilePairingFailureIsBestEffort(t *testing.T) {
	gw := newFakeGateway()
	gw.set("practice-acct-1", gateway.Observation{State: gateway.StateConnecting})
	gw.artifactErr = errors.New("qr unavailable")
	repo := newMemoryRepo(instance("acct-1", connection.StatusConnecting, testNow.Add(-time.Minute)))
	s := newTestSupervisor(gw, repo, &recordingAlerter{}, nil)

	stop, outcome := s.reconcileAccount(context.Background(), "acct-1")
	assert.False(t, stop)
	assert.Equal(t, OutcomeUpdated, outcome)
	inst, _ := repo.get("acct-1")
	assert.Empty(t, inst.PairingArtifact)
	assert.Equal(t, testNow, inst.LastCheckedAt)
}
