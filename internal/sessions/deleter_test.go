package sessions

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/practice-platform/pkg/logging"
)

func seedSeries(t *testing.T, store *fakeStore, pay *fakePayments, forecast bool) *SeriesResult {
	t.Helper()
	req := weeklyRequest()
	req.ForecastPayments = forecast
	res, err := NewSeriesGenerator(store, pay, nil, logging.Discard()).Generate(context.Background(), req)
	require.NoError(t, err)
	return res
}

func assertNoOrphanPayments(t *testing.T, store *fakeStore, pay *fakePayments) {
	t.Helper()
	for _, r := range pay.records {
		if r.SessionID == nil {
			continue
		}
		_, ok := store.sessions[*r.SessionID]
		assert.True(t, ok, "payment %s references deleted session %s", r.ID, *r.SessionID)
	}
}

func TestDeleteWholeSeriesRemovesPaymentsThenSessions(t *testing.T) {
	store := newFakeStore()
	pay := newFakePayments()
	res := seedSeries(t, store, pay, true)

	out, err := NewSeriesDeleter(store, pay, logging.Discard()).Delete(context.Background(), "acct-1", res.SeriesID, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, out.PaymentsDeleted)
	assert.Equal(t, 4, out.SessionsDeleted)
	assert.True(t, out.SeriesDeactivated)
	assert.Empty(t, out.Errors)
	assert.Empty(t, store.sessions)
	assert.Empty(t, pay.records)
	assert.Equal(t, []uuid.UUID{res.SeriesID}, store.deactivated)
}

func TestDeleteFromCutoffKeepsEarlierSessions(t *testing.T) {
	store := newFakeStore()
	pay := newFakePayments()
	res := seedSeries(t, store, pay, true)
	cutoff := day("2024-01-15")

	out, err := NewSeriesDeleter(store, pay, logging.Discard()).Delete(context.Background(), "acct-1", res.SeriesID, &cutoff)
	require.NoError(t, err)
	assert.Equal(t, 2, out.PaymentsDeleted)
	assert.Equal(t, 2, out.SessionsDeleted)
	assert.False(t, out.SeriesDeactivated)
	assert.Len(t, store.sessions, 2)
	for _, s := range store.sessions {
		assert.True(t, s.Date.Before(cutoff))
	}
	assert.Empty(t, store.deactivated)
	assertNoOrphanPayments(t, store, pay)
}

func TestDeleteFallsBackToItemsWhenBatchRejected(t *testing.T) {
	store := newFakeStore()
	pay := newFakePayments()
	seriesID := uuid.New()
	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		sid := seriesID
		ids = append(ids, store.addSession(Session{
			AccountID: "acct-1",
			Date:      day("2024-01-01").AddDate(0, 0, 7*i),
			SeriesID:  &sid,
		}))
	}
	store.batchDeleteErr = errors.New("batch too large")
	store.failDelete[ids[2]] = errBoom

	out, err := NewSeriesDeleter(store, pay, logging.Discard()).Delete(context.Background(), "acct-1", seriesID, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, out.SessionsDeleted)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, ids[2], out.Errors[0].ID)
	assert.ErrorIs(t, out.Errors[0], errBoom)
	assert.False(t, out.SeriesDeactivated)
	assert.Len(t, store.sessions, 1)
}

func TestDeleteSkipsSessionsWhosePaymentSurvives(t *testing.T) {
	store := newFakeStore()
	pay := newFakePayments()
	res := seedSeries(t, store, pay, true)

	stuck := pay.bySession(res.SessionIDs[1])
	require.NotNil(t, stuck)
	pay.batchErr = errors.New("batch rejected")
	pay.failDelete[stuck.ID] = errBoom

	out, err := NewSeriesDeleter(store, pay, logging.Discard()).Delete(context.Background(), "acct-1", res.SeriesID, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, out.PaymentsDeleted)
	assert.Equal(t, 3, out.SessionsDeleted)
	assert.True(t, out.Partial())
	assert.False(t, out.SeriesDeactivated)

	_, kept := store.sessions[res.SessionIDs[1]]
	assert.True(t, kept)
	var sawBlocked bool
	for _, e := range out.Errors {
		if e.ID == res.SessionIDs[1] && errors.Is(e, ErrPaymentRemains) {
			sawBlocked = true
		}
	}
	assert.True(t, sawBlocked)
	assertNoOrphanPayments(t, store, pay)
}

func TestDeleteSessionsWithoutPayments(t *testing.T) {
	store := newFakeStore()
	pay := newFakePayments()
	res := seedSeries(t, store, pay, false)

	out, err := NewSeriesDeleter(store, pay, nil).Delete(context.Background(), "acct-1", res.SeriesID, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, out.PaymentsDeleted)
	assert.Equal(t, 4, out.SessionsDeleted)
}

func TestDeleteWithFallback(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	var itemCalls int
	deleted, failed := deleteWithFallback(context.Background(), ids,
		func(context.Context, []uuid.UUID) (int64, error) { return 0, errBoom },
		func(_ context.Context, id uuid.UUID) error {
			itemCalls++
			if id == ids[3] {
				return errBoom
			}
			return nil
		},
	)
	assert.Equal(t, 5, itemCalls)
	assert.Equal(t, 4, deleted)
	require.Len(t, failed, 1)
	assert.Equal(t, ids[3], failed[0].id)

	deleted, failed = deleteWithFallback(context.Background(), nil,
		func(context.Context, []uuid.UUID) (int64, error) {
			t.Fatal("batch called for empty set")
			return 0, nil
		},
		func(context.Context, uuid.UUID) error { return nil },
	)
	assert.Zero(t, deleted)
	assert.Empty(t, failed)
}
