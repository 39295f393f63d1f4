package sessions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/practice-platform/pkg/logging"
)

func TestWebhookNotifierPostsWithBasicAuth(t *testing.T) {
	var got ConfirmationMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "hook" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, "hook", "secret", srv.Client())
	msg := ConfirmationMessage{SessionID: "s-1", PatientName: "Ana", ConfirmURL: "https://x/confirm"}
	require.NoError(t, n.Notify(context.Background(), msg))
	assert.Equal(t, msg, got)
}

func TestWebhookNotifierReportsFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL, "", "", nil).Notify(context.Background(), ConfirmationMessage{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestWebhookNotifierRequiresURL(t *testing.T) {
	err := NewWebhookNotifier("", "", "", nil).Notify(context.Background(), ConfirmationMessage{})
	require.Error(t, err)
}

type recordingNotifier struct {
	msgs []ConfirmationMessage
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, msg ConfirmationMessage) error {
	r.msgs = append(r.msgs, msg)
	return r.err
}

func TestNotifyPatientReusesToken(t *testing.T) {
	store := newFakeStore()
	id := store.addSession(Session{AccountID: "acct-1", Date: day("2024-03-04"), Time: "10:00", MeetingLink: "https://meet.example/abc"})
	notifier := &recordingNotifier{}
	c := NewConfirmations(store, notifier, "https://app.example", logging.Discard())

	first, err := c.NotifyPatient(context.Background(), "acct-1", id)
	require.NoError(t, err)
	second, err := c.NotifyPatient(context.Background(), "acct-1", id)
	require.NoError(t, err)
	assert.Equal(t, first.ConfirmURL, second.ConfirmURL)
	require.Len(t, notifier.msgs, 2)

	msg := notifier.msgs[0]
	assert.Equal(t, "2024-03-04", msg.SessionDate)
	assert.Equal(t, "10:00", msg.SessionTime)
	assert.Equal(t, "https://meet.example/abc", msg.MeetingLink)

	u, err := url.Parse(msg.ConfirmURL)
	require.NoError(t, err)
	assert.Equal(t, "/public/sessions/"+id.String()+"/confirm", u.Path)
	token := u.Query().Get("token")
	assert.Len(t, token, 64)
	assert.Equal(t, store.tokens[id], token)
}

func TestNotifyPatientPropagatesWebhookFailure(t *testing.T) {
	store := newFakeStore()
	id := store.addSession(Session{AccountID: "acct-1", Date: day("2024-03-04"), Time: "10:00"})
	c := NewConfirmations(store, &recordingNotifier{err: errBoom}, "https://app.example", logging.Discard())

	_, err := c.NotifyPatient(context.Background(), "acct-1", id)
	require.ErrorIs(t, err, errBoom)
}

func TestNotifyPatientWithoutWebhook(t *testing.T) {
	store := newFakeStore()
	id := store.addSession(Session{AccountID: "acct-1", Date: day("2024-03-04"), Time: "10:00"})

	_, err := NewConfirmations(store, nil, "https://app.example", logging.Discard()).NotifyPatient(context.Background(), "acct-1", id)
	require.ErrorIs(t, err, ErrNotifierDisabled)
	assert.Empty(t, store.tokens)
}

func TestConfirm(t *testing.T) {
	store := newFakeStore()
	id := store.addSession(Session{AccountID: "acct-1", Date: day("2024-03-04")})
	c := NewConfirmations(store, &recordingNotifier{}, "https://app.example", logging.Discard())
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	require.ErrorIs(t, c.Confirm(context.Background(), id, "anything"), ErrInvalidToken)

	_, err := c.NotifyPatient(context.Background(), "acct-1", id)
	require.NoError(t, err)
	token := store.tokens[id]

	require.ErrorIs(t, c.Confirm(context.Background(), id, "wrong"), ErrInvalidToken)
	require.ErrorIs(t, c.Confirm(context.Background(), id, ""), ErrInvalidToken)
	require.NoError(t, c.Confirm(context.Background(), id, token))
	assert.True(t, store.sessions[id].PatientConfirmed)
	assert.Equal(t, fixed, store.confirmedAt[id])

	c.now = func() time.Time { return fixed.Add(time.Hour) }
	require.NoError(t, c.Confirm(context.Background(), id, token))
	assert.Equal(t, fixed, store.confirmedAt[id])

	require.ErrorIs(t, c.Confirm(context.Background(), uuid.New(), token), ErrNotFound)
}
