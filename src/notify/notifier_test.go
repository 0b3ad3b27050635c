package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"orderengine/src/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	events []Event
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, e Event) error {
	r.events = append(r.events, e)
	return r.err
}

// Webhook posts the event body with the bearer token.
func TestWebhookNotifierPostsEvent(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(Config{WebhookURL: srv.URL, WebhookToken: "s3cret", WebhookTimeout: time.Second})
	err := n.Notify(context.Background(), Event{
		Type:       EventPositionClosed,
		UserID:     7,
		PositionID: 11,
		Reason:     model.CloseReasonStopLoss,
	})
	require.NoError(t, err)
	assert.Equal(t, EventPositionClosed, got.Type)
	assert.Equal(t, uint(7), got.UserID)
	assert.Equal(t, model.CloseReasonStopLoss, got.Reason)
}

// 5xx responses are retried, 4xx are not.
func TestWebhookNotifierRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(Config{WebhookURL: srv.URL, WebhookTimeout: time.Second, WebhookRetries: 2})
	n.http.SetRetryWaitTime(time.Millisecond).SetRetryMaxWaitTime(5 * time.Millisecond)
	require.NoError(t, n.Notify(context.Background(), Event{Type: EventOrderExecuted}))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer bad.Close()
	n = NewWebhookNotifier(Config{WebhookURL: bad.URL, WebhookTimeout: time.Second, WebhookRetries: 2})
	assert.Error(t, n.Notify(context.Background(), Event{Type: EventOrderExecuted}))
}

func TestMultiReturnsFirstError(t *testing.T) {
	a := &recordingNotifier{err: errors.New("down")}
	b := &recordingNotifier{}
	err := Multi{a, nil, b}.Notify(context.Background(), Event{Type: EventOrderFailed})
	assert.EqualError(t, err, "down")
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}

func TestSendStampsTime(t *testing.T) {
	r := &recordingNotifier{}
	Send(context.Background(), r, Event{Type: EventCredentialFailed})
	require.Len(t, r.events, 1)
	assert.False(t, r.events[0].At.IsZero())

	Send(context.Background(), nil, Event{})
}

func TestFromConfig(t *testing.T) {
	_, ok := FromConfig(Config{}).(LogNotifier)
	assert.True(t, ok)
	m, ok := FromConfig(Config{WebhookURL: "http://example.invalid"}).(Multi)
	require.True(t, ok)
	assert.Len(t, m, 2)
}
