package banking

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/bank-notifications/internal/model"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/api/", "tok-123", WithMaxRetries(2))
}

func TestUnreadNotifications(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/notifications/7/unread", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[
			{"id":2,"message":"b","notificationType":"SECURITY","timestamp":"2024-05-01T10:00:01","isRead":false,"severity":"CRITICAL"},
			{"id":0,"message":"broken"},
			{"id":1,"message":"a","notificationType":"TRANSACTION","timestamp":"2024-05-01T10:00:00","isRead":false,"severity":"INFO"}
		]`)
	})
	c := newTestClient(t, mux)

	got, err := c.UnreadNotifications(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.NotificationID(2), got[0].ID)
	assert.Equal(t, model.NotificationSecurity, got[0].Type)
	assert.Equal(t, model.SeverityCritical, got[0].Severity)
	assert.Equal(t, model.NotificationID(1), got[1].ID)
}

func TestMarkNotificationReadEmptyAck(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /api/notifications/42/read", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	c := newTestClient(t, mux)

	require.NoError(t, c.MarkNotificationRead(context.Background(), 42))
	assert.Equal(t, int32(1), calls.Load())
}

func TestAuthErrorIsTyped(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := c.Notifications(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
}

func TestStatusErrorCarriesMessage(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":"Account not found"}`)
	}))

	err := c.MarkNotificationRead(context.Background(), 9)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "Account not found")
	assert.False(t, IsAuthError(err))
}

func TestRetriesOnRateLimit(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		io.WriteString(w, `[]`)
	}))

	got, err := c.UnreadNotifications(context.Background(), 3)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRateLimitExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := c.UnreadNotifications(context.Background(), 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries")
	assert.Equal(t, int32(3), calls.Load())
}

func TestServerErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := c.UnreadNotifications(context.Background(), 3)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPreferencesRoundTrip(t *testing.T) {
	stored := model.DefaultPreferences()
	stored.ID = 5

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/notifications/preferences/4", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(stored)
	})
	mux.HandleFunc("PUT /api/notifications/preferences/4", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var in model.Preferences
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		in.ID = stored.ID
		stored = in
		json.NewEncoder(w).Encode(stored)
	})
	c := newTestClient(t, mux)

	prefs, err := c.Preferences(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, 100.0, prefs.EmailTransactionThreshold)

	prefs.EnableSmsNotifications = false
	prefs.EmailTransactionThreshold = 250
	saved, err := c.UpdatePreferences(context.Background(), 4, *prefs)
	require.NoError(t, err)
	assert.False(t, saved.EnableSmsNotifications)
	assert.Equal(t, 250.0, saved.EmailTransactionThreshold)
	assert.Equal(t, int64(5), saved.ID)
}

func TestUpdatePreferencesValidatesLocally(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))

	prefs := model.DefaultPreferences()
	prefs.EmailTransactionThreshold = -5
	_, err := c.UpdatePreferences(context.Background(), 1, prefs)
	require.Error(t, err)
	assert.Zero(t, calls.Load())
}
