package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/bank-notifications/internal/banking"
	"github.com/nhle/bank-notifications/internal/model"
	"github.com/nhle/bank-notifications/internal/push"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	s, err := New(Config{
		Secret:    []byte("test-secret"),
		TokenTTL:  time.Hour,
		HeartBeat: time.Second,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})
	return s, ts
}

func mint(t *testing.T, s *Server, uid model.UserID) string {
	t.Helper()
	tok, err := s.Signer().Mint(uid)
	require.NoError(t, err)
	return tok
}

func create(t *testing.T, ts *httptest.Server, body string) model.Notification {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/dev/notifications", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	n, err := model.DecodeNotification(data)
	require.NoError(t, err)
	return n
}

func TestSignerRoundTrip(t *testing.T) {
	s := NewSigner([]byte("k"), time.Minute)
	tok, err := s.Mint(12)
	require.NoError(t, err)

	uid, err := s.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, model.UserID(12), uid)

	// The client reads the same claim without the secret.
	sess, err := model.NewSession(tok, 0)
	require.NoError(t, err)
	assert.Equal(t, model.UserID(12), sess.UserID)

	other := NewSigner([]byte("other"), time.Minute)
	_, err = other.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewSigner([]byte("k"), time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, err := expired.Mint(12)
	require.NoError(t, err)
	_, err = s.Verify(old)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRESTThroughBankingClient(t *testing.T) {
	s, ts := newTestServer(t)
	s.Repository().Seed(1)
	client := banking.NewClient(ts.URL+"/api", mint(t, s, 1))
	ctx := context.Background()

	all, err := client.Notifications(ctx, 1)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].Timestamp.After(all[i].Timestamp), "history must be newest first")
	}
	assert.Equal(t, model.NotificationSummary, all[0].Type)

	require.NoError(t, client.MarkNotificationRead(ctx, all[0].ID))

	unread, err := client.UnreadNotifications(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, unread, 4)

	prefs, err := client.Preferences(ctx, 1)
	require.NoError(t, err)
	assert.True(t, prefs.EnableRealTimeNotifications)
	assert.Equal(t, 500.0, prefs.SmsTransactionThreshold)

	prefs.EnableSmsNotifications = false
	saved, err := client.UpdatePreferences(ctx, 1, *prefs)
	require.NoError(t, err)
	assert.False(t, saved.EnableSmsNotifications)
}

func TestOtherUsersDataIsForbidden(t *testing.T) {
	s, ts := newTestServer(t)
	s.Repository().Seed(2)
	client := banking.NewClient(ts.URL+"/api", mint(t, s, 1))
	ctx := context.Background()

	_, err := client.Notifications(ctx, 2)
	var ae *banking.AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusForbidden, ae.StatusCode)

	// Another user's notification ID is not found for this caller.
	theirs := s.Repository().List(2, false)
	err = client.MarkNotificationRead(ctx, theirs[0].ID)
	assert.True(t, banking.IsNotFound(err))
}

func TestMissingTokenIsUnauthorized(t *testing.T) {
	_, ts := newTestServer(t)
	client := banking.NewClient(ts.URL+"/api", "")

	_, err := client.UnreadNotifications(context.Background(), 1)
	assert.True(t, banking.IsAuthError(err))
}

func TestInvalidPreferencesRejected(t *testing.T) {
	s, ts := newTestServer(t)

	body, err := json.Marshal(map[string]any{"emailTransactionThreshold": -1})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/notifications/preferences/1", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+mint(t, s, 1))
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateNotification(t *testing.T) {
	s, ts := newTestServer(t)

	n := create(t, ts, `{"userId":3,"message":"Card locked","notificationType":"security","severity":"CRITICAL","referenceId":9,"referenceType":"LOGIN"}`)

	assert.Equal(t, model.NotificationSecurity, n.Type)
	assert.Equal(t, model.SeverityCritical, n.Severity)
	require.NotNil(t, n.ReferenceID)
	assert.Equal(t, int64(9), *n.ReferenceID)
	assert.Len(t, s.Repository().List(3, true), 1)

	resp, err := http.Post(ts.URL+"/api/dev/notifications", "application/json", strings.NewReader(`{"message":"no user"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t)
	create(t, ts, `{"userId":1,"message":"hello"}`)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(data), `devbank_notifications_created_total{type="SYSTEM"} 1`)
}

func TestPushEndToEnd(t *testing.T) {
	s, ts := newTestServer(t)
	tok := mint(t, s, 4)

	dialer := &push.StompDialer{
		URL:   "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/websocket",
		Token: tok,
	}
	tr := push.NewTransport(dialer, push.Policy{
		ReconnectDelay:    50 * time.Millisecond,
		HeartbeatIncoming: time.Second,
		HeartbeatOutgoing: time.Second,
		CloseTimeout:      time.Second,
	})

	got := make(chan model.Notification, 16)
	tr.OnNotification(func(uid model.UserID, n model.Notification) {
		if uid == 4 {
			got <- n
		}
	})

	uid := model.UserID(4)
	tr.Connect(&uid)
	defer tr.Disconnect()

	require.Eventually(t, func() bool { return tr.State() == push.StateConnected },
		5*time.Second, 10*time.Millisecond)

	// SUBSCRIBE is asynchronous, so keep publishing until one arrives.
	var received model.Notification
	require.Eventually(t, func() bool {
		resp, err := http.Post(ts.URL+"/api/dev/notifications", "application/json",
			strings.NewReader(`{"userId":4,"message":"You received $10.00 from Alice","notificationType":"TRANSACTION"}`))
		if err != nil {
			return false
		}
		resp.Body.Close()
		select {
		case received = <-got:
			return true
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, "You received $10.00 from Alice", received.Message)
	assert.Equal(t, model.NotificationTransaction, received.Type)
}

func TestPushRespectsRealTimePreference(t *testing.T) {
	s, ts := newTestServer(t)
	prefs := model.DefaultPreferences()
	prefs.EnableRealTimeNotifications = false
	s.Repository().SavePreferences(5, prefs)

	create(t, ts, `{"userId":5,"message":"quiet"}`)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "devbank_notifications_pushed_total 0")
}

func TestWebsocketRequiresToken(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/ws/websocket")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
