package push

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/bank-notifications/internal/model"
)

// fakeSub is a Subscription driven by the test.
type fakeSub struct {
	ch           chan Message
	closeOnce    sync.Once
	unsubscribed chan struct{}
	log          *callLog
}

func (s *fakeSub) Messages() <-chan Message { return s.ch }

func (s *fakeSub) Unsubscribe() error {
	s.log.add("unsubscribe")
	s.closeOnce.Do(func() { close(s.unsubscribed) })
	return errors.New("unsubscribe failed")
}

// drop simulates the server going away.
func (s *fakeSub) drop() {
	s.ch <- Message{Err: errors.New("read: connection reset")}
}

type fakeConn struct {
	sub  *fakeSub
	log  *callLog
	user model.UserID
}

func (c *fakeConn) Subscribe(dest string) (Subscription, error) {
	c.log.add("subscribe " + dest)
	return c.sub, nil
}

func (c *fakeConn) Close() error {
	c.log.add("close")
	return errors.New("close failed")
}

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, s)
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// fakeDialer fails the first failures dials, then hands out fakeConns.
type fakeDialer struct {
	mu       sync.Mutex
	failures int
	dials    []time.Time
	conns    chan *fakeConn
	log      *callLog
}

func newFakeDialer(failures int) *fakeDialer {
	return &fakeDialer{
		failures: failures,
		conns:    make(chan *fakeConn, 16),
		log:      &callLog{},
	}
}

func (d *fakeDialer) Dial(ctx context.Context, userID model.UserID, _ Policy) (Conn, error) {
	d.mu.Lock()
	d.dials = append(d.dials, time.Now())
	fail := d.failures > 0
	if fail {
		d.failures--
	}
	d.mu.Unlock()

	d.log.add(fmt.Sprintf("dial %d", userID))
	if fail {
		return nil, errors.New("connection refused")
	}

	c := &fakeConn{
		sub: &fakeSub{
			ch:           make(chan Message, 16),
			unsubscribed: make(chan struct{}),
			log:          d.log,
		},
		log:  d.log,
		user: userID,
	}
	d.conns <- c
	return c, nil
}

func (d *fakeDialer) dialTimes() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Time(nil), d.dials...)
}

func (d *fakeDialer) nextConn(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a connection")
		return nil
	}
}

func testPolicy(delay time.Duration) Policy {
	return Policy{ReconnectDelay: delay, CloseTimeout: 500 * time.Millisecond}
}

func payload(id int64) []byte {
	return []byte(fmt.Sprintf(
		`{"id":%d,"message":"m%d","notificationType":"TRANSACTION","timestamp":"2024-05-01T10:00:%02d","severity":"INFO"}`,
		id, id, id%60,
	))
}

type received struct {
	mu  sync.Mutex
	ids []model.NotificationID
	ch  chan model.NotificationID
}

func newReceived() *received {
	return &received{ch: make(chan model.NotificationID, 64)}
}

func (r *received) listener(_ model.UserID, n model.Notification) {
	r.mu.Lock()
	r.ids = append(r.ids, n.ID)
	r.mu.Unlock()
	r.ch <- n.ID
}

func (r *received) wait(t *testing.T) model.NotificationID {
	t.Helper()
	select {
	case id := <-r.ch:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a notification")
		return 0
	}
}

func (r *received) all() []model.NotificationID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.NotificationID(nil), r.ids...)
}

// gathered sums every sample of the named counter family.
func gathered(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func waitState(t *testing.T, tr *Transport, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return tr.State() == want },
		2*time.Second, 5*time.Millisecond, "state never became %s", want)
}

func TestConnectNilStaysDormant(t *testing.T) {
	d := newFakeDialer(0)
	tr := NewTransport(d, testPolicy(10*time.Millisecond))

	tr.Connect(nil)
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, StateDisconnected, tr.State())
	assert.Empty(t, d.dialTimes())
	_, ok := tr.User()
	assert.False(t, ok)
}

func TestDeliversInReceiptOrderAndDropsMalformed(t *testing.T) {
	d := newFakeDialer(0)
	reg := prometheus.NewRegistry()
	tr := NewTransport(d, testPolicy(10*time.Millisecond), WithMetrics(NewMetrics(reg)))
	got := newReceived()
	tr.OnNotification(got.listener)

	uid := model.UserID(7)
	tr.Connect(&uid)
	defer tr.Disconnect()

	conn := d.nextConn(t)
	waitState(t, tr, StateConnected)

	conn.sub.ch <- Message{Body: payload(1)}
	conn.sub.ch <- Message{Body: []byte(`{not json`)}
	conn.sub.ch <- Message{Body: []byte(`{"message":"no id","timestamp":"2024-05-01T10:00:00"}`)}
	conn.sub.ch <- Message{Body: payload(2)}
	conn.sub.ch <- Message{Body: payload(3)}

	assert.Equal(t, model.NotificationID(1), got.wait(t))
	assert.Equal(t, model.NotificationID(2), got.wait(t))
	assert.Equal(t, model.NotificationID(3), got.wait(t))
	assert.Equal(t, []model.NotificationID{1, 2, 3}, got.all())

	// Malformed payloads do not affect connection health.
	assert.Equal(t, StateConnected, tr.State())
	assert.Len(t, d.dialTimes(), 1)
	assert.Equal(t, 2.0, gathered(t, reg, "banknotify_push_messages_dropped_total"))
	assert.Equal(t, 3.0, gathered(t, reg, "banknotify_push_notifications_received_total"))
	assert.Contains(t, conn.log.snapshot(), "subscribe /topic/notifications/7")
}

func TestConnectIsIdempotentForSameUser(t *testing.T) {
	d := newFakeDialer(0)
	tr := NewTransport(d, testPolicy(10*time.Millisecond))

	uid := model.UserID(3)
	tr.Connect(&uid)
	defer tr.Disconnect()
	d.nextConn(t)
	waitState(t, tr, StateConnected)

	again := model.UserID(3)
	tr.Connect(&again)
	time.Sleep(30 * time.Millisecond)

	assert.Len(t, d.dialTimes(), 1)
	assert.Equal(t, StateConnected, tr.State())
}

func TestSwitchingUserTearsDownFirst(t *testing.T) {
	d := newFakeDialer(0)
	tr := NewTransport(d, testPolicy(10*time.Millisecond))
	got := newReceived()
	var users []model.UserID
	var mu sync.Mutex
	tr.OnNotification(func(uid model.UserID, n model.Notification) {
		mu.Lock()
		users = append(users, uid)
		mu.Unlock()
		got.listener(uid, n)
	})

	first := model.UserID(1)
	tr.Connect(&first)
	c1 := d.nextConn(t)
	waitState(t, tr, StateConnected)

	second := model.UserID(2)
	tr.Connect(&second)
	defer tr.Disconnect()
	c2 := d.nextConn(t)
	waitState(t, tr, StateConnected)

	// The old subscription was unsubscribed before it was closed, and
	// both happened before the new dial.
	assert.Equal(t, []string{
		"dial 1",
		"subscribe /topic/notifications/1",
		"unsubscribe",
		"close",
		"dial 2",
		"subscribe /topic/notifications/2",
	}, d.log.snapshot())

	// Frames still arriving on the old connection are never delivered.
	select {
	case c1.sub.ch <- Message{Body: payload(10)}:
	default:
	}
	c2.sub.ch <- Message{Body: payload(11)}
	assert.Equal(t, model.NotificationID(11), got.wait(t))

	mu.Lock()
	assert.Equal(t, []model.UserID{2}, users)
	mu.Unlock()

	uid, ok := tr.User()
	require.True(t, ok)
	assert.Equal(t, model.UserID(2), uid)
}

func TestNoDeliveryAfterDisconnect(t *testing.T) {
	d := newFakeDialer(0)
	tr := NewTransport(d, testPolicy(10*time.Millisecond))
	got := newReceived()
	tr.OnNotification(got.listener)

	uid := model.UserID(5)
	tr.Connect(&uid)
	conn := d.nextConn(t)
	waitState(t, tr, StateConnected)

	conn.sub.ch <- Message{Body: payload(1)}
	got.wait(t)

	// Teardown errors from unsubscribe and close are swallowed.
	tr.Disconnect()
	assert.Equal(t, StateDisconnected, tr.State())

	conn.sub.ch <- Message{Body: payload(2)}
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, []model.NotificationID{1}, got.all())
	assert.Equal(t, []string{
		"dial 5",
		"subscribe /topic/notifications/5",
		"unsubscribe",
		"close",
	}, d.log.snapshot())

	// A second disconnect is a no-op.
	tr.Disconnect()
}

func TestReconnectsWithFixedDelay(t *testing.T) {
	const delay = 60 * time.Millisecond
	d := newFakeDialer(3)
	tr := NewTransport(d, testPolicy(delay))

	var mu sync.Mutex
	var connecting []time.Time
	var states []State
	tr.OnStateChange(func(_ model.UserID, s State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
		if s == StateConnecting {
			connecting = append(connecting, time.Now())
		}
	})

	uid := model.UserID(9)
	tr.Connect(&uid)
	defer tr.Disconnect()

	d.nextConn(t)
	waitState(t, tr, StateConnected)

	mu.Lock()
	defer mu.Unlock()

	// Three refused dials, then success: one Connecting per attempt.
	require.Len(t, connecting, 4)
	for i := 1; i < len(connecting); i++ {
		gap := connecting[i].Sub(connecting[i-1])
		assert.GreaterOrEqual(t, gap, delay, "attempt %d came too early", i)
		assert.Less(t, gap, delay*4, "attempt %d backed off more than a fixed delay", i)
	}

	assert.Equal(t, []State{
		StateConnecting, StateDisconnected,
		StateConnecting, StateDisconnected,
		StateConnecting, StateDisconnected,
		StateConnecting, StateConnected,
	}, states)
}

func TestReconnectsAfterDrop(t *testing.T) {
	d := newFakeDialer(0)
	tr := NewTransport(d, testPolicy(20*time.Millisecond))
	got := newReceived()
	tr.OnNotification(got.listener)

	uid := model.UserID(4)
	tr.Connect(&uid)
	defer tr.Disconnect()

	c1 := d.nextConn(t)
	waitState(t, tr, StateConnected)
	c1.sub.drop()

	c2 := d.nextConn(t)
	waitState(t, tr, StateConnected)
	c2.sub.ch <- Message{Body: payload(8)}
	assert.Equal(t, model.NotificationID(8), got.wait(t))

	// The dropped connection was still torn down.
	<-c1.sub.unsubscribed
}

func TestAcquireReleaseRefCounts(t *testing.T) {
	d := newFakeDialer(0)
	tr := NewTransport(d, testPolicy(10*time.Millisecond))

	releaseBell := tr.Acquire(6)
	d.nextConn(t)
	waitState(t, tr, StateConnected)

	releasePage := tr.Acquire(6)
	assert.Len(t, d.dialTimes(), 1, "second consumer shares the connection")

	releaseBell()
	releaseBell()
	assert.Equal(t, StateConnected, tr.State())

	releasePage()
	assert.Equal(t, StateDisconnected, tr.State())
	_, ok := tr.User()
	assert.False(t, ok)
}

func TestPolicyFromConfigDefaults(t *testing.T) {
	p := PolicyFromConfig(model.PushConfig{HeartbeatIncoming: time.Second})
	assert.Equal(t, 5*time.Second, p.ReconnectDelay)
	assert.Equal(t, time.Second, p.HeartbeatIncoming)
	assert.Equal(t, 2*time.Second, p.CloseTimeout)
	assert.Equal(t, "/topic/notifications/12", Topic(12))
	assert.Equal(t, "connecting", StateConnecting.String())
}
