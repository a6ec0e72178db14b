package push

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/bank-notifications/internal/model"
)

// Message is one inbound frame on a subscription. A non-nil Err means the
// connection is gone.
type Message struct {
	Body []byte
	Err  error
}

// Subscription is an active topic subscription.
type Subscription interface {
	// Messages yields inbound frames in receipt order. The channel is
	// closed when the connection ends.
	Messages() <-chan Message
	Unsubscribe() error
}

// Conn is an established push connection.
type Conn interface {
	Subscribe(destination string) (Subscription, error)
	// Close deactivates the connection.
	Close() error
}

// Dialer opens push connections on behalf of a user.
type Dialer interface {
	Dial(ctx context.Context, userID model.UserID, policy Policy) (Conn, error)
}

// NotificationListener receives each well-formed notification in receipt
// order. Listeners run synchronously on the delivery goroutine and must
// not call back into the Transport's lifecycle methods.
type NotificationListener func(userID model.UserID, n model.Notification)

// StateListener observes connection state changes.
type StateListener func(userID model.UserID, s State)

var errConnectionLost = errors.New("push connection lost")

type listenerEntry[T any] struct {
	id int
	fn T
}

// Transport owns the single push subscription for the active user. It
// reconnects with a fixed delay until torn down, and guarantees that no
// listener is invoked after Disconnect returns.
type Transport struct {
	dialer  Dialer
	policy  Policy
	log     zerolog.Logger
	metrics *Metrics

	// opMu serializes Connect, Disconnect and Acquire.
	opMu sync.Mutex

	mu             sync.Mutex
	user           *model.UserID
	refs           int
	state          State
	cancel         context.CancelFunc
	done           chan struct{}
	nextID         int
	listeners      []listenerEntry[NotificationListener]
	stateListeners []listenerEntry[StateListener]

	// gen identifies the live run loop. Deliveries tagged with an older
	// generation are discarded.
	gen atomic.Uint64

	// deliverMu fences listener invocations against teardown.
	deliverMu sync.Mutex
}

// Option customizes a Transport.
type Option func(*Transport)

// WithLogger sets the logger used for connection events.
func WithLogger(l zerolog.Logger) Option {
	return func(t *Transport) { t.log = l }
}

// WithMetrics records connection metrics.
func WithMetrics(m *Metrics) Option {
	return func(t *Transport) { t.metrics = m }
}

// NewTransport creates a dormant Transport.
func NewTransport(d Dialer, policy Policy, opts ...Option) *Transport {
	t := &Transport{
		dialer: d,
		policy: policy.withDefaults(),
		log:    zerolog.Nop(),
		state:  StateDisconnected,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnNotification registers a listener and returns a function removing it.
func (t *Transport) OnNotification(fn NotificationListener) (remove func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	id := t.nextID
	t.listeners = append(t.listeners, listenerEntry[NotificationListener]{id: id, fn: fn})

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.listeners = removeEntry(t.listeners, id)
	}
}

// OnStateChange registers a state listener and returns a function removing it.
func (t *Transport) OnStateChange(fn StateListener) (remove func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	id := t.nextID
	t.stateListeners = append(t.stateListeners, listenerEntry[StateListener]{id: id, fn: fn})

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.stateListeners = removeEntry(t.stateListeners, id)
	}
}

func removeEntry[T any](entries []listenerEntry[T], id int) []listenerEntry[T] {
	out := make([]listenerEntry[T], 0, len(entries))
	for _, e := range entries {
		if e.id != id {
			out = append(out, e)
		}
	}
	return out
}

// State returns the current connection state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// User returns the identity the Transport is attached to, if any.
func (t *Transport) User() (model.UserID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.user == nil {
		return 0, false
	}
	return *t.user, true
}

// Connect attaches the Transport to userID. It is idempotent for the same
// user. A different user's subscription is torn down first. A nil userID
// leaves the Transport dormant.
func (t *Transport) Connect(userID *model.UserID) {
	t.opMu.Lock()
	defer t.opMu.Unlock()
	t.connectLocked(userID)
}

// Disconnect unsubscribes and deactivates the connection. Both steps are
// best-effort; failures are logged and swallowed.
func (t *Transport) Disconnect() {
	t.opMu.Lock()
	defer t.opMu.Unlock()
	t.disconnectLocked()
}

// Acquire attaches a consumer for userID and returns its release function.
// The connection stays up while at least one consumer holds it; the last
// release disconnects.
func (t *Transport) Acquire(userID model.UserID) (release func()) {
	t.opMu.Lock()
	t.mu.Lock()
	t.refs++
	t.mu.Unlock()
	t.connectLocked(&userID)
	t.opMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.opMu.Lock()
			defer t.opMu.Unlock()

			t.mu.Lock()
			t.refs--
			last := t.refs <= 0
			if last {
				t.refs = 0
			}
			t.mu.Unlock()

			if last {
				t.disconnectLocked()
			}
		})
	}
}

func (t *Transport) connectLocked(userID *model.UserID) {
	if userID == nil {
		t.disconnectLocked()
		return
	}

	t.mu.Lock()
	same := t.user != nil && *t.user == *userID && t.cancel != nil
	t.mu.Unlock()
	if same {
		return
	}

	t.disconnectLocked()

	uid := *userID
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	t.mu.Lock()
	t.user = &uid
	t.cancel = cancel
	t.done = done
	t.mu.Unlock()

	gen := t.gen.Add(1)
	t.log.Info().Stringer("user_id", uid).Msg("push transport starting")

	go t.run(ctx, gen, uid, done)
}

func (t *Transport) disconnectLocked() {
	t.mu.Lock()
	cancel, done, user := t.cancel, t.done, t.user
	t.cancel, t.done, t.user = nil, nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}

	// Invalidate the run loop before waiting on it so that nothing it
	// still receives reaches a listener.
	t.gen.Add(1)
	cancel()

	// Wait for any delivery already in progress.
	t.deliverMu.Lock()
	t.deliverMu.Unlock()

	select {
	case <-done:
	case <-time.After(t.policy.CloseTimeout):
		t.log.Warn().
			Dur("timeout", t.policy.CloseTimeout).
			Msg("push teardown did not finish in time")
	}

	t.publishState(*user, StateDisconnected)
	t.log.Info().Stringer("user_id", *user).Msg("push transport stopped")
}

// run is the connect/consume/reconnect loop for one user.
func (t *Transport) run(ctx context.Context, gen uint64, uid model.UserID, done chan struct{}) {
	defer close(done)

	for {
		t.setState(gen, uid, StateConnecting)
		t.metrics.attempt()

		err := t.session(ctx, gen, uid)
		if ctx.Err() != nil {
			return
		}

		t.metrics.drop()
		t.log.Warn().
			Err(err).
			Stringer("user_id", uid).
			Dur("retry_in", t.policy.ReconnectDelay).
			Msg("push connection lost")
		t.setState(gen, uid, StateDisconnected)

		timer := time.NewTimer(t.policy.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// session dials, subscribes and consumes until the connection ends.
func (t *Transport) session(ctx context.Context, gen uint64, uid model.UserID) error {
	conn, err := t.dialer.Dial(ctx, uid, t.policy)
	if err != nil {
		return fmt.Errorf("dialing push endpoint: %w", err)
	}

	topic := Topic(uid)
	sub, err := conn.Subscribe(topic)
	if err != nil {
		t.closeConn(conn)
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	t.log.Debug().Str("topic", topic).Msg("subscribed")

	defer t.teardown(sub, conn)
	t.setState(gen, uid, StateConnected)

	msgs := sub.Messages()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return errConnectionLost
			}
			if msg.Err != nil {
				return fmt.Errorf("%w: %v", errConnectionLost, msg.Err)
			}
			t.handle(gen, uid, msg.Body)
		}
	}
}

// handle decodes one payload and delivers it. Malformed payloads are
// dropped and never affect the connection.
func (t *Transport) handle(gen uint64, uid model.UserID, body []byte) {
	n, err := model.DecodeNotification(body)
	if err != nil {
		t.metrics.discard("malformed")
		t.log.Warn().
			Err(err).
			Int("bytes", len(body)).
			Msg("dropping malformed push payload")
		return
	}

	t.deliverMu.Lock()
	defer t.deliverMu.Unlock()

	if t.gen.Load() != gen {
		t.metrics.discard("stale")
		return
	}

	t.mu.Lock()
	listeners := make([]NotificationListener, len(t.listeners))
	for i, e := range t.listeners {
		listeners[i] = e.fn
	}
	t.mu.Unlock()

	t.metrics.receive()
	for _, fn := range listeners {
		fn(uid, n)
	}
}

// teardown unsubscribes, then deactivates. Errors are logged only.
func (t *Transport) teardown(sub Subscription, conn Conn) {
	if err := sub.Unsubscribe(); err != nil {
		t.log.Debug().Err(err).Msg("unsubscribe failed")
	}
	t.closeConn(conn)
}

func (t *Transport) closeConn(conn Conn) {
	if err := conn.Close(); err != nil {
		t.log.Debug().Err(err).Msg("closing push connection failed")
	}
}

// setState records and publishes a state change from the run loop of
// generation gen. Changes from a superseded loop are ignored.
func (t *Transport) setState(gen uint64, uid model.UserID, s State) {
	t.deliverMu.Lock()
	defer t.deliverMu.Unlock()

	if t.gen.Load() != gen {
		return
	}
	t.publishStateLocked(uid, s)
}

func (t *Transport) publishState(uid model.UserID, s State) {
	t.deliverMu.Lock()
	defer t.deliverMu.Unlock()
	t.publishStateLocked(uid, s)
}

// publishStateLocked requires deliverMu.
func (t *Transport) publishStateLocked(uid model.UserID, s State) {
	t.mu.Lock()
	changed := t.state != s
	t.state = s
	listeners := make([]StateListener, len(t.stateListeners))
	for i, e := range t.stateListeners {
		listeners[i] = e.fn
	}
	t.mu.Unlock()

	if !changed {
		return
	}

	t.metrics.setState(s)
	t.log.Debug().Stringer("user_id", uid).Stringer("state", s).Msg("push state")
	for _, fn := range listeners {
		fn(uid, s)
	}
}
