// Package sync keeps the notification store reconciled with the backend and
// relays its changes to the Bubble Tea runtime.
package sync

import (
	"context"
	"errors"
	gosync "sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/nhle/bank-notifications/internal/banking"
	"github.com/nhle/bank-notifications/internal/model"
	"github.com/nhle/bank-notifications/internal/notify"
	"github.com/nhle/bank-notifications/internal/push"
)

// SyncState represents the state of the REST side of the feed.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncRunning
	SyncError
)

// Kind names what a fetch loaded.
type Kind string

const (
	KindUnread  Kind = "unread"
	KindHistory Kind = "history"
)

// Status is a snapshot of the feed's health.
type Status struct {
	State    SyncState
	Conn     push.State
	LastSync time.Time
	Error    error
}

// ChangedMsg is sent when the store's view changed.
type ChangedMsg struct{}

// ConnStateMsg is sent when the push connection changes state.
type ConnStateMsg struct {
	UserID model.UserID
	State  push.State
}

// SyncResultMsg is sent when a fetch completes.
type SyncResultMsg struct {
	Kind    Kind
	Error   error
	Offline bool
	Auth    bool
}

// fetchTimeout is the maximum time allowed for a single fetch operation.
const fetchTimeout = 30 * time.Second

// Feed drives one session's notification store: it binds the store to the
// session user, holds the push connection, applies pushes, and reloads the
// unread snapshot on every (re)connect and on a fixed interval.
type Feed struct {
	store     *notify.Store
	transport *push.Transport
	session   model.Session
	interval  time.Duration
	log       zerolog.Logger

	resultCh  chan tea.Msg
	triggerCh chan Kind
	stopCh    chan struct{}
	wg        gosync.WaitGroup

	// ctx bounds every fetch; Stop cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	mu       gosync.Mutex
	running  bool
	stopped  bool
	status   Status
	cleanups []func()
}

// Option customizes a Feed.
type Option func(*Feed)

// WithInterval enables the periodic snapshot reload.
func WithInterval(d time.Duration) Option {
	return func(f *Feed) { f.interval = d }
}

// WithLogger sets the logger used for fetch failures.
func WithLogger(l zerolog.Logger) Option {
	return func(f *Feed) { f.log = l }
}

// New creates a Feed for the given session.
func New(s *notify.Store, t *push.Transport, session model.Session, opts ...Option) *Feed {
	f := &Feed{
		store:     s,
		transport: t,
		session:   session,
		log:       zerolog.Nop(),
		resultCh:  make(chan tea.Msg, 64),
		triggerCh: make(chan Kind, 16),
		stopCh:    make(chan struct{}),
		status:    Status{Conn: push.StateDisconnected},
	}
	f.ctx, f.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Start binds the store, attaches to the push connection and starts the
// reconciliation loop. The returned command waits on the result channel
// and returns feed messages to the Bubble Tea runtime.
func (f *Feed) Start() tea.Cmd {
	f.mu.Lock()
	if f.running || f.stopped {
		f.mu.Unlock()
		return nil
	}
	f.running = true
	f.mu.Unlock()

	uid := f.session.UserID
	f.store.Bind(uid)

	stopFollow := f.store.Follow(f.transport)
	stopState := f.transport.OnStateChange(func(u model.UserID, s push.State) {
		if u != uid {
			return
		}
		f.setConn(s)
		f.sendResult(ConnStateMsg{UserID: u, State: s})
		if s == push.StateConnected {
			f.trigger(KindUnread)
		}
	})
	changes, stopWatch := f.store.Watch()
	release := f.transport.Acquire(uid)

	f.mu.Lock()
	f.cleanups = []func(){release, stopState, stopFollow, stopWatch}
	f.mu.Unlock()

	f.wg.Add(2)
	go f.relayChanges(changes)
	go f.loop()

	return f.waitForResult()
}

// Stop releases the push connection and halts the loop. An in-flight
// fetch is cancelled and pending results are discarded. A stopped Feed
// cannot be started again.
func (f *Feed) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.cancel()
	f.running = false
	f.stopped = true
	cleanups := f.cleanups
	f.cleanups = nil
	close(f.stopCh)
	f.mu.Unlock()

	for _, fn := range cleanups {
		fn()
	}
	f.wg.Wait()
}

// Refresh triggers an immediate reload of the unread snapshot.
func (f *Feed) Refresh() tea.Cmd {
	f.trigger(KindUnread)
	return nil
}

// LoadHistory triggers a load of the full notification history.
func (f *Feed) LoadHistory() tea.Cmd {
	f.trigger(KindHistory)
	return nil
}

// Reconnect drops the push connection and attaches again.
func (f *Feed) Reconnect() tea.Cmd {
	f.mu.Lock()
	running := f.running
	f.mu.Unlock()
	if !running {
		return nil
	}
	uid := f.session.UserID
	f.transport.Disconnect()
	f.transport.Connect(&uid)
	return nil
}

// Status returns the current status of the feed.
func (f *Feed) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *Feed) trigger(k Kind) {
	select {
	case f.triggerCh <- k:
	default:
		// Channel full; a reload of this kind is already pending
	}
}

// relayChanges turns store notifications into ChangedMsg.
func (f *Feed) relayChanges(changes <-chan struct{}) {
	defer f.wg.Done()
	for {
		select {
		case <-f.stopCh:
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			f.sendResult(ChangedMsg{})
		}
	}
}

// loop runs the reconciliation loop.
func (f *Feed) loop() {
	defer f.wg.Done()

	var tick <-chan time.Time
	if f.interval > 0 {
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	// Do an initial fetch immediately
	f.fetch(KindUnread)

	for {
		select {
		case <-f.stopCh:
			return
		case <-tick:
			f.fetch(KindUnread)
		case k := <-f.triggerCh:
			f.fetch(k)
		}
	}
}

// fetch loads a snapshot or the history into the store and reports the
// outcome.
func (f *Feed) fetch(k Kind) {
	f.setState(SyncRunning, nil)

	ctx, cancel := context.WithTimeout(f.ctx, fetchTimeout)
	defer cancel()

	uid := f.session.UserID
	var err error
	switch k {
	case KindHistory:
		err = f.store.LoadHistory(ctx, uid)
	default:
		err = f.store.LoadSnapshot(ctx, uid)
	}

	if f.ctx.Err() != nil {
		// Stopped mid-fetch; the result has no audience.
		return
	}

	switch {
	case err == nil:
		f.setState(SyncIdle, nil)
		f.sendResult(SyncResultMsg{Kind: k})
	case errors.Is(err, notify.ErrStale):
		// The store moved on to another identity; nothing to report.
		f.setState(SyncIdle, nil)
	case notify.IsOffline(err):
		f.setState(SyncError, err)
		f.sendResult(SyncResultMsg{Kind: k, Error: err, Offline: true})
	default:
		f.log.Warn().Err(err).Str("kind", string(k)).Stringer("user_id", uid).Msg("notification fetch failed")
		f.setState(SyncError, err)
		f.sendResult(SyncResultMsg{Kind: k, Error: err, Auth: banking.IsAuthError(err)})
	}
}

func (f *Feed) setState(state SyncState, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.status.State = state
	f.status.Error = err
	if state == SyncIdle && err == nil {
		f.status.LastSync = time.Now()
	}
}

func (f *Feed) setConn(s push.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status.Conn = s
}

// sendResult sends a message on the result channel without blocking.
func (f *Feed) sendResult(msg tea.Msg) {
	select {
	case f.resultCh <- msg:
	default:
		// Drop if channel is full to avoid blocking the feed
	}
}

// waitForResult returns a tea.Cmd that waits for the next message from the
// result channel.
func (f *Feed) waitForResult() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-f.stopCh:
			return nil
		default:
		}
		select {
		case msg := <-f.resultCh:
			return msg
		case <-f.stopCh:
			return nil
		}
	}
}

// WaitForNextResult returns a tea.Cmd that waits for the next feed
// message. It should be called after handling each feed message to keep
// listening.
func (f *Feed) WaitForNextResult() tea.Cmd {
	return f.waitForResult()
}
