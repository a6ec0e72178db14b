// Package notify reconciles the REST notification snapshot with live pushes
// into one ordered, de-duplicated view shared by every surface.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nhle/bank-notifications/internal/banking"
	"github.com/nhle/bank-notifications/internal/model"
)

var (
	// ErrStale reports a result that arrived after the identity it was
	// requested for was replaced. The result was discarded.
	ErrStale = errors.New("notify: result for a previous identity")

	// ErrUnknownNotification is returned when marking an ID the view does
	// not hold.
	ErrUnknownNotification = errors.New("notify: unknown notification")

	// ErrNoIdentity is returned by loads issued before Bind.
	ErrNoIdentity = errors.New("notify: no identity bound")
)

// Archive persists reconciled notifications for offline use.
type Archive interface {
	SaveNotifications(ctx context.Context, userID model.UserID, ns []model.Notification) error
	MarkNotificationRead(ctx context.Context, id model.NotificationID) error
	Notifications(ctx context.Context, userID model.UserID) ([]model.Notification, error)
}

// OfflineError is returned by LoadHistory when the REST fetch failed and the
// view was filled from the archive instead.
type OfflineError struct {
	Err error
}

func (e *OfflineError) Error() string {
	return fmt.Sprintf("showing archived notifications: %v", e.Err)
}

func (e *OfflineError) Unwrap() error { return e.Err }

// IsOffline reports whether err is an OfflineError.
func IsOffline(err error) bool {
	var oe *OfflineError
	return errors.As(err, &oe)
}

// Store holds the merged notification view for one identity at a time. All
// mutations happen under a single lock; network calls happen outside it.
type Store struct {
	api     banking.NotificationAPI
	archive Archive
	log     zerolog.Logger

	mu       sync.Mutex
	user     *model.UserID
	gen      uint64
	items    []model.Notification
	watchers map[int]chan struct{}
	nextW    int
}

// Option customizes a Store.
type Option func(*Store)

// WithArchive persists every change to a.
func WithArchive(a Archive) Option {
	return func(s *Store) { s.archive = a }
}

// WithLogger sets the Store's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// NewStore creates an empty Store with no identity bound.
func NewStore(api banking.NotificationAPI, opts ...Option) *Store {
	s := &Store{
		api:      api,
		log:      zerolog.Nop(),
		watchers: make(map[int]chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bind attaches the Store to userID. Switching to a different identity
// clears the view and invalidates in-flight loads.
func (s *Store) Bind(userID model.UserID) {
	s.mu.Lock()
	if s.user != nil && *s.user == userID {
		s.mu.Unlock()
		return
	}
	uid := userID
	s.user = &uid
	s.gen++
	s.items = nil
	s.mu.Unlock()

	s.notify()
}

// Reset detaches the Store from its identity and clears the view.
func (s *Store) Reset() {
	s.mu.Lock()
	s.user = nil
	s.gen++
	s.items = nil
	s.mu.Unlock()

	s.notify()
}

// User returns the bound identity, if any.
func (s *Store) User() (model.UserID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return 0, false
	}
	return *s.user, true
}

// LoadSnapshot fetches the unread notifications for userID and merges them
// into the view. On failure the view is left as it was.
func (s *Store) LoadSnapshot(ctx context.Context, userID model.UserID) error {
	gen, err := s.begin(userID)
	if err != nil {
		return err
	}

	ns, err := s.api.UnreadNotifications(ctx, userID)
	if err != nil {
		return err
	}
	return s.mergeFetched(ctx, gen, userID, ns)
}

// LoadHistory fetches the full notification history for userID and merges
// it like a snapshot. When the fetch fails and an archive is configured, the
// archived notifications are merged instead and an *OfflineError is returned.
func (s *Store) LoadHistory(ctx context.Context, userID model.UserID) error {
	gen, err := s.begin(userID)
	if err != nil {
		return err
	}

	ns, fetchErr := s.api.Notifications(ctx, userID)
	if fetchErr == nil {
		return s.mergeFetched(ctx, gen, userID, ns)
	}
	if s.archive == nil {
		return fetchErr
	}

	archived, err := s.archive.Notifications(ctx, userID)
	if err != nil {
		s.log.Warn().Err(err).Stringer("user_id", userID).Msg("reading notification archive failed")
		return fetchErr
	}
	if _, err := s.merge(gen, archived, false); err != nil {
		return err
	}
	return &OfflineError{Err: fetchErr}
}

// begin checks that userID is the bound identity and returns the current
// generation.
func (s *Store) begin(userID model.UserID) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return 0, ErrNoIdentity
	}
	if *s.user != userID {
		return 0, ErrStale
	}
	return s.gen, nil
}

func (s *Store) mergeFetched(ctx context.Context, gen uint64, userID model.UserID, ns []model.Notification) error {
	added, err := s.merge(gen, ns, false)
	if err != nil {
		s.log.Debug().Stringer("user_id", userID).Msg("discarding late notification fetch")
		return err
	}
	s.persist(ctx, userID, added)
	return nil
}

// ApplyPush inserts a live notification ahead of entries with an equal or
// earlier timestamp. A push for another identity, or with an ID the view
// already holds, is ignored. It reports whether the view changed.
func (s *Store) ApplyPush(userID model.UserID, n model.Notification) bool {
	s.mu.Lock()
	if s.user == nil || *s.user != userID {
		s.mu.Unlock()
		s.log.Debug().Stringer("user_id", userID).Msg("ignoring push for unbound identity")
		return false
	}
	gen := s.gen
	s.mu.Unlock()

	added, err := s.merge(gen, []model.Notification{n}, true)
	if err != nil || len(added) == 0 {
		return false
	}
	s.persist(context.Background(), userID, added)
	return true
}

// merge inserts every notification whose ID is not yet present, as one
// atomic step. Live entries go ahead of equal timestamps; fetched entries go
// after them.
func (s *Store) merge(gen uint64, ns []model.Notification, live bool) ([]model.Notification, error) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return nil, ErrStale
	}

	known := make(map[model.NotificationID]struct{}, len(s.items))
	for _, it := range s.items {
		known[it.ID] = struct{}{}
	}

	var added []model.Notification
	for _, n := range ns {
		if _, dup := known[n.ID]; dup {
			continue
		}
		known[n.ID] = struct{}{}
		s.items = insertAt(s.items, position(s.items, n, live), n)
		added = append(added, n)
	}
	s.mu.Unlock()

	if len(added) > 0 {
		s.notify()
	}
	return added, nil
}

// position finds where n goes in a newest-first slice.
func position(items []model.Notification, n model.Notification, live bool) int {
	for i, it := range items {
		if live && !it.Timestamp.After(n.Timestamp) {
			return i
		}
		if !live && it.Timestamp.Before(n.Timestamp) {
			return i
		}
	}
	return len(items)
}

func insertAt(items []model.Notification, i int, n model.Notification) []model.Notification {
	items = append(items, model.Notification{})
	copy(items[i+1:], items[i:])
	items[i] = n
	return items
}

// MarkAsRead flips the read flag locally, then acknowledges it on the
// server. If the server call fails the flag stays flipped and the error is
// returned. Marking an already-read notification is a no-op.
func (s *Store) MarkAsRead(ctx context.Context, id model.NotificationID) error {
	s.mu.Lock()
	idx := -1
	for i := range s.items {
		if s.items[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownNotification, id)
	}
	if s.items[idx].IsRead {
		s.mu.Unlock()
		return nil
	}
	s.items[idx].IsRead = true
	s.mu.Unlock()

	s.notify()

	if s.archive != nil {
		if err := s.archive.MarkNotificationRead(ctx, id); err != nil {
			s.log.Warn().Err(err).Stringer("id", id).Msg("archiving read flag failed")
		}
	}

	if err := s.api.MarkNotificationRead(ctx, id); err != nil {
		s.log.Warn().Err(err).Stringer("id", id).Msg("mark as read was not acknowledged")
		return err
	}
	return nil
}

// View returns a copy of the merged view, newest first.
func (s *Store) View() []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Notification(nil), s.items...)
}

// Unread returns the unread entries of the view, newest first.
func (s *Store) Unread() []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Notification
	for _, it := range s.items {
		if !it.IsRead {
			out = append(out, it)
		}
	}
	return out
}

// UnreadCount counts the unread entries of the current view.
func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, it := range s.items {
		if !it.IsRead {
			count++
		}
	}
	return count
}

// Get returns the entry with the given ID.
func (s *Store) Get(id model.NotificationID) (model.Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items {
		if it.ID == id {
			return it, true
		}
	}
	return model.Notification{}, false
}

// Watch returns a channel signalled after every change to the view. Signals
// coalesce: a slow reader sees one pending signal, not one per change.
func (s *Store) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	s.mu.Lock()
	s.nextW++
	id := s.nextW
	s.watchers[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *Store) persist(ctx context.Context, userID model.UserID, ns []model.Notification) {
	if s.archive == nil || len(ns) == 0 {
		return
	}
	if err := s.archive.SaveNotifications(ctx, userID, ns); err != nil {
		s.log.Warn().Err(err).Int("count", len(ns)).Msg("archiving notifications failed")
	}
}
