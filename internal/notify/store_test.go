package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/bank-notifications/internal/model"
)

type fakeAPI struct {
	mu       sync.Mutex
	unread   []model.Notification
	history  []model.Notification
	fetchErr error
	markErr  error
	marked   []model.NotificationID

	// gate, when set, blocks fetches until closed.
	gate chan struct{}
}

func (f *fakeAPI) wait(ctx context.Context) error {
	if f.gate == nil {
		return nil
	}
	select {
	case <-f.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeAPI) UnreadNotifications(ctx context.Context, _ model.UserID) ([]model.Notification, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return append([]model.Notification(nil), f.unread...), nil
}

func (f *fakeAPI) Notifications(ctx context.Context, _ model.UserID) ([]model.Notification, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return append([]model.Notification(nil), f.history...), nil
}

func (f *fakeAPI) MarkNotificationRead(_ context.Context, id model.NotificationID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, id)
	return f.markErr
}

func (f *fakeAPI) markedIDs() []model.NotificationID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.NotificationID(nil), f.marked...)
}

type memArchive struct {
	mu    sync.Mutex
	saved map[model.NotificationID]model.Notification
	err   error
}

func newMemArchive() *memArchive {
	return &memArchive{saved: make(map[model.NotificationID]model.Notification)}
}

func (a *memArchive) SaveNotifications(_ context.Context, _ model.UserID, ns []model.Notification) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, n := range ns {
		a.saved[n.ID] = n
	}
	return nil
}

func (a *memArchive) MarkNotificationRead(_ context.Context, id model.NotificationID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := a.saved[id]
	n.IsRead = true
	a.saved[id] = n
	return nil
}

func (a *memArchive) Notifications(_ context.Context, _ model.UserID) ([]model.Notification, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	var out []model.Notification
	for _, n := range a.saved {
		out = append(out, n)
	}
	return out, nil
}

var base = time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local)

func note(id int64, minute int) model.Notification {
	return model.Notification{
		ID:        model.NotificationID(id),
		Message:   "notification",
		Type:      model.NotificationTransaction,
		Severity:  model.SeverityInfo,
		Timestamp: base.Add(time.Duration(minute) * time.Minute),
	}
}

func ids(ns []model.Notification) []model.NotificationID {
	out := make([]model.NotificationID, len(ns))
	for i, n := range ns {
		out[i] = n.ID
	}
	return out
}

func countUnread(ns []model.Notification) int {
	c := 0
	for _, n := range ns {
		if !n.IsRead {
			c++
		}
	}
	return c
}

func boundStore(t *testing.T, api *fakeAPI, opts ...Option) *Store {
	t.Helper()
	s := NewStore(api, opts...)
	s.Bind(1)
	return s
}

func TestLoadSnapshotOrdersNewestFirst(t *testing.T) {
	api := &fakeAPI{unread: []model.Notification{note(1, 1), note(3, 3), note(2, 2)}}
	s := boundStore(t, api)

	require.NoError(t, s.LoadSnapshot(context.Background(), 1))
	assert.Equal(t, []model.NotificationID{3, 2, 1}, ids(s.View()))
	assert.Equal(t, 3, s.UnreadCount())
}

func TestSnapshotThenSamePushKeepsOneEntry(t *testing.T) {
	api := &fakeAPI{unread: []model.Notification{note(1, 1)}}
	s := boundStore(t, api)

	require.NoError(t, s.LoadSnapshot(context.Background(), 1))
	changed := s.ApplyPush(1, note(1, 1))

	assert.False(t, changed)
	assert.Equal(t, []model.NotificationID{1}, ids(s.View()))
}

func TestMergeIsIdempotentAcrossOrderings(t *testing.T) {
	snapshot := []model.Notification{note(1, 1), note(2, 2), note(4, 4)}
	pushes := []model.Notification{note(2, 2), note(3, 3), note(4, 4), note(5, 5), note(3, 3)}

	// The snapshot lands before, between and after the pushes.
	for at := 0; at <= len(pushes); at++ {
		api := &fakeAPI{unread: snapshot}
		s := boundStore(t, api)

		for i, p := range pushes {
			if i == at {
				require.NoError(t, s.LoadSnapshot(context.Background(), 1))
			}
			s.ApplyPush(1, p)
		}
		if at == len(pushes) {
			require.NoError(t, s.LoadSnapshot(context.Background(), 1))
		}

		assert.Equal(t, []model.NotificationID{5, 4, 3, 2, 1}, ids(s.View()), "snapshot at %d", at)
		assert.Equal(t, countUnread(s.View()), s.UnreadCount())
	}
}

func TestPushGoesAheadOfEqualTimestamps(t *testing.T) {
	api := &fakeAPI{unread: []model.Notification{note(1, 5), note(2, 5)}}
	s := boundStore(t, api)
	require.NoError(t, s.LoadSnapshot(context.Background(), 1))

	s.ApplyPush(1, note(3, 5))
	s.ApplyPush(1, note(4, 1))
	s.ApplyPush(1, note(5, 9))

	assert.Equal(t, []model.NotificationID{5, 3, 1, 2, 4}, ids(s.View()))
}

func TestSnapshotGoesAfterEqualTimestamps(t *testing.T) {
	api := &fakeAPI{unread: []model.Notification{note(1, 5)}}
	s := boundStore(t, api)

	s.ApplyPush(1, note(2, 5))
	require.NoError(t, s.LoadSnapshot(context.Background(), 1))

	assert.Equal(t, []model.NotificationID{2, 1}, ids(s.View()))
}

func TestExistingEntryWins(t *testing.T) {
	api := &fakeAPI{}
	s := boundStore(t, api)

	first := note(7, 1)
	first.Message = "first"
	s.ApplyPush(1, first)
	require.NoError(t, s.MarkAsRead(context.Background(), 7))

	// A later snapshot still reporting it unread does not resurrect it.
	stale := note(7, 1)
	stale.Message = "second"
	api.unread = []model.Notification{stale}
	require.NoError(t, s.LoadSnapshot(context.Background(), 1))

	got, ok := s.Get(7)
	require.True(t, ok)
	assert.Equal(t, "first", got.Message)
	assert.True(t, got.IsRead)
	assert.Equal(t, 0, s.UnreadCount())
}

func TestLoadSnapshotFailureLeavesViewUntouched(t *testing.T) {
	api := &fakeAPI{unread: []model.Notification{note(1, 1), note(2, 2)}}
	s := boundStore(t, api)
	require.NoError(t, s.LoadSnapshot(context.Background(), 1))
	before := s.View()

	api.fetchErr = errors.New("503 service unavailable")
	err := s.LoadSnapshot(context.Background(), 1)

	require.Error(t, err)
	assert.Equal(t, before, s.View())
}

func TestMarkAsReadDecrementsByOne(t *testing.T) {
	api := &fakeAPI{unread: []model.Notification{note(1, 1), note(2, 2), note(3, 3)}}
	s := boundStore(t, api)
	require.NoError(t, s.LoadSnapshot(context.Background(), 1))

	require.NoError(t, s.MarkAsRead(context.Background(), 2))

	assert.Equal(t, 2, s.UnreadCount())
	for _, n := range s.View() {
		assert.Equal(t, n.ID == 2, n.IsRead, "id %d", n.ID)
	}
	assert.Equal(t, []model.NotificationID{2}, api.markedIDs())

	// Marking again neither double-decrements nor calls the server.
	require.NoError(t, s.MarkAsRead(context.Background(), 2))
	assert.Equal(t, 2, s.UnreadCount())
	assert.Len(t, api.markedIDs(), 1)
}

func TestMarkAsReadFailureKeepsFlag(t *testing.T) {
	rejected := errors.New("500 internal server error")
	api := &fakeAPI{markErr: rejected}
	s := boundStore(t, api)
	s.ApplyPush(1, note(42, 1))

	err := s.MarkAsRead(context.Background(), 42)

	require.ErrorIs(t, err, rejected)
	got, ok := s.Get(42)
	require.True(t, ok)
	assert.True(t, got.IsRead)
	assert.Equal(t, 0, s.UnreadCount())
	assert.Empty(t, s.Unread())
}

func TestMarkAsReadUnknown(t *testing.T) {
	api := &fakeAPI{}
	s := boundStore(t, api)

	err := s.MarkAsRead(context.Background(), 99)

	require.ErrorIs(t, err, ErrUnknownNotification)
	assert.Empty(t, api.markedIDs())
}

func TestPushForOtherIdentityIgnored(t *testing.T) {
	s := boundStore(t, &fakeAPI{})

	assert.False(t, s.ApplyPush(2, note(1, 1)))
	assert.Empty(t, s.View())

	unbound := NewStore(&fakeAPI{})
	assert.False(t, unbound.ApplyPush(1, note(1, 1)))
}

func TestLateSnapshotAfterIdentitySwitchIsDiscarded(t *testing.T) {
	api := &fakeAPI{
		unread: []model.Notification{note(1, 1)},
		gate:   make(chan struct{}),
	}
	s := boundStore(t, api)

	errc := make(chan error, 1)
	go func() { errc <- s.LoadSnapshot(context.Background(), 1) }()

	s.Bind(2)
	close(api.gate)

	assert.ErrorIs(t, <-errc, ErrStale)
	assert.Empty(t, s.View())

	uid, ok := s.User()
	require.True(t, ok)
	assert.Equal(t, model.UserID(2), uid)
}

func TestLoadRequiresIdentity(t *testing.T) {
	s := NewStore(&fakeAPI{})
	assert.ErrorIs(t, s.LoadSnapshot(context.Background(), 1), ErrNoIdentity)

	s.Bind(1)
	assert.ErrorIs(t, s.LoadSnapshot(context.Background(), 2), ErrStale)

	s.Reset()
	_, ok := s.User()
	assert.False(t, ok)
}

func TestLoadHistoryIncludesReadEntries(t *testing.T) {
	read := note(1, 1)
	read.IsRead = true
	api := &fakeAPI{history: []model.Notification{note(2, 2), read}}
	s := boundStore(t, api)

	require.NoError(t, s.LoadHistory(context.Background(), 1))

	assert.Equal(t, []model.NotificationID{2, 1}, ids(s.View()))
	assert.Equal(t, []model.NotificationID{2}, ids(s.Unread()))
	assert.Equal(t, 1, s.UnreadCount())
}

func TestLoadHistoryFallsBackToArchive(t *testing.T) {
	archive := newMemArchive()
	api := &fakeAPI{unread: []model.Notification{note(1, 1), note(2, 2)}}
	s := boundStore(t, api, WithArchive(archive))
	require.NoError(t, s.LoadSnapshot(context.Background(), 1))
	s.ApplyPush(1, note(3, 3))
	require.NoError(t, s.MarkAsRead(context.Background(), 1))

	// A fresh session with the server down sees the archived view.
	offline := errors.New("dial tcp: connection refused")
	down := &fakeAPI{fetchErr: offline}
	fresh := boundStore(t, down, WithArchive(archive))

	err := fresh.LoadHistory(context.Background(), 1)

	require.Error(t, err)
	assert.True(t, IsOffline(err))
	assert.ErrorIs(t, err, offline)
	assert.Equal(t, []model.NotificationID{3, 2, 1}, ids(fresh.View()))
	assert.Equal(t, 2, fresh.UnreadCount())
}

func TestLoadHistoryArchiveFailureReturnsFetchError(t *testing.T) {
	archive := newMemArchive()
	archive.err = errors.New("database is locked")
	offline := errors.New("connection refused")
	s := boundStore(t, &fakeAPI{fetchErr: offline}, WithArchive(archive))

	err := s.LoadHistory(context.Background(), 1)

	assert.ErrorIs(t, err, offline)
	assert.False(t, IsOffline(err))
	assert.Empty(t, s.View())
}

func TestWatchCoalescesSignals(t *testing.T) {
	s := boundStore(t, &fakeAPI{})
	ch, cancel := s.Watch()

	s.ApplyPush(1, note(1, 1))
	s.ApplyPush(1, note(2, 2))

	select {
	case <-ch:
	default:
		t.Fatal("expected a change signal")
	}
	select {
	case <-ch:
		t.Fatal("signals should coalesce")
	default:
	}

	cancel()
	cancel()
	s.ApplyPush(1, note(3, 3))
	select {
	case <-ch:
		t.Fatal("cancelled watcher was signalled")
	default:
	}
}

func TestConcurrentPushesAndSnapshot(t *testing.T) {
	var snapshot []model.Notification
	for i := 1; i <= 50; i++ {
		snapshot = append(snapshot, note(int64(i), i))
	}
	api := &fakeAPI{unread: snapshot}
	s := boundStore(t, api)

	var wg sync.WaitGroup
	for i := 25; i <= 75; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			s.ApplyPush(1, note(id, int(id)))
		}(int64(i))
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, s.LoadSnapshot(context.Background(), 1))
	}()
	wg.Wait()

	view := s.View()
	require.Len(t, view, 75)
	for i := 1; i < len(view); i++ {
		assert.False(t, view[i].Timestamp.After(view[i-1].Timestamp), "view not newest first at %d", i)
	}
	assert.Equal(t, 75, s.UnreadCount())
}
