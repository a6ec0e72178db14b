package notify

import (
	"github.com/nhle/bank-notifications/internal/model"
	"github.com/nhle/bank-notifications/internal/push"
)

// Follow applies every notification the transport delivers to the Store
// and returns a function that stops following.
func (s *Store) Follow(t *push.Transport) (stop func()) {
	return t.OnNotification(func(userID model.UserID, n model.Notification) {
		s.ApplyPush(userID, n)
	})
}
