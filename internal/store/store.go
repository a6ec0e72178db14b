package store

import (
	"context"
	"errors"

	"github.com/nhle/bank-notifications/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// NotificationFilter controls filtering and limits for archive queries.
type NotificationFilter struct {
	UnreadOnly  bool
	Type        *model.NotificationType
	MinSeverity *model.Severity
	Query       *string // search message text
	Limit       int
	Offset      int
}

// Store defines the persistence interface for the offline notification
// archive and the cached delivery preferences.
type Store interface {
	// === Notifications ===

	SaveNotifications(ctx context.Context, userID model.UserID, ns []model.Notification) error
	Notifications(ctx context.Context, userID model.UserID) ([]model.Notification, error)
	QueryNotifications(ctx context.Context, userID model.UserID, filter NotificationFilter) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, id model.NotificationID) error
	UnreadCount(ctx context.Context, userID model.UserID) (int, error)
	DeleteNotifications(ctx context.Context, userID model.UserID) error

	// === Preferences ===

	SavePreferences(ctx context.Context, userID model.UserID, prefs model.Preferences) error
	GetPreferences(ctx context.Context, userID model.UserID) (*model.Preferences, error)

	Close() error
}
