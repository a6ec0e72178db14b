package banking

import (
	"context"
	"fmt"

	"github.com/nhle/bank-notifications/internal/model"
)

// NotificationAPI is the subset of the REST API the notification store
// depends on.
type NotificationAPI interface {
	UnreadNotifications(ctx context.Context, userID model.UserID) ([]model.Notification, error)
	Notifications(ctx context.Context, userID model.UserID) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, id model.NotificationID) error
}

// PreferencesAPI reads and writes a user's delivery preferences.
type PreferencesAPI interface {
	Preferences(ctx context.Context, userID model.UserID) (*model.Preferences, error)
	UpdatePreferences(ctx context.Context, userID model.UserID, prefs model.Preferences) (*model.Preferences, error)
}

var (
	_ NotificationAPI = (*Client)(nil)
	_ PreferencesAPI  = (*Client)(nil)
)

// UnreadNotifications fetches the unread notifications for a user,
// newest first.
func (c *Client) UnreadNotifications(
	ctx context.Context,
	userID model.UserID,
) ([]model.Notification, error) {
	var out []model.Notification
	path := fmt.Sprintf("/notifications/%d/unread", userID)
	if err := c.Get(ctx, path, &out); err != nil {
		return nil, fmt.Errorf("fetching unread notifications for user %d: %w", userID, err)
	}
	return validNotifications(out), nil
}

// Notifications fetches the full notification history for a user,
// newest first.
func (c *Client) Notifications(
	ctx context.Context,
	userID model.UserID,
) ([]model.Notification, error) {
	var out []model.Notification
	path := fmt.Sprintf("/notifications/%d", userID)
	if err := c.Get(ctx, path, &out); err != nil {
		return nil, fmt.Errorf("fetching notifications for user %d: %w", userID, err)
	}
	return validNotifications(out), nil
}

// MarkNotificationRead acknowledges a notification on the server.
func (c *Client) MarkNotificationRead(ctx context.Context, id model.NotificationID) error {
	path := fmt.Sprintf("/notifications/%d/read", id)
	if err := c.Put(ctx, path, nil, nil); err != nil {
		return fmt.Errorf("marking notification %d as read: %w", id, err)
	}
	return nil
}

// Preferences fetches the delivery preferences for a user. The backend
// creates defaults on first access.
func (c *Client) Preferences(
	ctx context.Context,
	userID model.UserID,
) (*model.Preferences, error) {
	var prefs model.Preferences
	path := fmt.Sprintf("/notifications/preferences/%d", userID)
	if err := c.Get(ctx, path, &prefs); err != nil {
		return nil, fmt.Errorf("fetching preferences for user %d: %w", userID, err)
	}
	return &prefs, nil
}

// UpdatePreferences replaces the delivery preferences for a user and
// returns the stored document.
func (c *Client) UpdatePreferences(
	ctx context.Context,
	userID model.UserID,
	prefs model.Preferences,
) (*model.Preferences, error) {
	if err := prefs.Validate(); err != nil {
		return nil, err
	}

	var saved model.Preferences
	path := fmt.Sprintf("/notifications/preferences/%d", userID)
	if err := c.Put(ctx, path, prefs, &saved); err != nil {
		return nil, fmt.Errorf("saving preferences for user %d: %w", userID, err)
	}
	return &saved, nil
}

// validNotifications drops entries without an id. The REST snapshot is
// held to the same standard as pushed notifications.
func validNotifications(in []model.Notification) []model.Notification {
	out := in[:0]
	for _, n := range in {
		if n.ID > 0 {
			out = append(out, n)
		}
	}
	return out
}
