package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nhle/bank-notifications/internal/model"
)

func TestNotificationFilterMatch(t *testing.T) {
	security := model.NotificationSecurity
	warning := model.SeverityWarning
	query := "LOGIN"

	read := model.Notification{ID: 1, Message: "New login detected", Type: model.NotificationSecurity, Severity: model.SeverityWarning, IsRead: true}
	info := model.Notification{ID: 2, Message: "Statement ready", Type: model.NotificationSystem}

	assert.True(t, NotificationFilter{}.Match(read))
	assert.False(t, NotificationFilter{UnreadOnly: true}.Match(read))
	assert.True(t, NotificationFilter{Type: &security}.Match(read))
	assert.False(t, NotificationFilter{Type: &security}.Match(info))
	assert.False(t, NotificationFilter{MinSeverity: &warning}.Match(info))
	assert.True(t, NotificationFilter{Query: &query}.Match(read), "query is case-insensitive")

	got := NotificationFilter{MinSeverity: &warning}.Apply([]model.Notification{info, read})
	assert.Equal(t, []model.Notification{read}, got)

	assert.False(t, NotificationFilter{}.Active())
	assert.True(t, NotificationFilter{UnreadOnly: true}.Active())
}
