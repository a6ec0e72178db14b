package store

import (
	"strings"

	"github.com/nhle/bank-notifications/internal/model"
)

// Match reports whether n passes the filter. It applies the same rules as
// QueryNotifications to notifications already held in memory; Limit and
// Offset are ignored.
func (f NotificationFilter) Match(n model.Notification) bool {
	if f.UnreadOnly && n.IsRead {
		return false
	}
	if f.Type != nil && n.Type != *f.Type {
		return false
	}
	if f.MinSeverity != nil && n.Severity < *f.MinSeverity {
		return false
	}
	if f.Query != nil && *f.Query != "" &&
		!strings.Contains(strings.ToLower(n.Message), strings.ToLower(*f.Query)) {
		return false
	}
	return true
}

// Active reports whether any narrowing condition is set.
func (f NotificationFilter) Active() bool {
	return f.UnreadOnly || f.Type != nil || f.MinSeverity != nil ||
		(f.Query != nil && *f.Query != "")
}

// Apply returns the notifications in ns that pass the filter, keeping
// their order.
func (f NotificationFilter) Apply(ns []model.Notification) []model.Notification {
	out := make([]model.Notification, 0, len(ns))
	for _, n := range ns {
		if f.Match(n) {
			out = append(out, n)
		}
	}
	return out
}
