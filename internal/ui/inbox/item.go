package inbox

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/bank-notifications/internal/model"
	"github.com/nhle/bank-notifications/internal/theme"
)

// NotificationItem wraps a model.Notification so it can be used in a
// bubbles/list.
type NotificationItem struct {
	Notification model.Notification
}

// FilterValue returns the string used for fuzzy filtering.
func (i NotificationItem) FilterValue() string { return i.Notification.Message }

// Title returns the notification message for the list.
func (i NotificationItem) Title() string { return i.Notification.Message }

// Description returns a short summary line for the list.
func (i NotificationItem) Description() string {
	parts := []string{
		i.Notification.TypeLabel(),
		i.Notification.Severity.String(),
		RelativeTime(i.Notification.Timestamp),
	}
	return strings.Join(parts, " | ")
}

// ItemDelegate implements list.ItemDelegate for rendering notifications.
type ItemDelegate struct{}

// Height returns the number of lines each item takes.
func (d ItemDelegate) Height() int { return 1 }

// Spacing returns the number of blank lines between items.
func (d ItemDelegate) Spacing() int { return 0 }

// Update handles per-item messages (unused for now).
func (d ItemDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

// Render draws a single notification line.
func (d ItemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, ok := item.(NotificationItem)
	if !ok {
		return
	}
	fmt.Fprint(w, RenderLine(it.Notification, index == m.Index(), m.Width()))
}

// RenderLine draws a notification as a single list row. It is shared with
// the bell dropdown.
func RenderLine(n model.Notification, selected bool, width int) string {
	marker := " "
	if !n.IsRead {
		marker = lipgloss.NewStyle().Foreground(theme.ColorBlue).Render("•")
	}

	sev := theme.SeverityStyle(n.Severity).Render(theme.SeverityIcon(n.Severity))
	badge := theme.TypeBadgeStyle(n.Type).Render(n.TypeLabel())
	when := lipgloss.NewStyle().
		Foreground(theme.ColorGray).
		Render(RelativeTime(n.Timestamp))

	msg := n.Message
	// Leave room for the marker, badges and the timestamp.
	if avail := width - lipgloss.Width(badge) - lipgloss.Width(when) - 10; avail > 0 {
		msg = truncate(msg, avail)
	}
	if n.IsRead {
		msg = theme.ReadItemStyle.Render(msg)
	}

	line := fmt.Sprintf("%s %s %s %s  %s", marker, sev, badge, msg, when)

	if selected {
		return theme.SelectedItemStyle.Render(line)
	}
	return theme.ListItemStyle.Render(line)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}

// RelativeTime returns a human-friendly relative time string.
func RelativeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		mins := int(d.Minutes())
		if mins == 1 {
			return "1m ago"
		}
		return fmt.Sprintf("%dm ago", mins)
	case d < 24*time.Hour:
		hrs := int(d.Hours())
		if hrs == 1 {
			return "1h ago"
		}
		return fmt.Sprintf("%dh ago", hrs)
	case d < 7*24*time.Hour:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	default:
		return t.Format("Jan 02 2006")
	}
}
