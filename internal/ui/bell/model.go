// Package bell renders the unread badge and the dropdown of the most
// recent unread notifications.
package bell

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/bank-notifications/internal/keys"
	"github.com/nhle/bank-notifications/internal/model"
	"github.com/nhle/bank-notifications/internal/theme"
	"github.com/nhle/bank-notifications/internal/ui/inbox"
)

// DefaultLimit is how many unread notifications the dropdown lists.
const DefaultLimit = 5

// Source provides the unread notifications, newest first.
type Source interface {
	Unread() []model.Notification
}

// ClosedMsg signals the parent to hide the dropdown.
type ClosedMsg struct{}

// OpenMsg asks the parent to show a notification in full.
type OpenMsg struct {
	ID model.NotificationID
}

// Model is the bell dropdown.
type Model struct {
	source Source
	keys   *keys.KeyMap
	items  []model.Notification
	count  int
	cursor int
	limit  int
	width  int
}

// New creates a bell dropdown reading from src.
func New(src Source, k *keys.KeyMap, width int) Model {
	return Model{
		source: src,
		keys:   k,
		limit:  DefaultLimit,
		width:  width,
	}
}

// Refresh re-reads the source. The badge count and the rows come from the
// same snapshot. The cursor stays on the same row index, clamped to the new
// length.
func (m *Model) Refresh() {
	unread := m.source.Unread()
	m.count = len(unread)
	if len(unread) > m.limit {
		unread = unread[:m.limit]
	}
	m.items = unread
	if m.cursor >= len(m.items) {
		m.cursor = max(len(m.items)-1, 0)
	}
}

// Count returns the unread count shown on the badge.
func (m Model) Count() int {
	return m.count
}

// Update handles key input while the dropdown is open.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	km, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch {
	case key.Matches(km, m.keys.Down):
		if m.cursor < len(m.items)-1 {
			m.cursor++
		}
	case key.Matches(km, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(km, m.keys.Select):
		if n, ok := m.selected(); ok {
			return m, func() tea.Msg { return OpenMsg{ID: n.ID} }
		}
	case key.Matches(km, m.keys.MarkRead):
		if n, ok := m.selected(); ok {
			return m, func() tea.Msg { return inbox.MarkReadMsg{ID: n.ID} }
		}
	case key.Matches(km, m.keys.MarkAllRead):
		ids := make([]model.NotificationID, 0, len(m.items))
		for _, n := range m.items {
			ids = append(ids, n.ID)
		}
		if len(ids) > 0 {
			return m, func() tea.Msg { return inbox.MarkAllReadMsg{IDs: ids} }
		}
	case key.Matches(km, m.keys.Back), key.Matches(km, m.keys.Bell):
		return m, func() tea.Msg { return ClosedMsg{} }
	}
	return m, nil
}

func (m Model) selected() (model.Notification, bool) {
	if m.cursor < 0 || m.cursor >= len(m.items) {
		return model.Notification{}, false
	}
	return m.items[m.cursor], true
}

// View renders the dropdown.
func (m Model) View() string {
	title := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite).
		Render(fmt.Sprintf("Unread (%d)", m.count))

	lines := []string{title, ""}
	if len(m.items) == 0 {
		lines = append(lines, lipgloss.NewStyle().Foreground(theme.ColorGray).Render("You're all caught up."))
	}
	for i, n := range m.items {
		lines = append(lines, inbox.RenderLine(n, i == m.cursor, m.width-4))
	}
	if extra := m.count - len(m.items); extra > 0 {
		lines = append(lines, "", theme.HelpStyle.Render(fmt.Sprintf("+%d more in the inbox", extra)))
	}
	lines = append(lines, "", theme.HelpStyle.Render("enter open · m mark read · M mark all · esc close"))

	return theme.DropdownStyle.Width(m.width - 2).Render(strings.Join(lines, "\n"))
}

// SetWidth updates the dropdown width.
func (m *Model) SetWidth(width int) {
	m.width = width
}

// Badge renders the header bell with its unread count.
func Badge(count int) string {
	if count == 0 {
		return "🔔"
	}
	label := fmt.Sprintf("%d", count)
	if count > 99 {
		label = "99+"
	}
	return "🔔 " + theme.BadgeStyle.Render(label)
}
