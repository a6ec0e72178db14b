package inbox

import (
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/bank-notifications/internal/keys"
	"github.com/nhle/bank-notifications/internal/model"
	"github.com/nhle/bank-notifications/internal/store"
	"github.com/nhle/bank-notifications/internal/theme"
)

// Source is the reconciled view the inbox renders.
type Source interface {
	View() []model.Notification
}

// LoadedMsg is sent when the inbox has read the current view.
type LoadedMsg struct {
	Notifications []model.Notification
}

// SelectedMsg is sent when the user opens a notification.
type SelectedMsg struct {
	ID model.NotificationID
}

// MarkReadMsg asks the parent to mark a notification as read.
type MarkReadMsg struct {
	ID model.NotificationID
}

// MarkAllReadMsg asks the parent to mark every listed unread notification
// as read.
type MarkAllReadMsg struct {
	IDs []model.NotificationID
}

// severityModes is the minimum severity cycled by Tab. nil shows all.
var severityModes = []*model.Severity{
	nil,
	severityPtr(model.SeverityWarning),
	severityPtr(model.SeverityCritical),
}

func severityPtr(s model.Severity) *model.Severity { return &s }

// Model is the notification list view.
type Model struct {
	list          list.Model
	source        Source
	keys          *keys.KeyMap
	filter        store.NotificationFilter
	severityIndex int
	searchMode    bool
	searchInput   textinput.Model
	width         int
	height        int
}

// New creates a new inbox model.
func New(src Source, k *keys.KeyMap, width, height int) Model {
	l := list.New([]list.Item{}, ItemDelegate{}, width, height-2)
	l.Title = "Notifications"
	l.SetShowStatusBar(true)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.Styles.Title = theme.HeaderStyle

	si := textinput.New()
	si.Placeholder = "search notifications..."
	si.Prompt = "/ "
	si.Width = width - 4

	return Model{
		list:        l,
		source:      src,
		keys:        k,
		searchInput: si,
		width:       width,
		height:      height,
	}
}

// Init returns a command that loads the current view.
func (m Model) Init() tea.Cmd {
	return m.Reload()
}

// Update handles messages for the inbox view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case LoadedMsg:
		items := make([]list.Item, len(msg.Notifications))
		for i, n := range msg.Notifications {
			items[i] = NotificationItem{Notification: n}
		}
		cmd := m.list.SetItems(items)
		return m, cmd

	case tea.KeyMsg:
		if m.searchMode {
			return m.handleSearchKeys(msg)
		}
		return m.handleNormalKeys(msg)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// handleSearchKeys processes key input while in search mode.
func (m Model) handleSearchKeys(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.searchMode = false
		query := m.searchInput.Value()
		if query != "" {
			m.filter.Query = &query
		} else {
			m.filter.Query = nil
		}
		return m, m.Reload()

	case "esc":
		m.searchMode = false
		m.searchInput.Reset()
		m.filter.Query = nil
		return m, m.Reload()
	}

	var cmd tea.Cmd
	m.searchInput, cmd = m.searchInput.Update(msg)
	return m, cmd
}

// handleNormalKeys processes key input in normal (non-search) mode.
func (m Model) handleNormalKeys(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Select):
		n, ok := m.Selected()
		if !ok {
			return m, nil
		}
		return m, func() tea.Msg {
			return SelectedMsg{ID: n.ID}
		}

	case key.Matches(msg, m.keys.MarkRead):
		n, ok := m.Selected()
		if !ok || n.IsRead {
			return m, nil
		}
		return m, func() tea.Msg {
			return MarkReadMsg{ID: n.ID}
		}

	case key.Matches(msg, m.keys.MarkAllRead):
		var ids []model.NotificationID
		for _, it := range m.list.Items() {
			if ni, ok := it.(NotificationItem); ok && !ni.Notification.IsRead {
				ids = append(ids, ni.Notification.ID)
			}
		}
		if len(ids) == 0 {
			return m, nil
		}
		return m, func() tea.Msg {
			return MarkAllReadMsg{IDs: ids}
		}

	case key.Matches(msg, m.keys.Search):
		m.searchMode = true
		m.searchInput.Reset()
		return m, m.searchInput.Focus()

	case key.Matches(msg, m.keys.ToggleUnread):
		cmd := m.SetUnreadOnly(!m.filter.UnreadOnly)
		return m, cmd

	case key.Matches(msg, m.keys.CycleSeverity):
		m.severityIndex = (m.severityIndex + 1) % len(severityModes)
		m.filter.MinSeverity = severityModes[m.severityIndex]
		m.updateTitle()
		return m, m.Reload()
	}

	// Delegate to the list for navigation keys (up/down/pgup/pgdn)
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m *Model) updateTitle() {
	title := "Notifications"
	if m.filter.UnreadOnly {
		title += " · unread"
	}
	if m.filter.MinSeverity != nil {
		title += " · ≥" + m.filter.MinSeverity.String()
	}
	m.list.Title = title
}

// View renders the inbox.
func (m Model) View() string {
	if m.searchMode {
		searchBar := lipgloss.NewStyle().
			Foreground(theme.ColorWhite).
			Padding(0, 1).
			Render(m.searchInput.View())
		return lipgloss.JoinVertical(lipgloss.Left, searchBar, m.list.View())
	}

	if len(m.list.Items()) == 0 {
		return m.renderEmptyState()
	}

	return m.list.View()
}

// renderEmptyState shows guidance text when nothing is listed.
func (m Model) renderEmptyState() string {
	style := lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray)

	if m.filter.Active() {
		return style.Render("No matching notifications.\nPress u or tab to change the filter.")
	}

	return style.Render("No notifications yet.\n\nNew ones appear here as they arrive.")
}

// Reload returns a tea.Cmd that reads the source through the current
// filter.
func (m Model) Reload() tea.Cmd {
	filter := m.filter
	src := m.source
	return func() tea.Msg {
		return LoadedMsg{Notifications: filter.Apply(src.View())}
	}
}

// SetUnreadOnly switches between the unread and the full view.
func (m *Model) SetUnreadOnly(on bool) tea.Cmd {
	if m.filter.UnreadOnly == on {
		return nil
	}
	m.filter.UnreadOnly = on
	m.updateTitle()
	return m.Reload()
}

// Selected returns the highlighted notification.
func (m Model) Selected() (model.Notification, bool) {
	it, ok := m.list.SelectedItem().(NotificationItem)
	if !ok {
		return model.Notification{}, false
	}
	return it.Notification, true
}

// Filter returns the active filter.
func (m Model) Filter() store.NotificationFilter {
	return m.filter
}

// Len returns the number of listed notifications.
func (m Model) Len() int {
	return len(m.list.Items())
}

// Searching reports whether the search input has focus.
func (m Model) Searching() bool {
	return m.searchMode
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height-2)
	m.searchInput.Width = width - 4
}
