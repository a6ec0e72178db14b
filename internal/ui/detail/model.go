package detail

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/bank-notifications/internal/keys"
	"github.com/nhle/bank-notifications/internal/model"
	"github.com/nhle/bank-notifications/internal/reference"
	"github.com/nhle/bank-notifications/internal/theme"
)

// BackMsg signals the parent to navigate back to the list view.
type BackMsg struct{}

// Actions a detail view can request.
const (
	ActionMarkRead = "read"
	ActionShowLink = "link"
)

// ActionMsg signals the parent to act on the shown notification.
type ActionMsg struct {
	Action string
	ID     model.NotificationID
	URL    string
}

// Model is the notification detail view component.
type Model struct {
	notification *model.Notification
	dashboardURL string
	viewport     viewport.Model
	keys         *keys.KeyMap
	width        int
	height       int
}

// New creates a new detail view model. dashboardURL is the root that
// reference links are built on.
func New(dashboardURL string, keys *keys.KeyMap, width, height int) Model {
	vp := viewport.New(width, height-2)
	vp.Style = lipgloss.NewStyle()

	return Model{
		dashboardURL: dashboardURL,
		viewport:     vp,
		keys:         keys,
		width:        width,
		height:       height,
	}
}

// Init returns the initial command for the detail view.
func (m Model) Init() tea.Cmd {
	return nil
}

// Show replaces the displayed notification.
func (m *Model) Show(n model.Notification) {
	sameID := m.notification != nil && m.notification.ID == n.ID
	m.notification = &n
	m.viewport.SetContent(m.renderContent())
	if !sameID {
		m.viewport.GotoTop()
	}
}

// Notification returns the displayed notification.
func (m Model) Notification() (model.Notification, bool) {
	if m.notification == nil {
		return model.Notification{}, false
	}
	return *m.notification, true
}

// Update handles messages for the detail view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(msg, m.keys.Back):
			return m, func() tea.Msg {
				return BackMsg{}
			}

		case key.Matches(msg, m.keys.MarkRead):
			if m.notification != nil && !m.notification.IsRead {
				id := m.notification.ID
				return m, func() tea.Msg {
					return ActionMsg{Action: ActionMarkRead, ID: id}
				}
			}
			return m, nil

		case key.Matches(msg, m.keys.OpenRef):
			if m.notification == nil {
				return m, nil
			}
			ref, ok := reference.For(*m.notification)
			if !ok {
				return m, nil
			}
			id, url := m.notification.ID, reference.URL(m.dashboardURL, ref)
			return m, func() tea.Msg {
				return ActionMsg{Action: ActionShowLink, ID: id, URL: url}
			}
		}
	}

	// Delegate to viewport for scrolling (j/k, up/down, pgup/pgdn)
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View renders the detail view.
func (m Model) View() string {
	if m.notification == nil {
		emptyStyle := lipgloss.NewStyle().
			Width(m.width).
			Height(m.height).
			Align(lipgloss.Center, lipgloss.Center).
			Foreground(theme.ColorGray)
		return emptyStyle.Render("No notification selected")
	}

	return m.viewport.View()
}

// renderContent builds the full detail content string for the viewport.
func (m Model) renderContent() string {
	if m.notification == nil {
		return ""
	}

	n := m.notification
	var sections []string

	// Badges line: severity + category + read state
	sevBadge := theme.SeverityStyle(n.Severity).Render(
		theme.SeverityIcon(n.Severity) + " " + n.Severity.String(),
	)
	typeBadge := theme.TypeBadgeStyle(n.Type).Render(n.TypeLabel())
	state := lipgloss.NewStyle().Foreground(theme.ColorBlue).Render("unread")
	if n.IsRead {
		state = theme.ReadItemStyle.Render("read")
	}
	sections = append(sections, lipgloss.JoinHorizontal(
		lipgloss.Top, sevBadge, "  ", typeBadge, "  ", state,
	))
	sections = append(sections, "")

	msgStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		Width(max(m.width-6, 20))
	sections = append(sections, msgStyle.Render(n.Message))
	sections = append(sections, "")

	metaStyle := lipgloss.NewStyle().Foreground(theme.ColorGray)
	valStyle := lipgloss.NewStyle().Foreground(theme.ColorWhite)
	row := func(label, value string) string {
		return fmt.Sprintf("%s %s", metaStyle.Render(fmt.Sprintf("%-10s", label)), valStyle.Render(value))
	}

	sections = append(sections, row("ID:", n.ID.String()))
	if !n.Timestamp.IsZero() {
		sections = append(sections, row("Received:", n.Timestamp.Format("2006-01-02 15:04:05")))
	}
	if ref, ok := reference.For(*n); ok {
		sections = append(sections, row("Related:", ref.Label()))
		if url := reference.URL(m.dashboardURL, ref); url != "" {
			sections = append(sections, row("Link:", url))
		}
	}
	if txns := reference.ExtractTransactionNumbers(n.Message); len(txns) > 0 {
		sections = append(sections, row("Txn refs:", strings.Join(txns, ", ")))
	}
	if amount, ok := model.TransactionAmount(n.AdditionalData); ok {
		sections = append(sections, row("Amount:", fmt.Sprintf("%.2f", amount)))
	}

	if n.AdditionalData != "" {
		sections = append(sections, "")
		sections = append(sections, metaStyle.Render("Details"))
		sections = append(sections, valStyle.Render(n.AdditionalData))
	}

	sections = append(sections, "")
	sections = append(sections, theme.HelpStyle.Render("m mark read · o show link · esc back"))

	return strings.Join(sections, "\n")
}

// SetSize updates the detail view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = width
	m.viewport.Height = height - 2
	m.viewport.SetContent(m.renderContent())
}
