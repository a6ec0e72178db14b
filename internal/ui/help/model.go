package help

import (
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/bank-notifications/internal/keys"
	"github.com/nhle/bank-notifications/internal/model"
	"github.com/nhle/bank-notifications/internal/push"
	"github.com/nhle/bank-notifications/internal/theme"
)

// section is a titled group of bindings shown together.
type section struct {
	title    string
	bindings []key.Binding
}

// Model is the help overlay: key bindings grouped by the view they act in,
// followed by a legend for severity, category and connection colours.
type Model struct {
	keys   *keys.KeyMap
	help   help.Model
	width  int
	height int
}

// New creates a new help view model.
func New(keys *keys.KeyMap, width, height int) Model {
	h := help.New()
	h.Width = width
	return Model{
		keys:   keys,
		help:   h,
		width:  width,
		height: height,
	}
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages for the help view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	return m, nil
}

func (m Model) sections() []section {
	k := m.keys
	return []section{
		{"Inbox", []key.Binding{k.Up, k.Down, k.Select, k.Search, k.ToggleUnread, k.CycleSeverity, k.MarkRead, k.MarkAllRead}},
		{"Notification", []key.Binding{k.MarkRead, k.OpenRef, k.Back}},
		{"Bell", []key.Binding{k.Up, k.Down, k.Select, k.MarkRead, k.MarkAllRead, k.Back}},
		{"Anywhere", []key.Binding{k.Bell, k.Refresh, k.History, k.Settings, k.Command, k.Help, k.Quit}},
	}
}

// View renders the help overlay.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)
	headingStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorBlue)

	m.help.Width = m.width - 4

	parts := []string{titleStyle.Render("Keyboard Shortcuts")}
	for _, s := range m.sections() {
		parts = append(parts,
			headingStyle.Render(s.title),
			m.help.FullHelpView([][]key.Binding{s.bindings}),
			"",
		)
	}

	parts = append(parts,
		headingStyle.Render("Legend"),
		legendLine("Severity", severityLegend()),
		legendLine("Category", typeLegend()),
		legendLine("Live feed", connectionLegend()),
	)

	content := lipgloss.JoinVertical(lipgloss.Left, parts...)

	return theme.DetailPanelStyle.
		Width(m.width - 4).
		Height(m.height - 4).
		Render(content)
}

func legendLine(label string, entries []string) string {
	return theme.HelpStyle.Render(label+": ") + strings.Join(entries, "  ")
}

func severityLegend() []string {
	severities := []model.Severity{model.SeverityInfo, model.SeverityWarning, model.SeverityCritical}
	out := make([]string, 0, len(severities))
	for _, s := range severities {
		out = append(out, theme.SeverityStyle(s).Render(theme.SeverityIcon(s)+" "+s.String()))
	}
	return out
}

func typeLegend() []string {
	types := []model.NotificationType{
		model.NotificationTransaction,
		model.NotificationSecurity,
		model.NotificationSystem,
		model.NotificationSummary,
		model.NotificationOther,
	}
	out := make([]string, 0, len(types))
	for _, t := range types {
		out = append(out, theme.TypeBadgeStyle(t).Render(string(t)))
	}
	return out
}

func connectionLegend() []string {
	states := []push.State{push.StateConnected, push.StateConnecting, push.StateDisconnected}
	out := make([]string, 0, len(states))
	for _, s := range states {
		out = append(out, theme.ConnectionStyle(s.String()).Render("● "+s.String()))
	}
	return out
}

// SetSize updates the help view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.help.Width = width - 4
}
