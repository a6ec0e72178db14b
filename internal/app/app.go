package app

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"github.com/nhle/bank-notifications/internal/banking"
	"github.com/nhle/bank-notifications/internal/model"
	"github.com/nhle/bank-notifications/internal/notify"
	"github.com/nhle/bank-notifications/internal/push"
	appsync "github.com/nhle/bank-notifications/internal/sync"
	"github.com/nhle/bank-notifications/internal/theme"
	"github.com/nhle/bank-notifications/internal/ui"
	"github.com/nhle/bank-notifications/internal/ui/bell"
	"github.com/nhle/bank-notifications/internal/ui/command"
	"github.com/nhle/bank-notifications/internal/ui/detail"
	helpview "github.com/nhle/bank-notifications/internal/ui/help"
	"github.com/nhle/bank-notifications/internal/ui/inbox"
	"github.com/nhle/bank-notifications/internal/ui/settings"
)

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewInbox ViewState = iota
	ViewDetail
	ViewBell
	ViewSettings
	ViewHelp
	ViewCommand
)

// Deps carries everything the root model needs for one session.
type Deps struct {
	Session   model.Session
	Store     *notify.Store
	Transport *push.Transport
	Prefs     banking.PreferencesAPI

	// PrefsCache keeps the last preferences seen for offline editing.
	// Optional.
	PrefsCache settings.Cache

	// DashboardURL is the root of reference links.
	DashboardURL string

	// ResyncInterval reloads the unread snapshot periodically.
	ResyncInterval time.Duration

	Logger zerolog.Logger
}

// Model is the root Bubble Tea model that manages view routing,
// layout, and the notification feed.
type Model struct {
	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	session      model.Session
	store        *notify.Store
	feed         *appsync.Feed
	deps         Deps
	keys         *KeyMap
	inbox        inbox.Model
	detail       detail.Model
	bell         bell.Model
	settings     settings.Model
	helpView     helpview.Model
	commandView  command.Model
	ready        bool
	unreadCount  int
	conn         push.State
	statusMsg    string
	errMsg       string
	log          zerolog.Logger
}

// New creates a new root application model for the session in d.
func New(d Deps) Model {
	keys := DefaultKeyMap()
	feed := appsync.New(d.Store, d.Transport, d.Session,
		appsync.WithInterval(d.ResyncInterval),
		appsync.WithLogger(d.Logger),
	)

	return Model{
		currentView: ViewInbox,
		session:     d.Session,
		store:       d.Store,
		feed:        feed,
		deps:        d,
		keys:        keys,
		inbox:       inbox.New(d.Store, keys, 80, 24),
		detail:      detail.New(d.DashboardURL, keys, 80, 24),
		bell:        bell.New(d.Store, keys, 60),
		settings:    settings.New(d.Prefs, d.PrefsCache, d.Session.UserID, 80, 24),
		helpView:    helpview.New(keys, 80, 24),
		commandView: command.New(80, 24),
		conn:        push.StateDisconnected,
		log:         d.Logger,
	}
}

// Init starts the notification feed and loads the inbox.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.inbox.Init(),
		m.feed.Start(),
	)
}

// Shutdown stops the feed and releases the push connection.
func (m Model) Shutdown() {
	m.feed.Stop()
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		contentWidth := m.layout.ContentWidth()
		contentHeight := m.layout.ContentHeight()
		m.inbox.SetSize(contentWidth, contentHeight)
		m.detail.SetSize(contentWidth, contentHeight)
		m.bell.SetWidth(min(contentWidth, 72))
		m.settings.SetSize(contentWidth, contentHeight)
		m.helpView.SetSize(contentWidth, contentHeight)
		m.commandView.SetSize(contentWidth, contentHeight)
		// Forward to active view so huh forms can calculate their layout.
		return m.updateActiveView(msg)

	case appsync.ChangedMsg:
		m.refreshViews()
		return m, tea.Batch(m.inbox.Reload(), m.feed.WaitForNextResult())

	case appsync.ConnStateMsg:
		m.conn = msg.State
		return m, m.feed.WaitForNextResult()

	case appsync.SyncResultMsg:
		m.handleSyncResult(msg)
		return m, m.feed.WaitForNextResult()

	case inbox.LoadedMsg:
		// Inbox reloads land here regardless of the active view.
		var cmd tea.Cmd
		m.inbox, cmd = m.inbox.Update(msg)
		return m, cmd

	case markReadResultMsg:
		if msg.err != nil {
			m.log.Warn().Err(msg.err).Int("failed", msg.failed).Msg("mark as read failed")
			m.errMsg = fmt.Sprintf("mark as read failed for %d of %d: %v", msg.failed, msg.count, msg.err)
		} else {
			m.errMsg = ""
		}
		return m, nil

	case inbox.SelectedMsg:
		return m, m.openDetail(msg.ID)

	case bell.OpenMsg:
		return m, m.openDetail(msg.ID)

	case inbox.MarkReadMsg:
		return m, m.markRead(msg.ID)

	case inbox.MarkAllReadMsg:
		return m, m.markRead(msg.IDs...)

	case detail.ActionMsg:
		switch msg.Action {
		case detail.ActionMarkRead:
			return m, m.markRead(msg.ID)
		case detail.ActionShowLink:
			m.statusMsg = "link: " + msg.URL
		}
		return m, nil

	case detail.BackMsg:
		m.currentView = m.previousView
		if m.currentView == ViewDetail {
			m.currentView = ViewInbox
		}
		return m, nil

	case bell.ClosedMsg:
		m.currentView = ViewInbox
		return m, nil

	case settings.DoneMsg:
		m.currentView = ViewInbox
		return m, nil

	case settings.SavedMsg:
		m.currentView = ViewInbox
		m.statusMsg = "preferences saved"
		if !msg.Preferences.EnableRealTimeNotifications {
			m.statusMsg += "; real-time delivery is off, new notifications arrive on refresh"
		}
		return m, nil

	case command.CommandMsg:
		m.currentView = m.previousView
		return m, m.executeCommand(string(msg))

	case tea.KeyMsg:
		if cmd, handled := m.handleGlobalKey(msg); handled {
			return m, cmd
		}
	}

	// Delegate to active sub-view
	return m.updateActiveView(msg)
}

// handleGlobalKey processes keys that work across views. It reports false
// when the active view should receive the key instead.
func (m *Model) handleGlobalKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	// Text inputs own the keyboard.
	if m.currentView == ViewSettings || m.currentView == ViewCommand && msg.String() != "esc" ||
		m.currentView == ViewInbox && m.inbox.Searching() {
		if msg.String() == "ctrl+c" {
			return m.quit(), true
		}
		if m.currentView == ViewCommand && msg.String() == ":" {
			m.currentView = m.previousView
			return nil, true
		}
		return nil, false
	}

	switch msg.String() {
	case "ctrl+c":
		return m.quit(), true

	case "q":
		if m.currentView == ViewInbox {
			return m.quit(), true
		}

	case "esc":
		if m.currentView == ViewHelp || m.currentView == ViewCommand {
			m.currentView = m.previousView
			return nil, true
		}
		if m.currentView == ViewInbox && m.errMsg != "" {
			m.errMsg = ""
			return nil, true
		}

	case "?":
		if m.currentView == ViewHelp {
			m.currentView = m.previousView
			return nil, true
		}
		m.previousView = m.currentView
		m.currentView = ViewHelp
		return nil, true

	case ":":
		m.previousView = m.currentView
		m.currentView = ViewCommand
		return m.commandView.Focus(), true

	case "b":
		if m.currentView == ViewInbox || m.currentView == ViewDetail {
			m.previousView = m.currentView
			m.bell.Refresh()
			m.currentView = ViewBell
			return nil, true
		}

	case "s":
		if m.currentView == ViewInbox {
			return m.openSettings(), true
		}

	case "r":
		if m.currentView == ViewInbox {
			m.statusMsg = "refreshing..."
			return m.feed.Refresh(), true
		}

	case "H":
		if m.currentView == ViewInbox {
			m.statusMsg = "loading history..."
			return m.feed.LoadHistory(), true
		}
	}
	return nil, false
}

func (m *Model) quit() tea.Cmd {
	m.feed.Stop()
	return tea.Quit
}

func (m *Model) openSettings() tea.Cmd {
	m.previousView = ViewInbox
	m.currentView = ViewSettings
	m.settings = settings.New(m.deps.Prefs, m.deps.PrefsCache, m.session.UserID,
		m.layout.ContentWidth(), m.layout.ContentHeight())
	return m.settings.Init()
}

// openDetail shows a notification from the current view.
func (m *Model) openDetail(id model.NotificationID) tea.Cmd {
	n, ok := m.store.Get(id)
	if !ok {
		m.errMsg = fmt.Sprintf("notification %s is no longer available", id)
		return nil
	}
	if m.currentView != ViewDetail {
		m.previousView = m.currentView
	}
	m.currentView = ViewDetail
	m.detail.Show(n)
	return nil
}

// refreshViews re-reads the store into the views that hold copies.
func (m *Model) refreshViews() {
	m.bell.Refresh()
	m.unreadCount = m.bell.Count()
	if n, ok := m.detail.Notification(); ok {
		if cur, ok := m.store.Get(n.ID); ok {
			m.detail.Show(cur)
		}
	}
}

func (m *Model) handleSyncResult(msg appsync.SyncResultMsg) {
	switch {
	case msg.Error == nil:
		m.errMsg = ""
		m.statusMsg = ""
		if msg.Kind == appsync.KindHistory {
			m.statusMsg = "history loaded"
		}
	case msg.Offline:
		m.errMsg = fmt.Sprintf("offline: showing archived history (%v)", msg.Error)
	case msg.Auth:
		m.errMsg = "authentication failed: update the token with `banknotify login`"
	default:
		m.errMsg = fmt.Sprintf("could not load %s notifications: %v", msg.Kind, msg.Error)
	}
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewInbox:
		m.inbox, cmd = m.inbox.Update(msg)
	case ViewDetail:
		m.detail, cmd = m.detail.Update(msg)
	case ViewBell:
		m.bell, cmd = m.bell.Update(msg)
	case ViewSettings:
		m.settings, cmd = m.settings.Update(msg)
	case ViewHelp:
		m.helpView, cmd = m.helpView.Update(msg)
	case ViewCommand:
		m.commandView, cmd = m.commandView.Update(msg)
	}

	return m, cmd
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	header := m.layout.RenderHeader(
		fmt.Sprintf("Bank Notifications · user %s", m.session.UserID),
		m.connStatus(),
	)
	content := m.renderContent()

	var statusBar string
	if m.errMsg != "" {
		statusBar = m.layout.RenderErrorBar(m.errMsg)
	} else {
		statusBar = m.layout.RenderStatusBar(m.keyHints())
	}

	return m.layout.RenderWithFrame(header, content, statusBar)
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewInbox:
		return m.inbox.View()
	case ViewDetail:
		return m.detail.View()
	case ViewBell:
		return lipgloss.PlaceHorizontal(m.layout.ContentWidth(), lipgloss.Right, m.bell.View())
	case ViewSettings:
		return m.settings.View()
	case ViewHelp:
		return m.helpView.View()
	case ViewCommand:
		return m.commandView.View()
	default:
		return ""
	}
}

// connStatus renders the bell badge and the push connection state.
func (m Model) connStatus() string {
	state := m.conn.String()
	indicator := theme.ConnectionStyle(state).Render("● " + state)

	status := m.feed.Status()
	if status.State == appsync.SyncRunning {
		indicator += " · syncing"
	}

	return bell.Badge(m.unreadCount) + "  " + indicator
}

// keyHints returns keyboard shortcut hints for the status bar.
func (m Model) keyHints() string {
	if m.statusMsg != "" && (m.currentView == ViewInbox || m.currentView == ViewDetail) {
		return m.statusMsg
	}

	switch m.currentView {
	case ViewHelp:
		return "? close help | esc back"
	case ViewCommand:
		return ": close command | enter execute | esc back"
	case ViewDetail:
		return "esc back | m mark read | o show link | b bell | j/k scroll"
	case ViewBell:
		return "enter open | m mark read | M mark all | esc close"
	case ViewSettings:
		return "enter next | esc back"
	default:
		return "q quit | ? help | enter open | m read | M all | u unread | tab severity | / search | b bell | s prefs"
	}
}

// executeCommand handles a command string from the command palette.
func (m *Model) executeCommand(cmd string) tea.Cmd {
	switch cmd {
	case "refresh", "sync":
		return m.feed.Refresh()
	case "history":
		return m.feed.LoadHistory()
	case "reconnect":
		return m.feed.Reconnect()
	case "read-all", "read all":
		var ids []model.NotificationID
		for _, n := range m.store.Unread() {
			ids = append(ids, n.ID)
		}
		if len(ids) == 0 {
			return nil
		}
		return m.markRead(ids...)
	case "unread", "all":
		return m.inbox.SetUnreadOnly(cmd == "unread")
	case "prefs", "preferences", "settings":
		return m.openSettings()
	case "bell":
		m.previousView = ViewInbox
		m.bell.Refresh()
		m.currentView = ViewBell
		return nil
	case "quit", "q":
		return m.quit()
	default:
		m.statusMsg = fmt.Sprintf("unknown command %q", cmd)
		return nil
	}
}
