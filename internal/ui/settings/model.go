// Package settings is the delivery preferences editor.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/bank-notifications/internal/banking"
	"github.com/nhle/bank-notifications/internal/model"
	"github.com/nhle/bank-notifications/internal/theme"
)

// Mode is the current state of the preferences view.
type Mode int

const (
	ModeLoading Mode = iota // Fetching preferences
	ModeForm                // Editing
	ModeSaving              // Waiting for the server to accept changes
	ModeFailed              // Nothing to edit: fetch and cache both failed
)

const requestTimeout = 10 * time.Second

// Cache keeps the last preferences document seen for a user.
type Cache interface {
	SavePreferences(ctx context.Context, userID model.UserID, prefs model.Preferences) error
	GetPreferences(ctx context.Context, userID model.UserID) (*model.Preferences, error)
}

// DoneMsg signals the preferences view should close.
type DoneMsg struct{}

// SavedMsg is sent after the server accepted new preferences.
type SavedMsg struct {
	Preferences model.Preferences
}

// loadedMsg carries the fetched (or cached) preferences.
type loadedMsg struct {
	prefs  *model.Preferences
	cached bool
	err    error
}

// savedInternalMsg is sent after an update round trip.
type savedInternalMsg struct {
	prefs *model.Preferences
	err   error
}

// formValues is shared by every copy of Model so huh can bind to it.
type formValues struct {
	realTime bool

	email          bool
	emailTx        bool
	emailSecurity  bool
	emailSystem    bool
	emailThreshold string

	sms          bool
	smsTx        bool
	smsSecurity  bool
	smsSystem    bool
	smsThreshold string
}

// Model is the Bubble Tea model for the preferences editor.
type Model struct {
	mode   Mode
	api    banking.PreferencesAPI
	cache  Cache
	userID model.UserID

	loaded *model.Preferences
	values *formValues
	form   *huh.Form

	spinner   spinner.Model
	statusMsg string
	err       error

	width, height int
}

// New creates a preferences editor for userID. cache may be nil.
func New(api banking.PreferencesAPI, cache Cache, userID model.UserID, width, height int) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		mode:    ModeLoading,
		api:     api,
		cache:   cache,
		userID:  userID,
		values:  &formValues{},
		spinner: sp,
		width:   width,
		height:  height,
	}
}

// Init starts fetching the preferences.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.load())
}

// Update handles messages and dispatches based on the current mode.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case loadedMsg:
		if msg.err != nil {
			m.mode = ModeFailed
			m.err = msg.err
			return m, nil
		}
		m.loaded = msg.prefs
		m.statusMsg = ""
		if msg.cached {
			m.statusMsg = "Server unreachable; editing cached preferences."
		}
		m.fill(*msg.prefs)
		m.form = m.buildForm()
		m.mode = ModeForm
		return m, m.form.Init()

	case savedInternalMsg:
		if msg.err != nil {
			m.statusMsg = fmt.Sprintf("Saving failed: %v", msg.err)
			m.form = m.buildForm()
			m.mode = ModeForm
			return m, m.form.Init()
		}
		prefs := *msg.prefs
		return m, func() tea.Msg { return SavedMsg{Preferences: prefs} }

	case spinner.TickMsg:
		if m.mode == ModeLoading || m.mode == ModeSaving {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "esc" {
			return m, func() tea.Msg { return DoneMsg{} }
		}
		if m.mode == ModeFailed && msg.String() == "r" {
			m.mode = ModeLoading
			m.err = nil
			return m, tea.Batch(m.spinner.Tick, m.load())
		}
	}

	if m.mode == ModeForm && m.form != nil {
		return m.updateForm(msg)
	}
	return m, nil
}

func (m Model) updateForm(msg tea.Msg) (Model, tea.Cmd) {
	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		prefs, err := m.values.preferences(*m.loaded)
		if err != nil {
			m.statusMsg = err.Error()
			m.form = m.buildForm()
			return m, m.form.Init()
		}
		m.mode = ModeSaving
		m.statusMsg = ""
		return m, tea.Batch(m.spinner.Tick, m.save(prefs))
	case huh.StateAborted:
		return m, func() tea.Msg { return DoneMsg{} }
	}

	return m, cmd
}

// load fetches preferences from the server, falling back to the cache.
// A successful fetch refreshes the cache.
func (m Model) load() tea.Cmd {
	api, cache, uid := m.api, m.cache, m.userID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		prefs, err := api.Preferences(ctx, uid)
		if err == nil {
			if cache != nil {
				_ = cache.SavePreferences(ctx, uid, *prefs)
			}
			return loadedMsg{prefs: prefs}
		}
		if cache == nil || banking.IsAuthError(err) {
			return loadedMsg{err: err}
		}
		cached, cerr := cache.GetPreferences(ctx, uid)
		if cerr != nil {
			return loadedMsg{err: err}
		}
		return loadedMsg{prefs: cached, cached: true}
	}
}

func (m Model) save(prefs model.Preferences) tea.Cmd {
	api, cache, uid := m.api, m.cache, m.userID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		saved, err := api.UpdatePreferences(ctx, uid, prefs)
		if err != nil {
			return savedInternalMsg{err: err}
		}
		if cache != nil {
			_ = cache.SavePreferences(ctx, uid, *saved)
		}
		return savedInternalMsg{prefs: saved}
	}
}

func (m *Model) fill(p model.Preferences) {
	*m.values = formValues{
		realTime:       p.EnableRealTimeNotifications,
		email:          p.EnableEmailNotifications,
		emailTx:        p.EmailForTransactions,
		emailSecurity:  p.EmailForSecurity,
		emailSystem:    p.EmailForSystem,
		emailThreshold: formatAmount(p.EmailTransactionThreshold),
		sms:            p.EnableSmsNotifications,
		smsTx:          p.SmsForTransactions,
		smsSecurity:    p.SmsForSecurity,
		smsSystem:      p.SmsForSystem,
		smsThreshold:   formatAmount(p.SmsTransactionThreshold),
	}
}

// preferences converts the form back into a document. Fields the form
// does not show are kept from base.
func (v *formValues) preferences(base model.Preferences) (model.Preferences, error) {
	emailThreshold, err := parseAmount(v.emailThreshold)
	if err != nil {
		return model.Preferences{}, fmt.Errorf("email threshold: %w", err)
	}
	smsThreshold, err := parseAmount(v.smsThreshold)
	if err != nil {
		return model.Preferences{}, fmt.Errorf("sms threshold: %w", err)
	}

	p := base
	p.EnableRealTimeNotifications = v.realTime
	p.EnableEmailNotifications = v.email
	p.EmailForTransactions = v.emailTx
	p.EmailForSecurity = v.emailSecurity
	p.EmailForSystem = v.emailSystem
	p.EmailTransactionThreshold = emailThreshold
	p.EnableSmsNotifications = v.sms
	p.SmsForTransactions = v.smsTx
	p.SmsForSecurity = v.smsSecurity
	p.SmsForSystem = v.smsSystem
	p.SmsTransactionThreshold = smsThreshold

	return p, p.Validate()
}

// --- Form ---

func (m Model) buildForm() *huh.Form {
	v := m.values
	return huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Real-time notifications").
				Description("Push new notifications to this terminal as they happen").
				Value(&v.realTime),
			huh.NewConfirm().
				Title("Email notifications").
				Value(&v.email),
			huh.NewConfirm().
				Title("SMS notifications").
				Value(&v.sms),
		),
		huh.NewGroup(
			huh.NewConfirm().Title("Email: transactions").Value(&v.emailTx),
			huh.NewConfirm().Title("Email: security alerts").Value(&v.emailSecurity),
			huh.NewConfirm().Title("Email: system messages").Value(&v.emailSystem),
			huh.NewInput().
				Title("Email transaction threshold").
				Description("Only email transactions at or above this amount").
				Value(&v.emailThreshold).
				Validate(validateAmount),
		).WithHideFunc(func() bool { return !v.email }),
		huh.NewGroup(
			huh.NewConfirm().Title("SMS: transactions").Value(&v.smsTx),
			huh.NewConfirm().Title("SMS: security alerts").Value(&v.smsSecurity),
			huh.NewConfirm().Title("SMS: system messages").Value(&v.smsSystem),
			huh.NewInput().
				Title("SMS transaction threshold").
				Description("Only text transactions at or above this amount").
				Value(&v.smsThreshold).
				Validate(validateAmount),
		).WithHideFunc(func() bool { return !v.sms }),
	).WithWidth(m.formWidth()).WithShowHelp(true)
}

func (m Model) formWidth() int {
	w := m.width - 4
	if w < 40 {
		w = 40
	}
	if w > 100 {
		w = 100
	}
	return w
}

func validateAmount(s string) error {
	_, err := parseAmount(s)
	return err
}

func parseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("amount is required")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.New("amount must be a number")
	}
	if f < 0 {
		return 0, errors.New("amount must not be negative")
	}
	return f, nil
}

func formatAmount(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// --- View ---

// View renders the preferences editor based on the current mode.
func (m Model) View() string {
	style := lipgloss.NewStyle().
		Padding(1, 2).
		Width(m.width).
		Height(m.height)

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1).
		Render("Notification Preferences")

	var body string
	switch m.mode {
	case ModeLoading:
		body = fmt.Sprintf("%s Loading preferences...", m.spinner.View())
	case ModeSaving:
		body = fmt.Sprintf("%s Saving...", m.spinner.View())
	case ModeFailed:
		errStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorRed)
		body = errStyle.Render("Could not load preferences") + "\n\n" +
			m.err.Error() + "\n\n" +
			lipgloss.NewStyle().Foreground(theme.ColorGray).Render("r retry | esc back")
	case ModeForm:
		if m.form != nil {
			body = m.form.View()
		}
	}

	parts := []string{title, body}
	if m.statusMsg != "" {
		parts = append(parts, lipgloss.NewStyle().
			Foreground(theme.ColorYellow).
			Italic(true).
			Render(m.statusMsg))
	}

	return style.Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

// Mode returns the current mode.
func (m Model) Mode() Mode {
	return m.mode
}

// SetSize updates the editor dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	if m.form != nil {
		m.form = m.form.WithWidth(m.formWidth())
	}
}
