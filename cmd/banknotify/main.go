// Command banknotify is a terminal notification center for a banking
// account. It keeps an inbox reconciled from the REST API and live STOMP
// pushes.
package main

import (
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/nhle/bank-notifications/internal/app"
	"github.com/nhle/bank-notifications/internal/banking"
	"github.com/nhle/bank-notifications/internal/credential"
	"github.com/nhle/bank-notifications/internal/model"
	"github.com/nhle/bank-notifications/internal/notify"
	"github.com/nhle/bank-notifications/internal/push"
	"github.com/nhle/bank-notifications/internal/store"
)

const usage = `Usage: banknotify [flags] [command]

Commands:
  (none)   open the notification center
  login    store the API token in the system keyring
  logout   remove the stored API token
  init     write a default config file

Flags:
`

func main() {
	flags := pflag.NewFlagSet("banknotify", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", model.DefaultConfigPath(), "config file")
	userID := flags.Int64P("user", "u", 0, "user id (when the token does not name one)")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}

	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	var err error
	switch flags.Arg(0) {
	case "":
		err = run(*configPath, model.UserID(*userID))
	case "login":
		err = login()
	case "logout":
		err = credential.Delete(credential.TokenKey)
	case "init":
		err = model.SaveConfig(*configPath, model.DefaultAppConfig())
		if err == nil {
			fmt.Printf("wrote %s\n", *configPath)
		}
	default:
		flags.Usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "banknotify: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, userFlag model.UserID) error {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return err
	}

	log, closeLog, err := openLog(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	token, err := credential.Token()
	if err != nil && !errors.Is(err, credential.ErrNoToken) {
		log.Warn().Err(err).Msg("reading token from keyring failed")
	}

	fallback := model.UserID(cfg.Server.UserID)
	if userFlag > 0 {
		fallback = userFlag
	}
	session, err := model.NewSession(token, fallback)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	archive, err := store.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer archive.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := push.NewMetrics(reg)
	if cfg.Debug.MetricsAddr != "" {
		serveMetrics(cfg.Debug.MetricsAddr, reg, log)
	}

	client := banking.NewClient(cfg.Server.BaseURL, session.Token, banking.WithLogger(log))
	notifications := notify.NewStore(client,
		notify.WithArchive(archive),
		notify.WithLogger(log),
	)
	transport := push.NewTransport(
		&push.StompDialer{URL: cfg.Server.PushURL, Token: session.Token, Log: log},
		push.PolicyFromConfig(cfg.Push),
		push.WithLogger(log),
		push.WithMetrics(metrics),
	)

	log.Info().
		Stringer("user_id", session.UserID).
		Str("api", cfg.Server.BaseURL).
		Str("push", cfg.Server.PushURL).
		Msg("starting")

	m := app.New(app.Deps{
		Session:        session,
		Store:          notifications,
		Transport:      transport,
		Prefs:          client,
		PrefsCache:     archive,
		DashboardURL:   cfg.Server.DashboardURL,
		ResyncInterval: cfg.Push.ResyncInterval,
		Logger:         log,
	})
	defer m.Shutdown()

	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("running UI: %w", err)
	}
	return nil
}

// openLog sends logs to the configured file so the terminal stays clean.
func openLog(cfg model.LogConfig) (zerolog.Logger, func(), error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	if cfg.File == "" {
		stdlog.SetOutput(io.Discard)
		return zerolog.Nop(), func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("opening log file: %w", err)
	}

	// Libraries that use the standard logger must not write over the TUI.
	stdlog.SetOutput(f)

	log := zerolog.New(f).Level(level).With().Timestamp().Logger()
	return log, func() { f.Close() }, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
}

// login prompts for the API token and stores it in the keyring.
func login() error {
	var token string
	err := huh.NewInput().
		Title("API token").
		Description("Bearer token for the banking API. It is stored in the system keyring.").
		EchoMode(huh.EchoModePassword).
		Value(&token).
		Validate(func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New("token is required")
			}
			return nil
		}).
		Run()
	if err != nil {
		return err
	}

	token = strings.TrimSpace(token)
	if sub, err := model.TokenSubject(token); err == nil {
		fmt.Printf("token is for user %s\n", sub)
	}
	return credential.Set(credential.TokenKey, token)
}
