// Command devbank runs an in-memory banking backend for local development.
// It serves the notification REST API and the STOMP push endpoint that
// banknotify connects to.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/nhle/bank-notifications/internal/devserver"
	"github.com/nhle/bank-notifications/internal/model"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using environment variables")
	}

	addr := pflag.String("addr", envOr("DEVBANK_ADDR", ":8080"), "listen address")
	seed := pflag.Int64Slice("seed", []int64{1}, "user ids to seed with sample notifications")
	heartBeat := pflag.Duration("heartbeat", 4*time.Second, "broker heart-beat interval")
	tokenTTL := pflag.Duration("token-ttl", 24*time.Hour, "lifetime of minted tokens")
	pflag.Parse()

	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(*addr, *seed, *heartBeat, *tokenTTL, log); err != nil {
		log.Fatal().Err(err).Msg("devbank failed")
	}
}

func run(addr string, seed []int64, heartBeat, tokenTTL time.Duration, log zerolog.Logger) error {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "devbank-secret"
		log.Warn().Msg("JWT_SECRET not set, using the built-in development secret")
	}

	srv, err := devserver.New(devserver.Config{
		Secret:    []byte(secret),
		TokenTTL:  tokenTTL,
		HeartBeat: heartBeat,
		Logger:    log,
	})
	if err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	defer srv.Close()

	for _, id := range seed {
		uid := model.UserID(id)
		srv.Repository().Seed(uid)

		token, err := srv.Signer().Mint(uid)
		if err != nil {
			return fmt.Errorf("minting token for user %d: %w", id, err)
		}
		log.Info().Stringer("user_id", uid).Str("token", token).Msg("seeded user")
	}

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("listening")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
