package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/wecom-session/backend"
	"github.com/jrsteele09/wecom-session/cache"
	"github.com/jrsteele09/wecom-session/cache/redisstore"
	"github.com/jrsteele09/wecom-session/internal/config"
	"github.com/jrsteele09/wecom-session/sdk"
	"github.com/jrsteele09/wecom-session/server"
	"github.com/jrsteele09/wecom-session/sessions"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("error running server")
	}
	log.Info().Msg("server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	configureLogging(c.GetEnv())
	displayAppname(c.GetAppName())

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, c)
	if err != nil {
		return err
	}
	defer closeStore()

	client, err := backend.NewClient(c.GetBackendURL(), backend.WithLogger(log.With().Str("component", "backend").Logger()))
	if err != nil {
		return err
	}

	page := server.NewPage()
	session, err := sessions.New(sessions.Deps{
		Store:     store,
		Loader:    server.HeadlessLoader{},
		Source:    page,
		Navigator: page,
		Backend:   client,
	}, sessions.Options{
		Session: sdk.SessionConfig{
			OrgID:       c.GetOrgID(),
			AppID:       c.GetAppID(),
			RedirectURI: c.GetRedirectURI(),
			Scope:       c.GetScope(),
		},
		CachePrefix: c.GetCachePrefix(),
		SDK:         c,
		OAuth:       c,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	handler, err := server.New(c, session, page)
	if err != nil {
		return err
	}
	if err := handler.Bootstrap(ctx, c.GetRedirectURI()); err != nil {
		return err
	}

	httpServer := &http.Server{Addr: c.GetPort(), Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go listenAndServe(httpServer)
	waitForStopSignal()
	return shutdown(httpServer)
}

// openStore uses Redis when REDIS_URL is set so sessions survive restarts.
func openStore(ctx context.Context, c config.Config) (cache.Store, func(), error) {
	redisURL := c.GetRedisURL()
	if redisURL == "" {
		log.Info().Msg("REDIS_URL not set, using in-memory cache")
		return cache.NewMemoryStore(), func() {}, nil
	}
	store, err := redisstore.Dial(ctx, redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("redisstore.Dial: %w", err)
	}
	return store, func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close redis store")
		}
	}, nil
}

func configureLogging(env string) {
	zerolog.TimeFieldFormat = time.RFC3339
	if env == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func listenAndServe(server *http.Server) {
	log.Info().Str("addr", server.Addr).Msg("server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("server.ListenAndServe")
	}
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
