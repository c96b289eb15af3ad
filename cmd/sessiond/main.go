package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-crm-session/app"
	"github.com/jrsteele09/go-crm-session/internal/config"
	"github.com/jrsteele09/go-crm-session/permissions"
	"github.com/jrsteele09/go-crm-session/server"
	"github.com/jrsteele09/go-crm-session/sessions"
	"github.com/jrsteele09/go-crm-session/token/jwt"
	"github.com/jrsteele09/go-crm-session/users"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	accessTokenVar  = "CRM_ACCESS_TOKEN"
	refreshTokenVar = "CRM_REFRESH_TOKEN"
	userJSONVar     = "CRM_USER_JSON"
	rememberVar     = "CRM_REMEMBER"
)

func main() {
	for {
		if err := run(); err != nil {
			log.Error().Err(err).Msg("sessiond stopped with an error, restarting")
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Info().Msg("sessiond stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	configureLogging(c.GetEnv())
	displayAppname(c.GetAppName())

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	nav := &logNavigator{current: c.GetDefaultHomePath()}
	a, err := app.New(c, app.Deps{
		Navigator:     nav,
		Alerter:       logAlerter{},
		Registerer:    registry,
		OnPermissions: logPermissions,
	})
	if err != nil {
		return fmt.Errorf("[sessiond run] %w", err)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := seedSession(ctx, a); err != nil {
		return err
	}
	if err := a.Init(ctx); err != nil {
		return fmt.Errorf("[sessiond run] %w", err)
	}

	handler, err := server.New(c, a, registry)
	if err != nil {
		return fmt.Errorf("[sessiond run] %w", err)
	}
	srv := &http.Server{Addr: c.GetMetricsAddr(), Handler: handler}
	serveErr := make(chan error, 1)
	go func() { serveErr <- listenAndServe(srv) }()

	select {
	case <-waitForStopSignal():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}
	return shutdown(srv)
}

// configureLogging writes human readable logs in DEV and JSON elsewhere.
func configureLogging(env string) {
	zerolog.TimeFieldFormat = time.RFC3339
	if env == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// seedSession stores a session handed over through the environment, so the
// daemon can start already logged in.
func seedSession(ctx context.Context, a *app.App) error {
	accessToken := os.Getenv(accessTokenVar)
	if accessToken == "" {
		return nil
	}
	session := sessions.Session{
		AccessToken:  accessToken,
		RefreshToken: os.Getenv(refreshTokenVar),
		User:         &users.User{},
	}
	if raw := os.Getenv(userJSONVar); raw != "" {
		if err := json.Unmarshal([]byte(raw), session.User); err != nil {
			return fmt.Errorf("[sessiond seedSession] %s: %w", userJSONVar, err)
		}
	}
	if session.User.ID == "" {
		if claims, err := jwt.Decode(accessToken); err == nil {
			session.User.ID = claims.Subject
			session.User.TenantID = claims.TenantID
		}
	}
	if err := a.Login(ctx, session, config.GetEnv(rememberVar, "true") == "true"); err != nil {
		return fmt.Errorf("[sessiond seedSession] %w", err)
	}
	log.Info().Str("user", session.User.ID).Msg("session seeded from environment")
	return nil
}

func logPermissions(st permissions.State) {
	ev := log.Info().Str("status", st.Status.String()).Str("role", st.Role).Int("count", len(st.Permissions)).Bool("stale", st.Stale)
	if st.Err != nil {
		ev = ev.Err(st.Err)
	}
	ev.Msg("permissions")
}

func listenAndServe(srv *http.Server) error {
	log.Info().Str("addr", srv.Addr).Msg("status server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
