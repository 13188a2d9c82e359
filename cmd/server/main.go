package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/promptforge/auth-server/auth"
	"github.com/promptforge/auth-server/internal/config"
	"github.com/promptforge/auth-server/internal/db"
	"github.com/promptforge/auth-server/server"
	"github.com/promptforge/auth-server/sessions"
	sessionpg "github.com/promptforge/auth-server/sessions/postgres"
	fakesessionrepo "github.com/promptforge/auth-server/sessions/repofake"
	"github.com/promptforge/auth-server/token"
	"github.com/promptforge/auth-server/token/refresh"
	refreshpg "github.com/promptforge/auth-server/token/refresh/postgres"
	fakerefreshrepo "github.com/promptforge/auth-server/token/refresh/repofake"
	"github.com/promptforge/auth-server/users"
	userpg "github.com/promptforge/auth-server/users/postgres"
	fakeuserrepo "github.com/promptforge/auth-server/users/repofake"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	for {
		if err := run(logger); err != nil {
			logger.Fatal().Err(err).Msg("error running server")
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	logger.Info().Msg("server stopped")
}

func run(logger zerolog.Logger) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config.Load")
	}
	displayAppname(cfg.AppName)

	service, cleanup, err := buildService(cfg, logger)
	if err != nil {
		return errors.Wrap(err, "buildService")
	}
	defer cleanup()

	srv, err := server.New(*cfg, service, logger)
	if err != nil {
		return errors.Wrap(err, "server.New")
	}

	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: srv}
	go listenAndServe(httpServer, logger)
	waitForStopSignal()
	returnError = shutdown(httpServer)
	return returnError
}

// buildService wires the token codec, stores, session registry, and refresh
// manager into the authentication service. With DATABASE_URL set the stores
// are Postgres; otherwise everything runs in memory, which only suits
// development.
func buildService(cfg *config.Config, logger zerolog.Logger) (*auth.Service, func(), error) {
	codec := token.NewCodec(token.NewHMACSigner(cfg.SigningSecret), cfg.Issuer, cfg.Audience,
		token.WithTokenTTLs(cfg.AccessTTL(), cfg.RefreshTTL()),
		token.WithLeeway(cfg.ClockTolerance()))

	var (
		userRepo    users.UserRepo
		sessionRepo sessions.Repo
		refreshRepo refresh.Repo
		cleanup     = func() {}
	)

	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "db.Connect")
		}
		if err := db.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, errors.Wrap(err, "db.EnsureSchema")
		}
		userRepo = userpg.NewRepo(pool)
		sessionRepo = sessionpg.NewRepo(pool)
		refreshRepo = refreshpg.NewRepo(pool)
		cleanup = pool.Close
		logger.Info().Msg("using postgres stores")
	} else {
		userRepo = fakeuserrepo.NewFakeUserRepo()
		sessionRepo = fakesessionrepo.NewFakeSessionRepo()
		refreshRepo = fakerefreshrepo.NewFakeRefreshTokenRepo()
		logger.Warn().Msg("DATABASE_URL not set, using in-memory stores")
	}

	registry, err := sessions.NewRegistry(sessionRepo, sessions.WithLogger(logger))
	if err != nil {
		cleanup()
		return nil, nil, errors.Wrap(err, "sessions.NewRegistry")
	}

	manager, err := refresh.NewManager(refreshRepo, codec, userRepo,
		refresh.WithGraceWindow(cfg.ReuseGrace()),
		refresh.WithLogger(logger))
	if err != nil {
		cleanup()
		return nil, nil, errors.Wrap(err, "refresh.NewManager")
	}

	service, err := auth.NewService(userRepo, codec, registry, manager, auth.WithLogger(logger))
	if err != nil {
		cleanup()
		return nil, nil, errors.Wrap(err, "auth.NewService")
	}

	go purgeExpiredTokens(manager, logger)

	return service, cleanup, nil
}

// purgeExpiredTokens sweeps expired refresh token records once an hour for
// the lifetime of the process.
func purgeExpiredTokens(manager *refresh.Manager, logger zerolog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := manager.PurgeExpired(ctx); err != nil {
			logger.Warn().Err(err).Msg("failed to purge expired refresh tokens")
		}
		cancel()
	}
}

func listenAndServe(httpServer *http.Server, logger zerolog.Logger) {
	logger.Info().Str("addr", httpServer.Addr).Msg("server listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("server.ListenAndServe")
	}
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(httpServer *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "server.Shutdown")
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
