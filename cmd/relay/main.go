package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/developer-khadim/Business-nexus/internal/adapter/driven/broker/local"
	"github.com/developer-khadim/Business-nexus/internal/adapter/driven/gateway/ws"
	"github.com/developer-khadim/Business-nexus/internal/adapter/driven/metrics"
	"github.com/developer-khadim/Business-nexus/internal/adapter/driven/persistence/memory"
	"github.com/developer-khadim/Business-nexus/internal/adapter/driven/redisstore"
	handler "github.com/developer-khadim/Business-nexus/internal/adapter/driving/http"
	"github.com/developer-khadim/Business-nexus/internal/auth"
	"github.com/developer-khadim/Business-nexus/internal/config"
	"github.com/developer-khadim/Business-nexus/internal/core/port"
	"github.com/developer-khadim/Business-nexus/internal/core/service"
	"github.com/developer-khadim/Business-nexus/internal/logger"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	fs := pflag.NewFlagSet("relay", pflag.ExitOnError)
	fs.String("relay.addr", ":8080", "listen address")
	fs.String("relay.redis_addr", "", "redis address for multi-instance rosters and fan-out")
	fs.String("app.log_level", "info", "log level")
	fs.String("app.log_format", "console", "log format: console or json")
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(fs)
	if err != nil {
		l := logger.Setup("info", "console")
		l.Fatal().Err(err).Msg("Invalid configuration")
	}
	l := logger.Setup(cfg.App.LogLevel, cfg.App.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		rosters port.RosterRepository
		bus     port.SignalBus
	)
	if cfg.Relay.RedisAddr != "" {
		rdb, err := redisstore.Open(ctx, redisstore.Config{Addr: cfg.Relay.RedisAddr})
		if err != nil {
			l.Fatal().Err(err).Str("addr", cfg.Relay.RedisAddr).Msg("Failed to connect to redis")
		}
		defer rdb.Close()
		rosters = redisstore.NewRosterRepository(rdb)
		bus = redisstore.NewBus(rdb, redisstore.DefaultChannel)
		l.Info().Str("addr", cfg.Relay.RedisAddr).Msg("Using redis rosters")
	} else {
		rosters = memory.NewRosterRepository()
		bus = local.NewBus()
	}
	defer bus.Close()

	var am *auth.Manager
	if cfg.Relay.JWTSecret != "" {
		am, err = auth.NewManager(cfg.Relay.JWTSecret, cfg.Relay.JWTIssuer, 24*time.Hour)
		if err != nil {
			l.Fatal().Err(err).Msg("Failed to create auth manager")
		}
	} else {
		l.Warn().Msg("No JWT secret configured, trusting userId query parameter")
	}

	hub := ws.NewHub()
	m := metrics.NewRelay()
	relay := service.NewRelay(hub, rosters, bus, m)
	h := handler.NewHandler(relay, am, m, m.Handler(), handler.Options{
		AllowedOrigins: cfg.Relay.AllowedOrigins,
		RateLimit:      cfg.Relay.RateLimit,
		RateBurst:      cfg.Relay.RateBurst,
	})

	srv := &http.Server{
		Addr:              cfg.Relay.Addr,
		Handler:           h.NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run()
		return nil
	})
	g.Go(func() error {
		return bus.Subscribe(gctx, hub.Deliver)
	})
	g.Go(func() error {
		l.Info().Str("addr", cfg.Relay.Addr).Msg("Starting relay")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		l.Info().Msg("Shutting down relay...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Relay.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			l.Error().Err(err).Msg("Relay forced to shutdown")
		}
		hub.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		l.Error().Err(err).Msg("Relay stopped with error")
		os.Exit(1)
	}
	l.Info().Msg("Relay exited")
}
