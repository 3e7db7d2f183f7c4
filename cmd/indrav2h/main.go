package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
	"github.com/raterudder/indrav2h/pkg/integration"
	"github.com/raterudder/indrav2h/pkg/log"
	"github.com/raterudder/indrav2h/pkg/metrics"
	"github.com/raterudder/indrav2h/pkg/server"
	"github.com/raterudder/indrav2h/pkg/storage"
)

func main() {
	// init packages
	s := storage.Configured()
	m := metrics.New()
	reg := integration.Configured(
		integration.WithSnapshotStore(s),
		integration.WithObserver(m),
	)
	m.Watch(reg)

	// init server
	srv := server.Configured(reg, s, m)

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	log.SetDefault(logger)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, reg, s, srv)
	cancel()
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "exiting", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}

// run serves until ctx is done. Entries are unloaded and storage is closed
// before it returns.
func run(ctx context.Context, reg *integration.Registry, s storage.Database, srv *server.Server) error {
	// If initialization inside lflag.Do failed, we wouldn't be here (panic).
	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		}
	}()

	// failed entries are logged by the registry; keep serving the rest
	if err := reg.SetupConfigured(ctx); err != nil && len(reg.Entries()) == 0 {
		return fmt.Errorf("no entries could be set up: %w", err)
	}
	defer reg.UnloadAll()

	// Run will block until context is canceled or error happens
	return srv.Run(ctx)
}
