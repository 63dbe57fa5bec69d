package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"

	"github.com/lumentreeinfo/lumentree/pkg/gateway"
	"github.com/lumentreeinfo/lumentree/pkg/hub"
	"github.com/lumentreeinfo/lumentree/pkg/log"
	"github.com/lumentreeinfo/lumentree/pkg/lumentree"
	"github.com/lumentreeinfo/lumentree/pkg/server"
	"github.com/lumentreeinfo/lumentree/pkg/storage"
)

func main() {
	// init packages
	s := storage.Configured()
	client := lumentree.Configured(s)
	web := lumentree.ConfiguredWeb()
	gw := gateway.Configured(client)
	h := hub.New(client)
	poller := hub.ConfiguredPoller(h, client, web)

	// init server
	srv := server.Configured(gw, web, client, h)

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
		AddSource: true,
		Level:     level,
	}))
	slog.SetDefault(logger)
	log.SetDefaultLogLevel(level)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close token store", "error", err)
		}
	}()

	if p, ok := s.(storage.Purger); ok {
		n, err := p.PurgeExpired(ctx, time.Now())
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to purge expired tokens", "error", err)
		} else if n > 0 {
			log.Ctx(ctx).InfoContext(ctx, "purged expired tokens", slog.Int("count", n))
		}
	}

	if err := poller.Start(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to start poller", "error", err)
		os.Exit(1)
	}
	defer poller.Stop()

	// Run will block until context is canceled or error happens
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", "error", err)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
