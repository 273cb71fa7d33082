package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mygasbridge/mygasbridge/pkg/coordinator"
	"github.com/mygasbridge/mygasbridge/pkg/hass"
	"github.com/mygasbridge/mygasbridge/pkg/log"
	"github.com/mygasbridge/mygasbridge/pkg/mygas"
	"github.com/mygasbridge/mygasbridge/pkg/registry"
	"github.com/mygasbridge/mygasbridge/pkg/scheduler"
	"github.com/mygasbridge/mygasbridge/pkg/server"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
	"golang.org/x/sync/errgroup"
)

func main() {
	// init packages
	client := mygas.Configured()
	reg := registry.New()
	c := coordinator.Configured(client, reg)
	sched := scheduler.Configured(c.Poll)
	pub := hass.Configured(c, reg, sched.RequestRefresh)

	// init server
	srv := server.Configured(c, sched, reg)

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
	log.SetDefaultLogLevel(level)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// devices are registered before they are published so that commands
	// arriving right after discovery resolve
	sched.AddListener(func(ctx context.Context) {
		var removed []string
		if c.HasAccounts() {
			removed = reg.Sync(ctx, c.Devices())
		} else {
			log.Ctx(ctx).WarnContext(ctx, "no accounts in last update, keeping registered devices")
		}
		if err := pub.Publish(ctx, removed); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to publish to home assistant", slog.Any("error", err))
		}
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pub.Run(ctx)
	})
	g.Go(func() error {
		return srv.Run(ctx)
	})
	g.Go(func() error {
		return sched.Run(ctx)
	})

	// Run will block until context is canceled or error happens
	if err := g.Wait(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "bridge failed", "error", err)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "bridge exited cleanly")
}
