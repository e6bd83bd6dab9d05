package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/synctab/synctab/internal/api"
	"github.com/synctab/synctab/internal/catalog"
	"github.com/synctab/synctab/internal/cmdline"
	"github.com/synctab/synctab/internal/history"
	"github.com/synctab/synctab/internal/log"
	"github.com/synctab/synctab/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve runs the daemon: the catalog, the cron scheduler and the control API",
	Args:  cobra.NoArgs,
	RunE:  doServe,
}

const shutdownTimeout = 15 * time.Second

func doServe(cmd *cobra.Command, _ []string) error {
	if config.Version != 0 {
		return fmt.Errorf("config version %d is not supported, expected 0", config.Version)
	}
	attrs := slog.Group("synctab",
		slog.String("cmd", "serve"),
		slog.Int("pid", os.Getpid()),
	)
	ctx := log.ContextAttrs(cmd.Context(), attrs)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	hist, err := history.Open(config.History.Backend, config.History.Path.String())
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}
	defer func() {
		if err := hist.Close(); err != nil {
			slog.ErrorContext(ctx, "closing history", "error", err)
		}
	}()

	cat := catalog.New(catalog.NewFileStore(config.Catalog.Path.String()), service.ValidateCron)
	if err := cat.Load(ctx); err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}

	events := service.NewBroadcaster(config.Server.NotifyTimeout.AsDuration())
	executor := service.NewExecutor(service.ExecutorConfig{
		Args:     cmdline.Rsync{Path: config.Runs.Rsync},
		History:  hist,
		Recorder: cat,
		Events:   events,
		Logs:     service.NewRunLogs(config.Runs.LogDir.String()),
	})
	commander := service.NewCommander(service.CommanderConfig{
		Catalog:    cat,
		Executor:   executor,
		Events:     events,
		History:    hist,
		CronActive: config.Cron.Active,
	})

	ln, err := net.Listen("tcp", config.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", config.Server.Listen, err)
	}
	server := api.NewServer(commander)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(ln)
	}()

	if err := commander.Start(ctx); err != nil {
		_ = server.Shutdown(context.WithoutCancel(ctx))
		return fmt.Errorf("starting scheduler: %w", err)
	}
	slog.InfoContext(ctx, "daemon started",
		"listen", ln.Addr().String(),
		"jobs", len(cat.Jobs()),
		"cron_active", commander.IsCronActive())

	select {
	case <-ctx.Done():
		slog.InfoContext(ctx, "signal received, shutting down")
	case <-commander.Done():
	case err = <-serveErr:
		slog.ErrorContext(ctx, "control api failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if cerr := commander.Shutdown(shutdownCtx); cerr != nil {
		slog.ErrorContext(ctx, "shutdown", "error", cerr)
	}
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		slog.ErrorContext(ctx, "shutting down control api", "error", serr)
	}
	slog.InfoContext(ctx, "daemon stopped")
	return err
}
