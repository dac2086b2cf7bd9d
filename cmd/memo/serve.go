package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/memo/internal/server"
	"github.com/hyperjump/memo/internal/store"
	"github.com/hyperjump/memo/internal/watcher"
)

// --- serve ---

func (a *app) serveCmd() *cobra.Command {
	var host, watchDir string
	var port int
	cmd := &cobra.Command{
		Use:   "serve [--host H] [--port P] [--watch <dir>]",
		Short: "Serve the store over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if host != "" {
				a.cfg.Server.Host = host
			}
			if port != 0 {
				a.cfg.Server.Port = port
			}
			if err := a.useServiceLogger(); err != nil {
				return err
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var inbox *watcher.Inbox
			var watch server.WatchService
			if watchDir != "" {
				if inbox, err = a.startInbox(ctx, st, watchDir); err != nil {
					return err
				}
				defer inbox.Stop()
				watch = inbox
			}

			srv := server.NewServer(st, a.cfg, a.logger, watch)
			errCh := make(chan error, 1)
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
				a.logger.Info("Shutting down server...")
			case err := <-errCh:
				return err
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Stop(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (default from config: localhost)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default from config: 8080)")
	cmd.Flags().StringVar(&watchDir, "watch", "", "also memorize YAML files dropped into this directory")
	return cmd
}

// --- watch ---

func (a *app) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [dir]",
		Short: "Memorize YAML record files dropped into a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := a.cfg.Watch.Directory
			if len(args) == 1 {
				dir = args[0]
			}
			if dir == "" {
				return fmt.Errorf("watch requires a directory (argument or watch.directory in config)")
			}
			if err := a.useServiceLogger(); err != nil {
				return err
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			inbox, err := a.startInbox(ctx, st, dir)
			if err != nil {
				return err
			}
			defer inbox.Stop()
			fmt.Fprintf(cmd.OutOrStdout(), "Watching %s for %v (Ctrl+C to stop)\n", inbox.Directory(), inbox.Extensions())
			<-ctx.Done()
			return nil
		},
	}
}

// startInbox starts the inbox watcher on dir and memorizes the files already there.
func (a *app) startInbox(ctx context.Context, st *store.Store, dir string) (*watcher.Inbox, error) {
	inbox := watcher.NewInbox(dir, a.cfg.Watch.Extensions, watcher.MemorizeHandler(st),
		watcher.WithLogger(a.logger))
	if err := inbox.Start(ctx); err != nil {
		return nil, fmt.Errorf("start inbox watcher: %w", err)
	}
	a.logger.Info("inbox watcher started", zap.String("dir", inbox.Directory()))
	inbox.SyncExisting(ctx)
	return inbox, nil
}
