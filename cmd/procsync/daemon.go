package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sana-health/procsync/internal/daemon"
	"github.com/sana-health/procsync/internal/dashboard"
	"github.com/sana-health/procsync/internal/ingest"
	"github.com/sana-health/procsync/internal/server"
	"github.com/sana-health/procsync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "advanced",
	Short:   "Sync periodically and import dropped files (foreground)",
	Long: `Run in the foreground until interrupted.

The daemon will:
  1. Run a sync pass against remote.base_url every daemon.interval
  2. Watch daemon.drop_dir and import procedure files copied into it
  3. Optionally serve the live dashboard (dashboard.port) and the
     catalog server (--serve)

Deleting a file from the drop directory never deletes the stored procedure.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		serve, _ := cmd.Flags().GetBool("serve")
		ctx := cmd.Context()

		cat, err := remoteCatalog()
		if err != nil {
			return err
		}
		interval := cfg.Daemon.Interval
		if cat == nil {
			interval = 0
		}
		if interval == 0 && cfg.Daemon.DropDir == "" {
			return fmt.Errorf("nothing to do: set remote.base_url or daemon.drop_dir")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		syncer, err := newSyncer(cat, st)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		onResult := func(kind daemon.PassKind, res *ingest.Result, err error) {
			if res != nil {
				printResult(out, res)
			}
		}

		if cfg.Dashboard.Port > 0 {
			dash := dashboard.NewServer(dashboard.Config{Port: cfg.Dashboard.Port, Logger: logger})
			handler := dashboard.NewHandler(dash, logger)
			if n, err := st.Count(ctx); err == nil {
				handler.SetTotal(n)
			}
			unsubscribe := st.Subscribe(handler.OnChange)
			defer unsubscribe()

			if err := dash.Start(); err != nil {
				return fmt.Errorf("failed to start dashboard: %w", err)
			}
			defer dash.Stop()
			fmt.Fprintf(out, "   Dashboard: ws://%s/ws\n", dash.GetAddr())

			printResultOnly := onResult
			onResult = func(kind daemon.PassKind, res *ingest.Result, err error) {
				printResultOnly(kind, res, err)
				handler.OnResult(kind, res, err)
			}
		}

		if serve {
			srv := server.New(st, server.Config{JWTSecret: cfg.Server.JWTSecret}, logger)
			go func() {
				if err := srv.Start(cfg.Server.Addr); err != nil {
					logger.Error().Err(err).Msg("catalog server stopped")
				}
			}()
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = srv.Shutdown(sctx)
			}()
			fmt.Fprintf(out, "   Catalog server: %s\n", cfg.Server.Addr)
		}

		d, err := daemon.New(syncer, daemon.Config{
			Interval:    interval,
			SyncOnStart: interval > 0,
			DropDir:     cfg.Daemon.DropDir,
			Debounce:    cfg.Daemon.Debounce,
			OnResult:    onResult,
			Logger:      logger,
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "%s Starting procsync daemon...\n", ui.RenderAccent("→"))
		if interval > 0 {
			fmt.Fprintf(out, "   Remote: %s every %v\n", cfg.Remote.BaseURL, interval)
		}
		if cfg.Daemon.DropDir != "" {
			fmt.Fprintf(out, "   Drop dir: %s\n", cfg.Daemon.DropDir)
		}
		fmt.Fprintf(out, "\nPress Ctrl+C to stop\n\n")

		if err := d.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()

		fmt.Fprintln(out, "\nShutting down daemon...")
		d.Stop()
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "advanced",
	Short:   "Serve the local procedure store as a catalog",
	Long: `Serve stored procedures over HTTP so other devices can sync from
this one:

  GET /health
  GET /api/procedures
  GET /api/procedures/{guid}

When server.jwt_secret is set, /api requests need a device token (see
'procsync token').`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = cfg.Server.Addr
		}
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		srv := server.New(st, server.Config{JWTSecret: cfg.Server.JWTSecret}, logger)

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start(addr) }()
		fmt.Fprintf(cmd.OutOrStdout(), "%s Catalog server listening on %s\n", ui.RenderAccent("→"), addr)

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	},
}

func init() {
	daemonCmd.Flags().Bool("serve", false, "Also serve the store as a catalog on server.addr")
	serveCmd.Flags().String("addr", "", "Listen address (default: server.addr)")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(serveCmd)
}
