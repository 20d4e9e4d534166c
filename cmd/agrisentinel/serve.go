package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/baebong3/fruitbasket-legal/internal/api"
	"github.com/baebong3/fruitbasket-legal/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daily scheduler, the read API and Telegram commands",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer e.Close()

		c, err := initCache(cfg)
		if err != nil {
			return eris.Wrap(err, "init cache")
		}
		defer c.Close() //nolint:errcheck

		sched := scheduler.NewScheduler(ctx, e.Orch, e.Store, cfg.Location())
		if err := sched.RegisterAll(cfg.Schedule.DailyCron); err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()

		if e.Telegram != nil {
			sched.Reply = e.Telegram.Send
			go e.Telegram.StartPolling(ctx, sched.HandleCommand)
			zap.L().Info("telegram: polling started")
		}

		if runOnStart, _ := cmd.Flags().GetBool("run-on-start"); runOnStart || cfg.Schedule.RunOnStart {
			zap.L().Info("serve: running today's interval on start")
			go sched.RunNow()
		}

		srv := api.NewServer(e.Store, c, e.Metrics)
		srv.Timeout = cfg.Server.RequestTimeout
		httpSrv := &http.Server{Addr: cfg.Server.Addr, Handler: srv.Router()}

		errCh := make(chan error, 1)
		go func() {
			zap.L().Info("api: listening", zap.String("addr", cfg.Server.Addr))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return eris.Wrap(err, "api server")
			}
		case <-ctx.Done():
			zap.L().Info("serve: shutdown signal received, stopping")
		}

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("api: shutdown", zap.Error(err))
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().Bool("run-on-start", false, "run today's interval immediately")
}
