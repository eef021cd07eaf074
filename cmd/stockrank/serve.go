package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/fedutinova/stockrank/internal/server"
	httpapi "github.com/fedutinova/stockrank/internal/transport/http"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP control surface",
	Long: `Serve dispatch, status, cancel, job lookup and an event stream over HTTP.
When JWT_SECRET is set every /v1 route needs a bearer token (see "stockrank token").`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a := &app{}
		defer a.close()

		if err := a.openBroker(ctx); err != nil {
			return err
		}
		if err := a.openStore(ctx, false); err != nil {
			return err
		}
		if err := a.openArchive(ctx); err != nil {
			return err
		}
		if cfg.JWTSecret == "" {
			slog.Warn("JWT_SECRET is empty; /v1 routes are unauthenticated")
		}

		handlers := &httpapi.Handlers{
			Dispatcher: a.dispatcher(),
			Broker:     a.broker,
			Store:      a.store,
			Archive:    a.archive,
			Config:     cfg,
		}

		srv := &http.Server{
			Addr:        cfg.HTTPAddr,
			Handler:     server.NewRouter(handlers),
			ReadTimeout: 30 * time.Second,
			IdleTimeout: 90 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			slog.Info("starting stockrank http", "addr", cfg.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err, ok := <-errCh:
			if ok {
				return err
			}
			return nil
		case <-ctx.Done():
		}
		slog.Info("shutting down")

		shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shCancel()
		return srv.Shutdown(shCtx)
	},
}
