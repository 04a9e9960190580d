package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bountyline/internal/app"
	"bountyline/internal/engine"
	"bountyline/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var faucet bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API with the payout and webhook dispatchers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			logger := app.NewLogger(os.Stderr, viper.GetString("log-level"))
			e, conn, err := app.OpenEngine(ctx, app.Options{
				Workspace: viper.GetString("workspace"),
				Driver:    viper.GetString("db-driver"),
				Logger:    logger,
			})
			if err != nil {
				return err
			}
			defer conn.Close()

			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("BOUNTYLINE_JWT_SECRET (or --jwt-secret) is required for bearer auth")
			}
			handler, err := server.New(server.Config{
				Engine:       e,
				BasePath:     basePath,
				Auth:         server.AuthConfig{JWTSecret: secret, Logger: logger},
				Logger:       logger,
				EnableFaucet: faucet,
			})
			if err != nil {
				return err
			}
			hooks, err := server.NewWebhookDispatcher(e, e.Config.Webhooks, logger)
			if err != nil {
				return err
			}

			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				engine.PayoutDispatcher{Engine: e, Interval: e.Config.PayoutInterval(), Batch: e.Config.PayoutBatch()}.Run(ctx)
			}()
			go func() {
				defer wg.Done()
				hooks.Run(ctx)
			}()

			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			logger.Info("serving bountyline api", "addr", addr, "base_path", basePath, "faucet", faucet, "webhooks", len(e.Config.Webhooks))
			fmt.Printf("Serving Bountyline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			err = srv.ListenAndServe()
			stop()
			wg.Wait()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&faucet, "faucet", false, "expose POST /wallets/{address}/fund (development only)")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}
