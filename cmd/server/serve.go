package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/incentive-engine/api"
	"github.com/warp/incentive-engine/config"
	"github.com/warp/incentive-engine/incentive"
	"github.com/warp/incentive-engine/narrator"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		docs, closeStore, err := openStore(ctx, cfg)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer closeStore()

		handler := newHandler(cfg, incentive.NewRepository(docs))
		router := api.NewRouter(handler, routerOptions(cfg))

		scheduler := api.NewSettlementScheduler(handler)
		scheduler.Enabled = cfg.Settlement.Enabled
		scheduler.CheckInterval = cfg.Settlement.Interval
		scheduler.Start()
		defer scheduler.Stop()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Error("server forced to shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server",
			zap.Int("port", port),
			zap.String("store", cfg.Store.Driver),
			zap.Bool("auth", cfg.Auth.Enabled),
			zap.Bool("narrator", handler.Narrator != nil))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newHandler wires the API handler from configuration.
func newHandler(c *config.Config, repo *incentive.Repository) *api.Handler {
	handler := api.NewHandler(repo, api.NewMetrics())
	if c.NarratorEnabled() {
		handler.Narrator = narrator.New(narrator.NewClient(c.Narrator.APIKey), narrator.Options{
			Model:             c.Narrator.Model,
			MaxTokens:         c.Narrator.MaxTokens,
			RequestsPerMinute: c.Narrator.RequestsPerMinute,
		})
	}
	return handler
}

func routerOptions(c *config.Config) api.RouterOptions {
	opts := api.RouterOptions{
		AllowedOrigins: c.CORS.AllowedOrigins,
		AdminRole:      c.Auth.AdminRole,
	}
	if c.Auth.Enabled {
		opts.Auth = api.NewAuthenticator(c.Auth.JWTSecret)
	}
	return opts
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
