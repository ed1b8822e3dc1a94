package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/thejerf/suture/v4"

	"dailyrise/internal/app"
	"dailyrise/internal/engine/auth"
	"dailyrise/internal/logging"
	"dailyrise/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devHeaders bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withWorkspace(ctx, func(ctx context.Context, w *app.Workspace) error {
				cfg := w.Config
				if addr == "" {
					addr = cfg.Server.Addr
				}
				if basePath == "" {
					basePath = cfg.Server.BasePath
				}
				log := logging.Component("server")
				if cfg.Auth.JWTSecret == "" {
					log.Warn().Msgf("auth.jwt_secret is empty; bearer tokens are rejected (set %s)", app.JWTSecretEnv)
				}
				handler, err := server.New(server.Config{
					Engine:   w.Engine,
					BasePath: basePath,
					Auth: server.AuthConfig{
						Tokens:          auth.Tokens{Secret: cfg.Auth.JWTSecret},
						AllowUserHeader: devHeaders,
					},
					RateLimit: cfg.Server.RateLimit,
					Log:       &log,
				})
				if err != nil {
					return err
				}

				sup := newSupervisor("dailyrise")
				sup.Add(&server.HTTPService{Server: &http.Server{
					Addr:              addr,
					Handler:           handler,
					ReadHeaderTimeout: 10 * time.Second,
				}})
				if len(cfg.Webhooks) > 0 {
					sup.Add(server.NewWebhookDispatcher(w.Engine, cfg.Webhooks))
				}
				fmt.Printf("Serving DailyRise API on http://%s%s (OpenAPI at %s/openapi.json, metrics at /metrics)\n", addr, basePath, basePath)
				if err := sup.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default server.base_path)")
	cmd.Flags().BoolVar(&devHeaders, "dev-user-header", false, "trust X-User-Id without credentials (local dev only)")
	return cmd
}

// newSupervisor restarts failed services with suture's default backoff and
// logs supervisor events through zerolog.
func newSupervisor(name string) *suture.Supervisor {
	log := logging.Component("supervisor")
	return suture.New(name, suture.Spec{
		EventHook: func(ev suture.Event) {
			log.Warn().Fields(ev.Map()).Msg(ev.String())
		},
		Timeout: 10 * time.Second,
	})
}
