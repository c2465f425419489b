package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"kharomchat/internal/api"
	"kharomchat/internal/observability"
)

func newServeCmd() *cobra.Command {
	var (
		addr         string
		withSessions bool
		remote       bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the /api/chat route and, optionally, the local session API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.BasicConfig.ServerAddress
			}
			if !cmd.Flags().Changed("sessions") {
				withSessions = cfg.BasicConfig.LocalAPI
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if _, ok := cfg.Providers[cfg.Chat.Provider]; !ok && !withSessions {
				return errors.New("nothing to serve: configure a provider or enable the session api")
			}

			var opts []api.Option
			if _, ok := cfg.Providers[cfg.Chat.Provider]; ok {
				svc, err := buildModelService(ctx, cfg)
				if err != nil {
					return err
				}
				opts = append(opts, api.WithChatRoute(svc))
			} else {
				observability.Logger().Warn("no provider configured, /api/chat disabled", "provider", cfg.Chat.Provider)
			}
			if withSessions {
				core, err := openSessionCore(ctx, cfg)
				if err != nil {
					return err
				}
				defer core.Close()
				<-core.coord.Start(ctx)
				opts = append(opts, api.WithSessions(core.coord, core.turns))
				if remote {
					opts = append(opts, api.WithRemoteAccess())
				}
			}

			gin.SetMode(gin.ReleaseMode)
			router := gin.New()
			router.Use(gin.Recovery())
			api.NewHandler(opts...).RegisterRoutes(router)
			return runServer(ctx, addr, router)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default basic_config.server_address)")
	cmd.Flags().BoolVar(&withSessions, "sessions", false, "serve the local session api (default basic_config.local_api)")
	cmd.Flags().BoolVar(&remote, "allow-remote", false, "let non-loopback clients use the session api")
	return cmd
}

func runServer(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger := observability.WithFields("addr", addr)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down server")
		return srv.Shutdown(shutdownCtx)
	}
}
