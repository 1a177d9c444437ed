package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Tyrowin/chathub/internal/auth"
	"github.com/Tyrowin/chathub/internal/banstore"
	"github.com/Tyrowin/chathub/internal/config"
	"github.com/Tyrowin/chathub/internal/logger"
	"github.com/Tyrowin/chathub/internal/metrics"
	"github.com/Tyrowin/chathub/internal/provider"
	"github.com/Tyrowin/chathub/internal/retention"
	"github.com/Tyrowin/chathub/internal/server"
)

type serveFlags struct {
	port     string
	origins  []string
	logLevel string
	provider string
}

func newServeCmd(root *rootOptions) *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat hub",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load(cmd)
			if err != nil {
				return err
			}
			flags.apply(cmd, &cfg)
			return serve(config.Sanitize(cfg))
		},
	}
	flags.register(cmd)
	return cmd
}

func (f *serveFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.port, "port", "p", "", "listen address, e.g. :8080")
	cmd.Flags().StringSliceVar(&f.origins, "origins", nil, "allowed WebSocket origins")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	cmd.Flags().StringVar(&f.provider, "ai-provider", "", "ollama, mock or none")
}

// apply overlays flags the user set explicitly.
func (f *serveFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = f.port
	}
	if cmd.Flags().Changed("origins") {
		cfg.Server.AllowedOrigins = f.origins
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = f.logLevel
	}
	if cmd.Flags().Changed("ai-provider") {
		cfg.Generation.Provider = f.provider
	}
}

func initLogger(cfg config.LoggingConfig) error {
	if cfg.Format == "console" {
		return logger.InitDevelopment(cfg.Level)
	}
	return logger.Init(cfg.Level)
}

func serve(cfg config.Config) error {
	if err := initLogger(cfg.Logging); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	authn, err := auth.NewJWTAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	opts := []server.Option{server.WithAuthenticator(authn)}

	if cfg.Moderation.BanDB != "" {
		store, err := banstore.Open(cfg.Moderation.BanDB)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Warn("ban_store_close_failed", zap.Error(err))
			}
		}()
		snap, err := store.Load()
		if err != nil {
			return fmt.Errorf("load bans: %w", err)
		}
		opts = append(opts, server.WithBanStore(store, snap))
	}

	adapter, err := generationAdapter(cfg.Generation)
	if err != nil {
		return err
	}
	if adapter != nil {
		opts = append(opts, server.WithProvider(adapter))
	}

	var collectors *metrics.Collectors
	if cfg.Metrics.Enabled {
		collectors = metrics.New()
		opts = append(opts, server.WithMetrics(collectors))
	}

	hub := server.NewHub(cfg, opts...)
	go hub.Run()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Retention.Enabled {
		sched, err := retention.NewScheduler(cfg.Retention.Cron, cfg.Retention.IdleFor, hub)
		if err != nil {
			return err
		}
		go sched.Run(ctx)
	}

	httpServer := server.CreateServer(cfg.Server.Port, server.SetupRoutes(hub, cfg, collectors))
	errs := make(chan error, 1)
	go func() {
		errs <- server.StartServer(httpServer)
	}()

	select {
	case err = <-errs:
		if err != nil {
			logger.Error("server_failed", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutdown_signal_received")
	}

	if serr := server.ShutdownServer(httpServer, cfg.Server.ShutdownTimeout); serr != nil {
		logger.Warn("http_shutdown_incomplete", zap.Error(serr))
	}
	if herr := hub.Shutdown(cfg.Server.ShutdownTimeout); herr != nil {
		logger.Warn("hub_shutdown_incomplete", zap.Error(herr))
	}
	return err
}

// generationAdapter builds the configured backend whether or not @ai starts
// enabled, so admins can turn it on at runtime. A broken backend is fatal
// only when generation is enabled at startup.
func generationAdapter(cfg config.GenerationConfig) (provider.Adapter, error) {
	adapter, err := provider.New(cfg)
	if err == nil {
		return adapter, nil
	}
	if cfg.Enabled {
		return nil, fmt.Errorf("generation provider: %w", err)
	}
	logger.Warn("generation_provider_unavailable", zap.String("provider", cfg.Provider), zap.Error(err))
	return nil, nil
}
