package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/parley/pkg/config"
	"github.com/go-go-golems/parley/pkg/provider"
	"github.com/go-go-golems/parley/pkg/server"
	"github.com/go-go-golems/parley/pkg/session"
	"github.com/go-go-golems/parley/pkg/stream"
)

var logLevel string

func main() {
	rootCmd := &cobra.Command{
		Use:   "parley",
		Short: "Per-session chat router over websocket with pluggable model backends",
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			level, err := zerolog.ParseLevel(logLevel)
			if err != nil {
				return errors.Wrapf(err, "invalid log level %q", logLevel)
			}
			log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
				Level(level).
				With().Timestamp().Logger()
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.AddCommand(newServeCommand())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func newServeCommand() *cobra.Command {
	var configPath string
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat routing server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides config)")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := stream.NewBackend(stream.Settings{
		Enabled:  cfg.Redis.Enabled,
		Addr:     cfg.Redis.Addr,
		Group:    cfg.Redis.Group,
		Consumer: cfg.Redis.Consumer,
	}, stream.NewWatermillLogger(log.Logger))
	if err != nil {
		return errors.Wrap(err, "could not build stream backend")
	}
	defer func() { _ = backend.Close() }()

	providers := provider.NewRegistry(map[string]provider.Generator{
		provider.AgentCloudflare: provider.NewCloudflare(provider.CloudflareConfig{
			AccountID: cfg.Cloudflare.AccountID,
			APIToken:  cfg.Cloudflare.APIToken,
			Model:     cfg.Cloudflare.Model,
		}),
		provider.AgentOpenAI: provider.NewOpenAI(provider.OpenAIConfig{
			APIKey: cfg.OpenAI.APIKey,
			Model:  cfg.OpenAI.Model,
		}),
		provider.AgentGemini: provider.NewGemini(provider.GeminiConfig{
			APIKey: cfg.Gemini.APIKey,
			Model:  cfg.Gemini.Model,
		}),
	})

	registry, err := session.NewRegistry(session.Options{
		BaseCtx:   ctx,
		Providers: providers,
		Backend:   backend,
	})
	if err != nil {
		return errors.Wrap(err, "could not build session registry")
	}
	registry.SetEvictionConfig(
		time.Duration(cfg.Session.EvictIdleSeconds)*time.Second,
		time.Duration(cfg.Session.EvictIntervalSeconds)*time.Second,
	)
	registry.StartEvictionLoop(ctx)

	srv := server.New(registry, backend)
	httpSrv := server.BuildHTTPServer(cfg.Addr, srv.Handler())

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Strs("agents", providers.Agents()).Msg("starting server")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server failed")
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}
