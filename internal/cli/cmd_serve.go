package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/koltyakov/arca-edge/internal/config"
	"github.com/koltyakov/arca-edge/internal/debughttp"
	"github.com/koltyakov/arca-edge/internal/directory"
	"github.com/koltyakov/arca-edge/internal/domain"
	"github.com/koltyakov/arca-edge/internal/edge"
	"github.com/koltyakov/arca-edge/internal/log"
	"github.com/koltyakov/arca-edge/internal/metrics"
	"github.com/koltyakov/arca-edge/internal/ratelimit"
	"github.com/koltyakov/arca-edge/internal/token"
	"github.com/koltyakov/arca-edge/internal/versionutil"
)

func newServeCmd() *cobra.Command {
	cfg := config.FromEnv()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the edge router",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cfg.BindFlags(cmd.Flags())
	return cmd
}

func runServe(ctx context.Context, cfg config.ServerConfig) error {
	logger, err := log.New(log.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConfig, err)
	}
	defer log.Sync(logger)

	srv, closeDeps, err := buildServer(cfg, logger)
	if err != nil {
		return err
	}
	defer closeDeps()

	logger.Info("arca-edge starting",
		zap.String("version", versionutil.Current()),
		zap.String("domain", cfg.BaseDomain),
		zap.String("auth_mode", cfg.AuthMode),
		zap.String("directory_backend", cfg.DirectoryBackend),
		zap.String("rate_limit_backend", cfg.RateLimitBackend),
		log.TLSMode(cfg.TLSMode),
	)

	if err := debughttp.StartPprofServer(ctx, cfg.PprofListen, logger); err != nil {
		return fmt.Errorf("pprof listener: %w", err)
	}
	return srv.Run(ctx)
}

// buildServer wires the stores, directory, codec, limiter and code sender
// into an edge server. The returned func releases what was opened.
func buildServer(cfg config.ServerConfig, logger *zap.Logger) (*edge.Server, func(), error) {
	b, err := openBackends(cfg)
	if err != nil {
		return nil, nil, err
	}
	closeDeps := func() {
		if err := b.Close(); err != nil {
			logger.Warn("close stores", zap.Error(err))
		}
	}
	fail := func(err error) (*edge.Server, func(), error) {
		closeDeps()
		return nil, nil, err
	}

	m := metrics.New()
	dir, err := directory.New(b.directory,
		directory.WithAdminKey(cfg.AdminKey),
		directory.WithCacheTTL(cfg.DirectoryCacheTTL),
		directory.WithMetrics(m),
		directory.WithLogger(logger),
	)
	if err != nil {
		return fail(err)
	}

	limiter, err := ratelimit.New(ratelimit.Config{
		MaxAttempts: cfg.RateLimitMaxAttempts,
		Window:      cfg.RateLimitWindow,
	}, b.rateLimits)
	if err != nil {
		return fail(err)
	}

	deps := edge.Deps{
		Directory: dir,
		Limiter:   limiter,
		Metrics:   m,
		Logger:    logger,
	}
	if cfg.AuthMode == config.AuthGated {
		codec, err := token.NewCodec([]byte(cfg.SessionSecret),
			token.WithSessionTTL(cfg.SessionTTL),
			token.WithChallengeTTL(cfg.ChallengeTTL),
		)
		if err != nil {
			return fail(err)
		}
		deps.Codec = codec
		if cfg.OTPEnabled {
			deps.Sender = edge.NewWebhookSender(cfg.OTPWebhookURL, nil)
		}
	}

	srv, err := edge.New(cfg, deps)
	if err != nil {
		return fail(err)
	}
	return srv, closeDeps, nil
}
