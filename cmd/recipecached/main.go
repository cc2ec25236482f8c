// Command recipecached runs the recipe cache with its admin API
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/recipeapp/recipecache/internal/cache"
	"github.com/recipeapp/recipecache/internal/config"
	"github.com/recipeapp/recipecache/internal/kvstore"
	"github.com/recipeapp/recipecache/internal/metrics"
	"github.com/recipeapp/recipecache/internal/recipeapi"
	"github.com/recipeapp/recipecache/pkg/api"
	"github.com/recipeapp/recipecache/pkg/health"
	"github.com/recipeapp/recipecache/pkg/utils"
)

const shutdownTimeout = 30 * time.Second

type options struct {
	configFile string
	env        string
	store      string
	apiAddr    string
	noAPI      bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "recipecached: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("recipecached", flag.ContinueOnError)
	fs.StringVarP(&opts.configFile, "config", "c", "", "path to a YAML configuration file")
	fs.StringVar(&opts.env, "env", "", "environment profile: development or production")
	fs.StringVar(&opts.store, "store", "", "storage backend: memory, file, redis, s3 or nats")
	fs.StringVar(&opts.apiAddr, "api-addr", "", "admin API listen address")
	fs.BoolVar(&opts.noAPI, "no-api", false, "disable the admin API")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	return opts, nil
}

// loadConfiguration applies defaults, then the file, then the environment,
// then explicitly set flags.
func loadConfiguration(opts options) (*config.Configuration, error) {
	cfg := config.NewDefault()
	if opts.configFile != "" {
		if err := cfg.LoadFromFile(opts.configFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	if opts.env != "" {
		cfg.Global.Environment = opts.env
	}
	if opts.store != "" {
		cfg.Storage.Backend = opts.store
	}
	if opts.apiAddr != "" {
		cfg.API.Address = opts.apiAddr
	}
	if opts.noAPI {
		cfg.API.Enabled = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run() error {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		return err
	}

	cfg, err := loadConfiguration(opts)
	if err != nil {
		return err
	}

	logger, closeLog, err := utils.SetupLogging(utils.LoggingConfig{
		Level:  cfg.Global.LogLevel,
		Format: cfg.Global.LogFormat,
		File:   cfg.Global.LogFile,
	})
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector, err := metrics.NewCollector(nil)
	if err != nil {
		return err
	}

	store, err := kvstore.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Storage.Backend, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close store", "error", err)
		}
	}()

	source, err := recipeapi.NewClient(recipeapi.ConfigFromUpstream(cfg.Upstream), collector, logger)
	if err != nil {
		return err
	}

	healthTracker := health.NewTracker(health.DefaultConfig())
	healthTracker.AddStateChangeCallback(func(component string, oldState, newState health.HealthState, err error) {
		logger.Warn("Component health changed",
			"component", component,
			"from", oldState.String(),
			"to", newState.String(),
			"error", err)
	})

	svc, err := cache.NewService(cache.Options{
		Profile: cfg.Profile(),
		Store:   store,
		Source:  source,
		Metrics: collector,
		Health:  healthTracker,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	if err := svc.Initialize(ctx); err != nil {
		return err
	}

	var server *api.Server
	if cfg.API.Enabled {
		serverConfig := api.DefaultServerConfig()
		serverConfig.Address = cfg.API.Address
		if cfg.API.ReadTimeout > 0 {
			serverConfig.ReadTimeout = cfg.API.ReadTimeout
		}
		if cfg.API.WriteTimeout > 0 {
			serverConfig.WriteTimeout = cfg.API.WriteTimeout
		}

		var metricsHandler = collector.Handler()
		if !cfg.API.EnableMetrics {
			metricsHandler = nil
		}

		server = api.NewServer(serverConfig, svc, healthTracker, metricsHandler, logger)
		server.StartBackground()
	}

	logger.Info("recipecached running", "environment", cfg.Profile().Environment, "store", cfg.Storage.Backend)
	<-ctx.Done()
	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("API server shutdown failed", "error", err)
		}
	}
	return svc.Shutdown(shutdownCtx)
}
