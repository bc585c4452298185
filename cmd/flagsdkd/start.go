package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flagkit/evalsdk/pkg/config"
	"github.com/flagkit/evalsdk/pkg/datasource"
	"github.com/flagkit/evalsdk/pkg/housekeeper"
	"github.com/flagkit/evalsdk/pkg/logger"
	"github.com/flagkit/evalsdk/pkg/persistredis"
	"github.com/flagkit/evalsdk/pkg/statusserver"
	"github.com/flagkit/evalsdk/pkg/store"
	"github.com/flagkit/evalsdk/pkg/storecache"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the flagsdkd runtime",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cmd.Flags(), configFile)
		if err != nil {
			return err
		}
		return run(cfg)
	},
}

func init() {
	config.RegisterFlags(startCmd.Flags())
	rootCmd.AddCommand(startCmd)
}

func run(cfg config.Config) error {
	log := logger.NewWithLevel(cfg.LogLevel)

	dataStore, closeStore, err := buildStore(cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("flagsdkd: received shutdown signal")
		cancel()
	}()

	hk := housekeeper.New(dataStore, log)
	if err := hk.Start(cfg.HousekeeperCron); err != nil {
		return err
	}
	defer hk.Stop()

	status := statusserver.New(cfg.StatusAddr, dataStore, log)
	statusErrCh := make(chan error, 1)
	go func() { statusErrCh <- status.Run(ctx) }()

	src, err := buildDataSource(cfg, dataStore, log)
	if err != nil {
		return err
	}

	log.Infof("flagsdkd: starting, data-source-mode=%s cache-mode=%s", cfg.DataSourceMode, cfg.CacheMode)
	runErr := src.Run(ctx)
	cancel()
	<-statusErrCh

	if runErr != nil && ctx.Err() == nil {
		return fmt.Errorf("flagsdkd: data source stopped: %w", runErr)
	}
	return nil
}

func buildStore(cfg config.Config, log *logger.Logger) (store.Store, func(), error) {
	memStore := store.NewMemoryStore(log)
	if cfg.RedisURL == "" {
		return memStore, func() {}, nil
	}

	client, err := persistredis.Connect(context.Background(), persistredis.Config{
		ConnectionURL: cfg.RedisURL,
		KeyPrefix:     cfg.RedisKeyPrefix,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("flagsdkd: connecting to redis: %w", err)
	}
	core := persistredis.NewCore(client, cfg.RedisKeyPrefix, log)

	mode, err := parseCacheMode(cfg.CacheMode)
	if err != nil {
		_ = core.Close()
		return nil, nil, err
	}

	cached := storecache.New(core, mode, cfg.CacheTTL, log)
	return cached, func() { _ = core.Close() }, nil
}

func buildDataSource(cfg config.Config, s store.Store, log *logger.Logger) (datasource.DataSource, error) {
	switch cfg.DataSourceMode {
	case "file":
		return datasource.NewFileDataSource(cfg.FilePath, s, log), nil
	case "sse":
		headers := map[string]string{}
		if cfg.StreamAuthKey != "" {
			headers["Authorization"] = "Bearer " + cfg.StreamAuthKey
		}
		return datasource.NewSSESource(cfg.StreamBaseURL, headers, s, log), nil
	default:
		return nil, fmt.Errorf("flagsdkd: unknown data-source-mode %q", cfg.DataSourceMode)
	}
}

func parseCacheMode(s string) (storecache.TTLMode, error) {
	switch s {
	case "uncached":
		return storecache.Uncached, nil
	case "finite":
		return storecache.FiniteTTL, nil
	case "infinite":
		return storecache.InfiniteTTL, nil
	default:
		return 0, fmt.Errorf("flagsdkd: unknown cache-mode %q", s)
	}
}
