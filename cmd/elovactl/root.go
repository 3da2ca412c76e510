package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/newflowio/elova/internal/app"
	"github.com/newflowio/elova/internal/config"
	"github.com/newflowio/elova/internal/database"
	"github.com/newflowio/elova/internal/db"
	"github.com/newflowio/elova/internal/logging"
	"github.com/newflowio/elova/internal/redisclient"
)

type globalFlags struct {
	configFile string
	envFile    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "elovactl",
		Short:         "Maintenance CLI for Elova",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.configFile, "config", "", "path to the YAML config file")
	cmd.PersistentFlags().StringVar(&flags.envFile, "env-file", "", "path to a .env file")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newMigrateCmd(flags),
		newSyncCmd(flags),
		newPricingCmd(flags),
		newProvidersCmd(flags),
		newConfigCmd(flags),
		newVersionCmd(),
	)
	return cmd
}

func (f *globalFlags) load() (*config.Config, error) {
	cfg, err := config.Load(config.Options{ConfigFile: f.configFile, EnvFile: f.envFile})
	if err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	return cfg, nil
}

// runtime is an opened database plus the service container, without the
// background loops elovad starts.
type runtime struct {
	cfg       *config.Config
	conn      *sql.DB
	dialect   db.Dialect
	redis     *redis.Client
	container *app.Container
	logger    *slog.Logger
}

func (f *globalFlags) open(ctx context.Context) (*runtime, error) {
	cfg, err := f.load()
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.Logging, cfg.Environment, nil)

	conn, dialect, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := database.RunMigrations(ctx, conn, dialect, cfg.Database.RunMigrations); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	redisClient := redisclient.New(cfg.Redis)
	if err := redisclient.Ping(ctx, redisClient); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	container, err := app.NewContainer(ctx, cfg, conn, dialect, redisClient, logger)
	if err != nil {
		conn.Close()
		if redisClient != nil {
			redisClient.Close()
		}
		return nil, err
	}
	return &runtime{cfg: cfg, conn: conn, dialect: dialect, redis: redisClient, container: container, logger: logger}, nil
}

func (r *runtime) Close(ctx context.Context) {
	r.container.Close(ctx)
	if r.redis != nil {
		r.redis.Close()
	}
	r.conn.Close()
}
