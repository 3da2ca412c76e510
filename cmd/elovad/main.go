package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/newflowio/elova/internal/app"
	"github.com/newflowio/elova/internal/buildinfo"
	"github.com/newflowio/elova/internal/config"
	"github.com/newflowio/elova/internal/database"
	"github.com/newflowio/elova/internal/httpserver"
	"github.com/newflowio/elova/internal/logging"
	"github.com/newflowio/elova/internal/redisclient"
)

func main() {
	configFile := flag.String("config", "", "path to the YAML config file")
	envFile := flag.String("env-file", "", "path to a .env file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.Options{ConfigFile: *configFile, EnvFile: *envFile})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.Logging, cfg.Environment, os.Stdout)
	slog.SetDefault(logger)
	logger.Info("starting elova",
		slog.String("version", buildinfo.Version),
		slog.String("environment", cfg.Environment),
		slog.String("database", cfg.Database.Driver),
	)

	conn, dialect, err := database.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer conn.Close()

	if err := database.RunMigrations(ctx, conn, dialect, cfg.Database.RunMigrations); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	redisClient := redisclient.New(cfg.Redis)
	if redisClient != nil {
		if err := redisclient.Ping(ctx, redisClient); err != nil {
			log.Fatalf("connect redis: %v", err)
		}
		defer redisClient.Close()
	}

	container, err := app.NewContainer(ctx, cfg, conn, dialect, redisClient, logger)
	if err != nil {
		log.Fatalf("build container: %v", err)
	}
	defer container.Close(context.WithoutCancel(ctx))

	if err := container.Start(ctx); err != nil {
		log.Fatalf("start background services: %v", err)
	}

	server, err := httpserver.New(container)
	if err != nil {
		log.Fatalf("construct server: %v", err)
	}

	logger.Info("listening", slog.String("addr", cfg.Server.ListenAddr))
	if err := server.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("server stopped: %v", err)
	}
}
