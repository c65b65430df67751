package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/coachhub/backend/internal/config"
	"github.com/coachhub/backend/internal/infra/logger"
	pgrepo "github.com/coachhub/backend/internal/repo/postgres"
)

func main() {
	cfgPath := os.Getenv("APP_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = log.Sync()
	}()

	if cfg.Postgres.DSN == "" {
		log.Fatal("postgres dsn is empty")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	applied, err := pgrepo.Migrate(ctx, pool)
	if err != nil {
		log.Fatal("apply migrations", zap.Error(err))
	}
	if len(applied) == 0 {
		log.Info("schema is up to date")
		return
	}
	log.Info("migrations applied", zap.Strings("versions", applied))
}
