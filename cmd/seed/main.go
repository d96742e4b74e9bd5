package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"bus_tracker/internal/config"
	"bus_tracker/internal/logger"
	"bus_tracker/internal/seed"
	"bus_tracker/internal/store"
)

func main() {
	file := flag.String("file", "routes.yaml", "YAML file with route definitions")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config error: %v", err)
	}
	logger.Setup(cfg.Log.File, cfg.Log.Level)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	routes, err := seed.Load(*file)
	if err != nil {
		logrus.Fatalf("seed file: %v", err)
	}

	db, err := config.OpenDB(cfg.DatabaseURL)
	if err != nil {
		logrus.Fatalf("failed to connect to database: %v", err)
	}
	st := store.New(db)
	if err := st.Migrate(); err != nil {
		logrus.Fatalf("auto-migration failed: %v", err)
	}

	if err := seed.Apply(ctx, st, routes); err != nil {
		logrus.Fatalf("seed failed: %v", err)
	}
	logrus.WithField("routes", len(routes)).Info("Seeding complete.")
}
