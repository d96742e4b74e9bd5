package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"bus_tracker/internal/config"
	"bus_tracker/internal/controllers"
	"bus_tracker/internal/hub"
	"bus_tracker/internal/logger"
	"bus_tracker/internal/metrics"
	"bus_tracker/internal/middleware"
	"bus_tracker/internal/relay"
	"bus_tracker/internal/routes"
	"bus_tracker/internal/store"
	"bus_tracker/internal/tracking"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config error: %v", err)
	}
	logger.Setup(cfg.Log.File, cfg.Log.Level)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Connect to the database
	db, err := config.OpenDB(cfg.DatabaseURL)
	if err != nil {
		logrus.Fatalf("failed to connect to database: %v", err)
	}
	st := store.New(db)
	if err := st.Migrate(); err != nil {
		logrus.Fatalf("auto-migration failed: %v", err)
	}

	collector := metrics.NewCollector()
	registry := hub.NewRegistry(collector)

	opts := []tracking.Option{tracking.WithMetrics(collector)}
	if cfg.NATSURL != "" {
		nr, err := relay.NewNATSRelay(cfg.NATSURL, cfg.NATSSubjectPrefix, collector)
		if err != nil {
			logrus.Fatalf("nats error: %v", err)
		}
		defer nr.Close()
		opts = append(opts, tracking.WithMirror(nr))
	}
	handler := tracking.NewHandler(st, registry, opts...)

	origins := middleware.Origins(cfg.AllowedOrigins)
	r := routes.SetupRouter(routes.Deps{
		Socket: controllers.NewSocketController(registry, handler, origins, cfg.SendBuffer),
		Routes: controllers.NewRouteController(st, registry, cfg.StaleAfter),
		DB:     st,
		Hub:    registry,
	})

	servers := []*http.Server{{
		Addr:              cfg.HTTPAddr,
		Handler:           middleware.EnableCORS(origins, r),
		ReadHeaderTimeout: 10 * time.Second,
	}}
	if cfg.MetricsAddr != "" {
		servers = append(servers, collector.Server(cfg.MetricsAddr))
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			logrus.WithField("addr", srv.Addr).Info("Listening.")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logrus.Info("Shutting down.")

		// Hijacked websocket connections are not closed by Shutdown.
		registry.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		logrus.WithError(err).Error("Server stopped with error.")
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}
