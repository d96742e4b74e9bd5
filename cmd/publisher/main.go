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
	"bus_tracker/internal/events"
	"bus_tracker/internal/logger"
	"bus_tracker/internal/metrics"
	"bus_tracker/internal/publisher"
)

const drainTimeout = 30 * time.Second

func main() {
	cfg, err := config.LoadPublisher()
	if err != nil {
		logrus.Fatalf("config error: %v", err)
	}
	logger.Setup(cfg.Log.File, cfg.Log.Level)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	collector := metrics.NewCollector()

	topts := []publisher.TransportOption{publisher.OnEvent(logEvent)}
	if cfg.Origin != "" {
		topts = append(topts, publisher.WithHeader(http.Header{"Origin": {cfg.Origin}}))
	}
	transport := publisher.NewWSTransport(cfg.ServerURL, topts...)
	pub := publisher.New(transport, publisher.WithMetrics(collector))

	source := &publisher.ReplaySource{Path: cfg.FixesFile, Interval: cfg.Interval, Loop: cfg.Loop}

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		if err := transport.Run(gctx, pub); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if cfg.MetricsAddr != "" {
		srv := collector.Server(cfg.MetricsAddr)
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		defer stopRun()
		logrus.WithFields(logrus.Fields{"route_id": cfg.RouteID, "file": cfg.FixesFile}).Info("Starting trip.")
		if err := pub.Track(gctx, cfg.RouteID, source); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		drain(gctx, pub)
		pub.Stop(gctx, cfg.RouteID)
		if !drain(gctx, pub) {
			logrus.WithField("pending", pub.Pending()).Warn("Trip finished with undelivered events.")
			return nil
		}
		logrus.Info("Trip finished.")
		return nil
	})

	if err := g.Wait(); err != nil {
		logrus.WithError(err).Fatal("Publisher stopped with error.")
	}
}

// drain waits up to drainTimeout for held samples and commands to go out.
func drain(ctx context.Context, pub *publisher.Publisher) bool {
	ctx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for !pub.Idle() {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
	return true
}

func logEvent(ev events.Outbound) {
	switch ev := ev.(type) {
	case events.StatusUpdate:
		logrus.WithFields(logrus.Fields{"route_id": ev.RouteID, "status": ev.Status, "active": ev.IsActive}).Info("Status update.")
	case events.ReceiveLocation:
		entry := logrus.WithFields(logrus.Fields{"route_id": ev.RouteID, "lat": ev.Lat, "lng": ev.Lng})
		if ev.CurrentStop != nil {
			entry = entry.WithField("current_stop", *ev.CurrentStop)
		}
		if ev.NextStop != nil {
			entry = entry.WithField("next_stop", *ev.NextStop)
		}
		entry.Debug("Location confirmed.")
	}
}
