package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/oliverisaac/goli"
	"github.com/oliverisaac/nudge/lib/delivery"
	"github.com/oliverisaac/nudge/lib/heartbeat"
	"github.com/oliverisaac/nudge/lib/scheduler"
	"github.com/oliverisaac/nudge/lib/store"
	"github.com/oliverisaac/nudge/types"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const (
	iconName        = "icon.svg"
	shutdownTimeout = 30 * time.Second
)

func init() {
	goli.InitLogrus(logrus.InfoLevel)
}

func main() {
	err := run()
	if err != nil {
		logrus.Fatal(err)
	}
}

func run() error {
	err := godotenv.Load(".env")
	if err != nil {
		logrus.Error(errors.Wrap(err, "Failed to load .env"))
	}

	tz := os.Getenv("TZ")
	if tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return errors.Wrap(err, "failed to load timezone")
		}
		time.Local = loc
	}

	cfg, err := types.ConfigFromEnv()
	if err != nil {
		return errors.Wrap(err, "Loading config from env")
	}
	goli.InitLogrus(cfg.LogLevel)

	db, err := store.Open(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(db); err != nil {
			logrus.Error(errors.Wrap(err, "closing database"))
		}
	}()

	subs := store.NewSubscriptionRepository(db)
	records := store.NewNotificationRepository(db, store.WithCacheTTL(cfg.CacheTTL))
	engine := delivery.NewEngine(subs, delivery.NewWebPushSender(cfg), delivery.Config{
		BatchSize:     cfg.BatchSize,
		BatchInterval: cfg.BatchInterval,
	})

	icon := cfg.IconURL(iconName)
	sched := scheduler.New(records, engine,
		scheduler.WithLocation(cfg.Location),
		scheduler.WithIcon(icon),
		scheduler.WithCatchUp(heartbeat.Window),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := sched.Restore(ctx); err != nil {
		logrus.Error(errors.Wrap(err, "restoring scheduled notifications"))
	}
	sched.Start()

	sweeper := heartbeat.NewSweeper(records, sched, engine,
		heartbeat.WithPeriod(cfg.HeartbeatPeriod),
		heartbeat.WithIcon(icon),
	)
	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		sweeper.Run(ctx)
	}()

	pruner := heartbeat.NewPruner(records, cfg.PruneAfter)
	if err := pruner.Start(); err != nil {
		return errors.Wrap(err, "starting pruner")
	}

	e := newServer(&app{
		cfg:     cfg,
		subs:    subs,
		records: records,
		sched:   sched,
		engine:  engine,
		icon:    icon,
	}, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)

	serverErr := make(chan error, 1)
	go func() {
		logrus.Infof("Listening on %s", cfg.Listen)
		if err := e.Start(cfg.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logrus.Info("Shutting down")
	case err := <-serverErr:
		stop()
		<-sweeperDone
		<-pruner.Stop().Done()
		_ = sched.Stop(context.Background())
		return errors.Wrap(err, "running http server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.Error(errors.Wrap(err, "shutting down http server"))
	}
	<-sweeperDone
	<-pruner.Stop().Done()
	if err := sched.Stop(shutdownCtx); err != nil {
		logrus.Error(errors.Wrap(err, "waiting for deliveries"))
	}
	return nil
}
