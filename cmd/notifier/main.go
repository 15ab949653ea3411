package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"booking-service/internal/config"
	"booking-service/internal/notify"
	"booking-service/internal/queue"
	"booking-service/internal/store"
	"booking-service/internal/telemetry"
)

func main() {
	cfg := config.Load()
	cfg.SetupLogging()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.NewPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logrus.WithError(err).Fatal("connect postgres")
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		logrus.WithError(err).Fatal("migrations")
	}

	outbox := queue.NewOutbox(cfg)
	dispatcher := notify.New(st, notify.LogTransport{Channel: "push"}, notify.LogTransport{Channel: "sms", Sender: cfg.SMSSender})
	worker := notify.NewWorker(cfg, outbox, st, dispatcher)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logrus.WithError(err).Warn("metrics server stopped")
		}
	}()

	logrus.WithFields(logrus.Fields{
		"visibility":   cfg.VisibilityTimeout,
		"max_attempts": cfg.NotifyMaxAttempts,
	}).Info("notifier started")
	if err := worker.Run(ctx); err != nil {
		logrus.WithError(err).Info("notifier stopped")
	}
}
