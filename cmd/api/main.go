package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"booking-service/internal/api"
	"booking-service/internal/auth"
	"booking-service/internal/config"
	"booking-service/internal/feedback"
	"booking-service/internal/lifecycle"
	"booking-service/internal/notify"
	"booking-service/internal/queue"
	"booking-service/internal/ratelimit"
	"booking-service/internal/store"
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

	st := openStore(ctx, cfg)

	var (
		outbox  lifecycle.Outbox
		limiter *ratelimit.CustomerLimiter
	)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		outbox = queue.NewOutboxWithClient(client, cfg)
		limiter = ratelimit.NewCustomerLimiter(client, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	}

	az := auth.New(cfg)
	engine := lifecycle.New(st, az, outbox)
	recorder := feedback.New(st, az)
	dispatcher := notify.New(st, notify.LogTransport{Channel: "push"}, notify.LogTransport{Channel: "sms", Sender: cfg.SMSSender})

	server := api.New(cfg, az, engine, recorder, dispatcher, outbox, limiter)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	logrus.WithField("port", cfg.HTTPPort).Info("api listening")
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("listen")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.Config) store.Store {
	if cfg.StoreDriver == "memory" {
		logrus.Warn("using in-memory store, data will not survive restarts")
		return store.NewMemory()
	}
	pg, err := store.NewPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logrus.WithError(err).Fatal("connect postgres")
	}
	if err := pg.RunMigrations(ctx); err != nil {
		logrus.WithError(err).Fatal("migrations")
	}
	return pg
}
