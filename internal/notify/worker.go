package notify

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"booking-service/internal/config"
	"booking-service/internal/models"
	"booking-service/internal/queue"
	"booking-service/internal/store"
	"booking-service/internal/telemetry"
)

// Worker drains the notification outbox: it leases events, loads the
// booking, and pushes to eligible translators. Failed deliveries retry with
// backoff until NotifyMaxAttempts, then dead-letter.
type Worker struct {
	cfg        config.Config
	outbox     *queue.Outbox
	store      store.Store
	dispatcher *Dispatcher
}

// NewWorker builds the outbox consumer.
func NewWorker(cfg config.Config, outbox *queue.Outbox, st store.Store, disp *Dispatcher) *Worker {
	return &Worker{cfg: cfg, outbox: outbox, store: st, dispatcher: disp}
}

// Run loops until context cancellation.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		now := time.Now()
		_, _ = w.outbox.PromoteScheduled(ctx, now, 100)
		if reclaimed, _ := w.outbox.RequeueExpired(ctx, now, 100); len(reclaimed) > 0 {
			logrus.WithField("count", len(reclaimed)).Info("reclaimed expired notification leases")
		}
		if depth, err := w.outbox.Depth(ctx); err == nil {
			telemetry.OutboxDepthGauge.Set(float64(depth))
		}

		ev, raw, err := w.outbox.DequeueWithLease(ctx)
		if err != nil || raw == "" {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.cfg.NotifyPollInterval):
			}
			continue
		}

		w.deliver(ctx, ev, raw)
	}
}

func (w *Worker) deliver(ctx context.Context, ev queue.Event, raw string) {
	log := logrus.WithFields(logrus.Fields{"job_id": ev.JobID, "event": ev.Event})

	job, err := w.store.GetJob(ctx, ev.JobID)
	if errors.Is(err, models.ErrNotFound) {
		// The booking is gone; nothing to notify about.
		_ = w.outbox.Ack(ctx, raw)
		return
	}
	if err == nil {
		err = w.dispatcher.PushToTranslators(ctx, job, ev.Event)
	}
	if err == nil {
		_ = w.outbox.Ack(ctx, raw)
		return
	}

	attempts := ev.Attempts + 1
	if attempts >= w.cfg.NotifyMaxAttempts {
		_ = w.outbox.DLQPush(ctx, raw)
		telemetry.NotifyDeadLetter.Inc()
		log.WithError(err).WithField("attempts", attempts).Error("notification dead-lettered")
		return
	}

	backoff := BackoffWithJitter(w.cfg.BackoffInitial, w.cfg.BackoffMax, attempts)
	if retryErr := w.outbox.Retry(ctx, ev, raw, backoff); retryErr != nil {
		log.WithError(retryErr).Error("could not schedule notification retry")
		return
	}
	log.WithError(err).WithFields(logrus.Fields{"attempts": attempts, "backoff": backoff}).
		Warn("notification delivery failed, retry scheduled")
}
