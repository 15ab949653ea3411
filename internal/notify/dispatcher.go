package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"booking-service/internal/models"
	"booking-service/internal/store"
	"booking-service/internal/telemetry"
)

// Transport delivers one payload to one target. Push and SMS providers are
// external collaborators; the dispatcher only depends on this contract.
type Transport interface {
	Send(ctx context.Context, target, payload string) error
}

// SMSResult is the structured outcome of an SMS send. Delivery faults are
// folded into the message instead of propagating: callers always get a
// response.
type SMSResult struct {
	Success string `json:"success"`
}

// Dispatcher fans job events out to translators over push and SMS. It never
// writes Job or Distance state.
type Dispatcher struct {
	store store.Store
	push  Transport
	sms   Transport
}

// New builds a dispatcher. Either transport may be nil to disable that
// channel.
func New(st store.Store, push, sms Transport) *Dispatcher {
	return &Dispatcher{store: st, push: push, sms: sms}
}

type pushPayload struct {
	JobID     string `json:"job_id"`
	Event     string `json:"event"`
	Language  string `json:"language"`
	Immediate bool   `json:"immediate"`
	DueAt     string `json:"due_at,omitempty"`
	Duration  int    `json:"duration"`
}

// PushToTranslators sends a push notification about the job to every
// eligible translator. Individual delivery failures are logged and counted
// but swallowed; an error is returned only when the audience cannot be
// resolved at all.
func (d *Dispatcher) PushToTranslators(ctx context.Context, job models.Job, event string) error {
	if d.push == nil {
		return nil
	}
	audience, err := d.store.EligibleTranslators(ctx, job)
	if err != nil {
		return fmt.Errorf("resolve audience: %w", err)
	}

	payload := pushPayload{
		JobID:     job.ID,
		Event:     event,
		Language:  job.FromLanguageID,
		Immediate: job.Immediate,
		Duration:  job.Duration,
	}
	if job.DueAt != nil {
		payload.DueAt = job.DueAt.Format(time.RFC3339)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}

	for _, t := range audience {
		if t.PushToken == "" {
			continue
		}
		if err := d.push.Send(ctx, t.PushToken, string(body)); err != nil {
			telemetry.NotifyFailures.Inc()
			logrus.WithError(err).WithFields(logrus.Fields{
				"job_id":        job.ID,
				"translator_id": t.ID,
			}).Warn("push delivery failed")
			continue
		}
		telemetry.NotifySent.Inc()
	}
	return nil
}

// SMSToTranslators texts every eligible translator about the job. Transport
// faults are captured into the result, never raised: the caller always gets
// a success-shaped response.
func (d *Dispatcher) SMSToTranslators(ctx context.Context, job models.Job) SMSResult {
	if d.sms == nil {
		return SMSResult{Success: "SMS disabled"}
	}
	audience, err := d.store.EligibleTranslators(ctx, job)
	if err != nil {
		return SMSResult{Success: err.Error()}
	}

	message := smsMessage(job)
	for _, t := range audience {
		if t.PhoneNumber == "" {
			continue
		}
		if err := d.sms.Send(ctx, t.PhoneNumber, message); err != nil {
			telemetry.NotifyFailures.Inc()
			derr := &models.DeliveryError{Transport: "sms", Message: err.Error()}
			logrus.WithError(derr).WithField("job_id", job.ID).Warn("sms delivery failed")
			return SMSResult{Success: derr.Error()}
		}
		telemetry.NotifySent.Inc()
	}
	return SMSResult{Success: "SMS sent"}
}

// smsMessage renders the translator-facing text. Bookings that are both
// physical and phone are treated as phone, matching historical behavior.
func smsMessage(job models.Job) string {
	due := "now"
	if job.DueAt != nil {
		due = job.DueAt.Format("2006-01-02 15:04")
	}
	if job.CustomerPhysicalType && !job.CustomerPhoneType {
		return fmt.Sprintf("New on-site booking in %s at %s, %d min. Open the app to accept.", job.City, due, job.Duration)
	}
	return fmt.Sprintf("New phone booking at %s, %d min. Open the app to accept.", due, job.Duration)
}

// BackoffWithJitter computes the retry delay for a failed delivery attempt.
func BackoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	half := wait / 2
	if half <= 0 {
		// Int63n panics on a non-positive bound.
		return wait
	}
	return half + time.Duration(rand.Int63n(int64(half)))
}
