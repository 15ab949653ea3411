package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"booking-service/internal/auth"
	"booking-service/internal/models"
	"booking-service/internal/store"
	"booking-service/internal/telemetry"
)

// Notification event names emitted by the engine.
const (
	EventCreated   = "created"
	EventAccepted  = "accepted"
	EventCancelled = "cancelled"
	EventReopened  = "reopened"
)

// Outbox receives notification events for asynchronous delivery. Enqueueing
// is best-effort: failures are logged and counted, never returned to the
// caller of a lifecycle operation.
type Outbox interface {
	EnqueueJobEvent(ctx context.Context, jobID, event string) error
}

// Engine governs booking lifecycle transitions. All mutation goes through
// the store, which arbitrates races; the engine owns validation,
// authorization, and notification fan-out.
type Engine struct {
	store  store.Store
	auth   *auth.Authorizer
	outbox Outbox
}

// New builds an engine. outbox may be nil to disable notifications.
func New(st store.Store, az *auth.Authorizer, outbox Outbox) *Engine {
	return &Engine{store: st, auth: az, outbox: outbox}
}

// CreateParams carries the booking-creation input. Dates arrive as the
// wire-format strings the clients send and are validated here.
type CreateParams struct {
	FromLanguageID       string
	Immediate            bool
	DueDate              string // 2006-01-02, required when not immediate
	DueTime              string // 15:04, required when not immediate
	CustomerPhoneType    *bool  // required when not immediate
	CustomerPhysicalType *bool  // required when not immediate
	Duration             int
	JobFor               []string
	CustomerEmail        string
	City                 string
}

// Create validates and persists a new booking for a customer, then enqueues
// a translator notification.
func (e *Engine) Create(ctx context.Context, actor models.Actor, p CreateParams) (models.Job, error) {
	if err := e.auth.Authorize(actor, auth.OpCreate); err != nil {
		return models.Job{}, err
	}

	var fields []string
	if p.FromLanguageID == "" {
		fields = append(fields, "from_language_id")
	}
	var dueAt *time.Time
	if !p.Immediate {
		date, dateErr := time.Parse("2006-01-02", p.DueDate)
		if dateErr != nil {
			fields = append(fields, "due_date")
		}
		clock, timeErr := time.Parse("15:04", p.DueTime)
		if timeErr != nil {
			fields = append(fields, "due_time")
		}
		if dateErr == nil && timeErr == nil {
			due := time.Date(date.Year(), date.Month(), date.Day(), clock.Hour(), clock.Minute(), 0, 0, time.UTC)
			dueAt = &due
		}
		if p.CustomerPhoneType == nil {
			fields = append(fields, "customer_phone_type")
		}
		if p.CustomerPhysicalType == nil {
			fields = append(fields, "customer_physical_type")
		}
	}
	if p.Duration <= 0 {
		fields = append(fields, "duration")
	}
	if len(p.JobFor) == 0 {
		fields = append(fields, "job_for")
	} else {
		for _, tag := range p.JobFor {
			if tag == "" {
				fields = append(fields, "job_for")
				break
			}
		}
	}
	if len(fields) > 0 {
		return models.Job{}, models.NewValidationError(fields...)
	}

	job, err := e.store.CreateJob(ctx, store.CreateJobParams{
		FromLanguageID:       p.FromLanguageID,
		Immediate:            p.Immediate,
		DueAt:                dueAt,
		CustomerPhoneType:    boolOr(p.CustomerPhoneType, p.Immediate),
		CustomerPhysicalType: boolOr(p.CustomerPhysicalType, false),
		Duration:             p.Duration,
		JobFor:               p.JobFor,
		CustomerID:           actor.ID,
		CustomerEmail:        p.CustomerEmail,
		City:                 p.City,
	})
	if err != nil {
		return models.Job{}, fmt.Errorf("create booking: %w", err)
	}

	telemetry.BookingsCreated.Inc()
	e.emit(ctx, job.ID, EventCreated)
	return job, nil
}

// UpdateParams is the wire-shaped partial update. Nil fields are left
// untouched. Transport-only request fields never reach this layer; the
// typed struct admits only persistable fields.
type UpdateParams struct {
	FromLanguageID       *string
	DueDate              *string // 2006-01-02
	DueTime              *string // 15:04
	Duration             *int
	JobFor               []string
	CustomerEmail        *string
	City                 *string
	CustomerPhoneType    *bool
	CustomerPhysicalType *bool
}

// Update applies a partial update to a booking.
func (e *Engine) Update(ctx context.Context, actor models.Actor, jobID string, p UpdateParams) (models.Job, error) {
	if err := e.auth.Authorize(actor, auth.OpUpdate); err != nil {
		return models.Job{}, err
	}

	var fields []string
	patch := store.UpdateJobParams{
		FromLanguageID:       p.FromLanguageID,
		Duration:             p.Duration,
		JobFor:               p.JobFor,
		CustomerEmail:        p.CustomerEmail,
		City:                 p.City,
		CustomerPhoneType:    p.CustomerPhoneType,
		CustomerPhysicalType: p.CustomerPhysicalType,
	}
	if p.DueDate != nil || p.DueTime != nil {
		// Rescheduling needs both halves of the due timestamp.
		if p.DueDate == nil {
			fields = append(fields, "due_date")
		}
		if p.DueTime == nil {
			fields = append(fields, "due_time")
		}
		if p.DueDate != nil && p.DueTime != nil {
			due, err := parseDue(*p.DueDate, *p.DueTime)
			if err != nil {
				fields = append(fields, "due_date", "due_time")
			} else {
				patch.DueAt = &due
			}
		}
	}
	if p.Duration != nil && *p.Duration <= 0 {
		fields = append(fields, "duration")
	}
	if p.JobFor != nil && len(p.JobFor) == 0 {
		// A patch may omit job_for, but never empty it.
		fields = append(fields, "job_for")
	}
	for _, tag := range p.JobFor {
		if tag == "" {
			fields = append(fields, "job_for")
			break
		}
	}
	if len(fields) > 0 {
		return models.Job{}, models.NewValidationError(fields...)
	}
	return e.store.UpdateJob(ctx, jobID, patch)
}

// Accept transitions a pending booking to assigned for the acting
// translator. At most one concurrent accept wins; the rest get ErrConflict.
// Both accept-by-id and accept-by-payload API shapes land here.
func (e *Engine) Accept(ctx context.Context, actor models.Actor, jobID string) (models.Job, error) {
	if err := e.auth.Authorize(actor, auth.OpAccept); err != nil {
		return models.Job{}, err
	}
	job, err := e.store.AcceptJob(ctx, jobID, actor.ID)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			telemetry.AcceptConflicts.Inc()
		}
		return models.Job{}, err
	}
	telemetry.BookingsAccepted.Inc()
	e.emit(ctx, job.ID, EventAccepted)
	return job, nil
}

// Cancel transitions a pending or assigned booking to cancelled.
func (e *Engine) Cancel(ctx context.Context, actor models.Actor, jobID string) (models.Job, error) {
	if err := e.auth.Authorize(actor, auth.OpCancel); err != nil {
		return models.Job{}, err
	}
	job, err := e.store.CancelJob(ctx, jobID)
	if err != nil {
		return models.Job{}, err
	}
	telemetry.BookingsCancelled.Inc()
	if job.TranslatorID != nil {
		e.emit(ctx, job.ID, EventCancelled)
	}
	return job, nil
}

// End completes an assigned or started booking, recording the session time
// when supplied.
func (e *Engine) End(ctx context.Context, actor models.Actor, jobID string, sessionTime *string) (models.Job, error) {
	if err := e.auth.Authorize(actor, auth.OpEnd); err != nil {
		return models.Job{}, err
	}
	job, err := e.store.CompleteJob(ctx, jobID, sessionTime)
	if err != nil {
		return models.Job{}, err
	}
	telemetry.BookingsCompleted.Inc()
	return job, nil
}

// CustomerNotCall marks an assigned booking as a customer no-show, a
// terminal state kept distinct from cancelled for reporting.
func (e *Engine) CustomerNotCall(ctx context.Context, actor models.Actor, jobID string) (models.Job, error) {
	if err := e.auth.Authorize(actor, auth.OpCustomerNoShow); err != nil {
		return models.Job{}, err
	}
	return e.store.MarkCustomerNoShow(ctx, jobID)
}

// Reopen puts a closed booking back into pending and re-notifies
// translators.
func (e *Engine) Reopen(ctx context.Context, actor models.Actor, jobID string) (models.Job, error) {
	if err := e.auth.Authorize(actor, auth.OpReopen); err != nil {
		return models.Job{}, err
	}
	job, err := e.store.ReopenJob(ctx, jobID)
	if err != nil {
		return models.Job{}, err
	}
	e.emit(ctx, job.ID, EventReopened)
	return job, nil
}

// Get fetches one booking.
func (e *Engine) Get(ctx context.Context, jobID string) (models.Job, error) {
	return e.store.GetJob(ctx, jobID)
}

// List implements the fail-open-to-empty listing: a user-scoped query is
// served for anyone, the unscoped list only for admin-grade roles, and
// every other combination yields an empty slice, not an error.
func (e *Engine) List(ctx context.Context, actor models.Actor, userID string) ([]models.Job, error) {
	if userID != "" {
		return e.store.ListJobs(ctx, store.ListFilter{UserID: userID})
	}
	if e.auth.CanListAll(actor) {
		return e.store.ListJobs(ctx, store.ListFilter{})
	}
	return []models.Job{}, nil
}

// PotentialJobs returns pending bookings the acting translator is eligible
// for: language match, and a city match for physical bookings. Recomputed
// on every call.
func (e *Engine) PotentialJobs(ctx context.Context, actor models.Actor) ([]models.Job, error) {
	translator, err := e.store.GetTranslator(ctx, actor.ID)
	if errors.Is(err, models.ErrNotFound) {
		return []models.Job{}, nil
	}
	if err != nil {
		return nil, err
	}
	return e.store.ListJobs(ctx, store.ListFilter{
		Statuses:     []string{models.StatusPending},
		LanguageIDs:  translator.Languages,
		EligibleCity: translator.City,
	})
}

// History returns a user's closed bookings. With no user id it returns
// nothing, mirroring the short-circuit the callers rely on.
func (e *Engine) History(ctx context.Context, userID string) ([]models.Job, error) {
	if userID == "" {
		return []models.Job{}, nil
	}
	return e.store.ListJobs(ctx, store.ListFilter{
		UserID:   userID,
		Statuses: models.ClosedStatuses,
	})
}

func (e *Engine) emit(ctx context.Context, jobID, event string) {
	if e.outbox == nil {
		return
	}
	if err := e.outbox.EnqueueJobEvent(ctx, jobID, event); err != nil {
		telemetry.NotifyEnqueueErrs.Inc()
		logrus.WithError(err).WithFields(logrus.Fields{"job_id": jobID, "event": event}).
			Warn("could not enqueue notification event")
		return
	}
	telemetry.NotifyEnqueued.Inc()
}

func parseDue(date, clock string) (time.Time, error) {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		return time.Time{}, err
	}
	c, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(d.Year(), d.Month(), d.Day(), c.Hour(), c.Minute(), 0, 0, time.UTC), nil
}

func boolOr(b *bool, def bool) bool {
	if b != nil {
		return *b
	}
	return def
}
