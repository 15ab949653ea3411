package store

import (
	"context"
	"time"

	"booking-service/internal/models"
)

// CreateJobParams collects inputs required to insert a booking.
type CreateJobParams struct {
	FromLanguageID       string
	Immediate            bool
	DueAt                *time.Time
	CustomerPhoneType    bool
	CustomerPhysicalType bool
	Duration             int
	JobFor               []string
	CustomerID           string
	CustomerEmail        string
	City                 string
}

// UpdateJobParams is a partial update. Nil fields are left untouched.
type UpdateJobParams struct {
	FromLanguageID       *string
	DueAt                *time.Time
	Duration             *int
	JobFor               []string
	CustomerEmail        *string
	City                 *string
	CustomerPhoneType    *bool
	CustomerPhysicalType *bool
}

// FeedbackParams carries a telemetry update. The store applies the distance
// part and the job-metadata part in one transaction; nil means "not supplied".
type FeedbackParams struct {
	JobID           string
	Distance        *string
	Time            *string
	AdminComment    *string
	SessionTime     *string
	Flagged         *bool
	ManuallyHandled *bool
	ByAdmin         *bool
}

// HasDistance reports whether the distance record needs updating.
func (p FeedbackParams) HasDistance() bool {
	return p.Distance != nil || p.Time != nil
}

// HasJobMeta reports whether the job metadata needs updating.
func (p FeedbackParams) HasJobMeta() bool {
	return p.AdminComment != nil || p.SessionTime != nil || p.Flagged != nil ||
		p.ManuallyHandled != nil || p.ByAdmin != nil
}

// ListFilter narrows a booking list query. Zero values mean "no constraint".
type ListFilter struct {
	// UserID matches bookings where the user is the customer or the
	// assigned translator.
	UserID      string
	Statuses    []string
	LanguageIDs []string
	// EligibleCity, when set, restricts physical bookings to that city.
	// Phone-only bookings match regardless of locality.
	EligibleCity string
}

// Store is the persistence boundary for bookings, telemetry, and translator
// profiles. Implementations must serialize mutations per booking id so that
// conditional transitions race deterministically.
type Store interface {
	CreateJob(ctx context.Context, p CreateJobParams) (models.Job, error)
	GetJob(ctx context.Context, id string) (models.Job, error)
	UpdateJob(ctx context.Context, id string, p UpdateJobParams) (models.Job, error)
	ListJobs(ctx context.Context, f ListFilter) ([]models.Job, error)

	// AcceptJob assigns a translator iff the booking is still pending and
	// unassigned. At most one concurrent caller wins; losers get
	// models.ErrConflict.
	AcceptJob(ctx context.Context, id, translatorID string) (models.Job, error)
	CancelJob(ctx context.Context, id string) (models.Job, error)
	CompleteJob(ctx context.Context, id string, sessionTime *string) (models.Job, error)
	MarkCustomerNoShow(ctx context.Context, id string) (models.Job, error)
	ReopenJob(ctx context.Context, id string) (models.Job, error)

	// RecordFeedback applies the distance and job-metadata parts of the
	// update as a single atomic unit.
	RecordFeedback(ctx context.Context, p FeedbackParams) error
	GetDistance(ctx context.Context, jobID string) (models.Distance, error)

	GetTranslator(ctx context.Context, id string) (models.Translator, error)
	// EligibleTranslators returns translators matching the job's language
	// whose profile allows notifications.
	EligibleTranslators(ctx context.Context, job models.Job) ([]models.Translator, error)
}
