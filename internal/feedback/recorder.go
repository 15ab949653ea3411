package feedback

import (
	"context"

	"github.com/sirupsen/logrus"

	"booking-service/internal/auth"
	"booking-service/internal/models"
	"booking-service/internal/store"
)

// Recorder applies distance/time/session telemetry and admin flags to a
// booking. The distance part and the job-metadata part commit as one atomic
// unit in the store.
type Recorder struct {
	store store.Store
	auth  *auth.Authorizer
}

// New builds a recorder.
func New(st store.Store, az *auth.Authorizer) *Recorder {
	return &Recorder{store: st, auth: az}
}

// Params is the telemetry input. Nil fields were not supplied.
type Params struct {
	JobID           string
	Distance        *string
	Time            *string
	SessionTime     *string
	AdminComment    *string
	Flagged         *bool
	ManuallyHandled *bool
	ByAdmin         *bool
}

// Record validates and persists the update. A flagged booking requires an
// admin comment; that guard runs before anything touches the store, so a
// rejected update leaves both the Job and Distance records untouched.
func (r *Recorder) Record(ctx context.Context, actor models.Actor, p Params) error {
	if err := r.auth.Authorize(actor, auth.OpFeedback); err != nil {
		return err
	}
	if p.JobID == "" {
		return models.NewValidationError("jobid")
	}
	if p.Flagged != nil && *p.Flagged && (p.AdminComment == nil || *p.AdminComment == "") {
		return models.NewValidationError("admincomment")
	}

	sp := store.FeedbackParams{
		JobID:           p.JobID,
		Distance:        p.Distance,
		Time:            p.Time,
		SessionTime:     p.SessionTime,
		AdminComment:    p.AdminComment,
		Flagged:         p.Flagged,
		ManuallyHandled: p.ManuallyHandled,
		ByAdmin:         p.ByAdmin,
	}
	if !sp.HasDistance() && !sp.HasJobMeta() {
		// Nothing to apply; acknowledge without a write.
		return nil
	}

	if err := r.store.RecordFeedback(ctx, sp); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"job_id": p.JobID, "actor_id": actor.ID}).Debug("feedback recorded")
	return nil
}
