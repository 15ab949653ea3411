package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"booking-service/internal/models"
)

const jobColumns = `id, from_language_id, immediate, due_at, customer_phone_type, customer_physical_type,
	duration, job_for, customer_id, customer_email, city, translator_id, status, admin_comments,
	flagged, manually_handled, by_admin, session_time, created_at, updated_at, completed_at, cancelled_at`

// Postgres persists bookings via pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateJob inserts a booking row in status pending.
func (s *Postgres) CreateJob(ctx context.Context, p CreateJobParams) (models.Job, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (id, from_language_id, immediate, due_at, customer_phone_type, customer_physical_type,
			duration, job_for, customer_id, customer_email, city, status,
			flagged, manually_handled, by_admin, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 'no', 'no', 'no', $13, $13)
	`, id, p.FromLanguageID, p.Immediate, p.DueAt, p.CustomerPhoneType, p.CustomerPhysicalType,
		p.Duration, p.JobFor, p.CustomerID, p.CustomerEmail, p.City, models.StatusPending, now)
	if err != nil {
		return models.Job{}, mapErr(fmt.Errorf("insert job: %w", err))
	}
	return s.GetJob(ctx, id)
}

// GetJob fetches a booking by id.
func (s *Postgres) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

// UpdateJob applies a partial update and returns the fresh row.
func (s *Postgres) UpdateJob(ctx context.Context, id string, p UpdateJobParams) (models.Job, error) {
	sets := []string{"updated_at = NOW()"}
	args := []any{id}
	add := func(col string, val any) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if p.FromLanguageID != nil {
		add("from_language_id", *p.FromLanguageID)
	}
	if p.DueAt != nil {
		add("due_at", *p.DueAt)
	}
	if p.Duration != nil {
		add("duration", *p.Duration)
	}
	if p.JobFor != nil {
		add("job_for", p.JobFor)
	}
	if p.CustomerEmail != nil {
		add("customer_email", *p.CustomerEmail)
	}
	if p.City != nil {
		add("city", *p.City)
	}
	if p.CustomerPhoneType != nil {
		add("customer_phone_type", *p.CustomerPhoneType)
	}
	if p.CustomerPhysicalType != nil {
		add("customer_physical_type", *p.CustomerPhysicalType)
	}

	query := fmt.Sprintf("UPDATE jobs SET %s WHERE id = $1 RETURNING %s", strings.Join(sets, ", "), jobColumns)
	return scanJob(s.pool.QueryRow(ctx, query, args...))
}

// ListJobs returns bookings matching the filter, newest first.
func (s *Postgres) ListJobs(ctx context.Context, f ListFilter) ([]models.Job, error) {
	where := []string{"TRUE"}
	args := []any{}
	if f.UserID != "" {
		args = append(args, f.UserID)
		where = append(where, fmt.Sprintf("(customer_id = $%d OR translator_id = $%d)", len(args), len(args)))
	}
	if len(f.Statuses) > 0 {
		args = append(args, f.Statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if len(f.LanguageIDs) > 0 {
		args = append(args, f.LanguageIDs)
		where = append(where, fmt.Sprintf("from_language_id = ANY($%d)", len(args)))
	}
	if f.EligibleCity != "" {
		args = append(args, f.EligibleCity)
		where = append(where, fmt.Sprintf("(NOT customer_physical_type OR city = $%d)", len(args)))
	}

	query := fmt.Sprintf("SELECT %s FROM jobs WHERE %s ORDER BY created_at DESC", jobColumns, strings.Join(where, " AND "))
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr(fmt.Errorf("list jobs: %w", err))
	}
	defer rows.Close()

	jobs := []models.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// AcceptJob assigns a translator with a conditional update so that two
// concurrent accepts cannot both win.
func (s *Postgres) AcceptJob(ctx context.Context, id, translatorID string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs SET translator_id = $2, status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4 AND translator_id IS NULL
		RETURNING `+jobColumns,
		id, translatorID, models.StatusAssigned, models.StatusPending)
	job, err := scanJob(row)
	if errors.Is(err, models.ErrNotFound) {
		if _, getErr := s.GetJob(ctx, id); getErr != nil {
			return models.Job{}, getErr
		}
		return models.Job{}, models.ErrConflict
	}
	return job, err
}

// CancelJob transitions pending or assigned bookings to cancelled.
func (s *Postgres) CancelJob(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs SET status = $2, cancelled_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
		RETURNING `+jobColumns,
		id, models.StatusCancelled, []string{models.StatusPending, models.StatusAssigned})
	return s.transitionResult(ctx, id, "cancel", row)
}

// CompleteJob transitions assigned or started bookings to completed.
func (s *Postgres) CompleteJob(ctx context.Context, id string, sessionTime *string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs SET status = $2, completed_at = NOW(), updated_at = NOW(),
			session_time = COALESCE($4, session_time)
		WHERE id = $1 AND status = ANY($3)
		RETURNING `+jobColumns,
		id, models.StatusCompleted, []string{models.StatusAssigned, models.StatusStarted}, sessionTime)
	return s.transitionResult(ctx, id, "end", row)
}

// MarkCustomerNoShow transitions an assigned booking to customer_no_show.
func (s *Postgres) MarkCustomerNoShow(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
		RETURNING `+jobColumns,
		id, models.StatusCustomerNoShow, models.StatusAssigned)
	return s.transitionResult(ctx, id, "mark customer no-show", row)
}

// ReopenJob puts a closed booking back into pending, unassigned.
func (s *Postgres) ReopenJob(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs SET status = $2, translator_id = NULL, completed_at = NULL, cancelled_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
		RETURNING `+jobColumns,
		id, models.StatusPending, models.ClosedStatuses)
	return s.transitionResult(ctx, id, "reopen", row)
}

// transitionResult maps a zero-row conditional update to NotFound or
// InvalidState depending on whether the booking exists.
func (s *Postgres) transitionResult(ctx context.Context, id, op string, row pgx.Row) (models.Job, error) {
	job, err := scanJob(row)
	if errors.Is(err, models.ErrNotFound) {
		current, getErr := s.GetJob(ctx, id)
		if getErr != nil {
			return models.Job{}, getErr
		}
		return models.Job{}, &models.InvalidStateError{Op: op, Status: current.Status}
	}
	return job, err
}

// RecordFeedback applies the distance and job-metadata updates in one
// transaction. The row lock serializes feedback against lifecycle
// transitions on the same booking.
func (s *Postgres) RecordFeedback(ctx context.Context, p FeedbackParams) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return mapErr(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	var locked string
	if err := tx.QueryRow(ctx, `SELECT id FROM jobs WHERE id = $1 FOR UPDATE`, p.JobID).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ErrNotFound
		}
		return mapErr(fmt.Errorf("lock job: %w", err))
	}

	if p.HasDistance() {
		_, err = tx.Exec(ctx, `
			INSERT INTO distances (job_id, distance, time, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (job_id) DO UPDATE SET distance = $2, time = $3, updated_at = NOW()
		`, p.JobID, p.Distance, p.Time)
		if err != nil {
			return mapErr(fmt.Errorf("upsert distance: %w", err))
		}
	}

	if p.HasJobMeta() {
		_, err = tx.Exec(ctx, `
			UPDATE jobs SET
				admin_comments = COALESCE($2, admin_comments),
				session_time = COALESCE($3, session_time),
				flagged = COALESCE($4, flagged),
				manually_handled = COALESCE($5, manually_handled),
				by_admin = COALESCE($6, by_admin),
				updated_at = NOW()
			WHERE id = $1
		`, p.JobID, p.AdminComment, p.SessionTime, yesNoPtr(p.Flagged), yesNoPtr(p.ManuallyHandled), yesNoPtr(p.ByAdmin))
		if err != nil {
			return mapErr(fmt.Errorf("update job metadata: %w", err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return mapErr(fmt.Errorf("commit feedback: %w", err))
	}
	return nil
}

// GetDistance returns the telemetry record for a booking.
func (s *Postgres) GetDistance(ctx context.Context, jobID string) (models.Distance, error) {
	var d models.Distance
	var dist, t pgtype.Text
	err := s.pool.QueryRow(ctx, `SELECT job_id, distance, time FROM distances WHERE job_id = $1`, jobID).
		Scan(&d.JobID, &dist, &t)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Distance{}, models.ErrNotFound
	}
	if err != nil {
		return models.Distance{}, mapErr(fmt.Errorf("query distance: %w", err))
	}
	d.Distance = textPtr(dist)
	d.Time = textPtr(t)
	return d, nil
}

// GetTranslator fetches a translator profile.
func (s *Postgres) GetTranslator(ctx context.Context, id string) (models.Translator, error) {
	var t models.Translator
	err := s.pool.QueryRow(ctx, `
		SELECT id, languages, city, phone_number, push_token, notifications_off
		FROM translators WHERE id = $1
	`, id).Scan(&t.ID, &t.Languages, &t.City, &t.PhoneNumber, &t.PushToken, &t.NotificationsOff)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Translator{}, models.ErrNotFound
	}
	if err != nil {
		return models.Translator{}, mapErr(fmt.Errorf("query translator: %w", err))
	}
	return t, nil
}

// EligibleTranslators returns notification targets for a job: language match,
// notifications on, and a city match when the booking is physical.
func (s *Postgres) EligibleTranslators(ctx context.Context, job models.Job) ([]models.Translator, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, languages, city, phone_number, push_token, notifications_off
		FROM translators
		WHERE $1 = ANY(languages) AND NOT notifications_off AND (NOT $2::bool OR city = $3)
	`, job.FromLanguageID, job.CustomerPhysicalType, job.City)
	if err != nil {
		return nil, mapErr(fmt.Errorf("query eligible translators: %w", err))
	}
	defer rows.Close()

	out := []models.Translator{}
	for rows.Next() {
		var t models.Translator
		if err := rows.Scan(&t.ID, &t.Languages, &t.City, &t.PhoneNumber, &t.PushToken, &t.NotificationsOff); err != nil {
			return nil, mapErr(fmt.Errorf("scan translator: %w", err))
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (models.Job, error) {
	var job models.Job
	var dueAt, completedAt, cancelledAt pgtype.Timestamptz
	var email, city, translator, comments, session pgtype.Text
	var flagged, manual, byAdmin string

	err := row.Scan(&job.ID, &job.FromLanguageID, &job.Immediate, &dueAt, &job.CustomerPhoneType,
		&job.CustomerPhysicalType, &job.Duration, &job.JobFor, &job.CustomerID, &email, &city,
		&translator, &job.Status, &comments, &flagged, &manual, &byAdmin, &session,
		&job.CreatedAt, &job.UpdatedAt, &completedAt, &cancelledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, models.ErrNotFound
	}
	if err != nil {
		return models.Job{}, mapErr(fmt.Errorf("scan job: %w", err))
	}

	job.DueAt = tsPtr(dueAt)
	job.CompletedAt = tsPtr(completedAt)
	job.CancelledAt = tsPtr(cancelledAt)
	if email.Valid {
		job.CustomerEmail = email.String
	}
	if city.Valid {
		job.City = city.String
	}
	job.TranslatorID = textPtr(translator)
	job.AdminComments = textPtr(comments)
	job.SessionTime = textPtr(session)
	// Flag columns carry legacy yes/no strings; the model uses booleans.
	job.Flagged = flagged == "yes"
	job.ManuallyHandled = manual == "yes"
	job.ByAdmin = byAdmin == "yes"
	return job, nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func tsPtr(t pgtype.Timestamptz) *time.Time {
	if t.Valid {
		v := t.Time
		return &v
	}
	return nil
}

// yesNoPtr encodes an optional boolean as the legacy yes/no string at the
// persistence boundary.
func yesNoPtr(b *bool) *string {
	if b == nil {
		return nil
	}
	v := "no"
	if *b {
		v = "yes"
	}
	return &v
}

func mapErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", models.ErrTimeout, err)
	}
	return err
}
