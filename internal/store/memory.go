package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"booking-service/internal/models"
)

// Memory is an in-process Store used for local development
// (STORE_DRIVER=memory) and tests. A single mutex serializes all mutations,
// which gives the same per-booking arbitration guarantees as the Postgres
// backend's conditional updates.
type Memory struct {
	mu          sync.Mutex
	jobs        map[string]models.Job
	distances   map[string]models.Distance
	translators map[string]models.Translator
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		jobs:        map[string]models.Job{},
		distances:   map[string]models.Distance{},
		translators: map[string]models.Translator{},
	}
}

// AddTranslator seeds a translator profile.
func (s *Memory) AddTranslator(t models.Translator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.translators[t.ID] = t
}

func (s *Memory) CreateJob(ctx context.Context, p CreateJobParams) (models.Job, error) {
	if err := ctx.Err(); err != nil {
		return models.Job{}, mapErr(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	job := models.Job{
		ID:                   uuid.New().String(),
		FromLanguageID:       p.FromLanguageID,
		Immediate:            p.Immediate,
		DueAt:                p.DueAt,
		CustomerPhoneType:    p.CustomerPhoneType,
		CustomerPhysicalType: p.CustomerPhysicalType,
		Duration:             p.Duration,
		JobFor:               append([]string(nil), p.JobFor...),
		CustomerID:           p.CustomerID,
		CustomerEmail:        p.CustomerEmail,
		City:                 p.City,
		Status:               models.StatusPending,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	s.jobs[job.ID] = job
	return job, nil
}

func (s *Memory) GetJob(ctx context.Context, id string) (models.Job, error) {
	if err := ctx.Err(); err != nil {
		return models.Job{}, mapErr(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return models.Job{}, models.ErrNotFound
	}
	return job, nil
}

func (s *Memory) UpdateJob(ctx context.Context, id string, p UpdateJobParams) (models.Job, error) {
	if err := ctx.Err(); err != nil {
		return models.Job{}, mapErr(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return models.Job{}, models.ErrNotFound
	}
	if p.FromLanguageID != nil {
		job.FromLanguageID = *p.FromLanguageID
	}
	if p.DueAt != nil {
		job.DueAt = p.DueAt
	}
	if p.Duration != nil {
		job.Duration = *p.Duration
	}
	if p.JobFor != nil {
		job.JobFor = append([]string(nil), p.JobFor...)
	}
	if p.CustomerEmail != nil {
		job.CustomerEmail = *p.CustomerEmail
	}
	if p.City != nil {
		job.City = *p.City
	}
	if p.CustomerPhoneType != nil {
		job.CustomerPhoneType = *p.CustomerPhoneType
	}
	if p.CustomerPhysicalType != nil {
		job.CustomerPhysicalType = *p.CustomerPhysicalType
	}
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return job, nil
}

func (s *Memory) ListJobs(ctx context.Context, f ListFilter) ([]models.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, mapErr(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.Job{}
	for _, job := range s.jobs {
		if f.UserID != "" {
			assigned := job.TranslatorID != nil && *job.TranslatorID == f.UserID
			if job.CustomerID != f.UserID && !assigned {
				continue
			}
		}
		if len(f.Statuses) > 0 && !contains(f.Statuses, job.Status) {
			continue
		}
		if len(f.LanguageIDs) > 0 && !contains(f.LanguageIDs, job.FromLanguageID) {
			continue
		}
		if f.EligibleCity != "" && job.CustomerPhysicalType && job.City != f.EligibleCity {
			continue
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Memory) AcceptJob(ctx context.Context, id, translatorID string) (models.Job, error) {
	if err := ctx.Err(); err != nil {
		return models.Job{}, mapErr(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return models.Job{}, models.ErrNotFound
	}
	if job.Status != models.StatusPending || job.TranslatorID != nil {
		return models.Job{}, models.ErrConflict
	}
	job.TranslatorID = &translatorID
	job.Status = models.StatusAssigned
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return job, nil
}

func (s *Memory) CancelJob(ctx context.Context, id string) (models.Job, error) {
	return s.transition(ctx, id, "cancel",
		[]string{models.StatusPending, models.StatusAssigned},
		func(job *models.Job) {
			now := time.Now().UTC()
			job.Status = models.StatusCancelled
			job.CancelledAt = &now
		})
}

func (s *Memory) CompleteJob(ctx context.Context, id string, sessionTime *string) (models.Job, error) {
	return s.transition(ctx, id, "end",
		[]string{models.StatusAssigned, models.StatusStarted},
		func(job *models.Job) {
			now := time.Now().UTC()
			job.Status = models.StatusCompleted
			job.CompletedAt = &now
			if sessionTime != nil {
				job.SessionTime = sessionTime
			}
		})
}

func (s *Memory) MarkCustomerNoShow(ctx context.Context, id string) (models.Job, error) {
	return s.transition(ctx, id, "mark customer no-show",
		[]string{models.StatusAssigned},
		func(job *models.Job) {
			job.Status = models.StatusCustomerNoShow
		})
}

func (s *Memory) ReopenJob(ctx context.Context, id string) (models.Job, error) {
	return s.transition(ctx, id, "reopen",
		models.ClosedStatuses,
		func(job *models.Job) {
			job.Status = models.StatusPending
			job.TranslatorID = nil
			job.CompletedAt = nil
			job.CancelledAt = nil
		})
}

func (s *Memory) transition(ctx context.Context, id, op string, from []string, apply func(*models.Job)) (models.Job, error) {
	if err := ctx.Err(); err != nil {
		return models.Job{}, mapErr(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return models.Job{}, models.ErrNotFound
	}
	if !contains(from, job.Status) {
		return models.Job{}, &models.InvalidStateError{Op: op, Status: job.Status}
	}
	apply(&job)
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return job, nil
}

func (s *Memory) RecordFeedback(ctx context.Context, p FeedbackParams) error {
	if err := ctx.Err(); err != nil {
		return mapErr(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[p.JobID]
	if !ok {
		return models.ErrNotFound
	}

	// Both parts mutate under one lock hold, so readers never see a
	// half-applied update.
	if p.HasDistance() {
		d := s.distances[p.JobID]
		d.JobID = p.JobID
		d.Distance = p.Distance
		d.Time = p.Time
		s.distances[p.JobID] = d
	}
	if p.HasJobMeta() {
		if p.AdminComment != nil {
			job.AdminComments = p.AdminComment
		}
		if p.SessionTime != nil {
			job.SessionTime = p.SessionTime
		}
		if p.Flagged != nil {
			job.Flagged = *p.Flagged
		}
		if p.ManuallyHandled != nil {
			job.ManuallyHandled = *p.ManuallyHandled
		}
		if p.ByAdmin != nil {
			job.ByAdmin = *p.ByAdmin
		}
		job.UpdatedAt = time.Now().UTC()
		s.jobs[p.JobID] = job
	}
	return nil
}

func (s *Memory) GetDistance(ctx context.Context, jobID string) (models.Distance, error) {
	if err := ctx.Err(); err != nil {
		return models.Distance{}, mapErr(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.distances[jobID]
	if !ok {
		return models.Distance{}, models.ErrNotFound
	}
	return d, nil
}

func (s *Memory) GetTranslator(ctx context.Context, id string) (models.Translator, error) {
	if err := ctx.Err(); err != nil {
		return models.Translator{}, mapErr(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.translators[id]
	if !ok {
		return models.Translator{}, models.ErrNotFound
	}
	return t, nil
}

func (s *Memory) EligibleTranslators(ctx context.Context, job models.Job) ([]models.Translator, error) {
	if err := ctx.Err(); err != nil {
		return nil, mapErr(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.Translator{}
	for _, t := range s.translators {
		if t.NotificationsOff {
			continue
		}
		if !contains(t.Languages, job.FromLanguageID) {
			continue
		}
		if job.CustomerPhysicalType && t.City != job.City {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
