package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"booking-service/internal/auth"
	"booking-service/internal/config"
	"booking-service/internal/feedback"
	"booking-service/internal/lifecycle"
	"booking-service/internal/models"
	"booking-service/internal/notify"
	"booking-service/internal/ratelimit"
	"booking-service/internal/telemetry"
)

// Server wires HTTP handlers for the booking API.
type Server struct {
	cfg        config.Config
	auth       *auth.Authorizer
	engine     *lifecycle.Engine
	recorder   *feedback.Recorder
	dispatcher *notify.Dispatcher
	outbox     lifecycle.Outbox
	limiter    *ratelimit.CustomerLimiter
}

// New constructs the API server. limiter and outbox may be nil.
func New(cfg config.Config, az *auth.Authorizer, engine *lifecycle.Engine, rec *feedback.Recorder,
	disp *notify.Dispatcher, outbox lifecycle.Outbox, limiter *ratelimit.CustomerLimiter) *Server {
	return &Server{
		cfg:        cfg,
		auth:       az,
		engine:     engine,
		recorder:   rec,
		dispatcher: disp,
		outbox:     outbox,
		limiter:    limiter,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Get("/bookings", s.handleList)
	r.Post("/bookings", s.handleCreate)
	r.Get("/bookings/history", s.handleHistory)
	r.Get("/bookings/potential", s.handlePotential)
	r.Post("/bookings/accept", s.handleAcceptPayload)
	r.Post("/bookings/cancel", s.handleCancel)
	r.Post("/bookings/end", s.handleEnd)
	r.Post("/bookings/customer-not-call", s.handleCustomerNotCall)
	r.Post("/bookings/reopen", s.handleReopen)
	r.Post("/bookings/feedback", s.handleFeedback)
	r.Get("/bookings/{id}", s.handleGet)
	r.Put("/bookings/{id}", s.handleUpdate)
	r.Post("/bookings/{id}/accept", s.handleAcceptByID)
	r.Post("/notifications/resend", s.handleResendPush)
	r.Post("/notifications/resend-sms", s.handleResendSMS)
	return r
}

// actor resolves the acting identity from the request headers. The identity
// provider terminates authentication upstream; these headers are its output.
func (s *Server) actor(r *http.Request) models.Actor {
	return models.Actor{
		ID:   r.Header.Get("X-Actor-ID"),
		Role: s.auth.ResolveRole(r.Header.Get("X-Actor-Role")),
	}
}

// opCtx bounds a store operation with the configured deadline.
func (s *Server) opCtx(r *http.Request) (context.Context, context.CancelFunc) {
	if s.cfg.StoreTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), s.cfg.StoreTimeout)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.opCtx(r)
	defer cancel()
	// Deliberately fails open to an empty list on missing/insufficient
	// authorization; only infrastructure faults surface as errors.
	jobs, err := s.engine.List(ctx, s.actor(r), r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.opCtx(r)
	defer cancel()
	job, err := s.engine.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type createRequest struct {
	FromLanguageID       string   `json:"from_language_id"`
	Immediate            *bool    `json:"immediate"`
	DueDate              string   `json:"due_date"`
	DueTime              string   `json:"due_time"`
	CustomerPhoneType    *bool    `json:"customer_phone_type"`
	CustomerPhysicalType *bool    `json:"customer_physical_type"`
	Duration             int      `json:"duration"`
	JobFor               []string `json:"job_for"`
	CustomerEmail        string   `json:"customer_email"`
	City                 string   `json:"city"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.NewValidationError("body"))
		return
	}
	if req.Immediate == nil {
		writeError(w, models.NewValidationError("immediate"))
		return
	}
	actor := s.actor(r)

	if s.limiter != nil && actor.ID != "" {
		allowed, _, err := s.limiter.Allow(r.Context(), actor.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
			return
		}
	}

	ctx, cancel := s.opCtx(r)
	defer cancel()
	job, err := s.engine.Create(ctx, actor, lifecycle.CreateParams{
		FromLanguageID:       req.FromLanguageID,
		Immediate:            *req.Immediate,
		DueDate:              req.DueDate,
		DueTime:              req.DueTime,
		CustomerPhoneType:    req.CustomerPhoneType,
		CustomerPhysicalType: req.CustomerPhysicalType,
		Duration:             req.Duration,
		JobFor:               req.JobFor,
		CustomerEmail:        req.CustomerEmail,
		City:                 req.City,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

// updateRequest admits only persistable fields; transport-only artifacts in
// the body (tokens, submit markers) are dropped by the decoder.
type updateRequest struct {
	FromLanguageID       *string  `json:"from_language_id"`
	DueDate              *string  `json:"due_date"`
	DueTime              *string  `json:"due_time"`
	Duration             *int     `json:"duration"`
	JobFor               []string `json:"job_for"`
	CustomerEmail        *string  `json:"customer_email"`
	City                 *string  `json:"city"`
	CustomerPhoneType    *bool    `json:"customer_phone_type"`
	CustomerPhysicalType *bool    `json:"customer_physical_type"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.NewValidationError("body"))
		return
	}

	patch := lifecycle.UpdateParams{
		FromLanguageID:       req.FromLanguageID,
		DueDate:              req.DueDate,
		DueTime:              req.DueTime,
		Duration:             req.Duration,
		JobFor:               req.JobFor,
		CustomerEmail:        req.CustomerEmail,
		City:                 req.City,
		CustomerPhoneType:    req.CustomerPhoneType,
		CustomerPhysicalType: req.CustomerPhysicalType,
	}

	ctx, cancel := s.opCtx(r)
	defer cancel()
	job, err := s.engine.Update(ctx, s.actor(r), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type jobRef struct {
	JobID       string  `json:"job_id"`
	SessionTime *string `json:"session_time"`
}

func (s *Server) decodeJobRef(w http.ResponseWriter, r *http.Request) (jobRef, bool) {
	var ref jobRef
	if err := json.NewDecoder(r.Body).Decode(&ref); err != nil || ref.JobID == "" {
		writeError(w, models.NewValidationError("job_id"))
		return jobRef{}, false
	}
	return ref, true
}

func (s *Server) handleAcceptPayload(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.decodeJobRef(w, r)
	if !ok {
		return
	}
	s.accept(w, r, ref.JobID)
}

func (s *Server) handleAcceptByID(w http.ResponseWriter, r *http.Request) {
	s.accept(w, r, chi.URLParam(r, "id"))
}

func (s *Server) accept(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx, cancel := s.opCtx(r)
	defer cancel()
	job, err := s.engine.Accept(ctx, s.actor(r), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.decodeJobRef(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.opCtx(r)
	defer cancel()
	job, err := s.engine.Cancel(ctx, s.actor(r), ref.JobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.decodeJobRef(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.opCtx(r)
	defer cancel()
	job, err := s.engine.End(ctx, s.actor(r), ref.JobID, ref.SessionTime)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCustomerNotCall(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.decodeJobRef(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.opCtx(r)
	defer cancel()
	job, err := s.engine.CustomerNotCall(ctx, s.actor(r), ref.JobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleReopen(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.decodeJobRef(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.opCtx(r)
	defer cancel()
	job, err := s.engine.Reopen(ctx, s.actor(r), ref.JobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handlePotential(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.opCtx(r)
	defer cancel()
	jobs, err := s.engine.PotentialJobs(ctx, s.actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.opCtx(r)
	defer cancel()
	jobs, err := s.engine.History(ctx, r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

type feedbackRequest struct {
	JobID           string  `json:"jobid"`
	Distance        *string `json:"distance"`
	Time            *string `json:"time"`
	SessionTime     *string `json:"session_time"`
	Flagged         *bool   `json:"flagged"`
	ManuallyHandled *bool   `json:"manually_handled"`
	ByAdmin         *bool   `json:"by_admin"`
	AdminComment    *string `json:"admincomment"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.NewValidationError("body"))
		return
	}
	ctx, cancel := s.opCtx(r)
	defer cancel()
	err := s.recorder.Record(ctx, s.actor(r), feedback.Params{
		JobID:           req.JobID,
		Distance:        req.Distance,
		Time:            req.Time,
		SessionTime:     req.SessionTime,
		AdminComment:    req.AdminComment,
		Flagged:         req.Flagged,
		ManuallyHandled: req.ManuallyHandled,
		ByAdmin:         req.ByAdmin,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"success": "Record updated"})
}

type resendRequest struct {
	JobID string `json:"jobid"`
}

func (s *Server) handleResendPush(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Authorize(s.actor(r), auth.OpResendNotify); err != nil {
		writeError(w, err)
		return
	}
	var req resendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.JobID == "" {
		writeError(w, models.NewValidationError("jobid"))
		return
	}
	ctx, cancel := s.opCtx(r)
	defer cancel()
	job, err := s.engine.Get(ctx, req.JobID)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.outbox != nil {
		if err := s.outbox.EnqueueJobEvent(ctx, job.ID, "resend"); err != nil {
			telemetry.NotifyEnqueueErrs.Inc()
			writeError(w, err)
			return
		}
		telemetry.NotifyEnqueued.Inc()
	}
	writeJSON(w, http.StatusOK, map[string]string{"success": "Push sent"})
}

func (s *Server) handleResendSMS(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Authorize(s.actor(r), auth.OpResendNotify); err != nil {
		writeError(w, err)
		return
	}
	var req resendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.JobID == "" {
		writeError(w, models.NewValidationError("jobid"))
		return
	}
	ctx, cancel := s.opCtx(r)
	defer cancel()
	job, err := s.engine.Get(ctx, req.JobID)
	if err != nil {
		writeError(w, err)
		return
	}
	// The SMS result is always success-shaped; transport faults ride inside
	// the message instead of failing the request.
	writeJSON(w, http.StatusOK, s.dispatcher.SMSToTranslators(ctx, job))
}

type errorResponse struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Fields  []string `json:"fields,omitempty"`
}

// writeError maps the domain taxonomy onto HTTP statuses. Faults outside
// the taxonomy are infrastructure errors and come back as plain 500s.
func writeError(w http.ResponseWriter, err error) {
	var ve *models.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "validation", Message: ve.Error(), Fields: ve.Fields})
		return
	}
	var ae *models.AuthorizationError
	if errors.As(err, &ae) {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "authorization", Message: ae.Reason})
		return
	}
	var se *models.InvalidStateError
	if errors.As(err, &se) {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "invalid_state", Message: se.Error()})
		return
	}
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not_found", Message: models.ErrNotFound.Error()})
	case errors.Is(err, models.ErrConflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "conflict", Message: models.ErrConflict.Error()})
	case errors.Is(err, models.ErrTimeout):
		writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: "timeout", Message: models.ErrTimeout.Error()})
	default:
		// Error-log infrastructure faults only, not stray domain errors.
		if !models.IsDomainError(err) {
			logrus.WithError(err).Error("request failed")
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal", Message: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
