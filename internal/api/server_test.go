package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booking-service/internal/auth"
	"booking-service/internal/config"
	"booking-service/internal/feedback"
	"booking-service/internal/lifecycle"
	"booking-service/internal/models"
	"booking-service/internal/notify"
	"booking-service/internal/store"
)

type memOutbox struct {
	events []string
}

func (o *memOutbox) EnqueueJobEvent(_ context.Context, jobID, event string) error {
	o.events = append(o.events, event+":"+jobID)
	return nil
}

type failingSMS struct{}

func (failingSMS) Send(context.Context, string, string) error {
	return errors.New("carrier rejected message")
}

type testEnv struct {
	server *httptest.Server
	store  *store.Memory
	outbox *memOutbox
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Config{
		AdminRoleID:      "admin",
		SuperadminRoleID: "superadmin",
		StoreTimeout:     5 * time.Second,
	}
	st := store.NewMemory()
	az := auth.New(cfg)
	outbox := &memOutbox{}
	engine := lifecycle.New(st, az, outbox)
	recorder := feedback.New(st, az)
	dispatcher := notify.New(st, nil, failingSMS{})

	srv := httptest.NewServer(New(cfg, az, engine, recorder, dispatcher, outbox, nil).Router())
	t.Cleanup(srv.Close)
	return &testEnv{server: srv, store: st, outbox: outbox}
}

func (e *testEnv) do(t *testing.T, method, path, actorID, actorRole string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	require.NoError(t, err)
	if actorID != "" {
		req.Header.Set("X-Actor-ID", actorID)
		req.Header.Set("X-Actor-Role", actorRole)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func validBooking() map[string]any {
	return map[string]any{
		"from_language_id":       "sv",
		"immediate":              false,
		"due_date":               "2026-09-10",
		"due_time":               "14:30",
		"customer_phone_type":    true,
		"customer_physical_type": false,
		"duration":               60,
		"job_for":                []string{"male"},
	}
}

func TestCreateBooking(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/bookings", "cust-1", "customer", validBooking())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	job := decode[models.Job](t, resp)
	assert.Equal(t, models.StatusPending, job.Status)
	assert.Equal(t, "cust-1", job.CustomerID)
	assert.Len(t, env.outbox.events, 1)
}

func TestCreateBookingByTranslatorForbidden(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/bookings", "trans-1", "translator", validBooking())
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	body := decode[map[string]any](t, resp)
	assert.Equal(t, "translator cannot create booking", body["message"])
}

func TestCreateBookingValidation(t *testing.T) {
	env := newTestEnv(t)

	payload := validBooking()
	delete(payload, "due_date")
	delete(payload, "due_time")
	resp := env.do(t, http.MethodPost, "/bookings", "cust-1", "customer", payload)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	body := decode[map[string]any](t, resp)
	assert.Equal(t, "validation", body["error"])
}

func TestListFailsOpenToEmpty(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/bookings", "cust-1", "customer", validBooking())

	resp := env.do(t, http.MethodGet, "/bookings", "trans-1", "translator", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]models.Job](t, resp))

	resp = env.do(t, http.MethodGet, "/bookings", "adm-1", "admin", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]models.Job](t, resp), 1)

	resp = env.do(t, http.MethodGet, "/bookings?user_id=cust-1", "trans-1", "translator", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]models.Job](t, resp), 1)
}

func TestAcceptBothEntryShapes(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/bookings", "cust-1", "customer", validBooking())
	first := decode[models.Job](t, resp)
	resp = env.do(t, http.MethodPost, "/bookings", "cust-1", "customer", validBooking())
	second := decode[models.Job](t, resp)

	// By id.
	resp = env.do(t, http.MethodPost, "/bookings/"+first.ID+"/accept", "trans-1", "translator", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.StatusAssigned, decode[models.Job](t, resp).Status)

	// By payload.
	resp = env.do(t, http.MethodPost, "/bookings/accept", "trans-2", "translator", map[string]string{"job_id": second.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.StatusAssigned, decode[models.Job](t, resp).Status)

	// Losing a race surfaces as a conflict.
	resp = env.do(t, http.MethodPost, "/bookings/"+first.ID+"/accept", "trans-3", "translator", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestFeedbackFlaggedRequiresComment(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/bookings", "cust-1", "customer", validBooking())
	job := decode[models.Job](t, resp)

	resp = env.do(t, http.MethodPost, "/bookings/feedback", "adm-1", "admin", map[string]any{
		"jobid":    job.ID,
		"distance": "10 km",
		"flagged":  true,
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/bookings/feedback", "adm-1", "admin", map[string]any{
		"jobid":        job.ID,
		"distance":     "10 km",
		"flagged":      true,
		"admincomment": "late start",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Record updated", decode[map[string]string](t, resp)["success"])
}

func TestResendPush(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/bookings", "cust-1", "customer", validBooking())
	job := decode[models.Job](t, resp)

	resp = env.do(t, http.MethodPost, "/notifications/resend", "adm-1", "admin", map[string]string{"jobid": job.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Push sent", decode[map[string]string](t, resp)["success"])

	resp = env.do(t, http.MethodPost, "/notifications/resend", "adm-1", "admin", map[string]string{"jobid": "missing"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestResendSMSNeverFatal(t *testing.T) {
	env := newTestEnv(t)
	env.store.AddTranslator(models.Translator{
		ID: "t1", Languages: []string{"sv"}, PhoneNumber: "+46700000001",
	})
	resp := env.do(t, http.MethodPost, "/bookings", "cust-1", "customer", validBooking())
	job := decode[models.Job](t, resp)

	// The SMS transport always fails, yet the endpoint answers 200 with the
	// failure folded into the body.
	resp = env.do(t, http.MethodPost, "/notifications/resend-sms", "adm-1", "admin", map[string]string{"jobid": job.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, decode[map[string]string](t, resp)["success"], "carrier rejected message")
}

func TestGetUnknownBooking(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/bookings/nope", "adm-1", "admin", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpdateStripsUnknownFields(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/bookings", "cust-1", "customer", validBooking())
	job := decode[models.Job](t, resp)

	// Transport-only artifacts in the body are simply dropped.
	resp = env.do(t, http.MethodPut, "/bookings/"+job.ID, "cust-1", "customer", map[string]any{
		"duration": 90,
		"_token":   "csrf-junk",
		"submit":   "Save",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 90, decode[models.Job](t, resp).Duration)
}
