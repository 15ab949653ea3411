package feedback

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booking-service/internal/auth"
	"booking-service/internal/config"
	"booking-service/internal/models"
	"booking-service/internal/store"
)

var admin = models.Actor{ID: "adm-1", Role: models.RoleAdmin}

func newRecorder(t *testing.T) (*Recorder, *store.Memory, models.Job) {
	t.Helper()
	st := store.NewMemory()
	cfg := config.Config{AdminRoleID: "admin", SuperadminRoleID: "superadmin"}
	rec := New(st, auth.New(cfg))

	job, err := st.CreateJob(context.Background(), store.CreateJobParams{
		FromLanguageID: "sv",
		Immediate:      true,
		Duration:       30,
		JobFor:         []string{"male"},
		CustomerID:     "cust-1",
	})
	require.NoError(t, err)
	return rec, st, job
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func TestFlaggedWithoutCommentRejectedBeforeAnyWrite(t *testing.T) {
	rec, st, job := newRecorder(t)

	err := rec.Record(context.Background(), admin, Params{
		JobID:    job.ID,
		Distance: strPtr("12.5 km"),
		Flagged:  boolPtr(true),
	})
	var ve *models.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "admincomment")

	// Nothing was persisted, not even the distance part.
	_, err = st.GetDistance(context.Background(), job.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	fresh, err := st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.False(t, fresh.Flagged)
}

func TestFlaggedWithEmptyCommentRejected(t *testing.T) {
	rec, _, job := newRecorder(t)

	err := rec.Record(context.Background(), admin, Params{
		JobID:        job.ID,
		Flagged:      boolPtr(true),
		AdminComment: strPtr(""),
	})
	var ve *models.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestDistanceAndMetadataApplyTogether(t *testing.T) {
	rec, st, job := newRecorder(t)

	err := rec.Record(context.Background(), admin, Params{
		JobID:        job.ID,
		Distance:     strPtr("18.6 km"),
		Time:         strPtr("45 min"),
		SessionTime:  strPtr("01:00:00"),
		Flagged:      boolPtr(true),
		AdminComment: strPtr("customer moved the meeting point"),
		ByAdmin:      boolPtr(true),
	})
	require.NoError(t, err)

	d, err := st.GetDistance(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, d.Distance)
	assert.Equal(t, "18.6 km", *d.Distance)
	require.NotNil(t, d.Time)
	assert.Equal(t, "45 min", *d.Time)

	fresh, err := st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, fresh.Flagged)
	assert.True(t, fresh.ByAdmin)
	assert.False(t, fresh.ManuallyHandled)
	require.NotNil(t, fresh.AdminComments)
	assert.Equal(t, "customer moved the meeting point", *fresh.AdminComments)
	require.NotNil(t, fresh.SessionTime)
	assert.Equal(t, "01:00:00", *fresh.SessionTime)
}

func TestDistanceOnlyLeavesJobUntouched(t *testing.T) {
	rec, st, job := newRecorder(t)

	err := rec.Record(context.Background(), admin, Params{
		JobID: job.ID,
		Time:  strPtr("30 min"),
	})
	require.NoError(t, err)

	fresh, err := st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.UpdatedAt, fresh.UpdatedAt)
}

func TestEmptyFeedbackIsAcknowledgedWithoutWrite(t *testing.T) {
	rec, st, job := newRecorder(t)

	require.NoError(t, rec.Record(context.Background(), admin, Params{JobID: job.ID}))
	_, err := st.GetDistance(context.Background(), job.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestUnknownJobNotFound(t *testing.T) {
	rec, _, _ := newRecorder(t)

	err := rec.Record(context.Background(), admin, Params{
		JobID:    "missing",
		Distance: strPtr("1 km"),
	})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestNonAdminRejected(t *testing.T) {
	rec, _, job := newRecorder(t)

	err := rec.Record(context.Background(), models.Actor{ID: "t1", Role: models.RoleTranslator}, Params{
		JobID:    job.ID,
		Distance: strPtr("1 km"),
	})
	var ae *models.AuthorizationError
	require.ErrorAs(t, err, &ae)
}
