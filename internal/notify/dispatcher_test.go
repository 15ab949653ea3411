package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booking-service/internal/models"
	"booking-service/internal/store"
)

type fakeTransport struct {
	sent []string
	err  error
}

func (t *fakeTransport) Send(_ context.Context, target, _ string) error {
	if t.err != nil {
		return t.err
	}
	t.sent = append(t.sent, target)
	return nil
}

func seedStore(t *testing.T) (*store.Memory, models.Job) {
	t.Helper()
	st := store.NewMemory()
	st.AddTranslator(models.Translator{
		ID: "t1", Languages: []string{"sv"}, City: "Stockholm",
		PhoneNumber: "+46700000001", PushToken: "tok-1",
	})
	st.AddTranslator(models.Translator{
		ID: "t2", Languages: []string{"sv"}, City: "Stockholm",
		PhoneNumber: "+46700000002", PushToken: "tok-2",
	})
	st.AddTranslator(models.Translator{
		ID: "t3", Languages: []string{"fi"}, City: "Stockholm",
		PhoneNumber: "+46700000003", PushToken: "tok-3",
	})
	st.AddTranslator(models.Translator{
		ID: "t4", Languages: []string{"sv"}, City: "Stockholm",
		PhoneNumber: "+46700000004", PushToken: "tok-4", NotificationsOff: true,
	})

	job, err := st.CreateJob(context.Background(), store.CreateJobParams{
		FromLanguageID: "sv",
		Immediate:      true,
		Duration:       30,
		JobFor:         []string{"male"},
		CustomerID:     "cust-1",
	})
	require.NoError(t, err)
	return st, job
}

func TestPushGoesToEligibleTranslators(t *testing.T) {
	st, job := seedStore(t)
	push := &fakeTransport{}
	d := New(st, push, nil)

	require.NoError(t, d.PushToTranslators(context.Background(), job, "created"))
	// Language mismatch and muted profiles are skipped.
	assert.ElementsMatch(t, []string{"tok-1", "tok-2"}, push.sent)
}

func TestPushFailuresAreSwallowed(t *testing.T) {
	st, job := seedStore(t)
	push := &fakeTransport{err: errors.New("fcm unreachable")}
	d := New(st, push, nil)

	// A broken push provider must not surface to the caller.
	assert.NoError(t, d.PushToTranslators(context.Background(), job, "created"))
}

func TestSMSFaultReturnsStructuredResult(t *testing.T) {
	st, job := seedStore(t)
	sms := &fakeTransport{err: errors.New("carrier rejected message")}
	d := New(st, nil, sms)

	res := d.SMSToTranslators(context.Background(), job)
	assert.Contains(t, res.Success, "carrier rejected message")
}

func TestSMSSuccess(t *testing.T) {
	st, job := seedStore(t)
	sms := &fakeTransport{}
	d := New(st, nil, sms)

	res := d.SMSToTranslators(context.Background(), job)
	assert.Equal(t, "SMS sent", res.Success)
	assert.ElementsMatch(t, []string{"+46700000001", "+46700000002"}, sms.sent)
}

func TestSMSMessageShape(t *testing.T) {
	due := time.Date(2026, 9, 10, 14, 30, 0, 0, time.UTC)
	phone := models.Job{CustomerPhoneType: true, DueAt: &due, Duration: 60}
	assert.Contains(t, smsMessage(phone), "phone booking")
	assert.Contains(t, smsMessage(phone), "2026-09-10 14:30")

	site := models.Job{CustomerPhysicalType: true, City: "Uppsala", Duration: 45}
	assert.Contains(t, smsMessage(site), "on-site booking in Uppsala")
	assert.Contains(t, smsMessage(site), "now")

	// Both flags set is treated as a phone booking.
	both := models.Job{CustomerPhoneType: true, CustomerPhysicalType: true, Duration: 45}
	assert.Contains(t, smsMessage(both), "phone booking")
}

func TestBackoffWithJitter(t *testing.T) {
	base := time.Second
	max := 8 * time.Second

	b1 := BackoffWithJitter(base, max, 1)
	assert.GreaterOrEqual(t, b1, base/2)
	assert.LessOrEqual(t, b1, max)

	b3 := BackoffWithJitter(base, max, 3)
	assert.GreaterOrEqual(t, b3, 2*time.Second)
	assert.LessOrEqual(t, b3, max)

	// Attempts past the cap stay within it.
	b9 := BackoffWithJitter(base, max, 9)
	assert.LessOrEqual(t, b9, max)

	// A zero base must not panic and yields no delay.
	assert.Equal(t, time.Duration(0), BackoffWithJitter(0, max, 2))
	assert.Equal(t, time.Duration(0), BackoffWithJitter(0, max, 0))
}
