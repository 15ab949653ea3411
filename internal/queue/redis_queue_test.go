package queue

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"booking-service/internal/config"
)

func newTestOutbox(t *testing.T) *Outbox {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cfg := config.Config{VisibilityTimeout: time.Minute, DLQName: "notify:dlq"}
	return NewOutboxWithClient(client, cfg)
}

func TestEnqueueDequeueAck(t *testing.T) {
	ctx := context.Background()
	q := newTestOutbox(t)

	require.NoError(t, q.EnqueueJobEvent(ctx, "job-1", "created"))

	ev, raw, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, raw)
	require.Equal(t, "job-1", ev.JobID)
	require.Equal(t, "created", ev.Event)
	require.Equal(t, 0, ev.Attempts)

	// Nothing else is ready while the event is leased.
	_, raw2, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	require.Empty(t, raw2)

	require.NoError(t, q.Ack(ctx, raw))
	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	require.Zero(t, depth)
}

func TestRetryPromotes(t *testing.T) {
	ctx := context.Background()
	q := newTestOutbox(t)

	require.NoError(t, q.EnqueueJobEvent(ctx, "job-1", "created"))
	ev, raw, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Retry(ctx, ev, raw, 10*time.Millisecond))

	// Not yet due.
	n, err := q.PromoteScheduled(ctx, time.Now(), 100)
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = q.PromoteScheduled(ctx, time.Now().Add(time.Second), 100)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	next, _, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	require.Equal(t, "job-1", next.JobID)
	require.Equal(t, 1, next.Attempts)
}

func TestRequeueExpiredReclaimsLease(t *testing.T) {
	ctx := context.Background()
	q := newTestOutbox(t)
	q.visibilityTTL = time.Millisecond

	require.NoError(t, q.EnqueueJobEvent(ctx, "job-1", "created"))
	_, raw, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	reclaimed, err := q.RequeueExpired(ctx, time.Now().Add(time.Second), 100)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)

	ev, raw2, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, raw2)
	require.Equal(t, "job-1", ev.JobID)
}

func TestDLQ(t *testing.T) {
	ctx := context.Background()
	q := newTestOutbox(t)

	require.NoError(t, q.EnqueueJobEvent(ctx, "job-1", "created"))
	_, raw, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)

	require.NoError(t, q.DLQPush(ctx, raw))

	items, err := q.DLQPeek(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "job-1", items[0].JobID)

	// Dead-lettered events are out of in-flight tracking.
	reclaimed, err := q.RequeueExpired(ctx, time.Now().Add(time.Hour), 100)
	require.NoError(t, err)
	require.Empty(t, reclaimed)
}
