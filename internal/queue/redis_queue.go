package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"booking-service/internal/config"
)

// Event is one pending notification: "tell translators about job X".
type Event struct {
	ID         string    `json:"id"`
	JobID      string    `json:"job_id"`
	Event      string    `json:"event"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Outbox coordinates ready, in-flight, and scheduled notification events in
// Redis. Events are leased with a visibility timeout; a crashed notifier's
// events are reclaimed, so delivery is at-least-once and resending is always
// safe from the caller's perspective.
type Outbox struct {
	client        *redis.Client
	readyKey      string
	inflightKey   string
	scheduledKey  string
	dlqKey        string
	visibilityTTL time.Duration
}

// NewOutbox builds an outbox client from config.
func NewOutbox(cfg config.Config) *Outbox {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewOutboxWithClient(client, cfg)
}

// NewOutboxWithClient wires an outbox onto an existing Redis client.
func NewOutboxWithClient(client *redis.Client, cfg config.Config) *Outbox {
	visibility := cfg.VisibilityTimeout
	if visibility == 0 {
		visibility = 30 * time.Second
	}
	dlq := cfg.DLQName
	if dlq == "" {
		dlq = "notify:dlq"
	}
	return &Outbox{
		client:        client,
		readyKey:      "notify:ready",
		inflightKey:   "notify:inflight",
		scheduledKey:  "notify:scheduled",
		dlqKey:        dlq,
		visibilityTTL: visibility,
	}
}

// EnqueueJobEvent pushes a fresh notification event for a job. It satisfies
// the lifecycle engine's outbox contract.
func (q *Outbox) EnqueueJobEvent(ctx context.Context, jobID, event string) error {
	ev := Event{
		ID:         uuid.New().String(),
		JobID:      jobID,
		Event:      event,
		EnqueuedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return q.client.RPush(ctx, q.readyKey, raw).Err()
}

// DequeueWithLease pops a ready event and places it in-flight with a
// visibility deadline. The raw payload is the lease handle for Ack/Retry.
func (q *Outbox) DequeueWithLease(ctx context.Context) (Event, string, error) {
	res, err := dequeueScript.Run(ctx, q.client,
		[]string{q.readyKey, q.inflightKey},
		time.Now().Add(q.visibilityTTL).UnixMilli()).Result()
	if err == redis.Nil {
		return Event{}, "", nil
	}
	if err != nil {
		return Event{}, "", err
	}
	raw, ok := res.(string)
	if !ok {
		return Event{}, "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	var ev Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		// Poison payload: drop it to the DLQ rather than looping on it.
		_ = q.client.ZRem(ctx, q.inflightKey, raw).Err()
		_ = q.client.RPush(ctx, q.dlqKey, raw).Err()
		return Event{}, "", fmt.Errorf("unmarshal event: %w", err)
	}
	return ev, raw, nil
}

// Ack removes a delivered event from in-flight tracking.
func (q *Outbox) Ack(ctx context.Context, raw string) error {
	return q.client.ZRem(ctx, q.inflightKey, raw).Err()
}

// Retry reschedules a failed event after the given delay, with its attempt
// counter bumped.
func (q *Outbox) Retry(ctx context.Context, ev Event, raw string, delay time.Duration) error {
	ev.Attempts++
	next, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal retry event: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, raw)
	pipe.ZAdd(ctx, q.scheduledKey, redis.Z{
		Score:  float64(time.Now().Add(delay).UnixMilli()),
		Member: next,
	})
	_, err = pipe.Exec(ctx)
	return err
}

// PromoteScheduled moves due retries back onto the ready list. It returns
// how many were promoted.
func (q *Outbox) PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error) {
	raws, err := q.client.ZRangeByScore(ctx, q.scheduledKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(raws) == 0 {
		return 0, nil
	}

	pipe := q.client.TxPipeline()
	for _, raw := range raws {
		pipe.ZRem(ctx, q.scheduledKey, raw)
		pipe.RPush(ctx, q.readyKey, raw)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(raws), nil
}

// RequeueExpired reclaims events whose lease timed out.
func (q *Outbox) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	raws, err := q.client.ZRangeByScore(ctx, q.inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(raws) == 0 {
		return nil, nil
	}

	pipe := q.client.TxPipeline()
	for _, raw := range raws {
		pipe.ZRem(ctx, q.inflightKey, raw)
		pipe.RPush(ctx, q.readyKey, raw)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return raws, nil
}

// DLQPush appends an event to the dead-letter queue for operational
// inspection, removing it from in-flight tracking.
func (q *Outbox) DLQPush(ctx context.Context, raw string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, raw)
	pipe.RPush(ctx, q.dlqKey, raw)
	_, err := pipe.Exec(ctx)
	return err
}

// DLQPeek reads the oldest dead-lettered events.
func (q *Outbox) DLQPeek(ctx context.Context, count int64) ([]Event, error) {
	raws, err := q.client.LRange(ctx, q.dlqKey, 0, count-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(raws))
	for _, raw := range raws {
		var ev Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Depth returns the number of events waiting (ready plus scheduled).
func (q *Outbox) Depth(ctx context.Context) (int64, error) {
	pipe := q.client.Pipeline()
	ready := pipe.LLen(ctx, q.readyKey)
	scheduled := pipe.ZCard(ctx, q.scheduledKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return ready.Val() + scheduled.Val(), nil
}

var dequeueScript = redis.NewScript(`
local event = redis.call('LPOP', KEYS[1])
if event then
  redis.call('ZADD', KEYS[2], ARGV[1], event)
  return event
end
return nil
`)
