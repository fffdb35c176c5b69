// Package queue implements an optional async job queue in front of the
// render pipeline, behind the HTTP acceptor's POST /jobs?async=1 path: a
// Redis list carrying JSON job envelopes, RPush to submit and BLPop to
// consume. One queue suffices because the engine runs a whole job through
// every stage in a single call.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/bobarin/reelforge/internal/job"
)

const RenderQueueName = "queue:render"

// Queue wraps a Redis list as a FIFO job envelope queue.
type Queue struct {
	client *redis.Client
}

// Envelope is what actually travels through Redis: the job document plus
// its id and enqueue time.
type Envelope struct {
	ID        string    `json:"id"`
	Job       job.Job   `json:"job"`
	CreatedAt time.Time `json:"created_at"`
}

func New(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// Enqueue pushes env onto the render queue.
func (q *Queue) Enqueue(ctx context.Context, env *Envelope) error {
	env.CreatedAt = time.Now()

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal job envelope: %w", err)
	}
	return q.client.RPush(ctx, RenderQueueName, data).Err()
}

// Dequeue blocks up to timeout for the next envelope, returning (nil, nil)
// when none arrived in that window.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Envelope, error) {
	result, err := q.client.BLPop(ctx, timeout, RenderQueueName).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected redis BLPOP response shape")
	}

	var env Envelope
	if err := json.Unmarshal([]byte(result[1]), &env); err != nil {
		return nil, fmt.Errorf("unmarshal job envelope: %w", err)
	}
	return &env, nil
}

func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, RenderQueueName).Result()
}
