// Copyright (c) 2026 Bambinounos
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package queue implements the Redis-backed job queue: an immediate ready
// list, a delayed set for backoff redelivery, and a dead-letter list for
// permanently failed jobs. Delivery is at-least-once; idempotency lives in
// the ledger and the opportunity dedup key, never here.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	readyKey   = "eia:queue:ready"
	delayedKey = "eia:queue:delayed"
	deadKey    = "eia:queue:dead"

	// maxBackoff caps the exponential redelivery delay.
	maxBackoff = 5 * time.Minute
)

// Job kinds.
const (
	KindPoll    = "poll"    // fetch new messages from one account folder
	KindProcess = "process" // run the pipeline for one message reference
	KindNotify  = "notify"  // re-send a persisted but unnotified alert
)

// Job is a unit of work. It carries references, not payloads, so that a
// job stays small and the stores remain the source of truth.
type Job struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Account   string    `json:"account"`
	Folder    string    `json:"folder,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	UID       uint32    `json:"uid,omitempty"`
	Attempt   int       `json:"attempt"`
	Since     time.Time `json:"since,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DeadJob wraps a job with the reason it was removed from the retry path.
type DeadJob struct {
	Job      Job       `json:"job"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

// NewJob builds a job with a fresh ID.
func NewJob(kind, account string) Job {
	return Job{
		ID:        uuid.New().String(),
		Kind:      kind,
		Account:   account,
		CreatedAt: time.Now().UTC(),
	}
}

// promoteScript moves all due members of the delayed set to the ready list.
// Runs atomically so two promoters never double-deliver a member.
var promoteScript = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
for _, member in ipairs(due) do
	redis.call("ZREM", KEYS[1], member)
	redis.call("LPUSH", KEYS[2], member)
end
return #due
`)

// Queue is a Redis-backed at-least-once job queue.
type Queue struct {
	rdb *redis.Client
}

// New creates a queue on the given Redis client.
func New(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

// Enqueue pushes a job onto the ready list.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.rdb.LPush(ctx, readyKey, payload).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}
	return nil
}

// EnqueueAfter schedules a job for redelivery after delay.
func (q *Queue) EnqueueAfter(ctx context.Context, job Job, delay time.Duration) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	score := float64(time.Now().Add(delay).Unix())
	if err := q.rdb.ZAdd(ctx, delayedKey, redis.Z{Score: score, Member: payload}).Err(); err != nil {
		return fmt.Errorf("redis ZADD: %w", err)
	}
	return nil
}

// Dequeue blocks up to timeout waiting for the next ready job.
// Returns (nil, nil) when the timeout elapses with no work.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	res, err := q.rdb.BRPop(ctx, timeout, readyKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis BRPOP: %w", err)
	}
	// BRPOP returns [key, value]
	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, nil
}

// DeadLetter removes the job from the retry path and records the reason
// for operator inspection.
func (q *Queue) DeadLetter(ctx context.Context, job Job, reason string) error {
	entry := DeadJob{Job: job, Reason: reason, FailedAt: time.Now().UTC()}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dead job: %w", err)
	}
	if err := q.rdb.LPush(ctx, deadKey, payload).Err(); err != nil {
		return fmt.Errorf("redis LPUSH dead-letter: %w", err)
	}
	slog.Warn("job dead-lettered",
		"job_id", job.ID,
		"kind", job.Kind,
		"message_id", job.MessageID,
		"reason", reason,
	)
	return nil
}

// ListDeadLetters returns up to limit dead jobs, newest first.
func (q *Queue) ListDeadLetters(ctx context.Context, limit int64) ([]DeadJob, error) {
	raw, err := q.rdb.LRange(ctx, deadKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis LRANGE dead-letter: %w", err)
	}
	out := make([]DeadJob, 0, len(raw))
	for _, item := range raw {
		var d DeadJob
		if err := json.Unmarshal([]byte(item), &d); err != nil {
			return nil, fmt.Errorf("unmarshal dead job: %w", err)
		}
		out = append(out, d)
	}
	return out, nil
}

// RequeueDeadLetter pops the oldest dead job and puts it back on the ready
// list with its attempt counter reset.
func (q *Queue) RequeueDeadLetter(ctx context.Context) (*Job, error) {
	raw, err := q.rdb.RPop(ctx, deadKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis RPOP dead-letter: %w", err)
	}
	var d DeadJob
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, fmt.Errorf("unmarshal dead job: %w", err)
	}
	d.Job.Attempt = 0
	if err := q.Enqueue(ctx, d.Job); err != nil {
		return nil, err
	}
	return &d.Job, nil
}

// PromoteDue moves due delayed jobs to the ready list. Returns how many
// were promoted.
func (q *Queue) PromoteDue(ctx context.Context) (int, error) {
	now := fmt.Sprintf("%d", time.Now().Unix())
	n, err := promoteScript.Run(ctx, q.rdb, []string{delayedKey, readyKey}, now).Int()
	if err != nil {
		return 0, fmt.Errorf("promote delayed jobs: %w", err)
	}
	return n, nil
}

// StartPromoter runs PromoteDue on a short ticker until ctx is cancelled.
func (q *Queue) StartPromoter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := q.PromoteDue(ctx); err != nil {
					slog.Warn("delayed job promotion failed", "error", err)
				} else if n > 0 {
					slog.Debug("promoted delayed jobs", "count", n)
				}
			}
		}
	}()
}

// Ping checks the Redis connection.
func (q *Queue) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return q.rdb.Ping(ctx).Err()
}

// Backoff returns the exponential redelivery delay for the given attempt
// (1-based): base, 2*base, 4*base... capped at maxBackoff.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base << (attempt - 1)
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}
