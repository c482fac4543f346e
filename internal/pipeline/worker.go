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

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bambinounos/eia/internal/faults"
	"github.com/bambinounos/eia/internal/mailbox"
	"github.com/bambinounos/eia/internal/queue"
)

const dequeueTimeout = 5 * time.Second

// notifyBatch bounds how many outstanding alerts one notify job drains.
const notifyBatch = 50

// Worker consumes jobs from the queue and executes them. Run multiple
// goroutines via Start; all state shared between them lives in the
// stores or behind the mutex.
type Worker struct {
	deps    Deps
	policy  Policy
	fetcher Fetcher

	mu       sync.Mutex
	accounts map[string]mailbox.Account
	disabled map[string]string // account -> reason
}

// NewWorker wires a worker over its dependencies. accounts maps the
// account email to its mailbox settings.
func NewWorker(deps Deps, policy Policy, fetcher Fetcher, accounts map[string]mailbox.Account) *Worker {
	return &Worker{
		deps:     deps,
		policy:   policy,
		fetcher:  fetcher,
		accounts: accounts,
		disabled: map[string]string{},
	}
}

// Start launches n worker goroutines and blocks until ctx is cancelled
// and they drain.
func (w *Worker) Start(ctx context.Context, n int) {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.loop(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (w *Worker) loop(ctx context.Context, id int) {
	log := slog.With("worker", id)
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := w.deps.Jobs.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("dequeue failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}
		if err := w.Execute(ctx, *job); err != nil {
			w.routeFault(ctx, *job, err, log)
		}
	}
}

// Execute runs one job to completion or error.
func (w *Worker) Execute(ctx context.Context, job queue.Job) error {
	switch job.Kind {
	case queue.KindPoll:
		return w.poll(ctx, job)
	case queue.KindProcess:
		return w.processMessage(ctx, job)
	case queue.KindNotify:
		return w.deliverOutstanding(ctx)
	default:
		return faults.Malformed(fmt.Errorf("unknown job kind %q", job.Kind))
	}
}

// routeFault applies the retry policy: transient and model faults are
// redelivered with exponential backoff until the attempt budget runs
// out, malformed input fails immediately, auth failures disable the
// account.
func (w *Worker) routeFault(ctx context.Context, job queue.Job, err error, log *slog.Logger) {
	kind := faults.KindOf(err)
	log.Warn("job failed",
		"job_id", job.ID, "kind", job.Kind, "message_id", job.MessageID,
		"fault", kind, "attempt", job.Attempt, "error", err)

	switch {
	case kind == faults.KindAuth:
		w.disableAccount(job.Account, err.Error())
		if dlErr := w.deps.Jobs.DeadLetter(ctx, job, err.Error()); dlErr != nil {
			log.Error("dead-letter failed", "error", dlErr)
		}

	case kind == faults.KindMalformed:
		if job.MessageID != "" {
			if fErr := w.deps.Ledger.Fail(ctx, job.Account, job.MessageID, err.Error()); fErr != nil {
				log.Error("ledger fail failed", "error", fErr)
			}
		}
		if dlErr := w.deps.Jobs.DeadLetter(ctx, job, err.Error()); dlErr != nil {
			log.Error("dead-letter failed", "error", dlErr)
		}

	case faults.Retryable(err):
		next := job
		next.Attempt++
		if next.Attempt >= w.policy.MaxAttempts {
			if job.MessageID != "" {
				if fErr := w.deps.Ledger.Fail(ctx, job.Account, job.MessageID, "retries exhausted: "+err.Error()); fErr != nil {
					log.Error("ledger fail failed", "error", fErr)
				}
			}
			if dlErr := w.deps.Jobs.DeadLetter(ctx, job, "retries exhausted: "+err.Error()); dlErr != nil {
				log.Error("dead-letter failed", "error", dlErr)
			}
			return
		}
		if job.MessageID != "" {
			if bErr := w.deps.Ledger.BumpAttempts(ctx, job.Account, job.MessageID); bErr != nil {
				log.Warn("bump attempts failed", "error", bErr)
			}
		}
		delay := queue.Backoff(w.policy.RetryBase, next.Attempt)
		if rErr := w.deps.Jobs.EnqueueAfter(ctx, next, delay); rErr != nil {
			log.Error("redelivery enqueue failed", "error", rErr)
		}

	default:
		if dlErr := w.deps.Jobs.DeadLetter(ctx, job, err.Error()); dlErr != nil {
			log.Error("dead-letter failed", "error", dlErr)
		}
	}
}

// deliverOutstanding re-sends alerts whose webhook delivery failed.
func (w *Worker) deliverOutstanding(ctx context.Context) error {
	opps, err := w.deps.Opportunities.ListUnnotified(ctx, notifyBatch)
	if err != nil {
		return err
	}
	for i := range opps {
		opp := &opps[i]
		if err := w.deps.Notifier.Notify(ctx, opp); err != nil {
			return err
		}
		if err := w.deps.Opportunities.MarkNotified(ctx, opp.ID); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) disableAccount(account, reason string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, dup := w.disabled[account]; !dup {
		slog.Error("account disabled until restart or credential fix",
			"account", account, "reason", reason)
	}
	w.disabled[account] = reason
}

// AccountDisabled reports whether polling for the account is suspended.
func (w *Worker) AccountDisabled(account string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.disabled[account]
	return ok
}
