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
	"time"

	"github.com/bambinounos/eia/internal/faults"
	"github.com/bambinounos/eia/internal/models"
	"github.com/bambinounos/eia/internal/queue"
)

// leaseContentionDelay reschedules a job whose message another worker
// currently holds.
const leaseContentionDelay = 15 * time.Second

// processMessage runs the staged pipeline for one process job. Every
// stage reads its durable result first, so a redelivered job resumes
// where the previous delivery stopped instead of re-invoking backends.
func (w *Worker) processMessage(ctx context.Context, job queue.Job) error {
	key := job.Account + "/" + job.MessageID
	token, ok, err := w.deps.Lease.Acquire(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		// Another worker is on this message; try again shortly without
		// spending an attempt.
		slog.Debug("message leased elsewhere", "message_id", job.MessageID)
		return w.deps.Jobs.EnqueueAfter(ctx, job, leaseContentionDelay)
	}
	defer func() {
		if err := w.deps.Lease.Release(ctx, key, token); err != nil {
			slog.Warn("lease release failed", "message_id", job.MessageID, "error", err)
		}
	}()

	entry, err := w.deps.Ledger.Get(ctx, job.Account, job.MessageID)
	if err != nil {
		return err
	}
	if entry == nil {
		return faults.Malformed(fmt.Errorf("no ledger entry for %s", key))
	}
	if entry.State.Terminal() {
		slog.Debug("message already terminal", "message_id", job.MessageID, "state", entry.State)
		return nil
	}

	msg, err := w.deps.Ledger.GetMessage(ctx, job.Account, job.MessageID)
	if err != nil {
		return err
	}
	if msg == nil {
		return faults.Malformed(fmt.Errorf("message payload missing for %s", key))
	}

	c, err := w.classifyStage(ctx, entry.State, msg)
	if err != nil {
		return err
	}

	// Noise gate: anything not opportunity-intent, or opportunity intent
	// strictly below the threshold, completes here. Confidence equal to
	// the threshold proceeds.
	if c.Intent != models.IntentOpportunity || c.Confidence < w.policy.NoiseThreshold {
		if err := w.deps.Ledger.Advance(ctx, job.Account, job.MessageID, models.StateCompleted); err != nil {
			return err
		}
		slog.Info("message completed without opportunity",
			"message_id", job.MessageID, "intent", c.Intent, "confidence", c.Confidence)
		return nil
	}

	set, err := w.extractStage(ctx, msg)
	if err != nil {
		return err
	}

	matches, err := w.matchStage(ctx, msg, set)
	if err != nil {
		return err
	}

	if err := w.evaluateStage(ctx, msg, c, set, matches); err != nil {
		return err
	}

	return w.deps.Ledger.Advance(ctx, job.Account, job.MessageID, models.StateCompleted)
}

func (w *Worker) classifyStage(ctx context.Context, state models.State, msg *models.RawMessage) (models.Classification, error) {
	if stored, err := w.deps.Ledger.GetClassification(ctx, msg.Account, msg.MessageID); err != nil {
		return models.Classification{}, err
	} else if stored != nil {
		return *stored, nil
	}

	c, err := w.deps.Classifier.Classify(ctx, msg)
	if err != nil {
		return models.Classification{}, err
	}
	if err := w.deps.Ledger.SaveClassification(ctx, msg.Account, c); err != nil {
		return models.Classification{}, err
	}
	if state.Rank() < models.StateClassified.Rank() {
		if err := w.deps.Ledger.Advance(ctx, msg.Account, msg.MessageID, models.StateClassified); err != nil {
			return models.Classification{}, err
		}
	}
	return c, nil
}

func (w *Worker) extractStage(ctx context.Context, msg *models.RawMessage) (models.EntitySet, error) {
	if stored, err := w.deps.Ledger.GetEntities(ctx, msg.Account, msg.MessageID); err != nil {
		return models.EntitySet{}, err
	} else if stored != nil {
		return *stored, nil
	}

	set, err := w.deps.Extractor.Extract(ctx, msg)
	if err != nil {
		return models.EntitySet{}, err
	}
	for i := range set.Entities {
		if set.Entities[i].Confidence < w.policy.EntityFloor {
			set.Entities[i].LowConfidence = true
		}
	}
	if err := w.deps.Ledger.SaveEntities(ctx, msg.Account, set); err != nil {
		return models.EntitySet{}, err
	}
	if err := w.advanceTo(ctx, msg, models.StateExtracted); err != nil {
		return models.EntitySet{}, err
	}
	return set, nil
}

func (w *Worker) matchStage(ctx context.Context, msg *models.RawMessage, set models.EntitySet) ([]models.MatchResult, error) {
	if stored, found, err := w.deps.Ledger.GetMatches(ctx, msg.Account, msg.MessageID); err != nil {
		return nil, err
	} else if found {
		return stored, nil
	}

	snap := w.deps.Catalog.Snapshot()
	matches := w.deps.Matcher.Match(set, snap)
	if err := w.deps.Ledger.SaveMatches(ctx, msg.Account, msg.MessageID, snap.Version, matches); err != nil {
		return nil, err
	}
	if err := w.advanceTo(ctx, msg, models.StateMatched); err != nil {
		return nil, err
	}
	return matches, nil
}

func (w *Worker) evaluateStage(ctx context.Context, msg *models.RawMessage, c models.Classification, set models.EntitySet, matches []models.MatchResult) error {
	opp, ok := w.deps.Generator.Evaluate(msg, c, set, matches)
	if !ok {
		slog.Info("message below alert threshold",
			"message_id", msg.MessageID,
			"score", w.deps.Generator.Composite(c, matches))
		return nil
	}

	// The window is a fast path; the dedup_key unique constraint is the
	// authority. A burned window key with no committed row means a prior
	// delivery crashed before persisting, so the alert decision still
	// stands and the insert below carries it.
	fresh, err := w.deps.Window.IsNew(ctx, opp.DedupKey)
	if err != nil {
		return err
	}
	if !fresh {
		existing, err := w.deps.Opportunities.GetByDedupKey(ctx, opp.DedupKey)
		if err != nil {
			return err
		}
		if existing != nil {
			return w.settleExisting(ctx, msg.MessageID, existing)
		}
	}

	opp.Alerted = true
	created, err := w.deps.Opportunities.Save(ctx, opp)
	if err != nil {
		return err
	}
	if !created {
		// Lost a race on the key; whoever inserted owns the alert, but an
		// interrupted delivery is still ours to finish.
		existing, err := w.deps.Opportunities.GetByDedupKey(ctx, opp.DedupKey)
		if err != nil {
			return err
		}
		if existing != nil {
			return w.settleExisting(ctx, msg.MessageID, existing)
		}
		return nil
	}
	return w.deliverAlert(ctx, opp)
}

// settleExisting finishes the lifecycle of a previously persisted row
// with the same dedup key: resume an interrupted delivery, otherwise
// suppress.
func (w *Worker) settleExisting(ctx context.Context, messageID string, existing *models.Opportunity) error {
	if existing.Alerted && !existing.Notified {
		slog.Info("resuming interrupted alert delivery",
			"message_id", messageID, "dedup_key", existing.DedupKey)
		return w.deliverAlert(ctx, existing)
	}
	slog.Info("opportunity suppressed by dedup key",
		"message_id", messageID, "dedup_key", existing.DedupKey)
	return nil
}

func (w *Worker) deliverAlert(ctx context.Context, opp *models.Opportunity) error {
	if err := w.deps.Notifier.Notify(ctx, opp); err != nil {
		// Delivery retries ride the queue; the opportunity itself is safe.
		slog.Warn("alert delivery failed, scheduling retry",
			"message_id", opp.MessageID, "error", err)
		retry := queue.NewJob(queue.KindNotify, opp.Account)
		return w.deps.Jobs.EnqueueAfter(ctx, retry, w.policy.RetryBase)
	}
	return w.deps.Opportunities.MarkNotified(ctx, opp.ID)
}

// advanceTo moves the ledger forward, tolerating an entry that a prior
// delivery already pushed past the target state.
func (w *Worker) advanceTo(ctx context.Context, msg *models.RawMessage, target models.State) error {
	entry, err := w.deps.Ledger.Get(ctx, msg.Account, msg.MessageID)
	if err != nil {
		return err
	}
	if entry == nil || entry.State.Rank() >= target.Rank() {
		return nil
	}
	return w.deps.Ledger.Advance(ctx, msg.Account, msg.MessageID, target)
}
