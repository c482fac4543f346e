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

// Package pipeline runs the staged message pipeline: classify, extract,
// match, evaluate. Jobs arrive over the at-least-once queue; the ledger's
// monotonic state machine and the opportunity dedup key make redelivery
// harmless.
package pipeline

import (
	"context"
	"time"

	"github.com/bambinounos/eia/internal/catalog"
	"github.com/bambinounos/eia/internal/classify"
	"github.com/bambinounos/eia/internal/extract"
	"github.com/bambinounos/eia/internal/ledger"
	"github.com/bambinounos/eia/internal/mailbox"
	"github.com/bambinounos/eia/internal/models"
	"github.com/bambinounos/eia/internal/notify"
	"github.com/bambinounos/eia/internal/opportunity"
	"github.com/bambinounos/eia/internal/queue"
)

// Ledger is the slice of the ledger store the pipeline needs.
type Ledger interface {
	RecordFetched(ctx context.Context, msg *models.RawMessage) (bool, error)
	Advance(ctx context.Context, account, messageID string, newState models.State) error
	Fail(ctx context.Context, account, messageID, reason string) error
	BumpAttempts(ctx context.Context, account, messageID string) error
	Get(ctx context.Context, account, messageID string) (*ledger.Entry, error)
	GetMessage(ctx context.Context, account, messageID string) (*models.RawMessage, error)
	Cursor(ctx context.Context, account, folder string) (uint32, uint32, error)
	ResetCursor(ctx context.Context, account, folder string, uidValidity uint32) error
	SaveClassification(ctx context.Context, account string, c models.Classification) error
	GetClassification(ctx context.Context, account, messageID string) (*models.Classification, error)
	SaveEntities(ctx context.Context, account string, set models.EntitySet) error
	GetEntities(ctx context.Context, account, messageID string) (*models.EntitySet, error)
	SaveMatches(ctx context.Context, account, messageID, snapshotVersion string, matches []models.MatchResult) error
	GetMatches(ctx context.Context, account, messageID string) ([]models.MatchResult, bool, error)
}

// Opportunities persists evaluated opportunities.
type Opportunities interface {
	Save(ctx context.Context, opp *models.Opportunity) (bool, error)
	GetByDedupKey(ctx context.Context, dedupKey string) (*models.Opportunity, error)
	MarkNotified(ctx context.Context, id int64) error
	ListUnnotified(ctx context.Context, limit int) ([]models.Opportunity, error)
}

// Jobs is the queue surface the pipeline consumes from and drives
// redelivery through.
type Jobs interface {
	Enqueue(ctx context.Context, job queue.Job) error
	EnqueueAfter(ctx context.Context, job queue.Job, delay time.Duration) error
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	DeadLetter(ctx context.Context, job queue.Job, reason string) error
}

// Leaser keeps two workers off the same message.
type Leaser interface {
	Acquire(ctx context.Context, key string) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

// AlertWindow admits one alert per dedup key per window.
type AlertWindow interface {
	IsNew(ctx context.Context, dedupKey string) (bool, error)
}

// Catalog yields the current catalog snapshot.
type Catalog interface {
	Snapshot() *catalog.Snapshot
}

// Fetcher pulls new messages for one account folder past the cursor.
type Fetcher interface {
	FetchNew(ctx context.Context, acc mailbox.Account, folder string, cursor mailbox.Cursor, handler mailbox.Handler) error
}

// Deps bundles everything a worker needs.
type Deps struct {
	Ledger        Ledger
	Opportunities Opportunities
	Jobs          Jobs
	Lease         Leaser
	Window        AlertWindow
	Catalog       Catalog
	Matcher       *catalog.Matcher
	Classifier    classify.Classifier
	Extractor     extract.Extractor
	Generator     *opportunity.Generator
	Notifier      notify.Notifier
}

// Policy holds the pipeline thresholds and retry budget.
type Policy struct {
	NoiseThreshold float64
	EntityFloor    float64
	MaxAttempts    int
	RetryBase      time.Duration
}
