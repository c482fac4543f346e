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
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bambinounos/eia/internal/ledger"
	"github.com/bambinounos/eia/internal/models"
	"github.com/bambinounos/eia/internal/queue"
)

// fakeLedger is an in-memory ledger with the same insert-if-absent and
// forward-only semantics as the Postgres store.
type fakeLedger struct {
	mu              sync.Mutex
	entries         map[string]*ledger.Entry
	messages        map[string]*models.RawMessage
	classifications map[string]models.Classification
	entitySets      map[string]models.EntitySet
	matches         map[string][]models.MatchResult
	cursors         map[string][2]uint32
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		entries:         map[string]*ledger.Entry{},
		messages:        map[string]*models.RawMessage{},
		classifications: map[string]models.Classification{},
		entitySets:      map[string]models.EntitySet{},
		matches:         map[string][]models.MatchResult{},
		cursors:         map[string][2]uint32{},
	}
}

func key(account, messageID string) string { return account + "/" + messageID }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (f *fakeLedger) RecordFetched(_ context.Context, msg *models.RawMessage) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(msg.Account, msg.MessageID)
	if _, ok := f.entries[k]; ok {
		return false, nil
	}
	f.entries[k] = &ledger.Entry{
		Account:   msg.Account,
		MessageID: msg.MessageID,
		Folder:    msg.Folder,
		UID:       msg.UID,
		State:     models.StateFetched,
	}
	f.messages[k] = msg
	cur := f.cursors[msg.Account+"/"+msg.Folder]
	if msg.UID > cur[1] {
		cur[1] = msg.UID
	}
	cur[0] = msg.UIDValidity
	f.cursors[msg.Account+"/"+msg.Folder] = cur
	return true, nil
}

func (f *fakeLedger) Advance(_ context.Context, account, messageID string, newState models.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key(account, messageID)]
	if !ok {
		return fmt.Errorf("no entry for %s/%s", account, messageID)
	}
	if e.State.Terminal() {
		return fmt.Errorf("entry already terminal (%s)", e.State)
	}
	if newState.Rank() <= e.State.Rank() {
		return fmt.Errorf("%s -> %s is not forward", e.State, newState)
	}
	e.State = newState
	return nil
}

func (f *fakeLedger) Fail(_ context.Context, account, messageID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key(account, messageID)]
	if !ok || e.State.Terminal() {
		return nil
	}
	e.State = models.StateFailed
	e.FailReason = reason
	return nil
}

func (f *fakeLedger) BumpAttempts(_ context.Context, account, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.entries[key(account, messageID)]; ok {
		e.Attempts++
	}
	return nil
}

func (f *fakeLedger) Get(_ context.Context, account, messageID string) (*ledger.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key(account, messageID)]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (f *fakeLedger) GetMessage(_ context.Context, account, messageID string) (*models.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[key(account, messageID)], nil
}

func (f *fakeLedger) Cursor(_ context.Context, account, folder string) (uint32, uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur := f.cursors[account+"/"+folder]
	return cur[0], cur[1], nil
}

func (f *fakeLedger) ResetCursor(_ context.Context, account, folder string, uidValidity uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors[account+"/"+folder] = [2]uint32{uidValidity, 0}
	return nil
}

func (f *fakeLedger) SaveClassification(_ context.Context, account string, c models.Classification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(account, c.MessageID)
	if _, ok := f.classifications[k]; !ok {
		f.classifications[k] = c
	}
	return nil
}

func (f *fakeLedger) GetClassification(_ context.Context, account, messageID string) (*models.Classification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.classifications[key(account, messageID)]; ok {
		return &c, nil
	}
	return nil, nil
}

func (f *fakeLedger) SaveEntities(_ context.Context, account string, set models.EntitySet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(account, set.MessageID)
	if _, ok := f.entitySets[k]; !ok {
		f.entitySets[k] = set
	}
	return nil
}

func (f *fakeLedger) GetEntities(_ context.Context, account, messageID string) (*models.EntitySet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.entitySets[key(account, messageID)]; ok {
		return &s, nil
	}
	return nil, nil
}

func (f *fakeLedger) SaveMatches(_ context.Context, account, messageID, _ string, matches []models.MatchResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(account, messageID)
	if _, ok := f.matches[k]; !ok {
		if matches == nil {
			matches = []models.MatchResult{}
		}
		f.matches[k] = matches
	}
	return nil
}

func (f *fakeLedger) GetMatches(_ context.Context, account, messageID string) ([]models.MatchResult, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.matches[key(account, messageID)]
	return m, ok, nil
}

func (f *fakeLedger) state(account, messageID string) models.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.entries[key(account, messageID)]; ok {
		return e.State
	}
	return ""
}

// fakeOpps stores opportunities keyed by dedup key.
type fakeOpps struct {
	mu               sync.Mutex
	nextID           int64
	byKey            map[string]*models.Opportunity
	failMarkNotified int
}

func newFakeOpps() *fakeOpps {
	return &fakeOpps{byKey: map[string]*models.Opportunity{}}
}

func (f *fakeOpps) Save(_ context.Context, opp *models.Opportunity) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.byKey[opp.DedupKey]; ok {
		opp.ID = existing.ID
		return false, nil
	}
	f.nextID++
	opp.ID = f.nextID
	cp := *opp
	f.byKey[opp.DedupKey] = &cp
	return true, nil
}

func (f *fakeOpps) GetByDedupKey(_ context.Context, dedupKey string) (*models.Opportunity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.byKey[dedupKey]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOpps) MarkNotified(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failMarkNotified > 0 {
		f.failMarkNotified--
		return fmt.Errorf("mark notified: connection reset")
	}
	for _, o := range f.byKey {
		if o.ID == id {
			o.Notified = true
		}
	}
	return nil
}

func (f *fakeOpps) ListUnnotified(_ context.Context, limit int) ([]models.Opportunity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Opportunity
	for _, o := range f.byKey {
		if o.Alerted && !o.Notified && len(out) < limit {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeOpps) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byKey)
}

func (f *fakeOpps) notifiedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, o := range f.byKey {
		if o.Notified {
			n++
		}
	}
	return n
}

// fakeJobs records queue traffic instead of talking to Redis.
type fakeJobs struct {
	mu       sync.Mutex
	enqueued []queue.Job
	delayed  []queue.Job
	dead     []queue.DeadJob
}

func (f *fakeJobs) Enqueue(_ context.Context, job queue.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, job)
	return nil
}

func (f *fakeJobs) EnqueueAfter(_ context.Context, job queue.Job, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delayed = append(f.delayed, job)
	return nil
}

func (f *fakeJobs) Dequeue(_ context.Context, _ time.Duration) (*queue.Job, error) {
	return nil, nil
}

func (f *fakeJobs) DeadLetter(_ context.Context, job queue.Job, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dead = append(f.dead, queue.DeadJob{Job: job, Reason: reason})
	return nil
}

// fakeLease grants or denies every acquisition.
type fakeLease struct {
	deny     bool
	acquired []string
	released []string
}

func (f *fakeLease) Acquire(_ context.Context, key string) (string, bool, error) {
	if f.deny {
		return "", false, nil
	}
	f.acquired = append(f.acquired, key)
	return "token-" + key, true, nil
}

func (f *fakeLease) Release(_ context.Context, key, _ string) error {
	f.released = append(f.released, key)
	return nil
}

// fakeWindow admits each dedup key once.
type fakeWindow struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeWindow() *fakeWindow { return &fakeWindow{seen: map[string]bool{}} }

func (f *fakeWindow) IsNew(_ context.Context, dedupKey string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen[dedupKey] {
		return false, nil
	}
	f.seen[dedupKey] = true
	return true, nil
}

// recordingNotifier captures alerts; fails while failing is true.
type recordingNotifier struct {
	mu      sync.Mutex
	failing bool
	sent    []models.Opportunity
}

func (n *recordingNotifier) Notify(_ context.Context, opp *models.Opportunity) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failing {
		return fmt.Errorf("webhook unreachable")
	}
	n.sent = append(n.sent, *opp)
	return nil
}

// stubClassifier returns a fixed classification or error.
type stubClassifier struct {
	c     models.Classification
	err   error
	calls int
}

func (s *stubClassifier) Classify(_ context.Context, msg *models.RawMessage) (models.Classification, error) {
	s.calls++
	if s.err != nil {
		return models.Classification{}, s.err
	}
	c := s.c
	c.MessageID = msg.MessageID
	return c, nil
}

func (s *stubClassifier) Version() string { return "stub/v1" }

// stubExtractor returns a fixed entity set.
type stubExtractor struct {
	set   models.EntitySet
	err   error
	calls int
}

func (s *stubExtractor) Extract(_ context.Context, msg *models.RawMessage) (models.EntitySet, error) {
	s.calls++
	if s.err != nil {
		return models.EntitySet{}, s.err
	}
	set := s.set
	set.MessageID = msg.MessageID
	return set, nil
}

func (s *stubExtractor) Version() string { return "stub/v1" }
