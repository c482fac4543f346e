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

// Package scheduler turns wall-clock time into queue jobs. It only
// enqueues; all real work happens in the worker pool, so a slow poll
// never delays the next tick of another account.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bambinounos/eia/internal/config"
	"github.com/bambinounos/eia/internal/queue"
)

// notifyRetryInterval sweeps for alerts whose delivery failed.
const notifyRetryInterval = 5 * time.Minute

// Refresher re-reads an external resource; the catalog store satisfies it.
type Refresher interface {
	Refresh() error
}

// Scheduler owns the cron table for polling, catalog refresh, and
// notification retry.
type Scheduler struct {
	cron    *cron.Cron
	queue   *queue.Queue
	catalog Refresher
}

// New builds a scheduler over the queue and catalog.
func New(q *queue.Queue, catalog Refresher) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		queue:   q,
		catalog: catalog,
	}
}

// Register sets up the cron entries for every account folder plus the
// maintenance jobs.
func (s *Scheduler) Register(ctx context.Context, accounts []config.Account, refreshInterval time.Duration) error {
	for _, acc := range accounts {
		acc := acc
		spec := fmt.Sprintf("@every %s", acc.PollInterval.Std())
		for _, folder := range acc.Folders {
			folder := folder
			if _, err := s.cron.AddFunc(spec, func() {
				s.enqueuePoll(ctx, acc.Email, folder)
			}); err != nil {
				return fmt.Errorf("schedule poll %s/%s: %w", acc.Email, folder, err)
			}
		}
		slog.Info("account polling scheduled",
			"account", acc.Email, "folders", acc.Folders, "interval", acc.PollInterval.Std())
	}

	if s.catalog != nil && refreshInterval > 0 {
		spec := fmt.Sprintf("@every %s", refreshInterval)
		if _, err := s.cron.AddFunc(spec, func() {
			if err := s.catalog.Refresh(); err != nil {
				slog.Warn("scheduled catalog refresh failed", "error", err)
			}
		}); err != nil {
			return fmt.Errorf("schedule catalog refresh: %w", err)
		}
	}

	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", notifyRetryInterval), func() {
		job := queue.NewJob(queue.KindNotify, "")
		if err := s.queue.Enqueue(ctx, job); err != nil {
			slog.Warn("notify sweep enqueue failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule notify sweep: %w", err)
	}
	return nil
}

// Start begins ticking and immediately enqueues one poll per folder so
// a fresh deployment does not wait a full interval for its first scan.
func (s *Scheduler) Start(ctx context.Context, accounts []config.Account) {
	for _, acc := range accounts {
		for _, folder := range acc.Folders {
			s.enqueuePoll(ctx, acc.Email, folder)
		}
	}
	s.cron.Start()
}

// Stop halts the cron table and waits for in-flight entries.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) enqueuePoll(ctx context.Context, account, folder string) {
	job := queue.NewJob(queue.KindPoll, account)
	job.Folder = folder
	if err := s.queue.Enqueue(ctx, job); err != nil {
		slog.Warn("poll enqueue failed", "account", account, "folder", folder, "error", err)
	}
}
