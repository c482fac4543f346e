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

	"github.com/bambinounos/eia/internal/faults"
	"github.com/bambinounos/eia/internal/mailbox"
	"github.com/bambinounos/eia/internal/models"
	"github.com/bambinounos/eia/internal/queue"
)

// poll fetches new messages for one account folder and enqueues a
// process job per newly recorded message.
func (w *Worker) poll(ctx context.Context, job queue.Job) error {
	if w.AccountDisabled(job.Account) {
		slog.Debug("skipping poll for disabled account", "account", job.Account)
		return nil
	}
	w.mu.Lock()
	acc, ok := w.accounts[job.Account]
	w.mu.Unlock()
	if !ok {
		return faults.Malformed(fmt.Errorf("poll for unknown account %q", job.Account))
	}

	validity, lastUID, err := w.deps.Ledger.Cursor(ctx, job.Account, job.Folder)
	if err != nil {
		return err
	}

	h := &ingestHandler{worker: w, account: job.Account, folder: job.Folder}
	if err := w.fetcher.FetchNew(ctx, acc, job.Folder,
		mailbox.Cursor{UIDValidity: validity, LastUID: lastUID}, h); err != nil {
		return err
	}
	if h.recorded > 0 || h.duplicates > 0 {
		slog.Info("poll finished",
			"account", job.Account, "folder", job.Folder,
			"new", h.recorded, "duplicates", h.duplicates)
	}
	return nil
}

// ingestHandler receives the connector's messages and writes them
// through the ledger. Enqueue happens after RecordFetched commits, so a
// crash between the two at worst loses the job, and the next poll's
// duplicate detection has already advanced the cursor past the message;
// the backfill command re-enqueues any ledger entries stuck in fetched.
type ingestHandler struct {
	worker  *Worker
	account string
	folder  string

	recorded   int
	duplicates int
}

func (h *ingestHandler) HandleMessage(ctx context.Context, msg *models.RawMessage) error {
	isNew, err := h.worker.deps.Ledger.RecordFetched(ctx, msg)
	if err != nil {
		return err
	}
	if !isNew {
		h.duplicates++
		return nil
	}
	h.recorded++

	job := queue.NewJob(queue.KindProcess, h.account)
	job.Folder = h.folder
	job.MessageID = msg.MessageID
	job.UID = msg.UID
	return h.worker.deps.Jobs.Enqueue(ctx, job)
}

func (h *ingestHandler) HandleMalformed(ctx context.Context, msg *models.RawMessage, parseErr error) error {
	isNew, err := h.worker.deps.Ledger.RecordFetched(ctx, msg)
	if err != nil {
		return err
	}
	if !isNew {
		h.duplicates++
		return nil
	}
	// Recorded so the cursor advances past it, then failed so it never
	// enters the pipeline.
	return h.worker.deps.Ledger.Fail(ctx, h.account, msg.MessageID, "malformed: "+parseErr.Error())
}

func (h *ingestHandler) CursorInvalid(ctx context.Context, uidValidity uint32) error {
	return h.worker.deps.Ledger.ResetCursor(ctx, h.account, h.folder, uidValidity)
}
