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

// EIA — Historical Backfill Command
//
// Standalone CLI tool that re-ingests an account's folders from the
// beginning of the mailbox, ignoring the saved cursor. The ledger's
// Message-ID dedup keeps already processed mail from running twice, so
// the tool is safe on a live deployment. It can also re-enqueue ledger
// entries stranded in a non-terminal state by a crash.
//
// Usage:
//
//	go run ./cmd/backfill/ --account buyer@example.com [--folders INBOX,Archive] [--requeue-stuck]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/bambinounos/eia/internal/config"
	"github.com/bambinounos/eia/internal/ledger"
	"github.com/bambinounos/eia/internal/mailbox"
	"github.com/bambinounos/eia/internal/models"
	"github.com/bambinounos/eia/internal/queue"
)

const requeueBatch = 500

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	accountFlag := flag.String("account", "", "Account email to backfill (required)")
	foldersFlag := flag.String("folders", "", "Comma-separated folder list (optional; empty = configured folders)")
	requeueFlag := flag.Bool("requeue-stuck", false, "Re-enqueue ledger entries stuck in a non-terminal state")
	flag.Parse()

	if *accountFlag == "" {
		fmt.Fprintf(os.Stderr, "Error: --account is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	var acc *config.Account
	for i := range cfg.Accounts {
		if cfg.Accounts[i].Email == *accountFlag {
			acc = &cfg.Accounts[i]
			break
		}
	}
	if acc == nil {
		slog.Error("account not found in configuration", "account", *accountFlag)
		os.Exit(1)
	}

	folders := acc.Folders
	if *foldersFlag != "" {
		folders = nil
		for _, f := range strings.Split(*foldersFlag, ",") {
			if f = strings.TrimSpace(f); f != "" {
				folders = append(folders, f)
			}
		}
	}

	slog.Info("starting historical backfill", "account", acc.Email, "folders", folders)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	ledgerStore, err := ledger.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise ledger store", "error", err)
		os.Exit(1)
	}

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	jobs := queue.New(rdb)
	if err := jobs.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	if *requeueFlag {
		n, err := requeueStuck(ctx, ledgerStore, jobs, acc.Email)
		if err != nil {
			slog.Error("requeue failed", "error", err)
			os.Exit(1)
		}
		slog.Info("stuck entries re-enqueued", "count", n)
	}

	// --- Full Rescan ---
	mbAccount := mailbox.Account{
		Email:    acc.Email,
		Password: acc.Password,
		Host:     acc.Host,
		Port:     acc.Port,
		UseSSL:   acc.UseSSL,
	}
	if acc.OAuthTokenURL != "" {
		mbAccount.Tokens = mailbox.NewClientCredentialsTokens(
			acc.OAuthClientID, acc.OAuthClientSecret, acc.OAuthTokenURL,
			strings.Fields(acc.OAuthScope))
	}
	connector := mailbox.NewConnector()

	var totalNew, totalDup int
	for _, folder := range folders {
		h := &backfillHandler{ledger: ledgerStore, jobs: jobs, account: acc.Email, folder: folder}
		// LastUID zero re-lists the whole folder; the ledger drops dups.
		if err := connector.FetchNew(ctx, mbAccount, folder, mailbox.Cursor{}, h); err != nil {
			slog.Error("backfill fetch failed", "folder", folder, "error", err)
			os.Exit(1)
		}
		slog.Info("folder backfilled", "folder", folder, "new", h.recorded, "skipped", h.duplicates)
		totalNew += h.recorded
		totalDup += h.duplicates
	}

	slog.Info("backfill complete",
		"account", acc.Email,
		"total_new", totalNew,
		"total_skipped", totalDup,
	)
}

// requeueStuck re-enqueues process jobs for entries a crash left mid-pipeline.
func requeueStuck(ctx context.Context, store *ledger.Store, jobs *queue.Queue, account string) (int, error) {
	stuck := []models.State{
		models.StateFetched, models.StateClassified, models.StateExtracted, models.StateMatched,
	}
	n := 0
	for _, state := range stuck {
		entries, err := store.ListByState(ctx, state, requeueBatch)
		if err != nil {
			return n, err
		}
		for _, e := range entries {
			if e.Account != account {
				continue
			}
			job := queue.NewJob(queue.KindProcess, e.Account)
			job.Folder = e.Folder
			job.MessageID = e.MessageID
			job.UID = e.UID
			if err := jobs.Enqueue(ctx, job); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

// backfillHandler records messages and enqueues process jobs, same as the
// live poll path but without mark-seen.
type backfillHandler struct {
	ledger  *ledger.Store
	jobs    *queue.Queue
	account string
	folder  string

	recorded   int
	duplicates int
}

func (h *backfillHandler) HandleMessage(ctx context.Context, msg *models.RawMessage) error {
	isNew, err := h.ledger.RecordFetched(ctx, msg)
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
	return h.jobs.Enqueue(ctx, job)
}

func (h *backfillHandler) HandleMalformed(ctx context.Context, msg *models.RawMessage, parseErr error) error {
	isNew, err := h.ledger.RecordFetched(ctx, msg)
	if err != nil {
		return err
	}
	if !isNew {
		h.duplicates++
		return nil
	}
	return h.ledger.Fail(ctx, h.account, msg.MessageID, "malformed: "+parseErr.Error())
}

func (h *backfillHandler) CursorInvalid(ctx context.Context, uidValidity uint32) error {
	return h.ledger.ResetCursor(ctx, h.account, h.folder, uidValidity)
}
