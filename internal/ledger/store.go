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

// Package ledger provides the Postgres-backed ingestion ledger: the single
// source of truth for which messages have been fetched and how far each
// one has progressed. Its insert-if-absent primitive is what makes the
// at-least-once queue safe — a redelivered job observes duplicate/terminal
// state here and exits without side effects.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bambinounos/eia/internal/faults"
	"github.com/bambinounos/eia/internal/models"
)

// Entry is one ledger row: the processing state of (account, Message-ID).
type Entry struct {
	ID         int64
	Account    string
	MessageID  string
	Folder     string
	UID        uint32
	State      models.State
	FailReason string
	Attempts   int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Store provides ledger operations backed by Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a ledger store and ensures its schema exists.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure ledger schema: %w", err)
	}
	slog.Info("ledger store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ledger_entries (
			id          BIGSERIAL PRIMARY KEY,
			account     TEXT NOT NULL,
			message_id  TEXT NOT NULL,
			folder      TEXT NOT NULL DEFAULT '',
			uid         BIGINT NOT NULL DEFAULT 0,
			state       TEXT NOT NULL DEFAULT 'fetched',
			fail_reason TEXT NOT NULL DEFAULT '',
			attempts    INT NOT NULL DEFAULT 0,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(account, message_id)
		);
		CREATE INDEX IF NOT EXISTS idx_ledger_state ON ledger_entries(state);
		CREATE INDEX IF NOT EXISTS idx_ledger_account ON ledger_entries(account);

		CREATE TABLE IF NOT EXISTS messages (
			account    TEXT NOT NULL,
			message_id TEXT NOT NULL,
			payload    JSONB NOT NULL,
			fetched_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (account, message_id)
		);

		CREATE TABLE IF NOT EXISTS mailbox_cursors (
			account      TEXT NOT NULL,
			folder       TEXT NOT NULL,
			uid_validity BIGINT NOT NULL DEFAULT 0,
			last_uid     BIGINT NOT NULL DEFAULT 0,
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (account, folder)
		);

		CREATE TABLE IF NOT EXISTS classifications (
			account       TEXT NOT NULL,
			message_id    TEXT NOT NULL,
			intent        TEXT NOT NULL,
			confidence    DOUBLE PRECISION NOT NULL,
			model_version TEXT NOT NULL,
			classified_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (account, message_id)
		);

		CREATE TABLE IF NOT EXISTS entity_sets (
			account       TEXT NOT NULL,
			message_id    TEXT NOT NULL,
			payload       JSONB NOT NULL,
			model_version TEXT NOT NULL,
			PRIMARY KEY (account, message_id)
		);

		CREATE TABLE IF NOT EXISTS match_results (
			account          TEXT NOT NULL,
			message_id       TEXT NOT NULL,
			payload          JSONB NOT NULL,
			snapshot_version TEXT NOT NULL,
			PRIMARY KEY (account, message_id)
		);
	`)
	return err
}

// RecordFetched records a newly fetched message: the ledger entry, the raw
// payload, and the cursor advance happen in one transaction so a crash
// between fetch and record never loses or duplicates a message. Returns
// new=false (and writes nothing) when the (account, Message-ID) pair is
// already recorded.
func (s *Store) RecordFetched(ctx context.Context, msg *models.RawMessage) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, faults.Storage(fmt.Errorf("begin record tx: %w", err))
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO ledger_entries (account, message_id, folder, uid, state)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account, message_id) DO NOTHING
	`, msg.Account, msg.MessageID, msg.Folder, int64(msg.UID), models.StateFetched)
	if err != nil {
		return false, faults.Storage(fmt.Errorf("insert ledger entry: %w", err))
	}
	if tag.RowsAffected() == 0 {
		// Duplicate: the cursor already covers this UID, nothing to do.
		return false, nil
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return false, faults.Malformed(fmt.Errorf("marshal message: %w", err))
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO messages (account, message_id, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (account, message_id) DO NOTHING
	`, msg.Account, msg.MessageID, payload); err != nil {
		return false, faults.Storage(fmt.Errorf("insert message payload: %w", err))
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO mailbox_cursors (account, folder, uid_validity, last_uid)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account, folder) DO UPDATE SET
			last_uid   = GREATEST(mailbox_cursors.last_uid, EXCLUDED.last_uid),
			updated_at = NOW()
	`, msg.Account, msg.Folder, int64(msg.UIDValidity), int64(msg.UID)); err != nil {
		return false, faults.Storage(fmt.Errorf("advance cursor: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return false, faults.Storage(fmt.Errorf("commit record tx: %w", err))
	}
	return true, nil
}

// Advance moves an entry forward. Transitions must increase the state
// rank; a backwards or repeated advance returns an error and writes
// nothing, which keeps redelivered jobs from rewinding the ledger.
func (s *Store) Advance(ctx context.Context, account, messageID string, newState models.State) error {
	if newState.Rank() == 0 {
		return fmt.Errorf("advance to unranked state %q", newState)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return faults.Storage(fmt.Errorf("begin advance tx: %w", err))
	}
	defer tx.Rollback(ctx)

	var current models.State
	err = tx.QueryRow(ctx, `
		SELECT state FROM ledger_entries
		WHERE account = $1 AND message_id = $2
		FOR UPDATE
	`, account, messageID).Scan(&current)
	if err == pgx.ErrNoRows {
		return fmt.Errorf("advance: no ledger entry for %s/%s", account, messageID)
	}
	if err != nil {
		return faults.Storage(fmt.Errorf("lock ledger entry: %w", err))
	}

	if current.Terminal() {
		return fmt.Errorf("advance: entry %s/%s already terminal (%s)", account, messageID, current)
	}
	if newState.Rank() <= current.Rank() {
		return fmt.Errorf("advance: %s -> %s is not forward", current, newState)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE ledger_entries
		SET state = $1, updated_at = NOW()
		WHERE account = $2 AND message_id = $3
	`, newState, account, messageID); err != nil {
		return faults.Storage(fmt.Errorf("advance ledger entry: %w", err))
	}
	if err := tx.Commit(ctx); err != nil {
		return faults.Storage(fmt.Errorf("commit advance tx: %w", err))
	}
	return nil
}

// Fail marks an entry failed with a reason. Failing an already terminal
// entry is a no-op so redelivered jobs stay idempotent.
func (s *Store) Fail(ctx context.Context, account, messageID, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE ledger_entries
		SET state = $1, fail_reason = $2, updated_at = NOW()
		WHERE account = $3 AND message_id = $4
		  AND state NOT IN ($5, $1)
	`, models.StateFailed, reason, account, messageID, models.StateCompleted)
	if err != nil {
		return faults.Storage(fmt.Errorf("fail ledger entry: %w", err))
	}
	return nil
}

// BumpAttempts increments the redelivery counter for observability.
func (s *Store) BumpAttempts(ctx context.Context, account, messageID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE ledger_entries
		SET attempts = attempts + 1, updated_at = NOW()
		WHERE account = $1 AND message_id = $2
	`, account, messageID)
	if err != nil {
		return faults.Storage(fmt.Errorf("bump attempts: %w", err))
	}
	return nil
}

// Get retrieves one entry, or nil when absent.
func (s *Store) Get(ctx context.Context, account, messageID string) (*Entry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, account, message_id, folder, uid, state, fail_reason,
		       attempts, created_at, updated_at
		FROM ledger_entries
		WHERE account = $1 AND message_id = $2
	`, account, messageID)
	return scanEntry(row)
}

// IsTerminal reports whether the entry reached Completed or Failed.
// An absent entry is not terminal.
func (s *Store) IsTerminal(ctx context.Context, account, messageID string) (bool, error) {
	e, err := s.Get(ctx, account, messageID)
	if err != nil {
		return false, err
	}
	return e != nil && e.State.Terminal(), nil
}

// ListByState returns up to limit entries in the given state, oldest first.
func (s *Store) ListByState(ctx context.Context, state models.State, limit int) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, account, message_id, folder, uid, state, fail_reason,
		       attempts, created_at, updated_at
		FROM ledger_entries
		WHERE state = $1
		ORDER BY updated_at
		LIMIT $2
	`, state, limit)
	if err != nil {
		return nil, faults.Storage(fmt.Errorf("list ledger entries: %w", err))
	}
	defer rows.Close()
	return collectEntries(rows)
}

// Cursor returns the persisted (uidValidity, lastUID) for a folder.
// Both are zero when the folder has never been polled.
func (s *Store) Cursor(ctx context.Context, account, folder string) (uint32, uint32, error) {
	var validity, lastUID int64
	err := s.pool.QueryRow(ctx, `
		SELECT uid_validity, last_uid FROM mailbox_cursors
		WHERE account = $1 AND folder = $2
	`, account, folder).Scan(&validity, &lastUID)
	if err == pgx.ErrNoRows {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, faults.Storage(fmt.Errorf("read cursor: %w", err))
	}
	return uint32(validity), uint32(lastUID), nil
}

// ResetCursor records a new UIDVALIDITY generation and rewinds the UID
// cursor. The Message-ID-keyed ledger still suppresses duplicates from
// the re-listed mailbox.
func (s *Store) ResetCursor(ctx context.Context, account, folder string, uidValidity uint32) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mailbox_cursors (account, folder, uid_validity, last_uid)
		VALUES ($1, $2, $3, 0)
		ON CONFLICT (account, folder) DO UPDATE SET
			uid_validity = EXCLUDED.uid_validity,
			last_uid     = 0,
			updated_at   = NOW()
	`, account, folder, int64(uidValidity))
	if err != nil {
		return faults.Storage(fmt.Errorf("reset cursor: %w", err))
	}
	return nil
}

// GetMessage loads the stored raw payload for a message reference.
func (s *Store) GetMessage(ctx context.Context, account, messageID string) (*models.RawMessage, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `
		SELECT payload FROM messages WHERE account = $1 AND message_id = $2
	`, account, messageID).Scan(&payload)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, faults.Storage(fmt.Errorf("read message payload: %w", err))
	}
	var msg models.RawMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, faults.Malformed(fmt.Errorf("unmarshal message payload: %w", err))
	}
	return &msg, nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var uid int64
	err := row.Scan(
		&e.ID, &e.Account, &e.MessageID, &e.Folder, &uid, &e.State,
		&e.FailReason, &e.Attempts, &e.CreatedAt, &e.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, faults.Storage(fmt.Errorf("scan ledger entry: %w", err))
	}
	e.UID = uint32(uid)
	return &e, nil
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var e Entry
		var uid int64
		if err := rows.Scan(
			&e.ID, &e.Account, &e.MessageID, &e.Folder, &uid, &e.State,
			&e.FailReason, &e.Attempts, &e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, faults.Storage(fmt.Errorf("scan ledger entry: %w", err))
		}
		e.UID = uint32(uid)
		out = append(out, e)
	}
	return out, rows.Err()
}
