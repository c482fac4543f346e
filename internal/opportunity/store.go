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

package opportunity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bambinounos/eia/internal/faults"
	"github.com/bambinounos/eia/internal/models"
)

// Store persists opportunities in Postgres. The dedup_key unique
// constraint is what makes opportunity generation idempotent: a second
// insert with the same key is reported as suppressed, never an error.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore prepares the opportunities schema.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure opportunities schema: %w", err)
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS opportunities (
			id BIGSERIAL PRIMARY KEY,
			message_id TEXT NOT NULL,
			account TEXT NOT NULL,
			sender TEXT NOT NULL,
			subject TEXT NOT NULL DEFAULT '',
			payload JSONB NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			composite_score DOUBLE PRECISION NOT NULL,
			alerted BOOLEAN NOT NULL DEFAULT FALSE,
			notified BOOLEAN NOT NULL DEFAULT FALSE,
			dedup_key TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL DEFAULT 'pending_review',
			detected_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_opportunities_status ON opportunities (status, detected_at DESC);
		CREATE INDEX IF NOT EXISTS idx_opportunities_notified ON opportunities (notified) WHERE NOT notified;
	`)
	return err
}

// payloadDoc is the JSONB column shape; scalar columns stay queryable.
type payloadDoc struct {
	Classification models.Classification `json:"classification"`
	Entities       models.EntitySet      `json:"entities"`
	Matches        []models.MatchResult  `json:"matches"`
}

// Save inserts the opportunity if its dedup key is unseen, carrying the
// Alerted decision into the row so delivery state survives a crash.
// created is false when an existing row suppressed the insert; the
// existing row's id is returned either way.
func (s *Store) Save(ctx context.Context, opp *models.Opportunity) (created bool, err error) {
	payload, err := json.Marshal(payloadDoc{
		Classification: opp.Classification,
		Entities:       opp.Entities,
		Matches:        opp.Matches,
	})
	if err != nil {
		return false, fmt.Errorf("marshal opportunity payload: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO opportunities
			(message_id, account, sender, subject, payload, summary, composite_score, alerted, dedup_key, status, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (dedup_key) DO NOTHING
		RETURNING id
	`, opp.MessageID, opp.Account, opp.Sender, opp.Subject, payload, opp.Summary,
		opp.CompositeScore, opp.Alerted, opp.DedupKey, opp.Status, opp.DetectedAt).Scan(&opp.ID)
	if err == pgx.ErrNoRows {
		row := s.pool.QueryRow(ctx, `SELECT id FROM opportunities WHERE dedup_key = $1`, opp.DedupKey)
		if err := row.Scan(&opp.ID); err != nil {
			return false, faults.Storage(fmt.Errorf("load suppressed opportunity: %w", err))
		}
		return false, nil
	}
	if err != nil {
		return false, faults.Storage(fmt.Errorf("insert opportunity: %w", err))
	}
	return true, nil
}

// GetByDedupKey loads the row holding a dedup key, nil when absent.
func (s *Store) GetByDedupKey(ctx context.Context, dedupKey string) (*models.Opportunity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, message_id, account, sender, subject, payload, summary,
		       composite_score, alerted, notified, dedup_key, status, detected_at
		FROM opportunities
		WHERE dedup_key = $1
	`, dedupKey)
	if err != nil {
		return nil, faults.Storage(fmt.Errorf("load opportunity by dedup key: %w", err))
	}
	defer rows.Close()
	opps, err := collectOpportunities(rows)
	if err != nil {
		return nil, err
	}
	if len(opps) == 0 {
		return nil, nil
	}
	return &opps[0], nil
}

// MarkNotified records successful webhook delivery.
func (s *Store) MarkNotified(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE opportunities SET notified = TRUE WHERE id = $1`, id)
	if err != nil {
		return faults.Storage(fmt.Errorf("mark notified: %w", err))
	}
	return nil
}

// SetStatus moves an opportunity through review.
func (s *Store) SetStatus(ctx context.Context, id int64, status string) error {
	switch status {
	case models.StatusPendingReview, models.StatusApproved, models.StatusDiscarded:
	default:
		return fmt.Errorf("unknown status %q", status)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE opportunities SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return faults.Storage(fmt.Errorf("set status: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("opportunity %d not found", id)
	}
	return nil
}

// ListUnnotified returns alerted opportunities whose webhook delivery is
// still outstanding, oldest first.
func (s *Store) ListUnnotified(ctx context.Context, limit int) ([]models.Opportunity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, message_id, account, sender, subject, payload, summary,
		       composite_score, alerted, notified, dedup_key, status, detected_at
		FROM opportunities
		WHERE alerted AND NOT notified
		ORDER BY detected_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, faults.Storage(fmt.Errorf("list unnotified: %w", err))
	}
	defer rows.Close()
	return collectOpportunities(rows)
}

// List returns recent opportunities, optionally filtered by status.
func (s *Store) List(ctx context.Context, status string, limit int) ([]models.Opportunity, error) {
	query := `
		SELECT id, message_id, account, sender, subject, payload, summary,
		       composite_score, alerted, notified, dedup_key, status, detected_at
		FROM opportunities
	`
	args := []any{limit}
	if status != "" {
		query += ` WHERE status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY detected_at DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, faults.Storage(fmt.Errorf("list opportunities: %w", err))
	}
	defer rows.Close()
	return collectOpportunities(rows)
}

func collectOpportunities(rows pgx.Rows) ([]models.Opportunity, error) {
	var out []models.Opportunity
	for rows.Next() {
		var (
			opp     models.Opportunity
			payload []byte
		)
		if err := rows.Scan(&opp.ID, &opp.MessageID, &opp.Account, &opp.Sender, &opp.Subject,
			&payload, &opp.Summary, &opp.CompositeScore, &opp.Alerted, &opp.Notified,
			&opp.DedupKey, &opp.Status, &opp.DetectedAt); err != nil {
			return nil, faults.Storage(fmt.Errorf("scan opportunity: %w", err))
		}
		var doc payloadDoc
		if err := json.Unmarshal(payload, &doc); err != nil {
			return nil, fmt.Errorf("unmarshal opportunity payload: %w", err)
		}
		opp.Classification = doc.Classification
		opp.Entities = doc.Entities
		opp.Matches = doc.Matches
		out = append(out, opp)
	}
	return out, rows.Err()
}
