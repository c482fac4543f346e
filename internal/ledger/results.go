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

package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bambinounos/eia/internal/faults"
	"github.com/bambinounos/eia/internal/models"
)

// Stage results are persisted next to the ledger so a redelivered job
// resumes from the last durable stage instead of re-invoking the backend.

// SaveClassification stores the classification stage output.
func (s *Store) SaveClassification(ctx context.Context, account string, c models.Classification) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO classifications (account, message_id, intent, confidence, model_version, classified_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account, message_id) DO NOTHING
	`, account, c.MessageID, c.Intent, c.Confidence, c.ModelVersion, c.ClassifiedAt)
	if err != nil {
		return faults.Storage(fmt.Errorf("save classification: %w", err))
	}
	return nil
}

// GetClassification loads the stored classification, or nil when absent.
func (s *Store) GetClassification(ctx context.Context, account, messageID string) (*models.Classification, error) {
	var c models.Classification
	err := s.pool.QueryRow(ctx, `
		SELECT message_id, intent, confidence, model_version, classified_at
		FROM classifications
		WHERE account = $1 AND message_id = $2
	`, account, messageID).Scan(&c.MessageID, &c.Intent, &c.Confidence, &c.ModelVersion, &c.ClassifiedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, faults.Storage(fmt.Errorf("read classification: %w", err))
	}
	return &c, nil
}

// SaveEntities stores the extraction stage output.
func (s *Store) SaveEntities(ctx context.Context, account string, set models.EntitySet) error {
	payload, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("marshal entity set: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO entity_sets (account, message_id, payload, model_version)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account, message_id) DO NOTHING
	`, account, set.MessageID, payload, set.ModelVersion)
	if err != nil {
		return faults.Storage(fmt.Errorf("save entity set: %w", err))
	}
	return nil
}

// GetEntities loads the stored entity set, or nil when absent.
func (s *Store) GetEntities(ctx context.Context, account, messageID string) (*models.EntitySet, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `
		SELECT payload FROM entity_sets WHERE account = $1 AND message_id = $2
	`, account, messageID).Scan(&payload)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, faults.Storage(fmt.Errorf("read entity set: %w", err))
	}
	var set models.EntitySet
	if err := json.Unmarshal(payload, &set); err != nil {
		return nil, fmt.Errorf("unmarshal entity set: %w", err)
	}
	return &set, nil
}

// SaveMatches stores the matcher output with the snapshot version used.
func (s *Store) SaveMatches(ctx context.Context, account, messageID, snapshotVersion string, matches []models.MatchResult) error {
	payload, err := json.Marshal(matches)
	if err != nil {
		return fmt.Errorf("marshal matches: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO match_results (account, message_id, payload, snapshot_version)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account, message_id) DO NOTHING
	`, account, messageID, payload, snapshotVersion)
	if err != nil {
		return faults.Storage(fmt.Errorf("save matches: %w", err))
	}
	return nil
}

// GetMatches loads stored matches. found=false when the matcher stage has
// not completed for this message (an empty match list is still found).
func (s *Store) GetMatches(ctx context.Context, account, messageID string) ([]models.MatchResult, bool, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `
		SELECT payload FROM match_results WHERE account = $1 AND message_id = $2
	`, account, messageID).Scan(&payload)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, faults.Storage(fmt.Errorf("read matches: %w", err))
	}
	var matches []models.MatchResult
	if err := json.Unmarshal(payload, &matches); err != nil {
		return nil, false, fmt.Errorf("unmarshal matches: %w", err)
	}
	return matches, true, nil
}
