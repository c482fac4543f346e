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

package models

import "time"

// State is a ledger entry's processing state. States only advance forward
// (see Rank) or to StateFailed; Completed and Failed are terminal.
type State string

const (
	StateFetched    State = "fetched"
	StateClassified State = "classified"
	StateExtracted  State = "extracted"
	StateMatched    State = "matched"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Rank orders the forward states. Failed is not ranked; it is reachable
// from any non-terminal state.
func (s State) Rank() int {
	switch s {
	case StateFetched:
		return 1
	case StateClassified:
		return 2
	case StateExtracted:
		return 3
	case StateMatched:
		return 4
	case StateCompleted:
		return 5
	default:
		return 0
	}
}

// Terminal reports whether the state permits no further processing.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Intent labels produced by the classification stage.
const (
	IntentOpportunity = "opportunity"
	IntentNoise       = "noise"
	IntentOther       = "other"
)

// Classification is the classification stage's output for one message.
type Classification struct {
	MessageID    string    `json:"message_id"`
	Intent       string    `json:"intent"`
	Confidence   float64   `json:"confidence"`
	ModelVersion string    `json:"model_version"`
	ClassifiedAt time.Time `json:"classified_at"`
}

// Entity types produced by the extraction stage.
const (
	EntityOrganization = "organization"
	EntityProduct      = "product"
	EntityQuantity     = "quantity"
	EntityPrice        = "price"
	EntityContact      = "contact"
	EntityDeadline     = "deadline"
)

// Entity is a single typed span extracted from message text.
type Entity struct {
	Type          string  `json:"type"`
	Text          string  `json:"text"`
	Normalized    string  `json:"normalized"`
	Confidence    float64 `json:"confidence"`
	LowConfidence bool    `json:"low_confidence,omitempty"`
}

// EntitySet is the ordered extraction output for one message. May be empty.
type EntitySet struct {
	MessageID    string   `json:"message_id"`
	Entities     []Entity `json:"entities"`
	ModelVersion string   `json:"model_version"`
}

// Products returns the product-mention entities in extraction order.
func (s EntitySet) Products() []Entity {
	var out []Entity
	for _, e := range s.Entities {
		if e.Type == EntityProduct {
			out = append(out, e)
		}
	}
	return out
}

// First returns the first entity of the given type, if any.
func (s EntitySet) First(entityType string) (Entity, bool) {
	for _, e := range s.Entities {
		if e.Type == entityType {
			return e, true
		}
	}
	return Entity{}, false
}

// Match kinds, ordered from most to least certain.
const (
	MatchExact = "exact"
	MatchAlias = "alias"
	MatchFuzzy = "fuzzy"
)

// MatchResult links one extracted product entity to a catalog entry.
// Ambiguous is set when several entries tied within the matcher's margin;
// callers treat ambiguous matches as lower confidence.
type MatchResult struct {
	EntityText      string  `json:"entity_text"`
	EntryID         string  `json:"entry_id"`
	EntryName       string  `json:"entry_name"`
	Score           float64 `json:"score"`
	Kind            string  `json:"kind"`
	Ambiguous       bool    `json:"ambiguous,omitempty"`
	SnapshotVersion string  `json:"snapshot_version"`
}

// Opportunity review statuses.
const (
	StatusPendingReview = "pending_review"
	StatusApproved      = "approved"
	StatusDiscarded     = "discarded"
)

// Opportunity is the terminal business-relevant record for a message whose
// classification and matches cleared evaluation. At most one Opportunity
// exists per DedupKey within its dedup window.
type Opportunity struct {
	ID             int64          `json:"id"`
	MessageID      string         `json:"message_id"`
	Account        string         `json:"account"`
	Sender         string         `json:"sender"`
	Subject        string         `json:"subject"`
	Classification Classification `json:"classification"`
	Entities       EntitySet      `json:"entities"`
	Matches        []MatchResult  `json:"matches"`
	Summary        string         `json:"summary"`
	CompositeScore float64        `json:"composite_score"`
	Alerted        bool           `json:"alerted"`
	Notified       bool           `json:"notified"`
	DedupKey       string         `json:"dedup_key"`
	Status         string         `json:"status"`
	DetectedAt     time.Time      `json:"detected_at"`
}
