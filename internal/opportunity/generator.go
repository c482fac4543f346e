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

// Package opportunity turns completed pipeline output into durable,
// deduplicated opportunity records.
package opportunity

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/bambinounos/eia/internal/models"
)

// ambiguousFactor discounts matches where several catalog entries tied.
const ambiguousFactor = 0.9

// Generator scores pipeline output and decides whether it clears the
// alert threshold.
type Generator struct {
	Threshold   float64
	ClassWeight float64
	MatchWeight float64
	DedupWindow time.Duration
}

// NewGenerator builds a generator with the alerting policy.
func NewGenerator(threshold, classWeight, matchWeight float64, dedupWindow time.Duration) *Generator {
	return &Generator{
		Threshold:   threshold,
		ClassWeight: classWeight,
		MatchWeight: matchWeight,
		DedupWindow: dedupWindow,
	}
}

// Composite computes the weighted score for a classification plus its
// best match. Ambiguous matches are discounted; no match contributes 0.
func (g *Generator) Composite(c models.Classification, matches []models.MatchResult) float64 {
	best := 0.0
	for _, m := range matches {
		score := m.Score
		if m.Ambiguous {
			score *= ambiguousFactor
		}
		if score > best {
			best = score
		}
	}
	return g.ClassWeight*c.Confidence + g.MatchWeight*best
}

// Evaluate builds the opportunity record for a message whose pipeline
// run completed. ok is false when the composite score falls below the
// alert threshold and no record should be written.
func (g *Generator) Evaluate(msg *models.RawMessage, c models.Classification, set models.EntitySet, matches []models.MatchResult) (*models.Opportunity, bool) {
	if c.Intent != models.IntentOpportunity {
		return nil, false
	}
	composite := g.Composite(c, matches)
	if composite < g.Threshold {
		return nil, false
	}

	opp := &models.Opportunity{
		MessageID:      msg.MessageID,
		Account:        msg.Account,
		Sender:         msg.From.Address,
		Subject:        msg.Subject,
		Classification: c,
		Entities:       set,
		Matches:        matches,
		CompositeScore: composite,
		DedupKey:       g.dedupKey(msg, matches),
		Status:         models.StatusPendingReview,
		DetectedAt:     time.Now().UTC(),
	}
	opp.Summary = summarize(msg, set, matches)
	return opp, true
}

// dedupKey collapses repeated requests from one sender about one catalog
// entry inside a single dedup window into the same key.
func (g *Generator) dedupKey(msg *models.RawMessage, matches []models.MatchResult) string {
	entry := "unmatched"
	if len(matches) > 0 {
		entry = matches[0].EntryID
	}
	bucket := msg.ReceivedAt.UTC().Truncate(g.DedupWindow).Unix()
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", msg.From.Address, entry, bucket)))
	return fmt.Sprintf("%x", sum[:16])
}

func summarize(msg *models.RawMessage, set models.EntitySet, matches []models.MatchResult) string {
	var b strings.Builder
	who := msg.From.Address
	if org, ok := set.First(models.EntityOrganization); ok {
		who = org.Text
	}
	fmt.Fprintf(&b, "Request from %s", who)
	if len(matches) > 0 {
		fmt.Fprintf(&b, " for %s", matches[0].EntryName)
		if qty, ok := set.First(models.EntityQuantity); ok {
			fmt.Fprintf(&b, " (%s)", qty.Text)
		}
	} else if prod, ok := set.First(models.EntityProduct); ok {
		fmt.Fprintf(&b, " for %q (no catalog match)", prod.Text)
	}
	if dl, ok := set.First(models.EntityDeadline); ok {
		fmt.Fprintf(&b, ", deadline %s", dl.Text)
	}
	return b.String()
}
