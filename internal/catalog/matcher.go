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

package catalog

import (
	"sort"

	"github.com/bambinounos/eia/internal/models"
)

// Matcher resolves product entities against a catalog snapshot.
// Matching order per entity: exact canonical name, then alias table, then
// fuzzy similarity against names and aliases. The matcher never mutates
// the snapshot and stamps every result with the snapshot version.
type Matcher struct {
	// MinSimilarity is the fuzzy floor; candidates below it are dropped.
	MinSimilarity float64
	// TieMargin widens the best fuzzy score: all entries within the margin
	// of the best are returned as an ambiguous set rather than an
	// arbitrary single pick.
	TieMargin float64
}

// NewMatcher creates a matcher with the given thresholds.
func NewMatcher(minSimilarity, tieMargin float64) *Matcher {
	return &Matcher{MinSimilarity: minSimilarity, TieMargin: tieMargin}
}

// Match resolves every product entity in the set. Non-product entities are
// ignored. Zero results is a valid outcome.
func (m *Matcher) Match(set models.EntitySet, snap *Snapshot) []models.MatchResult {
	var out []models.MatchResult
	for _, e := range set.Products() {
		out = append(out, m.matchOne(e, snap)...)
	}
	return out
}

func (m *Matcher) matchOne(entity models.Entity, snap *Snapshot) []models.MatchResult {
	mention := entity.Normalized
	if mention == "" {
		mention = entity.Text
	}

	if entry, ok := snap.ByName(mention); ok {
		return []models.MatchResult{{
			EntityText:      entity.Text,
			EntryID:         entry.ID,
			EntryName:       entry.Name,
			Score:           1.0,
			Kind:            models.MatchExact,
			SnapshotVersion: snap.Version,
		}}
	}

	if entry, ok := snap.ByAlias(mention); ok {
		return []models.MatchResult{{
			EntityText:      entity.Text,
			EntryID:         entry.ID,
			EntryName:       entry.Name,
			Score:           1.0,
			Kind:            models.MatchAlias,
			SnapshotVersion: snap.Version,
		}}
	}

	return m.fuzzy(entity, mention, snap)
}

// fuzzy scores the mention against every canonical name and alias and
// returns the best entry, or all entries tied within TieMargin of the
// best, flagged ambiguous.
func (m *Matcher) fuzzy(entity models.Entity, mention string, snap *Snapshot) []models.MatchResult {
	folded := fold(mention)

	// Best similarity per entry across its name and aliases.
	best := make(map[int]float64)
	for i, e := range snap.Entries {
		score := Similarity(folded, fold(e.Name))
		for _, alias := range e.Aliases {
			if s := Similarity(folded, fold(alias)); s > score {
				score = s
			}
		}
		if score >= m.MinSimilarity {
			best[i] = score
		}
	}
	if len(best) == 0 {
		return nil
	}

	top := 0.0
	for _, s := range best {
		if s > top {
			top = s
		}
	}

	var results []models.MatchResult
	for i, s := range best {
		if top-s > m.TieMargin {
			continue
		}
		results = append(results, models.MatchResult{
			EntityText:      entity.Text,
			EntryID:         snap.Entries[i].ID,
			EntryName:       snap.Entries[i].Name,
			Score:           s,
			Kind:            models.MatchFuzzy,
			SnapshotVersion: snap.Version,
		})
	}

	// Deterministic output order: score descending, then entry ID.
	sort.Slice(results, func(a, b int) bool {
		if results[a].Score != results[b].Score {
			return results[a].Score > results[b].Score
		}
		return results[a].EntryID < results[b].EntryID
	})

	if len(results) > 1 {
		for i := range results {
			results[i].Ambiguous = true
		}
	}
	return results
}
