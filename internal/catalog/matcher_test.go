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
	"testing"

	"github.com/bambinounos/eia/internal/models"
)

const testCatalog = `
version: "v1"
products:
  - id: widgetpro
    name: WidgetPro
    aliases: [widget pro, wigdet pro]
    price: 129.90
  - id: widgetlite
    name: WidgetLite
    aliases: [widget lite]
    price: 59.90
  - id: gizmo
    name: Gizmo
    price: 19.90
`

func testSnapshot(t *testing.T) *Snapshot {
	t.Helper()
	snap, err := Parse([]byte(testCatalog))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	return snap
}

func productEntity(text string) models.EntitySet {
	return models.EntitySet{
		MessageID: "<m1@example.com>",
		Entities: []models.Entity{
			{Type: models.EntityProduct, Text: text, Confidence: 0.9},
		},
	}
}

func TestMatcher_ExactName(t *testing.T) {
	snap := testSnapshot(t)
	m := NewMatcher(0.82, 0.02)

	results := m.Match(productEntity("WidgetPro"), snap)
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	r := results[0]
	if r.Kind != models.MatchExact || r.Score != 1.0 || r.EntryID != "widgetpro" {
		t.Errorf("got %+v, want exact widgetpro at 1.0", r)
	}
	if r.SnapshotVersion != "v1" {
		t.Errorf("snapshot version = %q, want v1", r.SnapshotVersion)
	}
}

func TestMatcher_ExactIsCaseFolded(t *testing.T) {
	snap := testSnapshot(t)
	m := NewMatcher(0.82, 0.02)

	results := m.Match(productEntity("  widgetpro "), snap)
	if len(results) != 1 || results[0].Kind != models.MatchExact {
		t.Fatalf("got %+v, want one exact match", results)
	}
}

func TestMatcher_Alias(t *testing.T) {
	snap := testSnapshot(t)
	m := NewMatcher(0.82, 0.02)

	results := m.Match(productEntity("widget pro"), snap)
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if results[0].Kind != models.MatchAlias || results[0].EntryID != "widgetpro" {
		t.Errorf("got %+v, want alias widgetpro", results[0])
	}
}

func TestMatcher_FuzzyTypo(t *testing.T) {
	snap := testSnapshot(t)
	m := NewMatcher(0.82, 0.02)

	// One deletion away from the canonical name.
	results := m.Match(productEntity("WidgetPo"), snap)
	if len(results) != 1 {
		t.Fatalf("results = %+v, want 1 fuzzy match", results)
	}
	r := results[0]
	if r.Kind != models.MatchFuzzy || r.EntryID != "widgetpro" {
		t.Errorf("got %+v, want fuzzy widgetpro", r)
	}
	if r.Score < 0.82 || r.Score >= 1.0 {
		t.Errorf("score = %v, want in [0.82, 1.0)", r.Score)
	}
	if r.Ambiguous {
		t.Error("single fuzzy match should not be ambiguous")
	}
}

func TestMatcher_BelowFloorDropped(t *testing.T) {
	snap := testSnapshot(t)
	m := NewMatcher(0.82, 0.02)

	results := m.Match(productEntity("completely unrelated thing"), snap)
	if len(results) != 0 {
		t.Errorf("results = %+v, want none", results)
	}
}

func TestMatcher_FloorIsInclusive(t *testing.T) {
	snap := testSnapshot(t)
	// "widgetpr" vs "widgetpro": 1 edit over 9 runes = 8/9 ≈ 0.888.
	sim := Similarity("widgetpr", "widgetpro")
	m := NewMatcher(sim, 0.0)

	results := m.Match(productEntity("widgetpr"), snap)
	if len(results) == 0 {
		t.Fatalf("score exactly at the floor must match")
	}
	if results[0].Score != sim {
		t.Errorf("score = %v, want %v", results[0].Score, sim)
	}
}

func TestMatcher_AmbiguousTie(t *testing.T) {
	snap, err := Parse([]byte(`
version: "tie"
products:
  - id: panel-a
    name: PanelA
  - id: panel-b
    name: PanelB
`))
	if err != nil {
		t.Fatal(err)
	}
	m := NewMatcher(0.8, 0.02)

	// One substitution away from both entries: identical scores.
	results := m.Match(productEntity("PanelC"), snap)
	if len(results) != 2 {
		t.Fatalf("results = %+v, want ambiguous pair", results)
	}
	for _, r := range results {
		if !r.Ambiguous {
			t.Errorf("result %+v not flagged ambiguous", r)
		}
	}
	// Deterministic ordering: score descending, then entry ID.
	for i := 1; i < len(results); i++ {
		prev, cur := results[i-1], results[i]
		if cur.Score > prev.Score {
			t.Errorf("results out of score order: %v before %v", prev.Score, cur.Score)
		}
		if cur.Score == prev.Score && cur.EntryID < prev.EntryID {
			t.Errorf("tied results out of ID order: %s before %s", prev.EntryID, cur.EntryID)
		}
	}
}

func TestMatcher_NonProductEntitiesIgnored(t *testing.T) {
	snap := testSnapshot(t)
	m := NewMatcher(0.82, 0.02)

	set := models.EntitySet{Entities: []models.Entity{
		{Type: models.EntityOrganization, Text: "WidgetPro"},
		{Type: models.EntityQuantity, Text: "500"},
	}}
	if results := m.Match(set, snap); len(results) != 0 {
		t.Errorf("results = %+v, want none for non-product entities", results)
	}
}

func TestSimilarity_Monotone(t *testing.T) {
	// Each extra edit must never increase the score.
	target := "widgetpro"
	mentions := []string{"widgetpro", "widgetprx", "widgetpxx", "widgexxxx"}
	prev := 2.0
	for _, m := range mentions {
		s := Similarity(m, target)
		if s > prev {
			t.Errorf("Similarity(%q) = %v, more than previous %v", m, s, prev)
		}
		prev = s
	}
	if Similarity("widgetpro", "widgetpro") != 1.0 {
		t.Error("identical strings must score 1.0")
	}
	if Similarity("", "") != 1.0 {
		t.Error("two empty strings must score 1.0")
	}
	if Similarity("", "abc") != 0.0 {
		t.Error("empty vs non-empty must score 0.0")
	}
}

func TestParse_VersionStability(t *testing.T) {
	// Same bytes, same version; explicit version wins.
	a, err := Parse([]byte(testCatalog))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Parse([]byte(testCatalog))
	if err != nil {
		t.Fatal(err)
	}
	if a.Version != b.Version {
		t.Errorf("versions differ: %q vs %q", a.Version, b.Version)
	}

	noVersion := []byte("products:\n  - id: x\n    name: X\n")
	c, err := Parse(noVersion)
	if err != nil {
		t.Fatal(err)
	}
	d, err := Parse(noVersion)
	if err != nil {
		t.Fatal(err)
	}
	if c.Version != d.Version {
		t.Errorf("content-hash versions differ: %q vs %q", c.Version, d.Version)
	}
	if c.Version == "" {
		t.Error("content-hash version must not be empty")
	}
}

func TestParse_RejectsMissingID(t *testing.T) {
	_, err := Parse([]byte("products:\n  - name: NoID\n"))
	if err == nil {
		t.Fatal("expected error for entry without id")
	}
}
