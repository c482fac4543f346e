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
	"math"
	"testing"
	"time"

	"github.com/bambinounos/eia/internal/models"
)

func testMessage(received time.Time) *models.RawMessage {
	return &models.RawMessage{
		Account:    "compras@example.com",
		MessageID:  "<m1@acme.com>",
		From:       models.EmailAddress{Name: "Maria", Address: "maria@acme.com"},
		Subject:    "Need WidgetPro",
		ReceivedAt: received,
	}
}

func classification(conf float64) models.Classification {
	return models.Classification{
		MessageID:  "<m1@acme.com>",
		Intent:     models.IntentOpportunity,
		Confidence: conf,
	}
}

func match(score float64, ambiguous bool) models.MatchResult {
	return models.MatchResult{
		EntityText: "WidgetPro",
		EntryID:    "widgetpro",
		EntryName:  "WidgetPro",
		Score:      score,
		Kind:       models.MatchFuzzy,
		Ambiguous:  ambiguous,
	}
}

func TestComposite_Weighted(t *testing.T) {
	g := NewGenerator(0.75, 0.6, 0.4, 24*time.Hour)

	got := g.Composite(classification(0.9), []models.MatchResult{match(1.0, false)})
	want := 0.6*0.9 + 0.4*1.0
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("composite = %v, want %v", got, want)
	}
}

func TestComposite_NoMatchContributesZero(t *testing.T) {
	g := NewGenerator(0.75, 0.6, 0.4, 24*time.Hour)

	got := g.Composite(classification(0.9), nil)
	want := 0.6 * 0.9
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("composite = %v, want %v", got, want)
	}
}

func TestComposite_AmbiguousDiscount(t *testing.T) {
	g := NewGenerator(0.75, 0.6, 0.4, 24*time.Hour)

	clean := g.Composite(classification(0.9), []models.MatchResult{match(0.9, false)})
	fuzzy := g.Composite(classification(0.9), []models.MatchResult{match(0.9, true)})
	if fuzzy >= clean {
		t.Errorf("ambiguous composite %v not below unambiguous %v", fuzzy, clean)
	}
	want := 0.6*0.9 + 0.4*(0.9*ambiguousFactor)
	if math.Abs(fuzzy-want) > 1e-9 {
		t.Errorf("ambiguous composite = %v, want %v", fuzzy, want)
	}
}

func TestEvaluate_BelowThreshold(t *testing.T) {
	g := NewGenerator(0.75, 0.6, 0.4, 24*time.Hour)

	if _, ok := g.Evaluate(testMessage(time.Now()), classification(0.5), models.EntitySet{}, nil); ok {
		t.Error("low-confidence message must not produce an opportunity")
	}
}

func TestEvaluate_ThresholdInclusive(t *testing.T) {
	g := NewGenerator(0.75, 1.0, 0.0, 24*time.Hour)

	opp, ok := g.Evaluate(testMessage(time.Now()), classification(0.75), models.EntitySet{}, nil)
	if !ok {
		t.Fatal("composite exactly at the threshold must produce an opportunity")
	}
	if opp.CompositeScore != 0.75 {
		t.Errorf("composite = %v, want 0.75", opp.CompositeScore)
	}
}

func TestEvaluate_NonOpportunityIntent(t *testing.T) {
	g := NewGenerator(0.0, 0.6, 0.4, 24*time.Hour)

	c := classification(0.99)
	c.Intent = models.IntentOther
	if _, ok := g.Evaluate(testMessage(time.Now()), c, models.EntitySet{}, nil); ok {
		t.Error("non-opportunity intent must never produce an opportunity")
	}
}

func TestEvaluate_PopulatesRecord(t *testing.T) {
	g := NewGenerator(0.5, 0.6, 0.4, 24*time.Hour)
	set := models.EntitySet{Entities: []models.Entity{
		{Type: models.EntityOrganization, Text: "Acme Industrial"},
		{Type: models.EntityQuantity, Text: "500 units", Normalized: "500"},
	}}
	matches := []models.MatchResult{match(1.0, false)}

	opp, ok := g.Evaluate(testMessage(time.Now()), classification(0.9), set, matches)
	if !ok {
		t.Fatal("expected an opportunity")
	}
	if opp.Status != models.StatusPendingReview {
		t.Errorf("status = %q, want pending_review", opp.Status)
	}
	if opp.Sender != "maria@acme.com" || opp.Account != "compras@example.com" {
		t.Errorf("sender/account = %q/%q", opp.Sender, opp.Account)
	}
	if opp.DedupKey == "" {
		t.Error("dedup key empty")
	}
	if opp.Summary == "" {
		t.Error("summary empty")
	}
}

func TestDedupKey_StableWithinWindow(t *testing.T) {
	g := NewGenerator(0.5, 0.6, 0.4, 24*time.Hour)
	matches := []models.MatchResult{match(1.0, false)}

	base := time.Date(2026, 8, 20, 6, 0, 0, 0, time.UTC)
	a, _ := g.Evaluate(testMessage(base), classification(0.9), models.EntitySet{}, matches)
	b, _ := g.Evaluate(testMessage(base.Add(2*time.Hour)), classification(0.9), models.EntitySet{}, matches)
	if a.DedupKey != b.DedupKey {
		t.Errorf("same sender/entry/window produced different keys: %q vs %q", a.DedupKey, b.DedupKey)
	}

	c, _ := g.Evaluate(testMessage(base.Add(25*time.Hour)), classification(0.9), models.EntitySet{}, matches)
	if a.DedupKey == c.DedupKey {
		t.Error("next window must produce a different key")
	}
}

func TestDedupKey_VariesByEntry(t *testing.T) {
	g := NewGenerator(0.5, 0.6, 0.4, 24*time.Hour)
	base := time.Date(2026, 8, 20, 6, 0, 0, 0, time.UTC)

	a, _ := g.Evaluate(testMessage(base), classification(0.9),
		models.EntitySet{}, []models.MatchResult{match(1.0, false)})

	other := match(1.0, false)
	other.EntryID = "widgetlite"
	b, _ := g.Evaluate(testMessage(base), classification(0.9),
		models.EntitySet{}, []models.MatchResult{other})

	if a.DedupKey == b.DedupKey {
		t.Error("different catalog entries must produce different keys")
	}
}

func TestSummary_UsesOrganizationAndMatch(t *testing.T) {
	g := NewGenerator(0.5, 0.6, 0.4, 24*time.Hour)
	set := models.EntitySet{Entities: []models.Entity{
		{Type: models.EntityOrganization, Text: "Acme Industrial"},
		{Type: models.EntityQuantity, Text: "500 units"},
	}}

	opp, _ := g.Evaluate(testMessage(time.Now()), classification(0.9), set,
		[]models.MatchResult{match(1.0, false)})
	want := "Request from Acme Industrial for WidgetPro (500 units)"
	if opp.Summary != want {
		t.Errorf("summary = %q, want %q", opp.Summary, want)
	}
}
