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

package extract

import (
	"context"
	"regexp"
	"strings"

	"github.com/bambinounos/eia/internal/models"
)

const rulesVersion = "rules/v1"

var (
	quantityRe = regexp.MustCompile(`(?i)\b(\d[\d.,]*)\s*(?:units?|unidades|pcs|pieces|piezas)\b`)
	// Product mention: the phrase following "units of" / "unidades de",
	// or a quoted phrase. Stops at punctuation or line end.
	productAfterRe = regexp.MustCompile(`(?i)(?:units of|unidades de)\s+([A-Za-z0-9][A-Za-z0-9 \-]{0,40}?)(?:[.,;\n]|$)`)
	quotedRe       = regexp.MustCompile(`"([^"\n]{2,40})"`)
	priceRe        = regexp.MustCompile(`(?i)(?:[$€]|usd|eur)\s*([\d][\d.,]*)`)
	emailRe        = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	deadlineRe     = regexp.MustCompile(`(?i)(?:deadline|due by|before|fecha l[ií]mite|plazo)[:\s]+(\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{2,4})`)
)

// Rules is a deterministic pattern-based extractor, the offline stand-in
// for the statistical backend.
type Rules struct{}

// NewRules returns the pattern-based extractor.
func NewRules() *Rules { return &Rules{} }

// Version implements Extractor.
func (r *Rules) Version() string { return rulesVersion }

// Extract implements Extractor. Entities come out in a stable order:
// organization, products, quantities, prices, contacts, deadline.
func (r *Rules) Extract(_ context.Context, msg *models.RawMessage) (models.EntitySet, error) {
	set := models.EntitySet{MessageID: msg.MessageID, ModelVersion: rulesVersion}
	body := msg.TextBody

	if org := senderOrganization(msg); org != "" {
		set.Entities = append(set.Entities, models.Entity{
			Type:       models.EntityOrganization,
			Text:       org,
			Normalized: strings.ToLower(org),
			Confidence: 0.6,
		})
	}

	seen := map[string]bool{}
	for _, m := range productAfterRe.FindAllStringSubmatch(body, -1) {
		addProduct(&set, seen, strings.TrimSpace(m[1]), 0.85)
	}
	for _, m := range quotedRe.FindAllStringSubmatch(body, -1) {
		addProduct(&set, seen, strings.TrimSpace(m[1]), 0.7)
	}

	for _, m := range quantityRe.FindAllStringSubmatch(body, -1) {
		set.Entities = append(set.Entities, models.Entity{
			Type:       models.EntityQuantity,
			Text:       m[0],
			Normalized: strings.ReplaceAll(strings.ReplaceAll(m[1], ",", ""), ".", ""),
			Confidence: 0.9,
		})
	}

	for _, m := range priceRe.FindAllStringSubmatch(body, -1) {
		set.Entities = append(set.Entities, models.Entity{
			Type:       models.EntityPrice,
			Text:       m[0],
			Normalized: strings.ReplaceAll(m[1], ",", ""),
			Confidence: 0.8,
		})
	}

	for _, addr := range emailRe.FindAllString(body, -1) {
		lower := strings.ToLower(addr)
		if lower == strings.ToLower(msg.From.Address) {
			continue
		}
		set.Entities = append(set.Entities, models.Entity{
			Type:       models.EntityContact,
			Text:       addr,
			Normalized: lower,
			Confidence: 0.95,
		})
	}

	if m := deadlineRe.FindStringSubmatch(body); m != nil {
		set.Entities = append(set.Entities, models.Entity{
			Type:       models.EntityDeadline,
			Text:       m[0],
			Normalized: m[1],
			Confidence: 0.7,
		})
	}

	return set, nil
}

func addProduct(set *models.EntitySet, seen map[string]bool, text string, confidence float64) {
	if text == "" {
		return
	}
	key := strings.ToLower(text)
	if seen[key] {
		return
	}
	seen[key] = true
	set.Entities = append(set.Entities, models.Entity{
		Type:       models.EntityProduct,
		Text:       text,
		Normalized: key,
		Confidence: confidence,
	})
}

// senderOrganization derives an organization name from the display name,
// falling back to the sender's domain.
func senderOrganization(msg *models.RawMessage) string {
	if name := strings.TrimSpace(msg.From.Name); name != "" {
		return name
	}
	addr := msg.From.Address
	at := strings.LastIndex(addr, "@")
	if at < 0 || at+1 >= len(addr) {
		return ""
	}
	domain := addr[at+1:]
	if dot := strings.Index(domain, "."); dot > 0 {
		domain = domain[:dot]
	}
	return domain
}
