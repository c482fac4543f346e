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

package classify

import (
	"context"
	"strings"
	"time"

	"github.com/bambinounos/eia/internal/models"
)

const keywordVersion = "keyword/v1"

// Vocabulary per intent. Spanish terms kept alongside English because the
// mailboxes this system was built for receive both.
var (
	opportunityTerms = []string{
		"quote", "quotation", "cotización", "cotizacion",
		"tender", "licitación", "licitacion", "rfp", "rfq",
		"requerimiento", "purchase order", "orden de compra",
		"units of", "unidades de", "need", "necesitamos", "price", "precio",
	}
	urgentTerms = []string{
		"urgent", "urgente", "judicial", "legal notice", "notificación judicial",
	}
	noiseTerms = []string{
		"unsubscribe", "newsletter", "out of office", "fuera de oficina",
		"no-reply", "feriado", "holiday closure",
	}
)

// Keyword is a deterministic rule-based classifier. It stands in for the
// statistical backend in offline deployments and in tests.
type Keyword struct{}

// NewKeyword returns the rule-based classifier.
func NewKeyword() *Keyword { return &Keyword{} }

// Version implements Classifier.
func (k *Keyword) Version() string { return keywordVersion }

// Classify implements Classifier. Scoring: each vocabulary hit raises the
// intent's confidence from its base; the strongest intent wins.
func (k *Keyword) Classify(_ context.Context, msg *models.RawMessage) (models.Classification, error) {
	text := strings.ToLower(msg.Subject + "\n" + msg.TextBody)

	opp := score(text, opportunityTerms, 0.55, 0.10)
	urgent := score(text, urgentTerms, 0.50, 0.20)
	noise := score(text, noiseTerms, 0.45, 0.15)

	intent := models.IntentNoise
	confidence := 0.6 // nothing matched: informative, no action
	switch {
	case opp > 0 && opp >= urgent && opp >= noise:
		intent, confidence = models.IntentOpportunity, opp
	case urgent > 0 && urgent >= noise:
		intent, confidence = models.IntentOther, urgent
	case noise > 0:
		intent, confidence = models.IntentNoise, noise
	}

	return models.Classification{
		MessageID:    msg.MessageID,
		Intent:       intent,
		Confidence:   confidence,
		ModelVersion: keywordVersion,
		ClassifiedAt: time.Now().UTC(),
	}, nil
}

// score returns 0 when no term matches, otherwise base plus step per
// additional match, capped at 0.95.
func score(text string, terms []string, base, step float64) float64 {
	hits := 0
	for _, t := range terms {
		if strings.Contains(text, t) {
			hits++
		}
	}
	if hits == 0 {
		return 0
	}
	s := base + float64(hits)*step
	if s > 0.95 {
		s = 0.95
	}
	return s
}
