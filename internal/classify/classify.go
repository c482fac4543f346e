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

// Package classify scores a message's intent (opportunity / noise / other)
// with a confidence value. The backend is a black-box scoring function:
// deterministic for a fixed model version, bounded latency, and surfaced
// as a model fault when unavailable.
package classify

import (
	"context"

	"github.com/bambinounos/eia/internal/models"
)

// Classifier scores one message. Implementations must be safe for
// concurrent use by the worker pool.
type Classifier interface {
	Classify(ctx context.Context, msg *models.RawMessage) (models.Classification, error)
	// Version identifies the model so results are reproducible.
	Version() string
}
