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

// Package extract pulls typed entities (organization, product mention,
// quantity, price, contact, deadline) out of message text. It runs only
// for messages classified above the noise threshold; an empty result is
// valid and simply yields zero catalog matches downstream.
package extract

import (
	"context"

	"github.com/bambinounos/eia/internal/models"
)

// Extractor produces the entity set for one message. Implementations must
// be safe for concurrent use by the worker pool.
type Extractor interface {
	Extract(ctx context.Context, msg *models.RawMessage) (models.EntitySet, error)
	Version() string
}
