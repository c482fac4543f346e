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

// Package notify delivers opportunity alerts to operators.
package notify

import (
	"context"
	"log/slog"

	"github.com/bambinounos/eia/internal/models"
)

// Notifier delivers one alert. Implementations must be safe for
// concurrent use; delivery failures are retried by the caller, so they
// should surface transient errors rather than swallow them.
type Notifier interface {
	Notify(ctx context.Context, opp *models.Opportunity) error
}

// Log writes alerts to the structured log. It is the fallback when no
// webhook is configured and never fails.
type Log struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (l *Log) Notify(_ context.Context, opp *models.Opportunity) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("opportunity detected",
		"message_id", opp.MessageID,
		"account", opp.Account,
		"sender", opp.Sender,
		"score", opp.CompositeScore,
		"summary", opp.Summary)
	return nil
}
