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

package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/bambinounos/eia/internal/faults"
	"github.com/bambinounos/eia/internal/models"
)

// Webhook posts alerts as JSON to a configured HTTP endpoint.
type Webhook struct {
	client  *resty.Client
	url     string
	channel string
}

// webhookPayload is the wire shape posted to the endpoint.
type webhookPayload struct {
	Channel    string    `json:"channel,omitempty"`
	MessageID  string    `json:"message_id"`
	Account    string    `json:"account"`
	Sender     string    `json:"sender"`
	Subject    string    `json:"subject"`
	Summary    string    `json:"summary"`
	Score      float64   `json:"score"`
	Matches    []string  `json:"matches,omitempty"`
	DetectedAt time.Time `json:"detected_at"`
}

// NewWebhook builds a webhook notifier with sane HTTP defaults.
func NewWebhook(url, channel string) *Webhook {
	client := resty.New().
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "eia-notifier/1.0")
	return &Webhook{client: client, url: url, channel: channel}
}

// Notify implements Notifier. Non-2xx responses come back as transient
// faults so the caller requeues the delivery.
func (w *Webhook) Notify(ctx context.Context, opp *models.Opportunity) error {
	payload := webhookPayload{
		Channel:    w.channel,
		MessageID:  opp.MessageID,
		Account:    opp.Account,
		Sender:     opp.Sender,
		Subject:    opp.Subject,
		Summary:    opp.Summary,
		Score:      opp.CompositeScore,
		DetectedAt: opp.DetectedAt,
	}
	for _, m := range opp.Matches {
		payload.Matches = append(payload.Matches, m.EntryName)
	}

	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(w.url)
	if err != nil {
		return faults.Transient(fmt.Errorf("post webhook: %w", err))
	}
	if resp.IsError() {
		return faults.Transient(fmt.Errorf("webhook returned %s", resp.Status()))
	}
	return nil
}
