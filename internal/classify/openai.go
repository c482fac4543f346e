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
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"github.com/bambinounos/eia/internal/faults"
	"github.com/bambinounos/eia/internal/models"
)

const classifyPrompt = `You classify inbound business email.
Reply with strict JSON only: {"intent": "opportunity"|"noise"|"other", "confidence": <0..1>}.
"opportunity" = the sender wants to buy, requests a quote, or announces a tender.
"noise" = newsletters, automated mail, anything without a commercial request.
"other" = legal or urgent notices that need human attention but are not sales.`

// bodyLimit keeps prompts bounded; anything past it adds cost, not signal.
const bodyLimit = 4000

// OpenAI classifies messages through a chat-completion backend. Calls run
// inside a circuit breaker: an open breaker or backend error surfaces as a
// model fault so the worker retries with backoff up to its ceiling.
type OpenAI struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
}

// NewOpenAI builds the backend classifier. baseURL overrides the API host
// (self-hosted gateways, tests); empty means the public endpoint.
func NewOpenAI(apiKey, baseURL, model string, timeout time.Duration) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		timeout: timeout,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "classify",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

// Version implements Classifier.
func (o *OpenAI) Version() string { return "openai/" + o.model }

// Classify implements Classifier.
func (o *OpenAI) Classify(ctx context.Context, msg *models.RawMessage) (models.Classification, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	body := msg.TextBody
	if len(body) > bodyLimit {
		body = body[:bodyLimit]
	}
	user := fmt.Sprintf("Subject: %s\nFrom: %s\n\n%s", msg.Subject, msg.From.Address, body)

	raw, err := o.breaker.Execute(func() (interface{}, error) {
		resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       o.model,
			Temperature: 0,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: classifyPrompt},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("empty completion")
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		return models.Classification{}, faults.Model(fmt.Errorf("classification backend: %w", err))
	}

	var parsed struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
	}
	content := strings.TrimSpace(raw.(string))
	content = strings.TrimPrefix(content, "```json")
	content = strings.Trim(content, "` \n")
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return models.Classification{}, faults.Model(fmt.Errorf("parse classification %q: %w", content, err))
	}

	switch parsed.Intent {
	case models.IntentOpportunity, models.IntentNoise, models.IntentOther:
	default:
		return models.Classification{}, faults.Model(fmt.Errorf("unknown intent %q", parsed.Intent))
	}
	if parsed.Confidence < 0 || parsed.Confidence > 1 {
		return models.Classification{}, faults.Model(fmt.Errorf("confidence %v out of range", parsed.Confidence))
	}

	return models.Classification{
		MessageID:    msg.MessageID,
		Intent:       parsed.Intent,
		Confidence:   parsed.Confidence,
		ModelVersion: o.Version(),
		ClassifiedAt: time.Now().UTC(),
	}, nil
}
