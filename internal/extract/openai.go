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
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"github.com/bambinounos/eia/internal/faults"
	"github.com/bambinounos/eia/internal/models"
)

const extractPrompt = `You extract structured entities from business email.
Reply with strict JSON only:
{"entities": [{"type": "organization"|"product"|"quantity"|"price"|"contact"|"deadline",
"text": "<span as written>", "normalized": "<canonical value>", "confidence": <0..1>}]}.
An empty entities array is a valid answer.`

const bodyLimit = 4000

// OpenAI extracts entities through a chat-completion backend, behind the
// same breaker policy as the classifier.
type OpenAI struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
}

// NewOpenAI builds the backend extractor.
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
			Name:    "extract",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

// Version implements Extractor.
func (o *OpenAI) Version() string { return "openai/" + o.model }

// Extract implements Extractor.
func (o *OpenAI) Extract(ctx context.Context, msg *models.RawMessage) (models.EntitySet, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	body := msg.TextBody
	if len(body) > bodyLimit {
		body = body[:bodyLimit]
	}
	user := fmt.Sprintf("Subject: %s\nFrom: %s <%s>\n\n%s",
		msg.Subject, msg.From.Name, msg.From.Address, body)

	raw, err := o.breaker.Execute(func() (interface{}, error) {
		resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       o.model,
			Temperature: 0,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: extractPrompt},
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
		return models.EntitySet{}, faults.Model(fmt.Errorf("extraction backend: %w", err))
	}

	var parsed struct {
		Entities []models.Entity `json:"entities"`
	}
	content := strings.TrimSpace(raw.(string))
	content = strings.TrimPrefix(content, "```json")
	content = strings.Trim(content, "` \n")
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return models.EntitySet{}, faults.Model(fmt.Errorf("parse entities %q: %w", content, err))
	}

	set := models.EntitySet{
		MessageID:    msg.MessageID,
		ModelVersion: o.Version(),
	}
	for _, e := range parsed.Entities {
		if !validType(e.Type) || e.Confidence < 0 || e.Confidence > 1 {
			continue
		}
		if e.Normalized == "" {
			e.Normalized = strings.ToLower(strings.TrimSpace(e.Text))
		}
		set.Entities = append(set.Entities, e)
	}
	return set, nil
}

func validType(t string) bool {
	switch t {
	case models.EntityOrganization, models.EntityProduct, models.EntityQuantity,
		models.EntityPrice, models.EntityContact, models.EntityDeadline:
		return true
	default:
		return false
	}
}
