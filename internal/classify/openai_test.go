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
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bambinounos/eia/internal/faults"
	"github.com/bambinounos/eia/internal/models"
)

func completionServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"choices":[{"message":{"role":"assistant","content":%q}}]}`, content)
	}))
}

func backendMessage() *models.RawMessage {
	return &models.RawMessage{
		MessageID: "<m1@acme.com>",
		From:      models.EmailAddress{Address: "maria@acme.com"},
		Subject:   "Quote for 500 WidgetPro",
		TextBody:  "Please send pricing for 500 units of WidgetPro.",
	}
}

func TestOpenAI_Classify(t *testing.T) {
	srv := completionServer(t, `{"intent": "opportunity", "confidence": 0.92}`)
	defer srv.Close()

	c := NewOpenAI("test-key", srv.URL+"/v1", "gpt-4o-mini", 5*time.Second)
	got, err := c.Classify(context.Background(), backendMessage())
	require.NoError(t, err)

	assert.Equal(t, models.IntentOpportunity, got.Intent)
	assert.InDelta(t, 0.92, got.Confidence, 1e-9)
	assert.Equal(t, "<m1@acme.com>", got.MessageID)
	assert.Equal(t, "openai/gpt-4o-mini", got.ModelVersion)
}

func TestOpenAI_Classify_FencedJSON(t *testing.T) {
	srv := completionServer(t, "```json\n{\"intent\": \"noise\", \"confidence\": 0.8}\n```")
	defer srv.Close()

	c := NewOpenAI("test-key", srv.URL+"/v1", "gpt-4o-mini", 5*time.Second)
	got, err := c.Classify(context.Background(), backendMessage())
	require.NoError(t, err)
	assert.Equal(t, models.IntentNoise, got.Intent)
}

func TestOpenAI_Classify_BadReplies(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"not json", "sure, happy to help!"},
		{"unknown intent", `{"intent": "spam", "confidence": 0.9}`},
		{"confidence out of range", `{"intent": "noise", "confidence": 1.4}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := completionServer(t, tc.content)
			defer srv.Close()

			c := NewOpenAI("test-key", srv.URL+"/v1", "gpt-4o-mini", 5*time.Second)
			_, err := c.Classify(context.Background(), backendMessage())
			require.Error(t, err)
			assert.Equal(t, faults.KindModel, faults.KindOf(err))
		})
	}
}

func TestOpenAI_Classify_BackendDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewOpenAI("test-key", srv.URL+"/v1", "gpt-4o-mini", 5*time.Second)
	_, err := c.Classify(context.Background(), backendMessage())
	require.Error(t, err)
	assert.Equal(t, faults.KindModel, faults.KindOf(err))
}

func TestOpenAI_Classify_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		http.Error(w, "upstream unavailable", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewOpenAI("test-key", srv.URL+"/v1", "gpt-4o-mini", 5*time.Second)
	for i := 0; i < 5; i++ {
		_, err := c.Classify(context.Background(), backendMessage())
		require.Error(t, err)
	}
	// The breaker trips after three consecutive failures and then rejects
	// without touching the backend.
	assert.Equal(t, 3, calls)
}
