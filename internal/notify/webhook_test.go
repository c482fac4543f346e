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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bambinounos/eia/internal/faults"
	"github.com/bambinounos/eia/internal/models"
)

func sampleOpportunity() *models.Opportunity {
	return &models.Opportunity{
		Account:        "compras@example.com",
		MessageID:      "<m1@acme.com>",
		Sender:         "maria@acme.com",
		Subject:        "Need WidgetPro",
		Summary:        "Request from Acme Industrial for WidgetPro (500 units)",
		CompositeScore: 0.87,
		Matches: []models.MatchResult{
			{EntityText: "WidgetPro", EntryID: "widgetpro", EntryName: "WidgetPro", Score: 1.0},
		},
		DetectedAt: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
	}
}

func TestWebhook_Notify(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, "sales")
	require.NoError(t, w.Notify(context.Background(), sampleOpportunity()))

	assert.Equal(t, "sales", got.Channel)
	assert.Equal(t, "<m1@acme.com>", got.MessageID)
	assert.Equal(t, "maria@acme.com", got.Sender)
	assert.Equal(t, []string{"WidgetPro"}, got.Matches)
	assert.InDelta(t, 0.87, got.Score, 1e-9)
}

func TestWebhook_Notify_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, "")
	err := w.Notify(context.Background(), sampleOpportunity())
	require.Error(t, err)
	assert.Equal(t, faults.KindTransient, faults.KindOf(err))
}

func TestWebhook_Notify_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	w := NewWebhook(srv.URL, "")
	err := w.Notify(context.Background(), sampleOpportunity())
	require.Error(t, err)
	assert.Equal(t, faults.KindTransient, faults.KindOf(err))
}
