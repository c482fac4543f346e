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

package mailbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

// ClientCredentialsTokens mints OAuth2 bearer tokens via the client
// credentials grant and caches them until shortly before expiry.
type ClientCredentialsTokens struct {
	cfg clientcredentials.Config

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewClientCredentialsTokens configures a token source against the
// provider's token endpoint.
func NewClientCredentialsTokens(clientID, clientSecret, tokenURL string, scopes []string) *ClientCredentialsTokens {
	return &ClientCredentialsTokens{
		cfg: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			Scopes:       scopes,
		},
	}
}

// Token implements TokenSource.
func (t *ClientCredentialsTokens) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token != "" && time.Until(t.expires) > time.Minute {
		return t.token, nil
	}
	tok, err := t.cfg.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("token endpoint: %w", err)
	}
	t.token = tok.AccessToken
	t.expires = tok.Expiry
	return t.token, nil
}
