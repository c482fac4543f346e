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

// Package mailbox speaks IMAP to the configured accounts. It lists UIDs
// past the persisted cursor in ascending order, fetches each message, and
// hands parsed RawMessages to the caller. Cursor persistence stays with
// the caller so the cursor advance and the ledger write share one
// transaction.
package mailbox

import (
	"context"
	"time"

	"github.com/emersion/go-imap/v2"

	"github.com/bambinounos/eia/internal/models"
)

// Cursor is the resume point for one account folder.
type Cursor struct {
	UIDValidity uint32
	LastUID     uint32
}

// Handler receives the connector's output. All methods are invoked
// sequentially in ascending UID order.
type Handler interface {
	// HandleMessage receives one parsed message. Returning an error stops
	// the fetch; already handled messages stay recorded.
	HandleMessage(ctx context.Context, msg *models.RawMessage) error
	// HandleMalformed receives a message whose body could not be parsed.
	// The sequence continues afterwards.
	HandleMalformed(ctx context.Context, msg *models.RawMessage, parseErr error) error
	// CursorInvalid is called before any message when the folder's
	// UIDVALIDITY no longer matches the cursor; the UID sequence restarts
	// from the beginning of the folder.
	CursorInvalid(ctx context.Context, uidValidity uint32) error
}

// client is the narrow slice of the IMAP client the connector needs,
// kept as an interface so tests can substitute a fake server.
type client interface {
	Login(username, password string) error
	AuthenticateOAuth(username, token string) error
	Select(folder string) (*imap.SelectData, error)
	SearchSince(sinceUID uint32) ([]imap.UID, error)
	FetchBodies(uids []imap.UID) ([]fetchedBody, error)
	AddSeen(uids []imap.UID) error
	Logout() error
	Close() error
}

// fetchedBody pairs a UID with its raw RFC822 payload.
type fetchedBody struct {
	uid          imap.UID
	internalDate time.Time
	raw          []byte
}

// TokenSource mints bearer tokens for accounts that authenticate with
// OAuth instead of a password.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Account carries what the connector needs to open one mailbox.
type Account struct {
	Email    string
	Password string
	Host     string
	Port     int
	UseSSL   bool
	MarkSeen bool
	Tokens   TokenSource // nil means password auth
}

// Connector fetches new messages for any configured account.
type Connector struct {
	dialTimeout time.Duration
	retryBase   time.Duration
	maxAttempts int
	newClient   func(Account) (client, error)
}

// Option customizes connector behavior.
type Option func(*Connector)

// WithDialTimeout overrides the socket dial timeout.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Connector) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// WithRetry overrides the transient-failure backoff policy.
func WithRetry(base time.Duration, attempts int) Option {
	return func(c *Connector) {
		if base > 0 {
			c.retryBase = base
		}
		if attempts > 0 {
			c.maxAttempts = attempts
		}
	}
}

func withClientFactory(factory func(Account) (client, error)) Option {
	return func(c *Connector) {
		c.newClient = factory
	}
}

// NewConnector returns an IMAP connector ready for cursor-based polling.
func NewConnector(opts ...Option) *Connector {
	c := &Connector{
		dialTimeout: 10 * time.Second,
		retryBase:   2 * time.Second,
		maxAttempts: 5,
	}
	c.newClient = func(acc Account) (client, error) {
		return dialIMAP(acc, c.dialTimeout)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
