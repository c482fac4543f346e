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
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"

	"github.com/bambinounos/eia/internal/faults"
)

// FetchNew opens the account's folder and hands every message past the
// cursor to the handler in ascending UID order. Connection failures are
// retried with exponential backoff; only after the attempt budget is
// spent does the call return a transient fault. Authentication failures
// never retry.
func (c *Connector) FetchNew(ctx context.Context, acc Account, folder string, cursor Cursor, handler Handler) error {
	session, err := c.connect(ctx, acc)
	if err != nil {
		return err
	}
	defer session.Close()

	sel, err := session.Select(folder)
	if err != nil {
		return faults.Transient(fmt.Errorf("select %s/%s: %w", acc.Email, folder, err))
	}

	since := cursor.LastUID
	if cursor.UIDValidity != 0 && sel.UIDValidity != cursor.UIDValidity {
		slog.Warn("uidvalidity changed, rescanning folder",
			"account", acc.Email,
			"folder", folder,
			"old", cursor.UIDValidity,
			"new", sel.UIDValidity)
		if err := handler.CursorInvalid(ctx, sel.UIDValidity); err != nil {
			return err
		}
		since = 0
	}

	uids, err := session.SearchSince(since)
	if err != nil {
		return faults.Transient(fmt.Errorf("search %s/%s: %w", acc.Email, folder, err))
	}
	if len(uids) == 0 {
		return logoutQuietly(session, acc.Email)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

	bodies, err := session.FetchBodies(uids)
	if err != nil {
		return faults.Transient(fmt.Errorf("fetch %s/%s: %w", acc.Email, folder, err))
	}
	sort.Slice(bodies, func(i, j int) bool { return bodies[i].uid < bodies[j].uid })

	var handled []imap.UID
	for _, body := range bodies {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, perr := parseMessage(acc.Email, folder, uint32(body.uid), sel.UIDValidity, body)
		if perr != nil {
			if err := handler.HandleMalformed(ctx, msg, perr); err != nil {
				return err
			}
			handled = append(handled, body.uid)
			continue
		}
		if err := handler.HandleMessage(ctx, msg); err != nil {
			return err
		}
		handled = append(handled, body.uid)
	}

	if acc.MarkSeen && len(handled) > 0 {
		if err := session.AddSeen(handled); err != nil {
			// Already recorded in the ledger, so a failed flag write only
			// costs a re-read on the next poll.
			slog.Warn("mark seen failed", "account", acc.Email, "folder", folder, "error", err)
		}
	}

	return logoutQuietly(session, acc.Email)
}

// connect dials and authenticates, retrying transient failures.
func (c *Connector) connect(ctx context.Context, acc Account) (client, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		session, err := c.newClient(acc)
		if err == nil {
			if err = c.authenticate(ctx, session, acc); err == nil {
				return session, nil
			}
			session.Close()
			if faults.KindOf(err) == faults.KindAuth {
				return nil, err
			}
		}
		lastErr = err
		if attempt < c.maxAttempts {
			delay := c.retryBase << (attempt - 1)
			slog.Debug("imap connect retry",
				"account", acc.Email, "attempt", attempt, "delay", delay, "error", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, faults.Transient(fmt.Errorf("connect %s after %d attempts: %w", acc.Email, c.maxAttempts, lastErr))
}

func (c *Connector) authenticate(ctx context.Context, session client, acc Account) error {
	if acc.Tokens != nil {
		token, err := acc.Tokens.Token(ctx)
		if err != nil {
			return faults.Auth(fmt.Errorf("mint token for %s: %w", acc.Email, err))
		}
		if err := session.AuthenticateOAuth(acc.Email, token); err != nil {
			return faults.Auth(fmt.Errorf("oauth login %s: %w", acc.Email, err))
		}
		return nil
	}
	if err := session.Login(acc.Email, acc.Password); err != nil {
		if isAuthError(err) {
			return faults.Auth(fmt.Errorf("login %s: %w", acc.Email, err))
		}
		return faults.Transient(fmt.Errorf("login %s: %w", acc.Email, err))
	}
	return nil
}

// isAuthError sniffs server rejections out of the error text. IMAP has
// no structured auth error, so NO/AUTHENTICATIONFAILED responses arrive
// as plain strings.
func isAuthError(err error) bool {
	s := strings.ToUpper(err.Error())
	return strings.Contains(s, "AUTHENTICATIONFAILED") ||
		strings.Contains(s, "AUTHENTICATION FAILED") ||
		strings.Contains(s, "INVALID CREDENTIALS") ||
		strings.Contains(s, "LOGIN FAILED")
}

func logoutQuietly(session client, account string) error {
	if err := session.Logout(); err != nil {
		slog.Debug("imap logout", "account", account, "error", err)
	}
	return nil
}
