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
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-sasl"
)

// imapSession adapts the concrete go-imap client to the connector's
// narrow client interface.
type imapSession struct {
	c *imapclient.Client
}

// dialIMAP opens a connection to the account's IMAP endpoint.
func dialIMAP(acc Account, timeout time.Duration) (client, error) {
	if acc.Host == "" {
		return nil, errors.New("imap account missing host")
	}
	port := acc.Port
	if port == 0 {
		if acc.UseSSL {
			port = 993
		} else {
			port = 143
		}
	}
	addr := fmt.Sprintf("%s:%d", acc.Host, port)
	opts := &imapclient.Options{Dialer: &net.Dialer{Timeout: timeout}}

	var (
		c   *imapclient.Client
		err error
	)
	if acc.UseSSL {
		c, err = imapclient.DialTLS(addr, opts)
	} else {
		c, err = imapclient.DialStartTLS(addr, opts)
	}
	if err != nil {
		return nil, err
	}
	return &imapSession{c: c}, nil
}

func (s *imapSession) Login(username, password string) error {
	return s.c.Login(username, password).Wait()
}

func (s *imapSession) AuthenticateOAuth(username, token string) error {
	return s.c.Authenticate(sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
		Username: username,
		Token:    token,
	}))
}

func (s *imapSession) Select(folder string) (*imap.SelectData, error) {
	return s.c.Select(folder, nil).Wait()
}

func (s *imapSession) SearchSince(sinceUID uint32) ([]imap.UID, error) {
	criteria := &imap.SearchCriteria{}
	if sinceUID > 0 {
		var set imap.UIDSet
		set.AddRange(imap.UID(sinceUID+1), 0) // stop 0 = "*"
		criteria.UID = []imap.UIDSet{set}
	}
	data, err := s.c.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, err
	}
	return data.AllUIDs(), nil
}

func (s *imapSession) FetchBodies(uids []imap.UID) ([]fetchedBody, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	fetchOpts := &imap.FetchOptions{
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{{}},
	}
	buffers, err := s.c.Fetch(imap.UIDSetNum(uids...), fetchOpts).Collect()
	if err != nil {
		return nil, err
	}
	out := make([]fetchedBody, 0, len(buffers))
	for _, buf := range buffers {
		body := buf.FindBodySection(&imap.FetchItemBodySection{})
		if body == nil {
			continue
		}
		out = append(out, fetchedBody{
			uid:          buf.UID,
			internalDate: buf.InternalDate,
			raw:          append([]byte(nil), body...),
		})
	}
	return out, nil
}

func (s *imapSession) AddSeen(uids []imap.UID) error {
	store := &imap.StoreFlags{Op: imap.StoreFlagsAdd, Flags: []imap.Flag{imap.FlagSeen}}
	return s.c.Store(imap.UIDSetNum(uids...), store, nil).Close()
}

func (s *imapSession) Logout() error {
	return s.c.Logout().Wait()
}

func (s *imapSession) Close() error {
	return s.c.Close()
}
