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
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/bambinounos/eia/internal/models"
)

// parseMessage decodes one RFC822 payload into a RawMessage. Messages
// without a Message-ID header get a synthesized one derived from the
// payload hash so the dedup ledger still has a stable key.
func parseMessage(account, folder string, uid uint32, uidValidity uint32, body fetchedBody) (*models.RawMessage, error) {
	mr, err := mail.CreateReader(bytes.NewReader(body.raw))
	if err != nil {
		// Still return a skeleton carrying a stable Message-ID so the
		// caller can record the failure and move the cursor past it.
		return &models.RawMessage{
			Account:     account,
			Folder:      folder,
			UID:         uid,
			UIDValidity: uidValidity,
			MessageID:   syntheticMessageID(body.raw),
			Headers:     map[string]string{},
			ReceivedAt:  body.internalDate,
			FetchedAt:   time.Now().UTC(),
		}, fmt.Errorf("open message: %w", err)
	}

	h := mr.Header
	msg := &models.RawMessage{
		Account:     account,
		Folder:      folder,
		UID:         uid,
		UIDValidity: uidValidity,
		Headers:     map[string]string{},
		ReceivedAt:  body.internalDate,
		FetchedAt:   time.Now().UTC(),
	}

	if id, err := h.MessageID(); err == nil && id != "" {
		msg.MessageID = "<" + id + ">"
	} else {
		msg.MessageID = syntheticMessageID(body.raw)
	}
	if subj, err := h.Subject(); err == nil {
		msg.Subject = subj
	}
	if date, err := h.Date(); err == nil && !date.IsZero() {
		msg.ReceivedAt = date
	}
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = models.EmailAddress{Name: from[0].Name, Address: strings.ToLower(from[0].Address)}
	}
	if to, err := h.AddressList("To"); err == nil {
		for _, a := range to {
			msg.To = append(msg.To, models.EmailAddress{Name: a.Name, Address: strings.ToLower(a.Address)})
		}
	}
	for _, key := range []string{"Reply-To", "In-Reply-To", "References", "List-Id"} {
		if v := h.Get(key); v != "" {
			msg.Headers[key] = v
		}
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Undecodable trailing part; keep what parsed so far.
			break
		}
		inline, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := inline.ContentType()
		data, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch ct {
		case "text/plain":
			if msg.TextBody == "" {
				msg.TextBody = string(data)
			}
		case "text/html":
			if msg.HTMLBody == "" {
				msg.HTMLBody = string(data)
			}
		}
	}

	if msg.TextBody == "" && msg.HTMLBody == "" {
		return msg, fmt.Errorf("message %s has no readable body", msg.MessageID)
	}
	return msg, nil
}

func syntheticMessageID(raw []byte) string {
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("<synthetic-%x@eia.local>", sum[:12])
}
