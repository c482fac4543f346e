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

// Package models defines the data structures shared across the ingestion
// pipeline. Each record is created by its owning stage and never mutated
// downstream; later stages only read and produce new linked records.
package models

import "time"

// EmailAddress represents a sender or recipient with an address and optional name.
type EmailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// RawMessage is a fully fetched email, immutable after creation.
//
// UID is the mailbox-assigned identifier within a folder; MessageID is the
// globally unique Message-ID header. The ledger is keyed on (account,
// MessageID) — UIDs are only stable per folder and UIDVALIDITY generation.
type RawMessage struct {
	Account     string            `json:"account"`
	Folder      string            `json:"folder"`
	UID         uint32            `json:"uid"`
	UIDValidity uint32            `json:"uid_validity"`
	MessageID   string            `json:"message_id"`
	From        EmailAddress      `json:"from"`
	To          []EmailAddress    `json:"to"`
	Subject     string            `json:"subject"`
	Headers     map[string]string `json:"headers,omitempty"`
	TextBody    string            `json:"text_body"`
	HTMLBody    string            `json:"html_body,omitempty"`
	ReceivedAt  time.Time         `json:"received_at"`
	FetchedAt   time.Time         `json:"fetched_at"`
}

// Ref returns the job-sized reference to this message. Queue jobs carry
// references, never payloads.
func (m *RawMessage) Ref() MessageRef {
	return MessageRef{
		Account:   m.Account,
		Folder:    m.Folder,
		UID:       m.UID,
		MessageID: m.MessageID,
	}
}

// MessageRef identifies a stored message without carrying its payload.
type MessageRef struct {
	Account   string `json:"account"`
	Folder    string `json:"folder"`
	UID       uint32 `json:"uid"`
	MessageID string `json:"message_id"`
}
