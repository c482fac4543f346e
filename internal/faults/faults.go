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

// Package faults classifies pipeline errors so the worker can decide
// between retry, dead-letter, and mailbox shutdown. Ambiguous matches and
// duplicate work are not faults — they are ordinary flagged results.
package faults

import (
	"errors"
	"fmt"
)

// Kind buckets an error by its retry policy.
type Kind int

const (
	// KindUnknown errors are treated as transient with capped retries.
	KindUnknown Kind = iota
	// KindTransient covers network and timeout errors; retried with backoff.
	KindTransient
	// KindAuth is fatal for the mailbox; surfaced to the operator, no retry.
	KindAuth
	// KindMalformed input is skipped with a Failed ledger entry, no retry.
	KindMalformed
	// KindModel covers inference backend unavailability; retried with
	// backoff up to a ceiling, then Failed.
	KindModel
	// KindStorage covers persistence failures; fatal for the current job,
	// retried, and halts the mailbox if persistent.
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAuth:
		return "auth"
	case KindMalformed:
		return "malformed"
	case KindModel:
		return "model-unavailable"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Fault wraps an error with its kind. It unwraps to the underlying error.
type Fault struct {
	Kind Kind
	Err  error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// New wraps err with the given kind. Returns nil if err is nil.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Fault{Kind: kind, Err: err}
}

// Transient wraps err as a retryable IO fault.
func Transient(err error) error { return New(KindTransient, err) }

// Auth wraps err as a fatal mailbox authentication fault.
func Auth(err error) error { return New(KindAuth, err) }

// Malformed wraps err as a non-retryable input fault.
func Malformed(err error) error { return New(KindMalformed, err) }

// Model wraps err as an inference backend fault.
func Model(err error) error { return New(KindModel, err) }

// Storage wraps err as a persistence fault.
func Storage(err error) error { return New(KindStorage, err) }

// Transientf is shorthand for Transient(fmt.Errorf(...)).
func Transientf(format string, args ...any) error {
	return Transient(fmt.Errorf(format, args...))
}

// KindOf returns the kind of the outermost Fault in err's chain, or
// KindUnknown when none is present.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindUnknown
}

// Retryable reports whether the error should be redelivered with backoff.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindModel, KindStorage, KindUnknown:
		return true
	default:
		return false
	}
}
