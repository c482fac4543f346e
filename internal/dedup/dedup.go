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

// Package dedup provides the two Redis SETNX primitives the pipeline
// depends on: a per-message lease that keeps two workers off the same
// message, and a sliding alert window that suppresses repeat opportunities
// for the same dedup key.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	leasePrefix  = "eia:lease:"
	windowPrefix = "eia:alerted:"
)

// releaseScript deletes the lease only if the caller still holds it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lease serializes concurrent attempts on the same message key.
// The TTL bounds how long a crashed worker can block redelivery.
type Lease struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewLease creates a lease manager with the given expiry.
func NewLease(rdb *redis.Client, ttl time.Duration) *Lease {
	return &Lease{rdb: rdb, ttl: ttl}
}

// Acquire attempts to take the lease for key. On success it returns a
// token that must be passed back to Release. ok=false means another
// worker holds the lease.
func (l *Lease) Acquire(ctx context.Context, key string) (token string, ok bool, err error) {
	token = uuid.New().String()

	// SET NX = set only if key does not exist.
	set, err := l.rdb.SetNX(ctx, leasePrefix+key, token, l.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("lease SETNX: %w", err)
	}
	if !set {
		return "", false, nil
	}
	return token, true, nil
}

// Release frees the lease if token still owns it. Releasing an expired or
// stolen lease is a no-op.
func (l *Lease) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{leasePrefix + key}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("lease release: %w", err)
	}
	return nil
}

// Window tracks which dedup keys have alerted inside the active window.
type Window struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewWindow creates an alert dedup window with the given length.
func NewWindow(rdb *redis.Client, ttl time.Duration) *Window {
	return &Window{rdb: rdb, ttl: ttl}
}

// IsNew returns true if the dedup key has NOT alerted within the window.
// If true, the key is marked atomically (SETNX) so concurrent evaluations
// of the same key admit exactly one alert.
func (w *Window) IsNew(ctx context.Context, dedupKey string) (bool, error) {
	set, err := w.rdb.SetNX(ctx, windowPrefix+dedupKey, 1, w.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}
	return set, nil
}
