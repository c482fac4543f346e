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

package queue

import (
	"testing"
	"time"
)

func TestBackoff_Doubles(t *testing.T) {
	base := 2 * time.Second
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	for i, w := range want {
		if got := Backoff(base, i+1); got != w {
			t.Errorf("Backoff(attempt=%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestBackoff_Capped(t *testing.T) {
	if got := Backoff(2*time.Second, 20); got != maxBackoff {
		t.Errorf("Backoff(attempt=20) = %v, want cap %v", got, maxBackoff)
	}
	// Shift overflow must also land on the cap, not go negative.
	if got := Backoff(time.Second, 64); got != maxBackoff {
		t.Errorf("Backoff(attempt=64) = %v, want cap %v", got, maxBackoff)
	}
}

func TestBackoff_ClampsAttempt(t *testing.T) {
	if got := Backoff(time.Second, 0); got != time.Second {
		t.Errorf("Backoff(attempt=0) = %v, want base", got)
	}
}

func TestNewJob_Populates(t *testing.T) {
	job := NewJob(KindProcess, "a@b.com")
	if job.ID == "" {
		t.Error("job ID empty")
	}
	if job.Kind != KindProcess || job.Account != "a@b.com" {
		t.Errorf("job = %+v", job)
	}
	if job.CreatedAt.IsZero() {
		t.Error("created_at not set")
	}
	if other := NewJob(KindPoll, "a@b.com"); other.ID == job.ID {
		t.Error("job IDs must be unique")
	}
}
