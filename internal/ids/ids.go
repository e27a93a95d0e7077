// Copyright 2025 Tom Barlow
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

// Package ids generates the identifiers the ledger and its siblings key
// their rows on, and computes the deterministic spec hash used for
// idempotency comparisons.
package ids

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// entropy is a lock-guarded ULID entropy source. ulid.New is not safe for
// concurrent use with a shared io.Reader, so every call is serialized; ULID
// generation is cheap enough that this never becomes a bottleneck relative
// to the database round-trip that follows it.
var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewExecutionID returns a lexicographically time-sortable identifier
// suitable for executions and execution events: ordering by id matches
// ordering by creation time, which the ledger's listing and claim queries
// rely on even when two rows share a created_at timestamp.
func NewExecutionID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewEventID is an alias for NewExecutionID; events share the same
// sortability requirement.
func NewEventID() string { return NewExecutionID() }

// NewOwnerID returns a random identifier for lease/lock ownership (worker
// instance ids, scheduler runner ids). UUIDs are used here rather than
// ULIDs because ownership ids are compared for equality only, never sorted.
func NewOwnerID() string { return uuid.NewString() }

// NewIdempotencyFallback returns a UUID to use as an idempotency key when
// the caller did not supply one, so "non-null and unique" invariants are
// never violated by an empty string collision.
func NewIdempotencyFallback() string { return uuid.NewString() }

// Now returns the current UTC time truncated to millisecond precision, the
// resolution every timestamp column in the schema is stored and compared at.
func Now() time.Time { return time.Now().UTC().Truncate(time.Millisecond) }

// SpecHash computes a deterministic hash over a job spec (or any
// JSON-serializable value) for dedup comparisons. Map keys are sorted by
// Go's stdlib json encoder, so two equal specs always hash identically
// regardless of field insertion order.
func SpecHash(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
