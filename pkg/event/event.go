// Copyright 2026 The ilogtail-sub016 Authors.
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

// Package event defines the Event type produced by Readers and
// consumed by the Batcher, and the tag-set hashing shared by both.
package event

import (
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/alibaba/ilogtail-sub016/pkg/checkpoint"
)

// Tags is an event's tag-set. Two tag-sets with the same key/value
// pairs in any order hash identically (Hash sorts before hashing),
// since the Batcher keys its per-tag-set queues by this hash.
type Tags map[string]string

// Hash derives the stable tag_hash used to key the Batcher's per-key
// event queues. cespare/xxhash/v2 is used rather than a cryptographic
// hash since tag-sets are trusted, in-process data, and xxhash is
// already the module's digest of choice for file signatures.
func (t Tags) Hash() uint64 {
	if len(t) == 0 {
		return 0
	}
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	d := xxhash.New()
	for _, k := range keys {
		_, _ = d.WriteString(k)
		_, _ = d.WriteString("=")
		_, _ = d.WriteString(t[k])
		_, _ = d.WriteString("\x00")
	}
	return d.Sum64()
}

// Clone returns a shallow copy, used when a Reader's base tag-set is
// reused across many events and a caller needs to add a per-event tag
// without mutating the shared map.
func (t Tags) Clone() Tags {
	out := make(Tags, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Event is one immutable logical record, produced by a Reader (after
// Multiline Splitter / Container-Log Decoder framing) and consumed by
// the Batcher. PayloadBytes is a copy owned by the event; it does not
// share the Reader's read buffer.
type Event struct {
	Timestamp    time.Time
	Tags         Tags
	PayloadBytes []byte
	SourceOffset int64
	SourceInode  uint64

	// Checkpoint is the position a Reader had committed immediately
	// after producing this event, carried so the Batcher can stamp the
	// oldest folded-in checkpoint onto its emitted Batch.
	Checkpoint checkpoint.Checkpoint
}
