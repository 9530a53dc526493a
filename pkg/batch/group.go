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

package batch

import (
	"sync"
	"time"
)

// groupQueue is a second stage that coalesces batches with distinct
// tag-sets under a byte ceiling and a wall-clock timeout, to amortise
// per-batch overhead on low-rate streams.
type groupQueue struct {
	maxBytes int64
	timeout  time.Duration
	onFlush  func(*Batch)

	mu      sync.Mutex
	current *GroupBatch
}

func newGroupQueue(maxBytes int64, timeout time.Duration, onFlush func(*Batch)) *groupQueue {
	return &groupQueue{maxBytes: maxBytes, timeout: timeout, onFlush: onFlush}
}

// Add appends b to the in-progress GroupBatch, cutting it first if b
// would push the group over its byte ceiling.
func (g *groupQueue) Add(b *Batch) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current != nil && g.current.AggregateBytes+b.AggregateBytes > g.maxBytes {
		g.flushLocked()
	}
	if g.current == nil {
		g.current = &GroupBatch{Oldest: time.Now()}
	}
	g.current.Batches = append(g.current.Batches, b)
	g.current.AggregateBytes += b.AggregateBytes
}

// Sweep cuts the group, even though it never reached maxBytes, if the
// oldest contained batch's age is at least the group timeout. Nothing
// in this module calls it on a schedule: neither the Timeout Flush
// Manager nor the Driver invokes Sweep, so a group is cut on time only
// where its owner calls Sweep itself.
func (g *groupQueue) Sweep(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current != nil && now.Sub(g.current.Oldest) >= g.timeout {
		g.flushLocked()
	}
}

// flushLocked emits every batch in the current group individually
// through onFlush: the sink protocol is defined in terms of
// Batch/checkpoint admission, so GroupBatch is an internal coalescing
// unit, not a wire type of its own.
func (g *groupQueue) flushLocked() {
	if g.current == nil {
		return
	}
	for _, b := range g.current.Batches {
		if g.onFlush != nil {
			g.onFlush(b)
		}
	}
	g.current = nil
}
