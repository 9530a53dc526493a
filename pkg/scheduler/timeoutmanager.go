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

package scheduler

import (
	"sort"
	"sync"
	"time"

	"github.com/alibaba/ilogtail-sub016/pkg/queuekey"
)

// Flusher is implemented by pkg/batch.Batcher: the Timeout Flush
// Manager never imports pkg/batch directly, to keep the scheduling
// primitive independent of the batching model it drives.
type Flusher interface {
	Flush(tagHash uint64)
}

type timeoutKey struct {
	pipeline string
	queueKey queuekey.QueueKey
	tagHash  uint64
}

type timeoutRecord struct {
	timeoutSecs int
	flusher     Flusher
	lastUpdate  time.Time
}

// TimeoutManager is a per-config keyed map: once per Timer tick it
// scans every record and flushes those whose oldest event has aged
// past timeout_secs. A Batcher multiplexes many
// tag-hash queues under one queue_key, so records are keyed down to
// tagHash: each tag-set's queue gets its own independent clock, and
// flushing one tag-set's queue never clears another's.
type TimeoutManager struct {
	mu      sync.Mutex
	records map[timeoutKey]*timeoutRecord
}

// NewTimeoutManager constructs an empty manager.
func NewTimeoutManager() *TimeoutManager {
	return &TimeoutManager{records: make(map[timeoutKey]*timeoutRecord)}
}

// UpdateRecord is called from the Batcher's admission path when a new,
// previously-empty per-tag-hash queue receives its first event: it
// starts the timeout clock for that queue. A queue that already has a
// running record is left untouched, since the timeout measures the
// oldest buffered event's age, not the most recent arrival.
func (m *TimeoutManager) UpdateRecord(pipeline string, qk queuekey.QueueKey, tagHash uint64, timeoutSecs int, flusher Flusher, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := timeoutKey{pipeline: pipeline, queueKey: qk, tagHash: tagHash}
	if _, exists := m.records[k]; exists {
		return
	}
	m.records[k] = &timeoutRecord{timeoutSecs: timeoutSecs, flusher: flusher, lastUpdate: now}
}

// ClearRecord removes the timeout clock for one tag-set's queue once
// the Batcher has flushed it, so the next event for that tag-set
// starts a fresh clock. Other tag-sets under the same queue_key are
// untouched.
func (m *TimeoutManager) ClearRecord(pipeline string, qk queuekey.QueueKey, tagHash uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, timeoutKey{pipeline: pipeline, queueKey: qk, tagHash: tagHash})
}

// Scan is invoked once per Timer tick. Records are visited in a
// deterministic (pipeline, queue_key, tag_hash) order, matching the
// Batcher's own key-sorted locking discipline.
func (m *TimeoutManager) Scan(now time.Time) {
	m.mu.Lock()
	due := make([]struct {
		key timeoutKey
		rec *timeoutRecord
	}, 0)
	keys := make([]timeoutKey, 0, len(m.records))
	for k := range m.records {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].pipeline != keys[j].pipeline {
			return keys[i].pipeline < keys[j].pipeline
		}
		if keys[i].queueKey != keys[j].queueKey {
			return keys[i].queueKey < keys[j].queueKey
		}
		return keys[i].tagHash < keys[j].tagHash
	})
	for _, k := range keys {
		rec := m.records[k]
		if now.Sub(rec.lastUpdate) >= time.Duration(rec.timeoutSecs)*time.Second {
			due = append(due, struct {
				key timeoutKey
				rec *timeoutRecord
			}{k, rec})
		}
	}
	m.mu.Unlock()

	for _, d := range due {
		d.rec.flusher.Flush(d.key.tagHash)
		m.ClearRecord(d.key.pipeline, d.key.queueKey, d.key.tagHash)
	}
}
