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

// Package batch implements the Batcher and optional Group Queue:
// events are aggregated by tag-hash into size/count/time-bounded
// batches, and batches may be further coalesced across tag-sets before
// reaching a sink.
package batch

import (
	cryptorand "crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid"

	"github.com/alibaba/ilogtail-sub016/pkg/alarm"
	"github.com/alibaba/ilogtail-sub016/pkg/checkpoint"
	"github.com/alibaba/ilogtail-sub016/pkg/event"
	"github.com/alibaba/ilogtail-sub016/pkg/queuekey"
)

// Batch is the aggregation unit: every event in it shares TagHash.
type Batch struct {
	ID             uint64
	TagHash        uint64
	Tags           event.Tags
	Events         []event.Event
	AggregateBytes int64
	SourceBuffers  [][]byte
	Checkpoint     checkpoint.Checkpoint
	PackIDPrefix   string
}

// GroupBatch is the optional cross-tag-set coalescing unit.
type GroupBatch struct {
	Batches        []*Batch
	AggregateBytes int64
	Oldest         time.Time
}

// Config bounds one Batcher instance.
type Config struct {
	MaxCount       int
	MaxBytes       int64
	TimeoutSecs    int
	GroupMaxBytes  int64 // 0 disables the Group Queue
	GroupTimeout   time.Duration
}

const (
	defaultGroupMaxBytes = 1024
	defaultGroupTimeout  = 2 * time.Second
)

// Batcher aggregates event.Event values by Tags.Hash() into Batches.
type Batcher struct {
	cfg      Config
	pipeline string
	notifier alarm.Notifier
	onFlush  func(*Batch)
	group    *groupQueue

	timeoutMgr  timeoutRegistrar
	queueKey    queuekey.QueueKey
	timeoutSecs int

	mu     sync.Mutex
	queues map[uint64]*eventQueue
	idSeq  uint64
}

// timeoutRegistrar is the subset of *scheduler.TimeoutManager the
// Batcher's admission path needs; kept as an interface so pkg/batch
// does not import pkg/scheduler just for this one optional wiring.
type timeoutRegistrar interface {
	UpdateRecord(pipeline string, qk queuekey.QueueKey, tagHash uint64, timeoutSecs int, flusher interface{ Flush(uint64) }, now time.Time)
	ClearRecord(pipeline string, qk queuekey.QueueKey, tagHash uint64)
}

type eventQueue struct {
	tags             event.Tags
	events           []event.Event
	bytes            int64
	oldestCheckpoint checkpoint.Checkpoint
	hasCheckpoint    bool
	lastUpdate       time.Time
}

// New constructs a Batcher. onFlush receives every completed Batch
// that is not redirected into the Group Queue (when cfg.GroupMaxBytes
// is 0, every batch goes through onFlush directly).
func New(pipeline string, cfg Config, notifier alarm.Notifier, onFlush func(*Batch)) *Batcher {
	if notifier == nil {
		notifier = alarm.Noop
	}
	b := &Batcher{
		cfg:      cfg,
		pipeline: pipeline,
		notifier: notifier,
		onFlush:  onFlush,
		queues:   make(map[uint64]*eventQueue),
	}
	if cfg.GroupMaxBytes > 0 {
		gmb := cfg.GroupMaxBytes
		gto := cfg.GroupTimeout
		if gto <= 0 {
			gto = defaultGroupTimeout
		}
		b.group = newGroupQueue(gmb, gto, onFlush)
	}
	return b
}

// UseTimeoutManager wires this Batcher into a scheduler.TimeoutManager
// so the Timer's periodic Scan can invoke Flush(tagHash) once an
// idle queue's oldest event ages past timeoutSecs: a third flush
// trigger alongside size and count that the Batcher itself does not
// track.
func (b *Batcher) UseTimeoutManager(mgr timeoutRegistrar, qk queuekey.QueueKey, timeoutSecs int) {
	b.timeoutMgr = mgr
	b.queueKey = qk
	b.timeoutSecs = timeoutSecs
}

// Add folds one event into its tag-hash's queue, flushing if a trigger
// fires. It never blocks.
func (b *Batcher) Add(e event.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addLocked(e)
}

// AddGroup folds a slice of events that arrived together (e.g. several
// records decoded from one read()) sharing the same tag-set, applying
// a greedy oversized-group split: a group whose events already exceed
// max_bytes is cut into batches no smaller than one event each, rather
// than held until the next single Add call.
func (b *Batcher) AddGroup(events []event.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range events {
		b.addLocked(e)
	}
}

func (b *Batcher) addLocked(e event.Event) {
	h := e.Tags.Hash()
	q, ok := b.queues[h]
	if !ok {
		q = &eventQueue{tags: e.Tags.Clone(), lastUpdate: e.Timestamp}
		b.queues[h] = q
		if b.timeoutMgr != nil && b.timeoutSecs > 0 {
			b.timeoutMgr.UpdateRecord(b.pipeline, b.queueKey, h, b.timeoutSecs, b, e.Timestamp)
		}
	}
	if !q.hasCheckpoint {
		q.oldestCheckpoint = e.Checkpoint
		q.hasCheckpoint = true
	}
	q.events = append(q.events, e)
	q.bytes += int64(len(e.PayloadBytes))
	q.lastUpdate = e.Timestamp

	switch {
	case b.cfg.MaxCount > 0 && len(q.events) >= b.cfg.MaxCount:
		b.flushLocked(h, q, false)
	case b.cfg.MaxBytes > 0 && q.bytes >= b.cfg.MaxBytes:
		b.flushLocked(h, q, false)
	}
}

// Flush force-cuts the queue for tagHash, as invoked by the Timeout
// Flush Manager when the oldest event's age exceeds timeout_secs.
func (b *Batcher) Flush(tagHash uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[tagHash]
	if !ok || len(q.events) == 0 {
		return
	}
	b.flushLocked(tagHash, q, true)
}

// FlushAll force-cuts every open queue unconditionally, used on
// pipeline shutdown.
func (b *Batcher) FlushAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for h, q := range b.queues {
		if len(q.events) > 0 {
			b.flushLocked(h, q, true)
		}
	}
}

// flushLocked cuts q's buffered events into one or more Batches
// (greedy split if oversized) and routes each through onFlush or the
// Group Queue. byTimeout marks a forced/timeout-triggered flush, which
// a configured Group Queue treats the same as any other flush: every
// Batcher-level flush is routed through it when enabled, since the
// Group Queue's own size/timeout ceiling is what actually decides
// whether coalescence helps.
func (b *Batcher) flushLocked(h uint64, q *eventQueue, byTimeout bool) {
	_ = byTimeout
	batches := b.cutBatches(q)
	delete(b.queues, h)
	if b.timeoutMgr != nil {
		b.timeoutMgr.ClearRecord(b.pipeline, b.queueKey, h)
	}
	for _, bt := range batches {
		if b.group != nil {
			b.group.Add(bt)
		} else if b.onFlush != nil {
			b.onFlush(bt)
		}
	}
}

func (b *Batcher) cutBatches(q *eventQueue) []*Batch {
	maxBytes := b.cfg.MaxBytes
	maxCount := b.cfg.MaxCount
	if maxBytes <= 0 {
		maxBytes = 1 << 62
	}
	if maxCount <= 0 {
		maxCount = 1 << 30
	}

	var batches []*Batch
	var cur []event.Event
	var curBytes int64
	flushCur := func() {
		if len(cur) == 0 {
			return
		}
		batches = append(batches, b.newBatch(q.tags, cur, q.oldestCheckpoint))
		cur = nil
		curBytes = 0
	}
	for _, e := range q.events {
		sz := int64(len(e.PayloadBytes))
		if len(cur) > 0 && (curBytes+sz > maxBytes || len(cur)+1 > maxCount) {
			flushCur()
		}
		cur = append(cur, e)
		curBytes += sz
	}
	flushCur()
	if len(batches) > 1 {
		b.notifier.Notify(b.pipeline, alarm.KindIOWarning, "oversized group split into %d batches for tag_hash %d", len(batches), q.tags.Hash())
	}
	return batches
}

func (b *Batcher) newBatch(tags event.Tags, events []event.Event, cp checkpoint.Checkpoint) *Batch {
	b.idSeq++
	var aggregate int64
	buffers := make([][]byte, 0, len(events))
	for _, e := range events {
		aggregate += int64(len(e.PayloadBytes))
		buffers = append(buffers, e.PayloadBytes)
	}
	return &Batch{
		ID:             b.idSeq,
		TagHash:        tags.Hash(),
		Tags:           tags,
		Events:         events,
		AggregateBytes: aggregate,
		SourceBuffers:  buffers,
		Checkpoint:     cp,
		PackIDPrefix:   newULID(),
	}
}

func newULID() string {
	id, err := ulid.New(ulid.Timestamp(time.Now()), cryptorand.Reader)
	if err != nil {
		return ""
	}
	return id.String()
}
