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

// Package sender implements the Sender Queue and Back-pressure Gate:
// each sink owns a bounded ring plus an unbounded overflow buffer, and
// the queue itself satisfies pkg/backpressure.Gate so a Reader sharing
// this sink's queue key is paused the moment the queue goes saturated,
// well before the overflow buffer would actually refuse a batch.
package sender

import (
	"context"
	"sync"
	"time"

	"github.com/alibaba/ilogtail-sub016/pkg/alarm"
	"github.com/alibaba/ilogtail-sub016/pkg/backpressure"
	"github.com/alibaba/ilogtail-sub016/pkg/batch"
	"github.com/alibaba/ilogtail-sub016/pkg/checkpoint"
	"github.com/alibaba/ilogtail-sub016/pkg/logging"
	"github.com/alibaba/ilogtail-sub016/pkg/queuekey"
)

// AdmitResult is a Sink's verdict on one offered Batch.
type AdmitResult int

const (
	// Ok means the sink has taken ownership of the batch and will
	// eventually Ack it.
	Ok AdmitResult = iota
	// Reject means the batch is permanently undeliverable: it is
	// dropped and its checkpoint is never committed — the only path
	// under which data loss is visible upstream.
	Reject
	// Full means the sink is momentarily saturated; the Queue should
	// hold the batch and retry.
	Full
)

// DefaultCapacity is the primary ring's size when a pipeline does not
// configure its own sender queue capacity.
const DefaultCapacity = 256

// DefaultShutdownGrace is how long Shutdown waits for the queue to
// drain before remaining items are left checkpointed as pending for
// restart.
const DefaultShutdownGrace = 5 * time.Second

// Sink is the capability set every sink type exposes to the Queue —
// admit, ack, shutdown.
type Sink interface {
	// Admit offers b to the sink. A caller goroutine calls this from
	// the Queue's single dispatcher, never concurrently with itself.
	Admit(ctx context.Context, b *batch.Batch) AdmitResult
	// Shutdown flushes any in-flight work, best-effort, within the
	// deadline carried by ctx.
	Shutdown(ctx context.Context) error
}

// Queue is one sink's Sender Queue and the Gate a Reader's
// pkg/tailer.Config.Priority/QueueKey admission check consults.
type Queue struct {
	key      queuekey.QueueKey
	sink     Sink
	store    *checkpoint.Store
	notifier alarm.Notifier

	capacity int

	mu        sync.Mutex
	ring      []*batch.Batch // bounded primary buffer, FIFO via append/shift
	overflow  []*batch.Batch // unbounded extra buffer, drained first once saturated
	saturated bool

	wake chan struct{}
}

// New constructs a Queue draining into sink. capacity <= 0 means
// DefaultCapacity.
func New(key queuekey.QueueKey, sink Sink, store *checkpoint.Store, notifier alarm.Notifier, capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if notifier == nil {
		notifier = alarm.Noop
	}
	return &Queue{
		key:      key,
		sink:     sink,
		store:    store,
		notifier: notifier,
		capacity: capacity,
		wake:     make(chan struct{}, 1),
	}
}

// Check implements backpressure.Gate: WouldBlock for every caller
// sharing this Queue's key while the queue is saturated, regardless of
// whether the overflow buffer would still technically accept more —
// this is what propagates congestion all the way back to the file
// reader.
func (q *Queue) Check(key queuekey.QueueKey) backpressure.Outcome {
	if key != q.key {
		return backpressure.Admit
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.saturated {
		return backpressure.WouldBlock
	}
	return backpressure.Admit
}

// Enqueue admits b into the ring, spilling into the unbounded overflow
// buffer and flagging saturation once the ring is full. It never
// blocks and never rejects: admission control happens before this
// call, via Check.
func (q *Queue) Enqueue(b *batch.Batch) {
	q.mu.Lock()
	if len(q.ring) < q.capacity {
		q.ring = append(q.ring, b)
	} else {
		q.overflow = append(q.overflow, b)
		if !q.saturated {
			q.saturated = true
			q.notifier.Notify("", alarm.KindIOWarning, "sender queue saturated, back-pressure engaged")
		}
	}
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Run is the Queue's single dispatcher: it pops from the overflow
// buffer preferentially, draining it before touching the ring, offers
// each Batch to the sink, and on Ok removes it; on Full it stops
// draining until the next wakeup; on Reject it drops the batch without
// committing its checkpoint. Run blocks until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		}
		q.drain(ctx)
	}
}

func (q *Queue) drain(ctx context.Context) {
	for {
		next, fromOverflow, ok := q.peek()
		if !ok {
			return
		}
		result := q.sink.Admit(ctx, next)
		switch result {
		case Ok:
			q.pop(fromOverflow)
			q.markLowWaterIfDrained()
		case Reject:
			logging.Warn.Warnw("sender: sink rejected batch, dropping without checkpoint commit", "batch_id", next.ID, "tag_hash", next.TagHash)
			q.pop(fromOverflow)
		case Full:
			return // try again on next wake
		}
	}
}

func (q *Queue) peek() (*batch.Batch, bool, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.overflow) > 0 {
		return q.overflow[0], true, true
	}
	if len(q.ring) > 0 {
		return q.ring[0], false, true
	}
	return nil, false, false
}

func (q *Queue) pop(fromOverflow bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if fromOverflow {
		q.overflow = q.overflow[1:]
	} else {
		q.ring = q.ring[1:]
	}
}

func (q *Queue) markLowWaterIfDrained() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.saturated && len(q.overflow) == 0 && len(q.ring) < q.capacity {
		q.saturated = false
	}
}

// Ack commits cp, the checkpoint carried by the batch the sink just
// acknowledged. Sinks call this asynchronously, potentially out of
// admission order; the Checkpoint Store itself only ever keeps the
// highest offset per DevInode, so an out-of-order Ack cannot regress a
// Reader's resume point.
func (q *Queue) Ack(cp checkpoint.Checkpoint) {
	if q.store != nil {
		q.store.Update(cp)
	}
}

// Shutdown gives the dispatcher up to DefaultShutdownGrace (or the
// deadline already on ctx, if sooner) to drain, then tells the sink to
// shut down. Any batches still queued afterward are left exactly where
// they are — their checkpoints were never committed, so a restart
// resumes the corresponding Readers from before those batches, a
// bounded at-least-once duplication window.
func (q *Queue) Shutdown(ctx context.Context) error {
	deadline := time.Now().Add(DefaultShutdownGrace)
drain:
	for time.Now().Before(deadline) {
		q.mu.Lock()
		empty := len(q.ring) == 0 && len(q.overflow) == 0
		q.mu.Unlock()
		if empty {
			break
		}
		select {
		case <-ctx.Done():
			break drain
		case <-time.After(10 * time.Millisecond):
		}
	}
	return q.sink.Shutdown(ctx)
}

// Depth reports the total number of batches currently queued, for
// metrics/diagnostics.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ring) + len(q.overflow)
}
