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

// Package scheduler implements the Timer and Timeout Flush Manager: a
// single-threaded scheduler driving every periodic concern in the core
// (Discovery Handler ticks, checkpoint flush, timeout-based batch
// flush), plus the per-queue-key timeout registry the Batcher consults
// for its own timeout trigger.
package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/alibaba/ilogtail-sub016/pkg/logging"
)

// Handler is invoked when a Timer entry fires.
type Handler func()

type timerEntry struct {
	id       uint64
	nextFire time.Time
	period   time.Duration // 0 means one-shot
	handler  Handler
	index    int // heap.Interface bookkeeping
}

type entryHeap []*timerEntry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].nextFire.Before(h[j].nextFire) }
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *entryHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Timer is a single-threaded scheduler: it maintains a multiset of
// (next_fire, event_id) and runs handlers serially on its own
// goroutine via Run.
type Timer struct {
	mu      sync.Mutex
	heap    entryHeap
	byID    map[uint64]*timerEntry
	nextID  uint64
	wake    chan struct{}
}

// New constructs an empty Timer.
func New() *Timer {
	t := &Timer{byID: make(map[uint64]*timerEntry), wake: make(chan struct{}, 1)}
	heap.Init(&t.heap)
	return t
}

// Add schedules handler to first fire after delay, then (if period > 0)
// every period thereafter, and returns an id usable with Remove.
func (t *Timer) Add(delay, period time.Duration, handler Handler) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	e := &timerEntry{id: id, nextFire: time.Now().Add(delay), period: period, handler: handler}
	heap.Push(&t.heap, e)
	t.byID[id] = e
	t.notify()
	return id
}

// Remove cancels a scheduled entry; a no-op if id is unknown (already
// fired one-shot, or already removed).
func (t *Timer) Remove(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byID[id]
	if !ok {
		return
	}
	heap.Remove(&t.heap, e.index)
	delete(t.byID, id)
}

func (t *Timer) notify() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Run drives the scheduler until ctx is cancelled. Each handler runs
// serially on this goroutine, so no handler may block for more than
// tens of milliseconds: long-running work (a discovery scan, a
// checkpoint flush) must hand off to its own goroutine/worker pool
// internally rather than block Run itself.
func (t *Timer) Run(ctx context.Context) {
	for {
		t.mu.Lock()
		var sleep time.Duration
		var due *timerEntry
		if t.heap.Len() == 0 {
			sleep = time.Hour
		} else {
			next := t.heap[0]
			now := time.Now()
			if !next.nextFire.After(now) {
				due = heap.Pop(&t.heap).(*timerEntry)
				delete(t.byID, due.id)
			} else {
				sleep = next.nextFire.Sub(now)
			}
		}
		t.mu.Unlock()

		if due != nil {
			t.fire(due)
			continue
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		case <-t.wake:
			timer.Stop()
		}
	}
}

func (t *Timer) fire(e *timerEntry) {
	func() {
		defer func() {
			if r := recover(); r != nil {
				logging.Error.Errorw("scheduler: timer handler panicked", "id", e.id, "panic", r)
			}
		}()
		e.handler()
	}()
	if e.period <= 0 {
		return
	}
	// Align the next fire strictly after now, even if the handler
	// overran one or more periods, so a slow handler cannot flood the
	// queue with back-to-back catch-up calls.
	next := e.nextFire.Add(e.period)
	now := time.Now()
	for !next.After(now) {
		next = next.Add(e.period)
	}
	e.nextFire = next
	t.mu.Lock()
	heap.Push(&t.heap, e)
	t.byID[e.id] = e
	t.mu.Unlock()
}
