//
// Copyright (C) 2022 IBM Corporation.
//
// Authors:
// Frederico Araujo <frederico.araujo@ibm.com>
// Teryl Taylor <terylt@ibm.com>
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

package tailer

import (
	"sync"
	"time"

	"github.com/alibaba/ilogtail-sub016/pkg/alarm"
	"github.com/alibaba/ilogtail-sub016/pkg/signature"
)

// DefaultRotatorQueueSize is the per-path RotationArray cap applied
// when a pipeline does not configure RotatorQueueSize.
const DefaultRotatorQueueSize = 10

// DefaultRotateRetainSecs is how long a retired Reader sits in the
// Rotation Tracker before being force-closed.
const DefaultRotateRetainSecs = 600

// RotationArray is the per-logical-path deque of successive
// generations of one path, oldest-first. Only the newest element is
// ever advanced by new writes; older elements drain to EOF and are
// removed. It stores ReaderId values only, never *Reader, so ownership
// stays solely with the Registry's arena.
type RotationArray struct {
	mu       sync.Mutex
	ids      []ReaderId
	maxLen   int
	pipeline string
	notifier alarm.Notifier
}

// NewRotationArray constructs a RotationArray bounded at maxLen (0
// means DefaultRotatorQueueSize).
func NewRotationArray(pipeline string, maxLen int, notifier alarm.Notifier) *RotationArray {
	if maxLen <= 0 {
		maxLen = DefaultRotatorQueueSize
	}
	if notifier == nil {
		notifier = alarm.Noop
	}
	return &RotationArray{maxLen: maxLen, pipeline: pipeline, notifier: notifier}
}

// Prepend adds id as the oldest (drains-first) generation. If the
// array is already at capacity, the newest (just-added) generation id
// is dropped instead of blocking, and a throttled rotation_overflow
// alarm fires.
func (ra *RotationArray) Prepend(id ReaderId) (dropped ReaderId, ok bool) {
	ra.mu.Lock()
	defer ra.mu.Unlock()
	if len(ra.ids) >= ra.maxLen {
		ra.notifier.Notify(ra.pipeline, alarm.KindRotationOverflow, "rotation array full (%d), dropping reader %d", ra.maxLen, id)
		return id, false
	}
	ra.ids = append([]ReaderId{id}, ra.ids...)
	return 0, true
}

// PushNewest appends id as the newest (currently-live) generation.
func (ra *RotationArray) PushNewest(id ReaderId) (dropped ReaderId, ok bool) {
	ra.mu.Lock()
	defer ra.mu.Unlock()
	if len(ra.ids) >= ra.maxLen {
		ra.notifier.Notify(ra.pipeline, alarm.KindRotationOverflow, "rotation array full (%d), dropping reader %d", ra.maxLen, id)
		return id, false
	}
	ra.ids = append(ra.ids, id)
	return 0, true
}

// Oldest returns the oldest generation's id, if any, without removing
// it. The caller drains it via the Registry before calling PopOldest.
func (ra *RotationArray) Oldest() (ReaderId, bool) {
	ra.mu.Lock()
	defer ra.mu.Unlock()
	if len(ra.ids) == 0 {
		return 0, false
	}
	return ra.ids[0], true
}

// PopOldest removes the oldest generation once it has fully drained
// and been closed.
func (ra *RotationArray) PopOldest() {
	ra.mu.Lock()
	defer ra.mu.Unlock()
	if len(ra.ids) == 0 {
		return
	}
	ra.ids = ra.ids[1:]
}

// Newest returns the currently-live generation's id, if any.
func (ra *RotationArray) Newest() (ReaderId, bool) {
	ra.mu.Lock()
	defer ra.mu.Unlock()
	if len(ra.ids) == 0 {
		return 0, false
	}
	return ra.ids[len(ra.ids)-1], true
}

// Len reports how many generations are tracked.
func (ra *RotationArray) Len() int {
	ra.mu.Lock()
	defer ra.mu.Unlock()
	return len(ra.ids)
}

// trackedReader is one entry in the Rotation Tracker: a retired Reader
// held until fully drained or force-closed after RotateRetainSecs.
type trackedReader struct {
	id        ReaderId
	di        signature.DevInode
	retiredAt time.Time
}

// Tracker is the Rotation Tracker: retired Readers pending final
// drain, keyed by their DevInode at retirement. A Reader is in exactly
// one of Registry-live, Tracker, or neither at any time -
// Registry.Remove is called the moment a Reader leaves the Tracker, in
// either direction.
type Tracker struct {
	mu          sync.Mutex
	byDevInode  map[signature.DevInode]*trackedReader
	retainSecs  int
	pipeline    string
	notifier    alarm.Notifier
}

// NewTracker constructs an empty Tracker. retainSecs <= 0 means
// DefaultRotateRetainSecs.
func NewTracker(pipeline string, retainSecs int, notifier alarm.Notifier) *Tracker {
	if retainSecs <= 0 {
		retainSecs = DefaultRotateRetainSecs
	}
	if notifier == nil {
		notifier = alarm.Noop
	}
	return &Tracker{
		byDevInode: make(map[signature.DevInode]*trackedReader),
		retainSecs: retainSecs,
		pipeline:   pipeline,
		notifier:   notifier,
	}
}

// Track admits a retired Reader, keyed by its DevInode at retirement.
func (t *Tracker) Track(id ReaderId, di signature.DevInode, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byDevInode[di] = &trackedReader{id: id, di: di, retiredAt: now}
}

// Lookup reports whether di has a tracked Reader still pending drain.
// Discovery consults this before creating a new Reader for a file, and
// promotes a tracked Reader back into the Registry if that file
// reappears.
func (t *Tracker) Lookup(di signature.DevInode) (ReaderId, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.byDevInode[di]
	if !ok {
		return 0, false
	}
	return tr.id, true
}

// Untrack removes di from the Tracker, either because the Reader
// drained naturally, was discarded, or was promoted back into live
// service. The caller is responsible for the corresponding
// Registry.Remove or Registry.Put.
func (t *Tracker) Untrack(di signature.DevInode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byDevInode, di)
}

// Sweep force-retires every tracked Reader older than retainSecs,
// returning their ids for the caller to Close and Registry.Remove.
// Called once per Timer tick alongside Discovery.
func (t *Tracker) Sweep(now time.Time) []ReaderId {
	t.mu.Lock()
	defer t.mu.Unlock()
	var expired []ReaderId
	cutoff := time.Duration(t.retainSecs) * time.Second
	for di, tr := range t.byDevInode {
		if now.Sub(tr.retiredAt) >= cutoff {
			expired = append(expired, tr.id)
			delete(t.byDevInode, di)
			t.notifier.Notify(t.pipeline, alarm.KindIOWarning, "force-closing rotation-tracked reader %d after %ds", tr.id, t.retainSecs)
		}
	}
	return expired
}

// Len reports how many Readers the Tracker currently holds.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byDevInode)
}
