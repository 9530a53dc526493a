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

package checkpoint

import (
	"bufio"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/alibaba/ilogtail-sub016/pkg/logging"
	"github.com/alibaba/ilogtail-sub016/pkg/signature"
)

// Default backoff shape for checkpoint flush retries: decorrelated
// exponential backoff bounded by RetryCap attempts.
const (
	DefaultRetryBase     = 100 * time.Millisecond
	DefaultRetryCapDelay = 30 * time.Second
	DefaultRetryCapTries = 8
)

// Store is the durable, write-behind Checkpoint Store: a per-config
// file holding the authoritative on-disk read-position of every
// Reader. Readers push their current checkpoint into memory on every
// successful read; a periodic flush driven externally by the Timer
// persists the in-memory snapshot to disk.
type Store struct {
	path string

	mu      sync.RWMutex
	entries map[signature.DevInode]Checkpoint

	retryBase     time.Duration
	retryCapDelay time.Duration
	retryCapTries int
}

// NewStore creates a Store backed by the NDJSON file at path. The
// store is empty until Load is called.
func NewStore(path string) *Store {
	return &Store{
		path:          path,
		entries:       make(map[signature.DevInode]Checkpoint),
		retryBase:     DefaultRetryBase,
		retryCapDelay: DefaultRetryCapDelay,
		retryCapTries: DefaultRetryCapTries,
	}
}

// Load reads the on-disk NDJSON file into memory. A missing file is
// not an error: it means this is the first run. The on-disk state is
// authoritative: later lines for the same DevInode overwrite earlier
// ones.
func (s *Store) Load() error {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "open checkpoint file")
	}
	defer f.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var cp Checkpoint
		if err := cp.UnmarshalJSON(line); err != nil {
			logging.Warn.Warnw("skipping malformed checkpoint line", "error", err)
			continue
		}
		s.entries[cp.DevInode()] = cp
	}
	return scanner.Err()
}

// Update records cp in memory, keeping whichever of the new and
// existing entry for cp's DevInode has the larger Offset. It is called
// both from a Reader's read loop on every successful outcome and,
// asynchronously and possibly out of order, from a Sink acknowledging
// a batch; the monotonicity guard means a late-arriving Ack for an
// older batch can never regress a Reader's resume point past progress
// already recorded by a newer one.
func (s *Store) Update(cp Checkpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[cp.DevInode()]; ok && existing.Offset > cp.Offset {
		return
	}
	s.entries[cp.DevInode()] = cp
}

// Get returns the last recorded checkpoint for di, if any.
func (s *Store) Get(di signature.DevInode) (Checkpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.entries[di]
	return cp, ok
}

// Delete removes any checkpoint for di, e.g. once a rotated file has
// been fully drained and force-closed.
func (s *Store) Delete(di signature.DevInode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, di)
}

// Snapshot returns a point-in-time copy of all checkpoints, so the
// caller writing them to disk never observes a partial update.
func (s *Store) Snapshot() []Checkpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Checkpoint, 0, len(s.entries))
	for _, cp := range s.entries {
		out = append(out, cp)
	}
	return out
}

// Flush persists the current in-memory snapshot to disk, replacing
// the file contents. It is the handler a caller registers with the
// Timer at checkpoint_interval.
func (s *Store) Flush() error {
	snapshot := s.Snapshot()

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp checkpoint file")
	}
	tmpName := tmp.Name()
	w := bufio.NewWriter(tmp)
	for _, cp := range snapshot {
		b, err := cp.MarshalJSON()
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
			return errors.Wrap(err, "marshal checkpoint")
		}
		if _, err := w.Write(b); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
			return errors.Wrap(err, "write checkpoint line")
		}
		if err := w.WriteByte('\n'); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
			return errors.Wrap(err, "write checkpoint newline")
		}
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "flush checkpoint buffer")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "close temp checkpoint file")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "rename checkpoint file into place")
	}
	return nil
}

// FlushWithRetry calls Flush, retrying with decorrelated exponential
// backoff on failure up to retryCapTries attempts. It never returns an
// error that should crash the agent; exhausting retries is logged and
// swallowed, accepting an at-most-once-on-restart risk rather than
// bringing the process down.
func (s *Store) FlushWithRetry() {
	delay := s.retryBase
	for attempt := 1; attempt <= s.retryCapTries; attempt++ {
		if err := s.Flush(); err == nil {
			return
		} else if attempt == s.retryCapTries {
			logging.Error.Errorw("checkpoint flush failed after retry cap reached; continuing with at-most-once risk on restart", "attempts", attempt, "error", err)
			return
		} else {
			logging.Warn.Warnw("checkpoint flush failed, retrying", "attempt", attempt, "error", err)
		}
		time.Sleep(jitteredDelay(delay, s.retryCapDelay))
		delay *= 2
		if delay > s.retryCapDelay {
			delay = s.retryCapDelay
		}
	}
}

// jitteredDelay applies decorrelated jitter: a random duration between
// half of base and cap, never exceeding cap.
func jitteredDelay(base, cap time.Duration) time.Duration {
	if base > cap {
		base = cap
	}
	lo := base / 2
	if lo <= 0 {
		lo = time.Millisecond
	}
	span := int64(cap - lo)
	if span <= 0 {
		return lo
	}
	return lo + time.Duration(rand.Int63n(span))
}
