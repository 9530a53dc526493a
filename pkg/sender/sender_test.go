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

package sender

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alibaba/ilogtail-sub016/pkg/alarm"
	"github.com/alibaba/ilogtail-sub016/pkg/backpressure"
	"github.com/alibaba/ilogtail-sub016/pkg/batch"
	"github.com/alibaba/ilogtail-sub016/pkg/checkpoint"
	"github.com/alibaba/ilogtail-sub016/pkg/queuekey"
)

// fakeSink lets tests script a sequence of AdmitResults and records the
// batches it was offered.
type fakeSink struct {
	mu      sync.Mutex
	results []AdmitResult
	offered []*batch.Batch
}

func (f *fakeSink) Admit(ctx context.Context, b *batch.Batch) AdmitResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offered = append(f.offered, b)
	if len(f.results) == 0 {
		return Ok
	}
	r := f.results[0]
	f.results = f.results[1:]
	return r
}

func (f *fakeSink) Shutdown(ctx context.Context) error { return nil }

func TestCheckAdmitsWhenNotSaturated(t *testing.T) {
	key := queuekey.New("p", "sink")
	q := New(key, &fakeSink{}, nil, alarm.Noop, 2)
	if got := q.Check(key); got != backpressure.Admit {
		t.Fatalf("expected Admit, got %v", got)
	}
}

func TestEnqueueSaturatesPastCapacity(t *testing.T) {
	key := queuekey.New("p", "sink")
	sink := &fakeSink{results: []AdmitResult{Full}}
	q := New(key, sink, nil, alarm.Noop, 1)

	q.Enqueue(&batch.Batch{ID: 1})
	if got := q.Check(key); got != backpressure.Admit {
		t.Fatalf("expected still Admit at exactly capacity, got %v", got)
	}
	q.Enqueue(&batch.Batch{ID: 2})
	if got := q.Check(key); got != backpressure.WouldBlock {
		t.Fatalf("expected WouldBlock once overflow engaged, got %v", got)
	}
	if q.Depth() != 2 {
		t.Fatalf("expected depth 2, got %d", q.Depth())
	}
}

func TestCheckIgnoresOtherQueueKeys(t *testing.T) {
	key := queuekey.New("p", "sink")
	other := queuekey.New("p", "other-sink")
	q := New(key, &fakeSink{results: []AdmitResult{Full}}, nil, alarm.Noop, 1)
	q.Enqueue(&batch.Batch{ID: 1})
	q.Enqueue(&batch.Batch{ID: 2})

	if got := q.Check(other); got != backpressure.Admit {
		t.Fatalf("expected unrelated key to always Admit, got %v", got)
	}
}

func TestDrainPrefersOverflowThenClearsRingOnOk(t *testing.T) {
	key := queuekey.New("p", "sink")
	sink := &fakeSink{}
	q := New(key, sink, nil, alarm.Noop, 1)
	q.Enqueue(&batch.Batch{ID: 1}) // fills ring
	q.Enqueue(&batch.Batch{ID: 2}) // spills to overflow

	q.drain(context.Background())

	if q.Depth() != 0 {
		t.Fatalf("expected queue fully drained, got depth %d", q.Depth())
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.offered) != 2 || sink.offered[0].ID != 2 || sink.offered[1].ID != 1 {
		t.Fatalf("expected overflow batch offered before ring batch, got %+v", sink.offered)
	}
}

func TestDrainStopsOnFullAndResumesLater(t *testing.T) {
	key := queuekey.New("p", "sink")
	sink := &fakeSink{results: []AdmitResult{Full}}
	q := New(key, sink, nil, alarm.Noop, 4)
	q.Enqueue(&batch.Batch{ID: 1})

	q.drain(context.Background())
	if q.Depth() != 1 {
		t.Fatalf("expected batch to remain queued after Full, got depth %d", q.Depth())
	}

	q.drain(context.Background())
	if q.Depth() != 0 {
		t.Fatalf("expected batch drained on retry, got depth %d", q.Depth())
	}
}

func TestDrainDropsRejectedBatchWithoutCheckpointCommit(t *testing.T) {
	key := queuekey.New("p", "sink")
	sink := &fakeSink{results: []AdmitResult{Reject}}
	store := checkpoint.NewStore(filepath.Join(t.TempDir(), "cp.ndjson"))
	q := New(key, sink, store, alarm.Noop, 4)
	q.Enqueue(&batch.Batch{ID: 1})

	q.drain(context.Background())

	if q.Depth() != 0 {
		t.Fatalf("expected rejected batch to be dropped, got depth %d", q.Depth())
	}
	if len(store.Snapshot()) != 0 {
		t.Fatalf("expected no checkpoint committed for a rejected batch")
	}
}

func TestAckCommitsToStore(t *testing.T) {
	key := queuekey.New("p", "sink")
	store := checkpoint.NewStore(filepath.Join(t.TempDir(), "cp.ndjson"))
	q := New(key, &fakeSink{}, store, alarm.Noop, 4)

	cp := checkpoint.Checkpoint{Dev: 1, Ino: 1, Offset: 42}
	q.Ack(cp)

	got, ok := store.Get(cp.DevInode())
	if !ok || got.Offset != 42 {
		t.Fatalf("expected checkpoint committed, got %+v ok=%v", got, ok)
	}
}

func TestShutdownDrainsBeforeClosingSink(t *testing.T) {
	key := queuekey.New("p", "sink")
	sink := &fakeSink{}
	q := New(key, sink, nil, alarm.Noop, 4)
	q.Enqueue(&batch.Batch{ID: 1})
	go func() {
		time.Sleep(5 * time.Millisecond)
		q.drain(context.Background())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := q.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
