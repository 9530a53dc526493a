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
	"testing"
	"time"

	"github.com/alibaba/ilogtail-sub016/pkg/alarm"
	"github.com/alibaba/ilogtail-sub016/pkg/signature"
)

func TestRotationArrayOldestNewestOrder(t *testing.T) {
	ra := NewRotationArray("p", 3, alarm.Noop)
	ra.PushNewest(1)
	if _, ok := ra.Prepend(2); !ok {
		t.Fatalf("expected Prepend to succeed")
	}
	if oldest, ok := ra.Oldest(); !ok || oldest != 2 {
		t.Fatalf("expected oldest 2, got %v ok=%v", oldest, ok)
	}
	if newest, ok := ra.Newest(); !ok || newest != 1 {
		t.Fatalf("expected newest 1, got %v ok=%v", newest, ok)
	}
	ra.PopOldest()
	if oldest, ok := ra.Oldest(); !ok || oldest != 1 {
		t.Fatalf("expected oldest 1 after pop, got %v ok=%v", oldest, ok)
	}
	if ra.Len() != 1 {
		t.Fatalf("expected Len 1, got %d", ra.Len())
	}
}

func TestRotationArrayDropsNewestOnOverflow(t *testing.T) {
	ra := NewRotationArray("p", 1, alarm.Noop)
	ra.PushNewest(1)
	dropped, ok := ra.PushNewest(2)
	if ok {
		t.Fatalf("expected overflow to fail admission")
	}
	if dropped != 2 {
		t.Fatalf("expected dropped id 2, got %v", dropped)
	}
	if ra.Len() != 1 {
		t.Fatalf("expected Len to stay 1, got %d", ra.Len())
	}
}

func TestTrackerTrackLookupUntrack(t *testing.T) {
	tr := NewTracker("p", 600, alarm.Noop)
	di := signature.DevInode{Dev: 1, Ino: 2}
	tr.Track(7, di, time.Now())

	if id, ok := tr.Lookup(di); !ok || id != 7 {
		t.Fatalf("expected lookup to find id 7, got %v ok=%v", id, ok)
	}
	if tr.Len() != 1 {
		t.Fatalf("expected Len 1, got %d", tr.Len())
	}
	tr.Untrack(di)
	if _, ok := tr.Lookup(di); ok {
		t.Fatalf("expected lookup to miss after Untrack")
	}
	if tr.Len() != 0 {
		t.Fatalf("expected Len 0 after Untrack, got %d", tr.Len())
	}
}

func TestTrackerSweepExpiresOldEntries(t *testing.T) {
	tr := NewTracker("p", 60, alarm.Noop)
	di1 := signature.DevInode{Dev: 1, Ino: 1}
	di2 := signature.DevInode{Dev: 1, Ino: 2}
	now := time.Now()
	tr.Track(1, di1, now.Add(-2*time.Minute))
	tr.Track(2, di2, now)

	expired := tr.Sweep(now)
	if len(expired) != 1 || expired[0] != 1 {
		t.Fatalf("expected only id 1 expired, got %v", expired)
	}
	if tr.Len() != 1 {
		t.Fatalf("expected Len 1 remaining, got %d", tr.Len())
	}
	if _, ok := tr.Lookup(di2); !ok {
		t.Fatalf("expected di2 to remain tracked")
	}
}
