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

// Waker adapted from https://github.com/google/mtail/tree/main/internal:
// a deterministic substitute for time.Sleep-based polling in tests of
// goroutines that loop waiting on a wakeup channel. No test in this
// module uses it at present.
package testutil

import (
	"context"
	"sync"
	"testing"

	"github.com/alibaba/ilogtail-sub016/pkg/logging"
)

// Waker lets a long-running loop block between units of work until
// explicitly told there may be more to do.
type Waker interface {
	Wake() <-chan struct{}
}

// testWaker is used to manually signal to idle routines it's time to
// look for new work.
type testWaker struct {
	ctx context.Context

	n int

	wakeeReady chan struct{}
	wakeeDone  chan struct{}
	wait       chan struct{}

	mu   sync.Mutex // protects wake
	wake chan struct{}
}

// WakeFunc triggers a wakeup of blocked idle goroutines under test. Its
// argument is how many wakees to await before the next call returns.
type WakeFunc func(int)

// NewTest creates a Waker for use in tests, and the WakeFunc used to
// drive it. n is how many wakee goroutines are expected on the first
// pass.
func NewTest(tb testing.TB, ctx context.Context, n int) (Waker, WakeFunc) {
	tb.Helper()
	t := &testWaker{
		ctx:        ctx,
		n:          n,
		wakeeReady: make(chan struct{}),
		wakeeDone:  make(chan struct{}),
		wait:       make(chan struct{}),
		wake:       make(chan struct{}),
	}
	initDone := make(chan struct{})
	go func() {
		defer close(initDone)
		for i := 0; i < t.n; i++ {
			<-t.wakeeDone
		}
	}()
	wakeFunc := func(after int) {
		<-initDone
		for i := 0; i < t.n; i++ {
			t.wait <- struct{}{}
		}
		for i := 0; i < t.n; i++ {
			<-t.wakeeReady
		}
		t.broadcastWakeAndReset()
		for i := 0; i < after; i++ {
			<-t.wakeeDone
		}
		t.n = after
	}
	return t, wakeFunc
}

// Wake satisfies the Waker interface.
func (t *testWaker) Wake() (w <-chan struct{}) {
	t.mu.Lock()
	w = t.wake
	t.mu.Unlock()
	logging.Trace.Debugw("testWaker: wakee entered Wake")
	go func() {
		select {
		case <-t.ctx.Done():
			return
		case t.wakeeDone <- struct{}{}:
		}
		select {
		case <-t.ctx.Done():
			return
		case <-t.wait:
		}
		select {
		case <-t.ctx.Done():
			return
		case t.wakeeReady <- struct{}{}:
		}
	}()
	return
}

func (t *testWaker) broadcastWakeAndReset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	close(t.wake)
	t.wake = make(chan struct{})
}

// alwaysWaker never blocks the wakee: every Wake() call returns an
// already-closed channel.
type alwaysWaker struct {
	wake chan struct{}
}

// NewAlways returns a Waker that never blocks its caller.
func NewAlways() Waker {
	w := &alwaysWaker{wake: make(chan struct{})}
	close(w.wake)
	return w
}

func (w *alwaysWaker) Wake() <-chan struct{} {
	return w.wake
}
