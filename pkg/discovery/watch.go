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

package discovery

import (
	"context"

	"github.com/fsnotify/fsnotify"

	"github.com/alibaba/ilogtail-sub016/pkg/logging"
)

// Watch augments Timer-driven polling with fsnotify events on dirs:
// the directory scan itself is polling-based, and this narrows the
// detection latency for create/rename/remove events without replacing
// the poll, since fsnotify alone cannot express glob/blacklist
// semantics or recursive-depth limits. onEvent is called once per
// create, write, rename or remove event with no further interpretation
// — the caller is expected to re-run Tick, which remains the single
// source of truth for what is admitted.
//
// Watch blocks until ctx is cancelled or the watcher's event or error
// channel closes; run it in its own goroutine.
func Watch(ctx context.Context, dirs []string, onEvent func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	for _, d := range dirs {
		if err := w.Add(d); err != nil {
			logging.Warn.Warnw("discovery: fsnotify add failed, falling back to polling only", "dir", d, "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) != 0 {
				onEvent()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logging.Warn.Warnw("discovery: fsnotify error", "error", err)
		}
	}
}
