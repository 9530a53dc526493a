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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alibaba/ilogtail-sub016/pkg/alarm"
	"github.com/alibaba/ilogtail-sub016/pkg/checkpoint"
	"github.com/alibaba/ilogtail-sub016/pkg/pathmatch"
	"github.com/alibaba/ilogtail-sub016/pkg/tailer"
)

func newTestHandler(t *testing.T, dir string, maxReaders int) (*Handler, *tailer.Registry) {
	t.Helper()
	registry := tailer.NewRegistry()
	store := checkpoint.NewStore(filepath.Join(dir, "checkpoints.ndjson"))
	cfg := Config{
		Pipeline: "test-pipeline",
		MatcherConfig: pathmatch.Config{
			BasePath:        dir,
			FilenamePattern: "*.log",
			MaxDepth:        0,
		},
		RotatorQueueSize: tailer.DefaultRotatorQueueSize,
		RotateRetainSecs: tailer.DefaultRotateRetainSecs,
		MaxReaders:       maxReaders,
	}
	h := New(cfg, registry, store, alarm.Noop, nil)
	return h, registry
}

func TestTickOpensNewReaderForCandidate(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.log"), []byte("line one\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	h, registry := newTestHandler(t, dir, 0)

	h.Tick(os.DirFS("/"), time.Now())

	if registry.Len() != 1 {
		t.Fatalf("expected one Reader opened, got %d", registry.Len())
	}
}

func TestTickIsIdempotentForUnchangedFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.log"), []byte("line one\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	h, registry := newTestHandler(t, dir, 0)

	now := time.Now()
	h.Tick(os.DirFS("/"), now)
	r, ok := registry.ByPath(filepath.Join(dir, "a.log"))
	if !ok {
		t.Fatalf("expected reader for a.log")
	}
	firstID := r.ID

	h.Tick(os.DirFS("/"), now)
	if registry.Len() != 1 {
		t.Fatalf("expected still exactly one reader, got %d", registry.Len())
	}
	r2, ok := registry.ByPath(filepath.Join(dir, "a.log"))
	if !ok || r2.ID != firstID {
		t.Fatalf("expected the same reader reused across ticks")
	}
}

func TestTickRetiresReaderForDeletedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.log")
	if err := os.WriteFile(path, []byte("line one\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	h, registry := newTestHandler(t, dir, 0)

	h.Tick(os.DirFS("/"), time.Now())
	if registry.Len() != 1 {
		t.Fatalf("expected one reader opened, got %d", registry.Len())
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	h.Tick(os.DirFS("/"), time.Now())

	if registry.Len() != 0 {
		t.Fatalf("expected deleted file's fully-drained reader retired, got %d live", registry.Len())
	}
}

func TestTickRetiresOverReaderCap(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.log", "b.log"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x\n"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	h, registry := newTestHandler(t, dir, 1)
	h.cfg.IdleRetireThreshold = time.Nanosecond

	h.Tick(os.DirFS("/"), time.Now())
	// retireOverCap only fires on a subsequent tick once LastActivity
	// is old enough to clear the idle thresholds.
	h.Tick(os.DirFS("/"), time.Now().Add(8*24*time.Hour))

	if registry.Len() > 1 {
		t.Fatalf("expected reader count capped at 1, got %d", registry.Len())
	}
}

func TestOnDrainedCalledWhenDeletedFileFullyRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.log")
	if err := os.WriteFile(path, []byte("x\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	h, _ := newTestHandler(t, dir, 0)

	var drained []*tailer.Reader
	h.OnDrained(func(r *tailer.Reader) { drained = append(drained, r) })

	h.Tick(os.DirFS("/"), time.Now())
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	h.Tick(os.DirFS("/"), time.Now())

	if len(drained) != 1 {
		t.Fatalf("expected onDrained called once, got %d", len(drained))
	}
}
