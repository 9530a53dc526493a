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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alibaba/ilogtail-sub016/pkg/event"
)

func openReaderAt(t *testing.T, path string, cfg Config, startOffset int64) *Reader {
	t.Helper()
	r, err := NewReader(1, path, cfg, startOffset, nil)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	return r
}

func TestReadAdvancesOffsetByRawBytesConsumed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.log")
	content := "line one\nline two\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	r := openReaderAt(t, path, Config{}, 0)
	defer r.Close()

	var events []event.Event
	outcome := r.Read(nil, 0, time.Second, func(e event.Event) { events = append(events, e) })

	if outcome != Produced && outcome != AtEOF {
		t.Fatalf("unexpected outcome %v", outcome)
	}
	if r.Offset() != int64(len(content)) {
		t.Fatalf("expected offset %d (raw bytes read), got %d", len(content), r.Offset())
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d: %+v", len(events), events)
	}
}

func TestReadCarriesResidualAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.log")
	if err := os.WriteFile(path, []byte("partial"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	r := openReaderAt(t, path, Config{}, 0)
	defer r.Close()

	var events []event.Event
	r.Read(nil, 0, time.Second, func(e event.Event) { events = append(events, e) })
	if len(events) != 0 {
		t.Fatalf("expected no events yet (no newline), got %d", len(events))
	}
	if len(r.residual) != len("partial") {
		t.Fatalf("expected residual to hold the unterminated line, got %q", r.residual)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	if _, err := f.WriteString(" line\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.Close()

	r.Read(nil, 0, time.Second, func(e event.Event) { events = append(events, e) })
	if len(events) != 1 {
		t.Fatalf("expected the residual plus new bytes to complete one event, got %d", len(events))
	}
	if got, want := string(events[0].PayloadBytes), "partial line"; got != want {
		t.Fatalf("expected combined payload %q, got %q", want, got)
	}
}

func TestCheckReadDelaySkipsForwardPastThreshold(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.log")
	// 20 lines of 11 bytes each ("0123456789\n").
	var content []byte
	for i := 0; i < 20; i++ {
		content = append(content, []byte("0123456789\n")...)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg := Config{ReadDelaySkipThresholdBytes: 20}
	r := openReaderAt(t, path, cfg, 0)
	defer r.Close()

	r.checkReadDelay()

	if r.Offset() <= 0 {
		t.Fatalf("expected checkReadDelay to skip the offset forward, got %d", r.Offset())
	}
	backlog := int64(len(content)) - r.Offset()
	if backlog > cfg.ReadDelaySkipThresholdBytes {
		t.Fatalf("expected remaining backlog <= skip threshold, got %d", backlog)
	}
}

func TestCheckReadDelayNoopBelowThreshold(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.log")
	if err := os.WriteFile(path, []byte("short\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg := Config{ReadDelaySkipThresholdBytes: 1 << 20}
	r := openReaderAt(t, path, cfg, 0)
	defer r.Close()

	r.checkReadDelay()

	if r.Offset() != 0 {
		t.Fatalf("expected no skip below threshold, got offset %d", r.Offset())
	}
}

func TestTailLimitStartsAtZeroForFileSmallerThanLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.log")
	content := "aaaaaaaaaa\nbbbbbbbbbb\ncccccccccc\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg := Config{TailLimitKB: 1} // 1024 bytes, larger than the whole test file
	r := openReaderAt(t, path, cfg, -1)
	defer r.Close()

	// File is smaller than the 1KB tail limit, so it should start at 0.
	if r.Offset() != 0 {
		t.Fatalf("expected offset 0 when file is smaller than tail limit, got %d", r.Offset())
	}
}
