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

package multiline

import (
	"reflect"
	"testing"
)

func asStrings(recs [][]byte) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = string(r)
	}
	return out
}

func TestSingleLineMode(t *testing.T) {
	s, err := New(Config{Mode: ModeSingleLine})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	recs, consumed, residual := s.Process([]byte("one\ntwo\nthr"), false)
	if got, want := asStrings(recs), []string{"one", "two"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("records = %v, want %v", got, want)
	}
	if string(residual) != "thr" {
		t.Fatalf("residual = %q, want %q", residual, "thr")
	}
	if consumed != len("one\ntwo\n") {
		t.Fatalf("consumed = %d, want %d", consumed, len("one\ntwo\n"))
	}
}

func TestSingleLineModeEOFFlushesTrailingPartial(t *testing.T) {
	s, err := New(Config{Mode: ModeSingleLine})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	recs, consumed, residual := s.Process([]byte("last-no-newline"), true)
	if got, want := asStrings(recs), []string{"last-no-newline"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("records = %v, want %v", got, want)
	}
	if len(residual) != 0 || consumed != len("last-no-newline") {
		t.Fatalf("expected residual to be drained at EOF, got residual=%q consumed=%d", residual, consumed)
	}
}

func TestCustomStartOnlyHeldIndefinitelyAtEOF(t *testing.T) {
	s, err := New(Config{Mode: ModeCustom, StartPattern: `^\d{4}-\d{2}-\d{2}`})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	buf := []byte("2026-01-01 start\n  caused by: boom\n  at foo.go:1\n")
	recs, _, _ := s.Process(buf, true)
	if len(recs) != 0 {
		t.Fatalf("expected no record emitted at EOF for start-only mode, got %v", asStrings(recs))
	}
	rec, ok := s.Flush()
	if !ok {
		t.Fatalf("expected Flush to emit the held-open record")
	}
	want := "2026-01-01 start\n  caused by: boom\n  at foo.go:1"
	if string(rec) != want {
		t.Fatalf("flushed record = %q, want %q", rec, want)
	}
}

func TestCustomStartOnlyFlushesOnNextStart(t *testing.T) {
	s, err := New(Config{Mode: ModeCustom, StartPattern: `^\d{4}-`})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	buf := []byte("2026-01 first\n  detail\n2026-02 second\n")
	recs, _, _ := s.Process(buf, false)
	want := []string{"2026-01 first\n  detail"}
	if got := asStrings(recs); !reflect.DeepEqual(got, want) {
		t.Fatalf("records = %v, want %v", got, want)
	}
	rec, ok := s.Flush()
	if !ok || string(rec) != "2026-02 second" {
		t.Fatalf("Flush() = %q, %v, want %q, true", rec, ok, "2026-02 second")
	}
}

func TestCustomStartEndGrammar(t *testing.T) {
	s, err := New(Config{Mode: ModeCustom, StartPattern: `^BEGIN`, EndPattern: `^END`})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	buf := []byte("BEGIN\nmiddle\nEND\nBEGIN\nonly\nEND\n")
	recs, _, _ := s.Process(buf, false)
	want := []string{"BEGIN\nmiddle\nEND", "BEGIN\nonly\nEND"}
	if got := asStrings(recs); !reflect.DeepEqual(got, want) {
		t.Fatalf("records = %v, want %v", got, want)
	}
}

func TestCustomEndOnlyGrammar(t *testing.T) {
	s, err := New(Config{Mode: ModeCustom, EndPattern: `;$`})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	buf := []byte("stmt one\ncontinued;\nstmt two;\n")
	recs, _, _ := s.Process(buf, false)
	want := []string{"stmt one\ncontinued;", "stmt two;"}
	if got := asStrings(recs); !reflect.DeepEqual(got, want) {
		t.Fatalf("records = %v, want %v", got, want)
	}
}

func TestCustomUnmatchedDiscardedByDefault(t *testing.T) {
	s, err := New(Config{Mode: ModeCustom, StartPattern: `^START`, ContinuePattern: `^\t`})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	buf := []byte("garbage before\nSTART one\n\tcont\nnot-indented-noise\n")
	recs, _, _ := s.Process(buf, false)
	if len(recs) != 0 {
		t.Fatalf("expected nothing flushed yet, got %v", asStrings(recs))
	}
	rec, ok := s.Flush()
	if !ok {
		t.Fatalf("expected an open record")
	}
	if string(rec) != "START one\n\tcont" {
		t.Fatalf("record = %q, want %q (noise line should be discarded)", rec, "START one\n\tcont")
	}
}

func TestJSONEnvelopeModeJoinsPartialWrites(t *testing.T) {
	s, err := New(Config{Mode: ModeJSONEnvelope})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	buf := []byte(`{"log":"hello "}` + "\n" + `{"log":"world\n"}` + "\n" + `{"log":"next\n"}` + "\n")
	recs, _, _ := s.Process(buf, false)
	want := []string{"hello world", "next"}
	if got := asStrings(recs); !reflect.DeepEqual(got, want) {
		t.Fatalf("records = %v, want %v", got, want)
	}
}

func TestMaxRecordBytesTruncates(t *testing.T) {
	s, err := New(Config{Mode: ModeCustom, StartPattern: `^START`, MaxRecordBytes: 10})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Process([]byte("START0123456789extra\n"), false)
	rec, ok := s.Flush()
	if !ok {
		t.Fatalf("expected an open record")
	}
	if len(rec) > 10 {
		t.Fatalf("record len = %d, want <= 10", len(rec))
	}
}
