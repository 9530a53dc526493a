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

package containerlog

import (
	"testing"

	"github.com/alibaba/ilogtail-sub016/pkg/alarm"
)

func TestDecodeJSONEnvelopeSingleLine(t *testing.T) {
	d := New("p", FramingJSON, alarm.Noop)
	out, ok := d.Decode([]byte(`{"log":"hello\n","stream":"stdout","time":"2026-01-01T00:00:00Z"}`))
	if !ok {
		t.Fatalf("expected a complete record")
	}
	if string(out.Payload) != "hello" || out.Stream != "stdout" {
		t.Fatalf("got %+v", out)
	}
}

func TestDecodeJSONEnvelopePartialWriteJoins(t *testing.T) {
	d := New("p", FramingJSON, alarm.Noop)
	if _, ok := d.Decode([]byte(`{"log":"hel"}`)); ok {
		t.Fatalf("expected partial write to stay pending")
	}
	out, ok := d.Decode([]byte(`{"log":"lo\n"}`))
	if !ok || string(out.Payload) != "hello" {
		t.Fatalf("got %+v ok=%v", out, ok)
	}
}

func TestDecodeTextPrefixConcatenatesPartialLines(t *testing.T) {
	d := New("p", FramingTextPrefix, alarm.Noop)
	if _, ok := d.Decode([]byte("2026-01-01T00:00:00Z stdout P hello ")); ok {
		t.Fatalf("expected partial flag to hold the record open")
	}
	out, ok := d.Decode([]byte("2026-01-01T00:00:01Z stdout F world"))
	if !ok {
		t.Fatalf("expected the F line to close the record")
	}
	if string(out.Payload) != "hello world" {
		t.Fatalf("payload = %q, want %q", out.Payload, "hello world")
	}
	if out.Time != "2026-01-01T00:00:00Z" {
		t.Fatalf("expected the opening line's timestamp to be preserved, got %q", out.Time)
	}
}

func TestAutoDetectionCommitsToJSON(t *testing.T) {
	d := New("p", FramingAuto, alarm.Noop)
	out, ok := d.Decode([]byte(`{"log":"a\n","stream":"stdout"}`))
	if !ok || string(out.Payload) != "a" {
		t.Fatalf("got %+v ok=%v", out, ok)
	}
	if d.detected != FramingJSON {
		t.Fatalf("expected detector to commit to FramingJSON")
	}
}

func TestMalformedLineAlarmsAndPassesThroughRaw(t *testing.T) {
	d := New("p", FramingJSON, alarm.Noop)
	out, ok := d.Decode([]byte("not json at all"))
	if !ok {
		t.Fatalf("expected malformed line to still be reported, raw")
	}
	if string(out.Payload) != "not json at all" {
		t.Fatalf("got %+v", out)
	}
}

func TestFlushReturnsPendingPartial(t *testing.T) {
	d := New("p", FramingTextPrefix, alarm.Noop)
	d.Decode([]byte("ts stdout P unterminated"))
	out, ok := d.Flush()
	if !ok || string(out.Payload) != "unterminated" {
		t.Fatalf("Flush() = %+v, %v", out, ok)
	}
	if _, ok := d.Flush(); ok {
		t.Fatalf("second Flush should report nothing pending")
	}
}
