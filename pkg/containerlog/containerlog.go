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

// Package containerlog implements the Container-Log Decoder: it strips
// container-runtime line framing (JSON-envelope or text-prefix) before
// a line reaches the Multiline Splitter.
package containerlog

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/alibaba/ilogtail-sub016/pkg/alarm"
)

// Framing selects (or requests auto-detection of) the container
// runtime's line framing convention.
type Framing int

const (
	// FramingAuto probes the first record to decide between JSON and
	// text-prefix framing, then commits to that choice.
	FramingAuto Framing = iota
	FramingJSON
	FramingTextPrefix
)

// Decoded is one stripped-of-framing record ready for the Multiline
// Splitter.
type Decoded struct {
	Payload []byte
	Stream  string // "stdout" or "stderr", when known
	Time    string // raw runtime timestamp, when present
}

// envelope is the JSON-envelope wire shape: {"log":"...","stream":"stdout","time":"..."}.
type envelope struct {
	Log    string `json:"log"`
	Stream string `json:"stream"`
	Time   string `json:"time"`
}

// Decoder is a stateful per-file instance: once FramingAuto commits to
// a detected framing it keeps using it, so a single malformed line
// mid-stream does not re-trigger probing.
type Decoder struct {
	configured Framing
	detected   Framing
	pipeline   string
	notifier   alarm.Notifier

	pendingPayload bytes.Buffer
	pendingOpen    bool
	pendingStream  string
	pendingTime    string
}

// New constructs a Decoder. pipeline names the owning pipeline for
// alarm attribution; notifier may be alarm.Noop in tests.
func New(pipeline string, framing Framing, notifier alarm.Notifier) *Decoder {
	if notifier == nil {
		notifier = alarm.Noop
	}
	return &Decoder{configured: framing, detected: framing, pipeline: pipeline, notifier: notifier}
}

// Decode consumes one line (no trailing newline) already split out by
// the file reader's line scan and returns the record it completed, if
// any. A text-prefix "P" (partial) line returns ok=false until an "F"
// line closes it; a JSON-envelope line whose log field lacks a trailing
// newline likewise waits for the next line.
func (d *Decoder) Decode(line []byte) (Decoded, bool) {
	if d.detected == FramingAuto {
		d.detected = d.probe(line)
	}
	switch d.detected {
	case FramingJSON:
		return d.decodeJSON(line)
	case FramingTextPrefix:
		return d.decodeTextPrefix(line)
	default:
		return Decoded{Payload: line}, true
	}
}

// probe inspects the first record to pick a framing.
func (d *Decoder) probe(line []byte) Framing {
	var env envelope
	if err := json.Unmarshal(bytes.TrimSpace(line), &env); err == nil && env.Log != "" {
		return FramingJSON
	}
	if _, _, _, _, ok := splitTextPrefix(line); ok {
		return FramingTextPrefix
	}
	d.notifier.Notify(d.pipeline, alarm.KindMalformedFraming, "could not detect container log framing from first record: %q", string(line))
	return FramingAuto
}

func (d *Decoder) decodeJSON(line []byte) (Decoded, bool) {
	var env envelope
	if err := json.Unmarshal(bytes.TrimSpace(line), &env); err != nil {
		d.notifier.Notify(d.pipeline, alarm.KindMalformedFraming, "malformed json-envelope line: %v", err)
		return Decoded{Payload: line}, true
	}
	d.pendingPayload.WriteString(env.Log)
	d.pendingStream = env.Stream
	d.pendingTime = env.Time
	if strings.HasSuffix(env.Log, "\n") {
		payload := bytes.TrimSuffix(d.pendingPayload.Bytes(), []byte("\n"))
		out := Decoded{Payload: append([]byte(nil), payload...), Stream: d.pendingStream, Time: d.pendingTime}
		d.pendingPayload.Reset()
		d.pendingOpen = false
		return out, true
	}
	d.pendingOpen = true
	return Decoded{}, false
}

func (d *Decoder) decodeTextPrefix(line []byte) (Decoded, bool) {
	ts, stream, partial, payload, ok := splitTextPrefix(line)
	if !ok {
		d.notifier.Notify(d.pipeline, alarm.KindMalformedFraming, "malformed text-prefix line: %q", string(line))
		return Decoded{Payload: line}, true
	}
	if d.pendingPayload.Len() == 0 {
		d.pendingStream = stream
		d.pendingTime = ts
	}
	d.pendingPayload.Write(payload)
	if partial {
		d.pendingOpen = true
		return Decoded{}, false
	}
	out := Decoded{Payload: append([]byte(nil), d.pendingPayload.Bytes()...), Stream: d.pendingStream, Time: d.pendingTime}
	d.pendingPayload.Reset()
	d.pendingOpen = false
	return out, true
}

// splitTextPrefix parses "TIMESTAMP STREAM PARTIAL_FLAG PAYLOAD" into
// its four fields. PARTIAL_FLAG must be exactly "P" or "F".
func splitTextPrefix(line []byte) (timestamp, stream string, partial bool, payload []byte, ok bool) {
	rest := line
	ts, rest, found := cutField(rest)
	if !found {
		return "", "", false, nil, false
	}
	st, rest, found := cutField(rest)
	if !found {
		return "", "", false, nil, false
	}
	flag, rest, found := cutField(rest)
	if !found {
		return "", "", false, nil, false
	}
	switch string(flag) {
	case "P":
		partial = true
	case "F":
		partial = false
	default:
		return "", "", false, nil, false
	}
	return string(ts), string(st), partial, rest, true
}

// Flush returns any partial record still pending (an "F" line or a
// closing "\n" never arrived before rotation/shutdown), so it is not
// silently dropped.
func (d *Decoder) Flush() (Decoded, bool) {
	if !d.pendingOpen {
		return Decoded{}, false
	}
	out := Decoded{Payload: append([]byte(nil), d.pendingPayload.Bytes()...), Stream: d.pendingStream, Time: d.pendingTime}
	d.pendingPayload.Reset()
	d.pendingOpen = false
	return out, true
}

// cutField splits off the first whitespace-delimited field, reporting
// whether one was found and returning the remainder after the single
// separating space or tab, not trimmed further, since PAYLOAD may itself
// start with a space.
func cutField(b []byte) (field, rest []byte, ok bool) {
	b = bytes.TrimLeft(b, " \t")
	if len(b) == 0 {
		return nil, nil, false
	}
	i := bytes.IndexAny(b, " \t")
	if i < 0 {
		return nil, nil, false
	}
	return b[:i], b[i+1:], true
}
