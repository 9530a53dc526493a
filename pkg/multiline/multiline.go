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

// Package multiline implements the Multiline Splitter: it converts a
// raw byte buffer into a sequence of logical records, in single-line,
// custom start/continue/end-regex, or JSON-envelope mode.
package multiline

import (
	"bytes"
	"encoding/json"
	"regexp"

	"github.com/alibaba/ilogtail-sub016/pkg/logging"
)

// Mode selects the record-boundary grammar.
type Mode int

const (
	// ModeSingleLine treats every LF-terminated line as one record.
	ModeSingleLine Mode = iota
	// ModeCustom uses the start/continue/end regex triple to decide
	// where one logical record ends and the next begins.
	ModeCustom
	// ModeJSONEnvelope treats each line as a container-log JSON
	// envelope ({"log":...}) and emits the decoded log payload,
	// concatenating entries that do not end in a newline (mirroring
	// the docker json-file partial-write convention).
	ModeJSONEnvelope
)

// DefaultMaxRecordBytes is the hard cap past which the splitter
// truncates a record rather than buffering forever. The truncated
// record stays open: further bytes for it are dropped, and it is
// emitted at its normal boundary, not as soon as it reaches the cap.
const DefaultMaxRecordBytes = 512 * 1024

// Config configures one Splitter instance.
type Config struct {
	Mode Mode

	StartPattern    string
	ContinuePattern string
	EndPattern      string

	// KeepUnmatched controls what happens to a line that matches
	// neither the configured patterns, when there is no or a closed
	// current record: true attaches it to whatever record is open (or
	// starts an unanchored one), false discards it.
	KeepUnmatched bool

	// MaxRecordBytes bounds how large a single logical record may
	// grow; bytes past it are dropped and the record is emitted at its
	// normal boundary, so they never start a new record. Zero means
	// DefaultMaxRecordBytes.
	MaxRecordBytes int
}

// envelopeLine is the container-log JSON-envelope wire shape consumed
// in ModeJSONEnvelope.
type envelopeLine struct {
	Log    string `json:"log"`
	Stream string `json:"stream"`
	Time   string `json:"time"`
}

// Splitter is a stateful per-file instance of the Multiline Splitter.
// An open record that is never terminated is held indefinitely in
// recordBuf/recordOpen and survives across Process calls; the
// line-level residual (an as-yet-unterminated trailing line within one
// call's buffer) is returned to the caller, which is expected to
// prepend it to the next buffer.
type Splitter struct {
	cfg Config

	startRe    *regexp.Regexp
	continueRe *regexp.Regexp
	endRe      *regexp.Regexp

	recordBuf  bytes.Buffer
	recordOpen bool

	maxRecordBytes int
}

// New compiles cfg's regexes and returns a ready Splitter. An invalid
// regex is a configuration error surfaced immediately, not deferred to
// the first Process call.
func New(cfg Config) (*Splitter, error) {
	s := &Splitter{cfg: cfg, maxRecordBytes: cfg.MaxRecordBytes}
	if s.maxRecordBytes <= 0 {
		s.maxRecordBytes = DefaultMaxRecordBytes
	}
	var err error
	if cfg.StartPattern != "" {
		if s.startRe, err = regexp.Compile(cfg.StartPattern); err != nil {
			return nil, err
		}
	}
	if cfg.ContinuePattern != "" {
		if s.continueRe, err = regexp.Compile(cfg.ContinuePattern); err != nil {
			return nil, err
		}
	}
	if cfg.EndPattern != "" {
		if s.endRe, err = regexp.Compile(cfg.EndPattern); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Process converts buffer into zero or more emitted records, under
// the invariant emitted_records[].concat + residual ==
// buffer[..consumed + |residual|].
func (s *Splitter) Process(buffer []byte, isEOF bool) (emitted [][]byte, consumed int, residual []byte) {
	pos := 0
	for {
		nl := bytes.IndexByte(buffer[pos:], '\n')
		if nl < 0 {
			break
		}
		lineEnd := pos + nl
		line := trimCR(buffer[pos:lineEnd])
		if rec, ok := s.feedLine(line); ok {
			emitted = append(emitted, rec)
		}
		pos = lineEnd + 1
	}
	consumed = pos
	residual = buffer[pos:]

	if isEOF && len(residual) > 0 {
		// A writer can flush a record without a trailing newline right
		// before rotation/shutdown; feed the trailing partial line too
		// so the last line is not silently lost at EOF.
		if rec, ok := s.feedLine(trimCR(residual)); ok {
			emitted = append(emitted, rec)
		}
		consumed = len(buffer)
		residual = nil
	}
	if isEOF {
		if rec, ok := s.flushAtEOF(); ok {
			emitted = append(emitted, rec)
		}
	}
	return emitted, consumed, residual
}

func trimCR(line []byte) []byte {
	if n := len(line); n > 0 && line[n-1] == '\r' {
		return line[:n-1]
	}
	return line
}

// feedLine processes one LF-delimited line (CR already stripped) and
// reports the record it completed, if any.
func (s *Splitter) feedLine(line []byte) ([]byte, bool) {
	switch s.cfg.Mode {
	case ModeSingleLine:
		return append([]byte(nil), line...), true
	case ModeJSONEnvelope:
		return s.feedJSONLine(line)
	default:
		return s.feedCustomLine(line)
	}
}

func (s *Splitter) feedCustomLine(line []byte) ([]byte, bool) {
	isStart := s.startRe != nil && s.startRe.Match(line)
	isEnd := s.endRe != nil && s.endRe.Match(line)
	isContinue := s.continueRe != nil && s.continueRe.Match(line)

	switch {
	case s.startRe != nil && s.endRe != nil:
		// "Start opens, End closes; lines between belong to current."
		if isStart {
			rec, had := s.forceFlush()
			s.openWith(line)
			if had {
				return rec, true
			}
			return nil, false
		}
		if s.recordOpen {
			s.appendLine(line)
			if isEnd {
				return s.forceFlush()
			}
			return nil, false
		}
		return s.handleUnmatched(line)

	case s.startRe != nil:
		// Start-only, optionally with a continue regex.
		if isStart {
			rec, had := s.forceFlush()
			s.openWith(line)
			if had {
				return rec, true
			}
			return nil, false
		}
		if s.continueRe == nil || isContinue {
			if !s.recordOpen {
				s.openWith(line)
				return nil, false
			}
			s.appendLine(line)
			return nil, false
		}
		return s.handleUnmatched(line)

	case s.endRe != nil:
		// End-only: every line accumulates until an end match closes it.
		if !s.recordOpen {
			s.openWith(line)
		} else {
			s.appendLine(line)
		}
		if isEnd {
			return s.forceFlush()
		}
		return nil, false

	default:
		// No patterns at all: degrade to single-line.
		return append([]byte(nil), line...), true
	}
}

func (s *Splitter) feedJSONLine(line []byte) ([]byte, bool) {
	var env envelopeLine
	if err := json.Unmarshal(bytes.TrimSpace(line), &env); err != nil {
		logging.Warn.Warnw("multiline: malformed json-envelope line, passing through raw", "error", err)
		return append([]byte(nil), line...), true
	}
	s.appendRaw([]byte(env.Log))
	if len(env.Log) > 0 && env.Log[len(env.Log)-1] == '\n' {
		rec := bytes.TrimSuffix(s.recordBuf.Bytes(), []byte("\n"))
		out := append([]byte(nil), rec...)
		s.recordBuf.Reset()
		s.recordOpen = false
		return out, true
	}
	s.recordOpen = true
	return nil, false
}

func (s *Splitter) openWith(line []byte) {
	s.recordBuf.Reset()
	s.appendRaw(line)
	s.recordOpen = true
}

func (s *Splitter) appendLine(line []byte) {
	if s.recordBuf.Len() > 0 {
		s.recordBuf.WriteByte('\n')
	}
	s.appendRaw(line)
}

func (s *Splitter) appendRaw(b []byte) {
	s.recordBuf.Write(b)
	if s.recordBuf.Len() > s.maxRecordBytes {
		logging.Warn.Warnw("multiline: record exceeded max_record_bytes, truncating", "max", s.maxRecordBytes)
		truncated := append([]byte(nil), s.recordBuf.Bytes()[:s.maxRecordBytes]...)
		s.recordBuf.Reset()
		s.recordBuf.Write(truncated)
	}
}

func (s *Splitter) handleUnmatched(line []byte) ([]byte, bool) {
	if !s.cfg.KeepUnmatched {
		return nil, false
	}
	if s.recordOpen {
		s.appendLine(line)
		return nil, false
	}
	s.openWith(line)
	return nil, false
}

// forceFlush emits whatever record is currently open, if any.
func (s *Splitter) forceFlush() ([]byte, bool) {
	if !s.recordOpen {
		return nil, false
	}
	rec := append([]byte(nil), s.recordBuf.Bytes()...)
	s.recordBuf.Reset()
	s.recordOpen = false
	return rec, true
}

// flushAtEOF applies the splitter's EOF policy: single-line mode has
// nothing buffered by definition; end-regex and start+end modes emit
// their partial record; pure start-regex mode holds it indefinitely
// (it will be flushed on rotation/shutdown instead, via Flush).
func (s *Splitter) flushAtEOF() ([]byte, bool) {
	if s.cfg.Mode != ModeCustom {
		return nil, false
	}
	if s.endRe != nil {
		return s.forceFlush()
	}
	return nil, false
}

// Flush force-emits any open record regardless of mode. Called on
// rotation drain or pipeline shutdown, where a start-regex-mode record
// that would otherwise be held indefinitely must still be delivered
// before the file is closed.
func (s *Splitter) Flush() ([]byte, bool) {
	return s.forceFlush()
}
