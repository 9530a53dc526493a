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

// Package tailer implements the Reader and Reader Registry: a per-file
// tailing state machine with encoding, framing and rotation semantics,
// indexed by DevInode and by logical path. The low-level byte decode
// loop lives in pkg/tailer/logstream. Reading is synchronous and
// result-returning: one call to Read consumes at most a bounded time
// slice and reports what happened, rather than running its own
// goroutine and pushing events down a channel.
package tailer

import (
	"bytes"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/alibaba/ilogtail-sub016/pkg/alarm"
	"github.com/alibaba/ilogtail-sub016/pkg/backpressure"
	"github.com/alibaba/ilogtail-sub016/pkg/checkpoint"
	"github.com/alibaba/ilogtail-sub016/pkg/containerlog"
	"github.com/alibaba/ilogtail-sub016/pkg/event"
	"github.com/alibaba/ilogtail-sub016/pkg/logging"
	"github.com/alibaba/ilogtail-sub016/pkg/multiline"
	"github.com/alibaba/ilogtail-sub016/pkg/queuekey"
	"github.com/alibaba/ilogtail-sub016/pkg/signature"
	"github.com/alibaba/ilogtail-sub016/pkg/tailer/logstream"
)

// ReaderId is a stable handle into the Reader Registry's arena,
// letting RotationArray and Rotation Tracker hold an index rather than
// a pointer.
type ReaderId uint64

// ReadOutcome is the result of one Reader.Read call.
type ReadOutcome int

const (
	// Produced means new bytes were framed into zero or more events,
	// already delivered to the caller's emit callback.
	Produced ReadOutcome = iota
	// WouldBlock means the sender queue is saturated; the handler must
	// re-arm this Reader for later.
	WouldBlock
	// AtEOF means nothing new to read right now.
	AtEOF
	// Rotated means the file underneath changed identity mid-read; the
	// caller must re-run the Discovery Handler's rotation decision.
	Rotated
	// Fatal means this file cannot be read further (e.g. permission
	// denied); the caller should retire the Reader.
	Fatal
)

func (o ReadOutcome) String() string {
	switch o {
	case Produced:
		return "produced"
	case WouldBlock:
		return "would_block"
	case AtEOF:
		return "at_eof"
	case Rotated:
		return "rotated"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

const defaultReadBufferSize = 64 * 1024

// Config is the static, per-pipeline configuration a Reader is created
// with.
type Config struct {
	Pipeline   string
	ConfigName string

	Encoding logstream.Encoding

	Multiline multiline.Config

	Container containerlog.Framing // NoContainerFraming (-1) disables the decoder; the zero value, containerlog.FramingAuto, auto-detects

	SigSize int // 0 means signature.MinSigSize

	TailLimitKB            int
	TailingAllMatchedFiles bool

	CloseUnusedInterval time.Duration
	ReaderTimeout        time.Duration

	ReadDelaySkipThresholdBytes  int64
	ReadDelayAlertThresholdBytes int64

	AppendingLogPositionMeta bool

	// Priority is 1 (highest) to 3 (lowest); it scales the per-call
	// time slice: 50ms * 2^(MAX-prio).
	Priority int

	Tags event.Tags
}

// NoContainerFraming marks Config.Container as "no container decoding",
// distinguishing it from containerlog.FramingAuto (which does decode,
// auto-detecting the wire format).
const NoContainerFraming containerlog.Framing = -1

// TimeSlice returns the maximum duration one Read call may run before
// yielding: 50 ms x 2^(MAX-prio), with MAX=3 (50 ms at priority 3,
// 100 ms at 2, 200 ms at 1).
func (c Config) TimeSlice() time.Duration {
	p := c.Priority
	if p < 1 || p > 3 {
		p = 3
	}
	shift := (3 - p) + 1
	return (50 * time.Millisecond) << uint(shift-1)
}

// Reader is the per-file tailing state machine.
type Reader struct {
	ID   ReaderId
	cfg  Config
	path string // current logical path this Reader serves

	file         *os.File
	di           signature.DevInode
	offset       int64
	lastActivity time.Time
	deleted      bool

	residual []byte // Multiline Splitter's held-over bytes across reads

	decoder   *logstream.Decoder
	splitter  *multiline.Splitter
	container *containerlog.Decoder

	// sigCached holds the content-prefix signature once it has been
	// computed over a full sigSize() worth of bytes: that prefix never
	// changes again short of the file being truncated at the same
	// inode, which invalidates the cache explicitly in handleEOF.
	sigCached bool
	sigValue  signature.Signature

	notifier alarm.Notifier
}

// NewReader constructs a Reader for path, starting at startOffset. A
// startOffset < 0 means "compute the tail-limit offset on first stat".
func NewReader(id ReaderId, path string, cfg Config, startOffset int64, notifier alarm.Notifier) (*Reader, error) {
	if notifier == nil {
		notifier = alarm.Noop
	}
	splitter, err := multiline.New(cfg.Multiline)
	if err != nil {
		return nil, err
	}
	r := &Reader{
		ID:           id,
		cfg:          cfg,
		path:         path,
		lastActivity: time.Now(),
		decoder:      logstream.NewDecoder(cfg.Encoding),
		splitter:     splitter,
		notifier:     notifier,
	}
	if cfg.Container != NoContainerFraming {
		r.container = containerlog.New(cfg.Pipeline, cfg.Container, notifier)
	}
	if err := r.open(startOffset); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reader) sigSize() int {
	if r.cfg.SigSize > 0 {
		return r.cfg.SigSize
	}
	return signature.MinSigSize
}

func (r *Reader) open(startOffset int64) error {
	f, err := os.Open(r.path)
	if err != nil {
		return err
	}
	di, fi, err := signature.Stat(r.path)
	if err != nil {
		_ = f.Close()
		return err
	}
	r.file = f
	r.di = di

	offset := startOffset
	if offset < 0 {
		offset = r.tailLimitOffset(fi.Size())
	}
	if offset > fi.Size() {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		_ = f.Close()
		return err
	}
	r.offset = offset
	return nil
}

// tailLimitOffset computes the starting offset for a file with no
// checkpoint: reading starts at max(0, size - tailLimitKB*1024),
// aligned forward to the next record
// boundary (approximated here as the next newline, since record
// boundaries are only fully known once the Multiline Splitter runs).
func (r *Reader) tailLimitOffset(size int64) int64 {
	if r.cfg.TailLimitKB <= 0 {
		return 0
	}
	start := size - int64(r.cfg.TailLimitKB)*1024
	if start <= 0 {
		return 0
	}
	buf := make([]byte, 4096)
	f, err := os.Open(r.path)
	if err != nil {
		return start
	}
	defer f.Close()
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return start
	}
	n, _ := f.Read(buf)
	if idx := bytes.IndexByte(buf[:n], '\n'); idx >= 0 {
		return start + int64(idx) + 1
	}
	return start
}

// Reopen idempotently reattaches the file handle at the checkpointed
// offset, used after CloseFDIfIdle.
func (r *Reader) Reopen() error {
	if r.file != nil {
		return nil
	}
	f, err := os.Open(r.path)
	if err != nil {
		return err
	}
	if _, err := f.Seek(r.offset, io.SeekStart); err != nil {
		_ = f.Close()
		return err
	}
	r.file = f
	return nil
}

// CloseFDIfIdle releases the OS file handle (keeping the Reader) when
// idle >= CloseUnusedInterval, respecting per-process FD limits.
func (r *Reader) CloseFDIfIdle(now time.Time) {
	if r.file == nil || r.cfg.CloseUnusedInterval <= 0 {
		return
	}
	if now.Sub(r.lastActivity) >= r.cfg.CloseUnusedInterval {
		_ = r.file.Close()
		r.file = nil
	}
}

// Signature returns the current content-prefix signature, reading the
// file's first sigSize() bytes (not via the tailing file offset) so it
// can be called regardless of where reading has reached. Once a file
// has grown to at least sigSize() bytes, that prefix is immutable for
// the life of this DevInode, so the computed value is cached and
// returned without touching the file again; a shorter, still-growing
// prefix is recomputed on every call since it can still change.
func (r *Reader) Signature() (signature.Signature, error) {
	if r.sigCached {
		return r.sigValue, nil
	}
	if r.file == nil {
		if err := r.Reopen(); err != nil {
			return signature.Signature{}, err
		}
	}
	saved, err := r.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return signature.Signature{}, err
	}
	defer r.file.Seek(saved, io.SeekStart)

	sz := r.sigSize()
	buf := make([]byte, sz)
	if _, err := r.file.Seek(0, io.SeekStart); err != nil {
		return signature.Signature{}, err
	}
	n, err := io.ReadFull(r.file, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return signature.Signature{}, err
	}
	sig := signature.Compute(buf[:n], n)
	if n >= sz {
		r.sigCached = true
		r.sigValue = sig
	}
	return sig, nil
}

// Checkpoint snapshots this Reader's position for persistence.
func (r *Reader) Checkpoint() checkpoint.Checkpoint {
	sig, _ := r.Signature()
	return checkpoint.Checkpoint{
		Config:          r.cfg.ConfigName,
		RealPath:        r.path,
		Dev:             r.di.Dev,
		Ino:             r.di.Ino,
		SigHash:         sig.Digest,
		SigSize:         sig.SigSize,
		Offset:          r.offset,
		LastUpdateEpoch: time.Now().Unix(),
	}
}

// SetPath updates the logical path this Reader is tracked under,
// following a hard-link or rename discovered by the Discovery Handler.
func (r *Reader) SetPath(path string) { r.path = path }

// Path returns the logical path this Reader currently serves.
func (r *Reader) Path() string { return r.path }

// DevInode returns this Reader's current file identity.
func (r *Reader) DevInode() signature.DevInode { return r.di }

// Offset returns the current read offset.
func (r *Reader) Offset() int64 { return r.offset }

// MarkDeleted flags this Reader as no longer present in the candidate
// set; it drains to EOF and is then retired by the caller.
func (r *Reader) MarkDeleted() { r.deleted = true }

// Deleted reports whether MarkDeleted has been called.
func (r *Reader) Deleted() bool { return r.deleted }

// LastActivity is the time of this Reader's last successful read.
func (r *Reader) LastActivity() time.Time { return r.lastActivity }

// Close releases the OS file handle, if any.
func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// FlushResidual force-emits whatever the Multiline Splitter is holding
// (and the container decoder's own pending line), used on rotation
// drain or pipeline shutdown.
func (r *Reader) FlushResidual() []event.Event {
	var events []event.Event
	if r.container != nil {
		if dec, ok := r.container.Flush(); ok {
			events = append(events, r.frame(dec)...)
		}
	}
	if rec, ok := r.splitter.Flush(); ok {
		events = append(events, r.makeEvent(rec))
	}
	return events
}

// Read advances this Reader by at most budget: it checks the
// Back-pressure Gate before pulling more bytes, and never slices a
// multi-byte encoding sequence. emit is called with every completed
// event, in file-offset order.
func (r *Reader) Read(gate backpressure.Gate, qk queuekey.QueueKey, budget time.Duration, emit func(event.Event)) ReadOutcome {
	if r.file == nil {
		if err := r.Reopen(); err != nil {
			return Fatal
		}
	}
	r.checkReadDelay()
	deadline := time.Now().Add(budget)
	buf := make([]byte, defaultReadBufferSize)
	producedAny := false

	for {
		if gate != nil && gate.Check(qk) == backpressure.WouldBlock {
			if producedAny {
				return Produced
			}
			return WouldBlock
		}
		if time.Now().After(deadline) {
			if producedAny {
				return Produced
			}
			return AtEOF
		}

		n, err := r.file.Read(buf)
		if n > 0 {
			r.offset += int64(n)
			r.emitChunk(buf[:n], false, emit)
			r.lastActivity = time.Now()
			producedAny = true
		}
		if err == nil {
			continue
		}
		if err != io.EOF {
			logging.Error.Errorw("tailer: read error", "path", r.path, "error", err)
			return Fatal
		}

		// EOF: distinguish "nothing new", truncation, and rotation.
		if n > 0 {
			continue
		}
		outcome, handled := r.handleEOF(emit)
		if handled {
			if outcome == Rotated {
				return Rotated
			}
			continue // truncation handled inline; read again from offset 0
		}
		if producedAny {
			return Produced
		}
		return AtEOF
	}
}

// handleEOF distinguishes a quiescent EOF from rotation and in-place
// truncation: if a read returns 0 bytes at a file position less than
// the stat'ed file size, the Reader rechecks DevInode; any change
// yields Rotated without consuming bytes. handled is true when the
// caller should retry its read loop rather than treat this as a
// quiescent EOF.
func (r *Reader) handleEOF(emit func(event.Event)) (outcome ReadOutcome, handled bool) {
	newDI, fi, err := signature.Stat(r.path)
	if err != nil {
		// File vanished or became unreadable; the Discovery Handler
		// decides retirement from the candidate set, not this Reader.
		return AtEOF, false
	}
	if newDI != r.di {
		return Rotated, true
	}
	current, err := r.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return AtEOF, false
	}
	if fi.Size() < current {
		// Copy-then-truncate rotation: same inode, smaller size than
		// our offset. Flush whatever is buffered, since it cannot be
		// recovered once we seek to 0.
		r.notifier.Notify(r.cfg.Pipeline, alarm.KindIOWarning, "file %s truncated in place, resetting offset %d -> 0", r.path, current)
		for _, e := range r.FlushResidual() {
			emit(e)
		}
		if _, err := r.file.Seek(0, io.SeekStart); err != nil {
			return AtEOF, false
		}
		r.offset = 0
		r.sigCached = false
		return AtEOF, true
	}
	return AtEOF, false
}

// checkReadDelay applies ReadDelaySkipThresholdBytes /
// ReadDelayAlertThresholdBytes: when a Reader falls far enough behind
// the file's current size, it either alarms (alert threshold) or
// alarms and jumps forward, discarding the intervening backlog (skip
// threshold) -- coarser-grained than, and independent of, the
// per-record max_record_bytes truncation in the Multiline Splitter.
func (r *Reader) checkReadDelay() {
	if r.cfg.ReadDelaySkipThresholdBytes <= 0 && r.cfg.ReadDelayAlertThresholdBytes <= 0 {
		return
	}
	fi, err := r.file.Stat()
	if err != nil {
		return
	}
	backlog := fi.Size() - r.offset
	if backlog <= 0 {
		return
	}
	if r.cfg.ReadDelaySkipThresholdBytes > 0 && backlog > r.cfg.ReadDelaySkipThresholdBytes {
		target := fi.Size() - r.cfg.ReadDelaySkipThresholdBytes
		target = r.alignForward(target, fi.Size())
		if _, err := r.file.Seek(target, io.SeekStart); err == nil {
			r.notifier.Notify(r.cfg.Pipeline, alarm.KindIOWarning, "reader for %s fell behind by %d bytes, skipping to offset %d", r.path, backlog, target)
			r.offset = target
		}
		return
	}
	if r.cfg.ReadDelayAlertThresholdBytes > 0 && backlog > r.cfg.ReadDelayAlertThresholdBytes {
		r.notifier.Notify(r.cfg.Pipeline, alarm.KindIOWarning, "reader for %s is %d bytes behind", r.path, backlog)
	}
}

// alignForward nudges target to the next newline so a skip lands on a
// record boundary rather than mid-line, mirroring tailLimitOffset's
// alignment for first-open tail limits.
func (r *Reader) alignForward(target, size int64) int64 {
	if target <= 0 || target >= size {
		return target
	}
	saved, err := r.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return target
	}
	defer r.file.Seek(saved, io.SeekStart)
	if _, err := r.file.Seek(target, io.SeekStart); err != nil {
		return target
	}
	buf := make([]byte, 4096)
	n, _ := r.file.Read(buf)
	if idx := bytes.IndexByte(buf[:n], '\n'); idx >= 0 {
		return target + int64(idx) + 1
	}
	return target
}

func (r *Reader) emitChunk(chunk []byte, isEOF bool, emit func(event.Event)) {
	decoded := r.decoder.Decode(chunk)
	r.feedLines(decoded, isEOF, emit)
}

// feedLines prepends whatever the Multiline Splitter held back from the
// previous call, splits the result into lines, optionally strips
// container-runtime framing, and runs the remainder through the
// Multiline Splitter. The caller in Read advances r.offset past the
// raw chunk before invoking this, so every event built from the chunk
// reports the file position through the end of that read.
func (r *Reader) feedLines(decoded []byte, isEOF bool, emit func(event.Event)) {
	buf := decoded
	if len(r.residual) > 0 {
		buf = append(r.residual, buf...)
		r.residual = nil
	}
	if r.container == nil {
		emitted, _, residual := r.splitter.Process(buf, isEOF)
		r.residual = residual
		for _, rec := range emitted {
			emit(r.makeEvent(rec))
		}
		return
	}

	pos := 0
	for {
		nl := bytes.IndexByte(buf[pos:], '\n')
		if nl < 0 {
			break
		}
		line := buf[pos : pos+nl]
		if dec, ok := r.container.Decode(line); ok {
			for _, ev := range r.frame(dec) {
				emit(ev)
			}
		}
		pos += nl + 1
	}
	r.residual = append([]byte(nil), buf[pos:]...)
}

// frame runs one decoded container-log record through the Multiline
// Splitter.
func (r *Reader) frame(dec containerlog.Decoded) []event.Event {
	emitted, _, _ := r.splitter.Process(append(dec.Payload, '\n'), false)
	out := make([]event.Event, 0, len(emitted))
	for _, rec := range emitted {
		e := r.makeEvent(rec)
		if dec.Stream != "" {
			e.Tags = e.Tags.Clone()
			e.Tags["stream"] = dec.Stream
		}
		out = append(out, e)
	}
	return out
}

func (r *Reader) makeEvent(payload []byte) event.Event {
	tags := r.cfg.Tags
	if r.cfg.AppendingLogPositionMeta {
		tags = tags.Clone()
		tags["__file_offset__"] = strconv.FormatInt(r.offset, 10)
	}
	return event.Event{
		Timestamp:    time.Now(),
		Tags:         tags,
		PayloadBytes: payload,
		SourceOffset: r.offset,
		SourceInode:  r.di.Ino,
		Checkpoint:   r.Checkpoint(),
	}
}

