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

// Package discovery implements the Discovery Handler: on every Timer
// tick it enumerates a pipeline's candidate files via the Path
// Matcher, resolves each to a DevInode, and reconciles that against
// the Reader Registry, the Rotation Tracker and the Checkpoint Store
// to decide whether to open a new Reader, reuse a live one, or retire
// one into a RotationArray to drain.
package discovery

import (
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/alibaba/ilogtail-sub016/pkg/alarm"
	"github.com/alibaba/ilogtail-sub016/pkg/checkpoint"
	"github.com/alibaba/ilogtail-sub016/pkg/containerinfo"
	"github.com/alibaba/ilogtail-sub016/pkg/logging"
	"github.com/alibaba/ilogtail-sub016/pkg/pathmatch"
	"github.com/alibaba/ilogtail-sub016/pkg/signature"
	"github.com/alibaba/ilogtail-sub016/pkg/tailer"
)

// Age-based retirement thresholds consulted in precedence order when
// a pipeline's live Reader count exceeds Config.MaxReaders.
const (
	oldAgeThreshold24h = 24 * time.Hour
	oldAgeThreshold7d  = 7 * 24 * time.Hour
)

// Config is the static, per-pipeline configuration the Discovery
// Handler needs beyond what it delegates to pkg/pathmatch and
// pkg/tailer.
type Config struct {
	Pipeline string

	MatcherConfig pathmatch.Config
	ReaderConfig  tailer.Config

	RotatorQueueSize int
	RotateRetainSecs int

	// MaxReaders caps the number of concurrently live Readers this
	// pipeline may hold; 0 disables the cap.
	MaxReaders int
	// IdleRetireThreshold is the configurable third-precedence idle
	// cutoff applied after the 24h/7d thresholds.
	IdleRetireThreshold time.Duration

	// ContainerMode, when true, treats FilePaths as container-relative
	// and consults Provider to translate them.
	ContainerMode bool
	ContainerID   string
}

// Handler is one pipeline's Discovery Handler instance.
type Handler struct {
	cfg      Config
	notifier alarm.Notifier

	matcher  *pathmatch.Matcher
	registry *tailer.Registry
	tracker  *tailer.Tracker
	store    *checkpoint.Store
	provider containerinfo.Provider

	mu        sync.Mutex
	rotations map[string]*tailer.RotationArray // logical path -> array

	onDrained func(*tailer.Reader) // called when a Reader has fully drained and been closed
}

// New constructs a Handler for one pipeline.
func New(cfg Config, registry *tailer.Registry, store *checkpoint.Store, notifier alarm.Notifier, provider containerinfo.Provider) *Handler {
	if notifier == nil {
		notifier = alarm.Noop
	}
	return &Handler{
		cfg:       cfg,
		notifier:  notifier,
		matcher:   pathmatch.New(cfg.MatcherConfig),
		registry:  registry,
		tracker:   tailer.NewTracker(cfg.Pipeline, cfg.RotateRetainSecs, notifier),
		store:     store,
		provider:  provider,
		rotations: make(map[string]*tailer.RotationArray),
	}
}

// OnDrained registers a callback invoked whenever a Reader's older
// generation has fully drained and been closed (the handler has
// already removed it from the Registry by the time this fires).
func (h *Handler) OnDrained(fn func(*tailer.Reader)) { h.onDrained = fn }

func (h *Handler) rotationArray(logicalPath string) *tailer.RotationArray {
	h.mu.Lock()
	defer h.mu.Unlock()
	ra, ok := h.rotations[logicalPath]
	if !ok {
		ra = tailer.NewRotationArray(h.cfg.Pipeline, h.cfg.RotatorQueueSize, h.notifier)
		h.rotations[logicalPath] = ra
	}
	return ra
}

// Tick runs one full Discovery Handler pass, plus the Rotation
// Tracker's force-close sweep. root is the filesystem root the Path
// Matcher's base path is resolved against (os.DirFS("/") in
// production; a scoped fs.FS in tests).
func (h *Handler) Tick(root fs.FS, now time.Time) {
	candidates := h.matcher.ListCandidates(root)
	seen := make(map[signature.DevInode]bool, len(candidates))

	for _, p := range candidates {
		hostPath := p
		if h.cfg.ContainerMode && h.provider != nil {
			if resolved, ok := h.provider.ResolveHostPath(h.cfg.ContainerID, p); ok {
				hostPath = resolved
			}
		}
		di, fi, err := signature.Stat(hostPath)
		if err != nil {
			continue // vanished between list and stat; next tick retries
		}
		seen[di] = true
		h.reconcile(hostPath, di, fi, now)
	}

	h.retireDeleted(seen)
	h.retireOverCap(now)

	for _, id := range h.tracker.Sweep(now) {
		if r, ok := h.registry.Get(id); ok {
			_ = r.Close()
			h.registry.Remove(id)
		}
	}
}

// reconcile matches one candidate path/DevInode against the Reader
// Registry and Rotation Tracker, deciding whether to reuse an existing
// Reader, reattach a tracked one, hand off to handleRotation, or open
// a new Reader.
func (h *Handler) reconcile(hostPath string, di signature.DevInode, fi os.FileInfo, now time.Time) {
	if byPath, ok := h.registry.ByPath(hostPath); ok {
		if byPath.DevInode() == di {
			return // hit, active: nothing to do
		}
		h.handleRotation(hostPath, byPath, di, fi, now)
		return
	}

	if existing, ok := h.registry.ByDevInode(di); ok {
		oldPath := existing.Path()
		existing.SetPath(hostPath)
		h.registry.Rebind(existing, oldPath, di)
		return
	}

	if trackedID, ok := h.tracker.Lookup(di); ok {
		if r, ok := h.registry.Get(trackedID); ok {
			sig, err := r.Signature()
			if err == nil {
				live := signature.Compute(readPrefix(hostPath), sig.SigSize)
				if live.Digest == sig.Digest {
					h.tracker.Untrack(di)
					oldPath := r.Path()
					r.SetPath(hostPath)
					h.registry.Rebind(r, oldPath, di)
					return
				}
			}
			h.tracker.Untrack(di)
			_ = r.Close()
			h.registry.Remove(trackedID)
		}
	}

	h.openNew(hostPath, di, fi)
}

// readPrefix re-reads a file's current prefix for a tracked-Reader
// reattachment signature comparison; errors degrade to an empty
// prefix, which simply fails the comparison and falls through to
// discarding the tracked entry.
func readPrefix(path string) []byte {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	buf := make([]byte, 4096)
	n, _ := f.Read(buf)
	return buf[:n]
}

// handleRotation covers the case where the Registry holds a Reader R
// for path P under the old DevInode D, but P now resolves to a
// different DevInode D': whether R has drained D, whether D still
// exists, and whether D still has unread bytes to drain before R'
// takes over serving P.
func (h *Handler) handleRotation(hostPath string, oldReader *tailer.Reader, newDI signature.DevInode, newFI os.FileInfo, now time.Time) {
	drained := h.isDrained(oldReader)
	oldExists := h.fileStillExists(oldReader.DevInode())

	ra := h.rotationArray(hostPath)
	newReader, err := tailer.NewReader(h.registry.NextID(), hostPath, h.cfg.ReaderConfig, h.startOffsetFor(hostPath, newDI, newFI), h.notifier)
	if err != nil {
		logging.Error.Errorw("discovery: failed to open rotated file", "path", hostPath, "error", err)
		return
	}
	h.registry.Put(newReader)

	switch {
	case drained:
		// D has been fully drained to EOF by R: close R, move to
		// Tracker for GC, serve D' with the new Reader.
		h.registry.Remove(oldReader.ID)
		_ = oldReader.Close()
		h.tracker.Track(oldReader.ID, oldReader.DevInode(), now)
		if dropped, ok := ra.PushNewest(newReader.ID); !ok {
			h.dropReader(dropped)
		}
	case oldExists:
		// D still has unread bytes and an unchanged signature: prepend
		// R to the RotationArray so it drains before R' serves new data.
		if dropped, ok := ra.Prepend(oldReader.ID); !ok {
			h.dropReader(dropped)
		}
		if dropped, ok := ra.PushNewest(newReader.ID); !ok {
			h.dropReader(dropped)
		}
	default:
		// D's file no longer exists and R is drained in practice (no
		// bytes left to read even though we could not stat it): close
		// and retire R, create R'.
		h.registry.Remove(oldReader.ID)
		_ = oldReader.Close()
		if dropped, ok := ra.PushNewest(newReader.ID); !ok {
			h.dropReader(dropped)
		}
	}
}

func (h *Handler) dropReader(id tailer.ReaderId) {
	if r, ok := h.registry.Get(id); ok {
		_ = r.Close()
		h.registry.Remove(id)
	}
}

// isDrained reports whether r has read through to the end of its
// file's last known size.
func (h *Handler) isDrained(r *tailer.Reader) bool {
	fi, err := os.Stat(r.Path())
	if err != nil {
		return true // can no longer stat the old path; treat as drained
	}
	return r.Offset() >= fi.Size()
}

func (h *Handler) fileStillExists(di signature.DevInode) bool {
	return !di.Zero()
}

func (h *Handler) startOffsetFor(path string, di signature.DevInode, fi os.FileInfo) int64 {
	if cp, ok := h.store.Get(di); ok {
		stored := cp.Signature()
		live := signature.Compute(readPrefix(path), stored.SigSize)
		if live.Digest == stored.Digest {
			return cp.Offset
		}
	}
	if h.cfg.ReaderConfig.TailingAllMatchedFiles {
		return fi.Size()
	}
	return -1 // NewReader computes the tail-limit offset
}

func (h *Handler) openNew(hostPath string, di signature.DevInode, fi os.FileInfo) {
	r, err := tailer.NewReader(h.registry.NextID(), hostPath, h.cfg.ReaderConfig, h.startOffsetFor(hostPath, di, fi), h.notifier)
	if err != nil {
		logging.Warn.Warnw("discovery: failed to open candidate file", "path", hostPath, "error", err)
		return
	}
	h.registry.Put(r)
	h.rotationArray(hostPath).PushNewest(r.ID)
}

// retireDeleted marks every live Reader whose DevInode no longer
// appears in this tick's candidate set as deleted, so it drains then
// is retired.
func (h *Handler) retireDeleted(seen map[signature.DevInode]bool) {
	var toRetire []*tailer.Reader
	h.registry.Each(func(r *tailer.Reader) {
		if !seen[r.DevInode()] {
			toRetire = append(toRetire, r)
		}
	})
	for _, r := range toRetire {
		r.MarkDeleted()
		if r.Offset() >= h.statSizeOrOffset(r) {
			if h.onDrained != nil {
				h.onDrained(r)
			}
			_ = r.Close()
			h.registry.Remove(r.ID)
		}
	}
}

func (h *Handler) statSizeOrOffset(r *tailer.Reader) int64 {
	fi, err := os.Stat(r.Path())
	if err != nil {
		return r.Offset() // vanished: treat current offset as "drained"
	}
	return fi.Size()
}

// retireOverCap enforces the reader-count cap: when total_readers
// exceeds max_readers, retire least-recently-updated readers whose
// idle time exceeds 24h, then 7d, then the configurable default, in
// that precedence, until back under the cap (or no more candidates
// qualify).
func (h *Handler) retireOverCap(now time.Time) {
	if h.cfg.MaxReaders <= 0 || h.registry.Len() <= h.cfg.MaxReaders {
		return
	}
	for _, threshold := range h.retirementThresholds() {
		if h.registry.Len() <= h.cfg.MaxReaders {
			return
		}
		var candidates []*tailer.Reader
		h.registry.Each(func(r *tailer.Reader) {
			if now.Sub(r.LastActivity()) >= threshold {
				candidates = append(candidates, r)
			}
		})
		sortByLastActivity(candidates)
		for _, r := range candidates {
			if h.registry.Len() <= h.cfg.MaxReaders {
				return
			}
			h.notifier.Notify(h.cfg.Pipeline, alarm.KindIOWarning, "retiring idle reader for %s (idle since %s) under reader cap", r.Path(), r.LastActivity())
			_ = r.Close()
			h.registry.Remove(r.ID)
		}
	}
}

func (h *Handler) retirementThresholds() []time.Duration {
	th := []time.Duration{oldAgeThreshold24h, oldAgeThreshold7d}
	if h.cfg.IdleRetireThreshold > 0 {
		th = append(th, h.cfg.IdleRetireThreshold)
	}
	return th
}

func sortByLastActivity(rs []*tailer.Reader) {
	for i := 1; i < len(rs); i++ {
		for j := i; j > 0 && rs[j].LastActivity().Before(rs[j-1].LastActivity()); j-- {
			rs[j], rs[j-1] = rs[j-1], rs[j]
		}
	}
}
