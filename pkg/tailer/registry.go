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
	"fmt"
	"sync"

	cmap "github.com/orcaman/concurrent-map"

	"github.com/alibaba/ilogtail-sub016/pkg/signature"
)

// Registry is the Reader Registry: an arena of
// Readers indexed by a stable ReaderId, with secondary indexes by
// DevInode and by logical path. It is the sole owner of every live
// Reader; the Rotation Tracker and RotationArray hold only ReaderId
// values into this arena rather than pointers.
//
// Guarded by a single reader-writer lock: Lookup/ByPath
// take the read side, every mutating call takes the write side.
type Registry struct {
	mu sync.RWMutex

	arena  map[ReaderId]*Reader
	nextID ReaderId

	byDevInode cmap.ConcurrentMap // devInodeKey(DevInode) -> ReaderId
	byPath     map[string]ReaderId
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		arena:      make(map[ReaderId]*Reader),
		byDevInode: cmap.New(),
		byPath:     make(map[string]ReaderId),
	}
}

func devInodeKey(di signature.DevInode) string {
	return fmt.Sprintf("%d:%d", di.Dev, di.Ino)
}

// Put admits a newly-opened Reader into the arena, indexing it by its
// current DevInode and logical path. The caller has already assigned
// r.ID via NextID.
func (reg *Registry) Put(r *Reader) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.arena[r.ID] = r
	reg.byDevInode.Set(devInodeKey(r.DevInode()), r.ID)
	reg.byPath[r.Path()] = r.ID
}

// NextID reserves the next ReaderId for a Reader under construction
// (NewReader needs an ID before it can be Put).
func (reg *Registry) NextID() ReaderId {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.nextID++
	return reg.nextID
}

// Get returns the Reader for id, if still resident in the arena.
func (reg *Registry) Get(id ReaderId) (*Reader, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.arena[id]
	return r, ok
}

// ByDevInode looks up the active Reader currently serving di.
func (reg *Registry) ByDevInode(di signature.DevInode) (*Reader, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	v, ok := reg.byDevInode.Get(devInodeKey(di))
	if !ok {
		return nil, false
	}
	r, ok := reg.arena[v.(ReaderId)]
	return r, ok
}

// ByPath looks up the Reader currently registered under logical path.
func (reg *Registry) ByPath(path string) (*Reader, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	id, ok := reg.byPath[path]
	if !ok {
		return nil, false
	}
	r, ok := reg.arena[id]
	return r, ok
}

// Rebind updates the DevInode and/or path indexes for an already-Put
// Reader, used when discovery finds the same file registered under a
// different path (a hard link or rename).
func (reg *Registry) Rebind(r *Reader, oldPath string, oldDI signature.DevInode) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if oldPath != "" && oldPath != r.Path() {
		if id, ok := reg.byPath[oldPath]; ok && id == r.ID {
			delete(reg.byPath, oldPath)
		}
		reg.byPath[r.Path()] = r.ID
	}
	if oldDI != r.DevInode() {
		if !oldDI.Zero() {
			reg.byDevInode.Remove(devInodeKey(oldDI))
		}
		reg.byDevInode.Set(devInodeKey(r.DevInode()), r.ID)
	}
}

// Remove evicts a Reader from the arena entirely (its generation has
// been fully drained and closed, or it was discarded by the Rotation
// Tracker). It does not close the Reader; the caller must have already
// done so.
func (reg *Registry) Remove(id ReaderId) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.arena[id]
	if !ok {
		return
	}
	delete(reg.arena, id)
	if v, ok := reg.byDevInode.Get(devInodeKey(r.DevInode())); ok && v.(ReaderId) == id {
		reg.byDevInode.Remove(devInodeKey(r.DevInode()))
	}
	if pid, ok := reg.byPath[r.Path()]; ok && pid == id {
		delete(reg.byPath, r.Path())
	}
}

// Len reports the number of live Readers in the arena, used by the
// Discovery Handler's max_readers cap.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.arena)
}

// Each calls fn for every Reader currently resident in the arena. fn
// must not call back into the Registry; Each holds the read lock for
// its duration.
func (reg *Registry) Each(fn func(*Reader)) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	for _, r := range reg.arena {
		fn(r)
	}
}
