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

// Package containerinfo defines the Container-Info collaborator: an
// external provider the Discovery Handler consults to translate a
// container's own log path into the path it is visible at on the
// host. A live Docker/CRI-backed provider is pluggable but out of
// scope here; this package supplies the interface plus a static,
// file-backed implementation usable in tests and in deployments where
// container metadata is pre-declared rather than queried live.
package containerinfo

import (
	"path"
	"strings"
	"sync"
)

// Mount is one bind/overlay mount exposed by a container: a
// container-side path is visible at HostPath on the host.
type Mount struct {
	ContainerPath string
	HostPath      string
}

// Info is everything the Discovery Handler needs about one running
// container to resolve its log paths onto the host filesystem.
type Info struct {
	ID         string
	UpperDir   string // overlay2 upper directory, empty if not overlay-backed
	Mounts     []Mount
	LogPathPrefix string // prepended ahead of upper-dir/mount resolution
}

// Provider resolves container identity to Info and back. The
// Discovery Handler calls ResolveHostPath once per container pipeline
// tick.
type Provider interface {
	Lookup(containerID string) (Info, bool)
	// ResolveHostPath translates containerPath (as it appears inside
	// the container's mount namespace) to the path it is visible at on
	// the host, given containerID's current Info.
	ResolveHostPath(containerID, containerPath string) (string, bool)
}

// StaticProvider is a fixed, in-memory Provider backed by a map kept
// up to date by an external caller (e.g. a CRI event subscriber),
// never by this package. It is concurrency-safe for the
// read-mostly/occasional-Update access pattern the Discovery Handler
// exercises.
type StaticProvider struct {
	mu    sync.RWMutex
	infos map[string]Info
}

// NewStatic constructs an empty StaticProvider.
func NewStatic() *StaticProvider {
	return &StaticProvider{infos: make(map[string]Info)}
}

// Update registers or replaces the Info for a container.
func (p *StaticProvider) Update(info Info) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.infos[info.ID] = info
}

// Remove forgets a container, e.g. once it has stopped and its
// Readers have all drained.
func (p *StaticProvider) Remove(containerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.infos, containerID)
}

// Lookup satisfies Provider.
func (p *StaticProvider) Lookup(containerID string) (Info, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	info, ok := p.infos[containerID]
	return info, ok
}

// ResolveHostPath translates a path as seen inside the container to
// its location on the host: a containerPath is first matched against the overlay
// upper_dir (a write made inside the container lands verbatim under
// upper_dir on the host, so the in-container path is simply appended),
// falling back to the longest-prefix-matching bind Mount, and finally
// prepended with LogPathPrefix regardless of which rule matched (a
// host-side relocation of the whole container root, e.g. when the
// agent itself runs inside a different mount namespace than the
// container runtime).
func (p *StaticProvider) ResolveHostPath(containerID, containerPath string) (string, bool) {
	p.mu.RLock()
	info, ok := p.infos[containerID]
	p.mu.RUnlock()
	if !ok {
		return "", false
	}

	var resolved string
	if info.UpperDir != "" {
		resolved = path.Join(info.UpperDir, containerPath)
	} else if m, ok := longestPrefixMount(info.Mounts, containerPath); ok {
		rel := strings.TrimPrefix(containerPath, m.ContainerPath)
		resolved = path.Join(m.HostPath, rel)
	} else {
		return "", false
	}

	if info.LogPathPrefix != "" {
		resolved = path.Join(info.LogPathPrefix, resolved)
	}
	return resolved, true
}

func longestPrefixMount(mounts []Mount, containerPath string) (Mount, bool) {
	best := Mount{}
	bestLen := -1
	for _, m := range mounts {
		if m.ContainerPath == "" {
			continue
		}
		if containerPath != m.ContainerPath && !strings.HasPrefix(containerPath, strings.TrimSuffix(m.ContainerPath, "/")+"/") {
			continue
		}
		if len(m.ContainerPath) > bestLen {
			best = m
			bestLen = len(m.ContainerPath)
		}
	}
	return best, bestLen >= 0
}
