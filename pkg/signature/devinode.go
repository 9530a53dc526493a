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

// Package signature implements file-identity primitives: the
// (device, inode) pair that names a byte stream on POSIX, and the
// content-prefix signature used to detect in-place truncation and
// copy-then-truncate rotation.
package signature

import (
	"os"
	"syscall"
)

// DevInode is the filesystem-identity pair used as the primary key for
// readers. The same DevInode refers to the same byte-stream for its
// lifetime, independent of path.
type DevInode struct {
	Dev uint64
	Ino uint64
}

// Zero reports whether d is the zero value, i.e. never resolved.
func (d DevInode) Zero() bool {
	return d.Dev == 0 && d.Ino == 0
}

// FromFileInfo extracts the DevInode of fi on POSIX systems via its
// underlying syscall.Stat_t. Systems without inodes are out of scope
// for this build (the spec allows substituting (volume_id, file_id)
// there, but this module targets POSIX hosts).
func FromFileInfo(fi os.FileInfo) (DevInode, bool) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return DevInode{}, false
	}
	return DevInode{Dev: uint64(st.Dev), Ino: uint64(st.Ino)}, true
}

// Stat is a convenience wrapper combining os.Stat with FromFileInfo.
func Stat(path string) (DevInode, os.FileInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return DevInode{}, nil, err
	}
	di, ok := FromFileInfo(fi)
	if !ok {
		return DevInode{}, fi, syscall.ENOTSUP
	}
	return di, fi, nil
}
