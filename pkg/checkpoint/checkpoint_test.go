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

package checkpoint

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/alibaba/ilogtail-sub016/pkg/signature"
)

func TestCheckpointRoundTrip(t *testing.T) {
	cp := Checkpoint{
		Config:          "pipeline-a",
		RealPath:        "/var/log/a.log",
		Dev:             1,
		Ino:             42,
		SigHash:         0xdeadbeef,
		SigSize:         1024,
		Offset:          4096,
		LastUpdateEpoch: 1690000000,
	}
	b, err := cp.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	var got Checkpoint
	if err := got.UnmarshalJSON(b); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if diff := cmp.Diff(cp, got); diff != "" {
		t.Fatalf("round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckpointPreservesUnknownFields(t *testing.T) {
	raw := []byte(`{"config":"p","real_path":"/x","dev":1,"inode":2,"sig_hash":3,"sig_size":4,"offset":5,"last_update_epoch":6,"future_field":"keep-me"}`)
	var cp Checkpoint
	if err := cp.UnmarshalJSON(raw); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if _, ok := cp.Extra["future_field"]; !ok {
		t.Fatalf("expected unknown field to be preserved in Extra, got %v", cp.Extra)
	}
	out, err := cp.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	var roundTripped map[string]json.RawMessage
	if err := json.Unmarshal(out, &roundTripped); err != nil {
		t.Fatalf("re-unmarshal: %v", err)
	}
	if _, ok := roundTripped["future_field"]; !ok {
		t.Fatalf("expected future_field to survive read-modify-write, got %s", out)
	}
}

func TestCheckpointDevInodeAndSignature(t *testing.T) {
	cp := Checkpoint{Dev: 7, Ino: 9, SigHash: 0x1234, SigSize: 1024}
	if got, want := cp.DevInode(), (signature.DevInode{Dev: 7, Ino: 9}); got != want {
		t.Fatalf("DevInode() = %+v, want %+v", got, want)
	}
	sig := cp.Signature()
	if sig.Digest != 0x1234 || sig.SigSize != 1024 {
		t.Fatalf("Signature() = %+v, unexpected", sig)
	}
}

func TestStoreLoadFlushRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoints.ndjson")

	s := NewStore(path)
	cp1 := Checkpoint{Config: "p", RealPath: "/a.log", Dev: 1, Ino: 1, Offset: 10, LastUpdateEpoch: 100}
	cp2 := Checkpoint{Config: "p", RealPath: "/b.log", Dev: 1, Ino: 2, Offset: 20, LastUpdateEpoch: 200}
	s.Update(cp1)
	s.Update(cp2)

	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	reloaded := NewStore(path)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got1, ok := reloaded.Get(cp1.DevInode())
	if !ok {
		t.Fatalf("expected checkpoint for %+v", cp1.DevInode())
	}
	if diff := cmp.Diff(cp1, got1); diff != "" {
		t.Fatalf("cp1 mismatch (-want +got):\n%s", diff)
	}
	if len(reloaded.Snapshot()) != 2 {
		t.Fatalf("Snapshot() len = %d, want 2", len(reloaded.Snapshot()))
	}
}

func TestStoreLoadMissingFileIsNotError(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "does-not-exist.ndjson"))
	if err := s.Load(); err != nil {
		t.Fatalf("Load on missing file should be a no-op, got %v", err)
	}
	if len(s.Snapshot()) != 0 {
		t.Fatalf("expected empty store")
	}
}

func TestStoreUpdateIsMonotonicPerDevInode(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "cp.ndjson"))
	di := signature.DevInode{Dev: 1, Ino: 1}
	ahead := Checkpoint{Dev: 1, Ino: 1, Offset: 500, LastUpdateEpoch: 100}
	stale := Checkpoint{Dev: 1, Ino: 1, Offset: 200, LastUpdateEpoch: 50}

	s.Update(ahead)
	s.Update(stale) // simulates a late-arriving out-of-order sink ack

	got, ok := s.Get(di)
	if !ok {
		t.Fatalf("expected a checkpoint for %+v", di)
	}
	if got.Offset != ahead.Offset {
		t.Fatalf("expected stale update to be ignored, got offset %d want %d", got.Offset, ahead.Offset)
	}
}

func TestStoreUpdateAcceptsAdvancingOffset(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "cp.ndjson"))
	di := signature.DevInode{Dev: 2, Ino: 2}
	s.Update(Checkpoint{Dev: 2, Ino: 2, Offset: 100})
	s.Update(Checkpoint{Dev: 2, Ino: 2, Offset: 300})

	got, ok := s.Get(di)
	if !ok || got.Offset != 300 {
		t.Fatalf("expected offset to advance to 300, got %+v ok=%v", got, ok)
	}
}

func TestStoreDelete(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "cp.ndjson"))
	cp := Checkpoint{Dev: 1, Ino: 1}
	s.Update(cp)
	s.Delete(cp.DevInode())
	if _, ok := s.Get(cp.DevInode()); ok {
		t.Fatalf("expected checkpoint to be deleted")
	}
}
