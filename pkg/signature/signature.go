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

package signature

import (
	"github.com/cespare/xxhash/v2"
	"github.com/steakknife/bloomfilter"
	"github.com/steakknife/hamming"
)

// MinSigSize is the minimum number of prefix bytes a signature covers,
// unless the file itself is shorter.
const MinSigSize = 1024

// shingleSize and shingleStep control the SimHash-style fingerprint
// used for near-match diagnostics; they are not part of the exact
// equality contract.
const (
	shingleSize = 8
	shingleStep = 4
)

// Signature is the probabilistic identity of a file derived from its
// first SigSize bytes: Digest is an exact content hash backing the
// spec's equality contract, Fingerprint is a SimHash-style summary
// used only for "how similar" diagnostics when Digest already says
// "different".
type Signature struct {
	Digest      uint64
	Fingerprint uint64
	Size        int64
	SigSize     int
}

// Compute derives a Signature from data, a byte slice containing at
// least the first min(sigSize, len(data)) bytes of a file. sigSize is
// clamped to [0, len(data)] and the minimum of MinSigSize is only a
// caller-side default, not enforced here, so callers can recompute a
// signature for a file shorter than MinSigSize.
func Compute(data []byte, sigSize int) Signature {
	if sigSize > len(data) {
		sigSize = len(data)
	}
	if sigSize < 0 {
		sigSize = 0
	}
	prefix := data[:sigSize]
	return Signature{
		Digest:      xxhash.Sum64(prefix),
		Fingerprint: fingerprint(prefix),
		Size:        int64(len(data)),
		SigSize:     sigSize,
	}
}

// fingerprint computes a 64-bit SimHash-style summary of prefix: it
// slides a shingle window over the bytes, hashes each shingle, and
// bit-votes into the output. A bloom filter suppresses repeat votes
// from a shingle that recurs verbatim within the same prefix, so a
// highly repetitive prefix (e.g. a run of spaces) does not drown out
// the signal from its more distinctive bytes.
func fingerprint(prefix []byte) uint64 {
	if len(prefix) < shingleSize {
		return xxhash.Sum64(prefix)
	}
	shingleCount := uint64((len(prefix)-shingleSize)/shingleStep) + 1
	bf, err := bloomfilter.NewOptimal(shingleCount+1, 0.01)
	if err != nil {
		bf = nil
	}
	var votes [64]int
	for i := 0; i+shingleSize <= len(prefix); i += shingleStep {
		h := xxhash.New()
		_, _ = h.Write(prefix[i : i+shingleSize])
		if bf != nil {
			if bf.Contains(h) {
				continue
			}
			bf.Add(h)
		}
		v := h.Sum64()
		for b := 0; b < 64; b++ {
			if v&(1<<uint(b)) != 0 {
				votes[b]++
			} else {
				votes[b]--
			}
		}
	}
	var fp uint64
	for b := 0; b < 64; b++ {
		if votes[b] > 0 {
			fp |= 1 << uint(b)
		}
	}
	return fp
}

// NearDistance returns the Hamming distance between two fingerprints,
// 0 meaning identical and 64 meaning maximally dissimilar. It is a
// diagnostic only: correctness never depends on this value, only on
// Check's exact-digest verdict.
func NearDistance(a, b Signature) uint8 {
	return hamming.Uint64(a.Fingerprint, b.Fingerprint)
}

// CheckResult is the outcome of comparing a live file's bytes against
// a previously stored Signature.
type CheckResult int

const (
	// TooShort means newData is shorter than the stored signature's
	// window, so no verdict can be reached yet.
	TooShort CheckResult = iota
	// EqualSameSize means the prefix matches and the file has not
	// grown: this is the same file, untouched since the signature was
	// taken.
	EqualSameSize
	// EqualSizeGrew means the prefix matches but the file is now a
	// different size (almost always larger: an append-only writer).
	EqualSizeGrew
	// PrefixDiffers means the stored prefix no longer matches: the
	// file was truncated in place, or a new file was copied over the
	// same path (copy-then-truncate rotation).
	PrefixDiffers
)

func (r CheckResult) String() string {
	switch r {
	case TooShort:
		return "too_short"
	case EqualSameSize:
		return "equal_same_size"
	case EqualSizeGrew:
		return "equal_size_grew"
	case PrefixDiffers:
		return "prefix_differs"
	default:
		return "unknown"
	}
}

// Check compares newData (the current bytes of a file, at least its
// first stored.SigSize bytes) against a previously stored Signature.
func Check(newData []byte, stored Signature) CheckResult {
	if len(newData) < stored.SigSize {
		return TooShort
	}
	digest := xxhash.Sum64(newData[:stored.SigSize])
	if digest != stored.Digest {
		return PrefixDiffers
	}
	if int64(len(newData)) == stored.Size {
		return EqualSameSize
	}
	return EqualSizeGrew
}
