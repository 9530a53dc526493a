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

// Package checkpoint implements the durable per-reader position
// record: a newline-delimited JSON file recording, for every reader,
// its device/inode, content signature, read offset and last-update
// time, sufficient to resume exactly where a reader left off after a
// restart.
package checkpoint

import (
	"encoding/json"

	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"

	"github.com/alibaba/ilogtail-sub016/pkg/signature"
)

// Checkpoint is the durable position record for one Reader:
// {config, real_path, dev, inode, sig_hash, sig_size, offset, last_update_epoch}.
type Checkpoint struct {
	Config          string
	RealPath        string
	Dev             uint64
	Ino             uint64
	SigHash         uint64
	SigSize         int
	Offset          int64
	LastUpdateEpoch int64

	// Extra preserves fields this build does not understand, so a
	// read-modify-write cycle does not drop forward-compatible data
	// written by a newer version of the agent.
	Extra map[string]json.RawMessage
}

// DevInode returns the (dev, inode) key this checkpoint was recorded
// against.
func (c Checkpoint) DevInode() signature.DevInode {
	return signature.DevInode{Dev: c.Dev, Ino: c.Ino}
}

// Signature reconstructs the stored content signature for use with
// signature.Check.
func (c Checkpoint) Signature() signature.Signature {
	return signature.Signature{Digest: c.SigHash, SigSize: c.SigSize}
}

// MarshalJSON implements json.Marshaler via the hand-written
// easyjson-style codec below, without a go:generate step.
func (c Checkpoint) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{}
	c.MarshalEasyJSON(&w)
	return w.BuildBytes()
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Checkpoint) UnmarshalJSON(data []byte) error {
	l := jlexer.Lexer{Data: data}
	c.UnmarshalEasyJSON(&l)
	return l.Error()
}

// MarshalEasyJSON writes c to w using mailru/easyjson's low-level
// writer directly, bypassing reflection-based encoding/json on the
// checkpoint store's hot write-behind path.
func (c Checkpoint) MarshalEasyJSON(w *jwriter.Writer) {
	w.RawByte('{')

	w.RawString(`"config":`)
	w.String(c.Config)

	w.RawString(`,"real_path":`)
	w.String(c.RealPath)

	w.RawString(`,"dev":`)
	w.Uint64(c.Dev)

	w.RawString(`,"inode":`)
	w.Uint64(c.Ino)

	w.RawString(`,"sig_hash":`)
	w.Uint64(c.SigHash)

	w.RawString(`,"sig_size":`)
	w.Int(c.SigSize)

	w.RawString(`,"offset":`)
	w.Int64(c.Offset)

	w.RawString(`,"last_update_epoch":`)
	w.Int64(c.LastUpdateEpoch)

	for k, v := range c.Extra {
		w.RawByte(',')
		w.String(k)
		w.RawByte(':')
		w.Raw(v, nil)
	}

	w.RawByte('}')
}

// UnmarshalEasyJSON reads c from l, preserving any field this build
// does not recognise in c.Extra.
func (c *Checkpoint) UnmarshalEasyJSON(l *jlexer.Lexer) {
	if l.IsNull() {
		l.Skip()
		return
	}
	l.Delim('{')
	for !l.IsDelim('}') {
		key := l.UnsafeFieldName(false)
		l.WantColon()
		switch key {
		case "config":
			c.Config = l.String()
		case "real_path":
			c.RealPath = l.String()
		case "dev":
			c.Dev = l.Uint64()
		case "inode":
			c.Ino = l.Uint64()
		case "sig_hash":
			c.SigHash = l.Uint64()
		case "sig_size":
			c.SigSize = l.Int()
		case "offset":
			c.Offset = l.Int64()
		case "last_update_epoch":
			c.LastUpdateEpoch = l.Int64()
		default:
			if c.Extra == nil {
				c.Extra = make(map[string]json.RawMessage)
			}
			c.Extra[key] = json.RawMessage(l.Raw())
		}
		l.WantComma()
	}
	l.Delim('}')
}
