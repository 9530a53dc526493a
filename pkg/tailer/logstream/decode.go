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

// Package logstream is the low-level, per-file byte decoder beneath
// pkg/tailer.Reader: it turns a chunk of raw file bytes into UTF-8
// bytes ready for the Multiline Splitter, never slicing in the middle
// of a multi-byte sequence. The higher-level rotation, checkpoint and
// back-pressure state machine lives in pkg/tailer; this package only
// knows about encodings.
// Loop structure adapted from the rune-at-a-time decode in
// https://github.com/google/mtail/tree/main/internal.
package logstream

import (
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Encoding selects the source file's byte encoding.
type Encoding int

const (
	// EncodingUTF8 decodes the source as UTF-8 (the common case).
	EncodingUTF8 Encoding = iota
	// EncodingUTF16 decodes UTF-16, respecting a leading BOM to choose
	// byte order and falling back to little-endian when absent.
	EncodingUTF16
	// EncodingGBK decodes the GBK (simplified Chinese) encoding.
	EncodingGBK
)

// Decoder incrementally converts raw file bytes in Encoding into UTF-8,
// holding back any trailing bytes that do not yet form a complete
// sequence so the next call can complete them. One Decoder instance is
// owned by one Reader for the file's lifetime.
type Decoder struct {
	enc Encoding

	// pending holds undecoded trailing bytes from the previous call,
	// to be prepended to the next chunk.
	pending []byte

	// xtext is the golang.org/x/text decoder used for UTF-16/GBK; nil
	// in UTF-8 mode, where decoding is a single rune-boundary scan.
	xtext encoding.Encoding

	bomChecked bool
}

// NewDecoder constructs a Decoder for enc.
func NewDecoder(enc Encoding) *Decoder {
	d := &Decoder{enc: enc}
	switch enc {
	case EncodingUTF16:
		// BOM-respecting: a leading BOM selects the byte order, and
		// little-endian is used when none is present.
		d.xtext = unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)
	case EncodingGBK:
		d.xtext = simplifiedchinese.GBK
	}
	return d
}

// Decode converts chunk (freshly read file bytes) to UTF-8, prefixing
// any bytes held back from the previous call. It returns the decoded
// UTF-8 bytes and never consumes a partial multi-byte sequence at the
// end of chunk: such bytes are retained internally and prefixed to the
// next Decode call's input instead.
func (d *Decoder) Decode(chunk []byte) []byte {
	buf := chunk
	if len(d.pending) > 0 {
		buf = append(append([]byte(nil), d.pending...), chunk...)
		d.pending = nil
	}
	switch d.enc {
	case EncodingUTF8:
		return d.decodeUTF8(buf)
	default:
		return d.decodeXText(buf)
	}
}

// decodeUTF8 copies buf verbatim up to the last complete rune,
// retaining any incomplete trailing sequence for the next call. It
// also normalises CRLF to LF, dropping a bare '\r' immediately
// preceding a '\n'.
func (d *Decoder) decodeUTF8(buf []byte) []byte {
	i := 0
	out := make([]byte, 0, len(buf))
	for i < len(buf) {
		r, width := utf8.DecodeRune(buf[i:])
		if r == utf8.RuneError && width <= 1 {
			// Either truly invalid, or a valid sequence straddling the
			// end of buf. DecodeRune can't tell us which without more
			// bytes, so conservatively hold back the last few bytes if
			// we're near the end and they could start a multi-byte
			// sequence; otherwise pass the byte through.
			if len(buf)-i <= utf8.UTFMax && !utf8.FullRune(buf[i:]) {
				break
			}
			out = append(out, buf[i])
			i++
			continue
		}
		if r == '\r' && i+width == len(buf) {
			break
		}
		if r == '\r' && i+width < len(buf) {
			// Only elide a \r immediately followed by \n within this
			// chunk; a \r at the very end is held back in case the \n
			// arrives in the next read.
			nr, _ := utf8.DecodeRune(buf[i+width:])
			if nr == '\n' {
				i += width
				continue
			}
		}
		out = utf8.AppendRune(out, r)
		i += width
	}
	if i < len(buf) {
		d.pending = append(d.pending, buf[i:]...)
	}
	return out
}

// decodeXText decodes buf with the golang.org/x/text Encoding,
// retaining a short suffix on ErrShortSrc (an incomplete trailing
// sequence) for the next call.
func (d *Decoder) decodeXText(buf []byte) []byte {
	dec := d.xtext.NewDecoder()
	out, n, err := transformBytes(dec, buf)
	if err != nil && n < len(buf) {
		d.pending = append(d.pending, buf[n:]...)
	}
	return out
}

// transformBytes runs tr over src, returning as much of the decoded
// output as could be produced and the count of src bytes consumed.
func transformBytes(tr interface {
	Transform(dst, src []byte, atEOF bool) (int, int, error)
	Reset()
}, src []byte) ([]byte, int, error) {
	dst := make([]byte, 0, len(src)*2+16)
	nSrc := 0
	for {
		if cap(dst)-len(dst) < len(src) {
			grown := make([]byte, len(dst), cap(dst)*2+len(src))
			copy(grown, dst)
			dst = grown
		}
		nDst, n, err := tr.Transform(dst[len(dst):cap(dst)], src[nSrc:], false)
		dst = dst[:len(dst)+nDst]
		nSrc += n
		if err == nil {
			return dst, nSrc, nil
		}
		if err == transform.ErrShortDst {
			continue
		}
		return dst, nSrc, err
	}
}

