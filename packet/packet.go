// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package packet provides the primitive encoders and decoders used to build
// sandpam message payloads.
//
// Fixed-width integers are big-endian. Strings are length-prefixed, with the
// length encoded as a [Vint30]. The encoding is not self-describing: the
// reader and writer must agree on the sequence of fields in advance.
package packet

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/creachadair/mds/value"
)

// A Builder accumulates encoded values into a payload. The zero value is an
// empty builder ready for use.
type Builder struct {
	buf []byte
}

// Bool appends a Boolean to b as a single byte with value 0 or 1.
func (b *Builder) Bool(ok bool) { b.buf = append(b.buf, value.Cond[byte](ok, 1, 0)) }

// Uint32 appends v to b in big-endian order.
func (b *Builder) Uint32(v uint32) { b.buf = binary.BigEndian.AppendUint32(b.buf, v) }

// Uint64 appends v to b in big-endian order.
func (b *Builder) Uint64(v uint64) { b.buf = binary.BigEndian.AppendUint64(b.buf, v) }

// Vint30 appends a [Vint30] value to b.
func (b *Builder) Vint30(v uint32) { b.buf = Vint30(v).Append(b.buf) }

// VPutString appends a length-prefixed string to b. It panics if s is too
// long for its length to be encoded as a [Vint30].
func (b *Builder) VPutString(s string) {
	b.Grow(VLen(len(s)))
	b.Vint30(uint32(len(s)))
	b.buf = append(b.buf, s...)
}

// Len reports the number of bytes currently in the buffer.
func (b *Builder) Len() int { return len(b.buf) }

// Bytes reports the current contents of the buffer. The builder retains
// ownership of the slice; the caller must not modify it unless b will no
// longer be used.
func (b *Builder) Bytes() []byte { return b.buf }

// Reset discards the contents of b.
func (b *Builder) Reset() { b.buf = b.buf[:0] }

// Grow ensures that at least n more bytes can be appended to b without
// another allocation.
func (b *Builder) Grow(n int) {
	want := len(b.buf) + n
	if cap(b.buf) < want {
		r := make([]byte, len(b.buf), max(want, 2*cap(b.buf)))
		copy(r, b.buf)
		b.buf = r
	}
}

// A Scanner decodes values from the front of a payload. Methods report
// [io.ErrUnexpectedEOF] (possibly wrapped) when a value is incomplete.
type Scanner struct {
	rest   []byte
	offset int
}

// NewScanner constructs a [Scanner] that consumes input. The scanner retains
// slices of input, so the caller must not modify it while s is in use.
func NewScanner[Str ~string | ~[]byte](input Str) *Scanner {
	return &Scanner{rest: []byte(input)}
}

func (s *Scanner) take(n int) ([]byte, error) {
	if len(s.rest) < n {
		return nil, fmt.Errorf("value truncated at offset %d (%d < %d bytes): %w",
			s.offset, len(s.rest), n, io.ErrUnexpectedEOF)
	}
	out := s.rest[:n]
	s.rest = s.rest[n:]
	s.offset += n
	return out, nil
}

// Bool scans one byte and reports whether it is non-zero.
func (s *Scanner) Bool() (bool, error) {
	b, err := s.Byte()
	return b != 0, err
}

// Byte scans a single byte.
func (s *Scanner) Byte() (byte, error) {
	v, err := s.take(1)
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

// Uint32 scans a big-endian uint32.
func (s *Scanner) Uint32() (uint32, error) {
	v, err := s.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(v), nil
}

// Uint64 scans a big-endian uint64.
func (s *Scanner) Uint64() (uint64, error) {
	v, err := s.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(v), nil
}

// Vint30 scans a single [Vint30] value. It reports [io.EOF] if no input
// remains at all.
func (s *Scanner) Vint30() (int, error) {
	if len(s.rest) == 0 {
		return 0, io.EOF
	}
	v, err := s.take(int(s.rest[0]%4) + 1)
	if err != nil {
		return 0, err
	}
	var w uint32
	for i := len(v) - 1; i >= 0; i-- {
		w = (w * 256) + uint32(v[i])
	}
	return int(w >> 2), nil
}

// Len reports the number of unconsumed bytes remaining in s.
func (s *Scanner) Len() int { return len(s.rest) }

// Offset reports the 0-based offset of the next unconsumed byte.
func (s *Scanner) Offset() int { return s.offset }

// Rest returns the unconsumed input. The slice is valid only until the next
// call to a method of s.
func (s *Scanner) Rest() []byte { return s.rest }

// VGet scans a length-prefixed string from s. A slice result aliases the
// input.
func VGet[Str ~string | ~[]byte](s *Scanner) (out Str, err error) {
	n, err := s.Vint30()
	if err == io.EOF {
		return out, io.ErrUnexpectedEOF
	} else if err != nil {
		return out, err
	}
	v, err := s.take(n)
	if err != nil {
		return out, err
	}
	return Str(v), nil
}

// VLen reports the encoded size of an n-byte length-prefixed string.
func VLen(n int) int { return Vint30(n).Size() + n }

// Vint30 is an unsigned 30-bit integer with a variable-width encoding of 1 to
// 4 bytes. The value is stored as a little-endian 32-bit word shifted left by
// two, with the count of additional bytes in the low two bits of the first
// byte, so a decoder can frame the value after reading one byte.
//
//   - v < 64 uses 1 byte
//   - v < 16384 uses 2 bytes
//   - v < 4194304 uses 3 bytes
//   - v < 1073741824 uses 4 bytes
type Vint30 uint32

// MaxVint30 is the largest value a Vint30 can represent.
const MaxVint30 = 1<<30 - 1

// Size reports the number of bytes needed to encode v, or -1 if v is out of
// range.
func (v Vint30) Size() int {
	switch {
	case v < (1 << 6):
		return 1
	case v < (1 << 14):
		return 2
	case v < (1 << 22):
		return 3
	case v < (1 << 30):
		return 4
	default:
		return -1
	}
}

// Append appends the encoding of v to buf and returns the extended slice.
// It panics if v is out of range.
func (v Vint30) Append(buf []byte) []byte {
	n := v.Size()
	if n < 0 {
		panic("vint30 value out of range")
	}
	w := uint32(v)<<2 | uint32(n-1)
	for range n {
		buf = append(buf, byte(w))
		w >>= 8
	}
	return buf
}
