// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package sandpam

import (
	"fmt"

	"github.com/creachadair/sandpam/packet"
)

// MaxMessageLen is the maximum length in bytes of the error message carried
// by a [Response]. Longer messages are truncated when encoded.
const MaxMessageLen = 1024

// Request is an authentication attempt sent to the worker.
type Request struct {
	ID       uint64 // assigned by the pump, unique among pending requests
	User     string
	Pass     string
	Service  string
	RemoteIP string // empty means not set
}

// Encode encodes the request in binary format. It panics if the encoding
// does not fit into a single frame, since no caller can recover from an
// oversized request.
func (r Request) Encode() []byte {
	var b packet.Builder
	b.Grow(8 + packet.VLen(len(r.User)) + packet.VLen(len(r.Pass)) +
		packet.VLen(len(r.Service)) + 1 + packet.VLen(len(r.RemoteIP)))
	b.Uint64(r.ID)
	b.VPutString(r.User)
	b.VPutString(r.Pass)
	b.VPutString(r.Service)
	b.Bool(r.RemoteIP != "")
	if r.RemoteIP != "" {
		b.VPutString(r.RemoteIP)
	}
	if b.Len() > MaxPayload {
		panic(fmt.Sprintf("sandpam: encoded request is %d bytes > %d", b.Len(), MaxPayload))
	}
	return b.Bytes()
}

// UnmarshalBinary decodes data into a request payload.
// It implements encoding.BinaryUnmarshaler.
func (r *Request) UnmarshalBinary(data []byte) (err error) {
	s := packet.NewScanner(data)
	var req Request
	if req.ID, err = s.Uint64(); err != nil {
		return fmt.Errorf("request id: %w", err)
	}
	if req.User, err = packet.VGet[string](s); err != nil {
		return fmt.Errorf("request user: %w", err)
	}
	if req.Pass, err = packet.VGet[string](s); err != nil {
		return fmt.Errorf("request password: %w", err)
	}
	if req.Service, err = packet.VGet[string](s); err != nil {
		return fmt.Errorf("request service: %w", err)
	}
	hasIP, err := s.Bool()
	if err != nil {
		return fmt.Errorf("request remote flag: %w", err)
	}
	if hasIP {
		if req.RemoteIP, err = packet.VGet[string](s); err != nil {
			return fmt.Errorf("request remote address: %w", err)
		}
	}
	if s.Len() != 0 {
		return fmt.Errorf("extra data after request (%d bytes)", s.Len())
	}
	*r = req
	return nil
}

// String returns a human-friendly rendering of the request. The password is
// not included.
func (r Request) String() string {
	return fmt.Sprintf("Request(ID=%d, Service=%q, User=%q, Remote=%q)", r.ID, r.Service, r.User, r.RemoteIP)
}

// Response is the worker's answer to a [Request].
type Response struct {
	ID      uint64 // the ID of the request being answered
	Code    Code
	Message string
}

// Encode encodes the response in binary format. The message is truncated to
// at most MaxMessageLen bytes.
func (r Response) Encode() []byte {
	msg := truncate(r.Message, MaxMessageLen)
	var b packet.Builder
	b.Grow(12 + packet.VLen(len(msg)))
	b.Uint64(r.ID)
	b.Uint32(uint32(r.Code))
	b.VPutString(msg)
	return b.Bytes()
}

// UnmarshalBinary decodes data into a response payload.
// It implements encoding.BinaryUnmarshaler.
func (r *Response) UnmarshalBinary(data []byte) (err error) {
	s := packet.NewScanner(data)
	var rsp Response
	if rsp.ID, err = s.Uint64(); err != nil {
		return fmt.Errorf("response id: %w", err)
	}
	code, err := s.Uint32()
	if err != nil {
		return fmt.Errorf("response code: %w", err)
	}
	rsp.Code = Code(code)
	if rsp.Message, err = packet.VGet[string](s); err != nil {
		return fmt.Errorf("response message: %w", err)
	}
	if s.Len() != 0 {
		return fmt.Errorf("extra data after response (%d bytes)", s.Len())
	}
	*r = rsp
	return nil
}

// Err returns nil if r reports success, otherwise an *AuthError carrying the
// code and message of r.
func (r Response) Err() error {
	if r.Code == CodeSuccess {
		return nil
	}
	return &AuthError{Code: r.Code, Message: r.Message}
}

// String returns a human-friendly rendering of the response.
func (r Response) String() string {
	if r.Message == "" {
		return fmt.Sprintf("Response(ID=%d, Code=%v)", r.ID, r.Code)
	}
	return fmt.Sprintf("Response(ID=%d, Code=%v, %q)", r.ID, r.Code, r.Message)
}

// truncate returns a prefix of a UTF-8 string s, having length no greater than
// n bytes.  If s exceeds this length, it is truncated at a point ≤ n so that
// the result does not end in a partial UTF-8 encoding.
func truncate(s string, n int) string {
	if n >= len(s) {
		return s
	}

	// Back up until we find the beginning of a UTF-8 encoding.
	for n > 0 && s[n-1]&0xc0 == 0x80 { // 0x10... is a continuation byte
		n--
	}

	// If we're at the beginning of a multi-byte encoding, back up one more to
	// skip it.
	if n > 0 && s[n-1]&0xc0 == 0xc0 { // 0x11... starts a multibyte encoding
		n--
	}
	return s[:n]
}
