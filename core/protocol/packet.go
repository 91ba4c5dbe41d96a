// File: core/protocol/packet.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fixed little-endian codec for the 8-byte control packet.

package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/momentics/hioload-dma/api"
)

// Code identifies the control packet kind.
type Code int32

func (c Code) String() string {
	switch c {
	case CodeSendIntent:
		return "send_intent"
	case CodeCreditGrant:
		return "credit_grant"
	default:
		return fmt.Sprintf("code(%d)", int32(c))
	}
}

// Valid reports whether c is a known code.
func (c Code) Valid() bool { return c == CodeSendIntent || c == CodeCreditGrant }

// Packet is the decoded control packet.
type Packet struct {
	Code Code
	Mux  int
}

// Encode writes p into dst, which must hold at least PacketLen bytes.
func Encode(dst []byte, p Packet) error {
	if len(dst) < PacketLen {
		return api.Errorf(api.ErrCodeMalformedPacket, "buffer too short: %d bytes", len(dst))
	}
	if !p.Code.Valid() {
		return api.Errorf(api.ErrCodeMalformedPacket, "unknown code %d", int32(p.Code))
	}
	if p.Mux < 0 || p.Mux > math.MaxInt32 {
		return api.Errorf(api.ErrCodeMalformedPacket, "mux %d out of range", p.Mux)
	}
	binary.LittleEndian.PutUint32(dst[0:4], uint32(p.Code))
	binary.LittleEndian.PutUint32(dst[4:8], uint32(int32(p.Mux)))
	return nil
}

// Decode parses the first PacketLen bytes of src.
func Decode(src []byte) (Packet, error) {
	if len(src) < PacketLen {
		return Packet{}, api.Errorf(api.ErrCodeMalformedPacket, "packet too short: %d bytes", len(src))
	}
	code := Code(int32(binary.LittleEndian.Uint32(src[0:4])))
	mux := int32(binary.LittleEndian.Uint32(src[4:8]))
	if !code.Valid() {
		return Packet{}, api.Errorf(api.ErrCodeMalformedPacket, "unknown code %d", int32(code))
	}
	if mux < 0 {
		return Packet{}, api.Errorf(api.ErrCodeMalformedPacket, "negative mux %d", mux)
	}
	return Packet{Code: code, Mux: int(mux)}, nil
}

// Marshal returns a freshly allocated encoding of p.
func Marshal(p Packet) ([]byte, error) {
	b := make([]byte, PacketLen)
	if err := Encode(b, p); err != nil {
		return nil, err
	}
	return b, nil
}
