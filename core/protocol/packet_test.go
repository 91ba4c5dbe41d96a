package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-dma/api"
	"github.com/momentics/hioload-dma/core/protocol"
)

func TestEncodeLayout(t *testing.T) {
	b, err := protocol.Marshal(protocol.Packet{Code: protocol.CodeCreditGrant, Mux: 0x01020304})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 0, 0, 4, 3, 2, 1}, b)

	b, err = protocol.Marshal(protocol.Packet{Code: protocol.CodeSendIntent, Mux: 7})
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0, 7, 0, 0, 0}, b)
}

func TestDecodeKnownBytes(t *testing.T) {
	p, err := protocol.Decode([]byte{0, 0, 0, 0, 0x2a, 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, protocol.Packet{Code: protocol.CodeSendIntent, Mux: 42}, p)

	// trailing bytes beyond the packet are ignored
	p, err = protocol.Decode([]byte{1, 0, 0, 0, 0, 1, 0, 0, 0xff, 0xff})
	require.NoError(t, err)
	assert.Equal(t, protocol.Packet{Code: protocol.CodeCreditGrant, Mux: 256}, p)
}

func TestDecodeRejects(t *testing.T) {
	cases := map[string][]byte{
		"short":        {0, 0, 0, 0, 1, 0, 0},
		"unknown code": {2, 0, 0, 0, 1, 0, 0, 0},
		"negative mux": {0, 0, 0, 0, 0xff, 0xff, 0xff, 0xff},
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := protocol.Decode(raw)
			assert.ErrorIs(t, err, api.ErrMalformedPacket)
		})
	}
}

func TestEncodeRejects(t *testing.T) {
	assert.ErrorIs(t, protocol.Encode(make([]byte, 4), protocol.Packet{}), api.ErrMalformedPacket)
	assert.ErrorIs(t, protocol.Encode(make([]byte, 8), protocol.Packet{Code: 5}), api.ErrMalformedPacket)
	assert.ErrorIs(t, protocol.Encode(make([]byte, 8), protocol.Packet{Mux: -1}), api.ErrMalformedPacket)
}
