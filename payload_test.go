package sphinx

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestHopPayloadSize asserts the exact mapping from a frame's leading length
// prefix to the total number of bytes the frame occupies within the routing
// info block.
func TestHopPayloadSize(t *testing.T) {
	t.Parallel()

	var testCases = []struct {
		prefix       []byte
		expectedSize uint64
	}{
		// The legacy realm byte maps to the fixed 65 byte frame.
		{
			prefix:       []byte{0x00},
			expectedSize: 65,
		},

		// Single byte BigSize prefixes.
		{
			prefix:       []byte{0x01},
			expectedSize: 34,
		},
		{
			prefix:       []byte{0x08},
			expectedSize: 41,
		},
		{
			prefix:       []byte{0xfc},
			expectedSize: 285,
		},

		// Three byte BigSize prefixes.
		{
			prefix:       []byte{0xfd, 0x00, 0xfd},
			expectedSize: 288,
		},
		{
			prefix:       []byte{0xfd, 0xff, 0xff},
			expectedSize: 65570,
		},
	}

	for _, testCase := range testCases {
		size, err := HopPayloadSize(bytes.NewReader(testCase.prefix))
		require.NoErrorf(t, err, "prefix %x", testCase.prefix)
		require.Equalf(t, testCase.expectedSize, size,
			"prefix %x", testCase.prefix)
	}
}

// TestHopPayloadEncodeDecode asserts that both payload encodings survive a
// round trip through their wire form, and that the decoder discriminates the
// two encodings by the leading byte alone.
func TestHopPayloadEncodeDecode(t *testing.T) {
	t.Parallel()

	var hmac [HMACSize]byte
	copy(hmac[:], bytes.Repeat([]byte{0x05}, HMACSize))

	// A TLV payload round trip.
	tlvPayload, err := NewTLVHopPayload(
		bytes.Repeat([]byte{0x42}, 100),
	)
	require.NoError(t, err)
	tlvPayload.HMAC = hmac

	var b bytes.Buffer
	require.NoError(t, tlvPayload.Encode(&b))
	require.Equal(t, tlvPayload.NumBytes(), b.Len())

	var tlvPayload2 HopPayload
	require.NoError(t, tlvPayload2.Decode(&b))
	require.Equal(t, tlvPayload, tlvPayload2)

	// A legacy payload round trip.
	hopData := HopData{
		ForwardAmount: 1000,
		OutgoingCltv:  144,
	}
	copy(hopData.NextAddress[:], bytes.Repeat([]byte{0x03}, AddressSize))

	legacyPayload, err := NewLegacyHopPayload(&hopData)
	require.NoError(t, err)
	legacyPayload.HMAC = hmac

	b.Reset()
	require.NoError(t, legacyPayload.Encode(&b))
	require.Equal(t, LegacyHopDataSize, b.Len())

	var legacyPayload2 HopPayload
	require.NoError(t, legacyPayload2.Decode(&b))
	require.Equal(t, legacyPayload, legacyPayload2)

	// The decoded legacy payload must yield back the forwarding
	// instructions it was created from.
	hopData2, err := legacyPayload2.HopData()
	require.NoError(t, err)
	require.Equal(t, hopData, *hopData2)

	// TLV payloads carry no hop data at this layer.
	hopData3, err := tlvPayload2.HopData()
	require.NoError(t, err)
	require.Nil(t, hopData3)
}

// TestNewHopPayloadArgs asserts that exactly one of the hop data and the
// opaque payload must be provided.
func TestNewHopPayloadArgs(t *testing.T) {
	t.Parallel()

	_, err := NewHopPayload(nil, nil)
	require.Error(t, err)

	_, err = NewHopPayload(&HopData{}, []byte{0x01})
	require.Error(t, err)
}
