package sphinx

import (
	"io"

	"github.com/lightningnetwork/lnd/tlv"
)

// ReadVarInt reads a variable length integer from r in the BigSize format
// described in BOLT-01 and returns it as a uint64. The provided scratch
// buffer is used to avoid an allocation per call.
func ReadVarInt(r io.Reader, buf *[8]byte) (uint64, error) {
	return tlv.ReadVarInt(r, buf)
}

// WriteVarInt serializes val to w using the BigSize format described in
// BOLT-01. The provided scratch buffer is used to avoid an allocation per
// call.
func WriteVarInt(w io.Writer, val uint64, buf *[8]byte) error {
	return tlv.WriteVarInt(w, val, buf)
}
