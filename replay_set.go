package sphinx

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/lightningnetwork/lnd/tlv"
)

// seqNumSet is the set of batch sequence numbers detected as replays.
type seqNumSet map[uint16]struct{}

// ReplaySet is a data structure used to efficiently record the occurrence of
// replays, identified by sequence number, when processing a Batch. Its primary
// functionality includes set construction, membership queries, and merging of
// replay sets. The set also tracks the maximum CLTV among the entries added
// to or merged into it; entries of the batch that are not replays do not
// count towards it.
type ReplaySet struct {
	maxCLTV tlv.RecordT[tlv.TlvType0, uint32]
	seqNums tlv.RecordT[tlv.TlvType1, seqNumSet]
}

// NewReplaySet initializes an empty replay set.
func NewReplaySet() *ReplaySet {
	return &ReplaySet{
		maxCLTV: tlv.NewPrimitiveRecord[tlv.TlvType0, uint32](0),
		seqNums: tlv.NewRecordT[tlv.TlvType1](
			make(seqNumSet),
		),
	}
}

// MaxCLTV returns the maximum CLTV value seen across the replay set.
func (rs *ReplaySet) MaxCLTV() uint32 {
	return rs.maxCLTV.Val
}

// SetMaxCLTV raises the recorded maximum CLTV to the provided value if it is
// greater than the current maximum.
func (rs *ReplaySet) SetMaxCLTV(cltv uint32) {
	if cltv > rs.maxCLTV.Val {
		rs.maxCLTV.Val = cltv
	}
}

// Size returns the number of elements in the replay set.
func (rs *ReplaySet) Size() int {
	return len(rs.seqNums.Val)
}

// Add inserts the provided index into the replay set.
func (rs *ReplaySet) Add(idx uint16, cltv uint32) {
	rs.seqNums.Val[idx] = struct{}{}

	rs.SetMaxCLTV(cltv)
}

// Contains queries the contents of the replay set for membership of a
// particular index.
func (rs *ReplaySet) Contains(idx uint16) bool {
	_, ok := rs.seqNums.Val[idx]
	return ok
}

// Merge adds the contents of the provided replay set to the receiver's set.
func (rs *ReplaySet) Merge(rs2 *ReplaySet) {
	for seqNum := range rs2.seqNums.Val {
		rs.seqNums.Val[seqNum] = struct{}{}
	}

	rs.SetMaxCLTV(rs2.maxCLTV.Val)
}

// Encode serializes the replay set into an io.Writer suitable for storage.
// The replay set can be recovered using Decode.
func (rs *ReplaySet) Encode(w io.Writer) error {
	records := []tlv.Record{
		rs.maxCLTV.Record(),
		rs.seqNums.Record(),
	}

	tlv.SortRecords(records)

	tlvStream, err := tlv.NewStream(records...)
	if err != nil {
		return err
	}

	return tlvStream.Encode(w)
}

// Decode reconstructs a replay set from the io.Reader that a previous call to
// Encode was directed at.
func (rs *ReplaySet) Decode(r io.Reader) error {
	tlvStream, err := tlv.NewStream(
		rs.maxCLTV.Record(), rs.seqNums.Record(),
	)
	if err != nil {
		return err
	}

	return tlvStream.Decode(r)
}

// encodeSeqNumSet encodes the set as a big-endian count followed by the
// individual sequence numbers, in no particular order.
func encodeSeqNumSet(w io.Writer, val interface{}, buf *[8]byte) error {
	if v, ok := val.(seqNumSet); ok {
		err := binary.Write(w, binary.BigEndian, uint32(len(v)))
		if err != nil {
			return err
		}

		for seqNum := range v {
			err := binary.Write(w, binary.BigEndian, seqNum)
			if err != nil {
				return err
			}
		}

		return nil
	}

	return tlv.NewTypeForEncodingErr(val, "seqNumSet")
}

// decodeSeqNumSet decodes a set encoded by encodeSeqNumSet.
func decodeSeqNumSet(r io.Reader, val interface{}, buf *[8]byte,
	l uint64) error {

	if v, ok := val.(seqNumSet); ok {
		// First read the number of elements in the set.
		var count uint32
		err := binary.Read(r, binary.BigEndian, &count)
		if err != nil {
			return err
		}

		// Then read all sequence numbers.
		for i := uint32(0); i < count; i++ {
			var seqNum uint16
			err := binary.Read(r, binary.BigEndian, &seqNum)
			if err != nil {
				return err
			}

			v[seqNum] = struct{}{}
		}

		return nil
	}

	return tlv.NewTypeForDecodingErr(val, "seqNumSet", l, l)
}

// Record returns a TLV record that can be used to encode/decode a seqNumSet
// to/from a TLV stream.
//
// NOTE: Needs to be defined as a value receiver, otherwise the encoder and
// decoder will fail the type check.
func (s seqNumSet) Record() tlv.Record {
	recordSize := func() uint64 {
		var (
			b   bytes.Buffer
			buf [8]byte
		)
		if err := encodeSeqNumSet(&b, s, &buf); err != nil {
			panic(err)
		}

		return uint64(len(b.Bytes()))
	}

	return tlv.MakeDynamicRecord(
		0, s, recordSize, encodeSeqNumSet, decodeSeqNumSet,
	)
}
