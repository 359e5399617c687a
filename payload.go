package sphinx

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/btcsuite/btcd/wire"
)

// PayloadType denotes the type of the payload included in the onion packet.
// Serialization of a raw HopPayload will depend on the payload type, as some
// include a varint length prefix, while others just encode the raw payload.
type PayloadType uint8

const (
	// PayloadLegacy is the legacy payload type. It includes a fixed 32
	// bytes, 12 of which are padding, and uses a "zero length" (the old
	// realm) prefix.
	PayloadLegacy PayloadType = iota

	// PayloadTLV is the new modern TLV based format. This payload includes
	// a set of opaque bytes with a varint length prefix. The varint used
	// is the BigSize format of BOLT-01.
	PayloadTLV
)

// HopPayload is a slice of bytes and associated payload-type that are destined
// for a specific hop in the PaymentPath. The payload itself is treated as an
// opaque data field by the onion router. The included Type field informs the
// serialization/deserialziation of the raw payload.
type HopPayload struct {
	// Type is the type of the payload.
	Type PayloadType

	// Payload is the raw bytes of the per-hop payload for this hop.
	// Depending on the realm, this pay be the regular legacy hop data, or
	// a set of opaque blobs to be parsed by higher layers.
	Payload []byte

	// HMAC is an HMAC computed over the entire per-hop payload that also
	// includes the higher-level (optional) associated data bytes.
	HMAC [HMACSize]byte
}

// NewHopPayload creates a new hop payload given an optional set of forwarding
// instructions for a hop, and a set of optional opaque extra onion bytes to
// drop off at the target hop. If both values are not specified, then an error
// is returned.
func NewHopPayload(hopData *HopData, eob []byte) (HopPayload, error) {
	var (
		h HopPayload
		b bytes.Buffer
	)

	// We can't proceed if neither the hop data or the EOB has been
	// specified by the caller.
	switch {
	case hopData == nil && len(eob) == 0:
		return h, fmt.Errorf("either hop data or eob must " +
			"be specified")

	case hopData != nil && len(eob) > 0:
		return h, fmt.Errorf("cannot provide both hop data AND an eob")
	}

	// If the hop data is specified, then we'll write that now, as it
	// should proceed the EOB portion of the payload.
	if hopData != nil {
		if err := hopData.Encode(&b); err != nil {
			return h, err
		}

		// We'll also mark that this particular hop will be using the
		// legacy format as the modern format packs the existing hop
		// data information into the EOB space as a TLV stream.
		h.Type = PayloadLegacy
	} else {
		// Otherwise, we'll write out the raw EOB which contains a set
		// of opaque bytes that the recipient can decode to make a
		// forwarding decision.
		if _, err := b.Write(eob); err != nil {
			return h, err
		}

		h.Type = PayloadTLV
	}

	h.Payload = b.Bytes()

	return h, nil
}

// NewTLVHopPayload creates a new TLV encoded HopPayload. The payload will be
// a TLV encoded stream that will contain forwarding instructions for a hop.
func NewTLVHopPayload(payload []byte) (HopPayload, error) {
	return NewHopPayload(nil, payload)
}

// NewLegacyHopPayload creates a new hop payload given a set of forwarding
// instructions specified as HopData for a hop. This is the legacy encoding
// for a HopPayload.
func NewLegacyHopPayload(hopData *HopData) (HopPayload, error) {
	return NewHopPayload(hopData, nil)
}

// NumBytes returns the number of bytes it will take to serialize the full
// payload. Depending on the payload type, this may include some additional
// signalling bytes.
func (hp *HopPayload) NumBytes() int {
	if hp.Type == PayloadLegacy {
		return legacyNumBytes()
	}

	return tlvNumBytes(len(hp.Payload))
}

// Encode encodes the hop payload into the passed writer.
func (hp *HopPayload) Encode(w io.Writer) error {
	if hp.Type == PayloadLegacy {
		return encodeLegacyHopPayload(hp, w)
	}

	return encodeTLVHopPayload(hp, w)
}

// Decode unpacks an encoded HopPayload from the passed reader into the target
// HopPayload.
func (hp *HopPayload) Decode(r io.Reader) error {
	bufReader := bufio.NewReader(r)

	// In order to properly parse the payload, we'll need to check the
	// first byte. We'll use a bufio reader to peek at it without consuming
	// it from the buffer.
	peekByte, err := bufReader.Peek(1)
	if err != nil {
		return err
	}

	var (
		legacyPayload = isLegacyPayloadByte(peekByte[0])
		payloadSize   uint16
	)

	if legacyPayload {
		payloadSize = legacyPayloadSize()
		hp.Type = PayloadLegacy
	} else {
		payloadSize, err = tlvPayloadSize(bufReader)
		if err != nil {
			return err
		}

		hp.Type = PayloadTLV
	}

	// Now that we know the payload size, we'll create a new buffer to
	// read it out in full.
	hp.Payload = make([]byte, payloadSize)
	if _, err := io.ReadFull(bufReader, hp.Payload[:]); err != nil {
		return err
	}
	if _, err := io.ReadFull(bufReader, hp.HMAC[:]); err != nil {
		return err
	}

	return nil
}

// HopData attempts to extract a set of forwarding instructions from the
// target HopPayload. Payloads using the TLV encoding return nil, as their
// contents are opaque at this layer and are to be parsed by the caller.
func (hp *HopPayload) HopData() (*HopData, error) {
	// The HopData can only be extracted at this layer for payloads using
	// the legacy encoding.
	if hp.Type != PayloadLegacy {
		return nil, nil
	}

	var (
		payloadReader = bytes.NewReader(hp.Payload)
		hd            HopData
	)
	if err := hd.Decode(payloadReader); err != nil {
		return nil, err
	}

	return &hd, nil
}

// sanityCheck enforces the framing rules a payload must obey before it can be
// packed into an onion: a legacy payload must exactly fill its fixed frame,
// and a TLV payload must be non-empty so its length prefix can't collide with
// the legacy realm byte.
func (hp *HopPayload) sanityCheck() error {
	switch {
	case hp.Type == PayloadLegacy &&
		len(hp.Payload) != int(legacyPayloadSize()):

		return fmt.Errorf("%w: legacy payload of %v bytes, expected "+
			"%v", ErrInvalidPayload, len(hp.Payload),
			legacyPayloadSize())

	case hp.Type == PayloadTLV && len(hp.Payload) == 0:
		return fmt.Errorf("%w: empty tlv payload", ErrInvalidPayload)

	default:
		return nil
	}
}

// HopPayloadSize returns the total number of bytes that the per-hop payload
// starting at the passed reader occupies within the routing info block. This
// includes the length prefix itself as well as the trailing HMAC. The mapping
// is determined solely by the first length prefix: a leading 0x00 denotes the
// fixed-size legacy frame, any other prefix is a BigSize integer giving the
// number of payload bytes that follow it.
func HopPayloadSize(r io.Reader) (uint64, error) {
	bufReader := bufio.NewReader(r)

	peekByte, err := bufReader.Peek(1)
	if err != nil {
		return 0, err
	}

	if isLegacyPayloadByte(peekByte[0]) {
		return LegacyHopDataSize, nil
	}

	var b [8]byte
	payloadLen, err := ReadVarInt(bufReader, &b)
	if err != nil {
		return 0, err
	}

	prefixSize := uint64(wire.VarIntSerializeSize(payloadLen))

	return prefixSize + payloadLen + HMACSize, nil
}

// tlvPayloadSize uses the passed reader to extract the payload length encoded
// as a var-int.
func tlvPayloadSize(r io.Reader) (uint16, error) {
	var b [8]byte
	varInt, err := ReadVarInt(r, &b)
	if err != nil {
		return 0, err
	}

	if varInt > math.MaxUint16 {
		return 0, fmt.Errorf("payload size of %d is larger than the "+
			"maximum allowed size of %d", varInt, math.MaxUint16)
	}

	return uint16(varInt), nil
}

// tlvNumBytes takes the length of the payload and returns the number of bytes
// that it would take to serialise such a payload. For the TLV type encoding,
// the payload length itself would be encoded as a var-int, this is then
// followed by the payload itself and finally an HMAC would be appended.
func tlvNumBytes(payloadLen int) int {
	return wire.VarIntSerializeSize(uint64(payloadLen)) + payloadLen +
		HMACSize
}

// encodeTLVHopPayload takes a HopPayload and writes it to the given writer
// using the TLV encoding which requires the payload and HMAC to be pre-fixed
// with a var-int encoded length.
func encodeTLVHopPayload(hp *HopPayload, w io.Writer) error {
	// First, the length of the payload is encoded as a var-int.
	var b [8]byte
	err := WriteVarInt(w, uint64(len(hp.Payload)), &b)
	if err != nil {
		return err
	}

	// Then, the raw payload and he HMAC are written in series.
	if _, err := w.Write(hp.Payload); err != nil {
		return err
	}

	_, err = w.Write(hp.HMAC[:])

	return err
}

// HopData is the information destined for individual hops. It encodes to a
// fixed 33 bytes: a 1 byte realm that indicates how to interpret it, followed
// by 32 bytes of forwarding instructions and padding. For now we simply
// assume it's the bitcoin realm (0x00) and hence the format is fixed. Within
// the onion the 32 byte HMAC for the next hop follows it, giving the 65 byte
// legacy frame; that HMAC is zero if this is the last hop.
type HopData struct {
	// Realm denotes the "real" of target chain of the next hop. For
	// bitcoin, this value will be 0x00.
	Realm [RealmByteSize]byte

	// NextAddress is the address of the next hop that this packet should
	// be forward to.
	NextAddress [AddressSize]byte

	// ForwardAmount is the HTLC amount that the next hop should forward.
	// This value should take into account the fee require by this
	// particular hop, and the cumulative fee for the entire route.
	ForwardAmount uint64

	// OutgoingCltv is the value of the outgoing absolute time-lock that
	// should be included in the HTLC forwarded.
	OutgoingCltv uint32

	// ExtraBytes is the set of unused bytes within the onion payload. This
	// extra set of bytes are reserved for future use, and are zero for
	// ordinary forwarding instructions.
	ExtraBytes [NumPaddingBytes]byte
}

// Encode writes the serialized version of the target HopData into the passed
// io.Writer.
func (hd *HopData) Encode(w io.Writer) error {
	if _, err := w.Write(hd.Realm[:]); err != nil {
		return err
	}

	if _, err := w.Write(hd.NextAddress[:]); err != nil {
		return err
	}

	err := binary.Write(w, binary.BigEndian, hd.ForwardAmount)
	if err != nil {
		return err
	}

	err = binary.Write(w, binary.BigEndian, hd.OutgoingCltv)
	if err != nil {
		return err
	}

	if _, err := w.Write(hd.ExtraBytes[:]); err != nil {
		return err
	}

	return nil
}

// Decode populates the target HopData with the contents of a serialized
// HopData packed into the passed io.Reader.
func (hd *HopData) Decode(r io.Reader) error {
	if _, err := io.ReadFull(r, hd.Realm[:]); err != nil {
		return err
	}

	if _, err := io.ReadFull(r, hd.NextAddress[:]); err != nil {
		return err
	}

	err := binary.Read(r, binary.BigEndian, &hd.ForwardAmount)
	if err != nil {
		return err
	}

	err = binary.Read(r, binary.BigEndian, &hd.OutgoingCltv)
	if err != nil {
		return err
	}

	_, err = io.ReadFull(r, hd.ExtraBytes[:])
	return err
}

// legacyPayloadSize returns the size of payloads encoded using the legacy
// fixed-size encoding.
func legacyPayloadSize() uint16 {
	return LegacyHopDataSize - HMACSize
}

// legacyNumBytes returns the number of bytes it will take to serialize the
// full payload. For the legacy encoding type, this is always a fixed number.
func legacyNumBytes() int {
	return LegacyHopDataSize
}

// isLegacyPayloadByte returns true if the given byte is equal to the 0x00
// byte which indicates that the payload should be decoded as a legacy payload.
func isLegacyPayloadByte(b byte) bool {
	return b == 0x00
}

// encodeLegacyHopPayload takes a HopPayload and writes it to the given writer
// using the legacy encoding.
func encodeLegacyHopPayload(hp *HopPayload, w io.Writer) error {
	// The raw payload and he HMAC are written in series.
	if _, err := w.Write(hp.Payload); err != nil {
		return err
	}

	_, err := w.Write(hp.HMAC[:])

	return err
}
