package sphinx

import (
	"bytes"
	"crypto/hmac"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
)

const (
	// AddressSize is the length of the serialized address used to uniquely
	// identify the next hop to forward the onion to. BOLT 04 defines this
	// as 8 byte channel_id.
	AddressSize = 8

	// RealmByteSize is the number of bytes that the realm byte occupies.
	RealmByteSize = 1

	// AmtForwardSize is the number of bytes that the amount to forward
	// occupies.
	AmtForwardSize = 8

	// OutgoingCLTVSize is the number of bytes that the outgoing CLTV value
	// occupies.
	OutgoingCLTVSize = 4

	// NumPaddingBytes is the number of padding bytes in the legacy hop
	// data. These bytes are unused within the protocol and are reserved
	// for future use.
	NumPaddingBytes = 12

	// LegacyHopDataSize is the fixed size of hop_data. BOLT 04 currently
	// specifies this to be 1 byte realm, 8 byte channel_id, 8 byte amount
	// to forward, 4 byte outgoing CLTV value, 12 bytes padding and 32
	// bytes HMAC for a total of 65 bytes per hop.
	LegacyHopDataSize = (RealmByteSize + AddressSize + AmtForwardSize +
		OutgoingCLTVSize + NumPaddingBytes + HMACSize)

	// PaymentRoutingInfoSize is the fixed size of the encrypted routing
	// info block within a payment onion. Together with the version byte,
	// the ephemeral key and the HMAC this yields the 1366 byte packet
	// exchanged between peers.
	PaymentRoutingInfoSize = 1300

	// TrampolineRoutingInfoSize is the fixed size of the encrypted routing
	// info block within a trampoline onion. Trampoline onions travel
	// inside the payloads of an outer payment onion and are therefore
	// much smaller.
	TrampolineRoutingInfoSize = 400

	// baseVersion represent the current supported version of onion packet.
	baseVersion = 0
)

// packetCfg bundles the construction-time parameters of an onion packet.
type packetCfg struct {
	routingInfoSize int
}

// PacketOption is a functional option that modifies how an onion packet is
// constructed.
type PacketOption func(*packetCfg)

// WithRoutingInfoSize overrides the size of the encrypted routing info block
// of the constructed packet. The default is PaymentRoutingInfoSize; callers
// building trampoline onions pass TrampolineRoutingInfoSize. Both widths
// share a single construction and processing path.
func WithRoutingInfoSize(size int) PacketOption {
	return func(cfg *packetCfg) {
		cfg.routingInfoSize = size
	}
}

// OnionPacket is the onion wrapped hop-to-hop routing information necessary to
// propagate a message through the mix-net without intermediate nodes having
// knowledge of their position within the route, the source, the destination,
// and finally the identities of the past/future nodes in the route. At each
// hop the ephemeral key is used by the node to perform ECDH between itself and
// the source node. This derived secret key is used to check the MAC of the
// entire mix header, decrypt the next set of routing information, and
// re-randomize the ephemeral key for the next node in the path. This per-hop
// re-randomization allows us to only propagate a single group element through
// the onion route.
type OnionPacket struct {
	// Version denotes the version of this onion packet. The version
	// indicates how a receiver of the packet should interpret the bytes
	// following this version byte. Currently, a version of 0x00 is the
	// only defined version type.
	Version byte

	// EphemeralKey is the public key that each hop will used in
	// combination with the private key in an ECDH to derive the shared
	// secret used to check the HMAC on the packet and also decrypted the
	// routing information.
	EphemeralKey *btcec.PublicKey

	// RoutingInfo is the full routing information for this onion packet.
	// This encodes all the forwarding instructions for this current hop
	// and all the hops in the route. Its length is the routing info size
	// the packet was constructed with and stays constant at every hop.
	RoutingInfo []byte

	// HeaderMAC is an HMAC computed with the shared secret of the routing
	// data and the associated data for this route. Including the
	// associated data lets each hop authenticate higher-level data that is
	// critical for the forwarding of this HTLC.
	HeaderMAC [HMACSize]byte
}

// NewOnionPacket creates a new onion packet which is capable of obliviously
// routing a message through the mix-net path outlined by 'paymentPath'. The
// packetFiller determines the contents of the region of the routing info
// block not consumed by the route's payloads.
func NewOnionPacket(paymentPath *PaymentPath, sessionKey *btcec.PrivateKey,
	assocData []byte, packetFiller PacketFiller,
	opts ...PacketOption) (*OnionPacket, error) {

	cfg := &packetCfg{
		routingInfoSize: PaymentRoutingInfoSize,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	routingInfoSize := cfg.routingInfoSize
	if routingInfoSize <= 0 {
		return nil, ErrNegativeRoutingInfoSize
	}

	// Reject malformed payloads and routes that cannot fit into the
	// routing info block before doing any expensive crypto operations.
	if err := paymentPath.validateSanity(routingInfoSize); err != nil {
		return nil, err
	}

	numHops := paymentPath.TrueRouteLength()

	hopSharedSecrets, err := generateSharedSecrets(
		paymentPath.NodeKeys(), sessionKey,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSharedSecretDerivation,
			err)
	}
	defer func() {
		for i := range hopSharedSecrets {
			zero(hopSharedSecrets[i][:])
		}
	}()

	// Generate the padding, called "filler strings" in the paper.
	filler := generateHeaderPadding(
		"rho", paymentPath, hopSharedSecrets, routingInfoSize,
	)

	// Allocate zero'd out byte slices to store the final mix header packet
	// and the hmac for each hop.
	var (
		nextHmac      [HMACSize]byte
		hopPayloadBuf bytes.Buffer
	)
	mixHeader := make([]byte, routingInfoSize)

	// Fill the packet using the caller's preferred strategy, so the
	// region beyond the final hop's payload is indistinguishable from the
	// layered ciphertext surrounding it.
	if err := packetFiller(sessionKey, mixHeader); err != nil {
		return nil, err
	}

	// Now we compute the routing information for each hop, along with a
	// MAC of the routing info using the shared key for that hop.
	for i := numHops - 1; i >= 0; i-- {
		// We'll derive the two keys we need for each hop in order to:
		// generate our stream cipher bytes for the mixHeader, and
		// calculate the MAC over the entire constructed packet.
		rhoKey := generateKey("rho", &hopSharedSecrets[i])
		muKey := generateKey("mu", &hopSharedSecrets[i])

		// The HMAC for the final hop is simply zeroes. This allows the
		// last hop to recognize that it is the destination for a
		// particular payment.
		paymentPath[i].HopPayload.HMAC = nextHmac

		// Next, using the key dedicated for our stream cipher, we'll
		// generate enough bytes to obfuscate this layer of the onion
		// packet.
		streamBytes := generateCipherStream(
			rhoKey, uint(routingInfoSize),
		)

		// Before we assemble the packet, we'll shift the current
		// mix-header to the right in order to make room for this next
		// per-hop data.
		shiftSize := paymentPath[i].HopPayload.NumBytes()
		rightShift(mixHeader, shiftSize)

		err := paymentPath[i].HopPayload.Encode(&hopPayloadBuf)
		if err != nil {
			return nil, err
		}

		copy(mixHeader, hopPayloadBuf.Bytes())

		// Once the packet for this hop has been assembled, we'll
		// re-encrypt the packet by XOR'ing with a stream of bytes
		// generated using our shared secret.
		xor(mixHeader, mixHeader, streamBytes)

		// If this is the "last" hop, then we'll override the tail of
		// the hop data with the filler. Every upstream hop's XOR layer
		// transforms these bytes into exactly the keystream tail the
		// processing hop re-creates when it unwraps its layer.
		if i == numHops-1 {
			copy(mixHeader[len(mixHeader)-len(filler):], filler)
		}

		// The packet for this hop consists of: mixHeader. When
		// calculating the MAC, we'll also include the optional
		// associated data which can allow higher level applications to
		// prevent replay attacks.
		packet := append(mixHeader, assocData...)
		nextHmac = calcMac(muKey, packet)

		hopPayloadBuf.Reset()
		zero(rhoKey[:])
		zero(muKey[:])
		zero(streamBytes)
	}

	zero(filler)

	return &OnionPacket{
		Version:      baseVersion,
		EphemeralKey: sessionKey.PubKey(),
		RoutingInfo:  mixHeader,
		HeaderMAC:    nextHmac,
	}, nil
}

// rightShift shifts the byte-slice by the given number of bytes to the right
// and 0-fill the resulting gap.
func rightShift(slice []byte, num int) {
	for i := len(slice) - num - 1; i >= 0; i-- {
		slice[num+i] = slice[i]
	}

	for i := 0; i < num; i++ {
		slice[i] = 0
	}
}

// generateHeaderPadding derives the bytes for padding the mix header to
// ensure it remains fixed sized throughout route transit. At each step, we
// add the current hop's frame size worth of padding of zeroes, concatenate it
// to the previous filler, then decrypt it (XOR) with the secret key of the
// current hop. When encrypting the mix header we essentially do the reverse
// of this operation: we "encrypt" the padding, and drop the final hop's
// frames worth of bytes. As nodes process the mix header they add the padding
// in order to check the MAC and decrypt the next routing information,
// eventually leaving only the original "filler" bytes produced by this
// function at the last hop. Using this methodology, the size of the field
// stays constant at each hop.
func generateHeaderPadding(key string, path *PaymentPath,
	sharedSecrets []Hash256, routingInfoSize int) []byte {

	numHops := path.TrueRouteLength()

	// We have to generate a filler that matches all but the last hop (the
	// last hop won't generate an HMAC for the next hop).
	fillerSize := 0
	for i := 0; i < numHops-1; i++ {
		fillerSize += path[i].HopPayload.NumBytes()
	}
	filler := make([]byte, fillerSize)

	for i := 0; i < numHops-1; i++ {
		// Sum up how many bytes were used by prior hops.
		fillerStart := routingInfoSize
		for _, p := range path[:i] {
			fillerStart -= p.HopPayload.NumBytes()
		}

		// The filler is the part dangling off of the end of the
		// routingInfo, so offset it from there, and use the current
		// hop's frame size as its size.
		fillerEnd := routingInfoSize + path[i].HopPayload.NumBytes()

		streamKey := generateKey(key, &sharedSecrets[i])
		streamBytes := generateCipherStream(
			streamKey, uint(2*routingInfoSize),
		)

		xor(filler, filler, streamBytes[fillerStart:fillerEnd])

		zero(streamKey[:])
		zero(streamBytes)
	}

	return filler
}

// Encode serializes the raw bytes of the onion packet into the passed
// io.Writer. The form encoded within the passed io.Writer is suitable for
// either storing on disk, or sending over the network.
func (f *OnionPacket) Encode(w io.Writer) error {
	ephemeral := f.EphemeralKey.SerializeCompressed()

	if _, err := w.Write([]byte{f.Version}); err != nil {
		return err
	}

	if _, err := w.Write(ephemeral); err != nil {
		return err
	}

	if _, err := w.Write(f.RoutingInfo); err != nil {
		return err
	}

	if _, err := w.Write(f.HeaderMAC[:]); err != nil {
		return err
	}

	return nil
}

// Decode fully populates the target OnionPacket from the raw bytes encoded
// within the io.Reader. The routing info size of the packet is recovered from
// the total length of the stream, so one decoding path serves both payment
// and trampoline sized packets. In the case of any decoding errors, an error
// will be returned. If the method succeeds, then the new OnionPacket is ready
// to be processed by an instance of the Router.
func (f *OnionPacket) Decode(r io.Reader) error {
	var err error

	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	f.Version = buf[0]

	// If version of the onion packet protocol unknown for us than in might
	// lead to improperly decoded data.
	if f.Version != baseVersion {
		return ErrInvalidOnionVersion
	}

	var ephemeral [33]byte
	if _, err := io.ReadFull(r, ephemeral[:]); err != nil {
		return err
	}
	f.EphemeralKey, err = btcec.ParsePubKey(ephemeral[:])
	if err != nil {
		return ErrInvalidOnionKey
	}

	// The remainder of the packet is the routing info block followed by
	// the packet level HMAC.
	body, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if len(body) < HMACSize {
		return ErrMissingHMAC
	}

	f.RoutingInfo = body[:len(body)-HMACSize]
	copy(f.HeaderMAC[:], body[len(body)-HMACSize:])

	return nil
}

// unwrapPacket strips a layer off the passed onion packet using the specified
// shared secret and associated data. The associated data will be used to check
// the HMAC at each hop to ensure the same data is passed along with the onion
// packet. This function returns the next inner onion packet layer, along with
// the hop payload extracted from the outer onion packet.
func unwrapPacket(onionPkt *OnionPacket, sharedSecret *Hash256,
	assocData []byte) (*OnionPacket, *HopPayload, error) {

	dhKey := onionPkt.EphemeralKey
	routeInfo := onionPkt.RoutingInfo
	headerMac := onionPkt.HeaderMAC
	routingInfoSize := len(routeInfo)

	// Using the derived shared secret, ensure the integrity of the routing
	// information by checking the attached MAC without leaking timing
	// information.
	message := make([]byte, 0, routingInfoSize+len(assocData))
	message = append(message, routeInfo...)
	message = append(message, assocData...)

	muKey := generateKey("mu", sharedSecret)
	calculatedMac := calcMac(muKey, message)
	zero(muKey[:])
	if !hmac.Equal(headerMac[:], calculatedMac[:]) {
		return nil, nil, ErrInvalidOnionHMAC
	}

	// Attach the padding zeroes in order to properly strip an encryption
	// layer off the routing info revealing the routing information for the
	// next hop.
	rhoKey := generateKey("rho", sharedSecret)
	streamBytes := generateCipherStream(rhoKey, uint(2*routingInfoSize))

	headerWithPadding := make([]byte, 2*routingInfoSize)
	copy(headerWithPadding, routeInfo)

	hopInfo := make([]byte, 2*routingInfoSize)
	xor(hopInfo, headerWithPadding, streamBytes)

	zero(rhoKey[:])
	zero(streamBytes)

	// With the MAC checked, and the payload decrypted, we can now parse
	// out this hop's payload so we can derive the specified forwarding
	// instructions.
	var hopPayload HopPayload
	if err := hopPayload.Decode(bytes.NewReader(hopInfo)); err != nil {
		return nil, nil, err
	}

	// Randomize the DH group element for the next hop using the
	// deterministic blinding factor.
	blindingFactor := computeBlindingFactor(dhKey, sharedSecret[:])
	nextDHKey := blindGroupElement(dhKey, blindingFactor)

	// With the necessary items extracted, we'll copy of the onion packet
	// for the next node, snipping off our per-hop data.
	nextMixHeader := make([]byte, routingInfoSize)
	copy(nextMixHeader, hopInfo[hopPayload.NumBytes():])
	innerPkt := &OnionPacket{
		Version:      onionPkt.Version,
		EphemeralKey: nextDHKey,
		RoutingInfo:  nextMixHeader,
		HeaderMAC:    hopPayload.HMAC,
	}

	return innerPkt, &hopPayload, nil
}
