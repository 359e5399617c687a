package sphinx

import (
	"crypto/rand"

	"github.com/btcsuite/btcd/btcec/v2"
)

// PacketFiller is a function type to be specified by the caller that is able
// to populate the initial routing info block of the packet. The contents of
// the block are overwritten hop by hop during packet construction, but any
// space unused by the route's payloads retains whatever the filler wrote, so
// the filler determines what the final hop's "unused" region looks like on
// the wire.
type PacketFiller func(*btcec.PrivateKey, []byte) error

// RandPacketFiller is a packet filler that reads a set of random bytes from a
// CSPRNG.
func RandPacketFiller(_ *btcec.PrivateKey, routingInfo []byte) error {
	// Read out random bytes to fill out the rest of the starting packet
	// after the hop payload for the final node.
	if _, err := rand.Read(routingInfo); err != nil {
		return err
	}

	return nil
}

// BlankPacketFiller is a packet filler that doesn't attempt to fill out the
// packet at all. It should ONLY be used for generating test vectors or other
// instances that required deterministic packet generation.
func BlankPacketFiller(_ *btcec.PrivateKey, _ []byte) error {
	return nil
}

// DeterministicPacketFiller is a packet filler that generates a deterministic
// set of filler bytes by using chacha20 with a key derived from the session
// key. This can be used to ensure a crafted packet can be recreated from only
// the session key and the route, while remaining indistinguishable from
// ciphertext to every hop.
func DeterministicPacketFiller(sessionKey *btcec.PrivateKey,
	routingInfo []byte) error {

	// First, we'll generate a new key that'll be used to generate some
	// random bytes for our padding purposes. To derive this new key, we
	// essentially calculate: HMAC("pad", sessionKey).
	var sessionKeyBytes Hash256
	copy(sessionKeyBytes[:], sessionKey.Serialize())
	paddingKey := generateKey("pad", &sessionKeyBytes)

	// Now that we have our target key, we'll use chacha20 to generate a
	// series of random bytes directly into the passed routing info block.
	paddingBytes := generateCipherStream(
		paddingKey, uint(len(routingInfo)),
	)
	copy(routingInfo, paddingBytes)

	zero(sessionKeyBytes[:])
	zero(paddingKey[:])

	return nil
}
