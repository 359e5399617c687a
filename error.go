package sphinx

import "errors"

var (
	// ErrReplayedPacket is an error returned when a packet is rejected
	// during processing due to being an attempted replay or probing
	// attempt.
	ErrReplayedPacket = errors.New("sphinx packet replay attempted")

	// ErrInvalidOnionVersion is returned during decoding of the onion
	// packet, when the received packet has an unknown version byte.
	ErrInvalidOnionVersion = errors.New("invalid onion packet version")

	// ErrInvalidOnionHMAC is returned during onion parsing process, when
	// received mac does not corresponds to the generated one.
	ErrInvalidOnionHMAC = errors.New("invalid mismatched mac")

	// ErrInvalidOnionKey is returned during onion parsing process, when
	// onion key is invalid.
	ErrInvalidOnionKey = errors.New("invalid onion key: pubkey isn't on " +
		"secp256k1 curve")

	// ErrLogEntryNotFound is an error returned when a packet lookup in a
	// replay log fails because it is missing.
	ErrLogEntryNotFound = errors.New("sphinx packet is not in log")

	// ErrAlreadyCommitted signals that an entry could not be added to the
	// batch because it has already been persisted.
	ErrAlreadyCommitted = errors.New("cannot add to batch after committing")

	// ErrSharedSecretDerivation is returned when we fail to derive the
	// shared secret for a hop.
	ErrSharedSecretDerivation = errors.New("error generating shared secret")

	// ErrMissingHMAC is returned when the onion packet is too small to
	// contain a valid HMAC.
	ErrMissingHMAC = errors.New("onion packet is too small, missing HMAC")

	// ErrNegativeRoutingInfoSize is returned when a non-positive routing
	// info size is requested for an onion packet.
	ErrNegativeRoutingInfoSize = errors.New("routing info size must be " +
		"positive")

	// ErrZeroHops is returned when attempting to create a route with zero
	// hops.
	ErrZeroHops = errors.New("route of length zero passed in")

	// ErrMaxRoutingInfoSizeExceeded is returned when the accumulated size
	// of the per-hop payloads does not fit into the routing info block of
	// the onion packet.
	ErrMaxRoutingInfoSizeExceeded = errors.New(
		"max routing info size exceeded")

	// ErrInvalidPayload is returned when a hop payload fails the
	// construction-time sanity checks: a legacy payload whose length
	// disagrees with its fixed frame, or an empty TLV payload whose
	// length prefix would collide with the legacy realm byte.
	ErrInvalidPayload = errors.New("invalid hop payload")
)
