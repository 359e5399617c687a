package sphinx

import (
	"github.com/btcsuite/btcd/btcec/v2"
)

const (
	// NumMaxHops is the maximum path length. The routing info block of a
	// payment onion holds 1300 bytes, and the protocol caps routes at 20
	// hops, which is also exactly the number of legacy 65 byte frames
	// that fit into the block.
	NumMaxHops = 20
)

// PaymentPath represents a series of hops within the Lightning Network
// starting at a sender and terminating at a receiver. Each hop contains a set
// of mandatory data which contains forwarding instructions for that hop. The
// payloads of the individual hops may vary in size, as long as they all fit
// into the routing info block of the packet together.
type PaymentPath [NumMaxHops]OnionHop

// OnionHop represents an abstract hop (a link between two nodes) within the
// Lightning Network. A hop is composed of the incoming node (able to decrypt
// the encrypted routing information), and the routing information itself.
type OnionHop struct {
	// NodePub is the target node for this hop. The payload will enter this
	// hop, it'll decrypt the routing information, and hand off the
	// internal packet to the next hop.
	NodePub btcec.PublicKey

	// HopPayload is the opaque payload provided to this node. Legacy
	// forwarding instructions (HopData) are packed into this payload using
	// the legacy encoding.
	HopPayload HopPayload
}

// IsEmpty returns true if the hop isn't populated.
func (o OnionHop) IsEmpty() bool {
	return o.NodePub.X().BitLen() == 0 || o.NodePub.Y().BitLen() == 0
}

// NodeKeys returns a slice pointing to node keys that this route comprises of.
// The size of the returned slice will be TrueRouteLength().
func (p *PaymentPath) NodeKeys() []*btcec.PublicKey {
	var nodeKeys [NumMaxHops]*btcec.PublicKey

	routeLen := p.TrueRouteLength()
	for i := 0; i < routeLen; i++ {
		nodeKeys[i] = &p[i].NodePub
	}

	return nodeKeys[:routeLen]
}

// TrueRouteLength returns the "true" length of the PaymentPath. The max
// payment path is NumMaxHops size, but in practice routes are much smaller.
// This method will return the number of actual hops (nodes) involved in this
// route. For references, a direct path has a length of 1, path through an
// intermediate node has a length of 2 (3 nodes involved).
func (p *PaymentPath) TrueRouteLength() int {
	var routeLength int
	for _, hop := range p {
		// When we hit the first empty hop, we know we're now in the
		// zero'd out portion of the array.
		if hop.IsEmpty() {
			return routeLength
		}

		routeLength++
	}

	return routeLength
}

// TotalPayloadSize returns the sum of the size of each payload in the "true"
// route.
func (p *PaymentPath) TotalPayloadSize() int {
	var totalSize int
	for _, hop := range p {
		if hop.IsEmpty() {
			continue
		}

		totalSize += hop.HopPayload.NumBytes()
	}

	return totalSize
}

// validateSanity checks that the route is non-empty, that every payload obeys
// its framing rules, and that the accumulated frames fit into a routing info
// block of the passed size.
func (p *PaymentPath) validateSanity(routingInfoSize int) error {
	numHops := p.TrueRouteLength()
	if numHops == 0 {
		return ErrZeroHops
	}

	for i := 0; i < numHops; i++ {
		if err := p[i].HopPayload.sanityCheck(); err != nil {
			return err
		}
	}

	if p.TotalPayloadSize() > routingInfoSize {
		return ErrMaxRoutingInfoSizeExceeded
	}

	return nil
}
