package sphinx

import (
	"bytes"

	"github.com/btcsuite/btcd/btcec/v2"
)

// ProcessCode is an enum-like type which describes to the high-level package
// user which action should be taken after processing a Sphinx packet.
type ProcessCode int

const (
	// ExitNode indicates that the node which processed the Sphinx packet
	// is the destination hop in the route.
	ExitNode = iota

	// MoreHops indicates that there are additional hops left within the
	// route. Therefore the caller should forward the packet to the node
	// denoted as the "NextHop".
	MoreHops

	// Failure indicates that a failure occurred during packet processing.
	Failure
)

// String returns a human readable string for each of the ProcessCodes.
func (p ProcessCode) String() string {
	switch p {
	case ExitNode:
		return "ExitNode"
	case MoreHops:
		return "MoreHops"
	case Failure:
		return "Failure"
	default:
		return "Unknown"
	}
}

// ProcessedPacket encapsulates the resulting state generated after processing
// an OnionPacket. A processed packet communicates to the caller what action
// should be taken after processing.
type ProcessedPacket struct {
	// Action represents the action the caller should take after processing
	// the packet.
	Action ProcessCode

	// Payload is the per-hop payload recovered from the onion packet for
	// this hop. Its opaque bytes detail how the packet should be forwarded
	// or settled, to be interpreted by higher layers.
	Payload HopPayload

	// ForwardingInstructions is the parsed set of forwarding instructions
	// for this hop.
	//
	// NOTE: This field will only be populated iff the Payload uses the
	// legacy encoding.
	ForwardingInstructions *HopData

	// SharedSecret is the secret this node shares with the originator of
	// the packet. The caller needs to hold on to it in order to encrypt a
	// failure for the return path should this hop fail the payment.
	SharedSecret Hash256

	// NextPacket is the onion packet that should be forwarded to the next
	// hop when the above Action is MoreHops.
	//
	// NOTE: This field is populated for every successfully processed
	// packet. At the exit node its HeaderMAC is all zeroes.
	NextPacket *OnionPacket
}

// Router is an onion router within the Sphinx network. The router is capable
// of processing incoming Sphinx onion packets thereby "peeling" a layer off
// the onion encryption which the packet is wrapped with.
type Router struct {
	onionKey SingleKeyECDH

	log ReplayLog
}

// NewRouter creates a new instance of a Sphinx onion Router given the node's
// currently advertised onion private key, and the replay log to mark
// processed packets in.
func NewRouter(nodeKey SingleKeyECDH, log ReplayLog) *Router {
	return &Router{
		onionKey: nodeKey,
		log:      log,
	}
}

// Start starts / opens the ReplayLog's channeldb and its accompanying
// garbage collector goroutine.
func (r *Router) Start() error {
	return r.log.Start()
}

// Stop stops / closes the ReplayLog's channeldb and its accompanying
// garbage collector goroutine.
func (r *Router) Stop() {
	r.log.Stop()
}

// processOnionCfg houses the optional parameters for processing an onion
// packet.
type processOnionCfg struct {
	blindingPoint *btcec.PublicKey
}

// ProcessOnionOpt is a functional option for processing an onion packet.
type ProcessOnionOpt func(cfg *processOnionCfg)

// WithBlindingPoint sets the ephemeral blinding point to use when deriving
// the shared secret for a hop within a blinded route. A nil point is a no-op.
func WithBlindingPoint(point *btcec.PublicKey) ProcessOnionOpt {
	return func(cfg *processOnionCfg) {
		cfg.blindingPoint = point
	}
}

// generateSharedSecret generates the shared secret using the given ephemeral
// pub key and the Router's private key. If a blindingPoint is provided then it
// is used to tweak the Router's private key before creating the shared secret
// with the ephemeral pub key. The blinding point is used to determine our
// shared secret with the receiver. From that we can determine our shared
// secret with the sender using the dhKey.
func (r *Router) generateSharedSecret(dhKey,
	blindingPoint *btcec.PublicKey) (Hash256, error) {

	// If no blinding point is provided, then the un-tweaked dhKey can
	// be used to derive the shared secret.
	if blindingPoint == nil {
		return sharedSecret(r.onionKey, dhKey)
	}

	// We use the blinding point to calculate the blinding factor that the
	// receiver used with us so that we can use it to tweak our priv key.
	// The sender would have created their shared secret with our blinded
	// pub key.
	// 	* ss_receiver = H(k * E_receiver)
	ssReceiver, err := sharedSecret(r.onionKey, blindingPoint)
	if err != nil {
		return Hash256{}, err
	}

	// Compute the blinding factor that the receiver would have used to
	// blind our public key.
	//
	// 	* bf = HMAC256("blinded_node_id", ss_receiver)
	blindingFactorBytes := generateKey(routeBlindingHMACKey, &ssReceiver)
	var blindingFactor btcec.ModNScalar
	blindingFactor.SetBytes(&blindingFactorBytes)

	// Now, we want to calculate the shared secret between the sender and
	// our blinded key. In other words we want to calculate:
	// 	* ss_sender = H(E_sender * bf * k)
	//
	// Since the order in which the above multiplication happens does not
	// matter, we will first multiply E_sender with the blinding factor:
	blindedEphemeral := blindGroupElement(dhKey, blindingFactor)

	// Finally, we compute the ECDH to get the shared secret, ss_sender:
	return sharedSecret(r.onionKey, blindedEphemeral)
}

// ProcessOnionPacket processes an incoming onion packet which has been forward
// to the target Sphinx router. If the encoded ephemeral key isn't on the
// target Elliptic Curve, then the packet is rejected. Similarly, if the
// derived shared secret has been seen before the packet is rejected. Finally
// if the MAC doesn't check the packet is again rejected.
//
// In the case of a successful packet processing, and ProcessedPacket struct is
// returned which houses the newly parsed packet, along with instructions on
// what to do next.
func (r *Router) ProcessOnionPacket(onionPkt *OnionPacket, assocData []byte,
	incomingCltv uint32, opts ...ProcessOnionOpt) (*ProcessedPacket,
	error) {

	cfg := &processOnionCfg{}
	for _, opt := range opts {
		opt(cfg)
	}

	// Compute the shared secret for this onion packet.
	sharedSecret, err := r.generateSharedSecret(
		onionPkt.EphemeralKey, cfg.blindingPoint,
	)
	if err != nil {
		return nil, err
	}

	// Additionally, compute the hash prefix of the shared secret, which
	// will serve as an identifier for detecting replayed packets.
	hashPrefix := hashSharedSecret(&sharedSecret)

	// Continue to optimistically process this packet, deferring replay
	// protection until the end to reduce the penalty of multiple IO
	// operations.
	packet, err := processOnionPacket(onionPkt, &sharedSecret, assocData)
	if err != nil {
		return nil, err
	}

	log.Tracef("Processed onion packet with action=%v", packet.Action)

	// Atomically compare this hash prefix with the contents of the on-disk
	// log, persisting it only if this entry was not detected as a replay.
	if err := r.log.Put(hashPrefix, incomingCltv); err != nil {
		return nil, err
	}

	return packet, nil
}

// ReconstructOnionPacket rederives the subsequent onion packet.
//
// NOTE: This method does not do any sort of replay protection, and should only
// be used to reconstruct packets that were successfully processed previously.
func (r *Router) ReconstructOnionPacket(onionPkt *OnionPacket,
	assocData []byte, opts ...ProcessOnionOpt) (*ProcessedPacket, error) {

	cfg := &processOnionCfg{}
	for _, opt := range opts {
		opt(cfg)
	}

	// Compute the shared secret for this onion packet.
	sharedSecret, err := r.generateSharedSecret(
		onionPkt.EphemeralKey, cfg.blindingPoint,
	)
	if err != nil {
		return nil, err
	}

	return processOnionPacket(onionPkt, &sharedSecret, assocData)
}

// processOnionPacket performs the primary key derivation and handling of
// onion packets. The processed packets returned from this method should only
// be used if the packet was not flagged as a replayed packet.
func processOnionPacket(onionPkt *OnionPacket,
	sharedSecret *Hash256, assocData []byte) (*ProcessedPacket, error) {

	// First, we'll unwrap an initial layer of the onion packet. The inner
	// mix header is the one that we'll want to pass onto the next hop so
	// they can properly check the HMAC and unwrap a layer for their
	// handoff hop.
	innerPkt, hopPayload, err := unwrapPacket(
		onionPkt, sharedSecret, assocData,
	)
	if err != nil {
		return nil, err
	}

	// By default we'll assume that there are additional hops in the route.
	// However if the uncovered 'nextMac' is all zeroes, then this
	// indicates that we're the final hop in the route.
	var action ProcessCode = MoreHops
	if bytes.Equal(zeroHMAC[:], hopPayload.HMAC[:]) {
		action = ExitNode
	}

	// If the payload uses the legacy encoding, then we can parse the
	// forwarding instructions at this layer for the caller.
	fwdInstructions, err := hopPayload.HopData()
	if err != nil {
		return nil, err
	}

	return &ProcessedPacket{
		Action:                 action,
		Payload:                *hopPayload,
		ForwardingInstructions: fwdInstructions,
		SharedSecret:           *sharedSecret,
		NextPacket:             innerPkt,
	}, nil
}

// Tx is a transaction consisting of a number of sphinx packets to be
// atomically written to the replay log. This structure helps to coordinate
// construction of the underlying Batch object, and to ensure that the result
// of the processing is idempotent.
type Tx struct {
	// batch is the set of packets to be incrementally processed and
	// ultimately committed in this transaction
	batch *Batch

	// router is a reference to the sphinx router that created this
	// transaction. Committing this transaction will utilize this router's
	// replay log.
	router *Router

	// packets contains a potentially sparse list of optimistically
	// processed packets for this batch. The contents of a particular index
	// should only be accessed if the index is *not* included in the replay
	// set, or otherwise failed any other stage of the processing.
	packets []ProcessedPacket
}

// BeginTxn creates a new transaction that can later be committed back to the
// sphinx router's replay log.
//
// NOTE: The nels parameter should represent the maximum number of that could
// be added to the batch, using sequence numbers that match or exceed this
// value could result in an out-of-bounds panic.
func (r *Router) BeginTxn(id []byte, nels int) *Tx {
	return &Tx{
		batch:   NewBatch(id),
		router:  r,
		packets: make([]ProcessedPacket, nels),
	}
}

// ProcessOnionPacket processes an incoming onion packet which has been
// forwarded to the target Sphinx router. The processed packet is only
// committed to the router's replay log when the transaction is committed.
func (t *Tx) ProcessOnionPacket(seqNum uint16, onionPkt *OnionPacket,
	assocData []byte, incomingCltv uint32,
	opts ...ProcessOnionOpt) error {

	cfg := &processOnionCfg{}
	for _, opt := range opts {
		opt(cfg)
	}

	// Compute the shared secret for this onion packet.
	sharedSecret, err := t.router.generateSharedSecret(
		onionPkt.EphemeralKey, cfg.blindingPoint,
	)
	if err != nil {
		return err
	}

	// Additionally, compute the hash prefix of the shared secret, which
	// will serve as an identifier for detecting replayed packets.
	hashPrefix := hashSharedSecret(&sharedSecret)

	// Continue to optimistically process this packet, deferring replay
	// protection until the end to reduce the penalty of multiple IO
	// operations.
	packet, err := processOnionPacket(onionPkt, &sharedSecret, assocData)
	if err != nil {
		return err
	}

	// Add the hash prefix to pending batch of shared secrets that will be
	// written later via Commit().
	err = t.batch.Put(seqNum, hashPrefix, incomingCltv)
	if err != nil {
		return err
	}

	// If we successfully added this packet to the batch, cache the
	// processed packet within the Tx which can be accessed after
	// committing if this sequence number does not appear in the replay
	// set.
	t.packets[seqNum] = *packet

	return nil
}

// Commit writes this transaction's batch of sphinx packets to the replay log,
// performing a final check against the log for replays.
func (t *Tx) Commit() ([]ProcessedPacket, *ReplaySet, error) {
	if t.batch.IsCommitted {
		return t.packets, t.batch.ReplaySet, nil
	}

	rs, err := t.router.log.PutBatch(t.batch)

	return t.packets, rs, err
}
