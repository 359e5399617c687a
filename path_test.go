package sphinx

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

// parsePubKeyHex parses a hex encoded compressed secp256k1 point.
func parsePubKeyHex(keyHex string) (*btcec.PublicKey, error) {
	keyBytes, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, err
	}

	return btcec.ParsePubKey(keyBytes)
}

// TestPaymentPathLength asserts that the true route length tracks the number
// of populated hops and that the payload accounting matches the individual
// frame sizes.
func TestPaymentPathLength(t *testing.T) {
	t.Parallel()

	var path PaymentPath
	require.Equal(t, 0, path.TrueRouteLength())
	require.Empty(t, path.NodeKeys())

	for i := 0; i < 3; i++ {
		privKey, err := btcec.NewPrivateKey()
		require.NoError(t, err)

		payload, err := NewTLVHopPayload(
			bytes.Repeat([]byte{0x01}, 10+i),
		)
		require.NoError(t, err)

		path[i] = OnionHop{
			NodePub:    *privKey.PubKey(),
			HopPayload: payload,
		}
	}

	require.Equal(t, 3, path.TrueRouteLength())
	require.Len(t, path.NodeKeys(), 3)

	// Each TLV frame is its 1 byte length prefix, the payload itself and
	// the trailing HMAC.
	expectedSize := (1 + 10 + HMACSize) + (1 + 11 + HMACSize) +
		(1 + 12 + HMACSize)
	require.Equal(t, expectedSize, path.TotalPayloadSize())
}

// TestBuildBlindedPath tests that a route blinded with BuildBlindedPath can
// be unwound hop by hop: each node recovers its plaintext payload with its
// own private key and derives the next ephemeral blinding point.
func TestBuildBlindedPath(t *testing.T) {
	t.Parallel()

	const numHops = 4

	privKeys := make([]*btcec.PrivateKey, numHops)
	hops := make([]*HopInfo, numHops)
	for i := 0; i < numHops; i++ {
		privKey, err := btcec.NewPrivateKey()
		require.NoError(t, err)

		privKeys[i] = privKey
		hops[i] = &HopInfo{
			NodePub:   privKey.PubKey(),
			PlainText: bytes.Repeat([]byte{byte(i + 1)}, 20+i),
		}
	}

	sessionKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	path, err := BuildBlindedPath(sessionKey, hops)
	require.NoError(t, err)

	require.True(t, path.IntroductionPoint.IsEqual(hops[0].NodePub))
	require.True(t, path.BlindingPoint.IsEqual(sessionKey.PubKey()))
	require.Len(t, path.BlindedHops, numHops)

	// Walk the path the way the forwarding nodes would, starting from the
	// blinding point communicated to the introduction node.
	ephemeral := path.BlindingPoint
	for i := 0; i < numHops; i++ {
		nodeECDH := &PrivKeyECDH{PrivKey: privKeys[i]}

		plainText, err := decryptBlindedHopData(
			nodeECDH, ephemeral, path.BlindedHops[i].CipherText,
		)
		require.NoError(t, err)
		require.Equal(t, hops[i].PlainText, plainText)

		// The blinded node ID must match the one the path creator
		// derived for this hop.
		ss, err := nodeECDH.ECDH(ephemeral)
		require.NoError(t, err)

		ssHash := Hash256(ss)
		require.True(t, path.BlindedHops[i].BlindedNodePub.IsEqual(
			blindNodeID(ssHash, privKeys[i].PubKey()),
		))

		ephemeral, err = NextEphemeral(nodeECDH, ephemeral)
		require.NoError(t, err)
	}
}

// TestBuildBlindedPathEmpty asserts that a blinded path needs at least one
// hop.
func TestBuildBlindedPathEmpty(t *testing.T) {
	t.Parallel()

	sessionKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	_, err = BuildBlindedPath(sessionKey, nil)
	require.Error(t, err)
}

// TestProcessBlindedOnionPacket asserts that a router processing a packet
// addressed to its blinded node ID recovers the payload when handed the
// blinding point alongside the onion.
func TestProcessBlindedOnionPacket(t *testing.T) {
	t.Parallel()

	// The receiving node's real identity.
	nodeKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	// The path creator blinds the node's identity with a fresh session
	// key.
	blindingSessionKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	blindedPath, err := BuildBlindedPath(
		blindingSessionKey, []*HopInfo{{
			NodePub:   nodeKey.PubKey(),
			PlainText: []byte("encrypted recipient data"),
		}},
	)
	require.NoError(t, err)

	// The sender addresses the onion to the blinded node ID instead of
	// the real one.
	payload, err := NewTLVHopPayload(bytes.Repeat([]byte{0x21}, 50))
	require.NoError(t, err)

	var route PaymentPath
	route[0] = OnionHop{
		NodePub:    *blindedPath.BlindedHops[0].BlindedNodePub,
		HopPayload: payload,
	}

	onionSessionKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	pkt, err := NewOnionPacket(
		&route, onionSessionKey, nil, DeterministicPacketFiller,
	)
	require.NoError(t, err)

	router := NewRouter(
		&PrivKeyECDH{PrivKey: nodeKey}, NewMemoryReplayLog(),
	)
	require.NoError(t, router.Start())
	defer router.Stop()

	// Without the blinding point the node derives a shared secret for
	// its unblinded key, so the HMAC check fails.
	_, err = router.ProcessOnionPacket(pkt, nil, 1)
	require.Error(t, err)

	// With it, processing succeeds and the payload is recovered.
	processed, err := router.ProcessOnionPacket(
		pkt, nil, 1,
		WithBlindingPoint(blindedPath.BlindingPoint),
	)
	require.NoError(t, err)
	require.Equal(t, ProcessCode(ExitNode), processed.Action)
	require.Equal(
		t, bytes.Repeat([]byte{0x21}, 50), processed.Payload.Payload,
	)
}
