package aead

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/fishare/fishare/internal/crypto"
	"github.com/fishare/fishare/internal/metrics"
)

// maxHandshakeFieldSize bounds the ephemeral public key and signature
// lengths accepted from a peer, guarding against a malicious or corrupt
// 2-byte length prefix requesting an unreasonable read.
const maxHandshakeFieldSize = 4096

// SignFunc signs data with the local device's long-term identity key.
type SignFunc func(data []byte) [64]byte

// PeerKey carries the peer's ephemeral X25519 public key and its signature
// over that key, produced by the peer's long-term identity key.
type PeerKey struct {
	EphemeralPublic [32]byte
	Signature       [64]byte
}

// Handshake performs the ephemeral X25519 key agreement over conn: both
// sides generate an ephemeral keypair, sign the public half with their
// long-term identity, and exchange (pubkey, signature) pairs length-
// prefixed with 2-byte big-endian lengths. If pinnedPeerKey is non-nil,
// the peer's signature is verified against it before the shared secret is
// derived; otherwise the ephemeral key is accepted unverified (no
// trust-on-first-use store is implemented). m may be nil; when supplied,
// a pinned-signature mismatch and any later Stream.Open failure on the
// returned session are both counted against m.AEADFailures.
func Handshake(conn net.Conn, sign SignFunc, pinnedPeerKey *[32]byte, m *metrics.Metrics) (*Stream, error) {
	myPriv, myPub, err := crypto.GenerateEphemeralKeypair()
	if err != nil {
		return nil, fmt.Errorf("aead: generate ephemeral keypair: %w", err)
	}
	defer crypto.ZeroKey(&myPriv)

	sig := sign(myPub[:])

	if err := writeLengthPrefixed(conn, myPub[:]); err != nil {
		return nil, fmt.Errorf("aead: send ephemeral public key: %w", err)
	}
	if err := writeLengthPrefixed(conn, sig[:]); err != nil {
		return nil, fmt.Errorf("aead: send signature: %w", err)
	}

	peer, err := readPeerKey(conn)
	if err != nil {
		return nil, err
	}

	if pinnedPeerKey != nil {
		if !Verify(*pinnedPeerKey, peer.EphemeralPublic[:], peer.Signature) {
			if m != nil {
				m.AEADFailures.Inc()
			}
			return nil, fmt.Errorf("aead: peer signature verification failed")
		}
	}

	shared, err := crypto.ComputeECDH(myPriv, peer.EphemeralPublic)
	if err != nil {
		return nil, fmt.Errorf("aead: compute shared secret: %w", err)
	}
	defer crypto.ZeroKey(&shared)

	key, err := DeriveKey(shared)
	if err != nil {
		return nil, err
	}

	stream, err := NewStream(key)
	if err != nil {
		return nil, err
	}
	stream.metrics = m
	return stream, nil
}

// Verify checks an Ed25519 signature over raw bytes against a raw
// 32-byte public key, used to validate a pinned peer's signature over
// its ephemeral key. Declared here (rather than imported from
// internal/identity) to avoid a dependency cycle between identity and
// aead, since internal/identity.Sign already produces signatures in
// this shape.
func Verify(publicKey [32]byte, data []byte, signature [64]byte) bool {
	return ed25519.Verify(ed25519.PublicKey(publicKey[:]), data, signature[:])
}

func writeLengthPrefixed(w io.Writer, data []byte) error {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readLengthPrefixed(r io.Reader) ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	if int(n) > maxHandshakeFieldSize {
		return nil, fmt.Errorf("handshake field too large: %d bytes", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read field: %w", err)
	}
	return buf, nil
}

func readPeerKey(r io.Reader) (PeerKey, error) {
	var peer PeerKey

	pub, err := readLengthPrefixed(r)
	if err != nil {
		return peer, fmt.Errorf("aead: receive ephemeral public key: %w", err)
	}
	if len(pub) != 32 {
		return peer, fmt.Errorf("aead: ephemeral public key has wrong length: %d", len(pub))
	}
	copy(peer.EphemeralPublic[:], pub)

	sig, err := readLengthPrefixed(r)
	if err != nil {
		return peer, fmt.Errorf("aead: receive signature: %w", err)
	}
	if len(sig) != 64 {
		return peer, fmt.Errorf("aead: signature has wrong length: %d", len(sig))
	}
	copy(peer.Signature[:], sig)

	return peer, nil
}
