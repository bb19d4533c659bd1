// Package aead implements the encrypted session layer used once two
// devices have agreed on an ephemeral shared secret: key derivation and a
// ChaCha20-Poly1305 stream keyed by independent send/receive counters.
package aead

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	fishcrypto "github.com/fishare/fishare/internal/crypto"
	"github.com/fishare/fishare/internal/metrics"
)

const (
	// KeySize is the size of a derived ChaCha20-Poly1305 session key.
	KeySize = 32

	// hkdfInfo is the context string mixed into session key derivation.
	hkdfInfo = "FIshare-key-v1"

	// associatedData is the fixed AEAD associated data for every frame.
	associatedData = "FIshare"
)

// DeriveKey derives a 32-byte session key from an X25519 shared secret
// using HKDF-SHA256.
func DeriveKey(sharedSecret [32]byte) ([KeySize]byte, error) {
	var key [KeySize]byte
	reader := hkdf.New(sha256.New, sharedSecret[:], nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(reader, key[:]); err != nil {
		return key, fmt.Errorf("aead: derive key: %w", err)
	}
	return key, nil
}

// Stream wraps a single ChaCha20-Poly1305 session with independent,
// monotonically increasing nonce counters for the send and receive
// directions. It is safe for concurrent use.
type Stream struct {
	aead cipherAEAD

	mu          sync.Mutex
	key         [KeySize]byte
	sendCounter uint64
	recvCounter uint64
	closed      bool

	// metrics is set by Handshake; Open counts an authentication failure
	// against it when non-nil. Streams built directly via NewStream
	// (as the tests in this package do) observe nothing.
	metrics *metrics.Metrics
}

// cipherAEAD is satisfied by chacha20poly1305.AEAD; declared as an
// interface so tests can substitute a fake cipher.
type cipherAEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
	Overhead() int
}

// NewStream constructs a Stream from a derived session key.
func NewStream(key [KeySize]byte) (*Stream, error) {
	c, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("aead: new cipher: %w", err)
	}
	return &Stream{aead: c, key: key}, nil
}

// nonce builds the 12-byte ChaCha20-Poly1305 nonce for a given counter:
// four zero bytes followed by the big-endian counter value. Send and
// receive use independent counters, so no direction bit is needed.
func nonce(counter uint64) [chacha20poly1305.NonceSize]byte {
	var n [chacha20poly1305.NonceSize]byte
	binary.BigEndian.PutUint64(n[4:], counter)
	return n
}

// Seal encrypts plaintext with the next send nonce and returns the
// ciphertext (including the Poly1305 tag, but not the nonce itself — the
// peer derives the same nonce locally from its receive counter).
func (s *Stream) Seal(plaintext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("aead: stream closed")
	}
	n := nonce(s.sendCounter)
	s.sendCounter++
	return s.aead.Seal(nil, n[:], plaintext, []byte(associatedData)), nil
}

// Open decrypts ciphertext produced by the peer's Seal, using the next
// expected receive nonce. Any failure closes the stream: TCP guarantees
// in-order delivery, so a mismatch means corruption or tampering, not
// reordering, and the session can no longer be trusted.
func (s *Stream) Open(ciphertext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("aead: stream closed")
	}
	n := nonce(s.recvCounter)
	plaintext, err := s.aead.Open(nil, n[:], ciphertext, []byte(associatedData))
	if err != nil {
		s.closed = true
		if s.metrics != nil {
			s.metrics.AEADFailures.Inc()
		}
		return nil, fmt.Errorf("aead: open: %w", err)
	}
	s.recvCounter++
	return plaintext, nil
}

// Close scrubs the session key and marks the stream unusable.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	fishcrypto.ZeroKey(&s.key)
	s.closed = true
}
