// Package wire implements FIshare's framed message codec: each message is
// a 4-byte big-endian length prefix followed by a JSON body, optionally
// sealed with an AEAD session established by internal/aead.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// HeaderSize is the size of the length prefix in bytes.
const HeaderSize = 4

// MaxPayloadSize bounds a single frame's payload to guard against a
// corrupt or malicious length prefix driving an unbounded allocation.
const MaxPayloadSize = 16 * 1024 * 1024

// Sealer encrypts and decrypts frame payloads. internal/aead.Stream
// satisfies this interface; a nil Sealer means the frame is carried in
// plaintext. The handshake itself does not use these frames.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

// WriteFrame writes a single length-prefixed frame, sealing it first if
// seal is non-nil.
func WriteFrame(w io.Writer, payload []byte, seal Sealer) error {
	if seal != nil {
		sealed, err := seal.Seal(payload)
		if err != nil {
			return fmt.Errorf("wire: seal frame: %w", err)
		}
		payload = sealed
	}

	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("wire: frame too large: %d bytes", len(payload))
	}

	var header [HeaderSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("wire: write header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: write payload: %w", err)
	}
	return nil
}

// ReadFrame reads a single length-prefixed frame, opening it if seal is
// non-nil. It returns io.EOF if the peer closed the connection cleanly
// before any bytes of a new frame arrived.
func ReadFrame(r io.Reader, seal Sealer) ([]byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("wire: read header: %w", err)
		}
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxPayloadSize {
		return nil, fmt.Errorf("wire: frame too large: %d bytes", length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wire: read payload: %w", err)
	}

	if seal != nil {
		opened, err := seal.Open(payload)
		if err != nil {
			return nil, fmt.Errorf("wire: open frame: %w", err)
		}
		payload = opened
	}

	return payload, nil
}

// WriteJSON marshals v and writes it as a single frame.
func WriteJSON(w io.Writer, v any, seal Sealer) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: marshal: %w", err)
	}
	return WriteFrame(w, data, seal)
}

// ReadJSON reads a single frame and unmarshals it into v.
func ReadJSON(r io.Reader, seal Sealer, v any) error {
	data, err := ReadFrame(r, seal)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("wire: unmarshal: %w", err)
	}
	return nil
}
