package wire

import (
	"bytes"
	"testing"
)

func TestWriteReadFrame_Plaintext(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello frame")

	if err := WriteFrame(&buf, payload, nil); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}

	got, err := ReadFrame(&buf, nil)
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("got %q, want %q", got, payload)
	}
}

type fakeSealer struct{ xor byte }

func (f fakeSealer) Seal(plaintext []byte) ([]byte, error) {
	out := make([]byte, len(plaintext))
	for i, b := range plaintext {
		out[i] = b ^ f.xor
	}
	return out, nil
}

func (f fakeSealer) Open(ciphertext []byte) ([]byte, error) {
	return f.Seal(ciphertext) // XOR is its own inverse
}

func TestWriteReadFrame_Sealed(t *testing.T) {
	var buf bytes.Buffer
	seal := fakeSealer{xor: 0x5A}
	payload := []byte("secret payload")

	if err := WriteFrame(&buf, payload, seal); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}

	got, err := ReadFrame(&buf, seal)
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("got %q, want %q", got, payload)
	}
}

func TestReadFrame_TooLarge(t *testing.T) {
	var buf bytes.Buffer
	header := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	buf.Write(header)

	if _, err := ReadFrame(&buf, nil); err == nil {
		t.Error("ReadFrame() with oversized length prefix should fail")
	}
}

func TestReadFrame_EOF(t *testing.T) {
	var buf bytes.Buffer
	if _, err := ReadFrame(&buf, nil); err == nil {
		t.Error("ReadFrame() on empty reader should return an error")
	}
}

func TestWriteReadJSON_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := NewSendRequest([]string{"a.txt", "b.txt"}, 1024, "laptop")

	if err := WriteJSON(&buf, req, nil); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	var got SendRequest
	if err := ReadJSON(&buf, nil, &got); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}

	if got.Type != SendRequestType || len(got.Files) != 2 || got.Total != 1024 || got.PeerName != "laptop" {
		t.Errorf("round-tripped request mismatch: %+v", got)
	}
}

func TestEncodeDecodeChunk_RoundTrip(t *testing.T) {
	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}

	encoded := EncodeChunk(data)
	decoded, err := DecodeChunk(encoded)
	if err != nil {
		t.Fatalf("DecodeChunk() error = %v", err)
	}
	if !bytes.Equal(decoded, data) {
		t.Errorf("round trip mismatch: got %v bytes, want %v bytes", len(decoded), len(data))
	}
}

func TestEncodeChunk_SurvivesJSON(t *testing.T) {
	data := []byte{0x00, 0x01, 0x7F, 0x80, 0xFF, 'h', 'i'}
	var buf bytes.Buffer

	if err := WriteJSON(&buf, FileChunk{Data: EncodeChunk(data)}, nil); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	var got FileChunk
	if err := ReadJSON(&buf, nil, &got); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}

	decoded, err := DecodeChunk(got.Data)
	if err != nil {
		t.Fatalf("DecodeChunk() error = %v", err)
	}
	if !bytes.Equal(decoded, data) {
		t.Errorf("chunk data mismatch after JSON round trip: got %v, want %v", decoded, data)
	}
}

func TestDecodeChunk_RejectsOutOfRange(t *testing.T) {
	if _, err := DecodeChunk(string(rune(1000))); err == nil {
		t.Error("DecodeChunk() should reject runes above 255")
	}
}
