// Package identity manages the device's long-term Ed25519 identity, used to
// sign ephemeral session keys during the AEAD handshake.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// keyFileName is the name of the PEM file holding the PKCS8-encoded
// private key inside a device's data directory.
const keyFileName = "id_ed25519.pem"

const pemBlockType = "PRIVATE KEY"

// ErrCorruptIdentity is returned by LoadOrCreate when an identity file
// exists but cannot be parsed as a PKCS8-encoded Ed25519 private key. The
// file is left untouched so an operator can inspect or remove it by hand.
var ErrCorruptIdentity = errors.New("identity: corrupt id_ed25519.pem")

// Identity holds a device's persistent Ed25519 keypair.
type Identity struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// LoadOrCreate loads the identity stored at <dataDir>/id_ed25519.pem, or
// generates and persists a new one if the file does not exist.
func LoadOrCreate(dataDir string) (*Identity, error) {
	path := filepath.Join(dataDir, keyFileName)

	data, err := os.ReadFile(path)
	if err == nil {
		return parsePEM(data)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("identity: read %s: %w", path, err)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate key: %w", err)
	}

	id := &Identity{priv: priv, pub: pub}
	if err := id.persist(dataDir); err != nil {
		return nil, err
	}
	return id, nil
}

func parsePEM(data []byte) (*Identity, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemBlockType {
		return nil, ErrCorruptIdentity
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptIdentity, err)
	}

	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an Ed25519 key", ErrCorruptIdentity)
	}

	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: could not derive public key", ErrCorruptIdentity)
	}

	return &Identity{priv: priv, pub: pub}, nil
}

// persist writes the identity to <dataDir>/id_ed25519.pem atomically via a
// temp-file-then-rename, matching the write discipline used elsewhere for
// on-disk state in this module.
func (id *Identity) persist(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("identity: create data dir: %w", err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(id.priv)
	if err != nil {
		return fmt.Errorf("identity: marshal key: %w", err)
	}

	buf := pem.EncodeToMemory(&pem.Block{Type: pemBlockType, Bytes: der})

	path := filepath.Join(dataDir, keyFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0600); err != nil {
		return fmt.Errorf("identity: write key: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("identity: persist key: %w", err)
	}
	return nil
}

// Sign produces an Ed25519 signature over data using the long-term key.
func (id *Identity) Sign(data []byte) [64]byte {
	sig := ed25519.Sign(id.priv, data)
	var out [64]byte
	copy(out[:], sig)
	return out
}

// PublicKey returns the raw 32-byte Ed25519 public key.
func (id *Identity) PublicKey() [32]byte {
	var out [32]byte
	copy(out[:], id.pub)
	return out
}
