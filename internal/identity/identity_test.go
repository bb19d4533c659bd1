package identity

import (
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrCreate_GeneratesAndPersists(t *testing.T) {
	dir := t.TempDir()

	id, err := LoadOrCreate(dir)
	if err != nil {
		t.Fatalf("LoadOrCreate() error = %v", err)
	}

	path := filepath.Join(dir, keyFileName)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected identity file to be written: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("identity file perms = %v, want 0600", info.Mode().Perm())
	}

	var zeroPub [32]byte
	if id.PublicKey() == zeroPub {
		t.Error("PublicKey() is zero")
	}
}

func TestLoadOrCreate_LoadsExisting(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrCreate(dir)
	if err != nil {
		t.Fatalf("first LoadOrCreate() error = %v", err)
	}

	second, err := LoadOrCreate(dir)
	if err != nil {
		t.Fatalf("second LoadOrCreate() error = %v", err)
	}

	if first.PublicKey() != second.PublicKey() {
		t.Error("LoadOrCreate() did not reload the same identity")
	}
}

func TestLoadOrCreate_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, keyFileName)

	if err := os.WriteFile(path, []byte("not a pem file"), 0600); err != nil {
		t.Fatalf("setup write error = %v", err)
	}

	_, err := LoadOrCreate(dir)
	if err == nil {
		t.Fatal("expected error for corrupt identity file")
	}

	data, readErr := os.ReadFile(path)
	if readErr != nil {
		t.Fatalf("read back error = %v", readErr)
	}
	if string(data) != "not a pem file" {
		t.Error("corrupt identity file was overwritten, expected it to be left untouched")
	}
}

func TestSign(t *testing.T) {
	dir := t.TempDir()
	id, err := LoadOrCreate(dir)
	if err != nil {
		t.Fatalf("LoadOrCreate() error = %v", err)
	}

	msg := []byte("ephemeral-session-public-key")
	sig := id.Sign(msg)
	pub := id.PublicKey()

	if !ed25519.Verify(pub[:], msg, sig[:]) {
		t.Error("Sign() produced a signature that does not verify against PublicKey()")
	}
	if ed25519.Verify(pub[:], []byte("tampered"), sig[:]) {
		t.Error("Sign()'s signature verified over a different message")
	}
}
