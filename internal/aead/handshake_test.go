package aead

import (
	"bytes"
	"crypto/ed25519"
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/fishare/fishare/internal/metrics"
)

func newTestSigner(t *testing.T) (SignFunc, [32]byte) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey() error = %v", err)
	}
	var pubKey [32]byte
	copy(pubKey[:], pub)

	sign := func(data []byte) [64]byte {
		sig := ed25519.Sign(priv, data)
		var out [64]byte
		copy(out[:], sig)
		return out
	}
	return sign, pubKey
}

// tcpPipe returns both ends of a loopback TCP connection. Handshake writes
// its key and signature before reading the peer's, so both sides need a
// buffered transport; net.Pipe is unbuffered and would block both writers.
func tcpPipe(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			accepted <- nil
			return
		}
		accepted <- c
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	server := <-accepted
	if server == nil {
		t.Fatal("accept failed")
	}
	return client, server
}

func TestHandshake_RoundTrip(t *testing.T) {
	clientConn, serverConn := tcpPipe(t)
	defer clientConn.Close()
	defer serverConn.Close()

	clientSign, _ := newTestSigner(t)
	serverSign, _ := newTestSigner(t)

	type result struct {
		stream *Stream
		err    error
	}
	clientCh := make(chan result, 1)
	serverCh := make(chan result, 1)

	go func() {
		s, err := Handshake(clientConn, clientSign, nil, nil)
		clientCh <- result{s, err}
	}()
	go func() {
		s, err := Handshake(serverConn, serverSign, nil, nil)
		serverCh <- result{s, err}
	}()

	clientRes := <-clientCh
	serverRes := <-serverCh

	if clientRes.err != nil {
		t.Fatalf("client Handshake() error = %v", clientRes.err)
	}
	if serverRes.err != nil {
		t.Fatalf("server Handshake() error = %v", serverRes.err)
	}

	plaintext := []byte("session established")
	ct, err := clientRes.stream.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	pt, err := serverRes.stream.Open(ct)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !bytes.Equal(pt, plaintext) {
		t.Errorf("got %q, want %q", pt, plaintext)
	}
}

func TestHandshake_PinnedPeerVerification(t *testing.T) {
	clientConn, serverConn := tcpPipe(t)
	defer clientConn.Close()
	defer serverConn.Close()

	clientSign, clientPub := newTestSigner(t)
	serverSign, _ := newTestSigner(t)

	type result struct {
		stream *Stream
		err    error
	}
	clientCh := make(chan result, 1)
	serverCh := make(chan result, 1)

	go func() {
		s, err := Handshake(clientConn, clientSign, nil, nil)
		clientCh <- result{s, err}
	}()
	go func() {
		// Server pins the client's long-term identity key and verifies
		// the signature over the ephemeral key against it.
		s, err := Handshake(serverConn, serverSign, &clientPub, nil)
		serverCh <- result{s, err}
	}()

	clientRes := <-clientCh
	serverRes := <-serverCh

	if clientRes.err != nil {
		t.Fatalf("client Handshake() error = %v", clientRes.err)
	}
	if serverRes.err != nil {
		t.Fatalf("server Handshake() with pinned key error = %v", serverRes.err)
	}
}

func TestHandshake_PinnedPeerRejectsWrongKey(t *testing.T) {
	clientConn, serverConn := tcpPipe(t)
	defer clientConn.Close()
	defer serverConn.Close()

	clientSign, _ := newTestSigner(t)
	serverSign, _ := newTestSigner(t)
	_, wrongPub := newTestSigner(t)

	serverCh := make(chan error, 1)
	clientCh := make(chan error, 1)

	go func() {
		_, err := Handshake(clientConn, clientSign, nil, nil)
		clientCh <- err
	}()
	go func() {
		_, err := Handshake(serverConn, serverSign, &wrongPub, nil)
		serverCh <- err
	}()

	<-clientCh
	if err := <-serverCh; err == nil {
		t.Error("Handshake() with a mismatched pinned key should fail verification")
	}
}

func TestHandshake_PinnedKeyMismatchCountsAEADFailure(t *testing.T) {
	clientConn, serverConn := tcpPipe(t)
	defer clientConn.Close()
	defer serverConn.Close()

	clientSign, _ := newTestSigner(t)
	serverSign, _ := newTestSigner(t)
	_, wrongPub := newTestSigner(t)

	reg := prometheus.NewRegistry()
	m := metrics.NewMetricsWithRegistry(reg)

	clientCh := make(chan error, 1)
	serverCh := make(chan error, 1)

	go func() {
		_, err := Handshake(clientConn, clientSign, nil, nil)
		clientCh <- err
	}()
	go func() {
		_, err := Handshake(serverConn, serverSign, &wrongPub, m)
		serverCh <- err
	}()

	<-clientCh
	<-serverCh

	if got := testutil.ToFloat64(m.AEADFailures); got != 1 {
		t.Errorf("AEADFailures = %v, want 1 after a pinned-key signature mismatch", got)
	}
}
