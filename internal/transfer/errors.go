package transfer

import "errors"

// The four error kinds spec.md §7 classifies a transfer failure into.
// Network and protocol failures returned by Sender.Send or handled
// internally by Receiver wrap one of these via fmt.Errorf("...: %w", ...),
// so callers can classify with errors.Is. Local file-system errors
// (opening, reading, creating, or writing a file) and context
// cancellation are returned without any of these kinds.
var (
	// ErrTransport covers connect failure, read/write error, and
	// timeout. Retried by the sender (up to MaxRetries attempts in all)
	// when it occurs before the send_response frame is read. Every
	// failure between dialing and reading the send_response frame is
	// reported as ErrTransport, including a failed handshake and a
	// response frame that cannot be decrypted or parsed.
	ErrTransport = errors.New("transfer: transport error")

	// ErrProtocol covers a malformed frame, an unexpected message type,
	// or a size that violates the protocol (oversized length prefix,
	// byte-count mismatch). Never retried. The Receiver also reports an
	// AEAD failure while reading file frames as ErrProtocol.
	ErrProtocol = errors.New("transfer: protocol error")

	// ErrCrypto names an AEAD authentication failure or a handshake
	// signature mismatch. Sender and Receiver do not return it: such
	// failures are reported as ErrTransport before the send_response
	// frame is read and as ErrProtocol after it.
	ErrCrypto = errors.New("transfer: crypto error")

	// ErrRejected covers an explicit recipient refusal (oracle denied,
	// or local/remote BUSY status). Never retried.
	ErrRejected = errors.New("transfer: rejected by peer")
)
