// Package consent defines the operator consent interface a Receiver uses
// to decide whether to accept an incoming transfer, plus a terminal-based
// default implementation.
package consent

import "context"

// Oracle decides whether to accept an incoming transfer. Implementations
// must resolve within the context's deadline; a Receiver treats a context
// deadline exceeded the same as an explicit refusal.
type Oracle interface {
	RequestConsent(ctx context.Context, peerName string, numFiles int, totalBytes uint64) bool
}
