package transfer

import (
	"context"
	"io"
	"net"

	"github.com/fishare/fishare/internal/filetransfer"
)

// rateLimitedConn wraps a net.Conn's Read side with a token-bucket
// limiter, reusing filetransfer.NewRateLimitedReader so both directions
// of a transfer share one throttling implementation (internal/transfer
// for bytes in flight on the wire, internal/filetransfer originally for
// on-disk reads). Write and the rest of net.Conn pass through unchanged.
type rateLimitedConn struct {
	net.Conn
	limited io.Reader
}

func newRateLimitedConn(ctx context.Context, conn net.Conn, bytesPerSecond int64) net.Conn {
	if bytesPerSecond <= 0 {
		return conn
	}
	return &rateLimitedConn{
		Conn:    conn,
		limited: filetransfer.NewRateLimitedReader(ctx, conn, bytesPerSecond),
	}
}

func (c *rateLimitedConn) Read(p []byte) (int, error) {
	return c.limited.Read(p)
}
