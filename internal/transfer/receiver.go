package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/fishare/fishare/internal/aead"
	"github.com/fishare/fishare/internal/consent"
	"github.com/fishare/fishare/internal/history"
	"github.com/fishare/fishare/internal/identity"
	"github.com/fishare/fishare/internal/logging"
	"github.com/fishare/fishare/internal/metrics"
	"github.com/fishare/fishare/internal/state"
	"github.com/fishare/fishare/internal/wire"
)

// Receiver accepts incoming transfer connections and drives them through
// ACCEPT → HANDSHAKE → AWAIT_REQUEST → CONSENT → {REJECT|INGEST} → DONE
// (spec.md §4.5).
type Receiver struct {
	ListenAddr     string
	DownloadDir    string
	Identity       *identity.Identity
	Oracle         consent.Oracle
	State          *state.AppState
	History        *history.Store
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	RateLimitBytes int64 // 0 = unlimited
}

// Run binds ListenAddr and accepts connections until ctx is canceled.
// It is a thin wrapper around Serve for callers that don't need control
// over the listener (tests bind their own ephemeral port and call Serve
// directly so they can read back the assigned address).
func (r *Receiver) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", r.ListenAddr)
	if err != nil {
		return fmt.Errorf("transfer: receiver listen: %w", err)
	}
	defer ln.Close()

	return r.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is canceled, handing each
// one off to its own worker goroutine. The accept loop checks ctx at
// every AcceptTimeout tick (spec.md §5's cooperative stop).
func (r *Receiver) Serve(ctx context.Context, ln net.Listener) error {
	logger := r.logger()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		if tl, ok := ln.(*net.TCPListener); ok {
			tl.SetDeadline(time.Now().Add(AcceptTimeout))
		}

		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			logger.Warn("accept error", logging.KeyError, err)
			continue
		}

		go r.handleConn(ctx, newRateLimitedConn(ctx, conn, r.RateLimitBytes))
	}
}

func (r *Receiver) logger() *slog.Logger {
	if r.Logger == nil {
		return logging.NopLogger()
	}
	return r.Logger.With(logging.KeyComponent, "receiver")
}

func (r *Receiver) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	logger := r.logger().With(logging.KeyRemoteAddr, conn.RemoteAddr().String())

	start := time.Now()
	stream, err := aead.Handshake(conn, r.Identity.Sign, nil, r.Metrics)
	if r.Metrics != nil {
		r.Metrics.HandshakeLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		logger.Warn("handshake failed", logging.KeyError, err)
		if r.Metrics != nil {
			r.Metrics.HandshakeErrors.WithLabelValues("receiver").Inc()
		}
		return
	}
	defer stream.Close()

	var req wire.SendRequest
	if err := wire.ReadJSON(conn, stream, &req); err != nil {
		logger.Warn("await_request failed", logging.KeyError, err)
		return
	}
	if req.Type != wire.SendRequestType {
		logger.Warn("unexpected message type in AWAIT_REQUEST", "type", req.Type)
		return
	}

	peerHost, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	deviceKey := conn.RemoteAddr().String()

	accept := r.decideConsent(ctx, req)
	if r.Metrics != nil {
		r.Metrics.ConsentDecisions.WithLabelValues(fmt.Sprint(accept)).Inc()
	}

	if err := wire.WriteJSON(conn, wire.SendResponse{Accept: accept}, stream); err != nil {
		logger.Warn("failed to send response", logging.KeyError, err)
		return
	}
	if !accept {
		logger.Info("rejected incoming transfer", logging.KeyPeerName, req.PeerName)
		return
	}

	if r.Metrics != nil {
		r.Metrics.TransfersActive.Inc()
		r.Metrics.TransfersStarted.WithLabelValues("received").Inc()
		defer r.Metrics.TransfersActive.Dec()
	}

	r.State.SetTransferStatus(deviceKey, state.TransferReceiving)
	r.State.MarkTransferStarted(deviceKey, "", start)

	if err := r.ingest(conn, stream, req, deviceKey, logger); err != nil {
		logger.Warn("ingest failed", logging.KeyError, err)
		r.State.SetTransferStatus(deviceKey, state.TransferFailed)
		r.recordHistory(peerHost, req, time.Since(start), history.StatusError, err.Error())
		if r.Metrics != nil {
			r.Metrics.TransfersCompleted.WithLabelValues("received", "error").Inc()
		}
		return
	}

	r.State.SetAggregateProgress(deviceKey, 1.0, 0)
	r.State.SetTransferStatus(deviceKey, state.TransferDone)
	r.recordHistory(peerHost, req, time.Since(start), history.StatusCompleted, "")
	if r.Metrics != nil {
		r.Metrics.TransfersCompleted.WithLabelValues("received", "completed").Inc()
		r.Metrics.TransferDuration.WithLabelValues("received").Observe(time.Since(start).Seconds())
	}

	time.AfterFunc(ProgressGrace, func() { r.State.ClearProgress(deviceKey) })
}

// decideConsent implements the CONSENT step: BUSY auto-rejects without
// invoking the oracle; otherwise the oracle is given up to ConsentTimeout
// to answer, defaulting to refusal on timeout (spec.md §4.5, §6).
func (r *Receiver) decideConsent(ctx context.Context, req wire.SendRequest) bool {
	if r.State.Status() != state.StatusAvailable {
		return false
	}

	consentCtx, cancel := context.WithTimeout(ctx, ConsentTimeout)
	defer cancel()
	return r.Oracle.RequestConsent(consentCtx, req.PeerName, len(req.Files), req.Total)
}

// ingest implements the INGEST step: for each file named in req, read a
// header then chunks until exactly its size has been written, updating
// aggregate progress across the whole batch after every chunk.
func (r *Receiver) ingest(conn net.Conn, stream *aead.Stream, req wire.SendRequest, deviceKey string, logger *slog.Logger) error {
	var batchReceived uint64

	for i := 0; i < len(req.Files); i++ {
		var header wire.FileHeader
		if err := wire.ReadJSON(conn, stream, &header); err != nil {
			return fmt.Errorf("%w: read file_header: %v", ErrProtocol, err)
		}

		dest, err := r.destinationPath(header.File)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}

		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return fmt.Errorf("transfer: create download dir: %w", err)
		}

		f, err := os.Create(dest)
		if err != nil {
			return fmt.Errorf("transfer: create %s: %w", dest, err)
		}

		var written uint64
		for written < header.Size {
			var chunk wire.FileChunk
			if err := wire.ReadJSON(conn, stream, &chunk); err != nil {
				f.Close()
				return fmt.Errorf("%w: read file_chunk: %v", ErrProtocol, err)
			}
			data, err := wire.DecodeChunk(chunk.Data)
			if err != nil {
				f.Close()
				return fmt.Errorf("%w: %v", ErrProtocol, err)
			}
			if uint64(len(data)) > header.Size-written {
				f.Close()
				return fmt.Errorf("%w: chunk overruns declared file size", ErrProtocol)
			}
			if _, err := f.Write(data); err != nil {
				f.Close()
				return fmt.Errorf("transfer: write %s: %w", dest, err)
			}

			written += uint64(len(data))
			batchReceived += uint64(len(data))
			if r.Metrics != nil {
				r.Metrics.BytesReceived.Add(float64(len(data)))
			}
			r.State.SetAggregateProgress(deviceKey, ratio(batchReceived, req.Total), 0)
		}
		f.Close()
	}

	return nil
}

// destinationPath resolves an incoming file name to a path under
// DownloadDir, reducing it to its basename first (spec.md §4.5, §9:
// path-traversal guard).
func (r *Receiver) destinationPath(name string) (string, error) {
	base := filepath.Base(name)
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return filepath.Join(r.DownloadDir, base), nil
}

func (r *Receiver) recordHistory(peerHost string, req wire.SendRequest, duration time.Duration, status history.Status, errMsg string) {
	if r.History == nil {
		return
	}
	rec := history.Record{
		Timestamp: time.Now(),
		Direction: history.DirectionReceived,
		PeerName:  req.PeerName,
		PeerHost:  peerHost,
		NumFiles:  len(req.Files),
		TotalSize: req.Total,
		Duration:  duration.Seconds(),
		Status:    status,
		ErrorMsg:  errMsg,
	}
	if err := r.History.Append(rec); err != nil {
		r.logger().Warn("failed to append transfer history", logging.KeyError, err)
	}
}
