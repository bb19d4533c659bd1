package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/fishare/fishare/internal/aead"
	"github.com/fishare/fishare/internal/history"
	"github.com/fishare/fishare/internal/identity"
	"github.com/fishare/fishare/internal/logging"
	"github.com/fishare/fishare/internal/metrics"
	"github.com/fishare/fishare/internal/state"
	"github.com/fishare/fishare/internal/wire"
)

// Sender drives the outgoing half of a transfer: PRECHECK → CONNECT →
// HANDSHAKE → REQUEST → RESPONSE → {ABORT|STREAM} → DONE, with retry on
// pre-response transport failures (spec.md §4.5).
type Sender struct {
	DeviceName     string
	Identity       *identity.Identity
	State          *state.AppState
	History        *history.Store
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	RateLimitBytes int64 // 0 = unlimited
}

// Send transfers files to dev, retrying transport/handshake failures
// that occur before the send_response frame is read, up to MaxRetries
// attempts with RetryBackoff between them.
func (s *Sender) Send(ctx context.Context, dev state.Device, files []string) error {
	if s.State == nil {
		// State is optional: without one, progress and status are kept
		// in a private AppState that nobody else observes.
		cp := *s
		cp.State = state.New(state.StatusAvailable)
		return cp.Send(ctx, dev, files)
	}

	deviceID := dev.DeviceID
	logger := s.logger().With(logging.KeyDeviceID, deviceID)

	sizes, total, err := statFiles(files)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	// PRECHECK
	if dev.Status == state.StatusBusy {
		s.State.SetTransferStatus(deviceID, state.TransferRejected)
		s.recordHistory(dev, files, total, 0, history.StatusCanceled, "Recipient is busy")
		return fmt.Errorf("%w: recipient is busy", ErrRejected)
	}

	if s.Metrics != nil {
		s.Metrics.TransfersActive.Inc()
		s.Metrics.TransfersStarted.WithLabelValues("sent").Inc()
		defer s.Metrics.TransfersActive.Dec()
	}

	start := time.Now()
	var lastErr error

	for attempt := 0; attempt < MaxRetries; attempt++ {
		if attempt > 0 {
			logger.Info("retrying transfer", logging.KeyAttempt, attempt)
			if s.Metrics != nil {
				s.Metrics.TransferRetries.Inc()
			}
			select {
			case <-time.After(RetryBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		s.State.SetAggregateProgress(deviceID, 0, 0)
		s.State.SetTransferStatus(deviceID, state.TransferHandshake)

		err := s.attempt(ctx, dev, files, sizes, total, logger)
		if err == nil {
			s.State.SetAggregateProgress(deviceID, 1.0, 0)
			s.State.SetTransferStatus(deviceID, state.TransferDone)
			s.recordHistory(dev, files, total, time.Since(start), history.StatusCompleted, "")
			if s.Metrics != nil {
				s.Metrics.TransfersCompleted.WithLabelValues("sent", "completed").Inc()
				s.Metrics.TransferDuration.WithLabelValues("sent").Observe(time.Since(start).Seconds())
			}
			time.AfterFunc(ProgressGrace, func() { s.State.ClearProgress(deviceID) })
			return nil
		}

		if errors.Is(err, ErrRejected) {
			s.State.SetTransferStatus(deviceID, state.TransferRejected)
			s.recordHistory(dev, files, total, time.Since(start), history.StatusCanceled, "Transfer rejected by recipient")
			if s.Metrics != nil {
				s.Metrics.TransfersCompleted.WithLabelValues("sent", "canceled").Inc()
			}
			return err
		}

		lastErr = err
		if !errors.Is(err, ErrTransport) {
			break // protocol/crypto failures are never retried (spec.md §7)
		}
	}

	s.State.SetTransferStatus(deviceID, state.TransferFailed)
	s.recordHistory(dev, files, total, time.Since(start), history.StatusError, lastErr.Error())
	if s.Metrics != nil {
		s.Metrics.TransfersCompleted.WithLabelValues("sent", "error").Inc()
	}
	return lastErr
}

// attempt runs one full CONNECT..STREAM cycle.
func (s *Sender) attempt(ctx context.Context, dev state.Device, files []string, sizes []uint64, total uint64, logger *slog.Logger) error {
	addr := net.JoinHostPort(dev.Host, fmt.Sprint(dev.Port))

	dialer := net.Dialer{Timeout: ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrTransport, addr, err)
	}
	defer conn.Close()

	limited := newRateLimitedConn(ctx, conn, s.RateLimitBytes)

	hsStart := time.Now()
	stream, err := aead.Handshake(limited, s.Identity.Sign, nil, s.Metrics)
	if s.Metrics != nil {
		s.Metrics.HandshakeLatency.Observe(time.Since(hsStart).Seconds())
	}
	if err != nil {
		if s.Metrics != nil {
			s.Metrics.HandshakeErrors.WithLabelValues("sender").Inc()
		}
		return fmt.Errorf("%w: handshake: %v", ErrTransport, err)
	}
	defer stream.Close()

	basenames := make([]string, len(files))
	for i, f := range files {
		basenames[i] = filepath.Base(f)
	}

	req := wire.NewSendRequest(basenames, total, s.DeviceName)
	if err := wire.WriteJSON(limited, req, stream); err != nil {
		return fmt.Errorf("%w: send request: %v", ErrTransport, err)
	}

	var resp wire.SendResponse
	if err := wire.ReadJSON(limited, stream, &resp); err != nil {
		return fmt.Errorf("%w: read response: %v", ErrTransport, err)
	}
	if !resp.Accept {
		return ErrRejected
	}

	return s.stream(limited, stream, dev.DeviceID, files, basenames, sizes, total, logger)
}

// stream implements the STREAM step: send each file's header then its
// chunks, updating aggregate progress across the whole batch.
func (s *Sender) stream(conn io.Writer, stream *aead.Stream, deviceID string, files, basenames []string, sizes []uint64, total uint64, logger *slog.Logger) error {
	var batchSent uint64
	buf := make([]byte, ChunkSize)

	for i, path := range files {
		size := sizes[i]

		if err := wire.WriteJSON(conn, wire.FileHeader{File: basenames[i], Size: size}, stream); err != nil {
			return fmt.Errorf("%w: send file_header: %v", ErrTransport, err)
		}

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("transfer: open %s: %w", path, err)
		}

		var sentThisFile uint64
		for sentThisFile < size {
			n, rerr := f.Read(buf)
			if n > 0 {
				chunk := wire.FileChunk{Data: wire.EncodeChunk(buf[:n])}
				if err := wire.WriteJSON(conn, chunk, stream); err != nil {
					f.Close()
					return fmt.Errorf("%w: send file_chunk: %v", ErrTransport, err)
				}
				sentThisFile += uint64(n)
				batchSent += uint64(n)
				if s.Metrics != nil {
					s.Metrics.BytesSent.Add(float64(n))
				}
				s.State.SetAggregateProgress(deviceID, ratio(batchSent, total), 0)
			}
			if rerr == io.EOF {
				break
			}
			if rerr != nil {
				f.Close()
				return fmt.Errorf("transfer: read %s: %w", path, rerr)
			}
		}
		f.Close()

		if sentThisFile != size {
			return fmt.Errorf("%w: sent %d bytes for %s, want %d", ErrProtocol, sentThisFile, path, size)
		}
	}

	return nil
}

func (s *Sender) logger() *slog.Logger {
	if s.Logger == nil {
		return logging.NopLogger()
	}
	return s.Logger.With(logging.KeyComponent, "sender")
}

func (s *Sender) recordHistory(dev state.Device, files []string, total uint64, duration time.Duration, status history.Status, errMsg string) {
	if s.History == nil {
		return
	}
	rec := history.Record{
		Timestamp: time.Now(),
		Direction: history.DirectionSent,
		PeerName:  dev.Name,
		PeerHost:  dev.Host,
		NumFiles:  len(files),
		TotalSize: total,
		Duration:  duration.Seconds(),
		Status:    status,
		ErrorMsg:  errMsg,
	}
	if err := s.History.Append(rec); err != nil {
		s.logger().Warn("failed to append transfer history", logging.KeyError, err)
	}
}

// statFiles stats each path, returning its size and the batch total.
func statFiles(paths []string) ([]uint64, uint64, error) {
	sizes := make([]uint64, len(paths))
	var total uint64
	for i, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, 0, fmt.Errorf("stat %s: %w", p, err)
		}
		sizes[i] = uint64(info.Size())
		total += sizes[i]
	}
	return sizes, total, nil
}
