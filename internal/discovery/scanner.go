package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/fishare/fishare/internal/logging"
	"github.com/fishare/fishare/internal/metrics"
	"github.com/fishare/fishare/internal/state"
)

// Scanner listens for discovery advertisements on the multicast group and
// keeps the shared AppState's device list current, garbage-collecting
// devices that have gone quiet.
type Scanner struct {
	discoveryPort int
	listenPort    int // local transfer listen port, for self-filtering
	state         *state.AppState
	metrics       *metrics.Metrics
	logger        *slog.Logger
	localIP       string // empty if self-filtering could not be determined
}

// NewScanner constructs a Scanner bound to discoveryPort. listenPort is
// this device's own TCP transfer listen port, used together with the
// local IP to self-filter this device's own advertisements (spec.md §9:
// self-filter compares (host, port), not host alone, so another FIshare
// instance on the same host but a different port is not hidden). m may
// be nil, in which case discovery churn is not observed.
func NewScanner(st *state.AppState, discoveryPort, listenPort int, m *metrics.Metrics, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = logging.NopLogger()
	}
	localIP, err := LocalIP()
	if err != nil {
		localIP = ""
	}
	return &Scanner{
		discoveryPort: discoveryPort,
		listenPort:    listenPort,
		state:         st,
		metrics:       m,
		logger:        logger.With(logging.KeyComponent, "scanner"),
		localIP:       localIP,
	}
}

// Run joins the multicast group and runs the listen and GC loops until
// ctx is canceled.
func (s *Scanner) Run(ctx context.Context) error {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	conn, err := lc.ListenPacket(ctx, "udp4", fmt.Sprintf(":%d", s.discoveryPort))
	if err != nil {
		return fmt.Errorf("discovery: scanner listen: %w", err)
	}
	defer conn.Close()

	pc := ipv4.NewPacketConn(conn)
	group := &net.UDPAddr{IP: net.ParseIP(MulticastGroup)}
	if err := pc.JoinGroup(nil, group); err != nil {
		return fmt.Errorf("discovery: join multicast group: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		s.listen(ctx, conn)
	}()
	go func() {
		defer wg.Done()
		s.gc(ctx)
	}()

	<-ctx.Done()
	conn.Close()
	wg.Wait()
	return nil
}

func (s *Scanner) listen(ctx context.Context, conn net.PacketConn) {
	buf := make([]byte, maxDatagramSize)
	for {
		if ctx.Err() != nil {
			return
		}

		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Debug("scan read error", logging.KeyError, err)
			continue
		}

		s.handleDatagram(buf[:n], addr)
	}
}

func (s *Scanner) handleDatagram(data []byte, addr net.Addr) {
	var adv advertisement
	if err := json.Unmarshal(data, &adv); err != nil {
		s.logger.Debug("scan decode error", logging.KeyError, err)
		if s.metrics != nil {
			s.metrics.BeaconDecodeErrors.Inc()
		}
		return
	}
	if adv.Type != advertisementType {
		if s.metrics != nil {
			s.metrics.BeaconDecodeErrors.Inc()
		}
		return
	}

	// Prefer the embedded host, fall back to the packet's source
	// address (spec.md §4.4 step 2).
	host := adv.Host
	if host == "" {
		var err error
		host, _, err = net.SplitHostPort(addr.String())
		if err != nil {
			host = addr.String()
		}
	}

	if s.localIP != "" && host == s.localIP && adv.Port == s.listenPort {
		return // self-filter: (host, port) matches our own listening endpoint
	}

	if !isKnownStatus(adv.Status) {
		adv.Status = string(state.StatusBusy)
	}

	dev := state.Device{
		DeviceID: fmt.Sprintf("%s:%d", host, adv.Port),
		Name:     adv.Name,
		Host:     host,
		Port:     adv.Port,
		Status:   state.Status(adv.Status),
		LastSeen: time.Now(),
	}
	s.state.UpsertDevice(dev)

	if s.metrics != nil {
		s.metrics.BeaconsReceived.Inc()
		s.metrics.DevicesKnown.Set(float64(len(s.state.Devices())))
	}
}

// isKnownStatus reports whether status is one of the two values a beacon
// is ever expected to carry.
func isKnownStatus(status string) bool {
	return status == string(state.StatusAvailable) || status == string(state.StatusBusy)
}

func (s *Scanner) gc(ctx context.Context) {
	ticker := time.NewTicker(GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			pruned := s.state.PruneStaleDevices(now, DeviceLivenessThreshold)
			if s.metrics != nil && pruned > 0 {
				s.metrics.DevicesPruned.Add(float64(pruned))
				s.metrics.DevicesKnown.Set(float64(len(s.state.Devices())))
			}
		}
	}
}
