package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/fishare/fishare/internal/logging"
	"github.com/fishare/fishare/internal/metrics"
	"github.com/fishare/fishare/internal/state"
)

// Advertiser periodically broadcasts this device's name, host, listen
// port, and availability status over the discovery multicast group.
type Advertiser struct {
	deviceName    string
	listenPort    int
	discoveryPort int
	state         *state.AppState
	metrics       *metrics.Metrics
	logger        *slog.Logger
	interval      time.Duration
	localHost     string // embedded in every beacon; empty if undeterminable
}

// NewAdvertiser constructs an Advertiser. discoveryPort is the UDP port
// advertisements are sent to on the multicast group. m may be nil, in
// which case beacon counts are not observed.
func NewAdvertiser(st *state.AppState, deviceName string, listenPort, discoveryPort int, m *metrics.Metrics, logger *slog.Logger) *Advertiser {
	if logger == nil {
		logger = logging.NopLogger()
	}
	localHost, err := LocalIP()
	if err != nil {
		localHost = ""
	}
	return &Advertiser{
		deviceName:    deviceName,
		listenPort:    listenPort,
		discoveryPort: discoveryPort,
		state:         st,
		metrics:       m,
		logger:        logger.With(logging.KeyComponent, "advertiser"),
		interval:      BeaconInterval,
		localHost:     localHost,
	}
}

// Run sends advertisements until ctx is canceled. It is intended to be
// run in its own goroutine.
func (a *Advertiser) Run(ctx context.Context) error {
	conn, err := net.ListenPacket("udp4", "0.0.0.0:0")
	if err != nil {
		return fmt.Errorf("discovery: advertiser listen: %w", err)
	}
	defer conn.Close()

	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetMulticastTTL(MulticastTTL); err != nil {
		return fmt.Errorf("discovery: set multicast TTL: %w", err)
	}

	dst := &net.UDPAddr{IP: net.ParseIP(MulticastGroup), Port: a.discoveryPort}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.advertiseOnce(conn, dst)
		}
	}
}

// advertiseOnce sends one beacon regardless of local availability status
// (spec.md §4.4): peers use the embedded status field to decide UI
// affordances, they are not kept from discovering a BUSY device.
func (a *Advertiser) advertiseOnce(conn net.PacketConn, dst net.Addr) {
	payload := advertisement{
		Type:   advertisementType,
		Name:   a.deviceName,
		Host:   a.localHost,
		Port:   a.listenPort,
		Status: wireStatus(a.state.Status()),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		a.logger.Debug("marshal advertisement failed", logging.KeyError, err)
		return
	}

	if _, err := conn.WriteTo(data, dst); err != nil {
		a.logger.Debug("advertise failed", logging.KeyError, err)
		return
	}
	if a.metrics != nil {
		a.metrics.AdvertisementsSent.Inc()
	}
}

// wireStatus collapses the local AppState's three-value status (which
// additionally distinguishes "incoming disabled at startup" from
// "busy with an in-flight transfer") onto the two values spec.md §6
// defines for the beacon payload: anything other than AVAILABLE is
// advertised as BUSY.
func wireStatus(s state.Status) string {
	if s == state.StatusAvailable {
		return string(state.StatusAvailable)
	}
	return string(state.StatusBusy)
}
