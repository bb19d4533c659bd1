// Package discovery implements FIshare's LAN device discovery: a
// multicast Advertiser that periodically announces this device, and a
// Scanner that listens for those announcements and keeps the shared
// AppState's device list current.
package discovery

import (
	"net"
	"time"
)

// MulticastGroup is the fixed IPv4 multicast group FIshare advertises and
// listens on.
const MulticastGroup = "239.255.42.99"

// DefaultDiscoveryPort is used when a device's config does not override it.
const DefaultDiscoveryPort = 49221

// MulticastTTL bounds how many router hops an advertisement may cross.
const MulticastTTL = 2

// BeaconInterval is how often the Advertiser sends an announcement.
const BeaconInterval = 1500 * time.Millisecond

// GCInterval is how often the Scanner prunes devices it has not heard
// from recently.
const GCInterval = 2 * time.Second

// DeviceLivenessThreshold is the maximum silence before a device is
// considered gone.
const DeviceLivenessThreshold = 6 * time.Second

// maxDatagramSize bounds a single advertisement read.
const maxDatagramSize = 4096

// advertisementType tags FIshare's discovery payload so unrelated
// multicast traffic on the same group/port is ignored.
const advertisementType = "fishare_adv"

// advertisement is the JSON payload carried by a discovery datagram.
type advertisement struct {
	Type   string `json:"type"`
	Name   string `json:"name"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Status string `json:"status"`
}

// LocalIP returns this host's outbound-facing IP address, used to
// self-filter a device's own advertisements out of its discovered-device
// list. It opens a UDP "connection" to a public address without sending
// any traffic, purely to let the kernel pick a local source address.
func LocalIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", net.InvalidAddrError("not a UDP address")
	}
	return addr.IP.String(), nil
}
