package state

import (
	"sync"
	"testing"
	"time"
)

func TestSetStatus(t *testing.T) {
	s := New(StatusAvailable)
	if got := s.Status(); got != StatusAvailable {
		t.Fatalf("Status() = %v, want %v", got, StatusAvailable)
	}

	s.SetStatus(StatusRestricted)
	if got := s.Status(); got != StatusRestricted {
		t.Errorf("Status() after SetStatus = %v, want %v", got, StatusRestricted)
	}
}

func TestUpsertAndListDevices(t *testing.T) {
	s := New(StatusAvailable)
	dev := Device{DeviceID: "192.168.1.10:49222", Name: "laptop", Host: "192.168.1.10", Port: 49222, Status: StatusAvailable, LastSeen: time.Now()}
	s.UpsertDevice(dev)

	got, ok := s.Device(dev.DeviceID)
	if !ok {
		t.Fatal("expected device to be present")
	}
	if got.Name != "laptop" {
		t.Errorf("Name = %q, want %q", got.Name, "laptop")
	}

	devices := s.Devices()
	if len(devices) != 1 {
		t.Fatalf("Devices() returned %d entries, want 1", len(devices))
	}
}

func TestPruneStaleDevices(t *testing.T) {
	s := New(StatusAvailable)
	now := time.Now()

	s.UpsertDevice(Device{DeviceID: "fresh", LastSeen: now})
	s.UpsertDevice(Device{DeviceID: "stale", LastSeen: now.Add(-10 * time.Second)})

	s.PruneStaleDevices(now, 6*time.Second)

	if _, ok := s.Device("stale"); ok {
		t.Error("stale device was not pruned")
	}
	if _, ok := s.Device("fresh"); !ok {
		t.Error("fresh device was incorrectly pruned")
	}
}

func TestSelection(t *testing.T) {
	s := New(StatusAvailable)
	sel := Selection{DeviceIDs: []string{"a"}, Files: []string{"x.txt", "y.txt"}}
	s.SetSelection(sel)

	got := s.Selection()
	if len(got.Files) != 2 || got.DeviceIDs[0] != "a" {
		t.Errorf("Selection() = %+v, want %+v", got, sel)
	}
}

func TestProgressAndTransferStatus(t *testing.T) {
	s := New(StatusAvailable)
	s.UpdateProgress("peer1", "file.bin", 0.5, 1024)

	p := s.Progress("peer1")
	if p["file.bin"] != 0.5 {
		t.Errorf("Progress()[file.bin] = %v, want 0.5", p["file.bin"])
	}

	if got := s.TransferStatusFor("peer1"); got != TransferIdle {
		t.Errorf("TransferStatusFor() default = %v, want %v", got, TransferIdle)
	}

	s.SetTransferStatus("peer1", TransferSending)
	if got := s.TransferStatusFor("peer1"); got != TransferSending {
		t.Errorf("TransferStatusFor() = %v, want %v", got, TransferSending)
	}
}

func TestAppState_ConcurrentAccess(t *testing.T) {
	s := New(StatusAvailable)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			s.UpsertDevice(Device{DeviceID: "peer", LastSeen: time.Now()})
		}(i)
		go func(i int) {
			defer wg.Done()
			s.UpdateProgress("peer", "file", float64(i)/50, 100)
		}(i)
	}

	wg.Wait()
}
