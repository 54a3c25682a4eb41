package mercury

import (
	"testing"
	"time"

	"github.com/mercurybus/mercury/transports"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestBus_ConnectDisconnectIdempotent(t *testing.T) {
	mock := &transports.MockTransport{}
	bus, err := NewBus(BusConfig{Transport: mock, SyncFrequencyHz: 120})
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}

	if err := bus.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := bus.Connect(); err != nil {
		t.Fatalf("second Connect should be a no-op, got: %v", err)
	}
	waitFor(t, time.Second, func() bool { return bus.State() != StateStopped })

	if err := bus.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if !mock.Closed {
		t.Error("Disconnect should close the transport")
	}
	if err := bus.Disconnect(); err != nil {
		t.Fatalf("second Disconnect should be a no-op, got: %v", err)
	}
}

func TestBus_PauseResume(t *testing.T) {
	mock := &transports.MockTransport{}
	bus, _ := NewBus(BusConfig{Transport: mock, SyncFrequencyHz: 120})
	bus.Connect()
	defer bus.Disconnect()

	// The bus reaches ready once the initial read of a registered device
	// has run (here every read times out, since nothing answers).
	bus.Register(NewShadow(4, FamilyV1Compact, DefaultModelConstants, nil))
	waitFor(t, 5*time.Second, func() bool { return bus.State() == StateReady })

	bus.Pause()
	if bus.State() != StatePaused {
		t.Fatalf("State: got %v, want paused", bus.State())
	}
	bus.Resume()
	if bus.State() != StateReady {
		t.Fatalf("State: got %v, want ready", bus.State())
	}
}

func TestBus_RegisterAndUnregisterAll(t *testing.T) {
	mock := &transports.MockTransport{}
	bus, _ := NewBus(BusConfig{Transport: mock, SyncFrequencyHz: 120})
	bus.Connect()
	defer bus.Disconnect()

	shadow := NewShadow(5, FamilyV1Compact, DefaultModelConstants, nil)
	bus.Register(shadow)
	waitFor(t, time.Second, func() bool {
		_, ok := bus.Shadow(5)
		return ok
	})

	// A second Register for the same id collapses rather than duplicating.
	bus.Register(shadow)
	waitFor(t, time.Second, func() bool { return len(bus.Shadows()) == 1 })

	bus.UnregisterAll()
	waitFor(t, time.Second, func() bool {
		_, ok := bus.Shadow(5)
		return !ok
	})

	// Idempotent: a second UnregisterAll with nothing left is a no-op.
	bus.UnregisterAll()
	waitFor(t, time.Second, func() bool { return len(bus.Shadows()) == 0 })
}

func TestBus_Unregister(t *testing.T) {
	mock := &transports.MockTransport{}
	bus, _ := NewBus(BusConfig{Transport: mock, SyncFrequencyHz: 120})
	bus.Connect()
	defer bus.Disconnect()

	s1 := NewShadow(1, FamilyV1Compact, DefaultModelConstants, nil)
	s2 := NewShadow(2, FamilyV1Compact, DefaultModelConstants, nil)
	bus.Register(s1)
	bus.Register(s2)
	waitFor(t, time.Second, func() bool { return len(bus.Shadows()) == 2 })

	bus.Unregister(s1)
	waitFor(t, time.Second, func() bool {
		_, ok := bus.Shadow(1)
		_, stillHas2 := bus.Shadow(2)
		return !ok && stillHas2
	})
}

func TestBus_AutodetectFindsOnlyRespondingID(t *testing.T) {
	const targetID = 3
	pingReply := &transports.MockTransport{}
	pingReply.QueuePingReply(targetID)
	modelReply := &transports.MockTransport{}
	modelReply.QueueWordReply(targetID, 12) // model 12 selects FamilyV1
	firmwareReply := &transports.MockTransport{}
	firmwareReply.QueueByteReply(targetID, 5)

	mock := &transports.MockTransport{}
	consumed := 0
	mock.ReadFunc = func(p []byte) (int, error) {
		frame := mock.WriteData[consumed:]
		if len(frame) == 0 {
			return 0, nil
		}
		consumed = len(mock.WriteData)
		if frame[2] != targetID {
			return 0, nil // no responder for any other id
		}
		switch frame[4] {
		case InstPing:
			return copy(p, pingReply.ReadData), nil
		case InstRead:
			if frame[5] == addrModelNumber {
				return copy(p, modelReply.ReadData), nil
			}
			if frame[5] == addrFirmwareVersion {
				return copy(p, firmwareReply.ReadData), nil
			}
		}
		return 0, nil
	}

	bus, _ := NewBus(BusConfig{Transport: mock, SyncFrequencyHz: 120, ScanTimeout: time.Millisecond})
	bus.Connect()
	defer bus.Disconnect()

	bus.Autodetect(1, 5)
	// Scanned lasts only until the same loop pass starts the initial
	// reads, so wait for the sweep to have finished instead.
	waitFor(t, 5*time.Second, func() bool {
		_, ok := bus.Shadow(targetID)
		return ok && bus.State() != StateScanning
	})

	s, ok := bus.Shadow(targetID)
	if !ok {
		t.Fatal("expected a shadow for the responding id")
	}
	if s.Family() != FamilyV1 {
		t.Errorf("expected the scan to resolve model 12 to FamilyV1")
	}
	if len(bus.Shadows()) != 1 {
		t.Errorf("expected exactly one discovered device, got %d", len(bus.Shadows()))
	}
}

func TestBus_ErrorCount(t *testing.T) {
	mock := &transports.MockTransport{} // nobody ever responds
	bus, _ := NewBus(BusConfig{Transport: mock, SyncFrequencyHz: 120})
	bus.Connect()
	defer bus.Disconnect()

	shadow := NewShadow(9, FamilyV1Compact, DefaultModelConstants, nil)
	bus.Register(shadow)

	// With no responder, the first keep-in-sync pass over a registered
	// device accumulates at least one read error.
	waitFor(t, 5*time.Second, func() bool { return bus.ErrorCount() > 0 })
}
