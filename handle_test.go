package mercury

import (
	"testing"
	"time"

	"github.com/mercurybus/mercury/transports"
)

func TestHandle_RegisterDeviceAndLookup(t *testing.T) {
	mock := &transports.MockTransport{}
	bus, _ := NewBus(BusConfig{Transport: mock, SyncFrequencyHz: 120})
	bus.Connect()
	defer bus.Disconnect()

	h := bus.RegisterDevice(7, FamilyV1Compact)
	if h.ID() != 7 {
		t.Errorf("ID: got %d, want 7", h.ID())
	}
	if h.Family() != FamilyV1Compact {
		t.Error("expected the requested family to be used")
	}

	waitFor(t, time.Second, func() bool {
		_, ok := bus.HandleFor(7)
		return ok
	})

	found, ok := bus.HandleFor(7)
	if !ok || found.ID() != 7 {
		t.Errorf("HandleFor(7): got (%v, %v)", found, ok)
	}

	handles := bus.Handles()
	if len(handles) != 1 {
		t.Fatalf("Handles: got %d, want 1", len(handles))
	}
}

func TestHandle_RegisterDeviceDefaultsFamily(t *testing.T) {
	mock := &transports.MockTransport{}
	bus, _ := NewBus(BusConfig{Transport: mock, SyncFrequencyHz: 120, DefaultFamily: FamilyV1})
	bus.Connect()
	defer bus.Disconnect()

	h := bus.RegisterDevice(8, nil)
	if h.Family() != FamilyV1 {
		t.Error("expected a nil family to fall back to cfg.DefaultFamily")
	}
}

func TestHandle_GettersReflectShadow(t *testing.T) {
	shadow := NewShadow(1, FamilyV1, DefaultModelConstants, nil)
	h := NewHandle(nil, shadow)

	if err := h.SetGoalPosition(512); err != nil {
		t.Fatalf("SetGoalPosition: %v", err)
	}
	if got := h.GoalPosition(); got != 512 {
		t.Errorf("GoalPosition: got %d, want 512", got)
	}

	if err := h.SetTorqueEnabled(true); err != nil {
		t.Fatalf("SetTorqueEnabled: %v", err)
	}
	if !h.TorqueEnabled() {
		t.Error("expected torque to read back as enabled")
	}

	if err := h.SetLED(true); err != nil {
		t.Fatalf("SetLED: %v", err)
	}
	if !h.LEDOn() {
		t.Error("expected LED to read back as on")
	}
	if err := h.SetLED(false); err != nil {
		t.Fatalf("SetLED: %v", err)
	}
	if h.LEDOn() {
		t.Error("expected LED to read back as off")
	}

	if err := h.SetLocked(true); err != nil {
		t.Fatalf("SetLocked: %v", err)
	}
	if !h.Locked() {
		t.Error("expected lock to read back as engaged")
	}
}

func TestHandle_SetGoalSpeedNegativePreservesDirection(t *testing.T) {
	shadow := NewShadow(1, FamilyV1, DefaultModelConstants, nil)
	h := NewHandle(nil, shadow)

	if err := h.SetGoalSpeed(-500); err != nil {
		t.Fatalf("SetGoalSpeed: %v", err)
	}
	if got := h.GoalSpeed(); got != -500 {
		t.Errorf("GoalSpeed: got %d, want -500 (direction must survive the clamp)", got)
	}

	if err := h.SetGoalSpeed(-5000); err != nil {
		t.Fatalf("SetGoalSpeed: %v", err)
	}
	if got := h.GoalSpeed(); got != -1023 {
		t.Errorf("GoalSpeed: got %d, want -1023 (magnitude clamped, direction kept)", got)
	}
}

func TestHandle_SetMarksDirty(t *testing.T) {
	shadow := NewShadow(1, FamilyV1, DefaultModelConstants, nil)
	h := NewHandle(nil, shadow)

	h.SetGoalPosition(200)
	if !shadow.Pending(RegGoalPosition, AreaRAM) {
		t.Error("SetGoalPosition should mark the register dirty")
	}
}

func TestHandle_SetGoalPositionWithBudget(t *testing.T) {
	shadow := NewShadow(1, FamilyV1, DefaultModelConstants, nil)
	h := NewHandle(nil, shadow)

	if err := h.SetGoalPositionWithBudget(400, 2000); err != nil {
		t.Fatalf("SetGoalPositionWithBudget: %v", err)
	}
	if got := h.GoalPosition(); got != 400 {
		t.Errorf("GoalPosition: got %d, want 400", got)
	}
	if got := h.GoalSpeed(); got != 200 {
		t.Errorf("GoalSpeed: got %d, want 200", got)
	}
}

func TestHandle_ArbitraryGetSet(t *testing.T) {
	shadow := NewShadow(1, FamilyV1, DefaultModelConstants, nil)
	h := NewHandle(nil, shadow)

	if err := h.Set(RegReturnDelayTime, 10); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok := h.Get(RegReturnDelayTime)
	if !ok || got != 10 {
		t.Errorf("Get: got (%d, %v), want (10, true)", got, ok)
	}
}

func TestHandle_ErrorAndActionPassThrough(t *testing.T) {
	shadow := NewShadow(1, FamilyV1, DefaultModelConstants, nil)
	h := NewHandle(nil, shadow)

	shadow.SetError(ErrBitOverheat)
	if h.LastError() != ErrBitOverheat {
		t.Errorf("LastError: got %v, want ErrBitOverheat", h.LastError())
	}
	if h.ErrorCount() != 1 {
		t.Errorf("ErrorCount: got %d, want 1", h.ErrorCount())
	}

	h.Refresh()
	h.Reboot()
	h.Reset(ResetExceptIDAndBaud)
	h.TriggerAction()

	flags := shadow.ConsumeFlags()
	if !flags.Refresh || !flags.Reboot || !flags.Reset || !flags.Action {
		t.Errorf("expected every flag set after Refresh/Reboot/Reset/TriggerAction, got %+v", flags)
	}
	if flags.ResetMode != ResetExceptIDAndBaud {
		t.Errorf("ResetMode: got %v, want ResetExceptIDAndBaud", flags.ResetMode)
	}
}
