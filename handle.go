package mercury

// Handle is the public façade object foreground code actually calls
// (component G): a thin wrapper pairing one Bus with one Shadow, exposing
// typed getters/setters on the shadow's mirrored registers plus Unregister,
// which posts through the bus's message queue, and the action requests
// (refresh/reboot/reset/trigger-action), which set flags on the shadow
// for the synchronizer's next pass. Registration goes through
// Bus.RegisterDevice.
// A Handle never touches the Transport itself; every read it returns is a
// mirrored value the synchronizer most recently read back, and every
// write it issues only marks a register dirty for the synchronizer to
// commit on its next pass.
type Handle struct {
	bus    *Bus
	shadow *Shadow
}

// NewHandle wraps shadow with a Handle bound to bus. It does not register
// the shadow; call Bus.Register (or RegisterDevice) for that.
func NewHandle(bus *Bus, shadow *Shadow) *Handle {
	return &Handle{bus: bus, shadow: shadow}
}

// RegisterDevice builds a shadow for id against family (or cfg's default
// family, if family is nil), registers it with the bus, and returns a
// Handle bound to it — the common case of "I already know this device's
// id and model" that bypasses autodetect.
func (b *Bus) RegisterDevice(id byte, family *Family) *Handle {
	if family == nil {
		family = b.cfg.DefaultFamily
	}
	s := NewShadow(id, family, family.Constants, b.logger)
	b.Register(s)
	return NewHandle(b, s)
}

// Handles returns a Handle for every shadow currently registered with the
// bus, in no particular order.
func (b *Bus) Handles() []*Handle {
	shadows := b.Shadows()
	out := make([]*Handle, 0, len(shadows))
	for _, s := range shadows {
		out = append(out, NewHandle(b, s))
	}
	return out
}

// HandleFor returns a Handle for the currently registered shadow with id,
// if any.
func (b *Bus) HandleFor(id byte) (*Handle, bool) {
	s, ok := b.Shadow(id)
	if !ok {
		return nil, false
	}
	return NewHandle(b, s), true
}

// ID returns the device id this handle addresses.
func (h *Handle) ID() byte { return h.shadow.ID() }

// Family returns the control table this handle's device was instantiated
// against.
func (h *Handle) Family() *Family { return h.shadow.Family() }

// Unregister removes this handle's shadow from the bus.
func (h *Handle) Unregister() { h.bus.Unregister(h.shadow) }

// LastError returns the most recently observed protocol error bitfield.
func (h *Handle) LastError() ErrorBits { return h.shadow.LastError() }

// ErrorCount returns the cumulative count of non-zero error bitfields
// observed for this device.
func (h *Handle) ErrorCount() int { return h.shadow.ErrorCount() }

// Refresh requests a full register re-read on the synchronizer's next
// pass, without losing keep-in-sync status.
func (h *Handle) Refresh() { h.shadow.RequestRefresh() }

// Reboot requests a reboot on the synchronizer's next pass. Reboot is
// unsupported on this protocol (see Engine.Reboot) and will fail
// best-effort; the device is re-added for an initial read regardless,
// per the reboot/reset failure semantics in §7.
func (h *Handle) Reboot() { h.shadow.RequestReboot() }

// Reset requests a factory reset in the given mode on the synchronizer's
// next pass.
func (h *Handle) Reset(mode ResetMode) { h.shadow.RequestReset(mode) }

// TriggerAction requests a broadcast Action, firing every buffered
// RegWrite since the last one, on the synchronizer's next pass.
func (h *Handle) TriggerAction() { h.shadow.RequestAction() }

// get returns the mirrored value of name, or 0 if the register is not
// present in this device's family.
func (h *Handle) get(name RegisterName) int {
	v, _ := h.shadow.Get(name)
	return v
}

// GoalPosition returns the mirrored goal-position register.
func (h *Handle) GoalPosition() int { return h.get(RegGoalPosition) }

// SetGoalPosition marks the goal-position register dirty with value,
// clamped to the family's declared range; the synchronizer commits it on
// its next keep-in-sync pass.
func (h *Handle) SetGoalPosition(value int) error {
	return h.shadow.Set(RegGoalPosition, value)
}

// SetGoalPositionWithBudget sets the goal position and derives the
// moving-speed register so the move completes in roughly budgetMs
// milliseconds, per the time-budgeted move primitive in §4.3.
func (h *Handle) SetGoalPositionWithBudget(value, budgetMs int) error {
	return h.shadow.SetGoalWithBudget(RegGoalPosition, RegGoalSpeed, value, budgetMs)
}

// CurrentPosition returns the mirrored current-position register.
func (h *Handle) CurrentPosition() int { return h.get(RegCurrentPosition) }

// GoalSpeed returns the mirrored goal-speed register.
func (h *Handle) GoalSpeed() int { return h.get(RegGoalSpeed) }

// SetGoalSpeed marks the goal-speed register dirty with value.
func (h *Handle) SetGoalSpeed(value int) error {
	return h.shadow.Set(RegGoalSpeed, value)
}

// CurrentSpeed returns the mirrored current-speed register.
func (h *Handle) CurrentSpeed() int { return h.get(RegCurrentSpeed) }

// CurrentLoad returns the mirrored current-load register.
func (h *Handle) CurrentLoad() int { return h.get(RegCurrentLoad) }

// CurrentVoltage returns the mirrored current-voltage register.
func (h *Handle) CurrentVoltage() int { return h.get(RegCurrentVoltage) }

// CurrentTemperature returns the mirrored current-temperature register.
func (h *Handle) CurrentTemperature() int { return h.get(RegCurrentTemperature) }

// Moving reports whether the device last reported itself in motion.
func (h *Handle) Moving() bool { return h.get(RegMoving) != 0 }

// TorqueEnabled reports whether torque is currently mirrored as enabled.
func (h *Handle) TorqueEnabled() bool { return h.get(RegTorqueEnable) != 0 }

// SetTorqueEnabled marks the torque-enable register dirty.
func (h *Handle) SetTorqueEnabled(enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	return h.shadow.Set(RegTorqueEnable, v)
}

// LEDOn reports whether the device's indicator LED is currently mirrored
// as on.
func (h *Handle) LEDOn() bool { return h.get(RegLED) != 0 }

// SetLED marks the LED register dirty.
func (h *Handle) SetLED(on bool) error {
	v := 0
	if on {
		v = 1
	}
	return h.shadow.Set(RegLED, v)
}

// Locked reports whether the device's EEPROM write lock is mirrored as
// engaged.
func (h *Handle) Locked() bool { return h.get(RegLock) != 0 }

// SetLocked marks the EEPROM write-lock register dirty.
func (h *Handle) SetLocked(locked bool) error {
	v := 0
	if locked {
		v = 1
	}
	return h.shadow.Set(RegLock, v)
}

// Get returns the mirrored value of an arbitrary named register, for
// callers working with registers this façade has no dedicated accessor
// for.
func (h *Handle) Get(name RegisterName) (int, bool) { return h.shadow.Get(name) }

// Set marks an arbitrary named register dirty with value, clamped to its
// declared range.
func (h *Handle) Set(name RegisterName, value int) error { return h.shadow.Set(name, value) }
