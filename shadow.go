package mercury

import (
	"log"
	"sync"
)

// ResetMode selects which factory-reset variant a reset request asks for,
// mirroring the protocol's own distinction between resetting everything
// and resetting everything except the device's id and baud rate.
type ResetMode int

const (
	ResetAll ResetMode = iota
	ResetExceptIDAndBaud
)

// ActionFlags are the pending-action booleans a shadow accumulates between
// synchronizer loop iterations. The synchronizer drains and clears them
// with ConsumeFlags once per loop.
type ActionFlags struct {
	Action    bool
	Reboot    bool
	Reset     bool
	ResetMode ResetMode
	Refresh   bool
}

func (f ActionFlags) any() bool {
	return f.Action || f.Reboot || f.Reset || f.Refresh
}

// Shadow is the in-memory mirror of one device's control table: current
// values, independent EEPROM/RAM dirty flags per register, the last
// protocol error bitfield, and the action flags the synchronizer consumes.
// All fields are guarded by mu; the synchronizer and any number of
// foreground goroutines may hold a *Shadow concurrently.
type Shadow struct {
	mu sync.Mutex

	id        byte
	family    *Family
	constants ModelConstants

	values      map[RegisterName]int
	dirtyEEPROM map[RegisterName]bool
	dirtyRAM    map[RegisterName]bool

	lastError ErrorBits
	errCount  int
	flags     ActionFlags

	logger *log.Logger
}

// NewShadow returns a shadow for device id, seeded with each register's
// declared default (or zero, if unspecified).
func NewShadow(id byte, family *Family, constants ModelConstants, logger *log.Logger) *Shadow {
	if logger == nil {
		logger = log.Default()
	}
	s := &Shadow{
		id:          id,
		family:      family,
		constants:   constants,
		values:      make(map[RegisterName]int, len(family.Registers)),
		dirtyEEPROM: make(map[RegisterName]bool),
		dirtyRAM:    make(map[RegisterName]bool),
		logger:      logger,
	}
	for _, r := range family.Registers {
		if r.HasDefault {
			s.values[r.Name] = r.Default
		}
	}
	return s
}

// ID returns the device id this shadow mirrors.
func (s *Shadow) ID() byte { return s.id }

// Family returns the control table this shadow was instantiated against.
func (s *Shadow) Family() *Family { return s.family }

// Constants returns the model-derived constants (step count, running
// degree range) associated with this shadow.
func (s *Shadow) Constants() ModelConstants { return s.constants }

// Get returns the current mirrored value of name, or ok=false if name is
// not part of this shadow's family.
func (s *Shadow) Get(name RegisterName) (value int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := Find(s.family, name); !exists {
		return 0, false
	}
	return s.values[name], true
}

// Set mirrors value for name, clamped to the register's [min, max], and
// marks the register dirty on whichever of its EEPROM/RAM areas is
// present so the synchronizer will write it back. Writing a read-only
// register is ignored silently (logged at warn severity, nil returned);
// writing a register not in the family is logged and returns
// ErrUnknownRegister. Neither marks anything dirty, so a bad name or a
// stale register no longer present in a re-detected family cannot panic
// the synchronizer goroutine that eventually consumes the dirty flag.
func (s *Shadow) Set(name RegisterName, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLocked(name, value)
}

func (s *Shadow) setLocked(name RegisterName, value int) error {
	r, ok := Find(s.family, name)
	if !ok {
		s.logger.Printf("mercury: warn: device %d: set unknown register %s", s.id, name)
		return ErrUnknownRegister
	}
	if r.Access != ReadWrite {
		s.logger.Printf("mercury: warn: device %d: set read-only register %s ignored", s.id, name)
		return nil
	}
	s.values[name] = clampForRegister(r, value)
	if r.EEPROM != offsetAbsent {
		s.dirtyEEPROM[name] = true
	}
	if r.RAM != offsetAbsent {
		s.dirtyRAM[name] = true
	}
	return nil
}

// clampForRegister clamps v to r's declared range. A sign-bit register's
// Min/Max describe the unsigned wire magnitude, but the value a caller
// sets and reads back through Shadow is always the signed logical value
// (magnitude plus direction) that WireValue/SetFromWire encode and decode
// against the wire, so its clamp range is [-Max, Max] rather than [Min, Max].
func clampForRegister(r Register, v int) int {
	if r.SignBit != 0 {
		return clamp(v, -r.Max, r.Max)
	}
	return clamp(v, r.Min, r.Max)
}

func clamp(v, min, max int) int {
	if max < min { // unranged register: nothing to clamp against
		return v
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// SetGoalWithBudget sets goalReg to goal and sets speedReg to
// |current - goal| * 1000 / budgetMs (steps per second), where current is
// goalReg's mirrored value before the call, matching the time-budgeted move primitive
// present in the servo leaf classes this control table was distilled
// from, so callers can request "get there in N milliseconds" without the
// synchronizer needing to know about move timing at all.
func (s *Shadow) SetGoalWithBudget(goalReg, speedReg RegisterName, goal, budgetMs int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.values[goalReg]
	if err := s.setLocked(goalReg, goal); err != nil {
		return err
	}
	if budgetMs <= 0 {
		return nil
	}
	r, ok := Find(s.family, goalReg)
	if !ok {
		return ErrUnknownRegister
	}
	clampedGoal := clampForRegister(r, goal)
	delta := clampedGoal - current
	if delta < 0 {
		delta = -delta
	}
	speed := (delta * 1000) / budgetMs
	return s.setLocked(speedReg, speed)
}

// Commit clears the dirty flag for name in area, called by the
// synchronizer once a write has been acknowledged (or sent, under a
// no-reply ack policy, where the write is considered done on submission).
func (s *Shadow) Commit(name RegisterName, area Area) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch area {
	case AreaEEPROM:
		delete(s.dirtyEEPROM, name)
	case AreaRAM:
		delete(s.dirtyRAM, name)
	default:
		delete(s.dirtyEEPROM, name)
		delete(s.dirtyRAM, name)
	}
}

// Pending reports whether name has an uncommitted write in area.
func (s *Shadow) Pending(name RegisterName, area Area) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch area {
	case AreaEEPROM:
		return s.dirtyEEPROM[name]
	case AreaRAM:
		return s.dirtyRAM[name]
	default:
		return s.dirtyEEPROM[name] || s.dirtyRAM[name]
	}
}

// pendingNames returns every register name with an outstanding dirty flag
// in either area, each name once, without mutating the flags.
func (s *Shadow) pendingNames() []RegisterName {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[RegisterName]bool)
	var names []RegisterName
	for n := range s.dirtyEEPROM {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	for n := range s.dirtyRAM {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	return names
}

// WireValue returns name's current mirrored value already encoded the way
// it belongs on the wire: sign-magnitude for a register with a SignBit,
// unchanged otherwise. The shadow is the only component that knows a
// register's value is signed-logical rather than wire-raw, so the
// synchronizer calls this instead of inspecting r.SignBit itself.
func (s *Shadow) WireValue(name RegisterName) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := Find(s.family, name)
	if !ok {
		return 0, false
	}
	v := s.values[name]
	if r.SignBit != 0 {
		v = EncodeSignMagnitude(v, r.SignBit)
	}
	return v, true
}

// SetFromWire mirrors a raw value read back from the device, decoding it
// out of sign-magnitude first if name's register carries a SignBit. Like
// the clamp-free write path it replaces, it does not mark the register
// dirty: a value just read from the device is by definition already
// current and in range.
func (s *Shadow) SetFromWire(name RegisterName, raw int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := Find(s.family, name)
	if !ok {
		return
	}
	if r.SignBit != 0 {
		raw = DecodeSignMagnitude(raw, r.SignBit)
	}
	s.values[name] = raw
}

// SetError records the most recent protocol error bitfield reported for
// this device and increments its cumulative error count when non-zero.
func (s *Shadow) SetError(bits ErrorBits) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = bits
	if bits.HasError() {
		s.errCount++
	}
}

// LastError returns the most recently recorded protocol error bitfield.
func (s *Shadow) LastError() ErrorBits {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// ErrorCount returns the cumulative count of non-zero error bitfields
// this shadow has recorded.
func (s *Shadow) ErrorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errCount
}

// RequestAction flags this device for a broadcast Action trigger on the
// next synchronizer pass.
func (s *Shadow) RequestAction() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags.Action = true
}

// RequestReboot flags this device for a reboot attempt on the next
// synchronizer pass. The wire protocol has no reboot instruction (see
// Engine.Reboot), so the request is honored best-effort: it is queued
// and attempted, but the attempt is expected to fail.
func (s *Shadow) RequestReboot() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags.Reboot = true
}

// RequestReset flags this device for a factory reset in the given mode.
func (s *Shadow) RequestReset(mode ResetMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags.Reset = true
	s.flags.ResetMode = mode
}

// RequestRefresh flags this device for a full register re-read on the
// next synchronizer pass, without removing it from the keep-in-sync set.
func (s *Shadow) RequestRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags.Refresh = true
}

// ConsumeFlags returns the shadow's pending action flags and clears them
// atomically, so the synchronizer never processes the same request twice.
func (s *Shadow) ConsumeFlags() ActionFlags {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.flags
	s.flags = ActionFlags{}
	return f
}

// hasPendingFlags reports whether any action flag is set, without
// clearing them; used by the synchronizer to decide whether a shadow
// needs attention this loop before paying the cost of ConsumeFlags.
func (s *Shadow) hasPendingFlags() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags.any()
}

// DecodeSignMagnitude interprets a raw register value as sign-magnitude:
// bit signBit is the sign flag, and the bits below it are the magnitude.
// Registers with SignBit == 0 are plain unsigned values and are returned
// unchanged. The shadow is the only component in this package that
// decodes sign-magnitude registers; the engine and codec move raw bytes.
func DecodeSignMagnitude(raw, signBit int) int {
	if signBit == 0 {
		return raw
	}
	mask := 1 << signBit
	if raw&mask != 0 {
		return -(raw &^ mask)
	}
	return raw
}

// EncodeSignMagnitude is the inverse of DecodeSignMagnitude.
func EncodeSignMagnitude(value, signBit int) int {
	if signBit == 0 {
		return value
	}
	if value < 0 {
		return (-value) | (1 << signBit)
	}
	return value
}
