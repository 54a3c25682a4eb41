package mercury

import "fmt"

// RegisterName symbolically identifies one control-table entry. The V1
// control table carried here mirrors the register layout documented for
// the Mercury v1 servo series: an EEPROM block of configuration registers
// followed by a RAM block of volatile, power-cycle-reset registers.
type RegisterName int

const (
	RegModelNumber RegisterName = iota
	RegFirmwareVersion
	RegID
	RegBaudRate
	RegReturnDelayTime
	RegMinPosition
	RegMaxPosition
	RegTemperatureLimit
	RegVoltageLowestLimit
	RegVoltageHighestLimit
	RegMaxTorque
	RegStatusReturnLevel
	RegAlarmLED
	RegAlarmShutdown
	RegTorqueEnable
	RegLED
	RegCWComplianceMargin
	RegCCWComplianceMargin
	RegCWComplianceSlope
	RegCCWComplianceSlope
	RegGoalPosition
	RegGoalSpeed
	RegTorqueLimit
	RegCurrentPosition
	RegCurrentSpeed
	RegCurrentLoad
	RegCurrentVoltage
	RegCurrentTemperature
	RegRegistered
	RegMoving
	RegLock
	RegPunch
)

var registerNames = map[RegisterName]string{
	RegModelNumber:         "model_number",
	RegFirmwareVersion:     "firmware_version",
	RegID:                  "id",
	RegBaudRate:            "baud_rate",
	RegReturnDelayTime:     "return_delay_time",
	RegMinPosition:         "min_position",
	RegMaxPosition:         "max_position",
	RegTemperatureLimit:    "temperature_limit",
	RegVoltageLowestLimit:  "voltage_lowest_limit",
	RegVoltageHighestLimit: "voltage_highest_limit",
	RegMaxTorque:           "max_torque",
	RegStatusReturnLevel:   "status_return_level",
	RegAlarmLED:            "alarm_led",
	RegAlarmShutdown:       "alarm_shutdown",
	RegTorqueEnable:        "torque_enable",
	RegLED:                 "led",
	RegCWComplianceMargin:  "cw_compliance_margin",
	RegCCWComplianceMargin: "ccw_compliance_margin",
	RegCWComplianceSlope:   "cw_compliance_slope",
	RegCCWComplianceSlope:  "ccw_compliance_slope",
	RegGoalPosition:        "goal_position",
	RegGoalSpeed:           "goal_speed",
	RegTorqueLimit:         "torque_limit",
	RegCurrentPosition:     "current_position",
	RegCurrentSpeed:        "current_speed",
	RegCurrentLoad:         "current_load",
	RegCurrentVoltage:      "current_voltage",
	RegCurrentTemperature:  "current_temperature",
	RegRegistered:          "registered",
	RegMoving:              "moving",
	RegLock:                "lock",
	RegPunch:               "punch",
}

func (n RegisterName) String() string {
	if s, ok := registerNames[n]; ok {
		return s
	}
	return fmt.Sprintf("register(%d)", int(n))
}

// Access is a register's permitted operation set.
type Access int

const (
	ReadOnly Access = iota
	ReadWrite
)

// Area selects which of a register's two possible addresses to use.
// AreaAuto prefers RAM when present, falling back to EEPROM, matching the
// common case where a RAM-shadowed EEPROM register should be read back
// from the live value rather than the configuration value.
type Area int

const (
	AreaAuto Area = iota
	AreaEEPROM
	AreaRAM
)

// offsetAbsent marks an EEPROM or RAM offset that a register does not have.
const offsetAbsent = -1

// Register is one control-table entry: a symbolic name, its wire size,
// access mode, its address in each memory area it lives in (at least one
// of EEPROM/RAM must be present), and its valid range.
type Register struct {
	Name   RegisterName
	Size   int // 1 or 2 bytes
	Access Access

	EEPROM int // offsetAbsent if this register has no EEPROM-side address
	RAM    int // offsetAbsent if this register has no RAM-side address

	HasDefault bool
	Default    int
	Min, Max   int

	// SignBit, when nonzero, is the bit position a sign-magnitude decode
	// treats as the sign flag for this register's value; see DecodeSignMagnitude.
	SignBit int
}

// addressIn returns the register's address in the requested area.
func (r Register) addressIn(area Area) (int, bool) {
	switch area {
	case AreaEEPROM:
		if r.EEPROM == offsetAbsent {
			return 0, false
		}
		return r.EEPROM, true
	case AreaRAM:
		if r.RAM == offsetAbsent {
			return 0, false
		}
		return r.RAM, true
	default: // AreaAuto
		if r.RAM != offsetAbsent {
			return r.RAM, true
		}
		if r.EEPROM != offsetAbsent {
			return r.EEPROM, true
		}
		return 0, false
	}
}

// Family is an ordered per-device-family control table.
type Family struct {
	Name         string
	ModelNumbers []int
	Registers    []Register
	Constants    ModelConstants
}

// RegisterCount returns the number of descriptors in f.
func RegisterCount(f *Family) int {
	return len(f.Registers)
}

// RegisterAt returns the descriptor at position index in f's declared
// order, or ok=false if index is out of range.
func RegisterAt(f *Family, index int) (Register, bool) {
	if index < 0 || index >= len(f.Registers) {
		return Register{}, false
	}
	return f.Registers[index], true
}

// Find looks up a descriptor by symbolic name. Lookup is O(k) over the
// family, matching the control table's role as small, static, read-only
// data rather than a hot-path lookup structure.
func Find(f *Family, name RegisterName) (Register, bool) {
	for _, r := range f.Registers {
		if r.Name == name {
			return r, true
		}
	}
	return Register{}, false
}

// Address resolves name to its offset in the requested area. AreaAuto
// returns the RAM offset when present, else the EEPROM offset.
func Address(f *Family, name RegisterName, area Area) (int, bool) {
	r, ok := Find(f, name)
	if !ok {
		return 0, false
	}
	return r.addressIn(area)
}

// Registry maps servo families by name and by reported model number, the
// way a ping's model-number reply selects a control table at autodetect
// time. A registry lookup by model number that misses falls back to a
// caller-supplied default family rather than failing, since an
// unrecognized model can usually still be driven through the common
// register subset that every family in this protocol generation shares.
type Registry struct {
	byName   map[string]*Family
	byNumber map[int]*Family
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:   make(map[string]*Family),
		byNumber: make(map[int]*Family),
	}
}

// RegisterFamily adds f to the registry, indexed by name and by every
// model number it declares.
func (r *Registry) RegisterFamily(f *Family) {
	r.byName[f.Name] = f
	for _, n := range f.ModelNumbers {
		r.byNumber[n] = f
	}
}

// FamilyByName returns the family registered under name.
func (r *Registry) FamilyByName(name string) (*Family, bool) {
	f, ok := r.byName[name]
	return f, ok
}

// FamilyByModelNumber returns the family whose ModelNumbers includes
// model, or fallback if no family claims that model number.
func (r *Registry) FamilyByModelNumber(model int, fallback *Family) *Family {
	if f, ok := r.byNumber[model]; ok {
		return f
	}
	return fallback
}
