package mercury

// FamilyV1 is the control table shared by the V1 servo series: a 2000bps-
// to-1Mbps class of Mercury devices addressed 0-1023 in position and
// carrying the EEPROM/RAM split below. Offsets, defaults, and ranges are
// transcribed from the V1 control table; it is this package's default
// family, used whenever a ping's model number does not match any
// registered family.
var FamilyV1 = &Family{
	Name:         "v1",
	ModelNumbers: []int{12, 18, 24, 28, 29, 64, 107, 113},
	Constants:    ModelConstants{StepCount: 1024, RunningDegreeRange: 300},
	Registers: []Register{
		{Name: RegModelNumber, Size: 2, Access: ReadOnly, EEPROM: 0, RAM: offsetAbsent, Min: -1, Max: -1},
		{Name: RegFirmwareVersion, Size: 1, Access: ReadOnly, EEPROM: 2, RAM: offsetAbsent, Min: -1, Max: -1},
		{Name: RegID, Size: 1, Access: ReadWrite, EEPROM: 3, RAM: offsetAbsent, HasDefault: true, Default: 1, Min: 0, Max: 253},
		{Name: RegBaudRate, Size: 1, Access: ReadWrite, EEPROM: 4, RAM: offsetAbsent, HasDefault: true, Default: 1, Min: 1, Max: 254},
		{Name: RegReturnDelayTime, Size: 1, Access: ReadWrite, EEPROM: 5, RAM: offsetAbsent, HasDefault: true, Default: 250, Min: 0, Max: 254},
		{Name: RegMinPosition, Size: 2, Access: ReadWrite, EEPROM: 6, RAM: offsetAbsent, HasDefault: true, Default: 0, Min: 0, Max: 1023},
		{Name: RegMaxPosition, Size: 2, Access: ReadWrite, EEPROM: 8, RAM: offsetAbsent, HasDefault: true, Default: 1023, Min: 0, Max: 1023},
		{Name: RegTemperatureLimit, Size: 1, Access: ReadWrite, EEPROM: 11, RAM: offsetAbsent, HasDefault: true, Default: 65, Min: 0, Max: 150},
		{Name: RegVoltageLowestLimit, Size: 1, Access: ReadWrite, EEPROM: 12, RAM: offsetAbsent, HasDefault: true, Default: 90, Min: 50, Max: 250},
		{Name: RegVoltageHighestLimit, Size: 1, Access: ReadWrite, EEPROM: 13, RAM: offsetAbsent, HasDefault: true, Default: 120, Min: 50, Max: 250},
		{Name: RegMaxTorque, Size: 2, Access: ReadWrite, EEPROM: 14, RAM: offsetAbsent, HasDefault: true, Default: 1023, Min: 0, Max: 1023},
		{Name: RegStatusReturnLevel, Size: 1, Access: ReadWrite, EEPROM: 16, RAM: offsetAbsent, HasDefault: true, Default: 2, Min: 0, Max: 2},
		{Name: RegAlarmLED, Size: 1, Access: ReadWrite, EEPROM: 17, RAM: offsetAbsent, HasDefault: true, Default: 36, Min: 0, Max: 127},
		{Name: RegAlarmShutdown, Size: 1, Access: ReadWrite, EEPROM: 18, RAM: offsetAbsent, HasDefault: true, Default: 36, Min: 0, Max: 127},

		{Name: RegTorqueEnable, Size: 1, Access: ReadWrite, EEPROM: offsetAbsent, RAM: 24, HasDefault: true, Default: 0, Min: 0, Max: 1},
		{Name: RegLED, Size: 1, Access: ReadWrite, EEPROM: offsetAbsent, RAM: 25, HasDefault: true, Default: 0, Min: 0, Max: 1},
		{Name: RegCWComplianceMargin, Size: 1, Access: ReadWrite, EEPROM: offsetAbsent, RAM: 26, HasDefault: true, Default: 0, Min: 0, Max: 255},
		{Name: RegCCWComplianceMargin, Size: 1, Access: ReadWrite, EEPROM: offsetAbsent, RAM: 27, HasDefault: true, Default: 0, Min: 0, Max: 255},
		{Name: RegCWComplianceSlope, Size: 1, Access: ReadWrite, EEPROM: offsetAbsent, RAM: 28, HasDefault: true, Default: 0, Min: 2, Max: 128},
		{Name: RegCCWComplianceSlope, Size: 1, Access: ReadWrite, EEPROM: offsetAbsent, RAM: 29, HasDefault: true, Default: 0, Min: 2, Max: 128},
		{Name: RegGoalPosition, Size: 2, Access: ReadWrite, EEPROM: offsetAbsent, RAM: 30, Min: 0, Max: 1023},
		{Name: RegGoalSpeed, Size: 2, Access: ReadWrite, EEPROM: offsetAbsent, RAM: 32, Min: 0, Max: 1023, SignBit: 10},
		{Name: RegTorqueLimit, Size: 2, Access: ReadWrite, EEPROM: offsetAbsent, RAM: 34, Min: 0, Max: 1023},
		{Name: RegCurrentPosition, Size: 2, Access: ReadOnly, EEPROM: offsetAbsent, RAM: 36, Min: -1, Max: -1},
		{Name: RegCurrentSpeed, Size: 2, Access: ReadOnly, EEPROM: offsetAbsent, RAM: 38, Min: -1, Max: -1, SignBit: 10},
		{Name: RegCurrentLoad, Size: 2, Access: ReadOnly, EEPROM: offsetAbsent, RAM: 40, Min: -1, Max: -1, SignBit: 10},
		{Name: RegCurrentVoltage, Size: 1, Access: ReadOnly, EEPROM: offsetAbsent, RAM: 42, Min: -1, Max: -1},
		{Name: RegCurrentTemperature, Size: 1, Access: ReadOnly, EEPROM: offsetAbsent, RAM: 43, Min: -1, Max: -1},
		{Name: RegRegistered, Size: 1, Access: ReadOnly, EEPROM: offsetAbsent, RAM: 44, HasDefault: true, Default: 0, Min: -1, Max: -1},
		{Name: RegMoving, Size: 1, Access: ReadOnly, EEPROM: offsetAbsent, RAM: 46, HasDefault: true, Default: 0, Min: -1, Max: -1},
		{Name: RegLock, Size: 1, Access: ReadWrite, EEPROM: offsetAbsent, RAM: 47, HasDefault: true, Default: 0, Min: 0, Max: 1},
		{Name: RegPunch, Size: 2, Access: ReadWrite, EEPROM: offsetAbsent, RAM: 48, HasDefault: true, Default: 32, Min: 0, Max: 1023},
	},
}

// FamilyV1Compact is a reduced control table for smaller V1-derived
// devices (sensors and low-cost actuators): a subset of the V1 registers
// at the same addresses, without the compliance and punch tuning
// registers, the LED, torque-limit, lock and registered registers, or the
// EEPROM temperature, voltage and max-torque limits, alarm, return-delay
// and status-return-level entries, mirroring the
// SCS-series reduced-table pattern of reusing most of a richer family's
// addresses rather than defining a disjoint layout.
var FamilyV1Compact = &Family{
	Name:         "v1-compact",
	ModelNumbers: []int{9, 15},
	Constants:    ModelConstants{StepCount: 1024, RunningDegreeRange: 300},
	Registers: []Register{
		{Name: RegModelNumber, Size: 2, Access: ReadOnly, EEPROM: 0, RAM: offsetAbsent, Min: -1, Max: -1},
		{Name: RegFirmwareVersion, Size: 1, Access: ReadOnly, EEPROM: 2, RAM: offsetAbsent, Min: -1, Max: -1},
		{Name: RegID, Size: 1, Access: ReadWrite, EEPROM: 3, RAM: offsetAbsent, HasDefault: true, Default: 1, Min: 0, Max: 253},
		{Name: RegBaudRate, Size: 1, Access: ReadWrite, EEPROM: 4, RAM: offsetAbsent, HasDefault: true, Default: 1, Min: 1, Max: 254},
		{Name: RegMinPosition, Size: 2, Access: ReadWrite, EEPROM: 6, RAM: offsetAbsent, HasDefault: true, Default: 0, Min: 0, Max: 1023},
		{Name: RegMaxPosition, Size: 2, Access: ReadWrite, EEPROM: 8, RAM: offsetAbsent, HasDefault: true, Default: 1023, Min: 0, Max: 1023},
		{Name: RegTorqueEnable, Size: 1, Access: ReadWrite, EEPROM: offsetAbsent, RAM: 24, HasDefault: true, Default: 0, Min: 0, Max: 1},
		{Name: RegGoalPosition, Size: 2, Access: ReadWrite, EEPROM: offsetAbsent, RAM: 30, Min: 0, Max: 1023},
		{Name: RegGoalSpeed, Size: 2, Access: ReadWrite, EEPROM: offsetAbsent, RAM: 32, Min: 0, Max: 1023, SignBit: 10},
		{Name: RegCurrentPosition, Size: 2, Access: ReadOnly, EEPROM: offsetAbsent, RAM: 36, Min: -1, Max: -1},
		{Name: RegCurrentSpeed, Size: 2, Access: ReadOnly, EEPROM: offsetAbsent, RAM: 38, Min: -1, Max: -1, SignBit: 10},
		{Name: RegCurrentLoad, Size: 2, Access: ReadOnly, EEPROM: offsetAbsent, RAM: 40, Min: -1, Max: -1, SignBit: 10},
		{Name: RegCurrentVoltage, Size: 1, Access: ReadOnly, EEPROM: offsetAbsent, RAM: 42, Min: -1, Max: -1},
		{Name: RegCurrentTemperature, Size: 1, Access: ReadOnly, EEPROM: offsetAbsent, RAM: 43, Min: -1, Max: -1},
		{Name: RegMoving, Size: 1, Access: ReadOnly, EEPROM: offsetAbsent, RAM: 46, HasDefault: true, Default: 0, Min: -1, Max: -1},
	},
}

// DefaultRegistry returns a Registry pre-populated with the two families
// carried by this package.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterFamily(FamilyV1)
	r.RegisterFamily(FamilyV1Compact)
	return r
}

// ModelConstants holds the small set of per-model constants the control
// table itself does not express: step resolution and the servo's running
// angular range, both needed by higher-level move-time math but otherwise
// invisible to the wire protocol.
type ModelConstants struct {
	StepCount          int
	RunningDegreeRange float64
}

// DefaultModelConstants matches the V1 series' 1024-step, 300-degree horn.
var DefaultModelConstants = ModelConstants{StepCount: 1024, RunningDegreeRange: 300}
