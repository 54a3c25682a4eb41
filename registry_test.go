package mercury

import "testing"

func TestFamily_FindAndAddress(t *testing.T) {
	f := FamilyV1

	r, ok := Find(f, RegGoalPosition)
	if !ok {
		t.Fatal("expected RegGoalPosition to be present")
	}
	if r.RAM != 30 {
		t.Errorf("RAM offset: got %d, want 30", r.RAM)
	}

	if _, ok := Address(f, RegGoalPosition, AreaEEPROM); ok {
		t.Error("RegGoalPosition has no EEPROM address")
	}
	addr, ok := Address(f, RegGoalPosition, AreaRAM)
	if !ok || addr != 30 {
		t.Errorf("RAM address: got (%d, %v), want (30, true)", addr, ok)
	}
}

func TestFamily_AreaAutoPrefersRAM(t *testing.T) {
	f := FamilyV1

	// RegID lives only in EEPROM; auto must fall back to it.
	addr, ok := Address(f, RegID, AreaAuto)
	if !ok || addr != 3 {
		t.Errorf("RegID auto address: got (%d, %v), want (3, true)", addr, ok)
	}

	// RegGoalPosition lives only in RAM; auto must return the RAM offset.
	addr, ok = Address(f, RegGoalPosition, AreaAuto)
	if !ok || addr != 30 {
		t.Errorf("RegGoalPosition auto address: got (%d, %v), want (30, true)", addr, ok)
	}

	// A register with both addresses: auto must pick the RAM one.
	both := Register{EEPROM: 5, RAM: 40}
	addr, ok = both.addressIn(AreaAuto)
	if !ok || addr != 40 {
		t.Errorf("dual-area auto address: got (%d, %v), want (40, true)", addr, ok)
	}
}

func TestFamily_UnknownRegisterAbsent(t *testing.T) {
	compact := FamilyV1Compact

	if _, ok := Find(compact, RegCWComplianceMargin); ok {
		t.Error("compact family should not carry the compliance-margin register")
	}
	if _, ok := Address(compact, RegCWComplianceMargin, AreaAuto); ok {
		t.Error("Address should report absence for an unknown register")
	}
}

func TestFamily_EveryRegisterHasAnAddress(t *testing.T) {
	for _, f := range []*Family{FamilyV1, FamilyV1Compact} {
		for _, r := range f.Registers {
			if r.EEPROM == offsetAbsent && r.RAM == offsetAbsent {
				t.Errorf("family %s: register %s has neither EEPROM nor RAM offset", f.Name, r.Name)
			}
		}
	}
}

func TestFamily_RegisterAtAndCount(t *testing.T) {
	f := FamilyV1Compact
	if RegisterCount(f) != len(f.Registers) {
		t.Fatalf("RegisterCount: got %d, want %d", RegisterCount(f), len(f.Registers))
	}
	first, ok := RegisterAt(f, 0)
	if !ok || first.Name != RegModelNumber {
		t.Errorf("RegisterAt(0): got (%v, %v), want (%v, true)", first.Name, ok, RegModelNumber)
	}
	if _, ok := RegisterAt(f, RegisterCount(f)); ok {
		t.Error("RegisterAt out of range should report ok=false")
	}
}

func TestRegistry_FamilyByModelNumberFallback(t *testing.T) {
	r := DefaultRegistry()

	f := r.FamilyByModelNumber(24, FamilyV1Compact) // 24 is a registered V1 model
	if f != FamilyV1 {
		t.Errorf("expected FamilyV1 for a known model number")
	}

	f = r.FamilyByModelNumber(999999, FamilyV1Compact) // unknown model
	if f != FamilyV1Compact {
		t.Error("expected the fallback family for an unknown model number")
	}
}

func TestRegistry_FamilyByName(t *testing.T) {
	r := DefaultRegistry()

	f, ok := r.FamilyByName("v1")
	if !ok || f != FamilyV1 {
		t.Errorf("FamilyByName(v1): got (%v, %v)", f, ok)
	}
	if _, ok := r.FamilyByName("does-not-exist"); ok {
		t.Error("expected ok=false for an unregistered family name")
	}
}

func TestRegisterName_String(t *testing.T) {
	if RegGoalPosition.String() != "goal_position" {
		t.Errorf("got %q, want goal_position", RegGoalPosition.String())
	}
	if s := RegisterName(9999).String(); s == "" {
		t.Error("expected a non-empty fallback string for an unknown register name")
	}
}
