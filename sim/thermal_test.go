package sim

import (
	"testing"

	"github.com/dc-sim/dc-sim/sim/internal/testutil"
)

// === Ambient and Setpoint Tests ===

func TestThermalModel_AmbientTemp(t *testing.T) {
	m := NewThermalModel(DefaultConfig()) // baseline 22

	testutil.AssertFloat64Equal(t, "baseline crossing", 22.0, m.AmbientTemp(14), 1e-9)
	testutil.AssertFloat64Equal(t, "evening peak", 26.0, m.AmbientTemp(20), 1e-9)
	testutil.AssertFloat64Equal(t, "morning trough", 18.0, m.AmbientTemp(8), 1e-9)
}

func TestThermalModel_SetpointMultiplier(t *testing.T) {
	tests := []struct {
		name     string
		setpoint float64
		want     float64
	}{
		{"default setpoint is neutral", 18, 1.0},
		{"lower setpoint buys capacity", 13, 1.1},
		{"higher setpoint sheds capacity", 23, 0.9},
		{"clamped low", 40, 0.8},
		{"clamped high", -10, 1.2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewThermalModel(DefaultConfig())
			m.SetZoneSetpoint(0, tt.setpoint)
			testutil.AssertFloat64Equal(t, "setpointMultiplier", tt.want, m.setpointMultiplier(0), 1e-9)
		})
	}
}

func TestThermalModel_ZoneSetpointDefault(t *testing.T) {
	m := NewThermalModel(DefaultConfig())
	if got := m.ZoneSetpoint(1); got != 18 {
		t.Errorf("untouched zone setpoint = %v, want 18", got)
	}
	m.SetZoneSetpoint(1, 15)
	if got := m.ZoneSetpoint(1); got != 15 {
		t.Errorf("setpoint after set = %v, want 15", got)
	}
	if got := m.ZoneSetpoint(0); got != 18 {
		t.Errorf("sibling zone setpoint = %v, want 18", got)
	}
}

// === Step Tests ===

// stepThermal publishes a uniform rack heat load and advances one tick.
func stepThermal(m *ThermalModel, f *Facility, e *FailureEngine, heatKW float64) FacilityThermalState {
	for i := range f.Racks {
		f.Racks[i].HeatKW = heatKW
	}
	return m.Step(f, e, 8) // 08:00, ambient at its morning trough
}

func TestThermalModel_IdleStaysAtAmbient(t *testing.T) {
	cfg := DefaultConfig()
	f := NewFacility(cfg)
	m := NewThermalModel(cfg)
	e := newTestFailureEngine(42)

	var st FacilityThermalState
	for i := 0; i < 5; i++ {
		st = stepThermal(m, f, e, 0)
	}

	for _, rs := range st.Racks {
		// Cooling exceeds zero heat, so inlets clamp at ambient.
		testutil.AssertFloat64Equal(t, "idle inlet", st.AmbientTempC, rs.InletTempC, 1e-9)
		if rs.Throttled {
			t.Errorf("rack %d throttled while idle", rs.RackID)
		}
	}
}

func TestThermalModel_HeatRaisesInlet(t *testing.T) {
	// BDD: Heat beyond cooling capacity warms the room tick over tick
	cfg := DefaultConfig()
	f := NewFacility(cfg)
	m := NewThermalModel(cfg)
	e := newTestFailureEngine(42)

	first := stepThermal(m, f, e, 20) // 20 kW/rack >> 50/4 kW cooling share
	second := stepThermal(m, f, e, 20)

	if second.AvgInletTempC <= first.AvgInletTempC {
		t.Errorf("inlet not rising under overload: %v then %v", first.AvgInletTempC, second.AvgInletTempC)
	}
}

func TestThermalModel_CRACFailureHeatsZone(t *testing.T) {
	// BDD: A crac_failure removes cooling from its zone only
	cfg := DefaultConfig()
	f := NewFacility(cfg)
	m := NewThermalModel(cfg)
	e := newTestFailureEngine(42)

	if _, err := e.Inject(FailureCRACFailure, "crac-0", nil, 0); err != nil {
		t.Fatalf("Inject: %v", err)
	}

	var st FacilityThermalState
	for i := 0; i < 30; i++ {
		st = stepThermal(m, f, e, 5)
	}

	// Zone 0 is racks 0-3, zone 1 racks 4-7.
	if st.Racks[0].InletTempC <= st.Racks[4].InletTempC {
		t.Errorf("failed zone inlet %v not above healthy zone %v",
			st.Racks[0].InletTempC, st.Racks[4].InletTempC)
	}
	if st.Racks[0].CoolingKW != 0 {
		t.Errorf("failed zone still cooling %v kW", st.Racks[0].CoolingKW)
	}
	if st.Racks[4].CoolingKW <= 0 {
		t.Errorf("healthy zone lost cooling")
	}
}

func TestThermalModel_ThrottleHysteresis(t *testing.T) {
	// BDD: Throttle trips at critical and clears only two degrees below
	cfg := DefaultConfig() // critical 40
	f := NewFacility(cfg)
	m := NewThermalModel(cfg)
	e := newTestFailureEngine(42)

	// Force the rack straight to the critical temperature.
	f.Racks[0].InletTempC = cfg.Thermal.CriticalInletTempC + 1
	st := stepThermal(m, f, e, 30)
	if !st.Racks[0].Throttled {
		t.Fatalf("rack at %v C not throttled (critical %v)", st.Racks[0].InletTempC, cfg.Thermal.CriticalInletTempC)
	}

	// Cooling to just below critical must NOT clear the throttle. The heat
	// load roughly balances removal so the inlet holds inside the band.
	f.Racks[0].InletTempC = cfg.Thermal.CriticalInletTempC - 1
	st = stepThermal(m, f, e, 10)
	if !st.Racks[0].Throttled {
		t.Error("throttle cleared within the hysteresis band")
	}

	// Two degrees under does clear it.
	f.Racks[0].InletTempC = cfg.Thermal.CriticalInletTempC - throttleHysteresisC - 3
	st = stepThermal(m, f, e, 0)
	if st.Racks[0].Throttled {
		t.Error("throttle not cleared below the hysteresis band")
	}
}

func TestThermalModel_LowerSetpointCoolsFaster(t *testing.T) {
	cfg := DefaultConfig()
	run := func(setpoint float64) float64 {
		f := NewFacility(cfg)
		m := NewThermalModel(cfg)
		e := newTestFailureEngine(42)
		m.SetZoneSetpoint(0, setpoint)
		var st FacilityThermalState
		for i := 0; i < 20; i++ {
			st = stepThermal(m, f, e, 14)
		}
		return st.Racks[0].InletTempC
	}

	cold := run(12)
	warm := run(24)
	if cold >= warm {
		t.Errorf("lower setpoint inlet %v not below higher setpoint inlet %v", cold, warm)
	}
}

func TestThermalModel_InletClampedToCeiling(t *testing.T) {
	cfg := DefaultConfig()
	f := NewFacility(cfg)
	m := NewThermalModel(cfg)
	e := newTestFailureEngine(42)
	if _, err := e.Inject(FailureCRACFailure, "crac-0", nil, 0); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	if _, err := e.Inject(FailureCRACFailure, "crac-1", nil, 0); err != nil {
		t.Fatalf("Inject: %v", err)
	}

	var st FacilityThermalState
	for i := 0; i < 500; i++ {
		st = stepThermal(m, f, e, 50)
	}

	if st.MaxInletTempC > maxInletTempC {
		t.Errorf("MaxInletTempC = %v, want <= %v", st.MaxInletTempC, maxInletTempC)
	}
	if len(st.ThrottledRacks) != len(f.Racks) {
		t.Errorf("throttled racks = %d, want all %d", len(st.ThrottledRacks), len(f.Racks))
	}
}
