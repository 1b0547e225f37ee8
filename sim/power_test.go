package sim

import (
	"math"
	"testing"

	"github.com/dc-sim/dc-sim/sim/internal/testutil"
)

// === GPU Power Curve Tests ===

func TestPowerModel_GPUPowerCurve(t *testing.T) {
	m := NewPowerModel(DefaultConfig()) // 300 W TDP

	tests := []struct {
		name string
		util float64
		want float64
	}{
		{"idle draws the floor", 0, 15},           // 0.05 * 300
		{"full load draws TDP", 1.0, 300},         // 0.05 + 0.95*(0.3+0.7)
		{"half load is sub-linear", 0.5, 107.625}, // (0.05 + 0.95*0.325) * 300
		{"overdrive clamps to TDP", 1.5, 300},
		{"negative clamps to floor", -0.5, 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testutil.AssertFloat64Equal(t, "gpuPowerCurve", tt.want, m.gpuPowerCurve(tt.util), 1e-9)
		})
	}
}

func TestPowerModel_CurveIsMonotonic(t *testing.T) {
	m := NewPowerModel(DefaultConfig())
	prev := -1.0
	for u := 0.0; u <= 1.0; u += 0.05 {
		p := m.gpuPowerCurve(u)
		if p <= prev {
			t.Fatalf("power curve not monotonic at util %.2f: %v <= %v", u, p, prev)
		}
		prev = p
	}
}

// === PUE Tests ===

func TestPowerModel_DynamicPUE(t *testing.T) {
	m := NewPowerModel(DefaultConfig()) // base 1.4, cap 120 kW

	tests := []struct {
		name     string
		itKW     float64
		ambientC float64
		want     float64
	}{
		{"full load cool day is base", 120, 20, 1.4},
		{"zero load worst overhead", 0, 20, 1.96},               // 1.4*1.4
		{"half load", 60, 20, 1.68},                             // 1.4*1.2
		{"hot ambient adds overhead", 120, 30, 1.44},            // 1.4 + 0.005*8
		{"clamped at 1.6x base", 0, 100, 2.24},                  // would be 2.35
		{"overload clamps load to 1", 200, 20, 1.4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testutil.AssertFloat64Equal(t, "dynamicPUE", tt.want, m.dynamicPUE(tt.itKW, tt.ambientC), 1e-9)
		})
	}
}

// === Facility Step Tests ===

func TestPowerModel_StepIdleFacility(t *testing.T) {
	cfg := DefaultConfig()
	f := NewFacility(cfg)
	m := NewPowerModel(cfg)
	e := newTestFailureEngine(42)

	st := m.Step(f, e, 22)

	// 32 servers at 200 W base plus 4 idle GPUs at 15 W each.
	wantIT := 32.0 * (200 + 4*15) / 1000.0
	testutil.AssertFloat64Equal(t, "ITPowerKW", wantIT, st.ITPowerKW, 1e-9)
	if st.TotalPowerKW <= st.ITPowerKW {
		t.Errorf("TotalPowerKW %v should exceed IT %v", st.TotalPowerKW, st.ITPowerKW)
	}
	testutil.AssertFloat64Equal(t, "TotalPowerKW", st.ITPowerKW*st.PUE, st.TotalPowerKW, 1e-9)
	if st.PowerCapExceeded {
		t.Error("idle facility reports PowerCapExceeded")
	}
	if len(st.Racks) != cfg.Facility.NumRacks {
		t.Fatalf("racks = %d, want %d", len(st.Racks), cfg.Facility.NumRacks)
	}
	// Heat publication feeds the thermal model.
	for r := range f.Racks {
		testutil.AssertFloat64Equal(t, "rack heat", st.Racks[r].TotalPowerKW, f.Racks[r].HeatKW, 1e-9)
	}
}

func TestPowerModel_StepPDUSpike(t *testing.T) {
	// BDD: An active pdu_spike multiplies one rack's draw by 1.2
	cfg := DefaultConfig()
	f := NewFacility(cfg)
	m := NewPowerModel(cfg)
	e := newTestFailureEngine(42)

	base := m.Step(f, e, 22)
	if _, err := e.Inject(FailurePDUSpike, "rack-0", nil, 0); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	spiked := m.Step(f, e, 22)

	if !spiked.Racks[0].PDUSpikeActive {
		t.Error("rack 0 should report PDUSpikeActive")
	}
	testutil.AssertFloat64Equal(t, "spiked rack power",
		base.Racks[0].TotalPowerKW*pduSpikeMultiplier, spiked.Racks[0].TotalPowerKW, 1e-9)
	testutil.AssertFloat64Equal(t, "unaffected rack power",
		base.Racks[1].TotalPowerKW, spiked.Racks[1].TotalPowerKW, 1e-9)
}

func TestPowerModel_HeadroomAndCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Power.FacilityPowerCapKW = 10 // tiny feed, always exceeded
	f := NewFacility(cfg)
	m := NewPowerModel(cfg)
	e := newTestFailureEngine(42)

	st := m.Step(f, e, 22)

	if !st.PowerCapExceeded {
		t.Error("undersized feed not reported as exceeded")
	}
	if st.HeadroomKW >= 0 {
		t.Errorf("HeadroomKW = %v, want negative", st.HeadroomKW)
	}
	if math.Abs(st.HeadroomKW-(cfg.Power.FacilityPowerCapKW-st.TotalPowerKW)) > 1e-9 {
		t.Errorf("HeadroomKW inconsistent with cap and total")
	}
}

func TestPowerModel_UtilisationRaisesDraw(t *testing.T) {
	cfg := DefaultConfig()
	f := NewFacility(cfg)
	m := NewPowerModel(cfg)
	e := newTestFailureEngine(42)

	idle := m.Step(f, e, 22)
	for i := range f.Servers {
		f.Servers[i].Utilisation = 0.9
	}
	busy := m.Step(f, e, 22)

	if busy.ITPowerKW <= idle.ITPowerKW {
		t.Errorf("busy IT power %v not above idle %v", busy.ITPowerKW, idle.ITPowerKW)
	}
	if busy.PUE >= idle.PUE {
		t.Errorf("PUE should improve with load: busy %v, idle %v", busy.PUE, idle.PUE)
	}
}
