package eval

import (
	"errors"
	"testing"

	"github.com/dc-sim/dc-sim/sim"
)

// coolState is a two-zone facility sitting comfortably below every rule
// threshold.
func coolState(tick int) *sim.FacilityState {
	racks := make([]sim.RackThermalState, 8)
	for i := range racks {
		racks[i] = sim.RackThermalState{RackID: i, Zone: i / 4, InletTempC: 22}
	}
	return &sim.FacilityState{
		Clock:   sim.ClockState{TickCount: tick, SimTimeS: float64(tick) * 60},
		Thermal: sim.FacilityThermalState{Racks: racks},
	}
}

// === Construction Tests ===

func TestNewAgent_BuiltinNames(t *testing.T) {
	for _, name := range AgentNames() {
		t.Run(name, func(t *testing.T) {
			a, err := NewAgent(name, 42)
			if err != nil {
				t.Fatalf("NewAgent(%s): %v", name, err)
			}
			if a.Name() != name {
				t.Errorf("Name() = %s, want %s", a.Name(), name)
			}
		})
	}
}

func TestNewAgent_Unknown(t *testing.T) {
	_, err := NewAgent("skynet", 42)

	var de *sim.DomainError
	if !errors.As(err, &de) || de.Kind != sim.KindNotFound {
		t.Errorf("NewAgent(skynet) error = %v, want not_found", err)
	}
}

// === Noop Tests ===

func TestNoopAgent_NeverActs(t *testing.T) {
	a, _ := NewAgent("noop", 42)

	for tick := 1; tick <= 20; tick++ {
		if got := a.Act(coolState(tick)); got != nil {
			t.Fatalf("noop acted at tick %d: %+v", tick, got)
		}
	}
}

// === Rule-Based Tests ===

func TestRuleBasedAgent_ResolvesCRACFailures(t *testing.T) {
	a := newRuleBasedAgent()
	st := coolState(1)
	st.ActiveFailures = []sim.ActiveFailure{
		{ID: "f-1", Type: sim.FailureCRACFailure, Target: "crac-0"},
		{ID: "f-2", Type: sim.FailureGPUDegraded, Target: "rack-0-srv-0"},
	}

	actions := a.Act(st)

	if len(actions) != 1 {
		t.Fatalf("actions = %+v, want one resolve", actions)
	}
	if actions[0].Type != sim.ActionResolveFailure || actions[0].FailureID != "f-1" {
		t.Errorf("action = %+v, want resolve of f-1", actions[0])
	}
}

func TestRuleBasedAgent_PreemptsLowestPriorityOnCapBreach(t *testing.T) {
	a := newRuleBasedAgent()
	st := coolState(1)
	st.Power.PowerCapExceeded = true
	st.Workload.Running = []*sim.Job{
		{ID: "j-high", Priority: 5},
		{ID: "j-low", Priority: 1},
		{ID: "j-mid", Priority: 3},
	}

	actions := a.Act(st)

	if len(actions) != 1 {
		t.Fatalf("actions = %+v, want one preempt", actions)
	}
	if actions[0].Type != sim.ActionPreemptJob || actions[0].JobID != "j-low" {
		t.Errorf("action = %+v, want preempt of j-low", actions[0])
	}
}

func TestRuleBasedAgent_ChasesHotZoneThenRestores(t *testing.T) {
	// BDD: A hot zone gets its setpoint dropped once, restored once cool
	a := newRuleBasedAgent()

	hot := coolState(1)
	hot.Thermal.Racks[2].InletTempC = 33

	actions := a.Act(hot)
	if len(actions) != 1 || actions[0].Type != sim.ActionAdjustCooling {
		t.Fatalf("actions = %+v, want one adjust_cooling", actions)
	}
	if *actions[0].RackID != 2 || *actions[0].SetpointC != 15 {
		t.Errorf("adjustment = rack %d setpoint %v, want rack 2 at 15",
			*actions[0].RackID, *actions[0].SetpointC)
	}

	// Still hot: the zone is already lowered, no repeat action.
	if actions = a.Act(hot); len(actions) != 0 {
		t.Errorf("repeat actions while hot = %+v, want none", actions)
	}

	// Back below the cool threshold: the same rack carries the restore.
	if actions = a.Act(coolState(3)); len(actions) != 1 {
		t.Fatalf("restore actions = %+v, want one", actions)
	}
	if *actions[0].RackID != 2 || *actions[0].SetpointC != 18 {
		t.Errorf("restore = rack %d setpoint %v, want rack 2 at 18",
			*actions[0].RackID, *actions[0].SetpointC)
	}

	// Restored zones go quiet.
	if actions = a.Act(coolState(4)); len(actions) != 0 {
		t.Errorf("actions after restore = %+v, want none", actions)
	}
}

// === Random Tests ===

func TestRandomAgent_ActsOnIntervalOnly(t *testing.T) {
	a, err := NewAgent("random", 42)
	if err != nil {
		t.Fatalf("NewAgent: %v", err)
	}

	if got := a.Act(coolState(1)); got != nil {
		t.Errorf("random acted off-interval: %+v", got)
	}
	if got := a.Act(coolState(7)); got != nil {
		t.Errorf("random acted off-interval: %+v", got)
	}
}

func TestRandomAgent_ProducesWellFormedActions(t *testing.T) {
	a, err := NewAgent("random", 42)
	if err != nil {
		t.Fatalf("NewAgent: %v", err)
	}

	st := coolState(10)
	st.ActiveFailures = []sim.ActiveFailure{{ID: "f-1", Type: sim.FailurePDUSpike}}
	st.Power.Racks = []sim.RackPowerState{
		{RackID: 0, Servers: []sim.ServerPowerState{{ServerID: sim.ServerID(0, 0)}}},
	}

	for tick := 10; tick <= 200; tick += 10 {
		st.Clock.TickCount = tick
		for _, action := range a.Act(st) {
			switch action.Type {
			case sim.ActionAdjustCooling:
				if action.RackID == nil || *action.RackID < 0 || *action.RackID >= 8 {
					t.Errorf("tick %d: cooling action names no valid rack: %+v", tick, action)
				}
				if action.SetpointC == nil || *action.SetpointC < 15 || *action.SetpointC > 25 {
					t.Errorf("tick %d: setpoint out of band: %+v", tick, action)
				}
			case sim.ActionResolveFailure:
				if action.FailureID != "f-1" {
					t.Errorf("tick %d: resolve names unknown failure: %+v", tick, action)
				}
			case sim.ActionThrottleGPU:
				if action.ServerID != sim.ServerID(0, 0) || action.PowerCapPct == nil {
					t.Errorf("tick %d: throttle malformed: %+v", tick, action)
				}
				if *action.PowerCapPct < 0.5 || *action.PowerCapPct > 1.0 {
					t.Errorf("tick %d: cap %v outside [0.5, 1.0]", tick, *action.PowerCapPct)
				}
			default:
				t.Errorf("tick %d: unexpected action type %s", tick, action.Type)
			}
		}
	}
}
