package eval

import (
	"errors"
	"testing"

	"github.com/dc-sim/dc-sim/sim"
)

// === Lookup Tests ===

func TestLookup_KnownScenario(t *testing.T) {
	sc, err := Lookup("thermal_crisis")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	if sc.ID != "thermal_crisis" || sc.DurationTicks != 120 || sc.Seed != 123 {
		t.Errorf("scenario = %+v, want thermal_crisis for 120 ticks at seed 123", sc)
	}
	if len(sc.ScriptedFailures) != 1 {
		t.Fatalf("scripted failures = %d, want 1", len(sc.ScriptedFailures))
	}
	f := sc.ScriptedFailures[0]
	if f.AtTick != 30 || f.Type != sim.FailureCRACFailure || f.Target != "crac-0" {
		t.Errorf("scripted failure = %+v, want crac-0 crac_failure at tick 30", f)
	}
	if f.DurationS == nil || *f.DurationS != 2700 {
		t.Errorf("scripted duration = %v, want 2700s", f.DurationS)
	}
}

func TestLookup_UnknownScenario(t *testing.T) {
	_, err := Lookup("volcano")

	var de *sim.DomainError
	if !errors.As(err, &de) || de.Kind != sim.KindNotFound {
		t.Errorf("Lookup(volcano) error = %v, want not_found", err)
	}
}

// === List Tests ===

func TestList_SortedByID(t *testing.T) {
	scenarios := List()

	want := []string{"carbon_valley", "cascade", "overload", "steady_state", "thermal_crisis"}
	if len(scenarios) != len(want) {
		t.Fatalf("len = %d, want %d", len(scenarios), len(want))
	}
	for i, id := range want {
		if scenarios[i].ID != id {
			t.Errorf("scenarios[%d] = %s, want %s", i, scenarios[i].ID, id)
		}
	}
}

func TestList_ScenariosAreRunnable(t *testing.T) {
	for _, sc := range List() {
		if sc.DurationTicks <= 0 {
			t.Errorf("%s has no duration", sc.ID)
		}
		if sc.ReferenceCarbonKg <= 0 || sc.ReferenceCostGBP <= 0 {
			t.Errorf("%s has no reference baselines", sc.ID)
		}
		for _, f := range sc.ScriptedFailures {
			if f.AtTick <= 0 || f.AtTick >= sc.DurationTicks {
				t.Errorf("%s scripts a failure at tick %d outside the run", sc.ID, f.AtTick)
			}
		}
	}
}
