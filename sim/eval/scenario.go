package eval

import (
	"sort"

	"github.com/dc-sim/dc-sim/sim"
)

// Scenarios are fixed drive cycles so agent scores stay comparable. Each
// carries its own seed; the harness builds a fresh simulator per run.

// ScriptedFailure is one pre-planned injection, fired after the named tick
// completes.
type ScriptedFailure struct {
	AtTick    int             `json:"at_tick"`
	Type      sim.FailureType `json:"type"`
	Target    string          `json:"target"`
	DurationS *float64        `json:"duration_s,omitempty"`
}

// Scenario is a reproducible evaluation run: duration, seed, config
// overrides, and scripted failures.
type Scenario struct {
	ID                   string            `json:"id"`
	Description          string            `json:"description"`
	DurationTicks        int               `json:"duration_ticks"`
	Seed                 int64             `json:"seed"`
	MeanArrivalIntervalS float64           `json:"mean_arrival_interval_s,omitempty"` // 0 keeps the config default
	ScriptedFailures     []ScriptedFailure `json:"scripted_failures,omitempty"`

	// Idle-facility baselines the carbon and cost dimensions score against.
	ReferenceCarbonKg float64 `json:"reference_carbon_kg"`
	ReferenceCostGBP  float64 `json:"reference_cost_gbp"`
}

func seconds(v float64) *float64 { return &v }

var builtinScenarios = map[string]Scenario{
	"steady_state": {
		ID:                "steady_state",
		Description:       "four hours of default arrivals, no scripted failures",
		DurationTicks:     240,
		Seed:              42,
		ReferenceCarbonKg: 60,
		ReferenceCostGBP:  50,
	},
	"thermal_crisis": {
		ID:            "thermal_crisis",
		Description:   "CRAC failure mid-run, agent must keep inlets in bounds",
		DurationTicks: 120,
		Seed:          123,
		ScriptedFailures: []ScriptedFailure{
			{AtTick: 30, Type: sim.FailureCRACFailure, Target: "crac-0", DurationS: seconds(2700)},
		},
		ReferenceCarbonKg: 30,
		ReferenceCostGBP:  25,
	},
	"carbon_valley": {
		ID:                "carbon_valley",
		Description:       "full diurnal sweep, rewards load-shifting into the overnight trough",
		DurationTicks:     1440,
		Seed:              77,
		ReferenceCarbonKg: 360,
		ReferenceCostGBP:  300,
	},
	"overload": {
		ID:                   "overload",
		Description:          "arrival rate tripled, queue pressure and SLA triage",
		DurationTicks:        120,
		Seed:                 55,
		MeanArrivalIntervalS: 100,
		ReferenceCarbonKg:    35,
		ReferenceCostGBP:     30,
	},
	"cascade": {
		ID:            "cascade",
		Description:   "five staggered failures across cooling, power, and fabric",
		DurationTicks: 120,
		Seed:          99,
		ScriptedFailures: []ScriptedFailure{
			{AtTick: 20, Type: sim.FailureCRACDegraded, Target: "crac-0", DurationS: seconds(1800)},
			{AtTick: 25, Type: sim.FailurePDUSpike, Target: "rack-1", DurationS: seconds(600)},
			{AtTick: 30, Type: sim.FailureNetworkPartition, Target: "rack-2"},
			{AtTick: 40, Type: sim.FailureCRACFailure, Target: "crac-1", DurationS: seconds(1200)},
			{AtTick: 60, Type: sim.FailureGPUDegraded, Target: "rack-3-srv-0"},
		},
		ReferenceCarbonKg: 30,
		ReferenceCostGBP:  25,
	},
}

// Lookup returns the named scenario.
func Lookup(id string) (Scenario, error) {
	s, ok := builtinScenarios[id]
	if !ok {
		return Scenario{}, errScenarioNotFound(id)
	}
	return s, nil
}

// List returns all scenarios sorted by id.
func List() []Scenario {
	out := make([]Scenario, 0, len(builtinScenarios))
	for _, s := range builtinScenarios {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
