package eval

import (
	"math/rand"
	"sort"

	"github.com/dc-sim/dc-sim/sim"
)

// Built-in reference agents. They exist to anchor the leaderboard: noop is
// the floor, rule_based is the hand-tuned baseline an external agent should
// beat.

// Agent turns a snapshot into zero or more actions, invoked once per tick.
type Agent interface {
	Name() string
	Act(*sim.FacilityState) []sim.Action
}

// NewAgent constructs a built-in agent by name.
func NewAgent(name string, seed int64) (Agent, error) {
	switch name {
	case "noop":
		return &noopAgent{}, nil
	case "rule_based":
		return newRuleBasedAgent(), nil
	case "random":
		key := sim.NewSimulationKey(seed)
		return newRandomAgent(sim.NewPartitionedRNG(key).ForSubsystem(sim.SubsystemAgent)), nil
	}
	return nil, &sim.DomainError{Kind: sim.KindNotFound, Msg: "unknown agent " + name}
}

// AgentNames lists the built-in agent names.
func AgentNames() []string {
	return []string{"noop", "random", "rule_based"}
}

type noopAgent struct{}

func (a *noopAgent) Name() string                        { return "noop" }
func (a *noopAgent) Act(*sim.FacilityState) []sim.Action { return nil }

// ruleBasedAgent is a small reactive policy: clear CRAC failures, shed load
// when the power cap is blown, chase hot zones with lower setpoints and
// restore them once cool.
type ruleBasedAgent struct {
	loweredZoneRack map[int]int // zone -> rack used to address it
}

func newRuleBasedAgent() *ruleBasedAgent {
	return &ruleBasedAgent{loweredZoneRack: make(map[int]int)}
}

func (a *ruleBasedAgent) Name() string { return "rule_based" }

const (
	ruleHotInletC     = 32.0
	ruleCoolInletC    = 25.0
	ruleLowSetpointC  = 15.0
	ruleBaseSetpointC = 18.0
)

func (a *ruleBasedAgent) Act(st *sim.FacilityState) []sim.Action {
	var actions []sim.Action

	for _, f := range st.ActiveFailures {
		if f.Type == sim.FailureCRACFailure {
			actions = append(actions, sim.Action{Type: sim.ActionResolveFailure, FailureID: f.ID})
		}
	}

	if st.Power.PowerCapExceeded {
		if job := lowestPriorityRunning(st.Workload.Running); job != nil {
			actions = append(actions, sim.Action{Type: sim.ActionPreemptJob, JobID: job.ID})
		}
	}

	// One representative rack per zone carries the setpoint adjustment.
	zoneMaxInlet := make(map[int]float64)
	zoneRack := make(map[int]int)
	zoneSeen := make(map[int]bool)
	for _, r := range st.Thermal.Racks {
		if !zoneSeen[r.Zone] || r.InletTempC > zoneMaxInlet[r.Zone] {
			zoneSeen[r.Zone] = true
			zoneMaxInlet[r.Zone] = r.InletTempC
			zoneRack[r.Zone] = r.RackID
		}
	}
	zones := make([]int, 0, len(zoneMaxInlet))
	for z := range zoneMaxInlet {
		zones = append(zones, z)
	}
	sort.Ints(zones)

	for _, z := range zones {
		maxInlet := zoneMaxInlet[z]
		_, lowered := a.loweredZoneRack[z]
		switch {
		case maxInlet >= ruleHotInletC && !lowered:
			rack := zoneRack[z]
			a.loweredZoneRack[z] = rack
			actions = append(actions, coolingAction(rack, ruleLowSetpointC))
		case maxInlet <= ruleCoolInletC && lowered:
			rack := a.loweredZoneRack[z]
			delete(a.loweredZoneRack, z)
			actions = append(actions, coolingAction(rack, ruleBaseSetpointC))
		}
	}
	return actions
}

func coolingAction(rackID int, setpointC float64) sim.Action {
	r, s := rackID, setpointC
	return sim.Action{Type: sim.ActionAdjustCooling, RackID: &r, SetpointC: &s}
}

func lowestPriorityRunning(running []*sim.Job) *sim.Job {
	var best *sim.Job
	for _, j := range running {
		if best == nil || j.Priority < best.Priority {
			best = j
		}
	}
	return best
}

// randomAgent fires one arbitrary but well-formed action every few ticks.
// Useful as a chaos baseline: scores should land between noop and rule_based
// on most scenarios.
type randomAgent struct {
	rng      *rand.Rand
	interval int
}

func newRandomAgent(rng *rand.Rand) *randomAgent {
	return &randomAgent{rng: rng, interval: 10}
}

func (a *randomAgent) Name() string { return "random" }

func (a *randomAgent) Act(st *sim.FacilityState) []sim.Action {
	if st.Clock.TickCount%a.interval != 0 {
		return nil
	}
	numRacks := len(st.Thermal.Racks)
	if numRacks == 0 {
		return nil
	}

	switch a.rng.Intn(3) {
	case 0:
		rack := a.rng.Intn(numRacks)
		setpoint := 15.0 + a.rng.Float64()*10.0
		return []sim.Action{coolingAction(rack, setpoint)}
	case 1:
		if len(st.ActiveFailures) > 0 {
			f := st.ActiveFailures[a.rng.Intn(len(st.ActiveFailures))]
			return []sim.Action{{Type: sim.ActionResolveFailure, FailureID: f.ID}}
		}
	case 2:
		if len(st.Power.Racks) > 0 {
			rack := st.Power.Racks[a.rng.Intn(len(st.Power.Racks))]
			if len(rack.Servers) > 0 {
				srv := rack.Servers[a.rng.Intn(len(rack.Servers))]
				cap := 0.5 + a.rng.Float64()*0.5
				return []sim.Action{{Type: sim.ActionThrottleGPU, ServerID: srv.ServerID, PowerCapPct: &cap}}
			}
		}
	}
	return nil
}
