package eval

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dc-sim/dc-sim/sim"
)

// Harness drives an agent through a scenario on a private simulator and
// scores the run.

func errScenarioNotFound(id string) error {
	return &sim.DomainError{Kind: sim.KindNotFound, Msg: "unknown scenario " + id}
}

// scenarioConfig derives the run config from a base config and the
// scenario's overrides.
func scenarioConfig(base *sim.Config, sc Scenario) *sim.Config {
	cfg := *base
	cfg.RNGSeed = sc.Seed
	cfg.TelemetryOut = ""
	cfg.Clock.RealtimeFactor = 0
	if sc.MeanArrivalIntervalS > 0 {
		cfg.Workload.MeanJobArrivalIntervalS = sc.MeanArrivalIntervalS
	}
	return &cfg
}

// failureTracker derives per-failure resolution times from consecutive
// snapshots. A failure resolves when its id stops appearing.
type failureTracker struct {
	firstSeen map[string]float64
	resolved  []float64
}

func newFailureTracker() *failureTracker {
	return &failureTracker{firstSeen: make(map[string]float64)}
}

func (t *failureTracker) observe(st *sim.FacilityState) {
	now := st.Clock.SimTimeS
	live := make(map[string]bool, len(st.ActiveFailures))
	for _, f := range st.ActiveFailures {
		live[f.ID] = true
		if _, ok := t.firstSeen[f.ID]; !ok {
			t.firstSeen[f.ID] = f.StartTime
		}
	}
	for id, start := range t.firstSeen {
		if !live[id] {
			t.resolved = append(t.resolved, now-start)
			delete(t.firstSeen, id)
		}
	}
}

// finish counts failures still live at run end as resolved at the horizon.
func (t *failureTracker) finish(endTime float64) []float64 {
	out := append([]float64(nil), t.resolved...)
	for _, start := range t.firstSeen {
		out = append(out, endTime-start)
	}
	return out
}

// Run executes the scenario with the agent in the loop and returns the
// scored report. The simulator is private to the run.
func Run(base *sim.Config, agent Agent, sc Scenario) (Report, error) {
	cfg := scenarioConfig(base, sc)
	if err := cfg.Validate(); err != nil {
		return Report{}, err
	}
	simulator := sim.NewSimulator(cfg)
	defer simulator.Close()

	logrus.Infof("eval run: agent=%s scenario=%s ticks=%d seed=%d",
		agent.Name(), sc.ID, sc.DurationTicks, sc.Seed)

	scripted := make(map[int][]ScriptedFailure)
	for _, f := range sc.ScriptedFailures {
		scripted[f.AtTick] = append(scripted[f.AtTick], f)
	}

	history := make([]*sim.FacilityState, 0, sc.DurationTicks)
	tracker := newFailureTracker()
	applied, rejected := 0, 0

	for tick := 1; tick <= sc.DurationTicks; tick++ {
		st := simulator.Tick()
		history = append(history, st)
		tracker.observe(st)

		for _, f := range scripted[tick] {
			if _, err := simulator.InjectFailure(f.Type, f.Target, f.DurationS, sim.SourceSystem); err != nil {
				logrus.Warnf("scripted %s on %s at tick %d rejected: %v", f.Type, f.Target, tick, err)
			}
		}

		for _, action := range agent.Act(st) {
			out := simulator.ApplyAction(action, sim.SourceAgent)
			if out.Result == "ok" {
				applied++
			} else {
				rejected++
			}
		}
	}

	final := history[len(history)-1]
	dims, stats := Score(sc, history, tracker.finish(final.Clock.SimTimeS))
	stats.ActionsApplied = applied
	stats.ActionsRejected = rejected

	report := Report{
		Agent:      agent.Name(),
		ScenarioID: sc.ID,
		Composite:  Composite(dims),
		Dimensions: dims,
		Stats:      stats,
		FinishedAt: time.Now().UTC(),
	}
	logrus.Infof("eval done: %s", report)
	return report, nil
}
