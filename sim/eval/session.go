package eval

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dc-sim/dc-sim/sim"
)

// SessionManager lets an external agent drive a scenario tick by tick over
// the API instead of handing the harness a callback. Single-tenant: starting
// while a session is live is a conflict.
type SessionManager struct {
	mu      sync.Mutex
	base    *sim.Config
	board   *Leaderboard
	current *session
}

type session struct {
	id        string
	agentName string
	scenario  Scenario
	simulator *sim.Simulator
	scripted  map[int][]ScriptedFailure
	history   []*sim.FacilityState
	tracker   *failureTracker
	tick      int
	applied   int
	rejected  int
}

// SessionStatus is the caller-facing view of a live session.
type SessionStatus struct {
	SessionID  string `json:"session_id"`
	AgentName  string `json:"agent_name"`
	ScenarioID string `json:"scenario_id"`
	Tick       int    `json:"tick"`
	TotalTicks int    `json:"total_ticks"`
	Done       bool   `json:"done"`
}

// StepResult carries one step's snapshot and outcomes back to the caller.
type StepResult struct {
	Status   SessionStatus       `json:"status"`
	State    *sim.FacilityState  `json:"state"`
	Outcomes []sim.ActionOutcome `json:"outcomes,omitempty"`
}

// NewSessionManager creates an empty manager scoring onto the leaderboard.
func NewSessionManager(base *sim.Config, board *Leaderboard) *SessionManager {
	return &SessionManager{base: base, board: board}
}

// Start opens a session on the named scenario. agentName labels the
// leaderboard entry.
func (m *SessionManager) Start(agentName, scenarioID string) (SessionStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		return SessionStatus{}, &sim.DomainError{Kind: sim.KindConflict, Msg: "a session is already active"}
	}
	sc, err := Lookup(scenarioID)
	if err != nil {
		return SessionStatus{}, err
	}
	if agentName == "" {
		agentName = "external"
	}

	cfg := scenarioConfig(m.base, sc)
	scripted := make(map[int][]ScriptedFailure)
	for _, f := range sc.ScriptedFailures {
		scripted[f.AtTick] = append(scripted[f.AtTick], f)
	}
	m.current = &session{
		id:        uuid.NewString(),
		agentName: agentName,
		scenario:  sc,
		simulator: sim.NewSimulator(cfg),
		scripted:  scripted,
		tracker:   newFailureTracker(),
	}
	logrus.Infof("eval session %s started: agent=%s scenario=%s", m.current.id, agentName, scenarioID)
	return m.statusLocked(), nil
}

// Step applies the caller's actions, advances one tick, and returns the new
// snapshot. Stepping past the scenario horizon is a conflict; call End.
func (m *SessionManager) Step(actions []sim.Action) (StepResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.current
	if s == nil {
		return StepResult{}, &sim.DomainError{Kind: sim.KindPreconditionFailed, Msg: "no active session"}
	}
	if s.tick >= s.scenario.DurationTicks {
		return StepResult{}, &sim.DomainError{Kind: sim.KindConflict, Msg: "scenario complete, call end"}
	}

	outcomes := make([]sim.ActionOutcome, 0, len(actions))
	for _, a := range actions {
		out := s.simulator.ApplyAction(a, sim.SourceAgent)
		if out.Result == "ok" {
			s.applied++
		} else {
			s.rejected++
		}
		outcomes = append(outcomes, out)
	}

	st := s.simulator.Tick()
	s.tick++
	s.history = append(s.history, st)
	s.tracker.observe(st)
	for _, f := range s.scripted[s.tick] {
		if _, err := s.simulator.InjectFailure(f.Type, f.Target, f.DurationS, sim.SourceSystem); err != nil {
			logrus.Warnf("scripted %s on %s at tick %d rejected: %v", f.Type, f.Target, s.tick, err)
		}
	}

	return StepResult{Status: m.statusLocked(), State: st, Outcomes: outcomes}, nil
}

// End scores the session, records it on the leaderboard, and frees the slot.
// Ending early scores the ticks run so far.
func (m *SessionManager) End() (Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.current
	if s == nil {
		return Report{}, &sim.DomainError{Kind: sim.KindPreconditionFailed, Msg: "no active session"}
	}
	m.current = nil
	defer s.simulator.Close()

	if len(s.history) == 0 {
		return Report{}, &sim.DomainError{Kind: sim.KindConflict, Msg: "session ended before any tick"}
	}
	final := s.history[len(s.history)-1]
	dims, stats := Score(s.scenario, s.history, s.tracker.finish(final.Clock.SimTimeS))
	stats.ActionsApplied = s.applied
	stats.ActionsRejected = s.rejected

	report := Report{
		Agent:      s.agentName,
		ScenarioID: s.scenario.ID,
		Composite:  Composite(dims),
		Dimensions: dims,
		Stats:      stats,
		FinishedAt: time.Now().UTC(),
	}
	if m.board != nil {
		m.board.Add(report)
	}
	logrus.Infof("eval session %s ended: %s", s.id, report)
	return report, nil
}

// Status reports the live session, or ok=false when idle.
func (m *SessionManager) Status() (SessionStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return SessionStatus{}, false
	}
	return m.statusLocked(), true
}

func (m *SessionManager) statusLocked() SessionStatus {
	s := m.current
	return SessionStatus{
		SessionID:  s.id,
		AgentName:  s.agentName,
		ScenarioID: s.scenario.ID,
		Tick:       s.tick,
		TotalTicks: s.scenario.DurationTicks,
		Done:       s.tick >= s.scenario.DurationTicks,
	}
}
