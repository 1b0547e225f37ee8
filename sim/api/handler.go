package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/dc-sim/dc-sim/sim"
	"github.com/dc-sim/dc-sim/sim/eval"
)

// ErrorResponse is the JSON body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Server wires the simulator, the evaluation surface, and the metrics
// exporter behind one http.Handler.
type Server struct {
	sim      *sim.Simulator
	board    *eval.Leaderboard
	sessions *eval.SessionManager
	metrics  *Metrics
	registry *prometheus.Registry
}

// NewServer builds the API surface around a simulator. Metrics gauges track
// every tick via the simulator's tick callback.
func NewServer(simulator *sim.Simulator) *Server {
	registry := prometheus.NewRegistry()
	board := eval.NewLeaderboard()
	s := &Server{
		sim:      simulator,
		board:    board,
		sessions: eval.NewSessionManager(simulator.Config(), board),
		metrics:  NewMetrics(registry),
		registry: registry,
	}
	simulator.SetOnTick(s.metrics.Observe)
	return s
}

// Handler returns the routed API surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /thermal", s.snapshotField(func(st *sim.FacilityState) any { return st.Thermal }))
	mux.HandleFunc("GET /thermal/{rack_id}", s.handleThermalRack)
	mux.HandleFunc("GET /power", s.snapshotField(func(st *sim.FacilityState) any { return st.Power }))
	mux.HandleFunc("GET /power/{rack_id}", s.handlePowerRack)
	mux.HandleFunc("GET /gpu", s.snapshotField(func(st *sim.FacilityState) any { return st.GPU }))
	mux.HandleFunc("GET /gpu/{server_id}", s.handleGPUServer)
	mux.HandleFunc("GET /network", s.snapshotField(func(st *sim.FacilityState) any { return st.Network }))
	mux.HandleFunc("GET /network/{rack_id}", s.handleNetworkRack)
	mux.HandleFunc("GET /storage", s.snapshotField(func(st *sim.FacilityState) any { return st.Storage }))
	mux.HandleFunc("GET /storage/{rack_id}", s.handleStorageRack)
	mux.HandleFunc("GET /cooling", s.snapshotField(func(st *sim.FacilityState) any { return st.Cooling }))
	mux.HandleFunc("GET /carbon", s.snapshotField(func(st *sim.FacilityState) any { return st.Carbon }))

	mux.HandleFunc("GET /workload/queue", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.sim.PendingJobs())
	})
	mux.HandleFunc("GET /workload/running", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.sim.RunningJobs())
	})
	mux.HandleFunc("GET /workload/completed", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.sim.CompletedJobs(lastN(r)))
	})
	mux.HandleFunc("GET /workload/sla_violations", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]int{"sla_violations": s.sim.SLAViolations()})
	})
	mux.HandleFunc("POST /workload/submit", s.handleSubmitJob)

	mux.HandleFunc("GET /failures/active", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.sim.ActiveFailures())
	})
	mux.HandleFunc("GET /telemetry/history", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.sim.History(lastN(r)))
	})
	mux.HandleFunc("GET /audit", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.sim.Audit().Entries(lastN(r)))
	})

	mux.HandleFunc("GET /sim/config", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.sim.Config())
	})
	mux.HandleFunc("GET /sim/status", s.handleStatus)
	mux.HandleFunc("POST /sim/tick", s.handleTick)
	mux.HandleFunc("POST /sim/run", s.handleRun)
	mux.HandleFunc("POST /sim/pause", s.handlePause)
	mux.HandleFunc("POST /sim/reset", s.handleReset)
	mux.HandleFunc("POST /sim/inject_failure", s.handleInjectFailure)

	mux.HandleFunc("POST /actions/{action}", s.handleAction)

	mux.HandleFunc("GET /eval/scenarios", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, eval.List())
	})
	mux.HandleFunc("POST /eval/run-agent", s.handleRunAgent)
	mux.HandleFunc("POST /eval/session/start", s.handleSessionStart)
	mux.HandleFunc("POST /eval/session/step", s.handleSessionStep)
	mux.HandleFunc("POST /eval/session/end", s.handleSessionEnd)
	mux.HandleFunc("GET /eval/leaderboard", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.board.Top(lastN(r)))
	})

	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("response encode failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

// writeDomainError maps the error taxonomy onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	var de *sim.DomainError
	if errors.As(err, &de) {
		status := http.StatusInternalServerError
		switch de.Kind {
		case sim.KindNotFound:
			status = http.StatusNotFound
		case sim.KindInvalidArgument:
			status = http.StatusBadRequest
		case sim.KindConflict, sim.KindPreconditionFailed:
			status = http.StatusConflict
		}
		writeError(w, status, de.Msg, de.Kind.String())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error(), "internal")
}

// lastN parses the last_n query parameter, 0 when absent. Also accepts n.
func lastN(r *http.Request) int {
	raw := r.URL.Query().Get("last_n")
	if raw == "" {
		raw = r.URL.Query().Get("n")
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// latest returns the newest snapshot or replies 409 before the first tick.
func (s *Server) latest(w http.ResponseWriter) (*sim.FacilityState, bool) {
	st := s.sim.Latest()
	if st == nil {
		writeError(w, http.StatusConflict, "no snapshot yet, tick the simulation first", "precondition_failed")
		return nil, false
	}
	return st, true
}

func (s *Server) snapshotField(pick func(*sim.FacilityState) any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, ok := s.latest(w)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, pick(st))
	}
}

func pathRackID(r *http.Request) (int, error) {
	raw := r.PathValue("rack_id")
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &sim.DomainError{Kind: sim.KindInvalidArgument, Msg: "malformed rack id " + raw}
	}
	return id, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	type statusResponse struct {
		Running       bool    `json:"running"`
		TickCount     int     `json:"tick_count"`
		SimTimeS      float64 `json:"sim_time_s"`
		Elapsed       string  `json:"elapsed"`
		HourOfDay     float64 `json:"hour_of_day"`
		TelemetryLen  int     `json:"telemetry_len"`
		AuditLen      int     `json:"audit_len"`
		ActiveFailures int    `json:"active_failures"`
	}
	resp := statusResponse{
		Running:        s.sim.Running(),
		TelemetryLen:   s.sim.Telemetry().Len(),
		AuditLen:       s.sim.Audit().Len(),
		ActiveFailures: len(s.sim.ActiveFailures()),
	}
	if st := s.sim.Latest(); st != nil {
		resp.TickCount = st.Clock.TickCount
		resp.SimTimeS = st.Clock.SimTimeS
		resp.Elapsed = st.Clock.Elapsed
		resp.HourOfDay = st.Clock.HourOfDay
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleThermalRack(w http.ResponseWriter, r *http.Request) {
	id, err := pathRackID(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	st, ok := s.latest(w)
	if !ok {
		return
	}
	for _, rack := range st.Thermal.Racks {
		if rack.RackID == id {
			writeJSON(w, http.StatusOK, rack)
			return
		}
	}
	writeError(w, http.StatusNotFound, "rack not found", "not_found")
}

func (s *Server) handlePowerRack(w http.ResponseWriter, r *http.Request) {
	id, err := pathRackID(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	st, ok := s.latest(w)
	if !ok {
		return
	}
	for _, rack := range st.Power.Racks {
		if rack.RackID == id {
			writeJSON(w, http.StatusOK, rack)
			return
		}
	}
	writeError(w, http.StatusNotFound, "rack not found", "not_found")
}

func (s *Server) handleGPUServer(w http.ResponseWriter, r *http.Request) {
	serverID := r.PathValue("server_id")
	st, ok := s.latest(w)
	if !ok {
		return
	}
	for _, srv := range st.GPU.Servers {
		if srv.ServerID == serverID {
			writeJSON(w, http.StatusOK, srv)
			return
		}
	}
	writeError(w, http.StatusNotFound, "server not found", "not_found")
}

func (s *Server) handleNetworkRack(w http.ResponseWriter, r *http.Request) {
	id, err := pathRackID(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	st, ok := s.latest(w)
	if !ok {
		return
	}
	for _, rack := range st.Network.Racks {
		if rack.RackID == id {
			writeJSON(w, http.StatusOK, rack)
			return
		}
	}
	writeError(w, http.StatusNotFound, "rack not found", "not_found")
}

func (s *Server) handleStorageRack(w http.ResponseWriter, r *http.Request) {
	id, err := pathRackID(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	st, ok := s.latest(w)
	if !ok {
		return
	}
	for _, rack := range st.Storage.Racks {
		if rack.RackID == id {
			writeJSON(w, http.StatusOK, rack)
			return
		}
	}
	writeError(w, http.StatusNotFound, "rack not found", "not_found")
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var spec sim.JobSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "invalid_argument")
		return
	}
	job, err := s.sim.SubmitJob(spec)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	n := 1
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "n must be a positive integer", "invalid_argument")
			return
		}
		n = parsed
	}
	st := s.sim.TickN(n)
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	interval := 1.0
	if raw := r.URL.Query().Get("tick_interval_s"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "tick_interval_s must be positive", "invalid_argument")
			return
		}
		interval = parsed
	}
	if !s.sim.StartContinuous(interval) {
		writeError(w, http.StatusConflict, "simulation already running", "conflict")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"running": true, "tick_interval_s": interval})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if !s.sim.Pause() {
		writeError(w, http.StatusConflict, "simulation not running", "conflict")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"running": false})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.sim.Reset()
	writeJSON(w, http.StatusOK, map[string]any{"reset": true})
}

type injectFailureRequest struct {
	Type      string   `json:"type"`
	Target    string   `json:"target"`
	DurationS *float64 `json:"duration_s,omitempty"`
}

func (s *Server) handleInjectFailure(w http.ResponseWriter, r *http.Request) {
	var req injectFailureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "invalid_argument")
		return
	}
	f, err := s.sim.InjectFailure(sim.FailureType(req.Type), req.Target, req.DurationS, sim.SourceAPI)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("action")
	var action sim.Action
	if err := json.NewDecoder(r.Body).Decode(&action); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "invalid_argument")
		return
	}
	action.Type = name

	var err error
	switch name {
	case sim.ActionMigrateWorkload:
		if action.TargetRack == nil {
			writeError(w, http.StatusBadRequest, "target_rack is required", "invalid_argument")
			return
		}
		err = s.sim.MigrateWorkload(action.JobID, *action.TargetRack, sim.SourceAPI)
	case sim.ActionAdjustCooling:
		if action.RackID == nil || action.SetpointC == nil {
			writeError(w, http.StatusBadRequest, "rack_id and setpoint_c are required", "invalid_argument")
			return
		}
		err = s.sim.AdjustCooling(*action.RackID, *action.SetpointC, sim.SourceAPI)
	case sim.ActionThrottleGPU:
		if action.PowerCapPct == nil {
			writeError(w, http.StatusBadRequest, "power_cap_pct is required", "invalid_argument")
			return
		}
		err = s.sim.ThrottleGPU(action.ServerID, *action.PowerCapPct, sim.SourceAPI)
	case sim.ActionPreemptJob:
		err = s.sim.PreemptJob(action.JobID, sim.SourceAPI)
	case sim.ActionResolveFailure:
		err = s.sim.ResolveFailure(action.FailureID, sim.SourceAPI)
	default:
		writeError(w, http.StatusNotFound, "unknown action "+name, "not_found")
		return
	}

	result := "ok"
	if err != nil {
		var de *sim.DomainError
		if errors.As(err, &de) {
			result = de.Kind.String()
		} else {
			result = "error"
		}
	}
	s.metrics.ObserveAction(name, result)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

type runAgentRequest struct {
	AgentName  string `json:"agent_name"`
	ScenarioID string `json:"scenario_id"`
}

func (s *Server) handleRunAgent(w http.ResponseWriter, r *http.Request) {
	var req runAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "invalid_argument")
		return
	}
	sc, err := eval.Lookup(req.ScenarioID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	agent, err := eval.NewAgent(req.AgentName, sc.Seed)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	report, err := eval.Run(s.sim.Config(), agent, sc)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.board.Add(report)
	writeJSON(w, http.StatusOK, report)
}

type sessionStartRequest struct {
	AgentName  string `json:"agent_name"`
	ScenarioID string `json:"scenario_id"`
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	var req sessionStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "invalid_argument")
		return
	}
	status, err := s.sessions.Start(req.AgentName, req.ScenarioID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type sessionStepRequest struct {
	Actions []sim.Action `json:"actions"`
}

func (s *Server) handleSessionStep(w http.ResponseWriter, r *http.Request) {
	var req sessionStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "invalid_argument")
		return
	}
	result, err := s.sessions.Step(req.Actions)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	report, err := s.sessions.End()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
