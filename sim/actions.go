package sim

import (
	"errors"

	"github.com/sirupsen/logrus"
)

// Action application. Every method validates under the simulator lock,
// mutates only on success, and records an audit entry either way. Effects
// land on the next tick; nothing here advances time.

// Action names as they appear in audit entries and API paths.
const (
	ActionMigrateWorkload = "migrate_workload"
	ActionAdjustCooling   = "adjust_cooling"
	ActionThrottleGPU     = "throttle_gpu"
	ActionPreemptJob      = "preempt_job"
	ActionResolveFailure  = "resolve_failure"
	ActionInjectFailure   = "inject_failure"
)

// Action is the tagged union agents and API callers submit. Type selects
// which of the optional fields are read.
type Action struct {
	Type        string   `json:"type"`
	JobID       string   `json:"job_id,omitempty"`
	TargetRack  *int     `json:"target_rack,omitempty"`
	RackID      *int     `json:"rack_id,omitempty"`
	SetpointC   *float64 `json:"setpoint_c,omitempty"`
	ServerID    string   `json:"server_id,omitempty"`
	PowerCapPct *float64 `json:"power_cap_pct,omitempty"`
	FailureID   string   `json:"failure_id,omitempty"`
	FailureType string   `json:"failure_type,omitempty"`
	Target      string   `json:"target,omitempty"`
	DurationS   *float64 `json:"duration_s,omitempty"`
}

// ActionOutcome is the recorded result of one applied action.
type ActionOutcome struct {
	Action string `json:"action"`
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

// auditResult converts an action error into the audit result tag.
func auditResult(err error) string {
	if err == nil {
		return "ok"
	}
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind.String()
	}
	return "error"
}

func (s *Simulator) appendAuditLocked(action string, params map[string]any, err error, source AuditSource) {
	result := auditResult(err)
	s.audit.Append(AuditEntry{
		SimTimeS: s.clock.CurrentTime,
		Tick:     int(s.clock.TickCount),
		Action:   action,
		Params:   params,
		Result:   result,
		Source:   source,
	})
	if err != nil {
		logrus.Warnf("action %s rejected: %v", action, err)
	}
}

// MigrateWorkload moves a running job wholesale onto targetRack. Fails
// without mutation when the job is unknown, not running, or the rack lacks
// capacity.
func (s *Simulator) MigrateWorkload(jobID string, targetRack int, source AuditSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.workload.Migrate(jobID, targetRack)
	s.appendAuditLocked(ActionMigrateWorkload, map[string]any{"job_id": jobID, "target_rack": targetRack}, err, source)
	return err
}

// AdjustCooling sets the CRAC setpoint of the zone serving rackID. Repeating
// the same setpoint is a no-op beyond the audit entry.
func (s *Simulator) AdjustCooling(rackID int, setpointC float64, source AuditSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	switch {
	case !s.facility.RackExists(rackID):
		err = errNotFound("rack %d does not exist", rackID)
	case setpointC < 10 || setpointC > 35:
		err = errInvalid("setpoint %.1fC outside [10, 35]", setpointC)
	default:
		s.thermal.SetZoneSetpoint(s.cfg.ZoneOfRack(rackID), setpointC)
	}
	s.appendAuditLocked(ActionAdjustCooling, map[string]any{"rack_id": rackID, "setpoint_c": setpointC}, err, source)
	return err
}

// ThrottleGPU caps a server's utilisation. capPct accepts either a fraction
// in [0, 1] or a percentage in (1, 100]; values outside [0, 100] reject.
func (s *Simulator) ThrottleGPU(serverID string, capPct float64, source AuditSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	srv, lookupErr := s.facility.Server(serverID)
	switch {
	case lookupErr != nil:
		err = lookupErr
	case capPct < 0 || capPct > 100:
		err = errInvalid("power cap %.2f outside [0, 100]", capPct)
	default:
		frac := capPct
		if frac > 1 {
			frac /= 100.0
		}
		srv.PowerCapFrac = frac
	}
	s.appendAuditLocked(ActionThrottleGPU, map[string]any{"server_id": serverID, "power_cap_pct": capPct}, err, source)
	return err
}

// PreemptJob stops a running job and frees its slots.
func (s *Simulator) PreemptJob(jobID string, source AuditSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.workload.Preempt(jobID)
	s.appendAuditLocked(ActionPreemptJob, map[string]any{"job_id": jobID}, err, source)
	return err
}

// ResolveFailure clears an active failure by id.
func (s *Simulator) ResolveFailure(failureID string, source AuditSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.failures.Resolve(failureID)
	s.appendAuditLocked(ActionResolveFailure, map[string]any{"failure_id": failureID}, err, source)
	return err
}

// InjectFailure manually starts a failure. durationS nil picks the type's
// default duration.
func (s *Simulator) InjectFailure(ftype FailureType, target string, durationS *float64, source AuditSource) (*ActiveFailure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.failures.Inject(ftype, target, durationS, s.clock.CurrentTime)
	params := map[string]any{"type": string(ftype), "target": target}
	if durationS != nil {
		params["duration_s"] = *durationS
	}
	s.appendAuditLocked(ActionInjectFailure, params, err, source)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// ApplyAction dispatches a tagged action. Unknown types reject with an
// invalid-argument error and still leave an audit trace.
func (s *Simulator) ApplyAction(a Action, source AuditSource) ActionOutcome {
	var err error
	switch a.Type {
	case ActionMigrateWorkload:
		if a.TargetRack == nil {
			err = s.rejectAction(a.Type, errInvalid("target_rack is required"), source)
			break
		}
		err = s.MigrateWorkload(a.JobID, *a.TargetRack, source)
	case ActionAdjustCooling:
		if a.RackID == nil || a.SetpointC == nil {
			err = s.rejectAction(a.Type, errInvalid("rack_id and setpoint_c are required"), source)
			break
		}
		err = s.AdjustCooling(*a.RackID, *a.SetpointC, source)
	case ActionThrottleGPU:
		if a.PowerCapPct == nil {
			err = s.rejectAction(a.Type, errInvalid("power_cap_pct is required"), source)
			break
		}
		err = s.ThrottleGPU(a.ServerID, *a.PowerCapPct, source)
	case ActionPreemptJob:
		err = s.PreemptJob(a.JobID, source)
	case ActionResolveFailure:
		err = s.ResolveFailure(a.FailureID, source)
	case ActionInjectFailure:
		_, err = s.InjectFailure(FailureType(a.FailureType), a.Target, a.DurationS, source)
	default:
		err = s.rejectAction(a.Type, errInvalid("unknown action type %q", a.Type), source)
	}

	out := ActionOutcome{Action: a.Type, Result: auditResult(err)}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

// rejectAction records a validation failure that never reached a component.
func (s *Simulator) rejectAction(action string, err error, source AuditSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendAuditLocked(action, nil, err, source)
	return err
}
