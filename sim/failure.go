package sim

import (
	"math/rand"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// FailureType enumerates the injectable infrastructure events.
type FailureType string

const (
	FailureCRACDegraded     FailureType = "crac_degraded"
	FailureCRACFailure      FailureType = "crac_failure"
	FailureGPUDegraded      FailureType = "gpu_degraded"
	FailurePDUSpike         FailureType = "pdu_spike"
	FailureNetworkPartition FailureType = "network_partition"
)

// randomFailureProbability is the per-rack, per-tick injection probability.
const randomFailureProbability = 0.005

// pduSpikeMultiplier scales rack power while a pdu_spike is active.
const pduSpikeMultiplier = 1.2

// ActiveFailure is one live infrastructure event. ExpiresAt nil means the
// failure persists until resolved manually.
type ActiveFailure struct {
	ID                 string      `json:"id"`
	Type               FailureType `json:"type"`
	Target             string      `json:"target"`
	StartTime          float64     `json:"start_time_s"`
	ExpiresAt          *float64    `json:"expires_at_s,omitempty"`
	PDUSpikeMultiplier float64     `json:"pdu_spike_multiplier,omitempty"`
}

// FailureEngine owns the active failure set: random injection, manual
// inject/resolve, and time-based expiry. Iteration order is insertion order
// so replays are deterministic.
type FailureEngine struct {
	cfg    *Config
	rng    *rand.Rand
	active map[string]*ActiveFailure
	order  []string
}

// NewFailureEngine creates an engine drawing randomness from the failures
// subsystem stream.
func NewFailureEngine(cfg *Config, rng *rand.Rand) *FailureEngine {
	return &FailureEngine{
		cfg:    cfg,
		rng:    rng,
		active: make(map[string]*ActiveFailure),
	}
}

// Step expires elapsed failures, then rolls the per-rack injection dice.
// Expiry runs first so an instant network_partition injected last tick has
// been consumed by the workload model exactly once before it disappears.
func (e *FailureEngine) Step(now float64) {
	e.expire(now)

	for r := 0; r < e.cfg.Facility.NumRacks; r++ {
		if e.rng.Float64() >= randomFailureProbability {
			continue
		}
		var ftype FailureType
		var target string
		switch e.rng.Intn(3) {
		case 0:
			ftype = FailureCRACDegraded
			target = CRACID(e.cfg.ZoneOfRack(r))
		case 1:
			ftype = FailurePDUSpike
			target = RackID(r)
		default:
			ftype = FailureNetworkPartition
			target = RackID(r)
		}
		f, err := e.Inject(ftype, target, nil, now)
		if err != nil {
			// Duplicate on the same target; the dice roll is wasted.
			continue
		}
		logrus.Warnf("[tick] random failure injected: %s on %s (id=%s)", f.Type, f.Target, f.ID)
	}
}

func (e *FailureEngine) expire(now float64) {
	kept := e.order[:0]
	for _, id := range e.order {
		f := e.active[id]
		if f.ExpiresAt != nil && *f.ExpiresAt <= now {
			delete(e.active, id)
			logrus.Infof("failure expired: %s on %s (id=%s)", f.Type, f.Target, f.ID)
			continue
		}
		kept = append(kept, id)
	}
	e.order = kept
}

// Inject adds a failure. durationS nil selects the type's default duration;
// gpu_degraded defaults to persisting until resolved and network_partition
// expires immediately after the tick that consumes it.
func (e *FailureEngine) Inject(ftype FailureType, target string, durationS *float64, now float64) (*ActiveFailure, error) {
	if err := e.validateTarget(ftype, target); err != nil {
		return nil, err
	}
	for _, id := range e.order {
		f := e.active[id]
		if f.Type == ftype && f.Target == target {
			return nil, errConflict("failure %s already active on %s", ftype, target)
		}
	}

	f := &ActiveFailure{
		ID:        e.newID(),
		Type:      ftype,
		Target:    target,
		StartTime: now,
	}
	switch {
	case durationS != nil:
		if *durationS < 0 {
			return nil, errInvalid("duration_s must be >= 0, got %v", *durationS)
		}
		exp := now + *durationS
		f.ExpiresAt = &exp
	case ftype == FailureCRACDegraded:
		exp := now + 600 + e.rng.Float64()*1200
		f.ExpiresAt = &exp
	case ftype == FailureCRACFailure:
		exp := now + 300 + e.rng.Float64()*600
		f.ExpiresAt = &exp
	case ftype == FailurePDUSpike:
		exp := now + 300
		f.ExpiresAt = &exp
	case ftype == FailureNetworkPartition:
		exp := now
		f.ExpiresAt = &exp
	case ftype == FailureGPUDegraded:
		// Persists until resolved.
	}
	if ftype == FailurePDUSpike {
		f.PDUSpikeMultiplier = pduSpikeMultiplier
	}

	e.active[f.ID] = f
	e.order = append(e.order, f.ID)
	return f, nil
}

// Resolve removes one failure by id.
func (e *FailureEngine) Resolve(id string) error {
	if _, ok := e.active[id]; !ok {
		return errNotFound("unknown failure %q", id)
	}
	delete(e.active, id)
	for i, fid := range e.order {
		if fid == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	return nil
}

// Active returns a value-copy snapshot of the live failures in insertion
// order.
func (e *FailureEngine) Active() []ActiveFailure {
	out := make([]ActiveFailure, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, *e.active[id])
	}
	return out
}

// CoolingHealth returns the CRAC health multiplier for a zone: 0.0 while a
// crac_failure is active, 0.5 while only crac_degraded is, 1.0 otherwise.
func (e *FailureEngine) CoolingHealth(zone int) float64 {
	target := CRACID(zone)
	health := 1.0
	for _, id := range e.order {
		f := e.active[id]
		if f.Target != target {
			continue
		}
		switch f.Type {
		case FailureCRACFailure:
			return 0.0
		case FailureCRACDegraded:
			health = 0.5
		}
	}
	return health
}

// PDUMultiplier returns the power multiplier for a rack (1.0 when no spike).
func (e *FailureEngine) PDUMultiplier(rackID int) float64 {
	target := RackID(rackID)
	for _, id := range e.order {
		f := e.active[id]
		if f.Type == FailurePDUSpike && f.Target == target {
			return f.PDUSpikeMultiplier
		}
	}
	return 1.0
}

// DegradedServers returns the set of server ids under gpu_degraded failures.
func (e *FailureEngine) DegradedServers() map[string]bool {
	out := make(map[string]bool)
	for _, id := range e.order {
		f := e.active[id]
		if f.Type == FailureGPUDegraded {
			out[f.Target] = true
		}
	}
	return out
}

// PartitionedRacks returns rack ids under an active network_partition.
func (e *FailureEngine) PartitionedRacks() []int {
	var out []int
	for _, id := range e.order {
		f := e.active[id]
		if f.Type != FailureNetworkPartition {
			continue
		}
		if r, err := ParseRackID(f.Target); err == nil {
			out = append(out, r)
		}
	}
	return out
}

// Reset drops all active failures.
func (e *FailureEngine) Reset() {
	e.active = make(map[string]*ActiveFailure)
	e.order = nil
}

func (e *FailureEngine) validateTarget(ftype FailureType, target string) error {
	switch ftype {
	case FailureCRACDegraded, FailureCRACFailure:
		unit, err := ParseCRACID(target)
		if err != nil {
			return err
		}
		if unit >= e.cfg.Thermal.CRACUnits {
			return errInvalid("crac unit %d out of range (have %d)", unit, e.cfg.Thermal.CRACUnits)
		}
	case FailurePDUSpike, FailureNetworkPartition:
		r, err := ParseRackID(target)
		if err != nil {
			return err
		}
		if r >= e.cfg.Facility.NumRacks {
			return errInvalid("rack %d out of range (have %d)", r, e.cfg.Facility.NumRacks)
		}
	case FailureGPUDegraded:
		r, slot, err := ParseServerID(target)
		if err != nil {
			return err
		}
		if r >= e.cfg.Facility.NumRacks || slot >= e.cfg.Facility.ServersPerRack {
			return errInvalid("server %s out of range", target)
		}
	default:
		return errInvalid("unknown failure type %q", ftype)
	}
	return nil
}

// newID draws a UUID from the failures RNG stream so ids replay identically.
func (e *FailureEngine) newID() string {
	id, err := uuid.NewRandomFromReader(e.rng)
	if err != nil {
		// rand.Rand.Read never fails.
		panic(err)
	}
	return id.String()
}
