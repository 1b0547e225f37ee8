package sim

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Simulator owns every component and the tick loop. All mutation funnels
// through a single mutex so the components themselves stay lock-free; the
// background runner and API callers serialise here.
type Simulator struct {
	mu  sync.Mutex
	cfg *Config

	rng       *PartitionedRNG
	clock     *Clock
	facility  *Facility
	failures  *FailureEngine
	workload  *WorkloadModel
	power     *PowerModel
	thermal   *ThermalModel
	gpu       *GPUModel
	network   *NetworkModel
	storage   *StorageModel
	cooling   *CoolingModel
	carbon    *CarbonModel
	telemetry *TelemetryBuffer
	audit     *AuditLog

	running bool
	stopCh  chan struct{}
	runWG   sync.WaitGroup

	onTick func(*FacilityState)
}

// NewSimulator constructs every component from the config and seed. No tick
// has run yet, so the telemetry buffer starts empty.
func NewSimulator(cfg *Config) *Simulator {
	s := &Simulator{
		cfg:       cfg,
		telemetry: NewTelemetryBuffer(cfg.TelemetryOut),
		audit:     NewAuditLog(),
	}
	s.build()
	return s
}

// build wires fresh components from cfg and the seed. Shared by the
// constructor and Reset.
func (s *Simulator) build() {
	key := NewSimulationKey(s.cfg.RNGSeed)
	s.rng = NewPartitionedRNG(key)
	s.clock = NewClock(s.cfg.Clock.TickIntervalS, s.cfg.Clock.RealtimeFactor)
	s.facility = NewFacility(s.cfg)
	s.failures = NewFailureEngine(s.cfg, s.rng.ForSubsystem(SubsystemFailures))
	s.workload = NewWorkloadModel(s.cfg, s.rng.ForSubsystem(SubsystemWorkload), s.facility)
	s.power = NewPowerModel(s.cfg)
	s.thermal = NewThermalModel(s.cfg)
	s.gpu = NewGPUModel(s.cfg, s.rng.ForSubsystem(SubsystemGPU))
	s.network = NewNetworkModel(s.cfg, s.rng.ForSubsystem(SubsystemNetwork))
	s.storage = NewStorageModel(s.cfg, s.rng.ForSubsystem(SubsystemStorage))
	s.cooling = NewCoolingModel(s.cfg, s.thermal)
	s.carbon = NewCarbonModel(s.cfg, s.rng.ForSubsystem(SubsystemCarbon))
}

// Config returns the simulator's configuration.
func (s *Simulator) Config() *Config { return s.cfg }

// Audit returns the audit log.
func (s *Simulator) Audit() *AuditLog { return s.audit }

// Telemetry returns the snapshot buffer.
func (s *Simulator) Telemetry() *TelemetryBuffer { return s.telemetry }

// SetOnTick registers a callback invoked with each fresh snapshot, outside
// the simulator lock. Used for metrics export.
func (s *Simulator) SetOnTick(fn func(*FacilityState)) {
	s.mu.Lock()
	s.onTick = fn
	s.mu.Unlock()
}

// Tick advances the simulation one step and returns the snapshot.
func (s *Simulator) Tick() *FacilityState {
	s.mu.Lock()
	st := s.tickLocked()
	fn := s.onTick
	s.mu.Unlock()
	if fn != nil {
		fn(st)
	}
	return st
}

// TickN advances n steps and returns the final snapshot.
func (s *Simulator) TickN(n int) *FacilityState {
	var last *FacilityState
	for i := 0; i < n; i++ {
		last = s.Tick()
	}
	return last
}

// tickLocked runs one full component pass. Caller holds the mutex.
func (s *Simulator) tickLocked() *FacilityState {
	s.clock.Tick()
	now := s.clock.CurrentTime
	hour := s.clock.HourOfDay()

	s.failures.Step(now)

	// Partitioned racks kill their jobs before scheduling; degraded servers
	// cap utilisation inside the workload pass.
	partitioned := s.failures.PartitionedRacks()
	s.workload.FailPartitioned(partitioned, now)
	degraded := s.failures.DegradedServers()
	for i := range s.facility.Servers {
		s.facility.Servers[i].Degraded = degraded[s.facility.Servers[i].ID()]
	}
	s.workload.Step(now)

	ambient := s.thermal.AmbientTemp(hour)
	powerState := s.power.Step(s.facility, s.failures, ambient)
	thermalState := s.thermal.Step(s.facility, s.failures, hour)

	jobTypes := s.workload.ServerJobTypes()
	gpuState := s.gpu.Step(s.facility, jobTypes)
	networkState := s.network.Step(s.facility, s.workload.Running(), jobTypes, partitioned)
	storageState := s.storage.Step(s.facility, jobTypes)
	coolingState := s.cooling.Step(s.facility, s.failures, ambient)
	carbonState := s.carbon.Step(hour, powerState.TotalPowerKW)

	st := &FacilityState{
		Clock: ClockState{
			TickCount:     int(s.clock.TickCount),
			SimTimeS:      now,
			Elapsed:       s.clock.Elapsed(),
			HourOfDay:     hour,
			TickIntervalS: s.clock.TickIntervalS,
		},
		Thermal: thermalState,
		Power:   powerState,
		GPU:     gpuState,
		Network: networkState,
		Storage: storageState,
		Cooling: coolingState,
		Carbon:  carbonState,
		Workload: WorkloadState{
			PendingJobs:   len(s.workload.Pending()),
			RunningJobs:   len(s.workload.Running()),
			CompletedJobs: len(s.workload.Completed(0)),
			TotalJobsSeen: s.workload.TotalJobsSeen(),
			SLAViolations: s.workload.SLAViolations(),
			Pending:       cloneJobs(s.workload.Pending()),
			Running:       cloneJobs(s.workload.Running()),
		},
		ActiveFailures: s.failures.Active(),
	}
	s.telemetry.Push(st)

	if s.clock.TickCount%60 == 0 {
		logrus.Infof("[tick %07d] %s it=%.1fkW pue=%.2f inlet(max)=%.1fC jobs r=%d p=%d",
			s.clock.TickCount, st.Clock.Elapsed, st.Power.ITPowerKW, st.Power.PUE,
			st.Thermal.MaxInletTempC, st.Workload.RunningJobs, st.Workload.PendingJobs)
	}
	return st
}

// StartContinuous launches a background loop that ticks every intervalS wall
// seconds until Pause. Returns false if already running.
func (s *Simulator) StartContinuous(intervalS float64) bool {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return false
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stop := s.stopCh
	s.mu.Unlock()

	s.runWG.Add(1)
	go func() {
		defer s.runWG.Done()
		interval := time.Duration(intervalS * float64(time.Second))
		if interval <= 0 {
			interval = time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.Tick()
			}
		}
	}()
	logrus.Infof("continuous run started, interval %.1fs", intervalS)
	return true
}

// Pause stops the background loop. Returns false if not running.
func (s *Simulator) Pause() bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()
	s.runWG.Wait()
	logrus.Info("continuous run paused")
	return true
}

// Running reports whether the background loop is active.
func (s *Simulator) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Reset rebuilds every component from the same config and seed, producing a
// bit-identical replay. The telemetry buffer and audit log are cleared.
func (s *Simulator) Reset() {
	s.Pause()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.build()
	s.telemetry.Reset()
	s.audit.Reset()
	logrus.Infof("simulation reset, seed %d", s.cfg.RNGSeed)
}

// Latest returns the most recent snapshot, or nil before the first tick.
func (s *Simulator) Latest() *FacilityState {
	return s.telemetry.Latest()
}

// History returns up to lastN retained snapshots in tick order.
func (s *Simulator) History(lastN int) []*FacilityState {
	return s.telemetry.History(lastN)
}

// Close releases the telemetry sink.
func (s *Simulator) Close() error {
	s.Pause()
	return s.telemetry.Close()
}

// PendingJobs returns the live pending queue as value copies.
func (s *Simulator) PendingJobs() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneJobs(s.workload.Pending())
}

// RunningJobs returns the live running set as value copies.
func (s *Simulator) RunningJobs() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneJobs(s.workload.Running())
}

// CompletedJobs returns up to lastN most recent completed jobs.
func (s *Simulator) CompletedJobs(lastN int) []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneJobs(s.workload.Completed(lastN))
}

// SLAViolations returns the violation counter.
func (s *Simulator) SLAViolations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workload.SLAViolations()
}

// ActiveFailures returns the active failure list.
func (s *Simulator) ActiveFailures() []ActiveFailure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures.Active()
}

// SubmitJob queues a manually submitted job.
func (s *Simulator) SubmitJob(spec JobSpec) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.workload.Submit(spec, s.clock.CurrentTime)
	s.appendAuditLocked("submit_job", map[string]any{"name": spec.Name, "job_type": string(spec.Type)}, err, SourceAPI)
	if err != nil {
		return nil, err
	}
	return cloneJobs([]*Job{job})[0], nil
}
