package sim

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// JobType classifies the workload mix.
type JobType string

const (
	JobTraining  JobType = "training"
	JobInference JobType = "inference"
	JobBatch     JobType = "batch"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobPreempted JobStatus = "preempted"
)

// idleUtilisation is the background GPU utilisation of an unassigned slot.
const idleUtilisation = 0.05

// completedRetention bounds the completed-job history.
const completedRetention = 1000

// jobProfile holds the per-type sampling ranges.
type jobProfile struct {
	gpuMin, gpuMax int
	durMin, durMax float64
	priMin, priMax int
	slaMin, slaMax float64
	targetUtil     float64
}

var jobProfiles = map[JobType]jobProfile{
	JobTraining:  {4, 16, 3600, 14400, 2, 4, 1800, 7200, 0.92},
	JobInference: {1, 2, 60, 600, 4, 5, 30, 300, 0.60},
	JobBatch:     {2, 8, 600, 7200, 1, 3, 3600, 14400, 0.85},
}

// Job is one unit of work moving through queued -> running -> completed
// (or failed/preempted). AssignedServers is empty unless the job is running.
type Job struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Type              JobType   `json:"job_type"`
	GPURequirement    int       `json:"gpu_requirement"`
	Priority          int       `json:"priority"`
	DurationS         float64   `json:"duration_s"`
	SubmittedAt       float64   `json:"submitted_at_s"`
	StartedAt         *float64  `json:"started_at_s,omitempty"`
	CompletedAt       *float64  `json:"completed_at_s,omitempty"`
	AssignedServers   []string  `json:"assigned_servers"`
	TargetUtilisation float64   `json:"target_utilisation"`
	SLADeadlineS      float64   `json:"sla_deadline_s"`
	SLAViolated       bool      `json:"sla_violated"`
	Status            JobStatus `json:"status"`
}

// JobSpec is the caller-facing shape for manual submission. Zero-valued
// numeric fields are filled from the type profile.
type JobSpec struct {
	Name           string  `json:"name"`
	Type           JobType `json:"job_type"`
	GPURequirement int     `json:"gpu_requirement"`
	Priority       int     `json:"priority"`
	DurationS      float64 `json:"duration_s"`
	SLADeadlineS   float64 `json:"sla_deadline_s"`
}

// WorkloadModel owns the job queues and the first-fit priority scheduler.
// All randomness comes from the workload subsystem stream.
type WorkloadModel struct {
	cfg      *Config
	rng      *rand.Rand
	facility *Facility

	pending   []*Job
	running   []*Job
	completed []*Job

	// per-job slot allocation, serverID -> slots, needed to free exactly
	// what was taken
	allocations map[string]map[string]int

	jobSeq        int
	totalJobsSeen int
	slaViolations int
}

// NewWorkloadModel builds an empty workload over the facility arena.
func NewWorkloadModel(cfg *Config, rng *rand.Rand, facility *Facility) *WorkloadModel {
	return &WorkloadModel{
		cfg:         cfg,
		rng:         rng,
		facility:    facility,
		allocations: make(map[string]map[string]int),
	}
}

// Step runs one workload tick: arrivals, scheduling, completion, SLA
// bookkeeping, utilisation publication. Partition casualties are handled
// separately by FailPartitioned before this runs.
func (w *WorkloadModel) Step(now float64) {
	w.arrive(now)
	w.schedule(now)
	w.complete(now)
	w.checkSLA(now)
	w.publishUtilisation()
}

// arrive draws the Poisson arrival for this tick and samples one job.
func (w *WorkloadModel) arrive(now float64) {
	pArrival := 1.0 - math.Exp(-w.cfg.Clock.TickIntervalS/w.cfg.Workload.MeanJobArrivalIntervalS)
	if w.rng.Float64() >= pArrival {
		return
	}
	job := w.sampleJob(now)
	w.pending = append(w.pending, job)
	w.totalJobsSeen++
	logrus.Debugf("job arrived: %s (%s, %d GPUs, prio %d)", job.Name, job.Type, job.GPURequirement, job.Priority)
}

func (w *WorkloadModel) sampleJob(now float64) *Job {
	var jtype JobType
	switch r := w.rng.Float64(); {
	case r < 0.5:
		jtype = JobInference
	case r < 0.8:
		jtype = JobBatch
	default:
		jtype = JobTraining
	}
	p := jobProfiles[jtype]
	w.jobSeq++
	return &Job{
		ID:                w.newID(),
		Name:              fmt.Sprintf("%s-%04d", jtype, w.jobSeq),
		Type:              jtype,
		GPURequirement:    p.gpuMin + w.rng.Intn(p.gpuMax-p.gpuMin+1),
		Priority:          p.priMin + w.rng.Intn(p.priMax-p.priMin+1),
		DurationS:         p.durMin + w.rng.Float64()*(p.durMax-p.durMin),
		SubmittedAt:       now,
		AssignedServers:   []string{},
		TargetUtilisation: p.targetUtil,
		SLADeadlineS:      p.slaMin + w.rng.Float64()*(p.slaMax-p.slaMin),
		Status:            JobQueued,
	}
}

// Submit queues a caller-provided job. Missing GPU requirement and priority
// fall back to the type profile minimums, missing duration and SLA deadline
// to the profile midpoints; the type itself must be valid.
func (w *WorkloadModel) Submit(spec JobSpec, now float64) (*Job, error) {
	p, ok := jobProfiles[spec.Type]
	if !ok {
		return nil, errInvalid("unknown job type %q", spec.Type)
	}
	job := &Job{
		ID:                w.newID(),
		Name:              spec.Name,
		Type:              spec.Type,
		GPURequirement:    spec.GPURequirement,
		Priority:          spec.Priority,
		DurationS:         spec.DurationS,
		SubmittedAt:       now,
		AssignedServers:   []string{},
		TargetUtilisation: p.targetUtil,
		SLADeadlineS:      spec.SLADeadlineS,
		Status:            JobQueued,
	}
	if job.GPURequirement <= 0 {
		job.GPURequirement = p.gpuMin
	}
	if job.Priority <= 0 {
		job.Priority = p.priMin
	}
	if job.Priority > 5 {
		return nil, errInvalid("priority %d out of range [1,5]", job.Priority)
	}
	if job.DurationS <= 0 {
		job.DurationS = (p.durMin + p.durMax) / 2
	}
	if job.SLADeadlineS <= 0 {
		job.SLADeadlineS = (p.slaMin + p.slaMax) / 2
	}
	if job.Name == "" {
		w.jobSeq++
		job.Name = fmt.Sprintf("%s-%04d", job.Type, w.jobSeq)
	}
	w.pending = append(w.pending, job)
	w.totalJobsSeen++
	return job, nil
}

// FailPartitioned fails every running job touching a partitioned rack and
// frees its slots before the scheduler runs.
func (w *WorkloadModel) FailPartitioned(rackIDs []int, now float64) {
	if len(rackIDs) == 0 {
		return
	}
	hit := make(map[int]bool, len(rackIDs))
	for _, r := range rackIDs {
		hit[r] = true
	}
	kept := w.running[:0]
	for _, job := range w.running {
		failed := false
		for _, sid := range job.AssignedServers {
			r, _, err := ParseServerID(sid)
			if err == nil && hit[r] {
				failed = true
				break
			}
		}
		if !failed {
			kept = append(kept, job)
			continue
		}
		w.free(job)
		t := now
		job.CompletedAt = &t
		job.Status = JobFailed
		w.retire(job)
		logrus.Warnf("job %s failed: network partition on assigned rack", job.Name)
	}
	w.running = kept
}

// schedule places pending jobs by (priority desc, submitted asc) over the
// server scan order, preferring a single server with enough free slots.
func (w *WorkloadModel) schedule(now float64) {
	order := make([]*Job, len(w.pending))
	copy(order, w.pending)
	sort.SliceStable(order, func(i, j int) bool {
		if order[i].Priority != order[j].Priority {
			return order[i].Priority > order[j].Priority
		}
		return order[i].SubmittedAt < order[j].SubmittedAt
	})

	placed := make(map[string]bool)
	for _, job := range order {
		if w.place(job, now) {
			placed[job.ID] = true
		}
	}
	if len(placed) == 0 {
		return
	}
	kept := w.pending[:0]
	for _, job := range w.pending {
		if !placed[job.ID] {
			kept = append(kept, job)
		}
	}
	w.pending = kept
}

// place tries to start a job. Returns false when the fleet lacks slots.
func (w *WorkloadModel) place(job *Job, now float64) bool {
	// Single-server first fit.
	for i := range w.facility.Servers {
		srv := &w.facility.Servers[i]
		if srv.FreeSlots >= job.GPURequirement {
			w.assign(job, map[string]int{srv.ID(): job.GPURequirement}, []string{srv.ID()}, now)
			return true
		}
	}
	// Greedy spread across the scan order.
	need := job.GPURequirement
	alloc := make(map[string]int)
	var orderIDs []string
	for i := range w.facility.Servers {
		srv := &w.facility.Servers[i]
		if srv.FreeSlots == 0 {
			continue
		}
		take := srv.FreeSlots
		if take > need {
			take = need
		}
		alloc[srv.ID()] = take
		orderIDs = append(orderIDs, srv.ID())
		need -= take
		if need == 0 {
			break
		}
	}
	if need > 0 {
		return false
	}
	w.assign(job, alloc, orderIDs, now)
	return true
}

func (w *WorkloadModel) assign(job *Job, alloc map[string]int, order []string, now float64) {
	for _, sid := range order {
		srv, err := w.facility.Server(sid)
		if err != nil {
			continue
		}
		srv.FreeSlots -= alloc[sid]
	}
	t := now
	job.StartedAt = &t
	job.Status = JobRunning
	job.AssignedServers = append([]string{}, order...)
	w.allocations[job.ID] = alloc
	w.running = append(w.running, job)
	logrus.Debugf("job %s started on %v", job.Name, job.AssignedServers)
}

// free returns a job's slots to its servers and clears the allocation.
func (w *WorkloadModel) free(job *Job) {
	for sid, slots := range w.allocations[job.ID] {
		if srv, err := w.facility.Server(sid); err == nil {
			srv.FreeSlots += slots
			if srv.FreeSlots > srv.TotalSlots {
				srv.FreeSlots = srv.TotalSlots
			}
		}
	}
	delete(w.allocations, job.ID)
	job.AssignedServers = []string{}
}

func (w *WorkloadModel) complete(now float64) {
	kept := w.running[:0]
	for _, job := range w.running {
		if job.StartedAt != nil && now-*job.StartedAt >= job.DurationS {
			w.free(job)
			t := now
			job.CompletedAt = &t
			job.Status = JobCompleted
			w.retire(job)
			logrus.Debugf("job %s completed", job.Name)
			continue
		}
		kept = append(kept, job)
	}
	w.running = kept
}

func (w *WorkloadModel) checkSLA(now float64) {
	for _, job := range w.pending {
		if !job.SLAViolated && now-job.SubmittedAt > job.SLADeadlineS {
			job.SLAViolated = true
			w.slaViolations++
			logrus.Warnf("SLA violated: %s queued %.0fs (deadline %.0fs)", job.Name, now-job.SubmittedAt, job.SLADeadlineS)
		}
	}
}

// publishUtilisation writes each server's GPU utilisation into the arena,
// applying throttle, degradation, and operator power caps.
func (w *WorkloadModel) publishUtilisation() {
	perServer := make(map[string]float64)
	for _, job := range w.running {
		for sid, slots := range w.allocations[job.ID] {
			srv, err := w.facility.Server(sid)
			if err != nil {
				continue
			}
			perServer[sid] += job.TargetUtilisation * float64(slots) / float64(srv.TotalSlots)
		}
	}
	for i := range w.facility.Servers {
		srv := &w.facility.Servers[i]
		assignedFrac := float64(srv.TotalSlots-srv.FreeSlots) / float64(srv.TotalSlots)
		util := perServer[srv.ID()] + idleUtilisation*(1-assignedFrac)
		if w.facility.Racks[srv.RackID].Throttled && util > 0.5 {
			util = 0.5
		}
		if srv.Degraded && util > 0.3 {
			util = 0.3
		}
		if srv.PowerCapFrac < 1.0 && util > srv.PowerCapFrac {
			util = srv.PowerCapFrac
		}
		if util > 1.0 {
			util = 1.0
		}
		srv.Utilisation = util
	}
}

// retire appends to the bounded completed history.
func (w *WorkloadModel) retire(job *Job) {
	w.completed = append(w.completed, job)
	if len(w.completed) > completedRetention {
		w.completed = w.completed[len(w.completed)-completedRetention:]
	}
}

// Preempt stops a running job and marks it preempted.
func (w *WorkloadModel) Preempt(jobID string) error {
	for i, job := range w.running {
		if job.ID != jobID {
			continue
		}
		w.free(job)
		job.Status = JobPreempted
		w.running = append(w.running[:i], w.running[i+1:]...)
		w.retire(job)
		return nil
	}
	if w.findAny(jobID) != nil {
		return errConflict("job %s is not running", jobID)
	}
	return errNotFound("unknown job %q", jobID)
}

// Migrate moves a running job onto one target rack. The move is atomic:
// on any shortfall the job keeps its original placement.
func (w *WorkloadModel) Migrate(jobID string, targetRack int) error {
	if !w.facility.RackExists(targetRack) {
		return errNotFound("unknown rack %d", targetRack)
	}
	var job *Job
	for _, j := range w.running {
		if j.ID == jobID {
			job = j
			break
		}
	}
	if job == nil {
		if w.findAny(jobID) != nil {
			return errConflict("job %s is not running", jobID)
		}
		return errNotFound("unknown job %q", jobID)
	}

	// Capacity check on the target rack, ignoring slots the job already
	// holds there (they are freed as part of the move).
	avail := 0
	for _, idx := range w.facility.ServersOfRack(targetRack) {
		srv := &w.facility.Servers[idx]
		avail += srv.FreeSlots + w.allocations[job.ID][srv.ID()]
	}
	if avail < job.GPURequirement {
		return errConflict("insufficient capacity on rack %d: need %d GPUs, have %d free", targetRack, job.GPURequirement, avail)
	}

	w.free(job)
	need := job.GPURequirement
	alloc := make(map[string]int)
	var order []string
	for _, idx := range w.facility.ServersOfRack(targetRack) {
		srv := &w.facility.Servers[idx]
		if srv.FreeSlots == 0 {
			continue
		}
		take := srv.FreeSlots
		if take > need {
			take = need
		}
		srv.FreeSlots -= take
		alloc[srv.ID()] = take
		order = append(order, srv.ID())
		need -= take
		if need == 0 {
			break
		}
	}
	job.AssignedServers = order
	w.allocations[job.ID] = alloc
	logrus.Infof("job %s migrated to rack %d", job.Name, targetRack)
	return nil
}

func (w *WorkloadModel) findAny(jobID string) *Job {
	for _, j := range w.pending {
		if j.ID == jobID {
			return j
		}
	}
	for _, j := range w.running {
		if j.ID == jobID {
			return j
		}
	}
	for _, j := range w.completed {
		if j.ID == jobID {
			return j
		}
	}
	return nil
}

// === Read accessors ===

// Pending returns the queued jobs in arrival order.
func (w *WorkloadModel) Pending() []*Job { return w.pending }

// Running returns the running jobs in start order.
func (w *WorkloadModel) Running() []*Job { return w.running }

// Completed returns up to lastN most recent retired jobs (completed, failed,
// preempted). lastN <= 0 returns all retained.
func (w *WorkloadModel) Completed(lastN int) []*Job {
	if lastN <= 0 || lastN >= len(w.completed) {
		return w.completed
	}
	return w.completed[len(w.completed)-lastN:]
}

// SLAViolations returns the cumulative violation count.
func (w *WorkloadModel) SLAViolations() int { return w.slaViolations }

// TotalJobsSeen returns how many jobs have ever entered the system.
func (w *WorkloadModel) TotalJobsSeen() int { return w.totalJobsSeen }

// ServerJobTypes maps server id to the type of the job running there.
// Servers running several jobs report the type of the earliest-started one.
func (w *WorkloadModel) ServerJobTypes() map[string]JobType {
	out := make(map[string]JobType)
	for _, job := range w.running {
		for _, sid := range job.AssignedServers {
			if _, ok := out[sid]; !ok {
				out[sid] = job.Type
			}
		}
	}
	return out
}

// SlotsOf returns the per-server slot allocation of a running job.
func (w *WorkloadModel) SlotsOf(jobID string) map[string]int {
	return w.allocations[jobID]
}

func (w *WorkloadModel) newID() string {
	id, err := uuid.NewRandomFromReader(w.rng)
	if err != nil {
		panic(err)
	}
	return id.String()
}
