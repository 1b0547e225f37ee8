package sim

// FacilityState is the immutable per-tick snapshot of every subsystem.
// Produced once at the end of each tick and pushed into the telemetry
// buffer; entries are never mutated after append.

// WorkloadState summarises the job queues at snapshot time.
type WorkloadState struct {
	PendingJobs   int    `json:"pending_jobs"`
	RunningJobs   int    `json:"running_jobs"`
	CompletedJobs int    `json:"completed_jobs"`
	TotalJobsSeen int    `json:"total_jobs_seen"`
	SLAViolations int    `json:"sla_violations"`
	Pending       []*Job `json:"pending"`
	Running       []*Job `json:"running"`
}

// ClockState is the snapshot's time coordinates.
type ClockState struct {
	TickCount  int     `json:"tick_count"`
	SimTimeS   float64 `json:"sim_time_s"`
	Elapsed    string  `json:"elapsed"`
	HourOfDay  float64 `json:"hour_of_day"`
	TickIntervalS float64 `json:"tick_interval_s"`
}

// FacilityState aggregates one tick's outputs across every subsystem.
type FacilityState struct {
	Clock          ClockState           `json:"clock"`
	Thermal        FacilityThermalState `json:"thermal"`
	Power          FacilityPowerState   `json:"power"`
	GPU            FacilityGPUState     `json:"gpu"`
	Network        FacilityNetworkState `json:"network"`
	Storage        FacilityStorageState `json:"storage"`
	Cooling        FacilityCoolingState `json:"cooling"`
	Carbon         CarbonState          `json:"carbon"`
	Workload       WorkloadState        `json:"workload"`
	ActiveFailures []ActiveFailure      `json:"active_failures"`
}

// cloneJobs deep-copies a job slice so snapshot entries stay frozen while the
// workload model keeps mutating the originals.
func cloneJobs(jobs []*Job) []*Job {
	out := make([]*Job, 0, len(jobs))
	for _, j := range jobs {
		c := *j
		c.AssignedServers = append([]string(nil), j.AssignedServers...)
		if j.StartedAt != nil {
			v := *j.StartedAt
			c.StartedAt = &v
		}
		if j.CompletedAt != nil {
			v := *j.CompletedAt
			c.CompletedAt = &v
		}
		out = append(out, &c)
	}
	return out
}
