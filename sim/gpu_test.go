package sim

import (
	"testing"
)

func newTestGPUModel(seed int64) (*GPUModel, *Facility) {
	cfg := DefaultConfig()
	rng := NewPartitionedRNG(NewSimulationKey(seed)).ForSubsystem(SubsystemGPU)
	return NewGPUModel(cfg, rng), NewFacility(cfg)
}

// === Fleet Snapshot Tests ===

func TestGPUModel_FleetCounts(t *testing.T) {
	m, f := newTestGPUModel(42)

	st := m.Step(f, nil)

	want := DefaultConfig().TotalGPUSlots()
	if st.TotalGPUs != want {
		t.Errorf("TotalGPUs = %d, want %d", st.TotalGPUs, want)
	}
	if st.HealthyGPUs+st.ThrottledGPUs != want {
		t.Errorf("healthy %d + throttled %d != total %d", st.HealthyGPUs, st.ThrottledGPUs, want)
	}
	if len(st.Servers) != len(f.Servers) {
		t.Errorf("server snapshots = %d, want %d", len(st.Servers), len(f.Servers))
	}
	if len(st.Servers[0].GPUs) != 4 {
		t.Errorf("GPUs per server = %d, want 4", len(st.Servers[0].GPUs))
	}
}

func TestGPUModel_IdleFleetRunsCool(t *testing.T) {
	// BDD: Idle GPUs at ambient inlets stay far below the throttle point
	m, f := newTestGPUModel(42)

	st := m.Step(f, nil)

	if st.ThrottledGPUs != 0 {
		t.Errorf("idle fleet throttled %d GPUs", st.ThrottledGPUs)
	}
	// Inlet 22 + 5 + jitter: every die should sit near 27C.
	if st.AvgGPUTempC < 20 || st.AvgGPUTempC > 35 {
		t.Errorf("idle AvgGPUTempC = %v, want near 27", st.AvgGPUTempC)
	}
}

func TestGPUModel_HotBusyGPUsThrottle(t *testing.T) {
	// BDD: High utilisation on a hot inlet pushes junctions past 83C
	m, f := newTestGPUModel(42)
	jobTypes := make(map[string]JobType)
	for i := range f.Servers {
		f.Servers[i].Utilisation = 0.95
		jobTypes[f.Servers[i].ID()] = JobTraining
	}
	for i := range f.Racks {
		f.Racks[i].InletTempC = 30
	}

	st := m.Step(f, jobTypes)

	// 30 + 5 + 66.5 = 101.5 C, far beyond the throttle point.
	if st.ThrottledGPUs != st.TotalGPUs {
		t.Errorf("throttled %d of %d, want all", st.ThrottledGPUs, st.TotalGPUs)
	}
	if st.HealthyGPUs != 0 {
		t.Errorf("HealthyGPUs = %d, want 0", st.HealthyGPUs)
	}
	// Throttled clocks sit below boost.
	for _, g := range st.Servers[0].GPUs {
		if !g.ThermalThrottle {
			t.Errorf("gpu %s not flagged throttled at %v C", g.GPUID, g.GPUTempC)
		}
		if g.SMClockMHz >= gpuBoostSMClockMHz {
			t.Errorf("gpu %s clock %d at boost while throttled", g.GPUID, g.SMClockMHz)
		}
	}
}

func TestGPUModel_MemoryByJobType(t *testing.T) {
	m, _ := newTestGPUModel(42)

	idle := m.memUsedMiB(0.9, JobTraining, false)
	if idle != gpuMemTotalMiB/100 {
		t.Errorf("idle memory = %d, want driver overhead %d", idle, gpuMemTotalMiB/100)
	}

	training := m.memUsedMiB(0.9, JobTraining, true)
	inference := m.memUsedMiB(0.9, JobInference, true)
	if training <= inference {
		t.Errorf("training memory %d should exceed inference %d", training, inference)
	}
	if training > gpuMemTotalMiB {
		t.Errorf("memory %d exceeds HBM capacity", training)
	}
}

func TestGPUModel_NVLinkOnlyForTraining(t *testing.T) {
	m, _ := newTestGPUModel(42)

	tx, rx := m.nvlinkGbps(0.9, JobInference)
	if tx != 0 || rx != 0 {
		t.Errorf("inference NVLink = %v/%v, want 0/0", tx, rx)
	}
	tx, rx = m.nvlinkGbps(0.9, JobTraining)
	if tx <= 0 || rx <= 0 {
		t.Errorf("training NVLink = %v/%v, want positive", tx, rx)
	}
	if tx > gpuNVLinkMaxGbps || rx > gpuNVLinkMaxGbps {
		t.Errorf("NVLink exceeds link rate: %v/%v", tx, rx)
	}
}

func TestGPUModel_ECCCountersPersist(t *testing.T) {
	m, f := newTestGPUModel(42)
	m.eccSBE["rack-0-srv-0-gpu-0"] = 3

	st := m.Step(f, nil)

	if got := st.Servers[0].GPUs[0].ECCSBECount; got < 3 {
		t.Errorf("ECCSBECount = %d, want >= 3 (counter reset?)", got)
	}

	m.Reset()
	st = m.Step(f, nil)
	if got := st.Servers[0].GPUs[0].ECCSBECount; got != 0 {
		t.Errorf("ECCSBECount after Reset = %d, want 0", got)
	}
}

func TestGPUModel_Deterministic(t *testing.T) {
	m1, f1 := newTestGPUModel(7)
	m2, f2 := newTestGPUModel(7)

	s1 := m1.Step(f1, nil)
	s2 := m2.Step(f2, nil)

	if s1.AvgGPUTempC != s2.AvgGPUTempC || s1.AvgSMUtilPct != s2.AvgSMUtilPct {
		t.Errorf("identical seeds diverged: %v/%v vs %v/%v",
			s1.AvgGPUTempC, s1.AvgSMUtilPct, s2.AvgGPUTempC, s2.AvgSMUtilPct)
	}
}
