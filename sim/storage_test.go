package sim

import (
	"testing"

	"github.com/dc-sim/dc-sim/sim/internal/testutil"
)

func newTestStorageModel(seed int64) (*StorageModel, *Facility) {
	cfg := DefaultConfig()
	rng := NewPartitionedRNG(NewSimulationKey(seed)).ForSubsystem(SubsystemStorage)
	return NewStorageModel(cfg, rng), NewFacility(cfg)
}

// === Shelf Snapshot Tests ===

func TestStorageModel_IdleShelves(t *testing.T) {
	m, f := newTestStorageModel(42)

	st := m.Step(f, nil)

	if len(st.Racks) != len(f.Racks) {
		t.Fatalf("racks = %d, want %d", len(st.Racks), len(f.Racks))
	}
	testutil.AssertFloat64Equal(t, "TotalCapacityTB", 240, st.TotalCapacityTB, 1e-9)
	for _, rs := range st.Racks {
		if rs.QueueDepth != 1 {
			t.Errorf("rack %d idle queue depth = %d, want 1", rs.RackID, rs.QueueDepth)
		}
		// Shelves are pre-populated with 5 to 15 TB of resident data.
		if rs.UsedTB < 5 || rs.UsedTB > 15 {
			t.Errorf("rack %d UsedTB = %v, want within [5, 15]", rs.RackID, rs.UsedTB)
		}
		if rs.DriveHealthPct != 100 {
			t.Errorf("rack %d fresh drive health = %v, want 100", rs.RackID, rs.DriveHealthPct)
		}
		if rs.CapacityTB != shelfCapacityTB {
			t.Errorf("rack %d CapacityTB = %v, want %v", rs.RackID, rs.CapacityTB, shelfCapacityTB)
		}
	}
	if st.MinDriveHealthPct != 100 {
		t.Errorf("MinDriveHealthPct = %v, want 100", st.MinDriveHealthPct)
	}
}

func TestStorageModel_JobMixShapesIOPS(t *testing.T) {
	m, f := newTestStorageModel(42)
	jobTypes := make(map[string]JobType)
	markRackBusy(f, 0, JobTraining, 0.9, jobTypes)
	markRackBusy(f, 1, JobInference, 0.9, jobTypes)
	markRackBusy(f, 2, JobBatch, 0.9, jobTypes)

	st := m.Step(f, jobTypes)

	training, inference, batch := st.Racks[0], st.Racks[1], st.Racks[2]
	if training.ReadIOPS <= inference.ReadIOPS {
		t.Errorf("training reads %v not above inference %v", training.ReadIOPS, inference.ReadIOPS)
	}
	// Batch is symmetric: reads and writes scale from the same profile.
	if batch.ReadIOPS != batch.WriteIOPS {
		t.Errorf("batch read %v != write %v", batch.ReadIOPS, batch.WriteIOPS)
	}
	if training.WriteIOPS <= inference.WriteIOPS {
		t.Errorf("training writes %v not above inference %v", training.WriteIOPS, inference.WriteIOPS)
	}
}

// === Capacity Cap Tests ===

func TestStorageModel_IOPSCapPreservesMix(t *testing.T) {
	// BDD: Demand beyond the shelf limit is capped keeping the read share
	cfg := DefaultConfig()
	cfg.Facility.ServersPerRack = 20 // 1.4M IOPS of training demand vs a 1M shelf
	rng := NewPartitionedRNG(NewSimulationKey(42)).ForSubsystem(SubsystemStorage)
	m := NewStorageModel(cfg, rng)
	f := NewFacility(cfg)
	jobTypes := make(map[string]JobType)
	markRackBusy(f, 0, JobTraining, 1.0, jobTypes)

	st := m.Step(f, jobTypes)

	rs := st.Racks[0]
	total := rs.ReadIOPS + rs.WriteIOPS
	if total > shelfMaxIOPS+1 {
		t.Errorf("total IOPS %v exceeds shelf limit %v", total, shelfMaxIOPS)
	}
	// Training demands 50k reads to 20k writes per server.
	testutil.AssertFloat64Equal(t, "read share", 5.0/7.0, rs.ReadIOPS/total, 1e-4)
	if rs.QueueDepth < 1 || rs.QueueDepth > shelfMaxQueueDepth {
		t.Errorf("QueueDepth = %d, want within [1, %d]", rs.QueueDepth, shelfMaxQueueDepth)
	}
}

func TestStorageModel_ThroughputCapScalesProportionally(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Facility.ServersPerRack = 20 // 120 Gbps of training demand vs a 25 Gbps shelf
	rng := NewPartitionedRNG(NewSimulationKey(42)).ForSubsystem(SubsystemStorage)
	m := NewStorageModel(cfg, rng)
	f := NewFacility(cfg)
	jobTypes := make(map[string]JobType)
	markRackBusy(f, 0, JobTraining, 1.0, jobTypes)

	st := m.Step(f, jobTypes)

	rs := st.Racks[0]
	total := rs.ReadThroughputGbps + rs.WriteThroughputGbps
	testutil.AssertFloat64Equal(t, "capped throughput", shelfMaxThroughputGbps, total, 1e-2)
	// Training moves 4 read Gbps to 2 write Gbps per server.
	testutil.AssertFloat64Equal(t, "read share", 2.0/3.0, rs.ReadThroughputGbps/total, 1e-2)
}

// === Latency Tests ===

func TestStorageModel_LatencyRatios(t *testing.T) {
	m, f := newTestStorageModel(42)
	jobTypes := make(map[string]JobType)
	markRackBusy(f, 0, JobTraining, 0.9, jobTypes)

	st := m.Step(f, jobTypes)

	rs := st.Racks[0]
	if rs.AvgReadLatencyUS < baseReadLatencyUS {
		t.Errorf("read latency = %v, want >= base %v", rs.AvgReadLatencyUS, baseReadLatencyUS)
	}
	testutil.AssertFloat64Equal(t, "write/read ratio", 1.3, rs.AvgWriteLatencyUS/rs.AvgReadLatencyUS, 1e-2)
	testutil.AssertFloat64Equal(t, "p99/read ratio", 2.5, rs.P99LatencyUS/rs.AvgReadLatencyUS, 1e-2)
	if rs.QueueDepth <= 1 {
		t.Errorf("busy shelf queue depth = %d, want above idle", rs.QueueDepth)
	}
}

// === Wear Tests ===

func TestStorageModel_WearAccumulates(t *testing.T) {
	// BDD: Sustained writes consume endurance and drive health declines
	m, f := newTestStorageModel(42)
	jobTypes := make(map[string]JobType)
	markRackBusy(f, 0, JobBatch, 0.9, jobTypes)

	var st FacilityStorageState
	for i := 0; i < 200; i++ {
		st = m.Step(f, jobTypes)
	}

	rs := st.Racks[0]
	if rs.CumulativeWritesTB <= 5 {
		t.Errorf("CumulativeWritesTB = %v after 200 busy ticks, want > 5", rs.CumulativeWritesTB)
	}
	if rs.DriveHealthPct >= 100 {
		t.Errorf("DriveHealthPct = %v, want below 100 after sustained writes", rs.DriveHealthPct)
	}
	if st.MinDriveHealthPct >= 100 {
		t.Errorf("MinDriveHealthPct = %v, want below 100", st.MinDriveHealthPct)
	}
	// The idle rack next door barely wears.
	if st.Racks[1].CumulativeWritesTB > 0.1 {
		t.Errorf("idle rack writes = %v, want near 0", st.Racks[1].CumulativeWritesTB)
	}
}

func TestStorageModel_ResetRepopulatesShelves(t *testing.T) {
	m, f := newTestStorageModel(42)
	jobTypes := make(map[string]JobType)
	markRackBusy(f, 0, JobBatch, 0.9, jobTypes)
	for i := 0; i < 100; i++ {
		m.Step(f, jobTypes)
	}

	m.Reset()
	st := m.Step(f, nil)

	rs := st.Racks[0]
	if rs.CumulativeWritesTB > 0.01 {
		t.Errorf("CumulativeWritesTB after Reset = %v, want near 0", rs.CumulativeWritesTB)
	}
	if rs.DriveHealthPct != 100 {
		t.Errorf("DriveHealthPct after Reset = %v, want 100", rs.DriveHealthPct)
	}
	if rs.UsedTB < 5 || rs.UsedTB > 15 {
		t.Errorf("UsedTB after Reset = %v, want within [5, 15]", rs.UsedTB)
	}
}

func TestStorageModel_Deterministic(t *testing.T) {
	m1, f1 := newTestStorageModel(7)
	m2, f2 := newTestStorageModel(7)

	s1 := m1.Step(f1, nil)
	s2 := m2.Step(f2, nil)

	if s1.TotalUsedTB != s2.TotalUsedTB || s1.TotalReadIOPS != s2.TotalReadIOPS {
		t.Errorf("identical seeds diverged: used %v/%v iops %v/%v",
			s1.TotalUsedTB, s2.TotalUsedTB, s1.TotalReadIOPS, s2.TotalReadIOPS)
	}
}
