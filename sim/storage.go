package sim

import (
	"math/rand"
)

// Storage model. Each rack carries an NVMe flash shelf shared by its servers.
// IOPS and throughput follow the job mix, queue depth follows Little's law,
// and latency inflates with queue pressure. Drive wear accumulates from
// cumulative writes against a fixed endurance budget.

const (
	shelfMaxIOPS          = 1_000_000
	shelfMaxThroughputGbps = 25.0
	shelfCapacityTB        = 30.0
	shelfEnduranceWritesPB = 100.0
	shelfMaxQueueDepth     = 1024
	baseReadLatencyUS      = 80.0

	idleReadIOPSPerServer  = 100.0
	idleWriteIOPSPerServer = 10.0
	idleReadGbpsPerServer  = 0.01
	idleWriteGbpsPerServer = 0.001
)

// ioProfile is the per-server storage demand of one job type at 100%
// utilisation.
type ioProfile struct {
	readIOPS  float64
	writeIOPS float64
	readGbps  float64
	writeGbps float64
}

var storageProfiles = map[JobType]ioProfile{
	JobTraining:  {readIOPS: 50000, writeIOPS: 20000, readGbps: 4.0, writeGbps: 2.0},
	JobInference: {readIOPS: 8000, writeIOPS: 1000, readGbps: 0.5, writeGbps: 0.1},
	JobBatch:     {readIOPS: 30000, writeIOPS: 30000, readGbps: 2.5, writeGbps: 2.5},
}

// RackStorageState is the per-rack NVMe shelf snapshot.
type RackStorageState struct {
	RackID             int     `json:"rack_id"`
	ReadIOPS           float64 `json:"read_iops"`
	WriteIOPS          float64 `json:"write_iops"`
	ReadThroughputGbps float64 `json:"read_throughput_gbps"`
	WriteThroughputGbps float64 `json:"write_throughput_gbps"`
	QueueDepth         int     `json:"queue_depth"`
	AvgReadLatencyUS   float64 `json:"avg_read_latency_us"`
	AvgWriteLatencyUS  float64 `json:"avg_write_latency_us"`
	P99LatencyUS       float64 `json:"p99_latency_us"`
	CapacityTB         float64 `json:"capacity_tb"`
	UsedTB             float64 `json:"used_tb"`
	UsedPct            float64 `json:"used_pct"`
	DriveHealthPct     float64 `json:"drive_health_pct"`
	CumulativeWritesTB float64 `json:"cumulative_writes_tb"`
}

// FacilityStorageState is the facility storage snapshot.
type FacilityStorageState struct {
	Racks               []RackStorageState `json:"racks"`
	TotalReadIOPS       float64            `json:"total_read_iops"`
	TotalWriteIOPS      float64            `json:"total_write_iops"`
	TotalThroughputGbps float64            `json:"total_throughput_gbps"`
	AvgLatencyUS        float64            `json:"avg_latency_us"`
	TotalUsedTB         float64            `json:"total_used_tb"`
	TotalCapacityTB     float64            `json:"total_capacity_tb"`
	MinDriveHealthPct   float64            `json:"min_drive_health_pct"`
}

// StorageModel derives shelf telemetry. Used capacity and cumulative writes
// persist across ticks; Reset repopulates the shelves.
type StorageModel struct {
	cfg      *Config
	rng      *rand.Rand
	usedTB   map[int]float64
	writesTB map[int]float64
}

// NewStorageModel creates a StorageModel with pre-populated shelves drawing
// from the storage subsystem stream.
func NewStorageModel(cfg *Config, rng *rand.Rand) *StorageModel {
	m := &StorageModel{cfg: cfg, rng: rng}
	m.populate()
	return m
}

func (m *StorageModel) populate() {
	m.usedTB = make(map[int]float64, m.cfg.Facility.NumRacks)
	m.writesTB = make(map[int]float64, m.cfg.Facility.NumRacks)
	for r := 0; r < m.cfg.Facility.NumRacks; r++ {
		m.usedTB[r] = 5.0 + m.rng.Float64()*10.0
	}
}

// Reset re-seeds shelf occupancy and clears the wear accumulators.
func (m *StorageModel) Reset() {
	m.populate()
}

// Step computes the storage snapshot from published server utilisation.
func (m *StorageModel) Step(facility *Facility, jobTypes map[string]JobType) FacilityStorageState {
	state := FacilityStorageState{MinDriveHealthPct: 100.0}
	latencySum := 0.0

	for r := range facility.Racks {
		var readIOPS, writeIOPS, readGbps, writeGbps float64

		for _, idx := range facility.ServersOfRack(r) {
			srv := &facility.Servers[idx]
			jtype, busy := jobTypes[srv.ID()]
			if !busy || srv.Utilisation < 0.01 {
				readIOPS += idleReadIOPSPerServer
				writeIOPS += idleWriteIOPSPerServer
				readGbps += idleReadGbpsPerServer
				writeGbps += idleWriteGbpsPerServer
				continue
			}
			p := storageProfiles[jtype]
			readIOPS += p.readIOPS * srv.Utilisation
			writeIOPS += p.writeIOPS * srv.Utilisation
			readGbps += p.readGbps * srv.Utilisation
			writeGbps += p.writeGbps * srv.Utilisation
		}

		noise := 1.0 + m.rng.NormFloat64()*0.05
		readIOPS *= noise
		writeIOPS *= noise
		readGbps *= noise
		writeGbps *= noise

		// Cap IOPS at the shelf limit preserving the read/write mix.
		totalIOPS := readIOPS + writeIOPS
		if totalIOPS > shelfMaxIOPS {
			frac := readIOPS / totalIOPS
			totalIOPS = shelfMaxIOPS
			readIOPS = totalIOPS * frac
			writeIOPS = totalIOPS * (1 - frac)
		}

		// Throughput cap scales both directions proportionally.
		totalGbps := readGbps + writeGbps
		if totalGbps > shelfMaxThroughputGbps {
			scale := shelfMaxThroughputGbps / totalGbps
			readGbps *= scale
			writeGbps *= scale
			totalGbps = shelfMaxThroughputGbps
		}

		// Little's law at an assumed 80us service time.
		qd := int(totalIOPS * 80.0 / 1e6)
		if qd < 1 {
			qd = 1
		}
		if qd > shelfMaxQueueDepth {
			qd = shelfMaxQueueDepth
		}

		readLat := baseReadLatencyUS * (1.0 + 0.5*float64(qd)/float64(shelfMaxQueueDepth))
		writeLat := readLat * 1.3
		p99 := readLat * 2.5

		// Wear and occupancy from this tick's writes.
		writesTB := writeGbps * m.cfg.Clock.TickIntervalS / (8.0 * 1000.0)
		m.writesTB[r] += writesTB
		m.usedTB[r] = minf(shelfCapacityTB*0.95, m.usedTB[r]+writesTB*0.001)

		health := 100.0 * (1.0 - m.writesTB[r]/(shelfEnduranceWritesPB*1000.0))
		health = clampf(health, 0, 100)

		rs := RackStorageState{
			RackID:              r,
			ReadIOPS:            round1(readIOPS),
			WriteIOPS:           round1(writeIOPS),
			ReadThroughputGbps:  round2(readGbps),
			WriteThroughputGbps: round2(writeGbps),
			QueueDepth:          qd,
			AvgReadLatencyUS:    round1(readLat),
			AvgWriteLatencyUS:   round1(writeLat),
			P99LatencyUS:        round1(p99),
			CapacityTB:          shelfCapacityTB,
			UsedTB:              round2(m.usedTB[r]),
			UsedPct:             round1(m.usedTB[r] / shelfCapacityTB * 100.0),
			DriveHealthPct:      round2(health),
			CumulativeWritesTB:  round3(m.writesTB[r]),
		}
		state.Racks = append(state.Racks, rs)
		state.TotalReadIOPS += readIOPS
		state.TotalWriteIOPS += writeIOPS
		state.TotalThroughputGbps += totalGbps
		state.TotalUsedTB += m.usedTB[r]
		state.TotalCapacityTB += shelfCapacityTB
		latencySum += readLat
		if health < state.MinDriveHealthPct {
			state.MinDriveHealthPct = health
		}
	}

	if n := len(state.Racks); n > 0 {
		state.AvgLatencyUS = round1(latencySum / float64(n))
	}
	state.TotalReadIOPS = round1(state.TotalReadIOPS)
	state.TotalWriteIOPS = round1(state.TotalWriteIOPS)
	state.TotalThroughputGbps = round2(state.TotalThroughputGbps)
	state.TotalUsedTB = round2(state.TotalUsedTB)
	state.MinDriveHealthPct = round2(state.MinDriveHealthPct)
	return state
}
