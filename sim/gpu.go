package sim

import (
	"fmt"
	"math"
	"math/rand"
)

// GPU telemetry model. Derived from upstream thermal and workload state at
// individual device granularity; nothing here feeds back into the
// simulation. Reference parameters are H100-class.

const (
	gpuMemTotalMiB       = 81920  // 80 GiB HBM3
	gpuBaseSMClockMHz    = 1410
	gpuBoostSMClockMHz   = 1980
	gpuMemClockMHz       = 1593
	gpuPCIeMaxGbps       = 64.0  // Gen5 x16
	gpuNVLinkMaxGbps     = 450.0 // NVLink 4.0 per direction
	gpuThrottleTempC     = 83.0
	gpuECCHotTempC       = 85.0
	gpuECCBaseRate       = 1e-7 // per GPU per tick
	gpuFanRampThresholdC = 50.0
)

// GPUState is the telemetry snapshot of a single device.
type GPUState struct {
	GPUID            string  `json:"gpu_id"`
	ServerID         string  `json:"server_id"`
	RackID           int     `json:"rack_id"`
	SMUtilisationPct float64 `json:"sm_utilisation_pct"`
	MemUtilisationPct float64 `json:"mem_utilisation_pct"`
	GPUTempC         float64 `json:"gpu_temp_c"`
	MemTempC         float64 `json:"mem_temp_c"`
	PowerDrawW       float64 `json:"power_draw_w"`
	SMClockMHz       int     `json:"sm_clock_mhz"`
	MemClockMHz      int     `json:"mem_clock_mhz"`
	MemUsedMiB       int     `json:"mem_used_mib"`
	MemTotalMiB      int     `json:"mem_total_mib"`
	ECCSBECount      int     `json:"ecc_sbe_count"`
	ECCDBECount      int     `json:"ecc_dbe_count"`
	PCIeTxGbps       float64 `json:"pcie_tx_gbps"`
	PCIeRxGbps       float64 `json:"pcie_rx_gbps"`
	NVLinkTxGbps     float64 `json:"nvlink_tx_gbps"`
	NVLinkRxGbps     float64 `json:"nvlink_rx_gbps"`
	FanSpeedPct      float64 `json:"fan_speed_pct"`
	ThermalThrottle  bool    `json:"thermal_throttle"`
}

// ServerGPUState aggregates one server's devices.
type ServerGPUState struct {
	ServerID        string     `json:"server_id"`
	RackID          int        `json:"rack_id"`
	GPUs            []GPUState `json:"gpus"`
	TotalGPUPowerW  float64    `json:"total_gpu_power_w"`
	AvgGPUTempC     float64    `json:"avg_gpu_temp_c"`
	TotalMemUsedMiB int        `json:"total_mem_used_mib"`
}

// FacilityGPUState is the fleet-wide GPU telemetry snapshot.
type FacilityGPUState struct {
	Servers       []ServerGPUState `json:"servers"`
	TotalGPUs     int              `json:"total_gpus"`
	HealthyGPUs   int              `json:"healthy_gpus"`
	ThrottledGPUs int              `json:"throttled_gpus"`
	ECCErrorGPUs  int              `json:"ecc_error_gpus"`
	AvgGPUTempC   float64          `json:"avg_gpu_temp_c"`
	AvgSMUtilPct  float64          `json:"avg_sm_util_pct"`
}

// GPUModel derives per-device telemetry. ECC counters persist across ticks.
type GPUModel struct {
	cfg    *Config
	rng    *rand.Rand
	eccSBE map[string]int
	eccDBE map[string]int
}

// NewGPUModel creates a GPUModel drawing jitter from the gpu subsystem
// stream.
func NewGPUModel(cfg *Config, rng *rand.Rand) *GPUModel {
	return &GPUModel{
		cfg:    cfg,
		rng:    rng,
		eccSBE: make(map[string]int),
		eccDBE: make(map[string]int),
	}
}

// Reset clears the persistent ECC accumulators.
func (m *GPUModel) Reset() {
	m.eccSBE = make(map[string]int)
	m.eccDBE = make(map[string]int)
}

// Step computes the fleet GPU snapshot from published server utilisation and
// the current rack inlet temperatures.
func (m *GPUModel) Step(facility *Facility, jobTypes map[string]JobType) FacilityGPUState {
	state := FacilityGPUState{}
	sumTemp := 0.0
	sumUtil := 0.0

	for i := range facility.Servers {
		srv := &facility.Servers[i]
		inlet := facility.Racks[srv.RackID].InletTempC
		jtype, busy := jobTypes[srv.ID()]

		ss := ServerGPUState{ServerID: srv.ID(), RackID: srv.RackID}
		for g := 0; g < srv.TotalSlots; g++ {
			gpuID := fmt.Sprintf("%s-gpu-%d", srv.ID(), g)
			state.TotalGPUs++

			util := clampf(srv.Utilisation+m.rng.NormFloat64()*0.02, 0, 1)
			smPct := util * 100.0

			// Junction temperature tracks inlet plus a utilisation rise.
			temp := inlet + 5.0 + 70.0*util + m.rng.NormFloat64()

			memTemp := temp - 5.0
			if jtype == JobTraining {
				memTemp += 3.0
			}

			throttled := temp >= gpuThrottleTempC
			clockFrac := 1.0
			if throttled {
				// Hard thermal throttle cuts the SM clock by 40%.
				clockFrac = 0.6
				state.ThrottledGPUs++
			} else {
				state.HealthyGPUs++
			}
			smClock := int((float64(gpuBaseSMClockMHz) + float64(gpuBoostSMClockMHz-gpuBaseSMClockMHz)*util) * clockFrac)

			power := m.gpuPower(util)

			memUsed := m.memUsedMiB(util, jtype, busy)

			pcieTx, pcieRx := m.pcieGbps(util, jtype)
			nvTx, nvRx := m.nvlinkGbps(util, jtype)

			// ECC accumulators; error probability triples on hot dies.
			rate := gpuECCBaseRate
			if temp > gpuECCHotTempC {
				rate *= 3
			}
			if m.rng.Float64() < rate {
				m.eccSBE[gpuID]++
			}
			if m.rng.Float64() < rate*0.02 {
				m.eccDBE[gpuID]++
			}
			if m.eccDBE[gpuID] > 0 {
				state.ECCErrorGPUs++
			}

			fan := 30.0
			if temp >= gpuFanRampThresholdC {
				fan = clampf(30.0+70.0*(temp-gpuFanRampThresholdC)/(gpuThrottleTempC-gpuFanRampThresholdC), 30, 100)
			}

			gs := GPUState{
				GPUID:             gpuID,
				ServerID:          srv.ID(),
				RackID:            srv.RackID,
				SMUtilisationPct:  round1(smPct),
				MemUtilisationPct: round1(float64(memUsed) / gpuMemTotalMiB * 100.0),
				GPUTempC:          round1(temp),
				MemTempC:          round1(memTemp),
				PowerDrawW:        round1(power),
				SMClockMHz:        smClock,
				MemClockMHz:       gpuMemClockMHz,
				MemUsedMiB:        memUsed,
				MemTotalMiB:       gpuMemTotalMiB,
				ECCSBECount:       m.eccSBE[gpuID],
				ECCDBECount:       m.eccDBE[gpuID],
				PCIeTxGbps:        round2(pcieTx),
				PCIeRxGbps:        round2(pcieRx),
				NVLinkTxGbps:      round2(nvTx),
				NVLinkRxGbps:      round2(nvRx),
				FanSpeedPct:       round1(fan),
				ThermalThrottle:   throttled,
			}
			ss.GPUs = append(ss.GPUs, gs)
			ss.TotalGPUPowerW += power
			ss.TotalMemUsedMiB += memUsed
			sumTemp += temp
			sumUtil += smPct
		}
		if n := len(ss.GPUs); n > 0 {
			t := 0.0
			for _, g := range ss.GPUs {
				t += g.GPUTempC
			}
			ss.AvgGPUTempC = round1(t / float64(n))
		}
		state.Servers = append(state.Servers, ss)
	}

	if state.TotalGPUs > 0 {
		state.AvgGPUTempC = round1(sumTemp / float64(state.TotalGPUs))
		state.AvgSMUtilPct = round1(sumUtil / float64(state.TotalGPUs))
	}
	return state
}

func (m *GPUModel) gpuPower(util float64) float64 {
	tdp := m.cfg.Power.GPUTDPWatts
	power := (gpuIdleFraction + (1.0-gpuIdleFraction)*(0.3*util+0.7*util*util)) * tdp
	if power > 0.95*tdp {
		power = 0.95 * tdp
	}
	return power
}

// memUsedMiB estimates HBM allocation by job type: training holds model,
// optimizer and activations; inference holds weights plus KV cache.
func (m *GPUModel) memUsedMiB(util float64, jtype JobType, busy bool) int {
	if !busy || util < 0.01 {
		return gpuMemTotalMiB / 100 // driver overhead
	}
	var frac float64
	switch jtype {
	case JobTraining:
		frac = 0.6 + 0.35*util
	case JobInference:
		frac = 0.2 + 0.3*util
	default:
		frac = 0.3 + 0.4*util
	}
	return int(gpuMemTotalMiB * frac)
}

func (m *GPUModel) pcieGbps(util float64, jtype JobType) (float64, float64) {
	base := util * gpuPCIeMaxGbps * 0.4
	if jtype == JobTraining {
		base *= 1.5 // AllReduce gradient syncs
	}
	tx := minf(gpuPCIeMaxGbps, base*(0.9+m.rng.Float64()*0.2))
	rx := minf(gpuPCIeMaxGbps, base*(0.9+m.rng.Float64()*0.2))
	return tx, rx
}

func (m *GPUModel) nvlinkGbps(util float64, jtype JobType) (float64, float64) {
	if jtype != JobTraining || util <= 0.1 {
		return 0, 0
	}
	frac := util * 0.5
	tx := minf(gpuNVLinkMaxGbps, frac*gpuNVLinkMaxGbps*(0.85+m.rng.Float64()*0.3))
	rx := minf(gpuNVLinkMaxGbps, frac*gpuNVLinkMaxGbps*(0.85+m.rng.Float64()*0.3))
	return tx, rx
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
