package sim

// Power model. Per-GPU draw follows a non-linear curve of utilisation and
// PUE varies with facility load and outside temperature, so lightly loaded
// halls look as inefficient as they are in practice.

// gpuIdleFraction is the TDP fraction a GPU draws at zero utilisation
// (fans, memory refresh).
const gpuIdleFraction = 0.05

// ServerPowerState is the per-server electrical snapshot.
type ServerPowerState struct {
	ServerID       string  `json:"server_id"`
	RackID         int     `json:"rack_id"`
	GPUUtilisation float64 `json:"gpu_utilisation"`
	GPUPowerW      float64 `json:"gpu_power_draw_w"`
	TotalPowerW    float64 `json:"total_power_draw_w"`
	PowerCapFrac   float64 `json:"power_cap_frac"`
}

// RackPowerState is the per-rack electrical snapshot.
type RackPowerState struct {
	RackID            int                `json:"rack_id"`
	TotalPowerKW      float64            `json:"total_power_kw"`
	PDUUtilisationPct float64            `json:"pdu_utilisation_pct"`
	PDUSpikeActive    bool               `json:"pdu_spike_active"`
	Servers           []ServerPowerState `json:"servers"`
}

// FacilityPowerState is the facility electrical snapshot.
type FacilityPowerState struct {
	ITPowerKW        float64          `json:"it_power_kw"`
	TotalPowerKW     float64          `json:"total_power_kw"`
	PUE              float64          `json:"pue"`
	HeadroomKW       float64          `json:"headroom_kw"`
	PowerCapExceeded bool             `json:"power_cap_exceeded"`
	Racks            []RackPowerState `json:"racks"`
}

// PowerModel computes electrical draw from published GPU utilisation.
type PowerModel struct {
	cfg *Config
}

// NewPowerModel creates a PowerModel.
func NewPowerModel(cfg *Config) *PowerModel {
	return &PowerModel{cfg: cfg}
}

// gpuPowerCurve maps utilisation to watts for one GPU.
// Rises slowly at low utilisation and steeply toward TDP at full load.
func (m *PowerModel) gpuPowerCurve(util float64) float64 {
	tdp := m.cfg.Power.GPUTDPWatts
	if util <= 0 {
		return gpuIdleFraction * tdp
	}
	if util > 1 {
		util = 1
	}
	active := 0.3*util + 0.7*util*util
	return (gpuIdleFraction + (1.0-gpuIdleFraction)*active) * tdp
}

// dynamicPUE models overhead that worsens at low load and high ambient:
// pue = base * (1 + 0.4*(1-load)) + 0.005*max(0, ambient-22),
// clamped to [base, base*1.6].
func (m *PowerModel) dynamicPUE(itPowerKW, ambientC float64) float64 {
	base := m.cfg.Power.PUEOverheadFactor
	load := itPowerKW / m.cfg.Power.FacilityPowerCapKW
	if load > 1 {
		load = 1
	}
	if load < 0 {
		load = 0
	}
	pue := base*(1+0.4*(1-load)) + 0.005*maxf(0, ambientC-22)
	return clampf(pue, base, base*1.6)
}

// Step computes the electrical snapshot and publishes per-rack heat into the
// arena for the thermal model.
func (m *PowerModel) Step(facility *Facility, failures *FailureEngine, ambientC float64) FacilityPowerState {
	state := FacilityPowerState{
		Racks: make([]RackPowerState, 0, len(facility.Racks)),
	}
	itPowerW := 0.0

	for r := range facility.Racks {
		rack := RackPowerState{RackID: r}
		rackPowerW := 0.0
		for _, idx := range facility.ServersOfRack(r) {
			srv := &facility.Servers[idx]
			gpuW := float64(srv.TotalSlots) * m.gpuPowerCurve(srv.Utilisation)
			totalW := m.cfg.Power.ServerBasePowerW + gpuW
			rackPowerW += totalW
			rack.Servers = append(rack.Servers, ServerPowerState{
				ServerID:       srv.ID(),
				RackID:         r,
				GPUUtilisation: srv.Utilisation,
				GPUPowerW:      gpuW,
				TotalPowerW:    totalW,
				PowerCapFrac:   srv.PowerCapFrac,
			})
		}

		mult := failures.PDUMultiplier(r)
		rackPowerW *= mult
		rack.PDUSpikeActive = mult > 1.0
		rack.TotalPowerKW = rackPowerW / 1000.0
		rack.PDUUtilisationPct = rack.TotalPowerKW / m.cfg.Power.PDUCapacityKW * 100.0

		// The rack's electrical draw is its heat load for the thermal step.
		facility.Racks[r].HeatKW = rack.TotalPowerKW

		itPowerW += rackPowerW
		state.Racks = append(state.Racks, rack)
	}

	state.ITPowerKW = itPowerW / 1000.0
	state.PUE = m.dynamicPUE(state.ITPowerKW, ambientC)
	state.TotalPowerKW = state.ITPowerKW * state.PUE
	state.HeadroomKW = m.cfg.Power.FacilityPowerCapKW - state.TotalPowerKW
	state.PowerCapExceeded = state.HeadroomKW < 0
	return state
}

func clampf(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
