package sim

// Cooling model. One CRAC unit per zone. Thermal output tracks the heat its
// zone generates up to unit capacity, electrical draw follows the COP curve,
// and the failure engine's health factor degrades or zeroes the unit.

// baseCOP is the coefficient of performance at 22C ambient.
const baseCOP = 4.5

// CRACUnitState is the per-unit snapshot.
type CRACUnitState struct {
	UnitID          string  `json:"unit_id"`
	Zone            int     `json:"zone"`
	SetpointC       float64 `json:"setpoint_c"`
	ReturnAirTempC  float64 `json:"return_air_temp_c"`
	CoolingOutputKW float64 `json:"cooling_output_kw"`
	CapacityKW      float64 `json:"capacity_kw"`
	UtilisationPct  float64 `json:"utilisation_pct"`
	PowerDrawKW     float64 `json:"power_draw_kw"`
	COP             float64 `json:"cop"`
	HealthFactor    float64 `json:"health_factor"`
	Failed          bool    `json:"failed"`
}

// FacilityCoolingState is the facility cooling snapshot.
type FacilityCoolingState struct {
	Units              []CRACUnitState `json:"units"`
	TotalCoolingKW     float64         `json:"total_cooling_kw"`
	TotalCoolingPowerKW float64        `json:"total_cooling_power_kw"`
	AvgCOP             float64         `json:"avg_cop"`
	FailedUnits        int             `json:"failed_units"`
}

// CoolingModel derives CRAC telemetry from zone heat and the thermal model's
// setpoints.
type CoolingModel struct {
	cfg     *Config
	thermal *ThermalModel
}

// NewCoolingModel creates a CoolingModel bound to the thermal model that owns
// the setpoints.
func NewCoolingModel(cfg *Config, thermal *ThermalModel) *CoolingModel {
	return &CoolingModel{cfg: cfg, thermal: thermal}
}

// cop derates the ideal coefficient with hot ambient and improves it slightly
// in cold weather.
func (m *CoolingModel) cop(ambientC float64) float64 {
	c := baseCOP * (1.0 - 0.02*maxf(0, ambientC-22)) * (1.0 + 0.1*maxf(0, 22-ambientC))
	return clampf(c, 2.0, 6.0)
}

// Step computes the cooling snapshot. Zone heat must already be published by
// the power model.
func (m *CoolingModel) Step(facility *Facility, failures *FailureEngine, ambientC float64) FacilityCoolingState {
	state := FacilityCoolingState{}
	copSum := 0.0

	zoneHeat := make(map[int]float64, m.cfg.Thermal.CRACUnits)
	zoneReturn := make(map[int]float64, m.cfg.Thermal.CRACUnits)
	zoneRacks := make(map[int]int, m.cfg.Thermal.CRACUnits)
	for i := range facility.Racks {
		rack := &facility.Racks[i]
		zoneHeat[rack.Zone] += rack.HeatKW
		zoneReturn[rack.Zone] += rack.OutletTempC
		zoneRacks[rack.Zone]++
	}

	for z := 0; z < m.cfg.Thermal.CRACUnits; z++ {
		health := failures.CoolingHealth(z)
		capacity := m.cfg.Thermal.CRACCoolingCapacityKW
		effCapacity := capacity * health * m.thermal.setpointMultiplier(z)

		output := minf(zoneHeat[z], effCapacity)
		if output < 0 {
			output = 0
		}

		cop := m.cop(ambientC)
		powerKW := 0.0
		if health > 0 {
			powerKW = output / cop
			// Fans and controls idle at 5% of rated draw even with no load.
			powerKW = maxf(powerKW, 0.05*capacity/cop)
		}

		returnAir := ambientC
		if zoneRacks[z] > 0 {
			returnAir = zoneReturn[z] / float64(zoneRacks[z])
		}

		us := CRACUnitState{
			UnitID:          CRACID(z),
			Zone:            z,
			SetpointC:       m.thermal.ZoneSetpoint(z),
			ReturnAirTempC:  round1(returnAir),
			CoolingOutputKW: round2(output),
			CapacityKW:      capacity,
			UtilisationPct:  round1(minf(100, output/maxf(0.001, effCapacity)*100)),
			PowerDrawKW:     round2(powerKW),
			COP:             round2(cop),
			HealthFactor:    health,
			Failed:          health == 0,
		}
		if us.Failed {
			state.FailedUnits++
			us.UtilisationPct = 0
		}
		state.Units = append(state.Units, us)
		state.TotalCoolingKW += output
		state.TotalCoolingPowerKW += powerKW
		copSum += cop
	}

	if n := len(state.Units); n > 0 {
		state.AvgCOP = round2(copSum / float64(n))
	}
	state.TotalCoolingKW = round2(state.TotalCoolingKW)
	state.TotalCoolingPowerKW = round2(state.TotalCoolingPowerKW)
	return state
}
