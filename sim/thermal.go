package sim

import (
	"math"

	"github.com/sirupsen/logrus"
)

// Thermal model. Each rack carries a lumped inlet temperature driven by the
// balance of generated heat, recirculation from neighbours, and the share of
// CRAC capacity its zone delivers. Throttling is hysteretic and consumed by
// the workload model one tick later, which is the stabilising delay of the
// feedback loop.

// recirculationCoeff is the fraction of neighbouring rack heat that leaks
// back into a rack's cold aisle.
const recirculationCoeff = 0.08

// throttleHysteresisC is how far below critical the inlet must fall before
// the throttle clears.
const throttleHysteresisC = 2.0

// maxInletTempC is the hard ceiling of the lumped model.
const maxInletTempC = 60.0

// RackThermalState is the per-rack thermal snapshot.
type RackThermalState struct {
	RackID      int     `json:"rack_id"`
	Zone        int     `json:"zone"`
	InletTempC  float64 `json:"inlet_temp_c"`
	OutletTempC float64 `json:"outlet_temp_c"`
	HumidityPct float64 `json:"humidity_pct"`
	HeatKW      float64 `json:"heat_kw"`
	CoolingKW   float64 `json:"cooling_kw"`
	Throttled   bool    `json:"throttled"`
}

// FacilityThermalState is the facility thermal snapshot.
type FacilityThermalState struct {
	AmbientTempC   float64            `json:"ambient_temp_c"`
	MaxInletTempC  float64            `json:"max_inlet_temp_c"`
	AvgInletTempC  float64            `json:"avg_inlet_temp_c"`
	ThrottledRacks []int              `json:"throttled_racks"`
	Racks          []RackThermalState `json:"racks"`
}

// ThermalModel advances rack temperatures and owns the per-zone CRAC
// setpoints that adjust_cooling manipulates.
type ThermalModel struct {
	cfg           *Config
	zoneSetpoints map[int]float64
}

// NewThermalModel creates a ThermalModel with every zone at the default
// setpoint.
func NewThermalModel(cfg *Config) *ThermalModel {
	m := &ThermalModel{
		cfg:           cfg,
		zoneSetpoints: make(map[int]float64),
	}
	for z := 0; z < cfg.Thermal.CRACUnits; z++ {
		m.zoneSetpoints[z] = cfg.Thermal.CRACSetpointC
	}
	return m
}

// AmbientTemp returns the diurnal outside temperature, peaking at 20:00 and
// bottoming out at 08:00.
func (m *ThermalModel) AmbientTemp(hour float64) float64 {
	return m.cfg.Thermal.AmbientTempC + 4.0*math.Sin(2.0*math.Pi*(hour-14.0)/24.0)
}

// SetZoneSetpoint stores a zone's CRAC setpoint. Lower setpoints buy cooling
// capacity, higher setpoints shed it; the multiplier is clamped to [0.8, 1.2].
func (m *ThermalModel) SetZoneSetpoint(zone int, setpointC float64) {
	m.zoneSetpoints[zone] = setpointC
}

// ZoneSetpoint returns a zone's current CRAC setpoint.
func (m *ThermalModel) ZoneSetpoint(zone int) float64 {
	if sp, ok := m.zoneSetpoints[zone]; ok {
		return sp
	}
	return m.cfg.Thermal.CRACSetpointC
}

// setpointMultiplier converts a setpoint offset from the default into a
// cooling capacity multiplier.
func (m *ThermalModel) setpointMultiplier(zone int) float64 {
	mult := 1.0 + 0.02*(m.cfg.Thermal.CRACSetpointC-m.ZoneSetpoint(zone))
	return clampf(mult, 0.8, 1.2)
}

// Step advances every rack one tick. Rack heat must already be published by
// the power model.
func (m *ThermalModel) Step(facility *Facility, failures *FailureEngine, hour float64) FacilityThermalState {
	ambient := m.AmbientTemp(hour)
	racksPerZone := float64(m.cfg.RacksPerZone())
	tickScale := m.cfg.Clock.TickIntervalS / 60.0

	prevInlet := make([]float64, len(facility.Racks))
	for i := range facility.Racks {
		prevInlet[i] = facility.Racks[i].InletTempC
	}

	state := FacilityThermalState{
		AmbientTempC: ambient,
		Racks:        make([]RackThermalState, 0, len(facility.Racks)),
	}
	sumInlet := 0.0

	for i := range facility.Racks {
		rack := &facility.Racks[i]
		health := failures.CoolingHealth(rack.Zone)

		baseRemove := m.cfg.Thermal.CRACCoolingCapacityKW * health * m.setpointMultiplier(rack.Zone) / racksPerZone
		ambientDerating := maxf(0.7, 1.0-0.02*maxf(0, ambient-22))
		humidityDerating := maxf(0.8, 1.0-0.01*maxf(0, rack.HumidityPct-60))
		inletDerating := maxf(0.7, 1.0-0.02*maxf(0, prevInlet[i]-30))
		removed := baseRemove * ambientDerating * humidityDerating * inletDerating

		// Hot air from immediate neighbours in the same zone leaks into
		// this rack's cold aisle.
		recirc := 0.0
		for _, n := range []int{i - 1, i + 1} {
			if n >= 0 && n < len(facility.Racks) && facility.Racks[n].Zone == rack.Zone {
				recirc += recirculationCoeff * facility.Racks[n].HeatKW
			}
		}

		net := rack.HeatKW + recirc - removed
		delta := net * m.cfg.Thermal.ThermalMassCoefficient * tickScale
		inlet := clampf(prevInlet[i]+delta, ambient, maxInletTempC)
		if math.IsNaN(inlet) {
			logrus.Warnf("rack %d inlet computed NaN, clamping to ambient", rack.ID)
			inlet = ambient
		}

		rack.InletTempC = inlet
		rack.OutletTempC = inlet + 5.0*rack.HeatKW
		rack.HumidityPct = clampf(45.0-0.5*rack.HeatKW+0.3*boolToFloat(health > 0), 10, 90)

		// Hysteretic throttle: trips at critical, clears two degrees below.
		if !rack.Throttled && inlet >= m.cfg.Thermal.CriticalInletTempC {
			rack.Throttled = true
			logrus.Warnf("rack %d throttled: inlet %.1fC >= critical %.1fC", rack.ID, inlet, m.cfg.Thermal.CriticalInletTempC)
		} else if rack.Throttled && inlet <= m.cfg.Thermal.CriticalInletTempC-throttleHysteresisC {
			rack.Throttled = false
			logrus.Infof("rack %d throttle cleared: inlet %.1fC", rack.ID, inlet)
		}

		rs := RackThermalState{
			RackID:      rack.ID,
			Zone:        rack.Zone,
			InletTempC:  inlet,
			OutletTempC: rack.OutletTempC,
			HumidityPct: rack.HumidityPct,
			HeatKW:      rack.HeatKW,
			CoolingKW:   removed,
			Throttled:   rack.Throttled,
		}
		state.Racks = append(state.Racks, rs)
		sumInlet += inlet
		if inlet > state.MaxInletTempC {
			state.MaxInletTempC = inlet
		}
		if rack.Throttled {
			state.ThrottledRacks = append(state.ThrottledRacks, rack.ID)
		}
	}

	if n := len(facility.Racks); n > 0 {
		state.AvgInletTempC = sumInlet / float64(n)
	}
	return state
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
