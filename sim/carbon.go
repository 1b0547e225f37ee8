package sim

import (
	"math"
	"math/rand"
)

// Carbon and cost model. Grid carbon intensity follows the generation mix
// through the day, bottoming out overnight and peaking mid-afternoon.
// Electricity price carries morning and evening demand peaks and an
// overnight trough. Both accumulate against total facility draw.

const (
	baseCarbonIntensity   = 210.0 // gCO2/kWh
	carbonSwingAmplitude  = 70.0
	minCarbonIntensity    = 50.0
	basePriceGBPPerKWh    = 0.15
	minPriceGBPPerKWh     = 0.02
)

// CarbonState is the grid snapshot plus cumulative accumulators.
type CarbonState struct {
	CarbonIntensityGCO2PerKWh float64 `json:"carbon_intensity_gco2_per_kwh"`
	EnergyPriceGBPPerKWh      float64 `json:"energy_price_gbp_per_kwh"`
	CarbonRateGCO2PerS        float64 `json:"carbon_rate_gco2_per_s"`
	CostRateGBPPerH           float64 `json:"cost_rate_gbp_per_h"`
	TickEnergyKWh             float64 `json:"tick_energy_kwh"`
	TickCarbonKg              float64 `json:"tick_carbon_kg"`
	TickCostGBP               float64 `json:"tick_cost_gbp"`
	CumulativeEnergyKWh       float64 `json:"cumulative_energy_kwh"`
	CumulativeCarbonKg        float64 `json:"cumulative_carbon_kg"`
	CumulativeCostGBP         float64 `json:"cumulative_cost_gbp"`
}

// CarbonModel tracks grid conditions and running totals. Accumulators persist
// across ticks until Reset.
type CarbonModel struct {
	cfg       *Config
	rng       *rand.Rand
	energyKWh float64
	carbonKg  float64
	costGBP   float64
}

// NewCarbonModel creates a CarbonModel drawing grid noise from the carbon
// subsystem stream.
func NewCarbonModel(cfg *Config, rng *rand.Rand) *CarbonModel {
	return &CarbonModel{cfg: cfg, rng: rng}
}

// Reset clears the cumulative accumulators.
func (m *CarbonModel) Reset() {
	m.energyKWh = 0
	m.carbonKg = 0
	m.costGBP = 0
}

// Intensity returns the grid carbon intensity at the given hour, troughing
// around 03:00 and peaking around 15:00.
func (m *CarbonModel) Intensity(hour float64) float64 {
	ci := baseCarbonIntensity - carbonSwingAmplitude*math.Cos(2.0*math.Pi*(hour-3.0)/24.0)
	ci += m.rng.NormFloat64() * 5.0
	return maxf(minCarbonIntensity, ci)
}

// Price returns the electricity price at the given hour: demand peaks at
// 08:00 and 18:00, an overnight dip around 03:00.
func (m *CarbonModel) Price(hour float64) float64 {
	p := basePriceGBPPerKWh
	p += 0.08 * gaussianBump(hour, 8.0, 2.0)
	p += 0.06 * gaussianBump(hour, 18.0, 2.0)
	p -= 0.05 * gaussianBump(hour, 3.0, 2.5)
	p += m.rng.NormFloat64() * 0.005
	return maxf(minPriceGBPPerKWh, p)
}

func gaussianBump(hour, centre, width float64) float64 {
	d := (hour - centre) / width
	return math.Exp(-0.5 * d * d)
}

// Step samples the grid at the given hour and accrues this tick's energy,
// carbon, and cost from total facility draw.
func (m *CarbonModel) Step(hour, totalPowerKW float64) CarbonState {
	ci := m.Intensity(hour)
	price := m.Price(hour)

	energyKWh := totalPowerKW * m.cfg.Clock.TickIntervalS / 3600.0
	carbonKg := ci * energyKWh / 1000.0
	costGBP := price * energyKWh

	m.energyKWh += energyKWh
	m.carbonKg += carbonKg
	m.costGBP += costGBP

	return CarbonState{
		CarbonIntensityGCO2PerKWh: round1(ci),
		EnergyPriceGBPPerKWh:      round3(price),
		CarbonRateGCO2PerS:        round2(ci * totalPowerKW / 3600.0),
		CostRateGBPPerH:           round2(price * totalPowerKW),
		TickEnergyKWh:             round3(energyKWh),
		TickCarbonKg:              round3(carbonKg),
		TickCostGBP:               round3(costGBP),
		CumulativeEnergyKWh:       round2(m.energyKWh),
		CumulativeCarbonKg:        round3(m.carbonKg),
		CumulativeCostGBP:         round2(m.costGBP),
	}
}
