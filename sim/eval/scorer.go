package eval

import (
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/dc-sim/dc-sim/sim"
)

// Scoring weights, fixed so composites are comparable across runs.
const (
	weightSLA             = 0.25
	weightEnergy          = 0.20
	weightCarbon          = 0.15
	weightThermal         = 0.15
	weightCost            = 0.10
	weightInfraHealth     = 0.10
	weightFailureResponse = 0.05
)

// failureResponseBudgetS is the resolution time that scores zero.
const failureResponseBudgetS = 1800.0

// DimensionScores are the seven subscores, each in [0, 100].
type DimensionScores struct {
	SLA             float64 `json:"sla"`
	Energy          float64 `json:"energy"`
	Carbon          float64 `json:"carbon"`
	Thermal         float64 `json:"thermal"`
	Cost            float64 `json:"cost"`
	InfraHealth     float64 `json:"infra_health"`
	FailureResponse float64 `json:"failure_response"`
}

// RunStats are descriptive aggregates attached to a report.
type RunStats struct {
	Ticks               int     `json:"ticks"`
	TotalJobsSeen       int     `json:"total_jobs_seen"`
	SLAViolations       int     `json:"sla_violations"`
	AvgPUE              float64 `json:"avg_pue"`
	AvgInletTempC       float64 `json:"avg_inlet_temp_c"`
	P95MaxInletTempC    float64 `json:"p95_max_inlet_temp_c"`
	CumulativeEnergyKWh float64 `json:"cumulative_energy_kwh"`
	CumulativeCarbonKg  float64 `json:"cumulative_carbon_kg"`
	CumulativeCostGBP   float64 `json:"cumulative_cost_gbp"`
	FailuresSeen        int     `json:"failures_seen"`
	MeanTimeToResolveS  float64 `json:"mean_time_to_resolve_s"`
	ActionsApplied      int     `json:"actions_applied"`
	ActionsRejected     int     `json:"actions_rejected"`
}

// Report is the outcome of one scored run.
type Report struct {
	Agent      string          `json:"agent"`
	ScenarioID string          `json:"scenario_id"`
	Composite  float64         `json:"composite"`
	Dimensions DimensionScores `json:"dimensions"`
	Stats      RunStats        `json:"stats"`
	FinishedAt time.Time       `json:"finished_at"`
}

func (r Report) String() string {
	return fmt.Sprintf("%s on %s: %.1f (sla=%.1f energy=%.1f carbon=%.1f thermal=%.1f cost=%.1f infra=%.1f failresp=%.1f)",
		r.Agent, r.ScenarioID, r.Composite,
		r.Dimensions.SLA, r.Dimensions.Energy, r.Dimensions.Carbon, r.Dimensions.Thermal,
		r.Dimensions.Cost, r.Dimensions.InfraHealth, r.Dimensions.FailureResponse)
}

// Score computes the seven dimensions and the weighted composite from the
// full tick history of one run. resolveTimes holds per-failure seconds from
// start to disappearance.
func Score(scenario Scenario, history []*sim.FacilityState, resolveTimes []float64) (DimensionScores, RunStats) {
	n := len(history)
	var d DimensionScores
	var s RunStats
	if n == 0 {
		return d, s
	}
	final := history[n-1]
	numRacks := len(final.Thermal.Racks)

	pues := make([]float64, n)
	maxInlets := make([]float64, n)
	inletSum := 0.0
	throttledRackTicks := 0.0
	healthSum := 0.0
	for i, st := range history {
		pues[i] = st.Power.PUE
		maxInlets[i] = st.Thermal.MaxInletTempC
		inletSum += st.Thermal.AvgInletTempC
		if numRacks > 0 {
			throttledRackTicks += float64(len(st.Thermal.ThrottledRacks)) / float64(numRacks)
		}

		driveFrac := st.Storage.MinDriveHealthPct / 100.0
		gpuFrac := 1.0
		if st.GPU.TotalGPUs > 0 {
			gpuFrac = float64(st.GPU.HealthyGPUs) / float64(st.GPU.TotalGPUs)
		}
		healthSum += (driveFrac + gpuFrac) / 2.0
	}

	avgPUE := stat.Mean(pues, nil)

	d.SLA = 100.0 * (1.0 - float64(final.Workload.SLAViolations)/maxFloat(1, float64(final.Workload.TotalJobsSeen)))
	d.Energy = 100.0 * clamp01(1.0-(avgPUE-1.1)/0.5)
	d.Carbon = 100.0 * clamp01(1.0-final.Carbon.CumulativeCarbonKg/scenario.ReferenceCarbonKg)
	d.Thermal = 100.0 * (1.0 - throttledRackTicks/float64(n))
	d.Cost = 100.0 * clamp01(1.0-final.Carbon.CumulativeCostGBP/scenario.ReferenceCostGBP)
	d.InfraHealth = 100.0 * healthSum / float64(n)

	if len(resolveTimes) == 0 {
		d.FailureResponse = 100.0
	} else {
		mttr := stat.Mean(resolveTimes, nil)
		d.FailureResponse = 100.0 * clamp01(1.0-mttr/failureResponseBudgetS)
		s.MeanTimeToResolveS = mttr
	}

	s.Ticks = n
	s.TotalJobsSeen = final.Workload.TotalJobsSeen
	s.SLAViolations = final.Workload.SLAViolations
	s.AvgPUE = avgPUE
	s.AvgInletTempC = inletSum / float64(n)
	s.P95MaxInletTempC = quantile(maxInlets, 0.95)
	s.CumulativeEnergyKWh = final.Carbon.CumulativeEnergyKWh
	s.CumulativeCarbonKg = final.Carbon.CumulativeCarbonKg
	s.CumulativeCostGBP = final.Carbon.CumulativeCostGBP
	s.FailuresSeen = len(resolveTimes)
	return d, s
}

// Composite folds the dimensions into the weighted total.
func Composite(d DimensionScores) float64 {
	return weightSLA*d.SLA +
		weightEnergy*d.Energy +
		weightCarbon*d.Carbon +
		weightThermal*d.Thermal +
		weightCost*d.Cost +
		weightInfraHealth*d.InfraHealth +
		weightFailureResponse*d.FailureResponse
}

// quantile sorts a copy; stat.Quantile wants sorted input.
func quantile(vals []float64, q float64) float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	return stat.Quantile(q, stat.Empirical, sorted, nil)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
