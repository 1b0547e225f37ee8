package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dc-sim/dc-sim/sim"
)

// Metrics exports facility-level gauges refreshed after every tick, plus
// counters for ticks and action dispositions. Served on GET /metrics.
type Metrics struct {
	totalPowerKW   prometheus.Gauge
	itPowerKW      prometheus.Gauge
	pue            prometheus.Gauge
	maxInletTempC  prometheus.Gauge
	avgInletTempC  prometheus.Gauge
	runningJobs    prometheus.Gauge
	pendingJobs    prometheus.Gauge
	slaViolations  prometheus.Gauge
	activeFailures prometheus.Gauge
	carbonKg       prometheus.Gauge
	costGBP        prometheus.Gauge
	healthyGPUs    prometheus.Gauge
	throttledRacks prometheus.Gauge

	ticks   prometheus.Counter
	actions *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. Pass prometheus.DefaultRegisterer
// for the global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{Namespace: "dcsim", Name: name, Help: help})
	}
	return &Metrics{
		totalPowerKW:   gauge("total_power_kw", "Total facility power including overhead."),
		itPowerKW:      gauge("it_power_kw", "IT power across all racks."),
		pue:            gauge("pue", "Current power usage effectiveness."),
		maxInletTempC:  gauge("max_inlet_temp_c", "Hottest rack inlet."),
		avgInletTempC:  gauge("avg_inlet_temp_c", "Mean rack inlet."),
		runningJobs:    gauge("running_jobs", "Jobs currently running."),
		pendingJobs:    gauge("pending_jobs", "Jobs waiting for slots."),
		slaViolations:  gauge("sla_violations", "Cumulative SLA violations."),
		activeFailures: gauge("active_failures", "Live infrastructure failures."),
		carbonKg:       gauge("cumulative_carbon_kg", "Cumulative carbon emitted."),
		costGBP:        gauge("cumulative_cost_gbp", "Cumulative electricity cost."),
		healthyGPUs:    gauge("healthy_gpus", "GPUs not thermally throttled."),
		throttledRacks: gauge("throttled_racks", "Racks with the thermal throttle tripped."),
		ticks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dcsim", Name: "ticks_total", Help: "Simulation ticks executed.",
		}),
		actions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dcsim", Name: "actions_total", Help: "Actions applied, by name and result.",
		}, []string{"action", "result"}),
	}
}

// Observe refreshes the gauges from one snapshot.
func (m *Metrics) Observe(st *sim.FacilityState) {
	m.totalPowerKW.Set(st.Power.TotalPowerKW)
	m.itPowerKW.Set(st.Power.ITPowerKW)
	m.pue.Set(st.Power.PUE)
	m.maxInletTempC.Set(st.Thermal.MaxInletTempC)
	m.avgInletTempC.Set(st.Thermal.AvgInletTempC)
	m.runningJobs.Set(float64(st.Workload.RunningJobs))
	m.pendingJobs.Set(float64(st.Workload.PendingJobs))
	m.slaViolations.Set(float64(st.Workload.SLAViolations))
	m.activeFailures.Set(float64(len(st.ActiveFailures)))
	m.carbonKg.Set(st.Carbon.CumulativeCarbonKg)
	m.costGBP.Set(st.Carbon.CumulativeCostGBP)
	m.healthyGPUs.Set(float64(st.GPU.HealthyGPUs))
	m.throttledRacks.Set(float64(len(st.Thermal.ThrottledRacks)))
	m.ticks.Inc()
}

// ObserveAction counts one action disposition.
func (m *Metrics) ObserveAction(action, result string) {
	m.actions.WithLabelValues(action, result).Inc()
}
