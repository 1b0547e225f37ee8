package sim

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ConfigEnvVar names the environment variable holding the YAML config path.
const ConfigEnvVar = "DC_SIM_CONFIG"

// FacilityConfig sizes the rack/server/GPU arena.
type FacilityConfig struct {
	NumRacks       int `yaml:"num_racks"`        // racks in the hall
	ServersPerRack int `yaml:"servers_per_rack"` // servers per rack
	GPUsPerServer  int `yaml:"gpus_per_server"`  // GPU slots per server
}

// ThermalConfig holds the thermal envelope and CRAC plant parameters.
type ThermalConfig struct {
	AmbientTempC           float64 `yaml:"ambient_temp_c"`           // outside air baseline
	CRACSetpointC          float64 `yaml:"crac_setpoint_c"`          // default supply setpoint
	CRACCoolingCapacityKW  float64 `yaml:"crac_cooling_capacity_kw"` // per CRAC unit
	ThermalMassCoefficient float64 `yaml:"thermal_mass_coefficient"` // degrees per net kW per minute
	MaxSafeInletTempC      float64 `yaml:"max_safe_inlet_temp_c"`    // warning threshold
	CriticalInletTempC     float64 `yaml:"critical_inlet_temp_c"`    // throttle threshold
	CRACUnits              int     `yaml:"crac_units"`               // number of CRAC units / zones
}

// PowerConfig holds electrical parameters.
type PowerConfig struct {
	GPUTDPWatts        float64 `yaml:"gpu_tdp_watts"`           // per-GPU thermal design power
	ServerBasePowerW   float64 `yaml:"server_base_power_watts"` // fans, CPUs, NICs
	PDUCapacityKW      float64 `yaml:"pdu_capacity_kw"`         // per-rack PDU rating
	FacilityPowerCapKW float64 `yaml:"facility_power_cap_kw"`   // utility feed cap
	PUEOverheadFactor  float64 `yaml:"pue_overhead_factor"`     // base PUE at full load
}

// ArrivalConfig holds workload arrival process parameters.
type ArrivalConfig struct {
	MeanJobArrivalIntervalS float64 `yaml:"mean_job_arrival_interval_s"` // Poisson mean inter-arrival
}

// ClockConfig holds tick pacing parameters.
type ClockConfig struct {
	TickIntervalS  float64 `yaml:"tick_interval_s"` // simulated seconds per tick
	RealtimeFactor float64 `yaml:"realtime_factor"` // 0 = as fast as possible
}

// Config is the immutable set of tunables for one simulation. Unknown YAML
// keys are rejected at load time.
type Config struct {
	Facility     FacilityConfig `yaml:"facility"`
	Thermal      ThermalConfig  `yaml:"thermal"`
	Power        PowerConfig    `yaml:"power"`
	Workload     ArrivalConfig  `yaml:"workload"`
	Clock        ClockConfig    `yaml:"clock"`
	RNGSeed      int64          `yaml:"rng_seed"`
	TelemetryOut string         `yaml:"telemetry_out"` // optional JSONL snapshot path
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Facility: FacilityConfig{
			NumRacks:       8,
			ServersPerRack: 4,
			GPUsPerServer:  4,
		},
		Thermal: ThermalConfig{
			AmbientTempC:           22,
			CRACSetpointC:          18,
			CRACCoolingCapacityKW:  50,
			ThermalMassCoefficient: 0.3,
			MaxSafeInletTempC:      35,
			CriticalInletTempC:     40,
			CRACUnits:              2,
		},
		Power: PowerConfig{
			GPUTDPWatts:        300,
			ServerBasePowerW:   200,
			PDUCapacityKW:      20,
			FacilityPowerCapKW: 120,
			PUEOverheadFactor:  1.4,
		},
		Workload: ArrivalConfig{
			MeanJobArrivalIntervalS: 300,
		},
		Clock: ClockConfig{
			TickIntervalS:  60,
			RealtimeFactor: 0,
		},
		RNGSeed: 42,
	}
}

// LoadConfig reads a YAML config from path, layered over the defaults.
// Unknown keys are an error.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadConfigFromEnv resolves the config path from DC_SIM_CONFIG, falling back
// to the defaults when the variable is unset.
func LoadConfigFromEnv() (*Config, error) {
	path := os.Getenv(ConfigEnvVar)
	if path == "" {
		return DefaultConfig(), nil
	}
	return LoadConfig(path)
}

// Validate rejects configurations the engine cannot run.
func (c *Config) Validate() error {
	if c.Facility.NumRacks <= 0 || c.Facility.ServersPerRack <= 0 || c.Facility.GPUsPerServer <= 0 {
		return fmt.Errorf("facility dimensions must be positive")
	}
	if c.Thermal.CRACUnits <= 0 {
		return fmt.Errorf("thermal.crac_units must be positive")
	}
	if c.Thermal.CRACUnits > c.Facility.NumRacks {
		return fmt.Errorf("thermal.crac_units (%d) exceeds num_racks (%d)", c.Thermal.CRACUnits, c.Facility.NumRacks)
	}
	if c.Thermal.CriticalInletTempC <= c.Thermal.MaxSafeInletTempC {
		return fmt.Errorf("thermal.critical_inlet_temp_c must exceed max_safe_inlet_temp_c")
	}
	if c.Power.GPUTDPWatts <= 0 || c.Power.FacilityPowerCapKW <= 0 || c.Power.PDUCapacityKW <= 0 {
		return fmt.Errorf("power ratings must be positive")
	}
	if c.Power.PUEOverheadFactor < 1.0 {
		return fmt.Errorf("power.pue_overhead_factor must be >= 1.0")
	}
	if c.Workload.MeanJobArrivalIntervalS <= 0 {
		return fmt.Errorf("workload.mean_job_arrival_interval_s must be positive")
	}
	if c.Clock.TickIntervalS <= 0 {
		return fmt.Errorf("clock.tick_interval_s must be positive")
	}
	if c.Clock.RealtimeFactor < 0 {
		return fmt.Errorf("clock.realtime_factor must be >= 0")
	}
	return nil
}

// RacksPerZone returns how many racks each CRAC zone serves.
func (c *Config) RacksPerZone() int {
	return (c.Facility.NumRacks + c.Thermal.CRACUnits - 1) / c.Thermal.CRACUnits
}

// ZoneOfRack maps a rack id to its CRAC zone. Zoning is contiguous: the rack
// array splits into crac_units equal stretches.
func (c *Config) ZoneOfRack(rackID int) int {
	return rackID * c.Thermal.CRACUnits / c.Facility.NumRacks
}

// TotalGPUSlots returns the fleet-wide GPU slot count.
func (c *Config) TotalGPUSlots() int {
	return c.Facility.NumRacks * c.Facility.ServersPerRack * c.Facility.GPUsPerServer
}
