package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dc-sim/dc-sim/sim"
	"github.com/dc-sim/dc-sim/sim/api"
	"github.com/dc-sim/dc-sim/sim/eval"
)

var (
	// shared flags
	configPath   string // YAML config path, falls back to DC_SIM_CONFIG then defaults
	logLevel     string // log verbosity level
	seed         int64  // RNG seed override
	telemetryOut string // optional JSONL snapshot sink

	// run flags
	ticks int // simulation horizon in ticks

	// serve flags
	listenAddr   string  // HTTP listen address
	autoTickS    float64 // wall seconds between auto ticks, <= 0 means 1s
	serveTickers bool    // start the auto-ticker on boot

	// eval flags
	agentName  string // built-in agent name
	scenarioID string // scenario name
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "dc-sim",
	Short: "Discrete-time GPU data centre simulator",
}

// loadConfig resolves flag > environment > defaults and applies overrides.
func loadConfig(cmd *cobra.Command) (*sim.Config, error) {
	var cfg *sim.Config
	var err error
	if configPath != "" {
		cfg, err = sim.LoadConfig(configPath)
	} else {
		cfg, err = sim.LoadConfigFromEnv()
	}
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("seed") {
		cfg.RNGSeed = seed
	}
	if telemetryOut != "" {
		cfg.TelemetryOut = telemetryOut
	}
	return cfg, cfg.Validate()
}

func setupLogging() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

// runCmd executes a headless fixed-horizon run and prints a summary.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the simulation for a fixed number of ticks",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()
		cfg, err := loadConfig(cmd)
		if err != nil {
			logrus.Fatalf("config: %v", err)
		}

		logrus.Infof("Starting simulation: %d racks, %d GPUs, seed=%d, horizon=%d ticks",
			cfg.Facility.NumRacks, cfg.TotalGPUSlots(), cfg.RNGSeed, ticks)

		simulator := sim.NewSimulator(cfg)
		defer simulator.Close()
		st := simulator.TickN(ticks)

		fmt.Printf("ticks:            %d (%s simulated)\n", st.Clock.TickCount, st.Clock.Elapsed)
		fmt.Printf("jobs:             %d seen, %d running, %d pending, %d sla violations\n",
			st.Workload.TotalJobsSeen, st.Workload.RunningJobs, st.Workload.PendingJobs, st.Workload.SLAViolations)
		fmt.Printf("power:            %.1f kW IT, %.1f kW total, PUE %.2f\n",
			st.Power.ITPowerKW, st.Power.TotalPowerKW, st.Power.PUE)
		fmt.Printf("thermal:          avg inlet %.1f C, max inlet %.1f C, %d racks throttled\n",
			st.Thermal.AvgInletTempC, st.Thermal.MaxInletTempC, len(st.Thermal.ThrottledRacks))
		fmt.Printf("carbon/cost:      %.2f kg CO2, %.2f GBP, %.1f kWh\n",
			st.Carbon.CumulativeCarbonKg, st.Carbon.CumulativeCostGBP, st.Carbon.CumulativeEnergyKWh)
		fmt.Printf("active failures:  %d\n", len(st.ActiveFailures))
		logrus.Info("Simulation complete.")
	},
}

// serveCmd exposes the simulator over HTTP.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the simulator API over HTTP",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()
		cfg, err := loadConfig(cmd)
		if err != nil {
			logrus.Fatalf("config: %v", err)
		}

		simulator := sim.NewSimulator(cfg)
		defer simulator.Close()
		server := api.NewServer(simulator)

		if serveTickers {
			simulator.StartContinuous(autoTickS)
		}

		logrus.Infof("Serving on %s (auto-tick=%v)", listenAddr, serveTickers)
		if err := http.ListenAndServe(listenAddr, server.Handler()); err != nil {
			logrus.Fatalf("serve: %v", err)
		}
	},
}

// evalCmd runs a built-in agent through a named scenario and prints the
// score report.
var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Score a built-in agent on a named scenario",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()
		cfg, err := loadConfig(cmd)
		if err != nil {
			logrus.Fatalf("config: %v", err)
		}

		sc, err := eval.Lookup(scenarioID)
		if err != nil {
			logrus.Fatalf("scenario: %v (have: %v)", err, scenarioIDs())
		}
		agent, err := eval.NewAgent(agentName, sc.Seed)
		if err != nil {
			logrus.Fatalf("agent: %v (have: %v)", err, eval.AgentNames())
		}

		report, err := eval.Run(cfg, agent, sc)
		if err != nil {
			logrus.Fatalf("eval: %v", err)
		}

		fmt.Println(report)
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			logrus.Fatalf("encode report: %v", err)
		}
		fmt.Println(string(out))
	},
}

func scenarioIDs() []string {
	scenarios := eval.List()
	ids := make([]string, 0, len(scenarios))
	for _, s := range scenarios {
		ids = append(ids, s.ID)
	}
	return ids
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config path (default: $DC_SIM_CONFIG or built-in defaults)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().Int64Var(&seed, "seed", 42, "RNG seed override")
	rootCmd.PersistentFlags().StringVar(&telemetryOut, "telemetry-out", "", "Append every snapshot to this JSONL file")

	runCmd.Flags().IntVar(&ticks, "ticks", 240, "Simulation horizon in ticks")

	serveCmd.Flags().StringVar(&listenAddr, "listen", ":8080", "HTTP listen address")
	serveCmd.Flags().Float64Var(&autoTickS, "auto-tick-interval", 1.0, "Wall seconds between automatic ticks")
	serveCmd.Flags().BoolVar(&serveTickers, "auto-tick", false, "Start the auto-ticker on boot")

	evalCmd.Flags().StringVar(&agentName, "agent", "rule_based", "Built-in agent name")
	evalCmd.Flags().StringVar(&scenarioID, "scenario", "steady_state", "Scenario name")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(evalCmd)
}
