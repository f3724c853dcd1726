package cmd

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hpc-schedsim/schedsim/sim"
	"github.com/hpc-schedsim/schedsim/sim/cluster"
	"github.com/hpc-schedsim/schedsim/sim/fst"
	"github.com/hpc-schedsim/schedsim/sim/trace"
	"github.com/hpc-schedsim/schedsim/sim/workload"
)

var (
	logLevel   string // Log verbosity level
	configPath string // YAML run config
	envPath    string // .env file with SCHEDSIM_* defaults
	flagCfg    = DefaultRunConfig()
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "schedsim",
	Short: "Discrete-event simulator for HPC job scheduling, allocation and task mapping",
}

// runCmd replays a job trace under the configured policies
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduling simulation",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		cfg, err := resolveConfig(cmd)
		if err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}
		out := io.Writer(os.Stdout)
		if cfg.Output != "" {
			f, err := os.Create(cfg.Output)
			if err != nil {
				logrus.Fatalf("Cannot create output %s: %v", cfg.Output, err)
			}
			defer func() { _ = f.Close() }()
			out = f
		}
		if err := runSimulation(cfg, out); err != nil {
			logrus.Fatalf("Simulation failed: %v", err)
		}
		logrus.Info("Simulation complete.")
	},
}

// resolveConfig layers env, the config file and explicitly set flags.
func resolveConfig(cmd *cobra.Command) (*RunConfig, error) {
	LoadDotEnv(envPath)
	cfg := DefaultRunConfig()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if configPath != "" {
		if err := cfg.LoadRunConfig(configPath); err != nil {
			return nil, err
		}
	}
	overrideFromFlags(cmd, &cfg, &flagCfg)
	return &cfg, cfg.Validate()
}

// overrideFromFlags copies every flag the user set from src into dst.
func overrideFromFlags(cmd *cobra.Command, dst, src *RunConfig) {
	set := func(name string, apply func()) {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}
	set("machine", func() { dst.Machine = src.Machine })
	set("cores", func() { dst.CoresPerNode = src.CoresPerNode })
	set("scheduler", func() { dst.Scheduler = src.Scheduler })
	set("allocator", func() { dst.Allocator = src.Allocator })
	set("mapper", func() { dst.Mapper = src.Mapper })
	set("fst", func() { dst.FST = src.FST })
	set("seed", func() { dst.Seed = src.Seed })
	set("horizon", func() { dst.Horizon = src.Horizon })
	set("trace", func() { dst.Trace = src.Trace })
	set("yumyum", func() { dst.YumYum = src.YumYum })
	set("deps", func() { dst.Dependencies = src.Dependencies })
	set("constraint", func() { dst.Constraint = src.Constraint })
	set("output", func() { dst.Output = src.Output })
	set("jobs", func() { dst.Jobs = src.Jobs })
	set("level", func() { dst.Level = src.Level })
	set("slowdown-bound", func() { dst.SlowdownBound = src.SlowdownBound })
	set("metrics", func() { dst.Metrics = src.Metrics })
}

// runSimulation loads the workload, builds the policies, runs the driver and
// writes the YAML report to out.
func runSimulation(cfg *RunConfig, out io.Writer) error {
	ctx := sim.NewSimContext(cfg.Seed)
	var jobs []*sim.Job
	var err error
	if cfg.Trace != "" {
		jobs, err = workload.LoadTrace(ctx, cfg.Trace)
	} else {
		jobs, err = workload.LoadYumYum(ctx, cfg.YumYum)
	}
	if err != nil {
		return err
	}

	in := AllocatorInputs{Ctx: ctx}
	if cfg.Dependencies != "" {
		if in.Dependencies, err = workload.LoadDependencies(cfg.Dependencies); err != nil {
			return err
		}
		c, err := workload.LoadConstraint(cfg.Constraint)
		if err != nil {
			return err
		}
		in.Constraint = &c
	}
	pol, err := BuildPolicies(cfg, in)
	if err != nil {
		return err
	}
	logrus.Infof("Starting simulation: %d jobs, machine=%s, scheduler=%s, allocator=%s, mapper=%s",
		len(jobs), pol.Machine, pol.Scheduler.Name(), pol.Allocator.Name(), pol.Mapper.Name())

	scope, closeScope := trace.NewLogScope("schedsim", logrus.InfoLevel)
	if !cfg.Metrics {
		scope, closeScope = nil, func() error { return nil }
	}
	rec := trace.NewRecorder(trace.Config{
		Level:         trace.Level(cfg.Level),
		SlowdownBound: cfg.SlowdownBound,
	}, pol.Machine.NumNodes(), scope)

	dcfg := cluster.Config{
		Machine:   pol.Machine,
		Scheduler: pol.Scheduler,
		Allocator: pol.Allocator,
		Mapper:    pol.Mapper,
		Stats:     rec,
		Horizon:   cfg.Horizon,
	}
	if cfg.FST != "" {
		mode, err := fst.ParseMode(cfg.FST)
		if err != nil {
			return err
		}
		dcfg.FST = fst.NewAnalyzer(mode)
	}
	d, err := cluster.NewDriver(dcfg)
	if err != nil {
		return err
	}
	res, err := d.Run(jobs)
	if err != nil {
		return err
	}
	logrus.Infof("Makespan %d, %d of %d jobs completed", res.Makespan, res.Completed, res.Total)
	if err := closeScope(); err != nil {
		return errors.Wrap(err, "flushing metrics")
	}
	return rec.WriteYAML(out, cfg.Jobs)
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	runCmd.Flags().StringVar(&logLevel, "log", "error", "Log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().StringVar(&configPath, "config", "", "YAML run config; explicit flags override it")
	runCmd.Flags().StringVar(&envPath, "env", ".env", "File of SCHEDSIM_* defaults")

	// Policies
	runCmd.Flags().StringVar(&flagCfg.Machine, "machine", flagCfg.Machine, "Machine: simple:N, mesh:XxYxZ, torus:XxYxZ, dragonfly:a,p,h,g[,topology]")
	runCmd.Flags().IntVar(&flagCfg.CoresPerNode, "cores", flagCfg.CoresPerNode, "Cores per node")
	runCmd.Flags().StringVar(&flagCfg.Scheduler, "scheduler", flagCfg.Scheduler, "Scheduler: pq[cmp], easy[cmp], stateful[manager,cmp]")
	runCmd.Flags().StringVar(&flagCfg.Allocator, "allocator", flagCfg.Allocator, "Allocator, e.g. simple, random, nearest[MM], firstfit[hilbert], mbs, constraint")
	runCmd.Flags().StringVar(&flagCfg.Mapper, "mapper", flagCfg.Mapper, "Task mapper: simple, random, allocmap")
	runCmd.Flags().StringVar(&flagCfg.FST, "fst", "", "First start time analysis: strict or relaxed")
	runCmd.Flags().Int64Var(&flagCfg.Seed, "seed", flagCfg.Seed, "Seed for random allocators and mappers")
	runCmd.Flags().Int64Var(&flagCfg.Horizon, "horizon", 0, "Stop before events after this time (0 = run to completion)")

	// Inputs
	runCmd.Flags().StringVar(&flagCfg.Trace, "trace", "", "Job trace file")
	runCmd.Flags().StringVar(&flagCfg.YumYum, "yumyum", "", "YumYum CSV trace (ID,duration,procs)")
	runCmd.Flags().StringVar(&flagCfg.Dependencies, "deps", "", "Node dependency file for the constraint allocator")
	runCmd.Flags().StringVar(&flagCfg.Constraint, "constraint", "", "Constraint file for the constraint allocator")

	// Output
	runCmd.Flags().StringVar(&flagCfg.Output, "output", "", "Write the YAML report here instead of stdout")
	runCmd.Flags().BoolVar(&flagCfg.Jobs, "jobs", false, "Include per-job records in the report")
	runCmd.Flags().StringVar(&flagCfg.Level, "level", flagCfg.Level, "Per-job detail: jobs or mapping")
	runCmd.Flags().Int64Var(&flagCfg.SlowdownBound, "slowdown-bound", flagCfg.SlowdownBound, "Runtime floor for bounded slowdown")
	runCmd.Flags().BoolVar(&flagCfg.Metrics, "metrics", false, "Log run metrics on completion")

	rootCmd.AddCommand(runCmd)
}
