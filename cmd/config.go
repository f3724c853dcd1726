package cmd

import (
	"bytes"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/hpc-schedsim/schedsim/sim/fst"
	"github.com/hpc-schedsim/schedsim/sim/trace"
)

// RunConfig holds every setting of one simulation run. Values are layered:
// defaults, then SCHEDSIM_* environment variables (including a .env file),
// then the YAML file given by --config, then explicit flags.
type RunConfig struct {
	Machine      string `yaml:"machine"`
	CoresPerNode int    `yaml:"cores_per_node"`
	Scheduler    string `yaml:"scheduler"`
	Allocator    string `yaml:"allocator"`
	Mapper       string `yaml:"mapper"`
	// FST is "", "strict" or "relaxed"; empty disables the analysis.
	FST     string `yaml:"fst"`
	Seed    int64  `yaml:"seed"`
	Horizon int64  `yaml:"horizon"`

	Trace        string `yaml:"trace"`
	YumYum       string `yaml:"yumyum"`
	Dependencies string `yaml:"dependencies"`
	Constraint   string `yaml:"constraint"`

	Output        string `yaml:"output"`
	Jobs          bool   `yaml:"jobs"`
	Level         string `yaml:"level"`
	SlowdownBound int64  `yaml:"slowdown_bound"`
	Metrics       bool   `yaml:"metrics"`
}

// DefaultRunConfig is a FIFO run on a 64-node simple machine.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Machine:       "simple:64",
		CoresPerNode:  1,
		Scheduler:     "pq[fifo]",
		Allocator:     "simple",
		Mapper:        "simple",
		Seed:          42,
		Level:         string(trace.LevelJobs),
		SlowdownBound: 10,
	}
}

// LoadDotEnv loads path into the process environment if it exists.
// Variables already set are not overridden.
func LoadDotEnv(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := godotenv.Load(path); err != nil {
		logrus.WithField("file", path).WithError(err).Warn("Error loading .env file")
		return
	}
	logrus.WithField("file", path).Debug("Loaded environment variables")
}

// ApplyEnv overrides fields from SCHEDSIM_* variables found by lookup.
func (c *RunConfig) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"SCHEDSIM_MACHINE":      &c.Machine,
		"SCHEDSIM_SCHEDULER":    &c.Scheduler,
		"SCHEDSIM_ALLOCATOR":    &c.Allocator,
		"SCHEDSIM_MAPPER":       &c.Mapper,
		"SCHEDSIM_FST":          &c.FST,
		"SCHEDSIM_TRACE":        &c.Trace,
		"SCHEDSIM_YUMYUM":       &c.YumYum,
		"SCHEDSIM_DEPENDENCIES": &c.Dependencies,
		"SCHEDSIM_CONSTRAINT":   &c.Constraint,
		"SCHEDSIM_OUTPUT":       &c.Output,
		"SCHEDSIM_LEVEL":        &c.Level,
	}
	for k, p := range strs {
		if v, ok := lookup(k); ok {
			*p = v
		}
	}
	ints := map[string]*int64{
		"SCHEDSIM_SEED":           &c.Seed,
		"SCHEDSIM_HORIZON":        &c.Horizon,
		"SCHEDSIM_SLOWDOWN_BOUND": &c.SlowdownBound,
	}
	for k, p := range ints {
		if v, ok := lookup(k); ok {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return errors.Wrapf(err, "%s", k)
			}
			*p = n
		}
	}
	if v, ok := lookup("SCHEDSIM_CORES_PER_NODE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, "SCHEDSIM_CORES_PER_NODE")
		}
		c.CoresPerNode = n
	}
	return nil
}

// LoadRunConfig decodes a YAML run file on top of c. Unknown keys are an error.
func (c *RunConfig) LoadRunConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "reading run config")
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return errors.Wrapf(err, "parsing run config %s", path)
	}
	return nil
}

// Validate checks the fields that are not parsed by the policy factory.
func (c *RunConfig) Validate() error {
	if (c.Trace == "") == (c.YumYum == "") {
		return errors.New("exactly one of trace or yumyum must be given")
	}
	if c.FST != "" {
		if _, err := fst.ParseMode(c.FST); err != nil {
			return err
		}
	}
	if !trace.IsValidLevel(c.Level) {
		return errors.Errorf("unknown trace level %q", c.Level)
	}
	if c.Horizon < 0 {
		return errors.Errorf("horizon must be >= 0, got %d", c.Horizon)
	}
	if (c.Dependencies == "") != (c.Constraint == "") {
		return errors.New("dependencies and constraint files must be given together")
	}
	return nil
}
