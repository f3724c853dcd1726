package trace

import (
	"io"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"
)

// Distribution summarizes one per-job quantity.
type Distribution struct {
	Mean   float64 `yaml:"mean"`
	StdDev float64 `yaml:"stddev"`
	P50    float64 `yaml:"p50"`
	P95    float64 `yaml:"p95"`
	Max    float64 `yaml:"max"`
	Count  int     `yaml:"count"`
}

// NewDistribution computes a Distribution from raw values.
// Returns zero-value Distribution for empty input.
func NewDistribution(values []float64) Distribution {
	if len(values) == 0 {
		return Distribution{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mean, std := stat.MeanStdDev(sorted, nil)
	if len(sorted) == 1 {
		std = 0
	}
	return Distribution{
		Mean:   mean,
		StdDev: std,
		P50:    stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P95:    stat.Quantile(0.95, stat.Empirical, sorted, nil),
		Max:    sorted[len(sorted)-1],
		Count:  len(sorted),
	}
}

// Summary aggregates the finished jobs of a run.
type Summary struct {
	Jobs        int     `yaml:"jobs"`
	Completed   int     `yaml:"completed"`
	Makespan    int64   `yaml:"makespan"`
	Utilization float64 `yaml:"utilization"`

	Wait     Distribution `yaml:"wait"`
	Response Distribution `yaml:"response"`
	Slowdown Distribution `yaml:"bounded_slowdown"`

	// Only filled when first start times were computed.
	Unfairness *Distribution `yaml:"fst_unfairness,omitempty"`
	// Only filled at LevelMapping.
	AvgHopDist *Distribution `yaml:"avg_hop_dist,omitempty"`
	HopBytes   *Distribution `yaml:"hop_bytes,omitempty"`
}

// Summarize computes aggregate statistics over the completed jobs.
// Safe on an empty recorder (returns zero-value fields).
func (r *Recorder) Summarize() *Summary {
	s := &Summary{Jobs: len(r.records)}
	var wait, resp, slow, unfair, hops, bytes []float64
	var work float64
	for _, rec := range r.Records() {
		if !rec.Finished {
			continue
		}
		s.Completed++
		s.Makespan = max(s.Makespan, rec.Finish)
		work += float64(len(rec.Nodes)) * float64(rec.Finish-rec.Start)
		wait = append(wait, float64(rec.Wait()))
		resp = append(resp, float64(rec.Response()))
		slow = append(slow, rec.BoundedSlowdown(r.Config.SlowdownBound))
		if rec.FST != nil {
			unfair = append(unfair, float64(rec.Unfairness()))
		}
		if r.Config.Level == LevelMapping && rec.HopBytes > 0 {
			hops = append(hops, rec.AvgHopDist)
			bytes = append(bytes, rec.HopBytes)
		}
	}
	if s.Makespan > 0 && r.numNodes > 0 {
		s.Utilization = work / (float64(r.numNodes) * float64(s.Makespan))
	}
	s.Wait = NewDistribution(wait)
	s.Response = NewDistribution(resp)
	s.Slowdown = NewDistribution(slow)
	if len(unfair) > 0 {
		d := NewDistribution(unfair)
		s.Unfairness = &d
	}
	if len(hops) > 0 {
		h, b := NewDistribution(hops), NewDistribution(bytes)
		s.AvgHopDist, s.HopBytes = &h, &b
	}
	return s
}

// report is the YAML document written by WriteYAML.
type report struct {
	Summary *Summary     `yaml:"summary"`
	Jobs    []*JobRecord `yaml:"jobs,omitempty"`
}

// WriteYAML writes the summary and, when withJobs is set, every job record.
func (r *Recorder) WriteYAML(w io.Writer, withJobs bool) error {
	doc := report{Summary: r.Summarize()}
	if withJobs {
		doc.Jobs = r.Records()
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return errors.Wrap(err, "encoding run report")
	}
	return errors.Wrap(enc.Close(), "flushing run report")
}
