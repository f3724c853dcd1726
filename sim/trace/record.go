// Package trace records what happened to every job of a run and summarizes
// it. Recorder implements sim.StatsRecorder and mirrors its counts into a
// tally scope.
package trace

// JobRecord is the life of one job.
type JobRecord struct {
	JobNum   int64  `yaml:"job"`
	Name     string `yaml:"name,omitempty"`
	Procs    int    `yaml:"procs"`
	Nodes    []int  `yaml:"nodes,flow"`
	Arrival  int64  `yaml:"arrival"`
	Start    int64  `yaml:"start"`
	Finish   int64  `yaml:"finish"`
	Runtime  int64  `yaml:"runtime"`
	Estimate int64  `yaml:"estimate"`
	Started  bool   `yaml:"-"`
	Finished bool   `yaml:"-"`
	// FST is set when first start times were computed.
	FST *int64 `yaml:"fst,omitempty"`

	// Mapping metrics, filled at LevelMapping.
	AvgHopDist    float64 `yaml:"avg_hop_dist,omitempty"`
	HopBytes      float64 `yaml:"hop_bytes,omitempty"`
	MaxCongestion float64 `yaml:"max_congestion,omitempty"`
}

// Wait is the time spent queued.
func (r *JobRecord) Wait() int64 { return r.Start - r.Arrival }

// Response is arrival to completion.
func (r *JobRecord) Response() int64 { return r.Finish - r.Arrival }

// BoundedSlowdown is response over runtime, with runtimes below bound
// counted as bound so short jobs do not dominate. Never below 1.
func (r *JobRecord) BoundedSlowdown(bound int64) float64 {
	den := max(r.Runtime, bound, 1)
	return max(1, float64(r.Response())/float64(den))
}

// Unfairness is how much later than its first start time the job started,
// or 0 when no FST was recorded or it started on time.
func (r *JobRecord) Unfairness() int64 {
	if r.FST == nil || r.Start <= *r.FST {
		return 0
	}
	return r.Start - *r.FST
}
