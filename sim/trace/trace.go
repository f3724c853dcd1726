package trace

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/uber-go/tally/v4"

	"github.com/hpc-schedsim/schedsim/sim"
)

// Level controls how much the recorder keeps.
type Level string

const (
	// LevelJobs keeps one record per job.
	LevelJobs Level = "jobs"
	// LevelMapping also computes the network metrics of every task mapping.
	LevelMapping Level = "mapping"
)

// validLevels maps accepted level strings.
var validLevels = map[Level]bool{
	LevelJobs:    true,
	LevelMapping: true,
	"":           true, // empty defaults to jobs
}

// IsValidLevel returns true if the given level string is a recognized level.
func IsValidLevel(level string) bool {
	return validLevels[Level(level)]
}

// Config controls what the recorder collects.
type Config struct {
	Level Level
	// SlowdownBound is the runtime floor of bounded slowdown.
	SlowdownBound int64
}

// Recorder collects per-job records and live counters.
type Recorder struct {
	Config   Config
	numNodes int

	records map[int64]*JobRecord
	busy    int

	arrivals tally.Counter
	starts   tally.Counter
	finishes tally.Counter
	busyNow  tally.Gauge
	waiting  tally.Gauge
	waits    tally.Histogram
	fstGap   tally.Histogram
}

var waitBuckets = tally.MustMakeExponentialValueBuckets(1, 4, 12)

// NewRecorder creates a recorder for a machine of numNodes nodes. A nil
// scope disables metric emission.
func NewRecorder(cfg Config, numNodes int, scope tally.Scope) *Recorder {
	if scope == nil {
		scope = tally.NoopScope
	}
	if cfg.Level == "" {
		cfg.Level = LevelJobs
	}
	return &Recorder{
		Config:   cfg,
		numNodes: numNodes,
		records:  make(map[int64]*JobRecord),
		arrivals: scope.Counter("job_arrivals"),
		starts:   scope.Counter("job_starts"),
		finishes: scope.Counter("job_finishes"),
		busyNow:  scope.Gauge("busy_nodes"),
		waiting:  scope.Gauge("waiting_jobs"),
		waits:    scope.Histogram("wait_time", waitBuckets),
		fstGap:   scope.Histogram("fst_unfairness", waitBuckets),
	}
}

func (r *Recorder) get(job *sim.Job, what string) *JobRecord {
	rec, ok := r.records[job.JobNum]
	if !ok {
		panic(fmt.Sprintf("trace: %s for job %d which never arrived", what, job.JobNum))
	}
	return rec
}

func (r *Recorder) numWaiting() int {
	n := 0
	for _, rec := range r.records {
		if !rec.Started {
			n++
		}
	}
	return n
}

func (r *Recorder) JobArrives(job *sim.Job, time int64) {
	if _, dup := r.records[job.JobNum]; dup {
		panic(fmt.Sprintf("trace: job %d arrived twice", job.JobNum))
	}
	r.records[job.JobNum] = &JobRecord{
		JobNum:   job.JobNum,
		Name:     job.Name,
		Procs:    job.ProcsNeeded,
		Arrival:  time,
		Runtime:  job.ActualRunningTime,
		Estimate: job.EstimatedRunningTime,
	}
	r.arrivals.Inc(1)
	r.waiting.Update(float64(r.numWaiting()))
}

func (r *Recorder) JobStarts(tmi *sim.TaskMapInfo, time int64) {
	rec := r.get(tmi.Job(), "start")
	if rec.Started {
		panic(fmt.Sprintf("trace: job %d started twice", rec.JobNum))
	}
	rec.Started, rec.Start = true, time
	rec.Nodes = append([]int(nil), tmi.AllocInfo.Nodes...)
	sort.Ints(rec.Nodes)
	if r.Config.Level == LevelMapping && tmi.Job().CommInfo != nil {
		rec.AvgHopDist = tmi.AvgHopDist()
		rec.HopBytes = tmi.HopBytes()
		rec.MaxCongestion = tmi.MaxJobCongestion()
	}
	r.busy += len(rec.Nodes)
	r.starts.Inc(1)
	r.busyNow.Update(float64(r.busy))
	r.waiting.Update(float64(r.numWaiting()))
	r.waits.RecordValue(float64(rec.Wait()))
	if g := rec.Unfairness(); g > 0 {
		r.fstGap.RecordValue(float64(g))
	}
}

func (r *Recorder) JobFinishes(tmi *sim.TaskMapInfo, time int64) {
	rec := r.get(tmi.Job(), "finish")
	if !rec.Started || rec.Finished {
		panic(fmt.Sprintf("trace: job %d finished at %d out of order", rec.JobNum, time))
	}
	rec.Finished, rec.Finish = true, time
	r.busy -= len(rec.Nodes)
	r.finishes.Inc(1)
	r.busyNow.Update(float64(r.busy))
}

func (r *Recorder) RecordFST(job *sim.Job, fst int64) {
	rec := r.get(job, "fst")
	v := fst
	rec.FST = &v
}

func (r *Recorder) Done() {
	if r.busy != 0 {
		logrus.Warnf("trace: run ended with %d nodes still busy", r.busy)
	}
}

// Records returns the job records ordered by job number.
func (r *Recorder) Records() []*JobRecord {
	out := make([]*JobRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].JobNum < out[b].JobNum })
	return out
}

// Record returns the record of one job.
func (r *Recorder) Record(jobNum int64) (*JobRecord, bool) {
	rec, ok := r.records[jobNum]
	return rec, ok
}
