// Defines the Job struct that models one entry of the workload trace.
// Demand fields are fixed at construction; only timing/state fields mutate.

package sim

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

// UnknownRunningTime marks a trace entry with no user estimate.
// NewJob coerces it to the actual running time.
const UnknownRunningTime int64 = -1

// Job models a single batch job's lifecycle in the simulation.
type Job struct {
	JobNum int64  // Globally unique, assigned by SimContext.NextJobNum
	Name   string // Optional external identifier (YumYum traces)

	ArrivalTime          int64 // Time the job is submitted
	ProcsNeeded          int   // Number of processors (tasks) requested
	ActualRunningTime    int64 // Time the job really runs once started
	EstimatedRunningTime int64 // User estimate used by backfilling; never below ActualRunningTime

	CommInfo   *TaskCommInfo // Communication pattern between tasks (nil = none)
	CenterTask int           // Task the trace designates as center, -1 when absent

	StartTime int64 // Valid only when Started
	Started   bool
	HasRun    bool // Set once the job completed
}

// NewJob creates a job and assigns it the next job number from ctx.
// Returns an error when the demand fields are inconsistent.
func NewJob(ctx *SimContext, arrival int64, procs int, actual, estimate int64) (*Job, error) {
	if procs <= 0 {
		return nil, errors.Errorf("job needs %d processors; must be > 0", procs)
	}
	if arrival < 0 {
		return nil, errors.Errorf("negative arrival time %d", arrival)
	}
	if actual < 0 {
		return nil, errors.Errorf("negative running time %d", actual)
	}
	if estimate == UnknownRunningTime {
		estimate = actual
	}
	if estimate < actual {
		return nil, errors.Errorf("estimated running time %d is below actual running time %d", estimate, actual)
	}
	return &Job{
		JobNum:               ctx.NextJobNum(),
		ArrivalTime:          arrival,
		ProcsNeeded:          procs,
		ActualRunningTime:    actual,
		EstimatedRunningTime: estimate,
		CenterTask:           -1,
	}, nil
}

// NodesNeeded returns ceil(ProcsNeeded / coresPerNode).
func (j *Job) NodesNeeded(coresPerNode int) int {
	if coresPerNode <= 0 {
		panic(fmt.Sprintf("NodesNeeded: coresPerNode must be > 0, got %d", coresPerNode))
	}
	return (j.ProcsNeeded + coresPerNode - 1) / coresPerNode
}

// Start records the start of the job. Starting a job twice is an invariant violation.
func (j *Job) Start(time int64) {
	if j.Started {
		panic(fmt.Sprintf("job %d started twice (first at %d, again at %d)", j.JobNum, j.StartTime, time))
	}
	if time < j.ArrivalTime {
		panic(fmt.Sprintf("job %d started at %d before its arrival at %d", j.JobNum, time, j.ArrivalTime))
	}
	j.StartTime = time
	j.Started = true
}

// Finish marks the job as completed.
func (j *Job) Finish(time int64) {
	if !j.Started {
		panic(fmt.Sprintf("job %d finished at %d without being started", j.JobNum, time))
	}
	if j.HasRun {
		panic(fmt.Sprintf("job %d finished twice", j.JobNum))
	}
	j.HasRun = true
}

// EstimatedFinish is the finish time projected from the user estimate.
func (j *Job) EstimatedFinish() int64 {
	return j.StartTime + j.EstimatedRunningTime
}

// ActualFinish is the real completion time of a started job.
func (j *Job) ActualFinish() int64 {
	return j.StartTime + j.ActualRunningTime
}

// Clone returns a copy of the job that shares the immutable CommInfo.
// Used by what-if analysis that must not touch live state.
func (j *Job) Clone() *Job {
	cp := *j
	return &cp
}

func (j *Job) String() string {
	return fmt.Sprintf("Job %d: (arrival: %d, procs: %d, runtime: %d, estimate: %d)",
		j.JobNum, j.ArrivalTime, j.ProcsNeeded, j.ActualRunningTime, j.EstimatedRunningTime)
}

// JobTable is the per-simulation arena of jobs keyed by job number.
type JobTable struct {
	jobs    map[int64]*Job
	retired map[int64]bool
}

// NewJobTable creates an empty JobTable.
func NewJobTable() *JobTable {
	return &JobTable{
		jobs:    make(map[int64]*Job),
		retired: make(map[int64]bool),
	}
}

// Add registers a job. Re-using a job number is an invariant violation.
func (t *JobTable) Add(j *Job) {
	if _, ok := t.jobs[j.JobNum]; ok || t.retired[j.JobNum] {
		panic(fmt.Sprintf("JobTable: job number %d registered twice", j.JobNum))
	}
	t.jobs[j.JobNum] = j
}

// Get returns the live job with the given number, or nil.
func (t *JobTable) Get(num int64) *Job {
	return t.jobs[num]
}

// Retire removes a completed job; its number is never reused.
func (t *JobTable) Retire(num int64) {
	if _, ok := t.jobs[num]; !ok {
		panic(fmt.Sprintf("JobTable: retiring unknown job %d", num))
	}
	delete(t.jobs, num)
	t.retired[num] = true
}

// Len returns the number of live jobs.
func (t *JobTable) Len() int {
	return len(t.jobs)
}

// Jobs returns live jobs ordered by job number.
func (t *JobTable) Jobs() []*Job {
	out := make([]*Job, 0, len(t.jobs))
	for _, j := range t.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].JobNum < out[b].JobNum })
	return out
}
