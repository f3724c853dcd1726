// Package cluster is the event loop that replays a job trace through a
// scheduler, allocator, task mapper and machine.
package cluster

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hpc-schedsim/schedsim/sim"
	"github.com/hpc-schedsim/schedsim/sim/fst"
)

// Config wires the policies of one run. Stats and FST are optional.
type Config struct {
	Machine   sim.Machine
	Scheduler sim.Scheduler
	Allocator sim.Allocator
	Mapper    sim.TaskMapper
	Stats     sim.StatsRecorder
	FST       *fst.Analyzer
	// Horizon stops the run before any event later than it; 0 means none.
	Horizon int64
}

// Result summarizes a finished run.
type Result struct {
	// Makespan is the time the last job finished.
	Makespan  int64
	Total     int
	Completed int
	// Starts maps job number to start time.
	Starts map[int64]int64
}

// Driver owns the timeline and the bookkeeping of waiting and running jobs.
type Driver struct {
	cfg Config

	EventQueue  *EventHeap
	Clock       int64
	nextEventID uint64

	jobs    *sim.JobTable
	waiting map[int64]*sim.Job
	running map[int64]*sim.TaskMapInfo
	wakes   map[int64]bool
	result  *Result
}

// NewDriver validates cfg and returns a driver ready to Run.
func NewDriver(cfg Config) (*Driver, error) {
	switch {
	case cfg.Machine == nil:
		return nil, errors.New("driver: no machine")
	case cfg.Scheduler == nil:
		return nil, errors.New("driver: no scheduler")
	case cfg.Allocator == nil:
		return nil, errors.New("driver: no allocator")
	case cfg.Mapper == nil:
		return nil, errors.New("driver: no task mapper")
	case cfg.Horizon < 0:
		return nil, errors.Errorf("driver: negative horizon %d", cfg.Horizon)
	}
	return &Driver{
		cfg:        cfg,
		EventQueue: NewEventHeap(),
		jobs:       sim.NewJobTable(),
		waiting:    make(map[int64]*sim.Job),
		running:    make(map[int64]*sim.TaskMapInfo),
		wakes:      make(map[int64]bool),
	}, nil
}

func (d *Driver) newEventID() uint64 {
	d.nextEventID++
	return d.nextEventID
}

// Validate rejects jobs the machine could never run.
func (d *Driver) Validate(jobs []*sim.Job) error {
	m := d.cfg.Machine
	for _, j := range jobs {
		if need := j.NodesNeeded(m.CoresPerNode()); need > m.NumNodes() {
			return errors.Errorf("job %d needs %d nodes (%d procs) but %s has %d",
				j.JobNum, need, j.ProcsNeeded, m, m.NumNodes())
		}
	}
	return nil
}

// Run replays jobs to completion (or the horizon) and returns the result.
func (d *Driver) Run(jobs []*sim.Job) (*Result, error) {
	if err := d.Validate(jobs); err != nil {
		return nil, err
	}
	sorted := append([]*sim.Job(nil), jobs...)
	sort.SliceStable(sorted, func(a, b int) bool {
		if sorted[a].ArrivalTime != sorted[b].ArrivalTime {
			return sorted[a].ArrivalTime < sorted[b].ArrivalTime
		}
		return sorted[a].JobNum < sorted[b].JobNum
	})
	d.result = &Result{Total: len(jobs), Starts: make(map[int64]int64, len(jobs))}
	for _, j := range sorted {
		d.jobs.Add(j)
		d.EventQueue.Schedule(NewJobArrivalEvent(j.ArrivalTime, j, d.newEventID()))
	}
	logrus.Infof("running %d jobs: %s, %s, %s on %s", len(jobs),
		d.cfg.Scheduler.Name(), d.cfg.Allocator.Name(), d.cfg.Mapper.Name(), d.cfg.Machine)

	for d.EventQueue.Len() > 0 {
		event := d.EventQueue.PopNext()
		if d.cfg.Horizon > 0 && event.Timestamp() > d.cfg.Horizon {
			logrus.Warnf("horizon %d reached with %d jobs waiting and %d running",
				d.cfg.Horizon, len(d.waiting), len(d.running))
			break
		}
		if event.Timestamp() < d.Clock {
			panic(fmt.Sprintf("Clock went backwards: %d < %d", event.Timestamp(), d.Clock))
		}
		d.Clock = event.Timestamp()
		event.Execute(d)

		// start jobs once every event at this time has been seen
		if next := d.EventQueue.Peek(); next == nil || next.Timestamp() != d.Clock {
			d.startJobs()
		}
	}

	if d.cfg.Horizon == 0 && (len(d.waiting) > 0 || len(d.running) > 0) {
		panic(fmt.Sprintf("driver: timeline empty at %d with %d jobs waiting and %d running under %s",
			d.Clock, len(d.waiting), len(d.running), d.cfg.Scheduler.Name()))
	}
	d.cfg.Scheduler.Done()
	d.cfg.Allocator.Done()
	if d.cfg.Stats != nil {
		d.cfg.Stats.Done()
	}
	logrus.Infof("makespan %d, %d/%d jobs completed", d.result.Makespan, d.result.Completed, d.result.Total)
	return d.result, nil
}

// Waiting returns the jobs that arrived but have not started, by job number.
func (d *Driver) Waiting() []*sim.Job {
	out := make([]*sim.Job, 0, len(d.waiting))
	for _, j := range d.waiting {
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].JobNum < out[b].JobNum })
	return out
}

// Running returns the mappings of running jobs, by job number.
func (d *Driver) Running() []*sim.TaskMapInfo {
	out := make([]*sim.TaskMapInfo, 0, len(d.running))
	for _, t := range d.running {
		out = append(out, t)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Job().JobNum < out[b].Job().JobNum })
	return out
}

func (d *Driver) handleArrival(e *JobArrivalEvent) {
	job := e.Job
	logrus.Debugf("[t=%d] job %d arrives (%d procs, est %d)", d.Clock, job.JobNum, job.ProcsNeeded, job.EstimatedRunningTime)
	if d.cfg.Stats != nil {
		d.cfg.Stats.JobArrives(job, d.Clock)
	}
	if d.cfg.FST != nil {
		t := d.cfg.FST.Compute(job, d.Clock, fst.Live{
			Scheduler: d.cfg.Scheduler,
			Machine:   d.cfg.Machine,
			Allocator: d.cfg.Allocator,
			Mapper:    d.cfg.Mapper,
			Running:   d.Running(),
			Waiting:   d.Waiting(),
		})
		if d.cfg.Stats != nil {
			d.cfg.Stats.RecordFST(job, t)
		}
	}
	d.waiting[job.JobNum] = job
	d.cfg.Scheduler.JobArrives(job, d.Clock, d.cfg.Machine)
}

func (d *Driver) handleFinish(e *JobFinishEvent) {
	tmi := e.Mapping
	job := tmi.Job()
	if _, ok := d.running[job.JobNum]; !ok {
		panic(fmt.Sprintf("driver: job %d finished at %d but is not running", job.JobNum, d.Clock))
	}
	delete(d.running, job.JobNum)
	sim.Release(tmi, d.Clock, d.cfg.Scheduler, d.cfg.Machine, d.cfg.Allocator)
	if d.cfg.Stats != nil {
		d.cfg.Stats.JobFinishes(tmi, d.Clock)
	}
	d.jobs.Retire(job.JobNum)
	d.result.Completed++
	d.result.Makespan = d.Clock
	logrus.Debugf("[t=%d] job %d finished, %d nodes free", d.Clock, job.JobNum, d.cfg.Machine.NumFreeNodes())
}

func (d *Driver) handleWake(*WakeEvent) {
	delete(d.wakes, d.Clock)
}

// startJobs asks the scheduler for jobs until it has none to start now.
func (d *Driver) startJobs() {
	s, m := d.cfg.Scheduler, d.cfg.Machine
	for job := s.TryToStart(d.Clock, m); job != nil; job = s.TryToStart(d.Clock, m) {
		if _, ok := d.waiting[job.JobNum]; !ok {
			panic(fmt.Sprintf("driver: %s chose job %d which is not waiting", s.Name(), job.JobNum))
		}
		tmi := sim.Launch(job, d.Clock, s, m, d.cfg.Allocator, d.cfg.Mapper)
		delete(d.waiting, job.JobNum)
		d.running[job.JobNum] = tmi
		d.result.Starts[job.JobNum] = d.Clock
		if d.cfg.Stats != nil {
			d.cfg.Stats.JobStarts(tmi, d.Clock)
		}
		logrus.Debugf("[t=%d] job %d started on %v", d.Clock, job.JobNum, tmi.AllocInfo.Nodes)
		d.EventQueue.Schedule(NewJobFinishEvent(job.ActualFinish(), tmi, d.newEventID()))
	}
	if w, ok := s.(sim.Waker); ok {
		if t, ok := w.NextStartTime(d.Clock); ok && !d.wakes[t] {
			d.wakes[t] = true
			d.EventQueue.Schedule(NewWakeEvent(t, d.newEventID()))
		}
	}
}
