// Package fst computes first start times: the time a job would have started
// had nothing arrived after it. The computation replays a private copy of the
// scheduler, machine, allocator and mapper forward from the job's arrival.
package fst

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hpc-schedsim/schedsim/sim"
)

// Mode selects when the probed job enters the copy.
type Mode int

const (
	// Strict feeds the job to the copy as soon as it is built, like a
	// normal arrival.
	Strict Mode = iota
	// Relaxed lets every job already waiting try to start first.
	Relaxed
)

func (m Mode) String() string {
	if m == Relaxed {
		return "relaxed"
	}
	return "strict"
}

// ParseMode accepts "strict" or "relaxed".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "strict":
		return Strict, nil
	case "relaxed":
		return Relaxed, nil
	}
	return Strict, errors.Errorf("unknown FST mode %q (want strict or relaxed)", s)
}

// Live is the state of the running simulation at the probed job's arrival.
// Nothing in it is modified by Compute.
type Live struct {
	Scheduler sim.Scheduler
	Machine   sim.Machine
	Allocator sim.Allocator
	Mapper    sim.TaskMapper
	Running   []*sim.TaskMapInfo
	Waiting   []*sim.Job
}

// Analyzer computes and remembers first start times by job number.
type Analyzer struct {
	mode    Mode
	results map[int64]int64
}

// NewAnalyzer creates an analyzer in the given mode.
func NewAnalyzer(mode Mode) *Analyzer {
	return &Analyzer{mode: mode, results: make(map[int64]int64)}
}

func (a *Analyzer) Mode() Mode { return a.mode }

// Result returns the FST recorded for jobNum.
func (a *Analyzer) Result(jobNum int64) (int64, bool) {
	t, ok := a.results[jobNum]
	return t, ok
}

// Results returns a copy of every recorded FST.
func (a *Analyzer) Results() map[int64]int64 {
	out := make(map[int64]int64, len(a.results))
	for k, v := range a.results {
		out[k] = v
	}
	return out
}

// copyState is the private what-if simulation.
type copyState struct {
	sched    sim.Scheduler
	machine  sim.Machine
	alloc    sim.Allocator
	mapper   sim.TaskMapper
	finishes map[int64][]*sim.TaskMapInfo
}

func (c *copyState) addFinish(tmi *sim.TaskMapInfo) {
	t := tmi.Job().ActualFinish()
	c.finishes[t] = append(c.finishes[t], tmi)
}

// nextTime is the earliest pending finish or scheduler wake-up after now.
func (c *copyState) nextTime(now int64) (int64, bool) {
	var best int64
	found := false
	for t := range c.finishes {
		if !found || t < best {
			best, found = t, true
		}
	}
	if w, ok := c.sched.(sim.Waker); ok {
		if t, ok := w.NextStartTime(now); ok && (!found || t < best) {
			best, found = t, true
		}
	}
	return best, found
}

func (c *copyState) finishAt(t int64) {
	done := c.finishes[t]
	delete(c.finishes, t)
	sort.Slice(done, func(i, j int) bool { return done[i].Job().JobNum < done[j].Job().JobNum })
	for _, tmi := range done {
		sim.Release(tmi, t, c.sched, c.machine, c.alloc)
	}
}

// startLoop starts jobs until the scheduler has nothing more or picks probe.
func (c *copyState) startLoop(now int64, probe *sim.Job) bool {
	for j := c.sched.TryToStart(now, c.machine); j != nil; j = c.sched.TryToStart(now, c.machine) {
		if j.JobNum == probe.JobNum {
			return true
		}
		c.addFinish(sim.Launch(j, now, c.sched, c.machine, c.alloc, c.mapper))
	}
	return false
}

// Compute runs the what-if simulation for job arriving at time and returns
// the time the copied scheduler first chooses to start it.
func (a *Analyzer) Compute(job *sim.Job, time int64, live Live) int64 {
	jobs := make(map[int64]*sim.Job, len(live.Running)+len(live.Waiting)+1)
	running := make([]*sim.Job, 0, len(live.Running))
	for _, tmi := range live.Running {
		j := tmi.Job().Clone()
		jobs[j.JobNum] = j
		running = append(running, j)
	}
	waiting := make([]*sim.Job, 0, len(live.Waiting))
	for _, w := range live.Waiting {
		j := w.Clone()
		jobs[j.JobNum] = j
		waiting = append(waiting, j)
	}
	probe := job.Clone()

	m := live.Machine.Clone()
	al := live.Allocator.Clone(m)
	var tm sim.TaskMapper
	if ma, ok := al.(sim.MappingAllocator); ok {
		tm = ma.Mapper()
	} else {
		tm = live.Mapper.Clone(m)
	}
	c := &copyState{
		sched:    live.Scheduler.Copy(running, waiting),
		machine:  m,
		alloc:    al,
		mapper:   tm,
		finishes: make(map[int64][]*sim.TaskMapInfo),
	}
	for _, tmi := range live.Running {
		c.addFinish(tmi.Clone(jobs[tmi.Job().JobNum], m))
	}

	now := time
	arrived := false
	if a.mode == Strict {
		c.sched.JobArrives(probe, now, m)
		arrived = true
	}
	for {
		if c.startLoop(now, probe) {
			break
		}
		if !arrived {
			c.sched.JobArrives(probe, now, m)
			arrived = true
			continue
		}
		next, ok := c.nextTime(now)
		if !ok {
			panic(fmt.Sprintf("fst: job %d never starts in the copy of %s (t=%d, %d nodes free)",
				job.JobNum, c.sched.Name(), now, m.NumFreeNodes()))
		}
		if next < now {
			panic(fmt.Sprintf("fst: clock went backwards from %d to %d", now, next))
		}
		now = next
		if _, ok := c.finishes[now]; ok {
			c.finishAt(now)
		}
	}
	logrus.Debugf("[t=%d] fst(%s): job %d would start at %d", time, a.mode, job.JobNum, now)
	a.results[job.JobNum] = now
	return now
}
