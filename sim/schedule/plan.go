package schedule

import (
	"fmt"
	"sort"

	"github.com/davecgh/go-spew/spew"

	"github.com/hpc-schedsim/schedsim/sim"
)

// Change is one entry of a schedule: a job starting or ending at Time.
type Change struct {
	Time   int64
	JobNum int64
	IsEnd  bool
}

// reservation is a job's slot in a plan. Running jobs hold their real start
// and estimated end.
type reservation struct {
	job        *sim.Job
	start, end int64
	running    bool
}

// plan is a set of reservations against a machine of numNodes nodes.
// Plans are copied wholesale when a candidate change may be rolled back.
type plan struct {
	numNodes int
	cores    int
	res      map[int64]*reservation
}

func newPlan(numNodes, cores int) *plan {
	return &plan{numNodes: numNodes, cores: cores, res: make(map[int64]*reservation)}
}

func (p *plan) need(j *sim.Job) int { return j.NodesNeeded(p.cores) }

// clone copies the plan, rebinding jobs through remap when it is non-nil.
func (p *plan) clone(remap map[int64]*sim.Job) *plan {
	cp := newPlan(p.numNodes, p.cores)
	for num, r := range p.res {
		nr := *r
		if remap != nil {
			j, ok := remap[num]
			if !ok {
				panic(fmt.Sprintf("plan: job %d missing from copy", num))
			}
			nr.job = j
		}
		cp.res[num] = &nr
	}
	return cp
}

func (p *plan) empty() bool { return len(p.res) == 0 }

func (p *plan) get(j *sim.Job) *reservation {
	r, ok := p.res[j.JobNum]
	if !ok {
		panic(fmt.Sprintf("plan: job %d has no reservation", j.JobNum))
	}
	return r
}

func (p *plan) has(j *sim.Job) bool {
	_, ok := p.res[j.JobNum]
	return ok
}

// covers reports whether r holds its nodes at t. A zero-length reservation
// holds them at its start instant only.
func (r *reservation) covers(t int64) bool {
	if r.start == r.end {
		return t == r.start
	}
	return r.start <= t && t < r.end
}

// freeAt is the number of nodes no reservation covers at time t.
func (p *plan) freeAt(t int64) int {
	free := p.numNodes
	for _, r := range p.res {
		if r.covers(t) {
			free -= p.need(r.job)
		}
	}
	return free
}

// fits reports whether need nodes stay free over [start, start+dur). A
// zero-length job only needs them at the instant start.
func (p *plan) fits(need int, start, dur int64) bool {
	if p.freeAt(start) < need {
		return false
	}
	end := start + dur
	for _, r := range p.res {
		if r.start > start && r.start < end && p.freeAt(r.start) < need {
			return false
		}
	}
	return true
}

// findTime returns the earliest time >= now at which job fits without moving
// any other reservation. Free capacity only grows at reservation ends (or
// just after a zero-length one), so those are the only candidates after now.
func (p *plan) findTime(job *sim.Job, now int64) int64 {
	need := p.need(job)
	if need > p.numNodes {
		panic(fmt.Sprintf("plan: job %d needs %d nodes, machine has %d", job.JobNum, need, p.numNodes))
	}
	cands := []int64{now}
	for _, r := range p.res {
		if r.end > now {
			cands = append(cands, r.end)
		}
		if r.start == r.end && r.end+1 > now {
			cands = append(cands, r.end+1)
		}
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i] < cands[j] })
	for _, c := range cands {
		if p.fits(need, c, job.EstimatedRunningTime) {
			return c
		}
	}
	panic(fmt.Sprintf("plan: no slot for job %d after %d\n%s", job.JobNum, now, p.dump()))
}

// place reserves [start, start+estimate) for job.
func (p *plan) place(job *sim.Job, start int64) {
	if p.has(job) {
		panic(fmt.Sprintf("plan: job %d reserved twice", job.JobNum))
	}
	p.res[job.JobNum] = &reservation{job: job, start: start, end: start + job.EstimatedRunningTime}
}

// add reserves the earliest conflict-free slot and returns its start.
func (p *plan) add(job *sim.Job, now int64) int64 {
	t := p.findTime(job, now)
	p.place(job, t)
	return t
}

func (p *plan) remove(job *sim.Job) *reservation {
	r := p.get(job)
	delete(p.res, job.JobNum)
	return r
}

// start turns a reservation into a running job. Starting before the
// reserved time is a scheduler bug.
func (p *plan) start(job *sim.Job, now int64) {
	r := p.get(job)
	if r.running {
		panic(fmt.Sprintf("plan: job %d started twice (t=%d)", job.JobNum, now))
	}
	if r.start > now {
		panic(fmt.Sprintf("plan: job %d started at %d before its scheduled time %d\n%s",
			job.JobNum, now, r.start, p.dump()))
	}
	r.start, r.end, r.running = now, now+job.EstimatedRunningTime, true
}

// finish drops a running reservation and reports whether it ended early.
func (p *plan) finish(job *sim.Job, now int64) bool {
	r := p.get(job)
	if !r.running {
		panic(fmt.Sprintf("plan: job %d finished at %d but never started", job.JobNum, now))
	}
	delete(p.res, job.JobNum)
	return now < r.end
}

// waiting returns the not-yet-started reservations ordered by start time,
// then by cmp.
func (p *plan) waiting(cmp Comparator) []*reservation {
	var out []*reservation
	for _, r := range p.res {
		if !r.running {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].start != out[j].start {
			return out[i].start < out[j].start
		}
		return cmp.Less(out[i].job, out[j].job)
	})
	return out
}

// minFree is the lowest free count over the whole plan.
func (p *plan) minFree() int {
	lowest := p.numNodes
	for _, r := range p.res {
		lowest = min(lowest, p.freeAt(r.start))
	}
	return lowest
}

// compress moves every waiting job, in planned order, to the earliest slot
// the rest of the plan allows. No job ends up later than before.
func (p *plan) compress(now int64, cmp Comparator) {
	for _, r := range p.waiting(cmp) {
		old := r.start
		p.remove(r.job)
		t := p.findTime(r.job, now)
		if t > old {
			t = old
		}
		p.place(r.job, t)
	}
}

// Changes lists the plan as start/end changes ordered by time; at equal
// times ends come first, then by job number.
func (p *plan) Changes() []Change {
	var out []Change
	for num, r := range p.res {
		if !r.running {
			out = append(out, Change{Time: r.start, JobNum: num})
		}
		out = append(out, Change{Time: r.end, JobNum: num, IsEnd: true})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Time != b.Time {
			return a.Time < b.Time
		}
		if a.IsEnd != b.IsEnd {
			return a.IsEnd
		}
		return a.JobNum < b.JobNum
	})
	return out
}

func (p *plan) dump() string {
	return spew.Sdump(p.Changes())
}
