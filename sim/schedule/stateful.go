package schedule

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hpc-schedsim/schedsim/sim"
)

// StatefulScheduler keeps a full plan: every waiting job holds a reservation
// at the earliest time it fits without moving anyone else. A Manager decides
// how the plan reacts to early finishes and which reservation starts next.
//
// When the plan drains, every node must be free again; anything else panics
// with the plan dump.
type StatefulScheduler struct {
	cmp      Comparator
	manager  Manager
	numNodes int
	cores    int

	plan      *plan
	freeNodes int
	next      *sim.Job
}

// NewStatefulScheduler creates a stateful scheduler for a machine of numNodes
// nodes with coresPerNode cores each.
func NewStatefulScheduler(numNodes, coresPerNode int, cmp Comparator, mgr Manager) *StatefulScheduler {
	if numNodes <= 0 || coresPerNode <= 0 {
		panic(fmt.Sprintf("StatefulScheduler: machine shape %d nodes x %d cores must be positive", numNodes, coresPerNode))
	}
	return &StatefulScheduler{
		cmp:       cmp,
		manager:   mgr,
		numNodes:  numNodes,
		cores:     coresPerNode,
		plan:      newPlan(numNodes, coresPerNode),
		freeNodes: numNodes,
	}
}

func (s *StatefulScheduler) Name() string {
	return "stateful[" + s.manager.Name() + "," + s.cmp.Name() + "]"
}

// PlannedStart returns the reserved start of a job, or ok=false.
func (s *StatefulScheduler) PlannedStart(job *sim.Job) (int64, bool) {
	r, ok := s.plan.res[job.JobNum]
	if !ok {
		return 0, false
	}
	return r.start, true
}

// PrintPlan renders the plan as its ordered start/end changes.
func (s *StatefulScheduler) PrintPlan() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %d of %d nodes free\n", s.Name(), s.freeNodes, s.numNodes)
	sb.WriteString(s.plan.dump())
	return sb.String()
}

func (s *StatefulScheduler) JobArrives(job *sim.Job, time int64, _ sim.Machine) {
	s.manager.arrival(s, job, time)
	if r, ok := s.plan.res[job.JobNum]; ok {
		logrus.Debugf("[t=%d] %s: job %d reserved at %d", time, s.manager.Name(), job.JobNum, r.start)
	}
}

func (s *StatefulScheduler) TryToStart(time int64, m sim.Machine) *sim.Job {
	s.next = s.manager.tryToStart(s, time)
	if s.next != nil && !sim.CanAllocate(m, s.next) {
		panic(fmt.Sprintf("StatefulScheduler: job %d reserved for %d but only %d nodes are free\n%s",
			s.next.JobNum, time, m.NumFreeNodes(), s.PrintPlan()))
	}
	return s.next
}

func (s *StatefulScheduler) StartNext(time int64, _ sim.Machine) {
	j := s.next
	if j == nil {
		panic(fmt.Sprintf("StatefulScheduler: StartNext at %d without a job from TryToStart", time))
	}
	s.next = nil
	s.plan.start(j, time)
	s.freeNodes -= j.NodesNeeded(s.cores)
	if s.freeNodes < 0 {
		panic(fmt.Sprintf("StatefulScheduler: free nodes went negative (%d) starting job %d at %d\n%s",
			s.freeNodes, j.JobNum, time, s.PrintPlan()))
	}
	s.manager.start(s, j, time)
}

func (s *StatefulScheduler) JobFinishes(job *sim.Job, time int64, _ sim.Machine) {
	early := s.plan.finish(job, time)
	s.freeNodes += job.NodesNeeded(s.cores)
	if early {
		s.manager.earlyFinish(s, job, time)
	} else {
		s.manager.onTimeFinish(s, job, time)
	}
	if s.plan.empty() && s.freeNodes != s.numNodes {
		panic(fmt.Sprintf("StatefulScheduler: plan drained at %d with %d of %d nodes free\n%s",
			time, s.freeNodes, s.numNodes, s.PrintPlan()))
	}
}

// NextStartTime is the earliest reservation strictly after now. Managers that
// leave gaps after early finishes rely on it to be woken at that time.
func (s *StatefulScheduler) NextStartTime(now int64) (int64, bool) {
	var best int64
	found := false
	for _, r := range s.plan.waiting(s.cmp) {
		if r.start > now && (!found || r.start < best) {
			best, found = r.start, true
		}
	}
	return best, found
}

// startableNow returns the first waiting reservation due at or before now.
func (s *StatefulScheduler) startableNow(p *plan, time int64) *sim.Job {
	for _, r := range p.waiting(s.cmp) {
		if r.start > time {
			break
		}
		return r.job
	}
	return nil
}

func (s *StatefulScheduler) Reset() {
	s.plan = newPlan(s.numNodes, s.cores)
	s.freeNodes = s.numNodes
	s.next = nil
	s.manager = s.manager.reset()
}

func (s *StatefulScheduler) Done() {
	if !s.plan.empty() {
		logrus.Warnf("%s: %d reservations left at end of run", s.Name(), len(s.plan.res))
	}
}

// Copy deep-copies the plan and manager state, binding the reservations to
// the given job copies by job number.
func (s *StatefulScheduler) Copy(running, toRun []*sim.Job) sim.Scheduler {
	remap := make(map[int64]*sim.Job, len(running)+len(toRun))
	for _, j := range running {
		remap[j.JobNum] = j
	}
	for _, j := range toRun {
		remap[j.JobNum] = j
	}
	return &StatefulScheduler{
		cmp:       s.cmp,
		manager:   s.manager.copy(remap),
		numNodes:  s.numNodes,
		cores:     s.cores,
		plan:      s.plan.clone(remap),
		freeNodes: s.freeNodes,
	}
}

// Manager is the policy half of the stateful scheduler.
type Manager interface {
	Name() string
	arrival(s *StatefulScheduler, job *sim.Job, time int64)
	start(s *StatefulScheduler, job *sim.Job, time int64)
	earlyFinish(s *StatefulScheduler, job *sim.Job, time int64)
	onTimeFinish(s *StatefulScheduler, job *sim.Job, time int64)
	tryToStart(s *StatefulScheduler, time int64) *sim.Job
	copy(remap map[int64]*sim.Job) Manager
	reset() Manager
}

// Conservative recompresses the whole plan after every early finish, so no
// reservation ever gets later.
type Conservative struct{}

func (Conservative) Name() string { return "conservative" }

func (Conservative) arrival(s *StatefulScheduler, job *sim.Job, time int64) { s.plan.add(job, time) }
func (Conservative) start(*StatefulScheduler, *sim.Job, int64)              {}
func (Conservative) earlyFinish(s *StatefulScheduler, _ *sim.Job, time int64) {
	s.plan.compress(time, s.cmp)
}
func (Conservative) onTimeFinish(*StatefulScheduler, *sim.Job, int64) {}
func (Conservative) tryToStart(s *StatefulScheduler, time int64) *sim.Job {
	return s.startableNow(s.plan, time)
}
func (c Conservative) copy(map[int64]*sim.Job) Manager { return c }
func (c Conservative) reset() Manager                  { return c }

// PrioritizeCompression first gives the gap an early finish opens to jobs
// that can start right away, for up to FillTimes rounds, then compresses.
type PrioritizeCompression struct {
	FillTimes int
}

func (p PrioritizeCompression) Name() string { return fmt.Sprintf("prioritize:%d", p.FillTimes) }

func (PrioritizeCompression) arrival(s *StatefulScheduler, job *sim.Job, time int64) {
	s.plan.add(job, time)
}
func (PrioritizeCompression) start(*StatefulScheduler, *sim.Job, int64) {}
func (p PrioritizeCompression) earlyFinish(s *StatefulScheduler, _ *sim.Job, time int64) {
	for round := 0; round < p.FillTimes; round++ {
		if pullForward(s.plan, s.cmp, time) == 0 {
			break
		}
	}
	s.plan.compress(time, s.cmp)
}
func (PrioritizeCompression) onTimeFinish(*StatefulScheduler, *sim.Job, int64) {}
func (PrioritizeCompression) tryToStart(s *StatefulScheduler, time int64) *sim.Job {
	return s.startableNow(s.plan, time)
}
func (p PrioritizeCompression) copy(map[int64]*sim.Job) Manager { return p }
func (p PrioritizeCompression) reset() Manager                  { return p }

// pullForward moves every waiting job that fits right now to now, keeping
// the others where they are. It returns how many moved.
func pullForward(p *plan, cmp Comparator, now int64) int {
	moved := 0
	for _, r := range p.waiting(cmp) {
		if r.start <= now {
			continue
		}
		old := r.start
		p.remove(r.job)
		if p.fits(p.need(r.job), now, r.job.EstimatedRunningTime) {
			p.place(r.job, now)
			moved++
		} else {
			p.place(r.job, old)
		}
	}
	return moved
}

// DelayedCompression does not compress on an early finish. The backlog is
// compressed at the next arrival, before the new job gets its slot, and
// jobs are pulled into the gap opportunistically whenever the scheduler is
// asked for work.
type DelayedCompression struct {
	backlog bool
}

func (*DelayedCompression) Name() string { return "delayed" }

func (d *DelayedCompression) arrival(s *StatefulScheduler, job *sim.Job, time int64) {
	if d.backlog {
		s.plan.compress(time, s.cmp)
		d.backlog = false
	}
	s.plan.add(job, time)
}
func (*DelayedCompression) start(*StatefulScheduler, *sim.Job, int64) {}
func (d *DelayedCompression) earlyFinish(*StatefulScheduler, *sim.Job, int64) {
	d.backlog = true
}
func (*DelayedCompression) onTimeFinish(*StatefulScheduler, *sim.Job, int64) {}
func (d *DelayedCompression) tryToStart(s *StatefulScheduler, time int64) *sim.Job {
	if d.backlog {
		pullForward(s.plan, s.cmp, time)
	}
	return s.startableNow(s.plan, time)
}
func (d *DelayedCompression) copy(map[int64]*sim.Job) Manager {
	return &DelayedCompression{backlog: d.backlog}
}
func (*DelayedCompression) reset() Manager { return &DelayedCompression{} }

// EvenLessConservative keeps the conservative plan as the guarantee and a
// second, optimistic plan rebuilt in priority order. A job the optimistic plan
// wants to start now is tried on a copy of the guarantee; the copy is
// discarded if it ever overcommits the machine.
type EvenLessConservative struct {
	est *plan
}

func (*EvenLessConservative) Name() string { return "evenless" }

// rebuild lays the waiting jobs out again in comparator order, on top of the
// running ones.
func (e *EvenLessConservative) rebuild(s *StatefulScheduler, time int64) {
	est := newPlan(s.numNodes, s.cores)
	var waiting []*sim.Job
	for _, r := range s.plan.res {
		if r.running {
			nr := *r
			est.res[r.job.JobNum] = &nr
		} else {
			waiting = append(waiting, r.job)
		}
	}
	q := NewJobQueue(s.cmp)
	for _, j := range waiting {
		q.Push(j)
	}
	for _, j := range q.Items() {
		est.add(j, time)
	}
	e.est = est
}

func (e *EvenLessConservative) arrival(s *StatefulScheduler, job *sim.Job, time int64) {
	s.plan.add(job, time)
	e.rebuild(s, time)
}
func (e *EvenLessConservative) start(s *StatefulScheduler, _ *sim.Job, time int64) {
	e.rebuild(s, time)
}
func (e *EvenLessConservative) earlyFinish(s *StatefulScheduler, _ *sim.Job, time int64) {
	s.plan.compress(time, s.cmp)
	e.rebuild(s, time)
}
func (e *EvenLessConservative) onTimeFinish(s *StatefulScheduler, _ *sim.Job, time int64) {
	e.rebuild(s, time)
}

func (e *EvenLessConservative) tryToStart(s *StatefulScheduler, time int64) *sim.Job {
	if j := s.startableNow(s.plan, time); j != nil {
		return j
	}
	if e.est == nil {
		return nil
	}
	for _, r := range e.est.waiting(s.cmp) {
		if r.start > time {
			break
		}
		trial := s.plan.clone(nil)
		trial.remove(r.job)
		trial.place(r.job, time)
		if trial.minFree() < 0 {
			logrus.Debugf("[t=%d] evenless: job %d would break the guarantee, rolled back", time, r.job.JobNum)
			continue
		}
		s.plan = trial
		return trial.get(r.job).job
	}
	return nil
}

func (e *EvenLessConservative) copy(remap map[int64]*sim.Job) Manager {
	if e.est == nil {
		return &EvenLessConservative{}
	}
	return &EvenLessConservative{est: e.est.clone(remap)}
}
func (*EvenLessConservative) reset() Manager { return &EvenLessConservative{} }

// NewManager parses "conservative", "prioritize:N", "delayed" or "evenless".
func NewManager(spec string) (Manager, error) {
	switch {
	case spec == "conservative":
		return Conservative{}, nil
	case spec == "delayed":
		return &DelayedCompression{}, nil
	case spec == "evenless":
		return &EvenLessConservative{}, nil
	case strings.HasPrefix(spec, "prioritize"):
		n := 1
		if rest := strings.TrimPrefix(spec, "prioritize"); rest != "" {
			if _, err := fmt.Sscanf(rest, ":%d", &n); err != nil || n < 0 {
				return nil, errors.Errorf("bad prioritize fill count in %q", spec)
			}
		}
		return PrioritizeCompression{FillTimes: n}, nil
	default:
		return nil, errors.Errorf("unknown stateful manager %q", spec)
	}
}
