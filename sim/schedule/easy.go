package schedule

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/hpc-schedsim/schedsim/sim"
)

// EASYScheduler is aggressive backfilling: only the head job holds a
// reservation (its guaranteed start), and any other job may start early if
// it provably does not delay that reservation.
//
// Once computed, the guarantee for an unchanged head job may only stay put or
// move earlier; moving it later is a scheduler bug and panics.
type EASYScheduler struct {
	cmp     Comparator
	toRun   *JobQueue
	running []*sim.Job // by estimated finish, then job number

	guaranteedStart int64
	lastGuarantee   int64
	prevFirstJobNum int64
	dirty           bool
	next            *sim.Job
}

// NewEASYScheduler creates an EASY backfilling scheduler.
func NewEASYScheduler(cmp Comparator) *EASYScheduler {
	return &EASYScheduler{cmp: cmp, toRun: NewJobQueue(cmp)}
}

func (s *EASYScheduler) Name() string { return "easy[" + s.cmp.Name() + "]" }

// Guarantee returns the head job number and its guaranteed start, or ok=false
// when nothing is waiting.
func (s *EASYScheduler) Guarantee() (jobNum, start int64, ok bool) {
	if s.toRun.Len() == 0 || s.prevFirstJobNum == 0 {
		return 0, 0, false
	}
	return s.prevFirstJobNum, s.guaranteedStart, true
}

func (s *EASYScheduler) insertRunning(j *sim.Job) {
	i := sort.Search(len(s.running), func(i int) bool {
		r := s.running[i]
		if r.EstimatedFinish() != j.EstimatedFinish() {
			return r.EstimatedFinish() > j.EstimatedFinish()
		}
		return r.JobNum > j.JobNum
	})
	s.running = append(s.running, nil)
	copy(s.running[i+1:], s.running[i:])
	s.running[i] = j
}

// giveGuarantee walks running jobs by estimated finish until enough nodes
// would be free for the head job.
func (s *EASYScheduler) giveGuarantee(time int64, m sim.Machine) {
	head := s.toRun.Peek()
	if head == nil {
		s.prevFirstJobNum = 0
		return
	}
	cores := m.CoresPerNode()
	need := head.NodesNeeded(cores)
	free := m.NumFreeNodes()
	start := time
	if free < need {
		found := false
		for _, r := range s.running {
			free += r.NodesNeeded(cores)
			if free >= need {
				start = max(time, r.EstimatedFinish())
				found = true
				break
			}
		}
		if !found {
			panic(fmt.Sprintf("EASYScheduler: job %d needs %d nodes, machine can free at most %d (t=%d)",
				head.JobNum, need, free, time))
		}
	}
	if head.JobNum == s.prevFirstJobNum && start > s.lastGuarantee {
		panic(fmt.Sprintf("EASYScheduler: guarantee for job %d moved later from %d to %d at t=%d",
			head.JobNum, s.lastGuarantee, start, time))
	}
	if head.JobNum != s.prevFirstJobNum || start != s.lastGuarantee {
		logrus.Debugf("[t=%d] easy: job %d guaranteed to start by %d", time, head.JobNum, start)
	}
	s.guaranteedStart = start
	s.lastGuarantee = start
	s.prevFirstJobNum = head.JobNum
}

func (s *EASYScheduler) JobArrives(job *sim.Job, time int64, m sim.Machine) {
	s.toRun.Push(job)
	s.giveGuarantee(time, m)
}

// JobFinishes drops the job from the running list. The machine still counts
// its nodes as busy at this point, so the guarantee is recomputed at the next
// TryToStart.
func (s *EASYScheduler) JobFinishes(job *sim.Job, time int64, _ sim.Machine) {
	for i, r := range s.running {
		if r == job {
			s.running = append(s.running[:i], s.running[i+1:]...)
			s.dirty = true
			return
		}
	}
	panic(fmt.Sprintf("EASYScheduler: job %d finished at %d but is not running", job.JobNum, time))
}

// doesntDisturbFirst reports whether starting job now keeps the head's guarantee:
// either it ends by the guarantee, or it fits in the nodes the head leaves spare.
func (s *EASYScheduler) doesntDisturbFirst(job *sim.Job, time int64, m sim.Machine) bool {
	if time+job.EstimatedRunningTime <= s.guaranteedStart {
		return true
	}
	cores := m.CoresPerNode()
	free := m.NumFreeNodes()
	for _, r := range s.running {
		if r.EstimatedFinish() > s.guaranteedStart {
			break
		}
		free += r.NodesNeeded(cores)
	}
	extra := free - s.toRun.Peek().NodesNeeded(cores)
	return job.NodesNeeded(cores) <= extra
}

func (s *EASYScheduler) TryToStart(time int64, m sim.Machine) *sim.Job {
	if s.dirty {
		s.giveGuarantee(time, m)
		s.dirty = false
	}
	s.next = nil
	head := s.toRun.Peek()
	if head == nil {
		return nil
	}
	if sim.CanAllocate(m, head) {
		s.next = head
		return head
	}
	if time > s.guaranteedStart {
		panic(fmt.Sprintf("EASYScheduler: job %d guaranteed to start at %d still cannot start at %d (%d nodes free)",
			head.JobNum, s.guaranteedStart, time, m.NumFreeNodes()))
	}
	for _, j := range s.toRun.Items()[1:] {
		if sim.CanAllocate(m, j) && s.doesntDisturbFirst(j, time, m) {
			logrus.Debugf("[t=%d] easy: backfilling job %d ahead of job %d", time, j.JobNum, head.JobNum)
			s.next = j
			return j
		}
	}
	return nil
}

func (s *EASYScheduler) StartNext(time int64, m sim.Machine) {
	j := s.next
	if j == nil {
		panic(fmt.Sprintf("EASYScheduler: StartNext at %d without a job from TryToStart", time))
	}
	s.next = nil
	wasHead := j == s.toRun.Peek()
	s.toRun.Remove(j)
	s.insertRunning(j)
	if wasHead {
		s.giveGuarantee(time, m)
	}
}

func (s *EASYScheduler) Reset() {
	s.toRun.Clear()
	s.running = nil
	s.guaranteedStart, s.lastGuarantee, s.prevFirstJobNum = 0, 0, 0
	s.dirty = false
	s.next = nil
}

func (s *EASYScheduler) Done() {}

// Copy rebuilds the queues from the given jobs and keeps the current
// guarantee; it is recomputed lazily against the copy's machine.
func (s *EASYScheduler) Copy(running, toRun []*sim.Job) sim.Scheduler {
	cp := NewEASYScheduler(s.cmp)
	for _, j := range running {
		cp.insertRunning(j)
	}
	for _, j := range toRun {
		cp.toRun.Push(j)
	}
	cp.guaranteedStart = s.guaranteedStart
	cp.lastGuarantee = s.lastGuarantee
	cp.prevFirstJobNum = s.prevFirstJobNum
	cp.dirty = true
	return cp
}
