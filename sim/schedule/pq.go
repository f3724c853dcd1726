package schedule

import (
	"fmt"

	"github.com/hpc-schedsim/schedsim/sim"
)

// PQScheduler starts jobs strictly in comparator order. When the head job
// does not fit nothing starts, even if a smaller job behind it would.
type PQScheduler struct {
	cmp   Comparator
	queue *JobQueue
}

// NewPQScheduler creates a priority-queue scheduler.
func NewPQScheduler(cmp Comparator) *PQScheduler {
	return &PQScheduler{cmp: cmp, queue: NewJobQueue(cmp)}
}

func (s *PQScheduler) Name() string { return "pq[" + s.cmp.Name() + "]" }

func (s *PQScheduler) JobArrives(job *sim.Job, _ int64, _ sim.Machine) { s.queue.Push(job) }

func (s *PQScheduler) JobFinishes(*sim.Job, int64, sim.Machine) {}

func (s *PQScheduler) TryToStart(_ int64, m sim.Machine) *sim.Job {
	head := s.queue.Peek()
	if head == nil || !sim.CanAllocate(m, head) {
		return nil
	}
	return head
}

func (s *PQScheduler) StartNext(time int64, _ sim.Machine) {
	head := s.queue.Peek()
	if head == nil {
		panic(fmt.Sprintf("PQScheduler: StartNext at %d with an empty queue", time))
	}
	s.queue.Remove(head)
}

func (s *PQScheduler) Reset() { s.queue.Clear() }

func (s *PQScheduler) Done() {}

func (s *PQScheduler) Copy(_ []*sim.Job, toRun []*sim.Job) sim.Scheduler {
	cp := NewPQScheduler(s.cmp)
	for _, j := range toRun {
		cp.queue.Push(j)
	}
	return cp
}

// Waiting returns the queued jobs in priority order.
func (s *PQScheduler) Waiting() []*sim.Job { return append([]*sim.Job(nil), s.queue.Items()...) }
