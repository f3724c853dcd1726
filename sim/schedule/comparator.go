// Package schedule implements the scheduler family: a plain priority queue,
// EASY backfilling and the stateful (conservative) backfilling schedulers.
package schedule

import (
	"fmt"
	"sort"

	"github.com/hpc-schedsim/schedsim/sim"
)

// Comparator orders waiting jobs; Less(a, b) means a runs before b.
// Every comparator falls back to FIFO order so the order is total.
type Comparator interface {
	Name() string
	Less(a, b *sim.Job) bool
}

type keyFunc func(a, b *sim.Job) int

type comparator struct {
	name string
	key  keyFunc
}

func (c comparator) Name() string { return c.name }

func (c comparator) Less(a, b *sim.Job) bool {
	if k := c.key(a, b); k != 0 {
		return k < 0
	}
	return fifoLess(a, b)
}

func fifoLess(a, b *sim.Job) bool {
	if a.ArrivalTime != b.ArrivalTime {
		return a.ArrivalTime < b.ArrivalTime
	}
	return a.JobNum < b.JobNum
}

func cmp64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// validComparatorNames maps comparator names to validity. Unexported to prevent mutation.
var validComparatorNames = map[string]bool{
	"fifo":      true,
	"largest":   true,
	"smallest":  true,
	"longest":   true,
	"shortest":  true,
	"betterfit": true,
}

// IsValidComparator returns true if name is a recognized comparator.
func IsValidComparator(name string) bool { return validComparatorNames[name] }

// ValidComparatorNames returns sorted valid comparator names.
func ValidComparatorNames() []string {
	out := make([]string, 0, len(validComparatorNames))
	for n := range validComparatorNames {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// NewComparator creates a Comparator by name.
// Valid names: "fifo", "largest", "smallest", "longest", "shortest", "betterfit".
// Panics on unrecognized names.
func NewComparator(name string) Comparator {
	if !IsValidComparator(name) {
		panic(fmt.Sprintf("unknown comparator %q", name))
	}
	switch name {
	case "fifo":
		return comparator{name, func(*sim.Job, *sim.Job) int { return 0 }}
	case "largest":
		return comparator{name, func(a, b *sim.Job) int { return cmp64(int64(b.ProcsNeeded), int64(a.ProcsNeeded)) }}
	case "smallest":
		return comparator{name, func(a, b *sim.Job) int { return cmp64(int64(a.ProcsNeeded), int64(b.ProcsNeeded)) }}
	case "longest":
		return comparator{name, func(a, b *sim.Job) int { return cmp64(b.EstimatedRunningTime, a.EstimatedRunningTime) }}
	case "shortest":
		return comparator{name, func(a, b *sim.Job) int { return cmp64(a.EstimatedRunningTime, b.EstimatedRunningTime) }}
	case "betterfit":
		// wider jobs first, then the shorter of equally wide ones
		return comparator{name, func(a, b *sim.Job) int {
			if k := cmp64(int64(b.ProcsNeeded), int64(a.ProcsNeeded)); k != 0 {
				return k
			}
			return cmp64(a.EstimatedRunningTime, b.EstimatedRunningTime)
		}}
	default:
		panic(fmt.Sprintf("unhandled comparator %q", name))
	}
}

// JobQueue is a waiting list kept sorted by a Comparator.
type JobQueue struct {
	cmp  Comparator
	jobs []*sim.Job
}

// NewJobQueue creates an empty queue ordered by cmp.
func NewJobQueue(cmp Comparator) *JobQueue {
	return &JobQueue{cmp: cmp}
}

// Push inserts j at its sorted position.
func (q *JobQueue) Push(j *sim.Job) {
	i := sort.Search(len(q.jobs), func(i int) bool { return q.cmp.Less(j, q.jobs[i]) })
	q.jobs = append(q.jobs, nil)
	copy(q.jobs[i+1:], q.jobs[i:])
	q.jobs[i] = j
}

// Len returns the number of waiting jobs.
func (q *JobQueue) Len() int { return len(q.jobs) }

// Peek returns the highest-priority job without removing it, or nil.
func (q *JobQueue) Peek() *sim.Job {
	if len(q.jobs) == 0 {
		return nil
	}
	return q.jobs[0]
}

// Remove deletes j. Panics when j is not queued.
func (q *JobQueue) Remove(j *sim.Job) {
	for i, x := range q.jobs {
		if x == j {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			return
		}
	}
	panic(fmt.Sprintf("JobQueue: job %d is not waiting", j.JobNum))
}

// Items returns the queue contents in priority order.
// The returned slice is internal storage and MUST NOT be modified.
func (q *JobQueue) Items() []*sim.Job { return q.jobs }

// Clear empties the queue.
func (q *JobQueue) Clear() { q.jobs = nil }

func (q *JobQueue) String() string {
	nums := make([]int64, len(q.jobs))
	for i, j := range q.jobs {
		nums[i] = j.JobNum
	}
	return fmt.Sprint(nums)
}
