// Package taskmap assigns each task of an allocated job to one of its nodes.
package taskmap

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/hpc-schedsim/schedsim/sim"
)

// SimpleTaskMapper packs tasks onto the allocated nodes in index order,
// coresPerNode tasks per node.
type SimpleTaskMapper struct {
	machine sim.Machine
}

func NewSimpleTaskMapper(m sim.Machine) *SimpleTaskMapper { return &SimpleTaskMapper{machine: m} }

func (s *SimpleTaskMapper) Name() string { return "simple" }

func (s *SimpleTaskMapper) MapTasks(ai *sim.AllocInfo) *sim.TaskMapInfo {
	return packTasks(ai, s.machine, nil)
}

func (s *SimpleTaskMapper) Clone(m sim.Machine) sim.TaskMapper { return NewSimpleTaskMapper(m) }

// packTasks assigns tasks in the given order (identity when order is nil)
// to consecutive node slots.
func packTasks(ai *sim.AllocInfo, m sim.Machine, order []int) *sim.TaskMapInfo {
	tmi := sim.NewTaskMapInfo(ai, m)
	cores := m.CoresPerNode()
	for slot := 0; slot < ai.Job.ProcsNeeded; slot++ {
		task := slot
		if order != nil {
			task = order[slot]
		}
		tmi.Insert(task, ai.Nodes[slot/cores])
	}
	return tmi
}

// RandomTaskMapper packs a shuffled task order.
type RandomTaskMapper struct {
	machine sim.Machine
	rng     *rand.Rand
}

func NewRandomTaskMapper(m sim.Machine, rng *rand.Rand) *RandomTaskMapper {
	return &RandomTaskMapper{machine: m, rng: rng}
}

func (r *RandomTaskMapper) Name() string { return "random" }

func (r *RandomTaskMapper) MapTasks(ai *sim.AllocInfo) *sim.TaskMapInfo {
	return packTasks(ai, r.machine, r.rng.Perm(ai.Job.ProcsNeeded))
}

func (r *RandomTaskMapper) Clone(m sim.Machine) sim.TaskMapper {
	return NewRandomTaskMapper(m, rand.New(rand.NewSource(r.rng.Int63())))
}

// AllocMapper decides allocation and mapping together. Allocate runs the
// wrapped allocator and computes a communication-aware mapping right away;
// the following MapTasks call for the same job returns the cached result.
type AllocMapper struct {
	inner   sim.Allocator
	machine sim.Machine
	cache   map[int64]*sim.TaskMapInfo
}

// NewAllocMapper wraps inner.
func NewAllocMapper(m sim.Machine, inner sim.Allocator) *AllocMapper {
	return &AllocMapper{inner: inner, machine: m, cache: make(map[int64]*sim.TaskMapInfo)}
}

func (a *AllocMapper) Name() string { return "allocmap[" + a.inner.Name() + "]" }

func (a *AllocMapper) CanAllocate(job *sim.Job) bool { return a.inner.CanAllocate(job) }

func (a *AllocMapper) Allocate(job *sim.Job) *sim.AllocInfo {
	ai := a.inner.Allocate(job)
	if ai == nil {
		return nil
	}
	a.cache[job.JobNum] = a.greedyMap(ai)
	return ai
}

func (a *AllocMapper) Deallocate(ai *sim.AllocInfo) {
	delete(a.cache, ai.Job.JobNum)
	a.inner.Deallocate(ai)
}

func (a *AllocMapper) Done() { a.inner.Done() }

// MapTasks returns the mapping decided during Allocate. Jobs allocated
// elsewhere are packed in index order.
func (a *AllocMapper) MapTasks(ai *sim.AllocInfo) *sim.TaskMapInfo {
	if tmi, ok := a.cache[ai.Job.JobNum]; ok {
		delete(a.cache, ai.Job.JobNum)
		if tmi.AllocInfo != ai {
			panic(fmt.Sprintf("allocmap: job %d mapped with an allocation it was not given", ai.Job.JobNum))
		}
		return tmi
	}
	logrus.Debugf("allocmap: job %d has no cached mapping, packing in order", ai.Job.JobNum)
	return packTasks(ai, a.machine, nil)
}

// greedyMap places tasks breadth-first from the center task, putting each
// task on the node with spare cores that minimizes its weighted distance to
// already-placed neighbors.
func (a *AllocMapper) greedyMap(ai *sim.AllocInfo) *sim.TaskMapInfo {
	job := ai.Job
	comm := job.CommInfo
	if comm == nil || comm.NumTasks != job.ProcsNeeded {
		return packTasks(ai, a.machine, nil)
	}
	tmi := sim.NewTaskMapInfo(ai, a.machine)
	cores := a.machine.CoresPerNode()
	spare := make(map[int]int, len(ai.Nodes))
	for _, n := range ai.Nodes {
		spare[n] = cores
	}
	nodes := append([]int(nil), ai.Nodes...)
	sort.Ints(nodes)

	start := job.CenterTask
	if start < 0 || start >= comm.NumTasks {
		start = 0
	}
	placed := make([]bool, comm.NumTasks)
	place := func(task int) {
		best, bestCost := -1, 0.0
		for _, n := range nodes {
			if spare[n] == 0 {
				continue
			}
			cost := 0.0
			for _, nb := range comm.Neighbors(task) {
				if placed[nb] {
					cost += comm.Weight(task, nb) * float64(a.machine.NodeDistance(n, tmi.TaskToNode[nb]))
				}
			}
			if best < 0 || cost < bestCost {
				best, bestCost = n, cost
			}
		}
		tmi.Insert(task, best)
		spare[best]--
		placed[task] = true
	}

	for _, root := range append([]int{start}, seq(comm.NumTasks)...) {
		if placed[root] {
			continue
		}
		queue := []int{root}
		queued := map[int]bool{root: true}
		for len(queue) > 0 {
			task := queue[0]
			queue = queue[1:]
			place(task)
			for _, nb := range comm.Neighbors(task) {
				if !placed[nb] && !queued[nb] {
					queued[nb] = true
					queue = append(queue, nb)
				}
			}
		}
	}
	return tmi
}

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// Clone copies the wrapped allocator; pending cached mappings are not carried over.
func (a *AllocMapper) Clone(m sim.Machine) *AllocMapper {
	return NewAllocMapper(m, a.inner.Clone(m))
}

// AsAllocator and AsMapper expose the two roles for callers holding the
// interfaces separately; both views share the cache.
func (a *AllocMapper) AsAllocator() sim.MappingAllocator { return allocView{a} }
func (a *AllocMapper) AsMapper() sim.TaskMapper          { return mapView{a} }

type allocView struct{ *AllocMapper }

func (v allocView) Clone(m sim.Machine) sim.Allocator { return v.AllocMapper.Clone(m).AsAllocator() }
func (v allocView) Mapper() sim.TaskMapper            { return mapView(v) }

type mapView struct{ *AllocMapper }

func (v mapView) Clone(m sim.Machine) sim.TaskMapper { return v.AllocMapper.Clone(m).AsMapper() }
