// Package alloc implements the allocator family: given a job and the machine's
// free-node state, choose ceil(procs/coresPerNode) distinct free nodes.
package alloc

import (
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/hpc-schedsim/schedsim/sim"
)

// SimpleAllocator picks the lowest-numbered free nodes; no locality preference.
type SimpleAllocator struct {
	machine sim.Machine
}

// NewSimpleAllocator creates a SimpleAllocator over m.
func NewSimpleAllocator(m sim.Machine) *SimpleAllocator {
	return &SimpleAllocator{machine: m}
}

func (a *SimpleAllocator) Name() string { return "simple" }

func (a *SimpleAllocator) CanAllocate(job *sim.Job) bool { return sim.CanAllocate(a.machine, job) }

func (a *SimpleAllocator) Allocate(job *sim.Job) *sim.AllocInfo {
	if !a.CanAllocate(job) {
		return nil
	}
	ai := sim.NewAllocInfo(job, a.machine.CoresPerNode())
	copy(ai.Nodes, a.machine.FreeNodes())
	return ai
}

func (a *SimpleAllocator) Deallocate(*sim.AllocInfo) {}

func (a *SimpleAllocator) Done() {}

func (a *SimpleAllocator) Clone(m sim.Machine) sim.Allocator { return NewSimpleAllocator(m) }

// RandomAllocator samples free nodes uniformly from a dedicated RNG stream.
type RandomAllocator struct {
	machine sim.Machine
	rng     *rand.Rand
}

// NewRandomAllocator creates a RandomAllocator drawing from rng.
func NewRandomAllocator(m sim.Machine, rng *rand.Rand) *RandomAllocator {
	return &RandomAllocator{machine: m, rng: rng}
}

func (a *RandomAllocator) Name() string { return "random" }

func (a *RandomAllocator) CanAllocate(job *sim.Job) bool { return sim.CanAllocate(a.machine, job) }

func (a *RandomAllocator) Allocate(job *sim.Job) *sim.AllocInfo {
	if !a.CanAllocate(job) {
		return nil
	}
	ai := sim.NewAllocInfo(job, a.machine.CoresPerNode())
	free := a.machine.FreeNodes()
	a.rng.Shuffle(len(free), func(i, j int) { free[i], free[j] = free[j], free[i] })
	copy(ai.Nodes, free)
	logrus.Debugf("random allocator: job %d -> %v", job.JobNum, ai.Nodes)
	return ai
}

func (a *RandomAllocator) Deallocate(*sim.AllocInfo) {}

func (a *RandomAllocator) Done() {}

// Clone keeps drawing from a private copy of the stream so the live run is unaffected.
func (a *RandomAllocator) Clone(m sim.Machine) sim.Allocator {
	return NewRandomAllocator(m, rand.New(rand.NewSource(a.rng.Int63())))
}
