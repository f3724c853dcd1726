package alloc

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/hpc-schedsim/schedsim/sim"
)

// Constraint names the two suspicious components a run is trying to tell apart.
type Constraint struct {
	U, V string
}

// ConstraintAllocator places jobs so a failure implicates at most one of the
// two suspects: it prefers nodes depending on only one suspect plus nodes
// depending on neither. It is a diagnostic allocator, not a performance one.
type ConstraintAllocator struct {
	machine    sim.Machine
	deps       map[int]map[string]bool
	constraint Constraint
}

// NewConstraintAllocator takes a node -> dependency-name graph and the suspects.
func NewConstraintAllocator(m sim.Machine, deps map[int][]string, c Constraint) *ConstraintAllocator {
	d := make(map[int]map[string]bool, len(deps))
	for node, names := range deps {
		set := make(map[string]bool, len(names))
		for _, n := range names {
			set[n] = true
		}
		d[node] = set
	}
	return &ConstraintAllocator{machine: m, deps: d, constraint: c}
}

func (a *ConstraintAllocator) Name() string { return "constraint" }

func (a *ConstraintAllocator) CanAllocate(job *sim.Job) bool { return sim.CanAllocate(a.machine, job) }

// pools splits the free nodes by which suspects they depend on.
func (a *ConstraintAllocator) pools() (onlyU, onlyV, both, neither []int) {
	for _, n := range a.machine.FreeNodes() {
		u := a.deps[n][a.constraint.U]
		v := a.deps[n][a.constraint.V]
		switch {
		case u && v:
			both = append(both, n)
		case u:
			onlyU = append(onlyU, n)
		case v:
			onlyV = append(onlyV, n)
		default:
			neither = append(neither, n)
		}
	}
	return
}

func (a *ConstraintAllocator) Allocate(job *sim.Job) *sim.AllocInfo {
	if !a.CanAllocate(job) {
		return nil
	}
	ai := sim.NewAllocInfo(job, a.machine.CoresPerNode())
	need := len(ai.Nodes)
	onlyU, onlyV, _, neither := a.pools()

	candidates := [][]int{}
	if len(onlyU) > 0 {
		candidates = append(candidates, append(append([]int(nil), onlyU...), neither...))
	}
	if len(onlyV) > 0 {
		candidates = append(candidates, append(append([]int(nil), onlyV...), neither...))
	}
	candidates = append(candidates, neither, a.machine.FreeNodes())
	for i, pool := range candidates {
		if len(pool) < need {
			continue
		}
		copy(ai.Nodes, pool[:need])
		if i == len(candidates)-1 {
			logrus.Debugf("constraint: job %d cannot separate %s from %s", job.JobNum, a.constraint.U, a.constraint.V)
		}
		return ai
	}
	panic(fmt.Sprintf("constraint: job %d needs %d nodes, free pool too small", job.JobNum, need))
}

func (a *ConstraintAllocator) Deallocate(*sim.AllocInfo) {}

func (a *ConstraintAllocator) Done() {}

func (a *ConstraintAllocator) Clone(m sim.Machine) sim.Allocator {
	return &ConstraintAllocator{machine: m, deps: a.deps, constraint: a.constraint}
}
