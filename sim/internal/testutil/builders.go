// Package testutil provides shared test infrastructure for the simulator:
// job builders, a packing helper that commits an allocation to a machine,
// gopter parameters and float assertions. It depends only on package sim so
// every sub-package can use it from its tests.
package testutil

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"

	"github.com/hpc-schedsim/schedsim/sim"
)

// MustJob builds a job or fails the test.
func MustJob(t testing.TB, ctx *sim.SimContext, arrival int64, procs int, actual, estimate int64) *sim.Job {
	t.Helper()
	j, err := sim.NewJob(ctx, arrival, procs, actual, estimate)
	if err != nil {
		t.Fatalf("NewJob(%d, %d, %d, %d): %v", arrival, procs, actual, estimate, err)
	}
	return j
}

// PackTasks maps tasks onto ai's nodes in index order, coresPerNode per node.
func PackTasks(ai *sim.AllocInfo, m sim.Machine) *sim.TaskMapInfo {
	tmi := sim.NewTaskMapInfo(ai, m)
	for task := 0; task < ai.Job.ProcsNeeded; task++ {
		tmi.Insert(task, ai.Nodes[task/m.CoresPerNode()])
	}
	return tmi
}

// Commit packs ai and marks its nodes busy on m.
func Commit(ai *sim.AllocInfo, m sim.Machine) *sim.TaskMapInfo {
	tmi := PackTasks(ai, m)
	m.Allocate(tmi)
	return tmi
}

// Distinct reports whether every value in xs is unique.
func Distinct(xs []int) bool {
	seen := make(map[int]bool, len(xs))
	for _, x := range xs {
		if seen[x] {
			return false
		}
		seen[x] = true
	}
	return true
}

// PropertyParameters returns gopter parameters with a fixed seed so property
// runs are reproducible.
func PropertyParameters(minSuccessful int) *gopter.TestParameters {
	p := gopter.DefaultTestParametersWithSeed(42)
	p.MinSuccessfulTests = minSuccessful
	return p
}

// AssertFloat64Equal fails when want and got differ by more than relTol relative error.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	denom := math.Max(math.Abs(want), math.Abs(got))
	if math.Abs(want-got)/denom > relTol {
		t.Errorf("%s: want %v, got %v (rel tol %v)", name, want, got, relTol)
	}
}
