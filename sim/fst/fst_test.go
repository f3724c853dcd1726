package fst

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpc-schedsim/schedsim/sim"
	"github.com/hpc-schedsim/schedsim/sim/alloc"
	"github.com/hpc-schedsim/schedsim/sim/internal/testutil"
	"github.com/hpc-schedsim/schedsim/sim/machine"
	"github.com/hpc-schedsim/schedsim/sim/schedule"
	"github.com/hpc-schedsim/schedsim/sim/taskmap"
)

type fixture struct {
	ctx   *sim.SimContext
	live  Live
	probe *sim.Job
	wait  *sim.Job
}

// blockedMachine: a 4-node job runs [0,6), a 2-node job waits, and a 4-node
// job arrives at t=2.
func blockedMachine(t *testing.T, a sim.Allocator, tm sim.TaskMapper, m sim.Machine, s sim.Scheduler) fixture {
	ctx := sim.NewSimContext(1)
	run := testutil.MustJob(t, ctx, 0, 4, 6, 8)
	s.JobArrives(run, 0, m)
	require.Equal(t, run, s.TryToStart(0, m))
	tmi := sim.Launch(run, 0, s, m, a, tm)

	wait := testutil.MustJob(t, ctx, 1, 2, 5, 5)
	s.JobArrives(wait, 1, m)
	probe := testutil.MustJob(t, ctx, 2, 4, 1, 1)
	return fixture{
		ctx: ctx,
		live: Live{
			Scheduler: s, Machine: m, Allocator: a, Mapper: tm,
			Running: []*sim.TaskMapInfo{tmi},
			Waiting: []*sim.Job{wait},
		},
		probe: probe,
		wait:  wait,
	}
}

func TestCompute_WaitsBehindEarlierJobs(t *testing.T) {
	for _, mode := range []Mode{Strict, Relaxed} {
		t.Run(mode.String(), func(t *testing.T) {
			// GIVEN a full machine and one smaller job already waiting
			m := machine.NewSimpleMachine(4, 1)
			f := blockedMachine(t, alloc.NewSimpleAllocator(m), taskmap.NewSimpleTaskMapper(m), m,
				schedule.NewPQScheduler(schedule.NewComparator("fifo")))
			a := NewAnalyzer(mode)

			// WHEN the FST of a 4-node job arriving at t=2 is computed
			got := a.Compute(f.probe, 2, f.live)

			// THEN it starts once the running job and the waiting job both end
			assert.Equal(t, int64(11), got)
			r, ok := a.Result(f.probe.JobNum)
			require.True(t, ok)
			assert.Equal(t, got, r)

			// AND the live state is untouched
			assert.Equal(t, 0, m.NumFreeNodes())
			assert.False(t, f.wait.Started)
			assert.False(t, f.probe.Started)
			assert.Len(t, f.live.Scheduler.(*schedule.PQScheduler).Waiting(), 1)
		})
	}
}

func TestCompute_EASYUsesGuarantee(t *testing.T) {
	// GIVEN EASY with a waiting 2-node job behind a full machine
	m := machine.NewSimpleMachine(4, 1)
	s := schedule.NewEASYScheduler(schedule.NewComparator("fifo"))
	f := blockedMachine(t, alloc.NewSimpleAllocator(m), taskmap.NewSimpleTaskMapper(m), m, s)

	// WHEN a short 1-node job probes at t=2
	small := testutil.MustJob(t, f.ctx, 2, 1, 1, 1)
	got := NewAnalyzer(Strict).Compute(small, 2, f.live)

	// THEN it starts when the running job ends, alongside the 2-node job
	assert.Equal(t, int64(6), got)
}

func TestCompute_StatefulWithJointMapper(t *testing.T) {
	// GIVEN a conservative plan and an allocator that maps as it allocates
	m := machine.NewSimpleMachine(4, 1)
	am := taskmap.NewAllocMapper(m, alloc.NewSimpleAllocator(m))
	s := schedule.NewStatefulScheduler(4, 1, schedule.NewComparator("fifo"), schedule.Conservative{})
	f := blockedMachine(t, am.AsAllocator(), am.AsMapper(), m, s)

	got := NewAnalyzer(Relaxed).Compute(f.probe, 2, f.live)

	// THEN the waiting job runs [6,11) in the copy and the probe follows
	assert.Equal(t, int64(11), got)
	_, ok := s.PlannedStart(f.probe)
	assert.False(t, ok)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("relaxed")
	require.NoError(t, err)
	assert.Equal(t, Relaxed, m)
	_, err = ParseMode("loose")
	assert.Error(t, err)
}
