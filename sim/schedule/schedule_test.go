package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpc-schedsim/schedsim/sim"
	"github.com/hpc-schedsim/schedsim/sim/alloc"
	"github.com/hpc-schedsim/schedsim/sim/cluster"
	"github.com/hpc-schedsim/schedsim/sim/internal/testutil"
	"github.com/hpc-schedsim/schedsim/sim/machine"
	"github.com/hpc-schedsim/schedsim/sim/taskmap"
)

// run replays jobs through s on a fresh simple machine and returns start times.
func run(t *testing.T, s sim.Scheduler, nodes int, jobs []*sim.Job) *cluster.Result {
	t.Helper()
	m := machine.NewSimpleMachine(nodes, 1)
	d, err := cluster.NewDriver(cluster.Config{
		Machine:   m,
		Scheduler: s,
		Allocator: alloc.NewSimpleAllocator(m),
		Mapper:    taskmap.NewSimpleTaskMapper(m),
	})
	require.NoError(t, err)
	res, err := d.Run(jobs)
	require.NoError(t, err)
	require.Equal(t, nodes, m.NumFreeNodes())
	return res
}

// commit marks job's nodes busy on m the way the driver would.
func commit(m sim.Machine, job *sim.Job, time int64) *sim.TaskMapInfo {
	ai := alloc.NewSimpleAllocator(m).Allocate(job)
	job.Start(time)
	return testutil.Commit(ai, m)
}

func TestNewComparator_OrdersWithFIFOFallback(t *testing.T) {
	ctx := sim.NewSimContext(1)
	small := testutil.MustJob(t, ctx, 5, 1, 10, 10)
	big := testutil.MustJob(t, ctx, 3, 8, 2, 2)
	bigLater := testutil.MustJob(t, ctx, 4, 8, 1, 1)

	tests := []struct {
		name string
		want []*sim.Job
	}{
		{"fifo", []*sim.Job{big, bigLater, small}},
		{"largest", []*sim.Job{big, bigLater, small}},
		{"smallest", []*sim.Job{small, big, bigLater}},
		{"longest", []*sim.Job{small, big, bigLater}},
		{"shortest", []*sim.Job{bigLater, big, small}},
		{"betterfit", []*sim.Job{bigLater, big, small}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q := NewJobQueue(NewComparator(tc.name))
			q.Push(small)
			q.Push(bigLater)
			q.Push(big)
			assert.Equal(t, tc.want, q.Items())
		})
	}
}

func TestNewComparator_Unknown_Panics(t *testing.T) {
	assert.False(t, IsValidComparator("lifo"))
	assert.Panics(t, func() { NewComparator("lifo") })
	assert.Equal(t, []string{"betterfit", "fifo", "largest", "longest", "shortest", "smallest"}, ValidComparatorNames())
}

func TestJobQueue_RemoveMissing_Panics(t *testing.T) {
	q := NewJobQueue(NewComparator("fifo"))
	j := testutil.MustJob(t, sim.NewSimContext(1), 0, 1, 1, 1)
	assert.Panics(t, func() { q.Remove(j) })
}

func TestPQScheduler_HeadBlocksSmallerJobs(t *testing.T) {
	// GIVEN 4 nodes, a 3-node job running until 10, then a 4-node and a 1-node job
	ctx := sim.NewSimContext(1)
	jobs := []*sim.Job{
		testutil.MustJob(t, ctx, 0, 3, 10, 10),
		testutil.MustJob(t, ctx, 1, 4, 5, 5),
		testutil.MustJob(t, ctx, 2, 1, 1, 1),
	}

	// WHEN run under plain FIFO
	res := run(t, NewPQScheduler(NewComparator("fifo")), 4, jobs)

	// THEN the 1-node job waits behind the 4-node head despite the free node
	assert.Equal(t, map[int64]int64{1: 0, 2: 10, 3: 15}, res.Starts)
	assert.Equal(t, int64(16), res.Makespan)
}

func TestPQScheduler_Copy_IsIndependent(t *testing.T) {
	ctx := sim.NewSimContext(1)
	a := testutil.MustJob(t, ctx, 0, 1, 1, 1)
	b := testutil.MustJob(t, ctx, 0, 1, 1, 1)
	s := NewPQScheduler(NewComparator("fifo"))
	m := machine.NewSimpleMachine(2, 1)
	s.JobArrives(a, 0, m)

	cp := s.Copy(nil, []*sim.Job{a}).(*PQScheduler)
	cp.JobArrives(b, 0, m)

	assert.Len(t, s.Waiting(), 1)
	assert.Len(t, cp.Waiting(), 2)
	s.Reset()
	assert.Empty(t, s.Waiting())
}

func TestEASYScheduler_BackfillsShortJobBeforeGuarantee(t *testing.T) {
	// GIVEN 4 nodes, a 2-node job running until 10 and a 4-node head job
	ctx := sim.NewSimContext(1)
	jobs := []*sim.Job{
		testutil.MustJob(t, ctx, 0, 2, 10, 10),
		testutil.MustJob(t, ctx, 0, 4, 5, 5),
		testutil.MustJob(t, ctx, 1, 2, 3, 3),
	}
	s := NewEASYScheduler(NewComparator("fifo"))

	// WHEN a 2-node, 3-long job arrives at t=1
	res := run(t, s, 4, jobs)

	// THEN it starts immediately since 1+3 <= 10, and the head keeps its slot
	assert.Equal(t, map[int64]int64{1: 0, 2: 10, 3: 1}, res.Starts)
	assert.Equal(t, int64(15), res.Makespan)
}

func TestEASYScheduler_Guarantee_ComputedFromRunningJobs(t *testing.T) {
	// GIVEN a 2-node job started at 0 with estimate 10 on 4 nodes
	ctx := sim.NewSimContext(1)
	m := machine.NewSimpleMachine(4, 1)
	s := NewEASYScheduler(NewComparator("fifo"))
	running := testutil.MustJob(t, ctx, 0, 2, 10, 10)
	s.JobArrives(running, 0, m)
	require.Equal(t, running, s.TryToStart(0, m))
	commit(m, running, 0)
	s.StartNext(0, m)

	// WHEN a 4-node job arrives
	head := testutil.MustJob(t, ctx, 0, 4, 5, 5)
	s.JobArrives(head, 0, m)

	// THEN it is guaranteed to start when the running job is expected to end
	num, start, ok := s.Guarantee()
	require.True(t, ok)
	assert.Equal(t, head.JobNum, num)
	assert.Equal(t, int64(10), start)

	// AND a job that would run past the guarantee on needed nodes is held back
	long := testutil.MustJob(t, ctx, 1, 2, 20, 20)
	s.JobArrives(long, 1, m)
	assert.Nil(t, s.TryToStart(1, m))
}

func TestEASYScheduler_GuaranteeNeverMovesLater(t *testing.T) {
	// GIVEN a head job with a guarantee of 10 derived from a running job
	ctx := sim.NewSimContext(1)
	m := machine.NewSimpleMachine(4, 1)
	s := NewEASYScheduler(NewComparator("fifo"))
	first := testutil.MustJob(t, ctx, 0, 2, 10, 10)
	s.JobArrives(first, 0, m)
	s.TryToStart(0, m)
	commit(m, first, 0)
	s.StartNext(0, m)
	head := testutil.MustJob(t, ctx, 0, 4, 5, 5)
	s.JobArrives(head, 0, m)

	// WHEN successive recomputations see the same or more free capacity
	var seen []int64
	for _, at := range []int64{1, 2, 3} {
		s.dirty = true
		s.TryToStart(at, m)
		_, g, ok := s.Guarantee()
		require.True(t, ok)
		seen = append(seen, g)
	}

	// THEN the guarantee never increases
	for i := 1; i < len(seen); i++ {
		assert.LessOrEqual(t, seen[i], seen[i-1])
	}

	// AND a recomputation that would push it later is fatal
	s.running[0].EstimatedRunningTime = 50
	s.dirty = true
	assert.Panics(t, func() { s.TryToStart(4, m) })
}

func TestEASYScheduler_JobFinishesUnknown_Panics(t *testing.T) {
	s := NewEASYScheduler(NewComparator("fifo"))
	j := testutil.MustJob(t, sim.NewSimContext(1), 0, 1, 1, 1)
	assert.Panics(t, func() { s.JobFinishes(j, 3, machine.NewSimpleMachine(1, 1)) })
}

func TestEASYScheduler_StartNextWithoutChoice_Panics(t *testing.T) {
	s := NewEASYScheduler(NewComparator("fifo"))
	assert.Panics(t, func() { s.StartNext(0, machine.NewSimpleMachine(1, 1)) })
}

func TestPlan_FindTime_EarliestGap(t *testing.T) {
	// GIVEN 4 nodes with 3 reserved over [0,10) and 4 over [10,20)
	ctx := sim.NewSimContext(1)
	p := newPlan(4, 1)
	p.place(testutil.MustJob(t, ctx, 0, 3, 10, 10), 0)
	p.place(testutil.MustJob(t, ctx, 0, 4, 10, 10), 10)

	// THEN a 1-node job of length 10 fits at once
	assert.Equal(t, int64(0), p.findTime(testutil.MustJob(t, ctx, 0, 1, 10, 10), 0))
	// AND a 2-node job waits past both reservations
	assert.Equal(t, int64(20), p.findTime(testutil.MustJob(t, ctx, 0, 2, 1, 1), 0))
	// AND a zero-length full-machine job still waits for both
	assert.Equal(t, int64(20), p.findTime(testutil.MustJob(t, ctx, 0, 4, 0, 0), 0))
	// AND a zero-length 1-node job fits right now
	assert.Equal(t, int64(0), p.findTime(testutil.MustJob(t, ctx, 0, 1, 0, 0), 0))
}

func TestPlan_ZeroLengthJobNeedsOnlyItsInstant(t *testing.T) {
	// GIVEN 2 nodes fully reserved from 5 onwards
	ctx := sim.NewSimContext(1)
	p := newPlan(2, 1)
	p.place(testutil.MustJob(t, ctx, 0, 2, 10, 10), 5)

	// THEN a zero-length 2-node job still fits at 4 and at 15
	zero := testutil.MustJob(t, ctx, 0, 2, 0, 0)
	assert.True(t, p.fits(2, 4, 0))
	assert.False(t, p.fits(2, 5, 0))
	assert.Equal(t, int64(4), p.findTime(zero, 4))
	assert.Equal(t, int64(15), p.findTime(zero, 6))
}

func TestPlan_StartEarly_Panics(t *testing.T) {
	p := newPlan(2, 1)
	j := testutil.MustJob(t, sim.NewSimContext(1), 0, 1, 1, 1)
	p.place(j, 5)
	assert.Panics(t, func() { p.start(j, 4) })
}

func TestPlan_Changes_EndsBeforeStarts(t *testing.T) {
	ctx := sim.NewSimContext(1)
	p := newPlan(2, 1)
	a := testutil.MustJob(t, ctx, 0, 2, 5, 5)
	b := testutil.MustJob(t, ctx, 0, 2, 5, 5)
	p.add(a, 0)
	p.add(b, 0)

	assert.Equal(t, []Change{
		{Time: 0, JobNum: a.JobNum},
		{Time: 5, JobNum: a.JobNum, IsEnd: true},
		{Time: 5, JobNum: b.JobNum},
		{Time: 10, JobNum: b.JobNum, IsEnd: true},
	}, p.Changes())
	assert.Contains(t, p.dump(), "JobNum")
}

func managers(t *testing.T) []Manager {
	var out []Manager
	for _, spec := range []string{"conservative", "prioritize:2", "delayed", "evenless"} {
		mgr, err := NewManager(spec)
		require.NoError(t, err)
		out = append(out, mgr)
	}
	return out
}

// overEstimated is a mixed trace where every job finishes before its estimate.
func overEstimated(t *testing.T) []*sim.Job {
	ctx := sim.NewSimContext(1)
	return []*sim.Job{
		testutil.MustJob(t, ctx, 0, 3, 4, 10),
		testutil.MustJob(t, ctx, 0, 2, 2, 6),
		testutil.MustJob(t, ctx, 1, 4, 3, 5),
		testutil.MustJob(t, ctx, 1, 1, 1, 8),
		testutil.MustJob(t, ctx, 2, 2, 5, 5),
		testutil.MustJob(t, ctx, 3, 3, 2, 9),
		testutil.MustJob(t, ctx, 3, 1, 0, 0),
		testutil.MustJob(t, ctx, 7, 4, 1, 2),
	}
}

func TestStatefulScheduler_AllManagersDrainCleanly(t *testing.T) {
	for _, mgr := range managers(t) {
		t.Run(mgr.Name(), func(t *testing.T) {
			// GIVEN a stateful scheduler over 4 nodes
			s := NewStatefulScheduler(4, 1, NewComparator("fifo"), mgr)
			jobs := overEstimated(t)

			// WHEN the over-estimated trace is replayed
			res := run(t, s, 4, jobs)

			// THEN every job ran, none before arrival, and the plan drained
			assert.Equal(t, len(jobs), res.Completed)
			for _, j := range jobs {
				assert.True(t, j.HasRun, "job %d", j.JobNum)
				assert.GreaterOrEqual(t, res.Starts[j.JobNum], j.ArrivalTime)
			}
			assert.True(t, s.plan.empty())
			assert.Equal(t, 4, s.freeNodes)
		})
	}
}

func TestStatefulScheduler_ConservativeCompressesAfterEarlyFinish(t *testing.T) {
	// GIVEN a full-machine job estimated at 10 that really takes 2, and a
	// second full-machine job reserved behind it
	ctx := sim.NewSimContext(1)
	jobs := []*sim.Job{
		testutil.MustJob(t, ctx, 0, 2, 2, 10),
		testutil.MustJob(t, ctx, 0, 2, 3, 3),
	}

	res := run(t, NewStatefulScheduler(2, 1, NewComparator("fifo"), Conservative{}), 2, jobs)

	// THEN the second job moves up to the real finish
	assert.Equal(t, int64(2), res.Starts[2])
}

func TestStatefulScheduler_DelayedCompression_StillStartsEarly(t *testing.T) {
	ctx := sim.NewSimContext(1)
	jobs := []*sim.Job{
		testutil.MustJob(t, ctx, 0, 2, 2, 10),
		testutil.MustJob(t, ctx, 0, 2, 3, 3),
	}

	res := run(t, NewStatefulScheduler(2, 1, NewComparator("fifo"), &DelayedCompression{}), 2, jobs)

	assert.Equal(t, int64(2), res.Starts[2])
}

func TestStatefulScheduler_ReservationNeverMovesLater(t *testing.T) {
	// GIVEN a conservative plan with a job reserved at 10
	ctx := sim.NewSimContext(1)
	m := machine.NewSimpleMachine(2, 1)
	s := NewStatefulScheduler(2, 1, NewComparator("fifo"), Conservative{})
	first := testutil.MustJob(t, ctx, 0, 2, 10, 10)
	s.JobArrives(first, 0, m)
	require.Equal(t, first, s.TryToStart(0, m))
	commit(m, first, 0)
	s.StartNext(0, m)
	second := testutil.MustJob(t, ctx, 0, 1, 5, 5)
	s.JobArrives(second, 0, m)
	before, ok := s.PlannedStart(second)
	require.True(t, ok)
	require.Equal(t, int64(10), before)

	// WHEN more jobs arrive behind it
	for i := 0; i < 3; i++ {
		s.JobArrives(testutil.MustJob(t, ctx, 1, 2, 4, 4), 1, m)
	}

	// THEN its reservation is unchanged and the wake-up points at it
	after, _ := s.PlannedStart(second)
	assert.Equal(t, before, after)
	next, ok := s.NextStartTime(1)
	require.True(t, ok)
	assert.Equal(t, int64(10), next)
	assert.Contains(t, s.PrintPlan(), "stateful[conservative,fifo]")
}

func TestStatefulScheduler_DrainedWithBusyNodes_Panics(t *testing.T) {
	// GIVEN a scheduler whose node count has been corrupted
	ctx := sim.NewSimContext(1)
	m := machine.NewSimpleMachine(2, 1)
	s := NewStatefulScheduler(2, 1, NewComparator("fifo"), Conservative{})
	j := testutil.MustJob(t, ctx, 0, 1, 1, 1)
	s.JobArrives(j, 0, m)
	s.TryToStart(0, m)
	commit(m, j, 0)
	s.StartNext(0, m)
	s.freeNodes--

	// THEN draining the plan is fatal
	assert.Panics(t, func() { s.JobFinishes(j, 1, m) })
}

func TestStatefulScheduler_Copy_RebindsJobs(t *testing.T) {
	ctx := sim.NewSimContext(1)
	m := machine.NewSimpleMachine(2, 1)
	s := NewStatefulScheduler(2, 1, NewComparator("fifo"), &EvenLessConservative{})
	j := testutil.MustJob(t, ctx, 0, 2, 3, 3)
	k := testutil.MustJob(t, ctx, 0, 2, 3, 3)
	s.JobArrives(j, 0, m)
	s.JobArrives(k, 0, m)

	jc, kc := j.Clone(), k.Clone()
	cp := s.Copy(nil, []*sim.Job{jc, kc}).(*StatefulScheduler)

	assert.Same(t, jc, cp.plan.get(jc).job)
	assert.Same(t, kc, cp.plan.get(kc).job)
	assert.Panics(t, func() { s.Copy(nil, []*sim.Job{jc}) })
	cp.Reset()
	assert.True(t, cp.plan.empty())
	assert.False(t, s.plan.empty())
}

func TestNewManager_Parse(t *testing.T) {
	mgr, err := NewManager("prioritize:3")
	require.NoError(t, err)
	assert.Equal(t, PrioritizeCompression{FillTimes: 3}, mgr)
	mgr, err = NewManager("prioritize")
	require.NoError(t, err)
	assert.Equal(t, "prioritize:1", mgr.Name())
	_, err = NewManager("prioritize:x")
	assert.Error(t, err)
	_, err = NewManager("aggressive")
	assert.Error(t, err)
}
