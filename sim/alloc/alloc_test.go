package alloc

import (
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpc-schedsim/schedsim/sim"
	"github.com/hpc-schedsim/schedsim/sim/internal/testutil"
	"github.com/hpc-schedsim/schedsim/sim/machine"
)

func mesh(t testing.TB, dims ...int) *machine.StencilMachine {
	t.Helper()
	m, err := machine.NewStencilMachine(dims, false, 1)
	require.NoError(t, err)
	return m
}

func mustLinear(t testing.TB, m sim.MeshMachine, p LinearPolicy, c CurveKind) *LinearAllocator {
	t.Helper()
	a, err := NewLinearAllocator(m, p, c)
	require.NoError(t, err)
	return a
}

// allocatorsUnderTest builds one of every allocator over m.
func allocatorsUnderTest(t testing.TB, m *machine.StencilMachine) []sim.Allocator {
	octet, err := NewOctetMBSAllocator(m)
	require.NoError(t, err)
	return []sim.Allocator{
		NewSimpleAllocator(m),
		NewRandomAllocator(m, rand.New(rand.NewSource(7))),
		NewMMAllocator(m),
		NewMC1x1Allocator(m),
		NewOldMC1x1Allocator(m),
		NewGenAlgAllocator(m),
		mustLinear(t, m, FirstFit, CurveSnake),
		mustLinear(t, m, BestFit, CurveSortedSnake),
		mustLinear(t, m, SortedFreeList, CurveSnake),
		NewMBSAllocator(m),
		NewGranularMBSAllocator(m),
		octet,
		NewRoundUpMBSAllocator(m),
		NewConstraintAllocator(m, map[int][]string{0: {"u"}, 1: {"v"}}, Constraint{U: "u", V: "v"}),
	}
}

type live struct {
	ai  *sim.AllocInfo
	tmi *sim.TaskMapInfo
}

// replay allocates every size in order, freeing a random live job after
// roughly a third of the allocations, then frees everything that is left.
// It returns a description of the first violated property, or "".
func replay(m sim.Machine, a sim.Allocator, sizes []int, seed int64) string {
	ctx := sim.NewSimContext(seed)
	rng := rand.New(rand.NewSource(seed))
	var running []live
	free := func(i int) {
		l := running[i]
		m.Deallocate(l.tmi)
		a.Deallocate(l.ai)
		running = append(running[:i], running[i+1:]...)
	}
	for _, size := range sizes {
		job, err := sim.NewJob(ctx, 0, size, 1, 1)
		if err != nil {
			return err.Error()
		}
		can := a.CanAllocate(job)
		ai := a.Allocate(job)
		if !can {
			if ai != nil {
				return a.Name() + ": allocation returned although CanAllocate is false"
			}
			continue
		}
		if ai == nil || len(ai.Nodes) != job.NodesNeeded(m.CoresPerNode()) {
			return a.Name() + ": wrong node count"
		}
		if !testutil.Distinct(ai.Nodes) {
			return a.Name() + ": repeated node"
		}
		for _, n := range ai.Nodes {
			if !m.IsFree(n) {
				return a.Name() + ": busy node handed out"
			}
		}
		running = append(running, live{ai: ai, tmi: testutil.Commit(ai, m)})
		if rng.Intn(3) == 0 {
			free(rng.Intn(len(running)))
		}
	}
	for len(running) > 0 {
		free(rng.Intn(len(running)))
	}
	if m.NumFreeNodes() != m.NumNodes() {
		return a.Name() + ": nodes still busy after every job was freed"
	}
	return ""
}

func TestAllocators_Allocate_ReturnsDistinctFreeNodesOrNil(t *testing.T) {
	properties := gopter.NewProperties(testutil.PropertyParameters(25))
	properties.Property("every allocator hands out exactly the needed free nodes", prop.ForAll(
		func(sizes []int, seed int64) string {
			for i := range allocatorsUnderTest(t, mesh(t, 4, 4, 2)) {
				// fresh machine per allocator so runs do not interfere
				m := mesh(t, 4, 4, 2)
				a := allocatorsUnderTest(t, m)[i]
				if msg := replay(m, a, sizes, seed); msg != "" {
					return msg
				}
			}
			return ""
		},
		gen.SliceOf(gen.IntRange(1, 12)),
		gen.Int64(),
	))
	properties.TestingRun(t)
}

func TestBlockAllocators_FreeEverything_RestoresRegistry(t *testing.T) {
	properties := gopter.NewProperties(testutil.PropertyParameters(50))
	build := map[string]func(m *machine.StencilMachine) *BlockAllocator{
		"mbs":         func(m *machine.StencilMachine) *BlockAllocator { return NewMBSAllocator(m) },
		"granularmbs": func(m *machine.StencilMachine) *BlockAllocator { return NewGranularMBSAllocator(m) },
		"roundupmbs":  func(m *machine.StencilMachine) *BlockAllocator { return NewRoundUpMBSAllocator(m) },
	}
	for name, mk := range build {
		properties.Property(name+" registry returns to its initial state", prop.ForAll(
			func(sizes []int, seed int64) string {
				m := mesh(t, 6, 4, 3)
				a := mk(m)
				before := a.FBRSnapshot()
				if msg := replay(m, a, sizes, seed); msg != "" {
					return msg
				}
				if !assert.ObjectsAreEqual(before, a.FBRSnapshot()) {
					return "registry changed"
				}
				return ""
			},
			gen.SliceOf(gen.IntRange(1, 30)),
			gen.Int64(),
		))
	}
	properties.TestingRun(t)
}

func TestMBS_InitialTiling_CoversMachine(t *testing.T) {
	// GIVEN a 6x4 mesh (not a power of two along x)
	m := mesh(t, 6, 4)

	// WHEN the MBS registry is built
	a := NewMBSAllocator(m)

	// THEN it holds one 4x4 block and four 2x2 blocks
	snap := a.FBRSnapshot()
	require.Len(t, snap, 3)
	assert.Empty(t, snap[0])
	assert.Equal(t, []int{4, 16}, snap[1])
	assert.Equal(t, []int{0}, snap[2])
}

func TestMBS_Allocate_SplitsLargerBlockWhenExactRankMissing(t *testing.T) {
	// GIVEN a 4x4 mesh whose only free block is the whole machine
	m := mesh(t, 4, 4)
	a := NewMBSAllocator(m)
	ctx := sim.NewSimContext(1)

	// WHEN a single node is requested
	ai := a.Allocate(testutil.MustJob(t, ctx, 0, 1, 1, 1))

	// THEN the 4x4 block splits into 2x2 blocks and one of those into nodes
	require.NotNil(t, ai)
	assert.Equal(t, []int{0}, ai.Nodes)
	snap := a.FBRSnapshot()
	assert.Equal(t, []int{1, 4, 5}, snap[0])
	assert.Equal(t, []int{2, 8, 10}, snap[1])
	assert.Empty(t, snap[2])

	// WHEN the node is freed THEN the buddies merge back into the 4x4 block
	a.Deallocate(ai)
	assert.Equal(t, [][]int{{}, {}, {0}}, a.FBRSnapshot())
}

func TestRoundUpMBS_Allocate_ReturnsUnusedChildren(t *testing.T) {
	// GIVEN an 8x1 line, round-up MBS with blocks of size 1, 2, 4, 8
	m := mesh(t, 8, 1)
	a := NewRoundUpMBSAllocator(m)
	ctx := sim.NewSimContext(1)

	// WHEN 3 nodes are requested
	ai := a.Allocate(testutil.MustJob(t, ctx, 0, 3, 1, 1))

	// THEN they come from one 4-block and its fourth node is returned
	require.NotNil(t, ai)
	assert.ElementsMatch(t, []int{0, 1, 2}, ai.Nodes)
	snap := a.FBRSnapshot()
	assert.Equal(t, []int{3}, snap[0])
	assert.Equal(t, []int{4}, snap[2])
}

func TestOctetMBS_TwoDimensionalMachine_ReturnsError(t *testing.T) {
	_, err := NewOctetMBSAllocator(mesh(t, 4, 4))
	assert.Error(t, err)
}

func TestBlockAllocator_Clone_IsIndependent(t *testing.T) {
	// GIVEN an MBS allocator and its clone
	m := mesh(t, 4, 4)
	a := NewMBSAllocator(m)
	before := a.FBRSnapshot()
	cp := a.Clone(m.Clone()).(*BlockAllocator)

	// WHEN the clone allocates
	ctx := sim.NewSimContext(1)
	require.NotNil(t, cp.Allocate(testutil.MustJob(t, ctx, 0, 5, 1, 1)))

	// THEN the original registry is untouched
	assert.Equal(t, before, a.FBRSnapshot())
	assert.NotEqual(t, before, cp.FBRSnapshot())
}

func TestBlockAllocator_DeallocateUnknownJob_Panics(t *testing.T) {
	m := mesh(t, 4, 4)
	a := NewMBSAllocator(m)
	job := testutil.MustJob(t, sim.NewSimContext(1), 0, 1, 1, 1)
	assert.Panics(t, func() { a.Deallocate(sim.NewAllocInfo(job, 1)) })
}

// occupy marks the given nodes busy with a one-node job each.
func occupy(t *testing.T, m sim.Machine, nodes ...int) {
	ctx := sim.NewSimContext(99)
	for _, n := range nodes {
		ai := sim.NewAllocInfo(testutil.MustJob(t, ctx, 0, 1, 1, 1), m.CoresPerNode())
		ai.Nodes[0] = n
		testutil.Commit(ai, m)
	}
}

func TestLinear_FirstFitAndBestFit_PickDifferentIntervals(t *testing.T) {
	// GIVEN an 8-node line with node 4 busy: free runs [0..3] and [5..7]
	m := mesh(t, 8)
	occupy(t, m, 4)
	ctx := sim.NewSimContext(1)
	job := testutil.MustJob(t, ctx, 0, 3, 1, 1)

	// WHEN first fit and best fit place a 3-node job
	ff := mustLinear(t, m, FirstFit, CurveSnake).Allocate(job)
	bf := mustLinear(t, m, BestFit, CurveSnake).Allocate(job)

	// THEN first fit takes the first run and best fit the tighter one
	assert.Equal(t, []int{0, 1, 2}, ff.Nodes)
	assert.Equal(t, []int{5, 6, 7}, bf.Nodes)
}

func TestLinear_NoIntervalLargeEnough_FallsBackToMinSpan(t *testing.T) {
	// GIVEN free nodes 0,2,4,6,7 on an 8-node line
	m := mesh(t, 8)
	occupy(t, m, 1, 3, 5)
	job := testutil.MustJob(t, sim.NewSimContext(1), 0, 3, 1, 1)

	// WHEN first fit places a 3-node job
	ai := mustLinear(t, m, FirstFit, CurveSnake).Allocate(job)

	// THEN the window with the smallest rank spread wins
	assert.Equal(t, []int{4, 6, 7}, ai.Nodes)
}

func TestLinear_SortedFreeList_TakesFirstFreeRanks(t *testing.T) {
	m := mesh(t, 8)
	occupy(t, m, 0, 2)
	job := testutil.MustJob(t, sim.NewSimContext(1), 0, 3, 1, 1)

	ai := mustLinear(t, m, SortedFreeList, CurveSnake).Allocate(job)

	assert.Equal(t, []int{1, 3, 4}, ai.Nodes)
}

func TestCurve_Hilbert_VisitsAdjacentNodes(t *testing.T) {
	// GIVEN a 4x4 plane
	m := mesh(t, 4, 4)

	// WHEN the Hilbert curve is built
	c, err := NewCurve(m, CurveHilbert)
	require.NoError(t, err)

	// THEN consecutive ranks are one hop apart and every node appears once
	seen := make(map[int]bool)
	for r := 0; r < 16; r++ {
		seen[c.Node(r)] = true
		assert.Equal(t, r, c.Rank(c.Node(r)))
		if r > 0 {
			assert.Equal(t, 1, m.NodeDistance(c.Node(r-1), c.Node(r)), "rank %d", r)
		}
	}
	assert.Len(t, seen, 16)
}

func TestCurve_HilbertOnRectangle_ReturnsError(t *testing.T) {
	_, err := NewCurve(mesh(t, 4, 2), CurveHilbert)
	assert.Error(t, err)
}

func TestCurve_SortedSnake_LongestAxisVariesFastest(t *testing.T) {
	m := mesh(t, 2, 4)
	c, err := NewCurve(m, CurveSortedSnake)
	require.NoError(t, err)
	// (0,0) (0,1) (0,2) (0,3) (1,3) ...
	assert.Equal(t, []int{0, 2, 4, 6, 7}, []int{c.Node(0), c.Node(1), c.Node(2), c.Node(3), c.Node(4)})
}

func TestNearest_MM_PrefersCompactShapes(t *testing.T) {
	// GIVEN an empty 4x4 mesh
	m := mesh(t, 4, 4)
	job := testutil.MustJob(t, sim.NewSimContext(1), 0, 4, 1, 1)

	// WHEN MM places four nodes
	ai := NewMMAllocator(m).Allocate(job)
	require.NotNil(t, ai)

	// THEN the placement beats a straight line of four (pairwise L1 sum 10)
	pts := make([]sim.Point, len(ai.Nodes))
	for i, n := range ai.Nodes {
		pts[i] = m.Coord(n)
	}
	score, _ := PairwiseL1Scorer{}.Score(m, nil, pts)
	assert.Less(t, score, 10.0)
}

func TestNearest_FreeEqualsNeeded_ReturnsAllFree(t *testing.T) {
	m := mesh(t, 2, 2)
	occupy(t, m, 1)
	job := testutil.MustJob(t, sim.NewSimContext(1), 0, 3, 1, 1)

	ai := NewGenAlgAllocator(m).Allocate(job)

	assert.Equal(t, []int{0, 2, 3}, ai.Nodes)
}

func TestGreedyLInfCollector_PartialShell_StaysConnected(t *testing.T) {
	// GIVEN center (2,2) on a 5x5 grid and room for the center plus two more
	var free []sim.Point
	for y := 0; y < 5; y++ {
		for x := 0; x < 5; x++ {
			free = append(free, sim.Point{x, y})
		}
	}

	// WHEN three points are collected
	pts := GreedyLInfCollector{}.Collect(sim.Point{2, 2}, free, 3)

	// THEN the two shell points picked are both adjacent to the center or each other
	require.Len(t, pts, 3)
	assert.Equal(t, sim.Point{2, 2}, pts[0])
	assert.LessOrEqual(t, pts[1].L1(pts[2]), 2)
}

func TestTiebreaker_WallsAndAvail_Scored(t *testing.T) {
	// GIVEN a 3x3 mesh and a one-node set in the corner
	m := mesh(t, 3, 3)
	corner := []sim.Point{{0, 0}}
	middle := []sim.Point{{1, 1}}
	tb := &Tiebreaker{MaxShells: 1, AvailFactor: 1, WallFactor: 10}

	// WHEN both are scored
	cornerTie := tb.tie(m, corner[0], corner)
	middleTie := tb.tie(m, middle[0], middle)

	// THEN the corner pays for two walls and sees 3 free neighbors; the middle sees 8
	assert.Equal(t, 20.0-3, cornerTie)
	assert.Equal(t, -8.0, middleTie)
}

func TestConstraint_PrefersSingleSuspectPool(t *testing.T) {
	// GIVEN nodes 0,1 depend on u, 2,3 on v, 4,5 on both and 6,7 on neither
	m := machine.NewSimpleMachine(8, 1)
	deps := map[int][]string{0: {"u"}, 1: {"u"}, 2: {"v"}, 3: {"v"}, 4: {"u", "v"}, 5: {"v", "u"}}
	a := NewConstraintAllocator(m, deps, Constraint{U: "u", V: "v"})
	ctx := sim.NewSimContext(1)

	// WHEN a 3-node job is placed
	ai := a.Allocate(testutil.MustJob(t, ctx, 0, 3, 1, 1))

	// THEN it uses only-u nodes topped up with independent ones
	assert.Equal(t, []int{0, 1, 6}, ai.Nodes)

	// WHEN the job needs more than any separating pool holds
	big := a.Allocate(testutil.MustJob(t, ctx, 0, 7, 1, 1))

	// THEN it falls back to any free nodes
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6}, big.Nodes)
}

func TestSimpleAllocator_NotEnoughFree_ReturnsNil(t *testing.T) {
	m := machine.NewSimpleMachine(2, 2)
	a := NewSimpleAllocator(m)
	job := testutil.MustJob(t, sim.NewSimContext(1), 0, 5, 1, 1)
	assert.False(t, a.CanAllocate(job))
	assert.Nil(t, a.Allocate(job))
}
