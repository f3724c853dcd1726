package machine

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
)

func stencil(t testing.TB, torus bool, dims ...int) *StencilMachine {
	t.Helper()
	m, err := NewStencilMachine(dims, torus, 1)
	require.NoError(t, err)
	return m
}

func dragonfly(t testing.TB, topo GlobalTopology) *DragonflyMachine {
	t.Helper()
	m, err := NewDragonflyMachine(DragonflyConfig{
		RoutersPerGroup: 4, NodesPerRouter: 2, GlobalPerRouter: 2, NumGroups: 9,
		Global: topo, CoresPerNode: 1,
	})
	require.NoError(t, err)
	return m
}

func place(t testing.TB, m sim.Machine, ctx *sim.SimContext, nodes ...int) *sim.TaskMapInfo {
	job := testutil.MustJob(t, ctx, 0, len(nodes)*m.CoresPerNode(), 1, 1)
	ai := sim.NewAllocInfo(job, m.CoresPerNode())
	copy(ai.Nodes, nodes)
	return testutil.Commit(ai, m)
}

func countFree(m sim.Machine) int {
	n := 0
	for i := 0; i < m.NumNodes(); i++ {
		if m.IsFree(i) {
			n++
		}
	}
	return n
}

func TestMachines_AllocateDeallocate_NumAvailTracksFreeBits(t *testing.T) {
	properties := gopter.NewProperties(testutil.PropertyParameters(50))
	machines := map[string]func() sim.Machine{
		"simple":    func() sim.Machine { return NewSimpleMachine(16, 1) },
		"mesh":      func() sim.Machine { return stencil(t, false, 4, 2, 2) },
		"torus":     func() sim.Machine { return stencil(t, true, 4, 4) },
		"dragonfly": func() sim.Machine { return dragonfly(t, Circulant) },
	}
	for name, mk := range machines {
		properties.Property(name+" free count matches the bitmap", prop.ForAll(
			func(sizes []int, seed int64) bool {
				m := mk()
				ctx := sim.NewSimContext(seed)
				rng := rand.New(rand.NewSource(seed))
				var live []*sim.TaskMapInfo
				for _, s := range sizes {
					free := m.FreeNodes()
					if s <= len(free) {
						rng.Shuffle(len(free), func(i, j int) { free[i], free[j] = free[j], free[i] })
						live = append(live, place(t, m, ctx, free[:s]...))
					} else if len(live) > 0 {
						k := rng.Intn(len(live))
						m.Deallocate(live[k])
						live = append(live[:k], live[k+1:]...)
					}
					if m.NumFreeNodes() != countFree(m) || m.NumFreeNodes() < 0 || m.NumFreeNodes() > m.NumNodes() {
						return false
					}
				}
				for _, tmi := range live {
					m.Deallocate(tmi)
				}
				return m.NumFreeNodes() == m.NumNodes()
			},
			gen.SliceOf(gen.IntRange(1, 8)),
			gen.Int64(),
		))
	}
	properties.TestingRun(t)
}

func TestMachine_DoubleAllocate_Panics(t *testing.T) {
	// GIVEN node 1 already busy
	m := NewSimpleMachine(4, 1)
	ctx := sim.NewSimContext(1)
	place(t, m, ctx, 1)

	// WHEN another job claims node 1 THEN the machine refuses
	assert.Panics(t, func() { place(t, m, ctx, 1) })
}

func TestMachine_DoubleFree_Panics(t *testing.T) {
	m := NewSimpleMachine(4, 1)
	tmi := place(t, m, sim.NewSimContext(1), 2)
	m.Deallocate(tmi)
	assert.Panics(t, func() { m.Deallocate(tmi) })
}

func TestMachine_Traffic_AddedAndRemoved(t *testing.T) {
	// GIVEN a two-task job talking across a 3-node line
	m := stencil(t, false, 3)
	job := testutil.MustJob(t, sim.NewSimContext(1), 0, 2, 1, 1)
	job.CommInfo = sim.NewAllToAllComm(2)
	ai := sim.NewAllocInfo(job, 1)
	copy(ai.Nodes, []int{0, 2})

	// WHEN it is allocated
	tmi := testutil.Commit(ai, m)

	// THEN both directions load two links each
	total := 0.0
	for l := 0; l < m.NumLinks(); l++ {
		total += m.LinkTraffic(l)
	}
	assert.Equal(t, 4.0, total)

	// WHEN it is freed THEN the traffic is gone
	m.Deallocate(tmi)
	for l := 0; l < m.NumLinks(); l++ {
		assert.Zero(t, m.LinkTraffic(l))
	}
}

func TestStencil_BaselineAllocation_FivePodsOnCube(t *testing.T) {
	// GIVEN a 2x2x2 mesh and a 5-node job
	m := stencil(t, false, 2, 2, 2)
	job := testutil.MustJob(t, sim.NewSimContext(1), 0, 5, 1, 1)

	// WHEN the baseline placement is computed
	ai := m.BaselineAllocation(job)

	// THEN the 1x1x1 cube is padded axis by axis to 2x2x2 and filled in snake order
	require.NotNil(t, ai)
	assert.Equal(t, []int{2, 2, 2}, BaselineBox(5, []int{2, 2, 2}))
	assert.Equal(t, []int{0, 1, 3, 2, 6}, ai.Nodes)
	assert.True(t, testutil.Distinct(ai.Nodes))
}

func TestBaselineBox_PadsFirstAxesFirst(t *testing.T) {
	assert.Equal(t, []int{3, 2, 2}, BaselineBox(9, []int{4, 4, 4}))
	assert.Equal(t, []int{2, 2, 2}, BaselineBox(8, []int{4, 4, 4}))
	assert.Equal(t, []int{1, 1, 1}, BaselineBox(1, []int{4, 4, 4}))
	assert.Equal(t, []int{4, 3}, BaselineBox(10, []int{4, 8}))
}

func TestSnakeOrder_ConsecutivePointsAreAdjacent(t *testing.T) {
	pts := SnakeOrder([]int{3, 2, 2})
	require.Len(t, pts, 12)
	for i := 1; i < len(pts); i++ {
		assert.Equal(t, 1, pts[i-1].L1(pts[i]), "step %d", i)
	}
}

func TestStencil_Torus_RouteTakesShortWay(t *testing.T) {
	// GIVEN a 5-node ring
	m := stencil(t, true, 5)

	// WHEN routing 0 -> 4
	route := m.Route(0, 4, 1)

	// THEN one hop wraps around in the negative direction
	assert.Equal(t, []int{m.linkIndex(0, 0, false)}, route)
	assert.Equal(t, 1, m.NodeDistance(0, 4))
	assert.Equal(t, 2, m.NodeDistance(1, 4))
}

func TestStencil_RouteLength_EqualsDistance(t *testing.T) {
	m := stencil(t, false, 3, 4, 2)
	for a := 0; a < m.NumNodes(); a++ {
		for b := 0; b < m.NumNodes(); b++ {
			assert.Len(t, m.Route(a, b, 1), m.NodeDistance(a, b))
		}
	}
}

func TestStencil_FreeAtDistance_SkipsBusy(t *testing.T) {
	m := stencil(t, false, 3, 3)
	place(t, m, sim.NewSimContext(1), 1)
	assert.Equal(t, []int{3, 5, 7}, m.FreeAtDistance(4, 1))
	assert.Equal(t, 4, m.NodesAtDistance(1))
	assert.Equal(t, 4, m.NodesAtDistance(2))
}

func TestNewStencilMachine_BadExtent_ReturnsError(t *testing.T) {
	_, err := NewStencilMachine([]int{2, 0}, false, 1)
	assert.Error(t, err)
	_, err = NewStencilMachine(nil, false, 1)
	assert.Error(t, err)
}

func TestSimpleMachine_Distances(t *testing.T) {
	m := NewSimpleMachine(4, 2)
	assert.Equal(t, 0, m.NodeDistance(1, 1))
	assert.Equal(t, 1, m.NodeDistance(1, 3))
	assert.Equal(t, []int{0}, m.Route(0, 3, 1))
	assert.Equal(t, []int{0, 2, 3}, m.FreeAtDistance(1, 1))
	assert.Equal(t, 3, m.NodesAtDistance(1))
}

func TestDragonfly_Route_ShapeMatchesHopCount(t *testing.T) {
	for _, topo := range []GlobalTopology{Circulant, Absolute, Relative} {
		t.Run(topo.String(), func(t *testing.T) {
			m := dragonfly(t, topo)
			n := m.NumNodes()
			for a := 0; a < n; a++ {
				assert.Empty(t, m.Route(a, a, 1))
				for b := 0; b < n; b++ {
					if a == b {
						continue
					}
					route := m.Route(a, b, 1)
					require.GreaterOrEqual(t, len(route), 2)
					assert.Equal(t, m.injectLink(a), route[0])
					assert.Equal(t, m.ejectLink(b), route[len(route)-1])
					hops := m.RouterHops(m.routerOf(a), m.routerOf(b))
					assert.Len(t, route, hops+2)
					assert.Equal(t, len(route), m.NodeDistance(a, b))
					assert.LessOrEqual(t, hops, 3)
				}
			}
		})
	}
}

func TestDragonfly_GlobalPorts_ReachEveryOtherGroup(t *testing.T) {
	for _, topo := range []GlobalTopology{Circulant, Absolute, Relative} {
		m := dragonfly(t, topo)
		g := m.cfg.NumGroups
		for src := 0; src < g; src++ {
			for dst := 0; dst < g; dst++ {
				if src == dst {
					continue
				}
				assert.Equal(t, dst, m.targetGroup(src, m.portTo(src, dst)), "%s %d->%d", topo, src, dst)
			}
		}
	}
}

func TestDragonfly_NodesAtDistance_SumsToMachine(t *testing.T) {
	m := dragonfly(t, Circulant)
	total := 0
	for d := 0; d < 8; d++ {
		total += m.NodesAtDistance(d)
	}
	assert.Equal(t, m.NumNodes(), total)
	assert.Equal(t, 1, m.NodesAtDistance(0))
	assert.Equal(t, 0, m.NodesAtDistance(1))
	assert.Equal(t, 1, m.NodesAtDistance(2))
	// three local routers plus two global neighbors, two nodes each
	assert.Equal(t, 10, m.NodesAtDistance(3))
}

func TestDragonfly_FreeAtDistance_SameRouterAndGroup(t *testing.T) {
	m := dragonfly(t, Absolute)
	assert.Equal(t, []int{0}, m.FreeAtDistance(0, 0))
	assert.Empty(t, m.FreeAtDistance(0, 1))
	assert.Equal(t, []int{1}, m.FreeAtDistance(0, 2))
	// routers 1-3 locally, routers 4 and 8 over router 0's global links
	assert.Equal(t, []int{2, 3, 4, 5, 6, 7, 8, 9, 16, 17}, m.FreeAtDistance(0, 3))
}

func TestNewDragonflyMachine_TooFewGlobalPorts_ReturnsError(t *testing.T) {
	_, err := NewDragonflyMachine(DragonflyConfig{
		RoutersPerGroup: 2, NodesPerRouter: 1, GlobalPerRouter: 1, NumGroups: 5, CoresPerNode: 1,
	})
	assert.Error(t, err)
}

func TestParseGlobalTopology(t *testing.T) {
	topo, err := ParseGlobalTopology("Relative")
	require.NoError(t, err)
	assert.Equal(t, Relative, topo)
	_, err = ParseGlobalTopology("mesh")
	assert.Error(t, err)
}

func TestMachine_Clone_IsIndependent(t *testing.T) {
	m := stencil(t, false, 2, 2)
	cp := m.Clone()
	place(t, cp, sim.NewSimContext(1), 0, 3)
	assert.Equal(t, 4, m.NumFreeNodes())
	assert.Equal(t, 2, cp.NumFreeNodes())
}
