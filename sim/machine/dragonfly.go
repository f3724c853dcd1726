package machine

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/traverse"

	"github.com/hpc-schedsim/schedsim/sim"
)

// GlobalTopology selects how a group's global (optical) ports are spread over
// the other groups. Group g's global ports are numbered q = localRouter*h + port.
type GlobalTopology int

const (
	// Circulant: port q reaches offset +1, -1, +2, -2, ... cycling over the G-1 offsets.
	Circulant GlobalTopology = iota
	// Absolute: port q reaches group q mod (G-1), skipping g itself.
	Absolute
	// Relative: port q reaches group g + 1 + q mod (G-1).
	Relative
)

func (t GlobalTopology) String() string {
	switch t {
	case Circulant:
		return "circulant"
	case Absolute:
		return "absolute"
	case Relative:
		return "relative"
	default:
		return fmt.Sprintf("GlobalTopology(%d)", int(t))
	}
}

// ParseGlobalTopology maps a configuration name to a GlobalTopology.
func ParseGlobalTopology(name string) (GlobalTopology, error) {
	switch strings.ToLower(name) {
	case "circulant":
		return Circulant, nil
	case "absolute":
		return Absolute, nil
	case "relative":
		return Relative, nil
	default:
		return 0, errors.Errorf("unknown dragonfly global topology %q", name)
	}
}

// DragonflyConfig holds the dragonfly shape. The local topology is all-to-all.
type DragonflyConfig struct {
	RoutersPerGroup int
	NodesPerRouter  int
	GlobalPerRouter int
	NumGroups       int
	Global          GlobalTopology
	CoresPerNode    int
}

// DragonflyMachine models groups of routers, all-to-all connected inside a
// group and joined by global links between groups.
//
// Link layout: [0,N) node→router, [N,2N) router→node, then G*a*a directed
// local links, then one global link per router port.
type DragonflyMachine struct {
	nodeState
	cfg        DragonflyConfig
	numRouters int
	localBase  int
	globalBase int

	routers     *simple.UndirectedGraph
	nodesAtDist []int
}

// NewDragonflyMachine validates cfg, builds the router graph and caches
// per-distance node counts from node 0.
func NewDragonflyMachine(cfg DragonflyConfig) (*DragonflyMachine, error) {
	if cfg.RoutersPerGroup <= 0 || cfg.NodesPerRouter <= 0 || cfg.NumGroups <= 0 || cfg.CoresPerNode <= 0 {
		return nil, errors.Errorf("dragonfly parameters must be positive: %+v", cfg)
	}
	if cfg.NumGroups > 1 && cfg.RoutersPerGroup*cfg.GlobalPerRouter < cfg.NumGroups-1 {
		return nil, errors.Errorf("dragonfly with %d groups needs at least %d global ports per group, has %d",
			cfg.NumGroups, cfg.NumGroups-1, cfg.RoutersPerGroup*cfg.GlobalPerRouter)
	}
	a := cfg.RoutersPerGroup
	numRouters := cfg.NumGroups * a
	numNodes := numRouters * cfg.NodesPerRouter
	localBase := 2 * numNodes
	globalBase := localBase + cfg.NumGroups*a*a
	numLinks := globalBase + numRouters*cfg.GlobalPerRouter

	m := &DragonflyMachine{
		nodeState:  newNodeState(numNodes, cfg.CoresPerNode, numLinks),
		cfg:        cfg,
		numRouters: numRouters,
		localBase:  localBase,
		globalBase: globalBase,
	}
	m.buildRouterGraph()
	m.nodesAtDist = m.countNodesAtDistances(0)
	return m, nil
}

func (m *DragonflyMachine) buildRouterGraph() {
	g := simple.NewUndirectedGraph()
	for r := 0; r < m.numRouters; r++ {
		g.AddNode(simple.Node(r))
	}
	a := m.cfg.RoutersPerGroup
	for grp := 0; grp < m.cfg.NumGroups; grp++ {
		for i := 0; i < a; i++ {
			for j := i + 1; j < a; j++ {
				g.SetEdge(g.NewEdge(simple.Node(grp*a+i), simple.Node(grp*a+j)))
			}
		}
	}
	if m.cfg.NumGroups > 1 {
		ports := a * m.cfg.GlobalPerRouter
		for grp := 0; grp < m.cfg.NumGroups; grp++ {
			for q := 0; q < ports; q++ {
				dst := m.targetGroup(grp, q)
				from := m.portRouter(grp, q)
				to := m.portRouter(dst, m.portTo(dst, grp))
				g.SetEdge(g.NewEdge(simple.Node(from), simple.Node(to)))
			}
		}
	}
	m.routers = g
}

// routerDepths runs a breadth-first search over the router graph.
func (m *DragonflyMachine) routerDepths(from int) map[int64]int {
	depth := make(map[int64]int, m.numRouters)
	var bf traverse.BreadthFirst
	bf.Walk(m.routers, simple.Node(from), func(n graph.Node, d int) bool {
		depth[n.ID()] = d
		return false
	})
	return depth
}

// countNodesAtDistances assumes every node sees the same distance profile.
func (m *DragonflyMachine) countNodesAtDistances(node int) []int {
	counts := []int{1, 0, m.cfg.NodesPerRouter - 1}
	for _, d := range m.routerDepths(m.routerOf(node)) {
		if d == 0 {
			continue
		}
		for len(counts) <= d+2 {
			counts = append(counts, 0)
		}
		counts[d+2] += m.cfg.NodesPerRouter
	}
	return counts
}

func (m *DragonflyMachine) routerOf(node int) int  { return node / m.cfg.NodesPerRouter }
func (m *DragonflyMachine) groupOf(router int) int { return router / m.cfg.RoutersPerGroup }

func (m *DragonflyMachine) circulantOffset(q int) int {
	g := m.cfg.NumGroups
	idx := q % (g - 1)
	step := idx/2 + 1
	if idx%2 == 0 {
		return step
	}
	return g - step
}

// targetGroup is the group reached through global port q of group grp.
func (m *DragonflyMachine) targetGroup(grp, q int) int {
	g := m.cfg.NumGroups
	switch m.cfg.Global {
	case Absolute:
		t := q % (g - 1)
		if t >= grp {
			t++
		}
		return t
	case Relative:
		return (grp + 1 + q%(g-1)) % g
	default:
		return (grp + m.circulantOffset(q)) % g
	}
}

// portTo is the first global port of group src that reaches group dst.
func (m *DragonflyMachine) portTo(src, dst int) int {
	g := m.cfg.NumGroups
	switch m.cfg.Global {
	case Absolute:
		if dst < src {
			return dst
		}
		return dst - 1
	case Relative:
		return (dst - src - 1 + g) % g
	default:
		d := (dst - src + g) % g
		if 2*d <= g {
			// Offset +d sits at index 2(d-1); for even G the +G/2 entry is the only one.
			return 2 * (d - 1)
		}
		return 2*(g-d-1) + 1
	}
}

func (m *DragonflyMachine) portRouter(grp, q int) int {
	return grp*m.cfg.RoutersPerGroup + q/m.cfg.GlobalPerRouter
}

func (m *DragonflyMachine) injectLink(node int) int { return node }
func (m *DragonflyMachine) ejectLink(node int) int  { return m.numNodes + node }

func (m *DragonflyMachine) localLink(from, to int) int {
	a := m.cfg.RoutersPerGroup
	return m.localBase + m.groupOf(from)*a*a + (from%a)*a + to%a
}

func (m *DragonflyMachine) globalLink(router, port int) int {
	return m.globalBase + router*m.cfg.GlobalPerRouter + port
}

// RouterHops is the closed-form number of router-to-router hops between two
// routers: 0 on the same router, 1 inside a group, and
// local?+global+local? between groups.
func (m *DragonflyMachine) RouterHops(ra, rb int) int {
	if ra == rb {
		return 0
	}
	ga, gb := m.groupOf(ra), m.groupOf(rb)
	if ga == gb {
		return 1
	}
	hops := 1
	if m.portRouter(ga, m.portTo(ga, gb)) != ra {
		hops++
	}
	if m.portRouter(gb, m.portTo(gb, ga)) != rb {
		hops++
	}
	return hops
}

func (m *DragonflyMachine) Allocate(tmi *sim.TaskMapInfo)   { m.allocate(tmi) }
func (m *DragonflyMachine) Deallocate(tmi *sim.TaskMapInfo) { m.deallocate(tmi) }

// NodeDistance is the number of links on the route from a to b.
func (m *DragonflyMachine) NodeDistance(a, b int) int {
	m.checkNode(a)
	m.checkNode(b)
	if a == b {
		return 0
	}
	return 2 + m.RouterHops(m.routerOf(a), m.routerOf(b))
}

// Route is the minimal local→global→local path: inject, an optional local hop
// to the router owning the global port towards the destination group, the
// global hop, an optional local hop, eject.
func (m *DragonflyMachine) Route(a, b int, _ float64) []int {
	m.checkNode(a)
	m.checkNode(b)
	if a == b {
		return nil
	}
	ra, rb := m.routerOf(a), m.routerOf(b)
	links := []int{m.injectLink(a)}
	if ra != rb {
		ga, gb := m.groupOf(ra), m.groupOf(rb)
		if ga == gb {
			links = append(links, m.localLink(ra, rb))
		} else {
			q := m.portTo(ga, gb)
			rs := m.portRouter(ga, q)
			if rs != ra {
				links = append(links, m.localLink(ra, rs))
			}
			links = append(links, m.globalLink(rs, q%m.cfg.GlobalPerRouter))
			rd := m.portRouter(gb, m.portTo(gb, ga))
			if rd != rb {
				links = append(links, m.localLink(rd, rb))
			}
		}
	}
	return append(links, m.ejectLink(b))
}

// FreeAtDistance searches the router graph breadth-first from center's router.
// Distance 2 is the other nodes of the same router; a router k hops away
// contributes its nodes at distance k+2.
func (m *DragonflyMachine) FreeAtDistance(center, d int) []int {
	m.checkNode(center)
	var routers []int
	switch {
	case d == 0:
		if m.free[center] {
			return []int{center}
		}
		return nil
	case d == 1:
		return nil
	case d == 2:
		routers = []int{m.routerOf(center)}
	default:
		for r, depth := range m.routerDepths(m.routerOf(center)) {
			if depth == d-2 {
				routers = append(routers, int(r))
			}
		}
	}
	var out []int
	for _, r := range sortedInts(routers) {
		for n := r * m.cfg.NodesPerRouter; n < (r+1)*m.cfg.NodesPerRouter; n++ {
			if n != center && m.free[n] {
				out = append(out, n)
			}
		}
	}
	return out
}

// NodesAtDistance returns the cached per-distance counts built from node 0.
func (m *DragonflyMachine) NodesAtDistance(d int) int {
	if d < 0 || d >= len(m.nodesAtDist) {
		return 0
	}
	return m.nodesAtDist[d]
}

// BaselineAllocation fills routers, then groups, in index order.
func (m *DragonflyMachine) BaselineAllocation(job *sim.Job) *sim.AllocInfo {
	return firstNodes(job, m.numNodes, m.coresPerNode)
}

// Config returns the dragonfly shape.
func (m *DragonflyMachine) Config() DragonflyConfig { return m.cfg }

func (m *DragonflyMachine) Clone() sim.Machine {
	cp := *m
	cp.nodeState = m.nodeState.clone()
	return &cp
}

func (m *DragonflyMachine) String() string {
	return fmt.Sprintf("DragonflyMachine(groups=%d, routers/group=%d, nodes/router=%d, global/router=%d, %s, %d cores/node)",
		m.cfg.NumGroups, m.cfg.RoutersPerGroup, m.cfg.NodesPerRouter, m.cfg.GlobalPerRouter, m.cfg.Global, m.coresPerNode)
}
