package machine

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/hpc-schedsim/schedsim/sim"
)

// StencilMachine is an N-dimensional mesh, or torus when wrap-around links exist.
// Node index = x0 + d0*(x1 + d1*(x2 + ...)). Each node owns 2*N outgoing links,
// one per dimension and direction; routing is dimension-ordered.
type StencilMachine struct {
	nodeState
	dims    []int
	torus   bool
	strides []int
	center  int
}

// NewStencilMachine creates a mesh (torus=false) or torus of the given extents.
func NewStencilMachine(dims []int, torus bool, coresPerNode int) (*StencilMachine, error) {
	if len(dims) == 0 {
		return nil, errors.New("stencil machine needs at least one dimension")
	}
	if coresPerNode <= 0 {
		return nil, errors.Errorf("cores per node must be > 0, got %d", coresPerNode)
	}
	n := 1
	strides := make([]int, len(dims))
	for i, d := range dims {
		if d <= 0 {
			return nil, errors.Errorf("stencil dimension %d has extent %d; must be > 0", i, d)
		}
		strides[i] = n
		n *= d
	}
	m := &StencilMachine{
		nodeState: newNodeState(n, coresPerNode, n*2*len(dims)),
		dims:      append([]int(nil), dims...),
		torus:     torus,
		strides:   strides,
	}
	mid := make(sim.Point, len(dims))
	for i, d := range dims {
		mid[i] = d / 2
	}
	m.center = m.Index(mid)
	return m, nil
}

// Dims returns the machine extents.
func (m *StencilMachine) Dims() []int { return append([]int(nil), m.dims...) }

// Torus reports whether the machine wraps around.
func (m *StencilMachine) Torus() bool { return m.torus }

// Coord converts a node index to its coordinate.
func (m *StencilMachine) Coord(node int) sim.Point {
	m.checkNode(node)
	p := make(sim.Point, len(m.dims))
	for i, d := range m.dims {
		p[i] = node % d
		node /= d
	}
	return p
}

// Index converts a coordinate to its node index.
func (m *StencilMachine) Index(p sim.Point) int {
	if len(p) != len(m.dims) {
		panic(fmt.Sprintf("StencilMachine: point %v has %d dimensions, machine has %d", p, len(p), len(m.dims)))
	}
	idx := 0
	for i, v := range p {
		if v < 0 || v >= m.dims[i] {
			panic(fmt.Sprintf("StencilMachine: point %v outside machine %v", p, m.dims))
		}
		idx += v * m.strides[i]
	}
	return idx
}

// Contains reports whether p lies inside the machine.
func (m *StencilMachine) Contains(p sim.Point) bool {
	for i, v := range p {
		if v < 0 || v >= m.dims[i] {
			return false
		}
	}
	return true
}

func (m *StencilMachine) Allocate(tmi *sim.TaskMapInfo)   { m.allocate(tmi) }
func (m *StencilMachine) Deallocate(tmi *sim.TaskMapInfo) { m.deallocate(tmi) }

func (m *StencilMachine) axisDistance(dim, a, b int) int {
	d := a - b
	if d < 0 {
		d = -d
	}
	if m.torus && m.dims[dim]-d < d {
		d = m.dims[dim] - d
	}
	return d
}

// NodeDistance is the hop count of the dimension-ordered route.
func (m *StencilMachine) NodeDistance(a, b int) int {
	pa, pb := m.Coord(a), m.Coord(b)
	dist := 0
	for i := range m.dims {
		dist += m.axisDistance(i, pa[i], pb[i])
	}
	return dist
}

// FreeAtDistance returns the free nodes exactly d hops from center.
func (m *StencilMachine) FreeAtDistance(center, d int) []int {
	m.checkNode(center)
	var out []int
	for i, f := range m.free {
		if f && m.NodeDistance(center, i) == d {
			out = append(out, i)
		}
	}
	return out
}

// NodesAtDistance counts nodes d hops from the machine's central node.
func (m *StencilMachine) NodesAtDistance(d int) int {
	count := 0
	for i := 0; i < m.numNodes; i++ {
		if m.NodeDistance(m.center, i) == d {
			count++
		}
	}
	return count
}

func (m *StencilMachine) linkIndex(node, dim int, positive bool) int {
	l := node*2*len(m.dims) + 2*dim
	if !positive {
		l++
	}
	return l
}

// Route walks dimension 0 first, then 1, and so on. On a torus each
// dimension takes the shorter direction; ties go positive.
func (m *StencilMachine) Route(a, b int, _ float64) []int {
	if a == b {
		return nil
	}
	cur := m.Coord(a)
	dst := m.Coord(b)
	var links []int
	for dim, ext := range m.dims {
		if cur[dim] == dst[dim] {
			continue
		}
		var steps int
		var positive bool
		if m.torus {
			fwd := (dst[dim] - cur[dim] + ext) % ext
			if fwd <= ext-fwd {
				steps, positive = fwd, true
			} else {
				steps, positive = ext-fwd, false
			}
		} else {
			steps = dst[dim] - cur[dim]
			positive = steps > 0
			if steps < 0 {
				steps = -steps
			}
		}
		for s := 0; s < steps; s++ {
			links = append(links, m.linkIndex(m.Index(cur), dim, positive))
			if positive {
				cur[dim] = (cur[dim] + 1) % ext
			} else {
				cur[dim] = (cur[dim] - 1 + ext) % ext
			}
		}
	}
	return links
}

// BaselineAllocation packs the job into the smallest sub-box anchored at the
// origin, grown one axis at a time starting from the first, and fills it in
// snake order.
func (m *StencilMachine) BaselineAllocation(job *sim.Job) *sim.AllocInfo {
	ai := sim.NewAllocInfo(job, m.coresPerNode)
	need := len(ai.Nodes)
	if need > m.numNodes {
		return nil
	}
	box := BaselineBox(need, m.dims)
	for i, p := range SnakeOrder(box)[:need] {
		ai.Nodes[i] = m.Index(p)
	}
	return ai
}

// BaselineBox returns the extents of the smallest near-cubic box holding n
// nodes inside a machine of the given extents. It starts from the largest
// cube that does not exceed n and pads axes in order from the first.
func BaselineBox(n int, dims []int) []int {
	nd := len(dims)
	side := 1
	for pow(side+1, nd) <= n {
		side++
	}
	box := make([]int, nd)
	for i := range box {
		box[i] = min(side, dims[i])
	}
	for product(box) < n {
		grew := false
		for i := 0; i < nd && product(box) < n; i++ {
			if box[i] < dims[i] {
				box[i]++
				grew = true
			}
		}
		if !grew {
			break
		}
	}
	return box
}

// SnakeOrder lists every coordinate of a box in boustrophedon order:
// axis 0 varies fastest and reverses direction after every step of the
// higher axes, so consecutive points are always adjacent.
func SnakeOrder(box []int) []sim.Point {
	if len(box) == 0 {
		return []sim.Point{{}}
	}
	higher := SnakeOrder(box[1:])
	out := make([]sim.Point, 0, box[0]*len(higher))
	for i, h := range higher {
		for k := 0; k < box[0]; k++ {
			x := k
			if i%2 == 1 {
				x = box[0] - 1 - k
			}
			p := make(sim.Point, 0, len(box))
			p = append(p, x)
			p = append(p, h...)
			out = append(out, p)
		}
	}
	return out
}

func pow(b, e int) int {
	r := 1
	for i := 0; i < e; i++ {
		r *= b
	}
	return r
}

func product(xs []int) int {
	p := 1
	for _, x := range xs {
		p *= x
	}
	return p
}

func (m *StencilMachine) Clone() sim.Machine {
	return &StencilMachine{
		nodeState: m.nodeState.clone(),
		dims:      m.dims,
		torus:     m.torus,
		strides:   m.strides,
		center:    m.center,
	}
}

func (m *StencilMachine) String() string {
	parts := make([]string, len(m.dims))
	for i, d := range m.dims {
		parts[i] = fmt.Sprint(d)
	}
	kind := "mesh"
	if m.torus {
		kind = "torus"
	}
	return fmt.Sprintf("StencilMachine(%s %s, %d cores/node)", kind, strings.Join(parts, "x"), m.coresPerNode)
}
