package alloc

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hpc-schedsim/schedsim/sim"
	"github.com/hpc-schedsim/schedsim/sim/machine"
)

// CurveKind selects the total order a linear allocator imposes on nodes.
type CurveKind int

const (
	// CurveSnake is a boustrophedon walk with the first axis varying fastest.
	CurveSnake CurveKind = iota
	// CurveSortedSnake is a snake walk where the longest axis varies fastest.
	CurveSortedSnake
	// CurveHilbert is a Hilbert curve; requires a 2^k x 2^k plane.
	CurveHilbert
)

func (c CurveKind) String() string {
	switch c {
	case CurveSnake:
		return "snake"
	case CurveSortedSnake:
		return "sortedsnake"
	case CurveHilbert:
		return "hilbert"
	default:
		return fmt.Sprintf("CurveKind(%d)", int(c))
	}
}

// Curve is a bijection between node indices and curve ranks.
type Curve struct {
	Kind  CurveKind
	order []int // rank -> node
	rank  []int // node -> rank
}

// NewCurve builds the ordering for m.
func NewCurve(m sim.MeshMachine, kind CurveKind) (*Curve, error) {
	dims := m.Dims()
	var pts []sim.Point
	switch kind {
	case CurveSnake:
		pts = machine.SnakeOrder(dims)
	case CurveSortedSnake:
		perm := make([]int, len(dims))
		for i := range perm {
			perm[i] = i
		}
		sort.SliceStable(perm, func(a, b int) bool { return dims[perm[a]] > dims[perm[b]] })
		box := make([]int, len(dims))
		for i, ax := range perm {
			box[i] = dims[ax]
		}
		for _, q := range machine.SnakeOrder(box) {
			p := make(sim.Point, len(dims))
			for i, ax := range perm {
				p[ax] = q[i]
			}
			pts = append(pts, p)
		}
	case CurveHilbert:
		var err error
		if pts, err = hilbertOrder(dims); err != nil {
			return nil, err
		}
	default:
		return nil, errors.Errorf("unknown curve %v", kind)
	}
	c := &Curve{Kind: kind, order: make([]int, len(pts)), rank: make([]int, len(pts))}
	for r, p := range pts {
		n := m.Index(p)
		c.order[r] = n
		c.rank[n] = r
	}
	return c, nil
}

// Rank returns node's position on the curve.
func (c *Curve) Rank(node int) int { return c.rank[node] }

// Node returns the node at rank r.
func (c *Curve) Node(r int) int { return c.order[r] }

func hilbertOrder(dims []int) ([]sim.Point, error) {
	var axes []int
	for i, d := range dims {
		if d > 1 {
			axes = append(axes, i)
		}
	}
	if len(axes) != 2 || dims[axes[0]] != dims[axes[1]] || dims[axes[0]]&(dims[axes[0]]-1) != 0 {
		return nil, errors.Errorf("hilbert curve needs a 2^k x 2^k plane, got %v", dims)
	}
	side := dims[axes[0]]
	out := make([]sim.Point, side*side)
	for d := range out {
		x, y := hilbertD2XY(side, d)
		p := make(sim.Point, len(dims))
		p[axes[0]], p[axes[1]] = x, y
		out[d] = p
	}
	return out, nil
}

func hilbertD2XY(n, d int) (int, int) {
	x, y := 0, 0
	t := d
	for s := 1; s < n; s *= 2 {
		rx := 1 & (t / 2)
		ry := 1 & (t ^ rx)
		if ry == 0 {
			if rx == 1 {
				x = s - 1 - x
				y = s - 1 - y
			}
			x, y = y, x
		}
		x += s * rx
		y += s * ry
		t /= 4
	}
	return x, y
}

// LinearPolicy chooses among free intervals along the curve.
type LinearPolicy int

const (
	FirstFit LinearPolicy = iota
	BestFit
	SortedFreeList
)

func (p LinearPolicy) String() string {
	switch p {
	case FirstFit:
		return "firstfit"
	case BestFit:
		return "bestfit"
	case SortedFreeList:
		return "sortedfreelist"
	default:
		return fmt.Sprintf("LinearPolicy(%d)", int(p))
	}
}

// LinearAllocator orders nodes along a curve and allocates contiguous
// runs of free ranks where it can.
type LinearAllocator struct {
	policy  LinearPolicy
	machine sim.MeshMachine
	curve   *Curve
}

// NewLinearAllocator builds the curve for m.
func NewLinearAllocator(m sim.MeshMachine, policy LinearPolicy, kind CurveKind) (*LinearAllocator, error) {
	c, err := NewCurve(m, kind)
	if err != nil {
		return nil, errors.Wrapf(err, "%s allocator", policy)
	}
	return &LinearAllocator{policy: policy, machine: m, curve: c}, nil
}

func (a *LinearAllocator) Name() string { return a.policy.String() }

func (a *LinearAllocator) CanAllocate(job *sim.Job) bool { return sim.CanAllocate(a.machine, job) }

// interval is a maximal run [start, start+len) of free ranks.
type interval struct{ start, len int }

func (a *LinearAllocator) freeRanks() []int {
	free := a.machine.FreeNodes()
	ranks := make([]int, len(free))
	for i, n := range free {
		ranks[i] = a.curve.Rank(n)
	}
	sort.Ints(ranks)
	return ranks
}

func intervals(ranks []int) []interval {
	var out []interval
	for i := 0; i < len(ranks); {
		j := i + 1
		for j < len(ranks) && ranks[j] == ranks[j-1]+1 {
			j++
		}
		out = append(out, interval{start: ranks[i], len: j - i})
		i = j
	}
	return out
}

func (a *LinearAllocator) Allocate(job *sim.Job) *sim.AllocInfo {
	if !a.CanAllocate(job) {
		return nil
	}
	ai := sim.NewAllocInfo(job, a.machine.CoresPerNode())
	need := len(ai.Nodes)
	ranks := a.freeRanks()

	var picked []int
	switch a.policy {
	case SortedFreeList:
		picked = ranks[:need]
	default:
		ivs := intervals(ranks)
		var chosen int
		if a.policy == FirstFit {
			chosen = firstFitStart(ivs, need)
		} else {
			chosen = bestFitStart(ivs, need)
		}
		if chosen >= 0 {
			picked = make([]int, need)
			for i := range picked {
				picked[i] = chosen + i
			}
		} else {
			picked = minSpan(ranks, need)
		}
	}
	for i, r := range picked {
		ai.Nodes[i] = a.curve.Node(r)
	}
	logrus.Debugf("%s: job %d -> ranks %v", a.Name(), job.JobNum, picked)
	return ai
}

func firstFitStart(ivs []interval, need int) int {
	for _, iv := range ivs {
		if iv.len >= need {
			return iv.start
		}
	}
	return -1
}

// bestFitStart returns the start of the smallest interval holding need ranks,
// the first such on ties, or -1.
func bestFitStart(ivs []interval, need int) int {
	best := -1
	bestLen := 0
	for _, iv := range ivs {
		if iv.len >= need && (best < 0 || iv.len < bestLen) {
			best, bestLen = iv.start, iv.len
		}
	}
	return best
}

// minSpan slides a window of n over the sorted free ranks and keeps the
// window with the smallest max-min spread, first on ties.
func minSpan(ranks []int, n int) []int {
	best := 0
	for i := 1; i+n <= len(ranks); i++ {
		if ranks[i+n-1]-ranks[i] < ranks[best+n-1]-ranks[best] {
			best = i
		}
	}
	return append([]int(nil), ranks[best:best+n]...)
}

func (a *LinearAllocator) Deallocate(*sim.AllocInfo) {}

func (a *LinearAllocator) Done() {}

func (a *LinearAllocator) Clone(m sim.Machine) sim.Allocator {
	return &LinearAllocator{policy: a.policy, machine: asMesh(m, a.Name()), curve: a.curve}
}
