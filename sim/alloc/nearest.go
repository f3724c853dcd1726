package alloc

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/hpc-schedsim/schedsim/sim"
)

// NearestAllocator is the center-based family: for every candidate center it
// gathers the nearest free nodes, scores the resulting point set and keeps the
// lowest (score, tiebreak) pair. The first center wins ties.
type NearestAllocator struct {
	name      string
	machine   sim.MeshMachine
	centers   CenterGenerator
	collector PointCollector
	scorer    Scorer
}

// NewNearestAllocator composes the three strategies into an allocator.
func NewNearestAllocator(name string, m sim.MeshMachine, c CenterGenerator, p PointCollector, s Scorer) *NearestAllocator {
	if c == nil || p == nil || s == nil {
		panic(fmt.Sprintf("nearest allocator %q: every strategy must be set", name))
	}
	return &NearestAllocator{name: name, machine: m, centers: c, collector: p, scorer: s}
}

// NewMMAllocator: intersection centers, L1 shells, pairwise L1 score.
func NewMMAllocator(m sim.MeshMachine) *NearestAllocator {
	return NewNearestAllocator("MM", m, IntersectionCenters{}, L1Collector{}, PairwiseL1Scorer{})
}

// NewMC1x1Allocator: free centers, L-infinity shells, L-infinity score.
func NewMC1x1Allocator(m sim.MeshMachine) *NearestAllocator {
	return NewNearestAllocator("MC1x1", m, FreeCenters{}, LInfCollector{}, LInfScorer{})
}

// NewOldMC1x1Allocator is MC1x1 considering every location as a center.
func NewOldMC1x1Allocator(m sim.MeshMachine) *NearestAllocator {
	return NewNearestAllocator("OldMC1x1", m, AllCenters{}, LInfCollector{}, LInfScorer{})
}

// NewGenAlgAllocator: free centers, greedy L-infinity shells and a
// tiebreaker that favors allocations leaving free space next to them.
func NewGenAlgAllocator(m sim.MeshMachine) *NearestAllocator {
	return NewNearestAllocator("GenAlg", m, FreeCenters{}, GreedyLInfCollector{},
		LInfScorer{Tiebreaker: &Tiebreaker{MaxShells: 1, AvailFactor: 1}})
}

func (a *NearestAllocator) Name() string { return "nearest[" + a.name + "]" }

func (a *NearestAllocator) CanAllocate(job *sim.Job) bool { return sim.CanAllocate(a.machine, job) }

func (a *NearestAllocator) Allocate(job *sim.Job) *sim.AllocInfo {
	if !a.CanAllocate(job) {
		return nil
	}
	ai := sim.NewAllocInfo(job, a.machine.CoresPerNode())
	need := len(ai.Nodes)
	freeNodes := a.machine.FreeNodes()
	if len(freeNodes) == need {
		copy(ai.Nodes, freeNodes)
		return ai
	}
	free := make([]sim.Point, len(freeNodes))
	for i, n := range freeNodes {
		free[i] = a.machine.Coord(n)
	}

	var best []sim.Point
	var bestScore, bestTie float64
	for _, c := range a.centers.Centers(a.machine, free) {
		pts := a.collector.Collect(c, free, need)
		if len(pts) < need {
			continue
		}
		score, tie := a.scorer.Score(a.machine, c, pts)
		if best == nil || score < bestScore || (score == bestScore && tie < bestTie) {
			best, bestScore, bestTie = pts, score, tie
		}
	}
	if best == nil {
		panic(fmt.Sprintf("%s: no center produced %d nodes for job %d with %d free",
			a.Name(), need, job.JobNum, len(freeNodes)))
	}
	for i, p := range best {
		ai.Nodes[i] = a.machine.Index(p)
	}
	logrus.Debugf("%s: job %d score %.1f tie %.2f -> %v", a.Name(), job.JobNum, bestScore, bestTie, ai.Nodes)
	return ai
}

func (a *NearestAllocator) Deallocate(*sim.AllocInfo) {}

func (a *NearestAllocator) Done() {}

func (a *NearestAllocator) Clone(m sim.Machine) sim.Allocator {
	return NewNearestAllocator(a.name, asMesh(m, a.Name()), a.centers, a.collector, a.scorer)
}

func asMesh(m sim.Machine, who string) sim.MeshMachine {
	mm, ok := m.(sim.MeshMachine)
	if !ok {
		panic(fmt.Sprintf("%s requires a mesh or torus machine, got %s", who, m))
	}
	return mm
}

// CenterGenerator proposes candidate allocation centers.
type CenterGenerator interface {
	Centers(m sim.MeshMachine, free []sim.Point) []sim.Point
}

// AllCenters proposes every location of the machine.
type AllCenters struct{}

func (AllCenters) Centers(m sim.MeshMachine, _ []sim.Point) []sim.Point {
	out := make([]sim.Point, m.NumNodes())
	for i := range out {
		out[i] = m.Coord(i)
	}
	return out
}

// FreeCenters proposes only free locations.
type FreeCenters struct{}

func (FreeCenters) Centers(_ sim.MeshMachine, free []sim.Point) []sim.Point { return free }

// IntersectionCenters proposes every point whose coordinates are each taken
// from some free point, restricted to combinations of two free points.
type IntersectionCenters struct{}

func (IntersectionCenters) Centers(m sim.MeshMachine, free []sim.Point) []sim.Point {
	nd := len(m.Dims())
	seen := make(map[int]bool)
	for _, p := range free {
		for _, q := range free {
			for mask := 0; mask < 1<<nd; mask++ {
				c := make(sim.Point, nd)
				for d := 0; d < nd; d++ {
					if mask&(1<<d) != 0 {
						c[d] = q[d]
					} else {
						c[d] = p[d]
					}
				}
				seen[m.Index(c)] = true
			}
		}
	}
	idx := make([]int, 0, len(seen))
	for i := range seen {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	out := make([]sim.Point, len(idx))
	for i, n := range idx {
		out[i] = m.Coord(n)
	}
	return out
}

// PointCollector gathers n free points near a center. It returns fewer than n
// only when too few points are free.
type PointCollector interface {
	Collect(center sim.Point, free []sim.Point, n int) []sim.Point
}

func nearestBy(center sim.Point, free []sim.Point, n int, dist func(a, b sim.Point) int) []sim.Point {
	pts := append([]sim.Point(nil), free...)
	sort.SliceStable(pts, func(i, j int) bool { return dist(center, pts[i]) < dist(center, pts[j]) })
	if len(pts) > n {
		pts = pts[:n]
	}
	return pts
}

// L1Collector takes the n free points closest in Manhattan distance.
type L1Collector struct{}

func (L1Collector) Collect(center sim.Point, free []sim.Point, n int) []sim.Point {
	return nearestBy(center, free, n, sim.Point.L1)
}

// LInfCollector takes the n free points closest in Chebyshev distance.
type LInfCollector struct{}

func (LInfCollector) Collect(center sim.Point, free []sim.Point, n int) []sim.Point {
	return nearestBy(center, free, n, sim.Point.LInf)
}

// GreedyLInfCollector takes whole L-infinity shells while they fit, then fills
// the last shell one point at a time, each time picking the point with the
// smallest total L1 distance to what is already selected.
type GreedyLInfCollector struct{}

func (GreedyLInfCollector) Collect(center sim.Point, free []sim.Point, n int) []sim.Point {
	if len(free) < n {
		return nil
	}
	sorted := nearestBy(center, free, len(free), sim.Point.LInf)
	out := make([]sim.Point, 0, n)
	i := 0
	for i < len(sorted) && len(out) < n {
		r := center.LInf(sorted[i])
		j := i
		for j < len(sorted) && center.LInf(sorted[j]) == r {
			j++
		}
		shell := sorted[i:j]
		if len(out)+len(shell) <= n {
			out = append(out, shell...)
			i = j
			continue
		}
		remaining := append([]sim.Point(nil), shell...)
		for len(out) < n {
			bi, bd := 0, -1
			for k, p := range remaining {
				d := 0
				for _, q := range out {
					d += p.L1(q)
				}
				if bd < 0 || d < bd {
					bi, bd = k, d
				}
			}
			out = append(out, remaining[bi])
			remaining = append(remaining[:bi], remaining[bi+1:]...)
		}
	}
	return out
}

// Scorer rates a candidate point set; lower is better. The second value breaks ties.
type Scorer interface {
	Score(m sim.MeshMachine, center sim.Point, pts []sim.Point) (score, tie float64)
}

// PairwiseL1Scorer sums the L1 distance over every pair of points.
type PairwiseL1Scorer struct{}

func (PairwiseL1Scorer) Score(_ sim.MeshMachine, _ sim.Point, pts []sim.Point) (float64, float64) {
	s := 0
	for i := range pts {
		for j := i + 1; j < len(pts); j++ {
			s += pts[i].L1(pts[j])
		}
	}
	return float64(s), 0
}

// L1Scorer sums the L1 distance from the center.
type L1Scorer struct {
	Tiebreaker *Tiebreaker
}

func (s L1Scorer) Score(m sim.MeshMachine, center sim.Point, pts []sim.Point) (float64, float64) {
	sum := 0
	for _, p := range pts {
		sum += center.L1(p)
	}
	return float64(sum), s.Tiebreaker.tie(m, center, pts)
}

// LInfScorer sums the L-infinity distance from the center.
type LInfScorer struct {
	Tiebreaker *Tiebreaker
}

func (s LInfScorer) Score(m sim.MeshMachine, center sim.Point, pts []sim.Point) (float64, float64) {
	sum := 0
	for _, p := range pts {
		sum += center.LInf(p)
	}
	return float64(sum), s.Tiebreaker.tie(m, center, pts)
}

// Tiebreaker refines equal scores. Free nodes within MaxShells L-infinity
// shells beyond the allocation's radius earn AvailFactor each; neighbors
// outside the machine cost WallFactor and busy neighbors cost BorderFactor;
// CurveFactor biases towards centers early in index order.
type Tiebreaker struct {
	MaxShells    int
	AvailFactor  float64
	WallFactor   float64
	BorderFactor float64
	CurveFactor  float64
}

func (t *Tiebreaker) tie(m sim.MeshMachine, center sim.Point, pts []sim.Point) float64 {
	if t == nil {
		return 0
	}
	chosen := make(map[int]bool, len(pts))
	radius := 0
	for _, p := range pts {
		chosen[m.Index(p)] = true
		radius = max(radius, center.LInf(p))
	}
	var v float64
	if t.AvailFactor != 0 && t.MaxShells > 0 {
		avail := 0
		for _, n := range m.FreeNodes() {
			if chosen[n] {
				continue
			}
			d := center.LInf(m.Coord(n))
			if d > radius && d <= radius+t.MaxShells {
				avail++
			}
		}
		v -= t.AvailFactor * float64(avail)
	}
	if t.WallFactor != 0 || t.BorderFactor != 0 {
		dims := m.Dims()
		walls, borders := 0, 0
		for _, p := range pts {
			for d := range dims {
				for _, step := range []int{-1, 1} {
					q := p.Clone()
					q[d] += step
					if m.Torus() {
						q[d] = (q[d] + dims[d]) % dims[d]
					}
					if q[d] < 0 || q[d] >= dims[d] {
						walls++
						continue
					}
					n := m.Index(q)
					if !chosen[n] && !m.IsFree(n) {
						borders++
					}
				}
			}
		}
		v += t.WallFactor*float64(walls) + t.BorderFactor*float64(borders)
	}
	if t.CurveFactor != 0 {
		v += t.CurveFactor * float64(m.Index(center)) / float64(m.NumNodes())
	}
	return v
}
