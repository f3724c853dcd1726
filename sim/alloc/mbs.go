package alloc

import (
	"fmt"
	"math/bits"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hpc-schedsim/schedsim/sim"
)

// BlockKind selects how the block allocator splits the machine.
type BlockKind int

const (
	// BlockMBS splits a cube of side 2^r into 2^|A| cubes, one per corner,
	// where A are the machine's non-trivial axes.
	BlockMBS BlockKind = iota
	// BlockGranular is a binary buddy system: a split halves the longest axis.
	BlockGranular
	// BlockOctet is BlockMBS restricted to three non-trivial axes.
	BlockOctet
)

// block is a box of nodes of size base^rank. Blocks form a forest: a split
// block owns its children until they merge back.
type block struct {
	corner   sim.Point
	ext      []int
	rank     int
	minNode  int
	free     bool
	parent   *block
	children []*block
}

// BlockAllocator implements the MBS family over a Free Block Registry (one
// list of free blocks per rank, ordered by lowest node index).
type BlockAllocator struct {
	name    string
	kind    BlockKind
	roundUp bool
	machine sim.MeshMachine
	active  []int
	base    int

	top   []*block
	fbr   [][]*block
	owned map[int64][]*block
}

// NewMBSAllocator creates the multiple buddy allocator over m.
func NewMBSAllocator(m sim.MeshMachine) *BlockAllocator {
	return newBlockAllocator("mbs", m, BlockMBS, false)
}

// NewGranularMBSAllocator creates the binary buddy variant.
func NewGranularMBSAllocator(m sim.MeshMachine) *BlockAllocator {
	return newBlockAllocator("granularmbs", m, BlockGranular, false)
}

// NewOctetMBSAllocator requires a machine with exactly three non-trivial axes.
func NewOctetMBSAllocator(m sim.MeshMachine) (*BlockAllocator, error) {
	if n := len(activeAxes(m.Dims())); n != 3 {
		return nil, errors.Errorf("octetmbs needs a 3-dimensional machine, %s has %d non-trivial axes", m, n)
	}
	return newBlockAllocator("octetmbs", m, BlockOctet, false), nil
}

// NewRoundUpMBSAllocator rounds each request up to a single block and hands
// back the unused part of it.
func NewRoundUpMBSAllocator(m sim.MeshMachine) *BlockAllocator {
	return newBlockAllocator("roundupmbs", m, BlockMBS, true)
}

func activeAxes(dims []int) []int {
	var out []int
	for i, d := range dims {
		if d > 1 {
			out = append(out, i)
		}
	}
	return out
}

func newBlockAllocator(name string, m sim.MeshMachine, kind BlockKind, roundUp bool) *BlockAllocator {
	a := &BlockAllocator{
		name:    name,
		kind:    kind,
		roundUp: roundUp,
		machine: m,
		active:  activeAxes(m.Dims()),
		owned:   make(map[int64][]*block),
	}
	a.base = 2
	if kind != BlockGranular {
		a.base = 1 << len(a.active)
	}
	origin := make(sim.Point, len(m.Dims()))
	if kind == BlockGranular {
		a.tileBinary(m.Dims())
	} else {
		a.tileCubes(origin, m.Dims())
	}
	maxRank := 0
	for _, b := range a.top {
		maxRank = max(maxRank, b.rank)
	}
	a.fbr = make([][]*block, maxRank+1)
	for _, b := range a.top {
		a.release(b)
	}
	logrus.Debugf("%s: %d initial blocks, max rank %d", name, len(a.top), maxRank)
	return a
}

func (a *BlockAllocator) newBlock(corner sim.Point, ext []int, rank int, parent *block) *block {
	return &block{corner: corner, ext: ext, rank: rank, minNode: a.machine.Index(corner), parent: parent}
}

// tileCubes covers the box with the largest power-of-two cubes that fit on a
// grid, then recurses into the disjoint remainder slabs.
func (a *BlockAllocator) tileCubes(corner sim.Point, ext []int) {
	if len(a.active) == 0 {
		a.top = append(a.top, a.newBlock(corner.Clone(), append([]int(nil), ext...), 0, nil))
		return
	}
	minSide := -1
	for _, ax := range a.active {
		if ext[ax] == 0 {
			return
		}
		if minSide < 0 || ext[ax] < minSide {
			minSide = ext[ax]
		}
	}
	rank := bits.Len(uint(minSide)) - 1
	side := 1 << rank
	counts := make([]int, len(a.active))
	for i, ax := range a.active {
		counts[i] = ext[ax] / side
	}
	grid := make([]int, len(a.active))
	for {
		c := corner.Clone()
		e := append([]int(nil), ext...)
		for i, ax := range a.active {
			c[ax] += grid[i] * side
			e[ax] = side
		}
		a.top = append(a.top, a.newBlock(c, e, rank, nil))
		i := 0
		for ; i < len(grid); i++ {
			grid[i]++
			if grid[i] < counts[i] {
				break
			}
			grid[i] = 0
		}
		if i == len(grid) {
			break
		}
	}
	for idx, ax := range a.active {
		rest := ext[ax] - counts[idx]*side
		if rest == 0 {
			continue
		}
		c := corner.Clone()
		e := append([]int(nil), ext...)
		c[ax] += counts[idx] * side
		e[ax] = rest
		for j, prev := range a.active[:idx] {
			e[prev] = counts[j] * side
		}
		a.tileCubes(c, e)
	}
}

// tileBinary decomposes every axis into power-of-two segments and takes the
// cartesian product of the segments.
func (a *BlockAllocator) tileBinary(dims []int) {
	type seg struct{ off, len int }
	segs := make([][]seg, len(dims))
	for i, d := range dims {
		off := 0
		for b := 1 << (bits.Len(uint(d)) - 1); b > 0; b >>= 1 {
			if d&b != 0 {
				segs[i] = append(segs[i], seg{off, b})
				off += b
			}
		}
	}
	pick := make([]int, len(dims))
	for {
		c := make(sim.Point, len(dims))
		e := make([]int, len(dims))
		size := 1
		for i := range dims {
			s := segs[i][pick[i]]
			c[i], e[i] = s.off, s.len
			size *= s.len
		}
		a.top = append(a.top, a.newBlock(c, e, bits.Len(uint(size))-1, nil))
		i := 0
		for ; i < len(pick); i++ {
			pick[i]++
			if pick[i] < len(segs[i]) {
				break
			}
			pick[i] = 0
		}
		if i == len(pick) {
			return
		}
	}
}

func (a *BlockAllocator) size(rank int) int {
	s := 1
	for i := 0; i < rank; i++ {
		s *= a.base
	}
	return s
}

// split creates b's children. They start out neither free nor registered.
func (a *BlockAllocator) split(b *block) []*block {
	if b.rank == 0 {
		panic(fmt.Sprintf("%s: cannot split rank-0 block at %v", a.name, b.corner))
	}
	if a.kind == BlockGranular {
		axis := 0
		for i, e := range b.ext {
			if e > b.ext[axis] {
				axis = i
			}
		}
		half := b.ext[axis] / 2
		for k := 0; k < 2; k++ {
			c := b.corner.Clone()
			e := append([]int(nil), b.ext...)
			c[axis] += k * half
			e[axis] = half
			b.children = append(b.children, a.newBlock(c, e, b.rank-1, b))
		}
		return b.children
	}
	half := b.ext[a.active[0]] / 2
	for mask := 0; mask < a.base; mask++ {
		c := b.corner.Clone()
		e := append([]int(nil), b.ext...)
		for i, ax := range a.active {
			c[ax] += (mask >> i & 1) * half
			e[ax] = half
		}
		b.children = append(b.children, a.newBlock(c, e, b.rank-1, b))
	}
	return b.children
}

// register adds b to the registry in lowest-node order.
func (a *BlockAllocator) register(b *block) {
	b.free = true
	list := a.fbr[b.rank]
	i := sort.Search(len(list), func(i int) bool { return list[i].minNode > b.minNode })
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = b
	a.fbr[b.rank] = list
}

func (a *BlockAllocator) unregister(b *block) {
	list := a.fbr[b.rank]
	for i, x := range list {
		if x == b {
			a.fbr[b.rank] = append(list[:i], list[i+1:]...)
			b.free = false
			return
		}
	}
	panic(fmt.Sprintf("%s: block at %v rank %d not in the free registry", a.name, b.corner, b.rank))
}

// release frees b and merges buddies upwards while every sibling is free.
func (a *BlockAllocator) release(b *block) {
	a.register(b)
	for p := b.parent; p != nil; p = p.parent {
		for _, c := range p.children {
			if !c.free || len(c.children) > 0 {
				return
			}
		}
		for _, c := range p.children {
			a.unregister(c)
		}
		p.children = nil
		a.register(p)
	}
}

// take removes a free block of exactly rank r, splitting the smallest larger
// free block when needed. Returns nil when no block of rank >= r is free.
func (a *BlockAllocator) take(r int) *block {
	for rr := r; rr < len(a.fbr); rr++ {
		if len(a.fbr[rr]) == 0 {
			continue
		}
		b := a.fbr[rr][0]
		a.unregister(b)
		for b.rank > r {
			kids := a.split(b)
			for _, k := range kids[1:] {
				a.register(k)
			}
			b = kids[0]
		}
		return b
	}
	return nil
}

// requestBlocks factors n into base-b digits (the request block registry)
// and satisfies it top-down, pushing unmet demand to the next lower rank.
func (a *BlockAllocator) requestBlocks(n int) []*block {
	maxRank := len(a.fbr) - 1
	need := make([]int, maxRank+1)
	rem := n
	for r := maxRank; r >= 0; r-- {
		need[r] = rem / a.size(r)
		rem %= a.size(r)
	}
	var taken []*block
	for r := maxRank; r >= 0; r-- {
		for need[r] > 0 {
			b := a.take(r)
			if b == nil {
				break
			}
			taken = append(taken, b)
			need[r]--
		}
		if need[r] > 0 {
			if r == 0 {
				panic(fmt.Sprintf("%s: %d nodes short while allocating %d", a.name, need[0], n))
			}
			need[r-1] += need[r] * a.base
		}
	}
	return taken
}

// partial keeps the first need nodes of b and returns the rest to the registry.
func (a *BlockAllocator) partial(b *block, need int) []*block {
	if need == a.size(b.rank) {
		return []*block{b}
	}
	var taken []*block
	for _, c := range a.split(b) {
		cs := a.size(c.rank)
		switch {
		case need >= cs:
			taken = append(taken, c)
			need -= cs
		case need > 0:
			taken = append(taken, a.partial(c, need)...)
			need = 0
		default:
			a.register(c)
		}
	}
	return taken
}

func (a *BlockAllocator) Name() string { return a.name }

func (a *BlockAllocator) CanAllocate(job *sim.Job) bool { return sim.CanAllocate(a.machine, job) }

func (a *BlockAllocator) Allocate(job *sim.Job) *sim.AllocInfo {
	if !a.CanAllocate(job) {
		return nil
	}
	if _, ok := a.owned[job.JobNum]; ok {
		panic(fmt.Sprintf("%s: job %d allocated twice", a.name, job.JobNum))
	}
	ai := sim.NewAllocInfo(job, a.machine.CoresPerNode())
	need := len(ai.Nodes)
	var taken []*block
	if a.roundUp {
		r := 0
		for a.size(r) < need {
			r++
		}
		if r < len(a.fbr) {
			if b := a.take(r); b != nil {
				taken = a.partial(b, need)
			}
		}
	}
	if taken == nil {
		taken = a.requestBlocks(need)
	}
	a.owned[job.JobNum] = taken
	i := 0
	for _, b := range taken {
		for _, n := range a.blockNodes(b) {
			ai.Nodes[i] = n
			i++
		}
	}
	logrus.Debugf("%s: job %d took %d blocks -> %v", a.name, job.JobNum, len(taken), ai.Nodes)
	return ai
}

func (a *BlockAllocator) blockNodes(b *block) []int {
	out := make([]int, 0, a.size(b.rank))
	p := b.corner.Clone()
	var walk func(axis int)
	walk = func(axis int) {
		if axis == len(p) {
			out = append(out, a.machine.Index(p))
			return
		}
		for k := 0; k < b.ext[axis]; k++ {
			p[axis] = b.corner[axis] + k
			walk(axis + 1)
		}
		p[axis] = b.corner[axis]
	}
	walk(0)
	return out
}

func (a *BlockAllocator) Deallocate(ai *sim.AllocInfo) {
	blocks, ok := a.owned[ai.Job.JobNum]
	if !ok {
		panic(fmt.Sprintf("%s: deallocating job %d which holds no blocks", a.name, ai.Job.JobNum))
	}
	delete(a.owned, ai.Job.JobNum)
	for _, b := range blocks {
		a.release(b)
	}
}

func (a *BlockAllocator) Done() {
	if len(a.owned) > 0 {
		logrus.Warnf("%s: %d jobs still hold blocks at end of run", a.name, len(a.owned))
	}
}

// FBRSnapshot lists, per rank, the lowest node index of every free block.
func (a *BlockAllocator) FBRSnapshot() [][]int {
	out := make([][]int, len(a.fbr))
	for r, list := range a.fbr {
		out[r] = make([]int, len(list))
		for i, b := range list {
			out[r][i] = b.minNode
		}
	}
	return out
}

func (a *BlockAllocator) Clone(m sim.Machine) sim.Allocator {
	cp := &BlockAllocator{
		name:    a.name,
		kind:    a.kind,
		roundUp: a.roundUp,
		machine: asMesh(m, a.name),
		active:  a.active,
		base:    a.base,
		fbr:     make([][]*block, len(a.fbr)),
		owned:   make(map[int64][]*block, len(a.owned)),
	}
	remap := make(map[*block]*block)
	var dup func(b, parent *block) *block
	dup = func(b, parent *block) *block {
		nb := &block{corner: b.corner, ext: b.ext, rank: b.rank, minNode: b.minNode, free: b.free, parent: parent}
		remap[b] = nb
		for _, c := range b.children {
			nb.children = append(nb.children, dup(c, nb))
		}
		return nb
	}
	for _, b := range a.top {
		cp.top = append(cp.top, dup(b, nil))
	}
	for r, list := range a.fbr {
		for _, b := range list {
			cp.fbr[r] = append(cp.fbr[r], remap[b])
		}
	}
	for job, blocks := range a.owned {
		for _, b := range blocks {
			cp.owned[job] = append(cp.owned[job], remap[b])
		}
	}
	return cp
}
