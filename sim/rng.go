package sim

import (
	"fmt"
	"hash/fnv"
	"math/rand"
)

// SimulationKey is the master seed of a run. Equal keys and equal inputs
// give identical schedules, node choices and mappings.
type SimulationKey int64

// NewSimulationKey wraps seed.
func NewSimulationKey(seed int64) SimulationKey {
	return SimulationKey(seed)
}

// Stream names handed to SimContext.RNG.
const (
	// SubsystemAllocator seeds randomized allocators with the master seed itself.
	SubsystemAllocator = "allocator"
	// SubsystemTaskMapper seeds randomized task mappers.
	SubsystemTaskMapper = "taskmapper"
)

// PartitionedRNG hands out one *rand.Rand per named stream so that drawing
// from one stream never shifts another. The allocator stream uses the master
// seed; every other stream XORs it with the FNV-1a hash of its name.
// Not safe for concurrent use.
type PartitionedRNG struct {
	key        SimulationKey
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates the streams for key lazily.
func NewPartitionedRNG(key SimulationKey) *PartitionedRNG {
	return &PartitionedRNG{key: key, subsystems: make(map[string]*rand.Rand)}
}

// ForSubsystem returns the stream for name, creating it on first use.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if r, ok := p.subsystems[name]; ok {
		return r
	}
	seed := int64(p.key)
	if name != SubsystemAllocator {
		seed ^= fnv1a64(name)
	}
	r := rand.New(rand.NewSource(seed))
	p.subsystems[name] = r
	return r
}

func (p *PartitionedRNG) Key() SimulationKey { return p.key }

func fnv1a64(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int64(h.Sum64())
}

// SimContext carries the explicit sequence state of one simulation:
// the job-number counter and the RNG streams. It replaces process-wide
// statics so several simulations can coexist in one process.
type SimContext struct {
	nextJobNum int64
	rng        *PartitionedRNG
}

// NewSimContext creates a context whose first job number is 1.
func NewSimContext(seed int64) *SimContext {
	return &SimContext{
		nextJobNum: 1,
		rng:        NewPartitionedRNG(NewSimulationKey(seed)),
	}
}

// NextJobNum returns a fresh, monotonically increasing job number.
func (c *SimContext) NextJobNum() int64 {
	n := c.nextJobNum
	c.nextJobNum++
	return n
}

// PeekJobNum returns the number the next job will receive.
func (c *SimContext) PeekJobNum() int64 {
	return c.nextJobNum
}

// RNG returns the stream for the named subsystem.
func (c *SimContext) RNG(subsystem string) *rand.Rand {
	return c.rng.ForSubsystem(subsystem)
}

func (c *SimContext) String() string {
	return fmt.Sprintf("SimContext(nextJob=%d, key=%d)", c.nextJobNum, c.rng.Key())
}
