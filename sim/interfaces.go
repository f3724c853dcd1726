package sim

// Machine is the topology abstraction: node state plus distance and route queries.
// Allocate and Deallocate must be called in matching pairs per job; both panic
// on double-allocation or double-free.
type Machine interface {
	NumNodes() int
	CoresPerNode() int
	NumFreeNodes() int
	IsFree(node int) bool
	// FreeNodes returns free node indices in ascending order.
	FreeNodes() []int

	Allocate(tmi *TaskMapInfo)
	Deallocate(tmi *TaskMapInfo)

	NodeDistance(a, b int) int
	// FreeAtDistance returns the free nodes exactly d away from center, ascending.
	FreeAtDistance(center, d int) []int
	// NodesAtDistance returns how many nodes lie exactly d away from a reference node.
	NodesAtDistance(d int) int
	// Route returns the ordered link indices a message from a to b traverses.
	Route(a, b int, weight float64) []int
	// BaselineAllocation returns a canonical compact placement of job,
	// independent of the current free state.
	BaselineAllocation(job *Job) *AllocInfo

	NumLinks() int
	LinkTraffic(link int) float64

	// Clone returns a deep copy including node and link state.
	Clone() Machine
	// Reset frees every node and clears link traffic.
	Reset()
	String() string
}

// MeshMachine is a Machine whose nodes have N-dimensional coordinates.
type MeshMachine interface {
	Machine
	Dims() []int
	Torus() bool
	Coord(node int) Point
	Index(p Point) int
}

// Allocator chooses the nodes a job runs on. Allocate is a query:
// the Machine is only mutated by the driver afterwards.
type Allocator interface {
	Name() string
	CanAllocate(job *Job) bool
	// Allocate returns nil when the job cannot be placed.
	Allocate(job *Job) *AllocInfo
	Deallocate(ai *AllocInfo)
	Done()
	// Clone returns an allocator with copied bookkeeping bound to m.
	Clone(m Machine) Allocator
}

// MappingAllocator decides allocation and task mapping jointly. Mapper
// returns the TaskMapper that serves the mappings it computed; a clone's
// Mapper is paired with that clone.
type MappingAllocator interface {
	Allocator
	Mapper() TaskMapper
}

// TaskMapper assigns each task of an allocated job to one node.
type TaskMapper interface {
	Name() string
	MapTasks(ai *AllocInfo) *TaskMapInfo
	Clone(m Machine) TaskMapper
}

// Scheduler decides the order and time at which jobs start.
// The driver calls TryToStart until it returns nil; every non-nil
// result is immediately followed by allocate, map, Machine.Allocate and StartNext.
type Scheduler interface {
	Name() string
	JobArrives(job *Job, time int64, m Machine)
	JobFinishes(job *Job, time int64, m Machine)
	TryToStart(time int64, m Machine) *Job
	StartNext(time int64, m Machine)
	Reset()
	Done()
	// Copy returns an independent scheduler holding the given running and
	// waiting jobs in the same internal state as the receiver.
	Copy(running, toRun []*Job) Scheduler
}

// Waker is implemented by schedulers that plan starts at future times
// with no arrival or completion to trigger them.
type Waker interface {
	// NextStartTime returns the earliest planned start strictly after now.
	NextStartTime(now int64) (int64, bool)
}

//go:generate mockgen -destination=mocks/mock_stats.go -package=mocks github.com/hpc-schedsim/schedsim/sim StatsRecorder

// StatsRecorder receives the documented transitions of every job.
type StatsRecorder interface {
	JobArrives(job *Job, time int64)
	JobStarts(tmi *TaskMapInfo, time int64)
	JobFinishes(tmi *TaskMapInfo, time int64)
	RecordFST(job *Job, fst int64)
	Done()
}

// CanAllocate is the base feasibility check shared by allocators:
// enough free nodes for ceil(procs/coresPerNode).
func CanAllocate(m Machine, job *Job) bool {
	return m.NumFreeNodes() >= job.NodesNeeded(m.CoresPerNode())
}
