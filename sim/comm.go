package sim

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

// CommType names the structure of a job's task communication graph.
type CommType int

const (
	// CommAllToAll: every task exchanges one unit with every other task.
	CommAllToAll CommType = iota
	// CommMesh: tasks form an X*Y*Z mesh and talk to their mesh neighbors.
	CommMesh
	// CommCustom: explicit sparse weight matrix.
	CommCustom
	// CommCoordinate: explicit sparse matrix plus per-task coordinates.
	CommCoordinate
)

func (c CommType) String() string {
	switch c {
	case CommAllToAll:
		return "alltoall"
	case CommMesh:
		return "mesh"
	case CommCustom:
		return "custom"
	case CommCoordinate:
		return "coordinate"
	default:
		return fmt.Sprintf("CommType(%d)", int(c))
	}
}

// CommEntry is one directed edge of a custom communication matrix.
type CommEntry struct {
	From, To int
	Weight   float64
}

// TaskCommInfo describes how a job's tasks communicate.
// ALLTOALL and MESH are derived on demand; CUSTOM and COORDINATE store
// explicit adjacency. Immutable once built.
type TaskCommInfo struct {
	Type     CommType
	NumTasks int
	MeshDims [3]int

	adj    []map[int]float64
	Coords [][]float64
}

// NewAllToAllComm builds an all-to-all pattern over n tasks.
func NewAllToAllComm(n int) *TaskCommInfo {
	return &TaskCommInfo{Type: CommAllToAll, NumTasks: n}
}

// NewMeshComm builds a 3-D mesh pattern of x*y*z tasks.
func NewMeshComm(x, y, z int) (*TaskCommInfo, error) {
	if x <= 0 || y <= 0 || z <= 0 {
		return nil, errors.Errorf("mesh dimensions must be positive, got %dx%dx%d", x, y, z)
	}
	return &TaskCommInfo{Type: CommMesh, NumTasks: x * y * z, MeshDims: [3]int{x, y, z}}, nil
}

// NewCustomComm builds an explicit sparse pattern.
func NewCustomComm(n int, entries []CommEntry) (*TaskCommInfo, error) {
	adj, err := buildAdjacency(n, entries)
	if err != nil {
		return nil, err
	}
	return &TaskCommInfo{Type: CommCustom, NumTasks: n, adj: adj}, nil
}

// NewCoordinateComm builds an explicit sparse pattern with task coordinates.
func NewCoordinateComm(n int, entries []CommEntry, coords [][]float64) (*TaskCommInfo, error) {
	if len(coords) != n {
		return nil, errors.Errorf("coordinate pattern has %d coordinates for %d tasks", len(coords), n)
	}
	adj, err := buildAdjacency(n, entries)
	if err != nil {
		return nil, err
	}
	return &TaskCommInfo{Type: CommCoordinate, NumTasks: n, adj: adj, Coords: coords}, nil
}

func buildAdjacency(n int, entries []CommEntry) ([]map[int]float64, error) {
	if n <= 0 {
		return nil, errors.Errorf("communication pattern needs a positive task count, got %d", n)
	}
	adj := make([]map[int]float64, n)
	for _, e := range entries {
		if e.From < 0 || e.From >= n || e.To < 0 || e.To >= n {
			return nil, errors.Errorf("communication entry %d->%d outside task range [0,%d)", e.From, e.To, n)
		}
		if e.Weight < 0 {
			return nil, errors.Errorf("communication entry %d->%d has negative weight %v", e.From, e.To, e.Weight)
		}
		if e.From == e.To || e.Weight == 0 {
			continue
		}
		if adj[e.From] == nil {
			adj[e.From] = make(map[int]float64)
		}
		adj[e.From][e.To] += e.Weight
	}
	return adj, nil
}

func (c *TaskCommInfo) meshCoord(task int) (int, int, int) {
	x := c.MeshDims[0]
	y := c.MeshDims[1]
	return task % x, (task / x) % y, task / (x * y)
}

func (c *TaskCommInfo) meshIndex(x, y, z int) int {
	return x + c.MeshDims[0]*(y+c.MeshDims[1]*z)
}

// Neighbors returns the tasks the given task sends to, ascending.
func (c *TaskCommInfo) Neighbors(task int) []int {
	if task < 0 || task >= c.NumTasks {
		panic(fmt.Sprintf("TaskCommInfo.Neighbors: task %d outside [0,%d)", task, c.NumTasks))
	}
	var out []int
	switch c.Type {
	case CommAllToAll:
		out = make([]int, 0, c.NumTasks-1)
		for t := 0; t < c.NumTasks; t++ {
			if t != task {
				out = append(out, t)
			}
		}
	case CommMesh:
		x, y, z := c.meshCoord(task)
		d := c.MeshDims
		if x > 0 {
			out = append(out, c.meshIndex(x-1, y, z))
		}
		if x < d[0]-1 {
			out = append(out, c.meshIndex(x+1, y, z))
		}
		if y > 0 {
			out = append(out, c.meshIndex(x, y-1, z))
		}
		if y < d[1]-1 {
			out = append(out, c.meshIndex(x, y+1, z))
		}
		if z > 0 {
			out = append(out, c.meshIndex(x, y, z-1))
		}
		if z < d[2]-1 {
			out = append(out, c.meshIndex(x, y, z+1))
		}
		sort.Ints(out)
	default:
		out = make([]int, 0, len(c.adj[task]))
		for t := range c.adj[task] {
			out = append(out, t)
		}
		sort.Ints(out)
	}
	return out
}

// Weight returns the traffic sent from task i to task j.
func (c *TaskCommInfo) Weight(i, j int) float64 {
	if i == j {
		return 0
	}
	switch c.Type {
	case CommAllToAll:
		return 1
	case CommMesh:
		xi, yi, zi := c.meshCoord(i)
		xj, yj, zj := c.meshCoord(j)
		if absInt(xi-xj)+absInt(yi-yj)+absInt(zi-zj) == 1 {
			return 1
		}
		return 0
	default:
		return c.adj[i][j]
	}
}

// ForEachComm visits every directed communicating pair in task order.
func (c *TaskCommInfo) ForEachComm(fn func(from, to int, weight float64)) {
	for i := 0; i < c.NumTasks; i++ {
		for _, j := range c.Neighbors(i) {
			fn(i, j, c.Weight(i, j))
		}
	}
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
