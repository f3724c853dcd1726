package sim

import (
	"fmt"
	"math"
	"sort"
)

// AllocInfo is the result of a successful allocation: the nodes reserved for a job.
// The job reference is not owned.
type AllocInfo struct {
	Job   *Job
	Nodes []int
}

// NewAllocInfo creates an AllocInfo sized for job with every slot unset (-1).
func NewAllocInfo(job *Job, coresPerNode int) *AllocInfo {
	nodes := make([]int, job.NodesNeeded(coresPerNode))
	for i := range nodes {
		nodes[i] = -1
	}
	return &AllocInfo{Job: job, Nodes: nodes}
}

// NodesNeeded is the number of node slots.
func (ai *AllocInfo) NodesNeeded() int {
	return len(ai.Nodes)
}

// Clone copies the node list and rebinds the job.
func (ai *AllocInfo) Clone(job *Job) *AllocInfo {
	return &AllocInfo{Job: job, Nodes: append([]int(nil), ai.Nodes...)}
}

func (ai *AllocInfo) String() string {
	return fmt.Sprintf("AllocInfo(job %d: %v)", ai.Job.JobNum, ai.Nodes)
}

// TaskMapInfo assigns every task of a job to a node of its AllocInfo and
// owns that AllocInfo. Network metrics are derived lazily once.
type TaskMapInfo struct {
	AllocInfo  *AllocInfo
	TaskToNode []int

	machine  Machine
	nodeUse  map[int]int
	inAlloc  map[int]bool
	numTasks int
	mapped   int

	metricsDone   bool
	avgHopDist    float64
	hopBytes      float64
	maxCongestion float64
	traffic       map[int]float64
}

// NewTaskMapInfo creates an empty mapping over ai's nodes.
func NewTaskMapInfo(ai *AllocInfo, m Machine) *TaskMapInfo {
	tmi := &TaskMapInfo{
		AllocInfo:  ai,
		TaskToNode: make([]int, ai.Job.ProcsNeeded),
		machine:    m,
		nodeUse:    make(map[int]int, len(ai.Nodes)),
		inAlloc:    make(map[int]bool, len(ai.Nodes)),
		numTasks:   ai.Job.ProcsNeeded,
	}
	for i := range tmi.TaskToNode {
		tmi.TaskToNode[i] = -1
	}
	for _, n := range ai.Nodes {
		tmi.inAlloc[n] = true
	}
	return tmi
}

// Insert maps task onto node. Panics when the task is already mapped, the node is
// not part of the allocation, or the node already hosts coresPerNode tasks.
func (t *TaskMapInfo) Insert(task, node int) {
	if task < 0 || task >= t.numTasks {
		panic(fmt.Sprintf("TaskMapInfo: job %d has no task %d", t.AllocInfo.Job.JobNum, task))
	}
	if t.TaskToNode[task] != -1 {
		panic(fmt.Sprintf("TaskMapInfo: job %d task %d mapped twice", t.AllocInfo.Job.JobNum, task))
	}
	if !t.inAlloc[node] {
		panic(fmt.Sprintf("TaskMapInfo: job %d task %d mapped to node %d outside its allocation %v",
			t.AllocInfo.Job.JobNum, task, node, t.AllocInfo.Nodes))
	}
	if t.nodeUse[node] >= t.machine.CoresPerNode() {
		panic(fmt.Sprintf("TaskMapInfo: job %d node %d already hosts %d tasks",
			t.AllocInfo.Job.JobNum, node, t.nodeUse[node]))
	}
	t.TaskToNode[task] = node
	t.nodeUse[node]++
	t.mapped++
}

// IsComplete reports whether every task is mapped.
func (t *TaskMapInfo) IsComplete() bool {
	return t.mapped == t.numTasks
}

// Job returns the mapped job.
func (t *TaskMapInfo) Job() *Job {
	return t.AllocInfo.Job
}

// Clone copies the mapping onto a cloned machine and job. Cached metrics are dropped.
func (t *TaskMapInfo) Clone(job *Job, m Machine) *TaskMapInfo {
	cp := NewTaskMapInfo(t.AllocInfo.Clone(job), m)
	for task, node := range t.TaskToNode {
		if node >= 0 {
			cp.Insert(task, node)
		}
	}
	return cp
}

func (t *TaskMapInfo) ensureMetrics() {
	if t.metricsDone {
		return
	}
	if !t.IsComplete() {
		panic(fmt.Sprintf("TaskMapInfo: metrics requested for job %d with %d of %d tasks mapped",
			t.AllocInfo.Job.JobNum, t.mapped, t.numTasks))
	}
	t.traffic = make(map[int]float64)
	comm := t.AllocInfo.Job.CommInfo
	if comm != nil {
		if comm.NumTasks != t.numTasks {
			panic(fmt.Sprintf("TaskMapInfo: job %d has %d tasks but its communication pattern has %d",
				t.AllocInfo.Job.JobNum, t.numTasks, comm.NumTasks))
		}
		pairs := 0
		totalDist := 0
		comm.ForEachComm(func(from, to int, w float64) {
			a, b := t.TaskToNode[from], t.TaskToNode[to]
			d := t.machine.NodeDistance(a, b)
			pairs++
			totalDist += d
			t.hopBytes += w * float64(d)
			for _, link := range t.machine.Route(a, b, w) {
				t.traffic[link] += w
			}
		})
		if pairs > 0 {
			t.avgHopDist = float64(totalDist) / float64(pairs)
		}
	}
	for _, v := range t.traffic {
		t.maxCongestion = math.Max(t.maxCongestion, v)
	}
	t.metricsDone = true
}

// AvgHopDist is the mean node distance over all communicating task pairs.
func (t *TaskMapInfo) AvgHopDist() float64 {
	t.ensureMetrics()
	return t.avgHopDist
}

// HopBytes is the sum over communicating pairs of weight times distance.
func (t *TaskMapInfo) HopBytes() float64 {
	t.ensureMetrics()
	return t.hopBytes
}

// MaxJobCongestion is the heaviest per-link traffic this job alone generates.
func (t *TaskMapInfo) MaxJobCongestion() float64 {
	t.ensureMetrics()
	return t.maxCongestion
}

// Traffic returns a copy of the per-link traffic of this job.
func (t *TaskMapInfo) Traffic() map[int]float64 {
	t.ensureMetrics()
	out := make(map[int]float64, len(t.traffic))
	for k, v := range t.traffic {
		out[k] = v
	}
	return out
}

// UsedNodes returns the distinct nodes hosting at least one task, ascending.
func (t *TaskMapInfo) UsedNodes() []int {
	out := make([]int, 0, len(t.nodeUse))
	for n := range t.nodeUse {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}
