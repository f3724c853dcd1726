// Package machine implements the topology family: a bag of nodes, N-dimensional
// mesh/torus stencils and dragonfly router networks.
package machine

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/hpc-schedsim/schedsim/sim"
)

// nodeState is the free/busy bitmap and link-traffic vector shared by every
// topology. numAvail always equals the number of free bits.
type nodeState struct {
	numNodes     int
	coresPerNode int
	free         []bool
	numAvail     int
	traffic      []float64
}

func newNodeState(numNodes, coresPerNode, numLinks int) nodeState {
	if numNodes <= 0 {
		panic(fmt.Sprintf("machine: numNodes must be > 0, got %d", numNodes))
	}
	if coresPerNode <= 0 {
		panic(fmt.Sprintf("machine: coresPerNode must be > 0, got %d", coresPerNode))
	}
	free := make([]bool, numNodes)
	for i := range free {
		free[i] = true
	}
	return nodeState{
		numNodes:     numNodes,
		coresPerNode: coresPerNode,
		free:         free,
		numAvail:     numNodes,
		traffic:      make([]float64, numLinks),
	}
}

func (s *nodeState) clone() nodeState {
	return nodeState{
		numNodes:     s.numNodes,
		coresPerNode: s.coresPerNode,
		free:         append([]bool(nil), s.free...),
		numAvail:     s.numAvail,
		traffic:      append([]float64(nil), s.traffic...),
	}
}

// NumNodes returns the total node count.
func (s *nodeState) NumNodes() int { return s.numNodes }

// CoresPerNode returns the number of tasks a node can host.
func (s *nodeState) CoresPerNode() int { return s.coresPerNode }

// NumFreeNodes returns the number of free nodes.
func (s *nodeState) NumFreeNodes() int { return s.numAvail }

// NumLinks returns the size of the link-traffic vector.
func (s *nodeState) NumLinks() int { return len(s.traffic) }

// IsFree reports whether node is free.
func (s *nodeState) IsFree(node int) bool {
	s.checkNode(node)
	return s.free[node]
}

// FreeNodes returns free node indices in ascending order.
func (s *nodeState) FreeNodes() []int {
	out := make([]int, 0, s.numAvail)
	for i, f := range s.free {
		if f {
			out = append(out, i)
		}
	}
	return out
}

// LinkTraffic returns the accumulated traffic on link.
func (s *nodeState) LinkTraffic(link int) float64 {
	if link < 0 || link >= len(s.traffic) {
		panic(fmt.Sprintf("machine: link %d outside [0,%d)", link, len(s.traffic)))
	}
	return s.traffic[link]
}

// Reset frees every node and clears link traffic.
func (s *nodeState) Reset() {
	for i := range s.free {
		s.free[i] = true
	}
	for i := range s.traffic {
		s.traffic[i] = 0
	}
	s.numAvail = s.numNodes
}

func (s *nodeState) checkNode(node int) {
	if node < 0 || node >= s.numNodes {
		panic(fmt.Sprintf("machine: node %d outside [0,%d)", node, s.numNodes))
	}
}

func (s *nodeState) allocate(tmi *sim.TaskMapInfo) {
	job := tmi.Job()
	nodes := tmi.AllocInfo.Nodes
	if len(nodes) > s.numAvail {
		panic(fmt.Sprintf("machine: job %d needs %d nodes but only %d are free", job.JobNum, len(nodes), s.numAvail))
	}
	for _, n := range nodes {
		s.checkNode(n)
		if !s.free[n] {
			panic(fmt.Sprintf("machine: job %d allocating busy node %d", job.JobNum, n))
		}
		s.free[n] = false
		s.numAvail--
	}
	for link, w := range tmi.Traffic() {
		s.traffic[link] += w
	}
	logrus.Debugf("machine: job %d allocated %v, %d nodes free", job.JobNum, nodes, s.numAvail)
}

func (s *nodeState) deallocate(tmi *sim.TaskMapInfo) {
	job := tmi.Job()
	nodes := tmi.AllocInfo.Nodes
	if s.numAvail+len(nodes) > s.numNodes {
		panic(fmt.Sprintf("machine: job %d frees %d nodes but only %d are busy",
			job.JobNum, len(nodes), s.numNodes-s.numAvail))
	}
	for _, n := range nodes {
		s.checkNode(n)
		if s.free[n] {
			panic(fmt.Sprintf("machine: job %d freeing node %d that is already free", job.JobNum, n))
		}
		s.free[n] = true
		s.numAvail++
	}
	for link, w := range tmi.Traffic() {
		s.traffic[link] -= w
	}
	logrus.Debugf("machine: job %d freed %v, %d nodes free", job.JobNum, nodes, s.numAvail)
}

// firstNodes is the baseline placement for topologies where index order is compact.
func firstNodes(job *sim.Job, numNodes, coresPerNode int) *sim.AllocInfo {
	ai := sim.NewAllocInfo(job, coresPerNode)
	if len(ai.Nodes) > numNodes {
		return nil
	}
	for i := range ai.Nodes {
		ai.Nodes[i] = i
	}
	return ai
}
