package machine

import (
	"fmt"

	"github.com/hpc-schedsim/schedsim/sim"
)

// SimpleMachine is a bag of nodes with no topology: every pair of distinct
// nodes is one hop apart over a single dummy link.
type SimpleMachine struct {
	nodeState
}

// NewSimpleMachine creates a machine of numNodes nodes.
func NewSimpleMachine(numNodes, coresPerNode int) *SimpleMachine {
	return &SimpleMachine{nodeState: newNodeState(numNodes, coresPerNode, 1)}
}

func (m *SimpleMachine) Allocate(tmi *sim.TaskMapInfo)   { m.allocate(tmi) }
func (m *SimpleMachine) Deallocate(tmi *sim.TaskMapInfo) { m.deallocate(tmi) }

func (m *SimpleMachine) NodeDistance(a, b int) int {
	m.checkNode(a)
	m.checkNode(b)
	if a == b {
		return 0
	}
	return 1
}

func (m *SimpleMachine) FreeAtDistance(center, d int) []int {
	m.checkNode(center)
	switch d {
	case 0:
		if m.free[center] {
			return []int{center}
		}
		return nil
	case 1:
		out := make([]int, 0, m.numAvail)
		for i, f := range m.free {
			if f && i != center {
				out = append(out, i)
			}
		}
		return out
	default:
		return nil
	}
}

func (m *SimpleMachine) NodesAtDistance(d int) int {
	switch d {
	case 0:
		return 1
	case 1:
		return m.numNodes - 1
	default:
		return 0
	}
}

func (m *SimpleMachine) Route(a, b int, _ float64) []int {
	if a == b {
		return nil
	}
	return []int{0}
}

func (m *SimpleMachine) BaselineAllocation(job *sim.Job) *sim.AllocInfo {
	return firstNodes(job, m.numNodes, m.coresPerNode)
}

func (m *SimpleMachine) Clone() sim.Machine {
	return &SimpleMachine{nodeState: m.nodeState.clone()}
}

func (m *SimpleMachine) String() string {
	return fmt.Sprintf("SimpleMachine(%d nodes, %d cores/node)", m.numNodes, m.coresPerNode)
}
