// Package sim provides the core types of the HPC scheduling simulator.
//
// # Reading Guide
//
// Start with these files to understand the simulation kernel:
//   - job.go: Job lifecycle (arrived → started → finished), JobTable arena
//   - interfaces.go: Machine, Allocator, TaskMapper, Scheduler and StatsRecorder contracts
//   - allocinfo.go: AllocInfo (nodes reserved for a job) and TaskMapInfo (task → node + network metrics)
//
// # Architecture
//
// The sim package defines interfaces and bridge types; implementations live in
// sub-packages:
//   - sim/machine/: SimpleMachine, StencilMachine (mesh/torus), DragonflyMachine
//   - sim/alloc/: simple, nearest-neighbor, linear/curve, MBS buddy and constraint allocators
//   - sim/taskmap/: task mappers, including the joint AllocMapper
//   - sim/schedule/: priority-queue, EASY backfilling and stateful (conservative) schedulers
//   - sim/fst/: first-start-time what-if analysis
//   - sim/cluster/: event heap and driver loop
//   - sim/workload/: trace loading
//   - sim/trace/: statistics recording
//
// # Error model
//
// Configuration and input problems are returned as errors. Violated internal
// invariants (double allocation, a broken backfill guarantee, a schedule that
// does not drain back to a fully free machine) panic with the job number, time
// and counts involved.
package sim
