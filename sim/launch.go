package sim

import "fmt"

// Launch realizes a start decision the scheduler just returned from
// TryToStart: allocate, map, commit the mapping to the machine, then tell the
// scheduler. A scheduler choosing a job the allocator cannot place is a bug.
func Launch(job *Job, time int64, s Scheduler, m Machine, a Allocator, tm TaskMapper) *TaskMapInfo {
	ai := a.Allocate(job)
	if ai == nil {
		panic(fmt.Sprintf("%s chose job %d at %d but %s cannot place it (%d nodes free, %d needed)",
			s.Name(), job.JobNum, time, a.Name(), m.NumFreeNodes(), job.NodesNeeded(m.CoresPerNode())))
	}
	tmi := tm.MapTasks(ai)
	if !tmi.IsComplete() {
		panic(fmt.Sprintf("%s left tasks of job %d unmapped", tm.Name(), job.JobNum))
	}
	m.Allocate(tmi)
	job.Start(time)
	s.StartNext(time, m)
	return tmi
}

// Release undoes a Launch when the job completes, in the order the
// scheduler, machine and allocator expect.
func Release(tmi *TaskMapInfo, time int64, s Scheduler, m Machine, a Allocator) {
	job := tmi.Job()
	job.Finish(time)
	s.JobFinishes(job, time, m)
	m.Deallocate(tmi)
	a.Deallocate(tmi.AllocInfo)
}
