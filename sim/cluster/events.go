package cluster

import "github.com/hpc-schedsim/schedsim/sim"

// Event is one entry of the driver's timeline.
type Event interface {
	Timestamp() int64
	EventID() uint64
	Type() EventType
	Execute(d *Driver)
}

// BaseEvent provides common event fields
type BaseEvent struct {
	timestamp int64
	eventID   uint64
	eventType EventType
}

func newBaseEvent(timestamp int64, eventType EventType, id uint64) BaseEvent {
	return BaseEvent{timestamp: timestamp, eventID: id, eventType: eventType}
}

func (e *BaseEvent) Timestamp() int64 { return e.timestamp }
func (e *BaseEvent) EventID() uint64  { return e.eventID }
func (e *BaseEvent) Type() EventType  { return e.eventType }

// JobArrivalEvent submits a job to the scheduler.
type JobArrivalEvent struct {
	BaseEvent
	Job *sim.Job
}

func NewJobArrivalEvent(timestamp int64, job *sim.Job, id uint64) *JobArrivalEvent {
	return &JobArrivalEvent{BaseEvent: newBaseEvent(timestamp, EventTypeJobArrival, id), Job: job}
}

func (e *JobArrivalEvent) Execute(d *Driver) { d.handleArrival(e) }

// JobFinishEvent completes a running job.
type JobFinishEvent struct {
	BaseEvent
	Mapping *sim.TaskMapInfo
}

func NewJobFinishEvent(timestamp int64, tmi *sim.TaskMapInfo, id uint64) *JobFinishEvent {
	return &JobFinishEvent{BaseEvent: newBaseEvent(timestamp, EventTypeJobFinish, id), Mapping: tmi}
}

func (e *JobFinishEvent) Execute(d *Driver) { d.handleFinish(e) }

// WakeEvent gives the scheduler a chance to start planned jobs when nothing
// else happens at that time.
type WakeEvent struct {
	BaseEvent
}

func NewWakeEvent(timestamp int64, id uint64) *WakeEvent {
	return &WakeEvent{BaseEvent: newBaseEvent(timestamp, EventTypeWake, id)}
}

func (e *WakeEvent) Execute(d *Driver) { d.handleWake(e) }
