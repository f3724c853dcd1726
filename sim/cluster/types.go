package cluster

// EventType names a kind of driver event.
type EventType string

const (
	EventTypeJobFinish  EventType = "JobFinish"
	EventTypeJobArrival EventType = "JobArrival"
	EventTypeWake       EventType = "Wake"
)

// EventTypePriority orders simultaneous events; lower values go first.
// Completions free nodes before arrivals at the same time are considered.
var EventTypePriority = map[EventType]int{
	EventTypeJobFinish:  1,
	EventTypeJobArrival: 2,
	EventTypeWake:       3,
}
