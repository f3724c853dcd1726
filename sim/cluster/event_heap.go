package cluster

import "container/heap"

// EventHeap is the driver's timeline, ordered by
// timestamp, then EventTypePriority, then event ID.
type EventHeap struct {
	events []Event
}

// NewEventHeap creates an empty timeline.
func NewEventHeap() *EventHeap {
	return &EventHeap{}
}

func (h *EventHeap) Len() int { return len(h.events) }

func (h *EventHeap) Less(i, j int) bool {
	ei, ej := h.events[i], h.events[j]
	if ei.Timestamp() != ej.Timestamp() {
		return ei.Timestamp() < ej.Timestamp()
	}
	if pi, pj := EventTypePriority[ei.Type()], EventTypePriority[ej.Type()]; pi != pj {
		return pi < pj
	}
	return ei.EventID() < ej.EventID()
}

func (h *EventHeap) Swap(i, j int) { h.events[i], h.events[j] = h.events[j], h.events[i] }

func (h *EventHeap) Push(x any) {
	h.events = append(h.events, x.(Event))
}

func (h *EventHeap) Pop() any {
	n := len(h.events)
	e := h.events[n-1]
	h.events[n-1] = nil
	h.events = h.events[:n-1]
	return e
}

// Schedule adds an event.
func (h *EventHeap) Schedule(e Event) {
	heap.Push(h, e)
}

// PopNext removes and returns the next event, or nil.
func (h *EventHeap) PopNext() Event {
	if h.Len() == 0 {
		return nil
	}
	return heap.Pop(h).(Event)
}

// Peek returns the next event without removing it, or nil.
func (h *EventHeap) Peek() Event {
	if h.Len() == 0 {
		return nil
	}
	return h.events[0]
}
