package utils

import (
	"sync"

	"queue-sync/src/models"
)

// -----------------------------------------------------------------------------
// EventLog is a fixed-size circular buffer of connection transitions.
// Oldest entries are overwritten once full.
// -----------------------------------------------------------------------------

type EventLog struct {
	mu       sync.Mutex
	data     []models.MConnectionEvent
	capacity int
	index    int // Next write position
	size     int // Current number of elements
}

// -----------------------------------------------------------------------------

// NewEventLog creates a new buffer with fixed capacity
func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = DefaultEventLogSize
	}

	return &EventLog{
		data:     make([]models.MConnectionEvent, capacity),
		capacity: capacity,
	}
}

// -----------------------------------------------------------------------------

// Append adds an event, dropping the oldest one when full
func (rb *EventLog) Append(ev models.MConnectionEvent) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.data[rb.index] = ev
	rb.index = (rb.index + 1) % rb.capacity

	if rb.size < rb.capacity {
		rb.size++
	}
}

// -----------------------------------------------------------------------------

// GetLatest returns the n latest events, oldest first
func (rb *EventLog) GetLatest(n int) []models.MConnectionEvent {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.size == 0 || n <= 0 {
		return []models.MConnectionEvent{}
	}

	count := n
	if n > rb.size {
		count = rb.size
	}

	result := make([]models.MConnectionEvent, count)

	// latest data is at index-1
	startIdx := (rb.index - count + rb.capacity) % rb.capacity
	for i := 0; i < count; i++ {
		result[i] = rb.data[(startIdx+i)%rb.capacity]
	}

	return result
}

// -----------------------------------------------------------------------------

// GetAll returns all events in insertion order (oldest to newest)
func (rb *EventLog) GetAll() []models.MConnectionEvent {
	return rb.GetLatest(rb.Capacity())
}

// -----------------------------------------------------------------------------

// Size returns current number of elements
func (rb *EventLog) Size() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.size
}

// -----------------------------------------------------------------------------

// Capacity returns buffer capacity (fixed)
func (rb *EventLog) Capacity() int {
	return rb.capacity
}

// -----------------------------------------------------------------------------

// Clear resets the buffer
func (rb *EventLog) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.index = 0
	rb.size = 0
}
