package coordinator

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Timer schedules deferred functions, used by the coordinator to enforce
// the provider response window.
type Timer interface {
	// ScheduleAfter schedules fn to run after delay and returns an ID
	// that can be used to cancel it.
	ScheduleAfter(delay time.Duration, fn func()) (string, error)
	// Cancel cancels a scheduled function by ID. Cancelling an unknown
	// or already-fired ID is not an error.
	Cancel(id string) error
	// Stop cancels all scheduled functions.
	Stop()
}

// SimpleTimer implements the Timer interface using Go's standard time package.
type SimpleTimer struct {
	timers map[string]*time.Timer
	mu     sync.RWMutex
	nextID int64
}

// NewSimpleTimer creates a new SimpleTimer.
func NewSimpleTimer() *SimpleTimer {
	return &SimpleTimer{
		timers: make(map[string]*time.Timer),
	}
}

// ScheduleAfter schedules a function to run after a delay.
func (t *SimpleTimer) ScheduleAfter(delay time.Duration, fn func()) (string, error) {
	t.mu.Lock()
	t.nextID++
	id := fmt.Sprintf("timer_%d", t.nextID)
	t.mu.Unlock()

	slog.Debug("SimpleTimer ScheduleAfter", "id", id, "delay", delay)

	timer := time.AfterFunc(delay, func() {
		slog.Debug("SimpleTimer executing scheduled function", "id", id)
		fn()
		// Clean up timer reference
		t.mu.Lock()
		delete(t.timers, id)
		t.mu.Unlock()
	})

	t.mu.Lock()
	t.timers[id] = timer
	t.mu.Unlock()

	return id, nil
}

// Cancel cancels a scheduled function by ID.
func (t *SimpleTimer) Cancel(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if timer, exists := t.timers[id]; exists {
		timer.Stop()
		delete(t.timers, id)
		slog.Debug("SimpleTimer Cancel succeeded", "id", id)
		return nil
	}

	slog.Debug("SimpleTimer Cancel: timer not found", "id", id)
	return nil
}

// Stop cancels all scheduled timers.
func (t *SimpleTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	slog.Debug("SimpleTimer stopping all timers", "count", len(t.timers))
	for _, timer := range t.timers {
		timer.Stop()
	}
	t.timers = make(map[string]*time.Timer)
}

// ActiveCount returns the number of timers that have not yet fired or
// been cancelled.
func (t *SimpleTimer) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.timers)
}
