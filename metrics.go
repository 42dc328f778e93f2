package asyncrt

import "sync/atomic"

// Metrics collects runtime counters. Collection is enabled with
// WithMetrics; all counters are lock-free and cheap enough for steady-state
// use.
type Metrics struct {
	tasksScheduled   atomic.Uint64
	segmentsExecuted atomic.Uint64
	eventsDispatched atomic.Uint64
	timersFired      atomic.Uint64
	tasksSwept       atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	// TasksScheduled counts task submissions through the runtime.
	TasksScheduled uint64
	// SegmentsExecuted counts task execution segments (resume→quiesce) run
	// by scheduler workers.
	SegmentsExecuted uint64
	// EventsDispatched counts reactor readiness dispatches.
	EventsDispatched uint64
	// TimersFired counts timer callbacks invoked.
	TimersFired uint64
	// TasksSwept counts tasks dropped by the liveness manager.
	TasksSwept uint64
}

// Snapshot returns a copy of the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		TasksScheduled:   m.tasksScheduled.Load(),
		SegmentsExecuted: m.segmentsExecuted.Load(),
		EventsDispatched: m.eventsDispatched.Load(),
		TimersFired:      m.timersFired.Load(),
		TasksSwept:       m.tasksSwept.Load(),
	}
}
