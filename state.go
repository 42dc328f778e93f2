package asyncrt

import (
	"sync/atomic"
)

// TaskStatus is the three-state status atom carried by every task.
//
// State Machine:
//
//	TaskRunning (0)   → TaskSuspended (1)  [task awaits]
//	TaskSuspended (1) → TaskRunning (0)    [waker, via CAS]
//	TaskRunning (0)   → TaskFinished (2)   [task completes; terminal]
//
// Transition Rules:
//   - Running↔Suspended is internal to the task frame, except that the ONLY
//     valid external transition is Suspended→Running, performed by a Waker
//     via CAS. The CAS is what guarantees at most one re-enqueue per logical
//     wake.
//   - TaskFinished is terminal and is stored only by the task's own frame.
//   - Writers use release ordering, readers acquire (atomic.Int32 provides
//     both).
type TaskStatus int32

const (
	// TaskRunning indicates the task is executing or ready to execute.
	TaskRunning TaskStatus = 0
	// TaskSuspended indicates the task is parked at an await point.
	TaskSuspended TaskStatus = 1
	// TaskFinished indicates the task has completed. Terminal.
	TaskFinished TaskStatus = 2
)

// String returns a human-readable representation of the status.
func (s TaskStatus) String() string {
	switch s {
	case TaskRunning:
		return "Running"
	case TaskSuspended:
		return "Suspended"
	case TaskFinished:
		return "Finished"
	default:
		return "Unknown"
	}
}

// statusAtom is a lock-free status cell with cache-line padding to prevent
// false sharing between the task goroutine, wakers, and scheduler workers.
type statusAtom struct {
	_ [sizeOfCacheLine]byte
	v atomic.Int32
	_ [sizeOfCacheLine - 4]byte
}

// Load returns the current status atomically (acquire).
func (s *statusAtom) Load() TaskStatus {
	return TaskStatus(s.v.Load())
}

// Store atomically stores a new status (release). Used only for transitions
// internal to the task frame (Running→Suspended, →Finished).
func (s *statusAtom) Store(status TaskStatus) {
	s.v.Store(int32(status))
}

// TryTransition attempts to atomically transition from one status to another.
// Returns true if the transition was performed.
func (s *statusAtom) TryTransition(from, to TaskStatus) bool {
	return s.v.CompareAndSwap(int32(from), int32(to))
}
