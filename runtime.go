// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package asyncrt

import (
	"sync"
	"sync/atomic"

	"github.com/joeycumines/logiface"
)

// Runtime owns one event reactor, one timer service, and N task schedulers,
// and routes task submissions. Submissions are distributed round-robin
// unless pinned with ScheduleTo.
type Runtime struct {
	reactor *EventReactor
	timers  *TimerService
	scheds  []*TaskScheduler
	rr      atomic.Uint64

	manager *livenessManager

	startOnce sync.Once
	stopOnce  sync.Once
	stopped   atomic.Bool
	startErr  error

	log     *logiface.Logger[logiface.Event]
	metrics *Metrics
}

// New creates a runtime. Call Start before submitting tasks.
func New(opts ...Option) (*Runtime, error) {
	cfg, err := resolveRuntimeOptions(opts)
	if err != nil {
		return nil, err
	}

	reactor, err := NewEventReactor(
		WithWaitCap(cfg.waitCap),
		WithHandleCapacity(cfg.handleCapacityHint),
		WithLogger(cfg.log),
	)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		reactor: reactor,
		log:     cfg.log,
	}
	if cfg.metricsEnabled {
		rt.metrics = &Metrics{}
		reactor.metrics = rt.metrics
	}

	rt.timers = newTimerService(reactor)
	rt.timers.metrics = rt.metrics

	rt.scheds = make([]*TaskScheduler, cfg.schedulers)
	for i := range rt.scheds {
		s := NewTaskScheduler()
		s.reactor = reactor
		s.timers = rt.timers
		s.log = cfg.log
		s.metrics = rt.metrics
		rt.scheds[i] = s
	}

	if cfg.livenessEnabled {
		rt.manager = newLivenessManager(cfg.livenessInterval, rt.metrics)
	}

	return rt, nil
}

// Start launches the reactor, timer service, schedulers, and (if enabled)
// the liveness manager. Idempotent.
func (rt *Runtime) Start() error {
	rt.startOnce.Do(func() {
		rt.startErr = func() error {
			if err := rt.reactor.Start(); err != nil {
				return err
			}
			if err := rt.timers.start(); err != nil {
				_ = rt.reactor.Stop()
				return err
			}
			for _, s := range rt.scheds {
				s.Start()
			}
			if rt.manager != nil {
				rt.manager.start()
			}
			rt.log.Info().Int("schedulers", len(rt.scheds)).Log("runtime started")
			return nil
		}()
	})
	return rt.startErr
}

// Stop shuts the runtime down: the liveness manager (if enabled) first, then
// the timer service, then the reactor, then the schedulers. Idempotent and
// safe from any goroutine.
func (rt *Runtime) Stop() error {
	rt.stopOnce.Do(func() {
		rt.stopped.Store(true)
		if rt.manager != nil {
			rt.manager.stop()
		}
		rt.timers.stop()
		_ = rt.reactor.Stop()
		for _, s := range rt.scheds {
			s.Stop()
		}
		rt.log.Info().Log("runtime stopped")
	})
	return nil
}

// Schedule submits a task round-robin across the runtime's schedulers and
// registers it with the liveness manager when one is configured.
func (rt *Runtime) Schedule(t TaskHandle) error {
	if rt.stopped.Load() {
		return ErrRuntimeStopped
	}
	n := rt.rr.Add(1)
	return rt.submit(t, rt.scheds[int(n-1)%len(rt.scheds)])
}

// ScheduleTo submits a task to the scheduler identified by token
// (0..N-1).
func (rt *Runtime) ScheduleTo(t TaskHandle, token int) error {
	if rt.stopped.Load() {
		return ErrRuntimeStopped
	}
	if token < 0 || token >= len(rt.scheds) {
		return ErrInvalidToken
	}
	return rt.submit(t, rt.scheds[token])
}

func (rt *Runtime) submit(t TaskHandle, s *TaskScheduler) error {
	if rt.manager != nil {
		rt.manager.manage(WeakTask{p: weakOf(t.taskCore())})
	}
	if rt.metrics != nil {
		rt.metrics.tasksScheduled.Add(1)
	}
	return s.Schedule(t)
}

// Schedulers returns the number of task schedulers.
func (rt *Runtime) Schedulers() int {
	return len(rt.scheds)
}

// Reactor returns the runtime's event reactor.
func (rt *Runtime) Reactor() *EventReactor { return rt.reactor }

// Timers returns the runtime's timer service.
func (rt *Runtime) Timers() *TimerService { return rt.timers }

// Metrics returns the runtime's metrics collector, or nil when metrics are
// disabled.
func (rt *Runtime) Metrics() *Metrics { return rt.metrics }

// Handle is a lightweight value exposing one scheduler plus the shared
// timer service and reactor, for code that builds awaitables outside a task
// context.
type Handle struct {
	Scheduler *TaskScheduler
	Timers    *TimerService
	Reactor   *EventReactor
}

// Handle returns a handle over one of the runtime's schedulers, chosen
// round-robin.
func (rt *Runtime) Handle() Handle {
	n := rt.rr.Add(1)
	return Handle{
		Scheduler: rt.scheds[int(n-1)%len(rt.scheds)],
		Timers:    rt.timers,
		Reactor:   rt.reactor,
	}
}
