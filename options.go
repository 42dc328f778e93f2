// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package asyncrt

import (
	"errors"
	"runtime"
	"time"

	"github.com/joeycumines/logiface"
)

// runtimeOptions holds configuration for Runtime creation.
type runtimeOptions struct {
	schedulers         int
	waitCap            time.Duration
	handleCapacityHint int
	livenessInterval   time.Duration
	livenessEnabled    bool
	metricsEnabled     bool
	log                *logiface.Logger[logiface.Event]
}

// reactorOptions holds configuration for standalone reactor creation.
type reactorOptions struct {
	waitCap            time.Duration
	handleCapacityHint int
	log                *logiface.Logger[logiface.Event]
}

// --- Runtime Options ---

// Option configures a Runtime instance.
type Option interface {
	applyRuntime(*runtimeOptions) error
}

// ReactorOption configures an EventReactor instance. Every Option that
// makes sense for a standalone reactor also implements this interface.
type ReactorOption interface {
	applyReactor(*reactorOptions) error
}

type optionImpl struct {
	runtimeFunc func(*runtimeOptions) error
	reactorFunc func(*reactorOptions) error
}

func (o *optionImpl) applyRuntime(opts *runtimeOptions) error {
	if o.runtimeFunc == nil {
		return errors.New("asyncrt: option not applicable to Runtime")
	}
	return o.runtimeFunc(opts)
}

func (o *optionImpl) applyReactor(opts *reactorOptions) error {
	if o.reactorFunc == nil {
		return errors.New("asyncrt: option not applicable to EventReactor")
	}
	return o.reactorFunc(opts)
}

// WithSchedulers sets the number of task schedulers (default: GOMAXPROCS).
func WithSchedulers(n int) Option {
	return &optionImpl{runtimeFunc: func(opts *runtimeOptions) error {
		if n <= 0 {
			return errors.New("asyncrt: scheduler count must be positive")
		}
		opts.schedulers = n
		return nil
	}}
}

// WithWaitCap bounds a single blocking kernel wait in the reactor loop
// (default: 10s). Smaller values make stop latency tighter at the cost of
// idle wakeups.
func WithWaitCap(d time.Duration) interface {
	Option
	ReactorOption
} {
	apply := func(d time.Duration) error {
		if d <= 0 {
			return errors.New("asyncrt: wait cap must be positive")
		}
		return nil
	}
	return &optionImpl{
		runtimeFunc: func(opts *runtimeOptions) error {
			if err := apply(d); err != nil {
				return err
			}
			opts.waitCap = d
			return nil
		},
		reactorFunc: func(opts *reactorOptions) error {
			if err := apply(d); err != nil {
				return err
			}
			opts.waitCap = d
			return nil
		},
	}
}

// WithHandleCapacity hints the initial capacity of the descriptor→dispatcher
// table.
func WithHandleCapacity(n int) interface {
	Option
	ReactorOption
} {
	return &optionImpl{
		runtimeFunc: func(opts *runtimeOptions) error {
			opts.handleCapacityHint = n
			return nil
		},
		reactorFunc: func(opts *reactorOptions) error {
			opts.handleCapacityHint = n
			return nil
		},
	}
}

// WithLivenessManager enables the liveness manager, sweeping abandoned
// tasks at the given interval (see Runtime).
func WithLivenessManager(interval time.Duration) Option {
	return &optionImpl{runtimeFunc: func(opts *runtimeOptions) error {
		if interval <= 0 {
			return errors.New("asyncrt: liveness interval must be positive")
		}
		opts.livenessEnabled = true
		opts.livenessInterval = interval
		return nil
	}}
}

// WithMetrics enables runtime metrics collection, accessed via
// Runtime.Metrics.
func WithMetrics(enabled bool) Option {
	return &optionImpl{runtimeFunc: func(opts *runtimeOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// WithLogger sets the structured logger. A nil logger disables logging (the
// default).
func WithLogger(log *logiface.Logger[logiface.Event]) interface {
	Option
	ReactorOption
} {
	return &optionImpl{
		runtimeFunc: func(opts *runtimeOptions) error {
			opts.log = log
			return nil
		},
		reactorFunc: func(opts *reactorOptions) error {
			opts.log = log
			return nil
		},
	}
}

// resolveRuntimeOptions applies Option instances over the defaults.
func resolveRuntimeOptions(opts []Option) (*runtimeOptions, error) {
	cfg := &runtimeOptions{
		schedulers:       runtime.GOMAXPROCS(0),
		waitCap:          defaultWaitCap,
		livenessInterval: 800 * time.Millisecond,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyRuntime(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// resolveReactorOptions applies ReactorOption instances over the defaults.
func resolveReactorOptions(opts []ReactorOption) (*reactorOptions, error) {
	cfg := &reactorOptions{
		waitCap: defaultWaitCap,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyReactor(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
