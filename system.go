// SPDX-FileCopyrightText: 2026 The gpioirq Authors
//
// SPDX-License-Identifier: MIT

//go:build linux
// +build linux

package gpioirq

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-catrate"
	"github.com/rs/zerolog"
)

// State is the lifecycle state of a System.
type State int

const (
	// StateUninitialized indicates no context is loaded and nothing is held.
	StateUninitialized State = iota

	// StateLoaded indicates the context is loaded and validated.
	StateLoaded

	// StateResourced indicates the channel resources are held.
	StateResourced

	// StateMonitoring indicates interrupts are being delivered.
	StateMonitoring

	// StateStopping indicates the System is being torn down.
	StateStopping
)

var stateNames = [...]string{
	StateUninitialized: "uninitialized",
	StateLoaded:        "loaded",
	StateResourced:     "resourced",
	StateMonitoring:    "monitoring",
	StateStopping:      "stopping",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state%d", int(s))
	}
	return stateNames[s]
}

// ContextLoader provides the Context for a System.
type ContextLoader interface {
	LoadContext() (*Context, error)
}

// ContextLoaderFunc adapts a function to a ContextLoader.
type ContextLoaderFunc func() (*Context, error)

// LoadContext calls f.
func (f ContextLoaderFunc) LoadContext() (*Context, error) {
	return f()
}

// StaticContext returns a loader that provides a copy of ctx.
func StaticContext(ctx Context) ContextLoader {
	return ContextLoaderFunc(func() (*Context, error) {
		c := Context{Channels: append([]ChannelConfig(nil), ctx.Channels...)}
		return &c, nil
	})
}

// System delivers the interrupts of a set of channels to callbacks.
type System struct {
	loader ContextLoader
	opts   SystemOptions
	res    resources
	drops  *catrate.Limiter
	log    atomic.Pointer[zerolog.Logger]

	// level of the logger while trace is disabled.
	quiet zerolog.Level

	// mu serialises Init and Deinit.
	mu  sync.Mutex
	mon *monitor

	// rw covers state, ctx and chans.
	rw    sync.RWMutex
	state State
	ctx   *Context
	chans []*channel

	slots [MaxChannels]slot
}

// NewSystem creates a System which loads its channels using loader.
//
// The System is returned uninitialised.
func NewSystem(loader ContextLoader, options ...Option) *System {
	so := defaultSystemOptions()
	for _, option := range options {
		option.applySystemOption(&so)
	}
	if so.devices == nil {
		so.devices = UIOOpener{DevDir: so.devDir, Settle: so.settle}
	}
	s := &System{
		loader: loader,
		opts:   so,
		res: resources{
			devices: so.devices,
			pinmux:  so.pinmux,
			lines:   so.lines,
		},
	}
	if len(so.dropRate) > 0 {
		s.drops = catrate.NewLimiter(so.dropRate)
	}
	s.quiet = so.logger.GetLevel()
	if s.quiet < zerolog.InfoLevel {
		s.quiet = zerolog.InfoLevel
	}
	s.SetTraceEnabled(so.trace)
	return s
}

func (s *System) logger() *zerolog.Logger {
	return s.log.Load()
}

// SetTraceEnabled switches trace logging on or off.
//
// When off the logger keeps the level it was provided with, but no lower
// than info. Takes effect immediately, including for the running monitor.
func (s *System) SetTraceEnabled(enabled bool) {
	lvl := s.quiet
	if enabled {
		lvl = zerolog.TraceLevel
	}
	l := s.opts.logger.Level(lvl)
	s.log.Store(&l)
}

// TraceEnabled returns true if trace logging is on.
func (s *System) TraceEnabled() bool {
	return s.logger().GetLevel() == zerolog.TraceLevel
}

// State returns the lifecycle state.
func (s *System) State() State {
	s.rw.RLock()
	defer s.rw.RUnlock()
	return s.state
}

// Context returns a copy of the loaded context, or nil if none is loaded.
func (s *System) Context() *Context {
	s.rw.RLock()
	defer s.rw.RUnlock()
	if s.ctx == nil {
		return nil
	}
	c := Context{Channels: append([]ChannelConfig(nil), s.ctx.Channels...)}
	return &c
}

func (s *System) setState(state State) {
	s.rw.Lock()
	s.state = state
	s.rw.Unlock()
}

// Init loads the context, acquires the enabled channels and starts
// monitoring.
//
// Calling Init on a monitoring System does nothing. On failure everything
// acquired is released and the System is left uninitialised.
func (s *System) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() == StateMonitoring {
		return nil
	}
	log := s.logger()
	if s.loader == nil {
		return fmt.Errorf("%w: no context loader", ErrInvalidParameter)
	}
	ctx, err := s.loader.LoadContext()
	if err != nil {
		log.Error().Err(err).Msg("load context")
		return err
	}
	if err := ctx.Validate(); err != nil {
		log.Error().Err(err).Msg("invalid context")
		return err
	}
	s.rw.Lock()
	s.ctx = ctx
	s.state = StateLoaded
	s.rw.Unlock()

	chans, err := s.res.acquireAll(ctx, log)
	if err != nil {
		s.reset(nil)
		return err
	}
	s.rw.Lock()
	s.chans = chans
	s.state = StateResourced
	s.rw.Unlock()

	mon, err := startMonitor(s.opts.mux, chans, s.Dispatch, s.logger)
	if err != nil {
		log.Error().Err(err).Msg("start monitor")
		s.reset(chans)
		return err
	}
	s.mon = mon
	s.setState(StateMonitoring)
	log.Info().
		Int("channels", len(ctx.Channels)).
		Int("enabled", ctx.EnabledCount()).
		Msg("monitoring")
	return nil
}

// reset releases chans and returns the System to uninitialised.
func (s *System) reset(chans []*channel) {
	s.rw.Lock()
	releaseAll(chans, s.logger())
	s.chans = nil
	s.ctx = nil
	s.state = StateUninitialized
	s.rw.Unlock()
}

// Deinit stops monitoring, releases all resources and clears the registered
// callbacks.
//
// Calling Deinit on an uninitialised System does nothing.
// Callbacks already running are not waited for.
func (s *System) Deinit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() == StateUninitialized {
		return nil
	}
	s.setState(StateStopping)
	if s.mon != nil {
		s.mon.stop()
		s.mon = nil
	}
	s.rw.RLock()
	chans := s.chans
	s.rw.RUnlock()
	s.reset(chans)
	for i := range s.slots {
		s.slots[i].setCallback(nil)
	}
	s.logger().Info().Msg("stopped")
	return nil
}

// RegisterCallback sets the callback for an enabled channel, replacing any
// previous callback. A nil cb clears the callback.
//
// The System must be monitoring. Clearing does not wait for a running
// callback to return.
func (s *System) RegisterCallback(channel int, cb Callback) error {
	if channel < 0 || channel >= MaxChannels {
		return fmt.Errorf("%w: channel %d out of range", ErrInvalidParameter, channel)
	}
	s.rw.RLock()
	defer s.rw.RUnlock()
	if s.state != StateMonitoring {
		return ErrNotMonitoring
	}
	if !s.ctx.Enabled(channel) {
		return fmt.Errorf("%w: channel %d not enabled", ErrInvalidParameter, channel)
	}
	s.slots[channel].setCallback(cb)
	s.logger().Debug().Int("channel", channel).Bool("set", cb != nil).Msg("callback registered")
	return nil
}

// ChannelStatus is a snapshot of the state of a channel.
type ChannelStatus struct {
	Index      int
	Config     ChannelConfig
	Acquired   bool
	Registered bool
	InFlight   bool
	Dispatched uint64
	Dropped    uint64
	Lost       uint64
}

// Status returns a snapshot of the channels of the loaded context.
//
// Returns nil if no context is loaded.
func (s *System) Status() []ChannelStatus {
	s.rw.RLock()
	defer s.rw.RUnlock()
	if s.ctx == nil {
		return nil
	}
	ss := make([]ChannelStatus, len(s.ctx.Channels))
	for i, cfg := range s.ctx.Channels {
		sl := &s.slots[i]
		sl.mu.Lock()
		ss[i] = ChannelStatus{
			Index:      i,
			Config:     cfg,
			Acquired:   i < len(s.chans) && s.chans[i] != nil,
			Registered: sl.cb != nil,
			InFlight:   sl.inFlight,
			Dispatched: sl.dispatched.Load(),
			Dropped:    sl.dropped.Load(),
			Lost:       sl.lost.Load(),
		}
		sl.mu.Unlock()
	}
	return ss
}
