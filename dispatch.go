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
)

// slot holds the callback and dispatch state for a channel.
type slot struct {
	// mu covers cb and inFlight.
	mu       sync.Mutex
	cb       Callback
	inFlight bool

	dispatched atomic.Uint64
	dropped    atomic.Uint64
	lost       atomic.Uint64
}

func (s *slot) finish() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

func (s *slot) setCallback(cb Callback) {
	s.mu.Lock()
	s.cb = cb
	s.mu.Unlock()
}

// Dispatch delivers an event on the channel to its registered callback.
//
// The callback is passed the current level of the channel's line, or the
// observed level if the line cannot be read. The callback runs independently
// of the caller and at most one callback per channel runs at a time.
// An event arriving while the callback is still running is discarded and
// ErrDispatchDropped returned.
// ErrDispatchLost is returned if the callback could not be started.
//
// Events on channels without a callback are discarded silently.
func (s *System) Dispatch(channel, observed int) error {
	if channel < 0 || channel >= MaxChannels {
		return fmt.Errorf("%w: channel %d", ErrInvalidParameter, channel)
	}
	level := s.level(channel, observed)
	sl := &s.slots[channel]
	sl.mu.Lock()
	cb := sl.cb
	if cb == nil {
		sl.mu.Unlock()
		return nil
	}
	if sl.inFlight {
		sl.mu.Unlock()
		sl.dropped.Add(1)
		s.logDrop(channel)
		return ErrDispatchDropped
	}
	sl.inFlight = true
	sl.mu.Unlock()

	err := s.opts.launch(func() {
		defer sl.finish()
		defer func() {
			if r := recover(); r != nil {
				s.logger().Error().
					Int("channel", channel).
					Interface("panic", r).
					Msg("callback panicked")
			}
		}()
		cb(channel, level)
	})
	if err != nil {
		sl.finish()
		sl.lost.Add(1)
		s.logger().Error().Err(err).Int("channel", channel).Msg("callback launch failed")
		return fmt.Errorf("%w: %v", ErrDispatchLost, err)
	}
	sl.dispatched.Add(1)
	return nil
}

// level returns the current level of the channel's line, falling back to
// observed.
func (s *System) level(channel, observed int) int {
	s.rw.RLock()
	defer s.rw.RUnlock()
	if channel >= len(s.chans) {
		return observed
	}
	c := s.chans[channel]
	if c == nil || c.line == nil {
		return observed
	}
	v, err := c.line.Value()
	if err != nil {
		s.logger().Debug().Err(err).Int("channel", channel).Msg("read level")
		return observed
	}
	return v
}

// logDrop warns of a dropped event, limited to the configured rate per
// channel, if any.
func (s *System) logDrop(channel int) {
	if s.drops != nil {
		if _, ok := s.drops.Allow(channel); !ok {
			return
		}
	}
	s.logger().Warn().
		Int("channel", channel).
		Uint64("dropped", s.slots[channel].dropped.Load()).
		Msg("callback in flight, event dropped")
}
