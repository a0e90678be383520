// SPDX-FileCopyrightText: 2026 The gpioirq Authors
//
// SPDX-License-Identifier: MIT

//go:build linux
// +build linux

package gpioirq

import (
	"errors"
	"fmt"

	"github.com/rfctl/gpioirq/epoll"
	"github.com/rfctl/gpioirq/uio"
	"github.com/rs/zerolog"
)

// monitor waits for interrupts on the acquired channels and dispatches them.
type monitor struct {
	mux      Multiplexer
	chans    []*channel
	dispatch func(channel, level int) error
	logger   func() *zerolog.Logger

	// closed when the loop exits.
	done chan struct{}
}

// startMonitor watches the devices of the acquired channels, arms their
// interrupts and starts the monitor loop.
//
// On failure the multiplexer is closed and the channels are left for the
// caller to release.
func startMonitor(
	mf MultiplexerFactory,
	chans []*channel,
	dispatch func(channel, level int) error,
	logger func() *zerolog.Logger) (*monitor, error) {

	mux, err := mf()
	if err != nil {
		return nil, fmt.Errorf("%w: create multiplexer: %v", ErrResourceAcquisition, err)
	}
	for _, c := range chans {
		if c == nil {
			continue
		}
		if err := mux.Add(c.dev.Fd(), c.index); err != nil {
			mux.Close()
			return nil, &ChannelError{c.index, "watch", err}
		}
	}
	for _, c := range chans {
		if c == nil {
			continue
		}
		if err := c.dev.Arm(); err != nil {
			mux.Close()
			return nil, &ChannelError{c.index, "arm", err}
		}
	}
	m := &monitor{
		mux:      mux,
		chans:    chans,
		dispatch: dispatch,
		logger:   logger,
		done:     make(chan struct{}),
	}
	go m.run()
	return m, nil
}

// stop interrupts the loop and waits for it to exit.
func (m *monitor) stop() {
	if err := m.mux.Interrupt(); err != nil {
		m.logger().Warn().Err(err).Msg("interrupt monitor")
	}
	<-m.done
}

func (m *monitor) run() {
	defer close(m.done)
	defer m.mux.Close()
	for {
		tags, err := m.mux.Wait()
		if err != nil {
			if !errors.Is(err, epoll.ErrClosed) {
				m.logger().Error().Err(err).Msg("monitor wait failed")
			}
			return
		}
		for _, tag := range tags {
			m.service(tag)
		}
	}
}

// service acknowledges, dispatches and re-arms the interrupt of a ready
// channel.
func (m *monitor) service(index int) {
	log := m.logger()
	if index < 0 || index >= len(m.chans) || m.chans[index] == nil {
		log.Warn().Int("channel", index).Msg("readiness on unknown channel")
		return
	}
	c := m.chans[index]
	count, err := c.dev.Acknowledge()
	if errors.Is(err, uio.ErrShortRead) {
		// nothing to process
		log.Trace().Err(err).Int("channel", index).Msg("acknowledge")
		return
	}
	if err != nil {
		// the device stays readable, so it must leave the set
		log.Error().Err(err).Int("channel", index).Msg("acknowledge failed, channel unwatched")
		if err := m.mux.Remove(c.dev.Fd()); err != nil {
			log.Warn().Err(err).Int("channel", index).Msg("unwatch")
		}
		return
	}
	level, err := c.line.Value()
	if err != nil {
		log.Warn().Err(err).Int("channel", index).Msg("read level")
		level = 0
	}
	log.Trace().
		Int("channel", index).
		Uint32("count", count).
		Int("level", level).
		Msg("interrupt")
	m.dispatch(index, level)
	if err := c.dev.Enable(); err != nil {
		log.Error().Err(err).Int("channel", index).Msg("re-arm failed")
	}
}
