// SPDX-FileCopyrightText: 2026 The gpioirq Authors
//
// SPDX-License-Identifier: MIT

//go:build linux
// +build linux

package gpioirq

import (
	"github.com/rfctl/gpioirq/pinmux"
	"github.com/rs/zerolog"
)

// channel is an acquired channel.
type channel struct {
	index int
	cfg   ChannelConfig
	dev   InterruptDevice
	line  Line
}

// release closes the line and device, if held.
//
// Safe to call repeatedly.
func (c *channel) release(log *zerolog.Logger) {
	if c.line != nil {
		if err := c.line.Close(); err != nil {
			log.Warn().Err(err).Int("channel", c.index).Msg("release line")
		}
		c.line = nil
	}
	if c.dev != nil {
		if err := c.dev.Close(); err != nil {
			log.Warn().Err(err).Int("channel", c.index).Msg("release device")
		}
		c.dev = nil
	}
}

// resources acquires the device and line for channels.
type resources struct {
	devices DeviceOpener
	pinmux  Pinmuxer
	lines   LineSource
}

// acquire opens the interrupt device, routes the pin to GPIO, and reserves
// the line as an input, in that order.
//
// Nothing is left held if any step fails.
func (r *resources) acquire(index int, cfg ChannelConfig, log *zerolog.Logger) (*channel, error) {
	c := &channel{index: index, cfg: cfg}
	dev, err := r.devices.OpenDevice(cfg.Device)
	if err != nil {
		return nil, &ChannelError{index, "open device", err}
	}
	c.dev = dev
	if err := r.pinmux.SetFunction(cfg.Group, cfg.Offset, pinmux.ModeGPIO); err != nil {
		c.release(log)
		return nil, &ChannelError{index, "pinmux", err}
	}
	line, err := r.lines.RequestInput(cfg.Group, cfg.Offset, cfg.Consumer)
	if err != nil {
		c.release(log)
		return nil, &ChannelError{index, "request line", err}
	}
	c.line = line
	log.Debug().
		Int("channel", index).
		Stringer("config", cfg).
		Msg("acquired")
	return c, nil
}

// acquireAll acquires every enabled channel of ctx.
//
// Disabled channels are left nil. On failure every channel acquired so far
// is released.
func (r *resources) acquireAll(ctx *Context, log *zerolog.Logger) ([]*channel, error) {
	cc := make([]*channel, len(ctx.Channels))
	for i, cfg := range ctx.Channels {
		if !cfg.Enabled {
			continue
		}
		c, err := r.acquire(i, cfg, log)
		if err != nil {
			log.Error().Err(err).Msg("acquisition failed")
			releaseAll(cc, log)
			return nil, err
		}
		cc[i] = c
	}
	return cc, nil
}

// releaseAll releases the acquired channels in cc.
func releaseAll(cc []*channel, log *zerolog.Logger) {
	for _, c := range cc {
		if c != nil {
			c.release(log)
		}
	}
}
