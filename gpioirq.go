// SPDX-FileCopyrightText: 2026 The gpioirq Authors
//
// SPDX-License-Identifier: MIT

// Package gpioirq delivers GPIO interrupts, raised through Linux UIO devices,
// to application callbacks.
//
// Each channel pairs a UIO interrupt device with the GPIO line it reports on.
// The line is reserved as an input through the GPIO character device so its
// level can be read when the interrupt fires, and a single monitor goroutine
// waits on all the enabled interrupt devices at once.
//
// Supports:
// - Up to MaxChannels channels loaded from a configuration store
// - Per channel enable list
// - Rollback of all acquired resources on a partial failure
// - Single flight callback dispatch per channel, with overlapping events dropped
// - Runtime trace toggle
//
// Example of use:
//
//	s := gpioirq.NewSystem(gpioirq.StoreLoader{Store: store})
//	if err := s.Init(); err != nil {
//		panic(err)
//	}
//	defer s.Deinit()
//	s.RegisterCallback(0, func(channel, level int) {
//		fmt.Printf("channel %d level %d\n", channel, level)
//	})
package gpioirq

import (
	"fmt"

	"github.com/rfctl/gpioirq/pinmux"
)

// MaxChannels is the maximum number of interrupt channels in a Context.
const MaxChannels = 8

// MaxConsumerLen is the maximum length of a channel consumer label.
const MaxConsumerLen = 15

// ChannelConfig describes a single interrupt channel.
type ChannelConfig struct {
	// Group is the GPIO bank, and so the gpiochip, containing the line.
	Group int

	// Offset is the offset of the line within the bank.
	Offset int

	// Device is the index of the UIO device raising the interrupt.
	Device int

	// Consumer is the label applied to the reserved line.
	Consumer string

	// Enabled indicates the channel is acquired and monitored.
	Enabled bool
}

func (c ChannelConfig) String() string {
	return fmt.Sprintf("gpio%d.%d uio%d %q", c.Group, c.Offset, c.Device, c.Consumer)
}

// Context is the set of channels managed by a System.
//
// Channels are identified by their index.
type Context struct {
	Channels []ChannelConfig
}

// Validate checks the context can be acquired.
//
// All checks are reported as ErrInvalidParameter.
func (c *Context) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil context", ErrInvalidParameter)
	}
	n := len(c.Channels)
	if n < 1 || n > MaxChannels {
		return fmt.Errorf("%w: channel count %d not in [1,%d]", ErrInvalidParameter, n, MaxChannels)
	}
	devices := map[int]int{}
	lines := map[[2]int]int{}
	for i, ch := range c.Channels {
		if ch.Group < 0 || ch.Offset < 0 || ch.Device < 0 {
			return fmt.Errorf("%w: channel %d: negative pin configuration %s", ErrInvalidParameter, i, ch)
		}
		if len(ch.Consumer) > MaxConsumerLen {
			return fmt.Errorf("%w: channel %d: consumer %q longer than %d", ErrInvalidParameter, i, ch.Consumer, MaxConsumerLen)
		}
		if !ch.Enabled {
			continue
		}
		if j, ok := devices[ch.Device]; ok {
			return fmt.Errorf("%w: channels %d and %d share uio%d", ErrInvalidParameter, j, i, ch.Device)
		}
		devices[ch.Device] = i
		l := [2]int{ch.Group, ch.Offset}
		if j, ok := lines[l]; ok {
			return fmt.Errorf("%w: channels %d and %d share gpio%d.%d", ErrInvalidParameter, j, i, ch.Group, ch.Offset)
		}
		lines[l] = i
	}
	return nil
}

// Enabled returns true if the channel exists and is enabled.
func (c *Context) Enabled(channel int) bool {
	if c == nil || channel < 0 || channel >= len(c.Channels) {
		return false
	}
	return c.Channels[channel].Enabled
}

// EnabledCount returns the number of enabled channels.
func (c *Context) EnabledCount() int {
	n := 0
	for _, ch := range c.Channels {
		if ch.Enabled {
			n++
		}
	}
	return n
}

// Callback is invoked with the channel index and the level of its line
// when the channel's interrupt fires.
type Callback func(channel int, level int)

// InterruptDevice is an open interrupt source, such as a uio.Device.
type InterruptDevice interface {
	// Fd returns the descriptor that becomes readable when an interrupt is
	// pending.
	Fd() int

	// Acknowledge clears the pending interrupt and returns the interrupt
	// count.
	Acknowledge() (uint32, error)

	// Arm clears any stale pending interrupt and enables the interrupt.
	Arm() error

	// Enable re-enables the interrupt after it has been serviced.
	Enable() error

	Close() error
}

// Line is a GPIO line reserved as an input.
type Line interface {
	Value() (int, error)
	Close() error
}

// DeviceOpener opens interrupt devices by index.
type DeviceOpener interface {
	OpenDevice(index int) (InterruptDevice, error)
}

// DeviceOpenerFunc adapts a function to a DeviceOpener.
type DeviceOpenerFunc func(index int) (InterruptDevice, error)

// OpenDevice calls f.
func (f DeviceOpenerFunc) OpenDevice(index int) (InterruptDevice, error) {
	return f(index)
}

// LineSource reserves GPIO lines as inputs.
type LineSource interface {
	RequestInput(group, offset int, consumer string) (Line, error)
}

// LineSourceFunc adapts a function to a LineSource.
type LineSourceFunc func(group, offset int, consumer string) (Line, error)

// RequestInput calls f.
func (f LineSourceFunc) RequestInput(group, offset int, consumer string) (Line, error) {
	return f(group, offset, consumer)
}

// Pinmuxer routes pins to the GPIO controller.
type Pinmuxer interface {
	SetFunction(group, offset int, mode pinmux.Mode) error
}

// Multiplexer waits for readiness on a set of descriptors, such as an
// epoll.Set.
type Multiplexer interface {
	// Add watches fd, reporting readiness with tag.
	Add(fd, tag int) error

	// Remove stops watching fd.
	Remove(fd int) error

	// Wait blocks until at least one watched fd is ready and returns their
	// tags.
	//
	// Returns an error matching epoll.ErrClosed once interrupted or closed.
	Wait() ([]int, error)

	// Interrupt unblocks Wait.
	Interrupt() error

	Close() error
}

// MultiplexerFactory creates the Multiplexer for a monitor.
type MultiplexerFactory func() (Multiplexer, error)
