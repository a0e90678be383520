// SPDX-FileCopyrightText: 2026 The gpioirq Authors
//
// SPDX-License-Identifier: MIT

package gpioirq

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParameter indicates a bad channel, callback or context.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNotMonitoring indicates the System is not monitoring.
	ErrNotMonitoring = fmt.Errorf("%w: not monitoring", ErrInvalidParameter)

	// ErrResourceAcquisition indicates a device, pin or line could not be
	// acquired.
	ErrResourceAcquisition = errors.New("resource acquisition failed")

	// ErrDispatchDropped indicates an event was discarded as the callback
	// for the channel was still running.
	ErrDispatchDropped = errors.New("dispatch dropped: callback in flight")

	// ErrDispatchLost indicates the callback could not be launched.
	ErrDispatchLost = errors.New("dispatch lost")

	// ErrConfigNotFound indicates a configuration key does not exist.
	ErrConfigNotFound = errors.New("config key not found")
)

// ChannelError reports the failure to acquire a resource for a channel.
//
// It matches ErrResourceAcquisition.
type ChannelError struct {
	Channel int
	Op      string
	Err     error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %d: %s: %v", e.Channel, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *ChannelError) Unwrap() error {
	return e.Err
}

// Is matches ErrResourceAcquisition.
func (e *ChannelError) Is(target error) bool {
	return target == ErrResourceAcquisition
}
