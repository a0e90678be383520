// SPDX-FileCopyrightText: 2026 The gpioirq Authors
//
// SPDX-License-Identifier: MIT

//go:build linux
// +build linux

package gpioirq

import (
	"fmt"
	"time"

	"github.com/rfctl/gpioirq/uio"
	"github.com/warthog618/go-gpiocdev"
)

// ChipName returns the name of the gpiochip for a GPIO bank.
func ChipName(group int) string {
	return fmt.Sprintf("gpiochip%d", group)
}

// ChipLineSource reserves lines through the GPIO character device, with the
// bank number selecting the gpiochip.
type ChipLineSource struct{}

// RequestInput requests the line as an input labelled with consumer.
func (ChipLineSource) RequestInput(group, offset int, consumer string) (Line, error) {
	c, err := gpiocdev.NewChip(ChipName(group), gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, err
	}
	// the line remains requested after the chip is closed
	defer c.Close()
	l, err := c.RequestLine(offset, gpiocdev.AsInput, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, err
	}
	return l, nil
}

// UIOOpener opens UIO devices.
type UIOOpener struct {
	// DevDir is the directory containing the device nodes.
	DevDir string

	// Settle is how long to wait for a missing node to appear.
	Settle time.Duration
}

// OpenDevice opens the UIO device with the given index.
func (o UIOOpener) OpenDevice(index int) (InterruptDevice, error) {
	opts := []uio.Option{uio.WithSettle(o.Settle)}
	if o.DevDir != "" {
		opts = append(opts, uio.WithDevDir(o.DevDir))
	}
	d, err := uio.Open(index, opts...)
	if err != nil {
		return nil, err
	}
	return d, nil
}
