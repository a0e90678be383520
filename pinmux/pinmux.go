// SPDX-FileCopyrightText: 2026 The gpioirq Authors
//
// SPDX-License-Identifier: MIT

// Package pinmux provides adapters for the board specific pin multiplexing
// needed before a pad can be used as a GPIO.
package pinmux

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Mode is the function selected for a pin.
type Mode int

const (
	// ModeAlternate leaves the pin to its peripheral function.
	ModeAlternate Mode = iota

	// ModeGPIO routes the pin to the GPIO controller.
	ModeGPIO
)

func (m Mode) String() string {
	switch m {
	case ModeAlternate:
		return "alternate"
	case ModeGPIO:
		return "gpio"
	default:
		return "mode" + strconv.Itoa(int(m))
	}
}

// Nop is a pin multiplexer for boards where the pins are already configured,
// e.g. by the device tree.
type Nop struct{}

// SetFunction does nothing.
func (Nop) SetFunction(group, offset int, mode Mode) error {
	return nil
}

// Func adapts a function to a pin multiplexer.
type Func func(group, offset int, mode Mode) error

// SetFunction calls f.
func (f Func) SetFunction(group, offset int, mode Mode) error {
	return f(group, offset, mode)
}

// Command sets pin functions by running an external helper, as provided by
// the board support package.
//
// The placeholders {group}, {offset} and {mode} in Args are replaced with the
// decimal values of the request.
type Command struct {
	Path string
	Args []string
}

// NewCommand creates a Command from a space separated command line.
func NewCommand(cmdline string) (*Command, error) {
	ff := strings.Fields(cmdline)
	if len(ff) == 0 {
		return nil, ErrEmptyCommand
	}
	return &Command{Path: ff[0], Args: ff[1:]}, nil
}

// SetFunction runs the helper for the pin.
func (c *Command) SetFunction(group, offset int, mode Mode) error {
	r := strings.NewReplacer(
		"{group}", strconv.Itoa(group),
		"{offset}", strconv.Itoa(offset),
		"{mode}", strconv.Itoa(int(mode)))
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = r.Replace(a)
	}
	out, err := exec.Command(c.Path, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("pinmux %d.%d: %s: %w", group, offset, strings.TrimSpace(string(out)), err)
	}
	return nil
}

// ErrEmptyCommand indicates no helper was provided.
var ErrEmptyCommand = errEmptyCommand{}

type errEmptyCommand struct{}

func (errEmptyCommand) Error() string {
	return "empty pinmux command"
}
