// SPDX-FileCopyrightText: 2026 The gpioirq Authors
//
// SPDX-License-Identifier: MIT

//go:build linux
// +build linux

package gpioirq

import (
	"time"

	"github.com/rfctl/gpioirq/epoll"
	"github.com/rfctl/gpioirq/pinmux"
	"github.com/rfctl/gpioirq/uio"
	"github.com/rs/zerolog"
)

// Option defines the interface required to provide a System option.
type Option interface {
	applySystemOption(*SystemOptions)
}

// SystemOptions contains the options for a System.
type SystemOptions struct {
	logger   zerolog.Logger
	trace    bool
	devices  DeviceOpener
	lines    LineSource
	pinmux   Pinmuxer
	mux      MultiplexerFactory
	launch   Launcher
	devDir   string
	settle   time.Duration
	dropRate map[time.Duration]int
}

func defaultSystemOptions() SystemOptions {
	return SystemOptions{
		logger: zerolog.Nop(),
		lines:  ChipLineSource{},
		pinmux: pinmux.Nop{},
		mux: func() (Multiplexer, error) {
			s, err := epoll.New()
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		launch: goLauncher,
		devDir: uio.DefaultDevDir,
		dropRate: map[time.Duration]int{
			time.Second: 1,
			time.Minute: 10,
		},
	}
}

// Launcher runs a callback independently of the monitor.
//
// Returns an error if fn could not be started, in which case fn is never
// called.
type Launcher func(fn func()) error

func goLauncher(fn func()) error {
	go fn()
	return nil
}

// LoggerOption provides the logger for the System.
type LoggerOption struct {
	l zerolog.Logger
}

// WithLogger sets the logger used by the System.
//
// The default is to discard log output.
func WithLogger(l zerolog.Logger) LoggerOption {
	return LoggerOption{l}
}

func (o LoggerOption) applySystemOption(so *SystemOptions) {
	so.logger = o.l
}

// TraceOption sets the initial state of trace logging.
type TraceOption bool

// WithTrace enables trace logging from the start.
//
// Trace can also be toggled at runtime using SetTraceEnabled.
const WithTrace = TraceOption(true)

func (o TraceOption) applySystemOption(so *SystemOptions) {
	so.trace = bool(o)
}

// DeviceOpenerOption provides the source of interrupt devices.
type DeviceOpenerOption struct {
	d DeviceOpener
}

// WithDeviceOpener overrides the opening of interrupt devices.
//
// The default opens UIO devices.
func WithDeviceOpener(d DeviceOpener) DeviceOpenerOption {
	return DeviceOpenerOption{d}
}

func (o DeviceOpenerOption) applySystemOption(so *SystemOptions) {
	so.devices = o.d
}

// LineSourceOption provides the source of GPIO lines.
type LineSourceOption struct {
	l LineSource
}

// WithLineSource overrides the reservation of GPIO lines.
//
// The default requests lines from the GPIO character device.
func WithLineSource(l LineSource) LineSourceOption {
	return LineSourceOption{l}
}

func (o LineSourceOption) applySystemOption(so *SystemOptions) {
	so.lines = o.l
}

// PinmuxOption provides the pin multiplexer.
type PinmuxOption struct {
	p Pinmuxer
}

// WithPinmux sets the pin multiplexer used to route pins to GPIO.
//
// The default is pinmux.Nop.
func WithPinmux(p Pinmuxer) PinmuxOption {
	return PinmuxOption{p}
}

func (o PinmuxOption) applySystemOption(so *SystemOptions) {
	so.pinmux = o.p
}

// MultiplexerOption provides the readiness multiplexer factory.
type MultiplexerOption struct {
	f MultiplexerFactory
}

// WithMultiplexer overrides the readiness multiplexer used by the monitor.
//
// The default is an epoll.Set.
func WithMultiplexer(f MultiplexerFactory) MultiplexerOption {
	return MultiplexerOption{f}
}

func (o MultiplexerOption) applySystemOption(so *SystemOptions) {
	so.mux = o.f
}

// LauncherOption provides the callback launcher.
type LauncherOption struct {
	l Launcher
}

// WithLauncher overrides how callbacks are started.
//
// The default starts each callback in its own goroutine.
func WithLauncher(l Launcher) LauncherOption {
	return LauncherOption{l}
}

func (o LauncherOption) applySystemOption(so *SystemOptions) {
	so.launch = o.l
}

// DevDirOption sets the directory containing the UIO device nodes.
type DevDirOption string

// WithDevDir overrides the directory containing the UIO device nodes.
//
// Only applies to the default device opener.
func WithDevDir(dir string) DevDirOption {
	return DevDirOption(dir)
}

func (o DevDirOption) applySystemOption(so *SystemOptions) {
	so.devDir = string(o)
}

// DeviceSettleOption sets how long to wait for a UIO device node to appear.
type DeviceSettleOption time.Duration

// WithDeviceSettle waits up to d for missing UIO device nodes to be created,
// such as when the driver is loaded alongside the application.
//
// Only applies to the default device opener.
func WithDeviceSettle(d time.Duration) DeviceSettleOption {
	return DeviceSettleOption(d)
}

func (o DeviceSettleOption) applySystemOption(so *SystemOptions) {
	so.settle = time.Duration(o)
}

// DropLogRateOption limits the rate of dropped event warnings per channel.
type DropLogRateOption map[time.Duration]int

// WithDropLogRate sets the maximum number of dropped event warnings logged per
// channel for each period.
func WithDropLogRate(rates map[time.Duration]int) DropLogRateOption {
	return DropLogRateOption(rates)
}

func (o DropLogRateOption) applySystemOption(so *SystemOptions) {
	so.dropRate = map[time.Duration]int(o)
}
