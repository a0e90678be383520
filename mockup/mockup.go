// SPDX-FileCopyrightText: 2026 The gpioirq Authors
//
// SPDX-License-Identifier: MIT

//go:build linux
// +build linux

// Package mockup provides an in-memory board of interrupt devices, GPIO
// lines and pin multiplexing.
//
// This is intended for testing of gpioirq, but can also be used for testing
// by users of their own code that uses gpioirq, without requiring UIO
// devices or a GPIO chip.
//
// Example of use:
//
//	m := mockup.New()
//	s := gpioirq.NewSystem(loader, m.Options()...)
//	s.Init()
//	m.SetLevel(4, 7, 1)
//	m.Fire(2)
package mockup

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rfctl/gpioirq"
	"github.com/rfctl/gpioirq/epoll"
	"github.com/rfctl/gpioirq/pinmux"
	"github.com/rfctl/gpioirq/uio"
	"golang.org/x/sys/unix"
)

// fdBase offsets the descriptor of a mocked device from its index.
const fdBase = 1000

type lineKey struct {
	group  int
	offset int
}

// Mockup represents a board being mocked.
type Mockup struct {
	// mu covers all state of the board, its devices, lines and
	// multiplexers.
	mu      sync.Mutex
	devices map[int]*Device
	lines   map[lineKey]*Line
	levels  map[lineKey]int
	muxes   []*Mux
	calls   []string

	failOpen    map[int]error
	failWatch   map[int]error
	failArm     map[int]error
	failEnable  map[int]error
	failAck     map[int]error
	failPinmux  map[lineKey]error
	failRequest map[lineKey]error
	failMux     error
}

// New creates a new Mockup with no devices open and all lines low.
func New() *Mockup {
	return &Mockup{
		devices:     map[int]*Device{},
		lines:       map[lineKey]*Line{},
		levels:      map[lineKey]int{},
		failOpen:    map[int]error{},
		failWatch:   map[int]error{},
		failArm:     map[int]error{},
		failEnable:  map[int]error{},
		failAck:     map[int]error{},
		failPinmux:  map[lineKey]error{},
		failRequest: map[lineKey]error{},
	}
}

// Options returns the options that bind a gpioirq.System to the board.
func (m *Mockup) Options() []gpioirq.Option {
	return []gpioirq.Option{
		gpioirq.WithDeviceOpener(m),
		gpioirq.WithLineSource(m),
		gpioirq.WithPinmux(m),
		gpioirq.WithMultiplexer(m.NewMultiplexer),
	}
}

func (m *Mockup) record(format string, args ...interface{}) {
	m.calls = append(m.calls, fmt.Sprintf(format, args...))
}

// Calls returns the log of operations performed on the board, in order.
func (m *Mockup) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// ClearCalls empties the log of operations.
func (m *Mockup) ClearCalls() {
	m.mu.Lock()
	m.calls = nil
	m.mu.Unlock()
}

// FailOpen causes opening the device to fail with err.
//
// A nil err clears the failure.
func (m *Mockup) FailOpen(device int, err error) {
	m.mu.Lock()
	setFail(m.failOpen, device, err)
	m.mu.Unlock()
}

// FailWatch causes adding the device to a multiplexer to fail with err.
func (m *Mockup) FailWatch(device int, err error) {
	m.mu.Lock()
	setFail(m.failWatch, device, err)
	m.mu.Unlock()
}

// FailArm causes the initial arming of the device to fail with err.
func (m *Mockup) FailArm(device int, err error) {
	m.mu.Lock()
	setFail(m.failArm, device, err)
	m.mu.Unlock()
}

// FailEnable causes re-enabling the device interrupt to fail with err.
func (m *Mockup) FailEnable(device int, err error) {
	m.mu.Lock()
	setFail(m.failEnable, device, err)
	m.mu.Unlock()
}

// FailAcknowledge causes acknowledging the device interrupt to fail with err,
// e.g. uio.ErrShortRead.
//
// A uio.ErrShortRead still clears the pending interrupt. Any other err leaves
// it pending, so the device remains ready, as a device failing its reads.
func (m *Mockup) FailAcknowledge(device int, err error) {
	m.mu.Lock()
	setFail(m.failAck, device, err)
	m.mu.Unlock()
}

// FailPinmux causes setting the function of the pin to fail with err.
func (m *Mockup) FailPinmux(group, offset int, err error) {
	m.mu.Lock()
	setFail(m.failPinmux, lineKey{group, offset}, err)
	m.mu.Unlock()
}

// FailRequest causes requesting the line to fail with err.
func (m *Mockup) FailRequest(group, offset int, err error) {
	m.mu.Lock()
	setFail(m.failRequest, lineKey{group, offset}, err)
	m.mu.Unlock()
}

// FailMultiplexer causes creating a multiplexer to fail with err.
func (m *Mockup) FailMultiplexer(err error) {
	m.mu.Lock()
	m.failMux = err
	m.mu.Unlock()
}

func setFail[K comparable](f map[K]error, k K, err error) {
	if err == nil {
		delete(f, k)
		return
	}
	f[k] = err
}

// OpenDevice opens the mocked interrupt device.
func (m *Mockup) OpenDevice(index int) (gpioirq.InterruptDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("open uio%d", index)
	if err := m.failOpen[index]; err != nil {
		return nil, err
	}
	if _, ok := m.devices[index]; ok {
		return nil, unix.EBUSY
	}
	d := &Device{m: m, index: index, fd: fdBase + index}
	m.devices[index] = d
	return d, nil
}

// SetFunction records the pin function.
func (m *Mockup) SetFunction(group, offset int, mode pinmux.Mode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("pinmux %d.%d %s", group, offset, mode)
	return m.failPinmux[lineKey{group, offset}]
}

// RequestInput reserves the mocked line.
//
// A line can only be requested once at a time.
func (m *Mockup) RequestInput(group, offset int, consumer string) (gpioirq.Line, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("request %d.%d %s", group, offset, consumer)
	k := lineKey{group, offset}
	if err := m.failRequest[k]; err != nil {
		return nil, err
	}
	if _, ok := m.lines[k]; ok {
		return nil, unix.EBUSY
	}
	l := &Line{m: m, key: k, consumer: consumer}
	m.lines[k] = l
	return l, nil
}

// NewMultiplexer creates a multiplexer watching mocked devices.
func (m *Mockup) NewMultiplexer() (gpioirq.Multiplexer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failMux != nil {
		return nil, m.failMux
	}
	x := &Mux{
		m:     m,
		tags:  map[int]int{},
		wake:  make(chan struct{}, 1),
		start: make(chan struct{}),
	}
	m.muxes = append(m.muxes, x)
	return x, nil
}

// SetLevel sets the level of the line.
func (m *Mockup) SetLevel(group, offset, level int) {
	m.mu.Lock()
	m.levels[lineKey{group, offset}] = level
	m.mu.Unlock()
}

// Fire raises an interrupt on the device.
//
// As with a UIO interrupt, the device must be open and enabled, and is
// disabled until re-enabled. Returns false if the interrupt was missed.
func (m *Mockup) Fire(device int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[device]
	if !ok || !d.enabled {
		return false
	}
	d.count++
	d.pending = true
	d.enabled = false
	for _, x := range m.muxes {
		if _, ok := x.tags[d.fd]; ok {
			x.signal()
		}
	}
	return true
}

// Device returns the open device with the given index, or nil.
func (m *Mockup) Device(index int) *Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.devices[index]
}

// OpenDevices returns the number of devices currently open.
func (m *Mockup) OpenDevices() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.devices)
}

// RequestedLines returns the number of lines currently requested.
func (m *Mockup) RequestedLines() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lines)
}

// OpenMultiplexers returns the number of multiplexers not yet closed.
func (m *Mockup) OpenMultiplexers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, x := range m.muxes {
		if !x.closed {
			n++
		}
	}
	return n
}

// Waiting returns a channel that is closed once the most recent multiplexer
// has been waited on.
func (m *Mockup) Waiting() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.muxes) == 0 {
		c := make(chan struct{})
		return c
	}
	return m.muxes[len(m.muxes)-1].start
}

// Device is a mocked UIO interrupt device.
type Device struct {
	m       *Mockup
	index   int
	fd      int
	count   uint32
	pending bool
	enabled bool
	closed  bool
	arms    int
	enables int
	acks    int
}

// Fd returns the descriptor used to identify the device to a Mux.
func (d *Device) Fd() int {
	return d.fd
}

// Acknowledge clears the pending interrupt and returns the interrupt count.
//
// Returns uio.ErrShortRead if no interrupt is pending, rather than blocking.
func (d *Device) Acknowledge() (uint32, error) {
	d.m.mu.Lock()
	defer d.m.mu.Unlock()
	if d.closed {
		return 0, uio.ErrClosed
	}
	if !d.pending {
		return 0, uio.ErrShortRead
	}
	d.acks++
	if err := d.m.failAck[d.index]; err != nil {
		if errors.Is(err, uio.ErrShortRead) {
			d.pending = false
		}
		return 0, err
	}
	d.pending = false
	return d.count, nil
}

// Arm clears any pending interrupt and enables the device.
func (d *Device) Arm() error {
	d.m.mu.Lock()
	defer d.m.mu.Unlock()
	d.m.record("arm uio%d", d.index)
	if d.closed {
		return uio.ErrClosed
	}
	if err := d.m.failArm[d.index]; err != nil {
		return err
	}
	d.pending = false
	d.enabled = true
	d.arms++
	return nil
}

// Enable re-enables the device.
func (d *Device) Enable() error {
	d.m.mu.Lock()
	defer d.m.mu.Unlock()
	if d.closed {
		return uio.ErrClosed
	}
	if err := d.m.failEnable[d.index]; err != nil {
		return err
	}
	d.enabled = true
	d.enables++
	return nil
}

// Close closes the device.
func (d *Device) Close() error {
	d.m.mu.Lock()
	defer d.m.mu.Unlock()
	if d.closed {
		return uio.ErrClosed
	}
	d.m.record("close uio%d", d.index)
	d.closed = true
	d.enabled = false
	if d.m.devices[d.index] == d {
		delete(d.m.devices, d.index)
	}
	return nil
}

// Enabled returns true if the interrupt is enabled.
func (d *Device) Enabled() bool {
	d.m.mu.Lock()
	defer d.m.mu.Unlock()
	return d.enabled
}

// Arms returns the number of times the device has been armed.
func (d *Device) Arms() int {
	d.m.mu.Lock()
	defer d.m.mu.Unlock()
	return d.arms
}

// Acknowledges returns the number of times a pending interrupt has been read.
func (d *Device) Acknowledges() int {
	d.m.mu.Lock()
	defer d.m.mu.Unlock()
	return d.acks
}

// Enables returns the number of times the device has been re-enabled.
func (d *Device) Enables() int {
	d.m.mu.Lock()
	defer d.m.mu.Unlock()
	return d.enables
}

// Line is a mocked GPIO line.
type Line struct {
	m        *Mockup
	key      lineKey
	consumer string
	closed   bool
}

// Value returns the level set on the line by SetLevel.
func (l *Line) Value() (int, error) {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	if l.closed {
		return 0, ErrClosed
	}
	return l.m.levels[l.key], nil
}

// Consumer returns the label the line was requested with.
func (l *Line) Consumer() string {
	return l.consumer
}

// Close releases the line.
func (l *Line) Close() error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.m.record("release %d.%d", l.key.group, l.key.offset)
	l.closed = true
	if l.m.lines[l.key] == l {
		delete(l.m.lines, l.key)
	}
	return nil
}

// Mux is a mocked readiness multiplexer reporting the devices with pending
// interrupts.
type Mux struct {
	m           *Mockup
	tags        map[int]int
	wake        chan struct{}
	start       chan struct{}
	started     bool
	interrupted bool
	closed      bool
}

func (x *Mux) signal() {
	select {
	case x.wake <- struct{}{}:
	default:
	}
}

// Add watches the device with descriptor fd.
func (x *Mux) Add(fd, tag int) error {
	x.m.mu.Lock()
	defer x.m.mu.Unlock()
	if x.closed {
		return epoll.ErrClosed
	}
	if err := x.m.failWatch[fd-fdBase]; err != nil {
		return err
	}
	if _, ok := x.tags[fd]; ok {
		return epoll.ErrDuplicate
	}
	x.tags[fd] = tag
	return nil
}

// Remove stops watching the device with descriptor fd.
func (x *Mux) Remove(fd int) error {
	x.m.mu.Lock()
	defer x.m.mu.Unlock()
	if x.closed {
		return epoll.ErrClosed
	}
	if _, ok := x.tags[fd]; !ok {
		return epoll.ErrNotWatched
	}
	delete(x.tags, fd)
	return nil
}

// Wait blocks until a watched device has a pending interrupt and returns the
// tags of all such devices.
func (x *Mux) Wait() ([]int, error) {
	for {
		x.m.mu.Lock()
		if !x.started {
			x.started = true
			close(x.start)
		}
		if x.interrupted || x.closed {
			x.m.mu.Unlock()
			return nil, epoll.ErrClosed
		}
		var tags []int
		for fd, tag := range x.tags {
			if d, ok := x.m.devices[fd-fdBase]; ok && d.pending {
				tags = append(tags, tag)
			}
		}
		x.m.mu.Unlock()
		if len(tags) > 0 {
			sort.Ints(tags)
			return tags, nil
		}
		<-x.wake
	}
}

// Interrupt unblocks Wait.
func (x *Mux) Interrupt() error {
	x.m.mu.Lock()
	defer x.m.mu.Unlock()
	if x.closed {
		return nil
	}
	x.interrupted = true
	x.signal()
	return nil
}

// Close closes the multiplexer.
func (x *Mux) Close() error {
	x.m.mu.Lock()
	defer x.m.mu.Unlock()
	if x.closed {
		return epoll.ErrClosed
	}
	x.closed = true
	x.tags = map[int]int{}
	x.signal()
	return nil
}

// ErrClosed indicates the line has already been released.
var ErrClosed = errClosed{}

type errClosed struct{}

func (errClosed) Error() string {
	return "already closed"
}
