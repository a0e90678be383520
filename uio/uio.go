// SPDX-FileCopyrightText: 2026 The gpioirq Authors
//
// SPDX-License-Identifier: MIT

//go:build linux
// +build linux

// Package uio provides access to Linux Userspace I/O interrupt devices.
//
// A UIO device exposes a hardware interrupt through its character device.
// A blocking 4 byte read returns the total interrupt count and clears the
// pending condition, while a 4 byte write of 1 or 0 enables or disables the
// interrupt.
//
// Example of use:
//
//	d, err := uio.Open(2)
//	if err != nil {
//		panic(err)
//	}
//	defer d.Close()
//	d.Enable()
//	// wait for d.Fd() to become readable...
//	count, err := d.Acknowledge()
//	d.Enable()
package uio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultDevDir is the directory containing the UIO device nodes.
const DefaultDevDir = "/dev"

// Device is an open UIO device.
type Device struct {
	fd    int
	index int
	path  string

	// mu covers closed.
	mu     sync.Mutex
	closed bool
}

// Options contain the options applied when opening a Device.
type Options struct {
	devDir string
	settle time.Duration
}

// Option modifies the Options used to open a Device.
type Option func(*Options)

// WithDevDir overrides the directory containing the device nodes.
func WithDevDir(dir string) Option {
	return func(o *Options) {
		o.devDir = dir
	}
}

// WithSettle waits up to timeout for a missing device node to be created
// before failing the open.
//
// A zero timeout disables waiting.
func WithSettle(timeout time.Duration) Option {
	return func(o *Options) {
		o.settle = timeout
	}
}

// Path returns the path of the device node for the UIO device index.
func Path(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("uio%d", index))
}

// Open opens the UIO device with the given index for reading and writing.
func Open(index int, options ...Option) (*Device, error) {
	if index < 0 {
		return nil, ErrInvalidIndex
	}
	opts := Options{devDir: DefaultDevDir}
	for _, option := range options {
		option(&opts)
	}
	path := Path(opts.devDir, index)
	if opts.settle > 0 {
		if err := WaitForDevice(path, opts.settle); err != nil {
			return nil, err
		}
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	return &Device{fd: fd, index: index, path: path}, nil
}

// Fd returns the file descriptor of the device, for use in readiness sets.
func (d *Device) Fd() int {
	return d.fd
}

// Index returns the UIO index of the device.
func (d *Device) Index() int {
	return d.index
}

// Path returns the path of the device node.
func (d *Device) Path() string {
	return d.path
}

// Acknowledge reads the interrupt count, clearing the pending interrupt.
//
// This blocks if no interrupt is pending, so should only be called when the
// fd is known to be ready to read.
// Returns ErrShortRead if fewer than 4 bytes are returned.
func (d *Device) Acknowledge() (uint32, error) {
	if d.isClosed() {
		return 0, ErrClosed
	}
	var buf [4]byte
	n, err := unix.Read(d.fd, buf[:])
	if err == unix.EINTR || err == unix.EAGAIN {
		return 0, ErrShortRead
	}
	if err != nil {
		return 0, err
	}
	if n != len(buf) {
		return 0, ErrShortRead
	}
	return nativeEndian.Uint32(buf[:]), nil
}

// Arm discards any interrupt latched before the device was watched, then
// enables the interrupt.
func (d *Device) Arm() error {
	if d.isClosed() {
		return ErrClosed
	}
	pfd := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(pfd, 0)
	if err != nil && err != unix.EINTR {
		return err
	}
	if n > 0 && pfd[0].Revents&unix.POLLIN != 0 {
		if _, err := d.Acknowledge(); err != nil && err != ErrShortRead {
			return err
		}
	}
	return d.Enable()
}

// Enable (re-)arms the interrupt.
func (d *Device) Enable() error {
	return d.writeIrqControl(1)
}

// Disable masks the interrupt.
func (d *Device) Disable() error {
	return d.writeIrqControl(0)
}

func (d *Device) writeIrqControl(v uint32) error {
	if d.isClosed() {
		return ErrClosed
	}
	var buf [4]byte
	nativeEndian.PutUint32(buf[:], v)
	n, err := unix.Write(d.fd, buf[:])
	if err != nil {
		return err
	}
	if n != len(buf) {
		return ErrShortWrite
	}
	return nil
}

// Close releases the device.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.closed = true
	return unix.Close(d.fd)
}

func (d *Device) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// endian used to encode the interrupt count and control words.
var nativeEndian binary.ByteOrder = binary.NativeEndian

var (
	// ErrClosed indicates the device has already been closed.
	ErrClosed = errors.New("already closed")

	// ErrInvalidIndex indicates a negative device index.
	ErrInvalidIndex = errors.New("invalid uio index")

	// ErrShortRead indicates the device returned less than a full interrupt
	// count, including an interrupted read.
	ErrShortRead = errors.New("short read of interrupt count")

	// ErrShortWrite indicates the device accepted less than a full control
	// word.
	ErrShortWrite = errors.New("short write of interrupt control")

	// ErrTimeout indicates the device node did not appear in time.
	ErrTimeout = errors.New("timeout waiting for device")
)
