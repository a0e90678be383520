// SPDX-FileCopyrightText: 2026 The gpioirq Authors
//
// SPDX-License-Identifier: MIT

//go:build linux
// +build linux

package uio

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/pilebones/go-udev/netlink"
)

// WaitForDevice waits up to timeout for the device node at path to exist.
//
// Returns immediately if the node already exists, else watches udev for the
// add event of the corresponding uio device.
func WaitForDevice(path string, timeout time.Duration) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	m, err := newUdevMonitor(filepath.Base(path))
	if err != nil {
		// no udev - fall back to polling the node
		return pollForDevice(path, timeout)
	}
	defer m.close()
	// may have been created before the monitor connected
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	deadline := time.After(timeout)
	// events can be missed while the monitor starts, so recheck periodically
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-m.queue:
			if _, err := os.Stat(path); err == nil {
				return nil
			}
		case <-tick.C:
			if _, err := os.Stat(path); err == nil {
				return nil
			}
		case <-deadline:
			return fmt.Errorf("%s: %w", path, ErrTimeout)
		}
	}
}

func pollForDevice(path string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%s: %w", path, ErrTimeout)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type udevMonitor struct {
	conn  *netlink.UEventConn
	queue chan netlink.UEvent
	quit  chan struct{}
	done  chan struct{}
}

func newUdevMonitor(name string) (*udevMonitor, error) {
	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		return nil, fmt.Errorf("unable to connect to Netlink Kobject UEvent socket")
	}
	action := "add"
	matcher := &netlink.RuleDefinition{Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "uio",
			"DEVNAME":   "^(/dev/)?" + regexp.QuoteMeta(name) + "$",
		}}
	queue := make(chan netlink.UEvent, 1)
	errors := make(chan error, 1)
	quit := conn.Monitor(queue, errors, matcher)
	m := udevMonitor{conn: conn, queue: queue, quit: quit, done: make(chan struct{})}
	go func() {
		for {
			select {
			case <-errors:
				// transient netlink errors only delay the wait
			case <-m.done:
				return
			}
		}
	}()
	return &m, nil
}

func (m *udevMonitor) close() {
	close(m.done)
	select {
	case m.quit <- struct{}{}:
	case <-time.After(100 * time.Millisecond):
	}
	m.conn.Close()
}
