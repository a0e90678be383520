// SPDX-FileCopyrightText: 2026 The gpioirq Authors
//
// SPDX-License-Identifier: MIT

//go:build linux
// +build linux

package gpioirq

import "sync"

var (
	defaultMu     sync.Mutex
	defaultSystem *System
)

// Default returns the process wide System.
//
// Unless replaced by SetDefault, this System has no context loader and so
// fails to Init.
func Default() *System {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultSystem == nil {
		defaultSystem = NewSystem(nil)
	}
	return defaultSystem
}

// SetDefault replaces the process wide System.
//
// The previous System is not deinitialised.
func SetDefault(s *System) {
	defaultMu.Lock()
	defaultSystem = s
	defaultMu.Unlock()
}

// Init initialises the process wide System.
func Init() error {
	return Default().Init()
}

// Deinit deinitialises the process wide System.
func Deinit() error {
	return Default().Deinit()
}

// RegisterCallback registers a callback with the process wide System.
func RegisterCallback(channel int, cb Callback) error {
	return Default().RegisterCallback(channel, cb)
}

// SetTraceEnabled toggles trace logging on the process wide System.
func SetTraceEnabled(enabled bool) {
	Default().SetTraceEnabled(enabled)
}
