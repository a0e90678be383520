// SPDX-FileCopyrightText: 2026 The gpioirq Authors
//
// SPDX-License-Identifier: MIT

//go:build linux
// +build linux

package gpioirq_test

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rfctl/gpioirq"
	"github.com/rfctl/gpioirq/epoll"
	"github.com/rfctl/gpioirq/mockup"
	"github.com/rfctl/gpioirq/uio"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// logBuffer collects log output written from multiple goroutines.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *logBuffer) Count(msg string) int {
	return strings.Count(b.String(), `"message":"`+msg+`"`)
}

func twoChannels() gpioirq.Context {
	return gpioirq.Context{Channels: []gpioirq.ChannelConfig{
		{Group: 4, Offset: 7, Device: 2, Consumer: "irq0", Enabled: true},
		{Group: 4, Offset: 8, Device: 3, Consumer: "irq1", Enabled: true},
	}}
}

type event struct {
	channel int
	level   int
}

func newSystem(t *testing.T, ctx gpioirq.Context, options ...gpioirq.Option) (*gpioirq.System, *mockup.Mockup) {
	t.Helper()
	m := mockup.New()
	s := gpioirq.NewSystem(gpioirq.StaticContext(ctx), append(m.Options(), options...)...)
	return s, m
}

func requireReleased(t *testing.T, m *mockup.Mockup) {
	t.Helper()
	assert.Equal(t, 0, m.OpenDevices())
	assert.Equal(t, 0, m.RequestedLines())
	assert.Equal(t, 0, m.OpenMultiplexers())
}

// requireIdle waits for the channel to be re-armed with no callback running.
func requireIdle(t *testing.T, s *gpioirq.System, m *mockup.Mockup, channel int) {
	t.Helper()
	d := m.Device(s.Context().Channels[channel].Device)
	require.NotNil(t, d)
	require.Eventually(t, func() bool {
		return d.Enabled() && !s.Status()[channel].InFlight
	}, time.Second, time.Millisecond)
}

func TestInit(t *testing.T) {
	s, m := newSystem(t, twoChannels())
	assert.Equal(t, gpioirq.StateUninitialized, s.State())
	assert.Nil(t, s.Context())
	assert.Nil(t, s.Status())

	err := s.Init()
	require.Nil(t, err)
	assert.Equal(t, gpioirq.StateMonitoring, s.State())
	assert.Equal(t, twoChannels().Channels, s.Context().Channels)
	assert.Equal(t, 2, m.OpenDevices())
	assert.Equal(t, 2, m.RequestedLines())
	assert.Equal(t, 1, m.OpenMultiplexers())
	assert.Equal(t, []string{
		"open uio2",
		"pinmux 4.7 gpio",
		"request 4.7 irq0",
		"open uio3",
		"pinmux 4.8 gpio",
		"request 4.8 irq1",
		"arm uio2",
		"arm uio3",
	}, m.Calls())

	// already monitoring
	m.ClearCalls()
	err = s.Init()
	assert.Nil(t, err)
	assert.Empty(t, m.Calls())

	err = s.Deinit()
	assert.Nil(t, err)
	assert.Equal(t, gpioirq.StateUninitialized, s.State())
	requireReleased(t, m)

	// already uninitialised
	err = s.Deinit()
	assert.Nil(t, err)

	// restartable
	err = s.Init()
	assert.Nil(t, err)
	assert.Equal(t, gpioirq.StateMonitoring, s.State())
	s.Deinit()
	requireReleased(t, m)
}

func TestInitDisabled(t *testing.T) {
	ctx := twoChannels()
	ctx.Channels[1].Enabled = false
	s, m := newSystem(t, ctx)
	err := s.Init()
	require.Nil(t, err)
	defer s.Deinit()
	assert.Equal(t, 1, m.OpenDevices())
	assert.Equal(t, 1, m.RequestedLines())
	assert.Nil(t, m.Device(3))
	st := s.Status()
	require.Len(t, st, 2)
	assert.True(t, st[0].Acquired)
	assert.False(t, st[1].Acquired)
}

func TestInitInvalid(t *testing.T) {
	s, m := newSystem(t, gpioirq.Context{})
	err := s.Init()
	assert.True(t, errors.Is(err, gpioirq.ErrInvalidParameter))
	assert.Equal(t, gpioirq.StateUninitialized, s.State())
	assert.Empty(t, m.Calls())

	lerr := errors.New("no database")
	s = gpioirq.NewSystem(gpioirq.ContextLoaderFunc(func() (*gpioirq.Context, error) {
		return nil, lerr
	}))
	err = s.Init()
	assert.Equal(t, lerr, err)
	assert.Equal(t, gpioirq.StateUninitialized, s.State())

	s = gpioirq.NewSystem(nil)
	err = s.Init()
	assert.True(t, errors.Is(err, gpioirq.ErrInvalidParameter))
}

func TestInitRollback(t *testing.T) {
	ferr := errors.New("injected")
	patterns := []struct {
		name    string
		fail    func(m *mockup.Mockup)
		channel int
		op      string
	}{
		{"open first", func(m *mockup.Mockup) { m.FailOpen(2, ferr) }, 0, "open device"},
		{"open", func(m *mockup.Mockup) { m.FailOpen(3, ferr) }, 1, "open device"},
		{"pinmux", func(m *mockup.Mockup) { m.FailPinmux(4, 8, ferr) }, 1, "pinmux"},
		{"request", func(m *mockup.Mockup) { m.FailRequest(4, 8, ferr) }, 1, "request line"},
		{"watch", func(m *mockup.Mockup) { m.FailWatch(3, ferr) }, 1, "watch"},
		{"arm", func(m *mockup.Mockup) { m.FailArm(3, ferr) }, 1, "arm"},
	}
	for _, p := range patterns {
		tf := func(t *testing.T) {
			s, m := newSystem(t, twoChannels())
			p.fail(m)
			err := s.Init()
			require.NotNil(t, err)
			assert.True(t, errors.Is(err, gpioirq.ErrResourceAcquisition))
			assert.True(t, errors.Is(err, ferr))
			var ce *gpioirq.ChannelError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, p.channel, ce.Channel)
			assert.Equal(t, p.op, ce.Op)
			assert.Equal(t, gpioirq.StateUninitialized, s.State())
			requireReleased(t, m)
			assert.True(t, errors.Is(s.RegisterCallback(0, func(int, int) {}), gpioirq.ErrNotMonitoring))

			// recovers once the fault clears
			m2 := mockup.New()
			s = gpioirq.NewSystem(gpioirq.StaticContext(twoChannels()), m2.Options()...)
			require.Nil(t, s.Init())
			s.Deinit()
			requireReleased(t, m2)
		}
		t.Run(p.name, tf)
	}

	s, m := newSystem(t, twoChannels())
	m.FailMultiplexer(ferr)
	err := s.Init()
	assert.True(t, errors.Is(err, gpioirq.ErrResourceAcquisition))
	requireReleased(t, m)
}

func TestInitRollbackOrder(t *testing.T) {
	s, m := newSystem(t, twoChannels())
	m.FailRequest(4, 8, errors.New("busy"))
	err := s.Init()
	require.NotNil(t, err)
	assert.Equal(t, []string{
		"open uio2",
		"pinmux 4.7 gpio",
		"request 4.7 irq0",
		"open uio3",
		"pinmux 4.8 gpio",
		"request 4.8 irq1",
		"close uio3",
		"release 4.7",
		"close uio2",
	}, m.Calls())
}

func nChannels(n int) gpioirq.Context {
	ctx := gpioirq.Context{}
	for i := 0; i < n; i++ {
		ctx.Channels = append(ctx.Channels, gpioirq.ChannelConfig{
			Group:    1 + i/4,
			Offset:   i,
			Device:   i,
			Consumer: fmt.Sprintf("irq%d", i),
			Enabled:  true,
		})
	}
	return ctx
}

func TestInitCounts(t *testing.T) {
	ferr := errors.New("injected")
	for n := 1; n <= gpioirq.MaxChannels; n++ {
		tf := func(t *testing.T) {
			s, m := newSystem(t, nChannels(n))
			require.Nil(t, s.Init())
			assert.Equal(t, n, m.OpenDevices())
			assert.Equal(t, n, m.RequestedLines())
			require.Nil(t, s.Deinit())
			assert.Equal(t, gpioirq.StateUninitialized, s.State())
			requireReleased(t, m)

			for k := 0; k < n; k++ {
				s, m := newSystem(t, nChannels(n))
				m.FailOpen(k, ferr)
				err := s.Init()
				var ce *gpioirq.ChannelError
				require.True(t, errors.As(err, &ce))
				assert.Equal(t, k, ce.Channel)
				requireReleased(t, m)
			}
		}
		t.Run(fmt.Sprintf("%d", n), tf)
	}
}

func TestRegisterCallback(t *testing.T) {
	ctx := twoChannels()
	ctx.Channels[1].Enabled = false
	s, _ := newSystem(t, ctx)
	cb := func(int, int) {}

	err := s.RegisterCallback(0, cb)
	assert.True(t, errors.Is(err, gpioirq.ErrNotMonitoring))
	assert.True(t, errors.Is(err, gpioirq.ErrInvalidParameter))

	require.Nil(t, s.Init())
	patterns := []struct {
		name    string
		channel int
		cb      gpioirq.Callback
		err     error
	}{
		{"clear unset", 0, nil, nil},
		{"enabled", 0, cb, nil},
		{"disabled", 1, cb, gpioirq.ErrInvalidParameter},
		{"clear disabled", 1, nil, gpioirq.ErrInvalidParameter},
		{"beyond context", 2, cb, gpioirq.ErrInvalidParameter},
		{"negative", -1, cb, gpioirq.ErrInvalidParameter},
		{"beyond max", gpioirq.MaxChannels, cb, gpioirq.ErrInvalidParameter},
	}
	for _, p := range patterns {
		tf := func(t *testing.T) {
			err := s.RegisterCallback(p.channel, p.cb)
			if p.err == nil {
				assert.Nil(t, err)
			} else {
				assert.True(t, errors.Is(err, p.err), err)
			}
		}
		t.Run(p.name, tf)
	}
	st := s.Status()
	assert.True(t, st[0].Registered)
	assert.False(t, st[1].Registered)

	require.Nil(t, s.RegisterCallback(0, nil))
	assert.False(t, s.Status()[0].Registered)
	require.Nil(t, s.RegisterCallback(0, cb))

	s.Deinit()
	err = s.RegisterCallback(0, cb)
	assert.True(t, errors.Is(err, gpioirq.ErrNotMonitoring))

	// callbacks cleared by deinit
	require.Nil(t, s.Init())
	defer s.Deinit()
	st = s.Status()
	assert.False(t, st[0].Registered)
}

func TestInterruptDelivery(t *testing.T) {
	s, m := newSystem(t, twoChannels())
	require.Nil(t, s.Init())
	defer func() {
		s.Deinit()
		requireReleased(t, m)
	}()
	events := make(chan event, 4)
	cb := func(channel, level int) {
		events <- event{channel, level}
	}
	require.Nil(t, s.RegisterCallback(0, cb))
	require.Nil(t, s.RegisterCallback(1, cb))

	m.SetLevel(4, 7, 1)
	require.True(t, m.Fire(2))
	select {
	case evt := <-events:
		assert.Equal(t, event{0, 1}, evt)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for callback")
	}

	// re-armed after service
	d := m.Device(2)
	require.NotNil(t, d)
	require.Eventually(t, d.Enabled, time.Second, time.Millisecond)
	assert.Equal(t, 1, d.Enables())

	m.SetLevel(4, 8, 0)
	require.True(t, m.Fire(3))
	select {
	case evt := <-events:
		assert.Equal(t, event{1, 0}, evt)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for callback")
	}

	requireIdle(t, s, m, 0)
	m.SetLevel(4, 7, 0)
	require.True(t, m.Fire(2))
	select {
	case evt := <-events:
		assert.Equal(t, event{0, 0}, evt)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for callback")
	}
	require.Eventually(t, func() bool {
		return s.Status()[0].Dispatched == 2
	}, time.Second, time.Millisecond)
}

func TestInterruptUnregistered(t *testing.T) {
	s, m := newSystem(t, twoChannels())
	require.Nil(t, s.Init())
	defer s.Deinit()

	// serviced and re-armed, but nothing to deliver to
	require.True(t, m.Fire(2))
	d := m.Device(2)
	require.Eventually(t, d.Enabled, time.Second, time.Millisecond)
	st := s.Status()
	assert.Equal(t, uint64(0), st[0].Dispatched)
	assert.Equal(t, uint64(0), st[0].Dropped)
}

func TestRearmFailure(t *testing.T) {
	var buf logBuffer
	s, m := newSystem(t, twoChannels(), gpioirq.WithLogger(zerolog.New(&buf)))
	require.Nil(t, s.Init())
	defer s.Deinit()
	events := make(chan event, 4)
	cb := func(channel, level int) {
		events <- event{channel, level}
	}
	require.Nil(t, s.RegisterCallback(0, cb))
	require.Nil(t, s.RegisterCallback(1, cb))

	m.FailEnable(2, errors.New("write failed"))
	require.True(t, m.Fire(2))
	select {
	case evt := <-events:
		assert.Equal(t, 0, evt.channel)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for callback")
	}
	require.Eventually(t, func() bool {
		return buf.Count("re-arm failed") == 1
	}, time.Second, time.Millisecond)

	// channel left disarmed
	assert.False(t, m.Fire(2))

	// monitor still running
	require.True(t, m.Fire(3))
	select {
	case evt := <-events:
		assert.Equal(t, 1, evt.channel)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for callback")
	}
}

func TestShortRead(t *testing.T) {
	s, m := newSystem(t, twoChannels())
	require.Nil(t, s.Init())
	defer s.Deinit()
	events := make(chan event, 4)
	require.Nil(t, s.RegisterCallback(0, func(channel, level int) {
		events <- event{channel, level}
	}))

	m.FailAcknowledge(2, uio.ErrShortRead)
	require.True(t, m.Fire(2))
	select {
	case <-events:
		t.Fatal("dispatched after failed acknowledge")
	case <-time.After(50 * time.Millisecond):
	}
	d := m.Device(2)
	assert.False(t, d.Enabled())
	assert.Equal(t, 0, d.Enables())
	assert.Equal(t, 1, d.Acknowledges())
}

func TestAcknowledgeFailure(t *testing.T) {
	var buf logBuffer
	s, m := newSystem(t, twoChannels(), gpioirq.WithLogger(zerolog.New(&buf)))
	require.Nil(t, s.Init())
	defer func() {
		s.Deinit()
		requireReleased(t, m)
	}()
	events := make(chan event, 4)
	cb := func(channel, level int) {
		events <- event{channel, level}
	}
	require.Nil(t, s.RegisterCallback(0, cb))
	require.Nil(t, s.RegisterCallback(1, cb))

	m.FailAcknowledge(2, unix.EIO)
	require.True(t, m.Fire(2))
	require.Eventually(t, func() bool {
		return buf.Count("acknowledge failed, channel unwatched") == 1
	}, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	d := m.Device(2)
	assert.Equal(t, 1, d.Acknowledges())
	assert.Equal(t, 1, buf.Count("acknowledge failed, channel unwatched"))
	assert.Equal(t, 0, d.Enables())

	// other channels still served
	require.True(t, m.Fire(3))
	select {
	case evt := <-events:
		assert.Equal(t, event{1, 0}, evt)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	assert.Empty(t, events)
}

// brokenDevice is always readable and fails every read, as a UIO device
// unbound from its driver.
type brokenDevice struct {
	r, w int
	acks atomic.Int32
}

func newBrokenDevice(t *testing.T) *brokenDevice {
	t.Helper()
	p := []int{0, 0}
	require.Nil(t, unix.Pipe2(p, unix.O_CLOEXEC))
	_, err := unix.Write(p[1], []byte{1})
	require.Nil(t, err)
	return &brokenDevice{r: p[0], w: p[1]}
}

func (d *brokenDevice) Fd() int {
	return d.r
}

func (d *brokenDevice) Acknowledge() (uint32, error) {
	d.acks.Add(1)
	return 0, unix.EIO
}

func (d *brokenDevice) Arm() error {
	return nil
}

func (d *brokenDevice) Enable() error {
	return nil
}

func (d *brokenDevice) Close() error {
	unix.Close(d.w)
	return unix.Close(d.r)
}

func TestAcknowledgeFailureEpoll(t *testing.T) {
	var buf logBuffer
	d := newBrokenDevice(t)
	ctx := gpioirq.Context{Channels: []gpioirq.ChannelConfig{
		{Group: 4, Offset: 7, Device: 2, Consumer: "irq0", Enabled: true},
	}}
	s, m := newSystem(t, ctx,
		gpioirq.WithLogger(zerolog.New(&buf)),
		gpioirq.WithDeviceOpener(gpioirq.DeviceOpenerFunc(func(int) (gpioirq.InterruptDevice, error) {
			return d, nil
		})),
		gpioirq.WithMultiplexer(func() (gpioirq.Multiplexer, error) {
			set, err := epoll.New()
			if err != nil {
				return nil, err
			}
			return set, nil
		}))
	require.Nil(t, s.Init())
	require.Eventually(t, func() bool {
		return d.acks.Load() > 0
	}, time.Second, time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), d.acks.Load())
	assert.Equal(t, 1, buf.Count("acknowledge failed, channel unwatched"))
	require.Nil(t, s.Deinit())
	assert.Equal(t, 0, m.RequestedLines())
}

func TestDeinitWithCallbackInFlight(t *testing.T) {
	s, m := newSystem(t, twoChannels())
	require.Nil(t, s.Init())
	started := make(chan struct{})
	release := make(chan struct{})
	require.Nil(t, s.RegisterCallback(0, func(int, int) {
		close(started)
		<-release
	}))
	require.True(t, m.Fire(2))
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for callback")
	}

	// not blocked by the running callback
	err := s.Deinit()
	assert.Nil(t, err)
	requireReleased(t, m)
	close(release)
}

func TestTrace(t *testing.T) {
	var buf logBuffer
	s, m := newSystem(t, twoChannels(), gpioirq.WithLogger(zerolog.New(&buf)))
	assert.False(t, s.TraceEnabled())
	require.Nil(t, s.Init())
	defer s.Deinit()
	done := make(chan struct{}, 2)
	require.Nil(t, s.RegisterCallback(0, func(int, int) {
		done <- struct{}{}
	}))
	require.True(t, m.Fire(2))
	<-done
	requireIdle(t, s, m, 0)
	assert.Equal(t, 0, buf.Count("interrupt"))

	s.SetTraceEnabled(true)
	assert.True(t, s.TraceEnabled())
	require.True(t, m.Fire(2))
	<-done
	require.Eventually(t, func() bool {
		return buf.Count("interrupt") == 1
	}, time.Second, time.Millisecond)
	requireIdle(t, s, m, 0)

	s.SetTraceEnabled(false)
	assert.False(t, s.TraceEnabled())
	require.True(t, m.Fire(2))
	<-done
	requireIdle(t, s, m, 0)
	assert.Equal(t, 1, buf.Count("interrupt"))

	s2 := gpioirq.NewSystem(nil, gpioirq.WithTrace)
	assert.True(t, s2.TraceEnabled())
}

func TestTraceKeepsLoggerLevel(t *testing.T) {
	var buf logBuffer
	log := zerolog.New(&buf).Level(zerolog.WarnLevel)
	s, m := newSystem(t, twoChannels(), gpioirq.WithLogger(log))
	assert.False(t, s.TraceEnabled())
	require.Nil(t, s.Init())
	require.Nil(t, s.Deinit())
	assert.Equal(t, 0, buf.Count("monitoring"))
	assert.Equal(t, 0, buf.Count("stopped"))

	s.SetTraceEnabled(true)
	s.SetTraceEnabled(false)
	require.Nil(t, s.Init())
	require.Nil(t, s.Deinit())
	assert.Equal(t, 0, buf.Count("monitoring"))

	s.SetTraceEnabled(true)
	require.Nil(t, s.Init())
	require.Nil(t, s.Deinit())
	assert.Equal(t, 1, buf.Count("monitoring"))
	requireReleased(t, m)
}

func TestStateString(t *testing.T) {
	patterns := []struct {
		state gpioirq.State
		str   string
	}{
		{gpioirq.StateUninitialized, "uninitialized"},
		{gpioirq.StateLoaded, "loaded"},
		{gpioirq.StateResourced, "resourced"},
		{gpioirq.StateMonitoring, "monitoring"},
		{gpioirq.StateStopping, "stopping"},
		{gpioirq.State(42), "state42"},
	}
	for _, p := range patterns {
		assert.Equal(t, p.str, p.state.String())
	}
}

func TestDefault(t *testing.T) {
	defer gpioirq.SetDefault(nil)

	gpioirq.SetDefault(nil)
	err := gpioirq.Init()
	assert.True(t, errors.Is(err, gpioirq.ErrInvalidParameter))
	assert.True(t, errors.Is(gpioirq.RegisterCallback(0, func(int, int) {}), gpioirq.ErrNotMonitoring))

	m := mockup.New()
	s := gpioirq.NewSystem(gpioirq.StaticContext(twoChannels()), m.Options()...)
	gpioirq.SetDefault(s)
	assert.Same(t, s, gpioirq.Default())
	require.Nil(t, gpioirq.Init())
	assert.Equal(t, gpioirq.StateMonitoring, s.State())
	gpioirq.SetTraceEnabled(true)
	assert.True(t, s.TraceEnabled())
	events := make(chan event, 1)
	require.Nil(t, gpioirq.RegisterCallback(1, func(channel, level int) {
		events <- event{channel, level}
	}))
	m.SetLevel(4, 8, 1)
	require.True(t, m.Fire(3))
	select {
	case evt := <-events:
		assert.Equal(t, event{1, 1}, evt)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for callback")
	}
	require.Nil(t, gpioirq.Deinit())
	requireReleased(t, m)
}
