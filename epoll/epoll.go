// SPDX-FileCopyrightText: 2026 The gpioirq Authors
//
// SPDX-License-Identifier: MIT

//go:build linux
// +build linux

// Package epoll provides a readiness multiplexer over a set of file
// descriptors, each tagged with a caller supplied integer.
//
// A Set is intended to be driven by a single goroutine calling Wait, while
// any other goroutine may call Interrupt to unblock it.
package epoll

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Set is a readiness set backed by an epoll instance.
//
// An eventfd is registered alongside the watched fds and is used to signal
// the waiter to return.
type Set struct {
	epfd int

	// eventfd to signal the waiter to return
	donefd int

	// mu covers the attributes below it.
	mu sync.Mutex

	// fd to tag mapping
	tags map[int]int

	interrupted bool
	closed      bool
}

// New creates an empty Set.
func New() (s *Set, err error) {
	var epfd, donefd int
	epfd, err = unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create: %w", err)
	}
	defer func() {
		if err != nil {
			unix.Close(epfd)
		}
	}()
	donefd, err = unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	defer func() {
		if err != nil {
			unix.Close(donefd)
		}
	}()
	epv := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(donefd)}
	err = unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, donefd, &epv)
	if err != nil {
		return nil, fmt.Errorf("epoll_ctl: %w", err)
	}
	s = &Set{
		epfd:   epfd,
		donefd: donefd,
		tags:   map[int]int{},
	}
	return s, nil
}

// Add watches fd for readability, reporting it as tag.
func (s *Set) Add(fd int, tag int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.tags[fd]; ok {
		return ErrDuplicate
	}
	epv := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, fd, &epv); err != nil {
		return fmt.Errorf("epoll_ctl add fd %d: %w", fd, err)
	}
	s.tags[fd] = tag
	return nil
}

// Remove stops watching fd.
func (s *Set) Remove(fd int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.tags[fd]; !ok {
		return ErrNotWatched
	}
	delete(s.tags, fd)
	return unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Len returns the number of watched fds.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tags)
}

// Wait blocks until at least one watched fd is readable and returns the tags
// of the ready fds.
//
// Returns ErrClosed once the Set has been interrupted or closed.
func (s *Set) Wait() ([]int, error) {
	s.mu.Lock()
	if s.interrupted || s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	n := len(s.tags) + 1
	s.mu.Unlock()
	epollEvents := make([]unix.EpollEvent, n)
	for {
		n, err := unix.EpollWait(s.epfd, epollEvents[:], -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EBADF || err == unix.EINVAL {
				// epfd closed so exit
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("epoll_wait: %w", err)
		}
		tags := make([]int, 0, n)
		s.mu.Lock()
		for i := 0; i < n; i++ {
			fd := int(epollEvents[i].Fd)
			if fd == s.donefd {
				s.interrupted = true
				s.mu.Unlock()
				return nil, ErrClosed
			}
			if tag, ok := s.tags[fd]; ok {
				tags = append(tags, tag)
			}
		}
		s.mu.Unlock()
		if len(tags) > 0 {
			return tags, nil
		}
	}
}

// Interrupt unblocks a pending or future Wait, which then returns ErrClosed.
//
// Safe to call multiple times and from any goroutine.
func (s *Set) Interrupt() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	_, err := unix.Write(s.donefd, []byte{1, 0, 0, 0, 0, 0, 0, 0})
	if err == unix.EAGAIN {
		// counter saturated, so already signalled
		err = nil
	}
	return err
}

// Close removes all watched fds and releases the epoll instance.
//
// The watched fds themselves are not closed. Close must not be called while
// another goroutine is blocked in Wait - Interrupt it first.
func (s *Set) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	for fd := range s.tags {
		unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	}
	s.tags = map[int]int{}
	unix.Close(s.donefd)
	return unix.Close(s.epfd)
}

var (
	// ErrClosed indicates the set has been interrupted or closed.
	ErrClosed = errors.New("epoll set closed")

	// ErrDuplicate indicates the fd is already watched.
	ErrDuplicate = errors.New("fd already watched")

	// ErrNotWatched indicates the fd is not in the set.
	ErrNotWatched = errors.New("fd not watched")
)
