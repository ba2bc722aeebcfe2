// SPDX-FileCopyrightText: 2026 The SunNet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package poll multiplexes many sock.Connections within one blocking wait.
//
// A Service tracks a dynamic set of Connections. Each call to Poll blocks up
// to the Service's timeout and reports the Connections which became readable,
// were disconnected or errored.
package poll

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sunnet-go/sunnet/pkg/sock"
)

// DefaultTimeout is used by NewService for non-positive timeouts.
const DefaultTimeout = 10 * time.Millisecond

// Status of a ready Connection.
type Status uint

const (
	_ Status = iota

	// Normal indicates a readable Connection, or a pending connection on a
	// listening Connection.
	Normal

	// Disconnect indicates a hung up Connection.
	Disconnect

	// Error indicates a Connection in an error state.
	Error
)

func (s Status) String() string {
	switch s {
	case Normal:
		return "normal"
	case Disconnect:
		return "disconnect"
	case Error:
		return "error"
	default:
		return "none"
	}
}

// Result is one ready Connection together with its Status.
type Result struct {
	Conn   sock.Connection
	Status Status
}

// descriptor is one tracked Connection and its file descriptor.
type descriptor struct {
	fd   int
	conn sock.Connection
}

// Service tracks Connections and waits for them to become ready.
//
// The tracked set might be altered concurrently to a running Poll. The lock
// is only held while altering or copying the set, never during the wait.
type Service struct {
	timeout time.Duration

	mutex       sync.Mutex
	descriptors []descriptor
	positions   map[sock.Connection]int

	// generation is increased on each alteration of the tracked set.
	generation uint64
}

// NewService creates an empty Service waiting up to timeout in each Poll.
func NewService(timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Service{
		timeout:   timeout,
		positions: make(map[sock.Connection]int),
	}
}

// Timeout returns the duration of a Poll without any ready Connection.
func (s *Service) Timeout() time.Duration {
	return s.timeout
}

// Add a Connection to the tracked set. Adding a tracked Connection again is a
// no-op.
func (s *Service) Add(conn sock.Connection) error {
	fd, err := conn.Fd()
	if err != nil {
		return fmt.Errorf("poll: add connection: %w", err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.positions[conn]; exists {
		return nil
	}

	s.descriptors = append(s.descriptors, descriptor{fd: fd, conn: conn})
	s.positions[conn] = len(s.descriptors) - 1
	s.generation++

	log.WithFields(log.Fields{
		"fd":      fd,
		"tracked": len(s.descriptors),
	}).Trace("Poll service added connection")

	return nil
}

// Remove a Connection from the tracked set. Removing an unknown Connection is
// a no-op.
func (s *Service) Remove(conn sock.Connection) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	index, exists := s.positions[conn]
	if !exists {
		return
	}

	// Erasing shifts all following descriptors down, which requires their
	// positions to be updated as well.
	s.descriptors = append(s.descriptors[:index], s.descriptors[index+1:]...)
	delete(s.positions, conn)

	for i := index; i < len(s.descriptors); i++ {
		s.positions[s.descriptors[i].conn] = i
	}
	s.generation++

	log.WithFields(log.Fields{
		"tracked": len(s.descriptors),
	}).Trace("Poll service removed connection")
}

// Clear the tracked set.
func (s *Service) Clear() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.descriptors = nil
	s.positions = make(map[sock.Connection]int)
	s.generation++
}

// Len returns the amount of tracked Connections.
func (s *Service) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return len(s.descriptors)
}

// Contains checks if a Connection is tracked.
func (s *Service) Contains(conn sock.Connection) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, exists := s.positions[conn]
	return exists
}

// snapshot copies the tracked set for a wait.
func (s *Service) snapshot() ([]descriptor, []int, uint64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	descs := make([]descriptor, len(s.descriptors))
	copy(descs, s.descriptors)

	fds := make([]int, len(descs))
	for i, d := range descs {
		fds[i] = d.fd
	}

	return descs, fds, s.generation
}

// Poll blocks up to the timeout and returns all ready Connections in the
// order of their addition. An empty result indicates a timeout.
//
// Connections removed during the wait are not reported. A ready descriptor
// which cannot be mapped back to its Connection although the tracked set was
// left untouched results in an UntrackedHandleError.
func (s *Service) Poll() ([]Result, error) {
	descs, fds, generation := s.snapshot()

	statuses, err := wait(fds, s.timeout)
	if err != nil {
		return nil, &PollError{Err: err}
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	altered := generation != s.generation

	var results []Result
	for i, status := range statuses {
		if status == 0 {
			continue
		}

		desc := descs[i]
		if index, exists := s.positions[desc.conn]; exists && s.descriptors[index].fd == desc.fd {
			results = append(results, Result{Conn: desc.conn, Status: status})
		} else if !altered {
			return nil, &UntrackedHandleError{Fd: desc.fd}
		}
	}

	return results, nil
}
