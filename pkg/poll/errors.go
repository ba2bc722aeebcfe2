// SPDX-FileCopyrightText: 2026 The SunNet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package poll

import (
	"errors"
	"fmt"
)

var (
	// ErrUntrackedHandle indicates a ready handle which is not tracked. The
	// multiplexer and its owner's view of the tracked set have diverged.
	ErrUntrackedHandle = errors.New("ready handle is not tracked")

	// ErrUnsupported is returned on platforms without poll(2).
	ErrUnsupported = errors.New("polling is not supported on this platform")
)

// UntrackedHandleError is a fatal consistency violation for a ready file
// descriptor without a tracked Connection.
type UntrackedHandleError struct {
	Fd int
}

func (e *UntrackedHandleError) Error() string {
	return fmt.Sprintf("poll: file descriptor %d: %v", e.Fd, ErrUntrackedHandle)
}

func (e *UntrackedHandleError) Unwrap() error {
	return ErrUntrackedHandle
}

// PollError wraps a failure of the underlying wait itself.
type PollError struct {
	Err error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("poll: wait failed: %v", e.Err)
}

func (e *PollError) Unwrap() error {
	return e.Err
}
