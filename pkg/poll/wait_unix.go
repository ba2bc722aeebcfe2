// SPDX-FileCopyrightText: 2026 The SunNet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build unix

package poll

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// wait blocks on the file descriptors up to timeout using poll(2). The
// returned slice has one Status per descriptor; zero marks a descriptor
// which was not ready.
//
// The Go runtime preempts goroutines by signals, which frequently interrupts
// poll(2). An interrupted wait is resumed for the remaining time, so a wait
// without ready descriptors never returns before its timeout.
func wait(fds []int, timeout time.Duration) ([]Status, error) {
	pollFds := make([]unix.PollFd, len(fds))
	for i, fd := range fds {
		pollFds[i] = unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
	}

	deadline := time.Now().Add(timeout)
	for {
		n, err := unix.Poll(pollFds, timeoutMillis(time.Until(deadline)))
		if errors.Is(err, unix.EINTR) {
			if time.Until(deadline) <= 0 {
				return make([]Status, len(fds)), nil
			}
			continue
		} else if err != nil {
			return nil, err
		}

		statuses := make([]Status, len(fds))
		if n == 0 {
			if remaining := time.Until(deadline); remaining > 0 {
				// poll(2) works in milliseconds; avoid returning early.
				time.Sleep(remaining)
			}
			return statuses, nil
		}

		for i, pollFd := range pollFds {
			statuses[i] = classify(pollFd.Revents)
		}
		return statuses, nil
	}
}

// classify the returned events of one descriptor.
func classify(revents int16) Status {
	switch {
	case revents&(unix.POLLERR|unix.POLLNVAL) != 0:
		return Error
	case revents&unix.POLLHUP != 0:
		return Disconnect
	case revents&unix.POLLIN != 0:
		return Normal
	default:
		return 0
	}
}

// timeoutMillis rounds a duration up to whole milliseconds.
func timeoutMillis(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Millisecond - 1) / time.Millisecond)
}
