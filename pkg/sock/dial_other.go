// SPDX-FileCopyrightText: 2026 The SunNet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build !linux
// +build !linux

package sock

import (
	"net"
	"syscall"
	"time"
)

// This file implements dialing for operating systems next to Linux. The other
// file additionally sets specific socket options for a better detection of
// connection losses.

// listenControl is a no-op, the net package already sets SO_REUSEADDR.
func listenControl(_, _ string, _ syscall.RawConn) error {
	return nil
}

// dial a new connection with a configured timeout and keepalive.
func dial(cfg Config, address string) (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: 10 * time.Second,
	}
	return dialer.Dial(cfg.Network, address)
}
