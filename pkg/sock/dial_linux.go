// SPDX-FileCopyrightText: 2026 The SunNet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build linux
// +build linux

package sock

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// On Linux, TCP connections are configured to detect abrupt connection losses
// faster than the kernel's defaults would. A lost peer then surfaces as an
// error status while polling instead of blocking a read for hours.
//
// The socket options are based on the Linux tcp(7) manual page.
// <https://man7.org/linux/man-pages/man7/tcp.7.html>

// dialControl is the net.Dialer's Control function to set the socket options.
func dialControl(network, _ string, rawConn syscall.RawConn) (err error) {
	const (
		// dialTcpKeepCnt sets TCP_KEEPCNT, the maximum number of keepalive
		// probes to be sent before dropping the connection.
		dialTcpKeepCnt int = 3

		// dialTcpKeepIdle sets TCP_KEEPIDLE, the time (in seconds) the
		// connections needs to remain idle before keepalive probes being sent.
		dialTcpKeepIdle int = 10

		// dialTcpKeepIntvl sets TCP_KEEPINTVL, the time (in seconds) between
		// keepalive probes.
		dialTcpKeepIntvl int = 3
	)

	if network == "unix" {
		return nil
	}

	opts := map[int]int{
		unix.TCP_KEEPCNT:   dialTcpKeepCnt,
		unix.TCP_KEEPIDLE:  dialTcpKeepIdle,
		unix.TCP_KEEPINTVL: dialTcpKeepIntvl,
		unix.TCP_NODELAY:   1,
	}

	ctrlErr := rawConn.Control(func(fd uintptr) {
		for opt, value := range opts {
			err = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, opt, value)
			if err != nil {
				return
			}
		}
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	return
}

// listenControl allows quick rebinding of a closed server's address.
func listenControl(network, _ string, rawConn syscall.RawConn) (err error) {
	if network == "unix" {
		return nil
	}

	ctrlErr := rawConn.Control(func(fd uintptr) {
		err = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	return
}

// dial a new connection with socket options set.
func dial(cfg Config, address string) (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout: cfg.DialTimeout,
		Control: dialControl,
	}
	return dialer.Dial(cfg.Network, address)
}
