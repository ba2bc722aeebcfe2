// SPDX-FileCopyrightText: 2026 The SunNet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"

	log "github.com/sirupsen/logrus"
)

// streamConn is a Connection for stream-oriented networks, backed by the net
// package. Either conn or listener is set, depending on the Connection's role.
type streamConn struct {
	config Config

	mutex    sync.Mutex
	conn     net.Conn
	listener net.Listener
	bindAddr string
	fd       int
	closed   bool
}

func (sc *streamConn) current() (net.Conn, error) {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	switch {
	case sc.closed:
		return nil, ErrClosed
	case sc.conn == nil:
		return nil, ErrNotConnected
	default:
		return sc.conn, nil
	}
}

func (sc *streamConn) Send(b []byte) error {
	conn, err := sc.current()
	if err != nil {
		return err
	}

	// net.Conn.Write either writes everything or returns an error.
	if _, err := conn.Write(b); err != nil {
		return fmt.Errorf("send %d bytes: %w", len(b), err)
	}
	return nil
}

func (sc *streamConn) Receive(b []byte) (bool, error) {
	conn, err := sc.current()
	if err != nil {
		return false, err
	}

	if _, err := io.ReadFull(conn, b); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, fmt.Errorf("receive %d bytes: %w", len(b), err)
	}
	return true, nil
}

func (sc *streamConn) Connect(address, port string) error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if sc.closed {
		return ErrClosed
	}

	conn, err := dial(sc.config, joinAddress(sc.config.Network, address, port))
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	sc.conn = conn
	sc.fd = -1
	return nil
}

func (sc *streamConn) Bind(address, port string) error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if sc.closed {
		return ErrClosed
	}

	sc.bindAddr = joinAddress(sc.config.Network, address, port)
	return nil
}

// Listen creates the listening socket. The backlog is only logged: the net
// package always uses the operating system's maximum queue length.
func (sc *streamConn) Listen(backlog int) error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if sc.closed {
		return ErrClosed
	}

	lc := net.ListenConfig{Control: listenControl}
	ln, err := lc.Listen(context.Background(), sc.config.Network, sc.bindAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	log.WithFields(log.Fields{
		"address": ln.Addr(),
		"backlog": backlog,
	}).Debug("Socket is listening")

	sc.listener = ln
	sc.fd = -1
	return nil
}

func (sc *streamConn) Accept() (Connection, error) {
	sc.mutex.Lock()
	ln, closed := sc.listener, sc.closed
	sc.mutex.Unlock()

	if closed {
		return nil, ErrClosed
	} else if ln == nil {
		return nil, ErrNotListening
	}

	conn, err := ln.Accept()
	if err != nil {
		return nil, fmt.Errorf("accept: %w", err)
	}

	return &streamConn{config: sc.config, conn: conn, fd: -1}, nil
}

func (sc *streamConn) Fd() (int, error) {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if sc.closed {
		return -1, ErrClosed
	}
	if sc.fd >= 0 && (sc.conn != nil || sc.listener != nil) {
		return sc.fd, nil
	}

	var target any
	switch {
	case sc.listener != nil:
		target = sc.listener
	case sc.conn != nil:
		target = sc.conn
	default:
		return -1, ErrNotConnected
	}

	sysConn, ok := target.(syscall.Conn)
	if !ok {
		return -1, fmt.Errorf("%T does not expose a file descriptor", target)
	}

	rawConn, err := sysConn.SyscallConn()
	if err != nil {
		return -1, err
	}

	fd := -1
	if err := rawConn.Control(func(u uintptr) { fd = int(u) }); err != nil {
		return -1, err
	}

	sc.fd = fd
	return fd, nil
}

func (sc *streamConn) LocalAddr() net.Addr {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	switch {
	case sc.listener != nil:
		return sc.listener.Addr()
	case sc.conn != nil:
		return sc.conn.LocalAddr()
	default:
		return nil
	}
}

func (sc *streamConn) RemoteAddr() net.Addr {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if sc.conn != nil {
		return sc.conn.RemoteAddr()
	}
	return nil
}

func (sc *streamConn) Close() (err error) {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if sc.closed {
		return nil
	}
	sc.closed = true

	if sc.listener != nil {
		err = sc.listener.Close()
	}
	if sc.conn != nil {
		if connErr := sc.conn.Close(); err == nil {
			err = connErr
		}
	}
	return
}

func (sc *streamConn) String() string {
	if addr := sc.RemoteAddr(); addr != nil {
		return fmt.Sprintf("%s://%v", sc.config.Network, addr)
	} else if addr := sc.LocalAddr(); addr != nil {
		return fmt.Sprintf("%s://%v", sc.config.Network, addr)
	}
	return fmt.Sprintf("%s://unbound", sc.config.Network)
}
