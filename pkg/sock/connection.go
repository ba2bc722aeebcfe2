// SPDX-FileCopyrightText: 2026 The SunNet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sock

import (
	"errors"
	"fmt"
	"net"
	"time"
)

var (
	// ErrNotConnected is returned for I/O on a Connection without a peer.
	ErrNotConnected = errors.New("connection is not connected")

	// ErrNotListening is returned by Accept on a Connection which does not listen.
	ErrNotListening = errors.New("connection is not listening")

	// ErrClosed is returned for operations on an already closed Connection.
	ErrClosed = errors.New("connection is closed")

	// ErrUnsupportedNetwork is returned by New for unknown networks.
	ErrUnsupportedNetwork = errors.New("unsupported network")
)

// DefaultDialTimeout bounds Connect if no other timeout was configured.
const DefaultDialTimeout = time.Second

// Connection is one synchronous, multiplexable byte-stream socket.
//
// A Connection is exclusively owned by one endpoint; other components, e.g.,
// a poll.Service, only keep non-owning references.
type Connection interface {
	// Send writes all bytes or returns an error.
	Send(b []byte) error

	// Receive fills the whole buffer. It returns false without an error if the
	// peer performed an orderly shutdown before len(b) bytes arrived.
	Receive(b []byte) (bool, error)

	// Connect this Connection to a remote address and port.
	Connect(address, port string) error

	// Bind this Connection to a local address and port. The socket is created
	// by the following Listen call.
	Bind(address, port string) error

	// Listen for incoming connections, queueing up to backlog of them.
	Listen(backlog int) error

	// Accept the next queued connection.
	Accept() (Connection, error)

	// Fd returns the underlying file descriptor, to be used for polling.
	Fd() (int, error)

	// LocalAddr returns the local address or nil, if unbound.
	LocalAddr() net.Addr

	// RemoteAddr returns the peer's address or nil, if unconnected.
	RemoteAddr() net.Addr

	// Close releases this Connection. Closing twice is not an error.
	Close() error
}

// Config describes how to construct a fresh Connection.
type Config struct {
	// Network is one of "tcp", "tcp4", "tcp6" or "unix". Defaults to "tcp".
	Network string

	// DialTimeout bounds Connect. Defaults to DefaultDialTimeout.
	DialTimeout time.Duration
}

// withDefaults returns a copy of this Config with unset fields populated.
func (cfg Config) withDefaults() Config {
	if cfg.Network == "" {
		cfg.Network = "tcp"
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	return cfg
}

// New creates an unconnected Connection based on the Config.
func New(cfg Config) (Connection, error) {
	cfg = cfg.withDefaults()

	switch cfg.Network {
	case "tcp", "tcp4", "tcp6", "unix":
		return &streamConn{config: cfg, fd: -1}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedNetwork, cfg.Network)
	}
}

// joinAddress creates a dialable address for the network.
func joinAddress(network, address, port string) string {
	if network == "unix" {
		return address
	}
	return net.JoinHostPort(address, port)
}
