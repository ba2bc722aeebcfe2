// SPDX-FileCopyrightText: 2026 The SunNet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package endpoint

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sunnet-go/sunnet/pkg/metrics"
	"github.com/sunnet-go/sunnet/pkg/poll"
	"github.com/sunnet-go/sunnet/pkg/sock"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// Sock configures each connection created by Connect.
	Sock sock.Config

	// PollTimeout is the maximum duration of a single Poll.
	PollTimeout time.Duration
}

// Client connects to a single server and polls its connection.
type Client struct {
	config ClientConfig
	hooks  ClientHooks
	poller *poll.Service
	loop   *loop

	mutex sync.Mutex
	state ClientState
	conn  sock.Connection

	// pollGate is held during each Poll, letting Close wait for it.
	pollGate sync.Mutex
}

// NewClient creates a Client in the ClientClosed state.
func NewClient(config ClientConfig, hooks ClientHooks) *Client {
	if hooks == nil {
		hooks = BaseClientHooks{}
	}

	return &Client{
		config: config,
		hooks:  hooks,
		poller: poll.NewService(config.PollTimeout),
		loop:   newLoop(),
		state:  ClientClosed,
	}
}

// State returns the Client's current state.
func (c *Client) State() ClientState {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.state
}

// Connection returns the current connection or nil, if not connected.
func (c *Client) Connection() sock.Connection {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.conn
}

// Connect to a server. A fresh connection is created for each call. This is
// only permitted in the ClientClosed state, which is kept on failure.
func (c *Client) Connect(address, port string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.state != ClientClosed {
		return &StateError{Operation: "connect", State: c.state}
	}

	conn, err := sock.New(c.config.Sock)
	if err != nil {
		return err
	}

	if err := conn.Connect(address, port); err != nil {
		_ = conn.Close()
		return err
	}

	if err := c.poller.Add(conn); err != nil {
		_ = conn.Close()
		return err
	}

	c.conn = conn
	c.state = ClientConnected

	log.WithFields(log.Fields{
		"client": c.stringUnlocked(),
		"remote": conn.RemoteAddr(),
	}).Debug("Client connected")

	return nil
}

// Disconnect releases the connection and returns to the ClientClosed state.
// Disconnecting a closed Client is permitted.
func (c *Client) Disconnect() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	switch c.state {
	case ClientConnected, ClientClosed:
	default:
		return &StateError{Operation: "disconnect", State: c.state}
	}

	err := c.release()
	c.state = ClientClosed

	log.WithField("client", c.stringUnlocked()).Debug("Client disconnected")
	return err
}

// release the connection; the mutex must be held.
func (c *Client) release() error {
	c.poller.Clear()

	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil
	return err
}

// checkpoint reports if Poll might still call hooks.
func (c *Client) checkpoint() bool {
	return c.State() == ClientConnected
}

// Poll waits up to the configured timeout for the connection and calls the
// matching hooks. It reports if a wait happened, which requires the
// ClientConnected state.
func (c *Client) Poll() (bool, error) {
	c.pollGate.Lock()
	defer c.pollGate.Unlock()

	c.mutex.Lock()
	if c.state != ClientConnected {
		c.mutex.Unlock()
		return false, nil
	}
	conn := c.conn
	c.mutex.Unlock()

	results, err := c.poller.Poll()
	if err != nil {
		return true, err
	}

	if len(results) == 0 {
		metrics.PollTimeouts.Inc()

		if c.checkpoint() {
			c.hooks.PollTimeout(c)
		}
		return true, nil
	}

	for _, result := range results {
		if !c.checkpoint() {
			return true, nil
		}

		if result.Conn != conn {
			fd, _ := result.Conn.Fd()
			return true, &poll.UntrackedHandleError{Fd: fd}
		}

		switch result.Status {
		case poll.Error:
			metrics.ConnectionsLost.WithLabelValues("error").Inc()
			c.hooks.ClientError(c)

		case poll.Disconnect:
			metrics.ConnectionsLost.WithLabelValues("disconnect").Inc()
			c.hooks.ClientDisconnect(c)

		case poll.Normal:
			if err := c.hooks.ReadyToRead(c); err != nil {
				return true, err
			}
		}
	}

	return true, nil
}

// Start a goroutine calling Poll until Close. Failed polls are handed to the
// PollError hook.
func (c *Client) Start() {
	c.loop.start(log.Fields{"client": c}, c.poller.Timeout(), c.Poll, func(err error) {
		if c.State() != ClientDestructing {
			c.hooks.PollError(c, err)
		}
	})
}

// Close destructs this Client. The polling goroutine and any running Poll are
// waited for before the connection is released. Afterwards, the Client cannot
// be used anymore. Close must not be called from a hook.
func (c *Client) Close() error {
	c.mutex.Lock()
	if c.state == ClientDestructing {
		c.mutex.Unlock()
		return nil
	}
	c.state = ClientDestructing
	c.mutex.Unlock()

	c.loop.stop()

	c.pollGate.Lock()
	defer c.pollGate.Unlock()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := c.release(); err != nil {
		log.WithFields(log.Fields{
			"client": c.stringUnlocked(),
			"error":  err,
		}).Warn("Releasing the connection during destruction errored")
		return fmt.Errorf("close client: %w", err)
	}

	log.WithField("client", c.stringUnlocked()).Debug("Client destructed")
	return nil
}

func (c *Client) stringUnlocked() string {
	if c.conn == nil {
		return fmt.Sprintf("client(%v)", c.state)
	}
	return fmt.Sprintf("client(%v, %v)", c.state, c.conn.RemoteAddr())
}

func (c *Client) String() string {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.stringUnlocked()
}
