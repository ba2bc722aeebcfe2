// SPDX-FileCopyrightText: 2026 The SunNet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package endpoint

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/sunnet-go/sunnet/pkg/channel"
	"github.com/sunnet-go/sunnet/pkg/sock"
	"github.com/sunnet-go/sunnet/pkg/subscription"
)

// ChanneledClient is a Client exchanging framed messages. Received messages
// are dispatched to the subscriptions of its Router.
type ChanneledClient struct {
	*Client

	registry *channel.Registry
	router   *subscription.Router
	hooks    ChanneledClientHooks

	connMutex sync.Mutex
	conn      *channel.Conn
}

// NewChanneledClient creates a ChanneledClient for the channels of the
// Registry. The Registry is sealed on Connect.
func NewChanneledClient(config ClientConfig, registry *channel.Registry, hooks ChanneledClientHooks) *ChanneledClient {
	if hooks == nil {
		hooks = BaseChanneledClientHooks{}
	}

	cc := &ChanneledClient{
		registry: registry,
		hooks:    hooks,
	}
	cc.router = subscription.NewRouter(registry, cc.onDisconnect)
	cc.Client = NewClient(config, channeledClientHooks{cc})

	return cc
}

// Router for subscriptions to received messages.
func (cc *ChanneledClient) Router() *subscription.Router {
	return cc.router
}

// Registry of this ChanneledClient's channels.
func (cc *ChanneledClient) Registry() *channel.Registry {
	return cc.registry
}

// Connect seals the Registry and connects to a server.
func (cc *ChanneledClient) Connect(address, port string) error {
	cc.registry.Seal()
	return cc.Client.Connect(address, port)
}

// Channeled returns the framed view of the current connection or nil, if not
// connected.
func (cc *ChanneledClient) Channeled() *channel.Conn {
	conn := cc.Connection()

	cc.connMutex.Lock()
	defer cc.connMutex.Unlock()

	if conn == nil {
		cc.conn = nil
	} else if cc.conn == nil || cc.conn.Connection() != conn {
		cc.conn = channel.NewConn(conn, cc.registry)
	}
	return cc.conn
}

// Send a message on the channel registered for its type.
func (cc *ChanneledClient) Send(msg any) error {
	conn := cc.Channeled()
	if conn == nil {
		return fmt.Errorf("send: %w", sock.ErrNotConnected)
	}
	return conn.Send(msg)
}

// ReadChannelID blocks until the next channel id was read. Prefer
// subscriptions for reading.
func (cc *ChanneledClient) ReadChannelID() (channel.ID, error) {
	conn := cc.Channeled()
	if conn == nil {
		return 0, fmt.Errorf("read channel id: %w", sock.ErrNotConnected)
	}
	return conn.ReadChannelID()
}

// ReadPayload blocks until the payload for the channel id was read. Prefer
// subscriptions for reading.
func (cc *ChanneledClient) ReadPayload(id channel.ID) ([]byte, error) {
	conn := cc.Channeled()
	if conn == nil {
		return nil, fmt.Errorf("read payload: %w", sock.ErrNotConnected)
	}
	return conn.ReadPayload(id)
}

// onDisconnect is called by the Router when the server closed the connection.
func (cc *ChanneledClient) onDisconnect(_ *channel.Conn) {
	if !cc.checkpoint() {
		return
	}

	cc.hooks.ClientDisconnect(cc)
	cc.disconnect()
}

func (cc *ChanneledClient) disconnect() {
	if err := cc.Disconnect(); err != nil {
		log.WithFields(log.Fields{
			"client": cc,
			"error":  err,
		}).Warn("Disconnecting channeled client errored")
	}
}

// channeledClientHooks adapts the Client's hooks to a ChanneledClient.
type channeledClientHooks struct {
	cc *ChanneledClient
}

func (h channeledClientHooks) ReadyToRead(_ *Client) error {
	conn := h.cc.Channeled()
	if conn == nil {
		return nil
	}

	if err := h.cc.router.Dispatch(conn); err != nil {
		if h.cc.checkpoint() {
			h.cc.hooks.ClientError(h.cc)
			h.cc.disconnect()
		}
		return fmt.Errorf("dispatch: %w", err)
	}
	return nil
}

func (h channeledClientHooks) ClientError(_ *Client) {
	h.cc.hooks.ClientError(h.cc)
	h.cc.disconnect()
}

func (h channeledClientHooks) ClientDisconnect(_ *Client) {
	h.cc.hooks.ClientDisconnect(h.cc)
	h.cc.disconnect()
}

func (h channeledClientHooks) PollTimeout(_ *Client) {
	h.cc.hooks.PollTimeout(h.cc)
}

func (h channeledClientHooks) PollError(_ *Client, err error) {
	h.cc.hooks.PollError(h.cc, err)
}
