// SPDX-FileCopyrightText: 2026 The SunNet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package endpoint

import (
	"github.com/sunnet-go/sunnet/pkg/channel"
	"github.com/sunnet-go/sunnet/pkg/sock"
)

// ClientHooks are called by a Client's Poll.
//
// Hooks might call Disconnect, but never Close. An error returned by
// ReadyToRead is returned by Poll.
type ClientHooks interface {
	// ReadyToRead is called when the connection became readable.
	ReadyToRead(client *Client) error

	// ClientError is called when the connection is in an error state.
	ClientError(client *Client)

	// ClientDisconnect is called when the connection was hung up.
	ClientDisconnect(client *Client)

	// PollTimeout is called after a poll without any ready connection.
	PollTimeout(client *Client)

	// PollError is called by the polling goroutine for each failed Poll.
	PollError(client *Client, err error)
}

// ServerHooks are called by a Server's Poll.
//
// Hooks might call Close or DropPeer, but never Destroy. An error returned by
// ReadyToRead is returned by Poll.
type ServerHooks interface {
	// ReadyToRead is called when a peer became readable.
	ReadyToRead(server *Server, peer sock.Connection) error

	// ClientConnect is called for each accepted peer.
	ClientConnect(server *Server, peer sock.Connection)

	// ClientDisconnect is called for a hung up peer. The peer is no longer
	// tracked and will be closed afterwards.
	ClientDisconnect(server *Server, peer sock.Connection)

	// ClientError is called for a peer in an error state. The peer is no
	// longer tracked and will be closed afterwards.
	ClientError(server *Server, peer sock.Connection)

	// ServerError is called when the listener is in an error state or
	// accepting a peer failed.
	ServerError(server *Server, err error)

	// ServerDisconnect is called when the listener was hung up.
	ServerDisconnect(server *Server)

	// PollTimeout is called after a poll without any ready connection.
	PollTimeout(server *Server)

	// PollError is called by the polling goroutine for each failed Poll.
	PollError(server *Server, err error)
}

// ChanneledClientHooks are called by a ChanneledClient. Received messages are
// delivered to the subscriptions of its Router instead.
type ChanneledClientHooks interface {
	// ClientError is called when the connection is in an error state or its
	// stream became unreadable. The client disconnects afterwards.
	ClientError(client *ChanneledClient)

	// ClientDisconnect is called when the server closed the connection. The
	// client disconnects afterwards.
	ClientDisconnect(client *ChanneledClient)

	PollTimeout(client *ChanneledClient)
	PollError(client *ChanneledClient, err error)
}

// ChanneledServerHooks are called by a ChanneledServer. Received messages are
// delivered to the subscriptions of its Router instead.
type ChanneledServerHooks interface {
	ClientConnect(server *ChanneledServer, peer *channel.Conn)

	// ClientDisconnect is called when a peer closed its connection. The peer
	// is no longer tracked and will be closed afterwards.
	ClientDisconnect(server *ChanneledServer, peer *channel.Conn)

	// ClientError is called for a peer in an error state or with an unreadable
	// stream. The peer is no longer tracked and will be closed afterwards.
	ClientError(server *ChanneledServer, peer *channel.Conn)

	ServerError(server *ChanneledServer, err error)
	ServerDisconnect(server *ChanneledServer)
	PollTimeout(server *ChanneledServer)
	PollError(server *ChanneledServer, err error)
}

// BaseClientHooks implements ClientHooks without any action. Embed it to
// implement only the required hooks.
type BaseClientHooks struct{}

func (BaseClientHooks) ReadyToRead(*Client) error { return nil }
func (BaseClientHooks) ClientError(*Client)       {}
func (BaseClientHooks) ClientDisconnect(*Client)  {}
func (BaseClientHooks) PollTimeout(*Client)       {}
func (BaseClientHooks) PollError(*Client, error)  {}

// BaseServerHooks implements ServerHooks without any action.
type BaseServerHooks struct{}

func (BaseServerHooks) ReadyToRead(*Server, sock.Connection) error { return nil }
func (BaseServerHooks) ClientConnect(*Server, sock.Connection)      {}
func (BaseServerHooks) ClientDisconnect(*Server, sock.Connection)   {}
func (BaseServerHooks) ClientError(*Server, sock.Connection)        {}
func (BaseServerHooks) ServerError(*Server, error)                  {}
func (BaseServerHooks) ServerDisconnect(*Server)                    {}
func (BaseServerHooks) PollTimeout(*Server)                         {}
func (BaseServerHooks) PollError(*Server, error)                    {}

// BaseChanneledClientHooks implements ChanneledClientHooks without any action.
type BaseChanneledClientHooks struct{}

func (BaseChanneledClientHooks) ClientError(*ChanneledClient)      {}
func (BaseChanneledClientHooks) ClientDisconnect(*ChanneledClient) {}
func (BaseChanneledClientHooks) PollTimeout(*ChanneledClient)      {}
func (BaseChanneledClientHooks) PollError(*ChanneledClient, error) {}

// BaseChanneledServerHooks implements ChanneledServerHooks without any action.
type BaseChanneledServerHooks struct{}

func (BaseChanneledServerHooks) ClientConnect(*ChanneledServer, *channel.Conn)    {}
func (BaseChanneledServerHooks) ClientDisconnect(*ChanneledServer, *channel.Conn) {}
func (BaseChanneledServerHooks) ClientError(*ChanneledServer, *channel.Conn)      {}
func (BaseChanneledServerHooks) ServerError(*ChanneledServer, error)              {}
func (BaseChanneledServerHooks) ServerDisconnect(*ChanneledServer)                {}
func (BaseChanneledServerHooks) PollTimeout(*ChanneledServer)                     {}
func (BaseChanneledServerHooks) PollError(*ChanneledServer, error)                {}
