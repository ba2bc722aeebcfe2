// SPDX-FileCopyrightText: 2026 The SunNet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package endpoint

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/sunnet-go/sunnet/pkg/channel"
	"github.com/sunnet-go/sunnet/pkg/metrics"
	"github.com/sunnet-go/sunnet/pkg/sock"
	"github.com/sunnet-go/sunnet/pkg/subscription"
)

// ChanneledServer is a Server exchanging framed messages with its peers.
// Received messages are dispatched to the subscriptions of its Router.
type ChanneledServer struct {
	*Server

	registry *channel.Registry
	router   *subscription.Router
	hooks    ChanneledServerHooks

	connsMutex sync.Mutex
	conns      map[sock.Connection]*channel.Conn
}

// NewChanneledServer creates a ChanneledServer for the channels of the
// Registry. The Registry is sealed on Open.
func NewChanneledServer(config ServerConfig, registry *channel.Registry, hooks ChanneledServerHooks) *ChanneledServer {
	if hooks == nil {
		hooks = BaseChanneledServerHooks{}
	}

	cs := &ChanneledServer{
		registry: registry,
		hooks:    hooks,
		conns:    make(map[sock.Connection]*channel.Conn),
	}
	cs.router = subscription.NewRouter(registry, cs.onDisconnect)
	cs.Server = NewServer(config, channeledServerHooks{cs})
	cs.Server.released = cs.forget

	return cs
}

// Router for subscriptions to received messages.
func (cs *ChanneledServer) Router() *subscription.Router {
	return cs.router
}

// Registry of this ChanneledServer's channels.
func (cs *ChanneledServer) Registry() *channel.Registry {
	return cs.registry
}

// Open seals the Registry, binds and starts listening.
func (cs *ChanneledServer) Open() error {
	cs.registry.Seal()
	return cs.Server.Open()
}

// Channeled returns the framed view of a tracked peer.
func (cs *ChanneledServer) Channeled(peer sock.Connection) *channel.Conn {
	cs.connsMutex.Lock()
	defer cs.connsMutex.Unlock()

	conn, ok := cs.conns[peer]
	if !ok {
		conn = channel.NewConn(peer, cs.registry)
		cs.conns[peer] = conn
	}
	return conn
}

// Conns returns the framed views of all currently known peers.
func (cs *ChanneledServer) Conns() []*channel.Conn {
	cs.connsMutex.Lock()
	defer cs.connsMutex.Unlock()

	conns := make([]*channel.Conn, 0, len(cs.conns))
	for _, conn := range cs.conns {
		conns = append(conns, conn)
	}
	return conns
}

// Broadcast a message to all known peers. Errors are aggregated.
func (cs *ChanneledServer) Broadcast(msg any) error {
	var err error
	for _, conn := range cs.Conns() {
		if sendErr := conn.Send(msg); sendErr != nil {
			err = multierror.Append(err, fmt.Errorf("broadcast to %v: %w", conn, sendErr))
		}
	}
	return err
}

// DropPeer untracks and closes a peer.
func (cs *ChanneledServer) DropPeer(peer *channel.Conn) error {
	return cs.Server.DropPeer(peer.Connection())
}

// forget a released peer's framed view.
func (cs *ChanneledServer) forget(peer sock.Connection) {
	cs.connsMutex.Lock()
	defer cs.connsMutex.Unlock()

	delete(cs.conns, peer)
}

// onDisconnect is called by the Router when a peer closed its connection.
func (cs *ChanneledServer) onDisconnect(conn *channel.Conn) {
	if !cs.checkpoint() || !cs.untrack(conn.Connection()) {
		return
	}

	metrics.ConnectionsLost.WithLabelValues("disconnect").Inc()

	log.WithFields(log.Fields{
		"server": cs,
		"peer":   conn,
	}).Debug("Peer closed connection")

	cs.hooks.ClientDisconnect(cs, conn)
	_ = cs.closePeer(conn.Connection())
}

// channeledServerHooks adapts the Server's hooks to a ChanneledServer.
type channeledServerHooks struct {
	cs *ChanneledServer
}

func (h channeledServerHooks) ReadyToRead(_ *Server, peer sock.Connection) error {
	conn := h.cs.Channeled(peer)

	if err := h.cs.router.Dispatch(conn); err != nil {
		if h.cs.checkpoint() && h.cs.untrack(peer) {
			metrics.ConnectionsLost.WithLabelValues("error").Inc()
			h.cs.hooks.ClientError(h.cs, conn)
			_ = h.cs.closePeer(peer)
		}
		return fmt.Errorf("dispatch from %v: %w", conn, err)
	}
	return nil
}

func (h channeledServerHooks) ClientConnect(_ *Server, peer sock.Connection) {
	h.cs.hooks.ClientConnect(h.cs, h.cs.Channeled(peer))
}

func (h channeledServerHooks) ClientDisconnect(_ *Server, peer sock.Connection) {
	h.cs.hooks.ClientDisconnect(h.cs, h.cs.Channeled(peer))
}

func (h channeledServerHooks) ClientError(_ *Server, peer sock.Connection) {
	h.cs.hooks.ClientError(h.cs, h.cs.Channeled(peer))
}

func (h channeledServerHooks) ServerError(_ *Server, err error) {
	h.cs.hooks.ServerError(h.cs, err)
}

func (h channeledServerHooks) ServerDisconnect(_ *Server) {
	h.cs.hooks.ServerDisconnect(h.cs)
}

func (h channeledServerHooks) PollTimeout(_ *Server) {
	h.cs.hooks.PollTimeout(h.cs)
}

func (h channeledServerHooks) PollError(_ *Server, err error) {
	h.cs.hooks.PollError(h.cs, err)
}
