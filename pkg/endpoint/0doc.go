// SPDX-FileCopyrightText: 2026 The SunNet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package endpoint implements clients and servers as explicit lifecycle state
// machines on top of the poll package.
//
// A Client moves from ClientClosed to ClientConnected and back; a Server moves
// from ServerClosed to ServerOpen to ServerServe, each able to fall back to
// ServerClosed. Operations called in a state not permitting them return a
// StateError and leave the state unchanged. Destruction, by Client.Close and
// Server.Destroy, is always permitted and ends in a terminal state.
//
// Each Poll waits on the multiplexer and reports the outcome to hooks, which
// are supplied as a ClientHooks or ServerHooks implementation. Start runs Poll
// in a dedicated goroutine until destruction; destruction waits for this
// goroutine and any running Poll before releasing connections.
//
// The ChanneledClient and ChanneledServer exchange framed messages, as
// defined in the channel package, and dispatch received messages to the
// subscriptions of their subscription.Router:
//
//	reg := channel.NewRegistry()
//	channel.MustRegister[Ping](reg)
//
//	server := endpoint.NewChanneledServer(cfg, reg, nil)
//	subscription.Subscribe(server.Router(), func(peer *channel.Conn, ping *Ping) {
//		_ = peer.Send(ping)
//	})
//
//	_ = server.Open()
//	_ = server.Serve()
//	server.Start()
package endpoint
