// SPDX-FileCopyrightText: 2026 The SunNet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package endpoint

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sunnet-go/sunnet/pkg/channel"
	"github.com/sunnet-go/sunnet/pkg/sock"
	"github.com/sunnet-go/sunnet/pkg/subscription"
)

type generalMessage struct {
	A int32
	B int32
}

type statusMessage struct {
	Code  uint16
	Flags uint16
}

// testRegistry creates a Registry. Both sides create their own Registry with
// the same registration order, as separate processes would.
func testRegistry() *channel.Registry {
	reg := channel.NewRegistry()
	channel.MustRegister[statusMessage](reg)
	channel.MustRegister[generalMessage](reg)
	return reg
}

type recordingChanneledServerHooks struct {
	BaseChanneledServerHooks

	connects    chan *channel.Conn
	disconnects chan *channel.Conn
	errors      atomic.Int32
}

func newRecordingChanneledServerHooks() *recordingChanneledServerHooks {
	return &recordingChanneledServerHooks{
		connects:    make(chan *channel.Conn, 16),
		disconnects: make(chan *channel.Conn, 16),
	}
}

func (h *recordingChanneledServerHooks) ClientConnect(_ *ChanneledServer, peer *channel.Conn) {
	h.connects <- peer
}

func (h *recordingChanneledServerHooks) ClientDisconnect(_ *ChanneledServer, peer *channel.Conn) {
	h.disconnects <- peer
}

func (h *recordingChanneledServerHooks) ClientError(_ *ChanneledServer, _ *channel.Conn) {
	h.errors.Add(1)
}

type recordingChanneledClientHooks struct {
	BaseChanneledClientHooks

	disconnects chan struct{}
}

func (h *recordingChanneledClientHooks) ClientDisconnect(_ *ChanneledClient) {
	h.disconnects <- struct{}{}
}

func startChanneledServer(t *testing.T, hooks ChanneledServerHooks) *ChanneledServer {
	server := NewChanneledServer(testServerConfig(t), testRegistry(), hooks)
	if err := server.Open(); err != nil {
		t.Fatal(err)
	}
	if err := server.Serve(); err != nil {
		t.Fatal(err)
	}
	server.Start()

	t.Cleanup(func() { _ = server.Destroy() })
	return server
}

func startChanneledClient(t *testing.T, hooks ChanneledClientHooks) *ChanneledClient {
	client := NewChanneledClient(testClientConfig(), testRegistry(), hooks)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func connectChanneledClient(t *testing.T, client *ChanneledClient, server *ChanneledServer) {
	if err := client.Connect("127.0.0.1", server.config.Port); err != nil {
		t.Fatal(err)
	}
	client.Start()
}

func TestChanneledExchange(t *testing.T) {
	serverHooks := newRecordingChanneledServerHooks()
	server := startChanneledServer(t, serverHooks)

	serverReceived := make(chan generalMessage, 1)
	if _, err := subscription.Subscribe(server.Router(), func(sender *channel.Conn, msg *generalMessage) {
		serverReceived <- *msg

		if msg.A == 1337 && msg.B == 8888 {
			if err := sender.Send(&generalMessage{A: 12345678, B: 98765}); err != nil {
				t.Errorf("Sending reply failed: %v", err)
			}
		}
	}); err != nil {
		t.Fatal(err)
	}

	client := startChanneledClient(t, nil)

	clientReceived := make(chan generalMessage, 1)
	if _, err := subscription.Subscribe(client.Router(), func(_ *channel.Conn, msg *generalMessage) {
		clientReceived <- *msg
	}); err != nil {
		t.Fatal(err)
	}

	if err := client.Send(generalMessage{}); !errors.Is(err, sock.ErrNotConnected) {
		t.Fatalf("Send before Connect: %v", err)
	}

	connectChanneledClient(t, client, server)

	select {
	case <-serverHooks.connects:
	case <-time.After(time.Second):
		t.Fatal("Server did not report the connection")
	}

	if err := client.Send(generalMessage{A: 1337, B: 8888}); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-serverReceived:
		if msg != (generalMessage{A: 1337, B: 8888}) {
			t.Fatalf("Server received %v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("Server did not receive the message")
	}

	select {
	case msg := <-clientReceived:
		if msg != (generalMessage{A: 12345678, B: 98765}) {
			t.Fatalf("Client received %v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("Client did not receive the reply")
	}
}

func TestChanneledMultipleChannels(t *testing.T) {
	server := startChanneledServer(t, nil)

	statuses := make(chan statusMessage, 8)
	if _, err := subscription.Subscribe(server.Router(), func(_ *channel.Conn, msg *statusMessage) {
		statuses <- *msg
	}); err != nil {
		t.Fatal(err)
	}

	client := startChanneledClient(t, nil)
	connectChanneledClient(t, client, server)

	// The generalMessage has no subscriber and is dropped, keeping the
	// stream aligned for the following statusMessage.
	for i := uint16(0); i < 4; i++ {
		if err := client.Send(generalMessage{A: int32(i)}); err != nil {
			t.Fatal(err)
		}
		if err := client.Send(&statusMessage{Code: i, Flags: 0xf0f0}); err != nil {
			t.Fatal(err)
		}
	}

	for i := uint16(0); i < 4; i++ {
		select {
		case msg := <-statuses:
			if msg.Code != i || msg.Flags != 0xf0f0 {
				t.Fatalf("Received %v as message %d", msg, i)
			}
		case <-time.After(time.Second):
			t.Fatalf("Message %d was not received", i)
		}
	}
}

func TestChanneledPeerDisconnect(t *testing.T) {
	serverHooks := newRecordingChanneledServerHooks()
	server := startChanneledServer(t, serverHooks)

	client := startChanneledClient(t, nil)
	connectChanneledClient(t, client, server)

	var peer *channel.Conn
	select {
	case peer = <-serverHooks.connects:
	case <-time.After(time.Second):
		t.Fatal("Server did not report the connection")
	}

	if len(server.Conns()) != 1 || server.Peers() != 1 {
		t.Fatalf("Server knows %d conns and %d peers", len(server.Conns()), server.Peers())
	}

	if err := client.Disconnect(); err != nil {
		t.Fatal(err)
	}

	select {
	case disconnected := <-serverHooks.disconnects:
		if disconnected != peer {
			t.Fatalf("Disconnect reported for %v, expected %v", disconnected, peer)
		}
	case <-time.After(time.Second):
		t.Fatal("Server did not report the disconnect")
	}

	select {
	case <-serverHooks.disconnects:
		t.Fatal("Disconnect was reported twice")
	case <-time.After(100 * time.Millisecond):
	}

	if server.Peers() != 0 || len(server.Conns()) != 0 {
		t.Fatalf("Server still knows %d peers", server.Peers())
	}
	if n := serverHooks.errors.Load(); n != 0 {
		t.Fatalf("ClientError was called %d times", n)
	}
}

func TestChanneledServerGone(t *testing.T) {
	server := NewChanneledServer(testServerConfig(t), testRegistry(), nil)
	if err := server.Open(); err != nil {
		t.Fatal(err)
	}
	if err := server.Serve(); err != nil {
		t.Fatal(err)
	}
	server.Start()

	clientHooks := &recordingChanneledClientHooks{disconnects: make(chan struct{}, 4)}
	client := startChanneledClient(t, clientHooks)
	connectChanneledClient(t, client, server)

	deadline := time.Now().Add(time.Second)
	for server.Peers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if err := server.Destroy(); err != nil {
		t.Fatal(err)
	}

	select {
	case <-clientHooks.disconnects:
	case <-time.After(time.Second):
		t.Fatal("Client did not report the disconnect")
	}

	deadline = time.Now().Add(time.Second)
	for client.State() != ClientClosed && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if state := client.State(); state != ClientClosed {
		t.Fatalf("Client is in state %v", state)
	}
}

func TestChanneledProtocolViolation(t *testing.T) {
	serverHooks := newRecordingChanneledServerHooks()
	server := startChanneledServer(t, serverHooks)

	client := startChanneledClient(t, nil)
	if err := client.Connect("127.0.0.1", server.config.Port); err != nil {
		t.Fatal(err)
	}

	select {
	case <-serverHooks.connects:
	case <-time.After(time.Second):
		t.Fatal("Server did not report the connection")
	}

	// An id outside the registry breaks the stream; the peer gets dropped.
	if err := client.Connection().Send([]byte{0xee}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for server.Peers() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if server.Peers() != 0 {
		t.Fatal("Peer was not dropped")
	}
	if n := serverHooks.errors.Load(); n != 1 {
		t.Fatalf("ClientError was called %d times", n)
	}
}

func TestChanneledSealsRegistry(t *testing.T) {
	server := startChanneledServer(t, nil)

	if !server.Registry().Sealed() {
		t.Fatal("Registry is not sealed after Open")
	}
	if _, err := channel.Register[struct{ X uint8 }](server.Registry()); !errors.Is(err, channel.ErrRegistrySealed) {
		t.Fatalf("Expected ErrRegistrySealed, got %v", err)
	}

	client := startChanneledClient(t, nil)
	if client.Registry().Sealed() {
		t.Fatal("Registry is sealed before Connect")
	}
	connectChanneledClient(t, client, server)
	if !client.Registry().Sealed() {
		t.Fatal("Registry is not sealed after Connect")
	}
}

func TestChanneledBroadcast(t *testing.T) {
	serverHooks := newRecordingChanneledServerHooks()
	server := startChanneledServer(t, serverHooks)

	received := make(chan statusMessage, 8)
	for i := 0; i < 3; i++ {
		client := startChanneledClient(t, nil)
		if _, err := subscription.Subscribe(client.Router(), func(_ *channel.Conn, msg *statusMessage) {
			received <- *msg
		}); err != nil {
			t.Fatal(err)
		}
		connectChanneledClient(t, client, server)

		select {
		case <-serverHooks.connects:
		case <-time.After(time.Second):
			t.Fatalf("Server did not report connection %d", i)
		}
	}

	if err := server.Broadcast(statusMessage{Code: 200}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		select {
		case msg := <-received:
			if msg.Code != 200 {
				t.Fatalf("Received %v", msg)
			}
		case <-time.After(time.Second):
			t.Fatalf("Broadcast %d was not received", i)
		}
	}
}
