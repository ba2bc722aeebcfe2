// SPDX-FileCopyrightText: 2026 The SunNet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package endpoint

import (
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sunnet-go/sunnet/pkg/sock"
)

// testListener accepts a single TCP connection in the background.
func testListener(t *testing.T) (port string, accepted <-chan net.Conn) {
	port = getRandomPort(t)

	ln, err := net.Listen("tcp", "127.0.0.1:"+port)
	if err != nil {
		t.Fatal(err)
	}

	connChan := make(chan net.Conn, 1)
	go func() {
		if conn, err := ln.Accept(); err == nil {
			connChan <- conn
		}
	}()

	t.Cleanup(func() {
		_ = ln.Close()
		select {
		case conn := <-connChan:
			_ = conn.Close()
		default:
		}
	})

	return port, connChan
}

type recordingClientHooks struct {
	BaseClientHooks

	readable    chan []byte
	timeouts    atomic.Int32
	disconnects atomic.Int32
	active      atomic.Int32
	slow        time.Duration
}

func newRecordingClientHooks() *recordingClientHooks {
	return &recordingClientHooks{readable: make(chan []byte, 16)}
}

func (h *recordingClientHooks) ReadyToRead(client *Client) error {
	buff := make([]byte, 4)
	if ok, err := client.Connection().Receive(buff); err != nil {
		return err
	} else if !ok {
		h.disconnects.Add(1)
		return client.Disconnect()
	}

	h.readable <- buff
	return nil
}

func (h *recordingClientHooks) PollTimeout(_ *Client) {
	h.active.Add(1)
	defer h.active.Add(-1)

	h.timeouts.Add(1)
	time.Sleep(h.slow)
}

func testClientConfig() ClientConfig {
	return ClientConfig{
		Sock:        sock.Config{Network: "tcp"},
		PollTimeout: 10 * time.Millisecond,
	}
}

func TestClientStates(t *testing.T) {
	port, _ := testListener(t)
	client := NewClient(testClientConfig(), nil)

	if state := client.State(); state != ClientClosed {
		t.Fatalf("Initial state is %v", state)
	}

	// Disconnecting before connecting is fine.
	if err := client.Disconnect(); err != nil {
		t.Fatal(err)
	}

	if err := client.Connect("127.0.0.1", port); err != nil {
		t.Fatal(err)
	}
	if state := client.State(); state != ClientConnected {
		t.Fatalf("State after Connect is %v", state)
	}
	if client.Connection() == nil {
		t.Fatal("Connected client has no connection")
	}

	var stateErr *StateError
	if err := client.Connect("127.0.0.1", port); !errors.As(err, &stateErr) {
		t.Fatalf("Expected StateError, got %v", err)
	} else if !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("StateError does not wrap ErrInvalidStateTransition: %v", err)
	} else if stateErr.State != ClientConnected {
		t.Fatalf("StateError has state %v", stateErr.State)
	}
	if state := client.State(); state != ClientConnected {
		t.Fatalf("Failed Connect altered state to %v", state)
	}

	if err := client.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if state := client.State(); state != ClientClosed {
		t.Fatalf("State after Disconnect is %v", state)
	}
	if client.Connection() != nil {
		t.Fatal("Disconnected client still has a connection")
	}

	if err := client.Close(); err != nil {
		t.Fatal(err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Second Close errored: %v", err)
	}
	if state := client.State(); state != ClientDestructing {
		t.Fatalf("State after Close is %v", state)
	}

	if err := client.Connect("127.0.0.1", port); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("Connect after Close: %v", err)
	}
	if err := client.Disconnect(); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("Disconnect after Close: %v", err)
	}
}

func TestClientConnectFailure(t *testing.T) {
	client := NewClient(testClientConfig(), nil)
	defer client.Close()

	if err := client.Connect("127.0.0.1", getRandomPort(t)); err == nil {
		t.Fatal("Connecting to a closed port succeeded")
	}
	if state := client.State(); state != ClientClosed {
		t.Fatalf("State after failed Connect is %v", state)
	}
}

func TestClientPoll(t *testing.T) {
	port, accepted := testListener(t)

	hooks := newRecordingClientHooks()
	client := NewClient(testClientConfig(), hooks)
	defer client.Close()

	if polled, err := client.Poll(); polled || err != nil {
		t.Fatalf("Poll on closed client: %t, %v", polled, err)
	}

	if err := client.Connect("127.0.0.1", port); err != nil {
		t.Fatal(err)
	}

	var remote net.Conn
	select {
	case remote = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("Connection was not accepted")
	}

	if polled, err := client.Poll(); !polled || err != nil {
		t.Fatalf("Poll on idle connection: %t, %v", polled, err)
	}
	if n := hooks.timeouts.Load(); n != 1 {
		t.Fatalf("PollTimeout was called %d times", n)
	}

	if _, err := remote.Write([]byte("ping")); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for len(hooks.readable) == 0 && time.Now().Before(deadline) {
		if _, err := client.Poll(); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case buff := <-hooks.readable:
		if string(buff) != "ping" {
			t.Fatalf("Read %q", buff)
		}
	default:
		t.Fatal("ReadyToRead was not called")
	}

	_ = remote.Close()

	deadline = time.Now().Add(time.Second)
	for client.State() == ClientConnected && time.Now().Before(deadline) {
		if _, err := client.Poll(); err != nil {
			t.Fatal(err)
		}
	}

	if n := hooks.disconnects.Load(); n != 1 {
		t.Fatalf("Remote close was observed %d times", n)
	}
	if state := client.State(); state != ClientClosed {
		t.Fatalf("State after remote close is %v", state)
	}
}

func TestClientCloseJoinsPolling(t *testing.T) {
	port, _ := testListener(t)

	hooks := newRecordingClientHooks()
	hooks.slow = 20 * time.Millisecond

	client := NewClient(testClientConfig(), hooks)
	if err := client.Connect("127.0.0.1", port); err != nil {
		t.Fatal(err)
	}

	client.Start()
	client.Start()

	deadline := time.Now().Add(time.Second)
	for hooks.timeouts.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hooks.timeouts.Load() < 3 {
		t.Fatal("Polling goroutine does not poll")
	}

	if err := client.Close(); err != nil {
		t.Fatal(err)
	}

	if n := hooks.active.Load(); n != 0 {
		t.Fatalf("%d hooks are still running after Close", n)
	}

	calls := hooks.timeouts.Load()
	time.Sleep(50 * time.Millisecond)
	if n := hooks.timeouts.Load(); n != calls {
		t.Fatalf("Hooks were called after Close: %d, %d", calls, n)
	}

	if polled, err := client.Poll(); polled || err != nil {
		t.Fatalf("Poll after Close: %t, %v", polled, err)
	}
}
