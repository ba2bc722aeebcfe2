// SPDX-FileCopyrightText: 2026 The SunNet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package endpoint

import (
	"errors"
	"fmt"
)

// ErrInvalidStateTransition is wrapped by each StateError.
var ErrInvalidStateTransition = errors.New("invalid state transition")

// StateError is returned by lifecycle operations called in a state which does
// not permit them. The endpoint's state is left unchanged.
type StateError struct {
	Operation string
	State     fmt.Stringer
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s in state %v: %v", e.Operation, e.State, ErrInvalidStateTransition)
}

func (e *StateError) Unwrap() error {
	return ErrInvalidStateTransition
}

// ClientState is the lifecycle state of a Client.
type ClientState uint

const (
	_ ClientState = iota

	// ClientClosed is the initial state, without a connection.
	ClientClosed

	// ClientConnected indicates an established connection.
	ClientConnected

	// ClientDestructing is the terminal state, entered by Close.
	ClientDestructing
)

func (s ClientState) String() string {
	switch s {
	case ClientClosed:
		return "closed"
	case ClientConnected:
		return "connected"
	case ClientDestructing:
		return "destructing"
	default:
		return "unknown"
	}
}

// ServerState is the lifecycle state of a Server.
type ServerState uint

const (
	_ ServerState = iota

	// ServerClosed is the initial state, without a listener.
	ServerClosed

	// ServerOpen indicates a bound and listening, but not yet serving, Server.
	ServerOpen

	// ServerServe indicates a Server accepting and polling its peers.
	ServerServe

	// ServerDestructing is the terminal state, entered by Destroy.
	ServerDestructing
)

func (s ServerState) String() string {
	switch s {
	case ServerClosed:
		return "closed"
	case ServerOpen:
		return "open"
	case ServerServe:
		return "serve"
	case ServerDestructing:
		return "destructing"
	default:
		return "unknown"
	}
}
