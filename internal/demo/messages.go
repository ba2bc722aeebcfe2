// SPDX-FileCopyrightText: 2026 The SunNet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package demo defines the channels shared by sunnetd and sunnetcat.
package demo

import (
	"time"

	"github.com/sunnet-go/sunnet/pkg/channel"
)

// Ping requests a Pong carrying the same Seq and Sent values.
type Ping struct {
	Seq  uint32
	_    uint32
	Sent int64
}

// NewPing for the sequence number, stamped with the current time.
func NewPing(seq uint32) Ping {
	return Ping{Seq: seq, Sent: time.Now().UnixNano()}
}

// Pong answers a Ping.
type Pong struct {
	Seq  uint32
	_    uint32
	Sent int64
}

// RTT is the duration since the answered Ping was sent.
func (p Pong) RTT() time.Duration {
	return time.Since(time.Unix(0, p.Sent))
}

// Message carries two integers. A server receiving the greeting answers with
// the reply, everything else is echoed back.
type Message struct {
	A int32
	B int32
}

var (
	// Greeting is the well known first Message.
	Greeting = Message{A: 1337, B: 8888}

	// Reply to the Greeting.
	Reply = Message{A: 12345678, B: 98765}
)

// Answer returns the server's answer for a received Message.
func Answer(msg Message) Message {
	if msg == Greeting {
		return Reply
	}
	return msg
}

// RegisterAll registers the channels in their fixed order.
func RegisterAll(reg *channel.Registry) error {
	if _, err := channel.Register[Ping](reg); err != nil {
		return err
	}
	if _, err := channel.Register[Pong](reg); err != nil {
		return err
	}
	if _, err := channel.Register[Message](reg); err != nil {
		return err
	}
	return nil
}
