// SPDX-FileCopyrightText: 2026 The SunNet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sunnet-go/sunnet/internal/demo"
	"github.com/sunnet-go/sunnet/pkg/channel"
	"github.com/sunnet-go/sunnet/pkg/endpoint"
	"github.com/sunnet-go/sunnet/pkg/sock"
	"github.com/sunnet-go/sunnet/pkg/subscription"
)

var errServerGone = errors.New("server closed the connection")

type catOptions struct {
	network  string
	address  string
	port     string
	count    int
	interval time.Duration
	timeout  time.Duration
}

// catStats summarizes the answered pings.
type catStats struct {
	sent     int
	received int
	min      time.Duration
	max      time.Duration
	total    time.Duration
}

func (s *catStats) add(rtt time.Duration) {
	if s.received == 0 || rtt < s.min {
		s.min = rtt
	}
	if rtt > s.max {
		s.max = rtt
	}
	s.total += rtt
	s.received++
}

func (s catStats) String() string {
	if s.received == 0 {
		return fmt.Sprintf("%d pings sent, none answered", s.sent)
	}

	avg := s.total / time.Duration(s.received)
	return fmt.Sprintf("%d pings sent, %d answered, rtt min/avg/max = %v/%v/%v",
		s.sent, s.received, s.min, avg, s.max)
}

// catHooks reports the server's disconnect.
type catHooks struct {
	endpoint.BaseChanneledClientHooks

	gone chan struct{}
}

func (h catHooks) ClientDisconnect(_ *endpoint.ChanneledClient) {
	select {
	case h.gone <- struct{}{}:
	default:
	}
}

func (h catHooks) ClientError(client *endpoint.ChanneledClient) {
	log.WithField("client", client).Warn("Connection errored")
	h.ClientDisconnect(client)
}

// runCat connects to the server, exchanges the greeting and sends the pings.
func runCat(opts catOptions, out io.Writer) (stats catStats, err error) {
	reg := channel.NewRegistry()
	if err = demo.RegisterAll(reg); err != nil {
		return
	}

	hooks := catHooks{gone: make(chan struct{}, 1)}
	client := endpoint.NewChanneledClient(endpoint.ClientConfig{
		Sock: sock.Config{Network: opts.network},
	}, reg, hooks)
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			log.WithError(closeErr).Warn("Closing client errored")
		}
	}()

	pongs := make(chan demo.Pong, opts.count+1)
	messages := make(chan demo.Message, 1)

	if _, err = subscription.Subscribe(client.Router(), func(_ *channel.Conn, pong *demo.Pong) {
		pongs <- *pong
	}); err != nil {
		return
	}
	if _, err = subscription.Subscribe(client.Router(), func(_ *channel.Conn, msg *demo.Message) {
		messages <- *msg
	}); err != nil {
		return
	}

	if err = client.Connect(opts.address, opts.port); err != nil {
		return
	}
	client.Start()

	if err = client.Send(demo.Greeting); err != nil {
		return
	}

	select {
	case msg := <-messages:
		fmt.Fprintf(out, "greeting %d/%d answered with %d/%d\n", demo.Greeting.A, demo.Greeting.B, msg.A, msg.B)
	case <-hooks.gone:
		err = errServerGone
		return
	case <-time.After(opts.timeout):
		err = fmt.Errorf("greeting was not answered within %v", opts.timeout)
		return
	}

	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()

	printPong := func(pong demo.Pong) {
		rtt := pong.RTT()
		stats.add(rtt)
		fmt.Fprintf(out, "pong seq=%d rtt=%v\n", pong.Seq, rtt)
	}

	for seq := 0; seq < opts.count; seq++ {
		if err = client.Send(demo.NewPing(uint32(seq))); err != nil {
			return
		}
		stats.sent++

		if seq == opts.count-1 {
			break
		}

	wait:
		for {
			select {
			case pong := <-pongs:
				printPong(pong)
			case <-hooks.gone:
				err = errServerGone
				return
			case <-ticker.C:
				break wait
			}
		}
	}

	deadline := time.After(opts.timeout)
	for stats.received < stats.sent {
		select {
		case pong := <-pongs:
			printPong(pong)
		case <-hooks.gone:
			return
		case <-deadline:
			return
		}
	}

	return
}
