// SPDX-FileCopyrightText: 2026 The SunNet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package endpoint

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// loop drives an endpoint's Poll from its own goroutine until stopped.
type loop struct {
	mutex   sync.Mutex
	running bool
	stopped bool

	stopSyn chan struct{}
	stopAck chan struct{}
}

func newLoop() *loop {
	return &loop{
		stopSyn: make(chan struct{}),
		stopAck: make(chan struct{}),
	}
}

// start the polling goroutine. A loop can only be started once; later calls
// or calls after stop are ignored.
//
// The poll function reports if it waited on the multiplexer. Otherwise the
// goroutine idles for the given duration before polling again.
func (l *loop) start(fields log.Fields, idle time.Duration, poll func() (bool, error), pollError func(error)) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.running || l.stopped {
		return false
	}
	l.running = true

	go func() {
		log.WithFields(fields).Debug("Polling goroutine started")

		for {
			select {
			case <-l.stopSyn:
				log.WithFields(fields).Debug("Polling goroutine stopped")
				close(l.stopAck)
				return

			default:
				polled, err := poll()
				if err != nil {
					log.WithFields(fields).WithError(err).Warn("Polling failed")
					pollError(err)
				}

				if !polled || err != nil {
					select {
					case <-l.stopSyn:
					case <-time.After(idle):
					}
				}
			}
		}
	}()

	return true
}

// stop the polling goroutine and wait for it to finish. Repeated calls return
// immediately.
func (l *loop) stop() {
	l.mutex.Lock()
	if l.stopped {
		l.mutex.Unlock()
		return
	}
	l.stopped = true
	running := l.running
	close(l.stopSyn)
	l.mutex.Unlock()

	if running {
		<-l.stopAck
	}
}
