// SPDX-FileCopyrightText: 2026 The SunNet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package subscription routes received framed messages to typed callbacks.
//
// A Router keeps, per channel, an ordered set of callbacks. Dispatch reads one
// frame from a channel.Conn, decodes its payload once and hands the same
// value to each callback subscribed to that channel.
package subscription

import (
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/sunnet-go/sunnet/pkg/channel"
	"github.com/sunnet-go/sunnet/pkg/metrics"
)

// ID identifies a subscription within its Router.
type ID uint64

// ErrNoSubscription is returned when unsubscribing from a channel without
// any subscription.
var ErrNoSubscription = errors.New("no subscription for channel")

type subscriber struct {
	id       ID
	callback func(*channel.Conn, any)
}

// entry holds all subscribers of one channel. IDs are increasing, so appending
// keeps subscribers ordered by their ID.
type entry struct {
	decode      func([]byte) (any, error)
	subscribers []subscriber
}

// Router dispatches frames to the subscribers of their channel.
type Router struct {
	registry     *channel.Registry
	onDisconnect func(*channel.Conn)

	mutex   sync.Mutex
	nextID  ID
	entries map[channel.ID]*entry
}

// NewRouter creates a Router resolving channels in the Registry. The
// onDisconnect function is called when a peer closed its connection during
// Dispatch; it might be nil.
func NewRouter(registry *channel.Registry, onDisconnect func(*channel.Conn)) *Router {
	return &Router{
		registry:     registry,
		onDisconnect: onDisconnect,
		entries:      make(map[channel.ID]*entry),
	}
}

// Registry returns the Registry used for channel lookups.
func (r *Router) Registry() *channel.Registry {
	return r.registry
}

// Subscribe a callback to T's channel. The callback receives the sender and
// the decoded message. The returned ID is required to Unsubscribe again.
func Subscribe[T any](r *Router, callback func(sender *channel.Conn, msg *T)) (ID, error) {
	if callback == nil {
		return 0, fmt.Errorf("subscribe: nil callback")
	}

	chanID, err := channel.IDOf[T](r.registry)
	if err != nil {
		return 0, fmt.Errorf("subscribe: %w", err)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	e, ok := r.entries[chanID]
	if !ok {
		e = &entry{
			decode: func(payload []byte) (any, error) {
				return channel.Decode[T](payload)
			},
		}
		r.entries[chanID] = e
	}

	id := r.nextID
	r.nextID++

	e.subscribers = append(e.subscribers, subscriber{
		id: id,
		callback: func(sender *channel.Conn, msg any) {
			callback(sender, msg.(*T))
		},
	})

	log.WithFields(log.Fields{
		"channel":      chanID,
		"subscription": id,
	}).Debug("Added subscription")

	return id, nil
}

// Unsubscribe removes a subscription from T's channel. The channel's entry
// is removed together with its last subscription. An unknown ID within an
// existing entry is ignored.
func Unsubscribe[T any](r *Router, id ID) error {
	chanID, err := channel.IDOf[T](r.registry)
	if err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	e, ok := r.entries[chanID]
	if !ok {
		return fmt.Errorf("unsubscribe %d: %w %d", id, ErrNoSubscription, chanID)
	}

	for i, s := range e.subscribers {
		if s.id == id {
			e.subscribers = append(e.subscribers[:i:i], e.subscribers[i+1:]...)
			break
		}
	}

	if len(e.subscribers) == 0 {
		delete(r.entries, chanID)
	}

	log.WithFields(log.Fields{
		"channel":      chanID,
		"subscription": id,
	}).Debug("Removed subscription")

	return nil
}

// Dispatch reads the next frame from the Conn and hands it to the channel's
// subscribers, in the order they subscribed.
//
// A peer's orderly shutdown results in a call of the disconnect function and
// no error. Frames for channels without subscribers are dropped.
func (r *Router) Dispatch(conn *channel.Conn) error {
	frame, err := conn.ReadFrame()
	if errors.Is(err, channel.ErrConnectionClosed) {
		log.WithField("conn", conn).Debug("Peer closed connection during dispatch")

		if r.onDisconnect != nil {
			r.onDisconnect(conn)
		}
		return nil
	} else if err != nil {
		return err
	}

	r.mutex.Lock()
	e, ok := r.entries[frame.ID]
	var decode func([]byte) (any, error)
	var subscribers []subscriber
	if ok {
		decode = e.decode
		subscribers = append(subscribers, e.subscribers...)
	}
	r.mutex.Unlock()

	if !ok {
		log.WithFields(log.Fields{
			"conn":    conn,
			"channel": frame.ID,
		}).Trace("Dropping frame without subscribers")

		metrics.FramesDropped.WithLabelValues(metrics.Channel(uint8(frame.ID))).Inc()
		return nil
	}

	msg, err := decode(frame.Payload)
	if err != nil {
		return err
	}

	for _, s := range subscribers {
		s.callback(conn, msg)
	}
	return nil
}

// Channels returns the amount of channels with at least one subscriber.
func (r *Router) Channels() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return len(r.entries)
}

// Subscribers returns the subscription IDs for a channel in ascending order.
func (r *Router) Subscribers(id channel.ID) []ID {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return nil
	}

	ids := make([]ID, 0, len(e.subscribers))
	for _, s := range e.subscribers {
		ids = append(ids, s.id)
	}
	return ids
}
