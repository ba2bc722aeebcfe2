// SPDX-FileCopyrightText: 2026 The SunNet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package channel

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/sunnet-go/sunnet/pkg/metrics"
	"github.com/sunnet-go/sunnet/pkg/sock"
)

var (
	// ErrConnectionClosed signals the peer's orderly shutdown during a read.
	ErrConnectionClosed = errors.New("connection closed by peer")

	// ErrProtocolViolation signals a payload not matching its channel's size.
	ErrProtocolViolation = errors.New("protocol violation")
)

// Frame is one channel id together with its payload.
type Frame struct {
	ID      ID
	Payload []byte
}

// Conn wraps a sock.Connection to send and read framed messages.
type Conn struct {
	conn     sock.Connection
	registry *Registry

	// sendMutex keeps frames of concurrent senders apart.
	sendMutex sync.Mutex
}

// NewConn wraps a sock.Connection, using the Registry for channel lookups.
func NewConn(conn sock.Connection, registry *Registry) *Conn {
	return &Conn{
		conn:     conn,
		registry: registry,
	}
}

// Connection returns the wrapped sock.Connection.
func (c *Conn) Connection() sock.Connection {
	return c.conn
}

// Registry returns the Registry used by this Conn.
func (c *Conn) Registry() *Registry {
	return c.registry
}

// Send a message on the channel registered for its type. Pointers are
// dereferenced, so both T and *T may be passed.
//
// The channel id and the payload are written with a single Send call. Thus,
// a failing write cannot leave the peer with an id but without its payload
// as far as this layer is concerned.
func (c *Conn) Send(msg any) error {
	frame, err := Encode(c.registry, msg)
	if err != nil {
		return err
	}

	c.sendMutex.Lock()
	defer c.sendMutex.Unlock()

	if err := c.conn.Send(frame); err != nil {
		return err
	}

	metrics.FramesSent.WithLabelValues(metrics.Channel(frame[0])).Inc()
	return nil
}

// SendMessage is the typed variant of Send.
func SendMessage[T any](c *Conn, msg T) error {
	return c.Send(msg)
}

// ReadChannelID blocks until the next channel id was read.
func (c *Conn) ReadChannelID() (ID, error) {
	var buff [IDSize]byte

	if ok, err := c.conn.Receive(buff[:]); err != nil {
		return 0, err
	} else if !ok {
		return 0, ErrConnectionClosed
	}

	return ID(buff[0]), nil
}

// ReadPayload blocks until the payload for the channel id was read. The
// returned buffer is owned by the caller.
func (c *Conn) ReadPayload(id ID) ([]byte, error) {
	d, err := c.registry.DescriptorOf(id)
	if err != nil {
		return nil, err
	}

	payload := make([]byte, d.PayloadSize)
	if len(payload) == 0 {
		return payload, nil
	}

	if ok, err := c.conn.Receive(payload); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrConnectionClosed
	}

	return payload, nil
}

// ReadFrame reads the next channel id and its payload.
func (c *Conn) ReadFrame() (f Frame, err error) {
	if f.ID, err = c.ReadChannelID(); err != nil {
		return
	}
	if f.Payload, err = c.ReadPayload(f.ID); err != nil {
		return
	}

	metrics.FramesReceived.WithLabelValues(metrics.Channel(uint8(f.ID))).Inc()
	return
}

func (c *Conn) String() string {
	return fmt.Sprintf("channeled(%v)", c.conn)
}

// Encode a message into a frame: its channel id followed by its payload.
func Encode(registry *Registry, msg any) ([]byte, error) {
	v := reflect.ValueOf(msg)
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, fmt.Errorf("encode: nil %v", v.Type())
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return nil, fmt.Errorf("encode: %w: nil", ErrUnknownChannelType)
	}

	id, err := registry.IDOfType(v.Type())
	if err != nil {
		return nil, err
	}
	d, err := registry.DescriptorOf(id)
	if err != nil {
		return nil, err
	}

	buff := bytes.NewBuffer(make([]byte, 0, IDSize+int(d.PayloadSize)))
	buff.WriteByte(byte(id))
	if err := binary.Write(buff, binary.NativeEndian, v.Interface()); err != nil {
		return nil, fmt.Errorf("encode %v: %w", v.Type(), err)
	}

	if buff.Len() != IDSize+int(d.PayloadSize) {
		return nil, fmt.Errorf("encode %v: %w: %d bytes for %v",
			v.Type(), ErrProtocolViolation, buff.Len()-IDSize, d)
	}
	return buff.Bytes(), nil
}

// Decode a payload into a new T.
func Decode[T any](payload []byte) (*T, error) {
	msg := new(T)

	if size := binary.Size(msg); size != len(payload) {
		return nil, fmt.Errorf("decode %T: %w: %d bytes, expected %d",
			*msg, ErrProtocolViolation, len(payload), size)
	}
	if err := binary.Read(bytes.NewReader(payload), binary.NativeEndian, msg); err != nil {
		return nil, fmt.Errorf("decode %T: %w", *msg, err)
	}

	return msg, nil
}
