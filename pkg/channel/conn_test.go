// SPDX-FileCopyrightText: 2026 The SunNet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package channel

import (
	"bytes"
	"errors"
	"math/rand"
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sunnet-go/sunnet/pkg/metrics"
	"github.com/sunnet-go/sunnet/pkg/sock"
)

// bufferConn is a sock.Connection reading back everything sent to it.
type bufferConn struct {
	buff    bytes.Buffer
	sendErr error
}

func (bc *bufferConn) Send(b []byte) error {
	if bc.sendErr != nil {
		return bc.sendErr
	}
	bc.buff.Write(b)
	return nil
}

func (bc *bufferConn) Receive(b []byte) (bool, error) {
	if bc.buff.Len() < len(b) {
		bc.buff.Reset()
		return false, nil
	}
	_, _ = bc.buff.Read(b)
	return true, nil
}

func (bc *bufferConn) Connect(_, _ string) error        { return nil }
func (bc *bufferConn) Bind(_, _ string) error           { return nil }
func (bc *bufferConn) Listen(_ int) error               { return nil }
func (bc *bufferConn) Accept() (sock.Connection, error) { return nil, sock.ErrNotListening }
func (bc *bufferConn) Fd() (int, error)                 { return -1, sock.ErrNotConnected }
func (bc *bufferConn) LocalAddr() net.Addr              { return nil }
func (bc *bufferConn) RemoteAddr() net.Addr             { return nil }
func (bc *bufferConn) Close() error                     { return nil }

func TestConnFrameLayout(t *testing.T) {
	r := NewRegistry()
	MustRegister[reading](r)
	d := MustRegister[position](r)

	bc := &bufferConn{}
	c := NewConn(bc, r)

	if err := c.Send(position{A: 1337, B: 8888}); err != nil {
		t.Fatal(err)
	}

	if bc.buff.Len() != IDSize+int(d.PayloadSize) {
		t.Fatalf("Frame has a length of %d bytes", bc.buff.Len())
	}
	if id := bc.buff.Bytes()[0]; ID(id) != d.ID {
		t.Fatalf("Frame starts with channel id %d, expected %d", id, d.ID)
	}
}

func TestConnRoundTrip(t *testing.T) {
	r := NewRegistry()
	d := MustRegister[position](r)

	bc := &bufferConn{}
	c := NewConn(bc, r)

	before := testutil.ToFloat64(metrics.FramesReceived.WithLabelValues(metrics.Channel(uint8(d.ID))))

	rnd := rand.New(rand.NewSource(23))
	for i := 0; i < 1000; i++ {
		msg := position{A: rnd.Int31() - rnd.Int31(), B: rnd.Int31()}

		// Both values and pointers are accepted.
		var err error
		if i%2 == 0 {
			err = c.Send(msg)
		} else {
			err = c.Send(&msg)
		}
		if err != nil {
			t.Fatal(err)
		}

		sent := append([]byte(nil), bc.buff.Bytes()[IDSize:]...)

		f, err := c.ReadFrame()
		if err != nil {
			t.Fatal(err)
		}
		if f.ID != d.ID {
			t.Fatalf("Read channel id %d, expected %d", f.ID, d.ID)
		}
		if !bytes.Equal(f.Payload, sent) {
			t.Fatalf("Payload %x differs from sent %x", f.Payload, sent)
		}

		decoded, err := Decode[position](f.Payload)
		if err != nil {
			t.Fatal(err)
		}
		if *decoded != msg {
			t.Fatalf("Decoded %v, expected %v", *decoded, msg)
		}
	}

	after := testutil.ToFloat64(metrics.FramesReceived.WithLabelValues(metrics.Channel(uint8(d.ID))))
	if after-before != 1000 {
		t.Fatalf("Counted %v received frames", after-before)
	}
}

func TestConnReadClosed(t *testing.T) {
	r := NewRegistry()
	d := MustRegister[position](r)

	bc := &bufferConn{}
	c := NewConn(bc, r)

	if _, err := c.ReadChannelID(); !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("Expected ErrConnectionClosed, got %v", err)
	}

	// Only a part of the payload arrives before the shutdown.
	bc.buff.Write([]byte{byte(d.ID), 0x01, 0x02, 0x03})
	if _, err := c.ReadFrame(); !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("Expected ErrConnectionClosed, got %v", err)
	}
}

func TestConnUnknownChannel(t *testing.T) {
	r := NewRegistry()
	MustRegister[position](r)

	bc := &bufferConn{}
	c := NewConn(bc, r)

	if err := c.Send(reading{}); !errors.Is(err, ErrUnknownChannelType) {
		t.Fatalf("Expected ErrUnknownChannelType, got %v", err)
	}
	if err := c.Send(nil); !errors.Is(err, ErrUnknownChannelType) {
		t.Fatalf("Expected ErrUnknownChannelType, got %v", err)
	}
	if bc.buff.Len() != 0 {
		t.Fatalf("Failed sends wrote %d bytes", bc.buff.Len())
	}

	bc.buff.Write([]byte{0x42})
	if _, err := c.ReadFrame(); !errors.Is(err, ErrUnknownChannelID) {
		t.Fatalf("Expected ErrUnknownChannelID, got %v", err)
	}
}

func TestConnSendError(t *testing.T) {
	r := NewRegistry()
	MustRegister[position](r)

	sendErr := errors.New("broken pipe")
	c := NewConn(&bufferConn{sendErr: sendErr}, r)

	if err := c.Send(position{}); !errors.Is(err, sendErr) {
		t.Fatalf("Expected send error, got %v", err)
	}
}

func TestDecodeSizeMismatch(t *testing.T) {
	if _, err := Decode[position](make([]byte, 7)); !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("Expected ErrProtocolViolation, got %v", err)
	}
	if _, err := Decode[position](make([]byte, 9)); !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("Expected ErrProtocolViolation, got %v", err)
	}
}

func TestSendMessage(t *testing.T) {
	r := NewRegistry()
	MustRegister[position](r)

	c := NewConn(&bufferConn{}, r)

	if err := SendMessage(c, position{A: 23, B: 42}); err != nil {
		t.Fatal(err)
	}

	frame, err := c.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}

	msg, err := Decode[position](frame.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if *msg != (position{A: 23, B: 42}) {
		t.Fatalf("Received %v", *msg)
	}
}
