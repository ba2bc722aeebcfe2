// SPDX-FileCopyrightText: 2026 The SunNet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package channel maps message types to small channel identifiers and reads
// and writes framed messages on a sock.Connection.
//
// A channel is a typed message category. Each Go type registered at a
// Registry gets the next free ID and a fixed payload size. Both peers must
// register the same types in the same order; the mapping itself is never
// transmitted.
//
// A frame on the wire consists of the one byte channel ID followed by the
// message's fixed-size binary image in native byte order.
package channel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sync"
)

// ID identifies a channel on the wire.
type ID uint8

// IDSize is the length of an ID on the wire.
const IDSize = 1

var (
	// ErrUnknownChannelType is returned for lookups of unregistered types.
	ErrUnknownChannelType = errors.New("unknown channel type")

	// ErrUnknownChannelID is returned for lookups of unassigned ids.
	ErrUnknownChannelID = errors.New("unknown channel id")

	// ErrNotFixedSize is returned when registering types without a fixed size.
	ErrNotFixedSize = errors.New("type has no fixed binary size")

	// ErrUnexportedField is returned when registering types which cannot be
	// decoded because of unexported fields.
	ErrUnexportedField = errors.New("type has unexported fields")

	// ErrRegistrySealed is returned when registering after Seal.
	ErrRegistrySealed = errors.New("registry is sealed")

	// ErrRegistryFull is returned after all ids were assigned.
	ErrRegistryFull = errors.New("all channel ids are assigned")
)

// Descriptor of a registered channel.
type Descriptor struct {
	ID          ID
	PayloadSize uint32
}

func (d Descriptor) String() string {
	return fmt.Sprintf("channel(%d, %d bytes)", d.ID, d.PayloadSize)
}

// Registry maps types to channels and channel ids to Descriptors.
//
// A Registry should be populated once at startup, before any Connection
// using it is opened. Endpoints Seal their Registry when opening, turning it
// read-only. There is no removal operation.
type Registry struct {
	mutex    sync.RWMutex
	sealed   bool
	next     int
	types    map[reflect.Type]ID
	channels map[ID]Descriptor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		types:    make(map[reflect.Type]ID),
		channels: make(map[ID]Descriptor),
	}
}

// Register T as a new channel. T must have a fixed binary size, as defined by
// encoding/binary, and only exported fields.
//
// Registering the same type twice assigns a second id, which the type lookup
// resolves to afterwards. This is not validated.
func Register[T any](r *Registry) (Descriptor, error) {
	return r.RegisterType(reflect.TypeOf((*T)(nil)).Elem())
}

// MustRegister is like Register, but panics on errors.
func MustRegister[T any](r *Registry) Descriptor {
	d, err := Register[T](r)
	if err != nil {
		panic(err)
	}
	return d
}

// RegisterType is the non-generic variant of Register.
func (r *Registry) RegisterType(t reflect.Type) (Descriptor, error) {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.String,
		reflect.Map, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return Descriptor{}, fmt.Errorf("%w: %v", ErrNotFixedSize, t)
	}

	if !decodable(t) {
		return Descriptor{}, fmt.Errorf("%w: %v", ErrUnexportedField, t)
	}

	size := binary.Size(reflect.Zero(t).Interface())
	if size < 0 || int64(size) > math.MaxUint32 {
		return Descriptor{}, fmt.Errorf("%w: %v", ErrNotFixedSize, t)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.sealed {
		return Descriptor{}, fmt.Errorf("register %v: %w", t, ErrRegistrySealed)
	}
	if r.next > math.MaxUint8 {
		return Descriptor{}, fmt.Errorf("register %v: %w", t, ErrRegistryFull)
	}

	d := Descriptor{ID: ID(r.next), PayloadSize: uint32(size)}
	r.next++

	r.types[t] = d.ID
	r.channels[d.ID] = d
	return d, nil
}

// decodable checks recursively for unexported, non-blank struct fields.
func decodable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Array:
		return decodable(t.Elem())

	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.Name != "_" && !f.IsExported() {
				return false
			}
			if !decodable(f.Type) {
				return false
			}
		}
		return true

	default:
		return true
	}
}

// IDOf returns the channel id registered for T.
func IDOf[T any](r *Registry) (ID, error) {
	return r.IDOfType(reflect.TypeOf((*T)(nil)).Elem())
}

// IDOfType returns the channel id registered for the type.
func (r *Registry) IDOfType(t reflect.Type) (ID, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	id, ok := r.types[t]
	if !ok {
		return 0, fmt.Errorf("%w: %v", ErrUnknownChannelType, t)
	}
	return id, nil
}

// DescriptorOf returns the Descriptor for an assigned channel id.
func (r *Registry) DescriptorOf(id ID) (Descriptor, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	d, ok := r.channels[id]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %d", ErrUnknownChannelID, id)
	}
	return d, nil
}

// Seal this Registry, ending its registration phase.
func (r *Registry) Seal() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.sealed = true
}

// Sealed checks if this Registry was sealed.
func (r *Registry) Sealed() bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.sealed
}

// Len returns the amount of registered channels.
func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return len(r.channels)
}
