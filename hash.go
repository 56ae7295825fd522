// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package chain

import (
	"encoding/binary"
	"io"
	"reflect"
	"unsafe"

	"github.com/dchest/siphash"
	"github.com/pkg/errors"
)

// hashState holds the SipHash keys for a Map. The keys are drawn once when
// the map is constructed and never change afterwards.
type hashState struct {
	k0 uint64
	k1 uint64
}

func newHashState(r io.Reader) (hashState, error) {
	var buf [16]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return hashState{}, errors.Wrap(err, "reading hash keys")
	}
	return hashState{
		k0: binary.LittleEndian.Uint64(buf[0:8]),
		k1: binary.LittleEndian.Uint64(buf[8:16]),
	}, nil
}

// sum returns the SipHash-2-4 digest of p under the state's keys.
func (s hashState) sum(p []byte) uint64 {
	return siphash.Hash(s.k0, s.k1, p)
}

// sumString is sum for the bytes of s, without copying them.
func (s hashState) sumString(str string) uint64 {
	return siphash.Hash(s.k0, s.k1, unsafe.Slice(unsafe.StringData(str), len(str)))
}

// Hasher accumulates the bytes a key contributes to its hash. Keys which are
// equal must write identical bytes. The zero value is ready to use.
type Hasher struct {
	buf []byte
	// small backs buf for projections of up to len(small) bytes.
	small [64]byte
}

func (h *Hasher) reset() {
	h.buf = h.small[:0]
}

// Write appends p to the hashed bytes. It never returns an error.
func (h *Hasher) Write(p []byte) (int, error) {
	h.buf = append(h.buf, p...)
	return len(p), nil
}

// WriteString appends the bytes of s. It writes exactly the same bytes as
// Write([]byte(s)).
func (h *Hasher) WriteString(s string) (int, error) {
	h.buf = append(h.buf, s...)
	return len(s), nil
}

// WriteByte appends c.
func (h *Hasher) WriteByte(c byte) error {
	h.buf = append(h.buf, c)
	return nil
}

// WriteUint64 appends the little-endian encoding of v.
func (h *Hasher) WriteUint64(v uint64) {
	h.buf = binary.LittleEndian.AppendUint64(h.buf, v)
}

// Hashable is implemented by key and query types which project themselves
// into a Hasher. The method must have a value receiver to be discovered for
// a key type.
type Hashable interface {
	Hash(h *Hasher)
}

// Equivalent is a query which can be looked up in a Map[K,V] without first
// being converted to a K. Hash must write the same bytes as the key it is
// Equal to.
type Equivalent[K comparable] interface {
	Hashable
	Equal(key K) bool
}

// Bytes is a byte slice view that looks up string keys without converting
// the query to a string. Maps keyed by a named string type use StringView.
type Bytes []byte

// Hash implements Hashable.
func (b Bytes) Hash(h *Hasher) {
	_, _ = h.Write(b)
}

// Equal implements Equivalent[string].
func (b Bytes) Equal(key string) bool {
	return string(b) == key
}

// StringView is Bytes for maps keyed by any type whose underlying type is
// string.
type StringView[K ~string] []byte

// Hash implements Hashable.
func (b StringView[K]) Hash(h *Hasher) {
	_, _ = h.Write(b)
}

// Equal implements Equivalent[K].
func (b StringView[K]) Equal(key K) bool {
	return string(b) == string(key)
}

type keyHashFn[K comparable] func(h *Hasher, key K)

// keyKind selects how a key is read for hashing. The built-in kinds are read
// straight from the key's memory; kindCustom keys are projected through a
// keyHashFn into a Hasher.
//
// Integers of every width are widened to 64 bits (sign-extended if signed)
// and hashed as 8 little-endian bytes, the bytes Hasher.WriteUint64 writes.
// Booleans hash as a single 0 or 1 byte and strings as their bytes.
type keyKind uint8

const (
	kindCustom keyKind = iota
	kindBool
	kindInt8
	kindInt16
	kindInt32
	kindInt64
	kindUint8
	kindUint16
	kindUint32
	kindUint64
	kindString
)

// load reads the integer key at p, widened to 64 bits.
func (k keyKind) load(p unsafe.Pointer) uint64 {
	switch k {
	case kindInt8:
		return uint64(*(*int8)(p))
	case kindInt16:
		return uint64(*(*int16)(p))
	case kindInt32:
		return uint64(*(*int32)(p))
	case kindInt64:
		return uint64(*(*int64)(p))
	case kindUint8:
		return uint64(*(*uint8)(p))
	case kindUint16:
		return uint64(*(*uint16)(p))
	case kindUint32:
		return uint64(*(*uint32)(p))
	case kindUint64:
		return *(*uint64)(p)
	}
	panic(errors.Errorf("chain: kind %d is not an integer kind", k))
}

func sizedKind(size uintptr, signed bool) keyKind {
	var k keyKind
	switch size {
	case 1:
		k = kindUint8
	case 2:
		k = kindUint16
	case 4:
		k = kindUint32
	default:
		k = kindUint64
	}
	if signed {
		k -= kindUint8 - kindInt8
	}
	return k
}

// defaultKeyHash returns the projection used for keys of type K when none was
// supplied with WithKeyHash. Types implementing Hashable use their Hash
// method. Otherwise the projection is chosen from the kind of K so that named
// types share the projection of their underlying type. Pointer-shaped keys
// (pointers and channels) hash by address; the Go collector does not move
// heap objects, so the address is a stable identity for the key's lifetime.
func defaultKeyHash[K comparable]() (keyKind, keyHashFn[K], error) {
	var zero K
	if _, ok := any(zero).(Hashable); ok {
		return kindCustom, func(h *Hasher, key K) {
			any(key).(Hashable).Hash(h)
		}, nil
	}

	t := reflect.TypeFor[K]()
	switch t.Kind() {
	case reflect.Bool:
		return kindBool, nil, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return sizedKind(t.Size(), true), nil, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Uintptr, reflect.Pointer, reflect.UnsafePointer, reflect.Chan:
		return sizedKind(t.Size(), false), nil, nil
	case reflect.String:
		return kindString, nil, nil
	case reflect.Interface:
		// The dynamic type is only known per key.
		return kindCustom, func(h *Hasher, key K) {
			hk, ok := any(key).(Hashable)
			if !ok {
				panic(errors.Errorf("chain: key %v (%T) does not implement Hashable", key, key))
			}
			hk.Hash(h)
		}, nil
	}
	return kindCustom, nil, errors.Errorf("chain: no hash projection for key type %s; implement Hashable or use WithKeyHash", t)
}
