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

import "io"

// option provide an interface to do work on Map while it is being created.
type option[K comparable, V any] interface {
	apply(m *Map[K, V])
}

type keyHashOption[K comparable, V any] struct {
	hash func(h *Hasher, key K)
}

func (op keyHashOption[K, V]) apply(m *Map[K, V]) {
	m.keyHash = op.hash
}

// WithKeyHash is an option to specify how keys of type K are projected into
// the keyed hash. It is required for key types that neither implement
// Hashable nor have a built-in projection (e.g. structs and arrays). Equal
// keys must write identical bytes.
func WithKeyHash[K comparable, V any](hash func(h *Hasher, key K)) option[K, V] {
	return keyHashOption[K, V]{hash}
}

type entropyOption[K comparable, V any] struct {
	r io.Reader
}

func (op entropyOption[K, V]) apply(m *Map[K, V]) {
	m.entropy = op.r
}

// WithEntropy is an option to specify the source the hash keys are read from.
// The default is crypto/rand.Reader. Exactly 16 bytes are read, once, while
// the map is constructed. A reader that fails causes construction to panic.
func WithEntropy[K comparable, V any](r io.Reader) option[K, V] {
	return entropyOption[K, V]{r}
}

// Allocator specifies an interface for allocating and releasing the bucket
// arrays used by a Map. The default allocator utilizes Go's builtin make()
// and allows the GC to reclaim memory.
//
// If the allocator is manually managing memory then Map.Close must be called
// in order to ensure FreeBuckets is called for the final bucket array.
type Allocator[K comparable, V any] interface {
	// AllocBuckets should return a slice equivalent to make([]Bucket[K,V], n).
	AllocBuckets(n int) []Bucket[K, V]

	// FreeBuckets can optionally release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by
	// AllocBuckets.
	FreeBuckets(v []Bucket[K, V])
}

type defaultAllocator[K comparable, V any] struct{}

func (defaultAllocator[K, V]) AllocBuckets(n int) []Bucket[K, V] {
	return make([]Bucket[K, V], n)
}

func (defaultAllocator[K, V]) FreeBuckets(v []Bucket[K, V]) {
}

type allocatorOption[K comparable, V any] struct {
	allocator Allocator[K, V]
}

func (op allocatorOption[K, V]) apply(m *Map[K, V]) {
	m.allocator = op.allocator
}

// WithAllocator is an option for specify the Allocator to use for a Map[K,V].
func WithAllocator[K comparable, V any](allocator Allocator[K, V]) option[K, V] {
	return allocatorOption[K, V]{allocator}
}
