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

// package chain is a Go implementation of a hash table using separate
// chaining and a per-map keyed hash function. See also:
// https://en.wikipedia.org/wiki/Hash_table#Separate_chaining.
//
// # Chaining
//
// A Map holds an array of buckets. Each bucket is a chain of nodes whose keys
// map to the bucket's index, hash(key) % len(buckets). Lookups hash the key,
// select the bucket and scan its chain linearly comparing keys. Insertion of
// a key that is already present swaps the stored key and value with the new
// ones in place and hands back the old pair. There is no deletion.
//
// The average chain length is bounded by maxAvgChainLen. Before an insertion
// that would start with len(buckets)*maxAvgChainLen items already stored the
// bucket array is doubled and every node is replayed through Insert so that
// it lands in the bucket selected by the new modulus. Doubling amortizes the
// cost of the replay over the insertions that filled the table.
//
// # Hashing
//
// Keys are hashed with SipHash-2-4 keyed by two 64-bit values read from
// crypto/rand when the map is constructed. An adversary who does not know
// the keys cannot construct a set of keys which all land in one chain, which
// is what turns a chained table into a linked list under hash flooding. The
// keys differ between maps, so the placement of keys (and the order of All)
// differs between maps too. If no secure randomness is available
// construction panics rather than falling back to a predictable hash.
//
// A key contributes bytes to the hash through a Hasher. Booleans, integers,
// pointers, channels and strings (including named types with those
// underlying kinds) have built-in projections which are read directly from
// the key without a Hasher. Other key types implement Hashable or supply a
// projection with WithKeyHash.
//
// Lookups need not use the key type itself: any Equivalent[K] which writes
// the same bytes as the key it is equal to can be used with Lookup. Bytes
// allows a Map[string,V] to be queried with a []byte, and StringView does the
// same for maps keyed by named string types.
package chain

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"unsafe"

	"github.com/pkg/errors"
)

const (
	debug = false

	defaultCapacity = 3
	maxAvgChainLen  = 3
)

// Map is an unordered map from keys to values with Insert, Get, Lookup and
// All operations. Collisions are resolved with separate chaining and keys
// are hashed with SipHash-2-4 under keys private to each Map.
//
// A Map is NOT goroutine-safe.
type Map[K comparable, V any] struct {
	// How keys are read for hashing. keyHash is only used for kindCustom.
	keyKind keyKind
	keyHash keyHashFn[K]
	// The SipHash keys. Set once by New.
	state hashState
	// The source the SipHash keys are read from. Only used during New.
	entropy io.Reader
	// The allocator to use for the bucket arrays.
	allocator Allocator[K, V]
	// The bucket array. Its length is never zero for an open map and only
	// ever doubles.
	buckets []Bucket[K, V]
	// The number of nodes across all buckets.
	used int
	// growing is set while grow is replaying nodes.
	growing bool
}

// New constructs a new Map with the default number of buckets (3).
func New[K comparable, V any](options ...option[K, V]) *Map[K, V] {
	return NewWithCapacity[K, V](defaultCapacity, options...)
}

// NewWithCapacity constructs a new Map with n buckets. It panics if n < 1,
// if K has no hash projection, or if the hash keys cannot be read.
func NewWithCapacity[K comparable, V any](n int, options ...option[K, V]) *Map[K, V] {
	if n < 1 {
		panic(errors.Errorf("chain: invalid bucket count %d", n))
	}

	m := &Map[K, V]{
		entropy:   rand.Reader,
		allocator: defaultAllocator[K, V]{},
	}

	for _, op := range options {
		op.apply(m)
	}

	if m.keyHash == nil {
		kind, fn, err := defaultKeyHash[K]()
		if err != nil {
			panic(err)
		}
		m.keyKind, m.keyHash = kind, fn
	}

	state, err := newHashState(m.entropy)
	if err != nil {
		panic(errors.Wrap(err, "chain: seeding hash state"))
	}
	m.state = state
	m.entropy = nil

	m.buckets = m.allocator.AllocBuckets(n)
	m.checkInvariants()
	return m
}

// Close closes the map, releasing the bucket array back to its configured
// allocator. It is unnecessary to close a map using the default allocator. It
// is invalid to use a Map after it has been closed, though Close itself is
// idempotent.
func (m *Map[K, V]) Close() {
	if m.buckets != nil {
		m.allocator.FreeBuckets(m.buckets)
		m.buckets = nil
		m.used = 0
	}
	m.allocator = nil
}

// Insert inserts an entry into the map. If an entry with an equal key
// already exists its key and value are replaced with the supplied ones and
// the previous pair is returned with replaced=true. Otherwise the zero key
// and value are returned with replaced=false.
func (m *Map[K, V]) Insert(key K, value V) (oldKey K, oldValue V, replaced bool) {
	if m.used >= maxAvgChainLen*len(m.buckets) {
		m.grow()
	}

	h := m.hash(key)
	b := m.bucket(h)
	if debug {
		fmt.Printf("insert(%v): hash=%016x bucket=%d/%d chain=%d\n",
			key, h, h%uint64(len(m.buckets)), len(m.buckets), len(b.nodes))
	}

	if n := b.find(key); n != nil {
		oldKey, oldValue = n.swap(key, value)
		if debug {
			fmt.Printf("insert(replacing): key=%v\n", key)
		}
		m.checkInvariants()
		return oldKey, oldValue, true
	}

	b.push(key, value)
	m.used++
	m.checkInvariants()
	return oldKey, oldValue, false
}

// Get retrieves the value from the map for the specified key, returning
// ok=false if the key is not present.
func (m *Map[K, V]) Get(key K) (value V, ok bool) {
	if n := m.bucket(m.hash(key)).find(key); n != nil {
		return n.value, true
	}
	return value, false
}

// GetPtr returns a pointer to the value stored for the specified key, or nil
// if the key is not present. The pointer is valid until the next call to
// Insert.
func (m *Map[K, V]) GetPtr(key K) *V {
	if n := m.bucket(m.hash(key)).find(key); n != nil {
		return &n.value
	}
	return nil
}

// Lookup is Get for a query that is equivalent to, but not of, the key type.
func (m *Map[K, V]) Lookup(q Equivalent[K]) (value V, ok bool) {
	if n := m.bucket(m.hashQuery(q)).findEquivalent(q); n != nil {
		return n.value, true
	}
	return value, false
}

// LookupPtr is GetPtr for a query that is equivalent to, but not of, the key
// type.
func (m *Map[K, V]) LookupPtr(q Equivalent[K]) *V {
	if n := m.bucket(m.hashQuery(q)).findEquivalent(q); n != nil {
		return &n.value
	}
	return nil
}

// All calls yield sequentially for each key and value present in the map. If
// yield returns false, iteration stops. The order is the bucket order, which
// differs between maps holding the same keys. The map can be mutated during
// iteration, though there is no guarantee that the mutations will be visible
// to the iteration.
func (m *Map[K, V]) All(yield func(key K, value V) bool) {
	// Snapshot the bucket array so that iteration remains valid if the map
	// grows during iteration.
	buckets := m.buckets
	for i := range buckets {
		nodes := buckets[i].nodes
		for j := range nodes {
			if !yield(nodes[j].key, nodes[j].value) {
				return
			}
		}
	}
}

// Len returns the number of entries in the map.
func (m *Map[K, V]) Len() int {
	return m.used
}

// bucketCount returns the length of the bucket array.
func (m *Map[K, V]) bucketCount() int {
	return len(m.buckets)
}

func (m *Map[K, V]) hash(key K) uint64 {
	p := unsafe.Pointer(&key)
	switch m.keyKind {
	case kindCustom:
		return m.hashCustom(key)
	case kindString:
		return m.state.sumString(*(*string)(p))
	case kindBool:
		var b [1]byte
		if *(*bool)(p) {
			b[0] = 1
		}
		return m.state.sum(b[:])
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], m.keyKind.load(p))
	return m.state.sum(b[:])
}

// hashCustom projects key through keyHash. The Hasher escapes through the
// function value, so it is only declared on this path.
func (m *Map[K, V]) hashCustom(key K) uint64 {
	var h Hasher
	h.reset()
	m.keyHash(&h, key)
	return m.state.sum(h.buf)
}

func (m *Map[K, V]) hashQuery(q Equivalent[K]) uint64 {
	if b, ok := any(q).(Bytes); ok {
		return m.state.sum(b)
	}
	var h Hasher
	h.reset()
	q.Hash(&h)
	return m.state.sum(h.buf)
}

// bucket returns the bucket corresponding to hash value h.
func (m *Map[K, V]) bucket(h uint64) *Bucket[K, V] {
	return &m.buckets[h%uint64(len(m.buckets))]
}

// grow doubles the bucket array and reinserts every node through Insert so
// that each lands in the bucket selected by the new length. After doubling
// the fill factor is at most maxAvgChainLen/2, so the replay never grows
// again; growing guards that.
func (m *Map[K, V]) grow() {
	if m.growing {
		panic(errors.Errorf("chain: nested growth with %d items in %d buckets",
			m.used, len(m.buckets)))
	}
	m.growing = true
	defer func() { m.growing = false }()

	old := m.buckets
	newSize := 2 * len(old)
	if debug {
		fmt.Printf("grow: buckets=%d->%d used=%d\n", len(old), newSize, m.used)
	}

	m.buckets = m.allocator.AllocBuckets(newSize)
	m.used = 0

	for i := range old {
		for _, n := range old[i].nodes {
			m.Insert(n.key, n.value)
		}
	}
	m.allocator.FreeBuckets(old)
}

func (m *Map[K, V]) checkInvariants() {
	if invariants {
		if len(m.buckets) == 0 {
			panic("invariant failed: empty bucket array")
		}

		// Every node resides in the bucket its hash selects, no key appears
		// twice and the node count matches used.
		var used int
		seen := make(map[K]int, m.used)
		for i := range m.buckets {
			for _, n := range m.buckets[i].nodes {
				h := m.hash(n.key)
				if idx := int(h % uint64(len(m.buckets))); idx != i {
					panic(fmt.Sprintf("invariant failed: key %v in bucket %d, expected %d\n%s",
						n.key, i, idx, m.debugString()))
				}
				if j, ok := seen[n.key]; ok {
					panic(fmt.Sprintf("invariant failed: key %v in buckets %d and %d\n%s",
						n.key, j, i, m.debugString()))
				}
				seen[n.key] = i
				used++
			}
		}

		if used != m.used {
			panic(fmt.Sprintf("invariant failed: found %d nodes, but used count is %d\n%s",
				used, m.used, m.debugString()))
		}
	}
}

func (m *Map[K, V]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "buckets=%d  used=%d\n", len(m.buckets), m.used)
	for i := range m.buckets {
		nodes := m.buckets[i].nodes
		if len(nodes) == 0 {
			continue
		}
		fmt.Fprintf(&buf, "  %4d:", i)
		for _, n := range nodes {
			fmt.Fprintf(&buf, " %v=%v", n.key, n.value)
		}
		buf.WriteString("\n")
	}
	return buf.String()
}
