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

// Node holds a key and value.
type Node[K comparable, V any] struct {
	key   K
	value V
}

// Bucket is the chain of nodes whose keys hash to the same index. Nodes are
// kept in insertion order, which carries no meaning.
type Bucket[K comparable, V any] struct {
	nodes []Node[K, V]
}

// find returns the node whose key is equal to key, or nil.
func (b *Bucket[K, V]) find(key K) *Node[K, V] {
	for i := range b.nodes {
		if b.nodes[i].key == key {
			return &b.nodes[i]
		}
	}
	return nil
}

// findEquivalent is find for a query of a different type.
func (b *Bucket[K, V]) findEquivalent(q Equivalent[K]) *Node[K, V] {
	for i := range b.nodes {
		if q.Equal(b.nodes[i].key) {
			return &b.nodes[i]
		}
	}
	return nil
}

// push appends a node for a key known not to be in the bucket.
func (b *Bucket[K, V]) push(key K, value V) {
	b.nodes = append(b.nodes, Node[K, V]{key: key, value: value})
}

// swap exchanges the node's key and value with the supplied ones, returning
// the displaced pair.
func (n *Node[K, V]) swap(key K, value V) (K, V) {
	n.key, key = key, n.key
	n.value, value = value, n.value
	return key, value
}
