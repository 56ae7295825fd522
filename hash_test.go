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
	"bytes"
	"encoding/binary"
	"io"
	"testing"
	"testing/iotest"

	"github.com/dchest/siphash"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// sequentialKey is the key 00 01 02 ... 0f used by the SipHash reference
// vectors.
func sequentialKey() []byte {
	key := make([]byte, 16)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

// countingReader counts the bytes read through it.
type countingReader struct {
	r io.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}

func TestHashStateKeys(t *testing.T) {
	m := New[string, int](WithEntropy[string, int](bytes.NewReader(sequentialKey())))
	require.EqualValues(t, uint64(0x0706050403020100), m.state.k0)
	require.EqualValues(t, uint64(0x0f0e0d0c0b0a0908), m.state.k1)

	// The first SipHash-2-4 reference vector: the empty message under the
	// sequential key.
	require.EqualValues(t, uint64(0x726fdb47dd0e0e31), m.state.sum(nil))
}

func TestHashMatchesSipHash(t *testing.T) {
	key := sequentialKey()
	k0 := binary.LittleEndian.Uint64(key[0:8])
	k1 := binary.LittleEndian.Uint64(key[8:16])

	s := New[string, int](WithEntropy[string, int](bytes.NewReader(key)))
	for _, k := range []string{"", "a", "Asdf", "hello, world"} {
		require.Equal(t, siphash.Hash(k0, k1, []byte(k)), s.hash(k), k)
		require.Equal(t, s.hash(k), s.hashQuery(Bytes(k)), k)
	}

	i := New[int64, int](WithEntropy[int64, int](bytes.NewReader(key)))
	for _, k := range []int64{0, 1, -1, 123, 1 << 40} {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(k))
		require.Equal(t, siphash.Hash(k0, k1, buf[:]), i.hash(k), k)
	}
}

func TestHashWidening(t *testing.T) {
	key := sequentialKey()
	k0 := binary.LittleEndian.Uint64(key[0:8])
	k1 := binary.LittleEndian.Uint64(key[8:16])

	i8 := New[int8, int](WithEntropy[int8, int](bytes.NewReader(key)))
	u16 := New[uint16, int](WithEntropy[uint16, int](bytes.NewReader(key)))
	b := New[bool, int](WithEntropy[bool, int](bytes.NewReader(key)))

	var neg [8]byte
	binary.LittleEndian.PutUint64(neg[:], ^uint64(0))
	require.Equal(t, siphash.Hash(k0, k1, neg[:]), i8.hash(-1))

	var h Hasher
	h.WriteUint64(0xbeef)
	require.Equal(t, siphash.Hash(k0, k1, h.buf), u16.hash(0xbeef))

	require.Equal(t, siphash.Hash(k0, k1, []byte{1}), b.hash(true))
	require.Equal(t, siphash.Hash(k0, k1, []byte{0}), b.hash(false))
}

func TestHashCustomLarge(t *testing.T) {
	key := sequentialKey()
	k0 := binary.LittleEndian.Uint64(key[0:8])
	k1 := binary.LittleEndian.Uint64(key[8:16])

	// Projections longer than the Hasher's inline buffer spill to the heap
	// and still hash every byte.
	long := bytes.Repeat([]byte("0123456789"), 20)
	m := New[fullName, int](WithEntropy[fullName, int](bytes.NewReader(key)))
	k := fullName{first: string(long), last: "x"}
	expected := append(append(append([]byte{}, long...), 0), 'x')
	require.Equal(t, siphash.Hash(k0, k1, expected), m.hash(k))

	s := New[string, int](WithEntropy[string, int](bytes.NewReader(key)))
	require.Equal(t, s.hash(string(long)), s.hashQuery(StringView[string](long)))
	require.Equal(t, s.hash(string(long)), s.hashQuery(Bytes(long)))
}

func TestHashDeterministic(t *testing.T) {
	m := New[string, int]()
	for _, k := range []string{"", "x", "Asdf"} {
		require.Equal(t, m.hash(k), m.hash(k))
	}

	// Growth never regenerates the hash keys.
	state := m.state
	for i := 0; i < 1000; i++ {
		m.Insert(string(rune('a'+i%26))+string(rune(i)), i)
	}
	require.Equal(t, state, m.state)
}

func TestHashStatePerMap(t *testing.T) {
	a := New[string, int]()
	b := New[string, int]()

	// Two independently seeded maps agree with overwhelming probability on
	// neither key nor digest.
	require.NotEqual(t, a.state, b.state)
	require.NotEqual(t, a.hash("Asdf"), b.hash("Asdf"))
}

func TestEntropyReadOnce(t *testing.T) {
	r := &countingReader{r: bytes.NewReader(make([]byte, 64))}
	m := New[int, int](WithEntropy[int, int](r))
	require.Equal(t, 16, r.n)

	for i := 0; i < 100; i++ {
		m.Insert(i, i)
	}
	require.Equal(t, 16, r.n)
	require.Nil(t, m.entropy)
}

func TestEntropyFailure(t *testing.T) {
	testCases := []struct {
		name     string
		r        io.Reader
		expected string
	}{
		{"error", iotest.ErrReader(errors.New("no entropy")),
			"chain: seeding hash state: reading hash keys: no entropy"},
		{"short", bytes.NewReader(make([]byte, 8)),
			"chain: seeding hash state: reading hash keys: unexpected EOF"},
		{"empty", bytes.NewReader(nil),
			"chain: seeding hash state: reading hash keys: EOF"},
	}
	for _, c := range testCases {
		t.Run(c.name, func(t *testing.T) {
			var m *Map[int, int]
			require.PanicsWithError(t, c.expected, func() {
				m = New[int, int](WithEntropy[int, int](c.r))
			})
			require.Nil(t, m)
		})
	}
}

func TestHasherProjection(t *testing.T) {
	var a, b Hasher
	_, _ = a.WriteString("abc")
	_ = a.WriteByte('d')
	_, _ = b.Write([]byte("abcd"))
	require.Equal(t, a.buf, b.buf)

	var c Hasher
	c.WriteUint64(0x0102030405060708)
	require.Equal(t, []byte{8, 7, 6, 5, 4, 3, 2, 1}, c.buf)
}

func TestBytesEquivalent(t *testing.T) {
	var _ Equivalent[string] = Bytes(nil)
	type label string
	var _ Equivalent[label] = StringView[label](nil)
	require.True(t, StringView[label]("abc").Equal("abc"))
	require.False(t, StringView[label]("abc").Equal("abd"))
	require.True(t, Bytes("abc").Equal("abc"))
	require.False(t, Bytes("abc").Equal("ab"))
	require.True(t, Bytes(nil).Equal(""))
}
