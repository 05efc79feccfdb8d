package chd

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildResolvesEveryEntry(t *testing.T) {
	entries := make([]Entry, 0, 64)
	for i := uint64(0); i < 64; i++ {
		entries = append(entries, Entry{Key: 0x1000 + i*4, Target: fmt.Sprintf("bb%d", i)})
	}

	table, ok := Build(entries, 1.0, 8)
	require.True(t, ok)
	require.NotNil(t, table)

	for _, e := range entries {
		idx := resolve(table, e.Key)
		require.Equal(t, e, table.Slots[idx], "key %#x resolved to the wrong slot", e.Key)
	}
}

func TestBuildRejectsUnknownKey(t *testing.T) {
	entries := []Entry{{Key: 0x1000, Target: "bb0"}, {Key: 0x1004, Target: "bb1"}}
	table, ok := Build(entries, 1.0, 8)
	require.True(t, ok)

	idx := resolve(table, 0xdeadbeef)
	require.NotEqual(t, uint64(0xdeadbeef), table.Slots[idx].Key)
}

// resolve mirrors the lookup trampoline's displacement decomposition:
// d0 = idx/hashTableSize, d1 = idx%hashTableSize, slot = (h1+d0*h2+d1)%hashTableSize.
func resolve(t *Table, key uint64) uint64 {
	h0, h1, h2 := spookyHash(key, t.BucketNumber, t.HashTableSize, defaultSeeds)
	idx := uint64(t.HashFuncIdxs[h0])
	d0 := idx / t.HashTableSize
	d1 := idx % t.HashTableSize
	return (h1 + d0*h2 + d1) % t.HashTableSize
}
