package elfwriter

import (
	"encoding/binary"

	"github.com/dm-sbt/rv2x86/internal/chd"
)

// BuildCHDIjumps serializes a built internal/chd.Table into .ijumps's byte
// layout: the bucket/table-size header words, the per-bucket displacement
// index array, then the slot array of (key, host block address) pairs --
// mirroring original_source's print_hash_table/print_hash_func_ids/
// print_hash_constants, which emit exactly these four arrays as adjacent
// assembler blocks. A slot's block-address half is not known until the final
// link (it names a block symbol, not a literal address), so it is returned
// as zeroed bytes plus a Reloc at that offset — the same way print_hash_table
// emits ".8byte bN", an assembler label reference rather than a literal.
func BuildCHDIjumps(t *chd.Table) (data []byte, relocs []Reloc) {
	var tmp [8]byte

	put64 := func(v uint64) {
		binary.LittleEndian.PutUint64(tmp[:], v)
		data = append(data, tmp[:]...)
	}

	put64(t.BucketNumber)
	put64(t.HashTableSize)
	for _, idx := range t.HashFuncIdxs {
		var w [2]byte
		binary.LittleEndian.PutUint16(w[:], idx)
		data = append(data, w[:]...)
	}
	for _, e := range t.Slots {
		put64(e.Key)
		if e.Target != "" {
			relocs = append(relocs, Reloc{Kind: RelocAbs64, Offset: len(data), Target: e.Target})
		}
		put64(0)
	}
	return data, relocs
}

// BuildDenseIjumps emits the fallback per-guest-address table (spec §4.5.5):
// one 8-byte host block address per PointerTable-marked 2-byte guest address
// slot between lo and hi, 0 where no block starts there. Used instead of CHD
// when internal/chd.Build exhausts its retry budget (DESIGN.md Open Question
// decision 2). As with BuildCHDIjumps, each occupied slot is a relocation
// rather than a literal address.
func BuildDenseIjumps(lo, hi uint64, blockNameAt func(guestAddr uint64) (string, bool)) (data []byte, relocs []Reloc) {
	n := (hi - lo) / 2
	data = make([]byte, n*8)
	for i := uint64(0); i < n; i++ {
		addr := lo + i*2
		if name, ok := blockNameAt(addr); ok {
			relocs = append(relocs, Reloc{Kind: RelocAbs64, Offset: int(i * 8), Target: name})
		}
	}
	return data, relocs
}
