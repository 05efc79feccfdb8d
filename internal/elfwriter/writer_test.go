package elfwriter

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleObject() *Object {
	return &Object{
		OrigBinary: []byte{0x01, 0x02, 0x03, 0x04},
		OrigVAddr:  0x10000,
		OrigSize:   0x4,
		StartThunk: []byte{0xE8, 0, 0, 0, 0}, // call rel32, patched below
		StartRelocs: []Reloc{
			{Kind: RelocPCRel32, Offset: 1, Target: "bb1"},
		},
		Blocks: []Block{
			{Name: "bb1", Code: []byte{0xC3}}, // ret
		},
		Statics:          []StaticSym{{Name: "s0", Offset: 0}, {Name: "s1", Offset: 8}},
		TbssStaticsBytes: 16,
		TbssParamOffset:  16,
		TbssParamBytes:   128,
		TbssStackOffset:  144,
		TbssStackBytes:   2 << 20,
		TbssInitSPOffset: 144 + (2 << 20),
		TbssSize:         144 + (2 << 20) + 8,
		Ijumps:           []byte{1, 2, 3, 4, 5, 6, 7, 8},
		PhdrOff:          0x40,
		PhdrSize:         0x38,
		PhdrNum:          0x7,
		Messages:         []string{"unimplemented syscall"},
	}
}

func TestWriteProducesValidElfHeader(t *testing.T) {
	out, err := Write(sampleObject())
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(out), ehdrSize)

	require.Equal(t, []byte{0x7f, 'E', 'L', 'F'}, out[0:4])
	require.Equal(t, byte(2), out[4]) // ELFCLASS64
	require.Equal(t, byte(1), out[5]) // ELFDATA2LSB
	require.Equal(t, uint16(etREL), binary.LittleEndian.Uint16(out[16:18]))
	require.Equal(t, uint16(emX8664), binary.LittleEndian.Uint16(out[18:20]))

	shoff := binary.LittleEndian.Uint64(out[40:48])
	shnum := binary.LittleEndian.Uint16(out[58:60])
	require.Equal(t, uint16(11), shnum)
	require.Less(t, int(shoff), len(out))
	require.Equal(t, len(out), int(shoff)+int(shnum)*shdrSize)
}

func TestWriteSectionNamesPresentInShstrtab(t *testing.T) {
	out, err := Write(sampleObject())
	require.NoError(t, err)

	shoff := binary.LittleEndian.Uint64(out[40:48])
	shstrndx := binary.LittleEndian.Uint16(out[62:64])
	row := out[int(shoff)+int(shstrndx)*shdrSize:]
	strOff := binary.LittleEndian.Uint64(row[24:32])
	strSize := binary.LittleEndian.Uint64(row[32:40])
	strs := out[strOff : strOff+strSize]

	require.Contains(t, string(strs), ".ttext")
	require.Contains(t, string(strs), ".tbss")
	require.Contains(t, string(strs), ".rela.ttext")
}
