package codegen

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRexOfSetsEachBitIndependently(t *testing.T) {
	require.Equal(t, byte(0x40), rexOf(false, false, false, false))
	require.Equal(t, byte(0x48), rexOf(true, false, false, false))
	require.Equal(t, byte(0x44), rexOf(false, true, false, false))
	require.Equal(t, byte(0x42), rexOf(false, false, true, false))
	require.Equal(t, byte(0x41), rexOf(false, false, false, true))
	require.Equal(t, byte(0x4F), rexOf(true, true, true, true))
}

func TestExtBitDistinguishesR8PlusFromLegacyRegisters(t *testing.T) {
	require.False(t, extBit(rAX))
	require.False(t, extBit(rDI))
	require.True(t, extBit(r8))
	require.True(t, extBit(r15))
}

func TestModRMPacksFieldsIntoExpectedBitPositions(t *testing.T) {
	require.Equal(t, byte(0xC0), modRM(3, 0, 0))
	require.Equal(t, byte(0xFF), modRM(3, 7, 7))
	require.Equal(t, byte(0x00), modRM(0, 0, 0))
}

func TestRegMemIndirectOpHandlesRSPAndRBPBaseQuirks(t *testing.T) {
	b := &Buf{}
	b.regMemIndirect(0x8B, true, rAX, rSP)
	require.Equal(t, byte(0x24), b.Bytes[len(b.Bytes)-1]) // SIB byte appended for rsp/r12 base

	b2 := &Buf{}
	b2.regMemIndirect(0x8B, true, rAX, rBP)
	// rbp/r13 base under mod=00 means RIP-relative, so this is re-encoded as
	// mod=01 with an explicit disp8 of 0 instead.
	require.Equal(t, byte(0), b2.Bytes[len(b2.Bytes)-1])

	b3 := &Buf{}
	b3.regMemIndirect(0x8B, true, rAX, rCX)
	require.Len(t, b3.Bytes, 3) // rex + opcode + plain modrm, no SIB/disp needed
}

func TestMovImm64EmitsFullEightByteImmediate(t *testing.T) {
	b := &Buf{}
	b.movImm64(rAX, 0x0102030405060708)
	require.Len(t, b.Bytes, 10) // rex + opcode + 8-byte imm
	require.Equal(t, byte(0xB8), b.Bytes[1])
}

func TestXchgRRAndTestRREncodeAsExpectedOpcodes(t *testing.T) {
	b := &Buf{}
	b.xchgRR(rAX, rBX)
	require.Equal(t, byte(0x87), b.Bytes[1])

	b2 := &Buf{}
	b2.testRR(rAX, rAX)
	require.Equal(t, byte(0x85), b2.Bytes[1])
}
