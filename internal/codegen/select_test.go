package codegen

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dm-sbt/rv2x86/internal/ir"
)

// regVar builds an integer SSAVar already resolved to a GPR, bypassing the
// Action trace: select.go only ever reads v.Loc/op.Inputs[i].Loc, so a
// directly-assigned Location is equivalent to one regalloc would have produced.
func regVar(typ ir.Type, allocReg int8) *ir.SSAVar {
	v := &ir.SSAVar{Type: typ}
	v.Loc = ir.Location{Kind: ir.LocInRegister, Reg: allocReg}
	return v
}

func opWith(opcode ir.Opcode, out *ir.SSAVar, ins ...*ir.SSAVar) *ir.Operation {
	op := &ir.Operation{Opcode: opcode, NumIn: len(ins)}
	for i, in := range ins {
		op.Inputs[i] = in
	}
	op.NumOut = 1
	op.Outputs[0] = out
	out.Op = op
	out.Kind = ir.InfoOperation
	return op
}

func TestEmitAluRRReusesDestWhenAllocatorAlreadyDid(t *testing.T) {
	c := &compiler{}
	dst := regVar(ir.TypeI64, 0) // rAX
	src0 := regVar(ir.TypeI64, 0)
	src1 := regVar(ir.TypeI64, 2) // rCX
	op := opWith(ir.OpAdd, dst, src0, src1)

	c.emitAluRR(dst, op, 0x01)

	// dst == src0 (same register), so no preceding mov should be emitted: just
	// the ADD itself (REX + opcode + modrm = 3 bytes).
	require.Equal(t, 3, len(c.buf.Bytes))
	require.Equal(t, byte(0x01), c.buf.Bytes[1])
}

func TestEmitAluRREmitsMovWhenDestDiffersFromSrc0(t *testing.T) {
	c := &compiler{}
	dst := regVar(ir.TypeI64, 3) // rDX (allocRegToReg[3] = rDX)
	src0 := regVar(ir.TypeI64, 0)
	src1 := regVar(ir.TypeI64, 2)
	op := opWith(ir.OpSub, dst, src0, src1)

	c.emitAluRR(dst, op, 0x29)

	require.Equal(t, 6, len(c.buf.Bytes)) // mov (3 bytes) + sub (3 bytes)
	require.Equal(t, byte(0x89), c.buf.Bytes[1])
	require.Equal(t, byte(0x29), c.buf.Bytes[4])
}

func TestEmitShiftRoutesCountThroughRCXWithXchgWhenNeitherOperandIsRCX(t *testing.T) {
	c := &compiler{}
	dst := regVar(ir.TypeI64, 0)  // rAX
	src0 := regVar(ir.TypeI64, 0) // rAX
	cnt := regVar(ir.TypeI64, 1)  // rBX
	op := opWith(ir.OpShl, dst, src0, cnt)

	c.emitShift(dst, op, 4)

	// xchg cnt,rcx ; shift dst,cl ; xchg cnt,rcx back: two 3-byte xchg plus one
	// 3-byte D3 shift = 9 bytes (dst == src0, so no leading mov).
	require.Equal(t, 9, len(c.buf.Bytes))
	require.Equal(t, byte(0x87), c.buf.Bytes[1]) // first xchg
	require.Equal(t, byte(0xD3), c.buf.Bytes[4])
	require.Equal(t, byte(0x87), c.buf.Bytes[7]) // restoring xchg
}

func TestEmitShiftSkipsXchgWhenCountAlreadyInRCX(t *testing.T) {
	c := &compiler{}
	dst := regVar(ir.TypeI64, 0)
	src0 := regVar(ir.TypeI64, 0)
	cnt := regVar(ir.TypeI64, 2) // rCX
	op := opWith(ir.OpShr, dst, src0, cnt)

	c.emitShift(dst, op, 5)

	require.Equal(t, 3, len(c.buf.Bytes))
	require.Equal(t, byte(0xD3), c.buf.Bytes[1])
}

func TestEmitSelectSeedsFalseCaseThenCmovsTrueCase(t *testing.T) {
	c := &compiler{}
	dst := regVar(ir.TypeI64, 4) // rDI
	a := regVar(ir.TypeI64, 0)
	b := regVar(ir.TypeI64, 1)
	tVal := regVar(ir.TypeI64, 2)
	fVal := regVar(ir.TypeI64, 3) // rDX, differs from dst
	op := opWith(ir.OpSlt, dst, a, b, tVal, fVal)

	c.emitSelect(dst, op, ccL)

	// cmp a,b (3) + mov dst,f (3, since dst != f) + cmovl dst,t (4: REX+0F+cc+modrm)
	require.Equal(t, 10, len(c.buf.Bytes))
	require.Equal(t, byte(0x39), c.buf.Bytes[1])
	require.Equal(t, byte(0x40+ccL), c.buf.Bytes[8])
}

func TestEmitMinMaxComparesThenCmovs(t *testing.T) {
	c := &compiler{}
	dst := regVar(ir.TypeI64, 1) // rBX, differs from b
	a := regVar(ir.TypeI64, 0)
	b := regVar(ir.TypeI64, 2)
	op := opWith(ir.OpUmax, dst, a, b)

	c.emitMinMax(dst, op, ccA)

	// mov dst,b (3) + cmp a,b (3) + cmova dst,a (4)
	require.Equal(t, 10, len(c.buf.Bytes))
}

func TestEmitMorphZeroExtend8To64UsesMovzx(t *testing.T) {
	c := &compiler{}
	dst := regVar(ir.TypeI64, 0)
	src := regVar(ir.TypeI8, 1)
	op := opWith(ir.OpZeroExtend, dst, src)

	c.emitMorph(dst, op)

	require.Equal(t, []byte{0x0F, 0xB6}, c.buf.Bytes[1:3])
}

func TestEmitMorphSignExtend32To64UsesMovsxd(t *testing.T) {
	c := &compiler{}
	dst := regVar(ir.TypeI64, 0)
	src := regVar(ir.TypeI32, 1)
	op := opWith(ir.OpSignExtend, dst, src)

	c.emitMorph(dst, op)

	require.Equal(t, byte(0x63), c.buf.Bytes[1])
}

func TestEmitMorphCastSameRegisterEmitsNothing(t *testing.T) {
	c := &compiler{}
	dst := regVar(ir.TypeI32, 0)
	src := regVar(ir.TypeI64, 0)
	op := opWith(ir.OpCast, dst, src)

	c.emitMorph(dst, op)

	require.Empty(t, c.buf.Bytes)
}

func TestEmitLoadOpSelectsWidthSpecificEncoding(t *testing.T) {
	cases := []struct {
		bits int
		typ  ir.Type
	}{
		{8, ir.TypeI8}, {16, ir.TypeI16}, {32, ir.TypeI32}, {64, ir.TypeI64},
	}
	for _, tc := range cases {
		c := &compiler{}
		dst := regVar(tc.typ, 0)
		addr := regVar(ir.TypeI64, 1)
		op := opWith(ir.OpLoad, dst, addr)

		c.emitLoadOp(dst, op)

		require.NotEmpty(t, c.buf.Bytes, "bits=%d", tc.bits)
	}
}

func TestEmitStoreOp16BitEmitsOperandSizeOverridePrefix(t *testing.T) {
	c := &compiler{}
	addr := regVar(ir.TypeI64, 0)
	val := regVar(ir.TypeI16, 1)
	op := &ir.Operation{Opcode: ir.OpStore, NumIn: 2}
	op.Inputs[0], op.Inputs[1] = addr, val

	c.emitStoreOp(val, op)

	require.Equal(t, byte(0x66), c.buf.Bytes[0])
}

func TestEmitDivOnlyEmitsOnQuotientOutput(t *testing.T) {
	c := &compiler{}
	dividend := regVar(ir.TypeI64, 0)
	divisor := regVar(ir.TypeI64, 1)
	quot := regVar(ir.TypeI64, 0)
	rem := regVar(ir.TypeI64, 3)

	op := &ir.Operation{Opcode: ir.OpDiv, NumIn: 2, NumOut: 2}
	op.Inputs[0], op.Inputs[1] = dividend, divisor
	op.Outputs[0], op.Outputs[1] = quot, rem
	quot.Op, rem.Op = op, op

	c.emitDiv(rem, op, true) // called with the non-quotient output: should no-op
	require.Empty(t, c.buf.Bytes)

	c.emitDiv(quot, op, true)
	require.NotEmpty(t, c.buf.Bytes)
}

func TestEmitSetupStackBindsRDIOrMovesIntoIt(t *testing.T) {
	c := &compiler{}
	dst := regVar(ir.TypeI64, 4) // rDI already
	op := &ir.Operation{Opcode: ir.OpSetupStack, NumOut: 1}
	op.Outputs[0] = dst

	c.emitSetupStack(dst, op)
	require.Empty(t, c.buf.Bytes)

	c2 := &compiler{}
	dst2 := regVar(ir.TypeI64, 0) // rAX
	op2 := &ir.Operation{Opcode: ir.OpSetupStack, NumOut: 1}
	op2.Outputs[0] = dst2
	c2.emitSetupStack(dst2, op2)
	require.NotEmpty(t, c2.buf.Bytes)
}
