package regalloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dm-sbt/rv2x86/internal/ir"
)

func TestComputeLivenessAssignsOperandAndCfopPositions(t *testing.T) {
	prog := newTestProgram()
	b := prog.NewBlock(0x1000, "")

	x := b.AddInput(ir.TypeI64, ir.GPR(10)) // index 0
	c := ir.Immediate(b.AllocValueID(), ir.TypeI64, 1, false)
	b.AppendVar(c) // index 1
	v := addOp(b, x, c) // index 2, uses x and c at position 2

	ret := ir.NewCfOp(ir.CfReturn, x) // plain cfop input
	ret.AddTargetInput(v)             // payload mapping
	b.AppendCfOp(ret)

	ComputeLiveness(b)

	require.Equal(t, []ir.UsePos{2}, c.Uses)
	// x is used once by the add (position 2) and once by the cfop's plain
	// Inputs (position len(Variables) == 3).
	require.Equal(t, []ir.UsePos{2, 3}, x.Uses)
	require.EqualValues(t, 3, x.LastUse)
	// v's only use is the cfop's TargetInputs payload, which comes after the
	// shared cfop position (3), so it gets position 4.
	require.Equal(t, []ir.UsePos{4}, v.Uses)
}

func TestNextUseAfterSkipsPastPositionsAndDefaultsToFarFuture(t *testing.T) {
	prog := newTestProgram()
	b := prog.NewBlock(0x1000, "")

	x := b.AddInput(ir.TypeI64, ir.GPR(10)) // index 0
	imm1 := mustImmediate(b, 1)             // index 1
	_ = addOp(b, x, imm1)                   // index 2: uses x, imm1 at position 2
	imm2 := mustImmediate(b, 2)             // index 3
	_ = addOp(b, x, imm2)                   // index 4: uses x, imm2 at position 4
	ComputeLiveness(b)

	require.Equal(t, []ir.UsePos{2, 4}, x.Uses)
	require.EqualValues(t, 2, nextUseAfter(x, 0))
	require.EqualValues(t, 2, nextUseAfter(x, 1))
	require.EqualValues(t, 4, nextUseAfter(x, 2))
	require.Equal(t, farFuture, nextUseAfter(x, 4))
	require.Equal(t, farFuture, nextUseAfter(nil, 0))
}

func mustImmediate(b *ir.BasicBlock, v int64) *ir.SSAVar {
	c := ir.Immediate(b.AllocValueID(), ir.TypeI64, v, false)
	b.AppendVar(c)
	return c
}
