package regalloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dm-sbt/rv2x86/internal/ir"
)

func newTestProgram() *ir.Program {
	return ir.NewProgram(ir.Header{BBAddrLo: 0x1000, BBAddrHi: 0x2000})
}

func addOp(b *ir.BasicBlock, x, y *ir.SSAVar) *ir.SSAVar {
	op := ir.NewOperation(ir.OpAdd, x, y)
	v := ir.FromOperation(b.AllocValueID(), ir.TypeI64, op)
	op.SetOutputs(v)
	b.AppendVar(v)
	return v
}

func TestAllocateBlockAssignsDistinctRegistersToLiveOperands(t *testing.T) {
	prog := newTestProgram()
	b := prog.NewBlock(0x1000, "")

	x := b.AddInput(ir.TypeI64, ir.GPR(10))
	y := b.AddInput(ir.TypeI64, ir.GPR(11))
	v := addOp(b, x, y)
	b.AppendCfOp(ir.NewCfOp(ir.CfReturn, v))

	a := AllocateBlock(b)

	require.Equal(t, ir.LocInRegister, x.Loc.Kind)
	require.Equal(t, ir.LocInRegister, y.Loc.Kind)
	require.NotEqual(t, x.Loc.Reg, y.Loc.Reg)
	require.Equal(t, ir.LocInRegister, v.Loc.Kind)
	require.Zero(t, a.MaxSlots)
}

func TestAllocateOperationReusesOperandRegisterOnLastUse(t *testing.T) {
	prog := newTestProgram()
	b := prog.NewBlock(0x1000, "")

	x := b.AddInput(ir.TypeI64, ir.GPR(10))
	c := ir.Immediate(b.AllocValueID(), ir.TypeI64, 1, false)
	b.AppendVar(c)
	v := addOp(b, x, c)
	// x is used exactly once, by v, so v's destination register should be x's.
	b.AppendCfOp(ir.NewCfOp(ir.CfReturn, v))

	AllocateBlock(b)

	require.Equal(t, ir.LocInRegister, x.Loc.Kind)
	require.Equal(t, ir.LocInRegister, v.Loc.Kind)
	require.Equal(t, x.Loc.Reg, v.Loc.Reg)
}

func TestAllocateBlockSpillsUnderRegisterPressure(t *testing.T) {
	prog := newTestProgram()
	b := prog.NewBlock(0x1000, "")

	// 15 live-at-once values on a 14-register machine forces exactly one spill.
	var inputs []*ir.SSAVar
	for i := 0; i < 15; i++ {
		inputs = append(inputs, b.AddInput(ir.TypeI64, ir.GPR(i)))
	}
	ret := ir.NewCfOp(ir.CfReturn, inputs[0])
	for _, in := range inputs[1:] {
		ret.AddTargetInput(in)
	}
	b.AppendCfOp(ret)

	a := AllocateBlock(b)

	spilled := 0
	for _, in := range inputs {
		if in.Loc.Kind == ir.LocInStackSlot {
			spilled++
		}
	}
	require.Equal(t, 1, spilled)
	require.Equal(t, 1, a.MaxSlots)
}

func TestAllocateBlockNeverSpillsImmediates(t *testing.T) {
	prog := newTestProgram()
	b := prog.NewBlock(0x1000, "")

	var imms []*ir.SSAVar
	for i := 0; i < 16; i++ {
		c := ir.Immediate(b.AllocValueID(), ir.TypeI64, int64(i), false)
		b.AppendVar(c)
		imms = append(imms, c)
	}
	ret := ir.NewCfOp(ir.CfReturn, imms[0])
	for _, c := range imms[1:] {
		ret.AddTargetInput(c)
	}
	b.AppendCfOp(ret)

	a := AllocateBlock(b)

	require.Zero(t, a.MaxSlots)
	for _, c := range imms {
		require.NotEqual(t, ir.LocInStackSlot, c.Loc.Kind)
	}
}

func TestMBRACarriesRegisterAcrossUnconditionalJump(t *testing.T) {
	prog := newTestProgram()
	b1 := prog.NewBlock(0x1000, "")
	b2 := prog.NewBlock(0x1008, "")
	prog.Connect(b1.ID, b2.ID)

	x := b1.AddInput(ir.TypeI64, ir.GPR(10))
	jump := ir.NewCfOp(ir.CfJump)
	jump.Target = b2
	jump.AddTargetInput(x)
	b1.AppendCfOp(jump)

	y := b2.AddInput(ir.TypeI64, ir.GPR(10))
	b2.AppendCfOp(ir.NewCfOp(ir.CfReturn, y))

	allocs := AllocateProgram(prog)
	require.Same(t, allocs[b1.ID], allocs[b2.ID], "chained blocks share one allocator")
	require.Equal(t, ir.LocInRegister, x.Loc.Kind)
	require.Equal(t, x.Loc, y.Loc, "carried input keeps the predecessor's register, skipping the static reload")
}

func TestMBRASeparatesBlocksWithMultiplePredecessors(t *testing.T) {
	prog := newTestProgram()
	entry := prog.NewBlock(0x1000, "")
	left := prog.NewBlock(0x1008, "")
	right := prog.NewBlock(0x1010, "")
	merge := prog.NewBlock(0x1018, "")
	prog.Connect(entry.ID, left.ID)
	prog.Connect(entry.ID, right.ID)
	prog.Connect(left.ID, merge.ID)
	prog.Connect(right.ID, merge.ID)

	x := entry.AddInput(ir.TypeI64, ir.GPR(10))
	cj := ir.NewCfOp(ir.CfCjump)
	cj.Target = left
	cj.AddTargetInput(x)
	entry.AppendCfOp(cj)
	fallthroughJump := ir.NewCfOp(ir.CfJump)
	fallthroughJump.Target = right
	fallthroughJump.AddTargetInput(x)
	entry.AppendCfOp(fallthroughJump)

	lv := left.AddInput(ir.TypeI64, ir.GPR(10))
	lj := ir.NewCfOp(ir.CfJump)
	lj.Target = merge
	lj.AddTargetInput(lv)
	left.AppendCfOp(lj)

	rv := right.AddInput(ir.TypeI64, ir.GPR(10))
	rj := ir.NewCfOp(ir.CfJump)
	rj.Target = merge
	rj.AddTargetInput(rv)
	right.AppendCfOp(rj)

	mv := merge.AddInput(ir.TypeI64, ir.GPR(10))
	merge.AppendCfOp(ir.NewCfOp(ir.CfReturn, mv))

	allocs := AllocateProgram(prog)
	require.NotSame(t, allocs[entry.ID], allocs[merge.ID], "merge has two predecessors, so it gets its own SBRA pass")
	mergeActs := allocs[merge.ID].Actions
	require.NotEmpty(t, mergeActs)
	require.Same(t, mv, mergeActs[0].Var)
	require.Equal(t, ir.LocInStatic, mergeActs[0].PrevLoc.Kind, "merge's input is loaded from its static, not carried in a register")
}
