package codegen

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dm-sbt/rv2x86/internal/ir"
	"github.com/dm-sbt/rv2x86/internal/regalloc"
)

// TestCompileBlockReplaysActionTraceForAStraightLineAdd builds one operation
// (v2 = v0 + v1) and a terminating jump, with a hand-written Action trace
// standing in for what regalloc.AllocateBlock would have produced: two loads
// binding v0/v1 into registers, a bind for the add's result, then the jump.
func TestCompileBlockReplaysActionTraceForAStraightLineAdd(t *testing.T) {
	b := &ir.BasicBlock{}

	v0 := ir.FromStatic(0, ir.TypeI64, 0)
	v0.Loc = ir.Location{Kind: ir.LocInRegister, Reg: 0}
	v1 := ir.FromStatic(1, ir.TypeI64, 1)
	v1.Loc = ir.Location{Kind: ir.LocInRegister, Reg: 1}
	b.AppendVar(v0)
	b.AppendVar(v1)

	op := ir.NewOperation(ir.OpAdd, v0, v1)
	v2 := ir.FromOperation(2, ir.TypeI64, op)
	op.SetOutputs(v2)
	v2.Loc = ir.Location{Kind: ir.LocInRegister, Reg: 0}
	b.AppendVar(v2)

	target := blockAt(0x8000, "target")
	jmp := ir.NewCfOp(ir.CfJump)
	jmp.Target = target
	b.AppendCfOp(jmp)

	a := &regalloc.Allocator{
		Actions: []regalloc.Action{
			{Kind: regalloc.ActionLoad, Var: v0, Reg: 0, PrevLoc: ir.Location{Kind: ir.LocInStatic, Stat: 0}},
			{Kind: regalloc.ActionLoad, Var: v1, Reg: 1, PrevLoc: ir.Location{Kind: ir.LocInStatic, Stat: 1}},
			{Kind: regalloc.ActionBind, Var: v2, Reg: 0},
		},
	}

	buf := CompileBlock(b, a)

	require.NotEmpty(t, buf.Bytes)
	// Two static loads (regMemRIP, 7 bytes each) then the add (dst==src0, so
	// no extra mov, just 3 bytes) then the terminating jmp (5 bytes).
	require.Equal(t, 7+7+3+5, len(buf.Bytes))
	require.Len(t, buf.Relocs, 3) // two static reads + the jmp target
}

func TestDrainGroupStopsAfterConsumingTerminalAction(t *testing.T) {
	v0 := ir.FromStatic(0, ir.TypeI64, 0)
	v0.Loc = ir.Location{Kind: ir.LocInRegister, Reg: 0}

	c := &compiler{actions: []regalloc.Action{
		{Kind: regalloc.ActionLoad, Var: v0, Reg: 0, PrevLoc: ir.Location{Kind: ir.LocInStatic, Stat: 0}},
		{Kind: regalloc.ActionBind, Var: v0, Reg: 0},
	}}

	c.drainGroup(v0)

	require.Equal(t, 2, c.ai) // both the load and the terminal bind consumed
	require.NotEmpty(t, c.buf.Bytes)
}

func TestDrainRemainingConsumesTrailingLoadsAndSpills(t *testing.T) {
	v0 := ir.FromStatic(0, ir.TypeI64, 0)
	v0.Loc = ir.Location{Kind: ir.LocInRegister, Reg: 0}

	c := &compiler{actions: []regalloc.Action{
		{Kind: regalloc.ActionLoad, Var: v0, Reg: 0, PrevLoc: ir.Location{Kind: ir.LocInStatic, Stat: 2}},
		{Kind: regalloc.ActionSpill, Reg: 0, Slot: 1},
	}}

	c.drainRemaining()

	require.Equal(t, 2, c.ai)
	require.NotEmpty(t, c.buf.Bytes)
}

func TestEmitLoadMaterializesImmediateStaticAndStackSlotSources(t *testing.T) {
	imm := ir.Immediate(0, ir.TypeI64, 42, false)
	c := &compiler{}
	c.emitLoad(regalloc.Action{Var: imm, Reg: 0, PrevLoc: ir.Location{Kind: ir.LocNotMaterialized}})
	require.Equal(t, byte(0xB8), c.buf.Bytes[1]) // REX.W + B8+rd

	c2 := &compiler{}
	c2.emitLoad(regalloc.Action{Reg: 0, PrevLoc: ir.Location{Kind: ir.LocInStatic, Stat: 4}})
	require.Equal(t, "s4", c2.buf.Relocs[0].Target.Name)

	c3 := &compiler{}
	c3.emitLoad(regalloc.Action{Reg: 0, PrevLoc: ir.Location{Kind: ir.LocInStackSlot, Slot: 2}})
	require.Equal(t, byte(0x8B), c3.buf.Bytes[1])
}

func TestEmitSpillWritesOccupantToItsSlot(t *testing.T) {
	c := &compiler{}
	c.emitSpill(regalloc.Action{Reg: 3, Slot: 5})
	require.Equal(t, byte(0x89), c.buf.Bytes[1])
}
