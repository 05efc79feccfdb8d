package codegen

import (
	"github.com/dm-sbt/rv2x86/internal/ir"
	"github.com/dm-sbt/rv2x86/internal/regalloc"
)

// compiler drives one block's worth of Action replay and instruction selection.
type compiler struct {
	buf     Buf
	actions []regalloc.Action
	ai      int
}

// CompileBlock emits b's machine code, given the Allocator that has already run
// over it (possibly as part of an MBRA chain, in which case b may be one of
// several blocks sharing a. See internal/regalloc/mbra.go).
func CompileBlock(b *ir.BasicBlock, a *regalloc.Allocator) *Buf {
	c := &compiler{actions: a.Actions}

	for _, v := range b.Variables {
		if v.Kind != ir.InfoOperation {
			continue
		}
		c.drainGroup(v)
		c.emitOperation(v)
	}
	c.drainRemaining()
	c.lowerControlFlow(b)

	return &c.buf
}

// drainGroup replays every ActionLoad/ActionSpill that precedes v's own
// terminal action (ActionBind for a compute result, ActionStore for a store),
// then stops having consumed that terminal action too.
func (c *compiler) drainGroup(v *ir.SSAVar) {
	for c.ai < len(c.actions) {
		act := c.actions[c.ai]
		c.ai++
		switch act.Kind {
		case regalloc.ActionLoad:
			c.emitLoad(act)
		case regalloc.ActionSpill:
			c.emitSpill(act)
		case regalloc.ActionBind, regalloc.ActionStore:
			return
		}
	}
}

// drainRemaining replays whatever Load/Spill actions are left after the last
// operation: these belong to the block's trailing cfop materialization pass
// (internal/regalloc/alloc.go's allocateBody cfop loop), which has no
// per-variable terminator since it runs once for the whole block tail.
func (c *compiler) drainRemaining() {
	for c.ai < len(c.actions) {
		act := c.actions[c.ai]
		c.ai++
		switch act.Kind {
		case regalloc.ActionLoad:
			c.emitLoad(act)
		case regalloc.ActionSpill:
			c.emitSpill(act)
		}
	}
}

// emitLoad replays one ActionLoad: a mov bringing act.Var from wherever it
// lived (act.PrevLoc) into act.Reg.
func (c *compiler) emitLoad(act regalloc.Action) {
	dst := allocRegToReg[act.Reg]
	switch act.PrevLoc.Kind {
	case ir.LocNotMaterialized:
		c.buf.movImm64(dst, uint64(act.Var.ImmValue))
	case ir.LocInStatic:
		c.buf.regMemRIP(0x8B, true, dst)
		c.buf.relocPCRel32(Symbol{Name: staticSymbolName(act.PrevLoc.Stat)})
	case ir.LocInStackSlot:
		c.buf.regMemRBP(0x8B, true, dst, slotDisp(act.PrevLoc.Slot))
	}
}

// emitSpill replays one ActionSpill: act.Var's occupant register is written
// out to its stack slot before being reused.
func (c *compiler) emitSpill(act regalloc.Action) {
	src := allocRegToReg[act.Reg]
	c.buf.regMemRBP(0x89, true, src, slotDisp(act.Slot))
}
