package regalloc

import "github.com/dm-sbt/rv2x86/internal/ir"

// AllocateProgram runs MBRA over prog (spec §4.5): a chain of blocks linked by a
// single unconditional jump whose target has no other predecessor shares one
// allocator's register/stack state across the jump instead of re-materializing
// the target's inputs from statics. Any block that cannot join such a chain
// (multiple predecessors, a non-jump terminator, or being the start of its own
// chain) falls back to a fresh SBRA allocator.
func AllocateProgram(prog *ir.Program) map[ir.BasicBlockID]*Allocator {
	result := make(map[ir.BasicBlockID]*Allocator)
	compiled := make(map[ir.BasicBlockID]bool)

	for _, b := range prog.Blocks {
		if b.IsDummy() || compiled[b.ID] || !isChainStart(prog, b) {
			continue
		}
		a := NewAllocator()
		cur := b
		for {
			compiled[cur.ID] = true
			result[cur.ID] = a
			a.allocateBody(cur)

			next, targetInputs, ok := soleUnconditionalSuccessor(prog, cur)
			if !ok || compiled[next.ID] || len(next.Predecessors) != 1 {
				break
			}
			a.carryInputs(next, targetInputs)
			cur = next
		}
	}

	// Blocks never reached by a chain walk above (only possible through a cycle
	// of single-predecessor jump edges with no entry point in the scan order)
	// still need an allocation; give each its own SBRA pass.
	for _, b := range prog.Blocks {
		if b.IsDummy() || compiled[b.ID] {
			continue
		}
		result[b.ID] = AllocateBlock(b)
		compiled[b.ID] = true
	}
	return result
}

// isChainStart reports whether b must begin its own allocator rather than being
// absorbed as the inlined continuation of its predecessor's chain walk.
func isChainStart(prog *ir.Program, b *ir.BasicBlock) bool {
	if len(b.Predecessors) != 1 {
		return true
	}
	pred := prog.Block(b.Predecessors[0])
	if pred == nil || pred.IsDummy() {
		return true
	}
	next, _, ok := soleUnconditionalSuccessor(prog, pred)
	return !(ok && next.ID == b.ID)
}

// soleUnconditionalSuccessor reports cur's jump target and target-input mapping
// when cur ends in exactly one CfJump cfop.
func soleUnconditionalSuccessor(prog *ir.Program, cur *ir.BasicBlock) (*ir.BasicBlock, []*ir.SSAVar, bool) {
	if len(cur.ControlFlowOps) != 1 {
		return nil, nil, false
	}
	c := cur.ControlFlowOps[0]
	if c.Kind != ir.CfJump || c.Target == nil {
		return nil, nil, false
	}
	return c.Target, c.TargetInputs, true
}

// carryInputs binds next's from-static block inputs to the locations their
// corresponding incoming values already occupy at the end of the jump, and
// updates this allocator's register/stack bookkeeping to track the new owner.
func (a *Allocator) carryInputs(next *ir.BasicBlock, targetInputs []*ir.SSAVar) {
	for i, in := range next.Inputs {
		if i >= len(targetInputs) {
			break
		}
		src := targetInputs[i]
		in.Loc = src.Loc
		switch src.Loc.Kind {
		case ir.LocInRegister:
			a.regMap[RealReg(src.Loc.Reg)] = in
		case ir.LocInStackSlot:
			a.slotOf[in.ID] = src.Loc.Slot
			if int(src.Loc.Slot) < len(a.stackMap) {
				a.stackMap[src.Loc.Slot] = in
			}
		}
	}
}
