package lifter

import "github.com/dm-sbt/rv2x86/internal/ir"

// SplitAll implements spec §4.2.2: for every address marked in needsBlock that does
// not yet head its own block, find the block whose instruction range straddles it
// and split it into two blocks joined by a synthesized fall-through jump. Runs to a
// fixed point since a split can itself expose further addresses needing a split in
// the region reached by the repeated call from the lifter's post-pass.
func SplitAll(prog *ir.Program, needsBlock map[uint64]bool) {
	for {
		progress := false
		for addr, need := range needsBlock {
			if !need {
				continue
			}
			if _, ok := prog.BlockAt(addr); ok {
				continue
			}
			b, idx, ok := findSplitPoint(prog, addr)
			if !ok {
				continue
			}
			splitBlock(prog, b, idx, addr)
			progress = true
		}
		if !progress {
			return
		}
	}
}

// findSplitPoint locates the block owning the variable defined at addr and the
// index within its Variables slice where that variable sits.
func findSplitPoint(prog *ir.Program, addr uint64) (*ir.BasicBlock, int, bool) {
	for _, b := range prog.Blocks {
		if b.ID == ir.DummyBlockID {
			continue
		}
		if addr <= b.StartAddr {
			continue
		}
		for i, v := range b.Variables {
			if v.AssignAddr == addr {
				return b, i, true
			}
		}
	}
	return nil, 0, false
}

// splitBlock cuts b at Variables[idx:], moving the tail and b's control flow ops
// into a fresh block b' registered at addr, and replaces b's terminator with a
// synthesized fall-through jump carrying the live static register values across the
// cut (spec §4.2.2 steps 1-7).
func splitBlock(prog *ir.Program, b *ir.BasicBlock, idx int, addr uint64) {
	state := liveStaticsAt(prog, b, idx)

	nb := prog.NewBlock(addr, "")
	nb.EndAddr = b.EndAddr
	b.EndAddr = addr

	// repl maps each value b's pre-split code could have been holding a static in
	// (state[sid]) to the matching new from-static input on nb, so operations
	// moved into nb that still reference those pre-split values can be redirected.
	repl := make(map[*ir.SSAVar]*ir.SSAVar, len(prog.Statics))
	for i := range prog.Statics {
		sid := ir.StaticID(i)
		in := nb.AddInput(prog.Statics[i].Type, sid)
		repl[state[sid]] = in
	}

	nb.Variables = append(nb.Variables, b.Variables[idx:]...)
	b.Variables = b.Variables[:idx]

	nb.ControlFlowOps = b.ControlFlowOps
	b.ControlFlowOps = nil

	rewriteMovedInputs(nb, repl)

	for _, succID := range append([]ir.BasicBlockID(nil), b.Successors...) {
		prog.Disconnect(b.ID, succID)
		prog.Connect(nb.ID, succID)
	}

	c := ir.NewCfOp(ir.CfJump)
	c.Target = nb
	c.HasJumpAddr, c.JumpAddr = true, addr
	for i := range prog.Statics {
		c.AddTargetInput(state[ir.StaticID(i)])
	}
	b.AppendCfOp(c)
	prog.Connect(b.ID, nb.ID)
}

// rewriteMovedInputs redirects every owning operand reference within nb's moved
// operations and control flow ops that still points at a value left behind in the
// block nb was split from, to the corresponding new block-parameter input on nb
// (spec §4.2.2 step 5). Without this, a value computed before the split and
// consumed after it (the whole reason a mid-block split point exists, e.g. a
// backward-branch target landing inside a loop body) would leave nb's operations
// pointing at an SSAVar owned by a different block, whose allocator-assigned
// location reflects that other block's allocation, not nb's.
func rewriteMovedInputs(nb *ir.BasicBlock, repl map[*ir.SSAVar]*ir.SSAVar) {
	for _, v := range nb.Variables {
		if v.Kind != ir.InfoOperation || v.Op == nil {
			continue
		}
		op := v.Op
		for i := 0; i < op.NumIn; i++ {
			if r, ok := repl[op.Inputs[i]]; ok {
				op.ReplaceInput(i, r)
			}
		}
		if r, ok := repl[op.RoundingVar]; ok {
			op.RoundingVar.DecRef()
			op.RoundingVar = r
			r.IncRef()
		}
	}
	for _, c := range nb.ControlFlowOps {
		for i := 0; i < c.NumIn; i++ {
			if r, ok := repl[c.Inputs[i]]; ok {
				c.ReplaceInput(i, r)
			}
		}
		for i, tv := range c.TargetInputs {
			if r, ok := repl[tv]; ok {
				c.ReplaceTargetInput(i, r)
			}
		}
	}
}

// liveStaticsAt reconstructs, for each static, the SSAVar currently holding its
// value at the point just before Variables[idx] in b: the last variable with that
// DestStatic seen among Variables[0:idx], or the block's own from-static input if
// the static was never reassigned.
func liveStaticsAt(prog *ir.Program, b *ir.BasicBlock, idx int) map[ir.StaticID]*ir.SSAVar {
	state := make(map[ir.StaticID]*ir.SSAVar, len(prog.Statics))
	for i, in := range b.Inputs {
		state[ir.StaticID(i)] = in
	}
	for i := 0; i < idx; i++ {
		v := b.Variables[i]
		if v.DestStatic != ir.NoStatic {
			state[v.DestStatic] = v
		}
	}
	return state
}

// RelativizeImmediates marks every immediate whose value falls inside the guest
// image's loaded address range as binary-relative (spec §4.2 step 5): the output
// object's codegen must emit these relative to the base of the embedded
// .orig_binary section rather than as absolute constants, since the guest image is
// not guaranteed to load at its original addresses.
func RelativizeImmediates(prog *ir.Program) {
	lo, hi := prog.Header.BaseAddr, prog.Header.BaseAddr+prog.Header.LoadSize
	for _, b := range prog.Blocks {
		for _, v := range b.Variables {
			if v.Kind != ir.InfoImmediate {
				continue
			}
			addr := uint64(v.ImmValue)
			if addr >= lo && addr < hi {
				v.ImmBinaryRelative = true
			}
		}
	}
}
