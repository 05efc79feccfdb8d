package regalloc

import "github.com/dm-sbt/rv2x86/internal/ir"

// Allocator runs the furthest-next-use allocation strategy of spec §4.5.3 over
// one block's worth of SSAVars, recording an Action trace and each SSAVar's
// final ir.Location. One Allocator instance may be driven across a chain of
// blocks by MBRA (mbra.go); used standalone it is the SBRA fallback.
type Allocator struct {
	regMap  [NumGPRegs]*ir.SSAVar
	regTime [NumGPRegs]ir.UsePos

	stackMap []*ir.SSAVar
	slotOf   map[ir.ValueID]int32
	MaxSlots int

	Actions []Action
}

// NewAllocator creates an empty allocator with no register or stack state.
func NewAllocator() *Allocator {
	return &Allocator{slotOf: make(map[ir.ValueID]int32)}
}

func (a *Allocator) emit(act Action) { a.Actions = append(a.Actions, act) }

// AllocateBlock runs SBRA over b: all of b's Inputs materialize from statics (no
// carried register state), matching original_source's "top-level" block path.
func AllocateBlock(b *ir.BasicBlock) *Allocator {
	a := NewAllocator()
	a.allocateBody(b)
	return a
}

// allocateBody walks b's operations in definition order, then its cfops, using
// whatever register/stack state a already holds (empty for a fresh SBRA block,
// carried-over for MBRA's inlined successors).
func (a *Allocator) allocateBody(b *ir.BasicBlock) {
	ComputeLiveness(b)

	for i, v := range b.Variables {
		pos := ir.UsePos(i)
		switch v.Kind {
		case ir.InfoFromStatic:
			// MBRA may have already carried this input's location in from a
			// predecessor's chain walk (regalloc.go: carryInputs); only blocks
			// entered fresh (SBRA) fall back to reading the static.
			if v.Loc.Kind == ir.LocNotMaterialized {
				v.Loc = ir.Location{Kind: ir.LocInStatic, Stat: v.StaticIdx}
			}
		case ir.InfoImmediate:
			v.Loc = ir.Location{Kind: ir.LocNotMaterialized}
		case ir.InfoOperation:
			a.allocateOperation(v, pos)
		}
	}

	cfPos := ir.UsePos(len(b.Variables))
	for _, c := range b.ControlFlowOps {
		for i := 0; i < c.NumIn; i++ {
			a.loadValInReg(c.Inputs[i], cfPos, nil)
		}
		// Payload mappings (TargetInputs, continuation/return/ijump statics
		// writes) are materialized here too so register pressure from a large
		// block-parameter list is visible to the allocator. The conflict-free
		// ordering write_target_inputs imposes (spec §4.5.4: statics, then
		// stack slots, then registers, each a detect/rematerialize/write pass)
		// is codegen's concern when it replays this Action trace into moves.
		for _, tv := range c.TargetInputs {
			a.loadValInReg(tv, cfPos, nil)
		}
		for _, m := range c.ContMapping {
			a.loadValInReg(m.Value, cfPos, nil)
		}
		for _, m := range c.Mapping {
			a.loadValInReg(m.Value, cfPos, nil)
		}
		for _, m := range c.IjumpMapping {
			a.loadValInReg(m.Value, cfPos, nil)
		}
	}
}

// allocateOperation loads v's operands into registers, selects a destination
// register (reusing an operand's register when this is its last use, per spec
// §4.5.3 step 2), and binds v there. Division, high-multiply, and shift-count
// placement constraints (force into A/D/cl) are encoding-level concerns left to
// codegen, which may relocate a bound value before emitting the instruction.
func (a *Allocator) allocateOperation(v *ir.SSAVar, pos ir.UsePos) {
	op := v.Op
	if op.Opcode == ir.OpStore {
		// The store's mt output carries no register of its own; only its address
		// and value operands need materializing.
		a.loadValInReg(op.Inputs[0], pos, nil)
		a.loadValInReg(op.Inputs[1], pos, nil)
		a.loadValInReg(op.Inputs[2], pos, nil)
		v.Loc = ir.Location{Kind: ir.LocNotMaterialized}
		a.emit(Action{Kind: ActionStore, Var: v})
		return
	}

	var srcRegs [4]RealReg
	preserve := make(map[RealReg]bool, op.NumIn)
	for j := 0; j < op.NumIn; j++ {
		srcRegs[j] = a.loadValInReg(op.Inputs[j], pos, preserve)
		if srcRegs[j] != RegInvalid {
			preserve[srcRegs[j]] = true
		}
	}
	if op.RoundingVar != nil {
		a.loadValInReg(op.RoundingVar, pos, preserve)
	}

	var dst RealReg
	if op.NumIn >= 1 && srcRegs[0] != RegInvalid && isLastUse(op.Inputs[0], pos) {
		dst = srcRegs[0]
	} else {
		dst = a.findEvictReg(pos, preserve)
		a.spillIfNeeded(dst, pos)
	}

	a.regMap[dst] = v
	a.regTime[dst] = pos
	v.Loc = ir.Location{Kind: ir.LocInRegister, Reg: int8(dst)}
	a.emit(Action{Kind: ActionBind, Var: v, Reg: dst})
}

// loadValInReg materializes v into a register, reusing its current register if
// it already has one. preserve lists registers the caller has already committed
// to this step and which must not be chosen as an eviction target.
func (a *Allocator) loadValInReg(v *ir.SSAVar, pos ir.UsePos, preserve map[RealReg]bool) RealReg {
	if v == nil {
		return RegInvalid
	}
	if v.Loc.Kind == ir.LocInRegister {
		r := RealReg(v.Loc.Reg)
		a.regTime[r] = pos
		return r
	}

	r := a.findEvictReg(pos, preserve)
	a.spillIfNeeded(r, pos)

	prevLoc := v.Loc
	a.regMap[r] = v
	a.regTime[r] = pos
	v.Loc = ir.Location{Kind: ir.LocInRegister, Reg: int8(r)}
	a.emit(Action{Kind: ActionLoad, Var: v, Reg: r, PrevLoc: prevLoc})
	return r
}

// findEvictReg returns a free register if one exists, else the register whose
// occupant's next use is farthest in the future (spec §4.5.3's evict policy).
// Registers in preserve are never chosen.
func (a *Allocator) findEvictReg(pos ir.UsePos, preserve map[RealReg]bool) RealReg {
	for r := RealReg(0); r < NumGPRegs; r++ {
		if preserve[r] {
			continue
		}
		if a.regMap[r] == nil {
			return r
		}
	}

	best := RealReg(-1)
	var bestNextUse ir.UsePos = -1
	for r := RealReg(0); r < NumGPRegs; r++ {
		if preserve[r] {
			continue
		}
		nu := nextUseAfter(a.regMap[r], pos)
		if nu > bestNextUse {
			bestNextUse, best = nu, r
		}
	}
	if best < 0 {
		panic("regalloc: BUG: no evictable register (all 14 GPRs preserved)")
	}
	return best
}

// spillIfNeeded evicts r's current occupant, writing it to a stack slot unless
// it is an immediate (always recomputable, never spilled).
func (a *Allocator) spillIfNeeded(r RealReg, pos ir.UsePos) {
	occ := a.regMap[r]
	if occ == nil {
		return
	}
	if occ.Kind == ir.InfoImmediate {
		occ.Loc = ir.Location{Kind: ir.LocNotMaterialized}
		a.regMap[r] = nil
		return
	}

	slot := a.allocStackSlot(occ)
	a.emit(Action{Kind: ActionSpill, Var: occ, Reg: r, Slot: slot})
	occ.Loc = ir.Location{Kind: ir.LocInStackSlot, Slot: slot}
	occ.Spilled = true
	a.regMap[r] = nil
}

// allocStackSlot returns v's existing stack slot if it was spilled before
// (SSA values never change once written, so the old slot contents stay valid),
// else reserves the lowest-numbered free slot.
func (a *Allocator) allocStackSlot(v *ir.SSAVar) int32 {
	if slot, ok := a.slotOf[v.ID]; ok {
		return slot
	}
	for i, occ := range a.stackMap {
		if occ == nil {
			a.stackMap[i] = v
			a.slotOf[v.ID] = int32(i)
			return int32(i)
		}
	}
	slot := int32(len(a.stackMap))
	a.stackMap = append(a.stackMap, v)
	a.slotOf[v.ID] = slot
	if len(a.stackMap) > a.MaxSlots {
		a.MaxSlots = len(a.stackMap)
	}
	return slot
}
