// Package regalloc assigns each SSAVar in a block one of {unmaterialized,
// in-register, in-stack-slot, in-static} and records the decisions as a trace of
// Actions for the codegen package to replay into concrete amd64 instructions
// (spec §4.5.1-4.5.3). It implements the multi-block allocator (MBRA), which
// carries register state across an unconditional-jump chain, falling back to the
// single-block allocator (SBRA) at any block whose inputs must come from statics.
package regalloc

import "github.com/dm-sbt/rv2x86/internal/ir"

// farFuture stands in for "no further use in this block": the furthest-next-use
// eviction policy always prefers evicting such a value first.
const farFuture = ir.UsePos(1 << 62)

// ComputeLiveness implements the liveness pre-pass of spec §4.5.2: for every
// SSAVar defined in b, record the positions at which it is used. Position i is
// the operand use of the i-th variable; position len(Variables) is shared by all
// of the block's cfops' plain Inputs; positions after that are cfop payload
// mappings (TargetInputs, ContMapping, Mapping, IjumpMapping) in encounter order.
func ComputeLiveness(b *ir.BasicBlock) {
	for _, v := range b.Variables {
		v.Uses = nil
		v.LastUse = -1
	}

	for i, v := range b.Variables {
		if v.Kind != ir.InfoOperation || v.Op == nil {
			continue
		}
		pos := ir.UsePos(i)
		op := v.Op
		for j := 0; j < op.NumIn; j++ {
			recordUse(op.Inputs[j], pos)
		}
		recordUse(op.RoundingVar, pos)
	}

	cfPos := ir.UsePos(len(b.Variables))
	payloadPos := cfPos + 1
	for _, c := range b.ControlFlowOps {
		for i := 0; i < c.NumIn; i++ {
			recordUse(c.Inputs[i], cfPos)
		}
		for _, tv := range c.TargetInputs {
			recordUse(tv, payloadPos)
			payloadPos++
		}
		for _, m := range c.ContMapping {
			recordUse(m.Value, payloadPos)
			payloadPos++
		}
		for _, m := range c.Mapping {
			recordUse(m.Value, payloadPos)
			payloadPos++
		}
		for _, m := range c.IjumpMapping {
			recordUse(m.Value, payloadPos)
			payloadPos++
		}
	}

	for _, v := range b.Variables {
		if n := len(v.Uses); n > 0 {
			v.LastUse = v.Uses[n-1]
		}
	}
}

func recordUse(v *ir.SSAVar, pos ir.UsePos) {
	if v == nil {
		return
	}
	v.Uses = append(v.Uses, pos)
}

// nextUseAfter returns the smallest recorded use position of v strictly greater
// than pos, or farFuture if v has no such use (including v == nil).
func nextUseAfter(v *ir.SSAVar, pos ir.UsePos) ir.UsePos {
	if v == nil {
		return farFuture
	}
	for _, u := range v.Uses {
		if u > pos {
			return u
		}
	}
	return farFuture
}

// isLastUse reports whether pos is v's final recorded use.
func isLastUse(v *ir.SSAVar, pos ir.UsePos) bool {
	return v != nil && v.LastUse == pos
}
