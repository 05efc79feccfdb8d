// Package analyzer recovers indirect-jump and indirect-call targets the linear
// sweep could not resolve statically: a bounded backtracking symbolic evaluator
// (spec §4.3 "Indirect-jump backtracking") and a jump-table pattern recognizer
// (spec §4.3 "Jump-table recognizer").
package analyzer

import (
	"github.com/dm-sbt/rv2x86/internal/config"
	"github.com/dm-sbt/rv2x86/internal/ir"
	"github.com/dm-sbt/rv2x86/internal/loader"
)

// maxCandidateSet bounds the cartesian product enumerated while combining partial
// backtracking results (spec §4.3: "bounded product"), guarding against the
// combinatorial blowup of deeply nested or/and chains.
const maxCandidateSet = 4096

// ResolveIndirectJumps walks every unresolved ijump/icall in prog and attempts to
// recover its concrete target set, first via the jump-table recognizer and falling
// back to generic backtracking. Resolved targets are marked in needsBlock so a later
// SplitAll call gives them their own block, and recorded on the cfop's Discovered
// list for the codegen's runtime lookup table (spec §4.5.3).
func ResolveIndirectJumps(cfg *config.Config, prog *ir.Program, src loader.Program, needsBlock map[uint64]bool) {
	for _, b := range prog.Blocks {
		if b.ID == ir.DummyBlockID {
			continue
		}
		for _, c := range b.ControlFlowOps {
			if c.Kind != ir.CfIjump && c.Kind != ir.CfIcall {
				continue
			}
			if len(c.Discovered) > 0 {
				continue
			}

			if targets, ok := recognizeJumpTable(prog, src, b, c); ok {
				applyCandidates(prog, needsBlock, c, targets)
				continue
			}

			depth := cfg.BacktrackDepthLimit
			if cfg.FullBacktrack {
				depth = 1 << 30
			}
			vals, ok := backtrackValue(prog, c.Inputs[0], b, depth)
			if !ok {
				continue
			}
			applyCandidates(prog, needsBlock, c, vals)
		}
	}
}

// applyCandidates filters vals to the guest block-address range (spec §4.3
// "Policy"), records survivors on c.Discovered, marks their addresses in needsBlock
// so they are split into their own blocks, and picks the first as the cfop's
// concrete JumpAddr if none was already known.
func applyCandidates(prog *ir.Program, needsBlock map[uint64]bool, c *ir.CfOp, vals []int64) {
	lo, hi := prog.Header.BBAddrLo, prog.Header.BBAddrHi
	seen := make(map[uint64]bool, len(vals))
	for _, v := range vals {
		addr := uint64(v)
		if addr < lo || addr >= hi || seen[addr] {
			continue
		}
		seen[addr] = true
		needsBlock[addr] = true
		c.Discovered = append(c.Discovered, addr)
	}
	if len(c.Discovered) > 0 && !c.HasJumpAddr {
		c.HasJumpAddr, c.JumpAddr = true, c.Discovered[0]
	}
}

// backtrackValue computes the set of compile-time-known values v could hold,
// recursing through supported operations (spec §4.3). ok is false if the branch
// could not be fully evaluated (unsupported opcode, runtime-only memory load, or
// exhausted depth) and must be abandoned.
func backtrackValue(prog *ir.Program, v *ir.SSAVar, blk *ir.BasicBlock, depth int) ([]int64, bool) {
	switch v.Kind {
	case ir.InfoImmediate:
		return []int64{v.ImmValue}, true
	case ir.InfoFromStatic:
		if depth <= 0 {
			return nil, false
		}
		return backtrackStatic(prog, v.StaticIdx, blk, depth)
	case ir.InfoOperation:
		if depth <= 0 {
			return nil, false
		}
		return backtrackOp(prog, v.Op, blk, depth)
	default:
		return nil, false
	}
}

// backtrackStatic follows a from-static block parameter back through every
// predecessor's target_inputs mapping for that static (spec §4.3: "search
// predecessor cfops ... for any target_inputs ... that wrote static s").
func backtrackStatic(prog *ir.Program, static ir.StaticID, blk *ir.BasicBlock, depth int) ([]int64, bool) {
	if len(blk.Predecessors) == 0 {
		return nil, false
	}
	var out []int64
	for _, predID := range blk.Predecessors {
		pred := prog.Block(predID)
		src, ok := findIncomingValue(pred, blk, static)
		if !ok {
			return nil, false
		}
		vals, ok := backtrackValue(prog, src, pred, depth-1)
		if !ok {
			return nil, false
		}
		out = mergeCapped(out, vals)
	}
	return out, true
}

// findIncomingValue locates the SSAVar pred's terminating cfop assigns to static on
// the edge into blk.
func findIncomingValue(pred, blk *ir.BasicBlock, static ir.StaticID) (*ir.SSAVar, bool) {
	idx := int(static)
	for _, c := range pred.ControlFlowOps {
		if c.Target != blk {
			continue
		}
		if idx < len(c.TargetInputs) {
			return c.TargetInputs[idx], true
		}
	}
	return nil, false
}

// backtrackOp evaluates op symbolically over its already-backtracked operands,
// restricted to the opcode set spec §4.3 names as supported.
func backtrackOp(prog *ir.Program, op *ir.Operation, blk *ir.BasicBlock, depth int) ([]int64, bool) {
	out := op.Outputs[0]
	switch op.Opcode {
	case ir.OpAdd, ir.OpSub, ir.OpShl, ir.OpOr, ir.OpAnd, ir.OpXor:
		as, ok := backtrackValue(prog, op.Inputs[0], blk, depth-1)
		if !ok {
			return nil, false
		}
		bs, ok := backtrackValue(prog, op.Inputs[1], blk, depth-1)
		if !ok {
			return nil, false
		}
		return combineBinary(op.Opcode, out.Type, as, bs)
	case ir.OpNot:
		as, ok := backtrackValue(prog, op.Inputs[0], blk, depth-1)
		if !ok {
			return nil, false
		}
		res := make([]int64, 0, len(as))
		for _, a := range as {
			r := ir.EvalUnary(ir.OpNot, out.Type, uint64(a))
			res = append(res, int64(r))
		}
		return dedup(res), true
	case ir.OpSignExtend:
		as, ok := backtrackValue(prog, op.Inputs[0], blk, depth-1)
		if !ok {
			return nil, false
		}
		in := op.Inputs[0].Type
		res := make([]int64, 0, len(as))
		for _, a := range as {
			res = append(res, signExtendWidth(a, in))
		}
		return dedup(res), true
	case ir.OpCast:
		as, ok := backtrackValue(prog, op.Inputs[0], blk, depth-1)
		if !ok {
			return nil, false
		}
		res := make([]int64, 0, len(as))
		for _, a := range as {
			res = append(res, int64(uint64(a)&out.Type.Mask()))
		}
		return dedup(res), true
	default:
		// Unsupported operation: abandon this branch (spec §4.3).
		return nil, false
	}
}

func combineBinary(op ir.Opcode, typ ir.Type, as, bs []int64) ([]int64, bool) {
	out := make([]int64, 0, len(as)*len(bs))
	for _, a := range as {
		for _, b := range bs {
			if len(out) >= maxCandidateSet {
				return dedup(out), true
			}
			r, _ := ir.EvalBinary(op, typ, uint64(a), uint64(b))
			out = append(out, int64(r))
		}
	}
	return dedup(out), true
}

func signExtendWidth(a int64, from ir.Type) int64 {
	switch from.Bits() {
	case 8:
		return int64(int8(a))
	case 16:
		return int64(int16(a))
	case 32:
		return int64(int32(a))
	default:
		return a
	}
}

func dedup(vals []int64) []int64 {
	if len(vals) < 2 {
		return vals
	}
	seen := make(map[int64]bool, len(vals))
	out := vals[:0]
	for _, v := range vals {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// mergeCapped appends src into dst, deduplicating and capping at maxCandidateSet.
func mergeCapped(dst, src []int64) []int64 {
	if dst == nil {
		dst = make([]int64, 0, len(src))
	}
	seen := make(map[int64]bool, len(dst))
	for _, v := range dst {
		seen[v] = true
	}
	for _, v := range src {
		if len(dst) >= maxCandidateSet {
			break
		}
		if seen[v] {
			continue
		}
		seen[v] = true
		dst = append(dst, v)
	}
	return dst
}
