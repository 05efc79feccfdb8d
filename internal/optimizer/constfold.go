package optimizer

import "github.com/dm-sbt/rv2x86/internal/ir"

// Constfold implements spec §4.4's constant-folding pass: binary ops with two
// immediates fold via the reference evaluator, binary ops with one immediate
// simplify via algebraic identities, chained add/sub pairs combine, unary/morph
// ops with immediate inputs fold, and division with two immediates folds to
// whichever of quotient/remainder the SSAVar itself represents.
func Constfold(b *ir.BasicBlock) {
	r := NewRewriter()
	out := make([]*ir.SSAVar, 0, len(b.Variables))

	for _, v := range b.Variables {
		if v.Kind != ir.InfoOperation || v.Op == nil {
			out = append(out, v)
			continue
		}
		resolveOperands(r, v.Op)

		folded, fresh, ok := tryFold(b, v)
		if !ok {
			out = append(out, v)
			continue
		}
		releaseOwnRefs(v)
		r.Record(v, folded)
		// fresh lists every brand-new SSAVar the fold allocated, in definition
		// order (e.g. a combined immediate followed by the new operation's
		// result); vars reused from existing operands are never in fresh.
		out = append(out, fresh...)
	}
	b.Variables = out
	r.Apply(b)
}

func resolveOperands(r *Rewriter, op *ir.Operation) {
	for i := 0; i < op.NumIn; i++ {
		if op.Inputs[i] == nil {
			continue
		}
		if repl := r.Resolve(op.Inputs[i]); repl != op.Inputs[i] {
			op.ReplaceInput(i, repl)
		}
	}
	if op.RoundingVar != nil {
		if repl := r.Resolve(op.RoundingVar); repl != op.RoundingVar {
			op.RoundingVar.DecRef()
			op.RoundingVar = repl
			repl.IncRef()
		}
	}
}

func tryFold(b *ir.BasicBlock, v *ir.SSAVar) (folded *ir.SSAVar, fresh []*ir.SSAVar, ok bool) {
	op := v.Op
	switch op.NumIn {
	case 1:
		return tryFoldUnary(b, v)
	case 2:
		if op.Opcode.IsDiv() {
			return tryFoldDiv(b, v)
		}
		return tryFoldBinary(b, v)
	default:
		return nil, nil, false
	}
}

func isMorph(op ir.Opcode) bool {
	return op == ir.OpCast || op == ir.OpSignExtend || op == ir.OpZeroExtend
}

func tryFoldUnary(b *ir.BasicBlock, v *ir.SSAVar) (*ir.SSAVar, []*ir.SSAVar, bool) {
	op := v.Op
	in := op.Inputs[0]

	if isMorph(op.Opcode) {
		if in.Type == v.Type {
			return in, nil, true
		}
		if isImm(in) {
			nv := newImmediate(b, v.Type, morphImmediate(op.Opcode, v.Type, in), false)
			return nv, []*ir.SSAVar{nv}, true
		}
		return nil, nil, false
	}

	if op.Opcode == ir.OpNot && isImm(in) {
		r := ir.EvalUnary(ir.OpNot, v.Type, uint64(in.ImmValue))
		nv := newImmediate(b, v.Type, int64(r), false)
		return nv, []*ir.SSAVar{nv}, true
	}
	return nil, nil, false
}

// morphImmediate folds a cast/sign_extend/zero_extend of a known immediate,
// narrowing or widening it to typ's width the way narrowIfNeeded/signExtendTo64 do
// in the lifter (spec §4.1's reference-evaluator masking rule).
func morphImmediate(op ir.Opcode, typ ir.Type, in *ir.SSAVar) int64 {
	switch op {
	case ir.OpSignExtend:
		ext := signExtendValue(in.ImmValue, in.Type)
		return int64(uint64(ext) & typ.Mask())
	case ir.OpZeroExtend:
		return int64(uint64(in.ImmValue) & in.Type.Mask())
	default: // OpCast
		return int64(uint64(in.ImmValue) & typ.Mask())
	}
}

func signExtendValue(v int64, from ir.Type) int64 {
	bits := from.Bits()
	if bits == 64 {
		return v
	}
	u := uint64(v) & from.Mask()
	shift := uint(64 - bits)
	return int64(u<<shift) >> shift
}

func tryFoldDiv(b *ir.BasicBlock, v *ir.SSAVar) (*ir.SSAVar, []*ir.SSAVar, bool) {
	op := v.Op
	a, bv := op.Inputs[0], op.Inputs[1]
	if !isImm(a) || !isImm(bv) {
		return nil, nil, false
	}
	q, rem := ir.EvalBinary(op.Opcode, v.Type, uint64(a.ImmValue), uint64(bv.ImmValue))
	result := q
	if op.Outputs[1] == v {
		result = rem
	}
	nv := newImmediate(b, v.Type, int64(result), false)
	return nv, []*ir.SSAVar{nv}, true
}

func tryFoldBinary(b *ir.BasicBlock, v *ir.SSAVar) (*ir.SSAVar, []*ir.SSAVar, bool) {
	op := v.Op
	a, bIn := op.Inputs[0], op.Inputs[1]

	if isImm(a) && isImm(bIn) {
		if rel, ok := binaryRelativeOK(op.Opcode, a, bIn); ok {
			result, _ := ir.EvalBinary(op.Opcode, v.Type, uint64(a.ImmValue), uint64(bIn.ImmValue))
			nv := newImmediate(b, v.Type, int64(result), rel)
			return nv, []*ir.SSAVar{nv}, true
		}
	}
	if isImm(bIn) && !isImm(a) {
		if folded, ok := identityFold(op.Opcode, a, bIn, false); ok {
			return folded, nil, true
		}
	}
	if isImm(a) && !isImm(bIn) {
		if folded, ok := identityFold(op.Opcode, bIn, a, true); ok {
			return folded, nil, true
		}
	}
	if result, combined, ok := tryChainFold(b, v); ok {
		return result, []*ir.SSAVar{combined, result}, true
	}
	return nil, nil, false
}

// binaryRelativeOK reports whether op's two immediate operands carry a compatible
// combination of binary_relative bits, and the resulting bit if so (spec §4.4:
// "both sides relative or at most one side relative, and only for add; for sub,
// only the left side may be relative").
func binaryRelativeOK(op ir.Opcode, a, b *ir.SSAVar) (resultRelative, ok bool) {
	switch op {
	case ir.OpAdd:
		return a.ImmBinaryRelative || b.ImmBinaryRelative, true
	case ir.OpSub:
		if b.ImmBinaryRelative {
			return false, false
		}
		return a.ImmBinaryRelative, true
	default:
		if a.ImmBinaryRelative || b.ImmBinaryRelative {
			return false, false
		}
		return false, true
	}
}

// identityFold applies the algebraic identities of spec §4.4 to a binary op with
// exactly one immediate operand. x is the non-immediate operand, imm the immediate
// one, immOnLeft reports which operand position imm occupies.
func identityFold(op ir.Opcode, x, imm *ir.SSAVar, immOnLeft bool) (*ir.SSAVar, bool) {
	allOnes := int64(imm.Type.Mask())
	switch op {
	case ir.OpAdd:
		if imm.ImmValue == 0 {
			return x, true
		}
	case ir.OpOr:
		if imm.ImmValue == 0 {
			return x, true
		}
		if imm.ImmValue&allOnes == allOnes {
			return imm, true // x | ~0 -> ~0
		}
	case ir.OpXor:
		if imm.ImmValue == 0 {
			return x, true
		}
	case ir.OpAnd:
		if imm.ImmValue == 0 {
			return imm, true // x & 0 -> 0
		}
		if imm.ImmValue&allOnes == allOnes {
			return x, true // x & ~0 -> x
		}
	case ir.OpSub:
		if !immOnLeft && imm.ImmValue == 0 {
			return x, true
		}
	case ir.OpShl:
		if immOnLeft && imm.ImmValue == 0 {
			return imm, true // 0 << y -> 0
		}
		if !immOnLeft && imm.ImmValue == 0 {
			return x, true // x << 0 -> x
		}
	case ir.OpShr, ir.OpSar:
		if !immOnLeft && imm.ImmValue == 0 {
			return x, true // x >> 0 -> x
		}
	}
	return nil, false
}

// tryChainFold combines `(a op1 c1) op2 c2` into a single `a op c` when each level
// has exactly one immediate operand on the right (spec §4.4's chained-add/sub
// folding), propagating a single binary_relative bit through the combination.
// Returns the new result var and the new immediate it depends on, both of which
// the caller must register in the block's Variables.
func tryChainFold(b *ir.BasicBlock, v *ir.SSAVar) (result, combined *ir.SSAVar, ok bool) {
	op := v.Op
	if op.Opcode != ir.OpAdd && op.Opcode != ir.OpSub {
		return nil, nil, false
	}
	x, c2, imm2OnLeft, ok1 := splitAddSub(op)
	if !ok1 || imm2OnLeft {
		return nil, nil, false
	}
	if x.Kind != ir.InfoOperation || x.Op == nil {
		return nil, nil, false
	}
	inner := x.Op
	if inner.Opcode != ir.OpAdd && inner.Opcode != ir.OpSub {
		return nil, nil, false
	}
	a, c1, imm1OnLeft, ok2 := splitAddSub(inner)
	if !ok2 || imm1OnLeft {
		return nil, nil, false
	}

	var combinedVal int64
	var resultOp ir.Opcode
	var rel bool
	switch {
	case inner.Opcode == ir.OpAdd && op.Opcode == ir.OpAdd:
		if c1.ImmBinaryRelative && c2.ImmBinaryRelative {
			return nil, nil, false
		}
		r, _ := ir.EvalBinary(ir.OpAdd, v.Type, uint64(c1.ImmValue), uint64(c2.ImmValue))
		combinedVal, resultOp, rel = int64(r), ir.OpAdd, c1.ImmBinaryRelative || c2.ImmBinaryRelative
	case inner.Opcode == ir.OpAdd && op.Opcode == ir.OpSub:
		if c2.ImmBinaryRelative {
			return nil, nil, false
		}
		r, _ := ir.EvalBinary(ir.OpSub, v.Type, uint64(c1.ImmValue), uint64(c2.ImmValue))
		combinedVal, resultOp, rel = int64(r), ir.OpAdd, c1.ImmBinaryRelative
	case inner.Opcode == ir.OpSub && op.Opcode == ir.OpAdd:
		if c2.ImmBinaryRelative {
			return nil, nil, false
		}
		r, _ := ir.EvalBinary(ir.OpSub, v.Type, uint64(c1.ImmValue), uint64(c2.ImmValue))
		combinedVal, resultOp, rel = int64(r), ir.OpSub, c1.ImmBinaryRelative
	default: // inner sub, outer sub
		if c1.ImmBinaryRelative && c2.ImmBinaryRelative {
			return nil, nil, false
		}
		r, _ := ir.EvalBinary(ir.OpAdd, v.Type, uint64(c1.ImmValue), uint64(c2.ImmValue))
		combinedVal, resultOp, rel = int64(r), ir.OpSub, c1.ImmBinaryRelative || c2.ImmBinaryRelative
	}

	combinedVar := newImmediate(b, v.Type, combinedVal, rel)
	newOp := ir.NewOperation(resultOp, a, combinedVar)
	resultVar := ir.FromOperation(b.AllocValueID(), v.Type, newOp)
	newOp.SetOutputs(resultVar)
	return resultVar, combinedVar, true
}

// splitAddSub reports the (non-immediate, immediate) operand pair of a binary add
// or sub operation with exactly one immediate operand.
func splitAddSub(op *ir.Operation) (nonImm, imm *ir.SSAVar, immOnLeft, ok bool) {
	a, bv := op.Inputs[0], op.Inputs[1]
	if isImm(a) && !isImm(bv) {
		return bv, a, true, true
	}
	if isImm(bv) && !isImm(a) {
		return a, bv, false, true
	}
	return nil, nil, false, false
}
