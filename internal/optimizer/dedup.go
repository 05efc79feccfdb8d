package optimizer

import (
	"fmt"

	"github.com/dm-sbt/rv2x86/internal/ir"
)

// Dedup implements spec §4.4's "dedup-immediates" pass: canonicalizes structurally
// identical SSAVars within a block and removes the duplicates via the rewriter.
// load/store are excluded since they carry hidden mt ordering a structural key
// can't capture.
func Dedup(b *ir.BasicBlock) {
	r := NewRewriter()
	canon := make(map[string]*ir.SSAVar, len(b.Variables))
	out := make([]*ir.SSAVar, 0, len(b.Variables))

	for _, v := range b.Variables {
		key, ok := dedupKey(r, v)
		if !ok {
			out = append(out, v)
			continue
		}
		if existing, found := canon[key]; found {
			releaseOwnRefs(v)
			r.Record(v, existing)
			continue
		}
		canon[key] = v
		out = append(out, v)
	}
	b.Variables = out
	r.Apply(b)
}

// dedupKey returns a structural equality key for v, or ok=false if v can't be
// deduplicated (memory operations, or a kind with no defined key).
func dedupKey(r *Rewriter, v *ir.SSAVar) (string, bool) {
	switch v.Kind {
	case ir.InfoImmediate:
		return fmt.Sprintf("imm:%d:%d:%v", v.Type, v.ImmValue, v.ImmBinaryRelative), true
	case ir.InfoFromStatic:
		return fmt.Sprintf("static:%d:%d", v.Type, v.StaticIdx), true
	case ir.InfoOperation:
		op := v.Op
		if op.Opcode == ir.OpLoad || op.Opcode == ir.OpStore {
			return "", false
		}
		pos := -1
		for i := 0; i < op.NumOut; i++ {
			if op.Outputs[i] == v {
				pos = i
				break
			}
		}
		key := fmt.Sprintf("op:%d:%d:t%d:r%d", op.Opcode, pos, v.Type, op.Rounding)
		for i := 0; i < op.NumIn; i++ {
			key += fmt.Sprintf(":%d", r.Resolve(op.Inputs[i]).ID)
		}
		if op.RoundingVar != nil {
			key += fmt.Sprintf(":rv%d", r.Resolve(op.RoundingVar).ID)
		}
		return key, true
	default:
		return "", false
	}
}
