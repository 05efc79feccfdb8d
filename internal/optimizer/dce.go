package optimizer

import "github.com/dm-sbt/rv2x86/internal/ir"

// DCE implements spec §4.4's dead-code-elimination pass: remove any SSAVar whose
// reference count is zero, unless it is a static input (a block-parameter) or a
// store (which has an observable effect via the mt chain regardless of use count).
// Runs to a fixed point since removing one dead value can make its operands dead
// in turn.
func DCE(b *ir.BasicBlock) {
	for {
		removedAny := false
		out := make([]*ir.SSAVar, 0, len(b.Variables))
		for i := len(b.Variables) - 1; i >= 0; i-- {
			v := b.Variables[i]
			if removable(v) {
				releaseOwnRefs(v)
				removedAny = true
				continue
			}
			out = append(out, v)
		}
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
		b.Variables = out
		if !removedAny {
			return
		}
	}
}

func removable(v *ir.SSAVar) bool {
	if v.RefCount() > 0 {
		return false
	}
	if v.Kind == ir.InfoFromStatic {
		return false
	}
	if v.Kind == ir.InfoOperation && v.Op != nil && v.Op.Opcode == ir.OpStore {
		return false
	}
	return true
}
