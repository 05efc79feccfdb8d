// Package optimizer implements the three fixed-order, idempotent block-local
// passes of spec §4.4: dedup-immediates, constant-fold, dce.
package optimizer

import "github.com/dm-sbt/rv2x86/internal/ir"

// Rewriter tracks per-block old->new SSAVar replacements discovered by a pass and
// applies them to every owning operand reference once the pass completes.
type Rewriter struct {
	repl map[ir.ValueID]*ir.SSAVar
}

// NewRewriter returns an empty Rewriter.
func NewRewriter() *Rewriter {
	return &Rewriter{repl: make(map[ir.ValueID]*ir.SSAVar)}
}

// Record notes that every reference to old should be rewritten to point at repl.
func (r *Rewriter) Record(old, repl *ir.SSAVar) {
	r.repl[old.ID] = repl
}

// Resolve follows the replacement chain to v's latest equivalent.
func (r *Rewriter) Resolve(v *ir.SSAVar) *ir.SSAVar {
	for {
		n, ok := r.repl[v.ID]
		if !ok || n == v {
			return v
		}
		v = n
	}
}

// Empty reports whether any replacement has been recorded.
func (r *Rewriter) Empty() bool { return len(r.repl) == 0 }

// Apply rewrites every owning operand reference within b to its latest equivalent.
func (r *Rewriter) Apply(b *ir.BasicBlock) {
	if r.Empty() {
		return
	}
	for _, v := range b.Variables {
		if v.Kind != ir.InfoOperation || v.Op == nil {
			continue
		}
		op := v.Op
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
	for _, c := range b.ControlFlowOps {
		for i := 0; i < c.NumIn; i++ {
			if c.Inputs[i] == nil {
				continue
			}
			if repl := r.Resolve(c.Inputs[i]); repl != c.Inputs[i] {
				c.ReplaceInput(i, repl)
			}
		}
		for i := range c.TargetInputs {
			if repl := r.Resolve(c.TargetInputs[i]); repl != c.TargetInputs[i] {
				c.ReplaceTargetInput(i, repl)
			}
		}
	}
}

// releaseOwnRefs releases the owning references held by v's own operation, as if v
// were being torn down (mirrors BasicBlock.Destroy's per-variable teardown). Used
// whenever a pass discards v in favor of an equivalent replacement.
func releaseOwnRefs(v *ir.SSAVar) {
	if v.Kind != ir.InfoOperation || v.Op == nil {
		return
	}
	op := v.Op
	for i := 0; i < op.NumIn; i++ {
		if op.Inputs[i] != nil {
			op.Inputs[i].DecRef()
		}
	}
	if op.RoundingVar != nil {
		op.RoundingVar.DecRef()
	}
}

func isImm(v *ir.SSAVar) bool { return v != nil && v.Kind == ir.InfoImmediate }

func newImmediate(b *ir.BasicBlock, typ ir.Type, value int64, binaryRelative bool) *ir.SSAVar {
	return ir.Immediate(b.AllocValueID(), typ, value, binaryRelative)
}
